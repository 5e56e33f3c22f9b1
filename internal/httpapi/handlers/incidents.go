package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/assignment"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/lifecycle"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

// IncidentHandler serves the /sos surface.
type IncidentHandler struct {
	coordinator *lifecycle.Coordinator
	store       store.Store
	logger      zerolog.Logger
}

// NewIncidentHandler creates an incident handler.
func NewIncidentHandler(c *lifecycle.Coordinator, s store.Store, logger zerolog.Logger) *IncidentHandler {
	return &IncidentHandler{
		coordinator: c,
		store:       s,
		logger:      logger.With().Str("handler", "incidents").Logger(),
	}
}

// IncidentBody is the create/intake request body.
type IncidentBody struct {
	ExternalID   string  `json:"external_id,omitempty"`
	Text         string  `json:"text" minLength:"1"`
	Transcript   string  `json:"voice_transcript,omitempty"`
	CategoryHint string  `json:"category,omitempty"`
	Place        string  `json:"place,omitempty"`
	Latitude     float64 `json:"latitude" minimum:"-90" maximum:"90"`
	Longitude    float64 `json:"longitude" minimum:"-180" maximum:"180"`
	Headcount    int     `json:"people,omitempty" minimum:"0"`
	Notes        string  `json:"notes,omitempty"`
}

type CreateIncidentInput struct {
	Body IncidentBody
}

type IncidentDetailInput struct {
	ID string `path:"id"`
}

type ListIncidentsInput struct {
	Status string `query:"status" json:"status,omitempty"`
	Source string `query:"source" json:"source,omitempty"`
	Limit  int    `query:"limit" json:"limit,omitempty" default:"100" minimum:"1" maximum:"500"`
}

type UpdateIncidentInput struct {
	ID   string `path:"id"`
	Body struct {
		Notes    *string `json:"notes,omitempty"`
		Priority *int    `json:"priority,omitempty" minimum:"1" maximum:"5"`
	}
}

type IncidentListResponse struct {
	Incidents []models.Incident `json:"incidents"`
	Count     int               `json:"count"`
}

// MapPoint is the lat-lng projection for the map view.
type MapPoint struct {
	ID       string  `json:"id"`
	Latitude float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Category string  `json:"category,omitempty"`
	Priority int     `json:"priority"`
	Status   models.IncidentStatus `json:"status"`
}

type MapResponse struct {
	Points []MapPoint `json:"points"`
}

// NearestFacilitiesResponse pairs the closest shelter and hospital.
type NearestFacilitiesResponse struct {
	Shelter    *FacilityWithDistance `json:"shelter,omitempty"`
	Hospital   *FacilityWithDistance `json:"hospital,omitempty"`
}

type FacilityWithDistance struct {
	models.Facility
	DistanceKm float64 `json:"distanceKm"`
}

type AuditResponse struct {
	Events []models.AuditEvent `json:"events"`
}

// RegisterRoutes registers the /sos endpoints.
func (h *IncidentHandler) RegisterRoutes(api huma.API) {
	tags := []string{"incidents"}

	huma.Register(api, huma.Operation{
		OperationID: "create-incident",
		Method:      http.MethodPost,
		Path:        "/sos",
		Summary:     "Create incident (admin form)",
		Tags:        tags,
	}, func(ctx context.Context, input *CreateIncidentInput) (*Response[models.Incident], error) {
		return h.create(ctx, input, false)
	})

	huma.Register(api, huma.Operation{
		OperationID: "intake-incident",
		Method:      http.MethodPost,
		Path:        "/sos/intake",
		Summary:     "Ingest incident with triage",
		Tags:        tags,
	}, func(ctx context.Context, input *CreateIncidentInput) (*Response[models.Incident], error) {
		return h.create(ctx, input, true)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-incidents",
		Method:      http.MethodGet,
		Path:        "/sos",
		Summary:     "List incidents",
		Tags:        tags,
	}, h.list)

	huma.Register(api, huma.Operation{
		OperationID: "incident-map",
		Method:      http.MethodGet,
		Path:        "/sos/map",
		Summary:     "Lat-lng projection of incidents",
		Tags:        tags,
	}, h.mapView)

	huma.Register(api, huma.Operation{
		OperationID: "get-incident",
		Method:      http.MethodGet,
		Path:        "/sos/{id}",
		Summary:     "Fetch one incident",
		Tags:        tags,
	}, h.get)

	huma.Register(api, huma.Operation{
		OperationID: "update-incident",
		Method:      http.MethodPut,
		Path:        "/sos/{id}",
		Summary:     "Update notes or priority",
		Tags:        tags,
	}, h.update)

	huma.Register(api, huma.Operation{
		OperationID: "delete-incident",
		Method:      http.MethodDelete,
		Path:        "/sos/{id}",
		Summary:     "Remove incident",
		Tags:        tags,
	}, h.delete)

	huma.Register(api, huma.Operation{
		OperationID: "nearest-facilities",
		Method:      http.MethodGet,
		Path:        "/sos/{id}/nearest-facilities",
		Summary:     "Nearest shelter and hospital",
		Tags:        tags,
	}, h.nearestFacilities)

	huma.Register(api, huma.Operation{
		OperationID: "incident-audit",
		Method:      http.MethodGet,
		Path:        "/sos/{id}/audit",
		Summary:     "Audit trail for one incident",
		Tags:        tags,
	}, h.audit)
}

func (h *IncidentHandler) create(ctx context.Context, input *CreateIncidentInput, allowWebhook bool) (*Response[models.Incident], error) {
	p, err := Principal(ctx)
	if err != nil {
		return nil, err
	}
	if p.Role == auth.RoleWebhook && !allowWebhook {
		return nil, huma.Error403Forbidden("webhook callers must use /sos/intake")
	}
	source := "console"
	if p.Role == auth.RoleWebhook {
		source = "webhook"
	}
	inc, err := h.coordinator.Create(ctx, p, lifecycle.CreateRequest{
		ExternalID:   input.Body.ExternalID,
		Source:       source,
		Text:         input.Body.Text,
		Transcript:   input.Body.Transcript,
		CategoryHint: input.Body.CategoryHint,
		Place:        input.Body.Place,
		Latitude:     input.Body.Latitude,
		Longitude:    input.Body.Longitude,
		Headcount:    input.Body.Headcount,
		Notes:        input.Body.Notes,
	})
	if err != nil {
		return nil, MapError(err)
	}
	return &Response[models.Incident]{Body: *inc}, nil
}

func (h *IncidentHandler) list(ctx context.Context, input *ListIncidentsInput) (*Response[IncidentListResponse], error) {
	if _, err := Principal(ctx); err != nil {
		return nil, err
	}
	incidents, err := h.store.ListIncidents(ctx, store.IncidentFilter{
		Status: models.IncidentStatus(input.Status),
		Source: input.Source,
		Limit:  input.Limit,
	})
	if err != nil {
		return nil, MapError(err)
	}
	return &Response[IncidentListResponse]{Body: IncidentListResponse{Incidents: incidents, Count: len(incidents)}}, nil
}

func (h *IncidentHandler) mapView(ctx context.Context, _ *struct{}) (*Response[MapResponse], error) {
	if _, err := Principal(ctx); err != nil {
		return nil, err
	}
	incidents, err := h.store.ListIncidents(ctx, store.IncidentFilter{})
	if err != nil {
		return nil, MapError(err)
	}
	points := make([]MapPoint, 0, len(incidents))
	for _, inc := range incidents {
		points = append(points, MapPoint{
			ID:        inc.ID,
			Latitude:  inc.Latitude,
			Longitude: inc.Longitude,
			Category:  inc.Category,
			Priority:  inc.Priority,
			Status:    inc.Status,
		})
	}
	return &Response[MapResponse]{Body: MapResponse{Points: points}}, nil
}

func (h *IncidentHandler) get(ctx context.Context, input *IncidentDetailInput) (*Response[models.Incident], error) {
	if _, err := Principal(ctx); err != nil {
		return nil, err
	}
	inc, err := h.store.GetIncident(ctx, input.ID)
	if err != nil {
		return nil, MapError(err)
	}
	return &Response[models.Incident]{Body: *inc}, nil
}

func (h *IncidentHandler) update(ctx context.Context, input *UpdateIncidentInput) (*Response[models.Incident], error) {
	p, err := Principal(ctx)
	if err != nil {
		return nil, err
	}
	inc, err := h.coordinator.Update(ctx, p, input.ID, lifecycle.UpdateRequest{
		Notes:    input.Body.Notes,
		Priority: input.Body.Priority,
	})
	if err != nil {
		return nil, MapError(err)
	}
	return &Response[models.Incident]{Body: *inc}, nil
}

func (h *IncidentHandler) delete(ctx context.Context, input *IncidentDetailInput) (*Response[EmptyResponse], error) {
	p, err := Principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.coordinator.Delete(ctx, p, input.ID); err != nil {
		return nil, MapError(err)
	}
	return &Response[EmptyResponse]{Body: EmptyResponse{Message: "deleted"}}, nil
}

func (h *IncidentHandler) nearestFacilities(ctx context.Context, input *IncidentDetailInput) (*Response[NearestFacilitiesResponse], error) {
	if _, err := Principal(ctx); err != nil {
		return nil, err
	}
	inc, err := h.store.GetIncident(ctx, input.ID)
	if err != nil {
		return nil, MapError(err)
	}
	facilities, err := h.store.ListFacilities(ctx)
	if err != nil {
		return nil, MapError(err)
	}

	var resp NearestFacilitiesResponse
	for _, f := range facilities {
		km := assignment.HaversineKm(inc.Latitude, inc.Longitude, f.Latitude, f.Longitude)
		fd := &FacilityWithDistance{Facility: f, DistanceKm: km}
		switch f.Type {
		case models.FacilityShelter:
			if resp.Shelter == nil || km < resp.Shelter.DistanceKm {
				resp.Shelter = fd
			}
		case models.FacilityHospital:
			if resp.Hospital == nil || km < resp.Hospital.DistanceKm {
				resp.Hospital = fd
			}
		}
	}
	return &Response[NearestFacilitiesResponse]{Body: resp}, nil
}

func (h *IncidentHandler) audit(ctx context.Context, input *IncidentDetailInput) (*Response[AuditResponse], error) {
	if _, err := Principal(ctx); err != nil {
		return nil, err
	}
	if _, err := h.store.GetIncident(ctx, input.ID); err != nil {
		return nil, MapError(err)
	}
	events, err := h.store.ListAudit(ctx, input.ID)
	if err != nil {
		return nil, MapError(err)
	}
	return &Response[AuditResponse]{Body: AuditResponse{Events: events}}, nil
}
