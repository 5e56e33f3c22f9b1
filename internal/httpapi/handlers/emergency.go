package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/assignment"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/lifecycle"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

// EmergencyHandler serves the /emergency assignment surface.
type EmergencyHandler struct {
	coordinator *lifecycle.Coordinator
	store       store.Store
	logger      zerolog.Logger
}

// NewEmergencyHandler creates an emergency handler.
func NewEmergencyHandler(c *lifecycle.Coordinator, s store.Store, logger zerolog.Logger) *EmergencyHandler {
	return &EmergencyHandler{
		coordinator: c,
		store:       s,
		logger:      logger.With().Str("handler", "emergency").Logger(),
	}
}

type SmartAssignmentInput struct {
	SOSID string `query:"sos_id" required:"true"`
}

// SmartAssignmentResponse returns the top candidate with its breakdown plus
// the rest of the ranking.
type SmartAssignmentResponse struct {
	Incident  models.Incident        `json:"incident"`
	Best      *assignment.Candidate  `json:"best,omitempty"`
	Ranking   []assignment.Candidate `json:"ranking"`
}

type AssignInput struct {
	Body struct {
		SOSID      string `json:"sos_id" minLength:"1"`
		OrgID      string `json:"org_id,omitempty"`
		DivisionID string `json:"division_id,omitempty"`
		StaffID    string `json:"staff_id,omitempty"`
	}
}

type AcceptInput struct {
	Body struct {
		SOSID               string     `json:"sos_id" minLength:"1"`
		EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	}
}

type RejectInput struct {
	Body struct {
		SOSID  string `json:"sos_id" minLength:"1"`
		Reason string `json:"reason" minLength:"1"`
	}
}

type CompleteInput struct {
	Body struct {
		SOSID string `json:"sos_id" minLength:"1"`
	}
}

// SummaryResponse is the active incidents view.
type SummaryResponse struct {
	ByStatus map[string]int    `json:"byStatus"`
	Active   []models.Incident `json:"active"`
}

// RegisterRoutes registers the /emergency endpoints.
func (h *EmergencyHandler) RegisterRoutes(api huma.API) {
	tags := []string{"emergency"}

	huma.Register(api, huma.Operation{
		OperationID: "smart-assignment",
		Method:      http.MethodGet,
		Path:        "/emergency/smart-assignment",
		Summary:     "Rank candidates and return the best with score breakdown",
		Tags:        tags,
	}, h.smartAssignment)

	huma.Register(api, huma.Operation{
		OperationID: "assign-emergency",
		Method:      http.MethodPost,
		Path:        "/emergency/assign-emergency",
		Summary:     "Start an assignment window",
		Tags:        tags,
	}, h.assign)

	huma.Register(api, huma.Operation{
		OperationID: "accept-assignment",
		Method:      http.MethodPost,
		Path:        "/emergency/accept-assignment",
		Summary:     "Accept the current assignment",
		Tags:        tags,
	}, h.accept)

	huma.Register(api, huma.Operation{
		OperationID: "reject-assignment",
		Method:      http.MethodPost,
		Path:        "/emergency/reject-assignment",
		Summary:     "Reject the current assignment and auto-reassign",
		Tags:        tags,
	}, h.reject)

	huma.Register(api, huma.Operation{
		OperationID: "complete-emergency",
		Method:      http.MethodPost,
		Path:        "/emergency/complete-emergency",
		Summary:     "Complete the incident",
		Tags:        tags,
	}, h.complete)

	huma.Register(api, huma.Operation{
		OperationID: "emergency-summary",
		Method:      http.MethodGet,
		Path:        "/emergency/emergency-summary",
		Summary:     "Active incidents view",
		Tags:        tags,
	}, h.summary)
}

// requireOperator limits an endpoint to admin and responder callers. The
// ranking exposes staff contact details, so webhook and citizen tokens may
// not read it.
func requireOperator(ctx context.Context) error {
	p, err := Principal(ctx)
	if err != nil {
		return err
	}
	if p.Role != auth.RoleAdmin && p.Role != auth.RoleResponder {
		return huma.Error403Forbidden("candidate ranking requires admin or responder")
	}
	return nil
}

func (h *EmergencyHandler) smartAssignment(ctx context.Context, input *SmartAssignmentInput) (*Response[SmartAssignmentResponse], error) {
	if err := requireOperator(ctx); err != nil {
		return nil, err
	}
	inc, ranked, err := h.coordinator.Rank(ctx, input.SOSID)
	if err != nil {
		return nil, MapError(err)
	}
	resp := SmartAssignmentResponse{Incident: *inc, Ranking: ranked}
	if len(ranked) > 0 {
		resp.Best = &ranked[0]
	}
	return &Response[SmartAssignmentResponse]{Body: resp}, nil
}

func (h *EmergencyHandler) assign(ctx context.Context, input *AssignInput) (*Response[models.Incident], error) {
	p, err := Principal(ctx)
	if err != nil {
		return nil, err
	}

	cand := models.Assignment{
		OrgID:      input.Body.OrgID,
		DivisionID: input.Body.DivisionID,
		StaffID:    input.Body.StaffID,
	}
	// Without an explicit org the top-ranked candidate is used.
	if cand.OrgID == "" {
		_, ranked, err := h.coordinator.Rank(ctx, input.Body.SOSID)
		if err != nil {
			return nil, MapError(err)
		}
		if len(ranked) == 0 {
			return nil, huma.Error409Conflict("CAPACITY_EXCEEDED: no eligible organization")
		}
		cand = ranked[0].Assignment()
	}

	inc, err := h.coordinator.StartWindow(ctx, p, input.Body.SOSID, cand)
	if err != nil {
		return nil, MapError(err)
	}
	return &Response[models.Incident]{Body: *inc}, nil
}

func (h *EmergencyHandler) accept(ctx context.Context, input *AcceptInput) (*Response[models.Incident], error) {
	p, err := Principal(ctx)
	if err != nil {
		return nil, err
	}
	inc, err := h.coordinator.Accept(ctx, p, input.Body.SOSID, input.Body.EstimatedCompletion)
	if err != nil {
		return nil, MapError(err)
	}
	return &Response[models.Incident]{Body: *inc}, nil
}

func (h *EmergencyHandler) reject(ctx context.Context, input *RejectInput) (*Response[models.Incident], error) {
	p, err := Principal(ctx)
	if err != nil {
		return nil, err
	}
	inc, err := h.coordinator.Reject(ctx, p, input.Body.SOSID, input.Body.Reason)
	if err != nil {
		return nil, MapError(err)
	}
	return &Response[models.Incident]{Body: *inc}, nil
}

func (h *EmergencyHandler) complete(ctx context.Context, input *CompleteInput) (*Response[models.Incident], error) {
	p, err := Principal(ctx)
	if err != nil {
		return nil, err
	}
	inc, err := h.coordinator.Complete(ctx, p, input.Body.SOSID)
	if err != nil {
		return nil, MapError(err)
	}
	return &Response[models.Incident]{Body: *inc}, nil
}

func (h *EmergencyHandler) summary(ctx context.Context, _ *struct{}) (*Response[SummaryResponse], error) {
	if _, err := Principal(ctx); err != nil {
		return nil, err
	}
	incidents, err := h.store.ListIncidents(ctx, store.IncidentFilter{})
	if err != nil {
		return nil, MapError(err)
	}
	resp := SummaryResponse{ByStatus: map[string]int{}}
	for _, inc := range incidents {
		resp.ByStatus[string(inc.Status)]++
		if inc.Status.Active() || inc.Status == models.IncidentPending {
			resp.Active = append(resp.Active, inc)
		}
	}
	return &Response[SummaryResponse]{Body: resp}, nil
}
