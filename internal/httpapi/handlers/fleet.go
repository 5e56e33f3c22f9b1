package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

// FleetHandler serves organisation, division and staff management. Every
// operation, reads included, is admin-only.
type FleetHandler struct {
	store  store.Store
	logger zerolog.Logger
}

// NewFleetHandler creates a fleet handler.
func NewFleetHandler(s store.Store, logger zerolog.Logger) *FleetHandler {
	return &FleetHandler{
		store:  s,
		logger: logger.With().Str("handler", "fleet").Logger(),
	}
}

func requireAdmin(ctx context.Context) error {
	p, err := Principal(ctx)
	if err != nil {
		return err
	}
	if p.Role != auth.RoleAdmin {
		return huma.Error403Forbidden("fleet management requires admin")
	}
	return nil
}

type IDInput struct {
	ID string `path:"id"`
}

type OrganizationInput struct {
	Body models.Organization
}

type DivisionInput struct {
	Body models.Division
}

type StaffInput struct {
	Body models.Staff
}

type OrganizationUpdateInput struct {
	ID   string `path:"id"`
	Body models.Organization
}

type DivisionUpdateInput struct {
	ID   string `path:"id"`
	Body models.Division
}

type StaffUpdateInput struct {
	ID   string `path:"id"`
	Body models.Staff
}

// RegisterRoutes registers the fleet CRUD endpoints.
func (h *FleetHandler) RegisterRoutes(api huma.API) {
	h.registerOrganizations(api)
	h.registerDivisions(api)
	h.registerStaff(api)
}

func (h *FleetHandler) registerOrganizations(api huma.API) {
	tags := []string{"fleet"}

	huma.Register(api, huma.Operation{
		OperationID: "create-organization",
		Method:      http.MethodPost,
		Path:        "/organizations",
		Summary:     "Create organization",
		Tags:        tags,
	}, func(ctx context.Context, input *OrganizationInput) (*Response[models.Organization], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		org := input.Body
		if org.ID == "" {
			org.ID = uuid.NewString()
		}
		if org.Status == "" {
			org.Status = models.StatusActive
		}
		if err := h.store.CreateOrganization(ctx, &org); err != nil {
			return nil, MapError(err)
		}
		return &Response[models.Organization]{Body: org}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-organizations",
		Method:      http.MethodGet,
		Path:        "/organizations",
		Summary:     "List organizations",
		Tags:        tags,
	}, func(ctx context.Context, _ *struct{}) (*Response[[]models.Organization], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		orgs, err := h.store.ListOrganizations(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		return &Response[[]models.Organization]{Body: orgs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-organization",
		Method:      http.MethodGet,
		Path:        "/organizations/{id}",
		Summary:     "Get organization",
		Tags:        tags,
	}, func(ctx context.Context, input *IDInput) (*Response[models.Organization], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		org, err := h.store.GetOrganization(ctx, input.ID)
		if err != nil {
			return nil, MapError(err)
		}
		return &Response[models.Organization]{Body: *org}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-organization",
		Method:      http.MethodPut,
		Path:        "/organizations/{id}",
		Summary:     "Update organization",
		Tags:        tags,
	}, func(ctx context.Context, input *OrganizationUpdateInput) (*Response[models.Organization], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		org := input.Body
		org.ID = input.ID
		if err := h.store.UpdateOrganization(ctx, &org); err != nil {
			return nil, MapError(err)
		}
		return &Response[models.Organization]{Body: org}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-organization",
		Method:      http.MethodDelete,
		Path:        "/organizations/{id}",
		Summary:     "Delete organization",
		Tags:        tags,
	}, func(ctx context.Context, input *IDInput) (*Response[EmptyResponse], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := h.store.DeleteOrganization(ctx, input.ID); err != nil {
			return nil, MapError(err)
		}
		return &Response[EmptyResponse]{Body: EmptyResponse{Message: "deleted"}}, nil
	})
}

func (h *FleetHandler) registerDivisions(api huma.API) {
	tags := []string{"fleet"}

	huma.Register(api, huma.Operation{
		OperationID: "create-division",
		Method:      http.MethodPost,
		Path:        "/divisions",
		Summary:     "Create division",
		Tags:        tags,
	}, func(ctx context.Context, input *DivisionInput) (*Response[models.Division], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		div := input.Body
		if div.ID == "" {
			div.ID = uuid.NewString()
		}
		if div.Status == "" {
			div.Status = models.StatusActive
		}
		if _, err := h.store.GetOrganization(ctx, div.OrgID); err != nil {
			return nil, MapError(err)
		}
		if err := h.store.CreateDivision(ctx, &div); err != nil {
			return nil, MapError(err)
		}
		return &Response[models.Division]{Body: div}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-divisions",
		Method:      http.MethodGet,
		Path:        "/divisions",
		Summary:     "List divisions",
		Tags:        tags,
	}, func(ctx context.Context, _ *struct{}) (*Response[[]models.Division], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		divisions, err := h.store.ListDivisions(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		return &Response[[]models.Division]{Body: divisions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-division",
		Method:      http.MethodGet,
		Path:        "/divisions/{id}",
		Summary:     "Get division",
		Tags:        tags,
	}, func(ctx context.Context, input *IDInput) (*Response[models.Division], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		div, err := h.store.GetDivision(ctx, input.ID)
		if err != nil {
			return nil, MapError(err)
		}
		return &Response[models.Division]{Body: *div}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-division",
		Method:      http.MethodPut,
		Path:        "/divisions/{id}",
		Summary:     "Update division",
		Tags:        tags,
	}, func(ctx context.Context, input *DivisionUpdateInput) (*Response[models.Division], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		div := input.Body
		div.ID = input.ID
		if err := h.store.UpdateDivision(ctx, &div); err != nil {
			return nil, MapError(err)
		}
		return &Response[models.Division]{Body: div}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-division",
		Method:      http.MethodDelete,
		Path:        "/divisions/{id}",
		Summary:     "Delete division",
		Tags:        tags,
	}, func(ctx context.Context, input *IDInput) (*Response[EmptyResponse], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := h.store.DeleteDivision(ctx, input.ID); err != nil {
			return nil, MapError(err)
		}
		return &Response[EmptyResponse]{Body: EmptyResponse{Message: "deleted"}}, nil
	})
}

func (h *FleetHandler) registerStaff(api huma.API) {
	tags := []string{"fleet"}

	huma.Register(api, huma.Operation{
		OperationID: "create-staff",
		Method:      http.MethodPost,
		Path:        "/staff",
		Summary:     "Create staff member",
		Tags:        tags,
	}, func(ctx context.Context, input *StaffInput) (*Response[models.Staff], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		st := input.Body
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		if st.Status == "" {
			st.Status = models.StatusActive
		}
		if st.Availability == "" {
			st.Availability = models.StaffAvailable
		}
		if _, err := h.store.GetOrganization(ctx, st.OrgID); err != nil {
			return nil, MapError(err)
		}
		if err := h.store.CreateStaff(ctx, &st); err != nil {
			return nil, MapError(err)
		}
		return &Response[models.Staff]{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-staff",
		Method:      http.MethodGet,
		Path:        "/staff",
		Summary:     "List staff",
		Tags:        tags,
	}, func(ctx context.Context, _ *struct{}) (*Response[[]models.Staff], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		staff, err := h.store.ListStaff(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		return &Response[[]models.Staff]{Body: staff}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-staff",
		Method:      http.MethodGet,
		Path:        "/staff/{id}",
		Summary:     "Get staff member",
		Tags:        tags,
	}, func(ctx context.Context, input *IDInput) (*Response[models.Staff], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		st, err := h.store.GetStaff(ctx, input.ID)
		if err != nil {
			return nil, MapError(err)
		}
		return &Response[models.Staff]{Body: *st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-staff",
		Method:      http.MethodPut,
		Path:        "/staff/{id}",
		Summary:     "Update staff member",
		Tags:        tags,
	}, func(ctx context.Context, input *StaffUpdateInput) (*Response[models.Staff], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		st := input.Body
		st.ID = input.ID
		if err := h.store.UpdateStaff(ctx, &st); err != nil {
			return nil, MapError(err)
		}
		return &Response[models.Staff]{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-staff",
		Method:      http.MethodDelete,
		Path:        "/staff/{id}",
		Summary:     "Delete staff member",
		Tags:        tags,
	}, func(ctx context.Context, input *IDInput) (*Response[EmptyResponse], error) {
		if err := requireAdmin(ctx); err != nil {
			return nil, err
		}
		if err := h.store.DeleteStaff(ctx, input.ID); err != nil {
			return nil, MapError(err)
		}
		return &Response[EmptyResponse]{Body: EmptyResponse{Message: "deleted"}}, nil
	})
}
