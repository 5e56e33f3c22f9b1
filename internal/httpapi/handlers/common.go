package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
)

// Response is a generic response wrapper
type Response[T any] struct {
	Body T
}

// EmptyResponse represents an empty response
type EmptyResponse struct {
	Message string `json:"message,omitempty"`
}

// Principal returns the authenticated caller or a 401 Unauthorized error.
func Principal(ctx context.Context) (auth.Principal, error) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Principal{}, huma.Error401Unauthorized("missing authentication")
	}
	return p, nil
}

// MapError translates typed application errors to HTTP status errors at the
// boundary. Unexpected errors become 500s without leaking internals.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var he huma.StatusError
	if errors.As(err, &he) {
		return err
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return huma.Error500InternalServerError("internal error", err)
	}
	switch ae.Kind {
	case apperr.KindInvalidInput:
		return huma.Error400BadRequest(ae.Message)
	case apperr.KindForbidden:
		return huma.Error403Forbidden(ae.Message)
	case apperr.KindNotFound:
		return huma.Error404NotFound(ae.Message)
	case apperr.KindInvalidState, apperr.KindConflict, apperr.KindStaleSnapshot, apperr.KindCapacityExceeded:
		return huma.Error409Conflict(string(ae.Kind) + ": " + ae.Message)
	case apperr.KindTimeout:
		return huma.NewError(504, ae.Message)
	default:
		return huma.Error500InternalServerError(ae.Message)
	}
}
