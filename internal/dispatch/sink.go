// Package dispatch drains the durable dispatch queue and delivers ticket
// creation calls with lane-ordered claiming and exponential backoff.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/ingest"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/lifecycle"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

// DeliveryError classifies a failed delivery.
type DeliveryError struct {
	Terminal bool
	Message  string
}

func (e *DeliveryError) Error() string { return e.Message }

func terminal(format string, args ...any) *DeliveryError {
	return &DeliveryError{Terminal: true, Message: fmt.Sprintf(format, args...)}
}

func retryable(format string, args ...any) *DeliveryError {
	return &DeliveryError{Message: fmt.Sprintf(format, args...)}
}

// Sink receives the canonical ticket creation call for one dispatch job.
type Sink interface {
	Deliver(ctx context.Context, payload ingest.TicketPayload) error
}

// CoordinatorSink creates the incident through the Lifecycle Coordinator.
// Delivery is idempotent on the client ticket id: a payload whose incident
// already exists is treated as delivered.
type CoordinatorSink struct {
	coordinator *lifecycle.Coordinator
	store       store.Store
}

// NewCoordinatorSink builds the internal ticket-creation sink.
func NewCoordinatorSink(c *lifecycle.Coordinator, s store.Store) *CoordinatorSink {
	return &CoordinatorSink{coordinator: c, store: s}
}

func (s *CoordinatorSink) Deliver(ctx context.Context, payload ingest.TicketPayload) error {
	if _, err := s.store.GetIncidentByExternalID(ctx, payload.ClientTicketID); err == nil {
		return nil
	}

	notes := ""
	if payload.Annotations.RequiresReview {
		notes = fmt.Sprintf("requires review: fraud score %.2f", payload.Annotations.FraudScore)
	}
	_, err := s.coordinator.Create(ctx, auth.Principal{Subject: "mobile-dispatch", Role: auth.RoleWebhook}, lifecycle.CreateRequest{
		ExternalID:   payload.ClientTicketID,
		Source:       "mobile",
		Text:         payload.Text,
		Transcript:   payload.Transcript,
		CategoryHint: payload.Triage.Category,
		Latitude:     payload.Latitude,
		Longitude:    payload.Longitude,
		Notes:        notes,
	})
	if apperr.Is(err, apperr.KindConflict) {
		// Another worker created it concurrently.
		return nil
	}
	if err != nil {
		return retryable("create incident: %v", err)
	}
	return nil
}

// HTTPSink posts the payload to an external ticket-creation endpoint. A
// circuit breaker sheds calls while the endpoint is down; open-circuit
// failures are retryable.
type HTTPSink struct {
	endpoint  string
	authToken string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
}

// NewHTTPSink builds the external sink with the given request timeout.
func NewHTTPSink(endpoint, authToken string, timeout time.Duration, logger zerolog.Logger) *HTTPSink {
	log := logger.With().Str("component", "dispatch-sink").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ticket-sink",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("sink circuit state changed")
		},
	})
	return &HTTPSink{
		endpoint:  endpoint,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
		breaker:   breaker,
	}
}

func (s *HTTPSink) Deliver(ctx context.Context, payload ingest.TicketPayload) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.post(ctx, payload)
	})
	if err == nil {
		return nil
	}
	if _, ok := err.(*DeliveryError); ok {
		return err
	}
	// Breaker open or half-open rejection.
	return retryable("sink unavailable: %v", err)
}

func (s *HTTPSink) post(ctx context.Context, payload ingest.TicketPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return terminal("marshal payload: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return terminal("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.IdempotencyKey)
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return retryable("sink request: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return terminal("sink rejected with status %d: %s", resp.StatusCode, msg)
	default:
		return retryable("sink returned status %d", resp.StatusCode)
	}
}

// FanoutSink delivers to the internal coordinator first, then the optional
// external sink. Both must succeed; each leg is idempotent on the key.
type FanoutSink struct {
	sinks []Sink
}

// NewFanoutSink composes sinks; nil entries are skipped.
func NewFanoutSink(sinks ...Sink) *FanoutSink {
	var active []Sink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &FanoutSink{sinks: active}
}

func (f *FanoutSink) Deliver(ctx context.Context, payload ingest.TicketPayload) error {
	for _, s := range f.sinks {
		if err := s.Deliver(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}
