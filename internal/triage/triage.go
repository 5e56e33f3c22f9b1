// Package triage turns a free-form incident report into a structured
// classification. The primary path asks an external model; the rules path is
// deterministic and total, so triage never fails the caller.
package triage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

// Request carries the incident fields the classifier may use.
type Request struct {
	Text         string
	Transcript   string
	Headcount    int
	Place        string
	Latitude     float64
	Longitude    float64
	CategoryHint string
}

// Service classifies incidents, falling back to rules when the external
// classifier is unavailable or returns an unusable response.
type Service struct {
	classifier Classifier
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewService creates a triage service. classifier may be nil, in which case
// every request takes the rules path.
func NewService(classifier Classifier, timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		classifier: classifier,
		timeout:    timeout,
		logger:     logger.With().Str("component", "triage").Logger(),
	}
}

// Triage classifies the request. It never returns an error: any classifier
// failure falls through to the deterministic rules.
func (s *Service) Triage(ctx context.Context, req Request) models.TriageResult {
	if s.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		result, err := s.classifier.Classify(cctx, req)
		cancel()
		if err == nil && result != nil {
			return *result
		}
		s.logger.Warn().Err(err).Msg("classifier unavailable, falling back to rules")
	}
	return classifyByRules(req)
}
