// Package ingest normalises multi-modal mobile submissions, verifies claims
// and enqueues an idempotent dispatch job. The pipeline is total: any
// internal failure still produces a queued job with best-effort annotations;
// a citizen's submission is never dropped.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/assignment"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/metrics"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/triage"
)

// Annotations are the verification flags attached during processing.
type Annotations struct {
	WeatherUnverified  bool               `json:"weather_unverified,omitempty"`
	Weather            *WeatherConditions `json:"weather,omitempty"`
	LikelyDuplicate    bool               `json:"likely_duplicate,omitempty"`
	DuplicateClusterID string             `json:"duplicate_cluster_id,omitempty"`
	FraudScore         float64            `json:"fraud_score"`
	RequiresReview     bool               `json:"requires_review,omitempty"`
	STTFailed          bool               `json:"stt_failed,omitempty"`
}

// TicketPayload is the canonical document handed to the dispatch worker.
type TicketPayload struct {
	IdempotencyKey string              `json:"idempotency_key"`
	ClientTicketID string              `json:"client_ticket_id"`
	TicketType     string              `json:"ticket_type"`
	Text           string              `json:"text"`
	Transcript     string              `json:"transcript,omitempty"`
	Latitude       float64             `json:"latitude"`
	Longitude      float64             `json:"longitude"`
	Timestamp      time.Time           `json:"timestamp"`
	Triage         models.TriageResult `json:"triage"`
	Lane           string              `json:"lane"`
	Annotations    Annotations         `json:"annotations"`
}

// Options tunes verification.
type Options struct {
	DuplicateRadiusM   float64
	DuplicateWindow    time.Duration
	DuplicateThreshold int
	FraudThreshold     float64
	WeatherTimeout     time.Duration
	STTTimeout         time.Duration
}

// Pipeline processes mobile submissions.
type Pipeline struct {
	store   store.Store
	triage  *triage.Service
	weather WeatherProvider
	stt     STTProvider
	opts    Options

	weatherCache *ttlCache[WeatherConditions]
	phashSeen    *ttlCache[bool]
	logger       zerolog.Logger
}

// weatherTaggedCategories get current-conditions verification.
var weatherTaggedCategories = map[string]bool{
	"Flood Rescue": true,
}

// New creates a Pipeline. weather and stt may be nil; the corresponding
// verification is then skipped with the unverified flag set.
func New(s store.Store, triageSvc *triage.Service, weather WeatherProvider, stt STTProvider, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.DuplicateRadiusM <= 0 {
		opts.DuplicateRadiusM = 500
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = 30 * time.Minute
	}
	if opts.DuplicateThreshold <= 0 {
		opts.DuplicateThreshold = 3
	}
	if opts.FraudThreshold <= 0 {
		opts.FraudThreshold = 0.8
	}
	return &Pipeline{
		store:        s,
		triage:       triageSvc,
		weather:      weather,
		stt:          stt,
		opts:         opts,
		weatherCache: newTTLCache[WeatherConditions](256, 10*time.Minute),
		phashSeen:    newTTLCache[bool](2048, time.Hour),
		logger:       logger.With().Str("component", "ingest").Logger(),
	}
}

// Result is the pipeline outcome.
type Result struct {
	Job     *models.DispatchJob
	Payload TicketPayload
	// Created is false when the idempotency key matched an existing job and
	// the submission was a no-op.
	Created bool
}

// Process runs all stages and enqueues the dispatch job. It returns an error
// for invalid metadata and when the job cannot be marshalled or stored;
// speech-to-text, weather, duplicate and fraud failures are absorbed into
// annotations.
func (p *Pipeline) Process(ctx context.Context, md *Metadata) (*Result, error) {
	if err := md.Validate(); err != nil {
		return nil, err
	}

	// Stage 1: normalisation.
	key := md.Meta.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	text := md.Text
	transcript := md.Transcript()
	timestamp := md.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	var ann Annotations

	// Stage 2: modality analysis. Absent text falls back to the transcript;
	// absent transcript falls back to server-side STT when audio is present.
	if text == "" && transcript != "" {
		text = transcript
	}
	if text == "" && md.AudioFileRef != "" && p.stt != nil {
		sctx, cancel := context.WithTimeout(ctx, p.sttTimeout())
		stText, err := p.stt.Transcribe(sctx, md.AudioFileRef)
		cancel()
		if err != nil {
			ann.STTFailed = true
			metrics.DependencyFailuresTotal.WithLabelValues("stt").Inc()
			p.logger.Warn().Err(err).Msg("speech-to-text failed")
		} else {
			transcript = stText
			text = stText
		}
	}

	tr := p.triage.Triage(ctx, triage.Request{
		Text:       text,
		Transcript: transcript,
		Latitude:   md.Latitude,
		Longitude:  md.Longitude,
	})
	metrics.TriageTotal.WithLabelValues(tr.Source).Inc()

	// Stage 3: verification.
	p.verifyWeather(ctx, tr.Category, md.Latitude, md.Longitude, &ann)
	p.verifyDuplicates(ctx, md.Latitude, md.Longitude, &ann)
	p.scoreFraud(ctx, md, text, timestamp, &ann)

	// Stage 4: priority lane.
	lane := priorityLane(tr.Priority, ann.RequiresReview, ann.LikelyDuplicate)

	payload := TicketPayload{
		IdempotencyKey: key,
		ClientTicketID: md.TicketIDClient,
		TicketType:     md.TicketType,
		Text:           text,
		Transcript:     transcript,
		Latitude:       md.Latitude,
		Longitude:      md.Longitude,
		Timestamp:      timestamp,
		Triage:         tr,
		Lane:           lane,
		Annotations:    ann,
	}

	// Stage 5: idempotent enqueue.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket payload: %w", err)
	}
	now := time.Now().UTC()
	job := &models.DispatchJob{
		ID:             uuid.NewString(),
		ClientTicketID: md.TicketIDClient,
		IdempotencyKey: key,
		Lane:           lane,
		Payload:        raw,
		NextAttemptAt:  now,
		State:          models.DispatchQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	stored, created, err := p.store.EnqueueDispatch(ctx, job)
	if err != nil {
		return nil, err
	}
	if created {
		metrics.IngestTotal.WithLabelValues("enqueued").Inc()
		if err := p.store.RecordDeviceSubmission(ctx, md.DeviceInfo.DeviceID, timestamp); err != nil {
			p.logger.Warn().Err(err).Msg("device submission record failed")
		}
	} else {
		metrics.IngestTotal.WithLabelValues("duplicate_key").Inc()
	}
	return &Result{Job: stored, Payload: payload, Created: created}, nil
}

func (p *Pipeline) sttTimeout() time.Duration {
	if p.opts.STTTimeout > 0 {
		return p.opts.STTTimeout
	}
	return 10 * time.Second
}

func (p *Pipeline) verifyWeather(ctx context.Context, category string, lat, lng float64, ann *Annotations) {
	if !weatherTaggedCategories[category] {
		return
	}
	if p.weather == nil {
		ann.WeatherUnverified = true
		return
	}
	// Cache keyed by coordinates rounded to ~1km.
	key := fmt.Sprintf("%.2f,%.2f", lat, lng)
	if cond, ok := p.weatherCache.Get(key); ok {
		ann.Weather = &cond
		return
	}
	timeout := p.opts.WeatherTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	cond, err := p.weather.Current(wctx, lat, lng)
	cancel()
	if err != nil {
		ann.WeatherUnverified = true
		metrics.DependencyFailuresTotal.WithLabelValues("weather").Inc()
		p.logger.Warn().Err(err).Msg("weather verification unavailable")
		return
	}
	p.weatherCache.Set(key, *cond)
	ann.Weather = cond
}

func (p *Pipeline) verifyDuplicates(ctx context.Context, lat, lng float64, ann *Annotations) {
	since := time.Now().Add(-p.opts.DuplicateWindow)
	recent, err := p.store.ListRecentIncidents(ctx, since)
	if err != nil {
		p.logger.Warn().Err(err).Msg("duplicate density query failed")
		return
	}
	count := 0
	nearestID := ""
	nearestKm := -1.0
	for _, inc := range recent {
		km := assignment.HaversineKm(lat, lng, inc.Latitude, inc.Longitude)
		if km*1000 > p.opts.DuplicateRadiusM {
			continue
		}
		count++
		if nearestKm < 0 || km < nearestKm {
			nearestKm = km
			nearestID = inc.ID
		}
	}
	if count >= p.opts.DuplicateThreshold {
		ann.LikelyDuplicate = true
		ann.DuplicateClusterID = nearestID
	}
}

func (p *Pipeline) scoreFraud(ctx context.Context, md *Metadata, text string, at time.Time, ann *Annotations) {
	repeat, err := p.store.CountDeviceSubmissions(ctx, md.DeviceInfo.DeviceID, at.Add(-time.Hour))
	if err != nil {
		p.logger.Warn().Err(err).Msg("device submission count failed")
	}

	collision := false
	for _, img := range md.Images {
		if img.PerceptualHash == "" {
			continue
		}
		if _, seen := p.phashSeen.Get(img.PerceptualHash); seen {
			collision = true
		}
		p.phashSeen.Set(img.PerceptualHash, true)
	}

	deviceAge := int64(-1)
	if md.DeviceInfo.FirstSeenUnix > 0 {
		deviceAge = at.Unix() - md.DeviceInfo.FirstSeenUnix
	}

	ann.FraudScore = fraudScore(fraudFeatures{
		TextLength:              len(text),
		RepeatSubmissions:       repeat,
		PerceptualHashCollision: collision,
		DeviceAgeSeconds:        deviceAge,
		OffHours:                offHours(at),
	})
	if ann.FraudScore >= p.opts.FraudThreshold {
		ann.RequiresReview = true
	}
}
