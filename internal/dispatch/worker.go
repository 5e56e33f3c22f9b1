package dispatch

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/ingest"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/metrics"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

// Options tunes the worker pool.
type Options struct {
	Workers       int
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	// FairnessEvery claims one job in reverse lane order every N claims so
	// lower lanes cannot starve under sustained p0 load.
	FairnessEvery int
	PollInterval  time.Duration
	DeliverTimeout time.Duration
}

// Pool drains the dispatch queue.
type Pool struct {
	store  store.Store
	sink   Sink
	opts   Options
	logger zerolog.Logger

	claims atomic.Uint64
}

// NewPool creates a worker pool.
func NewPool(s store.Store, sink Sink, opts Options, logger zerolog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 6
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	if opts.FairnessEvery <= 0 {
		opts.FairnessEvery = 8
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = 15 * time.Second
	}
	return &Pool{
		store:  s,
		sink:   sink,
		opts:   opts,
		logger: logger.With().Str("component", "dispatch").Logger(),
	}
}

// Run starts the workers and blocks until ctx ends.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	log := p.logger.With().Int("worker", worker).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.ClaimDispatch(ctx, p.laneOrder())
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.PollInterval):
			}
			continue
		}
		p.process(ctx, job, log)
	}
}

// laneOrder returns the strict lane priority, reversed for the fairness
// ticket claim.
func (p *Pool) laneOrder() []string {
	n := p.claims.Add(1)
	if n%uint64(p.opts.FairnessEvery) == 0 {
		reversed := make([]string, len(ingest.LaneOrder))
		for i, lane := range ingest.LaneOrder {
			reversed[len(reversed)-1-i] = lane
		}
		return reversed
	}
	return ingest.LaneOrder
}

// ProcessOne claims and processes a single job. Returns false when the queue
// had nothing due. Exposed for tests.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	job, err := p.store.ClaimDispatch(ctx, p.laneOrder())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.process(ctx, job, p.logger)
	return true, nil
}

func (p *Pool) process(ctx context.Context, job *models.DispatchJob, log zerolog.Logger) {
	var payload ingest.TicketPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		job.State = models.DispatchFailedTerminal
		job.LastError = "undecodable payload: " + err.Error()
		metrics.DispatchAttemptsTotal.WithLabelValues("terminal").Inc()
		if uerr := p.store.UpdateDispatch(ctx, job); uerr != nil {
			log.Error().Err(uerr).Str("job", job.ID).Msg("job update failed")
		}
		return
	}

	job.Attempts++
	dctx, cancel := context.WithTimeout(ctx, p.opts.DeliverTimeout)
	err := p.sink.Deliver(dctx, payload)
	cancel()

	switch {
	case err == nil:
		job.State = models.DispatchDelivered
		job.LastError = ""
		metrics.DispatchAttemptsTotal.WithLabelValues("delivered").Inc()
		metrics.DispatchQueueDelay.Observe(time.Since(job.CreatedAt).Seconds())
		log.Info().Str("job", job.ID).Str("lane", job.Lane).Int("attempts", job.Attempts).Msg("delivered")

	case isTerminal(err):
		job.State = models.DispatchFailedTerminal
		job.LastError = err.Error()
		metrics.DispatchAttemptsTotal.WithLabelValues("terminal").Inc()
		log.Error().Str("job", job.ID).Str("error", job.LastError).Msg("delivery failed terminally")

	case job.Attempts >= p.opts.MaxAttempts:
		job.State = models.DispatchFailedTerminal
		job.LastError = err.Error()
		metrics.DispatchAttemptsTotal.WithLabelValues("terminal").Inc()
		log.Error().Str("job", job.ID).Int("attempts", job.Attempts).
			Str("error", job.LastError).Msg("delivery attempts exhausted")

	default:
		job.State = models.DispatchQueued
		job.LastError = err.Error()
		job.NextAttemptAt = time.Now().Add(Backoff(p.opts.BaseBackoff, p.opts.MaxBackoff, job.Attempts)).UTC()
		metrics.DispatchAttemptsTotal.WithLabelValues("retry").Inc()
		log.Warn().Str("job", job.ID).Int("attempts", job.Attempts).
			Time("next_attempt", job.NextAttemptAt).Str("error", job.LastError).Msg("delivery failed, rescheduled")
	}

	if err := p.store.UpdateDispatch(ctx, job); err != nil {
		log.Error().Err(err).Str("job", job.ID).Msg("job update failed")
	}
}

func isTerminal(err error) bool {
	de, ok := err.(*DeliveryError)
	return ok && de.Terminal
}

// Backoff computes base * 2^(attempts-1) * jitter(0.5..1.5), capped at max.
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	jitter := 0.5 + rand.Float64()
	backoff := time.Duration(float64(d) * jitter)
	if backoff > max {
		backoff = max
	}
	return backoff
}

// RetryPending resets Failed-Terminal jobs to Queued with attempts cleared.
func (p *Pool) RetryPending(ctx context.Context) (int, error) {
	return p.store.ResetTerminalDispatch(ctx)
}
