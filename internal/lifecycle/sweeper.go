package lifecycle

import (
	"context"
	"time"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/metrics"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

// SweepExpired auto-rejects incidents whose acceptance window has passed and
// re-ranks them. The state and deadline are re-validated under the row lock,
// so an incident accepted in the same tick is never double-rejected.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	incidents, err := c.store.ListIncidents(ctx, store.IncidentFilter{Status: models.IncidentPendingAssignment})
	if err != nil {
		return 0, err
	}
	now := time.Now()
	swept := 0
	for _, inc := range incidents {
		if inc.AssignmentDeadline == nil || inc.AssignmentDeadline.After(now) {
			continue
		}
		id := inc.ID
		var rejectedOrg string
		err := c.store.Mutate(ctx, id, func(tx store.Tx) error {
			locked := tx.Incident()
			if locked.Status != models.IncidentPendingAssignment ||
				locked.AssignmentDeadline == nil || locked.AssignmentDeadline.After(now) {
				// Accepted or re-assigned since the list read.
				return nil
			}
			return c.rejectLocked(tx, locked, auth.System, "timeout", &rejectedOrg)
		})
		if err != nil {
			c.logger.Error().Err(err).Str("incident", id).Msg("deadline sweep failed")
			continue
		}
		if rejectedOrg == "" {
			continue
		}
		swept++
		metrics.TransitionsTotal.WithLabelValues(models.AuditReject).Inc()
		metrics.DeadlineExpiriesTotal.Inc()
		if _, err := c.autoReassign(ctx, id); err != nil {
			c.logger.Error().Err(err).Str("incident", id).Msg("re-assignment after timeout failed")
		}
	}
	return swept, nil
}

// RunSweepLoop runs SweepExpired on the given interval until ctx ends.
func (c *Coordinator) RunSweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 || interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept, err := c.SweepExpired(ctx); err != nil {
				c.logger.Error().Err(err).Msg("deadline sweep errored")
			} else if swept > 0 {
				c.logger.Info().Int("count", swept).Msg("expired assignment windows swept")
			}
		}
	}
}
