// Package workload moves current_load and staff availability in lock-step
// with incident transitions. Every operation runs inside the caller's store
// transaction, so counters and the incident commit or roll back together.
package workload

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

// Ledger applies workload deltas inside store transactions.
type Ledger struct {
	store  store.Store
	logger zerolog.Logger
}

// New creates a Ledger over the given store.
func New(s store.Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  s,
		logger: logger.With().Str("component", "workload").Logger(),
	}
}

// Acquire increments load on the assignment's org and division and, when the
// triplet carries a staff id, marks that staff member Busy. Inactive targets
// are refused with CAPACITY_EXCEEDED.
func (l *Ledger) Acquire(tx store.Tx, a models.Assignment) error {
	org, err := tx.Org(a.OrgID)
	if err != nil {
		return err
	}
	if org.Status == models.StatusInactive {
		return apperr.New(apperr.KindCapacityExceeded, "organization %s is inactive", a.OrgID)
	}
	if a.DivisionID != "" {
		div, err := tx.Division(a.DivisionID)
		if err != nil {
			return err
		}
		if div.Status == models.StatusInactive {
			return apperr.New(apperr.KindCapacityExceeded, "division %s is inactive", a.DivisionID)
		}
	}
	if a.StaffID != "" {
		st, err := tx.Staff(a.StaffID)
		if err != nil {
			return err
		}
		if st.Status == models.StatusInactive {
			return apperr.New(apperr.KindCapacityExceeded, "staff %s is inactive", a.StaffID)
		}
	}

	if err := tx.AdjustOrgLoad(a.OrgID, 1); err != nil {
		return err
	}
	if a.DivisionID != "" {
		if err := tx.AdjustDivisionLoad(a.DivisionID, 1); err != nil {
			return err
		}
	}
	if a.StaffID != "" {
		if err := tx.SetStaffAvailability(a.StaffID, models.StaffBusy); err != nil {
			return err
		}
	}
	return nil
}

// Release decrements load on the assignment's org and division. The staff
// member goes back to Available only when the released incident was their
// last active assignment, verified inside the same transaction.
func (l *Ledger) Release(tx store.Tx, a models.Assignment) error {
	if err := tx.AdjustOrgLoad(a.OrgID, -1); err != nil {
		return err
	}
	if a.DivisionID != "" {
		if err := tx.AdjustDivisionLoad(a.DivisionID, -1); err != nil {
			return err
		}
	}
	if a.StaffID != "" {
		remaining, err := tx.CountStaffActiveAssignments(a.StaffID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if err := tx.SetStaffAvailability(a.StaffID, models.StaffAvailable); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkStaffBusy flips the staff member to Busy. Used at acceptance, when the
// assignment window was started without committing the staff member.
func (l *Ledger) MarkStaffBusy(tx store.Tx, staffID string) error {
	return tx.SetStaffAvailability(staffID, models.StaffBusy)
}

// Rebalance releases the old triplet and acquires the new one atomically.
func (l *Ledger) Rebalance(tx store.Tx, old, next models.Assignment) error {
	if err := l.Release(tx, old); err != nil {
		return err
	}
	return l.Acquire(tx, next)
}

// Reconcile recomputes load counters from the incident table and corrects
// drifts. Returns the corrected discrepancies.
func (l *Ledger) Reconcile(ctx context.Context) ([]store.Discrepancy, error) {
	start := time.Now()
	discrepancies, err := l.store.ReconcileLoads(ctx)
	if err != nil {
		return nil, err
	}
	if len(discrepancies) > 0 {
		l.logger.Warn().
			Int("count", len(discrepancies)).
			Dur("took", time.Since(start)).
			Msg("workload counters drifted and were corrected")
	} else {
		l.logger.Debug().Dur("took", time.Since(start)).Msg("workload counters consistent")
	}
	return discrepancies, nil
}

// RunReconcileLoop runs Reconcile on the given interval until ctx ends.
func (l *Ledger) RunReconcileLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Reconcile(ctx); err != nil {
				l.logger.Error().Err(err).Msg("reconciliation failed")
			}
		}
	}
}
