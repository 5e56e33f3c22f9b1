// Package lifecycle implements the per-incident state machine:
// Pending -> Pending-Assignment -> In-Progress -> Done | Cancelled.
// Every transition runs inside a single store transaction that locks the
// incident row, applies the workload delta and appends the audit event.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/assignment"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/metrics"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/triage"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/workload"
)

// Options tunes the coordinator.
type Options struct {
	// AssignmentWindow is how long an assigned responder has to accept.
	AssignmentWindow time.Duration
	// RejectCooldown is how long a rejecting org stays excluded from
	// re-ranking for the same incident.
	RejectCooldown time.Duration
}

// Coordinator drives incidents through their lifecycle.
type Coordinator struct {
	store  store.Store
	ledger *workload.Ledger
	triage *triage.Service
	opts   Options
	logger zerolog.Logger
}

// New creates a Coordinator.
func New(s store.Store, ledger *workload.Ledger, triageSvc *triage.Service, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.AssignmentWindow <= 0 {
		opts.AssignmentWindow = 10 * time.Minute
	}
	if opts.RejectCooldown <= 0 {
		opts.RejectCooldown = 15 * time.Minute
	}
	return &Coordinator{
		store:  s,
		ledger: ledger,
		triage: triageSvc,
		opts:   opts,
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
}

// CreateRequest is the input for incident creation.
type CreateRequest struct {
	ExternalID   string
	Source       string
	Text         string
	Transcript   string
	CategoryHint string
	Place        string
	Latitude     float64
	Longitude    float64
	Headcount    int
	Notes        string
}

// Create triages the report inline and persists a Pending incident together
// with its create audit event.
func (c *Coordinator) Create(ctx context.Context, p auth.Principal, req CreateRequest) (*models.Incident, error) {
	if err := Authorise(p, ActionCreate, nil); err != nil {
		return nil, err
	}

	tr := c.triage.Triage(ctx, triage.Request{
		Text:         req.Text,
		Transcript:   req.Transcript,
		Headcount:    req.Headcount,
		Place:        req.Place,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		CategoryHint: req.CategoryHint,
	})
	metrics.TriageTotal.WithLabelValues(tr.Source).Inc()

	now := time.Now().UTC()
	inc := &models.Incident{
		ID:              uuid.NewString(),
		ExternalID:      req.ExternalID,
		Source:          req.Source,
		Text:            req.Text,
		VoiceTranscript: req.Transcript,
		Category:        tr.Category,
		Priority:        tr.Priority,
		Place:           req.Place,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		Headcount:       req.Headcount,
		Status:          models.IncidentPending,
		Triage:          &tr,
		CreatedBy:       p.String(),
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	audit := c.auditEvent(inc.ID, p, models.AuditCreate, "", string(models.IncidentPending), "", "")
	if err := c.store.CreateIncident(ctx, inc, audit); err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(models.AuditCreate).Inc()
	c.logger.Info().
		Str("incident", inc.ID).
		Str("category", tr.Category).
		Int("priority", tr.Priority).
		Str("triage_source", tr.Source).
		Msg("incident created")
	return inc, nil
}

// Rank returns the ranked candidate list for an incident, applying the
// reject cooldown exclusions.
func (c *Coordinator) Rank(ctx context.Context, incidentID string) (*models.Incident, []assignment.Candidate, error) {
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	snap, err := c.store.FleetSnapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	excluded, err := c.cooldownExclusions(ctx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	ranked := assignment.Rank(c.rankInput(inc, excluded), snap)
	return inc, ranked, nil
}

func (c *Coordinator) rankInput(inc *models.Incident, excluded map[string]bool) assignment.Input {
	in := assignment.Input{
		Category:       inc.Category,
		Priority:       inc.Priority,
		Latitude:       inc.Latitude,
		Longitude:      inc.Longitude,
		ExcludedOrgIDs: excluded,
	}
	if inc.Triage != nil {
		in.RequiredDivisionType = inc.Triage.RequiredDivisionType
		in.RequiredSkills = inc.Triage.RequiredSkills
	}
	return in
}

// cooldownExclusions collects orgs that rejected this incident within the
// cooldown window.
func (c *Coordinator) cooldownExclusions(ctx context.Context, incidentID string) (map[string]bool, error) {
	events, err := c.store.ListAudit(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-c.opts.RejectCooldown)
	excluded := map[string]bool{}
	for _, ev := range events {
		if ev.Kind == models.AuditReject && ev.OrgID != "" && ev.CreatedAt.After(cutoff) {
			excluded[ev.OrgID] = true
		}
	}
	return excluded, nil
}

// StartWindow assigns the candidate triplet and opens the acceptance window.
// Org and division load are taken now; the staff member is only marked Busy
// at acceptance.
func (c *Coordinator) StartWindow(ctx context.Context, p auth.Principal, incidentID string, cand models.Assignment) (*models.Incident, error) {
	if cand.OrgID == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "assignment requires an organization")
	}
	var out *models.Incident
	err := c.store.Mutate(ctx, incidentID, func(tx store.Tx) error {
		inc := tx.Incident()
		if err := Authorise(p, ActionAssign, inc); err != nil {
			return err
		}
		if inc.Status != models.IncidentPending {
			return apperr.New(apperr.KindInvalidState,
				"cannot assign incident in state %s, want %s", inc.Status, models.IncidentPending)
		}
		if err := c.validateCandidate(tx, cand); err != nil {
			return err
		}
		if err := c.ledger.Acquire(tx, models.Assignment{OrgID: cand.OrgID, DivisionID: cand.DivisionID}); err != nil {
			return err
		}

		deadline := time.Now().Add(c.opts.AssignmentWindow).UTC()
		inc.AssignedOrgID = cand.OrgID
		inc.AssignedDivisionID = cand.DivisionID
		inc.AssignedStaffID = cand.StaffID
		inc.AssignmentDeadline = &deadline
		inc.Status = models.IncidentPendingAssignment
		if err := tx.UpdateIncident(inc); err != nil {
			return err
		}
		if err := tx.AppendAudit(c.auditEvent(inc.ID, p, models.AuditStartWindow,
			string(models.IncidentPending), string(models.IncidentPendingAssignment), "", cand.OrgID)); err != nil {
			return err
		}
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(models.AuditStartWindow).Inc()
	c.logger.Info().
		Str("incident", incidentID).
		Str("org", cand.OrgID).
		Str("division", cand.DivisionID).
		Str("staff", cand.StaffID).
		Msg("assignment window started")
	return out, nil
}

// validateCandidate re-validates the chosen rows against the live store to
// detect snapshot skew between ranking and assignment.
func (c *Coordinator) validateCandidate(tx store.Tx, cand models.Assignment) error {
	if cand.DivisionID != "" {
		div, err := tx.Division(cand.DivisionID)
		if err != nil {
			return err
		}
		if div.OrgID != cand.OrgID {
			return apperr.New(apperr.KindInvalidInput,
				"division %s does not belong to organization %s", cand.DivisionID, cand.OrgID)
		}
	}
	if cand.StaffID != "" {
		st, err := tx.Staff(cand.StaffID)
		if err != nil {
			return err
		}
		if st.OrgID != cand.OrgID {
			return apperr.New(apperr.KindInvalidInput,
				"staff %s does not belong to organization %s", cand.StaffID, cand.OrgID)
		}
		if st.Availability == models.StaffBusy || st.Availability == models.StaffOffDuty {
			return apperr.New(apperr.KindStaleSnapshot, "staff %s is no longer available", cand.StaffID)
		}
	}
	return nil
}

// Accept moves the incident to In-Progress and marks the assigned staff
// member Busy. Accepting an already-accepted incident is a no-op.
func (c *Coordinator) Accept(ctx context.Context, p auth.Principal, incidentID string, estimatedCompletion *time.Time) (*models.Incident, error) {
	var out *models.Incident
	err := c.store.Mutate(ctx, incidentID, func(tx store.Tx) error {
		inc := tx.Incident()
		if err := Authorise(p, ActionAccept, inc); err != nil {
			return err
		}

		// Idempotent re-accept by the same responder.
		if inc.Status == models.IncidentInProgress {
			out = inc
			return nil
		}

		switch inc.Status {
		case models.IncidentPendingAssignment:
			// normal path
		case models.IncidentPending:
			// Acceptance before an explicit window start implies it.
			if err := c.ledger.Acquire(tx, models.Assignment{OrgID: inc.AssignedOrgID, DivisionID: inc.AssignedDivisionID}); err != nil {
				return err
			}
		default:
			return apperr.New(apperr.KindInvalidState,
				"cannot accept incident in state %s", inc.Status)
		}

		if inc.AssignedStaffID != "" {
			if err := c.ledger.MarkStaffBusy(tx, inc.AssignedStaffID); err != nil {
				return err
			}
		}
		before := inc.Status
		inc.Status = models.IncidentInProgress
		inc.AssignmentDeadline = nil
		if estimatedCompletion != nil {
			t := estimatedCompletion.UTC()
			inc.EstimatedCompletion = &t
		}
		if err := tx.UpdateIncident(inc); err != nil {
			return err
		}
		if err := tx.AppendAudit(c.auditEvent(inc.ID, p, models.AuditAccept,
			string(before), string(models.IncidentInProgress), "", inc.AssignedOrgID)); err != nil {
			return err
		}
		metrics.TransitionsTotal.WithLabelValues(models.AuditAccept).Inc()
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reject releases the current assignment, returns the incident to Pending
// and immediately attempts re-assignment with the rejecting org excluded.
func (c *Coordinator) Reject(ctx context.Context, p auth.Principal, incidentID, reason string) (*models.Incident, error) {
	var rejectedOrg string
	err := c.store.Mutate(ctx, incidentID, func(tx store.Tx) error {
		inc := tx.Incident()
		if err := Authorise(p, ActionReject, inc); err != nil {
			return err
		}
		if inc.Status != models.IncidentPendingAssignment {
			return apperr.New(apperr.KindInvalidState,
				"cannot reject incident in state %s", inc.Status)
		}
		return c.rejectLocked(tx, inc, p, reason, &rejectedOrg)
	})
	if err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(models.AuditReject).Inc()
	c.logger.Info().
		Str("incident", incidentID).
		Str("org", rejectedOrg).
		Str("reason", reason).
		Msg("assignment rejected")

	return c.autoReassign(ctx, incidentID)
}

// rejectLocked performs the release half of a rejection inside the caller's
// transaction. The rejected org is recorded on the audit event so re-ranking
// can apply the cooldown.
func (c *Coordinator) rejectLocked(tx store.Tx, inc *models.Incident, p auth.Principal, reason string, rejectedOrg *string) error {
	*rejectedOrg = inc.AssignedOrgID
	if err := c.ledger.Release(tx, models.Assignment{OrgID: inc.AssignedOrgID, DivisionID: inc.AssignedDivisionID}); err != nil {
		return err
	}
	before := inc.Status
	inc.AssignedOrgID = ""
	inc.AssignedDivisionID = ""
	inc.AssignedStaffID = ""
	inc.AssignmentDeadline = nil
	inc.Status = models.IncidentPending
	if err := tx.UpdateIncident(inc); err != nil {
		return err
	}
	return tx.AppendAudit(c.auditEvent(inc.ID, p, models.AuditReject,
		string(before), string(models.IncidentPending), reason, *rejectedOrg))
}

// autoReassign ranks again and opens a fresh window for the best candidate.
// When no candidate remains the incident stays Pending.
func (c *Coordinator) autoReassign(ctx context.Context, incidentID string) (*models.Incident, error) {
	inc, ranked, err := c.Rank(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		c.logger.Warn().Str("incident", incidentID).Msg("no candidates for re-assignment")
		return inc, nil
	}
	next, err := c.StartWindow(ctx, auth.System, incidentID, ranked[0].Assignment())
	if apperr.Is(err, apperr.KindStaleSnapshot) || apperr.Is(err, apperr.KindCapacityExceeded) {
		// Candidate disappeared between ranking and assignment; retry once
		// with a fresh ranking.
		_, ranked, rerr := c.Rank(ctx, incidentID)
		if rerr != nil || len(ranked) == 0 {
			return inc, nil
		}
		return c.StartWindow(ctx, auth.System, incidentID, ranked[0].Assignment())
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Complete finishes the incident and returns the held capacity.
func (c *Coordinator) Complete(ctx context.Context, p auth.Principal, incidentID string) (*models.Incident, error) {
	var out *models.Incident
	err := c.store.Mutate(ctx, incidentID, func(tx store.Tx) error {
		inc := tx.Incident()
		if err := Authorise(p, ActionComplete, inc); err != nil {
			return err
		}
		if inc.Status != models.IncidentInProgress {
			return apperr.New(apperr.KindInvalidState,
				"cannot complete incident in state %s", inc.Status)
		}
		if err := c.ledger.Release(tx, models.Assignment{
			OrgID:      inc.AssignedOrgID,
			DivisionID: inc.AssignedDivisionID,
			StaffID:    inc.AssignedStaffID,
		}); err != nil {
			return err
		}
		now := time.Now().UTC()
		inc.ActualCompletion = &now
		inc.Status = models.IncidentDone
		if err := tx.UpdateIncident(inc); err != nil {
			return err
		}
		if err := tx.AppendAudit(c.auditEvent(inc.ID, p, models.AuditComplete,
			string(models.IncidentInProgress), string(models.IncidentDone), "", inc.AssignedOrgID)); err != nil {
			return err
		}
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(models.AuditComplete).Inc()
	return out, nil
}

// Cancel releases any held capacity and terminates the incident.
func (c *Coordinator) Cancel(ctx context.Context, p auth.Principal, incidentID, reason string) (*models.Incident, error) {
	var out *models.Incident
	err := c.store.Mutate(ctx, incidentID, func(tx store.Tx) error {
		inc := tx.Incident()
		if err := Authorise(p, ActionCancel, inc); err != nil {
			return err
		}
		switch inc.Status {
		case models.IncidentDone, models.IncidentCancelled:
			return apperr.New(apperr.KindInvalidState,
				"cannot cancel incident in state %s", inc.Status)
		}
		if inc.AssignedOrgID != "" {
			release := models.Assignment{OrgID: inc.AssignedOrgID, DivisionID: inc.AssignedDivisionID}
			// Staff only holds availability once accepted.
			if inc.Status == models.IncidentInProgress {
				release.StaffID = inc.AssignedStaffID
			}
			if err := c.ledger.Release(tx, release); err != nil {
				return err
			}
		}
		before := inc.Status
		inc.Status = models.IncidentCancelled
		inc.AssignmentDeadline = nil
		if err := tx.UpdateIncident(inc); err != nil {
			return err
		}
		if err := tx.AppendAudit(c.auditEvent(inc.ID, p, models.AuditCancel,
			string(before), string(models.IncidentCancelled), reason, inc.AssignedOrgID)); err != nil {
			return err
		}
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(models.AuditCancel).Inc()
	return out, nil
}

// UpdateRequest is the bounded mutable surface of an incident.
type UpdateRequest struct {
	Notes    *string
	Priority *int
}

// Update applies bounded edits. Priority changes are admin-only.
func (c *Coordinator) Update(ctx context.Context, p auth.Principal, incidentID string, req UpdateRequest) (*models.Incident, error) {
	var out *models.Incident
	err := c.store.Mutate(ctx, incidentID, func(tx store.Tx) error {
		inc := tx.Incident()
		if err := Authorise(p, ActionUpdate, inc); err != nil {
			return err
		}
		if req.Priority != nil {
			if p.Role != auth.RoleAdmin {
				return apperr.New(apperr.KindForbidden, "priority change requires admin")
			}
			pr := *req.Priority
			if pr < 1 || pr > 5 {
				return apperr.New(apperr.KindInvalidInput, "priority %d out of range 1..5", pr)
			}
			inc.Priority = pr
		}
		if req.Notes != nil {
			inc.Notes = *req.Notes
		}
		if err := tx.UpdateIncident(inc); err != nil {
			return err
		}
		if err := tx.AppendAudit(c.auditEvent(inc.ID, p, models.AuditUpdate,
			string(inc.Status), string(inc.Status), "", "")); err != nil {
			return err
		}
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an incident. Admin only.
func (c *Coordinator) Delete(ctx context.Context, p auth.Principal, incidentID string) error {
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if err := Authorise(p, ActionDelete, inc); err != nil {
		return err
	}
	return c.store.DeleteIncident(ctx, incidentID,
		c.auditEvent(incidentID, p, models.AuditDelete, string(inc.Status), "", "", ""))
}

func (c *Coordinator) auditEvent(incidentID string, p auth.Principal, kind, before, after, detail, orgID string) models.AuditEvent {
	return models.AuditEvent{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Principal:  p.String(),
		Kind:       kind,
		Before:     before,
		After:      after,
		Detail:     detail,
		OrgID:      orgID,
		CreatedAt:  time.Now().UTC(),
	}
}
