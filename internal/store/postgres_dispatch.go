package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

const dispatchColumns = `id, client_ticket_id, idempotency_key, lane, payload,
	attempts, next_attempt_at, state, last_error, created_at, updated_at`

func scanDispatch(row rowScanner) (*models.DispatchJob, error) {
	var j models.DispatchJob
	err := row.Scan(&j.ID, &j.ClientTicketID, &j.IdempotencyKey, &j.Lane, &j.Payload,
		&j.Attempts, &j.NextAttemptAt, &j.State, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// EnqueueDispatch inserts the job; on idempotency key conflict the existing
// job is returned unchanged.
func (p *Postgres) EnqueueDispatch(ctx context.Context, job *models.DispatchJob) (*models.DispatchJob, bool, error) {
	_, err := p.pool.Exec(ctx, `INSERT INTO dispatch_jobs
		(id, client_ticket_id, idempotency_key, lane, payload, attempts, next_attempt_at, state, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		job.ID, job.ClientTicketID, job.IdempotencyKey, job.Lane, job.Payload,
		job.Attempts, job.NextAttemptAt, job.State, job.LastError, job.CreatedAt, job.UpdatedAt)
	if err == nil {
		return job, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, err
	}
	existing, gerr := p.GetDispatchByKey(ctx, job.IdempotencyKey)
	if gerr != nil {
		return nil, false, gerr
	}
	return existing, false, nil
}

func (p *Postgres) GetDispatchByKey(ctx context.Context, idempotencyKey string) (*models.DispatchJob, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM dispatch_jobs WHERE idempotency_key=$1`, idempotencyKey)
	j, err := scanDispatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "dispatch job with key %s not found", idempotencyKey)
	}
	return j, err
}

func (p *Postgres) GetDispatchByClientID(ctx context.Context, clientTicketID string) (*models.DispatchJob, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM dispatch_jobs
		WHERE client_ticket_id=$1 ORDER BY created_at DESC LIMIT 1`, clientTicketID)
	j, err := scanDispatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "dispatch job for ticket %s not found", clientTicketID)
	}
	return j, err
}

// ClaimDispatch claims the next due queued job in lane order using
// SELECT ... FOR UPDATE SKIP LOCKED so restarts and concurrent workers never
// double-deliver.
func (p *Postgres) ClaimDispatch(ctx context.Context, laneOrder []string) (*models.DispatchJob, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM dispatch_jobs
		WHERE state='Queued' AND next_attempt_at <= now()
		ORDER BY array_position($1::text[], lane), created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, laneOrder)
	job, err := scanDispatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.State = models.DispatchInFlight
	job.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE dispatch_jobs SET state=$2, updated_at=$3 WHERE id=$1`,
		job.ID, job.State, job.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

func (p *Postgres) UpdateDispatch(ctx context.Context, job *models.DispatchJob) error {
	job.UpdatedAt = time.Now().UTC()
	tag, err := p.pool.Exec(ctx, `UPDATE dispatch_jobs SET
		lane=$2, attempts=$3, next_attempt_at=$4, state=$5, last_error=$6, updated_at=$7
		WHERE id=$1`,
		job.ID, job.Lane, job.Attempts, job.NextAttemptAt, job.State, job.LastError, job.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "dispatch job %s not found", job.ID)
	}
	return nil
}

// ResetTerminalDispatch re-queues Failed-Terminal jobs with attempts cleared.
func (p *Postgres) ResetTerminalDispatch(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE dispatch_jobs SET
		state='Queued', attempts=0, next_attempt_at=now(), last_error='', updated_at=now()
		WHERE state='Failed-Terminal'`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) ListRecentIncidents(ctx context.Context, since time.Time) ([]models.Incident, error) {
	return p.ListIncidents(ctx, IncidentFilter{Since: since})
}

func (p *Postgres) CountDeviceSubmissions(ctx context.Context, deviceID string, since time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM device_submissions
		WHERE device_id=$1 AND submitted_at >= $2`, deviceID, since).Scan(&n)
	return n, err
}

func (p *Postgres) RecordDeviceSubmission(ctx context.Context, deviceID string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO device_submissions (device_id, submitted_at) VALUES ($1,$2)`, deviceID, at)
	return err
}

func (p *Postgres) ListAudit(ctx context.Context, incidentID string) ([]models.AuditEvent, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, incident_id, principal, kind, before_state, after_state,
		detail, org_id, created_at FROM audit_events WHERE incident_id=$1 ORDER BY created_at`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.Principal, &ev.Kind, &ev.Before, &ev.After,
			&ev.Detail, &ev.OrgID, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ReconcileLoads recomputes current_load from the incident table inside one
// transaction and corrects any drifted counters.
func (p *Postgres) ReconcileLoads(ctx context.Context) ([]Discrepancy, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var out []Discrepancy

	rows, err := tx.Query(ctx, `SELECT o.id, o.current_load, count(i.id)
		FROM organizations o
		LEFT JOIN incidents i ON i.assigned_org_id = o.id AND i.status IN ('Pending-Assignment','In-Progress')
		GROUP BY o.id, o.current_load
		HAVING o.current_load <> count(i.id)`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var d Discrepancy
		d.EntityKind = "organization"
		if err := rows.Scan(&d.EntityID, &d.Recorded, &d.Actual); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT d.id, d.current_load, count(i.id)
		FROM divisions d
		LEFT JOIN incidents i ON i.assigned_division_id = d.id AND i.status IN ('Pending-Assignment','In-Progress')
		GROUP BY d.id, d.current_load
		HAVING d.current_load <> count(i.id)`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var d Discrepancy
		d.EntityKind = "division"
		if err := rows.Scan(&d.EntityID, &d.Recorded, &d.Actual); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range out {
		table := "organizations"
		if d.EntityKind == "division" {
			table = "divisions"
		}
		if _, err := tx.Exec(ctx, `UPDATE `+table+` SET
			current_load = $2,
			status = CASE
				WHEN status = 'Inactive' THEN status
				WHEN $2 >= capacity THEN 'Overloaded'
				WHEN status = 'Overloaded' THEN 'Active'
				ELSE status
			END
			WHERE id=$1`, d.EntityID, d.Actual); err != nil {
			return nil, err
		}
		p.logger.Warn().
			Str("kind", d.EntityKind).
			Str("id", d.EntityID).
			Int("recorded", d.Recorded).
			Int("actual", d.Actual).
			Msg("load counter corrected")
	}

	return out, tx.Commit(ctx)
}
