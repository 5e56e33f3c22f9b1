package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

//go:embed schema.sql
var Schema string

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{
		pool:   pool,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

const incidentColumns = `id, external_id, source, text, voice_transcript, category, priority,
	place, latitude, longitude, headcount, status,
	assigned_org_id, assigned_division_id, assigned_staff_id,
	assignment_deadline, estimated_completion, actual_completion,
	triage, created_by, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc        models.Incident
		externalID *string
		orgID      *string
		divID      *string
		staffID    *string
		triageJSON []byte
	)
	err := row.Scan(
		&inc.ID, &externalID, &inc.Source, &inc.Text, &inc.VoiceTranscript,
		&inc.Category, &inc.Priority, &inc.Place, &inc.Latitude, &inc.Longitude,
		&inc.Headcount, &inc.Status,
		&orgID, &divID, &staffID,
		&inc.AssignmentDeadline, &inc.EstimatedCompletion, &inc.ActualCompletion,
		&triageJSON, &inc.CreatedBy, &inc.Notes, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inc.ExternalID = deref(externalID)
	inc.AssignedOrgID = deref(orgID)
	inc.AssignedDivisionID = deref(divID)
	inc.AssignedStaffID = deref(staffID)
	if len(triageJSON) > 0 {
		var tr models.TriageResult
		if err := json.Unmarshal(triageJSON, &tr); err != nil {
			return nil, fmt.Errorf("decode triage: %w", err)
		}
		inc.Triage = &tr
	}
	return &inc, nil
}

func triageJSON(inc *models.Incident) ([]byte, error) {
	if inc.Triage == nil {
		return nil, nil
	}
	return json.Marshal(inc.Triage)
}

// CreateIncident inserts the incident and its create audit event atomically.
func (p *Postgres) CreateIncident(ctx context.Context, inc *models.Incident, audit models.AuditEvent) error {
	tj, err := triageJSON(inc)
	if err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO incidents (
		id, external_id, source, text, voice_transcript, category, priority,
		place, latitude, longitude, headcount, status,
		assigned_org_id, assigned_division_id, assigned_staff_id,
		assignment_deadline, estimated_completion, actual_completion,
		triage, created_by, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		inc.ID, textOrNil(inc.ExternalID), inc.Source, inc.Text, inc.VoiceTranscript,
		inc.Category, inc.Priority, inc.Place, inc.Latitude, inc.Longitude,
		inc.Headcount, inc.Status,
		textOrNil(inc.AssignedOrgID), textOrNil(inc.AssignedDivisionID), textOrNil(inc.AssignedStaffID),
		inc.AssignmentDeadline, inc.EstimatedCompletion, inc.ActualCompletion,
		tj, inc.CreatedBy, inc.Notes, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict, err, "incident already exists")
		}
		return err
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=$1`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "incident %s not found", id)
	}
	return inc, err
}

func (p *Postgres) GetIncidentByExternalID(ctx context.Context, externalID string) (*models.Incident, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE external_id=$1`, externalID)
	inc, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "incident with external id %s not found", externalID)
	}
	return inc, err
}

func (p *Postgres) ListIncidents(ctx context.Context, f IncidentFilter) ([]models.Incident, error) {
	q := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}
	n := 0
	add := func(clause string, v any) {
		n++
		q += fmt.Sprintf(" AND %s=$%d", clause, n)
		args = append(args, v)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.Source != "" {
		add("source", f.Source)
	}
	if f.OrgID != "" {
		add("assigned_org_id", f.OrgID)
	}
	if f.StaffID != "" {
		add("assigned_staff_id", f.StaffID)
	}
	if !f.Since.IsZero() {
		n++
		q += fmt.Sprintf(" AND created_at >= $%d", n)
		args = append(args, f.Since)
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		n++
		q += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteIncident(ctx context.Context, id string, audit models.AuditEvent) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM incidents WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "incident %s not found", id)
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgTx implements Tx over one pgx transaction with the incident row locked.
type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	incident *models.Incident
}

func (t *pgTx) Incident() *models.Incident { return t.incident }

func (t *pgTx) UpdateIncident(inc *models.Incident) error {
	tj, err := triageJSON(inc)
	if err != nil {
		return err
	}
	inc.UpdatedAt = time.Now().UTC()
	_, err = t.tx.Exec(t.ctx, `UPDATE incidents SET
		source=$2, text=$3, voice_transcript=$4, category=$5, priority=$6,
		place=$7, latitude=$8, longitude=$9, headcount=$10, status=$11,
		assigned_org_id=$12, assigned_division_id=$13, assigned_staff_id=$14,
		assignment_deadline=$15, estimated_completion=$16, actual_completion=$17,
		triage=$18, notes=$19, updated_at=$20
		WHERE id=$1`,
		inc.ID, inc.Source, inc.Text, inc.VoiceTranscript, inc.Category, inc.Priority,
		inc.Place, inc.Latitude, inc.Longitude, inc.Headcount, inc.Status,
		textOrNil(inc.AssignedOrgID), textOrNil(inc.AssignedDivisionID), textOrNil(inc.AssignedStaffID),
		inc.AssignmentDeadline, inc.EstimatedCompletion, inc.ActualCompletion,
		tj, inc.Notes, inc.UpdatedAt,
	)
	if err == nil {
		t.incident = inc
	}
	return err
}

func (t *pgTx) Org(id string) (*models.Organization, error) {
	row := t.tx.QueryRow(t.ctx, `SELECT id, name, type, category, region, latitude, longitude,
		capacity, current_load, status FROM organizations WHERE id=$1 FOR UPDATE`, id)
	var o models.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Type, &o.Category, &o.Region, &o.Latitude, &o.Longitude,
		&o.Capacity, &o.CurrentLoad, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindStaleSnapshot, "organization %s no longer exists", id)
	}
	return &o, err
}

func (t *pgTx) Division(id string) (*models.Division, error) {
	row := t.tx.QueryRow(t.ctx, `SELECT id, org_id, type, description, skills,
		capacity, current_load, status FROM divisions WHERE id=$1 FOR UPDATE`, id)
	var d models.Division
	err := row.Scan(&d.ID, &d.OrgID, &d.Type, &d.Description, &d.Skills,
		&d.Capacity, &d.CurrentLoad, &d.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindStaleSnapshot, "division %s no longer exists", id)
	}
	return &d, err
}

func (t *pgTx) Staff(id string) (*models.Staff, error) {
	row := t.tx.QueryRow(t.ctx, `SELECT id, org_id, division_id, name, role, skills,
		phone, email, availability, latitude, longitude, status FROM staff WHERE id=$1 FOR UPDATE`, id)
	var (
		s     models.Staff
		divID *string
	)
	err := row.Scan(&s.ID, &s.OrgID, &divID, &s.Name, &s.Role, &s.Skills,
		&s.Phone, &s.Email, &s.Availability, &s.Latitude, &s.Longitude, &s.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindStaleSnapshot, "staff %s no longer exists", id)
	}
	s.DivisionID = deref(divID)
	return &s, err
}

func (t *pgTx) AdjustOrgLoad(id string, delta int) error {
	tag, err := t.tx.Exec(t.ctx, `UPDATE organizations SET
		current_load = GREATEST(0, current_load + $2),
		status = CASE
			WHEN status = 'Inactive' THEN status
			WHEN GREATEST(0, current_load + $2) >= capacity THEN 'Overloaded'
			WHEN status = 'Overloaded' THEN 'Active'
			ELSE status
		END
		WHERE id=$1`, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindStaleSnapshot, "organization %s no longer exists", id)
	}
	return nil
}

func (t *pgTx) AdjustDivisionLoad(id string, delta int) error {
	tag, err := t.tx.Exec(t.ctx, `UPDATE divisions SET
		current_load = GREATEST(0, current_load + $2),
		status = CASE
			WHEN status = 'Inactive' THEN status
			WHEN GREATEST(0, current_load + $2) >= capacity THEN 'Overloaded'
			WHEN status = 'Overloaded' THEN 'Active'
			ELSE status
		END
		WHERE id=$1`, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindStaleSnapshot, "division %s no longer exists", id)
	}
	return nil
}

func (t *pgTx) SetStaffAvailability(id string, av models.StaffAvailability) error {
	tag, err := t.tx.Exec(t.ctx, `UPDATE staff SET availability=$2 WHERE id=$1`, id, av)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindStaleSnapshot, "staff %s no longer exists", id)
	}
	return nil
}

func (t *pgTx) CountStaffActiveAssignments(staffID string) (int, error) {
	var n int
	err := t.tx.QueryRow(t.ctx, `SELECT count(*) FROM incidents
		WHERE assigned_staff_id=$1 AND status IN ('Pending-Assignment','In-Progress') AND id <> $2`,
		staffID, t.incident.ID).Scan(&n)
	return n, err
}

func (t *pgTx) AppendAudit(ev models.AuditEvent) error {
	return insertAudit(t.ctx, t.tx, ev)
}

func insertAudit(ctx context.Context, tx pgx.Tx, ev models.AuditEvent) error {
	_, err := tx.Exec(ctx, `INSERT INTO audit_events
		(id, incident_id, principal, kind, before_state, after_state, detail, org_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ev.ID, ev.IncidentID, ev.Principal, ev.Kind, ev.Before, ev.After, ev.Detail, ev.OrgID, ev.CreatedAt)
	return err
}

// Mutate locks the incident row and runs fn in one transaction.
func (p *Postgres) Mutate(ctx context.Context, incidentID string, fn func(tx Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=$1 FOR UPDATE`, incidentID)
	inc, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "incident %s not found", incidentID)
	}
	if err != nil {
		return err
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, incident: inc}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return apperr.Wrap(apperr.KindConflict, err, "concurrent transition on incident %s", incidentID)
		}
		return err
	}
	return nil
}

// FleetSnapshot reads every fleet entity inside one repeatable-read
// transaction so ranking sees a consistent view.
func (p *Postgres) FleetSnapshot(ctx context.Context) (*FleetSnapshot, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	snap := &FleetSnapshot{TakenAt: time.Now().UTC()}

	rows, err := tx.Query(ctx, `SELECT id, name, type, category, region, latitude, longitude,
		capacity, current_load, status FROM organizations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Type, &o.Category, &o.Region, &o.Latitude, &o.Longitude,
			&o.Capacity, &o.CurrentLoad, &o.Status); err != nil {
			rows.Close()
			return nil, err
		}
		snap.Organizations = append(snap.Organizations, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT id, org_id, type, description, skills,
		capacity, current_load, status FROM divisions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var d models.Division
		if err := rows.Scan(&d.ID, &d.OrgID, &d.Type, &d.Description, &d.Skills,
			&d.Capacity, &d.CurrentLoad, &d.Status); err != nil {
			rows.Close()
			return nil, err
		}
		snap.Divisions = append(snap.Divisions, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT id, org_id, division_id, name, role, skills,
		phone, email, availability, latitude, longitude, status FROM staff ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			s     models.Staff
			divID *string
		)
		if err := rows.Scan(&s.ID, &s.OrgID, &divID, &s.Name, &s.Role, &s.Skills,
			&s.Phone, &s.Email, &s.Availability, &s.Latitude, &s.Longitude, &s.Status); err != nil {
			rows.Close()
			return nil, err
		}
		s.DivisionID = deref(divID)
		snap.Staff = append(snap.Staff, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snap, tx.Commit(ctx)
}
