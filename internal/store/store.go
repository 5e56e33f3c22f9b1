// Package store owns all persistent state: incidents, fleet entities,
// facilities, the dispatch queue and the audit log. Two implementations
// exist: Postgres (pgx) for production and Memory for demo mode and tests.
package store

import (
	"context"
	"time"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	Status   models.IncidentStatus
	Source   string
	Since    time.Time
	OrgID    string
	StaffID  string
	Limit    int
}

// FleetSnapshot is a consistent read of all fleet entities used by one
// ranking decision. It is never mutated after construction.
type FleetSnapshot struct {
	Organizations []models.Organization
	Divisions     []models.Division
	Staff         []models.Staff
	TakenAt       time.Time
}

// Discrepancy records one load counter that drifted from the incident table.
type Discrepancy struct {
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId"`
	Recorded   int    `json:"recorded"`
	Actual     int    `json:"actual"`
}

// Tx is the transactional view handed to a Mutate callback. The incident row
// is locked for the duration; fleet reads through Tx lock their rows too, so
// workload deltas and the incident mutation commit or roll back together.
type Tx interface {
	// Incident returns the locked incident. Mutations become visible only
	// after UpdateIncident.
	Incident() *models.Incident
	UpdateIncident(inc *models.Incident) error

	Org(id string) (*models.Organization, error)
	Division(id string) (*models.Division, error)
	Staff(id string) (*models.Staff, error)

	// AdjustOrgLoad applies a load delta and keeps the Overloaded status
	// invariant: status=Overloaded iff current_load >= capacity.
	AdjustOrgLoad(id string, delta int) error
	AdjustDivisionLoad(id string, delta int) error
	SetStaffAvailability(id string, av models.StaffAvailability) error

	// CountStaffActiveAssignments counts incidents in Pending-Assignment or
	// In-Progress assigned to the staff member, excluding the locked incident.
	CountStaffActiveAssignments(staffID string) (int, error)

	AppendAudit(ev models.AuditEvent) error
}

// Store is the durable state of the service.
type Store interface {
	// Incidents
	CreateIncident(ctx context.Context, inc *models.Incident, audit models.AuditEvent) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	GetIncidentByExternalID(ctx context.Context, externalID string) (*models.Incident, error)
	ListIncidents(ctx context.Context, f IncidentFilter) ([]models.Incident, error)
	DeleteIncident(ctx context.Context, id string, audit models.AuditEvent) error

	// Mutate runs fn inside a single transaction with the incident row
	// locked. Returns apperr.KindNotFound if the incident does not exist and
	// apperr.KindConflict on serialization failure.
	Mutate(ctx context.Context, incidentID string, fn func(tx Tx) error) error

	// Fleet
	FleetSnapshot(ctx context.Context) (*FleetSnapshot, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
	UpdateOrganization(ctx context.Context, org *models.Organization) error
	DeleteOrganization(ctx context.Context, id string) error
	CreateDivision(ctx context.Context, d *models.Division) error
	GetDivision(ctx context.Context, id string) (*models.Division, error)
	ListDivisions(ctx context.Context) ([]models.Division, error)
	UpdateDivision(ctx context.Context, d *models.Division) error
	DeleteDivision(ctx context.Context, id string) error
	CreateStaff(ctx context.Context, s *models.Staff) error
	GetStaff(ctx context.Context, id string) (*models.Staff, error)
	ListStaff(ctx context.Context) ([]models.Staff, error)
	UpdateStaff(ctx context.Context, s *models.Staff) error
	DeleteStaff(ctx context.Context, id string) error

	// Facilities
	ListFacilities(ctx context.Context) ([]models.Facility, error)
	CreateFacility(ctx context.Context, f *models.Facility) error

	// Ingestion support. ListRecentIncidents returns incidents created after
	// since; duplicate density is computed by the caller over coordinates.
	ListRecentIncidents(ctx context.Context, since time.Time) ([]models.Incident, error)
	CountDeviceSubmissions(ctx context.Context, deviceID string, since time.Time) (int, error)
	RecordDeviceSubmission(ctx context.Context, deviceID string, at time.Time) error

	// Dispatch queue. EnqueueDispatch is idempotent on the job's idempotency
	// key: when a job with the key already exists it is returned with
	// created=false and the argument is not inserted.
	EnqueueDispatch(ctx context.Context, job *models.DispatchJob) (existing *models.DispatchJob, created bool, err error)
	GetDispatchByKey(ctx context.Context, idempotencyKey string) (*models.DispatchJob, error)
	GetDispatchByClientID(ctx context.Context, clientTicketID string) (*models.DispatchJob, error)
	// ClaimDispatch atomically claims the next due job, preferring lanes in
	// the given order, and moves it to InFlight. Returns nil when no job is
	// due. Claimed jobs are invisible to concurrent claimers.
	ClaimDispatch(ctx context.Context, laneOrder []string) (*models.DispatchJob, error)
	UpdateDispatch(ctx context.Context, job *models.DispatchJob) error
	ResetTerminalDispatch(ctx context.Context) (int, error)

	// Audit
	ListAudit(ctx context.Context, incidentID string) ([]models.AuditEvent, error)

	// ReconcileLoads recomputes current_load for every org and division from
	// the incident table, corrects drifts, and returns what was corrected.
	ReconcileLoads(ctx context.Context) ([]Discrepancy, error)

	Close()
}
