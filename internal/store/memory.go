package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

// Memory is an in-memory Store used by demo mode and tests. A single mutex
// stands in for row locks; transitions on one incident are still totally
// ordered and the Tx callback sees a consistent view.
type Memory struct {
	mu sync.Mutex

	incidents     map[string]*models.Incident
	organizations map[string]*models.Organization
	divisions     map[string]*models.Division
	staff         map[string]*models.Staff
	facilities    map[string]*models.Facility
	dispatch      map[string]*models.DispatchJob
	dispatchByKey map[string]string
	audit         []models.AuditEvent
	devices       map[string][]time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		incidents:     map[string]*models.Incident{},
		organizations: map[string]*models.Organization{},
		divisions:     map[string]*models.Division{},
		staff:         map[string]*models.Staff{},
		facilities:    map[string]*models.Facility{},
		dispatch:      map[string]*models.DispatchJob{},
		dispatchByKey: map[string]string{},
		devices:       map[string][]time.Time{},
	}
}

func (m *Memory) Close() {}

func cloneIncident(inc *models.Incident) *models.Incident {
	c := *inc
	if inc.Triage != nil {
		tr := *inc.Triage
		tr.RequiredSkills = append([]string(nil), inc.Triage.RequiredSkills...)
		c.Triage = &tr
	}
	if inc.AssignmentDeadline != nil {
		t := *inc.AssignmentDeadline
		c.AssignmentDeadline = &t
	}
	if inc.EstimatedCompletion != nil {
		t := *inc.EstimatedCompletion
		c.EstimatedCompletion = &t
	}
	if inc.ActualCompletion != nil {
		t := *inc.ActualCompletion
		c.ActualCompletion = &t
	}
	return &c
}

func cloneDivision(d *models.Division) *models.Division {
	c := *d
	c.Skills = append([]string(nil), d.Skills...)
	return &c
}

func cloneStaff(s *models.Staff) *models.Staff {
	c := *s
	c.Skills = append([]string(nil), s.Skills...)
	if s.Latitude != nil {
		v := *s.Latitude
		c.Latitude = &v
	}
	if s.Longitude != nil {
		v := *s.Longitude
		c.Longitude = &v
	}
	return &c
}

func cloneJob(j *models.DispatchJob) *models.DispatchJob {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	return &c
}

func (m *Memory) CreateIncident(_ context.Context, inc *models.Incident, audit models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[inc.ID]; ok {
		return apperr.New(apperr.KindConflict, "incident %s already exists", inc.ID)
	}
	if inc.ExternalID != "" {
		for _, other := range m.incidents {
			if other.ExternalID == inc.ExternalID {
				return apperr.New(apperr.KindConflict, "incident with external id %s already exists", inc.ExternalID)
			}
		}
	}
	m.incidents[inc.ID] = cloneIncident(inc)
	m.audit = append(m.audit, audit)
	return nil
}

func (m *Memory) GetIncident(_ context.Context, id string) (*models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "incident %s not found", id)
	}
	return cloneIncident(inc), nil
}

func (m *Memory) GetIncidentByExternalID(_ context.Context, externalID string) (*models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inc := range m.incidents {
		if inc.ExternalID == externalID {
			return cloneIncident(inc), nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "incident with external id %s not found", externalID)
}

func (m *Memory) ListIncidents(_ context.Context, f IncidentFilter) ([]models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Incident
	for _, inc := range m.incidents {
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		if f.Source != "" && inc.Source != f.Source {
			continue
		}
		if f.OrgID != "" && inc.AssignedOrgID != f.OrgID {
			continue
		}
		if f.StaffID != "" && inc.AssignedStaffID != f.StaffID {
			continue
		}
		if !f.Since.IsZero() && inc.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, *cloneIncident(inc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) DeleteIncident(_ context.Context, id string, audit models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[id]; !ok {
		return apperr.New(apperr.KindNotFound, "incident %s not found", id)
	}
	delete(m.incidents, id)
	m.audit = append(m.audit, audit)
	return nil
}

// memTx implements Tx against the locked Memory store. Mutations are staged
// and applied on success, so a failed callback leaves no partial writes.
type memTx struct {
	m        *Memory
	incident *models.Incident
	staged   []func()
	audits   []models.AuditEvent
	updated  *models.Incident
}

func (t *memTx) Incident() *models.Incident { return t.incident }

func (t *memTx) UpdateIncident(inc *models.Incident) error {
	inc.UpdatedAt = time.Now().UTC()
	t.updated = cloneIncident(inc)
	t.incident = inc
	return nil
}

func (t *memTx) Org(id string) (*models.Organization, error) {
	o, ok := t.m.organizations[id]
	if !ok {
		return nil, apperr.New(apperr.KindStaleSnapshot, "organization %s no longer exists", id)
	}
	c := *o
	return &c, nil
}

func (t *memTx) Division(id string) (*models.Division, error) {
	d, ok := t.m.divisions[id]
	if !ok {
		return nil, apperr.New(apperr.KindStaleSnapshot, "division %s no longer exists", id)
	}
	return cloneDivision(d), nil
}

func (t *memTx) Staff(id string) (*models.Staff, error) {
	s, ok := t.m.staff[id]
	if !ok {
		return nil, apperr.New(apperr.KindStaleSnapshot, "staff %s no longer exists", id)
	}
	return cloneStaff(s), nil
}

func adjustLoad(load, capacity, delta int, status models.EntityStatus) (int, models.EntityStatus) {
	load += delta
	if load < 0 {
		load = 0
	}
	if status != models.StatusInactive {
		if load >= capacity {
			status = models.StatusOverloaded
		} else if status == models.StatusOverloaded {
			status = models.StatusActive
		}
	}
	return load, status
}

func (t *memTx) AdjustOrgLoad(id string, delta int) error {
	o, ok := t.m.organizations[id]
	if !ok {
		return apperr.New(apperr.KindStaleSnapshot, "organization %s no longer exists", id)
	}
	t.staged = append(t.staged, func() {
		o.CurrentLoad, o.Status = adjustLoad(o.CurrentLoad, o.Capacity, delta, o.Status)
	})
	return nil
}

func (t *memTx) AdjustDivisionLoad(id string, delta int) error {
	d, ok := t.m.divisions[id]
	if !ok {
		return apperr.New(apperr.KindStaleSnapshot, "division %s no longer exists", id)
	}
	t.staged = append(t.staged, func() {
		d.CurrentLoad, d.Status = adjustLoad(d.CurrentLoad, d.Capacity, delta, d.Status)
	})
	return nil
}

func (t *memTx) SetStaffAvailability(id string, av models.StaffAvailability) error {
	s, ok := t.m.staff[id]
	if !ok {
		return apperr.New(apperr.KindStaleSnapshot, "staff %s no longer exists", id)
	}
	t.staged = append(t.staged, func() { s.Availability = av })
	return nil
}

func (t *memTx) CountStaffActiveAssignments(staffID string) (int, error) {
	n := 0
	for _, inc := range t.m.incidents {
		if inc.ID == t.incident.ID {
			continue
		}
		if inc.AssignedStaffID == staffID && inc.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) AppendAudit(ev models.AuditEvent) error {
	t.audits = append(t.audits, ev)
	return nil
}

func (m *Memory) Mutate(_ context.Context, incidentID string, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "incident %s not found", incidentID)
	}
	tx := &memTx{m: m, incident: cloneIncident(inc)}
	if err := fn(tx); err != nil {
		return err
	}
	for _, apply := range tx.staged {
		apply()
	}
	if tx.updated != nil {
		m.incidents[incidentID] = tx.updated
	}
	m.audit = append(m.audit, tx.audits...)
	return nil
}

func (m *Memory) FleetSnapshot(_ context.Context) (*FleetSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &FleetSnapshot{TakenAt: time.Now().UTC()}
	for _, o := range m.organizations {
		snap.Organizations = append(snap.Organizations, *o)
	}
	for _, d := range m.divisions {
		snap.Divisions = append(snap.Divisions, *cloneDivision(d))
	}
	for _, s := range m.staff {
		snap.Staff = append(snap.Staff, *cloneStaff(s))
	}
	sort.Slice(snap.Organizations, func(i, j int) bool { return snap.Organizations[i].ID < snap.Organizations[j].ID })
	sort.Slice(snap.Divisions, func(i, j int) bool { return snap.Divisions[i].ID < snap.Divisions[j].ID })
	sort.Slice(snap.Staff, func(i, j int) bool { return snap.Staff[i].ID < snap.Staff[j].ID })
	return snap, nil
}

func (m *Memory) CreateOrganization(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.organizations[org.ID]; ok {
		return apperr.New(apperr.KindConflict, "organization %s already exists", org.ID)
	}
	c := *org
	m.organizations[org.ID] = &c
	return nil
}

func (m *Memory) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.organizations[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "organization %s not found", id)
	}
	c := *o
	return &c, nil
}

func (m *Memory) ListOrganizations(_ context.Context) ([]models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Organization
	for _, o := range m.organizations {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateOrganization(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.organizations[org.ID]; !ok {
		return apperr.New(apperr.KindNotFound, "organization %s not found", org.ID)
	}
	c := *org
	m.organizations[org.ID] = &c
	return nil
}

func (m *Memory) DeleteOrganization(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.organizations[id]; !ok {
		return apperr.New(apperr.KindNotFound, "organization %s not found", id)
	}
	delete(m.organizations, id)
	return nil
}

func (m *Memory) CreateDivision(_ context.Context, d *models.Division) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.divisions[d.ID]; ok {
		return apperr.New(apperr.KindConflict, "division %s already exists", d.ID)
	}
	m.divisions[d.ID] = cloneDivision(d)
	return nil
}

func (m *Memory) GetDivision(_ context.Context, id string) (*models.Division, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.divisions[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "division %s not found", id)
	}
	return cloneDivision(d), nil
}

func (m *Memory) ListDivisions(_ context.Context) ([]models.Division, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Division
	for _, d := range m.divisions {
		out = append(out, *cloneDivision(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateDivision(_ context.Context, d *models.Division) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.divisions[d.ID]; !ok {
		return apperr.New(apperr.KindNotFound, "division %s not found", d.ID)
	}
	m.divisions[d.ID] = cloneDivision(d)
	return nil
}

func (m *Memory) DeleteDivision(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.divisions[id]; !ok {
		return apperr.New(apperr.KindNotFound, "division %s not found", id)
	}
	delete(m.divisions, id)
	return nil
}

func (m *Memory) CreateStaff(_ context.Context, s *models.Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staff[s.ID]; ok {
		return apperr.New(apperr.KindConflict, "staff %s already exists", s.ID)
	}
	m.staff[s.ID] = cloneStaff(s)
	return nil
}

func (m *Memory) GetStaff(_ context.Context, id string) (*models.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "staff %s not found", id)
	}
	return cloneStaff(s), nil
}

func (m *Memory) ListStaff(_ context.Context) ([]models.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Staff
	for _, s := range m.staff {
		out = append(out, *cloneStaff(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateStaff(_ context.Context, s *models.Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staff[s.ID]; !ok {
		return apperr.New(apperr.KindNotFound, "staff %s not found", s.ID)
	}
	m.staff[s.ID] = cloneStaff(s)
	return nil
}

func (m *Memory) DeleteStaff(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staff[id]; !ok {
		return apperr.New(apperr.KindNotFound, "staff %s not found", id)
	}
	delete(m.staff, id)
	return nil
}

func (m *Memory) ListFacilities(_ context.Context) ([]models.Facility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Facility
	for _, f := range m.facilities {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateFacility(_ context.Context, f *models.Facility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.facilities[f.ID]; ok {
		return apperr.New(apperr.KindConflict, "facility %s already exists", f.ID)
	}
	c := *f
	m.facilities[f.ID] = &c
	return nil
}

func (m *Memory) ListRecentIncidents(ctx context.Context, since time.Time) ([]models.Incident, error) {
	return m.ListIncidents(ctx, IncidentFilter{Since: since})
}

func (m *Memory) CountDeviceSubmissions(_ context.Context, deviceID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, at := range m.devices[deviceID] {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecordDeviceSubmission(_ context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[deviceID] = append(m.devices[deviceID], at)
	return nil
}

func (m *Memory) EnqueueDispatch(_ context.Context, job *models.DispatchJob) (*models.DispatchJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.dispatchByKey[job.IdempotencyKey]; ok {
		return cloneJob(m.dispatch[id]), false, nil
	}
	m.dispatch[job.ID] = cloneJob(job)
	m.dispatchByKey[job.IdempotencyKey] = job.ID
	return cloneJob(job), true, nil
}

func (m *Memory) GetDispatchByKey(_ context.Context, idempotencyKey string) (*models.DispatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.dispatchByKey[idempotencyKey]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "dispatch job with key %s not found", idempotencyKey)
	}
	return cloneJob(m.dispatch[id]), nil
}

func (m *Memory) GetDispatchByClientID(_ context.Context, clientTicketID string) (*models.DispatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.DispatchJob
	for _, j := range m.dispatch {
		if j.ClientTicketID != clientTicketID {
			continue
		}
		if best == nil || j.CreatedAt.After(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, apperr.New(apperr.KindNotFound, "dispatch job for ticket %s not found", clientTicketID)
	}
	return cloneJob(best), nil
}

func (m *Memory) ClaimDispatch(_ context.Context, laneOrder []string) (*models.DispatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	lanePos := map[string]int{}
	for i, l := range laneOrder {
		lanePos[l] = i
	}
	var best *models.DispatchJob
	for _, j := range m.dispatch {
		if j.State != models.DispatchQueued || j.NextAttemptAt.After(now) {
			continue
		}
		if best == nil {
			best = j
			continue
		}
		bi, ji := lanePos[best.Lane], lanePos[j.Lane]
		if ji < bi || (ji == bi && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.State = models.DispatchInFlight
	best.UpdatedAt = now.UTC()
	return cloneJob(best), nil
}

func (m *Memory) UpdateDispatch(_ context.Context, job *models.DispatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dispatch[job.ID]; !ok {
		return apperr.New(apperr.KindNotFound, "dispatch job %s not found", job.ID)
	}
	job.UpdatedAt = time.Now().UTC()
	m.dispatch[job.ID] = cloneJob(job)
	return nil
}

func (m *Memory) ResetTerminalDispatch(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, j := range m.dispatch {
		if j.State == models.DispatchFailedTerminal {
			j.State = models.DispatchQueued
			j.Attempts = 0
			j.NextAttemptAt = now
			j.LastError = ""
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListAudit(_ context.Context, incidentID string) ([]models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditEvent
	for _, ev := range m.audit {
		if ev.IncidentID == incidentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) ReconcileLoads(_ context.Context) ([]Discrepancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orgCounts := map[string]int{}
	divCounts := map[string]int{}
	for _, inc := range m.incidents {
		if !inc.Status.Active() {
			continue
		}
		if inc.AssignedOrgID != "" {
			orgCounts[inc.AssignedOrgID]++
		}
		if inc.AssignedDivisionID != "" {
			divCounts[inc.AssignedDivisionID]++
		}
	}
	var out []Discrepancy
	for id, o := range m.organizations {
		if actual := orgCounts[id]; actual != o.CurrentLoad {
			out = append(out, Discrepancy{EntityKind: "organization", EntityID: id, Recorded: o.CurrentLoad, Actual: actual})
			o.CurrentLoad, o.Status = adjustLoad(0, o.Capacity, actual, o.Status)
		}
	}
	for id, d := range m.divisions {
		if actual := divCounts[id]; actual != d.CurrentLoad {
			out = append(out, Discrepancy{EntityKind: "division", EntityID: id, Recorded: d.CurrentLoad, Actual: actual})
			d.CurrentLoad, d.Status = adjustLoad(0, d.Capacity, actual, d.Status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}
