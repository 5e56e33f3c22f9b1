package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/triage"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/workload"
)

var (
	adminP      = auth.Principal{Subject: "ops", Role: auth.RoleAdmin}
	responderA  = auth.Principal{Subject: "staff-a", Role: auth.RoleResponder}
	responderB  = auth.Principal{Subject: "staff-b", Role: auth.RoleResponder}
)

func setup(t *testing.T) (*store.Memory, *Coordinator) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	orgs := []models.Organization{
		{ID: "org-a", Name: "NDRF", Type: models.OrgGovernment, Category: models.OrgCatRescue,
			Latitude: 17.97, Longitude: 79.59, Capacity: 5, Status: models.StatusActive},
		{ID: "org-b", Name: "River Guard", Type: models.OrgNGO, Category: models.OrgCatRescue,
			Latitude: 17.95, Longitude: 79.58, Capacity: 5, Status: models.StatusActive},
	}
	for i := range orgs {
		require.NoError(t, mem.CreateOrganization(ctx, &orgs[i]))
	}
	divisions := []models.Division{
		{ID: "div-a", OrgID: "org-a", Type: models.DivRescue,
			Skills: []string{"swift-water-rescue", "boat-operations", "first-aid"}, Capacity: 3, Status: models.StatusActive},
		{ID: "div-b", OrgID: "org-b", Type: models.DivRescue,
			Skills: []string{"swift-water-rescue"}, Capacity: 3, Status: models.StatusActive},
	}
	for i := range divisions {
		require.NoError(t, mem.CreateDivision(ctx, &divisions[i]))
	}
	staff := []models.Staff{
		{ID: "staff-a", OrgID: "org-a", DivisionID: "div-a", Name: "A", Role: models.RoleSpecialist,
			Skills: []string{"swift-water-rescue"}, Availability: models.StaffAvailable, Status: models.StatusActive},
		{ID: "staff-b", OrgID: "org-b", DivisionID: "div-b", Name: "B", Role: models.RoleWorker,
			Skills: []string{"swift-water-rescue"}, Availability: models.StaffAvailable, Status: models.StatusActive},
	}
	for i := range staff {
		require.NoError(t, mem.CreateStaff(ctx, &staff[i]))
	}

	ledger := workload.New(mem, zerolog.Nop())
	triageSvc := triage.NewService(nil, 0, zerolog.Nop())
	coordinator := New(mem, ledger, triageSvc, Options{
		AssignmentWindow: 10 * time.Minute,
		RejectCooldown:   15 * time.Minute,
	}, zerolog.Nop())
	return mem, coordinator
}

func createFloodIncident(t *testing.T, c *Coordinator) *models.Incident {
	t.Helper()
	inc, err := c.Create(context.Background(), adminP, CreateRequest{
		Source:    "console",
		Text:      "Flood water entered homes, children trapped",
		Place:     "Warangal Urban",
		Latitude:  17.9689,
		Longitude: 79.5941,
		Headcount: 12,
	})
	require.NoError(t, err)
	return inc
}

func orgLoad(t *testing.T, mem *store.Memory, id string) int {
	t.Helper()
	org, err := mem.GetOrganization(context.Background(), id)
	require.NoError(t, err)
	return org.CurrentLoad
}

func staffAvailability(t *testing.T, mem *store.Memory, id string) models.StaffAvailability {
	t.Helper()
	st, err := mem.GetStaff(context.Background(), id)
	require.NoError(t, err)
	return st.Availability
}

// ---------------------------------------------------------------------------
// happy path
// ---------------------------------------------------------------------------

func TestLifecycle_HappyPath(t *testing.T) {
	mem, c := setup(t)
	ctx := context.Background()

	inc := createFloodIncident(t, c)
	assert.Equal(t, models.IncidentPending, inc.Status)
	require.NotNil(t, inc.Triage)
	assert.Equal(t, "Flood Rescue", inc.Triage.Category)
	assert.Equal(t, 5, inc.Priority)
	assert.Equal(t, models.DivRescue, inc.Triage.RequiredDivisionType)

	_, ranked, err := c.Rank(ctx, inc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "org-a", ranked[0].Org.ID)

	preLoad := orgLoad(t, mem, "org-a")

	inc, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	require.NoError(t, err)
	assert.Equal(t, models.IncidentPendingAssignment, inc.Status)
	require.NotNil(t, inc.AssignmentDeadline)
	assert.Equal(t, preLoad+1, orgLoad(t, mem, "org-a"))
	// Staff is committed but not yet Busy.
	assert.Equal(t, models.StaffAvailable, staffAvailability(t, mem, "staff-a"))

	inc, err = c.Accept(ctx, responderA, inc.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentInProgress, inc.Status)
	assert.Nil(t, inc.AssignmentDeadline)
	assert.Equal(t, models.StaffBusy, staffAvailability(t, mem, "staff-a"))

	inc, err = c.Complete(ctx, responderA, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentDone, inc.Status)
	require.NotNil(t, inc.ActualCompletion)
	assert.Equal(t, preLoad, orgLoad(t, mem, "org-a"))
	assert.Equal(t, models.StaffAvailable, staffAvailability(t, mem, "staff-a"))

	events, err := mem.ListAudit(ctx, inc.ID)
	require.NoError(t, err)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{models.AuditCreate, models.AuditStartWindow, models.AuditAccept, models.AuditComplete}, kinds)
}

func TestAccept_IsIdempotent(t *testing.T) {
	mem, c := setup(t)
	ctx := context.Background()

	inc := createFloodIncident(t, c)
	_, ranked, err := c.Rank(ctx, inc.ID)
	require.NoError(t, err)
	_, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	require.NoError(t, err)

	first, err := c.Accept(ctx, responderA, inc.ID, nil)
	require.NoError(t, err)
	second, err := c.Accept(ctx, responderA, inc.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)

	events, err := mem.ListAudit(ctx, inc.ID)
	require.NoError(t, err)
	accepts := 0
	for _, ev := range events {
		if ev.Kind == models.AuditAccept {
			accepts++
		}
	}
	assert.Equal(t, 1, accepts, "re-accept must not append another accept event")
}

// ---------------------------------------------------------------------------
// reject and re-assignment
// ---------------------------------------------------------------------------

func TestReject_ReassignsExcludingRejectingOrg(t *testing.T) {
	mem, c := setup(t)
	ctx := context.Background()

	inc := createFloodIncident(t, c)
	_, ranked, err := c.Rank(ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, "org-a", ranked[0].Org.ID)
	_, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	require.NoError(t, err)

	inc, err = c.Reject(ctx, responderA, inc.ID, "Organization unavailable")
	require.NoError(t, err)

	// Org A's load is back down, org B holds the fresh window.
	assert.Equal(t, 0, orgLoad(t, mem, "org-a"))
	assert.Equal(t, 1, orgLoad(t, mem, "org-b"))
	assert.Equal(t, models.IncidentPendingAssignment, inc.Status)
	assert.Equal(t, "org-b", inc.AssignedOrgID)
	require.NotNil(t, inc.AssignmentDeadline)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *inc.AssignmentDeadline, 5*time.Second)

	events, err := mem.ListAudit(ctx, inc.ID)
	require.NoError(t, err)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{models.AuditCreate, models.AuditStartWindow, models.AuditReject, models.AuditStartWindow}, kinds)

	rejects := events[2]
	assert.Equal(t, "org-a", rejects.OrgID)
	assert.Equal(t, "Organization unavailable", rejects.Detail)
}

func TestReject_CooldownExpiresAfterWindow(t *testing.T) {
	_, c := setup(t)
	c.opts.RejectCooldown = time.Millisecond

	ctx := context.Background()
	inc := createFloodIncident(t, c)
	_, ranked, err := c.Rank(ctx, inc.ID)
	require.NoError(t, err)
	_, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	require.NoError(t, err)
	_, err = c.Reject(ctx, responderA, inc.ID, "busy")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	excluded, err := c.cooldownExclusions(ctx, inc.ID)
	require.NoError(t, err)
	assert.Empty(t, excluded)
}

// ---------------------------------------------------------------------------
// authorisation and state guards
// ---------------------------------------------------------------------------

func TestTransitions_RoleAndOwnershipGates(t *testing.T) {
	_, c := setup(t)
	ctx := context.Background()

	inc := createFloodIncident(t, c)
	_, ranked, err := c.Rank(ctx, inc.ID)
	require.NoError(t, err)

	// Only admin can start a window.
	_, err = c.StartWindow(ctx, responderA, inc.ID, ranked[0].Assignment())
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	require.NoError(t, err)

	// Only the assigned responder can accept.
	_, err = c.Accept(ctx, responderB, inc.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	// Admin cannot accept on a responder's behalf.
	_, err = c.Accept(ctx, adminP, inc.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	// Cancel is admin-only.
	_, err = c.Cancel(ctx, responderA, inc.ID, "nope")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestTransitions_InvalidStates(t *testing.T) {
	_, c := setup(t)
	ctx := context.Background()

	inc := createFloodIncident(t, c)
	_, ranked, err := c.Rank(ctx, inc.ID)
	require.NoError(t, err)
	_, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	require.NoError(t, err)

	// Complete before accept is an FSM violation.
	_, err = c.Complete(ctx, responderA, inc.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	// A second window on an already-assigned incident is rejected.
	_, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
}

func TestStartWindow_BusyStaffIsStaleSnapshot(t *testing.T) {
	mem, c := setup(t)
	ctx := context.Background()

	st, err := mem.GetStaff(ctx, "staff-a")
	require.NoError(t, err)
	st.Availability = models.StaffBusy
	require.NoError(t, mem.UpdateStaff(ctx, st))

	inc := createFloodIncident(t, c)
	_, err = c.StartWindow(ctx, adminP, inc.ID, models.Assignment{
		OrgID: "org-a", DivisionID: "div-a", StaffID: "staff-a",
	})
	assert.True(t, apperr.Is(err, apperr.KindStaleSnapshot))
}

func TestCancel_ReleasesHeldCapacity(t *testing.T) {
	mem, c := setup(t)
	ctx := context.Background()

	inc := createFloodIncident(t, c)
	_, ranked, err := c.Rank(ctx, inc.ID)
	require.NoError(t, err)
	_, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	require.NoError(t, err)
	_, err = c.Accept(ctx, responderA, inc.ID, nil)
	require.NoError(t, err)

	inc, err = c.Cancel(ctx, adminP, inc.ID, "false alarm")
	require.NoError(t, err)
	assert.Equal(t, models.IncidentCancelled, inc.Status)
	assert.Equal(t, 0, orgLoad(t, mem, "org-a"))
	assert.Equal(t, models.StaffAvailable, staffAvailability(t, mem, "staff-a"))
}

// ---------------------------------------------------------------------------
// deadline sweep
// ---------------------------------------------------------------------------

func TestSweep_ExpiredWindowAutoRejectsAndReassigns(t *testing.T) {
	mem, c := setup(t)
	ctx := context.Background()

	inc := createFloodIncident(t, c)
	_, ranked, err := c.Rank(ctx, inc.ID)
	require.NoError(t, err)
	_, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	require.NoError(t, err)

	// Force the deadline into the past.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, mem.Mutate(ctx, inc.ID, func(tx store.Tx) error {
		locked := tx.Incident()
		locked.AssignmentDeadline = &past
		return tx.UpdateIncident(locked)
	}))

	swept, err := c.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	after, err := mem.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentPendingAssignment, after.Status)
	assert.Equal(t, "org-b", after.AssignedOrgID)

	events, err := mem.ListAudit(ctx, inc.ID)
	require.NoError(t, err)
	var timeoutReject *models.AuditEvent
	for i := range events {
		if events[i].Kind == models.AuditReject {
			timeoutReject = &events[i]
		}
	}
	require.NotNil(t, timeoutReject)
	assert.Equal(t, "timeout", timeoutReject.Detail)
}

func TestSweep_DoesNotRejectAcceptedIncident(t *testing.T) {
	_, c := setup(t)
	ctx := context.Background()

	inc := createFloodIncident(t, c)
	_, ranked, err := c.Rank(ctx, inc.ID)
	require.NoError(t, err)
	_, err = c.StartWindow(ctx, adminP, inc.ID, ranked[0].Assignment())
	require.NoError(t, err)
	_, err = c.Accept(ctx, responderA, inc.ID, nil)
	require.NoError(t, err)

	swept, err := c.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}
