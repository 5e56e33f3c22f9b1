package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/config"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/dispatch"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/ingest"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/lifecycle"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/triage"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/workload"
)

type testEnv struct {
	server *Server
	mem    *store.Memory
	pool   *dispatch.Pool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		HTTPAddr:    ":0",
		StoreKind:   "memory",
		JWTSecret:   "test-secret",
		JWTLifetime: time.Hour,
		Users:       "ops:admin:adminpw,staff-a:responder:staffpw,app:webhook:apppw",

		AssignmentWindowSeconds: 600,
		RejectCooldown:          15 * time.Minute,
		DuplicateRadiusM:        500,
		DuplicateWindowSeconds:  1800,
		DuplicateThreshold:      3,
		FraudThreshold:          0.8,
		DispatchMaxAttempts:     6,
		DispatchInitialBackoff:  0.001,
	}

	mem := store.NewMemory()
	seedTestFleet(t, mem)

	logger := zerolog.Nop()
	ledger := workload.New(mem, logger)
	triageSvc := triage.NewService(nil, 0, logger)
	coordinator := lifecycle.New(mem, ledger, triageSvc, lifecycle.Options{
		AssignmentWindow: cfg.AssignmentWindow(),
		RejectCooldown:   cfg.RejectCooldown,
	}, logger)
	pipeline := ingest.New(mem, triageSvc, nil, nil, ingest.Options{
		DuplicateRadiusM:   cfg.DuplicateRadiusM,
		DuplicateWindow:    cfg.DuplicateWindow(),
		DuplicateThreshold: cfg.DuplicateThreshold,
		FraudThreshold:     cfg.FraudThreshold,
	}, logger)
	pool := dispatch.NewPool(mem, dispatch.NewCoordinatorSink(coordinator, mem), dispatch.Options{
		MaxAttempts: cfg.DispatchMaxAttempts,
		BaseBackoff: time.Millisecond,
	}, logger)
	issuer, err := auth.NewIssuer(cfg)
	require.NoError(t, err)

	server := NewServer(Deps{
		Store:       mem,
		Coordinator: coordinator,
		Ledger:      ledger,
		Pipeline:    pipeline,
		Pool:        pool,
		Issuer:      issuer,
	}, cfg, logger)

	return &testEnv{server: server, mem: mem, pool: pool}
}

func seedTestFleet(t *testing.T, mem *store.Memory) {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, mem.CreateOrganization(ctx, &models.Organization{
		ID: "org-a", Name: "NDRF", Type: models.OrgGovernment, Category: models.OrgCatRescue,
		Latitude: 17.97, Longitude: 79.59, Capacity: 5, Status: models.StatusActive,
	}))
	require.NoError(t, mem.CreateDivision(ctx, &models.Division{
		ID: "div-a", OrgID: "org-a", Type: models.DivRescue,
		Skills: []string{"swift-water-rescue", "boat-operations", "first-aid"}, Capacity: 3, Status: models.StatusActive,
	}))
	require.NoError(t, mem.CreateStaff(ctx, &models.Staff{
		ID: "staff-a", OrgID: "org-a", DivisionID: "div-a", Name: "A", Role: models.RoleSpecialist,
		Skills: []string{"swift-water-rescue"}, Availability: models.StaffAvailable, Status: models.StatusActive,
	}))
	require.NoError(t, mem.CreateFacility(ctx, &models.Facility{
		ID: "fac-shelter", Name: "Shelter", Type: models.FacilityShelter, Latitude: 17.96, Longitude: 79.60, Capacity: 100,
	}))
	require.NoError(t, mem.CreateFacility(ctx, &models.Facility{
		ID: "fac-hospital", Name: "Hospital", Type: models.FacilityHospital, Latitude: 17.98, Longitude: 79.53, BedsAvailable: 10,
	}))
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, username, role, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username, "role": role, "password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func TestLogin_RejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "ops", "role": "admin", "password": "wrong",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/sos", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/sos", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpointsArePublic(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", "", nil).Code)
}

// ---------------------------------------------------------------------------
// incident surface
// ---------------------------------------------------------------------------

func TestIncidentFlow_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "ops", "admin", "adminpw")
	responder := env.login(t, "staff-a", "responder", "staffpw")

	// Create.
	rec := env.do(t, http.MethodPost, "/sos", admin, map[string]any{
		"text":      "Flood water entered homes, children trapped",
		"place":     "Warangal Urban",
		"latitude":  17.9689,
		"longitude": 79.5941,
		"people":    12,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inc := decodeBody[models.Incident](t, rec)
	assert.Equal(t, models.IncidentPending, inc.Status)
	assert.Equal(t, "Flood Rescue", inc.Category)
	assert.Equal(t, 5, inc.Priority)

	// Smart assignment returns the breakdown.
	rec = env.do(t, http.MethodGet, "/emergency/smart-assignment?sos_id="+inc.ID, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	smart := decodeBody[SmartAssignmentBody](t, rec)
	require.NotNil(t, smart.Best)
	assert.Equal(t, "org-a", smart.Best.Org.ID)

	// Assign.
	rec = env.do(t, http.MethodPost, "/emergency/assign-emergency", admin, map[string]any{
		"sos_id": inc.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assigned := decodeBody[models.Incident](t, rec)
	assert.Equal(t, models.IncidentPendingAssignment, assigned.Status)
	assert.NotNil(t, assigned.AssignmentDeadline)

	// Responder gates: a responder cannot assign.
	rec = env.do(t, http.MethodPost, "/emergency/assign-emergency", responder, map[string]any{
		"sos_id": inc.ID,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Accept and complete as the assigned responder.
	rec = env.do(t, http.MethodPost, "/emergency/accept-assignment", responder, map[string]any{
		"sos_id": inc.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/emergency/complete-emergency", responder, map[string]any{
		"sos_id": inc.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[models.Incident](t, rec)
	assert.Equal(t, models.IncidentDone, done.Status)
	assert.NotNil(t, done.ActualCompletion)

	// Audit trail is visible.
	rec = env.do(t, http.MethodGet, "/sos/"+inc.ID+"/audit", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decodeBody[AuditBody](t, rec)
	assert.Len(t, audit.Events, 4)
}

// SmartAssignmentBody mirrors the handler response for decoding.
type SmartAssignmentBody struct {
	Best *struct {
		Org models.Organization `json:"org"`
	} `json:"best"`
}

type AuditBody struct {
	Events []models.AuditEvent `json:"events"`
}

func TestSmartAssignment_OperatorRolesOnly(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "ops", "admin", "adminpw")
	responder := env.login(t, "staff-a", "responder", "staffpw")
	app := env.login(t, "app", "webhook", "apppw")

	rec := env.do(t, http.MethodPost, "/sos", admin, map[string]any{
		"text": "flood water rising", "latitude": 17.96, "longitude": 79.59,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	inc := decodeBody[models.Incident](t, rec)

	// The ranking exposes staff identities; webhook callers are shut out.
	rec = env.do(t, http.MethodGet, "/emergency/smart-assignment?sos_id="+inc.ID, app, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/emergency/smart-assignment?sos_id="+inc.ID, responder, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestIncident_DeleteIsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "ops", "admin", "adminpw")
	responder := env.login(t, "staff-a", "responder", "staffpw")

	rec := env.do(t, http.MethodPost, "/sos", admin, map[string]any{
		"text": "fire in the market", "latitude": 17.9, "longitude": 79.5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	inc := decodeBody[models.Incident](t, rec)

	rec = env.do(t, http.MethodDelete, "/sos/"+inc.ID, responder, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/sos/"+inc.ID, admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/sos/"+inc.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNearestFacilities(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "ops", "admin", "adminpw")

	rec := env.do(t, http.MethodPost, "/sos", admin, map[string]any{
		"text": "flood rising", "latitude": 17.96, "longitude": 79.59,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	inc := decodeBody[models.Incident](t, rec)

	rec = env.do(t, http.MethodGet, "/sos/"+inc.ID+"/nearest-facilities", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Shelter  *models.Facility `json:"shelter"`
		Hospital *models.Facility `json:"hospital"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Shelter)
	require.NotNil(t, resp.Hospital)
	assert.Equal(t, "fac-shelter", resp.Shelter.ID)
	assert.Equal(t, "fac-hospital", resp.Hospital.ID)
}

// ---------------------------------------------------------------------------
// fleet surface
// ---------------------------------------------------------------------------

func TestFleet_AdminOnlySurface(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "ops", "admin", "adminpw")
	responder := env.login(t, "staff-a", "responder", "staffpw")

	org := map[string]any{
		"id": "org-new", "name": "New Org", "type": "NGO", "category": "Relief",
		"latitude": 17.98, "longitude": 79.6, "capacity": 4, "currentLoad": 0, "status": "Active",
	}
	rec := env.do(t, http.MethodPost, "/organizations", responder, org)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/organizations", admin, org)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Reads are admin-only too: staff records carry contact details and
	// live locations.
	for _, path := range []string{"/organizations", "/divisions", "/staff", "/staff/staff-a"} {
		rec = env.do(t, http.MethodGet, path, responder, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}

	rec = env.do(t, http.MethodGet, "/organizations", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orgs := decodeBody[[]models.Organization](t, rec)
	assert.Len(t, orgs, 2)
}

// ---------------------------------------------------------------------------
// mobile surface
// ---------------------------------------------------------------------------

func mobileMetadata(key string) map[string]any {
	return map[string]any{
		"schema_version":   "1.0.0",
		"ticket_id_client": key,
		"ticket_type":      "SOS",
		"text":             "Flood water entered homes, children trapped",
		"latitude":         17.9689,
		"longitude":        79.5941,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"device_info":      map[string]any{"device_id": "device-1"},
		"metadata":         map[string]any{"idempotency_key": key},
	}
}

func (e *testEnv) postTicket(t *testing.T, token string, metadata map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	raw, err := json.Marshal(metadata)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("metadata", string(raw)))
	part, err := mw.CreateFormFile("images[]", "photo.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/mobile/tickets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMobileTickets_IdempotentIntake(t *testing.T) {
	env := newTestEnv(t)
	app := env.login(t, "app", "webhook", "apppw")

	rec := env.postTicket(t, app, mobileMetadata("APP-DEMO-001"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	first := decodeBody[TicketBody](t, rec)
	assert.Equal(t, "p0", first.Lane)

	rec = env.postTicket(t, app, mobileMetadata("APP-DEMO-001"))
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[TicketBody](t, rec)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TicketID, second.TicketID)

	// Drain the queue: exactly one downstream incident.
	ctx := t.Context()
	processed, err := env.pool.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	processed, err = env.pool.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	inc, err := env.mem.GetIncidentByExternalID(ctx, "APP-DEMO-001")
	require.NoError(t, err)
	assert.Equal(t, models.IncidentPending, inc.Status)

	// Status endpoint reflects delivery.
	recStatus := env.do(t, http.MethodGet, "/mobile/incidents/APP-DEMO-001", app, nil)
	require.Equal(t, http.StatusOK, recStatus.Code)
	status := decodeBody[StatusBody](t, recStatus)
	assert.Equal(t, models.DispatchDelivered, status.DispatchState)
	assert.Equal(t, inc.ID, status.IncidentID)
}

type TicketBody struct {
	TicketID  string `json:"ticket_id"`
	Lane      string `json:"lane"`
	Duplicate bool   `json:"duplicate"`
}

type StatusBody struct {
	DispatchState models.DispatchState `json:"dispatch_state"`
	IncidentID    string               `json:"incident_id"`
}

func TestMobileTickets_RejectsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postTicket(t, "bogus", mobileMetadata("X-1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMobileRetryPending_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	app := env.login(t, "app", "webhook", "apppw")
	admin := env.login(t, "ops", "admin", "adminpw")

	rec := env.do(t, http.MethodPost, "/mobile/dispatch/retry-pending", app, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/mobile/dispatch/retry-pending", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

// ---------------------------------------------------------------------------
// admin utilities
// ---------------------------------------------------------------------------

func TestAdminReconcile(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "ops", "admin", "adminpw")

	rec := env.do(t, http.MethodPost, "/admin/reconcile", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
}

func TestChatFollowUp_AppendsNote(t *testing.T) {
	env := newTestEnv(t)
	app := env.login(t, "app", "webhook", "apppw")

	rec := env.postTicket(t, app, mobileMetadata("CHAT-1"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	_, err := env.pool.ProcessOne(t.Context())
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/mobile/chat/CHAT-1/messages", app, map[string]any{
		"text": "water is now chest high",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	inc, err := env.mem.GetIncidentByExternalID(t.Context(), "CHAT-1")
	require.NoError(t, err)
	assert.Contains(t, inc.Notes, "chest high")
}
