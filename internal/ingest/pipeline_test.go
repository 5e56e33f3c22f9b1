package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/triage"
)

type fakeWeather struct {
	calls int
	fail  bool
}

func (f *fakeWeather) Current(_ context.Context, _, _ float64) (*WeatherConditions, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("weather down")
	}
	return &WeatherConditions{Precipitation: 12.5, WindSpeedKmh: 40}, nil
}

type fakeSTT struct {
	text string
	fail bool
}

func (f *fakeSTT) Transcribe(_ context.Context, _ string) (string, error) {
	if f.fail {
		return "", errors.New("stt down")
	}
	return f.text, nil
}

func newPipeline(t *testing.T, weather WeatherProvider, stt STTProvider) (*Pipeline, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	triageSvc := triage.NewService(nil, 0, zerolog.Nop())
	p := New(mem, triageSvc, weather, stt, Options{}, zerolog.Nop())
	return p, mem
}

func floodMetadata(key string) *Metadata {
	return &Metadata{
		SchemaVersion:  MetadataSchemaVersion,
		TicketIDClient: "APP-" + key,
		TicketType:     "SOS",
		Text:           "Flood water rising fast, children trapped on roof",
		Latitude:       17.9689,
		Longitude:      79.5941,
		Timestamp:      time.Date(2026, 7, 14, 11, 30, 0, 0, time.UTC),
		DeviceInfo:     DeviceInfo{DeviceID: "device-1"},
		Meta:           IntakeMeta{IdempotencyKey: key},
	}
}

// ---------------------------------------------------------------------------
// idempotency
// ---------------------------------------------------------------------------

func TestProcess_IdempotentOnKey(t *testing.T) {
	p, _ := newPipeline(t, &fakeWeather{}, nil)
	ctx := context.Background()

	first, err := p.Process(ctx, floodMetadata("APP-DEMO-001"))
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := p.Process(ctx, floodMetadata("APP-DEMO-001"))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Job.ID, second.Job.ID)
}

// ---------------------------------------------------------------------------
// stages
// ---------------------------------------------------------------------------

func TestProcess_TranscriptSubstitutesText(t *testing.T) {
	p, _ := newPipeline(t, nil, nil)
	md := floodMetadata("k1")
	md.Text = ""
	md.VoiceTranscript = &VoiceTranscript{RawText: "fire and smoke in the market"}

	result, err := p.Process(context.Background(), md)
	require.NoError(t, err)
	assert.Equal(t, "fire and smoke in the market", result.Payload.Text)
	assert.Equal(t, "Fire Response", result.Payload.Triage.Category)
}

func TestProcess_STTFailureFlagsAndContinues(t *testing.T) {
	p, _ := newPipeline(t, nil, &fakeSTT{fail: true})
	md := floodMetadata("k2")
	md.Text = ""
	md.VoiceTranscript = nil
	md.AudioFileRef = "audio/abc.m4a"

	result, err := p.Process(context.Background(), md)
	require.NoError(t, err)
	assert.True(t, result.Payload.Annotations.STTFailed)
	assert.Equal(t, models.DispatchQueued, result.Job.State)
}

func TestProcess_WeatherCachedByRoundedCoordinates(t *testing.T) {
	weather := &fakeWeather{}
	p, _ := newPipeline(t, weather, nil)
	ctx := context.Background()

	_, err := p.Process(ctx, floodMetadata("k3"))
	require.NoError(t, err)
	md := floodMetadata("k4")
	// ~100m away: same rounded cache key.
	md.Latitude += 0.001
	_, err = p.Process(ctx, md)
	require.NoError(t, err)

	assert.Equal(t, 1, weather.calls)
}

func TestProcess_WeatherFailureMarksUnverified(t *testing.T) {
	p, _ := newPipeline(t, &fakeWeather{fail: true}, nil)

	result, err := p.Process(context.Background(), floodMetadata("k5"))
	require.NoError(t, err)
	assert.True(t, result.Payload.Annotations.WeatherUnverified)
	assert.Equal(t, models.DispatchQueued, result.Job.State)
}

func TestProcess_DuplicateDensityMarksAndDowngrades(t *testing.T) {
	p, mem := newPipeline(t, nil, nil)
	ctx := context.Background()

	// Three recent incidents within a few metres of the report.
	now := time.Now().UTC()
	for _, id := range []string{"inc-1", "inc-2", "inc-3"} {
		require.NoError(t, mem.CreateIncident(ctx, &models.Incident{
			ID: id, Status: models.IncidentPending, Priority: 3,
			Latitude: 17.9689, Longitude: 79.5941,
			CreatedAt: now.Add(-5 * time.Minute), UpdatedAt: now,
		}, models.AuditEvent{ID: id + "-a", IncidentID: id, Kind: models.AuditCreate, CreatedAt: now}))
	}

	md := floodMetadata("k6")
	md.Text = "food needed for stranded families" // Relief: priority stays low
	result, err := p.Process(ctx, md)
	require.NoError(t, err)

	assert.True(t, result.Payload.Annotations.LikelyDuplicate)
	assert.NotEmpty(t, result.Payload.Annotations.DuplicateClusterID)
	assert.Equal(t, LaneP3, result.Payload.Lane)
}

func TestProcess_FraudScoreFlagsReview(t *testing.T) {
	p, mem := newPipeline(t, nil, nil)
	ctx := context.Background()

	// Burst of prior submissions from the same device.
	for i := 0; i < 6; i++ {
		require.NoError(t, mem.RecordDeviceSubmission(ctx, "device-1", time.Now().Add(-time.Minute)))
	}

	md := floodMetadata("k7")
	md.Text = "help" // short text
	md.Timestamp = time.Date(2026, 7, 14, 2, 0, 0, 0, time.UTC)
	md.DeviceInfo.FirstSeenUnix = md.Timestamp.Add(-10 * time.Minute).Unix()
	md.Images = []MediaRef{{Ref: "img1", PerceptualHash: "abcd"}}

	// Seed the hash so the second sighting collides.
	p.phashSeen.Set("abcd", true)

	result, err := p.Process(ctx, md)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Payload.Annotations.FraudScore, 0.8)
	assert.True(t, result.Payload.Annotations.RequiresReview)
	// Flagged submissions are still queued, never dropped.
	assert.Equal(t, models.DispatchQueued, result.Job.State)
}

// ---------------------------------------------------------------------------
// lanes
// ---------------------------------------------------------------------------

func TestPriorityLane(t *testing.T) {
	cases := []struct {
		priority  int
		review    bool
		duplicate bool
		want      string
	}{
		{5, false, false, LaneP0},
		{5, true, false, LaneP3},
		{4, false, false, LaneP1},
		{3, false, false, LaneP2},
		{2, false, false, LaneP3},
		{4, false, true, LaneP2},
		{3, false, true, LaneP3},
		{5, false, true, LaneP0},
		{2, false, true, LaneP3},
	}
	for _, tc := range cases {
		got := priorityLane(tc.priority, tc.review, tc.duplicate)
		assert.Equal(t, tc.want, got, "priority=%d review=%v duplicate=%v", tc.priority, tc.review, tc.duplicate)
	}
}

// ---------------------------------------------------------------------------
// validation
// ---------------------------------------------------------------------------

func TestProcess_RejectsInvalidMetadata(t *testing.T) {
	p, _ := newPipeline(t, nil, nil)

	md := floodMetadata("k8")
	md.SchemaVersion = "0.9"
	_, err := p.Process(context.Background(), md)
	assert.Error(t, err)

	md = floodMetadata("k9")
	md.TicketType = "Chat"
	_, err = p.Process(context.Background(), md)
	assert.Error(t, err)

	md = floodMetadata("k10")
	md.Latitude = 123
	_, err = p.Process(context.Background(), md)
	assert.Error(t, err)
}

func TestProcess_MissingKeyGetsGenerated(t *testing.T) {
	p, _ := newPipeline(t, nil, nil)

	md := floodMetadata("k11")
	md.Meta.IdempotencyKey = ""
	result, err := p.Process(context.Background(), md)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.NotEmpty(t, result.Job.IdempotencyKey)
}

func TestTTLCache_EvictsAndExpires(t *testing.T) {
	cache := newTTLCache[int](2, 20*time.Millisecond)
	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3) // evicts the LRU entry
	assert.Equal(t, 2, cache.Size())

	time.Sleep(30 * time.Millisecond)
	_, ok := cache.Get("c")
	assert.False(t, ok)
}
