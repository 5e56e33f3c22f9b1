package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

type stubClassifier struct {
	result *models.TriageResult
	err    error
	calls  int
}

func (s *stubClassifier) Classify(_ context.Context, _ Request) (*models.TriageResult, error) {
	s.calls++
	return s.result, s.err
}

// ---------------------------------------------------------------------------
// rules fallback
// ---------------------------------------------------------------------------

func TestRules_CollapsedBuildingIsRescuePriorityFive(t *testing.T) {
	// No classifier configured: triage must be total and deterministic.
	svc := NewService(nil, 0, zerolog.Nop())

	result := svc.Triage(context.Background(), Request{
		Text: "elderly trapped in collapsed building, urgent",
	})

	assert.Equal(t, models.TriageSourceRules, result.Source)
	assert.Equal(t, "Rescue", result.Category)
	// base(Rescue)=4, headcount bump 0, phrase bump capped at +2, clamped to 5.
	assert.Equal(t, 5, result.Priority)
	assert.Equal(t, models.DivRescue, result.RequiredDivisionType)
	assert.NotEmpty(t, result.RequiredSkills)
}

func TestRules_FloodKeywordsWinByBucketOrder(t *testing.T) {
	svc := NewService(nil, 0, zerolog.Nop())

	// "water" (flood bucket) appears alongside "trapped" (rescue bucket);
	// the flood bucket is declared first and must win.
	result := svc.Triage(context.Background(), Request{
		Text:      "Flood water entered homes, children trapped",
		Headcount: 12,
	})

	assert.Equal(t, "Flood Rescue", result.Category)
	assert.Equal(t, models.DivRescue, result.RequiredDivisionType)
	// base 3 + headcount bump 2 (10<=n<30) + phrase bump 2 => clamped to 5.
	assert.Equal(t, 5, result.Priority)
}

func TestRules_PriorityClamped(t *testing.T) {
	svc := NewService(nil, 0, zerolog.Nop())

	high := svc.Triage(context.Background(), Request{
		Text:      "fire smoke everywhere, urgent, children trapped, elderly",
		Headcount: 100,
	})
	assert.Equal(t, 5, high.Priority)

	low := svc.Triage(context.Background(), Request{Text: "minor issue"})
	assert.GreaterOrEqual(t, low.Priority, 1)
	assert.LessOrEqual(t, low.Priority, 5)
}

func TestRules_HeadcountBumps(t *testing.T) {
	cases := []struct {
		headcount int
		bump      int
	}{
		{0, 0}, {2, 0}, {3, 1}, {9, 1}, {10, 2}, {29, 2}, {30, 3}, {500, 3},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.bump, headcountBump(tc.headcount), "headcount %d", tc.headcount)
	}
}

func TestRules_PhraseBumpCappedAtTwo(t *testing.T) {
	assert.Equal(t, 0, phraseBump("nothing to see"))
	assert.Equal(t, 1, phraseBump("urgent help"))
	assert.Equal(t, 2, phraseBump("urgent, children and elderly trapped"))
}

func TestRules_UnmatchedTextGetsDefaultCategory(t *testing.T) {
	svc := NewService(nil, 0, zerolog.Nop())

	result := svc.Triage(context.Background(), Request{Text: "please help us"})

	assert.Equal(t, defaultCategory, result.Category)
	assert.Equal(t, models.DivEmergencyResponse, result.RequiredDivisionType)
}

func TestRules_CategoryHintUsedWhenNoKeywordMatches(t *testing.T) {
	svc := NewService(nil, 0, zerolog.Nop())

	result := svc.Triage(context.Background(), Request{
		Text:         "situation at the camp",
		CategoryHint: "Relief",
	})

	assert.Equal(t, "Relief", result.Category)
}

// ---------------------------------------------------------------------------
// classifier path
// ---------------------------------------------------------------------------

func TestTriage_ClassifierResultWins(t *testing.T) {
	stub := &stubClassifier{result: &models.TriageResult{
		Category:             "Medical Emergency",
		Priority:             4,
		RequiredDivisionType: models.DivMedical,
		RequiredSkills:       []string{"triage"},
		Source:               models.TriageSourceLLM,
		Confidence:           0.93,
	}}
	svc := NewService(stub, 0, zerolog.Nop())

	result := svc.Triage(context.Background(), Request{Text: "person unconscious"})

	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, models.TriageSourceLLM, result.Source)
	assert.Equal(t, "Medical Emergency", result.Category)
}

func TestTriage_ClassifierErrorFallsBackToRules(t *testing.T) {
	stub := &stubClassifier{err: errors.New("boom")}
	svc := NewService(stub, 0, zerolog.Nop())

	result := svc.Triage(context.Background(), Request{Text: "person unconscious and bleeding"})

	assert.Equal(t, models.TriageSourceRules, result.Source)
	assert.Equal(t, "Medical Emergency", result.Category)
}

// ---------------------------------------------------------------------------
// response parsing
// ---------------------------------------------------------------------------

func TestExtractJSON_HandlesFencesAndRawObjects(t *testing.T) {
	fenced := "```json\n{\"category\":\"Rescue\"}\n```"
	assert.Equal(t, `{"category":"Rescue"}`, extractJSON(fenced))

	bare := "Here you go: {\"category\":\"Rescue\"} thanks"
	assert.Equal(t, `{"category":"Rescue"}`, extractJSON(bare))

	assert.Equal(t, "", extractJSON("no json here"))
}

func TestValidateResponse_RejectsSchemaViolations(t *testing.T) {
	_, err := validateResponse(classifierResponse{Category: "", Priority: 3, RequiredDivisionType: "Rescue"})
	require.Error(t, err)

	_, err = validateResponse(classifierResponse{Category: "Rescue", Priority: 9, RequiredDivisionType: "Rescue"})
	require.Error(t, err)

	_, err = validateResponse(classifierResponse{Category: "Rescue", Priority: 3, RequiredDivisionType: "Submarine"})
	require.Error(t, err)
}

func TestValidateResponse_DeduplicatesSkillsAndDefaultsConfidence(t *testing.T) {
	result, err := validateResponse(classifierResponse{
		Category:             "Rescue",
		Priority:             4,
		RequiredDivisionType: "Rescue",
		RequiredSkills:       []string{"first-aid", "first-aid", " ", "rope-access"},
		Confidence:           0,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first-aid", "rope-access"}, result.RequiredSkills)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Equal(t, models.TriageSourceLLM, result.Source)
}
