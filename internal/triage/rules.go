package triage

import (
	"strings"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

// keywordBucket maps keyword hits to a category. Buckets are evaluated in
// declaration order; the first hit wins.
type keywordBucket struct {
	category string
	keywords []string
}

var buckets = []keywordBucket{
	{category: "Flood Rescue", keywords: []string{"flood", "water", "rising"}},
	{category: "Fire Response", keywords: []string{"fire", "smoke", "burn"}},
	{category: "Medical Emergency", keywords: []string{"medical", "unconscious", "bleeding"}},
	{category: "Rescue", keywords: []string{"trapped", "collapse"}},
	{category: "Relief", keywords: []string{"food", "shelter", "stranded"}},
}

const defaultCategory = "General Assistance"

var basePriority = map[string]int{
	"Flood Rescue":       3,
	"Fire Response":      4,
	"Medical Emergency":  4,
	"Rescue":             4,
	"Relief":             2,
	defaultCategory:      2,
}

var divisionForCategory = map[string]models.DivisionType{
	"Flood Rescue":      models.DivRescue,
	"Fire Response":     models.DivEmergencyResponse,
	"Medical Emergency": models.DivMedical,
	"Rescue":            models.DivRescue,
	"Relief":            models.DivLogistics,
	defaultCategory:     models.DivEmergencyResponse,
}

var skillSeeds = map[string][]string{
	"Flood Rescue":      {"swift-water-rescue", "boat-operations", "first-aid"},
	"Fire Response":     {"firefighting", "evacuation", "first-aid"},
	"Medical Emergency": {"emergency-medicine", "triage", "ambulance-operations"},
	"Rescue":            {"search-and-rescue", "structural-assessment", "first-aid"},
	"Relief":            {"supply-distribution", "shelter-management"},
	defaultCategory:     {"first-aid", "coordination"},
}

// urgencyPhrases each add +1 to priority, capped at +2 total.
var urgencyPhrases = []string{"urgent", "trapped", "children", "elderly"}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func headcountBump(n int) int {
	switch {
	case n >= 30:
		return 3
	case n >= 10:
		return 2
	case n >= 3:
		return 1
	default:
		return 0
	}
}

func phraseBump(text string) int {
	bump := 0
	for _, phrase := range urgencyPhrases {
		if strings.Contains(text, phrase) {
			bump++
		}
	}
	if bump > 2 {
		bump = 2
	}
	return bump
}

// classifyByRules is the deterministic fallback. It is total: every input
// yields a result.
func classifyByRules(req Request) models.TriageResult {
	text := strings.ToLower(req.Text + " " + req.Transcript)

	category := defaultCategory
	confidence := 0.4
	if hint := strings.TrimSpace(req.CategoryHint); hint != "" {
		if _, ok := basePriority[hint]; ok {
			category = hint
			confidence = 0.6
		}
	}
bucketScan:
	for _, b := range buckets {
		for _, kw := range b.keywords {
			if strings.Contains(text, kw) {
				category = b.category
				confidence = 0.75
				break bucketScan
			}
		}
	}

	priority := clamp(basePriority[category]+headcountBump(req.Headcount)+phraseBump(text), 1, 5)

	seeds := skillSeeds[category]
	skills := make([]string, 0, len(seeds))
	seen := map[string]bool{}
	for _, s := range seeds {
		if !seen[s] {
			seen[s] = true
			skills = append(skills, s)
		}
	}

	return models.TriageResult{
		Category:             category,
		Priority:             priority,
		RequiredDivisionType: divisionForCategory[category],
		RequiredSkills:       skills,
		Source:               models.TriageSourceRules,
		Confidence:           confidence,
	}
}
