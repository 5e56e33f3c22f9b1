package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

// Classifier produces a structured classification for an incident, or an
// error when the external model is unavailable or returns an unusable
// response. The caller treats any error as a signal to fall back to rules.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*models.TriageResult, error)
}

// GeminiClassifier calls the Gemini API for the primary triage path.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

// NewGeminiClassifier builds a classifier for the given API key and model.
// Returns an error when the key is absent so the service can wire the rules
// path only.
func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("missing Gemini API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &GeminiClassifier{client: client, model: model}, nil
}

// classifierResponse is the expected JSON structure from the model call.
type classifierResponse struct {
	Category             string   `json:"category"`
	Priority             int      `json:"priority"`
	RequiredDivisionType string   `json:"required_division_type"`
	RequiredSkills       []string `json:"required_skills"`
	Confidence           float64  `json:"confidence"`
}

func (g *GeminiClassifier) Classify(ctx context.Context, req Request) (*models.TriageResult, error) {
	prompt := buildPrompt(req)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("classifier call: %w", err)
	}

	text := resp.Text()
	jsonStr := extractJSON(text)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in classifier response")
	}

	var parsed classifierResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal classifier response: %w", err)
	}
	return validateResponse(parsed)
}

// validateResponse enforces the classification schema; a violation sends the
// caller to the rules path.
func validateResponse(parsed classifierResponse) (*models.TriageResult, error) {
	if strings.TrimSpace(parsed.Category) == "" {
		return nil, fmt.Errorf("classifier response missing category")
	}
	if parsed.Priority < 1 || parsed.Priority > 5 {
		return nil, fmt.Errorf("classifier priority %d out of range", parsed.Priority)
	}
	div := models.DivisionType(parsed.RequiredDivisionType)
	switch div {
	case models.DivMedical, models.DivRescue, models.DivLogistics, models.DivCommunication, models.DivEmergencyResponse:
	default:
		return nil, fmt.Errorf("classifier division type %q unknown", parsed.RequiredDivisionType)
	}
	confidence := parsed.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.9
	}
	skills := make([]string, 0, len(parsed.RequiredSkills))
	seen := map[string]bool{}
	for _, s := range parsed.RequiredSkills {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			skills = append(skills, s)
		}
	}
	return &models.TriageResult{
		Category:             parsed.Category,
		Priority:             parsed.Priority,
		RequiredDivisionType: div,
		RequiredSkills:       skills,
		Source:               models.TriageSourceLLM,
		Confidence:           confidence,
	}, nil
}

// extractJSON finds the first JSON object in text, handling optional markdown
// code fences.
func extractJSON(text string) string {
	if start := strings.Index(text, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(text[start:], "```"); end != -1 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	if start := strings.Index(text, "```"); start != -1 {
		start += len("```")
		if end := strings.Index(text[start:], "```"); end != -1 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		return text[start : end+1]
	}
	return ""
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are the triage classifier for an emergency response coordination service.\n")
	b.WriteString("Classify the incident below and respond with ONLY a JSON object of this shape:\n")
	b.WriteString(`{"category": string, "priority": integer 1-5, "required_division_type": one of ["Medical","Rescue","Logistics","Communication","Emergency Response"], "required_skills": [string], "confidence": number 0-1}` + "\n\n")
	fmt.Fprintf(&b, "Incident report: %s\n", req.Text)
	if req.Transcript != "" {
		fmt.Fprintf(&b, "Voice transcript: %s\n", req.Transcript)
	}
	if req.Place != "" {
		fmt.Fprintf(&b, "Location: %s (%.4f, %.4f)\n", req.Place, req.Latitude, req.Longitude)
	}
	fmt.Fprintf(&b, "People affected: %d\n", req.Headcount)
	if req.CategoryHint != "" {
		fmt.Fprintf(&b, "Reporter-suggested category: %s\n", req.CategoryHint)
	}
	b.WriteString("\nPriority 5 is most severe. Do not speculate beyond what the report supports.")
	return b.String()
}
