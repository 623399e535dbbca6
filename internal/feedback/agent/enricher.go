// Package agent implements the AI collaborators of the feedback pipeline on
// top of the Gemini JSON-mode client: per-item enrichment, whole-set
// clustering and per-cluster insight synthesis. Prompt building sanitizes
// untrusted feedback text; output parsing reports malformed replies as
// explicit errors so the orchestrator can apply its fallbacks.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/internal/feedback/pipeline"
)

// chatClient is the slice of the Gemini client the collaborators need.
type chatClient interface {
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

// Enricher classifies one feedback item per call.
type Enricher struct {
	client chatClient
}

// NewEnricher creates the enrichment collaborator.
func NewEnricher(client chatClient) *Enricher {
	return &Enricher{client: client}
}

// enrichmentPayload mirrors the JSON shape the model is instructed to return.
type enrichmentPayload struct {
	Sentiment struct {
		Label      string  `json:"label"`
		Score      float64 `json:"score"`
		Confidence float64 `json:"confidence"`
	} `json:"sentiment"`
	Urgency           string              `json:"urgency"`
	ExtractedFeatures []string            `json:"extractedFeatures"`
	LinkedAreas       []domain.LinkedArea `json:"linkedAreas"`
	Categories        []string            `json:"categories"`
}

// Enrich sends one item for classification. RawRequest and RawResponse are
// filled best-effort even on error so the caller can trace the exchange.
func (e *Enricher) Enrich(ctx context.Context, req pipeline.EnrichmentRequest) (pipeline.EnrichmentResult, error) {
	requestJSON, err := json.Marshal(req)
	if err != nil {
		return pipeline.EnrichmentResult{}, fmt.Errorf("encode enrichment request: %w", err)
	}

	result := pipeline.EnrichmentResult{RawRequest: string(requestJSON)}

	raw, err := e.client.GenerateJSON(ctx, enrichmentSystemPrompt(), buildEnrichmentPrompt(req.ID, req.Text))
	if err != nil {
		return result, err
	}
	result.RawResponse = raw

	var payload enrichmentPayload
	if err := parseInto(raw, &payload); err != nil {
		return result, fmt.Errorf("enrichment for %s: %w", req.ID, err)
	}

	result.Record = domain.EnrichmentRecord{
		FeedbackID: req.ID,
		Sentiment: domain.Sentiment{
			Label:      normalizeLabel(payload.Sentiment.Label),
			Score:      clamp(payload.Sentiment.Score, -1, 1),
			Confidence: clamp(payload.Sentiment.Confidence, 0, 1),
		},
		Urgency:           normalizeUrgency(payload.Urgency),
		ExtractedFeatures: payload.ExtractedFeatures,
		LinkedAreas:       payload.LinkedAreas,
		Categories:        payload.Categories,
	}
	return result, nil
}

func normalizeLabel(label string) string {
	switch label {
	case "positive", "negative", "neutral", "mixed":
		return label
	default:
		return "neutral"
	}
}

func normalizeUrgency(u string) domain.Urgency {
	switch domain.Urgency(u) {
	case domain.UrgencyLow, domain.UrgencyMedium, domain.UrgencyHigh:
		return domain.Urgency(u)
	default:
		return domain.UrgencyMedium
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
