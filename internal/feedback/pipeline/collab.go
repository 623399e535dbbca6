package pipeline

import (
	"context"

	"feedback_insights_backend/internal/feedback/domain"
)

// Collaborator contracts. Implementations live in internal/feedback/agent;
// the orchestrator only depends on these shapes so tests can substitute
// deterministic fakes.

// EnrichmentRequest is the exact per-item input sent to the enrichment
// collaborator.
type EnrichmentRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// EnrichmentResult carries the collaborator round trip for one item.
// RawRequest and RawResponse are filled best-effort even when Enrich returns
// an error, so the caller can still trace the exchange.
type EnrichmentResult struct {
	Record      domain.EnrichmentRecord
	RawRequest  string
	RawResponse string
}

// Enricher derives sentiment, urgency and categorical tags for one item.
type Enricher interface {
	Enrich(ctx context.Context, req EnrichmentRequest) (EnrichmentResult, error)
}

// ClusterProposal is one thematic group suggested by the clustering
// collaborator.
type ClusterProposal struct {
	Theme       string   `json:"theme"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"memberIds"`
}

// Clusterer groups the whole enriched set in a single call. A returned error
// signals unparseable output and triggers the catch-all fallback.
type Clusterer interface {
	Cluster(ctx context.Context, records []domain.EnrichmentRecord) ([]ClusterProposal, error)
}

// InsightProposal is the collaborator's synthesis for one cluster.
type InsightProposal struct {
	Title              string          `json:"title"`
	Summary            string          `json:"summary"`
	Severity           domain.Severity `json:"severity"`
	Confidence         float64         `json:"confidence"`
	RecommendedActions []string        `json:"recommendedActions"`
}

// InsightGenerator produces one insight per cluster. A returned error
// triggers the generic low-confidence fallback insight.
type InsightGenerator interface {
	GenerateInsight(ctx context.Context, cluster domain.Cluster, sampleTexts []string) (InsightProposal, error)
}

// ComponentScorer optionally supplies the value, recency and strategic
// components for an insight. When absent (or failing) the static defaults
// apply.
type ComponentScorer interface {
	ComponentScores(ctx context.Context, insight domain.Insight) (value, recency, strategic float64, err error)
}
