package agent

import (
	"context"
	"fmt"
	"strings"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/internal/feedback/pipeline"
)

// Clusterer groups the whole enriched set in one call.
type Clusterer struct {
	client chatClient
}

// NewClusterer creates the clustering collaborator.
func NewClusterer(client chatClient) *Clusterer {
	return &Clusterer{client: client}
}

// Cluster proposes thematic groups over the enriched records. An error means
// the model output was unusable; the orchestrator falls back to a single
// catch-all cluster.
func (c *Clusterer) Cluster(ctx context.Context, records []domain.EnrichmentRecord) ([]pipeline.ClusterProposal, error) {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("- id=%s sentiment=%s urgency=%s features=[%s] categories=[%s]",
			r.FeedbackID,
			r.Sentiment.Label,
			r.Urgency,
			strings.Join(r.ExtractedFeatures, ", "),
			strings.Join(r.Categories, ", ")))
	}

	raw, err := c.client.GenerateJSON(ctx, clusteringSystemPrompt(), buildClusteringPrompt(lines))
	if err != nil {
		return nil, err
	}

	var proposals []pipeline.ClusterProposal
	if err := parseInto(raw, &proposals); err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	if len(proposals) == 0 {
		return nil, fmt.Errorf("clustering: model returned no clusters")
	}
	return proposals, nil
}
