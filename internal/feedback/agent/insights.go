package agent

import (
	"context"
	"fmt"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/internal/feedback/pipeline"
)

// InsightGenerator synthesizes one insight per cluster.
type InsightGenerator struct {
	client chatClient
}

// NewInsightGenerator creates the insight collaborator.
func NewInsightGenerator(client chatClient) *InsightGenerator {
	return &InsightGenerator{client: client}
}

// GenerateInsight turns one cluster plus sample texts into an insight
// proposal. An error means the model output was unusable; the orchestrator
// falls back to a generic low-confidence insight.
func (g *InsightGenerator) GenerateInsight(ctx context.Context, cluster domain.Cluster, sampleTexts []string) (pipeline.InsightProposal, error) {
	prompt := buildInsightPrompt(cluster.Theme, cluster.Description, len(cluster.MemberFeedbackIDs), sampleTexts)

	raw, err := g.client.GenerateJSON(ctx, insightSystemPrompt(), prompt)
	if err != nil {
		return pipeline.InsightProposal{}, err
	}

	var proposal pipeline.InsightProposal
	if err := parseInto(raw, &proposal); err != nil {
		return pipeline.InsightProposal{}, fmt.Errorf("insight for cluster %s: %w", cluster.ID, err)
	}
	if proposal.Title == "" || proposal.Summary == "" {
		return pipeline.InsightProposal{}, fmt.Errorf("insight for cluster %s: missing title or summary", cluster.ID)
	}
	proposal.Confidence = clamp(proposal.Confidence, 0, 1)
	return proposal, nil
}
