package pipeline

import (
	"context"
	"sort"

	"feedback_insights_backend/internal/feedback/domain"
)

// Static component defaults used when no scoring collaborator supplies
// real numbers.
const (
	defaultValueScore     = 70
	defaultRecencyScore   = 80
	defaultStrategicScore = 60
)

// Priority thresholds on the weighted total.
const (
	priorityCriticalMin = 80
	priorityHighMin     = 65
	priorityMediumMin   = 45
)

// severityScores maps insight severity to the urgency component.
var severityScores = map[domain.Severity]float64{
	domain.SeverityLow:      25,
	domain.SeverityMedium:   50,
	domain.SeverityHigh:     75,
	domain.SeverityCritical: 100,
}

// scoreInsights computes weighted totals for every insight and returns them
// sorted descending by total, stable on ties. Pure computation, no
// collaborator call unless a ComponentScorer is configured.
func (o *Orchestrator) scoreInsights(ctx context.Context, insights []domain.Insight, totalEntries int) []domain.InsightScore {
	weights := o.opts.Weights

	scores := make([]domain.InsightScore, 0, len(insights))
	for _, insight := range insights {
		score := domain.InsightScore{
			InsightID: insight.ID,
			Volume:    volumeScore(insight.AffectedUserCount, totalEntries),
			Value:     defaultValueScore,
			Recency:   defaultRecencyScore,
			Strategic: defaultStrategicScore,
			Urgency:   severityScores[insight.Severity],
		}

		if o.scorer != nil {
			value, recency, strategic, err := o.scorer.ComponentScores(ctx, insight)
			if err != nil {
				o.log.Warn("component scorer failed, using defaults", "insightId", insight.ID, "error", err)
			} else {
				score.Value = value
				score.Recency = recency
				score.Strategic = strategic
			}
		}

		score.Total = weights.Volume*score.Volume +
			weights.Value*score.Value +
			weights.Recency*score.Recency +
			weights.Strategic*score.Strategic +
			weights.Urgency*score.Urgency
		score.Priority = priorityFor(score.Total)
		scores = append(scores, score)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Total > scores[j].Total
	})
	return scores
}

func volumeScore(affectedUsers, totalEntries int) float64 {
	if totalEntries <= 0 {
		return 0
	}
	volume := float64(affectedUsers) / float64(totalEntries) * 100
	if volume > 100 {
		volume = 100
	}
	return volume
}

func priorityFor(total float64) domain.Priority {
	switch {
	case total >= priorityCriticalMin:
		return domain.PriorityCritical
	case total >= priorityHighMin:
		return domain.PriorityHigh
	case total >= priorityMediumMin:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}
