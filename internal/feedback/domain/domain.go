// Package domain defines the core types of the feedback insights pipeline:
// feedback items, enrichment records, clusters, insights and the run state
// machine. Types here carry no transport or AI concerns.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage identifies a phase of a pipeline run.
type Stage string

const (
	StageValidation        Stage = "validation"
	StageEnrichment        Stage = "enrichment"
	StageClustering        Stage = "clustering"
	StageInsightGeneration Stage = "insight_generation"
	StageScoring           Stage = "scoring"
	StageComplete          Stage = "complete"
	StageFailed            Stage = "failed"
)

// stageRank orders the forward stages. Terminal stages rank above all
// forward stages so progress stays monotone.
var stageRank = map[Stage]int{
	StageValidation:        0,
	StageEnrichment:        1,
	StageClustering:        2,
	StageInsightGeneration: 3,
	StageScoring:           4,
	StageComplete:          5,
	StageFailed:            5,
}

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// FeedbackItem is one raw feedback record. Immutable once validated.
type FeedbackItem struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Source      string            `json:"source"`
	SubmittedAt time.Time         `json:"submittedAt"`
	UserID      string            `json:"userId"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Valid reports whether the item survives the validation stage: non-empty
// text, a user identifier and a timestamp.
func (f FeedbackItem) Valid() bool {
	return f.Text != "" && f.UserID != "" && !f.SubmittedAt.IsZero()
}

// Sentiment is the per-item sentiment classification.
type Sentiment struct {
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Urgency levels for an enrichment record.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Severity levels for an insight.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// LinkedArea ties a feedback item to a product area with a confidence.
type LinkedArea struct {
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
}

// EnrichmentRecord is the AI-derived enrichment for one feedback item.
// Owned by the run, keyed by FeedbackID.
type EnrichmentRecord struct {
	FeedbackID        string       `json:"feedbackId"`
	Sentiment         Sentiment    `json:"sentiment"`
	Urgency           Urgency      `json:"urgency"`
	ExtractedFeatures []string     `json:"extractedFeatures"`
	LinkedAreas       []LinkedArea `json:"linkedAreas"`
	Categories        []string     `json:"categories"`
}

// FallbackEnrichment is the neutral record used when per-item enrichment
// fails. The run continues with this in place of AI output.
func FallbackEnrichment(feedbackID string) EnrichmentRecord {
	return EnrichmentRecord{
		FeedbackID: feedbackID,
		Sentiment:  Sentiment{Label: "neutral", Score: 0, Confidence: 0},
		Urgency:    UrgencyMedium,
	}
}

// Cluster groups enriched feedback items sharing a theme.
type Cluster struct {
	ID                string   `json:"id"`
	Theme             string   `json:"theme"`
	Description       string   `json:"description"`
	MemberFeedbackIDs []string `json:"memberFeedbackIds"`
	DominantSentiment string   `json:"dominantSentiment"`
	AvgConfidence     float64  `json:"avgConfidence"`
	Fallback          bool     `json:"fallback,omitempty"`
}

// Insight is a business-level synthesis derived from one cluster.
type Insight struct {
	ID                  string   `json:"id"`
	ClusterID           string   `json:"clusterId"`
	Title               string   `json:"title"`
	Summary             string   `json:"summary"`
	Severity            Severity `json:"severity"`
	Confidence          float64  `json:"confidence"`
	AffectedUserCount   int      `json:"affectedUserCount"`
	RecommendationCount int      `json:"recommendationCount"`
	EvidenceCount       int      `json:"evidenceCount"`
	Fallback            bool     `json:"fallback,omitempty"`
}

// Priority buckets for scored insights.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// InsightScore is the weighted prioritization of one insight.
type InsightScore struct {
	InsightID string   `json:"insightId"`
	Volume    float64  `json:"volume"`
	Value     float64  `json:"value"`
	Recency   float64  `json:"recency"`
	Strategic float64  `json:"strategic"`
	Urgency   float64  `json:"urgency"`
	Total     float64  `json:"total"`
	Priority  Priority `json:"priority"`
}

// PipelineRun tracks one run's lifecycle from validation to a terminal stage.
// A run owns its counters exclusively; nothing here is shared across runs.
type PipelineRun struct {
	ID            uuid.UUID `json:"id"`
	Stage         Stage     `json:"stage"`
	TotalItems    int       `json:"totalItems"`
	ValidItems    int       `json:"validItems"`
	EnrichedCount int       `json:"enrichedCount"`
	ClusterCount  int       `json:"clusterCount"`
	InsightCount  int       `json:"insightCount"`
	Errors        []string  `json:"errors,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt,omitzero"`
}

// NewPipelineRun creates a run in the validation stage.
func NewPipelineRun(totalItems int) *PipelineRun {
	return &PipelineRun{
		ID:         uuid.New(),
		Stage:      StageValidation,
		TotalItems: totalItems,
		StartedAt:  time.Now().UTC(),
	}
}

// Advance moves the run to the next stage. Moving backwards or out of a
// terminal stage is an error.
func (r *PipelineRun) Advance(next Stage) error {
	if r.Stage.Terminal() {
		return fmt.Errorf("pipeline run %s is already terminal (%s)", r.ID, r.Stage)
	}
	if stageRank[next] < stageRank[r.Stage] {
		return fmt.Errorf("pipeline run %s cannot move from %s back to %s", r.ID, r.Stage, next)
	}
	r.Stage = next
	if next.Terminal() {
		r.FinishedAt = time.Now().UTC()
	}
	return nil
}

// Fail marks the run failed and records the cause.
func (r *PipelineRun) Fail(cause string) {
	r.Errors = append(r.Errors, cause)
	r.Stage = StageFailed
	r.FinishedAt = time.Now().UTC()
}
