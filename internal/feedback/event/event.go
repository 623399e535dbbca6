// Package event defines the pipeline event protocol: an ordered, typed,
// self-describing vocabulary sufficient to rebuild the final pipeline state
// from the stream alone. Producers emit these structs; consumers decode them
// with Decode and fold them with the replay package.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"feedback_insights_backend/internal/feedback/domain"
)

// Type identifies an event on the wire.
type Type string

const (
	TypePipelineStarted           Type = "pipeline-started"
	TypeEnrichmentStarted         Type = "enrichment-started"
	TypeEnrichmentAICall          Type = "enrichment-ai-call"
	TypeEnrichmentAIResponse      Type = "enrichment-ai-response"
	TypeEnrichmentComplete        Type = "enrichment-complete"
	TypeClusterCreated            Type = "cluster-created"
	TypeClusteringComplete        Type = "clustering-complete"
	TypeInsightCreated            Type = "insight-created"
	TypeInsightGenerationComplete Type = "insight-generation-complete"
	TypePipelineComplete          Type = "pipeline-complete"
	TypePipelineFailed            Type = "pipeline-failed"
)

// Event is implemented by every pipeline event.
type Event interface {
	EventType() Type
	RunID() uuid.UUID
	OccurredAt() time.Time
}

// Base carries the fields shared by every event.
type Base struct {
	Type          Type      `json:"type"`
	PipelineRunID uuid.UUID `json:"pipelineRunId"`
	Timestamp     time.Time `json:"timestamp"`
}

func (b Base) EventType() Type       { return b.Type }
func (b Base) RunID() uuid.UUID      { return b.PipelineRunID }
func (b Base) OccurredAt() time.Time { return b.Timestamp }

// NewBase stamps a base for the given type and run.
func NewBase(t Type, runID uuid.UUID) Base {
	return Base{Type: t, PipelineRunID: runID, Timestamp: time.Now().UTC()}
}

// PipelineStarted opens a run. TotalItems is the explicit enrichment total
// consumers use for progress.
type PipelineStarted struct {
	Base
	TotalItems int `json:"totalItems"`
	ValidItems int `json:"validItems"`
}

// EnrichmentStarted seeds a consumer's view of one feedback item.
type EnrichmentStarted struct {
	Base
	FeedbackID string `json:"feedbackId"`
	Text       string `json:"text"`
	Source     string `json:"source"`
}

// EnrichmentAICall records the exact collaborator request for one item.
type EnrichmentAICall struct {
	Base
	FeedbackID string `json:"feedbackId"`
	CallID     string `json:"callId"`
	Request    string `json:"request"`
}

// EnrichmentAIResponse records the raw collaborator output, matched to its
// call by CallID.
type EnrichmentAIResponse struct {
	Base
	FeedbackID string `json:"feedbackId"`
	CallID     string `json:"callId"`
	Response   string `json:"response"`
}

// EnrichmentComplete carries the final enrichment payload for one item.
// Success is false when the payload is the fallback record.
type EnrichmentComplete struct {
	Base
	FeedbackID string                  `json:"feedbackId"`
	Record     domain.EnrichmentRecord `json:"record"`
	Success    bool                    `json:"success"`
}

// ClusterCreated announces one thematic cluster.
type ClusterCreated struct {
	Base
	Cluster domain.Cluster `json:"cluster"`
}

// ClusteringComplete closes the clustering stage.
type ClusteringComplete struct {
	Base
	ClusterCount int `json:"clusterCount"`
}

// InsightCreated announces one insight derived from a cluster.
type InsightCreated struct {
	Base
	Insight domain.Insight `json:"insight"`
}

// InsightGenerationComplete closes the insight stage.
type InsightGenerationComplete struct {
	Base
	InsightCount int `json:"insightCount"`
}

// PipelineComplete is the single terminal event of a successful run. It
// carries the final counts and the scored, prioritized insights so the
// stream stays self-describing.
type PipelineComplete struct {
	Base
	EnrichedCount int                   `json:"enrichedCount"`
	ClusterCount  int                   `json:"clusterCount"`
	InsightCount  int                   `json:"insightCount"`
	Scores        []domain.InsightScore `json:"scores,omitempty"`
}

// PipelineFailed is the single terminal event of a failed run.
type PipelineFailed struct {
	Base
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// Decode parses one JSON event object into its concrete type.
func Decode(data []byte) (Event, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var evt Event
	switch probe.Type {
	case TypePipelineStarted:
		evt = &PipelineStarted{}
	case TypeEnrichmentStarted:
		evt = &EnrichmentStarted{}
	case TypeEnrichmentAICall:
		evt = &EnrichmentAICall{}
	case TypeEnrichmentAIResponse:
		evt = &EnrichmentAIResponse{}
	case TypeEnrichmentComplete:
		evt = &EnrichmentComplete{}
	case TypeClusterCreated:
		evt = &ClusterCreated{}
	case TypeClusteringComplete:
		evt = &ClusteringComplete{}
	case TypeInsightCreated:
		evt = &InsightCreated{}
	case TypeInsightGenerationComplete:
		evt = &InsightGenerationComplete{}
	case TypePipelineComplete:
		evt = &PipelineComplete{}
	case TypePipelineFailed:
		evt = &PipelineFailed{}
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", probe.Type)
	}

	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", probe.Type, err)
	}
	return evt, nil
}
