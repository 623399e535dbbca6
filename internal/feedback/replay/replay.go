// Package replay rebuilds pipeline state from an ordered event list. The fold
// is a pure function of its input: no clocks, no transport, no mutation of
// the events. Feeding the same list twice yields the same state, and partial
// streams yield the partial state a consumer should show mid-run.
package replay

import (
	"github.com/google/uuid"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/internal/feedback/event"
)

// Status of a reconstructed run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Enrichment is one item's reconstructed view. An entry appears in State
// only once its started, AI call/response pair and complete events have all
// arrived.
type Enrichment struct {
	FeedbackID string                  `json:"feedbackId"`
	Text       string                  `json:"text"`
	Source     string                  `json:"source"`
	CallID     string                  `json:"callId"`
	Request    string                  `json:"request"`
	Response   string                  `json:"response"`
	Record     domain.EnrichmentRecord `json:"record"`
	Success    bool                    `json:"success"`
}

// Progress is the consumer-facing completion model. Enrichment is a
// percentage; the later stages are binary.
type Progress struct {
	EnrichmentPercent float64 `json:"enrichmentPercent"`
	ClusteringDone    bool    `json:"clusteringDone"`
	InsightsDone      bool    `json:"insightsDone"`
}

// State is the reconstructed run. Clusters carry member lists filtered to
// complete enrichments, with sentiment histograms recomputed from those
// members rather than trusted from the producer.
type State struct {
	RunID      uuid.UUID             `json:"runId"`
	Status     Status                `json:"status"`
	TotalItems int                   `json:"totalItems"`
	ValidItems int                   `json:"validItems"`

	Enrichments map[string]Enrichment `json:"enrichments"`
	Clusters    []domain.Cluster      `json:"clusters"`
	Insights    []domain.Insight      `json:"insights"`
	Scores      []domain.InsightScore `json:"scores,omitempty"`

	Progress    Progress `json:"progress"`
	FailedStage string   `json:"failedStage,omitempty"`
	FailureErr  string   `json:"failureError,omitempty"`
}

// itemAcc accumulates one item's pieces until the entry is complete.
type itemAcc struct {
	started  bool
	text     string
	source   string
	callID   string
	request  string
	response string
	answered bool
	done     bool
	record   domain.EnrichmentRecord
	success  bool
}

// Fold reduces an ordered event list to the state it describes. Unknown ids,
// unmatched responses and duplicate events are tolerated: duplicates
// overwrite with identical data, incomplete entries stay hidden.
func Fold(events []event.Event) State {
	items := map[string]*itemAcc{}
	calls := map[string]string{} // call id -> feedback id
	clusterIDs := map[string]int{}
	insightIDs := map[string]int{}

	state := State{
		Status:      StatusRunning,
		Enrichments: map[string]Enrichment{},
	}
	var clusters []domain.Cluster
	var insights []domain.Insight

	item := func(id string) *itemAcc {
		acc, ok := items[id]
		if !ok {
			acc = &itemAcc{}
			items[id] = acc
		}
		return acc
	}

	for _, evt := range events {
		if state.RunID == uuid.Nil {
			state.RunID = evt.RunID()
		}

		switch e := evt.(type) {
		case *event.PipelineStarted:
			state.TotalItems = e.TotalItems
			state.ValidItems = e.ValidItems

		case *event.EnrichmentStarted:
			acc := item(e.FeedbackID)
			acc.started = true
			acc.text = e.Text
			acc.source = e.Source

		case *event.EnrichmentAICall:
			acc := item(e.FeedbackID)
			acc.callID = e.CallID
			acc.request = e.Request
			acc.answered = false
			calls[e.CallID] = e.FeedbackID

		case *event.EnrichmentAIResponse:
			// Matched strictly by call id; a response without its call is
			// dropped.
			id, ok := calls[e.CallID]
			if !ok {
				continue
			}
			acc := item(id)
			if acc.callID == e.CallID {
				acc.response = e.Response
				acc.answered = true
			}

		case *event.EnrichmentComplete:
			acc := item(e.FeedbackID)
			acc.done = true
			acc.record = e.Record
			acc.success = e.Success

		case *event.ClusterCreated:
			if i, seen := clusterIDs[e.Cluster.ID]; seen {
				clusters[i] = e.Cluster
				continue
			}
			clusterIDs[e.Cluster.ID] = len(clusters)
			clusters = append(clusters, e.Cluster)

		case *event.InsightCreated:
			// An insight must reference a cluster that already streamed.
			if _, ok := clusterIDs[e.Insight.ClusterID]; !ok {
				continue
			}
			if i, seen := insightIDs[e.Insight.ID]; seen {
				insights[i] = e.Insight
				continue
			}
			insightIDs[e.Insight.ID] = len(insights)
			insights = append(insights, e.Insight)

		case *event.ClusteringComplete:
			state.Progress.ClusteringDone = true

		case *event.InsightGenerationComplete:
			state.Progress.InsightsDone = true

		case *event.PipelineComplete:
			state.Status = StatusComplete
			state.Scores = e.Scores
			state.Progress.ClusteringDone = true
			state.Progress.InsightsDone = true

		case *event.PipelineFailed:
			state.Status = StatusFailed
			state.FailedStage = e.Stage
			state.FailureErr = e.Error
		}
	}

	// Surface only entries with all three pieces present.
	started, completed := 0, 0
	for id, acc := range items {
		if acc.started {
			started++
		}
		if acc.started && acc.done {
			completed++
		}
		if !acc.started || !acc.done || acc.callID == "" || !acc.answered {
			continue
		}
		state.Enrichments[id] = Enrichment{
			FeedbackID: id,
			Text:       acc.text,
			Source:     acc.source,
			CallID:     acc.callID,
			Request:    acc.request,
			Response:   acc.response,
			Record:     acc.record,
			Success:    acc.success,
		}
	}

	// The explicit enrichment total is the run's valid-item count; older
	// streams without it fall back to the raw total. Started events can only
	// raise the denominator, never shrink it.
	total := state.ValidItems
	if total == 0 {
		total = state.TotalItems
	}
	if started > total {
		total = started
	}
	if total > 0 {
		state.Progress.EnrichmentPercent = float64(completed) / float64(total) * 100
	}

	state.Clusters = rebuildClusters(clusters, state.Enrichments)
	state.Insights = insights
	return state
}

// rebuildClusters filters member lists to complete enrichments and
// recomputes the per-cluster sentiment summary from the surviving members.
// Clusters whose members all vanished are kept with empty stats so the
// consumer still sees the theme.
func rebuildClusters(clusters []domain.Cluster, enrichments map[string]Enrichment) []domain.Cluster {
	out := make([]domain.Cluster, 0, len(clusters))
	for _, c := range clusters {
		members := make([]string, 0, len(c.MemberFeedbackIDs))
		counts := map[string]int{}
		var confidenceSum float64
		for _, id := range c.MemberFeedbackIDs {
			entry, ok := enrichments[id]
			if !ok {
				continue
			}
			members = append(members, id)
			counts[entry.Record.Sentiment.Label]++
			confidenceSum += entry.Record.Sentiment.Confidence
		}

		c.MemberFeedbackIDs = members
		c.DominantSentiment = ""
		c.AvgConfidence = 0
		if len(members) > 0 {
			best := 0
			for label, n := range counts {
				if n > best || (n == best && label < c.DominantSentiment) {
					c.DominantSentiment = label
					best = n
				}
			}
			c.AvgConfidence = confidenceSum / float64(len(members))
		}
		out = append(out, c)
	}
	return out
}
