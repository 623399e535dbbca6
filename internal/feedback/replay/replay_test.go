package replay

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/internal/feedback/event"
)

var testRunID = uuid.MustParse("6f1d8f3a-1111-4222-8333-444455556666")

func base(t event.Type) event.Base {
	// Fixed timestamps keep the fold input identical across calls.
	return event.Base{Type: t, PipelineRunID: testRunID}
}

func enrichedItem(id, label string, confidence float64, success bool) []event.Event {
	return []event.Event{
		&event.EnrichmentStarted{Base: base(event.TypeEnrichmentStarted), FeedbackID: id, Text: "text " + id, Source: "survey"},
		&event.EnrichmentAICall{Base: base(event.TypeEnrichmentAICall), FeedbackID: id, CallID: "call-" + id, Request: `{"id":"` + id + `"}`},
		&event.EnrichmentAIResponse{Base: base(event.TypeEnrichmentAIResponse), FeedbackID: id, CallID: "call-" + id, Response: `{"label":"` + label + `"}`},
		&event.EnrichmentComplete{Base: base(event.TypeEnrichmentComplete), FeedbackID: id, Success: success, Record: domain.EnrichmentRecord{
			FeedbackID: id,
			Sentiment:  domain.Sentiment{Label: label, Confidence: confidence},
			Urgency:    domain.UrgencyMedium,
		}},
	}
}

func fullRunEvents() []event.Event {
	events := []event.Event{
		&event.PipelineStarted{Base: base(event.TypePipelineStarted), TotalItems: 3, ValidItems: 3},
	}
	events = append(events, enrichedItem("a", "negative", 0.9, true)...)
	events = append(events, enrichedItem("b", "negative", 0.7, true)...)
	events = append(events, enrichedItem("c", "positive", 0.8, true)...)
	events = append(events,
		&event.ClusterCreated{Base: base(event.TypeClusterCreated), Cluster: domain.Cluster{
			ID: "cl-1", Theme: "Perf", MemberFeedbackIDs: []string{"a", "b", "c"},
		}},
		&event.ClusteringComplete{Base: base(event.TypeClusteringComplete), ClusterCount: 1},
		&event.InsightCreated{Base: base(event.TypeInsightCreated), Insight: domain.Insight{
			ID: "in-1", ClusterID: "cl-1", Title: "Speed up search", Severity: domain.SeverityHigh, AffectedUserCount: 3,
		}},
		&event.InsightGenerationComplete{Base: base(event.TypeInsightGenerationComplete), InsightCount: 1},
		&event.PipelineComplete{Base: base(event.TypePipelineComplete), EnrichedCount: 3, ClusterCount: 1, InsightCount: 1,
			Scores: []domain.InsightScore{{InsightID: "in-1", Total: 75, Priority: domain.PriorityHigh}}},
	)
	return events
}

func TestFoldFullRun(t *testing.T) {
	state := Fold(fullRunEvents())

	if state.RunID != testRunID {
		t.Fatalf("run id = %s", state.RunID)
	}
	if state.Status != StatusComplete {
		t.Fatalf("status = %s, want complete", state.Status)
	}
	if len(state.Enrichments) != 3 {
		t.Fatalf("enrichments = %d, want 3", len(state.Enrichments))
	}
	entry := state.Enrichments["a"]
	if entry.Text != "text a" || entry.CallID != "call-a" || entry.Response == "" {
		t.Fatalf("entry a incomplete: %+v", entry)
	}

	if len(state.Clusters) != 1 || len(state.Clusters[0].MemberFeedbackIDs) != 3 {
		t.Fatalf("clusters: %+v", state.Clusters)
	}
	if state.Clusters[0].DominantSentiment != "negative" {
		t.Fatalf("dominant sentiment = %q, want negative", state.Clusters[0].DominantSentiment)
	}
	wantAvg := (0.9 + 0.7 + 0.8) / 3
	if diff := state.Clusters[0].AvgConfidence - wantAvg; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("avg confidence = %v, want %v", state.Clusters[0].AvgConfidence, wantAvg)
	}

	if len(state.Insights) != 1 || state.Insights[0].ID != "in-1" {
		t.Fatalf("insights: %+v", state.Insights)
	}
	if len(state.Scores) != 1 || state.Scores[0].Priority != domain.PriorityHigh {
		t.Fatalf("scores: %+v", state.Scores)
	}

	if state.Progress.EnrichmentPercent != 100 || !state.Progress.ClusteringDone || !state.Progress.InsightsDone {
		t.Fatalf("progress: %+v", state.Progress)
	}
}

func TestFoldIsIdempotent(t *testing.T) {
	events := fullRunEvents()
	first := Fold(events)
	second := Fold(events)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical input must fold to identical state")
	}

	// Duplicating every event changes nothing either.
	doubled := append(append([]event.Event{}, events...), events...)
	if !reflect.DeepEqual(first, Fold(doubled)) {
		t.Fatal("duplicated events must not change the folded state")
	}
}

func TestFoldHidesIncompleteEntries(t *testing.T) {
	events := []event.Event{
		&event.PipelineStarted{Base: base(event.TypePipelineStarted), TotalItems: 2, ValidItems: 2},
		// "a" has started + ai-call but no response and no complete.
		&event.EnrichmentStarted{Base: base(event.TypeEnrichmentStarted), FeedbackID: "a", Text: "text a"},
		&event.EnrichmentAICall{Base: base(event.TypeEnrichmentAICall), FeedbackID: "a", CallID: "call-a", Request: "{}"},
	}
	events = append(events, enrichedItem("b", "neutral", 0.5, true)...)

	state := Fold(events)
	if _, ok := state.Enrichments["a"]; ok {
		t.Fatal("entry without complete event must stay hidden")
	}
	if _, ok := state.Enrichments["b"]; !ok {
		t.Fatal("complete entry must be visible")
	}
	if state.Progress.EnrichmentPercent != 50 {
		t.Fatalf("enrichment percent = %v, want 50", state.Progress.EnrichmentPercent)
	}
}

func TestFoldRequiresMatchedResponse(t *testing.T) {
	events := []event.Event{
		&event.EnrichmentStarted{Base: base(event.TypeEnrichmentStarted), FeedbackID: "a"},
		&event.EnrichmentAICall{Base: base(event.TypeEnrichmentAICall), FeedbackID: "a", CallID: "call-a"},
		// Response for a call id that never streamed.
		&event.EnrichmentAIResponse{Base: base(event.TypeEnrichmentAIResponse), FeedbackID: "a", CallID: "other", Response: "{}"},
		&event.EnrichmentComplete{Base: base(event.TypeEnrichmentComplete), FeedbackID: "a", Success: true},
	}

	state := Fold(events)
	if _, ok := state.Enrichments["a"]; ok {
		t.Fatal("entry with unmatched ai-response must stay hidden")
	}
}

func TestFoldClusterMembersSubsetOfCompleteEnrichments(t *testing.T) {
	events := []event.Event{
		&event.PipelineStarted{Base: base(event.TypePipelineStarted), TotalItems: 2, ValidItems: 2},
	}
	events = append(events, enrichedItem("a", "positive", 0.9, true)...)
	events = append(events,
		// "ghost" never enriched; the member list must shrink to {a}.
		&event.ClusterCreated{Base: base(event.TypeClusterCreated), Cluster: domain.Cluster{
			ID: "cl-1", Theme: "UI", MemberFeedbackIDs: []string{"a", "ghost"},
			DominantSentiment: "negative", AvgConfidence: 0.1,
		}},
	)

	state := Fold(events)
	if len(state.Clusters) != 1 {
		t.Fatalf("clusters = %d", len(state.Clusters))
	}
	c := state.Clusters[0]
	if len(c.MemberFeedbackIDs) != 1 || c.MemberFeedbackIDs[0] != "a" {
		t.Fatalf("members = %v, want [a]", c.MemberFeedbackIDs)
	}
	// Histogram recomputed from surviving members, not trusted from the wire.
	if c.DominantSentiment != "positive" || c.AvgConfidence != 0.9 {
		t.Fatalf("recomputed summary: %+v", c)
	}
}

func TestFoldDropsInsightWithoutCluster(t *testing.T) {
	events := []event.Event{
		&event.InsightCreated{Base: base(event.TypeInsightCreated), Insight: domain.Insight{
			ID: "in-1", ClusterID: "never-streamed",
		}},
	}
	state := Fold(events)
	if len(state.Insights) != 0 {
		t.Fatalf("insights = %+v, want none", state.Insights)
	}
}

func TestFoldStartedCountRaisesTotal(t *testing.T) {
	// More started events than the explicit total: denominator grows.
	events := []event.Event{
		&event.PipelineStarted{Base: base(event.TypePipelineStarted), TotalItems: 1, ValidItems: 1},
	}
	events = append(events, enrichedItem("a", "neutral", 0.5, true)...)
	events = append(events,
		&event.EnrichmentStarted{Base: base(event.TypeEnrichmentStarted), FeedbackID: "b"},
	)

	state := Fold(events)
	if state.Progress.EnrichmentPercent != 50 {
		t.Fatalf("enrichment percent = %v, want 50", state.Progress.EnrichmentPercent)
	}
}

func TestFoldFailedRun(t *testing.T) {
	events := []event.Event{
		&event.PipelineStarted{Base: base(event.TypePipelineStarted), TotalItems: 2, ValidItems: 2},
		&event.PipelineFailed{Base: base(event.TypePipelineFailed), Stage: "clustering", Error: "boom"},
	}
	state := Fold(events)
	if state.Status != StatusFailed || state.FailedStage != "clustering" || state.FailureErr != "boom" {
		t.Fatalf("failed state: %+v", state)
	}
}
