package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/internal/feedback/event"
	"feedback_insights_backend/platform/apperr"
	"feedback_insights_backend/platform/logger"
)

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordingSink) Emit(evt event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) byType(t event.Type) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, evt := range s.events {
		if evt.EventType() == t {
			out = append(out, evt)
		}
	}
	return out
}

func (s *recordingSink) types() []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Type, len(s.events))
	for i, evt := range s.events {
		out[i] = evt.EventType()
	}
	return out
}

type fakeEnricher struct {
	calls int32
	fn    func(req EnrichmentRequest) (EnrichmentResult, error)
}

func (f *fakeEnricher) Enrich(_ context.Context, req EnrichmentRequest) (EnrichmentResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(req)
}

type fakeClusterer struct {
	fn func(records []domain.EnrichmentRecord) ([]ClusterProposal, error)
}

func (f *fakeClusterer) Cluster(_ context.Context, records []domain.EnrichmentRecord) ([]ClusterProposal, error) {
	return f.fn(records)
}

type fakeInsights struct {
	fn func(cluster domain.Cluster, samples []string) (InsightProposal, error)
}

func (f *fakeInsights) GenerateInsight(_ context.Context, cluster domain.Cluster, samples []string) (InsightProposal, error) {
	return f.fn(cluster, samples)
}

func okEnricher(label string, score float64) *fakeEnricher {
	return &fakeEnricher{fn: func(req EnrichmentRequest) (EnrichmentResult, error) {
		return EnrichmentResult{
			Record: domain.EnrichmentRecord{
				FeedbackID: req.ID,
				Sentiment:  domain.Sentiment{Label: label, Score: score, Confidence: 0.9},
				Urgency:    domain.UrgencyMedium,
			},
			RawRequest:  `{"id":"` + req.ID + `"}`,
			RawResponse: `{"sentiment":"` + label + `"}`,
		}, nil
	}}
}

func testItems(n int) []domain.FeedbackItem {
	items := make([]domain.FeedbackItem, n)
	for i := range items {
		items[i] = domain.FeedbackItem{
			ID:          fmt.Sprintf("fb-%d", i+1),
			Text:        fmt.Sprintf("feedback text %d", i+1),
			Source:      "survey",
			SubmittedAt: time.Now(),
			UserID:      fmt.Sprintf("user-%d", i+1),
		}
	}
	return items
}

func newTestOrchestrator(e Enricher, c Clusterer, i InsightGenerator, sink Sink, opts Options) *Orchestrator {
	return New(e, c, i, nil, sink, logger.New("development"), opts)
}

func TestScoreInsightsDeterministic(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOrchestrator(nil, nil, nil, sink, Options{})

	// volume 4/5 -> 80, defaults value 70 / recency 80 / strategic 60,
	// severity high -> urgency 75.
	insight := domain.Insight{ID: "in-1", Severity: domain.SeverityHigh, AffectedUserCount: 4}
	scores := o.scoreInsights(context.Background(), []domain.Insight{insight}, 5)

	if len(scores) != 1 {
		t.Fatalf("expected 1 score, got %d", len(scores))
	}
	s := scores[0]
	if s.Volume != 80 || s.Value != 70 || s.Recency != 80 || s.Strategic != 60 || s.Urgency != 75 {
		t.Fatalf("unexpected components: %+v", s)
	}
	want := 0.25*80 + 0.20*70 + 0.15*80 + 0.25*60 + 0.15*75
	if math.Abs(s.Total-want) > 1e-9 {
		t.Fatalf("total = %v, want %v", s.Total, want)
	}
	if s.Priority != domain.PriorityHigh {
		t.Fatalf("priority = %s, want high", s.Priority)
	}
}

func TestScoreInsightsStableDescendingOrder(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOrchestrator(nil, nil, nil, sink, Options{})

	insights := []domain.Insight{
		{ID: "a", Severity: domain.SeverityLow, AffectedUserCount: 2},
		{ID: "b", Severity: domain.SeverityCritical, AffectedUserCount: 2},
		{ID: "c", Severity: domain.SeverityLow, AffectedUserCount: 2},
	}
	scores := o.scoreInsights(context.Background(), insights, 4)

	if scores[0].InsightID != "b" {
		t.Fatalf("expected critical insight first, got %s", scores[0].InsightID)
	}
	// Equal totals keep input order.
	if scores[1].InsightID != "a" || scores[2].InsightID != "c" {
		t.Fatalf("tie not stable: %s, %s", scores[1].InsightID, scores[2].InsightID)
	}
}

func TestRunEndToEnd(t *testing.T) {
	items := testItems(4)
	enricher := &fakeEnricher{fn: func(req EnrichmentRequest) (EnrichmentResult, error) {
		label, score := "positive", 0.8
		if req.ID == "fb-3" || req.ID == "fb-4" {
			label, score = "negative", -0.7
		}
		return EnrichmentResult{
			Record: domain.EnrichmentRecord{
				FeedbackID: req.ID,
				Sentiment:  domain.Sentiment{Label: label, Score: score, Confidence: 0.9},
				Urgency:    domain.UrgencyHigh,
			},
			RawRequest:  `{"id":"` + req.ID + `"}`,
			RawResponse: `{"label":"` + label + `"}`,
		}, nil
	}}
	clusterer := &fakeClusterer{fn: func(records []domain.EnrichmentRecord) ([]ClusterProposal, error) {
		if len(records) != 4 {
			t.Fatalf("clusterer received %d records, want 4", len(records))
		}
		return []ClusterProposal{{
			Theme:       "Checkout",
			Description: "Checkout flow feedback",
			MemberIDs:   []string{"fb-1", "fb-2", "fb-3", "fb-4"},
		}}, nil
	}}
	insights := &fakeInsights{fn: func(cluster domain.Cluster, samples []string) (InsightProposal, error) {
		return InsightProposal{
			Title:              "Fix checkout",
			Summary:            "Users struggle with checkout.",
			Severity:           domain.SeverityHigh,
			Confidence:         0.9,
			RecommendedActions: []string{"simplify form", "add progress bar"},
		}, nil
	}}

	sink := &recordingSink{}
	o := newTestOrchestrator(enricher, clusterer, insights, sink, Options{BatchSize: 10, Concurrency: 2})

	result, err := o.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Run.Stage != domain.StageComplete {
		t.Fatalf("run stage = %s, want complete", result.Run.Stage)
	}
	if len(result.Enrichments) != 4 || len(result.Clusters) != 1 || len(result.Insights) != 1 {
		t.Fatalf("result counts: enrichments=%d clusters=%d insights=%d",
			len(result.Enrichments), len(result.Clusters), len(result.Insights))
	}
	if got := len(result.Clusters[0].MemberFeedbackIDs); got != 4 {
		t.Fatalf("cluster size = %d, want 4", got)
	}
	in := result.Insights[0]
	if in.AffectedUserCount != 4 || in.Severity != domain.SeverityHigh || in.Confidence != 0.9 {
		t.Fatalf("unexpected insight: %+v", in)
	}
	if in.RecommendationCount != 2 {
		t.Fatalf("recommendation count = %d, want 2", in.RecommendationCount)
	}

	complete := sink.byType(event.TypePipelineComplete)
	if len(complete) != 1 {
		t.Fatalf("expected exactly one pipeline-complete, got %d", len(complete))
	}
	terminal := complete[0].(*event.PipelineComplete)
	if terminal.EnrichedCount != 4 || terminal.ClusterCount != 1 || terminal.InsightCount != 1 {
		t.Fatalf("terminal counts: %+v", terminal)
	}
	if len(terminal.Scores) != 1 {
		t.Fatalf("terminal scores = %d, want 1", len(terminal.Scores))
	}

	// Batch events flush in original item order.
	var completeOrder []string
	for _, evt := range sink.byType(event.TypeEnrichmentComplete) {
		completeOrder = append(completeOrder, evt.(*event.EnrichmentComplete).FeedbackID)
	}
	want := []string{"fb-1", "fb-2", "fb-3", "fb-4"}
	for i := range want {
		if completeOrder[i] != want[i] {
			t.Fatalf("enrichment-complete order = %v, want %v", completeOrder, want)
		}
	}

	// Every ai-call has a matching ai-response on the same call id.
	calls := sink.byType(event.TypeEnrichmentAICall)
	responses := sink.byType(event.TypeEnrichmentAIResponse)
	if len(calls) != 4 || len(responses) != 4 {
		t.Fatalf("ai events: %d calls, %d responses", len(calls), len(responses))
	}
	for i := range calls {
		callID := calls[i].(*event.EnrichmentAICall).CallID
		if responses[i].(*event.EnrichmentAIResponse).CallID != callID {
			t.Fatalf("ai-response %d does not match call id %s", i, callID)
		}
	}

	types := sink.types()
	if types[0] != event.TypePipelineStarted {
		t.Fatalf("first event = %s, want pipeline-started", types[0])
	}
	if types[len(types)-1] != event.TypePipelineComplete {
		t.Fatalf("last event = %s, want pipeline-complete", types[len(types)-1])
	}
}

func TestRunValidationFatal(t *testing.T) {
	items := []domain.FeedbackItem{
		{ID: "fb-1", Text: "", UserID: "u1", SubmittedAt: time.Now()},
		{ID: "fb-2", Text: "hello", UserID: "", SubmittedAt: time.Now()},
	}

	sink := &recordingSink{}
	o := newTestOrchestrator(okEnricher("neutral", 0), nil, nil, sink, Options{})

	_, err := o.Run(context.Background(), items)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("error kind = %v, want validation", apperr.GetKind(err))
	}

	types := sink.types()
	if len(types) != 1 || types[0] != event.TypePipelineFailed {
		t.Fatalf("events = %v, want exactly one pipeline-failed", types)
	}
}

func TestRunEnrichmentFallbackKeepsRunAlive(t *testing.T) {
	items := testItems(3)
	enricher := &fakeEnricher{fn: func(req EnrichmentRequest) (EnrichmentResult, error) {
		if req.ID == "fb-2" {
			return EnrichmentResult{RawRequest: `{"id":"fb-2"}`}, errors.New("model returned prose")
		}
		return okEnricher("positive", 0.5).fn(req)
	}}
	clusterer := &fakeClusterer{fn: func(records []domain.EnrichmentRecord) ([]ClusterProposal, error) {
		return []ClusterProposal{{Theme: "All", MemberIDs: []string{"fb-1", "fb-2", "fb-3"}}}, nil
	}}
	insights := &fakeInsights{fn: func(cluster domain.Cluster, _ []string) (InsightProposal, error) {
		return InsightProposal{Title: "t", Summary: "s", Severity: domain.SeverityMedium, Confidence: 0.8}, nil
	}}

	sink := &recordingSink{}
	o := newTestOrchestrator(enricher, clusterer, insights, sink, Options{})

	result, err := o.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, ok := result.Enrichments["fb-2"]
	if !ok {
		t.Fatal("fb-2 missing from enrichments")
	}
	if record.Sentiment.Label != "neutral" || record.Urgency != domain.UrgencyMedium {
		t.Fatalf("expected neutral/medium fallback record, got %+v", record)
	}

	for _, evt := range sink.byType(event.TypeEnrichmentComplete) {
		ec := evt.(*event.EnrichmentComplete)
		if ec.FeedbackID == "fb-2" && ec.Success {
			t.Fatal("fb-2 enrichment-complete should report success=false")
		}
	}
	if len(sink.byType(event.TypePipelineComplete)) != 1 {
		t.Fatal("run should still complete")
	}
}

func TestRunClusteringAndInsightFallbacks(t *testing.T) {
	items := testItems(3)
	clusterer := &fakeClusterer{fn: func([]domain.EnrichmentRecord) ([]ClusterProposal, error) {
		return nil, errors.New("unparseable clustering output")
	}}
	insights := &fakeInsights{fn: func(domain.Cluster, []string) (InsightProposal, error) {
		return InsightProposal{}, errors.New("unparseable insight output")
	}}

	sink := &recordingSink{}
	o := newTestOrchestrator(okEnricher("negative", -0.4), clusterer, insights, sink, Options{})

	result, err := o.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Clusters) != 1 {
		t.Fatalf("expected single catch-all cluster, got %d", len(result.Clusters))
	}
	catchAll := result.Clusters[0]
	if !catchAll.Fallback || len(catchAll.MemberFeedbackIDs) != 3 {
		t.Fatalf("catch-all cluster: %+v", catchAll)
	}

	if len(result.Insights) != 1 {
		t.Fatalf("expected 1 fallback insight, got %d", len(result.Insights))
	}
	fallback := result.Insights[0]
	if !fallback.Fallback || fallback.Confidence != 0.3 {
		t.Fatalf("fallback insight: %+v", fallback)
	}
	if !strings.Contains(fallback.Title, catchAll.Theme) {
		t.Fatalf("fallback title %q should mention theme %q", fallback.Title, catchAll.Theme)
	}
	if len(sink.byType(event.TypePipelineComplete)) != 1 {
		t.Fatal("run should complete despite fallbacks")
	}
}

func TestRunCancellationBetweenBatches(t *testing.T) {
	items := testItems(9)
	ctx, cancel := context.WithCancel(context.Background())

	enricher := &fakeEnricher{}
	enricher.fn = func(req EnrichmentRequest) (EnrichmentResult, error) {
		// Cancel during batch 1; dispatched calls still finish, batch 2
		// never starts.
		if atomic.LoadInt32(&enricher.calls) == 3 {
			cancel()
		}
		return okEnricher("neutral", 0).fn(req)
	}

	sink := &recordingSink{}
	o := newTestOrchestrator(enricher, nil, nil, sink, Options{BatchSize: 3, Concurrency: 3})

	_, err := o.Run(ctx, items)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if got := atomic.LoadInt32(&enricher.calls); got != 3 {
		t.Fatalf("enricher called %d times, want 3 (batch 1 only)", got)
	}

	// No terminal event on cancellation.
	if n := len(sink.byType(event.TypePipelineComplete)); n != 0 {
		t.Fatalf("unexpected pipeline-complete events: %d", n)
	}
	if n := len(sink.byType(event.TypePipelineFailed)); n != 0 {
		t.Fatalf("unexpected pipeline-failed events: %d", n)
	}
	// Batch 1 flushed before the run stopped.
	if n := len(sink.byType(event.TypeEnrichmentComplete)); n != 3 {
		t.Fatalf("enrichment-complete events = %d, want 3", n)
	}
}

func TestBuildClustersEveryItemExactlyOnce(t *testing.T) {
	enrichments := map[string]domain.EnrichmentRecord{
		"a": {FeedbackID: "a", Sentiment: domain.Sentiment{Label: "positive", Confidence: 0.8}},
		"b": {FeedbackID: "b", Sentiment: domain.Sentiment{Label: "positive", Confidence: 0.6}},
		"c": {FeedbackID: "c", Sentiment: domain.Sentiment{Label: "negative", Confidence: 0.9}},
	}
	allIDs := []string{"a", "b", "c"}

	// "a" proposed twice, "ghost" is unknown, "c" never proposed.
	proposals := []ClusterProposal{
		{Theme: "One", MemberIDs: []string{"a", "ghost"}},
		{Theme: "Two", MemberIDs: []string{"a", "b"}},
	}

	clusters := buildClusters(proposals, allIDs, enrichments)

	seen := map[string]int{}
	for _, c := range clusters {
		for _, id := range c.MemberFeedbackIDs {
			seen[id]++
		}
	}
	for _, id := range allIDs {
		if seen[id] != 1 {
			t.Fatalf("item %s assigned %d times, want exactly 1", id, seen[id])
		}
	}
	if seen["ghost"] != 0 {
		t.Fatal("unknown id must not appear in any cluster")
	}

	last := clusters[len(clusters)-1]
	if last.Theme != "General Feedback" || len(last.MemberFeedbackIDs) != 1 || last.MemberFeedbackIDs[0] != "c" {
		t.Fatalf("leftover catch-all: %+v", last)
	}
	if last.Fallback {
		t.Fatal("catch-all alongside real clusters is not a fallback")
	}
}
