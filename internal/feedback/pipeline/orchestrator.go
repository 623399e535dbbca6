// Package pipeline sequences one feedback run through Validation,
// Enrichment, Clustering, InsightGeneration and Scoring, emitting one event
// per meaningful sub-step. Per-item failures degrade to fallbacks; stage
// failures terminate the run with a single failure event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/internal/feedback/event"
	"feedback_insights_backend/internal/feedback/executor"
	"feedback_insights_backend/platform/apperr"
	"feedback_insights_backend/platform/logger"
)

const (
	defaultBatchSize   = 10
	defaultConcurrency = 3
)

// Sink receives pipeline events. Emit must never block the caller; transport
// problems are the sink's concern, not the run's.
type Sink interface {
	Emit(evt event.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(evt event.Event)

// Emit calls the underlying function.
func (f SinkFunc) Emit(evt event.Event) { f(evt) }

// Options tunes one orchestrator instance. Zero values select the defaults.
type Options struct {
	// RunID pre-assigns the run's identity so consumers can subscribe to the
	// stream before execution starts. Zero means generate one.
	RunID       uuid.UUID
	BatchSize   int           // items per enrichment batch, default 10
	Concurrency int           // executor ceiling inside a batch, default 3
	MaxRetries  int           // per-item enrichment retries
	RetryDelay  time.Duration // fixed inter-attempt delay
	MinInterval time.Duration // minimum spacing between collaborator calls
	SampleTexts int           // member texts handed to the insight collaborator, default 3
	Weights     ScoreWeights  // scoring weights, zero value selects defaults
}

func (o Options) normalized() Options {
	if o.BatchSize < 1 {
		o.BatchSize = defaultBatchSize
	}
	if o.Concurrency < 1 {
		o.Concurrency = defaultConcurrency
	}
	if o.SampleTexts < 1 {
		o.SampleTexts = 3
	}
	if o.Weights == (ScoreWeights{}) {
		o.Weights = DefaultScoreWeights()
	}
	return o
}

// Result is the in-process view of a finished run. Consumers on the other
// side of the event stream rebuild the same state via the replay package.
type Result struct {
	Run         *domain.PipelineRun
	Enrichments map[string]domain.EnrichmentRecord
	Clusters    []domain.Cluster
	Insights    []domain.Insight
	Scores      []domain.InsightScore
}

// Orchestrator owns one run's stage sequencing. Not safe for concurrent
// Run calls; create one orchestrator per run.
type Orchestrator struct {
	enricher  Enricher
	clusterer Clusterer
	insights  InsightGenerator
	scorer    ComponentScorer // optional
	sink      Sink
	log       *logger.Logger
	opts      Options
}

// New creates an orchestrator. The scorer may be nil.
func New(enricher Enricher, clusterer Clusterer, insights InsightGenerator, scorer ComponentScorer, sink Sink, log *logger.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		enricher:  enricher,
		clusterer: clusterer,
		insights:  insights,
		scorer:    scorer,
		sink:      sink,
		log:       log,
		opts:      opts.normalized(),
	}
}

// Run executes the full pipeline over items. On cancellation the run stops
// between batches with no terminal event; any other stage failure emits
// exactly one pipeline-failed event.
func (o *Orchestrator) Run(ctx context.Context, items []domain.FeedbackItem) (result *Result, err error) {
	run := domain.NewPipelineRun(len(items))
	if o.opts.RunID != uuid.Nil {
		run.ID = o.opts.RunID
	}
	log := o.log.WithRunID(run.ID.String())

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Sprintf("panic in stage %s: %v", run.Stage, r)
			log.Error("pipeline run panicked", "stage", run.Stage, "cause", cause)
			o.failRun(run, cause)
			result, err = nil, apperr.Internal(cause)
		}
	}()

	// Validation runs before any stage event is emitted.
	valid := make([]domain.FeedbackItem, 0, len(items))
	for _, item := range items {
		if item.Valid() {
			valid = append(valid, item)
		}
	}
	run.ValidItems = len(valid)
	if len(valid) == 0 {
		cause := "no valid feedback items: every item is missing text, a user or a timestamp"
		o.failRun(run, cause)
		return nil, apperr.Validation(cause)
	}

	o.emit(&event.PipelineStarted{
		Base:       event.NewBase(event.TypePipelineStarted, run.ID),
		TotalItems: len(items),
		ValidItems: len(valid),
	})

	enrichments, err := o.runEnrichment(ctx, run, log, valid)
	if err != nil {
		return nil, o.stageError(run, log, err)
	}
	run.EnrichedCount = len(valid)

	clusters, err := o.runClustering(ctx, run, log, valid, enrichments)
	if err != nil {
		return nil, o.stageError(run, log, err)
	}
	run.ClusterCount = len(clusters)

	insights, err := o.runInsightGeneration(ctx, run, log, clusters, valid)
	if err != nil {
		return nil, o.stageError(run, log, err)
	}
	run.InsightCount = len(insights)

	if err := run.Advance(domain.StageScoring); err != nil {
		return nil, o.stageError(run, log, err)
	}
	log.StageTransition(run.ID.String(), string(domain.StageInsightGeneration), string(domain.StageScoring))
	scores := o.scoreInsights(ctx, insights, len(valid))

	if err := run.Advance(domain.StageComplete); err != nil {
		return nil, o.stageError(run, log, err)
	}
	o.emit(&event.PipelineComplete{
		Base:          event.NewBase(event.TypePipelineComplete, run.ID),
		EnrichedCount: run.EnrichedCount,
		ClusterCount:  run.ClusterCount,
		InsightCount:  run.InsightCount,
		Scores:        scores,
	})
	log.Info("pipeline run complete",
		"enriched", run.EnrichedCount,
		"clusters", run.ClusterCount,
		"insights", run.InsightCount,
	)

	return &Result{
		Run:         run,
		Enrichments: enrichments,
		Clusters:    clusters,
		Insights:    insights,
		Scores:      scores,
	}, nil
}

// itemTrace records the collaborator exchange for one item in a batch. Each
// slot is written only by the goroutine that owns the item and read after
// the batch settles.
type itemTrace struct {
	callID   string
	request  string
	response string
}

func (o *Orchestrator) runEnrichment(ctx context.Context, run *domain.PipelineRun, log *logger.Logger, valid []domain.FeedbackItem) (map[string]domain.EnrichmentRecord, error) {
	if err := run.Advance(domain.StageEnrichment); err != nil {
		return nil, err
	}
	log.StageTransition(run.ID.String(), string(domain.StageValidation), string(domain.StageEnrichment))

	for _, item := range valid {
		o.emit(&event.EnrichmentStarted{
			Base:       event.NewBase(event.TypeEnrichmentStarted, run.ID),
			FeedbackID: item.ID,
			Text:       item.Text,
			Source:     item.Source,
		})
	}

	enrichments := make(map[string]domain.EnrichmentRecord, len(valid))

	for batchStart := 0; batchStart < len(valid); batchStart += o.opts.BatchSize {
		// Cancellation is observed between batches only; dispatched
		// collaborator calls always finish.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := valid[batchStart:min(batchStart+o.opts.BatchSize, len(valid))]
		traces := make([]itemTrace, len(batch))

		indices := make([]int, len(batch))
		for i := range indices {
			indices[i] = i
		}

		res, procErr := executor.Process(ctx, indices, func(ctx context.Context, i int) (domain.EnrichmentRecord, error) {
			item := batch[i]
			start := time.Now()
			out, err := o.enricher.Enrich(ctx, EnrichmentRequest{ID: item.ID, Text: item.Text})
			log.CollaboratorCall(run.ID.String(), "enrichment", float64(time.Since(start).Milliseconds()), err)

			traces[i] = itemTrace{
				callID:   uuid.NewString(),
				request:  out.RawRequest,
				response: out.RawResponse,
			}
			if err != nil {
				return domain.EnrichmentRecord{}, err
			}
			return out.Record, nil
		}, executor.Options[domain.EnrichmentRecord]{
			Concurrency: o.opts.Concurrency,
			MaxRetries:  o.opts.MaxRetries,
			RetryDelay:  o.opts.RetryDelay,
			MinInterval: o.opts.MinInterval,
		})
		if procErr != nil && !isCancellation(procErr) {
			return nil, procErr
		}

		// Flush events in original item order now that the batch settled.
		for i, outcome := range res.Outcomes {
			item := batch[i]
			trace := traces[i]

			o.emit(&event.EnrichmentAICall{
				Base:       event.NewBase(event.TypeEnrichmentAICall, run.ID),
				FeedbackID: item.ID,
				CallID:     trace.callID,
				Request:    trace.request,
			})
			response := trace.response
			if response == "" && outcome.Err != "" {
				response = outcome.Err
			}
			o.emit(&event.EnrichmentAIResponse{
				Base:       event.NewBase(event.TypeEnrichmentAIResponse, run.ID),
				FeedbackID: item.ID,
				CallID:     trace.callID,
				Response:   response,
			})

			record := outcome.Value
			if !outcome.Success {
				log.Warn("enrichment failed, using fallback record", "feedbackId", item.ID, "error", outcome.Err)
				record = domain.FallbackEnrichment(item.ID)
				run.Errors = append(run.Errors, fmt.Sprintf("enrichment %s: %s", item.ID, outcome.Err))
			}
			record.FeedbackID = item.ID
			enrichments[item.ID] = record

			o.emit(&event.EnrichmentComplete{
				Base:       event.NewBase(event.TypeEnrichmentComplete, run.ID),
				FeedbackID: item.ID,
				Record:     record,
				Success:    outcome.Success,
			})
		}

		if procErr != nil {
			return nil, procErr
		}
	}

	return enrichments, nil
}

func (o *Orchestrator) runClustering(ctx context.Context, run *domain.PipelineRun, log *logger.Logger, valid []domain.FeedbackItem, enrichments map[string]domain.EnrichmentRecord) ([]domain.Cluster, error) {
	if err := run.Advance(domain.StageClustering); err != nil {
		return nil, err
	}
	log.StageTransition(run.ID.String(), string(domain.StageEnrichment), string(domain.StageClustering))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]domain.EnrichmentRecord, 0, len(valid))
	allIDs := make([]string, 0, len(valid))
	for _, item := range valid {
		records = append(records, enrichments[item.ID])
		allIDs = append(allIDs, item.ID)
	}

	start := time.Now()
	proposals, err := o.clusterer.Cluster(ctx, records)
	log.CollaboratorCall(run.ID.String(), "clustering", float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		if isCancellation(err) {
			return nil, err
		}
		// Explicit fallback: unparseable output collapses into one labeled
		// catch-all cluster holding every enriched item.
		log.Warn("clustering output unparseable, using catch-all cluster", "error", err)
		run.Errors = append(run.Errors, "clustering: "+err.Error())
		proposals = nil
	}

	clusters := buildClusters(proposals, allIDs, enrichments)

	for i := range clusters {
		o.emit(&event.ClusterCreated{
			Base:    event.NewBase(event.TypeClusterCreated, run.ID),
			Cluster: clusters[i],
		})
	}
	o.emit(&event.ClusteringComplete{
		Base:         event.NewBase(event.TypeClusteringComplete, run.ID),
		ClusterCount: len(clusters),
	})

	return clusters, nil
}

// buildClusters turns collaborator proposals into domain clusters, enforcing
// that every enriched item lands in exactly one cluster: unknown member ids
// are dropped, duplicates keep their first assignment, and unassigned items
// collect into a labeled catch-all.
func buildClusters(proposals []ClusterProposal, allIDs []string, enrichments map[string]domain.EnrichmentRecord) []domain.Cluster {
	assigned := make(map[string]bool, len(allIDs))
	clusters := make([]domain.Cluster, 0, len(proposals)+1)

	for _, p := range proposals {
		members := make([]string, 0, len(p.MemberIDs))
		for _, id := range p.MemberIDs {
			if _, known := enrichments[id]; !known || assigned[id] {
				continue
			}
			assigned[id] = true
			members = append(members, id)
		}
		if len(members) == 0 {
			continue
		}
		cluster := domain.Cluster{
			ID:                uuid.NewString(),
			Theme:             p.Theme,
			Description:       p.Description,
			MemberFeedbackIDs: members,
		}
		cluster.DominantSentiment, cluster.AvgConfidence = summarizeMembers(members, enrichments)
		clusters = append(clusters, cluster)
	}

	var leftovers []string
	for _, id := range allIDs {
		if !assigned[id] {
			leftovers = append(leftovers, id)
		}
	}
	if len(leftovers) > 0 {
		catchAll := domain.Cluster{
			ID:                uuid.NewString(),
			Theme:             "General Feedback",
			Description:       "Feedback items not assigned to a specific theme",
			MemberFeedbackIDs: leftovers,
			Fallback:          len(clusters) == 0,
		}
		catchAll.DominantSentiment, catchAll.AvgConfidence = summarizeMembers(leftovers, enrichments)
		clusters = append(clusters, catchAll)
	}

	return clusters
}

func summarizeMembers(ids []string, enrichments map[string]domain.EnrichmentRecord) (string, float64) {
	counts := make(map[string]int)
	var confidenceSum float64
	for _, id := range ids {
		record := enrichments[id]
		counts[record.Sentiment.Label]++
		confidenceSum += record.Sentiment.Confidence
	}

	dominant := ""
	best := 0
	for label, n := range counts {
		if n > best || (n == best && label < dominant) {
			dominant = label
			best = n
		}
	}

	avg := 0.0
	if len(ids) > 0 {
		avg = confidenceSum / float64(len(ids))
	}
	return dominant, avg
}

func (o *Orchestrator) runInsightGeneration(ctx context.Context, run *domain.PipelineRun, log *logger.Logger, clusters []domain.Cluster, valid []domain.FeedbackItem) ([]domain.Insight, error) {
	if err := run.Advance(domain.StageInsightGeneration); err != nil {
		return nil, err
	}
	log.StageTransition(run.ID.String(), string(domain.StageClustering), string(domain.StageInsightGeneration))

	texts := make(map[string]string, len(valid))
	for _, item := range valid {
		texts[item.ID] = item.Text
	}

	insights := make([]domain.Insight, 0, len(clusters))

	// One collaborator call per cluster, sequential to bound collaborator
	// load.
	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		samples := sampleTexts(cluster.MemberFeedbackIDs, texts, o.opts.SampleTexts)

		start := time.Now()
		proposal, err := o.insights.GenerateInsight(ctx, cluster, samples)
		log.CollaboratorCall(run.ID.String(), "insight", float64(time.Since(start).Milliseconds()), err)

		insight := domain.Insight{
			ID:                uuid.NewString(),
			ClusterID:         cluster.ID,
			AffectedUserCount: len(cluster.MemberFeedbackIDs),
			EvidenceCount:     len(samples),
		}
		if err != nil {
			if isCancellation(err) {
				return nil, err
			}
			// Explicit fallback: a generic low-confidence insight so the
			// cluster still surfaces downstream.
			log.Warn("insight output unparseable, using generic insight", "clusterId", cluster.ID, "error", err)
			run.Errors = append(run.Errors, "insight "+cluster.ID+": "+err.Error())
			insight.Title = "Review feedback: " + cluster.Theme
			insight.Summary = fmt.Sprintf("%d feedback items share the theme %q and need manual review.", len(cluster.MemberFeedbackIDs), cluster.Theme)
			insight.Severity = domain.SeverityLow
			insight.Confidence = 0.3
			insight.Fallback = true
		} else {
			insight.Title = proposal.Title
			insight.Summary = proposal.Summary
			insight.Severity = normalizeSeverity(proposal.Severity)
			insight.Confidence = proposal.Confidence
			insight.RecommendationCount = len(proposal.RecommendedActions)
		}

		insights = append(insights, insight)
		o.emit(&event.InsightCreated{
			Base:    event.NewBase(event.TypeInsightCreated, run.ID),
			Insight: insight,
		})
	}

	o.emit(&event.InsightGenerationComplete{
		Base:         event.NewBase(event.TypeInsightGenerationComplete, run.ID),
		InsightCount: len(insights),
	})

	return insights, nil
}

func sampleTexts(ids []string, texts map[string]string, limit int) []string {
	samples := make([]string, 0, limit)
	for _, id := range ids {
		if text, ok := texts[id]; ok && text != "" {
			samples = append(samples, text)
			if len(samples) == limit {
				break
			}
		}
	}
	return samples
}

func normalizeSeverity(s domain.Severity) domain.Severity {
	switch s {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		return s
	default:
		return domain.SeverityMedium
	}
}

// stageError turns an unexpected stage failure into the terminal failed
// state. Cancellation stops the run silently: already-emitted events stand,
// no terminal event follows.
func (o *Orchestrator) stageError(run *domain.PipelineRun, log *logger.Logger, err error) error {
	if isCancellation(err) {
		log.Info("pipeline run cancelled", "stage", run.Stage)
		return err
	}
	log.Error("pipeline stage failed", "stage", run.Stage, "error", err)
	o.failRun(run, err.Error())
	return err
}

// failRun marks the run failed and emits its single terminal failure event.
func (o *Orchestrator) failRun(run *domain.PipelineRun, cause string) {
	stage := run.Stage
	run.Fail(cause)
	o.emit(&event.PipelineFailed{
		Base:  event.NewBase(event.TypePipelineFailed, run.ID),
		Stage: string(stage),
		Error: cause,
	})
}

func (o *Orchestrator) emit(evt event.Event) {
	o.sink.Emit(evt)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
