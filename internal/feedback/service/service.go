// Package service coordinates the feedback bounded context: it accepts runs,
// hands them to the pipeline orchestrator and exposes reconstructed state.
// Execution may happen in-process (event bus) or out of process (asynq
// worker); the service is the single entry point either way.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"feedback_insights_backend/internal/events"
	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/internal/feedback/pipeline"
	"feedback_insights_backend/internal/feedback/replay"
	"feedback_insights_backend/internal/feedback/stream"
	"feedback_insights_backend/internal/scheduler"
	"feedback_insights_backend/platform/apperr"
	"feedback_insights_backend/platform/logger"
)

// Collaborators bundles the AI-facing dependencies of a run.
type Collaborators struct {
	Enricher  pipeline.Enricher
	Clusterer pipeline.Clusterer
	Insights  pipeline.InsightGenerator
	Scorer    pipeline.ComponentScorer // optional
}

// Service owns run acceptance and execution.
type Service struct {
	collab    Collaborators
	broadcast *stream.Service
	sink      stream.Sink
	enqueuer  scheduler.PipelineEnqueuer // nil in in-process mode
	bus       events.Bus
	log       *logger.Logger
	opts      pipeline.Options
}

// New creates the feedback service. enqueuer may be nil; runs then execute
// in this process, triggered over the event bus.
func New(collab Collaborators, broadcast *stream.Service, sink stream.Sink, enqueuer scheduler.PipelineEnqueuer, bus events.Bus, log *logger.Logger, opts pipeline.Options) *Service {
	return &Service{
		collab:    collab,
		broadcast: broadcast,
		sink:      sink,
		enqueuer:  enqueuer,
		bus:       bus,
		log:       log,
		opts:      opts,
	}
}

// StartRun accepts a batch of feedback items, assigns a run id and schedules
// execution. The run id is valid for subscriptions immediately.
func (s *Service) StartRun(ctx context.Context, items []domain.FeedbackItem) (uuid.UUID, error) {
	if len(items) == 0 {
		return uuid.Nil, apperr.BadRequest("no feedback items to process")
	}

	runID := uuid.New()
	s.broadcast.Register(runID)

	if s.enqueuer != nil {
		payload := scheduler.PipelineRunPayload{RunID: runID.String(), Items: items}
		if err := s.enqueuer.EnqueuePipelineRun(ctx, payload); err != nil {
			return uuid.Nil, fmt.Errorf("enqueue pipeline run: %w", err)
		}
	} else {
		s.bus.Publish(ctx, events.RunEnqueued{
			BaseEvent: events.NewBaseEvent(),
			RunID:     runID,
			Items:     items,
		})
	}

	s.log.Info("pipeline run accepted", "run_id", runID.String(), "items", len(items), "queued", s.enqueuer != nil)
	return runID, nil
}

// Execute runs the pipeline for a pre-assigned run id. It is called by the
// asynq worker or by the in-process bus subscription.
func (s *Service) Execute(ctx context.Context, runID uuid.UUID, items []domain.FeedbackItem) error {
	s.broadcast.Register(runID)

	opts := s.opts
	opts.RunID = runID
	orch := pipeline.New(s.collab.Enricher, s.collab.Clusterer, s.collab.Insights, s.collab.Scorer, s.sink, s.log, opts)

	_, err := orch.Run(ctx, items)

	finished := events.RunFinished{BaseEvent: events.NewBaseEvent(), RunID: runID}
	if err != nil {
		finished.Failed = true
		finished.Error = err.Error()
	}
	s.bus.Publish(context.WithoutCancel(ctx), finished)

	return err
}

// State folds the run's buffered events into the reconstructed state.
func (s *Service) State(runID uuid.UUID) (replay.State, error) {
	state, ok := s.broadcast.State(runID)
	if !ok {
		return replay.State{}, apperr.NotFound(fmt.Sprintf("run %s not found", runID))
	}
	return state, nil
}
