// Package feedback provides the feedback insights bounded context module.
// This file defines the module that encapsulates all feedback setup and
// route registration.
package feedback

import (
	"context"
	"fmt"

	"feedback_insights_backend/internal/events"
	"feedback_insights_backend/internal/feedback/agent"
	"feedback_insights_backend/internal/feedback/handler"
	"feedback_insights_backend/internal/feedback/ingest"
	"feedback_insights_backend/internal/feedback/pipeline"
	"feedback_insights_backend/internal/feedback/service"
	"feedback_insights_backend/internal/feedback/stream"
	apphttp "feedback_insights_backend/internal/http"
	"feedback_insights_backend/internal/scheduler"
	"feedback_insights_backend/platform/ai/gemini"
	"feedback_insights_backend/platform/config"
	"feedback_insights_backend/platform/logger"
	"feedback_insights_backend/platform/validator"
)

// Module is the feedback bounded context module implementing http.Module.
type Module struct {
	handler   *handler.Handler
	service   *service.Service
	broadcast *stream.Service
}

// ModuleConfig is the slice of application config the module needs.
type ModuleConfig interface {
	config.AIConfig
	config.PipelineConfig
}

// NewModule creates and initializes the feedback module with all its
// dependencies. enqueuer may be nil: runs then execute inside this process,
// triggered over the event bus. extraSinks (e.g. the Redis stream sink)
// receive every pipeline event alongside the SSE broadcast.
func NewModule(ctx context.Context, cfg ModuleConfig, eventBus events.Bus, val *validator.Validator, log *logger.Logger, enqueuer scheduler.PipelineEnqueuer, extraSinks ...stream.Sink) (*Module, error) {
	if !cfg.IsAIEnabled() {
		return nil, fmt.Errorf("feedback module needs an AI collaborator: set GEMINI_API_KEY")
	}

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:  cfg.GetGeminiAPIKey(),
		Model:   cfg.GetGeminiModel(),
		Timeout: cfg.GetGeminiTimeout(),
	})
	if err != nil {
		return nil, err
	}

	collab := service.Collaborators{
		Enricher:  agent.NewEnricher(client),
		Clusterer: agent.NewClusterer(client),
		Insights:  agent.NewInsightGenerator(client),
	}

	weights := pipeline.DefaultScoreWeights()
	if path := cfg.GetScoringWeightsPath(); path != "" {
		weights, err = pipeline.LoadScoreWeights(path)
		if err != nil {
			return nil, err
		}
	}

	broadcast := stream.New(log)
	sink := append(stream.MultiSink{broadcast}, extraSinks...)

	svc := service.New(collab, broadcast, sink, enqueuer, eventBus, log, pipeline.Options{
		BatchSize:   cfg.GetEnrichmentBatchSize(),
		Concurrency: cfg.GetEnrichmentConcurrency(),
		MaxRetries:  cfg.GetEnrichmentMaxRetries(),
		RetryDelay:  cfg.GetEnrichmentRetryDelay(),
		MinInterval: cfg.GetCollaboratorMinInterval(),
		Weights:     weights,
	})

	// In-process mode: execute accepted runs off the bus, in the background.
	if enqueuer == nil {
		eventBus.Subscribe(events.RunEnqueued{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
			e, ok := event.(events.RunEnqueued)
			if !ok {
				return nil
			}

			go func() {
				if err := svc.Execute(context.Background(), e.RunID, e.Items); err != nil {
					log.Error("pipeline run failed", "error", err, "run_id", e.RunID.String())
				}
			}()

			return nil
		}))
	}

	h := handler.New(svc, ingest.NewReader(val), broadcast)

	return &Module{
		handler:   h,
		service:   svc,
		broadcast: broadcast,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "feedback"
}

// Service returns the run service for external use (e.g. the asynq worker).
func (m *Module) Service() *service.Service {
	return m.service
}

// Broadcast returns the SSE broadcast service.
func (m *Module) Broadcast() *stream.Service {
	return m.broadcast
}

// RegisterRoutes mounts feedback routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/feedback")
	m.handler.RegisterRoutes(group)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
