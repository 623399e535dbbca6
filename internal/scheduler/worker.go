// Package scheduler moves pipeline execution out of the API process: the
// client enqueues a run as an asynq task, the worker dequeues it and hands it
// to the pipeline executor.
package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/platform/config"
	"feedback_insights_backend/platform/logger"
)

// PipelineExecutor runs one pipeline for a pre-assigned run id.
type PipelineExecutor interface {
	Execute(ctx context.Context, runID uuid.UUID, items []domain.FeedbackItem) error
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	executor PipelineExecutor
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, executor PipelineExecutor, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 4
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		executor: executor,
		log:      log,
	}

	mux.HandleFunc(TaskPipelineRun, w.handlePipelineRun)

	return w, nil
}

func (w *Worker) handlePipelineRun(ctx context.Context, task *asynq.Task) error {
	payload, err := ParsePipelineRunPayload(task)
	if err != nil {
		return err
	}

	runID, err := uuid.Parse(payload.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", payload.RunID, err)
	}

	w.log.Info("pipeline run dequeued", "run_id", runID.String(), "items", len(payload.Items))
	return w.executor.Execute(ctx, runID, payload.Items)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
