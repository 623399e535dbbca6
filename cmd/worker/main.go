package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"feedback_insights_backend/internal/events"
	"feedback_insights_backend/internal/feedback"
	"feedback_insights_backend/internal/feedback/stream"
	"feedback_insights_backend/internal/scheduler"
	"feedback_insights_backend/platform/config"
	"feedback_insights_backend/platform/logger"
	"feedback_insights_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting pipeline worker", "env", cfg.Env, "queue", cfg.AsynqQueueName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RedisURL == "" {
		panic("REDIS_URL is required for the worker")
	}

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		panic("invalid REDIS_URL: " + err.Error())
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	// The worker publishes to the same Redis event stream as the API so
	// cross-process consumers see one stream regardless of executor.
	var extraSinks []stream.Sink
	if cfg.IsRedisStreamEnabled() {
		extraSinks = append(extraSinks, stream.NewRedisSink(redisClient, cfg.RedisEventStream, log))
		log.Info("redis event stream enabled", "stream", cfg.RedisEventStream)
	}

	// No enqueuer here: the worker executes runs, it never re-enqueues them.
	feedbackModule, err := feedback.NewModule(ctx, cfg, eventBus, val, log, nil, extraSinks...)
	if err != nil {
		log.Error("failed to initialize feedback module", "error", err)
		panic("failed to initialize feedback module: " + err.Error())
	}

	worker, err := scheduler.NewWorker(cfg, feedbackModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	worker.Run(ctx)
	log.Info("worker stopped")
}
