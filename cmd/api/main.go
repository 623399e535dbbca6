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
	apphttp "feedback_insights_backend/internal/http"
	"feedback_insights_backend/internal/http/router"
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

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("invalid REDIS_URL", "error", err)
			panic("invalid REDIS_URL: " + err.Error())
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()
	}

	// Asynq client: when enabled, runs execute in the worker process.
	var enqueuer scheduler.PipelineEnqueuer
	if cfg.IsAsynqEnabled() {
		client, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize scheduler client", "error", err)
			panic("failed to initialize scheduler client: " + err.Error())
		}
		defer client.Close()
		enqueuer = client
		log.Info("pipeline runs will execute on the asynq worker", "queue", cfg.AsynqQueueName)
	}

	// Optional Redis stream fan-out of the event lines.
	var extraSinks []stream.Sink
	if redisClient != nil && cfg.IsRedisStreamEnabled() {
		extraSinks = append(extraSinks, stream.NewRedisSink(redisClient, cfg.RedisEventStream, log))
		log.Info("redis event stream enabled", "stream", cfg.RedisEventStream)
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	feedbackModule, err := feedback.NewModule(ctx, cfg, eventBus, val, log, enqueuer, extraSinks...)
	if err != nil {
		log.Error("failed to initialize feedback module", "error", err)
		panic("failed to initialize feedback module: " + err.Error())
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			feedbackModule,
		},
	}
	if redisClient != nil {
		app.Health = redisHealth{client: redisClient}
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		feedbackModule.Broadcast().Close()
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// redisHealth adapts the redis client to the router's readiness check.
type redisHealth struct {
	client *redis.Client
}

func (h redisHealth) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}
