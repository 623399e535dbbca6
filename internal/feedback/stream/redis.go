package stream

import (
	"context"

	"github.com/redis/go-redis/v9"

	"feedback_insights_backend/internal/feedback/event"
	"feedback_insights_backend/platform/logger"
)

// RedisSink appends every event line to a Redis stream so consumers outside
// this process can follow a run. Write failures are logged and swallowed;
// the stream is observability, not the system of record.
type RedisSink struct {
	client *redis.Client
	stream string
	log    *logger.Logger
}

// NewRedisSink creates a sink writing to the named Redis stream.
func NewRedisSink(client *redis.Client, stream string, log *logger.Logger) *RedisSink {
	return &RedisSink{client: client, stream: stream, log: log}
}

// Emit XADDs the encoded wire line keyed by run id.
func (s *RedisSink) Emit(evt event.Event) {
	line, err := event.EncodeLine(evt)
	if err != nil {
		s.log.Error("encode event for redis stream", "type", string(evt.EventType()), "error", err)
		return
	}

	err = s.client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"runId": evt.RunID().String(),
			"type":  string(evt.EventType()),
			"line":  string(line),
		},
	}).Err()
	if err != nil {
		s.log.Warn("redis stream write failed",
			"stream", s.stream, "run_id", evt.RunID().String(), "error", err)
	}
}
