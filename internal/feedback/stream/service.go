// Package stream fans pipeline events out to consumers: an SSE broadcast
// service for connected clients and an optional Redis stream sink for
// cross-process consumers. Transport problems here never block or fail a
// run; a slow consumer only degrades its own view.
package stream

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"feedback_insights_backend/internal/feedback/event"
	"feedback_insights_backend/internal/feedback/replay"
	"feedback_insights_backend/platform/logger"
)

const subscriberBuffer = 64

// subscriber is one connected SSE client.
type subscriber struct {
	lines chan []byte
}

// runStream holds one run's buffered events and its live subscribers.
type runStream struct {
	history     []event.Event
	subscribers []*subscriber
	terminal    bool
}

// Service buffers each run's event stream and broadcasts new events to
// per-run subscribers. It implements the pipeline Sink.
type Service struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*runStream
	log  *logger.Logger
}

// New creates the broadcast service.
func New(log *logger.Logger) *Service {
	return &Service{
		runs: make(map[uuid.UUID]*runStream),
		log:  log,
	}
}

// Register announces a run before its first event so subscribers can attach
// between enqueue and execution.
func (s *Service) Register(runID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		s.runs[runID] = &runStream{}
	}
}

// Emit buffers the event and broadcasts its wire line to every subscriber of
// the run. A full subscriber buffer drops the line for that subscriber only.
func (s *Service) Emit(evt event.Event) {
	line, err := event.EncodeLine(evt)
	if err != nil {
		s.log.Error("encode event for broadcast", "type", string(evt.EventType()), "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[evt.RunID()]
	if !ok {
		run = &runStream{}
		s.runs[evt.RunID()] = run
	}
	run.history = append(run.history, evt)

	// Sends are non-blocking, so holding the lock here keeps close and send
	// serialized without stalling the pipeline.
	for _, sub := range run.subscribers {
		select {
		case sub.lines <- line:
		default:
			s.log.Warn("subscriber buffer full, dropping event",
				"run_id", evt.RunID().String(), "type", string(evt.EventType()))
		}
	}

	if evt.EventType() == event.TypePipelineComplete || evt.EventType() == event.TypePipelineFailed {
		run.terminal = true
		for _, sub := range run.subscribers {
			close(sub.lines)
		}
		run.subscribers = nil
	}
}

// Subscribe attaches to a run's stream. The returned channel first replays
// the buffered history, then receives live events. Returns false when the
// run is unknown.
func (s *Service) Subscribe(runID uuid.UUID) (<-chan []byte, func(), bool) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return nil, nil, false
	}

	sub := &subscriber{lines: make(chan []byte, subscriberBuffer+len(run.history))}
	for _, evt := range run.history {
		if line, err := event.EncodeLine(evt); err == nil {
			sub.lines <- line
		}
	}
	terminal := run.terminal
	if !terminal {
		run.subscribers = append(run.subscribers, sub)
	}
	s.mu.Unlock()

	if terminal {
		close(sub.lines)
		return sub.lines, func() {}, true
	}

	// cancel detaches without closing; Emit owns the close so a concurrent
	// broadcast never hits a closed channel.
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range run.subscribers {
			if existing == sub {
				run.subscribers = append(run.subscribers[:i], run.subscribers[i+1:]...)
				break
			}
		}
	}
	return sub.lines, cancel, true
}

// State folds the run's buffered events into the reconstructed state.
func (s *Service) State(runID uuid.UUID) (replay.State, bool) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.RUnlock()
		return replay.State{}, false
	}
	history := make([]event.Event, len(run.history))
	copy(history, run.history)
	s.mu.RUnlock()

	return replay.Fold(history), true
}

// Handler returns a gin handler streaming one run's events as SSE.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		lines, cancel, ok := s.Subscribe(runID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
			return
		}
		defer cancel()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case line, open := <-lines:
				if !open {
					return
				}
				if _, err := c.Writer.Write(line); err != nil {
					return
				}
				// Blank line terminates the SSE frame.
				if _, err := c.Writer.Write([]byte("\n")); err != nil {
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

// Close drops every run and disconnects all subscribers.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		for _, sub := range run.subscribers {
			close(sub.lines)
		}
		run.subscribers = nil
	}
	s.runs = make(map[uuid.UUID]*runStream)
}
