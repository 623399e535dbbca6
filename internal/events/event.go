// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"github.com/google/uuid"

	"feedback_insights_backend/internal/feedback/domain"
	"feedback_insights_backend/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// RunEnqueued is published when a pipeline run has been accepted and is
// waiting for execution. In-process deployments execute the run off this
// event; worker deployments enqueue an asynq task instead.
type RunEnqueued struct {
	BaseEvent
	RunID uuid.UUID             `json:"runId"`
	Items []domain.FeedbackItem `json:"items"`
}

func (e RunEnqueued) EventName() string { return "feedback.run.enqueued" }

// RunFinished is published after a run reaches a terminal stage, whichever
// process executed it.
type RunFinished struct {
	BaseEvent
	RunID  uuid.UUID `json:"runId"`
	Failed bool      `json:"failed"`
	Error  string    `json:"error,omitempty"`
}

func (e RunFinished) EventName() string { return "feedback.run.finished" }
