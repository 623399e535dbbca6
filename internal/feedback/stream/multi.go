package stream

import "feedback_insights_backend/internal/feedback/event"

// Sink mirrors the pipeline's sink contract so fan-out stays local to this
// package.
type Sink interface {
	Emit(evt event.Event)
}

// MultiSink forwards each event to every configured sink in order.
type MultiSink []Sink

// Emit fans the event out.
func (m MultiSink) Emit(evt event.Event) {
	for _, sink := range m {
		sink.Emit(evt)
	}
}
