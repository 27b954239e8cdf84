package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/stackdeck/stackdeck/pkg/engine"
)

// Recorder subscribes to engine events and keeps the run metrics in sync. It
// implements engine.EventPublisher; all updates are in-memory counter moves,
// so publishing never blocks the scheduler.
type Recorder struct {
	metrics *Metrics

	mu       sync.Mutex
	runStart time.Time
	inFlight map[string]time.Time
}

// NewRecorder creates a recorder feeding the given metrics.
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{
		metrics:  metrics,
		inFlight: make(map[string]time.Time),
	}
}

// Publish implements engine.EventPublisher.
func (r *Recorder) Publish(_ context.Context, ev engine.Event) {
	switch ev.Type {
	case engine.EventRunStarted:
		r.mu.Lock()
		r.runStart = ev.Timestamp
		r.mu.Unlock()
		r.metrics.RunStarted()

	case engine.EventRunCompleted:
		r.metrics.RunCompleted("succeeded", r.runSeconds(ev.Timestamp))

	case engine.EventRunFailed:
		r.metrics.RunCompleted("failed", r.runSeconds(ev.Timestamp))

	case engine.EventStackStarted:
		r.mu.Lock()
		r.inFlight[ev.Stack] = ev.Timestamp
		r.mu.Unlock()
		r.metrics.StackStarted()

	case engine.EventStackSucceeded:
		r.metrics.StackCompleted("succeeded", r.stackSeconds(ev.Stack, ev.Timestamp))

	case engine.EventStackFailed:
		r.metrics.StackCompleted("failed", r.stackSeconds(ev.Stack, ev.Timestamp))

	case engine.EventStackBlocked:
		r.metrics.StackBlocked()
	}
}

func (r *Recorder) runSeconds(end time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runStart.IsZero() {
		return 0
	}
	return end.Sub(r.runStart).Seconds()
}

func (r *Recorder) stackSeconds(stack string, end time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, ok := r.inFlight[stack]
	if !ok {
		return 0
	}
	delete(r.inFlight, stack)
	return end.Sub(start).Seconds()
}

// Fanout publishes each event to every underlying publisher in order.
type Fanout []engine.EventPublisher

// Publish implements engine.EventPublisher.
func (f Fanout) Publish(ctx context.Context, ev engine.Event) {
	for _, p := range f {
		p.Publish(ctx, ev)
	}
}
