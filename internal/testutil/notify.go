package testutil

import (
	"context"
	"sync"

	"github.com/smallbiznis/payflow/internal/notification"
)

// RecordingPublisher keeps published events in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (p *RecordingPublisher) Publish(_ context.Context, event notification.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *RecordingPublisher) Events() []notification.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notification.Event, len(p.events))
	copy(out, p.events)
	return out
}
