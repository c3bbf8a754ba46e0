package notification

import (
	"context"

	"go.uber.org/zap"
)

// Guard wraps p for callers that publish after their transaction has
// committed: a nil publisher is a no-op and a panicking one is logged and
// contained.
func Guard(p Publisher, log *zap.Logger) Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &guarded{next: p, log: log}
}

type guarded struct {
	next Publisher
	log  *zap.Logger
}

func (g *guarded) Publish(ctx context.Context, event Event) {
	if g.next == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("notification publish panicked", append(eventFields(event), zap.Any("panic", r))...)
		}
	}()
	g.next.Publish(ctx, event)
}
