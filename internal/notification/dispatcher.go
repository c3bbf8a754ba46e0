package notification

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/payflow/internal/observability/metrics"
	"go.uber.org/zap"
)

const deliveryTimeout = 30 * time.Second

// Dispatcher queues events in a bounded channel drained by a fixed set of
// workers. A full queue drops the event.
type Dispatcher struct {
	log     *zap.Logger
	sink    Sink
	metrics *metrics.Metrics

	mu     sync.RWMutex
	queue  chan Event
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(log *zap.Logger, sink Sink, m *metrics.Metrics, workers, buffer int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}

	d := &Dispatcher{
		log:     log.Named("notification.dispatcher"),
		sink:    sink,
		metrics: m,
		queue:   make(chan Event, buffer),
	}

	for range workers {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn("dispatcher stopped, dropping notification", eventFields(event)...)
		d.metrics.RecordNotificationDropped(ctx, string(event.Kind))
		return
	}

	select {
	case d.queue <- event:
		d.metrics.RecordNotificationEnqueued(ctx, string(event.Kind))
	default:
		d.log.Warn("notification queue full, dropping notification", eventFields(event)...)
		d.metrics.RecordNotificationDropped(ctx, string(event.Kind))
	}
}

// Stop refuses new events and waits for queued ones to be delivered or ctx
// to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification sink panicked", append(eventFields(event), zap.Any("panic", r))...)
		}
	}()

	if err := d.sink.Deliver(ctx, event); err != nil {
		d.log.Warn("notification delivery failed", append(eventFields(event), zap.Error(err))...)
		d.metrics.RecordNotificationFailed(ctx, d.sink.Name(), string(event.Kind))
		return
	}
	d.metrics.RecordNotificationDelivered(ctx, d.sink.Name(), string(event.Kind))
}

func eventFields(event Event) []zap.Field {
	return []zap.Field{
		zap.String("event", string(event.Kind)),
		zap.String("document_kind", event.DocumentKind),
		zap.String("document_id", event.DocumentID.String()),
		zap.Int("recipient_level", event.RecipientLevel),
	}
}
