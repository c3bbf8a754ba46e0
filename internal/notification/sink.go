package notification

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// LogSink writes events to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notification")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, event Event) error {
	s.log.Info("notify",
		zap.String("event", string(event.Kind)),
		zap.String("document_kind", event.DocumentKind),
		zap.String("document_id", event.DocumentID.String()),
		zap.String("document_number", event.DocumentNumber),
		zap.String("status", event.Status),
		zap.Int("recipient_level", event.RecipientLevel),
		zap.String("recipient_user_id", event.RecipientUserID),
		zap.String("batch_number", event.BatchNumber),
	)
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Deliver(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Deliver(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
