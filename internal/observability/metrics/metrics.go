package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level OTLP instruments for the notification
// pipeline.
type Metrics struct {
	notificationsEnqueued  metric.Int64Counter
	notificationsDropped   metric.Int64Counter
	notificationsDelivered metric.Int64Counter
	notificationsFailed    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "payflow"
	}
	meter := provider.Meter(name)

	enqueued, err := meter.Int64Counter("payflow_notifications_enqueued_total")
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("payflow_notifications_dropped_total")
	if err != nil {
		return nil, err
	}
	delivered, err := meter.Int64Counter("payflow_notifications_delivered_total")
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("payflow_notifications_failed_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		notificationsEnqueued:  enqueued,
		notificationsDropped:   dropped,
		notificationsDelivered: delivered,
		notificationsFailed:    failed,
	}, nil
}

// RecordNotificationEnqueued increments accepted notification counts.
func (m *Metrics) RecordNotificationEnqueued(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.notificationsEnqueued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNotificationDropped increments notifications dropped on a full queue.
func (m *Metrics) RecordNotificationDropped(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.notificationsDropped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNotificationDelivered increments successful sink deliveries.
func (m *Metrics) RecordNotificationDelivered(ctx context.Context, sink, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("sink", strings.TrimSpace(sink)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.notificationsDelivered.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNotificationFailed increments failed sink deliveries.
func (m *Metrics) RecordNotificationFailed(ctx context.Context, sink, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("sink", strings.TrimSpace(sink)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.notificationsFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_type":    {},
	"sink":          {},
	"document_kind": {},
	"scope":         {},
	"reason":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
