package notification

import (
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewSink),
	fx.Provide(NewLifecycleDispatcher),
	fx.Provide(func(d *Dispatcher) Publisher { return d }),
)

// NewSink logs every event and mails it as well when SMTP is configured.
func NewSink(cfg config.Config, holder *config.WorkflowConfigHolder, log *zap.Logger) Sink {
	sinks := MultiSink{NewLogSink(log)}
	if cfg.SMTP.Enabled() {
		sinks = append(sinks, NewEmailSink(NewSMTPSender(cfg.SMTP), NewConfigResolver(holder)))
	}
	return sinks
}

func NewLifecycleDispatcher(lc fx.Lifecycle, holder *config.WorkflowConfigHolder, sink Sink, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	rules := holder.Get().Notification
	d := NewDispatcher(log, sink, m, rules.Workers, rules.Buffer)
	lc.Append(fx.Hook{OnStop: d.Stop})
	return d
}
