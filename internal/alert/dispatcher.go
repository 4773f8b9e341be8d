// internal/alert/dispatcher.go
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
	"github.com/charannyk06/shadower-analytics/internal/metrics"
)

// Dispatcher hands alert events to the external delivery system. Emission is
// fire-and-forget; delivery confirmation is not this subsystem's concern.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev anomaly.AlertEvent) error
}

// ChannelDispatcher buffers alert events on a channel drained by the
// delivery integration. Emission never blocks the stream: a full buffer or
// an exhausted flood guard drops the event with a counter bump.
type ChannelDispatcher struct {
	events    chan anomaly.AlertEvent
	limiter   *rate.Limiter
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewChannelDispatcher creates a dispatcher with the given buffer and flood
// guard (events per second with burst).
func NewChannelDispatcher(buffer int, perSecond float64, burst int, logger *zap.Logger) *ChannelDispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &ChannelDispatcher{
		events:  make(chan anomaly.AlertEvent, buffer),
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

// Dispatch implements Dispatcher.
func (d *ChannelDispatcher) Dispatch(_ context.Context, ev anomaly.AlertEvent) error {
	if !d.limiter.Allow() {
		metrics.AlertsSuppressed.Inc()
		d.logger.Warn("alert suppressed by flood guard",
			zap.String("workspace_id", ev.WorkspaceID),
			zap.String("metric_type", ev.MetricType))
		return nil
	}

	select {
	case d.events <- ev:
		metrics.AlertsEmitted.Inc()
	default:
		metrics.AlertsSuppressed.Inc()
		d.logger.Warn("alert dropped, dispatch buffer full",
			zap.String("anomaly_id", ev.AnomalyID))
	}
	return nil
}

// Events exposes the outgoing alert stream to the delivery integration. The
// channel is closed by Close, ending the consumer's range loop.
func (d *ChannelDispatcher) Events() <-chan anomaly.AlertEvent {
	return d.events
}

// Close ends the alert stream. Call only after every producer has stopped
// dispatching; safe to call more than once.
func (d *ChannelDispatcher) Close() {
	d.closeOnce.Do(func() { close(d.events) })
}

// InternalAlert is an operator-facing notification, never user-visible.
type InternalAlert struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	MetricType  string    `json:"metric_type"`
	Reason      string    `json:"reason"`
	RaisedAt    time.Time `json:"raised_at"`
}

// OpsAlerter raises internal alerts, e.g. a baseline model going degraded.
// It satisfies baseline.Notifier.
type OpsAlerter struct {
	logger *zap.Logger
	alerts chan InternalAlert
}

// NewOpsAlerter creates an internal alerter.
func NewOpsAlerter(buffer int, logger *zap.Logger) *OpsAlerter {
	if buffer <= 0 {
		buffer = 128
	}
	return &OpsAlerter{
		logger: logger,
		alerts: make(chan InternalAlert, buffer),
	}
}

// NotifyInternal records an internal alert. Non-blocking.
func (o *OpsAlerter) NotifyInternal(workspaceID, metricType, reason string) {
	al := InternalAlert{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		MetricType:  metricType,
		Reason:      reason,
		RaisedAt:    time.Now().UTC(),
	}
	o.logger.Warn("internal alert",
		zap.String("workspace_id", workspaceID),
		zap.String("metric_type", metricType),
		zap.String("reason", reason))

	select {
	case o.alerts <- al:
	default:
	}
}

// Alerts exposes pending internal alerts.
func (o *OpsAlerter) Alerts() <-chan InternalAlert {
	return o.alerts
}
