package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"atm-terminal/backend/internal/domain"
	"atm-terminal/backend/internal/telemetry"
)

// recordEmitter is the subset of otellog.Logger used by the adapter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends audit events as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger("atm.audit"))
}

// NewEventEmitterWithLogger wraps any log record sink; tests pass a capture.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record. The message becomes the body.
func (e *otelEmitter) Emit(ctx context.Context, ev *domain.Event) error {
	if ev == nil {
		return nil
	}
	rec := otellog.Record{}
	if !ev.Timestamp.IsZero() {
		rec.SetTimestamp(ev.Timestamp)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue(ev.Message))
	rec.AddAttributes(otellog.String("event_id", ev.ID))
	if ev.AccountID != "" {
		rec.AddAttributes(otellog.String("account_id", ev.AccountID))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
