package telemetry

import (
	"context"
	"errors"

	"atm-terminal/backend/internal/domain"
)

// EventEmitter mirrors audit events to an external sink (OTel logs, Kafka, Loki).
// Best-effort; the store's event log remains the record of truth.
type EventEmitter interface {
	Emit(ctx context.Context, ev *domain.Event) error
}

// Multi fans one event out to every non-nil emitter and joins their errors.
func Multi(emitters ...EventEmitter) EventEmitter {
	out := make(multi, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multi []EventEmitter

func (m multi) Emit(ctx context.Context, ev *domain.Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
