package telemetry

import (
	"context"
	"log/slog"
	"time"

	"atm-terminal/backend/internal/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait before shutting down OTel
// providers so in-flight async emits can complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// Errors are logged on logger (slog.Default when nil).
//
// emitter and ev may be nil; EmitAsync then returns without starting a goroutine.
// The goroutine uses context.Background so caller cancellation does not abort the emit.
func EmitAsync(emitter EventEmitter, logger *slog.Logger, ev *domain.Event) {
	if emitter == nil || ev == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	cp := *ev
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, &cp); err != nil {
			logger.Warn("telemetry: async emit failed", "event_id", cp.ID, "err", err)
		}
	}()
}
