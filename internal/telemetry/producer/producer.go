// Package producer mirrors audit events to a message broker.
package producer

import (
	"context"

	"atm-terminal/backend/internal/domain"
)

// Producer publishes audit events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, ev *domain.Event) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}
