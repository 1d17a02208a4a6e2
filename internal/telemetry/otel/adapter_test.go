package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"atm-terminal/backend/internal/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), &domain.Event{ID: "e1"}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
	n   int
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
	r.n++
}

func attrs(rec otellog.Record) map[string]string {
	out := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestEmit_Mapping(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := &domain.Event{ID: "e1", AccountID: "u1", Timestamp: ts, Message: "Deposited $100.00 successfully"}
	if err := em.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if cap.n != 1 {
		t.Fatalf("records = %d, want 1", cap.n)
	}
	if got := cap.rec.Body().AsString(); got != ev.Message {
		t.Errorf("body = %q, want %q", got, ev.Message)
	}
	if !cap.rec.Timestamp().Equal(ts) {
		t.Errorf("timestamp = %v, want %v", cap.rec.Timestamp(), ts)
	}
	a := attrs(cap.rec)
	if a["event_id"] != "e1" || a["account_id"] != "u1" {
		t.Errorf("attributes = %v", a)
	}
}

func TestEmit_NoAccount_OmitsAttribute(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	if err := em.Emit(context.Background(), &domain.Event{ID: "e2", Message: "Failed login attempt. Attempts left: 2"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if _, ok := attrs(cap.rec)["account_id"]; ok {
		t.Error("account_id should be omitted for events with no account")
	}
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	before := time.Now().UTC()
	if err := em.Emit(context.Background(), &domain.Event{ID: "e3"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	after := time.Now().UTC()
	ts := cap.rec.Timestamp()
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp = %v, should be between %v and %v", ts, before, after)
	}
}
