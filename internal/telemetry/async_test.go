package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"atm-terminal/backend/internal/domain"
)

// fakeEmitter implements EventEmitter for tests.
type fakeEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	delay   time.Duration
}

func (f *fakeEmitter) Emit(ctx context.Context, ev *domain.Event) error {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.emitErr
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync(nil, nil, &domain.Event{ID: "e1"})

	em := &fakeEmitter{}
	EmitAsync(em, nil, nil)
	time.Sleep(10 * time.Millisecond)
	if em.count() != 0 {
		t.Errorf("expected 0 events, got %d", em.count())
	}
}

func TestEmitAsync_Emits(t *testing.T) {
	em := &fakeEmitter{}
	ev := &domain.Event{ID: "e1", AccountID: "u1", Timestamp: time.Now().UTC(), Message: "User logged in successfully"}
	EmitAsync(em, nil, ev)
	waitFor(t, func() bool { return em.count() == 1 })

	em.mu.Lock()
	got := em.events[0]
	em.mu.Unlock()
	if got.ID != "e1" || got.AccountID != "u1" || got.Message != ev.Message {
		t.Errorf("emitted event = %+v", got)
	}
	if got == ev {
		t.Error("EmitAsync should hand the goroutine a copy of the event")
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	em := &fakeEmitter{emitErr: errors.New("sink down")}
	EmitAsync(em, nil, &domain.Event{ID: "e1"})
	waitFor(t, func() bool { return em.count() == 1 })
}

func TestEmitAsync_ConcurrentCallers(t *testing.T) {
	em := &fakeEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(em, nil, &domain.Event{ID: "e"})
		}()
	}
	wg.Wait()
	waitFor(t, func() bool { return em.count() == 10 })
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &fakeEmitter{}
	failing := &fakeEmitter{emitErr: errors.New("kafka down")}
	m := Multi(ok, nil, failing)

	err := m.Emit(context.Background(), &domain.Event{ID: "e1"})
	if err == nil || err.Error() != "kafka down" {
		t.Errorf("Multi.Emit err = %v, want kafka down", err)
	}
	if ok.count() != 1 || failing.count() != 1 {
		t.Errorf("counts = %d, %d; want 1, 1", ok.count(), failing.count())
	}
	if err := Multi().Emit(context.Background(), &domain.Event{}); err != nil {
		t.Errorf("empty Multi err = %v", err)
	}
}
