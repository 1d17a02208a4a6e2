package health

import (
	"context"
	"errors"
	"testing"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func TestCheck_NothingConfigured(t *testing.T) {
	c := &Checker{}
	r := c.Check(context.Background())
	if r.Status != StatusServing {
		t.Errorf("status = %v, want SERVING", r.Status)
	}
	if len(r.Checks) != 0 {
		t.Errorf("checks = %v, want none", r.Checks)
	}
}

func TestCheck_PingerSuccess(t *testing.T) {
	c := &Checker{DB: &mockPinger{}}
	r := c.Check(context.Background())
	if r.Status != StatusServing {
		t.Errorf("status = %v, want SERVING", r.Status)
	}
	if msg, ok := r.Checks["database"]; !ok || msg != "" {
		t.Errorf("database check = %q, %v", msg, ok)
	}
}

func TestCheck_PingerFailure(t *testing.T) {
	c := &Checker{DB: &mockPinger{pingErr: errors.New("connection refused")}}
	r := c.Check(context.Background())
	if r.Status != StatusNotServing {
		t.Errorf("status = %v, want NOT_SERVING", r.Status)
	}
	if r.Checks["database"] != "connection refused" {
		t.Errorf("database check = %q", r.Checks["database"])
	}
}

func TestCheck_PolicyCheckerFailure(t *testing.T) {
	c := &Checker{DB: &mockPinger{}, Policy: &mockPolicyChecker{healthErr: errors.New("rego compile failed")}}
	r := c.Check(context.Background())
	if r.Status != StatusNotServing {
		t.Errorf("status = %v, want NOT_SERVING", r.Status)
	}
	if r.Checks["database"] != "" {
		t.Errorf("healthy database reported %q", r.Checks["database"])
	}
}

func TestCheck_Sinks(t *testing.T) {
	var sawDeadline bool
	c := &Checker{Sinks: map[string]Pinger{
		"loki": PingerFunc(func(ctx context.Context) error {
			_, sawDeadline = ctx.Deadline()
			return errors.New("503")
		}),
		"unset": nil,
	}}
	r := c.Check(context.Background())
	if r.Status != StatusNotServing || r.Checks["loki"] != "503" {
		t.Errorf("report = %+v", r)
	}
	if _, ok := r.Checks["unset"]; ok {
		t.Error("nil sink should be skipped")
	}
	if !sawDeadline {
		t.Error("checks should run under a timeout")
	}
}
