// Package health reports terminal readiness: the ledger database, the limit
// policy and, when configured, the Loki audit sink.
package health

import (
	"context"
	"time"
)

// Pinger checks a backing connection (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the limit policy still evaluates (e.g. *policy.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Status is the overall readiness.
type Status string

const (
	StatusServing    Status = "SERVING"
	StatusNotServing Status = "NOT_SERVING"
)

// Report lists each dependency that was checked with its error text ("" when healthy).
type Report struct {
	Status Status
	Checks map[string]string
}

// Checker runs the readiness checks. Nil fields are skipped.
type Checker struct {
	DB      Pinger
	Policy  PolicyChecker
	Sinks   map[string]Pinger
	Timeout time.Duration
}

const defaultTimeout = 2 * time.Second

// Check runs every configured check. A failing check marks the report NOT_SERVING
// but never returns an error.
func (c *Checker) Check(ctx context.Context) Report {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := Report{Status: StatusServing, Checks: make(map[string]string)}
	record := func(name string, err error) {
		if err != nil {
			r.Status = StatusNotServing
			r.Checks[name] = err.Error()
			return
		}
		r.Checks[name] = ""
	}
	if c.DB != nil {
		record("database", c.DB.PingContext(ctx))
	}
	if c.Policy != nil {
		record("policy", c.Policy.HealthCheck(ctx))
	}
	for name, p := range c.Sinks {
		if p != nil {
			record(name, p.PingContext(ctx))
		}
	}
	return r
}
