package health

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Monitor runs the Checker on a cron schedule and logs readiness changes.
type Monitor struct {
	cron    *cron.Cron
	checker *Checker
	logger  *slog.Logger
	last    Status
}

// NewMonitor schedules checks with a standard cron expression or descriptor
// ("@every 1m"). It does not start until Start is called.
func NewMonitor(c *Checker, schedule string, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	m := &Monitor{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger))),
		checker: c,
		logger:  logger,
		last:    StatusServing,
	}
	if _, err := m.cron.AddFunc(schedule, m.run); err != nil {
		return nil, fmt.Errorf("health schedule %q: %w", schedule, err)
	}
	return m, nil
}

func (m *Monitor) run() {
	rep := m.checker.Check(context.Background())
	if rep.Status != m.last {
		if rep.Status == StatusServing {
			m.logger.Info("backing services recovered")
		} else {
			m.logger.Warn("backing services degraded", "checks", rep.Checks)
		}
	}
	m.last = rep.Status
}

// Start begins running scheduled checks.
func (m *Monitor) Start() { m.cron.Start() }

// Stop halts the schedule and waits for a running check to finish.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}
