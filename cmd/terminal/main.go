// terminal is the interactive ATM front end: a line-oriented shell over the
// session controller. Run via go run ./cmd/terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atm-terminal/backend/internal/app"
	"atm-terminal/backend/internal/config"
	"atm-terminal/backend/internal/health"
	"atm-terminal/backend/internal/logging"
)

func main() {
	unlock := flag.String("unlock", "", "Clear the login lockout for a username and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	}()

	if *unlock != "" {
		if err := unlockUser(ctx, a, *unlock, os.Stdout); err != nil {
			logger.Error("unlock failed", "username", *unlock, "err", err)
			_ = a.Close(context.Background())
			stop()
			os.Exit(1)
		}
		return
	}

	stopOps := startOps(a, logger)
	defer stopOps()

	out := &syncWriter{w: os.Stdout}
	ctrl, err := a.NewSession(func() {
		fmt.Fprintln(out, "\nSession expired due to inactivity. Please log in again.")
	})
	if err != nil {
		logger.Error("session", "err", err)
		return
	}
	r := &repl{ctrl: ctrl, health: a.Health, in: os.Stdin, out: out}
	if err := r.run(ctx); err != nil {
		logger.Error("terminal", "err", err)
	}
	if err := ctrl.Close(context.Background()); err != nil {
		logger.Warn("close session", "err", err)
	}
}

// unlockUser clears a persisted lockout. Lockouts in the memory attempt store
// live inside the running terminal and cannot be reached from another process.
func unlockUser(ctx context.Context, a *app.App, username string, w io.Writer) error {
	if a.Config.AttemptStore != config.AttemptRedis {
		return fmt.Errorf("ATTEMPT_STORE=%s keeps lockouts in the running terminal; restart it or use ATTEMPT_STORE=redis", a.Config.AttemptStore)
	}
	if err := a.Ledger.Tracker().Reset(ctx, username); err != nil {
		return err
	}
	fmt.Fprintf(w, "Lockout cleared for %s\n", username)
	return nil
}

// startOps starts the readiness endpoint and the scheduled health monitor
// when configured. The returned func stops both.
func startOps(a *app.App, logger *slog.Logger) func() {
	var stops []func()
	if addr := a.Config.HealthAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: health.NewRouter(a.Health), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health endpoint", "err", err)
			}
		}()
		stops = append(stops, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	if schedule := a.Config.HealthCheckSchedule; schedule != "" {
		m, err := health.NewMonitor(a.Health, schedule, logger)
		if err != nil {
			logger.Warn("health monitor disabled", "err", err)
		} else {
			m.Start()
			stops = append(stops, m.Stop)
		}
	}
	return func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}
}
