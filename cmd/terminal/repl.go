package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"atm-terminal/backend/internal/domain"
	"atm-terminal/backend/internal/export"
	"atm-terminal/backend/internal/health"
	"atm-terminal/backend/internal/session"
)

const helpText = `Commands:
  register <username> <pin>        create an account
  login <username> <pin>           start a session
  logout                           end the session
  balance                          show the current balance
  deposit <amount>                 deposit cash (asks for confirmation)
  withdraw <amount>                withdraw cash (asks for confirmation)
  history                          list transactions, newest first
  events                           list the account's audit log
  changepin <current> <new> <new> change the PIN
  forgot <username>                request a PIN recovery code
  verify <code>                    enter the recovery code
  reset <new> <new>                set a new PIN after verification
  export-tx <file>                 write transactions as CSV
  export-events <file>             write the audit log as CSV
  status                           check backing services
  help                             show this text
  exit                             leave the terminal`

// syncWriter serializes writes from the shell and the inactivity timer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type repl struct {
	ctrl   *session.Controller
	health *health.Checker
	in     io.Reader
	out    io.Writer

	lines <-chan string
}

// run reads commands until exit, end of input or ctx cancellation.
func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	r.lines = lines

	fmt.Fprintln(r.out, "Welcome to the ATM terminal. Type 'help' for commands.")
	for {
		r.prompt()
		line, ok := r.next(ctx)
		if !ok {
			return nil
		}
		if r.dispatch(ctx, line) {
			return nil
		}
	}
}

func (r *repl) prompt() {
	if st := r.ctrl.State(); st.Authenticated {
		fmt.Fprintf(r.out, "%s> ", st.Username)
		return
	}
	fmt.Fprint(r.out, "> ")
}

func (r *repl) next(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-r.lines:
		return strings.TrimSpace(line), ok
	}
}

// dispatch runs one command line and reports whether the shell should exit.
func (r *repl) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	var err error
	switch cmd {
	case "exit", "quit":
		fmt.Fprintln(r.out, "Goodbye.")
		return true
	case "help":
		fmt.Fprintln(r.out, helpText)
	case "register":
		if !r.arity(args, 2, "register <username> <pin>") {
			return false
		}
		if _, err = r.ctrl.Register(ctx, args[0], args[1]); err == nil {
			fmt.Fprintf(r.out, "Account %s registered. You can now log in.\n", args[0])
		}
	case "login":
		if !r.arity(args, 2, "login <username> <pin>") {
			return false
		}
		if err = r.ctrl.Login(ctx, args[0], args[1]); err == nil {
			fmt.Fprintf(r.out, "Welcome, %s.\n", r.ctrl.State().Username)
		}
	case "logout":
		if err = r.ctrl.Logout(ctx); err == nil {
			fmt.Fprintln(r.out, "Logged out.")
		}
	case "balance":
		var bal domain.Amount
		if bal, err = r.ctrl.Balance(ctx); err == nil {
			fmt.Fprintf(r.out, "Your current balance is: %s\n", bal.Display())
		}
	case "deposit":
		err = r.transact(ctx, domain.KindDeposit, strings.Join(args, ""))
	case "withdraw":
		err = r.transact(ctx, domain.KindWithdraw, strings.Join(args, ""))
	case "history":
		err = r.history(ctx)
	case "events":
		err = r.events(ctx)
	case "changepin":
		if !r.arity(args, 3, "changepin <current> <new> <new>") {
			return false
		}
		if err = r.ctrl.ChangePIN(ctx, args[0], args[1], args[2]); err == nil {
			fmt.Fprintln(r.out, "PIN changed successfully.")
		}
	case "forgot":
		if !r.arity(args, 1, "forgot <username>") {
			return false
		}
		var code string
		if code, err = r.ctrl.BeginRecovery(ctx, args[0]); err == nil {
			fmt.Fprintln(r.out, "Verification code has been sent to your registered phone number.")
			if code != "" {
				fmt.Fprintf(r.out, "Code (for demo): %s\n", code)
			}
		}
	case "verify":
		if !r.arity(args, 1, "verify <code>") {
			return false
		}
		if err = r.ctrl.VerifyRecovery(ctx, args[0]); err == nil {
			fmt.Fprintln(r.out, "Code accepted. Use 'reset <new> <new>' to choose a new PIN.")
		}
	case "reset":
		if !r.arity(args, 2, "reset <new> <new>") {
			return false
		}
		if err = r.ctrl.CompleteRecovery(ctx, args[0], args[1]); err == nil {
			fmt.Fprintln(r.out, "Your PIN has been reset successfully.")
		}
	case "export-tx", "export-events":
		if !r.arity(args, 1, cmd+" <file>") {
			return false
		}
		err = r.exportTo(ctx, cmd, args[0])
	case "status":
		r.status(ctx)
	default:
		fmt.Fprintf(r.out, "Unknown command %q. Type 'help' for commands.\n", cmd)
	}
	if err != nil {
		fmt.Fprintln(r.out, domain.Message(err))
	}
	return false
}

func (r *repl) arity(args []string, n int, usage string) bool {
	if len(args) != n {
		fmt.Fprintf(r.out, "Usage: %s\n", usage)
		return false
	}
	return true
}

func (r *repl) transact(ctx context.Context, kind domain.TransactionKind, amountText string) error {
	p, err := r.ctrl.Preview(ctx, kind, amountText)
	if err != nil {
		return err
	}
	verb := "Deposit"
	if kind == domain.KindWithdraw {
		verb = "Withdraw"
	}
	fmt.Fprintf(r.out, "%s %s? New balance will be %s [y/N] ", verb, p.Amount.Display(), p.Resulting.Display())
	answer, ok := r.next(ctx)
	confirmed := ok && (strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"))

	if _, err := r.ctrl.Transact(ctx, kind, amountText, confirmed); err != nil {
		return err
	}
	if kind == domain.KindWithdraw {
		fmt.Fprintf(r.out, "Please take your cash: %s\n", p.Amount.Display())
	} else {
		fmt.Fprintf(r.out, "%s deposited successfully.\n", p.Amount.Display())
	}
	return nil
}

func (r *repl) history(ctx context.Context) error {
	txs, err := r.ctrl.Transactions(ctx)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Fprintln(r.out, "No transactions yet.")
		return nil
	}
	for _, t := range txs {
		fmt.Fprintf(r.out, "%s  %s\n", t.Timestamp.UTC().Format(export.TimeLayout), t.Description())
	}
	return nil
}

func (r *repl) events(ctx context.Context) error {
	evs, err := r.ctrl.Events(ctx)
	if err != nil {
		return err
	}
	for _, e := range evs {
		fmt.Fprintf(r.out, "%s  %s\n", e.Timestamp.UTC().Format(export.TimeLayout), e.Message)
	}
	return nil
}

func (r *repl) exportTo(ctx context.Context, cmd, path string) error {
	if !r.ctrl.State().Authenticated {
		return domain.ErrNotAuthenticated
	}
	export := r.ctrl.ExportEventsCSV
	if cmd == "export-tx" {
		export = r.ctrl.ExportTransactionsCSV
	}
	var exportErr error
	err := writeFileAtomic(path, func(w io.Writer) error {
		exportErr = export(ctx, w)
		return exportErr
	})
	switch {
	case exportErr != nil:
		if domain.IsDomain(exportErr) || errors.Is(exportErr, domain.ErrStorageFailure) {
			return exportErr
		}
		return domain.Storage("write export", exportErr)
	case err != nil:
		fmt.Fprintf(r.out, "Cannot write %s: %v\n", path, err)
		return nil
	}
	fmt.Fprintf(r.out, "Exported to %s\n", path)
	return nil
}

// writeFileAtomic writes through a temporary file in the target directory and
// renames it over path only when write succeeds. On failure path is untouched.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if err = write(f); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

func (r *repl) status(ctx context.Context) {
	if r.health == nil {
		fmt.Fprintln(r.out, "Status: SERVING")
		return
	}
	rep := r.health.Check(ctx)
	fmt.Fprintf(r.out, "Status: %s\n", rep.Status)
	names := make([]string, 0, len(rep.Checks))
	for name := range rep.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "ok"
		if msg := rep.Checks[name]; msg != "" {
			state = msg
		}
		fmt.Fprintf(r.out, "  %-9s %s\n", name, state)
	}
}
