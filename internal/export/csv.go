// Package export writes transaction history and the audit log as CSV with
// timestamp and description columns.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"atm-terminal/backend/internal/domain"
)

// TimeLayout is the timestamp format used in exported files (UTC).
const TimeLayout = "2006-01-02 15:04:05"

var header = []string{"timestamp", "description"}

// WriteTransactions writes txs in the given order.
func WriteTransactions(w io.Writer, txs []*domain.Transaction) error {
	rows := make([][]string, 0, len(txs))
	for _, t := range txs {
		rows = append(rows, []string{formatTime(t.Timestamp), t.Description()})
	}
	return write(w, rows)
}

// WriteEvents writes evs in the given order.
func WriteEvents(w io.Writer, evs []*domain.Event) error {
	rows := make([][]string, 0, len(evs))
	for _, e := range evs {
		rows = append(rows, []string{formatTime(e.Timestamp), e.Message})
	}
	return write(w, rows)
}

func write(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
