// Package loki pushes audit events to Grafana Loki over its HTTP push API.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"atm-terminal/backend/internal/domain"
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [timestamp_ns, line]
}

// labelSanitize replaces characters Loki rejects or mangles in label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Emitter pushes one stream entry per audit event. Account ids are not used
// as labels to keep stream cardinality bounded; they travel in the line.
type Emitter struct {
	baseURL string
	job     string
	client  *http.Client
}

// NewEmitter returns an Emitter for baseURL (e.g. http://localhost:3100), or nil when baseURL is empty.
func NewEmitter(baseURL, job string, client *http.Client) *Emitter {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if job == "" {
		job = "atm-terminal"
	}
	return &Emitter{baseURL: strings.TrimSuffix(baseURL, "/"), job: job, client: client}
}

type line struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id,omitempty"`
	Message   string `json:"message"`
}

// Emit pushes ev. A nil Emitter is a no-op.
func (e *Emitter) Emit(ctx context.Context, ev *domain.Event) error {
	if e == nil || ev == nil {
		return nil
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	body, err := json.Marshal(line{ID: ev.ID, AccountID: ev.AccountID, Message: ev.Message})
	if err != nil {
		return err
	}
	return e.push(ctx, ts, string(body), map[string]string{"stream": "audit"})
}

func (e *Emitter) push(ctx context.Context, ts time.Time, logLine string, labels map[string]string) error {
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = e.job
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(ts.UnixNano(), 10), logLine}},
		}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}

// ErrDisabled is returned by Ping on a nil Emitter.
var ErrDisabled = errors.New("loki: disabled")

// Ping checks the Loki /ready endpoint.
func (e *Emitter) Ping(ctx context.Context) error {
	if e == nil {
		return ErrDisabled
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/ready", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loki: not ready: %s", resp.Status)
	}
	return nil
}
