package recovery

import (
	"context"
	"sync"
)

// Deliverer hands a freshly issued code to the account holder out of band.
// It must not log the code.
type Deliverer interface {
	Deliver(ctx context.Context, username, code string) error
}

// DisplayDeliverer simulates delivery by keeping the last code so the
// terminal can show it. Only for environments where RECOVERY_CODE_DISPLAY is allowed.
type DisplayDeliverer struct {
	mu       sync.Mutex
	username string
	code     string
}

// Deliver records code for username, replacing any earlier one.
func (d *DisplayDeliverer) Deliver(ctx context.Context, username, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.username, d.code = username, code
	return nil
}

// Take returns and forgets the last delivered code.
func (d *DisplayDeliverer) Take() (username, code string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.code == "" {
		return "", "", false
	}
	username, code = d.username, d.code
	d.username, d.code = "", ""
	return username, code, true
}
