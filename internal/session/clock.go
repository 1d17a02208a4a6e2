package session

import "time"

// Timer is a stoppable deferred callback.
type Timer interface {
	Stop() bool
}

// Clock supplies wall time and deferred callbacks to the controller.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return realClock{} }
