// Package schedule abstracts deferred callbacks so that reconnect backoff and
// typing expiry can be driven by a manual clock in tests.
package schedule

import "time"

// Timer is a pending deferred callback
type Timer interface {
	// Stop cancels the callback. It reports whether the call stopped the
	// timer; false means the callback already ran or was already stopped.
	Stop() bool
}

// Scheduler runs callbacks after a delay
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type realScheduler struct{}

// Real returns a Scheduler backed by time.AfterFunc
func Real() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realScheduler) Now() time.Time {
	return time.Now()
}
