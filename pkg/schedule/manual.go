package schedule

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler whose clock only moves when Advance is called.
// Callbacks fire synchronously on the goroutine calling Advance, in due order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	m       *Manual
	due     time.Time
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

// NewManual creates a manual scheduler starting at start
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// AfterFunc registers f to run once the clock passes now+d
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{m: m, due: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Now returns the manual clock's current time
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d, firing every timer that comes due.
// Timers scheduled by callbacks fire too if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.due
		next.fired = true
		m.removeLocked(next)
		f := next.f
		m.mu.Unlock()

		f()
	}
}

// Pending returns the number of timers that have neither fired nor been stopped
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// NextDelay returns how long until the earliest pending timer fires
func (m *Manual) NextDelay() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.timers) == 0 {
		return 0, false
	}
	m.sortLocked()
	return m.timers[0].due.Sub(m.now), true
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	m.sortLocked()
	if m.timers[0].due.After(target) {
		return nil
	}
	return m.timers[0]
}

func (m *Manual) sortLocked() {
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].due.Equal(m.timers[j].due) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].due.Before(m.timers[j].due)
	})
}

func (m *Manual) removeLocked(t *manualTimer) {
	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.m.removeLocked(t)
	return true
}
