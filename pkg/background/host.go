// Package background abstracts the host facilities the engine needs to keep working while the
// process is suspended or about to be: bounded continuations ("keep running for N more seconds")
// and one-shot timers.
package background

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/opencontact/proximity/internal/log"
)

//go:generate mockgen -destination ../../mocks/background.go -package mocks -mock_names Host=BackgroundHost github.com/opencontact/proximity/pkg/background Host

// Token identifies an active continuation.
type Token uint64

// Timer identifies a scheduled callback.
type Timer uint64

// Host grants continuations and runs timers. Callbacks run on a goroutine owned by the Host;
// callers that need serialized execution must hand the work off themselves.
type Host interface {
	// RequestContinuation asks the host to keep the process running for d. If the continuation
	// is not ended before d elapses, expired is invoked once.
	RequestContinuation(d time.Duration, expired func()) Token
	// EndContinuation releases a continuation. Ending an unknown or expired token is a no-op.
	EndContinuation(Token)
	// ScheduleOnce runs fn after d.
	ScheduleOnce(d time.Duration, fn func()) Timer
	// CancelTimer prevents a scheduled callback from running if it has not fired yet.
	CancelTimer(Timer)
}

// ClockHost is a Host backed by a clock.Clock. Long-running Linux daemons are never suspended, so
// continuations are plain deadlines.
type ClockHost struct {
	clock clock.Clock

	lock   sync.Mutex
	next   uint64
	timers map[uint64]*clock.Timer
}

// NewClockHost returns a Host using c. A nil clock selects the wall clock.
func NewClockHost(c clock.Clock) *ClockHost {
	if c == nil {
		c = clock.New()
	}
	return &ClockHost{clock: c, timers: make(map[uint64]*clock.Timer)}
}

func (h *ClockHost) arm(d time.Duration, fn func()) uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.next++
	id := h.next
	h.timers[id] = h.clock.AfterFunc(d, func() {
		h.lock.Lock()
		_, live := h.timers[id]
		delete(h.timers, id)
		h.lock.Unlock()
		if live {
			fn()
		}
	})
	return id
}

func (h *ClockHost) disarm(id uint64) bool {
	h.lock.Lock()
	t, ok := h.timers[id]
	delete(h.timers, id)
	h.lock.Unlock()
	if ok {
		t.Stop()
	}
	return ok
}

func (h *ClockHost) RequestContinuation(d time.Duration, expired func()) Token {
	id := h.arm(d, func() {
		log.Info("Continuation expired after %s", d)
		expired()
	})
	log.Debug("Continuation %d granted for %s", id, d)
	return Token(id)
}

func (h *ClockHost) EndContinuation(token Token) {
	if h.disarm(uint64(token)) {
		log.Debug("Continuation %d ended", token)
	}
}

func (h *ClockHost) ScheduleOnce(d time.Duration, fn func()) Timer {
	return Timer(h.arm(d, fn))
}

func (h *ClockHost) CancelTimer(timer Timer) {
	h.disarm(uint64(timer))
}

// Pending returns the number of continuations and timers that have neither fired nor been
// released.
func (h *ClockHost) Pending() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.timers)
}
