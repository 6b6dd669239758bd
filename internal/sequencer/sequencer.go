// Package sequencer drives an ordered list of protocol steps against one connected peer.
//
// A Sequencer never blocks. Each step is issued to the transport and the Sequencer waits for the
// matching completion event (DidRead, DidWrite, DidReadSignalStrength) before issuing the next.
// Sequencers are not safe for concurrent use; the owner delivers every event from the same
// serialized context.
package sequencer

import (
	"time"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/background"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
)

// Executor issues single transport operations against a peer. connector.Central satisfies it.
type Executor interface {
	ReadCharacteristic(h connector.PeerHandle, characteristic string)
	WriteCharacteristic(h connector.PeerHandle, characteristic string, value []byte)
	ReadSignalStrength(h connector.PeerHandle)
}

// Scheduler arms the one-shot timers used by ScheduleRepeating. background.Host satisfies it.
type Scheduler interface {
	ScheduleOnce(d time.Duration, fn func()) background.Timer
	CancelTimer(background.Timer)
}

// Config holds everything a Sequencer needs.
type Config struct {
	Peer     contact.PeerID
	Handle   connector.PeerHandle
	Commands []Command

	Transport Executor
	Signals   *contact.Aggregator
	Scheduler Scheduler
	// Post moves timer callbacks back onto the owner's serialized context. If nil, timer callbacks
	// run on the scheduler's goroutine.
	Post func(func()) error

	// OnSignal is called after a successful MeasureSignal, once the sample is aggregated.
	OnSignal func(rssi float64)
	// OnRead is called with the value of a successful Read. A non-nil error is fatal for the
	// sequence, just like a failed Read.
	OnRead func(characteristic string, value []byte) error
	// OnWriteError is called when a Write fails. The sequence continues.
	OnWriteError func(characteristic string, err error)
	// OnAbort is called when a fatal step fails, before the Cancel callback runs.
	OnAbort func(cmd Command, err error)
}

// Sequencer executes Config.Commands strictly in order, one command in flight at a time.
type Sequencer struct {
	cfg Config

	queue    []Command
	inFlight Command
	cancel   func()

	timer      background.Timer
	timerArmed bool
	// generation invalidates timer callbacks that were already posted when the sequencer stopped.
	generation uint64

	started  bool
	finished bool
}

// New returns a Sequencer for cfg. The last top-level Cancel command supplies the callback that
// ends the sequence; all Cancel commands are removed from the queue.
func New(cfg Config) *Sequencer {
	s := &Sequencer{cfg: cfg}
	for _, cmd := range cfg.Commands {
		if c, ok := cmd.(Cancel); ok {
			s.cancel = c.Callback
		}
	}
	s.queue = withoutCancel(cfg.Commands)
	return s
}

// Start issues the first command. Calling Start more than once has no effect.
func (s *Sequencer) Start() {
	if s.started || s.finished {
		return
	}
	s.started = true
	s.next()
}

// Stop aborts the sequence without invoking the Cancel callback. Events delivered afterwards are
// ignored.
func (s *Sequencer) Stop() {
	if s.finished {
		return
	}
	s.halt()
}

// Done returns true once the sequence has completed, aborted or been stopped.
func (s *Sequencer) Done() bool {
	return s.finished
}

// InFlight returns the command awaiting completion, or nil.
func (s *Sequencer) InFlight() Command {
	return s.inFlight
}

func (s *Sequencer) halt() {
	s.finished = true
	s.queue = nil
	s.inFlight = nil
	s.generation++
	if s.timerArmed {
		s.timerArmed = false
		s.cfg.Scheduler.CancelTimer(s.timer)
	}
}

// finish ends the sequence and runs the Cancel callback, if any.
func (s *Sequencer) finish() {
	s.halt()
	if s.cancel != nil {
		cancel := s.cancel
		s.cancel = nil
		cancel()
	}
}

func (s *Sequencer) abort(cmd Command, err error) {
	log.Warning("[%s] %s failed, aborting sequence: %s", s.cfg.Peer, cmd, err)
	if s.cfg.OnAbort != nil {
		s.cfg.OnAbort(cmd, err)
	}
	s.finish()
}

func (s *Sequencer) next() {
	for !s.finished {
		if len(s.queue) == 0 {
			if !s.timerArmed {
				log.Debug("[%s] Sequence complete", s.cfg.Peer)
				s.finish()
			}
			return
		}
		cmd := s.queue[0]
		s.queue = s.queue[1:]
		log.Debug("[%s] Executing %s", s.cfg.Peer, cmd)

		switch c := cmd.(type) {
		case Read:
			s.inFlight = c
			s.cfg.Transport.ReadCharacteristic(s.cfg.Handle, c.Characteristic)
			return
		case Write:
			value, err := c.Value(s.latest())
			if err != nil {
				s.writeFailed(c.Characteristic, err)
				continue
			}
			s.inFlight = c
			s.cfg.Transport.WriteCharacteristic(s.cfg.Handle, c.Characteristic, value)
			return
		case MeasureSignal:
			s.inFlight = c
			s.cfg.Transport.ReadSignalStrength(s.cfg.Handle)
			return
		case ScheduleRepeating:
			s.arm(c)
		case Cancel:
		default:
			log.Error("[%s] Skipping unsupported command %T", s.cfg.Peer, cmd)
		}
	}
}

func (s *Sequencer) latest() contact.Record {
	if s.cfg.Signals == nil {
		return contact.Record{}
	}
	return s.cfg.Signals.Latest(s.cfg.Peer)
}

func (s *Sequencer) writeFailed(characteristic string, err error) {
	log.Warning("[%s] Write to %s failed: %s", s.cfg.Peer, characteristic, err)
	if s.cfg.OnWriteError != nil {
		s.cfg.OnWriteError(characteristic, err)
	}
}

// arm schedules the next repetition of r. Commands queued after r keep running while the timer
// is pending; the repetition is pushed to the front of the queue when it fires.
func (s *Sequencer) arm(r ScheduleRepeating) {
	if s.timerArmed {
		log.Warning("[%s] Ignoring %s: a repetition is already pending", s.cfg.Peer, r)
		return
	}
	generation := s.generation
	s.timerArmed = true
	s.timer = s.cfg.Scheduler.ScheduleOnce(r.Interval, func() {
		fire := func() { s.repeat(r, generation) }
		if s.cfg.Post == nil {
			fire()
			return
		}
		if err := s.cfg.Post(fire); err != nil {
			log.Debug("[%s] Dropping repetition: %s", s.cfg.Peer, err)
		}
	})
}

func (s *Sequencer) repeat(r ScheduleRepeating, generation uint64) {
	if s.finished || generation != s.generation {
		return
	}
	s.timerArmed = false
	pushed := make([]Command, 0, len(r.Commands)+1+len(s.queue))
	pushed = append(pushed, r.Commands...)
	switch {
	case r.Count == 0:
		pushed = append(pushed, r)
	case r.Count > 1:
		r.Count--
		pushed = append(pushed, r)
	}
	s.queue = append(pushed, s.queue...)
	if s.inFlight == nil {
		s.next()
	}
}

func (s *Sequencer) complete(expected func(Command) bool, event string) bool {
	if s.finished || s.inFlight == nil || !expected(s.inFlight) {
		log.Debug("[%s] Ignoring unexpected %s event", s.cfg.Peer, event)
		return false
	}
	return true
}

// DidRead delivers the outcome of an in-flight Read.
func (s *Sequencer) DidRead(characteristic string, value []byte, err error) {
	ok := s.complete(func(c Command) bool {
		r, isRead := c.(Read)
		return isRead && r.Characteristic == characteristic
	}, "read")
	if !ok {
		return
	}
	cmd := s.inFlight
	s.inFlight = nil
	if err == nil && s.cfg.OnRead != nil {
		err = s.cfg.OnRead(characteristic, value)
	}
	if err != nil {
		s.abort(cmd, err)
		return
	}
	s.next()
}

// DidWrite delivers the outcome of an in-flight Write.
func (s *Sequencer) DidWrite(characteristic string, err error) {
	ok := s.complete(func(c Command) bool {
		w, isWrite := c.(Write)
		return isWrite && w.Characteristic == characteristic
	}, "write")
	if !ok {
		return
	}
	s.inFlight = nil
	if err != nil {
		s.writeFailed(characteristic, err)
	}
	s.next()
}

// DidReadSignalStrength delivers the outcome of an in-flight MeasureSignal.
func (s *Sequencer) DidReadSignalStrength(rssi float64, err error) {
	ok := s.complete(func(c Command) bool {
		_, isMeasure := c.(MeasureSignal)
		return isMeasure
	}, "signal strength")
	if !ok {
		return
	}
	cmd := s.inFlight
	s.inFlight = nil
	if err != nil {
		s.abort(cmd, err)
		return
	}
	if s.cfg.Signals != nil {
		s.cfg.Signals.Observe(s.cfg.Peer, rssi)
	}
	if s.cfg.OnSignal != nil {
		s.cfg.OnSignal(rssi)
	}
	s.next()
}
