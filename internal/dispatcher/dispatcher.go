package dispatcher

import (
	"context"
	"sync"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/protocol"
)

// ErrStopped is returned when work is submitted to a Dispatcher that is not running.
var ErrStopped = protocol.NewError("dispatcher stopped", false)

// Dispatcher objects run submitted closures one at a time on a single goroutine. Radio callbacks,
// timer expirations and public API calls are all funneled through a Dispatcher so that engine
// state is only ever touched by one goroutine.
//
// The queue is unbounded, so closures running on the dispatcher goroutine may Post more work
// without blocking.
type Dispatcher struct {
	queueLock sync.Mutex
	queue     []func()
	wake      chan struct{}

	doneLock  sync.Mutex
	terminate chan struct{}
	done      chan struct{}
}

// New creates a Dispatcher. Call Start before posting work.
func New() *Dispatcher {
	return &Dispatcher{wake: make(chan struct{}, 1)}
}

// Start runs the dispatcher loop in a new goroutine. Returns an error if the loop does not signal
// it's ready before ctx expires. Starting a running Dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.doneLock.Lock()
	if d.terminate != nil {
		d.doneLock.Unlock()
		return nil
	}
	d.terminate = make(chan struct{})
	d.done = make(chan struct{})
	terminate, done := d.terminate, d.done
	d.doneLock.Unlock()

	ready := make(chan struct{})
	go d.listen(ready, terminate, done)
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) listen(ready chan<- struct{}, terminate <-chan struct{}, done chan<- struct{}) {
	log.Debug("Starting dispatcher...")
	defer close(done)
	close(ready)
	for {
		select {
		case <-d.wake:
			if !d.drain(terminate) {
				return
			}
		case <-terminate:
			return
		}
	}
}

// drain runs queued closures until the queue is empty. Returns false if the dispatcher was
// stopped in the meantime.
func (d *Dispatcher) drain(terminate <-chan struct{}) bool {
	for {
		select {
		case <-terminate:
			return false
		default:
		}
		d.queueLock.Lock()
		if len(d.queue) == 0 {
			d.queueLock.Unlock()
			return true
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.queueLock.Unlock()
		fn()
	}
}

// Stop terminates the dispatcher loop and waits for the closure currently running, if any, to
// return. Closures still queued are discarded. Stop must not be called from the dispatcher
// goroutine.
func (d *Dispatcher) Stop() {
	d.doneLock.Lock()
	terminate, done := d.terminate, d.done
	d.terminate = nil
	d.doneLock.Unlock()
	if terminate == nil {
		return
	}
	close(terminate)
	<-done
	d.queueLock.Lock()
	d.queue = nil
	d.queueLock.Unlock()
	log.Debug("Dispatcher stopped")
}

// Running returns true if the dispatcher loop has been started and not stopped.
func (d *Dispatcher) Running() bool {
	d.doneLock.Lock()
	defer d.doneLock.Unlock()
	return d.terminate != nil
}

func (d *Dispatcher) post(fn func()) (<-chan struct{}, error) {
	d.doneLock.Lock()
	terminate := d.terminate
	d.doneLock.Unlock()
	if terminate == nil {
		return nil, ErrStopped
	}
	d.queueLock.Lock()
	d.queue = append(d.queue, fn)
	d.queueLock.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return terminate, nil
}

// Post queues fn for execution on the dispatcher goroutine and returns immediately.
func (d *Dispatcher) Post(fn func()) error {
	_, err := d.post(fn)
	return err
}

// Call queues fn and blocks until it has run, ctx expires or the dispatcher is stopped. Call must
// not be used from the dispatcher goroutine.
func (d *Dispatcher) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	terminate, err := d.post(func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-terminate:
		// fn may have completed concurrently with Stop.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
