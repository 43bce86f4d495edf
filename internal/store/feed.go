package store

import (
	"log"
	"sync"
	"sync/atomic"
)

type delivery struct {
	snap Snapshot
	err  error
}

// Feed delivers snapshots to a single listener in FIFO order on its own
// goroutine. Producers never block on a slow listener.
type Feed struct {
	fn Listener

	mu     sync.Mutex
	queue  []delivery
	signal chan struct{}
	done   chan struct{}

	// deliverMu is held for the duration of each callback.
	deliverMu sync.Mutex
	closed    atomic.Bool
	runner    atomic.Uint64 // goroutine running the listener
	closeOnce sync.Once
}

// NewFeed starts a delivery goroutine for fn.
func NewFeed(fn Listener) *Feed {
	f := &Feed{
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Deliver enqueues a snapshot (or a transient error) for the listener.
func (f *Feed) Deliver(snap Snapshot, err error) {
	if f.closed.Load() {
		return
	}
	f.mu.Lock()
	f.queue = append(f.queue, delivery{snap: snap, err: err})
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Done is closed once the feed has been unsubscribed.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Unsubscribe stops delivery. Called from another goroutine it waits for a
// running callback, so no callback runs once it returns. Called from inside
// the listener it returns at once and the current callback is the last.
func (f *Feed) Unsubscribe() {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.done)
		if GoroutineID() != f.runner.Load() {
			f.deliverMu.Lock()
			f.deliverMu.Unlock()
		}
		f.mu.Lock()
		f.queue = nil
		f.mu.Unlock()
	})
}

func (f *Feed) run() {
	f.runner.Store(GoroutineID())
	for {
		select {
		case <-f.done:
			return
		case <-f.signal:
		}
		for {
			item, ok := f.pop()
			if !ok {
				break
			}
			if !f.invoke(item) {
				return
			}
		}
	}
}

func (f *Feed) pop() (delivery, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return delivery{}, false
	}
	item := f.queue[0]
	f.queue = f.queue[1:]
	return item, true
}

func (f *Feed) invoke(item delivery) bool {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()
	if f.closed.Load() {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[STORE] listener on %s panicked: %v", item.snap.Path, r)
		}
	}()

	f.fn(item.snap, item.err)
	return true
}
