package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"groupride/internal/store"
)

// EventType identifies the kind of CheckInEvent.
type EventType string

const (
	// EventCheckIn carries the latest check-in of a delivered snapshot.
	EventCheckIn EventType = "CHECK_IN"

	// EventDegraded reports that the subtree could not be read. The
	// subscription stays attached and the previous data remains valid.
	EventDegraded EventType = "DEGRADED"
)

// CheckInEvent is emitted by the Notifier once per snapshot delivery.
type CheckInEvent struct {
	Type   EventType       `json:"type"`
	RideID string          `json:"ride_id"`
	Data   CheckInSnapshot `json:"data,omitempty"`
	Latest CheckInRecord   `json:"latest"`
	Err    error           `json:"-"`
}

// rideWatch is the per-ride registry entry. It is registered before its
// store listener is attached, so the listener may detach it at any time.
type rideWatch struct {
	rideID string
	fn     func(CheckInEvent)

	// callMu is held while a delivery runs; caller is the goroutine inside it.
	callMu sync.Mutex
	caller atomic.Uint64

	state    sync.Mutex
	detached bool
	sub      store.Subscription
	stop     func() bool

	mu       sync.Mutex
	baseline CheckInSnapshot
}

// Notifier turns whole-subtree snapshots of a ride's checkpoints into
// check-in events. One Notifier multiplexes many rides; each ride has at most
// one listener.
type Notifier struct {
	store store.Store

	mu    sync.Mutex
	rides map[string]*rideWatch
}

// NewNotifier creates a Notifier reading from st.
func NewNotifier(st store.Store) *Notifier {
	return &Notifier{
		store: st,
		rides: make(map[string]*rideWatch),
	}
}

// Subscribe attaches fn to rideID's checkpoint subtree. A previous listener
// for the same ride is detached first and its baseline discarded. fn runs
// once per delivery, never concurrently with itself. The subscription ends on
// Unsubscribe, Close or when ctx is done.
func (n *Notifier) Subscribe(ctx context.Context, rideID string, fn func(CheckInEvent)) error {
	if rideID == "" {
		return ErrInvalidRideID
	}

	w := &rideWatch{
		rideID:   rideID,
		fn:       fn,
		baseline: CheckInSnapshot{},
	}

	n.mu.Lock()
	prev := n.rides[rideID]
	n.rides[rideID] = w
	n.mu.Unlock()

	if prev != nil {
		prev.detach()
	}

	sub, err := n.store.Subscribe(ctx, CheckpointsPath(rideID), w.deliver)
	if err != nil {
		n.remove(rideID, w)
		w.detach()
		return fmt.Errorf("%w: subscribe ride %s: %v", ErrStoreUnavailable, rideID, err)
	}

	stop := context.AfterFunc(ctx, func() { n.release(rideID, w) })
	if !w.attach(sub, stop) {
		// Unsubscribed while the store was attaching, possibly from fn itself.
		stop()
		sub.Unsubscribe()
		return ctx.Err()
	}
	if ctx.Err() != nil {
		n.release(rideID, w)
		return ctx.Err()
	}

	log.Printf("[NOTIFIER] subscribed ride=%s", rideID)
	return nil
}

// Unsubscribe detaches the listener of rideID and discards its baseline. No
// callback for rideID starts after it returns. Unknown ride IDs are ignored.
func (n *Notifier) Unsubscribe(rideID string) {
	n.mu.Lock()
	w := n.rides[rideID]
	delete(n.rides, rideID)
	n.mu.Unlock()

	if w != nil {
		w.detach()
		log.Printf("[NOTIFIER] unsubscribed ride=%s", rideID)
	}
}

// release detaches w if it is still the registered watch for rideID.
func (n *Notifier) release(rideID string, w *rideWatch) {
	if !n.remove(rideID, w) {
		return
	}
	w.detach()
	log.Printf("[NOTIFIER] released ride=%s: context done", rideID)
}

// remove deletes w from the registry if it is still registered for rideID.
func (n *Notifier) remove(rideID string, w *rideWatch) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rides[rideID] != w {
		return false
	}
	delete(n.rides, rideID)
	return true
}

// Subscribed reports whether rideID has an attached listener.
func (n *Notifier) Subscribed(rideID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.rides[rideID]
	return ok
}

// Baseline returns a copy of the last snapshot that produced an event for rideID.
func (n *Notifier) Baseline(rideID string) (CheckInSnapshot, bool) {
	n.mu.Lock()
	w, ok := n.rides[rideID]
	n.mu.Unlock()
	if !ok {
		return nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.baseline.clone(), true
}

// Close detaches every listener.
func (n *Notifier) Close() {
	n.mu.Lock()
	watches := make([]*rideWatch, 0, len(n.rides))
	for id, w := range n.rides {
		watches = append(watches, w)
		delete(n.rides, id)
	}
	n.mu.Unlock()

	for _, w := range watches {
		w.detach()
	}
}

// attach records the store subscription. It reports false if w was detached
// in the meantime; the caller then owns sub and stop.
func (w *rideWatch) attach(sub store.Subscription, stop func() bool) bool {
	w.state.Lock()
	defer w.state.Unlock()
	if w.detached {
		return false
	}
	w.sub, w.stop = sub, stop
	return true
}

func (w *rideWatch) isDetached() bool {
	w.state.Lock()
	defer w.state.Unlock()
	return w.detached
}

// detach stops deliveries. Called from another goroutine it waits for a
// running delivery to finish; called from inside fn it returns at once.
func (w *rideWatch) detach() {
	w.state.Lock()
	if w.detached {
		w.state.Unlock()
		return
	}
	w.detached = true
	sub, stop := w.sub, w.stop
	w.state.Unlock()

	if stop != nil {
		stop()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	if w.caller.Load() != store.GoroutineID() {
		w.callMu.Lock()
		w.callMu.Unlock()
	}
}

// deliver handles one snapshot delivery.
func (w *rideWatch) deliver(snap store.Snapshot, err error) {
	w.callMu.Lock()
	defer w.callMu.Unlock()
	if w.isDetached() {
		return
	}
	w.caller.Store(store.GoroutineID())
	defer w.caller.Store(0)

	if err != nil {
		log.Printf("[NOTIFIER] ride=%s degraded: %v", w.rideID, err)
		w.fn(CheckInEvent{Type: EventDegraded, RideID: w.rideID, Err: err})
		return
	}
	if !snap.Exists {
		return
	}

	data := DecodeCheckInSnapshot(snap.Value)
	latest, ok := data.Latest()
	if !ok {
		return
	}

	w.fn(CheckInEvent{
		Type:   EventCheckIn,
		RideID: w.rideID,
		Data:   data,
		Latest: latest,
	})

	w.mu.Lock()
	w.baseline = data
	w.mu.Unlock()
}

func (s CheckInSnapshot) clone() CheckInSnapshot {
	out := make(CheckInSnapshot, len(s))
	for cp, riders := range s {
		m := make(map[string]CheckInRecord, len(riders))
		for id, rec := range riders {
			m[id] = rec
		}
		out[cp] = m
	}
	return out
}
