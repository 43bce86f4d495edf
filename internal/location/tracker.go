package location

import (
	"context"
	"log"
	"sync"

	"groupride/internal/geo"
)

// Tracker keeps the most recent position sample behind the permission gate.
// When permission is denied Position stays nil, so every proximity test sees
// "no position available".
type Tracker struct {
	provider Provider
	opts     WatchOptions
	onUpdate func(geo.Point)

	mu         sync.RWMutex
	permission Permission
	last       *geo.Point
	watch      *Watch
	wg         sync.WaitGroup
}

// NewTracker creates a Tracker. onUpdate, if set, runs on the tracker's
// goroutine for every accepted sample, after Position reflects it.
func NewTracker(provider Provider, opts WatchOptions, onUpdate func(geo.Point)) *Tracker {
	return &Tracker{provider: provider, opts: opts, onUpdate: onUpdate}
}

// Start requests permission, takes an initial fix and begins watching.
func (t *Tracker) Start(ctx context.Context) error {
	perm, err := t.provider.RequestPermission(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.permission = perm
	t.mu.Unlock()

	if perm != PermissionGranted {
		return ErrPermissionDenied
	}

	if p, err := t.provider.CurrentPosition(ctx); err != nil {
		log.Printf("[LOCATION] initial fix unavailable: %v", err)
	} else {
		t.record(p)
	}

	w, err := t.provider.Watch(ctx, t.opts)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.watch = w
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for p := range w.C() {
			t.record(p)
		}
	}()
	return nil
}

// Stop cancels the watch and waits for the update loop to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	w := t.watch
	t.watch = nil
	t.mu.Unlock()

	if w != nil {
		w.Cancel()
	}
	t.wg.Wait()
}

// Permission returns the last permission outcome.
func (t *Tracker) Permission() Permission {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.permission
}

// Position returns a copy of the latest sample, or nil when none is available.
func (t *Tracker) Position() *geo.Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.permission != PermissionGranted || t.last == nil {
		return nil
	}
	p := *t.last
	return &p
}

func (t *Tracker) record(p geo.Point) {
	t.mu.Lock()
	t.last = &p
	t.mu.Unlock()

	if t.onUpdate != nil {
		t.onUpdate(p)
	}
}
