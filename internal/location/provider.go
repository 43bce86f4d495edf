// Package location models the device-side position source: a permission
// gate, single-shot fixes and a cancellable stream of position updates.
package location

import (
	"context"
	"errors"
	"sync"

	"groupride/internal/geo"
)

var (
	// ErrPermissionDenied is returned when location access was refused.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrNoFix is returned when no position is currently available.
	ErrNoFix = errors.New("no position fix available")
)

// Permission is the outcome of a location permission request.
type Permission string

const (
	PermissionUnknown Permission = ""
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Accuracy is the requested accuracy class of a position watch.
type Accuracy string

const (
	AccuracyBalanced Accuracy = "balanced"
	AccuracyHigh     Accuracy = "high"
)

// WatchOptions configures a continuous position watch.
type WatchOptions struct {
	Accuracy          Accuracy
	MinDistanceMeters float64 // samples closer than this to the last emitted one are dropped
}

// Provider is a source of position samples.
type Provider interface {
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentPosition(ctx context.Context) (geo.Point, error)
	Watch(ctx context.Context, opts WatchOptions) (*Watch, error)
}

// Watch is a cancellable stream of position updates.
type Watch struct {
	opts WatchOptions
	c    chan geo.Point

	mu       sync.Mutex
	last     *geo.Point
	closed   bool
	done     chan struct{}
	onCancel func()
}

// NewWatch creates a watch buffering up to size samples. onCancel runs once
// when the watch is cancelled and may be nil.
func NewWatch(opts WatchOptions, size int, onCancel func()) *Watch {
	if size < 1 {
		size = 1
	}
	return &Watch{
		opts:     opts,
		c:        make(chan geo.Point, size),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
}

// C yields position updates until the watch is cancelled.
func (w *Watch) C() <-chan geo.Point {
	return w.c
}

// Done is closed when the watch is cancelled.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Send offers p to the consumer. It reports false when p was dropped, either
// because it moved less than MinDistanceMeters, the buffer is full or the
// watch is cancelled.
func (w *Watch) Send(p geo.Point) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if w.last != nil && w.opts.MinDistanceMeters > 0 &&
		geo.DistanceMeters(*w.last, p) < w.opts.MinDistanceMeters {
		return false
	}
	select {
	case w.c <- p:
		last := p
		w.last = &last
		return true
	default:
		return false
	}
}

// Cancel stops the watch and closes C. It is safe to call more than once.
func (w *Watch) Cancel() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.done)
	close(w.c)
	onCancel := w.onCancel
	w.mu.Unlock()

	if onCancel != nil {
		onCancel()
	}
}
