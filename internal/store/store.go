// Package store defines the shared tree store the check-in core reads and
// writes, plus an in-process implementation of it.
//
// The store is addressed by slash-separated paths. Listeners never receive
// deltas: every change under a subscribed path delivers the entire current
// value of that subtree.
package store

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidPath is returned for empty paths or paths with empty segments.
	ErrInvalidPath = errors.New("invalid store path")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Snapshot is the full value of a subtree at the time of delivery.
type Snapshot struct {
	Path   string
	Exists bool
	Value  any
}

// Listener receives snapshots in delivery order. A non-nil error reports a
// transient failure to read the subtree; the subscription stays attached.
type Listener func(Snapshot, error)

// Subscription is a live listener registration.
type Subscription interface {
	// Unsubscribe detaches the listener. No callback starts after it returns.
	Unsubscribe()
}

// Store is the shared tree store contract.
type Store interface {
	// Push appends record under path with a store-assigned key and returns the key.
	Push(ctx context.Context, path string, record any) (string, error)

	// Update atomically writes every key of fields relative to path.
	// Keys may contain slashes; a nil value removes the key.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Get reads the current value of the subtree at path.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Subscribe attaches fn to path. The current value is delivered first,
	// followed by one snapshot per change under path.
	Subscribe(ctx context.Context, path string, fn Listener) (Subscription, error)
}

// SplitPath validates path and returns its segments.
func SplitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, ErrInvalidPath
	}
	segs := strings.Split(trimmed, "/")
	for _, s := range segs {
		if s == "" {
			return nil, ErrInvalidPath
		}
	}
	return segs, nil
}

// JoinPath joins segments into a store path.
func JoinPath(segs ...string) string {
	return strings.Join(segs, "/")
}

// Overlaps reports whether a change at one path is visible from the other,
// i.e. one path is equal to, or an ancestor of, the other.
func Overlaps(a, b string) bool {
	a = strings.Trim(a, "/")
	b = strings.Trim(b, "/")
	if a == b {
		return true
	}
	return strings.HasPrefix(b, a+"/") || strings.HasPrefix(a, b+"/")
}

// Exists reports whether v is a present, non-empty tree value.
func Exists(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
