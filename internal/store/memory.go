package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[*memorySub]struct{}
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root: map[string]any{},
		subs: map[*memorySub]struct{}{},
	}
}

// NewPushID returns a store-assigned record key. Keys are time ordered.
func NewPushID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Push appends record under path.
func (s *MemoryStore) Push(ctx context.Context, path string, record any) (string, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	value, err := Normalize(record)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := NewPushID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	SetPath(s.root, append(segs, id), value)
	s.notifyLocked(JoinPath(append(segs, id)...))
	return id, nil
}

// Update writes every key of fields relative to path in one step.
func (s *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	type write struct {
		segs  []string
		value any
	}
	writes := make([]write, 0, len(fields))
	for key, raw := range fields {
		keySegs, err := SplitPath(key)
		if err != nil {
			return err
		}
		value, err := Normalize(raw)
		if err != nil {
			return err
		}
		full := append(append([]string{}, segs...), keySegs...)
		writes = append(writes, write{segs: full, value: value})
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, w := range writes {
		SetPath(s.root, w.segs, w.value)
	}
	s.notifyLocked(JoinPath(segs...))
	return nil
}

// Get reads the subtree at path.
func (s *MemoryStore) Get(ctx context.Context, path string) (Snapshot, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}
	return s.snapshotLocked(segs), nil
}

// Subscribe attaches fn to path and delivers the current value immediately.
// The subscription is also released when ctx is cancelled.
func (s *MemoryStore) Subscribe(ctx context.Context, path string, fn Listener) (Subscription, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}

	sub := &memorySub{store: s, path: JoinPath(segs...), segs: segs, feed: NewFeed(fn)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.feed.Unsubscribe()
		return nil, ErrClosed
	}
	s.subs[sub] = struct{}{}
	sub.feed.Deliver(s.snapshotLocked(segs), nil)
	s.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
			case <-sub.feed.Done():
			}
		}()
	}
	return sub, nil
}

// Listeners returns the number of attached subscriptions.
func (s *MemoryStore) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close detaches every listener and rejects further operations.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[*memorySub]struct{}{}
	s.closed = true
	s.mu.Unlock()

	for sub := range subs {
		sub.feed.Unsubscribe()
	}
}

func (s *MemoryStore) snapshotLocked(segs []string) Snapshot {
	value, ok := Lookup(s.root, segs)
	if !ok || !Exists(value) {
		return Snapshot{Path: JoinPath(segs...)}
	}
	return Snapshot{Path: JoinPath(segs...), Exists: true, Value: Clone(value)}
}

func (s *MemoryStore) notifyLocked(changed string) {
	for sub := range s.subs {
		if Overlaps(sub.path, changed) {
			sub.feed.Deliver(s.snapshotLocked(sub.segs), nil)
		}
	}
}

type memorySub struct {
	store *MemoryStore
	path  string
	segs  []string
	feed  *Feed
}

func (m *memorySub) Unsubscribe() {
	m.store.mu.Lock()
	delete(m.store.subs, m)
	m.store.mu.Unlock()
	m.feed.Unsubscribe()
}

var _ Store = (*MemoryStore)(nil)
