package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"groupride/internal/store"
)

// Each tree partition (the first two path segments, e.g. rides/{id}) lives in
// one hash. Fields are record paths relative to the partition and values are
// JSON. Every write publishes the changed path on the partition's channel.
const (
	treeKeyPrefix     = "tree:"
	treeChannelPrefix = "tree-changes:"
	updateMaxAttempts = 5
)

// ErrPathTooShort is returned for paths above partition level.
var ErrPathTooShort = fmt.Errorf("%w: path needs at least two segments", store.ErrInvalidPath)

// TreeStore is a store.Store backed by Redis hashes and pub/sub.
type TreeStore struct {
	client *redis.Client
}

// NewTreeStore creates a new TreeStore.
func NewTreeStore(client *redis.Client) *TreeStore {
	return &TreeStore{client: client}
}

type partition struct {
	key     string
	channel string
	rel     []string
}

func splitPartition(path string) (partition, []string, error) {
	segs, err := store.SplitPath(path)
	if err != nil {
		return partition{}, nil, err
	}
	if len(segs) < 2 {
		return partition{}, nil, ErrPathTooShort
	}
	name := store.JoinPath(segs[:2]...)
	return partition{
		key:     treeKeyPrefix + name,
		channel: treeChannelPrefix + name,
		rel:     segs[2:],
	}, segs, nil
}

// Push appends record under path with a time-ordered key.
func (s *TreeStore) Push(ctx context.Context, path string, record any) (string, error) {
	p, segs, err := splitPartition(path)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	id := store.NewPushID()
	field := store.JoinPath(append(append([]string{}, p.rel...), id)...)
	if err := s.client.HSet(ctx, p.key, field, data).Err(); err != nil {
		return "", err
	}

	s.publish(ctx, p.channel, store.JoinPath(append(segs, id)...))
	return id, nil
}

// Update writes every key of fields in a single optimistic transaction.
// A key replaces the whole subtree beneath it; a nil value removes it.
func (s *TreeStore) Update(ctx context.Context, path string, fields map[string]any) error {
	p, segs, err := splitPartition(path)
	if err != nil {
		return err
	}

	type write struct {
		field string
		data  []byte // nil means delete
	}
	writes := make([]write, 0, len(fields))
	for key, value := range fields {
		keySegs, err := store.SplitPath(key)
		if err != nil {
			return err
		}
		w := write{field: store.JoinPath(append(append([]string{}, p.rel...), keySegs...)...)}
		if value != nil {
			if w.data, err = json.Marshal(value); err != nil {
				return err
			}
		}
		writes = append(writes, w)
	}

	txf := func(tx *redis.Tx) error {
		existing, err := tx.HKeys(ctx, p.key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				// Drop the field itself and anything stored beneath it.
				stale := []string{w.field}
				for _, f := range existing {
					if strings.HasPrefix(f, w.field+"/") {
						stale = append(stale, f)
					}
				}
				pipe.HDel(ctx, p.key, stale...)
				if w.data != nil {
					pipe.HSet(ctx, p.key, w.field, w.data)
				}
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < updateMaxAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, p.key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return err
	}

	s.publish(ctx, p.channel, store.JoinPath(segs...))
	return nil
}

// Get reads the subtree at path.
func (s *TreeStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	p, segs, err := splitPartition(path)
	if err != nil {
		return store.Snapshot{}, err
	}

	fields, err := s.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return store.Snapshot{}, err
	}

	snap := store.Snapshot{Path: store.JoinPath(segs...)}
	value, ok := buildTree(fields, p.rel)
	if ok && store.Exists(value) {
		snap.Exists = true
		snap.Value = value
	}
	return snap, nil
}

// Subscribe attaches fn to path. The listener is re-read from Redis on every
// change published for an overlapping path; read failures are delivered as
// errors and the subscription stays attached.
func (s *TreeStore) Subscribe(ctx context.Context, path string, fn store.Listener) (store.Subscription, error) {
	p, segs, err := splitPartition(path)
	if err != nil {
		return nil, err
	}
	watched := store.JoinPath(segs...)

	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(subCtx, p.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", watched, err)
	}

	sub := &treeSubscription{
		feed:   store.NewFeed(fn),
		pubsub: pubsub,
		cancel: cancel,
	}

	deliver := func() {
		snap, err := s.Get(subCtx, watched)
		if err != nil {
			snap = store.Snapshot{Path: watched}
		}
		sub.feed.Deliver(snap, err)
	}

	go func() {
		deliver()
		for msg := range pubsub.Channel() {
			if store.Overlaps(watched, msg.Payload) {
				deliver()
			}
		}
	}()

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

func (s *TreeStore) publish(ctx context.Context, channel, changed string) {
	if err := s.client.Publish(ctx, channel, changed).Err(); err != nil {
		// Subscribers catch up on the next change; the write itself succeeded.
		log.Printf("[TREE] publish %s on %s failed: %v", changed, channel, err)
	}
}

type treeSubscription struct {
	feed   *store.Feed
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (t *treeSubscription) Unsubscribe() {
	t.feed.Unsubscribe()
	t.cancel()
	_ = t.pubsub.Close()
}

// buildTree assembles the hash fields into a tree and returns the node at rel.
// Shallow fields are applied first so deeper records merge into them.
func buildTree(fields map[string]string, rel []string) (any, bool) {
	prefix := store.JoinPath(rel...)
	type leaf struct {
		segs  []string
		value any
	}
	leaves := make([]leaf, 0, len(fields))
	for field, raw := range fields {
		if prefix != "" && field != prefix && !strings.HasPrefix(field, prefix+"/") {
			continue
		}
		segs, err := store.SplitPath(field)
		if err != nil {
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			continue
		}
		leaves = append(leaves, leaf{segs: segs, value: value})
	}
	if len(leaves) == 0 {
		return nil, false
	}

	sort.Slice(leaves, func(i, j int) bool {
		if len(leaves[i].segs) != len(leaves[j].segs) {
			return len(leaves[i].segs) < len(leaves[j].segs)
		}
		return store.JoinPath(leaves[i].segs...) < store.JoinPath(leaves[j].segs...)
	})

	root := map[string]any{}
	for _, l := range leaves {
		store.MergePath(root, l.segs, l.value)
	}
	if len(rel) == 0 {
		return root, true
	}
	return store.Lookup(root, rel)
}

var _ store.Store = (*TreeStore)(nil)
