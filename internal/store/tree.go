package store

import "encoding/json"

// Normalize converts v into the generic tree representation used by every
// store: maps become map[string]any and numbers become float64.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetPath replaces the value at segs under root, creating intermediate nodes.
// A nil value removes the node and prunes parents left empty.
func SetPath(root map[string]any, segs []string, v any) {
	if len(segs) == 0 {
		return
	}
	if v == nil {
		deletePath(root, segs)
		return
	}
	node := root
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[s] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = v
}

// MergePath merges v into the value at segs. Maps are merged key by key;
// any other value replaces what was there.
func MergePath(root map[string]any, segs []string, v any) {
	if len(segs) == 0 {
		return
	}
	node := root
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[s] = child
		}
		node = child
	}
	last := segs[len(segs)-1]
	incoming, isMap := v.(map[string]any)
	existing, hadMap := node[last].(map[string]any)
	if !isMap || !hadMap {
		node[last] = v
		return
	}
	for k, val := range incoming {
		MergePath(existing, []string{k}, val)
	}
}

// Lookup returns the value at segs under root.
func Lookup(root any, segs []string) (any, bool) {
	node := root
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// Clone deep-copies a tree value so listeners never share memory with the store.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

func deletePath(node map[string]any, segs []string) bool {
	if len(segs) == 1 {
		delete(node, segs[0])
		return len(node) == 0
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		return false
	}
	if deletePath(child, segs[1:]) {
		delete(node, segs[0])
	}
	return len(node) == 0
}
