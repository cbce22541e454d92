package flow

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// PriorStepKey is the reserved state key recording the name of the last
// completed action. The engine reads it to choose the next action; it is
// set on every successful step and must never be written by an action.
const PriorStepKey = "__PRIOR_STEP"

// reservedPrefix marks every engine-private state key.
const reservedPrefix = "__"

// IsReservedKey reports whether key is reserved for engine use (begins with
// the reserved prefix). Actions may read reserved keys but may never
// declare them in Writes.
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, reservedPrefix)
}

// State is the immutable-by-copy keyed container threaded through a graph
// execution. Every producing method returns a new State; the receiver is
// left unchanged. The zero value is a valid, empty State.
type State struct {
	values map[string]any
}

// NewState builds a State from the given key/value map. The map is copied;
// later mutation of the caller's map does not affect the returned State.
func NewState(values map[string]any) State {
	return State{values: cloneMap(values)}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Get returns the value stored under key and whether it was present.
func (s State) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// MustGet returns the value stored under key, or nil if absent. Prefer Get
// when absence is meaningful.
func (s State) MustGet(key string) any {
	return s.values[key]
}

// Keys returns the state's keys in sorted order, for deterministic
// iteration and comparison.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of keys in the state.
func (s State) Len() int {
	return len(s.values)
}

// Update returns a new State with the given key/value pairs set, leaving
// all other keys unchanged.
func (s State) Update(kv map[string]any) State {
	out := cloneMap(s.values)
	for k, v := range kv {
		out[k] = v
	}
	return State{values: out}
}

// WipeOption configures a Wipe call.
type WipeOption func(*wipeConfig)

type wipeConfig struct {
	keep   map[string]struct{}
	delete map[string]struct{}
}

// WipeKeep restricts the result of Wipe to exactly the listed keys.
func WipeKeep(keys ...string) WipeOption {
	return func(c *wipeConfig) {
		if c.keep == nil {
			c.keep = make(map[string]struct{}, len(keys))
		}
		for _, k := range keys {
			c.keep[k] = struct{}{}
		}
	}
}

// WipeDelete removes exactly the listed keys from the result of Wipe.
func WipeDelete(keys ...string) WipeOption {
	return func(c *wipeConfig) {
		if c.delete == nil {
			c.delete = make(map[string]struct{}, len(keys))
		}
		for _, k := range keys {
			c.delete[k] = struct{}{}
		}
	}
}

// Wipe returns a new State filtered by the given options. WipeKeep and
// WipeDelete are mutually exclusive within one call; WipeKeep wins if both
// are supplied, matching "keep takes priority over delete" semantics.
func (s State) Wipe(opts ...WipeOption) State {
	cfg := &wipeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	out := make(map[string]any)
	switch {
	case cfg.keep != nil:
		for k := range cfg.keep {
			if v, ok := s.values[k]; ok {
				out[k] = v
			}
		}
	case cfg.delete != nil:
		for k, v := range s.values {
			if _, drop := cfg.delete[k]; !drop {
				out[k] = v
			}
		}
	default:
		for k, v := range s.values {
			out[k] = v
		}
	}
	return State{values: out}
}

// Merge returns a new State whose keys are the union of s and other; other
// wins on key conflicts.
func (s State) Merge(other State) State {
	out := cloneMap(s.values)
	for k, v := range other.values {
		out[k] = v
	}
	return State{values: out}
}

// Subset returns a new State restricted to the given keys. Keys absent from
// s are simply absent from the result.
func (s State) Subset(keys ...string) State {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return State{values: out}
}

// Equal reports whether s and other hold the same keys mapped to equal
// values, compared via fmt.Sprintf("%#v", ...) for values that are not
// comparable with ==.
func (s State) Equal(other State) bool {
	if len(s.values) != len(other.values) {
		return false
	}
	for k, v := range s.values {
		ov, ok := other.values[k]
		if !ok {
			return false
		}
		if !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) && reflect.ValueOf(a).Comparable() && a == b {
		return true
	}
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}

// reduce implements the §4.1 reduction contract: given before and the
// modifiedSubset an action handed back (restricted to its reads/writes
// window), the merged state equals before.Merge(modifiedSubset) with keys
// that existed in modifiedSubset's source window but were dropped by the
// action removed again. window is the set of keys the action was allowed to
// see and change (its declared reads ∪ writes).
func reduce(before State, window []string, modifiedSubset State) State {
	merged := before.Merge(modifiedSubset)
	var toDelete []string
	for _, k := range window {
		_, hadBefore := before.Get(k)
		_, hasAfter := modifiedSubset.Get(k)
		if hadBefore && !hasAfter {
			toDelete = append(toDelete, k)
		}
	}
	if len(toDelete) == 0 {
		return merged
	}
	return merged.Wipe(WipeDelete(toDelete...))
}
