package flow

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeTagKey is the reserved field name on a serialized custom value that
// identifies which deserializer in the registry should reconstruct it.
const TypeTagKey = "__type__"

// SerializeFunc converts a concrete value to its serializable map
// representation. Implementations must include TypeTagKey in the returned
// map with the same identifier the matching DeserializeFunc is registered
// under.
type SerializeFunc func(v any) (map[string]any, error)

// DeserializeFunc reconstructs a concrete value from the map a matching
// SerializeFunc produced.
type DeserializeFunc func(data map[string]any) (any, error)

// SerdeRegistry is a process-wide dispatch table from concrete Go type to
// serializer, and from a type tag identifier back to deserializer. The
// zero value is ready to use.
type SerdeRegistry struct {
	mu        sync.RWMutex
	serialize map[reflect.Type]registeredSerializer
	deserial  map[string]DeserializeFunc
}

type registeredSerializer struct {
	tag string
	fn  SerializeFunc
}

// DefaultSerde is the shared registry new State values implicitly use when
// no explicit registry is supplied to Serialize/Deserialize.
var DefaultSerde = &SerdeRegistry{}

// Register associates the concrete type of sample with a tag, a
// serializer, and a deserializer. Later calls for the same type overwrite
// the earlier registration.
func (r *SerdeRegistry) Register(sample any, tag string, ser SerializeFunc, de DeserializeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.serialize == nil {
		r.serialize = make(map[reflect.Type]registeredSerializer)
		r.deserial = make(map[string]DeserializeFunc)
	}
	r.serialize[reflect.TypeOf(sample)] = registeredSerializer{tag: tag, fn: ser}
	r.deserial[tag] = de
}

func (r *SerdeRegistry) lookupSerializer(v any) (registeredSerializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.serialize[reflect.TypeOf(v)]
	return s, ok
}

func (r *SerdeRegistry) lookupDeserializer(tag string) (DeserializeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.deserial[tag]
	return fn, ok
}

// Serialize returns a serializable map for s. Values of a type registered
// with reg (or DefaultSerde if reg is nil) are routed through their
// serializer and carry TypeTagKey; map[string]any and []any values are
// walked recursively; anything else (other map and slice types included)
// falls through as its fmt.Sprintf("%v", ...) string
// representation.
func (s State) Serialize(reg *SerdeRegistry) (map[string]any, error) {
	if reg == nil {
		reg = DefaultSerde
	}
	out := make(map[string]any, s.Len())
	for _, k := range s.Keys() {
		v, _ := s.Get(k)
		sv, err := serializeValue(reg, v)
		if err != nil {
			return nil, fmt.Errorf("serialize key %q: %w", k, err)
		}
		out[k] = sv
	}
	return out, nil
}

func serializeValue(reg *SerdeRegistry, v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			sv, err := serializeValue(reg, inner)
			if err != nil {
				return nil, err
			}
			out[k] = sv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			sv, err := serializeValue(reg, inner)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	}

	if reg != nil {
		if s, ok := reg.lookupSerializer(v); ok {
			data, err := s.fn.fn(v)
			if err != nil {
				return nil, err
			}
			data[TypeTagKey] = s.tag
			return data, nil
		}
	}
	return fmt.Sprintf("%v", v), nil
}

// Deserialize reconstructs a State from the map Serialize produced,
// routing values carrying TypeTagKey through reg (or DefaultSerde).
func Deserialize(reg *SerdeRegistry, data map[string]any) (State, error) {
	if reg == nil {
		reg = DefaultSerde
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		dv, err := deserializeValue(reg, v)
		if err != nil {
			return State{}, fmt.Errorf("deserialize key %q: %w", k, err)
		}
		out[k] = dv
	}
	return NewState(out), nil
}

func deserializeValue(reg *SerdeRegistry, v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if tag, ok := t[TypeTagKey]; ok {
			tagStr, _ := tag.(string)
			if fn, ok := reg.lookupDeserializer(tagStr); ok {
				return fn(t)
			}
			return nil, fmt.Errorf("no deserializer registered for type tag %q", tagStr)
		}
		out := make(map[string]any, len(t))
		for k, inner := range t {
			dv, err := deserializeValue(reg, inner)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			dv, err := deserializeValue(reg, inner)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		return t, nil
	}
}
