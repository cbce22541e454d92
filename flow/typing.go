package flow

// TypeSystem projects State to and from a richer, caller-declared
// representation. The default is dictionary-shaped: StateType returns
// nil and ConstructData/ConstructState are no-ops over the raw map.
//
// A richer TypeSystem lets a builder validate that a supplied default
// state actually matches a declared record shape, catching typos in
// initial state construction at Build() time rather than at the first
// action that reads a misspelled key.
type TypeSystem interface {
	// StateType returns a representative value of the richer type this
	// TypeSystem projects State to and from, or nil for the default
	// dictionary-shaped system.
	StateType() any

	// ConstructData projects a State to the richer representation.
	ConstructData(s State) (any, error)

	// ConstructState projects the richer representation back to a State.
	ConstructState(model any) (State, error)
}

// DictTypeSystem is the default, no-op TypeSystem: data and state are the
// same dictionary-shaped value.
type DictTypeSystem struct{}

// StateType always returns nil for DictTypeSystem.
func (DictTypeSystem) StateType() any { return nil }

// ConstructData returns s's backing map unchanged.
func (DictTypeSystem) ConstructData(s State) (any, error) {
	out := make(map[string]any, s.Len())
	for _, k := range s.Keys() {
		out[k], _ = s.Get(k)
	}
	return out, nil
}

// ConstructState accepts a map[string]any and wraps it as a State; a State
// is returned as is and nil yields an empty State. Any other input is
// rejected with a BuildError.
func (DictTypeSystem) ConstructState(model any) (State, error) {
	switch m := model.(type) {
	case map[string]any:
		return NewState(m), nil
	case State:
		return m, nil
	case nil:
		return NewState(nil), nil
	default:
		return State{}, &BuildError{
			Message: "DictTypeSystem.ConstructState requires a map[string]any or State",
			Code:    "INVALID_STATE_MODEL",
		}
	}
}
