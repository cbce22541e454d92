package flow

import "fmt"

// Graph is the static structure an Application executes: a set of named
// actions, their ordered outgoing transitions, and an entrypoint.
type Graph struct {
	actions     map[string]Action
	order       []string
	out         map[string][]Transition
	entrypoint  string
}

// NewGraph builds a Graph from actions, transitions, and an entrypoint
// name. It performs none of the builder's invariant checks itself — those
// belong to Builder.Build, which is the only supported way to construct a
// Graph for use in an Application. NewGraph is exported for tests that
// want to exercise NextAction directly against a hand-built graph.
func NewGraph(actions []Action, transitions []Transition, entrypoint string) *Graph {
	g := &Graph{
		actions: make(map[string]Action, len(actions)),
		out:     make(map[string][]Transition),
	}
	for _, a := range actions {
		g.actions[a.Name()] = a
		g.order = append(g.order, a.Name())
	}
	for _, t := range transitions {
		g.out[t.From] = append(g.out[t.From], t)
	}
	g.entrypoint = entrypoint
	return g
}

// Action returns the named action and whether it exists.
func (g *Graph) Action(name string) (Action, bool) {
	a, ok := g.actions[name]
	return a, ok
}

// Actions returns every action in declaration order.
func (g *Graph) Actions() []Action {
	out := make([]Action, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.actions[name])
	}
	return out
}

// Entrypoint returns the graph's declared entrypoint action name.
func (g *Graph) Entrypoint() string {
	return g.entrypoint
}

// Transitions returns the ordered outgoing transitions for a source action
// name.
func (g *Graph) Transitions(from string) []Transition {
	return g.out[from]
}

// NextAction implements §4.3: given the current state, it returns the
// action to run next, or "" if the graph is terminal from here.
//
// When state[PriorStepKey] is unset, the entrypoint is returned
// unconditionally. Otherwise the outgoing transitions of the prior action
// are scanned in declaration order; the first whose condition evaluates
// true is returned. EvaluationError always propagates (§4.2's resolved
// open question): a misconfigured condition is never silently treated as
// false.
func (g *Graph) NextAction(state State) (string, error) {
	prior, ok := state.Get(PriorStepKey)
	if !ok {
		return g.entrypoint, nil
	}
	priorName, _ := prior.(string)
	for _, t := range g.out[priorName] {
		result, err := t.Condition.Run(state)
		if err != nil {
			return "", err
		}
		if result[ConditionResult] {
			return t.To, nil
		}
	}
	return "", nil
}

// validate runs the build-time invariant checks named in §4.7, returning
// the first violation found as a *BuildError.
func (g *Graph) validate() error {
	if len(g.actions) == 0 {
		return &BuildError{Message: "graph must declare at least one action", Code: "NO_ACTIONS"}
	}
	seen := make(map[string]struct{}, len(g.order))
	for _, name := range g.order {
		if _, dup := seen[name]; dup {
			return &BuildError{Message: fmt.Sprintf("action %q is declared more than once", name), Code: "DUPLICATE_ACTION"}
		}
		seen[name] = struct{}{}
	}
	if _, ok := g.actions[g.entrypoint]; !ok {
		return &BuildError{Message: fmt.Sprintf("entrypoint %q is not a declared action", g.entrypoint), Code: "UNKNOWN_ENTRYPOINT"}
	}
	for from, transitions := range g.out {
		if _, ok := g.actions[from]; !ok {
			return &BuildError{Message: fmt.Sprintf("transition source %q is not a declared action", from), Code: "UNKNOWN_TRANSITION_SOURCE"}
		}
		sawDefault := false
		for _, t := range transitions {
			if _, ok := g.actions[t.To]; !ok {
				return &BuildError{Message: fmt.Sprintf("transition target %q is not a declared action", t.To), Code: "UNKNOWN_TRANSITION_TARGET"}
			}
			if IsDefault(t.Condition) {
				if sawDefault {
					return &BuildError{Message: fmt.Sprintf("source %q has more than one default transition", from), Code: "DUPLICATE_DEFAULT"}
				}
				sawDefault = true
			}
		}
	}
	return nil
}
