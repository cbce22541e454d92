package flow

import (
	"context"
	"testing"
)

func countingAction(name string) Action {
	return TwoPhaseFunc(name, nil, nil,
		func(_ context.Context, _ State, _ map[string]any) (map[string]any, error) { return nil, nil },
		func(_ map[string]any, s State) (State, error) { return s, nil },
	)
}

func TestNextActionPicksEntrypointWhenNoPriorStep(t *testing.T) {
	a := countingAction("A")
	b := countingAction("B")
	g := NewGraph([]Action{a, b}, []Transition{{From: "A", To: "B", Condition: Default{}}}, "A")

	next, err := g.NextAction(NewState(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "A" {
		t.Errorf("next = %q, want entrypoint A", next)
	}
}

// S4 — Default fallback: A->B if x==1, A->C default; x=2 picks C.
func TestNextActionDefaultFallback(t *testing.T) {
	a, b, c := countingAction("A"), countingAction("B"), countingAction("C")
	g := NewGraph(
		[]Action{a, b, c},
		[]Transition{
			{From: "A", To: "B", Condition: Expr("x==1", "x == 1")},
			{From: "A", To: "C", Condition: Default{}},
		},
		"A",
	)
	s := NewState(map[string]any{"x": 2, PriorStepKey: "A"})
	next, err := g.NextAction(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "C" {
		t.Errorf("next = %q, want C", next)
	}
}

func TestNextActionDeterministicAcrossCalls(t *testing.T) {
	a, b, c := countingAction("A"), countingAction("B"), countingAction("C")
	g := NewGraph(
		[]Action{a, b, c},
		[]Transition{
			{From: "A", To: "B", Condition: Expr("x<10", "x < 10")},
			{From: "A", To: "C", Condition: Default{}},
		},
		"A",
	)
	s := NewState(map[string]any{"x": 3, PriorStepKey: "A"})
	first, err := g.NextAction(s)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		got, err := g.NextAction(s)
		if err != nil {
			t.Fatal(err)
		}
		if got != first {
			t.Fatalf("iteration %d: got %q, want %q (determinism violated)", i, got, first)
		}
	}
}

func TestNextActionTerminalWhenNoTransitionMatches(t *testing.T) {
	a := countingAction("A")
	g := NewGraph([]Action{a}, nil, "A")
	s := NewState(map[string]any{PriorStepKey: "A"})
	next, err := g.NextAction(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "" {
		t.Errorf("next = %q, want terminal \"\"", next)
	}
}

func TestGraphValidateCatchesInvariantViolations(t *testing.T) {
	t.Run("no actions", func(t *testing.T) {
		g := NewGraph(nil, nil, "")
		if err := g.validate(); err == nil {
			t.Fatal("expected BuildError for empty action set")
		}
	})

	t.Run("unknown entrypoint", func(t *testing.T) {
		g := NewGraph([]Action{countingAction("A")}, nil, "nope")
		if err := g.validate(); err == nil {
			t.Fatal("expected BuildError for unknown entrypoint")
		}
	})

	t.Run("unknown transition target", func(t *testing.T) {
		g := NewGraph([]Action{countingAction("A")}, []Transition{{From: "A", To: "ghost", Condition: Default{}}}, "A")
		if err := g.validate(); err == nil {
			t.Fatal("expected BuildError for unknown transition target")
		}
	})

	t.Run("duplicate default transitions", func(t *testing.T) {
		g := NewGraph(
			[]Action{countingAction("A"), countingAction("B"), countingAction("C")},
			[]Transition{
				{From: "A", To: "B", Condition: Default{}},
				{From: "A", To: "C", Condition: Default{}},
			},
			"A",
		)
		if err := g.validate(); err == nil {
			t.Fatal("expected BuildError for duplicate default transitions")
		}
	})

	t.Run("valid graph passes", func(t *testing.T) {
		g := NewGraph(
			[]Action{countingAction("A"), countingAction("B")},
			[]Transition{{From: "A", To: "B", Condition: Default{}}},
			"A",
		)
		if err := g.validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
