package flow

import "testing"

func TestDictTypeSystemRoundTrip(t *testing.T) {
	ts := DictTypeSystem{}
	s, err := ts.ConstructState(map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("ConstructState: %v", err)
	}
	data, err := ts.ConstructData(s)
	if err != nil {
		t.Fatalf("ConstructData: %v", err)
	}
	m, ok := data.(map[string]any)
	if !ok {
		t.Fatalf("ConstructData returned %T, want map[string]any", data)
	}
	if m["a"] != 1 {
		t.Errorf("a = %v, want 1", m["a"])
	}
}

func TestDictTypeSystemRejectsInvalidModel(t *testing.T) {
	ts := DictTypeSystem{}
	if _, err := ts.ConstructState(42); err == nil {
		t.Fatal("expected BuildError for non-map model")
	}
}

func TestDictTypeSystemAcceptsNilModel(t *testing.T) {
	ts := DictTypeSystem{}
	s, err := ts.ConstructState(nil)
	if err != nil {
		t.Fatalf("ConstructState(nil): %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty state, got %d keys", s.Len())
	}
}
