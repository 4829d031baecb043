package risk

import "testing"

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Register(ActionDefinition{Name: "deploy", Description: "first", DefaultLevel: L1})
	r.Register(ActionDefinition{Name: "deploy", Description: "second", DefaultLevel: L2})

	def, ok := r.Lookup("deploy")
	if !ok {
		t.Fatal("expected deploy to be registered")
	}
	if def.Description != "second" || def.DefaultLevel != L2 {
		t.Fatalf("expected later registration to win, got %+v", def)
	}
	if len(r.Names()) != 1 {
		t.Fatalf("expected one action, got %d", len(r.Names()))
	}
}

func TestRegistry_LookupNormalizesName(t *testing.T) {
	r := NewRegistry()
	r.Register(ActionDefinition{Name: "  Read_File ", DefaultLevel: L0})

	if _, ok := r.Lookup("read_file"); !ok {
		t.Fatal("expected normalized lookup to succeed")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected missing action to be absent")
	}
}

func TestRegistry_EmptyNameIgnored(t *testing.T) {
	r := NewRegistry()
	r.Register(ActionDefinition{Name: "   "})
	if len(r.Names()) != 0 {
		t.Fatal("expected blank name to be ignored")
	}
}

func TestLevelOrdering(t *testing.T) {
	if !(L0 < L1 && L1 < L2 && L2 < L3) {
		t.Fatal("level ordering must be strictly increasing")
	}
}

func TestParseLevelRoundTrip(t *testing.T) {
	for _, level := range []Level{L0, L1, L2, L3} {
		parsed, err := ParseLevel(level.String())
		if err != nil {
			t.Fatalf("ParseLevel(%s) error: %v", level, err)
		}
		if parsed != level {
			t.Fatalf("round trip mismatch: %s != %s", parsed, level)
		}
	}

	if _, err := ParseLevel("L4"); err == nil {
		t.Fatal("expected error for undefined level")
	}
}
