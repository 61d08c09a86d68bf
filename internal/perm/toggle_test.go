package perm

import "testing"

func TestToggleAddsViewWithStrongerKinds(t *testing.T) {
	for _, kind := range []Kind{KindEdit, KindUpload} {
		next, changed := Toggle(NewSet(), kind)
		if !changed {
			t.Fatalf("toggle %s: expected change", kind)
		}
		if !next.Has(kind) {
			t.Fatalf("toggle %s: kind missing from result", kind)
		}
		if !next.Has(KindView) {
			t.Fatalf("toggle %s: view not auto-granted", kind)
		}
	}
}

func TestToggleRejectsViewRemovalWhileStrongerSurvives(t *testing.T) {
	cases := []Set{
		NewSet(KindView, KindEdit),
		NewSet(KindView, KindUpload),
		NewSet(KindView, KindEdit, KindUpload),
	}
	for _, s := range cases {
		next, changed := Toggle(s, KindView)
		if changed {
			t.Fatalf("expected rejection for %v", s.Strings())
		}
		if !next.Equal(s) {
			t.Fatalf("rejected toggle must return the original set, got %v", next.Strings())
		}
	}
}

func TestToggleRemovesViewWhenAlone(t *testing.T) {
	next, changed := Toggle(NewSet(KindView), KindView)
	if !changed {
		t.Fatalf("expected change")
	}
	if len(next) != 0 {
		t.Fatalf("expected empty set, got %v", next.Strings())
	}
}

func TestToggleIdempotence(t *testing.T) {
	// Toggling the same kind twice returns to the original set, for every
	// kind the pair of toggles is legal on.
	starts := []Set{
		NewSet(),
		NewSet(KindView),
		NewSet(KindView, KindEdit),
		NewSet(KindView, KindUpload),
	}
	for _, s := range starts {
		for _, kind := range Kinds() {
			once, changedOnce := Toggle(s, kind)
			if !changedOnce {
				continue
			}
			twice, _ := Toggle(once, kind)
			if !twice.Equal(s) && !twice.Equal(s.Clone().Normalize()) {
				t.Fatalf("toggle %s twice on %v: got %v", kind, s.Strings(), twice.Strings())
			}
		}
	}
}

func TestToggleDoesNotMutateInput(t *testing.T) {
	s := NewSet(KindView)
	_, _ = Toggle(s, KindEdit)
	if !s.Equal(NewSet(KindView)) {
		t.Fatalf("input set mutated: %v", s.Strings())
	}
}

func TestToggleScenarioThemeDeveloper(t *testing.T) {
	// Support-Admin holds {view} on Developer→Theme Developer. Granting edit
	// yields {view, edit}; revoking view afterwards is rejected.
	s := NewSet(KindView)
	s, changed := Toggle(s, KindEdit)
	if !changed || !s.Equal(NewSet(KindView, KindEdit)) {
		t.Fatalf("expected {view, edit}, got %v", s.Strings())
	}
	s, changed = Toggle(s, KindView)
	if changed {
		t.Fatalf("view revocation should be rejected while edit survives")
	}
	if !s.Equal(NewSet(KindView, KindEdit)) {
		t.Fatalf("set changed after rejected toggle: %v", s.Strings())
	}
}

func TestSetFromStringsRepairsInvariant(t *testing.T) {
	s := SetFromStrings([]string{"edit", "bogus"})
	if !s.Has(KindView) {
		t.Fatalf("stored edit without view must be repaired on read")
	}
	if s.Has(Kind("bogus")) {
		t.Fatalf("unknown kinds must be dropped")
	}
}
