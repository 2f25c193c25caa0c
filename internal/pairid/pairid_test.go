package pairid

import "testing"

func TestCanonicalCommutative(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"uid-9", "uid-10"},
		{"Z", "a"},
		{"same", "same"},
		{"", "x"},
	}
	for _, p := range pairs {
		ab := Canonical(p[0], p[1])
		ba := Canonical(p[1], p[0])
		if ab != ba {
			t.Errorf("Canonical(%q,%q)=%q but reversed=%q", p[0], p[1], ab, ba)
		}
		if again := Canonical(p[0], p[1]); again != ab {
			t.Errorf("not stable: %q vs %q", again, ab)
		}
	}
}

func TestCanonicalOrdering(t *testing.T) {
	if got := Canonical("bob", "alice"); got != "alice_bob" {
		t.Errorf("got %q, want alice_bob", got)
	}
	// Lexicographic, not numeric.
	if got := Canonical("uid-9", "uid-10"); got != "uid-10_uid-9" {
		t.Errorf("got %q, want uid-10_uid-9", got)
	}
}
