package pairmap

import "testing"

func TestAssertIdempotentRegardlessOfOrder(t *testing.T) {
	m := New[string]()

	got1 := m.Assert(1, 2, func() string { return "v1" })
	if got1 != "v1" {
		t.Fatalf("got %q, want v1", got1)
	}

	got2 := m.Assert(2, 1, func() string { return "v2" })
	if got2 != "v1" {
		t.Fatalf("second assert with swapped args returned %q, want v1 (idempotent)", got2)
	}

	if m.Len() != 1 {
		t.Fatalf("expected exactly one stored pair, got %d", m.Len())
	}
}

func TestGetMissing(t *testing.T) {
	m := New[int]()
	if _, ok := m.Get(1, 2); ok {
		t.Fatal("expected missing pair to report !ok")
	}
}

func TestPurgePeer(t *testing.T) {
	m := New[int]()
	m.Assert(1, 2, func() int { return 12 })
	m.Assert(1, 3, func() int { return 13 })
	m.Assert(2, 3, func() int { return 23 })

	m.PurgePeer(1)

	if _, ok := m.Get(1, 2); ok {
		t.Fatal("expected (1,2) to be purged")
	}
	if _, ok := m.Get(1, 3); ok {
		t.Fatal("expected (1,3) to be purged")
	}
	if v, ok := m.Get(2, 3); !ok || v != 23 {
		t.Fatalf("expected (2,3) untouched, got %v, %v", v, ok)
	}
}

func TestPick(t *testing.T) {
	got := Pick(3, 7, 3, "lo", "hi")
	if got != "lo" {
		t.Fatalf("Pick for lower peer = %q, want lo", got)
	}
	got = Pick(3, 7, 7, "lo", "hi")
	if got != "hi" {
		t.Fatalf("Pick for higher peer = %q, want hi", got)
	}
	// Order of args to Pick shouldn't matter for canonicalization.
	got = Pick(7, 3, 3, "lo", "hi")
	if got != "lo" {
		t.Fatalf("Pick with swapped a,b = %q, want lo", got)
	}
}

func TestKeysDeterministicOrder(t *testing.T) {
	m := New[int]()
	m.Assert(5, 1, func() int { return 0 })
	m.Assert(2, 9, func() int { return 0 })
	m.Assert(1, 2, func() int { return 0 })

	keys := m.Keys()
	for i := 1; i < len(keys); i++ {
		prev, cur := keys[i-1], keys[i]
		if prev.Lo > cur.Lo || (prev.Lo == cur.Lo && prev.Hi > cur.Hi) {
			t.Fatalf("keys not sorted: %v before %v", prev, cur)
		}
	}
}
