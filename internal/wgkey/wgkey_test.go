package wgkey

import "testing"

func TestGeneratePairRoundTripsThroughString(t *testing.T) {
	pair, err := GeneratePair()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseKey(pair.Public.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != pair.Public {
		t.Fatal("public key did not round trip through its string form")
	}
}

func TestGeneratePairProducesDistinctKeys(t *testing.T) {
	a, err := GeneratePair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GeneratePair()
	if err != nil {
		t.Fatal(err)
	}
	if a.Private == b.Private || a.Public == b.Public {
		t.Fatal("two generated keypairs should not collide")
	}
}

func TestParseKeyRejectsWrongLength(t *testing.T) {
	if _, err := ParseKey("dG9vc2hvcnQ="); err == nil {
		t.Fatal("expected error for a key that isn't 32 bytes")
	}
}
