package native

import "testing"

func TestParticipantsInSameUVNShareBroker(t *testing.T) {
	t.Cleanup(func() { ForgetUVN("uvn-a") })

	p1 := NewParticipant("uvn-a")
	p2 := NewParticipant("uvn-a")

	reader, err := p2.Reader("CELL")
	if err != nil {
		t.Fatal(err)
	}
	writer, err := p1.Writer("CELL", "cell-a")
	if err != nil {
		t.Fatal(err)
	}

	if err := writer.Write("hello"); err != nil {
		t.Fatal(err)
	}

	events := reader.Take()
	if len(events) != 1 || events[0].Instance != "cell-a" {
		t.Fatalf("expected the other participant's write to arrive, got %v", events)
	}
}

func TestParticipantsInDifferentUVNsDoNotShare(t *testing.T) {
	t.Cleanup(func() {
		ForgetUVN("uvn-b")
		ForgetUVN("uvn-c")
	})

	p1 := NewParticipant("uvn-b")
	p2 := NewParticipant("uvn-c")

	reader, _ := p2.Reader("CELL")
	writer, _ := p1.Writer("CELL", "cell-a")
	writer.Write("hello")

	if len(reader.Take()) != 0 {
		t.Fatal("expected no cross-UVN delivery")
	}
}
