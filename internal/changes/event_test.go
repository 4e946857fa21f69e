package changes

import "testing"

func TestEventRelevant(t *testing.T) {
	cases := map[Kind]bool{
		KindCreated: false,
		KindRemoved: true,
		KindChanged: true,
		KindMoved:   true,
		"unknown":   false,
	}
	for kind, want := range cases {
		if got := (Event{Kind: kind}).Relevant(); got != want {
			t.Fatalf("%s: expected %v, got %v", kind, want, got)
		}
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent(`{"kind":"moved","nodeId":"node_1"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != KindMoved || ev.NodeID != "node_1" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if _, err := decodeEvent(`{"nodeId":"node_1"}`); err == nil {
		t.Fatal("expected error for missing kind")
	}
	if _, err := decodeEvent(`not json`); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}
