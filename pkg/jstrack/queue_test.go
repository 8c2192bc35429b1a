package jstrack

import "testing"

func TestErrorQueue_DropsNewestWhenFull(t *testing.T) {
	q := newErrorQueue(2)

	for i, want := range []bool{true, true, false, false} {
		if got := q.push(ClassifyConsole(i)); got != want {
			t.Errorf("push(%d) = %v, want %v", i, got, want)
		}
	}

	batch := q.drain()
	if len(batch) != 2 {
		t.Fatalf("drain returned %d records, want 2", len(batch))
	}
	if batch[0].Description != 0 || batch[1].Description != 1 {
		t.Errorf("drain order = %v, %v, want 0, 1", batch[0].Description, batch[1].Description)
	}
	if q.len() != 0 {
		t.Errorf("len after drain = %d, want 0", q.len())
	}
	if !q.push(ClassifyConsole("again")) {
		t.Error("push after drain should succeed")
	}
}

func TestErrorQueue_Resize(t *testing.T) {
	q := newErrorQueue(3)
	q.push(ClassifyConsole("a"))
	q.push(ClassifyConsole("b"))

	if trimmed := q.resize(1); len(trimmed) != 1 || trimmed[0].Description != "b" {
		t.Fatalf("resize(1) trimmed %v, want the newest record b", trimmed)
	}
	if q.push(ClassifyConsole("c")) {
		t.Error("push beyond the new capacity should fail")
	}
	batch := q.drain()
	if len(batch) != 1 || batch[0].Description != "a" {
		t.Errorf("drain after shrink = %v, want only the oldest record a", batch)
	}

	if trimmed := q.resize(5); trimmed != nil {
		t.Errorf("growing the queue trimmed %v, want nothing", trimmed)
	}
}
