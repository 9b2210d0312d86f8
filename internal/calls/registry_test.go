package calls

import (
	"context"
	"testing"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry()
	a := &Coordinator{roomID: "r1", selfID: "a"}
	b := &Coordinator{roomID: "r1", selfID: "b"}

	if !r.Add(a) || !r.Add(b) {
		t.Fatalf("expected both adds to succeed")
	}
	if r.Add(&Coordinator{roomID: "r1", selfID: "a"}) {
		t.Fatalf("duplicate delivery must not replace the live coordinator")
	}
	if got, ok := r.Get("r1", "a"); !ok || got != a {
		t.Fatalf("unexpected get result")
	}
	if n := len(r.ForAccount("b")); n != 1 {
		t.Fatalf("expected 1 coordinator for b, got %d", n)
	}

	r.Remove(&Coordinator{roomID: "r1", selfID: "a"})
	if _, ok := r.Get("r1", "a"); !ok {
		t.Fatalf("removing a different instance must be a no-op")
	}
	r.Remove(a)
	r.Remove(b)
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(1)
	if ok, _ := l.Acquire(ctx, "cust"); !ok {
		t.Fatalf("first acquire should succeed")
	}
	if ok, _ := l.Acquire(ctx, "cust"); ok {
		t.Fatalf("second acquire should be refused")
	}
	if ok, _ := l.Acquire(ctx, "other"); !ok {
		t.Fatalf("limits are per caller")
	}
	_ = l.Release(ctx, "cust")
	if ok, _ := l.Acquire(ctx, "cust"); !ok {
		t.Fatalf("acquire after release should succeed")
	}
}
