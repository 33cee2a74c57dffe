package core

import "testing"

func TestRecoveryRollsBackOnError(t *testing.T) {
	led := newTestLedger(t)
	events := NewEventManager(led)
	rec := NewRecoveryManager(led, events, 4)

	if err := led.SetState([]byte("k1"), []byte("before")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	seq := rec.OpenRecovery()
	if seq == 0 {
		t.Fatalf("expected non-zero sequence")
	}
	if err := led.SetState([]byte("k1"), []byte("during")); err != nil {
		t.Fatalf("set: %v", err)
	}
	events.Append("c1", "evt", `{"x":1}`, 1)

	if err := rec.CloseRecovery(seq, true); err != nil {
		t.Fatalf("close: %v", err)
	}

	v, err := led.GetState([]byte("k1"))
	if err != nil || string(v) != "before" {
		t.Fatalf("rollback failed: v=%q err=%v", v, err)
	}
	if events.BufferLen() != 0 {
		t.Fatalf("expected event buffer truncated, got %d", events.BufferLen())
	}
}

func TestRecoveryCommitsOnSuccess(t *testing.T) {
	led := newTestLedger(t)
	events := NewEventManager(led)
	rec := NewRecoveryManager(led, events, 4)

	seq := rec.OpenRecovery()
	if err := led.SetState([]byte("k1"), []byte("committed")); err != nil {
		t.Fatalf("set: %v", err)
	}
	events.Append("c1", "evt", `{"x":1}`, 1)

	if err := rec.CloseRecovery(seq, false); err != nil {
		t.Fatalf("close: %v", err)
	}

	v, err := led.GetState([]byte("k1"))
	if err != nil || string(v) != "committed" {
		t.Fatalf("expected commit to survive: v=%q err=%v", v, err)
	}
	if events.BufferLen() != 1 {
		t.Fatalf("expected event to survive, got %d", events.BufferLen())
	}
}

func TestRecoveryZeroSeqIsNoop(t *testing.T) {
	led := newTestLedger(t)
	rec := NewRecoveryManager(led, NewEventManager(led), 4)
	if err := rec.CloseRecovery(0, true); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestRecoveryNestedRollback(t *testing.T) {
	led := newTestLedger(t)
	events := NewEventManager(led)
	rec := NewRecoveryManager(led, events, 4)

	outer := rec.OpenRecovery()
	if err := led.SetState([]byte("k"), []byte("outer")); err != nil {
		t.Fatalf("set: %v", err)
	}

	inner := rec.OpenRecovery()
	if err := led.SetState([]byte("k"), []byte("inner")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if rec.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", rec.Depth())
	}

	if err := rec.CloseRecovery(inner, true); err != nil {
		t.Fatalf("close inner: %v", err)
	}
	v, _ := led.GetState([]byte("k"))
	if string(v) != "outer" {
		t.Fatalf("expected inner rollback to restore outer value, got %q", v)
	}
	if rec.Depth() != 1 {
		t.Fatalf("expected depth 1 after inner close, got %d", rec.Depth())
	}

	if err := rec.CloseRecovery(outer, false); err != nil {
		t.Fatalf("close outer: %v", err)
	}
	if rec.Depth() != 0 {
		t.Fatalf("expected depth 0 after outer close, got %d", rec.Depth())
	}
}
