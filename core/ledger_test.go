package core

import (
	"errors"
	"path/filepath"
	"testing"
)

// newTestLedger returns a fresh durable Ledger rooted in a t.TempDir(), used
// by tests throughout the package that need a *Ledger but not a specific
// on-disk layout.
func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dir := t.TempDir()
	led, err := NewLedger(LedgerConfig{
		WALPath:      filepath.Join(dir, "wal.log"),
		SnapshotPath: filepath.Join(dir, "snap.json"),
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	t.Cleanup(func() { _ = led.Close() })
	return led
}

func newBenchLedger(b *testing.B) *Ledger {
	b.Helper()
	return NewInMemory()
}

func TestLedgerSetGetHasDelete(t *testing.T) {
	led := newTestLedger(t)
	k, v := []byte("_sv_1_foo"), []byte("bar")

	if ok, _ := led.HasState(k); ok {
		t.Fatalf("expected key absent")
	}
	if err := led.SetState(k, v); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := led.GetState(k)
	if err != nil || string(got) != "bar" {
		t.Fatalf("get: %q err %v", got, err)
	}
	if ok, _ := led.HasState(k); !ok {
		t.Fatalf("expected key present")
	}
	if err := led.DeleteState(k); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := led.HasState(k); ok {
		t.Fatalf("expected key removed")
	}
}

func TestLedgerPrefixIteratorOrder(t *testing.T) {
	led := newTestLedger(t)
	for _, k := range []string{"_sv_1_b", "_sv_1_a", "_sv_1_c"} {
		if err := led.SetState([]byte(k), []byte("v")); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	it := led.PrefixIterator([]byte("_sv_1_"))
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"_sv_1_a", "_sv_1_b", "_sv_1_c"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestLedgerRecoveryRollback(t *testing.T) {
	led := newTestLedger(t)
	k := []byte("_sv_1_x")
	_ = led.SetState(k, []byte("before"))

	seq := led.ChangeLogLen()
	_ = led.SetState(k, []byte("after"))
	led.RollbackTo(seq)

	got, _ := led.GetState(k)
	if string(got) != "before" {
		t.Fatalf("rollback failed: got %q want before", got)
	}
}

func TestLedgerSnapshotHelper(t *testing.T) {
	led := newTestLedger(t)
	k := []byte("_sv_1_x")
	_ = led.SetState(k, []byte("before"))

	err := led.Snapshot(func() error {
		_ = led.SetState(k, []byte("during"))
		return errFailingIntentionally
	})
	if err == nil {
		t.Fatalf("expected snapshot to propagate error")
	}
	got, _ := led.GetState(k)
	if string(got) != "before" {
		t.Fatalf("snapshot did not roll back: got %q", got)
	}
}

func TestLedgerStateRootDeterministic(t *testing.T) {
	ledA := newTestLedger(t)
	_ = ledA.SetState([]byte("a"), []byte("1"))
	_ = ledA.SetState([]byte("b"), []byte("2"))

	ledB := newTestLedger(t)
	_ = ledB.SetState([]byte("b"), []byte("2"))
	_ = ledB.SetState([]byte("a"), []byte("1"))

	if ledA.StateRoot() != ledB.StateRoot() {
		t.Fatalf("state roots mismatch")
	}
}

func TestLedgerSaveSnapshotRoundTrip(t *testing.T) {
	led := newTestLedger(t)
	_ = led.SetState([]byte("foo"), []byte("bar"))
	if err := led.SaveSnapshot(); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	reloaded, err := NewLedger(LedgerConfig{SnapshotPath: led.snapshotPath})
	if err != nil {
		t.Fatalf("reload snapshot: %v", err)
	}
	got, _ := reloaded.GetState([]byte("foo"))
	if string(got) != "bar" {
		t.Fatalf("reloaded foo = %q, want %q", got, "bar")
	}
}

var errFailingIntentionally = errors.New("intentional failure")
