package core

import "testing"

func TestStateVarsValueRoundTrip(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	if _, ok, err := sv.GetValue("counter"); err != nil || ok {
		t.Fatalf("expected absent value, ok=%v err=%v", ok, err)
	}
	if err := sv.SetValue("counter", []byte("42")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := sv.GetValue("counter")
	if err != nil || !ok || string(v) != "42" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestStateVarsMapKeyTypeFixedOnFirstWrite(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	if err := sv.MapSet("balances", "alice", mapKeyString, []byte("100")); err != nil {
		t.Fatalf("set string: %v", err)
	}
	if err := sv.MapSet("balances", "7", mapKeyInt, []byte("200")); err != ErrStateVarKeyTypeMismatch {
		t.Fatalf("expected key type mismatch, got %v", err)
	}

	v, ok, err := sv.MapGet("balances", "alice")
	if err != nil || !ok || string(v) != "100" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}

	kind, err := sv.MapKeyKind("balances")
	if err != nil || kind != mapKeyString {
		t.Fatalf("key kind: kind=%q err=%v", kind, err)
	}
	if err := sv.CheckMapKeyType("balances", mapKeyInt); err != ErrStateVarKeyTypeMismatch {
		t.Fatalf("expected check mismatch, got %v", err)
	}
}

func TestStateVarsMapDelete(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	if err := sv.MapSet("balances", "alice", mapKeyString, []byte("100")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := sv.MapDelete("balances", "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := sv.MapGet("balances", "alice"); err != nil || ok {
		t.Fatalf("expected absent after delete, ok=%v err=%v", ok, err)
	}
	// deleting an absent field is a no-op, not an error.
	if err := sv.MapDelete("balances", "nobody"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

// TestStateVarsIMapSeedScenario reproduces §8's seed scenario 4:
// m[1]=10; m[2]=20; m:delete(1); m:length()->1; m:keys()->{2}.
func TestStateVarsIMapSeedScenario(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	if err := sv.IMapSet("m", "m", "1", mapKeyInt, []byte("10")); err != nil {
		t.Fatalf("set 1: %v", err)
	}
	if err := sv.IMapSet("m", "m", "2", mapKeyInt, []byte("20")); err != nil {
		t.Fatalf("set 2: %v", err)
	}
	if err := sv.IMapDelete("m", "1"); err != nil {
		t.Fatalf("delete 1: %v", err)
	}

	n, err := sv.IMapLen("m")
	if err != nil || n != 1 {
		t.Fatalf("len: n=%d err=%v", n, err)
	}
	keys, err := sv.IMapKeys("m")
	if err != nil || len(keys) != 1 || keys[0] != "2" {
		t.Fatalf("keys: keys=%v err=%v", keys, err)
	}

	if _, ok, err := sv.IMapGet("m", "1"); err != nil || ok {
		t.Fatalf("expected key 1 gone, ok=%v err=%v", ok, err)
	}
	v, ok, err := sv.IMapGet("m", "2")
	if err != nil || !ok || string(v) != "20" {
		t.Fatalf("get 2: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestStateVarsIMapKeyTypeEnforcement(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	if err := sv.IMapSet("m", "m", "1", mapKeyInt, []byte("10")); err != nil {
		t.Fatalf("set int key: %v", err)
	}
	if err := sv.IMapSet("m", "m", "alice", mapKeyString, []byte("x")); err != ErrStateVarKeyTypeMismatch {
		t.Fatalf("expected key type mismatch, got %v", err)
	}
}

func TestStateVarsIMapPairsInsertionOrder(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	for _, k := range []string{"3", "1", "2"} {
		if err := sv.IMapSet("m", "m", k, mapKeyInt, []byte("v"+k)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	keys, vals, err := sv.IMapPairs("m")
	if err != nil {
		t.Fatalf("pairs: %v", err)
	}
	want := []string{"3", "1", "2"}
	if len(keys) != len(want) {
		t.Fatalf("keys=%v", keys)
	}
	for i, k := range want {
		if keys[i] != k || string(vals[i]) != "v"+k {
			t.Fatalf("pair %d: key=%q val=%q, want key=%q", i, keys[i], vals[i], k)
		}
	}
}

// TestStateVarsIMapNestedScopesBookkeepingPerLevel exercises a
// 2-dimensional imap: each nesting level tracks its own count/keys
// independently, rather than an ancestor-chain total (a deliberate
// simplification from state_imap_set's full parent-chain walk).
func TestStateVarsIMapNestedScopesBookkeepingPerLevel(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	if err := sv.IMapSet("m", "m-1", "10", mapKeyInt, []byte("x")); err != nil {
		t.Fatalf("set m-1-10: %v", err)
	}
	if err := sv.IMapSet("m", "m-1", "20", mapKeyInt, []byte("y")); err != nil {
		t.Fatalf("set m-1-20: %v", err)
	}
	if err := sv.IMapSet("m", "m-2", "30", mapKeyInt, []byte("z")); err != nil {
		t.Fatalf("set m-2-30: %v", err)
	}

	n1, err := sv.IMapLen("m-1")
	if err != nil || n1 != 2 {
		t.Fatalf("len m-1: n=%d err=%v", n1, err)
	}
	n2, err := sv.IMapLen("m-2")
	if err != nil || n2 != 1 {
		t.Fatalf("len m-2: n=%d err=%v", n2, err)
	}
}

func TestStateVarsFixedArrayRejectsAppend(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	const declared = 3

	if err := sv.ArraySet("slots", "", 0, declared, []byte("x")); err != nil {
		t.Fatalf("set 0: %v", err)
	}
	if err := sv.ArraySet("slots", "", 2, declared, []byte("z")); err != nil {
		t.Fatalf("set 2: %v", err)
	}
	if err := sv.ArraySet("slots", "", 3, declared, []byte("overflow")); err != ErrStateVarIndexRange {
		t.Fatalf("expected index range error, got %v", err)
	}
	if _, err := sv.ArrayAppend("slots", "", []byte("y"), declared); err != ErrStateVarFixedArray {
		t.Fatalf("expected fixed array error, got %v", err)
	}

	v, ok, err := sv.ArrayGet("slots", "", 0, declared)
	if err != nil || !ok || string(v) != "x" {
		t.Fatalf("get 0: v=%q ok=%v err=%v", v, ok, err)
	}

	length, err := sv.ArrayLen("slots", "", declared)
	if err != nil || length != declared {
		t.Fatalf("len: n=%d err=%v", length, err)
	}
}

func TestStateVarsDynamicArrayGrows(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	n, err := sv.ArrayAppend("log", "", []byte("first"), 0)
	if err != nil || n != 1 {
		t.Fatalf("append 1: n=%d err=%v", n, err)
	}
	n, err = sv.ArrayAppend("log", "", []byte("second"), 0)
	if err != nil || n != 2 {
		t.Fatalf("append 2: n=%d err=%v", n, err)
	}

	length, err := sv.ArrayLen("log", "", 0)
	if err != nil || length != 2 {
		t.Fatalf("len: n=%d err=%v", length, err)
	}

	v, ok, err := sv.ArrayGet("log", "", 1, 0)
	if err != nil || !ok || string(v) != "second" {
		t.Fatalf("get 1: v=%q ok=%v err=%v", v, ok, err)
	}
}

// TestStateVarsNestedFixedArray exercises a 2x3 fixed array composed as
// two subPath-scoped rows under a shared id, the way state_module.go
// nests array dimensions.
func TestStateVarsNestedFixedArray(t *testing.T) {
	led := newTestLedger(t)
	sv := NewStateVars(led, "c1")

	const declared = 3

	if err := sv.ArraySet("grid", "1", 0, declared, []byte("a")); err != nil {
		t.Fatalf("set grid-1-0: %v", err)
	}
	if err := sv.ArraySet("grid", "2", 0, declared, []byte("b")); err != nil {
		t.Fatalf("set grid-2-0: %v", err)
	}

	v1, ok, err := sv.ArrayGet("grid", "1", 0, declared)
	if err != nil || !ok || string(v1) != "a" {
		t.Fatalf("get grid-1-0: v=%q ok=%v err=%v", v1, ok, err)
	}
	v2, ok, err := sv.ArrayGet("grid", "2", 0, declared)
	if err != nil || !ok || string(v2) != "b" {
		t.Fatalf("get grid-2-0: v=%q ok=%v err=%v", v2, ok, err)
	}
}
