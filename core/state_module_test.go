package core

import (
	"strings"
	"testing"
)

// runStateScript deploys src as a contract body and invokes its "run"
// function, returning the JSON-encoded result.
func runStateScript(t *testing.T, src string) string {
	t.Helper()
	d, led := newTestDriver(t)
	ctx := testCtx(d, led, Address{42})
	code := []byte(src + "\nfunction run() return go() end\n")
	out, err := d.Factory.Invoke(ctx, code, "run", "[]")
	if err != nil {
		t.Fatalf("invoke: %v\nsrc:\n%s", err, src)
	}
	return out
}

func TestStateModuleValueRoundTrip(t *testing.T) {
	out := runStateScript(t, `
state.var{ counter = state.value() }
function go()
	counter:set(41)
	return counter:get()
end
`)
	if out != "41" {
		t.Fatalf("got %q, want 41", out)
	}
}

func TestStateModuleMapSetGetDelete(t *testing.T) {
	out := runStateScript(t, `
state.var{ balances = state.map() }
function go()
	balances["alice"] = 100
	balances["bob"] = 50
	balances:delete("alice")
	return {balances["alice"] == nil, balances["bob"]}
end
`)
	if out != `[true,50]` {
		t.Fatalf("got %q", out)
	}
}

func TestStateModuleMapKeyTypeMismatch(t *testing.T) {
	d, led := newTestDriver(t)
	ctx := testCtx(d, led, Address{42})
	code := []byte(`
state.var{ m = state.map() }
function run()
	m["alice"] = 1
	m[7] = 2
end
`)
	if _, err := d.Factory.Invoke(ctx, code, "run", "[]"); err == nil {
		t.Fatalf("expected error on map key type mismatch")
	}
}

// TestStateModuleImapSeedScenario reproduces §8's seed scenario 4:
// m[1]=10; m[2]=20; m:delete(1); m:length()->1; m:keys()->{2}.
func TestStateModuleImapSeedScenario(t *testing.T) {
	out := runStateScript(t, `
state.var{ m = state.imap() }
function go()
	m[1] = 10
	m[2] = 20
	m:delete(1)
	return {m:length(), m:keys()}
end
`)
	if out != `[1,[2]]` {
		t.Fatalf("got %q, want [1,[2]]", out)
	}
}

func TestStateModuleImapPairsInsertionOrder(t *testing.T) {
	out := runStateScript(t, `
state.var{ m = state.imap() }
function go()
	m[3] = "c"
	m[1] = "a"
	m[2] = "b"
	local keys = {}
	for k, v in m:pairs() do
		keys[#keys+1] = k
	end
	return keys
end
`)
	if out != `[3,1,2]` {
		t.Fatalf("got %q, want [3,1,2]", out)
	}
}

func TestStateModuleFixedArray(t *testing.T) {
	out := runStateScript(t, `
state.var{ slots = state.array(3) }
function go()
	slots[1] = "x"
	slots[3] = "z"
	return {#slots, slots[1], slots[3]}
end
`)
	if out != `[3,"x","z"]` {
		t.Fatalf("got %q", out)
	}
}

func TestStateModuleFixedArrayRejectsAppend(t *testing.T) {
	d, led := newTestDriver(t)
	ctx := testCtx(d, led, Address{42})
	code := []byte(`
state.var{ slots = state.array(3) }
function run()
	slots:append("overflow")
end
`)
	if _, err := d.Factory.Invoke(ctx, code, "run", "[]"); err == nil {
		t.Fatalf("expected error appending to a fixed array")
	}
}

func TestStateModuleDynamicArrayAppendsAndGrows(t *testing.T) {
	out := runStateScript(t, `
state.var{ log = state.array() }
function go()
	log:append("first")
	log:append("second")
	return {#log, log[1], log[2]}
end
`)
	if out != `[2,"first","second"]` {
		t.Fatalf("got %q", out)
	}
}

func TestStateModuleNestedMapDimension(t *testing.T) {
	out := runStateScript(t, `
state.var{ grid = state.map(2) }
function go()
	grid[1][1] = "a"
	grid[1][2] = "b"
	grid[2][1] = "c"
	return {grid[1][1], grid[1][2], grid[2][1]}
end
`)
	if out != `["a","b","c"]` {
		t.Fatalf("got %q", out)
	}
}

func TestStateModuleDimensionOverLimitRejected(t *testing.T) {
	d, led := newTestDriver(t)
	ctx := testCtx(d, led, Address{42})
	code := []byte(`
function run()
	return state.map(6)
end
`)
	_, err := d.Factory.Invoke(ctx, code, "run", "[]")
	if err == nil || !strings.Contains(err.Error(), "dimension") {
		t.Fatalf("expected dimension-limit error, got %v", err)
	}
}
