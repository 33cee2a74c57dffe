package core

import "testing"

// newTestDriver wires a DefaultDriver against a fresh in-memory ledger and
// registry, the minimal set every NodeDriver method under test needs.
func newTestDriver(t *testing.T) (*DefaultDriver, *Ledger) {
	t.Helper()
	led := newTestLedger(t)
	factory := NewEngineFactory(led, EngineConfig{Hardfork: 4, GasLimit: 1_000_000, InstrLimit: 1_000_000, MaxMemory: 1 << 20})
	reg := &ContractRegistry{ledger: led, eng: factory, byAddr: make(map[Address]*SmartContract)}
	access := NewAccessController(led)
	d := NewDefaultDriver(led, reg, access, factory)
	factory.Cfg.Driver = d
	return d, led
}

func testCtx(d *DefaultDriver, led *Ledger, contractID Address) *ServiceContext {
	events := NewEventManager(led)
	return &ServiceContext{
		Sender:          contractID,
		Creator:         contractID,
		Origin:          contractID,
		ContractID:      contractID,
		HardforkVersion: 4,
		Ledger:          led,
		Gov:             NewGovernor(4, 1_000_000, 1_000_000, 1<<20, nil),
		Recovery:        NewRecoveryManager(led, events, 4),
		Events:          events,
		Driver:          d,
		Registry:        d.Registry,
	}
}

func TestDefaultDriverSendAndGetBalance(t *testing.T) {
	d, led := newTestDriver(t)
	from := Address{1}
	to := Address{2}

	if err := d.writeBignum(balanceKey(from), NewBignumInt(100)); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	ctx := testCtx(d, led, from)
	if err := d.SendAmount(ctx, to, NewBignumInt(40)); err != nil {
		t.Fatalf("send: %v", err)
	}

	fromBal, err := d.GetBalance(ctx, from)
	if err != nil || fromBal.String() != "60" {
		t.Fatalf("from balance = %v, %v, want 60", fromBal, err)
	}
	toBal, err := d.GetBalance(ctx, to)
	if err != nil || toBal.String() != "40" {
		t.Fatalf("to balance = %v, %v, want 40", toBal, err)
	}
}

func TestDefaultDriverSendInsufficientFunds(t *testing.T) {
	d, led := newTestDriver(t)
	from := Address{1}
	to := Address{2}
	ctx := testCtx(d, led, from)

	if err := d.SendAmount(ctx, to, NewBignumInt(1)); err != ErrInsufficientFunds {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestDefaultDriverStakeAndUnstake(t *testing.T) {
	d, led := newTestDriver(t)
	owner := Address{7}
	ctx := testCtx(d, led, owner)

	if err := d.writeBignum(balanceKey(owner), NewBignumInt(500)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	argsJSON := `"200"`
	if _, err := d.Governance(ctx, GovTagStake, argsJSON); err != nil {
		t.Fatalf("stake: %v", err)
	}
	bal, _ := d.GetBalance(ctx, owner)
	staked, _ := d.GetStaking(ctx, owner)
	if bal.String() != "300" || staked.String() != "200" {
		t.Fatalf("after stake bal=%s staked=%s, want 300/200", bal, staked)
	}

	if _, err := d.Governance(ctx, GovTagUnstake, `"50"`); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	bal, _ = d.GetBalance(ctx, owner)
	staked, _ = d.GetStaking(ctx, owner)
	if bal.String() != "350" || staked.String() != "150" {
		t.Fatalf("after unstake bal=%s staked=%s, want 350/150", bal, staked)
	}
}

func TestDefaultDriverGovernanceUnknownAction(t *testing.T) {
	d, led := newTestDriver(t)
	ctx := testCtx(d, led, Address{9})
	if _, err := d.Governance(ctx, "X", "{}"); err == nil {
		t.Fatalf("expected error for unknown governance action")
	}
}

func TestDefaultDriverEventRoundTrip(t *testing.T) {
	d, led := newTestDriver(t)
	ctx := testCtx(d, led, Address{3})

	if n := d.GetEventCount(ctx); n != 0 {
		t.Fatalf("initial event count = %d, want 0", n)
	}
	id, err := d.Event(ctx, "Transfer", `{"to":"0x1"}`)
	if err != nil || id == "" {
		t.Fatalf("event: id=%q err=%v", id, err)
	}
	if n := d.GetEventCount(ctx); n != 1 {
		t.Fatalf("event count = %d, want 1", n)
	}
}

func TestDefaultDriverDataKVRoundTrip(t *testing.T) {
	d, led := newTestDriver(t)
	ctx := testCtx(d, led, Address{4})

	if err := d.SetDB(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := d.GetDB(ctx, []byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get: %q, %v", got, err)
	}
	if err := d.DelDB(ctx, []byte("k")); err != nil {
		t.Fatalf("del: %v", err)
	}
	got, _ = d.GetDB(ctx, []byte("k"))
	if len(got) != 0 {
		t.Fatalf("expected empty after delete, got %q", got)
	}
}

func TestDefaultDriverNameRegisterResolve(t *testing.T) {
	d, _ := newTestDriver(t)
	addr := Address{5}
	if err := d.RegisterName("alice", addr); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := d.NameResolve("alice")
	if err != nil || got != addr {
		t.Fatalf("resolve = %v, %v, want %v", got, err, addr)
	}
	if _, err := d.NameResolve("bob"); err == nil {
		t.Fatalf("expected error resolving unregistered name")
	}
}

func TestDefaultDriverCryptoPassthrough(t *testing.T) {
	d, _ := newTestDriver(t)
	if got := d.CryptoSha256([]byte("x")); got != Sha256Hex([]byte("x")) {
		t.Fatalf("sha256 passthrough mismatch: %q", got)
	}
}

func TestDefaultDriverPublicity(t *testing.T) {
	d, _ := newTestDriver(t)
	addr := Address{6}
	if d.IsPublic(addr) {
		t.Fatalf("expected not public by default")
	}
	d.MarkPublic(addr)
	if !d.IsPublic(addr) {
		t.Fatalf("expected public after MarkPublic")
	}
}

func TestDefaultDriverViewDepth(t *testing.T) {
	d, led := newTestDriver(t)
	ctx := testCtx(d, led, Address{8})
	d.ViewStart(ctx)
	d.ViewStart(ctx)
	if d.viewDepth != 2 {
		t.Fatalf("viewDepth = %d, want 2", d.viewDepth)
	}
	d.ViewEnd(ctx)
	if d.viewDepth != 1 {
		t.Fatalf("viewDepth = %d, want 1", d.viewDepth)
	}
}

func TestDefaultDriverRandomIntBounds(t *testing.T) {
	d, _ := newTestDriver(t)
	for i := 0; i < 20; i++ {
		n := d.RandomInt(nil, 10, 20)
		if n < 10 || n > 20 {
			t.Fatalf("RandomInt out of bounds: %d", n)
		}
	}
	if n := d.RandomInt(nil, 5, 5); n != 5 {
		t.Fatalf("degenerate range: got %d, want 5", n)
	}
}

func TestDefaultDriverDeployContract(t *testing.T) {
	d, led := newTestDriver(t)
	creator := Address{1}
	ctx := testCtx(d, led, creator)

	addr, err := d.DeployContract(ctx, []byte("return {}"), nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, ok := d.Registry.Get(addr); !ok {
		t.Fatalf("expected contract registered at %v", addr)
	}

	if _, err := d.DeployContract(ctx, []byte("return {}"), nil); err != ErrContractAlreadyExists {
		t.Fatalf("redeploy err = %v, want ErrContractAlreadyExists", err)
	}
}
