package main

import (
	"testing"

	"contracthost/core"
)

func TestContractSummaryFields(t *testing.T) {
	sc := &core.SmartContract{
		Address:   core.Address{1, 2, 3},
		Creator:   core.Address{4, 5, 6},
		GasLimit:  5000,
		CreatedAt: 1700000000,
	}
	v := contractSummary(sc)
	if v.Address != sc.Address.Hex() {
		t.Fatalf("address = %q, want %q", v.Address, sc.Address.Hex())
	}
	if v.Creator != sc.Creator.Hex() {
		t.Fatalf("creator = %q, want %q", v.Creator, sc.Creator.Hex())
	}
	if v.GasLimit != sc.GasLimit || v.CreatedAt != sc.CreatedAt {
		t.Fatalf("gas/created mismatch: %+v", v)
	}
}

func TestContractSummariesEmptyRegistry(t *testing.T) {
	led := core.NewInMemory()
	factory := core.NewEngineFactory(led, core.EngineConfig{Hardfork: 4, GasLimit: 1000, InstrLimit: 1000, MaxMemory: 1 << 20})
	core.InitContracts(led, factory)
	reg := core.GetContractRegistry()

	got := contractSummaries(reg)
	if len(got) != 0 {
		t.Fatalf("expected no contracts on a fresh registry, got %d", len(got))
	}
}
