package core

import "testing"

func newTestRegistry(t *testing.T) *ContractRegistry {
	t.Helper()
	return &ContractRegistry{byAddr: make(map[Address]*SmartContract)}
}

func TestContractRegistryMerkleRootEmpty(t *testing.T) {
	cr := newTestRegistry(t)
	root, err := cr.MerkleRoot()
	if err != nil {
		t.Fatalf("merkle root: %v", err)
	}
	if root != ([32]byte{}) {
		t.Fatalf("expected zero root for empty registry, got %x", root)
	}
}

func TestContractRegistryMerkleProofVerifies(t *testing.T) {
	cr := newTestRegistry(t)
	addrs := []Address{{1}, {2}, {3}}
	for i, a := range addrs {
		cr.byAddr[a] = &SmartContract{
			Address:  a,
			CodeHash: [32]byte{byte(i + 1)},
		}
	}

	root, err := cr.MerkleRoot()
	if err != nil {
		t.Fatalf("merkle root: %v", err)
	}

	for _, a := range addrs {
		proof, gotRoot, err := cr.MerkleProof(a)
		if err != nil {
			t.Fatalf("merkle proof for %v: %v", a, err)
		}
		if gotRoot != root {
			t.Fatalf("proof root mismatch for %v", a)
		}

		sorted := cr.sortedAddrs()
		var index uint32
		for i, sa := range sorted {
			if sa == a {
				index = uint32(i)
			}
		}
		leaf := cr.byAddr[a].CodeHash
		if !VerifyMerklePath(root, leaf[:], proof, index) {
			t.Fatalf("VerifyMerklePath failed for %v", a)
		}
	}
}

func TestContractRegistryMerkleProofUnknownAddress(t *testing.T) {
	cr := newTestRegistry(t)
	cr.byAddr[Address{1}] = &SmartContract{Address: Address{1}, CodeHash: [32]byte{9}}

	if _, _, err := cr.MerkleProof(Address{99}); err != ErrContractNotFound {
		t.Fatalf("err = %v, want ErrContractNotFound", err)
	}
}
