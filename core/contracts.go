package core

// Smart-contract registry for the contract execution host.
//
// Contracts are authored directly in the scripting language the engine
// embeds (gopher-lua); there is no offline WASM compile step. Deploy
// stores the source chunk and optional Ricardian metadata on the ledger
// and keeps an in-memory index for fast lookup; Invoke routes a call
// through the engine (engine.go) for exactly one ABI function.

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrContractNotFound      = errors.New("contract not found")
	ErrContractAlreadyExists = errors.New("contract already deployed")
	ErrEmptyBytecode         = errors.New("empty contract bytecode")
	ErrContractPaused        = errors.New("contracts: contract is paused")
)

//---------------------------------------------------------------------
// Registry (singleton)
//---------------------------------------------------------------------

var (
	contractOnce sync.Once
	reg          *ContractRegistry
)

// InitContracts wires the process-wide contract registry to the ledger
// and the engine runner used to invoke deployed code.
func InitContracts(led *Ledger, eng EngineRunner) {
	contractOnce.Do(func() {
		reg = &ContractRegistry{
			ledger: led,
			eng:    eng,
			byAddr: make(map[Address]*SmartContract),
		}
	})
}

// GetContractRegistry exposes the singleton instance for other packages.
func GetContractRegistry() *ContractRegistry { return reg }

// SetManager attaches the lifecycle manager (pause/resume/ownership/
// upgrade) that Invoke consults before routing a call to the engine.
func (cr *ContractRegistry) SetManager(cm *ContractManager) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.manager = cm
}

// Manager returns the lifecycle manager attached via SetManager, or nil
// if none has been wired.
func (cr *ContractRegistry) Manager() *ContractManager {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return cr.manager
}

//---------------------------------------------------------------------
// Deploy
//---------------------------------------------------------------------

// Deploy registers a new smart contract and stores its source and
// optional Ricardian metadata on the ledger.
func (cr *ContractRegistry) Deploy(addr, creator Address, code []byte, ric []byte, gasLimit uint64) error {
	if len(code) == 0 {
		return ErrEmptyBytecode
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()

	if _, exists := cr.byAddr[addr]; exists {
		return ErrContractAlreadyExists
	}

	sc := &SmartContract{
		Address:   addr,
		Creator:   creator,
		CodeHash:  sha256.Sum256(code),
		Bytecode:  code,
		GasLimit:  gasLimit,
		CreatedAt: time.Now().Unix(),
	}
	cr.byAddr[addr] = sc

	if cr.ledger != nil {
		if err := cr.ledger.SetState(contractKey(addr), code); err != nil {
			return err
		}
		if len(ric) > 0 {
			if err := cr.ledger.SetState(ricardianKey(addr), ric); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get looks up a deployed contract by address.
func (cr *ContractRegistry) Get(addr Address) (*SmartContract, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	sc, ok := cr.byAddr[addr]
	return sc, ok
}

// Ricardian fetches the Ricardian contract JSON for the given address.
func (cr *ContractRegistry) Ricardian(addr Address) ([]byte, error) {
	if cr.ledger == nil {
		return nil, errors.New("contracts: ledger not available")
	}
	return cr.ledger.GetState(ricardianKey(addr))
}

// All returns a snapshot of every deployed contract.
func (cr *ContractRegistry) All() map[Address]*SmartContract {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	out := make(map[Address]*SmartContract, len(cr.byAddr))
	for a, c := range cr.byAddr {
		out[a] = c
	}
	return out
}

//---------------------------------------------------------------------
// Invocation — routed through the engine
//---------------------------------------------------------------------

// Invoke runs one ABI function of a deployed contract and returns its
// JSON-encoded result (per the deterministic codec).
func (cr *ContractRegistry) Invoke(svc *ServiceContext, addr Address, fn, argsJSON string, gasLimit uint64) (string, error) {
	cr.mu.RLock()
	sc, ok := cr.byAddr[addr]
	mgr := cr.manager
	cr.mu.RUnlock()
	if !ok {
		return "", ErrContractNotFound
	}
	if mgr != nil && mgr.IsPaused(addr) {
		return "", ErrContractPaused
	}
	if gasLimit == 0 || gasLimit > sc.GasLimit {
		gasLimit = sc.GasLimit
	}
	svc.ContractID = addr
	svc.Registry = cr
	if cr.eng == nil {
		return "", errors.New("contracts: no engine wired to registry")
	}
	return cr.eng.Invoke(svc, sc.Bytecode, fn, argsJSON)
}

//---------------------------------------------------------------------
// Helpers
//---------------------------------------------------------------------

// DeriveContractAddress deterministically derives the contract address
// from creator and code.
func DeriveContractAddress(creator Address, code []byte) Address {
	pre := append(append([]byte{}, creator.Bytes()...), code...)
	h := sha256.Sum256(pre)
	var out Address
	copy(out[:], h[:20])
	return out
}

func contractKey(addr Address) []byte  { return append([]byte("contract:code:"), addr.Bytes()...) }
func ricardianKey(addr Address) []byte { return append([]byte("contract:ric:"), addr.Bytes()...) }

//---------------------------------------------------------------------
// Registry commitment — backs the admin surface's membership proofs
//---------------------------------------------------------------------

// sortedAddrs returns every deployed address in ascending byte order, the
// fixed leaf ordering MerkleRoot and MerkleProof both index against.
func (cr *ContractRegistry) sortedAddrs() []Address {
	addrs := make([]Address, 0, len(cr.byAddr))
	for a := range cr.byAddr {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		ai, aj := addrs[i], addrs[j]
		return bytes.Compare(ai.Bytes(), aj.Bytes()) < 0
	})
	return addrs
}

// MerkleRoot computes a Merkle commitment over every deployed contract's
// code hash, built with merkle_tree_operations.go's tree builder. An
// empty registry commits to the zero hash.
func (cr *ContractRegistry) MerkleRoot() ([32]byte, error) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	addrs := cr.sortedAddrs()
	if len(addrs) == 0 {
		return [32]byte{}, nil
	}
	leaves := make([][]byte, len(addrs))
	for i, a := range addrs {
		h := cr.byAddr[a].CodeHash
		leaves[i] = h[:]
	}
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return [32]byte{}, err
	}
	return tree[len(tree)-1][0], nil
}

// MerkleProof returns a membership proof for addr's code hash against the
// registry's current root, so a light client can verify a deployment
// without trusting the node that served it.
func (cr *ContractRegistry) MerkleProof(addr Address) (proof [][]byte, root [32]byte, err error) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	if _, ok := cr.byAddr[addr]; !ok {
		return nil, [32]byte{}, ErrContractNotFound
	}
	addrs := cr.sortedAddrs()
	leaves := make([][]byte, len(addrs))
	var index uint32
	for i, a := range addrs {
		h := cr.byAddr[a].CodeHash
		leaves[i] = h[:]
		if a == addr {
			index = uint32(i)
		}
	}
	return MerkleProof(leaves, index)
}
