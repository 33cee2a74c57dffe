package core

// common_structs.go – centralised struct definitions referenced across
// modules. Kept deliberately small: the host's own data model (service
// context, recovery points, script values) lives in the files that own it
// (hostbridge.go, recovery.go, jsonvalue.go); this file only declares the
// handful of types shared by the ledger, registry and bridge layers.

import (
	"encoding/hex"
	"fmt"
	"sync"
)

//---------------------------------------------------------------------
// Address / Hash
//---------------------------------------------------------------------

// Address represents a 20-byte account or contract identifier.
type Address [20]byte

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the "0x"-prefixed lowercase hex encoding of the address.
func (a Address) Hex() string {
	out := make([]byte, 2+len(a)*2)
	copy(out, "0x")
	hex.Encode(out[2:], a[:])
	return string(out)
}

// String satisfies fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// AddressZero is the zero-value address, used for the default receiver of a
// bare value transfer and for uninitialised contract slots.
var AddressZero = Address{}

// ParseAddressHex decodes a "0x"-prefixed (or bare) 40-hex-digit string
// into an Address, the form contract addresses take in CLI args and the
// admin HTTP surface's URL parameters.
func ParseAddressHex(s string) (Address, error) {
	var a Address
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("core: address must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Hash represents a 32-byte cryptographic hash.
type Hash [32]byte

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the "0x"-prefixed lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	out := make([]byte, 2+len(h)*2)
	copy(out, "0x")
	hex.Encode(out[2:], h[:])
	return string(out)
}

func (h Hash) String() string { return h.Hex() }

//---------------------------------------------------------------------
// Log / Event (contract-emitted notifications)
//---------------------------------------------------------------------

// Log is a single contract-emitted event record as it sits in the
// per-service event buffer (§3 "Event": contract id, name, JSON-array
// arguments, sequence within tx).
type Log struct {
	Contract Address `json:"contract"`
	Name     string  `json:"name"`
	Args     []byte  `json:"args"` // canonical JSON array, see jsonvalue.go
	Seq      uint64  `json:"seq"`
}

//---------------------------------------------------------------------
// State access contract
//---------------------------------------------------------------------

// StateIterator walks keys sharing a common prefix in lexicographic order.
type StateIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
}

// StateRW is the prefixed key/value contract the stateful-variable layer
// (§4.7) and the SQL/DB bridge (§4.9) are built on. It is satisfied by
// *Ledger, the in-process reference implementation, and by any NodeDriver
// forwarding to an out-of-process storage backend.
type StateRW interface {
	GetState(key []byte) ([]byte, error)
	SetState(key, value []byte) error
	DeleteState(key []byte) error
	HasState(key []byte) (bool, error)
	PrefixIterator(prefix []byte) StateIterator
	// Snapshot runs fn with a rollback point open: if fn returns a non-nil
	// error every SetState/DeleteState performed during fn is undone.
	Snapshot(fn func() error) error
}

//---------------------------------------------------------------------
// Smart contract record
//---------------------------------------------------------------------

// SmartContract is a deployed contract's durable record: script code plus
// provenance. Bytecode now holds a Lua chunk (source or precompiled), not
// WASM — see engine.go.
type SmartContract struct {
	Address   Address
	Creator   Address
	CodeHash  [32]byte
	Bytecode  []byte
	GasLimit  uint64
	CreatedAt int64 // unix seconds
}

// RicardianContract binds legal prose to a deployed contract's code hash.
type RicardianContract struct {
	Address      Address  `json:"address"`
	Version      string   `json:"version"`
	Title        string   `json:"title"`
	Parties      []string `json:"parties"`
	LegalProse   string   `json:"legal"`
	CodeHash     string   `json:"code_hash"`
	Jurisdiction string   `json:"jurisdiction"`
	Created      int64    `json:"created"`
}

// ContractRegistry tracks deployed contracts and routes invocations to the
// engine. See contracts.go.
type ContractRegistry struct {
	ledger  *Ledger
	eng     EngineRunner
	mu      sync.RWMutex
	byAddr  map[Address]*SmartContract
	manager *ContractManager
}
