package core

// hostbridge.go implements the host-call bridge (§4.4): the lookup that
// gets every contract_module.go / system_module.go built-in from a raw
// *lua.LState back to the ServiceContext driving the current invocation,
// the "loading" flag that rejects execution-context calls made while a
// contract chunk is merely being compiled (not yet running), and the
// catchable/uncatchable error classification used throughout §4.5-§4.10.

import (
	"errors"

	lua "github.com/yuin/gopher-lua"
)

// ErrGlobalScopeState is the bit-exact message from spec.md §6 for a
// built-in that touches execution state (ledger, sender, balances, ...)
// while the engine is still loading the contract chunk.
var ErrGlobalScopeState = errors.New("state referencing not permitted at global scope")

// NodeDriver is the full external call-out surface (§6) the embedding
// node must supply. contract_module.go and system_module.go call out
// through this interface; crypto_module.go and sqlbridge.go work
// in-process without it. ServiceContext carries the one live
// implementation for an invocation.
type NodeDriver interface {
	CallContract(ctx *ServiceContext, target Address, fn, argsJSON string, value *Bignum) (string, error)
	DelegateCallContract(ctx *ServiceContext, target Address, fn, argsJSON string) (string, error)
	DeployContract(ctx *ServiceContext, code []byte, ric *RicardianContract) (Address, error)
	SendAmount(ctx *ServiceContext, to Address, amount *Bignum) error

	SetRecoveryPoint(ctx *ServiceContext) uint64
	ClearRecovery(ctx *ServiceContext, seq uint64, isError bool) error

	GetDB(ctx *ServiceContext, key []byte) ([]byte, error)
	SetDB(ctx *ServiceContext, key, value []byte) error
	DelDB(ctx *ServiceContext, key []byte) error

	Governance(ctx *ServiceContext, action, argsJSON string) (string, error)
	Event(ctx *ServiceContext, name, argsJSON string) (string, error)
	DropEvent(ctx *ServiceContext, id string) error

	GetBalance(ctx *ServiceContext, addr Address) (*Bignum, error)
	GetStaking(ctx *ServiceContext, addr Address) (*Bignum, error)

	CryptoSha256(data []byte) string
	CryptoKeccak256(data []byte) []byte
	CryptoECVerify(hash, sig, pubkey []byte) bool
	CryptoVerifyProof(key, value, root []byte, proof [][]byte) bool

	NameResolve(name string) (Address, error)
	GetDbHandle(ctx *ServiceContext) (int, error)
	GetDbSnapshot(ctx *ServiceContext) (int, error)

	RandomInt(ctx *ServiceContext, min, max int64) int64
	CheckTimeout(ctx *ServiceContext) int
	GetEventCount(ctx *ServiceContext) int

	ViewStart(ctx *ServiceContext)
	ViewEnd(ctx *ServiceContext)
	IsPublic(addr Address) bool
}

// ServiceContext is the per-invocation state threaded through every host
// built-in: transaction/block metadata, the resource governor, the
// recovery stack, the event buffer, the stateful-variable accessor, and
// the loading flag that gates global-scope calls.
type ServiceContext struct {
	Sender        Address
	Creator       Address
	Origin        Address
	ContractID    Address
	TxHash        Hash
	PrevBlockHash Hash
	BlockHeight   uint64
	Timestamp     int64
	Amount        *Bignum
	HardforkVersion int

	Loading bool
	ViewDepth int

	Ledger   *Ledger
	Gov      *Governor
	Recovery *RecoveryManager
	Events   *EventManager
	Vars     *StateVars
	Driver   NodeDriver
	Registry *ContractRegistry
	SQL      *SQLBridge
}

// serviceSlot stashes the ServiceContext on the lua.LState's registry so
// any built-in can recover it from the raw state gopher-lua hands to a
// Go function, without threading an extra parameter through every call.
const serviceSlotKey = "__service_context__"

// BindServiceContext installs ctx as L's engine-side slot (§4.4's
// "service-context lookup via engine-side slot").
func BindServiceContext(L *lua.LState, ctx *ServiceContext) {
	ud := L.NewUserData()
	ud.Value = ctx
	L.SetGlobal(serviceSlotKey, ud)
}

// LookupServiceContext recovers the ServiceContext bound to L. Every
// host built-in calls this first.
func LookupServiceContext(L *lua.LState) (*ServiceContext, error) {
	gv := L.GetGlobal(serviceSlotKey)
	ud, ok := gv.(*lua.LUserData)
	if !ok {
		return nil, errors.New("hostbridge: no service context bound to this engine")
	}
	ctx, ok := ud.Value.(*ServiceContext)
	if !ok {
		return nil, errors.New("hostbridge: service context slot holds the wrong type")
	}
	return ctx, nil
}

// RequireExecutionContext is called by every built-in that reads or
// writes execution state (ledger, balances, sender, events, db...). It
// rejects the call with ErrGlobalScopeState while the contract chunk is
// still loading (§4.4).
func (ctx *ServiceContext) RequireExecutionContext() error {
	if ctx.Loading {
		return ErrGlobalScopeState
	}
	return nil
}

// errorClass categorizes the taxonomy in spec.md §7.
type errorClass int

const (
	classCatchable errorClass = iota
	classUncatchable
)

// ClassifyError reports whether err must bypass pcall/xpcall entirely.
// Anything wrapped in UncatchableError (resource exhaustion, internal
// faults per §7) is uncatchable; everything else — validation,
// authorization, host I/O failures — is catchable.
func ClassifyError(err error) errorClass {
	if IsUncatchable(err) {
		return classUncatchable
	}
	return classCatchable
}

// IsCatchable reports whether a Lua pcall/xpcall may intercept err.
func IsCatchable(err error) bool {
	return err != nil && ClassifyError(err) == classCatchable
}
