package core

// engine.go implements the engine lifecycle (§4.11): newState(hardfork),
// loadCode, preRun, pushAbiFunction+args, call(engine,argc), and
// getJsonRet. It wires together the resource governor, the recovery
// manager, the event buffer, the stateful-variable layer and the
// contract/system/crypto host modules into one gopher-lua state per
// invocation, matching §5's "one engine per thread, no shared script
// state" concurrency model.
//
// gopher-lua has no PUC-Lua-style per-instruction debug hook, so the
// "every 200 instructions" wall-clock/instruction-count checkpoint from
// §4.5 is driven from the host built-in call sites instead (every
// contract.*/system.*/db*/crypto.* call runs Governor.InstructionHook as
// part of its prelude) with a context.Context deadline as a hard
// wall-clock backstop around the whole protected call.

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/sirupsen/logrus"
)

// EngineRunner is the narrow interface ContractRegistry needs to invoke a
// deployed contract's ABI function without depending on gopher-lua types
// directly.
type EngineRunner interface {
	Invoke(svc *ServiceContext, code []byte, fn string, argsJSON string) (string, error)
}

// EngineConfig bundles the per-invocation limits and host wiring needed
// to construct an Engine.
type EngineConfig struct {
	Hardfork     int
	GasLimit     uint64
	InstrLimit   uint64
	MaxMemory    uint64
	WallClock    time.Duration
	Driver       NodeDriver
	CheckTimeout TimeoutChecker
	// DBDir, when non-empty, is the directory holding one SQLite file per
	// private contract (§4.9); an empty DBDir means no SQL bridge is bound
	// and db.*/stmt.*/rs.* are left unregistered for the invocation.
	DBDir string
}

// EngineFactory is the process-wide EngineRunner a ContractRegistry is
// wired to: it holds the node's default resource limits and NodeDriver,
// and builds a brand-new Engine — one gopher-lua state, never reused —
// for every single invocation, matching §5's "one engine per thread, no
// shared script state" model.
type EngineFactory struct {
	Ledger *Ledger
	Cfg    EngineConfig
}

// NewEngineFactory wires a factory that InitContracts can use directly.
func NewEngineFactory(ledger *Ledger, cfg EngineConfig) *EngineFactory {
	return &EngineFactory{Ledger: ledger, Cfg: cfg}
}

// Invoke builds a fresh Engine for svc, runs the ABI call, and tears the
// engine down (closing its Lua state and any per-invocation SQL
// connection) before returning.
func (f *EngineFactory) Invoke(svc *ServiceContext, code []byte, fn string, argsJSON string) (string, error) {
	e := NewState(f.Cfg, f.Ledger, svc)
	defer e.Close()
	return e.Invoke(svc, code, fn, argsJSON)
}

// Engine is one gopher-lua state bound to one ServiceContext, good for
// exactly one invocation.
type Engine struct {
	L       *lua.LState
	ctx     *ServiceContext
	wall    time.Duration
	chunkFn *lua.LFunction
}

// NewState constructs a fresh engine for hardfork, wiring the governor,
// recovery manager, event buffer and host modules. This is newState(hardfork)
// from §4.11.
func NewState(cfg EngineConfig, ledger *Ledger, svc *ServiceContext) *Engine {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})

	svc.HardforkVersion = cfg.Hardfork
	svc.Loading = true
	svc.Ledger = ledger
	svc.Driver = cfg.Driver
	svc.Gov = NewGovernor(cfg.Hardfork, cfg.GasLimit, cfg.InstrLimit, cfg.MaxMemory, cfg.CheckTimeout)
	svc.Events = NewEventManager(ledger)
	svc.Recovery = NewRecoveryManager(ledger, svc.Events, cfg.Hardfork)
	svc.Vars = NewStateVars(ledger, svc.ContractID.Hex())
	if cfg.DBDir != "" && svc.SQL == nil {
		if bridge, err := OpenSQLBridge(cfg.DBDir + "/" + svc.ContractID.Hex() + ".db"); err == nil {
			svc.SQL = bridge
		} else {
			logrus.WithError(err).WithField("contract", svc.ContractID.Hex()).Warn("sql bridge unavailable")
		}
	}

	BindServiceContext(L, svc)
	RegisterContractModule(L)
	RegisterSystemModule(L)
	RegisterCryptoModule(L)
	RegisterStateModule(L)
	if svc.SQL != nil {
		RegisterSQLModule(L)
	}
	if cfg.Hardfork >= 4 {
		RegisterSystemModuleHardfork4(L)
		DisableHardfork4Surface(L)
		L.SetGlobal("pcall", L.NewFunction(luaContractPcall))
		L.SetGlobal("xpcall", L.NewFunction(luaXpcallHardfork4))
	} else {
		L.SetGlobal("pcall", L.NewFunction(luaContractPcall))
		L.SetGlobal("xpcall", L.NewFunction(luaXpcallPreHardfork4))
	}

	wall := cfg.WallClock
	if wall <= 0 {
		wall = 5 * time.Second
	}
	return &Engine{L: L, ctx: svc, wall: wall}
}

// LoadCode compiles a contract's Lua source into the engine's top-level
// chunk. §4.4's "loading" flag is already true from NewState and stays
// true until PreRun.
func (e *Engine) LoadCode(code []byte) error {
	fn, err := e.L.LoadString(string(code))
	if err != nil {
		return err
	}
	e.chunkFn = fn
	return nil
}

// PreRun executes the contract's top-level chunk (declaring its ABI
// functions as globals) and then clears the loading flag, matching
// §4.4's "loading flag during pre-run rejects execution-context calls".
func (e *Engine) PreRun() error {
	if e.chunkFn == nil {
		return errors.New("engine: no code loaded")
	}
	if err := e.L.CallByParam(lua.P{Fn: e.chunkFn, NRet: 0, Protect: true}); err != nil {
		return err
	}
	e.ctx.Loading = false
	return nil
}

// PushAbiFunction resolves a global function by name, the function the
// caller is about to invoke with PushAbiFunction's companion Call.
func (e *Engine) PushAbiFunction(name string) (*lua.LFunction, error) {
	v := e.L.GetGlobal(name)
	fn, ok := v.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("engine: abi function %q not found", name)
	}
	return fn, nil
}

// Call invokes fn with args under a wall-clock deadline, toggling the
// governor's memory cap around the user code itself (disabled again once
// control returns here, so result marshalling in GetJSONRet is never
// constrained by the contract's own budget). Returns the number of
// values fn left on the stack.
func (e *Engine) Call(fn *lua.LFunction, args ...lua.LValue) (int, error) {
	cctx, cancel := context.WithTimeout(context.Background(), e.wall)
	defer cancel()
	e.L.SetContext(cctx)

	e.ctx.Gov.EnableMemoryCap()
	top := e.L.GetTop()
	err := e.L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, args...)
	e.ctx.Gov.DisableMemoryCap()

	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return 0, uncatchable(ErrContractTimeout)
		}
		return 0, err
	}
	return e.L.GetTop() - top, nil
}

// GetJSONRet encodes the nresult values Call left on the stack through
// the deterministic JSON codec. hasParent matches the ABI convention
// where a single return value is unwrapped unless the caller is itself
// relaying it as one element of an enclosing call's result.
func (e *Engine) GetJSONRet(nresult int, hasParent bool) (string, error) {
	defer e.L.Pop(nresult)
	top := e.L.GetTop()
	vals := make([]*Value, nresult)
	for i := 0; i < nresult; i++ {
		vals[i] = luaValueToJSONValue(e.L.Get(top - nresult + 1 + i))
	}

	var result *Value
	switch {
	case nresult == 0:
		result = Null()
	case nresult == 1 && !hasParent:
		result = vals[0]
	default:
		result = Array(vals...)
	}
	return Encode(result, e.ctx.HardforkVersion)
}

// Close releases the engine's gopher-lua state and the per-invocation SQL
// connection, if one was opened.
func (e *Engine) Close() {
	e.L.Close()
	if e.ctx.SQL != nil {
		_ = e.ctx.SQL.Close()
	}
}

//---------------------------------------------------------------------
// Invoke — the single-shot path contracts.go uses for a full call
//---------------------------------------------------------------------

// Invoke implements EngineRunner: it runs newState/loadCode/preRun/
// pushAbiFunction+args/call/getJsonRet back to back for one ABI call.
func (e *Engine) Invoke(svc *ServiceContext, code []byte, fnName string, argsJSON string) (string, error) {
	if err := e.LoadCode(code); err != nil {
		return "", err
	}
	if err := e.PreRun(); err != nil {
		return "", err
	}
	fn, err := e.PushAbiFunction(fnName)
	if err != nil {
		return "", err
	}

	var luaArgs []lua.LValue
	if argsJSON != "" {
		argVal, err := Decode(argsJSON, svc.HardforkVersion)
		if err != nil {
			return "", err
		}
		if argVal.Kind == KindArray {
			luaArgs = make([]lua.LValue, len(argVal.Arr))
			for i, a := range argVal.Arr {
				luaArgs[i] = jsonValueToLua(e.L, a)
			}
		} else {
			luaArgs = []lua.LValue{jsonValueToLua(e.L, argVal)}
		}
	}

	nresult, err := e.Call(fn, luaArgs...)
	if err != nil {
		return "", err
	}
	out, err := e.GetJSONRet(nresult, false)
	if err != nil {
		return "", err
	}
	if err := svc.Events.Flush(); err != nil {
		return "", err
	}
	return out, nil
}

// jsonValueToLua is the inverse of luaValueToJSONValue, used to marshal
// ABI call arguments from the deterministic JSON codec into Lua values.
func jsonValueToLua(L *lua.LState, v *Value) lua.LValue {
	if v == nil {
		return lua.LNil
	}
	switch v.Kind {
	case KindNull:
		return lua.LNil
	case KindBool:
		return lua.LBool(v.Bool)
	case KindInt:
		return lua.LNumber(v.Int)
	case KindNumber:
		return lua.LNumber(v.Num)
	case KindString:
		return lua.LString(v.Str)
	case KindBignum:
		return lua.LString(v.Big.String())
	case KindArray:
		tbl := L.NewTable()
		for i, el := range v.Arr {
			tbl.RawSetInt(i+1, jsonValueToLua(L, el))
		}
		return tbl
	case KindObject:
		tbl := L.NewTable()
		for k, el := range v.Obj {
			L.SetField(tbl, k, jsonValueToLua(L, el))
		}
		return tbl
	default:
		return lua.LNil
	}
}

//---------------------------------------------------------------------
// pcall/xpcall — both pre/post hardfork-4 xpcall argument orders (§9(b))
//---------------------------------------------------------------------

// luaXpcallPreHardfork4 implements xpcall(f, handler, ...) — PUC-Lua's
// traditional argument order, handler immediately after f.
func luaXpcallPreHardfork4(L *lua.LState) int {
	return runXpcall(L, 1, 2, 3, L.GetTop())
}

// luaXpcallHardfork4 implements the hardfork >= 4 xpcall argument order:
// handler last, after the call's own arguments — xpcall(f, ..., handler).
func luaXpcallHardfork4(L *lua.LState) int {
	top := L.GetTop()
	return runXpcall(L, 1, top, 2, top-1)
}

func runXpcall(L *lua.LState, fnPos, handlerPos, firstArgPos, lastArgPos int) int {
	ctx, err := LookupServiceContext(L)
	if raiseIfError(L, err) {
		return 0
	}
	if err := ctx.Gov.ChargeGas(GasRecoveryPoint); raiseIfError(L, err) {
		return 0
	}

	fn := L.CheckFunction(fnPos)
	handler := L.CheckFunction(handlerPos)

	var callArgs []lua.LValue
	for i := firstArgPos; i <= lastArgPos; i++ {
		if i == fnPos || i == handlerPos {
			continue
		}
		callArgs = append(callArgs, L.Get(i))
	}

	seq := ctx.Recovery.OpenRecovery()
	callErr := L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, callArgs...)

	if callErr != nil {
		if luaErr, ok := callErr.(*lua.ApiError); ok {
			if cause, ok := luaErr.Cause.(error); ok && IsUncatchable(cause) {
				_ = ctx.Recovery.CloseRecovery(seq, true)
				L.RaiseError("%s", cause.Error())
				return 0
			}
		}
		_ = ctx.Recovery.CloseRecovery(seq, true)
		if herr := L.CallByParam(lua.P{Fn: handler, NRet: 1, Protect: true}, lua.LString(callErr.Error())); herr != nil {
			L.RaiseError("%s", herr.Error())
			return 0
		}
		pos := L.GetTop()
		L.Insert(lua.LBool(false), pos)
		return 2
	}

	if err := ctx.Recovery.CloseRecovery(seq, false); raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LBool(true))
	return 1
}
