package core

// contract_module.go implements the `contract.*` host built-ins (§4.8):
// call/delegatecall/send/pcall/deploy/event/stake/unstake/vote/voteDao/
// balance, plus the value/gas accessors for the invocation currently in
// progress. The built-ins that reach the NodeDriver go through
// contractPrelude, which rejects calls while the engine is still loading
// the contract chunk (§4.4) and charges the built-in's base cost from
// gas_table.go before delegating. pcall, value and gas skip the prelude;
// pcall charges GasRecoveryPoint instead.

import (
	"errors"

	lua "github.com/yuin/gopher-lua"
)

// governance type tags for contract.stake/unstake/vote/voteDao (§4.8).
const (
	GovTagStake   = "S"
	GovTagUnstake = "U"
	GovTagVote    = "V"
	GovTagVoteDao = "D"
)

// RegisterContractModule installs the `contract` table on L.
func RegisterContractModule(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "call", L.NewFunction(luaContractCall))
	L.SetField(mod, "delegatecall", L.NewFunction(luaContractDelegateCall))
	L.SetField(mod, "send", L.NewFunction(luaContractSend))
	L.SetField(mod, "pcall", L.NewFunction(luaContractPcall))
	L.SetField(mod, "deploy", L.NewFunction(luaContractDeploy))
	L.SetField(mod, "event", L.NewFunction(luaContractEvent))
	L.SetField(mod, "stake", L.NewFunction(luaContractStake))
	L.SetField(mod, "unstake", L.NewFunction(luaContractUnstake))
	L.SetField(mod, "vote", L.NewFunction(luaContractVote))
	L.SetField(mod, "voteDao", L.NewFunction(luaContractVoteDao))
	L.SetField(mod, "balance", L.NewFunction(luaContractBalance))
	L.SetField(mod, "value", L.NewFunction(luaContractValue))
	L.SetField(mod, "gas", L.NewFunction(luaContractGas))
	L.SetGlobal("contract", mod)
}

func contractPrelude(L *lua.LState, builtin string) (*ServiceContext, error) {
	ctx, err := LookupServiceContext(L)
	if err != nil {
		return nil, err
	}
	if err := ctx.RequireExecutionContext(); err != nil {
		return nil, err
	}
	if err := ctx.Gov.InstructionHook(); err != nil {
		return nil, err
	}
	if err := ctx.Gov.ChargeGas(GasCost(builtin)); err != nil {
		return nil, err
	}
	return ctx, nil
}

func raiseIfError(L *lua.LState, err error) bool {
	if err == nil {
		return false
	}
	L.RaiseError("%s", err.Error())
	return true
}

func parseAddress(s string) (Address, error) {
	var a Address
	b := []byte(s)
	if len(b) != 20 {
		return a, errors.New("contract: address must be 20 bytes")
	}
	copy(a[:], b)
	return a, nil
}

func luaContractCall(L *lua.LState) int {
	ctx, err := contractPrelude(L, "contract.call")
	if raiseIfError(L, err) {
		return 0
	}
	addr, err := parseAddress(L.CheckString(1))
	if raiseIfError(L, err) {
		return 0
	}
	fn := L.CheckString(2)
	args := L.OptString(3, "")
	value := ctx.Amount

	out, err := ctx.Driver.CallContract(ctx, addr, fn, args, value)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(out))
	return 1
}

func luaContractDelegateCall(L *lua.LState) int {
	ctx, err := contractPrelude(L, "contract.delegatecall")
	if raiseIfError(L, err) {
		return 0
	}
	addr, err := parseAddress(L.CheckString(1))
	if raiseIfError(L, err) {
		return 0
	}
	fn := L.CheckString(2)
	args := L.OptString(3, "")

	out, err := ctx.Driver.DelegateCallContract(ctx, addr, fn, args)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(out))
	return 1
}

func luaContractSend(L *lua.LState) int {
	ctx, err := contractPrelude(L, "contract.send")
	if raiseIfError(L, err) {
		return 0
	}
	addr, err := parseAddress(L.CheckString(1))
	if raiseIfError(L, err) {
		return 0
	}
	amount, err := NewBignumString(L.CheckString(2), ctx.HardforkVersion)
	if raiseIfError(L, err) {
		return 0
	}
	if err := ctx.Driver.SendAmount(ctx, addr, amount); raiseIfError(L, err) {
		return 0
	}
	return 0
}

// luaContractPcall implements the protected-call entrypoint: it opens a
// recovery point, runs the supplied Lua function, and closes the
// recovery point based on whether that call raised a catchable error.
// Uncatchable errors propagate past this handler untouched (§4.5, §4.6).
func luaContractPcall(L *lua.LState) int {
	ctx, err := LookupServiceContext(L)
	if raiseIfError(L, err) {
		return 0
	}
	if err := ctx.Gov.ChargeGas(GasRecoveryPoint); raiseIfError(L, err) {
		return 0
	}

	fn := L.CheckFunction(1)
	nargs := L.GetTop() - 1
	callArgs := make([]lua.LValue, nargs)
	for i := 0; i < nargs; i++ {
		callArgs[i] = L.Get(i + 2)
	}

	seq := ctx.Recovery.OpenRecovery()

	err = L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    lua.MultRet,
		Protect: true,
	}, callArgs...)

	if err != nil {
		if luaErr, ok := err.(*lua.ApiError); ok {
			if cause, ok := luaErr.Cause.(error); ok && IsUncatchable(cause) {
				_ = ctx.Recovery.CloseRecovery(seq, true)
				L.RaiseError("%s", cause.Error())
				return 0
			}
		}
		_ = ctx.Recovery.CloseRecovery(seq, true)
		L.Push(lua.LBool(false))
		L.Push(lua.LString(err.Error()))
		return 2
	}

	if err := ctx.Recovery.CloseRecovery(seq, false); raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LBool(true))
	return 1
}

func luaContractDeploy(L *lua.LState) int {
	ctx, err := contractPrelude(L, "contract.deploy")
	if raiseIfError(L, err) {
		return 0
	}
	code := []byte(L.CheckString(1))
	addr, err := ctx.Driver.DeployContract(ctx, code, nil)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(addr.Hex()))
	return 1
}

func luaContractEvent(L *lua.LState) int {
	ctx, err := contractPrelude(L, "contract.event")
	if raiseIfError(L, err) {
		return 0
	}
	name := L.CheckString(1)
	argsVal := luaValueToJSONValue(L.Get(2))
	encoded, err := Encode(argsVal, ctx.HardforkVersion)
	if raiseIfError(L, err) {
		return 0
	}
	id, err := ctx.Driver.Event(ctx, name, encoded)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(id))
	return 1
}

func luaGovernanceCall(L *lua.LState, builtin, tag string) int {
	ctx, err := contractPrelude(L, builtin)
	if raiseIfError(L, err) {
		return 0
	}
	argsVal := luaValueToJSONValue(L.Get(1))
	encoded, err := Encode(argsVal, ctx.HardforkVersion)
	if raiseIfError(L, err) {
		return 0
	}
	out, err := ctx.Driver.Governance(ctx, tag, encoded)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(out))
	return 1
}

func luaContractStake(L *lua.LState) int   { return luaGovernanceCall(L, "contract.stake", GovTagStake) }
func luaContractUnstake(L *lua.LState) int { return luaGovernanceCall(L, "contract.unstake", GovTagUnstake) }
func luaContractVote(L *lua.LState) int    { return luaGovernanceCall(L, "contract.vote", GovTagVote) }
func luaContractVoteDao(L *lua.LState) int { return luaGovernanceCall(L, "contract.voteDao", GovTagVoteDao) }

func luaContractBalance(L *lua.LState) int {
	ctx, err := contractPrelude(L, "contract.balance")
	if raiseIfError(L, err) {
		return 0
	}
	addr, err := parseAddress(L.CheckString(1))
	if raiseIfError(L, err) {
		return 0
	}
	bal, err := ctx.Driver.GetBalance(ctx, addr)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(bal.String()))
	return 1
}

func luaContractValue(L *lua.LState) int {
	ctx, err := LookupServiceContext(L)
	if raiseIfError(L, err) {
		return 0
	}
	if ctx.Amount == nil {
		L.Push(lua.LString("0"))
		return 1
	}
	L.Push(lua.LString(ctx.Amount.String()))
	return 1
}

func luaContractGas(L *lua.LState) int {
	ctx, err := LookupServiceContext(L)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(ctx.Gov.GasRemaining()))
	return 1
}

// luaValueToJSONValue converts a gopher-lua value into the Value union
// used by the deterministic JSON codec, so contract.event's argument can
// be encoded exactly like any other stateful-variable or return value.
func luaValueToJSONValue(v lua.LValue) *Value {
	switch t := v.(type) {
	case lua.LNil:
		return Null()
	case lua.LBool:
		return Bool(bool(t))
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return Int(int64(f))
		}
		return Number(f)
	case lua.LString:
		return Str(string(t))
	case *lua.LTable:
		obj := map[string]*Value{}
		t.ForEach(func(k, val lua.LValue) {
			obj[k.String()] = luaValueToJSONValue(val)
		})
		return Object(obj)
	default:
		return Null()
	}
}
