package core

// system_module.go implements the `system.*` host built-ins (§4.8):
// transaction/block accessors, the stateful-variable getItem/setItem
// pair, the date/time family, random, and the predicate built-ins. At
// hardfork >= 4, system.toPubKey/toAddress/version are added and the Lua
// metatable-tampering surface (getmetatable/setmetatable/rawget/rawset/
// rawequal/string.dump) is disabled by DisableHardfork4Surface below,
// called once at engine setup for hardfork >= 4. The pcall/xpcall
// override swap is done in engine.go's NewState.

import (
	"crypto/sha256"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// RegisterSystemModule installs the `system` table on L.
func RegisterSystemModule(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "getSender", L.NewFunction(luaSystemGetSender))
	L.SetField(mod, "getCreator", L.NewFunction(luaSystemGetCreator))
	L.SetField(mod, "getTxhash", L.NewFunction(luaSystemGetTxhash))
	L.SetField(mod, "getBlockheight", L.NewFunction(luaSystemGetBlockheight))
	L.SetField(mod, "getTimestamp", L.NewFunction(luaSystemGetTimestamp))
	L.SetField(mod, "getContractID", L.NewFunction(luaSystemGetContractID))
	L.SetField(mod, "getOrigin", L.NewFunction(luaSystemGetOrigin))
	L.SetField(mod, "getAmount", L.NewFunction(luaSystemGetAmount))
	L.SetField(mod, "getPrevBlockHash", L.NewFunction(luaSystemGetPrevBlockHash))
	L.SetField(mod, "getItem", L.NewFunction(luaSystemGetItem))
	L.SetField(mod, "setItem", L.NewFunction(luaSystemSetItem))
	L.SetField(mod, "date", L.NewFunction(luaSystemDate))
	L.SetField(mod, "time", L.NewFunction(luaSystemTime))
	L.SetField(mod, "difftime", L.NewFunction(luaSystemDifftime))
	L.SetField(mod, "random", L.NewFunction(luaSystemRandom))
	L.SetField(mod, "isContract", L.NewFunction(luaSystemIsContract))
	L.SetField(mod, "isFeeDelegation", L.NewFunction(luaSystemIsFeeDelegation))
	L.SetGlobal("system", mod)
}

// RegisterSystemModuleHardfork4 adds the hardfork >= 4 accessors. Called
// alongside RegisterSystemModule when the engine's hardfork version
// qualifies.
func RegisterSystemModuleHardfork4(L *lua.LState) {
	mod, ok := L.GetGlobal("system").(*lua.LTable)
	if !ok {
		return
	}
	L.SetField(mod, "toPubKey", L.NewFunction(luaSystemToPubKey))
	L.SetField(mod, "toAddress", L.NewFunction(luaSystemToAddress))
	L.SetField(mod, "version", L.NewFunction(luaSystemVersion))
}

// DisableHardfork4Surface removes the metatable/raw-access built-ins and
// string.dump (§4.8); the hardfork >= 4 xpcall argument order is
// installed by engine.go's NewState. Engine setup calls this once for
// hardfork >= 4.
func DisableHardfork4Surface(L *lua.LState) {
	L.SetGlobal("getmetatable", lua.LNil)
	L.SetGlobal("setmetatable", lua.LNil)
	L.SetGlobal("rawget", lua.LNil)
	L.SetGlobal("rawset", lua.LNil)
	L.SetGlobal("rawequal", lua.LNil)
	if strTbl, ok := L.GetGlobal("string").(*lua.LTable); ok {
		L.SetField(strTbl, "dump", lua.LNil)
	}
}

func sysPrelude(L *lua.LState, builtin string) (*ServiceContext, error) {
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

func luaSystemGetSender(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getSender")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(ctx.Sender.Hex()))
	return 1
}

func luaSystemGetCreator(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getCreator")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(ctx.Creator.Hex()))
	return 1
}

func luaSystemGetTxhash(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getTxhash")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(ctx.TxHash.Hex()))
	return 1
}

func luaSystemGetBlockheight(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getBlockheight")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(ctx.BlockHeight))
	return 1
}

func luaSystemGetTimestamp(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getTimestamp")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(ctx.Timestamp))
	return 1
}

func luaSystemGetContractID(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getContractID")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(ctx.ContractID.Hex()))
	return 1
}

func luaSystemGetOrigin(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getOrigin")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(ctx.Origin.Hex()))
	return 1
}

func luaSystemGetAmount(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getAmount")
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

func luaSystemGetPrevBlockHash(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getPrevBlockHash")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(ctx.PrevBlockHash.Hex()))
	return 1
}

func luaSystemGetItem(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.getItem")
	if raiseIfError(L, err) {
		return 0
	}
	path := L.CheckString(1)
	v, ok, err := ctx.Vars.GetItem(path)
	if raiseIfError(L, err) {
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

func luaSystemSetItem(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.setItem")
	if raiseIfError(L, err) {
		return 0
	}
	path := L.CheckString(1)
	value := L.CheckString(2)
	if err := ctx.Vars.SetItem(path, []byte(value)); raiseIfError(L, err) {
		return 0
	}
	return 0
}

// luaSystemDate implements system.date, which returns a broken-down time
// table (year/month/day/hour/min/sec/yday/wday/isdst) the same shape
// os.date("*t", t) produces, anchored to the block timestamp when no
// argument is given.
func luaSystemDate(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.date")
	if raiseIfError(L, err) {
		return 0
	}
	ts := ctx.Timestamp
	if L.GetTop() >= 1 {
		ts = int64(L.CheckNumber(1))
	}
	t := time.Unix(ts, 0).UTC()
	tbl := L.NewTable()
	L.SetField(tbl, "year", lua.LNumber(t.Year()))
	L.SetField(tbl, "month", lua.LNumber(int(t.Month())))
	L.SetField(tbl, "day", lua.LNumber(t.Day()))
	L.SetField(tbl, "hour", lua.LNumber(t.Hour()))
	L.SetField(tbl, "min", lua.LNumber(t.Minute()))
	L.SetField(tbl, "sec", lua.LNumber(t.Second()))
	L.SetField(tbl, "yday", lua.LNumber(t.YearDay()))
	L.SetField(tbl, "wday", lua.LNumber(int(t.Weekday())+1))
	L.SetField(tbl, "isdst", lua.LBool(false))
	L.Push(tbl)
	return 1
}

func luaSystemTime(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.time")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(ctx.Timestamp))
	return 1
}

func luaSystemDifftime(L *lua.LState) int {
	if _, err := sysPrelude(L, "system.difftime"); raiseIfError(L, err) {
		return 0
	}
	t2 := L.CheckNumber(1)
	t1 := L.CheckNumber(2)
	L.Push(lua.LNumber(float64(t2) - float64(t1)))
	return 1
}

func luaSystemRandom(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.random")
	if raiseIfError(L, err) {
		return 0
	}
	min := int64(L.OptNumber(1, 0))
	max := int64(L.OptNumber(2, 0))
	L.Push(lua.LNumber(ctx.Driver.RandomInt(ctx, min, max)))
	return 1
}

func luaSystemIsContract(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.isContract")
	if raiseIfError(L, err) {
		return 0
	}
	addr, err := parseAddress(L.CheckString(1))
	if raiseIfError(L, err) {
		return 0
	}
	found := false
	if ctx.Registry != nil {
		_, found = ctx.Registry.Get(addr)
	}
	L.Push(lua.LBool(found))
	return 1
}

func luaSystemIsFeeDelegation(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.isFeeDelegation")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LBool(ctx.Sender != ctx.Origin))
	return 1
}

func luaSystemToPubKey(L *lua.LState) int {
	if _, err := sysPrelude(L, "system.toPubKey"); raiseIfError(L, err) {
		return 0
	}
	addr, err := parseAddress(L.CheckString(1))
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(addr.Hex()))
	return 1
}

func luaSystemToAddress(L *lua.LState) int {
	if _, err := sysPrelude(L, "system.toAddress"); raiseIfError(L, err) {
		return 0
	}
	pubkey := []byte(L.CheckString(1))
	addr := deriveAddressFromPubKey(pubkey)
	L.Push(lua.LString(addr.Hex()))
	return 1
}

func luaSystemVersion(L *lua.LState) int {
	ctx, err := sysPrelude(L, "system.version")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(ctx.HardforkVersion))
	return 1
}

func deriveAddressFromPubKey(pubkey []byte) Address {
	h := sha256.Sum256(pubkey)
	var a Address
	copy(a[:], h[:20])
	return a
}
