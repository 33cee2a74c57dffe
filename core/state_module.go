package core

// state_module.go installs the `state` table (§4.7): the Lua surface
// contract code actually declares and uses map/imap/array/value stateful
// variables through, layered over statevars.go's ledger accessors.
// Grounded on luaopen_state/state_map/state_imap/state_array/state_value/
// state_var in _examples/original_source/contract/state_module.c: each
// state.map()/state.imap()/state.array()/state.value() call returns a
// gopher-lua userdata tagged with a type metatable (the same
// L.NewUserData()+.Value idiom hostbridge.go uses for the service-context
// slot), and indexing/assigning through it (`m[1] = 10`, `a[i]`, `v:get()`)
// is intercepted by __index/__newindex/__len so Lua's native table syntax
// reads as a stateful-variable access instead of an in-memory table
// mutation.
//
// state.var(t) skips the original's abi.register_var call: this host has
// no `abi` module (contract_module.go's ABI dispatch is driven by
// EngineRunner.Invoke picking the entry function directly), so declaring
// a stateful variable here is just the global-assignment half.
//
// state.getsnap (block-height-scoped historical reads) is intentionally
// not implemented: StateRW exposes only the current ledger view, with no
// notion of a historical snapshot indexed by block height.

import (
	"fmt"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

const stateMaxDimension = 5

const (
	stateMapTypeName   = "state.map"
	stateArrayTypeName = "state.array"
	stateValueTypeName = "state.value"
)

// stateMapHandle backs both state.map() and state.imap() userdata — the
// two share every mechanic except method names (imap adds
// length/keys/pairs) and bookkeeping (imap tracks insertion order,
// plain map does not), so one handle type with an isImap flag replaces
// the original's two parallel C structs.
type stateMapHandle struct {
	id          string
	dimension   int
	parentKey   string
	prevKeyKind string
	isImap      bool
}

// stateArrayHandle backs state.array(). A dynamic (unbounded) array has
// dimension 0 and a nil lens; a fixed array declares every dimension's
// length up front and dimension/lens shrink by one level per index drill-
// down, exactly like state_array_t's dimension/lens fields.
type stateArrayHandle struct {
	id        string
	dimension int
	lens      []int64
	parentKey string
}

// stateValueHandle backs state.value().
type stateValueHandle struct {
	id string
}

// RegisterStateModule installs the `state` table and its handle
// metatables on L.
func RegisterStateModule(L *lua.LState) {
	registerStateMapMeta(L)
	registerStateArrayMeta(L)
	registerStateValueMeta(L)

	mod := L.NewTable()
	L.SetField(mod, "map", L.NewFunction(luaStateMap))
	L.SetField(mod, "imap", L.NewFunction(luaStateImap))
	L.SetField(mod, "array", L.NewFunction(luaStateArray))
	L.SetField(mod, "value", L.NewFunction(luaStateValue))
	L.SetField(mod, "var", L.NewFunction(luaStateVar))
	L.SetGlobal("state", mod)
}

func statePrelude(L *lua.LState, builtin string) (*ServiceContext, error) {
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

func decodeStateValue(L *lua.LState, ctx *ServiceContext, raw []byte) (lua.LValue, error) {
	v, err := Decode(string(raw), ctx.HardforkVersion)
	if err != nil {
		return lua.LNil, err
	}
	return jsonValueToLua(L, v), nil
}

func encodeStateValue(ctx *ServiceContext, v lua.LValue) ([]byte, error) {
	s, err := Encode(luaValueToJSONValue(v), ctx.HardforkVersion)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// stateKeyToString converts a Lua map/imap index into its stringified
// storage form plus its kind tag (mapKeyString or mapKeyInt), matching
// state_map_check_index's LUA_TNUMBER/LUA_TSTRING restriction.
func stateKeyToString(v lua.LValue) (key, kind string, err error) {
	switch t := v.(type) {
	case lua.LNumber:
		return strconv.FormatInt(int64(t), 10), mapKeyInt, nil
	case lua.LString:
		return string(t), mapKeyString, nil
	default:
		return "", "", fmt.Errorf("state: invalid key type %q", v.Type().String())
	}
}

// composeStatePath appends seg to parent with a dash, or returns seg
// alone when there is no parent yet (the top nesting level).
func composeStatePath(parent, seg string) string {
	if parent == "" {
		return seg
	}
	return parent + "-" + seg
}

//---------------------------------------------------------------------
// map / imap
//---------------------------------------------------------------------

func registerStateMapMeta(L *lua.LState) {
	mt := L.NewTypeMetatable(stateMapTypeName)
	L.SetField(mt, "__index", L.NewFunction(luaStateMapIndex))
	L.SetField(mt, "__newindex", L.NewFunction(luaStateMapNewIndex))
	L.SetField(mt, "__len", L.NewFunction(luaStateMapLen))
}

func pushMapHandle(L *lua.LState, h *stateMapHandle) {
	ud := L.NewUserData()
	ud.Value = h
	ud.Metatable = L.GetTypeMetatable(stateMapTypeName)
	L.Push(ud)
}

func checkMapHandle(L *lua.LState, n int) *stateMapHandle {
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(*stateMapHandle)
	if !ok {
		L.RaiseError("state: expected a state.map or state.imap handle")
		return nil
	}
	return h
}

func luaStateMap(L *lua.LState) int  { return newStateMapHandle(L, false) }
func luaStateImap(L *lua.LState) int { return newStateMapHandle(L, true) }

func newStateMapHandle(L *lua.LState, isImap bool) int {
	name := "state.map"
	if isImap {
		name = "state.imap"
	}
	dim := 1
	if L.GetTop() >= 1 {
		dim = L.CheckInt(1)
	}
	if dim > stateMaxDimension {
		L.RaiseError("dimension over max limit(%d): %d, %s", stateMaxDimension, dim, name)
		return 0
	}
	pushMapHandle(L, &stateMapHandle{dimension: dim, isImap: isImap})
	return 1
}

// metaPath is the composed id+parentKey scope imap bookkeeping (count,
// last, slot records) lives at for h — distinct from h.id, which always
// scopes the shared key-type tag (see IMapSet's doc comment).
func (h *stateMapHandle) metaPath() string {
	return composeStatePath(h.id, h.parentKey)
}

func luaStateMapIndex(L *lua.LState) int {
	h := checkMapHandle(L, 1)
	keyVal := L.Get(2)

	if name, ok := keyVal.(lua.LString); ok {
		switch string(name) {
		case "delete":
			L.Push(L.NewFunction(luaStateMapDelete))
			return 1
		case "length":
			if h.isImap {
				L.Push(L.NewFunction(luaStateMapLen))
				return 1
			}
		case "keys":
			if h.isImap {
				L.Push(L.NewFunction(luaStateImapKeys))
				return 1
			}
		case "pairs":
			if h.isImap {
				L.Push(L.NewFunction(luaStateImapPairs))
				return 1
			}
		}
	}

	keyStr, keyKind, err := stateKeyToString(keyVal)
	if raiseIfError(L, err) {
		return 0
	}
	if h.prevKeyKind != "" && h.prevKeyKind != keyKind {
		L.RaiseError("invalid key type: expected %s, got %s", h.prevKeyKind, keyKind)
		return 0
	}

	if h.dimension > 1 {
		pushMapHandle(L, &stateMapHandle{
			id:          h.id,
			dimension:   h.dimension - 1,
			parentKey:   composeStatePath(h.parentKey, keyStr),
			prevKeyKind: keyKind,
			isImap:      h.isImap,
		})
		return 1
	}

	builtin := "state.map.get"
	if h.isImap {
		builtin = "state.imap.get"
	}
	ctx, err := statePrelude(L, builtin)
	if raiseIfError(L, err) {
		return 0
	}
	if err := ctx.Vars.CheckMapKeyType(h.id, keyKind); raiseIfError(L, err) {
		return 0
	}

	var raw []byte
	var ok bool
	if h.isImap {
		raw, ok, err = ctx.Vars.IMapGet(h.metaPath(), keyStr)
	} else {
		raw, ok, err = ctx.Vars.MapGet(h.id, composeStatePath(h.parentKey, keyStr))
	}
	if raiseIfError(L, err) {
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	v, err := decodeStateValue(L, ctx, raw)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(v)
	return 1
}

func luaStateMapNewIndex(L *lua.LState) int {
	h := checkMapHandle(L, 1)
	if h.dimension > 1 {
		L.RaiseError("not permitted to set intermediate dimension of %s", mapKindName(h))
		return 0
	}
	keyVal := L.Get(2)
	if name, ok := keyVal.(lua.LString); ok && string(name) == "delete" {
		L.RaiseError("can't use 'delete' as a key")
		return 0
	}
	keyStr, keyKind, err := stateKeyToString(keyVal)
	if raiseIfError(L, err) {
		return 0
	}
	if h.prevKeyKind != "" && h.prevKeyKind != keyKind {
		L.RaiseError("invalid key type: expected %s, got %s", h.prevKeyKind, keyKind)
		return 0
	}

	builtin := "state.map.set"
	if h.isImap {
		builtin = "state.imap.set"
	}
	ctx, err := statePrelude(L, builtin)
	if raiseIfError(L, err) {
		return 0
	}

	data, err := encodeStateValue(ctx, L.Get(3))
	if raiseIfError(L, err) {
		return 0
	}

	if h.isImap {
		err = ctx.Vars.IMapSet(h.id, h.metaPath(), keyStr, keyKind, data)
	} else {
		err = ctx.Vars.MapSet(h.id, composeStatePath(h.parentKey, keyStr), keyKind, data)
	}
	if raiseIfError(L, err) {
		return 0
	}
	return 0
}

func luaStateMapDelete(L *lua.LState) int {
	h := checkMapHandle(L, 1)
	if h.dimension > 1 {
		L.RaiseError("not permitted to delete an intermediate dimension of %s", mapKindName(h))
		return 0
	}
	keyStr, keyKind, err := stateKeyToString(L.Get(2))
	if raiseIfError(L, err) {
		return 0
	}

	builtin := "state.map.delete"
	if h.isImap {
		builtin = "state.imap.delete"
	}
	ctx, err := statePrelude(L, builtin)
	if raiseIfError(L, err) {
		return 0
	}
	if err := ctx.Vars.CheckMapKeyType(h.id, keyKind); raiseIfError(L, err) {
		return 0
	}

	if h.isImap {
		err = ctx.Vars.IMapDelete(h.metaPath(), keyStr)
	} else {
		err = ctx.Vars.MapDelete(h.id, composeStatePath(h.parentKey, keyStr))
	}
	if raiseIfError(L, err) {
		return 0
	}
	return 0
}

// luaStateMapLen backs both the imap __len metamethod (#m) and the
// explicit m:length() method dispatched through __index; a plain
// state.map has neither.
func luaStateMapLen(L *lua.LState) int {
	h := checkMapHandle(L, 1)
	if !h.isImap {
		L.RaiseError("state.map has no length; only state.imap supports length()")
		return 0
	}
	ctx, err := statePrelude(L, "state.imap.length")
	if raiseIfError(L, err) {
		return 0
	}
	n, err := ctx.Vars.IMapLen(h.metaPath())
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(n))
	return 1
}

func luaStateImapKeys(L *lua.LState) int {
	h := checkMapHandle(L, 1)
	ctx, err := statePrelude(L, "state.imap.keys")
	if raiseIfError(L, err) {
		return 0
	}
	keys, err := ctx.Vars.IMapKeys(h.metaPath())
	if raiseIfError(L, err) {
		return 0
	}
	out := L.NewTable()
	for i, k := range keys {
		out.RawSetInt(i+1, stateKeyToLua(ctx, h.id, k))
	}
	L.Push(out)
	return 1
}

func luaStateImapPairs(L *lua.LState) int {
	h := checkMapHandle(L, 1)
	ctx, err := statePrelude(L, "state.imap.pairs")
	if raiseIfError(L, err) {
		return 0
	}
	keys, vals, err := ctx.Vars.IMapPairs(h.metaPath())
	if raiseIfError(L, err) {
		return 0
	}
	decoded := make([]lua.LValue, len(vals))
	for i, raw := range vals {
		v, err := decodeStateValue(L, ctx, raw)
		if raiseIfError(L, err) {
			return 0
		}
		decoded[i] = v
	}

	idx := 0
	iter := L.NewFunction(func(L *lua.LState) int {
		if idx >= len(keys) {
			L.Push(lua.LNil)
			return 1
		}
		k := stateKeyToLua(ctx, h.id, keys[idx])
		v := decoded[idx]
		idx++
		L.Push(k)
		L.Push(v)
		return 2
	})
	L.Push(iter)
	L.Push(L.Get(1))
	L.Push(lua.LNil)
	return 3
}

// stateKeyToLua renders a stored key string back into the Lua value type
// (number or string) the map's key type tag declares, so m:keys()/m:pairs()
// hand back keys of the same type the contract inserted.
func stateKeyToLua(ctx *ServiceContext, idPath, key string) lua.LValue {
	kind, err := ctx.Vars.MapKeyKind(idPath)
	if err == nil && kind == mapKeyInt {
		if n, err := strconv.ParseInt(key, 10, 64); err == nil {
			return lua.LNumber(n)
		}
	}
	return lua.LString(key)
}

func mapKindName(h *stateMapHandle) string {
	if h.isImap {
		return "imap"
	}
	return "map"
}

//---------------------------------------------------------------------
// array
//---------------------------------------------------------------------

func registerStateArrayMeta(L *lua.LState) {
	mt := L.NewTypeMetatable(stateArrayTypeName)
	L.SetField(mt, "__index", L.NewFunction(luaStateArrayIndex))
	L.SetField(mt, "__newindex", L.NewFunction(luaStateArrayNewIndex))
	L.SetField(mt, "__len", L.NewFunction(luaStateArrayLen))
}

func pushArrayHandle(L *lua.LState, h *stateArrayHandle) {
	ud := L.NewUserData()
	ud.Value = h
	ud.Metatable = L.GetTypeMetatable(stateArrayTypeName)
	L.Push(ud)
}

func checkArrayHandle(L *lua.LState, n int) *stateArrayHandle {
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(*stateArrayHandle)
	if !ok {
		L.RaiseError("state: expected a state.array handle")
		return nil
	}
	return h
}

func luaStateArray(L *lua.LState) int {
	n := L.GetTop()
	if n > stateMaxDimension {
		L.RaiseError("dimension over max limit(%d): %d, state.array", stateMaxDimension, n)
		return 0
	}
	var lens []int64
	if n > 0 {
		lens = make([]int64, n)
		for i := 1; i <= n; i++ {
			v := L.CheckInt64(i)
			if v <= 0 {
				L.RaiseError("the array length must be greater than zero")
				return 0
			}
			lens[i-1] = v
		}
	}
	pushArrayHandle(L, &stateArrayHandle{dimension: n, lens: lens})
	return 1
}

func (h *stateArrayHandle) declaredLen() uint64 {
	if len(h.lens) == 0 {
		return 0
	}
	return uint64(h.lens[0])
}

func luaStateArrayIndex(L *lua.LState) int {
	h := checkArrayHandle(L, 1)
	keyVal := L.Get(2)

	if name, ok := keyVal.(lua.LString); ok {
		switch string(name) {
		case "append":
			L.Push(L.NewFunction(luaStateArrayAppend))
			return 1
		case "ipairs":
			L.Push(L.NewFunction(luaStateArrayPairs))
			return 1
		case "length":
			L.Push(L.NewFunction(luaStateArrayLen))
			return 1
		}
	}

	idx := L.CheckInt64(2)

	if h.dimension > 1 {
		sub := &stateArrayHandle{
			id:        h.id,
			dimension: h.dimension - 1,
			parentKey: composeStatePath(h.parentKey, strconv.FormatInt(idx, 10)),
		}
		if len(h.lens) > 1 {
			sub.lens = append([]int64{}, h.lens[1:]...)
		}
		pushArrayHandle(L, sub)
		return 1
	}

	ctx, err := statePrelude(L, "state.array.get")
	if raiseIfError(L, err) {
		return 0
	}
	if idx < 1 {
		L.RaiseError("index out of range")
		return 0
	}
	raw, ok, err := ctx.Vars.ArrayGet(h.id, h.parentKey, uint64(idx-1), h.declaredLen())
	if raiseIfError(L, err) {
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	v, err := decodeStateValue(L, ctx, raw)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(v)
	return 1
}

func luaStateArrayNewIndex(L *lua.LState) int {
	h := checkArrayHandle(L, 1)
	if h.dimension > 1 {
		L.RaiseError("not permitted to set intermediate dimension of array")
		return 0
	}
	idx := L.CheckInt64(2)
	if idx < 1 {
		L.RaiseError("index out of range")
		return 0
	}

	ctx, err := statePrelude(L, "state.array.set")
	if raiseIfError(L, err) {
		return 0
	}
	data, err := encodeStateValue(ctx, L.Get(3))
	if raiseIfError(L, err) {
		return 0
	}
	if err := ctx.Vars.ArraySet(h.id, h.parentKey, uint64(idx-1), h.declaredLen(), data); raiseIfError(L, err) {
		return 0
	}
	return 0
}

func luaStateArrayAppend(L *lua.LState) int {
	h := checkArrayHandle(L, 1)
	if len(h.lens) > 0 {
		L.RaiseError("the fixed array cannot use 'append' method")
		return 0
	}
	ctx, err := statePrelude(L, "state.array.append")
	if raiseIfError(L, err) {
		return 0
	}
	data, err := encodeStateValue(ctx, L.Get(2))
	if raiseIfError(L, err) {
		return 0
	}
	if _, err := ctx.Vars.ArrayAppend(h.id, h.parentKey, data, h.declaredLen()); raiseIfError(L, err) {
		return 0
	}
	return 0
}

func luaStateArrayLen(L *lua.LState) int {
	h := checkArrayHandle(L, 1)
	ctx, err := statePrelude(L, "state.array.length")
	if raiseIfError(L, err) {
		return 0
	}
	n, err := ctx.Vars.ArrayLen(h.id, h.parentKey, h.declaredLen())
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(n))
	return 1
}

func luaStateArrayPairs(L *lua.LState) int {
	h := checkArrayHandle(L, 1)
	idx := int64(0)
	iter := L.NewFunction(func(L *lua.LState) int {
		ctx, err := statePrelude(L, "state.array.get")
		if raiseIfError(L, err) {
			return 0
		}
		n, err := ctx.Vars.ArrayLen(h.id, h.parentKey, h.declaredLen())
		if raiseIfError(L, err) {
			return 0
		}
		if uint64(idx) >= n {
			L.Push(lua.LNil)
			return 1
		}
		raw, ok, err := ctx.Vars.ArrayGet(h.id, h.parentKey, uint64(idx), h.declaredLen())
		if raiseIfError(L, err) {
			return 0
		}
		idx++
		if !ok {
			L.Push(lua.LNumber(idx))
			L.Push(lua.LNil)
			return 2
		}
		v, err := decodeStateValue(L, ctx, raw)
		if raiseIfError(L, err) {
			return 0
		}
		L.Push(lua.LNumber(idx))
		L.Push(v)
		return 2
	})
	L.Push(iter)
	L.Push(L.Get(1))
	L.Push(lua.LNumber(0))
	return 3
}

//---------------------------------------------------------------------
// value
//---------------------------------------------------------------------

func registerStateValueMeta(L *lua.LState) {
	mt := L.NewTypeMetatable(stateValueTypeName)
	L.SetField(mt, "get", L.NewFunction(luaStateValueGet))
	L.SetField(mt, "set", L.NewFunction(luaStateValueSet))
	L.SetField(mt, "__index", mt)
}

func pushValueHandle(L *lua.LState, h *stateValueHandle) {
	ud := L.NewUserData()
	ud.Value = h
	ud.Metatable = L.GetTypeMetatable(stateValueTypeName)
	L.Push(ud)
}

func checkValueHandle(L *lua.LState, n int) *stateValueHandle {
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(*stateValueHandle)
	if !ok {
		L.RaiseError("state: expected a state.value handle")
		return nil
	}
	return h
}

func luaStateValue(L *lua.LState) int {
	pushValueHandle(L, &stateValueHandle{})
	return 1
}

func luaStateValueGet(L *lua.LState) int {
	h := checkValueHandle(L, 1)
	ctx, err := statePrelude(L, "state.value.get")
	if raiseIfError(L, err) {
		return 0
	}
	raw, ok, err := ctx.Vars.GetValue(h.id)
	if raiseIfError(L, err) {
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	v, err := decodeStateValue(L, ctx, raw)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(v)
	return 1
}

func luaStateValueSet(L *lua.LState) int {
	h := checkValueHandle(L, 1)
	if h.id == "" {
		L.RaiseError("invalid state.value: (nil)")
		return 0
	}
	ctx, err := statePrelude(L, "state.value.set")
	if raiseIfError(L, err) {
		return 0
	}
	data, err := encodeStateValue(ctx, L.Get(2))
	if raiseIfError(L, err) {
		return 0
	}
	if err := ctx.Vars.SetValue(h.id, data); raiseIfError(L, err) {
		return 0
	}
	return 0
}

//---------------------------------------------------------------------
// var — global declaration
//---------------------------------------------------------------------

// luaStateVar assigns each declared handle's id field from the table
// key it is stored under, then publishes it as a global of that same
// name. Unlike state_var in state_module.c, it does not call
// abi.register_var: this host has no `abi` module, so there is no
// separate ABI-visible variable registry to update (see file doc
// comment).
func luaStateVar(L *lua.LState) int {
	tbl := L.CheckTable(1)
	var rangeErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if rangeErr != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			rangeErr = fmt.Errorf("state.var: variable name must be a string, got %s", k.Type().String())
			return
		}
		ud, ok := v.(*lua.LUserData)
		if !ok {
			rangeErr = fmt.Errorf("state.var %q: state.value, state.map, state.imap or state.array expected", string(name))
			return
		}
		switch handle := ud.Value.(type) {
		case *stateMapHandle:
			handle.id = string(name)
		case *stateArrayHandle:
			handle.id = string(name)
		case *stateValueHandle:
			handle.id = string(name)
		default:
			rangeErr = fmt.Errorf("state.var %q: state.value, state.map, state.imap or state.array expected", string(name))
			return
		}
		L.SetGlobal(string(name), ud)
	})
	if raiseIfError(L, rangeErr) {
		return 0
	}
	return 0
}
