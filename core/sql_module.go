package core

// sql_module.go installs the Lua-facing `db`/`stmt`/`rs` built-ins (§4.9)
// on top of sqlbridge.go's SQLBridge. Built-ins are grouped into three
// tables the same way contract_module.go/system_module.go group theirs,
// one table per handle kind the spec's flat dbExec/dbQuery/.../rsGet/rsNext
// operation list naturally falls into. Every call charges gas via
// gas_table.go's db.*/stmt.*/rs.* entries and runs the same InstructionHook
// checkpoint as every other host built-in.

import (
	lua "github.com/yuin/gopher-lua"
)

// RegisterSQLModule installs the `db`, `stmt`, and `rs` tables on L.
func RegisterSQLModule(L *lua.LState) {
	db := L.NewTable()
	L.SetField(db, "exec", L.NewFunction(luaDbExec))
	L.SetField(db, "query", L.NewFunction(luaDbQuery))
	L.SetField(db, "prepare", L.NewFunction(luaDbPrepare))
	L.SetField(db, "getSnapshot", L.NewFunction(luaDbGetSnapshot))
	L.SetField(db, "openWithSnapshot", L.NewFunction(luaDbOpenWithSnapshot))
	L.SetField(db, "lastInsertRowid", L.NewFunction(luaDbLastInsertRowid))
	L.SetGlobal("db", db)

	stmt := L.NewTable()
	L.SetField(stmt, "exec", L.NewFunction(luaStmtExec))
	L.SetField(stmt, "query", L.NewFunction(luaStmtQuery))
	L.SetField(stmt, "columnInfo", L.NewFunction(luaStmtColumnInfo))
	L.SetGlobal("stmt", stmt)

	rs := L.NewTable()
	L.SetField(rs, "next", L.NewFunction(luaRsNext))
	L.SetField(rs, "get", L.NewFunction(luaRsGet))
	L.SetGlobal("rs", rs)
}

func sqlPrelude(L *lua.LState, builtin string) (*ServiceContext, error) {
	ctx, err := LookupServiceContext(L)
	if err != nil {
		return nil, err
	}
	if err := ctx.RequireExecutionContext(); err != nil {
		return nil, err
	}
	if ctx.SQL == nil {
		return nil, errMissingSQLBridge
	}
	if err := ctx.Gov.InstructionHook(); err != nil {
		return nil, err
	}
	if err := ctx.Gov.ChargeGas(GasCost(builtin)); err != nil {
		return nil, err
	}
	return ctx, nil
}

func luaArgsFrom(L *lua.LState, start int) []interface{} {
	n := L.GetTop()
	if n < start {
		return nil
	}
	out := make([]interface{}, 0, n-start+1)
	for i := start; i <= n; i++ {
		out = append(out, luaToSQLArg(L.Get(i)))
	}
	return out
}

func luaToSQLArg(v lua.LValue) interface{} {
	switch t := v.(type) {
	case lua.LNil:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(t)
	default:
		return v.String()
	}
}

func luaDbExec(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "db.exec")
	if raiseIfError(L, err) {
		return 0
	}
	query := L.CheckString(1)
	lastID, affected, err := ctx.SQL.DbExec(ctx, query, luaArgsFrom(L, 2)...)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(lastID))
	L.Push(lua.LNumber(affected))
	return 2
}

func luaDbQuery(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "db.query")
	if raiseIfError(L, err) {
		return 0
	}
	query := L.CheckString(1)
	handle, err := ctx.SQL.DbQuery(query, luaArgsFrom(L, 2)...)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(handle))
	return 1
}

func luaDbPrepare(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "db.prepare")
	if raiseIfError(L, err) {
		return 0
	}
	handle, err := ctx.SQL.DbPrepare(L.CheckString(1))
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(handle))
	return 1
}

func luaDbGetSnapshot(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "db.getSnapshot")
	if raiseIfError(L, err) {
		return 0
	}
	token, err := ctx.SQL.DbGetSnapshot(ctx.ContractID.Hex())
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LString(token))
	return 1
}

// luaDbOpenWithSnapshot reopens the contract's database against a prior
// snapshot token, replacing the invocation's live connection — used by
// view functions so queries never observe writes made after the view
// started (ViewStart/ViewEnd on the NodeDriver bracket the call).
func luaDbOpenWithSnapshot(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "db.openWithSnapshot")
	if raiseIfError(L, err) {
		return 0
	}
	bridge, err := DbOpenWithSnapshot(L.CheckString(1))
	if raiseIfError(L, err) {
		return 0
	}
	ctx.SQL = bridge
	return 0
}

func luaDbLastInsertRowid(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "db.lastInsertRowid")
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(ctx.SQL.LastInsertRowid()))
	return 1
}

func luaStmtExec(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "stmt.exec")
	if raiseIfError(L, err) {
		return 0
	}
	handle := L.CheckInt(1)
	lastID, affected, err := ctx.SQL.StmtExec(ctx, handle, luaArgsFrom(L, 2)...)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(lastID))
	L.Push(lua.LNumber(affected))
	return 2
}

func luaStmtQuery(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "stmt.query")
	if raiseIfError(L, err) {
		return 0
	}
	handle := L.CheckInt(1)
	rsHandle, err := ctx.SQL.StmtQuery(handle, luaArgsFrom(L, 2)...)
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LNumber(rsHandle))
	return 1
}

func luaStmtColumnInfo(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "stmt.columnInfo")
	if raiseIfError(L, err) {
		return 0
	}
	cols, err := ctx.SQL.StmtColumnInfo(L.CheckInt(1))
	if raiseIfError(L, err) {
		return 0
	}
	tbl := L.NewTable()
	for i, c := range cols {
		row := L.NewTable()
		L.SetField(row, "name", lua.LString(c.Name))
		L.SetField(row, "type", lua.LString(c.DeclaredType))
		tbl.RawSetInt(i+1, row)
	}
	L.Push(tbl)
	return 1
}

func luaRsNext(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "rs.next")
	if raiseIfError(L, err) {
		return 0
	}
	ok, err := ctx.SQL.RsNext(L.CheckInt(1))
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(lua.LBool(ok))
	return 1
}

func luaRsGet(L *lua.LState) int {
	ctx, err := sqlPrelude(L, "rs.get")
	if raiseIfError(L, err) {
		return 0
	}
	v, err := ctx.SQL.RsGet(L.CheckInt(1), L.CheckInt(2))
	if raiseIfError(L, err) {
		return 0
	}
	L.Push(sqlValueToLua(v))
	return 1
}

func sqlValueToLua(v interface{}) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case int64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	default:
		return lua.LNil
	}
}
