// SPDX-License-Identifier: BUSL-1.1
//
// Contract Host - Host Built-in Dispatcher
// -------------------------------------------
// contract_module.go, system_module.go, crypto_module.go, state_module.go
// and sql_module.go register their Lua-facing functions directly on the
// gopher-lua state via RegisterContractModule/RegisterSystemModule/
// RegisterCryptoModule/RegisterStateModule/RegisterSQLModule.
// This file is the extension point for a node embedding the engine to
// add further named built-ins (a node-specific oracle call, a bespoke
// precompile) without forking engine.go: RegisterBuiltin records a
// name → implementation mapping, and Dispatch resolves it by name.
// NewState does not install recorded built-ins into a contract's Lua
// state.
// Collisions are fatal at startup, the same guarantee the teacher
// codebase's opcode table gave its numeric catalogue.
package core

import (
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// BuiltinFunc is a Lua-callable host built-in implementation.
type BuiltinFunc func(L *lua.LState) int

var (
	builtinMu    sync.RWMutex
	builtinTable = make(map[string]BuiltinFunc)
)

// RegisterBuiltin binds name to its implementation. Panics on a
// duplicate registration — a collision here means two modules are
// fighting over the same host built-in name, which should never happen
// in a correctly wired build.
func RegisterBuiltin(name string, fn BuiltinFunc) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	if _, exists := builtinTable[name]; exists {
		panic(fmt.Sprintf("builtin_dispatch: collision registering %q", name))
	}
	builtinTable[name] = fn
}

// Dispatch resolves a built-in by name.
func Dispatch(name string) (BuiltinFunc, bool) {
	builtinMu.RLock()
	defer builtinMu.RUnlock()
	fn, ok := builtinTable[name]
	return fn, ok
}

// RegisteredBuiltins lists every registered built-in name, sorted.
func RegisteredBuiltins() []string {
	builtinMu.RLock()
	defer builtinMu.RUnlock()
	out := make([]string, 0, len(builtinTable))
	for name := range builtinTable {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
