// SPDX-License-Identifier: BUSL-1.1
//
// Contract Host - Host Built-in Gas Schedule
// -------------------------------------------
// Canonical gas-pricing table for every host built-in reachable from
// contract Lua code (contract.*, system.*, db*, crypto) plus the fixed
// per-operation charges named directly in spec.md (bignum pow, JSON
// codec traversal, recovery points). Gas is charged before the built-in
// runs; Governor.ChargeGas is a no-op outside gas-metered mode so this
// table has no effect under the instruction-count accounting path.
//
// Unpriced built-ins fall back to DefaultGasCost, logged once via
// logrus so a missing entry is visible in production without panicking
// a running contract.
package core

import "github.com/sirupsen/logrus"

// DefaultGasCost is charged for any built-in that has slipped through the
// cracks. Deliberately punitive so missing entries get noticed and fixed.
const DefaultGasCost uint64 = 100_000

// Fixed charges named directly in spec.md, independent of the built-in
// gas table below.
const (
	// GasBignumPow is the flat 500-unit charge for bignum.pow, on top of
	// the intrinsic cost of the underlying multiplications (§4.1).
	GasBignumPow uint64 = 500
	// GasJSONPerValue is the per-value figure for the deterministic JSON
	// codec (§4.2); the codec's Encode and Decode do not charge it.
	GasJSONPerValue uint64 = 10
	// GasRecoveryPoint is charged for each openRecovery/closeRecovery
	// pair established by pcall/xpcall (§4.6).
	GasRecoveryPoint uint64 = 300
)

// gasTable maps every host built-in name to its base gas cost. Dynamic
// portions (per-byte storage fees, per-row SQL costs) are added on top by
// the built-in's own implementation before calling ChargeGas.
var gasTable = map[string]uint64{
	"contract.call":         3000,
	"contract.delegatecall": 3000,
	"contract.send":         2100,
	"contract.deploy":       32000,
	"contract.event":        750,
	"contract.stake":        2600,
	"contract.unstake":      2600,
	"contract.vote":         2600,
	"contract.voteDao":      2600,
	"contract.balance":      400,
	"contract.pcall":        GasRecoveryPoint,

	"system.getSender":      200,
	"system.getCreator":     200,
	"system.getTxhash":      200,
	"system.getBlockheight": 200,
	"system.getTimestamp":   200,
	"system.getContractID":  200,
	"system.getOrigin":      200,
	"system.getAmount":      200,
	"system.getPrevBlockHash": 200,
	"system.getItem":        800,
	"system.setItem":        5000,
	"system.date":           300,
	"system.time":           200,
	"system.difftime":       200,
	"system.random":         300,
	"system.isContract":     400,
	"system.isFeeDelegation": 200,
	"system.toPubKey":       600,
	"system.toAddress":      600,
	"system.version":        200,

	"db.exec":             2500,
	"db.query":            2500,
	"db.prepare":          1500,
	"db.getSnapshot":      1000,
	"db.openWithSnapshot": 2000,
	"db.lastInsertRowid":  200,
	"stmt.exec":           1800,
	"stmt.query":          1800,
	"stmt.columnInfo":     400,
	"rs.get":              200,
	"rs.next":             200,

	"crypto.sha256":      600,
	"crypto.keccak256":   600,
	"crypto.ecverify":    3000,
	"crypto.verifyProof": 4000,

	"state.value.get": 800,
	"state.value.set": 5000,

	"state.map.get":    800,
	"state.map.set":    5000,
	"state.map.delete": 3000,

	"state.imap.get":     800,
	"state.imap.set":     5000,
	"state.imap.delete":  3000,
	"state.imap.length":  300,
	"state.imap.keys":    1500,
	"state.imap.pairs":   1500,

	"state.array.get":    800,
	"state.array.set":    5000,
	"state.array.append": 5200,
	"state.array.length": 300,
}

// GasCost returns the base gas cost for a named host built-in. Lock-free
// reads; the table is built once at init and never mutated.
func GasCost(name string) uint64 {
	if cost, ok := gasTable[name]; ok {
		return cost
	}
	logrus.WithField("builtin", name).Warn("gas_table: missing cost for built-in, charging default")
	return DefaultGasCost
}
