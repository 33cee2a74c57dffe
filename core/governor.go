package core

// governor.go implements the resource governor (§4.5): gas accounting,
// instruction-count hook, wall-clock timeout hook, and the memory-cap
// toggle around user code vs. result marshalling. Two accounting modes are
// selected by hardfork version per the Open Question resolution recorded in
// SPEC_FULL.md §9(a): hardfork >= 2 runs gas-metered, below it runs
// instruction-count mode — both paths are implemented here and switched on
// ServiceContext.HardforkVersion.

import (
	"errors"
	"time"
)

// ErrContractTimeout / ErrInstructionLimit carry the bit-exact message
// strings from spec.md §6. Both are always uncatchable.
var (
	ErrContractTimeout  = errors.New("contract timeout")
	ErrInstructionLimit = errors.New("exceeded the maximum instruction count")
	ErrOutOfGas         = errors.New("out of gas")
)

// UncatchableError marks an error that pcall/xpcall must not swallow
// (§4.4, §4.5, §7 taxonomy class 3/5). recovery.go checks for this wrapper
// before letting a user handler see the error.
type UncatchableError struct {
	Err error
}

func (e *UncatchableError) Error() string { return e.Err.Error() }
func (e *UncatchableError) Unwrap() error { return e.Err }

func uncatchable(err error) error { return &UncatchableError{Err: err} }

// IsUncatchable reports whether err (or anything it wraps) is marked
// uncatchable.
func IsUncatchable(err error) bool {
	var u *UncatchableError
	return errors.As(err, &u)
}

// ResourceMode is the accounting discipline in effect for a service
// context, selected once at engine creation from the hardfork version.
type ResourceMode int

const (
	ModeInstructionCount ResourceMode = iota
	ModeGasMetered
)

// instructionHookPeriod is "every 200 instructions" from §4.5.
const instructionHookPeriod = 200

// TimeoutChecker is the host call-out `checkTimeout(service)` (§6):
// 0 = ok, 1 = timeout, -1 = context missing. The governor treats any
// non-zero return as a timeout trip.
type TimeoutChecker func() int

// Governor implements the per-service resource accounting and cancellation
// hooks. One Governor is owned by exactly one ServiceContext.
type Governor struct {
	Mode ResourceMode

	gasLimit uint64
	gasUsed  uint64

	instrLimit       uint64
	instrCount       uint64
	instrSinceCheck  int

	checkTimeout TimeoutChecker
	startedAt    time.Time

	memCapEnabled bool
	maxMemory     uint64
}

// NewGovernor selects the accounting mode from hardfork and wires the
// host's timeout callback.
func NewGovernor(hardfork int, gasLimit, instrLimit, maxMemory uint64, checkTimeout TimeoutChecker) *Governor {
	mode := ModeInstructionCount
	if hardfork >= 2 {
		mode = ModeGasMetered
	}
	return &Governor{
		Mode:         mode,
		gasLimit:     gasLimit,
		instrLimit:   instrLimit,
		checkTimeout: checkTimeout,
		startedAt:    time.Now(),
		maxMemory:    maxMemory,
	}
}

// ChargeGas deducts amount from the gas budget. Only meaningful in
// gas-metered mode; instruction-count mode ignores gas charges entirely
// (its accounting runs purely off the instruction hook).
func (g *Governor) ChargeGas(amount uint64) error {
	if g.Mode != ModeGasMetered {
		return nil
	}
	g.gasUsed += amount
	if g.gasUsed > g.gasLimit {
		return uncatchable(ErrOutOfGas)
	}
	return nil
}

// GasRemaining reports the unspent gas budget (gas-metered mode only).
func (g *Governor) GasRemaining() uint64 {
	if g.gasUsed >= g.gasLimit {
		return 0
	}
	return g.gasLimit - g.gasUsed
}

// InstructionHook is called by the engine's per-instruction hook. Every
// instructionHookPeriod calls it runs one checkpoint: in gas-metered mode
// the checkpoint only consults wall-clock timeout; in instruction-count
// mode it additionally increments a cumulative counter against the
// caller-supplied limit, exceeding either tripping an uncatchable error.
func (g *Governor) InstructionHook() error {
	g.instrSinceCheck++
	if g.instrSinceCheck < instructionHookPeriod {
		return nil
	}
	g.instrSinceCheck = 0
	return g.checkpoint()
}

func (g *Governor) checkpoint() error {
	if g.checkTimeout != nil {
		if code := g.checkTimeout(); code != 0 {
			return uncatchable(ErrContractTimeout)
		}
	}
	if g.Mode == ModeInstructionCount {
		g.instrCount += instructionHookPeriod
		if g.instrCount > g.instrLimit {
			return uncatchable(ErrInstructionLimit)
		}
	}
	return nil
}

// EnableMemoryCap raises the host-managed allocator ceiling around user
// code execution.
func (g *Governor) EnableMemoryCap() { g.memCapEnabled = true }

// DisableMemoryCap lowers the ceiling around result marshalling, which
// must not itself be constrained by the contract's own memory budget.
func (g *Governor) DisableMemoryCap() { g.memCapEnabled = false }

// MemoryCapActive reports whether the ceiling is currently enforced.
func (g *Governor) MemoryCapActive() bool { return g.memCapEnabled }

// MaxMemory returns the configured allocator ceiling in bytes.
func (g *Governor) MaxMemory() uint64 { return g.maxMemory }
