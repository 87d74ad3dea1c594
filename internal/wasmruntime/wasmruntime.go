// Package wasmruntime defines sentinel errors representing Wasm-level runtime traps: failures
// that can only be detected while executing compiled code (as opposed to validation errors,
// caught ahead of time). Compiled code panics with these values; internal/engine/compiler
// recovers the panic and turns it into an *api.Trap whose Kind is chosen by matching these sentinels.
package wasmruntime

import "errors"

var (
	// ErrRuntimeUnreachable is the runtime error raised when the "unreachable" instruction runs.
	ErrRuntimeUnreachable = errors.New("unreachable")
	// ErrRuntimeOutOfBoundsMemoryAccess is raised on a load/store past the current memory size.
	ErrRuntimeOutOfBoundsMemoryAccess = errors.New("out of bounds memory access")
	// ErrRuntimeInvalidConversionToInteger is raised by a trapping float-to-int conversion whose
	// operand is NaN or out of the target integer's range.
	ErrRuntimeInvalidConversionToInteger = errors.New("invalid conversion to integer")
	// ErrRuntimeIntegerDivideByZero is raised by i32.div_s/u, i64.div_s/u, and the rem variants
	// when the divisor is zero.
	ErrRuntimeIntegerDivideByZero = errors.New("integer divide by zero")
	// ErrRuntimeIntegerOverflow is raised by i32.div_s/i64.div_s on MinInt/-1.
	ErrRuntimeIntegerOverflow = errors.New("integer overflow")
	// ErrRuntimeInvalidTableAccess is raised by an out-of-bounds or null table/element access
	// (call_indirect on a hole, table.get/set past the table's length).
	ErrRuntimeInvalidTableAccess = errors.New("invalid table access")
	// ErrRuntimeIndirectCallTypeMismatch is raised when call_indirect's resolved function's type
	// doesn't match the call site's declared type.
	ErrRuntimeIndirectCallTypeMismatch = errors.New("indirect call type mismatch")
	// ErrRuntimeStackOverflow is classified as a stack-overflow trap when recovered; no compiled
	// step panics with it, since call depth is bounded by ErrRuntimeCallStackOverflow.
	ErrRuntimeStackOverflow = errors.New("stack overflow")
	// ErrRuntimeCallStackOverflow is raised when the Wasm call stack exceeds the configured
	// maximum call depth (frame count), independent of native stack usage.
	ErrRuntimeCallStackOverflow = errors.New("callstack overflow")
	// ErrRuntimeOutOfGas is raised when a Store's fuel counter crosses zero under
	// FuelPolicyTrap; under FuelPolicyYieldAsync the fiber suspends instead of this panicking.
	ErrRuntimeOutOfGas = errors.New("all fuel consumed by WebAssembly")
	// ErrRuntimeInterrupted is raised when an InterruptHandle's interrupt is observed at a call
	// entry or loop back-edge.
	ErrRuntimeInterrupted = errors.New("interrupted")
)
