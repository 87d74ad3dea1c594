// Package wasmdebug builds the stable, human-readable trap display: a short error message plus
// a Wasm call stack (backtrace) of the frames active when the trap or host panic occurred.
package wasmdebug

import (
	"errors"
	"fmt"
	"strings"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/wasmruntime"
)

// runtimeErrors are the sentinel values panicked by compiled code; these print as
// "wasm error: ..." since they represent Wasm execution itself failing. Anything else, including
// a Go runtime.Error, prints as "... (recovered by corewasm)".
var runtimeErrors = []error{
	wasmruntime.ErrRuntimeUnreachable,
	wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess,
	wasmruntime.ErrRuntimeInvalidConversionToInteger,
	wasmruntime.ErrRuntimeIntegerDivideByZero,
	wasmruntime.ErrRuntimeIntegerOverflow,
	wasmruntime.ErrRuntimeInvalidTableAccess,
	wasmruntime.ErrRuntimeIndirectCallTypeMismatch,
	wasmruntime.ErrRuntimeStackOverflow,
	wasmruntime.ErrRuntimeCallStackOverflow,
	wasmruntime.ErrRuntimeOutOfGas,
	wasmruntime.ErrRuntimeInterrupted,
}

func isRuntimeError(err error) bool {
	for _, sentinel := range runtimeErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// MaxFrames bounds how many stack frames FromRecovered reports, to keep a runaway recursive
// trap's error message finite.
const MaxFrames = 32

// FuncName formats a function's debug identity as "module.function", falling back to
// "$index" for an unnamed function and "module" defaulting to "" (empty) when absent.
func FuncName(moduleName, funcName string, funcIdx uint32) string {
	if funcName == "" {
		funcName = fmt.Sprintf("$%d", funcIdx)
	}
	return moduleName + "." + funcName
}

// signature appends a Wasm-style parameter/result signature to name, e.g. "x.y(i32,f64) i64".
func signature(name string, paramTypes, resultTypes []api.ValueType) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('(')
	for i, t := range paramTypes {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(api.ValueTypeName(t))
	}
	sb.WriteByte(')')
	switch len(resultTypes) {
	case 0:
	case 1:
		sb.WriteByte(' ')
		sb.WriteString(api.ValueTypeName(resultTypes[0]))
	default:
		sb.WriteString(" (")
		for i, t := range resultTypes {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(api.ValueTypeName(t))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// AddSignature is the same formatting signature applies, addressed by a
// FuncName-shaped identity rather than a raw name. Exported for callers (e.g. the Compiler's
// trap path) that already have a frame's function instance in hand.
func AddSignature(moduleName, funcName string, funcIdx uint32, paramTypes, resultTypes []api.ValueType) string {
	return signature(FuncName(moduleName, funcName, funcIdx), paramTypes, resultTypes)
}

// ErrorBuilder accumulates Wasm call stack frames (innermost first, the order a trap or panic
// unwinds in) and renders them into a single error alongside the recovered cause.
type ErrorBuilder interface {
	// AddFrame records one active call frame's signature, innermost frame added first.
	AddFrame(name string, paramTypes, resultTypes []api.ValueType)
	// FromRecovered wraps a value recovered from panic (a wasmruntime sentinel error, a
	// runtime.Error such as a nil-pointer dereference, a host function's own panic value, or
	// an arbitrary error) into a single error whose message includes the accumulated frames and
	// whose errors.Unwrap returns the original cause.
	FromRecovered(recovered interface{}) error
}

type errorBuilder struct {
	frames []string
}

// NewErrorBuilder returns an empty ErrorBuilder ready to accumulate frames innermost-first.
func NewErrorBuilder() ErrorBuilder { return &errorBuilder{} }

func (b *errorBuilder) AddFrame(name string, paramTypes, resultTypes []api.ValueType) {
	if len(b.frames) >= MaxFrames {
		return
	}
	b.frames = append(b.frames, signature(name, paramTypes, resultTypes))
}

func (b *errorBuilder) FromRecovered(recovered interface{}) error {
	cause := causeError(recovered)

	var sb strings.Builder
	if isRuntimeError(cause) {
		sb.WriteString("wasm error: ")
		sb.WriteString(cause.Error())
	} else {
		sb.WriteString(cause.Error())
		sb.WriteString(" (recovered by corewasm)")
	}
	if len(b.frames) > 0 {
		sb.WriteString("\nwasm stack trace:")
		for _, f := range b.frames {
			sb.WriteString("\n\t")
			sb.WriteString(f)
		}
	}
	return &traceError{msg: sb.String(), cause: cause}
}

func causeError(recovered interface{}) error {
	switch v := recovered.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	default:
		return fmt.Errorf("%v", v)
	}
}

type traceError struct {
	msg   string
	cause error
}

func (e *traceError) Error() string { return e.msg }
func (e *traceError) Unwrap() error { return e.cause }
