// Package compiler implements the ahead-of-time Compiler: CompileModule lowers every
// module-defined function's bytecode through internal/wazeroir once, then threads the resulting
// operation list into a flat slice of Go closures ("threaded code") so that a Call only ever
// walks pre-resolved steps instead of re-decoding bytecode or re-walking a control-flow stack.
//
// No multi-arch native codegen backend is wired here (see DESIGN.md): the closures are plain Go
// functions compiled once by the host Go toolchain, and internal/platform's mmap-backed Code
// Memory Manager instead holds each function's serialized operation stream, the artifact
// persisted across process restarts by internal/filecache.
package compiler

import (
	"bytes"
	"fmt"

	"github.com/corewasm/corewasm/internal/platform"
	"github.com/corewasm/corewasm/internal/wasm"
	"github.com/corewasm/corewasm/internal/wazeroir"
)

// compiledFunction is the artifact CompileModule produces for one wasm.Module.CodeSection entry.
type compiledFunction struct {
	typ       *wasm.FunctionType
	numLocals int // len(typ.Params) + len(localTypes), i.e. the frame's local slot count
	steps     []step

	index      wasm.Index // index in the combined (imports-first) function space
	debugName  string
	paramNames []string

	// codeSegment is the mmap'd (or, on unsupported platforms, plain heap) encoded byte form
	// of steps' originating wazeroir.Operations: the Code Memory Manager's artifact for this
	// function, released by (*engine).DeleteCompiledModule.
	codeSegment []byte
}

// compiledModule is everything CompileModule produces for one wasm.Module: one compiledFunction
// per CodeSection entry, in order.
type compiledModule struct {
	functions []*compiledFunction
}

// compileFunction lowers fn's bytecode and threads it into a compiledFunction. module is needed
// only to resolve fn's declared signature.
func compileFunction(module *wasm.Module, fn *wasm.Function, index wasm.Index) (*compiledFunction, error) {
	result, err := wazeroir.Compile(module, fn)
	if err != nil {
		return nil, fmt.Errorf("compiling function %s: %w", fn.DebugName, err)
	}

	typ := module.TypeSection[fn.TypeIndex]
	steps, err := compileSteps(result.Operations)
	if err != nil {
		return nil, fmt.Errorf("compiling function %s: %w", fn.DebugName, err)
	}

	encoded := encodeOperations(result.Operations)
	codeSegment, err := mapCodeSegment(encoded)
	if err != nil {
		return nil, fmt.Errorf("compiling function %s: %w", fn.DebugName, err)
	}

	return &compiledFunction{
		typ:         typ,
		numLocals:   len(result.LocalTypes),
		steps:       steps,
		index:       index,
		debugName:   fn.DebugName,
		paramNames:  fn.ParamNames,
		codeSegment: codeSegment,
	}, nil
}

// mapCodeSegment hands encoded off to the platform's Code Memory Manager when this
// architecture/OS supports an executable mapping, falling back to a plain heap copy otherwise
// (e.g. under a GOOS this module has no mmap backend for). Either way the returned slice is
// what DeleteCompiledModule must release.
func mapCodeSegment(encoded []byte) ([]byte, error) {
	if len(encoded) == 0 || !platform.CompilerSupported() {
		return encoded, nil
	}
	return platform.MmapCodeSegment(bytes.NewReader(encoded), len(encoded))
}

// releaseCodeSegment undoes mapCodeSegment.
func releaseCodeSegment(code []byte) {
	if len(code) == 0 || !platform.CompilerSupported() {
		return
	}
	_ = platform.MunmapCodeSegment(code)
}
