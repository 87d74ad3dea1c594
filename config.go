package wazero

import (
	"context"

	"github.com/corewasm/corewasm/internal/wasm"
)

// RuntimeConfig controls Runtime-wide behavior: enabled post-1.0 feature proposals, the memory
// ceiling every compiled module is checked against, and the compilation cache backing the
// Engine. The default, from NewRuntimeConfig, is WebAssembly 1.0 (20191205) with no cache.
//
// Grounded on the vendored config.go's With*/clone() chainable-builder shape.
type RuntimeConfig interface {
	// WithFeatureBulkMemoryOperations toggles the "bulk-memory-operations" proposal.
	WithFeatureBulkMemoryOperations(enabled bool) RuntimeConfig
	// WithFeatureMultiValue toggles the "multi-value" proposal.
	WithFeatureMultiValue(enabled bool) RuntimeConfig
	// WithFeatureReferenceTypes toggles the "reference-types" proposal.
	WithFeatureReferenceTypes(enabled bool) RuntimeConfig
	// WithFeatureSIMD toggles the "simd" proposal.
	WithFeatureSIMD(enabled bool) RuntimeConfig
	// WithFeatureSignExtensionOps toggles the "sign-extension-ops" proposal.
	WithFeatureSignExtensionOps(enabled bool) RuntimeConfig
	// WithFeatureNonTrappingFloatToIntConversion toggles the "nontrapping-float-to-int-conversion" proposal.
	WithFeatureNonTrappingFloatToIntConversion(enabled bool) RuntimeConfig

	// WithMemoryMaxPages lowers the ceiling a compiled module's declared memory max must not
	// exceed, from wasm.MemoryMaxPages (4GiB).
	WithMemoryMaxPages(memoryMaxPages uint32) RuntimeConfig

	// WithCompilationCache backs the Engine with a persistent cache, so a module compiled once
	// by this process (or a prior one sharing the same cache directory) skips re-lowering.
	WithCompilationCache(cache Cache) RuntimeConfig
}

type runtimeConfig struct {
	enabledFeatures wasm.Features
	memoryMaxPages  uint32
	cache           *cache
}

// NewRuntimeConfig returns the default RuntimeConfig: WebAssembly 1.0 (20191205) features, the
// full 4GiB memory ceiling, and no compilation cache.
func NewRuntimeConfig() RuntimeConfig {
	return &runtimeConfig{
		enabledFeatures: wasm.Features20191205,
		memoryMaxPages:  wasm.MemoryMaxPages,
	}
}

func (c *runtimeConfig) clone() *runtimeConfig {
	ret := *c
	return &ret
}

func (c *runtimeConfig) withFeature(f wasm.Features, enabled bool) RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(f, enabled)
	return ret
}

func (c *runtimeConfig) WithFeatureBulkMemoryOperations(enabled bool) RuntimeConfig {
	return c.withFeature(wasm.FeatureBulkMemoryOperations, enabled)
}

func (c *runtimeConfig) WithFeatureMultiValue(enabled bool) RuntimeConfig {
	return c.withFeature(wasm.FeatureMultiValue, enabled)
}

func (c *runtimeConfig) WithFeatureReferenceTypes(enabled bool) RuntimeConfig {
	return c.withFeature(wasm.FeatureReferenceTypes, enabled)
}

func (c *runtimeConfig) WithFeatureSIMD(enabled bool) RuntimeConfig {
	return c.withFeature(wasm.FeatureSIMD, enabled)
}

func (c *runtimeConfig) WithFeatureSignExtensionOps(enabled bool) RuntimeConfig {
	return c.withFeature(wasm.FeatureSignExtensionOps, enabled)
}

func (c *runtimeConfig) WithFeatureNonTrappingFloatToIntConversion(enabled bool) RuntimeConfig {
	return c.withFeature(wasm.FeatureNonTrappingFloatToIntConversion, enabled)
}

func (c *runtimeConfig) WithMemoryMaxPages(memoryMaxPages uint32) RuntimeConfig {
	ret := c.clone()
	ret.memoryMaxPages = memoryMaxPages
	return ret
}

func (c *runtimeConfig) WithCompilationCache(ch Cache) RuntimeConfig {
	ret := c.clone()
	ret.cache, _ = ch.(*cache)
	return ret
}

// CompileConfig configures one CompileModule call.
type CompileConfig interface {
	// WithDebugInfo controls whether the compiled module retains function/parameter debug
	// names. Defaults to true. Disabling it trims Trap backtraces to raw function indices,
	// at no cost to compiled code itself.
	WithDebugInfo(enabled bool) CompileConfig
}

type compileConfig struct {
	debugInfo bool
}

// NewCompileConfig returns the default CompileConfig: debug info retained.
func NewCompileConfig() CompileConfig {
	return newCompileConfig()
}

func newCompileConfig() *compileConfig {
	return &compileConfig{debugInfo: true}
}

func (c *compileConfig) WithDebugInfo(enabled bool) CompileConfig {
	ret := *c
	ret.debugInfo = enabled
	return &ret
}

// CompiledCode is a validated, compiled module ready to be instantiated any number of times via
// Runtime.InstantiateModule.
//
// Note: wazero avoids naming this "Module" for both the pre- and post-instantiation artifact, as
// that conflation confuses readers; see RuntimeConfig/CompileModule.
type CompiledCode interface {
	// Close releases this module's compiled code pages. Do this once every instance
	// obtained from it is itself closed.
	Close(ctx context.Context) error
}

type compiledCode struct {
	module *wasm.Module
	engine wasm.Engine
}

func (c *compiledCode) Close(ctx context.Context) error {
	c.engine.DeleteCompiledModule(c.module)
	return nil
}

// ModuleConfig configures one InstantiateModule call: the instance's name and the functions
// (commonly just "_start") run immediately after instantiation completes.
type ModuleConfig interface {
	// WithName overrides the name the instantiated module is addressable by. Defaults to the
	// name recorded in the compiled module's NameSection, if any.
	WithName(name string) ModuleConfig

	// WithStartFunctions overrides which exported functions run, in order, right after
	// instantiation. Defaults to none; a function absent from the module's exports is
	// silently skipped.
	WithStartFunctions(startFunctions ...string) ModuleConfig
}

type moduleConfig struct {
	name           string
	startFunctions []string
}

// NewModuleConfig returns the default ModuleConfig: no name override, no start functions.
func NewModuleConfig() ModuleConfig {
	return &moduleConfig{}
}

func (c *moduleConfig) WithName(name string) ModuleConfig {
	ret := *c
	ret.name = name
	return &ret
}

func (c *moduleConfig) WithStartFunctions(startFunctions ...string) ModuleConfig {
	ret := *c
	ret.startFunctions = startFunctions
	return &ret
}
