package wazeroengine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/peregrinevm/peregrine/engine"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// BackendName identifies the wazero backend in artifact envelopes.
const BackendName = "wazero"

// Engine is the wazero-backed backend.
type Engine struct {
	tunables   engine.Tunables
	signatures *vm.SignatureRegistry
	cache      wazero.CompilationCache
}

// New creates a wazero engine with default tunables.
func New() *Engine {
	return NewWithTunables(engine.DefaultTunables())
}

// NewWithTunables creates a wazero engine with explicit tunables.
func NewWithTunables(t engine.Tunables) *Engine {
	return &Engine{
		tunables:   t,
		signatures: vm.NewSignatureRegistry(),
		cache:      wazero.NewCompilationCache(),
	}
}

// Name implements engine.Engine.
func (e *Engine) Name() string {
	return BackendName
}

// Tunables implements engine.Engine.
func (e *Engine) Tunables() engine.Tunables {
	return e.tunables
}

// RegisterSignature implements engine.Engine.
func (e *Engine) RegisterSignature(ft *wasm.FuncType) vm.SignatureIndex {
	return e.signatures.Register(ft)
}

// LookupSignature implements engine.Engine.
func (e *Engine) LookupSignature(idx vm.SignatureIndex) (*wasm.FuncType, bool) {
	return e.signatures.Lookup(idx)
}

// FunctionCallTrampoline implements engine.Engine.
func (e *Engine) FunctionCallTrampoline(idx vm.SignatureIndex) (vm.Trampoline, bool) {
	if _, ok := e.signatures.Lookup(idx); !ok {
		return nil, false
	}
	return engine.DispatchTrampoline(idx), true
}

// runtimeConfig builds the per-runtime configuration. The compilation
// cache is shared so repeat instantiations reuse compiled code.
func (e *Engine) runtimeConfig() wazero.RuntimeConfig {
	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(true)
	if pages := e.tunables.MemoryLimitPages(); pages > 0 && pages < wasm.MemoryMaxPages {
		cfg = cfg.WithMemoryLimitPages(uint32(pages))
	}
	return cfg
}

// Validate implements engine.Engine.
func (e *Engine) Validate(data []byte) error {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return engine.NewCompileError(err)
	}
	if err := wasm.Validate(m); err != nil {
		return engine.NewCompileError(err)
	}
	return nil
}

// Compile implements engine.Engine.
func (e *Engine) Compile(ctx context.Context, data []byte) (engine.Artifact, error) {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return nil, engine.NewCompileError(err)
	}
	if err := wasm.Validate(m); err != nil {
		return nil, engine.NewCompileError(err)
	}

	// Compile through a throwaway runtime to fail fast and warm the
	// shared cache. Instantiation recompiles against the cache.
	rt := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())
	defer rt.Close(ctx)
	if _, err := rt.CompileModule(ctx, data); err != nil {
		return nil, engine.NewCompileError(err)
	}

	engine.Logger().Debug("compiled module",
		zap.String("backend", BackendName),
		zap.Int("functions", len(m.Funcs)),
		zap.Int("imports", len(m.Imports)))
	return &artifact{
		engine: e,
		module: m,
		raw:    append([]byte(nil), data...),
	}, nil
}

// Deserialize implements engine.Engine.
func (e *Engine) Deserialize(ctx context.Context, data []byte) (engine.Artifact, error) {
	payload, err := engine.DecodeEnvelope(BackendName, data)
	if err != nil {
		return nil, err
	}
	// Serialized payloads are trusted: decode without re-validating.
	m, err := wasm.ParseModule(payload)
	if err != nil {
		return nil, engine.NewDeserializeError(err)
	}
	return &artifact{
		engine: e,
		module: m,
		raw:    append([]byte(nil), payload...),
	}, nil
}
