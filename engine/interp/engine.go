package interp

import (
	"context"

	"go.uber.org/zap"

	"github.com/peregrinevm/peregrine/engine"
	"github.com/peregrinevm/peregrine/vm"
	"github.com/peregrinevm/peregrine/wasm"
)

// BackendName identifies the interpreter backend in artifact envelopes.
const BackendName = "interp"

// Engine is the interpreter backend.
type Engine struct {
	tunables   engine.Tunables
	signatures *vm.SignatureRegistry
}

// New creates an interpreter engine with default tunables.
func New() *Engine {
	return NewWithTunables(engine.DefaultTunables())
}

// NewWithTunables creates an interpreter engine with explicit tunables.
func NewWithTunables(t engine.Tunables) *Engine {
	return &Engine{
		tunables:   t,
		signatures: vm.NewSignatureRegistry(),
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
	return e.build(m, data)
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
	a, err := e.build(m, payload)
	if err != nil {
		return nil, engine.NewDeserializeError(err)
	}
	return a, nil
}

func (e *Engine) build(m *wasm.Module, raw []byte) (*artifact, error) {
	funcs, err := lowerModule(m, e.signatures)
	if err != nil {
		return nil, engine.NewCompileError(err)
	}
	typeSigs := make([]vm.SignatureIndex, len(m.Types))
	for i, ft := range m.Types {
		typeSigs[i] = e.signatures.Register(ft)
	}
	engine.Logger().Debug("compiled module",
		zap.String("backend", BackendName),
		zap.Int("functions", len(funcs)),
		zap.Int("types", len(m.Types)))
	return &artifact{
		engine:   e,
		module:   m,
		raw:      append([]byte(nil), raw...),
		funcs:    funcs,
		typeSigs: typeSigs,
	}, nil
}
