package runtime

import (
	"context"

	"github.com/peregrinevm/peregrine/engine"
	"github.com/peregrinevm/peregrine/wasm"
)

// Module pairs a compiled artifact with the engine that produced it.
type Module struct {
	eng engine.Engine
	art engine.Artifact
}

// Compile validates and compiles a wasm binary on the given engine.
func Compile(ctx context.Context, eng engine.Engine, data []byte) (*Module, error) {
	art, err := eng.Compile(ctx, data)
	if err != nil {
		return nil, err
	}
	return &Module{eng: eng, art: art}, nil
}

// Validate checks a wasm binary without compiling it.
func Validate(eng engine.Engine, data []byte) error {
	return eng.Validate(data)
}

// Deserialize revives a module from Serialize output. The data must
// carry the engine's own backend envelope.
func Deserialize(ctx context.Context, eng engine.Engine, data []byte) (*Module, error) {
	art, err := eng.Deserialize(ctx, data)
	if err != nil {
		return nil, err
	}
	return &Module{eng: eng, art: art}, nil
}

// Engine returns the module's engine.
func (m *Module) Engine() engine.Engine {
	return m.eng
}

// Artifact returns the compiled artifact.
func (m *Module) Artifact() engine.Artifact {
	return m.art
}

// Serialize encodes the module for Deserialize.
func (m *Module) Serialize() ([]byte, error) {
	return m.art.Serialize()
}

// Imports returns the module's declared imports in declaration order.
// Callers must not mutate the returned slice.
func (m *Module) Imports() []wasm.Import {
	return m.art.Module().Imports
}

// Exports returns the module's declared exports in declaration order.
// Callers must not mutate the returned slice.
func (m *Module) Exports() []wasm.Export {
	return m.art.Module().Exports
}
