package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/peregrinevm/peregrine/vm"
)

// Instantiate materializes a module instance against positional imports.
// Excess externs beyond the module's import count are ignored.
func Instantiate(ctx context.Context, m *Module, externs []Extern) (*Instance, error) {
	return InstantiateWithResolver(ctx, m, OrderedResolver(externs))
}

// InstantiateWithResolver materializes a module instance, resolving
// imports through r. The sequence is: link-check every import, then
// initialize host environments, then hand off to the backend. No guest
// code runs before all imports are link-checked; a start function trap
// discards the instance.
func InstantiateWithResolver(ctx context.Context, m *Module, r Resolver) (*Instance, error) {
	mod := m.art.Module()

	table, envs, err := link(mod, m.eng, r)
	if err != nil {
		return nil, err
	}

	for _, hi := range envs {
		if err := hi.env.Init(ctx); err != nil {
			return nil, &HostInitError{Index: hi.index, Cause: err}
		}
	}

	handle, err := m.art.Instantiate(ctx, table)
	if err != nil {
		if t, ok := vm.AsTrap(err); ok {
			return nil, t
		}
		return nil, &LinkError{Reason: "instantiation failed", Cause: err}
	}

	Logger().Debug("instantiated module",
		zap.String("backend", m.eng.Name()),
		zap.Int("imports", len(mod.Imports)),
		zap.Int("exports", len(mod.Exports)))
	return newInstance(handle), nil
}
