package engine

// Tunables supplies resource limits for instance materialization.
// Backends consult tunables when allocating memories and tables; limits
// below a module's declared minimum surface as link failures at
// instantiation.
type Tunables interface {
	// MemoryLimitPages caps linear memory size in 64KiB pages. Zero
	// means no cap beyond the module's own declared maximum.
	MemoryLimitPages() uint64

	// TableLimitElements caps table size in elements. Zero means no cap.
	TableLimitElements() uint32

	// CallStackDepth caps guest call nesting for backends that track it.
	// Zero selects the backend default.
	CallStackDepth() uint32
}

// BaseTunables is the default Tunables implementation. The zero value
// imposes no limits.
type BaseTunables struct {
	MemoryPages   uint64
	TableElements uint32
	StackDepth    uint32
}

// MemoryLimitPages implements Tunables.
func (t BaseTunables) MemoryLimitPages() uint64 {
	return t.MemoryPages
}

// TableLimitElements implements Tunables.
func (t BaseTunables) TableLimitElements() uint32 {
	return t.TableElements
}

// CallStackDepth implements Tunables.
func (t BaseTunables) CallStackDepth() uint32 {
	return t.StackDepth
}

// DefaultTunables returns the limits used when an engine is constructed
// without explicit tunables.
func DefaultTunables() BaseTunables {
	return BaseTunables{
		StackDepth: 1024,
	}
}
