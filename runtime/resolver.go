package runtime

// Resolver supplies externs for a module's declared imports. The index
// is the import's position in declaration order; module and name are
// informational for name-aware implementations.
type Resolver interface {
	Resolve(index int, module, name string) (Extern, bool)
}

// OrderedResolver resolves imports positionally, ignoring names. Excess
// externs beyond the module's import count are silently ignored; a
// missing tail shows up as unresolved imports.
type OrderedResolver []Extern

// Resolve implements Resolver.
func (r OrderedResolver) Resolve(index int, _, _ string) (Extern, bool) {
	if index < 0 || index >= len(r) {
		return Extern{}, false
	}
	return r[index], true
}
