package jit

// Opcodes returns every opcode with a baked-in stencil group, for tooling
// that wants to enumerate or sanity-check the table (cmd/stencilgen)
// without reaching into an unexported map.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, len(stencilGroups))
	for op := range stencilGroups {
		ops = append(ops, op)
	}
	return ops
}

// StencilGroupFor exposes a baked-in group for inspection tooling. Returns
// nil if op has none.
func StencilGroupFor(op Opcode) *StencilGroup {
	return stencilGroups[op]
}

// Trampoline and FatalErrorGroup expose the two groups that aren't keyed by
// opcode.
func Trampoline() StencilGroup      { return trampoline }
func FatalErrorGroup() StencilGroup { return fatalErrorGroup }
