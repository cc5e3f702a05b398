package jit

// Stencil is a precompiled, position-independent byte template with a list
// of unresolved holes. Immutable after build time; the only thing done to
// one at emission time is copying its Body and patching its Holes.
type Stencil struct {
	Body  []byte
	Holes []Hole
}

// StencilGroup pairs a stencil's code half and data half. Every uop opcode
// maps to exactly one group; the trampoline and fatal-error groups are not
// tied to an opcode.
type StencilGroup struct {
	Code Stencil
	Data Stencil
}

// emitGroup copies group's data body then code body to their destinations
// (patches[HoleData] and patches[HoleCode] respectively) and patches both.
// Order is data-then-code because code-stencil holes may target
// data-stencil addresses; both finish before execute permission is granted,
// so the order is only observable by which buffer a cross-referencing hole
// sees already-written.
func emitGroup(dataDst, codeDst []byte, group *StencilGroup, patches *PatchVector, relax Relaxation) {
	copyAndPatch(dataDst, patches[HoleData], &group.Data, patches, relax)
	copyAndPatch(codeDst, patches[HoleCode], &group.Code, patches, relax)
}

func copyAndPatch(dst []byte, base uint64, stencil *Stencil, patches *PatchVector, relax Relaxation) {
	copy(dst, stencil.Body)
	patchStencil(dst[:len(stencil.Body)], base, stencil.Holes, patches, relax)
}
