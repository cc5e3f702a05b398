package jit

import (
	"fmt"
	"log"
	"unsafe"
)

// lookupStencilGroup resolves an opcode to its baked-in stencil group.
// OpStartExecutor and OpColdExit are pure markers: they reserve an
// instruction_starts slot but emit nothing.
func lookupStencilGroup(op Opcode) *StencilGroup {
	switch op {
	case OpStartExecutor, OpColdExit:
		return &StencilGroup{}
	}
	group, ok := stencilGroups[op]
	if !ok {
		panic(fmt.Sprintf("jit: no stencil group for opcode %d", op))
	}
	return group
}

func roundUp(n, align int) int {
	if align <= 0 {
		panic("jit: roundUp requires a positive alignment")
	}
	return (n + align - 1) / align * align
}

// Compile lowers trace into executable code and publishes the result on
// executor. trace[0] must be OpStartExecutor or OpColdExit (Compile panics
// otherwise, and on an empty trace), and the trace ends
// implicitly at the fatal-error tail guard Compile appends itself; callers
// never include OpFatalError explicitly.
//
// This is a two-pass pipeline: a size pass walks the trace to
// compute instruction_starts and the code/data totals, then a single
// allocation is made and an emit pass copy-and-patches every stencil into
// it before the region is marked executable.
func Compile(executor *Executor, trace []UopInstruction) error {
	length := len(trace)
	if length == 0 {
		panic("jit: Compile requires a non-empty trace")
	}
	if op := trace[0].Opcode; op != OpStartExecutor && op != OpColdExit {
		panic(fmt.Sprintf("jit: trace[0] must be OpStartExecutor or OpColdExit, got opcode %d", op))
	}

	groups := make([]*StencilGroup, length)
	// Sized length+1: instructionStarts[length] always aliases the
	// fatal-error group's start, so HoleTop (instructionStarts[1]) is
	// defined even for a single-instruction trace.
	instructionStarts := make([]int, length+1)
	var codeSize, dataSize int
	for i, inst := range trace {
		group := lookupStencilGroup(inst.Opcode)
		groups[i] = group
		instructionStarts[i] = codeSize
		codeSize += len(group.Code.Body)
		dataSize += len(group.Data.Body)
	}
	instructionStarts[length] = codeSize

	trampolineDataSize := len(trampoline.Data.Body)
	trampolineCodeSize := len(trampoline.Code.Body)
	fatalDataSize := len(fatalErrorGroup.Data.Body)
	fatalCodeSize := len(fatalErrorGroup.Code.Body)

	totalDataSize := trampolineDataSize + dataSize + fatalDataSize
	totalCodeSize := trampolineCodeSize + codeSize + fatalCodeSize
	totalSize := roundUp(totalDataSize+totalCodeSize, PageSize())

	mem, err := Allocate(uintptr(totalSize))
	if err != nil {
		return err
	}

	memBase := uintptr(unsafe.Pointer(&mem[0]))
	dataRegionOffset := totalCodeSize
	// sideEntryOffset is where the first real uop's code lands, i.e. the
	// entry point a guard-exit stub can jump to directly, skipping the
	// trampoline's native-to-JIT calling-convention adaptation.
	sideEntryOffset := trampolineCodeSize

	addr := func(offset int) uint64 { return uint64(memBase) + uint64(offset) }
	codeAddrOf := func(instructionIndex int) uint64 {
		return addr(sideEntryOffset + instructionStarts[instructionIndex])
	}

	relax := defaultRelaxation
	patches := NewPatchVector()
	patches[HoleExecutor] = uint64(uintptr(unsafe.Pointer(executor)))

	dataOff, codeOff := dataRegionOffset, 0

	// TOP during trampoline emission is the first real instruction's
	// address, i.e. code_base + trampoline.code.body_size.
	patches[HoleTop] = codeAddrOf(0)
	patches[HoleData] = addr(dataOff)
	patches[HoleCode] = addr(codeOff)
	emitGroup(mem[dataOff:dataOff+trampolineDataSize], mem[codeOff:codeOff+trampolineCodeSize],
		&trampoline, &patches, relax)
	dataOff += trampolineDataSize
	codeOff += trampolineCodeSize

	for i, inst := range trace {
		group := groups[i]
		dLen, cLen := len(group.Data.Body), len(group.Code.Body)

		// TOP during the per-uop body loop is always the first real
		// instruction's address; it never advances with i.
		patches[HoleTop] = codeAddrOf(1)
		patches[HoleData] = addr(dataOff)
		patches[HoleCode] = addr(codeOff)
		patches[HoleOparg] = uint64(inst.Oparg)
		patches[HoleOperand] = inst.Operand
		patches[HoleOperandHi] = inst.Operand >> 32
		patches[HoleOperandLo] = inst.Operand & 0xFFFFFFFF
		patches[HoleContinue] = codeAddrOf(i + 1)
		patches[HoleExitIndex] = 0
		patches[HoleErrorTarget] = 0
		patches[HoleTarget] = 0
		patches[HoleJumpTarget] = 0

		switch inst.Format {
		case FormatTarget:
			target := int(inst.Target)
			if target < 0 || target >= length {
				panic(fmt.Sprintf("jit: instruction %d: target %d out of range", i, target))
			}
			patches[HoleTarget] = codeAddrOf(target)

		case FormatExit:
			if inst.ExitIndex >= executor.ExitCount {
				panic(fmt.Sprintf("jit: instruction %d: exit index %d >= exit count %d", i, inst.ExitIndex, executor.ExitCount))
			}
			patches[HoleExitIndex] = uint64(inst.ExitIndex)
			if inst.ErrorTarget >= 0 && inst.ErrorTarget < length {
				patches[HoleErrorTarget] = codeAddrOf(inst.ErrorTarget)
			}

		case FormatJump:
			if inst.JumpTarget < 0 || inst.JumpTarget >= length {
				panic(fmt.Sprintf("jit: instruction %d: jump target %d out of range", i, inst.JumpTarget))
			}
			patches[HoleJumpTarget] = codeAddrOf(inst.JumpTarget)
			if inst.ErrorTarget >= 0 && inst.ErrorTarget < length {
				patches[HoleErrorTarget] = codeAddrOf(inst.ErrorTarget)
			}
		}

		emitGroup(mem[dataOff:dataOff+dLen], mem[codeOff:codeOff+cLen], group, &patches, relax)
		dataOff += dLen
		codeOff += cLen
	}

	// TOP during fatal-error emission is the tail guard's own base.
	patches[HoleTop] = addr(codeOff)
	patches[HoleData] = addr(dataOff)
	patches[HoleCode] = addr(codeOff)
	emitGroup(mem[dataOff:dataOff+fatalDataSize], mem[codeOff:codeOff+fatalCodeSize],
		&fatalErrorGroup, &patches, relax)

	if err := MarkExecutable(mem); err != nil {
		Free(mem)
		return err
	}

	executor.JITCode = memBase
	executor.JITSideEntry = memBase + uintptr(sideEntryOffset)
	executor.JITSize = uintptr(totalSize)
	executor.jitCodeBytes = mem
	return nil
}

// FreeExecutor releases the memory a prior Compile call published on
// executor. The fields are cleared before the release runs, not after, so a
// stale handle can never be observed pointing at memory that's mid-release
// or already gone -- a release failure is logged and does not propagate.
func FreeExecutor(executor *Executor) {
	mem := executor.jitCodeBytes
	if mem == nil {
		return
	}
	executor.jitCodeBytes = nil
	executor.JITCode = 0
	executor.JITSideEntry = 0
	executor.JITSize = 0
	if err := Free(mem); err != nil {
		log.Printf("jit: %v", err)
	}
}
