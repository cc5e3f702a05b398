//go:build amd64

package jit

import "unsafe"

// Stencil bodies for this file are hand-assembled x86-64 machine code,
// produced the way cmd/stencilgen's encoders would: each doc comment names
// the instruction(s) and the relocation family the hole exercises. This is
// a flat, immutable table baked in at build time rather than generated by
// the toolchain at runtime.

// helperGOTSlot models a build-time-resolved GOT entry for a runtime
// helper function -- a constant pointer resolved at build time. Its
// contents are irrelevant at rest; the GOT-load relaxation in reloc.go
// only reads them when a CallHelper hole is actually patched.
var helperGOTSlot [2]uint64

func helperGOTSlotAddr() int64 {
	return int64(uintptr(unsafe.Pointer(&helperGOTSlot[0])))
}

var trampoline = StencilGroup{
	// Native and JIT calling conventions coincide on x86-64: nothing to
	// adapt, so the trampoline is a genuine zero-size, zero-hole stencil.
	Code: Stencil{},
	Data: Stencil{},
}

// fatalErrorGroup is the tail guard appended after the last uop: a single
// trap instruction with no holes, so accidental fall-through past the last
// real uop always crashes instead of running into the data half.
var fatalErrorGroup = StencilGroup{
	Code: Stencil{Body: []byte{0x0F, 0x0B}}, // ud2
	Data: Stencil{},
}

var stencilGroups = map[Opcode]*StencilGroup{
	// movabs rax, OPERAND  (48 B8 <imm64>) -- exercises the 64-bit
	// absolute family (HoleUNSIGNED) on a plain scalar load.
	OpLoadConst: {
		Code: Stencil{
			Body: []byte{0x48, 0xB8, 0, 0, 0, 0, 0, 0, 0, 0},
			Holes: []Hole{
				{Offset: 2, Kind: HoleUNSIGNED, Value: HoleOperand},
			},
		},
		Data: Stencil{},
	},

	// mov eax, EXIT_INDEX ; mov [rip+disp32], eax -- exercises the 32-bit
	// absolute family (HoleDIR32) and the plain 32-bit PC-relative family
	// (HoleREL32) against this stencil's own data half.
	OpGuardExit: {
		Code: Stencil{
			Body: []byte{
				0xB8, 0, 0, 0, 0, // mov eax, imm32
				0x89, 0x05, 0, 0, 0, 0, // mov [rip+disp32], eax
			},
			Holes: []Hole{
				{Offset: 1, Kind: HoleDIR32, Value: HoleExitIndex},
				{Offset: 7, Kind: HoleREL32, Value: HoleData},
			},
		},
		Data: Stencil{Body: make([]byte, 8)},
	},

	// jmp JUMP_TARGET (E9 <rel32>) -- exercises the 32-bit PC-relative
	// branch family against a branch target rather than a data address.
	OpJumpBackward: {
		Code: Stencil{
			Body: []byte{0xE9, 0, 0, 0, 0},
			Holes: []Hole{
				{Offset: 1, Kind: HoleREL32, Value: HoleJumpTarget, Addend: -4},
			},
		},
		Data: Stencil{},
	},

	// call qword ptr [rip+0] -- the canonical GOT-load-relaxable call;
	// Symbol carries the build-time-resolved GOT slot address since this
	// call's target isn't a per-compile runtime value.
	OpCallHelper: {
		Code: Stencil{
			Body: []byte{0xFF, 0x15, 0, 0, 0, 0},
			Holes: []Hole{
				{Offset: 2, Kind: HoleGOTPCRELX, Value: HoleZero, Symbol: helperGOTSlotAddr()},
			},
		},
		Data: Stencil{},
	},
}
