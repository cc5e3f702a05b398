//go:build arm64

package jit

import "unsafe"

// Stencil bodies for this file are hand-assembled AArch64 machine code; each
// doc comment names the instruction(s) and the relocation family the hole
// exercises. See stencils_table_amd64.go for the equivalent x86-64 table.

var helperGOTSlot [2]uint64

func helperGOTSlotAddr() int64 {
	return int64(uintptr(unsafe.Pointer(&helperGOTSlot[0])))
}

var trampoline = StencilGroup{
	Code: Stencil{},
	Data: Stencil{},
}

// fatalErrorGroup traps on fall-through past the last real uop.
var fatalErrorGroup = StencilGroup{
	Code: Stencil{Body: []byte{0x20, 0x00, 0x20, 0xD4}}, // brk #1
	Data: Stencil{},
}

var stencilGroups = map[Opcode]*StencilGroup{
	// movz x0, OPERAND[0:16] ; movk x0, OPERAND[16:32], lsl #16 ;
	// movk x0, OPERAND[32:48], lsl #32 ; movk x0, OPERAND[48:64], lsl #48
	// -- the full MOVZ/MOVK chain, exercising every G0..G3 hole in order.
	OpLoadConst: {
		Code: Stencil{
			Body: []byte{
				0x00, 0x00, 0x80, 0xD2, // movz x0, #0
				0x00, 0x00, 0xA0, 0xF2, // movk x0, #0, lsl #16
				0x00, 0x00, 0xC0, 0xF2, // movk x0, #0, lsl #32
				0x00, 0x00, 0xE0, 0xF2, // movk x0, #0, lsl #48
			},
			Holes: []Hole{
				{Offset: 0, Kind: HoleMOVWUABSG0NC, Value: HoleOperand},
				{Offset: 4, Kind: HoleMOVWUABSG1NC, Value: HoleOperand},
				{Offset: 8, Kind: HoleMOVWUABSG2NC, Value: HoleOperand},
				{Offset: 12, Kind: HoleMOVWUABSG3, Value: HoleOperand},
			},
		},
		Data: Stencil{},
	},

	// adrp x1, DATA ; add x1, x1, #DATA@lo12 ; movz x0, EXIT_INDEX ;
	// str w0, [x1] -- exercises the ADRP page-of family paired with a
	// plain (non-GOT) low-12-bits add, plus a single MOVZ.
	OpGuardExit: {
		Code: Stencil{
			Body: []byte{
				0x01, 0x00, 0x00, 0x90, // adrp x1, #0
				0x21, 0x00, 0x00, 0x91, // add x1, x1, #0
				0x00, 0x00, 0x80, 0xD2, // movz x0, #0
				0x20, 0x00, 0x00, 0xB9, // str w0, [x1]
			},
			Holes: []Hole{
				{Offset: 0, Kind: HolePAGE21, Value: HoleData},
				{Offset: 4, Kind: HoleADDABSLO12NC, Value: HoleData},
				{Offset: 8, Kind: HoleMOVWUABSG0NC, Value: HoleExitIndex},
			},
		},
		Data: Stencil{Body: make([]byte, 8)},
	},

	// b JUMP_TARGET -- the 26-bit branch family.
	OpJumpBackward: {
		Code: Stencil{
			Body: []byte{0x00, 0x00, 0x00, 0x14},
			Holes: []Hole{
				{Offset: 0, Kind: HoleJUMP26, Value: HoleJumpTarget},
			},
		},
		Data: Stencil{},
	},

	// adrp x2, :got:helper ; ldr x2, [x2, #:got_lo12:helper] ; blr x2
	// -- the ADRP-GOT-page / LD64-GOT-LO12 pair that reloc.go's
	// relaxARM64AdrpLdr collapses into a direct MOVZ/MOVK load when the
	// resolved GOT slot is in range.
	OpCallHelper: {
		Code: Stencil{
			Body: []byte{
				0x02, 0x00, 0x00, 0x90, // adrp x2, #0
				0x42, 0x00, 0x40, 0xF9, // ldr x2, [x2, #0]
				0x40, 0x00, 0x3F, 0xD6, // blr x2
			},
			Holes: []Hole{
				{Offset: 0, Kind: HoleADRGOTPAGE, Value: HoleZero, Symbol: helperGOTSlotAddr()},
				{Offset: 4, Kind: HoleLD64GOTLO12NC, Value: HoleZero, Symbol: helperGOTSlotAddr()},
			},
		},
		Data: Stencil{},
	},
}
