package jit

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Relaxation controls the two opportunistic rewrites the relocation engine
// may perform. Both default to enabled; either can be disabled via the
// UOPJIT_DISABLE_X86_RELAX / UOPJIT_DISABLE_ARM64_RELAX environment
// variables (see config.go), to make the unrelaxed encoding reproducible
// for debugging.
type Relaxation struct {
	DisableX86GOTLoad   bool
	DisableARM64AdrpLdr bool
}

// AArch64 instruction-class predicates, ported from jit.c's IS_AARCH64_*
// macros. Used both to assert a hole lands on the instruction shape it
// expects and to decide whether the ADRP+LDR relaxation pair applies.
func isAArch64AddOrSub(instr uint32) bool { return instr&0x11C00000 == 0x11000000 }
func isAArch64Adrp(instr uint32) bool     { return instr&0x9F000000 == 0x90000000 }
func isAArch64Branch(instr uint32) bool   { return instr&0x7C000000 == 0x14000000 }
func isAArch64LdrOrStr(instr uint32) bool { return instr&0x3B000000 == 0x39000000 }
func isAArch64Mov(instr uint32) bool      { return instr&0x9F800000 == 0x92800000 }

func loadU32(base []byte, off int) uint32 { return binary.LittleEndian.Uint32(base[off : off+4]) }
func storeU32(base []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(base[off:off+4], v)
}
func loadU64(base []byte, off int) uint64 { return binary.LittleEndian.Uint64(base[off : off+8]) }
func storeU64(base []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(base[off:off+8], v)
}

// readMemU64 dereferences a live runtime pointer (e.g. a GOT slot) rather
// than bytes inside the stencil buffer being patched. The spec's GOT
// relaxations read the *contents* of an already-resolved GOT entry, which
// lives outside the region under emission.
func readMemU64(addr uint64) uint64 {
	return *(*uint64)(unsafe.Pointer(uintptr(addr)))
}

// patchStencil fills every hole of a stencil body already copied to base,
// given the base's runtime address and the patch vector. It mutates code in
// place and panics on any relocation-kind/bounds invariant violation --
// these are programming errors, not recoverable runtime conditions.
func patchStencil(code []byte, runtimeBase uint64, holes []Hole, patches *PatchVector, relax Relaxation) {
	for i := 0; i < len(holes); i++ {
		hole := holes[i]
		location := runtimeBase + uint64(hole.Offset)
		value := hole.resolve(patches)

		switch hole.Kind {
		case HoleDIR32:
			if value >= uint64(1)<<32 {
				panic(fmt.Sprintf("jit: DIR32 value out of range: %#x", value))
			}
			storeU32(code, hole.Offset, uint32(value))

		case HoleUNSIGNED, HoleABS64, HoleX8664_64:
			storeU64(code, hole.Offset, value)

		case HoleREL32, HolePC32, HoleSIGNED, HoleBRANCH,
			HoleGOTPCREL, HoleGOTPCRELX, HoleREXGOTPCRELX, HoleRELOCGOT, HoleRELOCGOTLOAD:
			if hole.Kind.gotRelaxable() && !relax.DisableX86GOTLoad {
				if relaxed, ok := relaxGOTLoad(code, hole.Offset, location, value); ok {
					value = relaxed
				}
			}
			encodeRel32(code, hole.Offset, location, value)

		case HoleBRANCH26, HoleCALL26, HoleJUMP26:
			instr := loadU32(code, hole.Offset)
			if !isAArch64Branch(instr) {
				panic("jit: BRANCH26-family hole does not target a branch instruction")
			}
			disp := int64(value) - int64(location)
			if disp < -(1<<27) || disp >= (1<<27) {
				panic(fmt.Sprintf("jit: BRANCH26 displacement out of range: %d", disp))
			}
			if disp&0x3 != 0 {
				panic("jit: BRANCH26 displacement not 4-byte aligned")
			}
			instr32 := loadU32(code, hole.Offset)
			SetBits(&instr32, 0, uint64(disp), 2, 26)
			storeU32(code, hole.Offset, instr32)

		case HoleMOVWUABSG0NC, HoleMOVWUABSG1NC, HoleMOVWUABSG2NC, HoleMOVWUABSG3:
			instr := loadU32(code, hole.Offset)
			if !isAArch64Mov(instr) {
				panic("jit: MOVW_UABS hole does not target a MOVZ/MOVK instruction")
			}
			chain := map[HoleKind]uint8{
				HoleMOVWUABSG0NC: 0, HoleMOVWUABSG1NC: 1, HoleMOVWUABSG2NC: 2, HoleMOVWUABSG3: 3,
			}[hole.Kind]
			if got := GetBits(uint64(instr), 21, 2); got != uint32(chain) {
				panic(fmt.Sprintf("jit: MOVW_UABS hw field mismatch: want %d, got %d", chain, got))
			}
			SetBits(&instr, 5, value, 16*chain, 16)
			storeU32(code, hole.Offset, instr)

		case HolePAGE21, HolePAGEBASEREL21, HoleADRGOTPAGE, HoleADRPRELPGHI21:
			if hole.Kind.isAdrpGotPage() && !relax.DisableARM64AdrpLdr && i+1 < len(holes) {
				next := holes[i+1]
				if next.Kind.isGotLo12() &&
					next.Offset == hole.Offset+4 &&
					next.Symbol == hole.Symbol && next.Addend == hole.Addend && next.Value == hole.Value {
					if relaxARM64AdrpLdr(code, hole.Offset, location, value) {
						i++ // skip the paired low-12 hole, already consumed
						continue
					}
				}
			}
			instr := loadU32(code, hole.Offset)
			if !isAArch64Adrp(instr) {
				panic("jit: PAGE21-family hole does not target an ADRP instruction")
			}
			pageDelta := int64(value>>12) - int64(location>>12)
			if pageDelta < -(1<<20) || pageDelta >= (1<<20) {
				panic(fmt.Sprintf("jit: PAGE21 page delta out of range: %d", pageDelta))
			}
			SetBits(&instr, 29, uint64(pageDelta), 0, 2)
			SetBits(&instr, 5, uint64(pageDelta), 2, 19)
			storeU32(code, hole.Offset, instr)

		case HolePAGEOFF12, HoleGOTLOADPAGEOFF12, HolePAGEOFFSET12A, HolePAGEOFFSET12L, HoleADDABSLO12NC, HoleLD64GOTLO12NC:
			instr := loadU32(code, hole.Offset)
			if !isAArch64LdrOrStr(instr) && !isAArch64AddOrSub(instr) {
				panic("jit: PAGEOFF12-family hole does not target an LDR/STR/ADD/SUB instruction")
			}
			var shift uint8
			if isAArch64LdrOrStr(instr) {
				shift = uint8(GetBits(uint64(instr), 30, 2))
			}
			low12 := GetBits(value, 0, 12)
			if GetBits(uint64(low12), 0, shift) != 0 {
				panic("jit: PAGEOFF12 low bits not zero for implicit shift")
			}
			SetBits(&instr, 10, uint64(low12), shift, 12)
			storeU32(code, hole.Offset, instr)

		default:
			panic(fmt.Sprintf("jit: unknown relocation kind %d", hole.Kind))
		}
	}
}

// encodeRel32 writes value-location as a signed 32-bit displacement,
// asserting it fits. Shared tail of every x86-64 32-bit PC-relative kind.
func encodeRel32(code []byte, offset int, location, value uint64) {
	disp := int64(value) - int64(location)
	if disp < -(int64(1) << 31) || disp >= (int64(1) << 31) {
		panic(fmt.Sprintf("jit: REL32 displacement out of range: %d", disp))
	}
	storeU32(code, offset, uint32(int32(disp)))
}

// relaxGOTLoad implements the x86-64 GOT-load relaxation: a MOV/CALL/JMP
// through a GOT slot is rewritten to a direct LEA/CALL/JMP when the real
// target's address fits the tighter 32-bit-displacement immediate range.
// Returns the (possibly) relaxed value and whether a rewrite happened.
//
// Grounded on jit.c's patch(): loc[-2] and loc[-1] hold the two bytes
// immediately before the displacement this hole is patching, which is
// where the opcode being relaxed lives -- true only because these stencils
// always place the 4-byte displacement exactly two bytes after that
// opcode.
func relaxGOTLoad(code []byte, offset int, location, value uint64) (uint64, bool) {
	relaxed := readMemU64(value+4) - 4
	disp := int64(relaxed) - int64(location)
	if disp < -(int64(1)<<31) || disp+1 >= int64(1)<<31 {
		return value, false
	}
	if offset < 2 {
		return value, false
	}
	switch {
	case code[offset-2] == 0x8B:
		// mov reg, qword ptr [rip+disp32] -> lea reg, [rip+disp32]
		code[offset-2] = 0x8D
	case code[offset-2] == 0xFF && code[offset-1] == 0x15:
		// call qword ptr [rip+disp32] -> nop; call disp32
		code[offset-2] = 0x90
		code[offset-1] = 0xE8
	case code[offset-2] == 0xFF && code[offset-1] == 0x25:
		// jmp qword ptr [rip+disp32] -> nop; jmp disp32
		code[offset-2] = 0x90
		code[offset-1] = 0xE9
	default:
		return value, false
	}
	return relaxed, true
}

// relaxARM64AdrpLdr implements the AArch64 ADRP+LDR GOT relaxation: an
// `adrp reg, page; ldr reg, [reg, #off]` pair loading a GOT slot is
// collapsed into a direct MOVZ/MOVK chain, a literal-pool LDR, or left
// alone, whichever the GOT slot's actual contents allow.
func relaxARM64AdrpLdr(code []byte, offset int, location, value uint64) bool {
	instr0 := loadU32(code, offset)
	instr1 := loadU32(code, offset+4)
	reg := GetBits(uint64(instr0), 0, 5)
	if !isAArch64LdrOrStr(instr1) {
		return false
	}
	if GetBits(uint64(instr1), 0, 5) != reg || GetBits(uint64(instr1), 5, 5) != reg {
		return false
	}
	relaxed := readMemU64(value)
	switch {
	case relaxed < uint64(1)<<16:
		// movz reg, #relaxed; nop
		movz := uint32(0xD2800000) | (GetBits(relaxed, 0, 16) << 5) | reg
		storeU32(code, offset, movz)
		storeU32(code, offset+4, 0xD503201F)
		return true
	case relaxed < uint64(1)<<32:
		// movz reg, #relaxed[0:16]; movk reg, #relaxed[16:32], lsl 16
		movz := uint32(0xD2800000) | (GetBits(relaxed, 0, 16) << 5) | reg
		movk := uint32(0xF2A00000) | (GetBits(relaxed, 16, 16) << 5) | reg
		storeU32(code, offset, movz)
		storeU32(code, offset+4, movk)
		return true
	default:
		pcRel := int64(value) - int64(location)
		if pcRel&0x3 == 0 && pcRel >= -(int64(1)<<19) && pcRel < (int64(1)<<19) {
			ldr := uint32(0x58000000) | (GetBits(uint64(pcRel>>2), 0, 19) << 5) | reg
			storeU32(code, offset, ldr)
			storeU32(code, offset+4, 0xD503201F)
			return true
		}
		return false
	}
}
