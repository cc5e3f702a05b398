package jit

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

func TestPatchDIR32(t *testing.T) {
	code := []byte{0xB8, 0, 0, 0, 0} // mov eax, imm32
	hole := Hole{Offset: 1, Kind: HoleDIR32, Value: HoleZero, Symbol: 0x12345678}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})

	if got := binary.LittleEndian.Uint32(code[1:5]); got != 0x12345678 {
		t.Fatalf("DIR32 patched value = %#x, want %#x", got, 0x12345678)
	}
}

func TestPatchDIR32OutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for DIR32 value exceeding 32 bits")
		}
	}()
	code := make([]byte, 4)
	hole := Hole{Offset: 0, Kind: HoleDIR32, Value: HoleZero, Symbol: int64(1) << 32}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})
}

func TestPatchUnsigned64(t *testing.T) {
	code := make([]byte, 8)
	const want = 0x1122334455667788
	hole := Hole{Offset: 0, Kind: HoleUNSIGNED, Value: HoleZero, Symbol: want}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})

	if got := binary.LittleEndian.Uint64(code); got != want {
		t.Fatalf("UNSIGNED patched value = %#x, want %#x", got, uint64(want))
	}
}

func TestPatchREL32(t *testing.T) {
	code := make([]byte, 8)
	hole := Hole{Offset: 4, Kind: HoleREL32, Value: HoleZero, Symbol: 0x2000}
	patches := NewPatchVector()
	patchStencil(code, 0x1000, []Hole{hole}, &patches, Relaxation{DisableX86GOTLoad: true})

	want := int32(0x2000 - (0x1000 + 4))
	if got := int32(binary.LittleEndian.Uint32(code[4:8])); got != want {
		t.Fatalf("REL32 displacement = %d, want %d", got, want)
	}
}

func TestPatchREL32OutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for REL32 displacement exceeding 32 bits")
		}
	}()
	code := make([]byte, 8)
	hole := Hole{Offset: 4, Kind: HoleREL32, Value: HoleZero, Symbol: int64(1) << 40}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{DisableX86GOTLoad: true})
}

func TestGOTLoadRelaxationCollapsesCallToDirect(t *testing.T) {
	code := make([]byte, 10)
	code[4], code[5] = 0xFF, 0x15 // call qword ptr [rip+disp32]

	var gotBuf [16]byte
	const wantTarget = uint64(0x4000)
	binary.LittleEndian.PutUint64(gotBuf[4:12], wantTarget+4)
	gotAddr := int64(uintptr(unsafe.Pointer(&gotBuf[0])))

	hole := Hole{Offset: 6, Kind: HoleGOTPCRELX, Value: HoleZero, Symbol: gotAddr}
	patches := NewPatchVector()
	const runtimeBase = uint64(0x1000)
	patchStencil(code, runtimeBase, []Hole{hole}, &patches, Relaxation{})

	if code[4] != 0x90 || code[5] != 0xE8 {
		t.Fatalf("call-through-GOT was not relaxed to a direct call: % x", code[4:6])
	}
	location := runtimeBase + 6
	wantDisp := int32(int64(wantTarget) - int64(location))
	if got := int32(binary.LittleEndian.Uint32(code[6:10])); got != wantDisp {
		t.Fatalf("relaxed call displacement = %d, want %d", got, wantDisp)
	}
}

func TestGOTLoadRelaxationSkippedWhenDisabled(t *testing.T) {
	code := make([]byte, 10)
	code[4], code[5] = 0xFF, 0x15

	// Disabled relaxation never dereferences Symbol, so it need not be a
	// live pointer here -- just a small displacement-friendly constant.
	const gotSlotAddr = int64(0x1100)
	hole := Hole{Offset: 6, Kind: HoleGOTPCRELX, Value: HoleZero, Symbol: gotSlotAddr}
	patches := NewPatchVector()
	patchStencil(code, 0x1000, []Hole{hole}, &patches, Relaxation{DisableX86GOTLoad: true})

	if code[4] == 0x90 {
		t.Fatal("GOT load was relaxed even though DisableX86GOTLoad was set")
	}
	wantDisp := int32(gotSlotAddr - 0x1006)
	if got := int32(binary.LittleEndian.Uint32(code[6:10])); got != wantDisp {
		t.Fatalf("unrelaxed displacement = %d, want %d", got, wantDisp)
	}
}

func TestPatchBranch26AlignmentPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unaligned BRANCH26 displacement")
		}
	}()
	code := []byte{0x00, 0x00, 0x00, 0x14} // b #0
	hole := Hole{Offset: 0, Kind: HoleBRANCH26, Value: HoleZero, Symbol: 1}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})
}

func TestPatchBranch26(t *testing.T) {
	code := []byte{0x00, 0x00, 0x00, 0x14} // b #0
	hole := Hole{Offset: 0, Kind: HoleBRANCH26, Value: HoleZero, Symbol: 8}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})

	want := uint32(0x14000000) | uint32(8>>2)
	if got := binary.LittleEndian.Uint32(code); got != want {
		t.Fatalf("BRANCH26 patched instruction = %#x, want %#x", got, want)
	}
}

func TestPatchBranch26OutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for BRANCH26 displacement exceeding 27 bits")
		}
	}()
	code := []byte{0x00, 0x00, 0x00, 0x14} // b #0
	hole := Hole{Offset: 0, Kind: HoleBRANCH26, Value: HoleZero, Symbol: int64(1) << 28}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})
}

func TestPatchBranch26RejectsNonBranchInstruction(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when BRANCH26 hole targets a non-branch instruction")
		}
	}()
	code := []byte{0x20, 0x00, 0x00, 0xB9} // str w0, [x1] -- not a branch
	hole := Hole{Offset: 0, Kind: HoleBRANCH26, Value: HoleZero, Symbol: 8}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})
}

func TestPatchMovwUabsChain(t *testing.T) {
	code := []byte{
		0x00, 0x00, 0x80, 0xD2, // movz x0, #0
		0x00, 0x00, 0xA0, 0xF2, // movk x0, #0, lsl #16
		0x00, 0x00, 0xC0, 0xF2, // movk x0, #0, lsl #32
		0x00, 0x00, 0xE0, 0xF2, // movk x0, #0, lsl #48
	}
	const operand = uint64(0x1122334455667788)
	holes := []Hole{
		{Offset: 0, Kind: HoleMOVWUABSG0NC, Value: HoleZero, Symbol: int64(operand)},
		{Offset: 4, Kind: HoleMOVWUABSG1NC, Value: HoleZero, Symbol: int64(operand)},
		{Offset: 8, Kind: HoleMOVWUABSG2NC, Value: HoleZero, Symbol: int64(operand)},
		{Offset: 12, Kind: HoleMOVWUABSG3, Value: HoleZero, Symbol: int64(operand)},
	}
	patches := NewPatchVector()
	patchStencil(code, 0, holes, &patches, Relaxation{})

	for i, wantChunk := range []uint64{0x8877, 0x6655, 0x4433, 0x2211} {
		instr := binary.LittleEndian.Uint32(code[i*4 : i*4+4])
		if got := GetBits(uint64(instr), 5, 16); got != uint32(wantChunk) {
			t.Fatalf("chain link %d = %#x, want %#x", i, got, wantChunk)
		}
	}
}

func TestPatchMovwUabsHwMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for hw field mismatch")
		}
	}()
	code := []byte{0x00, 0x00, 0x80, 0xD2} // movz x0, #0 (hw=0)
	hole := Hole{Offset: 0, Kind: HoleMOVWUABSG1NC, Value: HoleZero, Symbol: 1}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})
}

func TestPatchPage21AndLo12(t *testing.T) {
	code := []byte{
		0x01, 0x00, 0x00, 0x90, // adrp x1, #0
		0x21, 0x00, 0x00, 0x91, // add x1, x1, #0
	}
	const dataAddr = uint64(0x20003FF0)
	const runtimeBase = uint64(0x10001000)
	holes := []Hole{
		{Offset: 0, Kind: HolePAGE21, Value: HoleZero, Symbol: int64(dataAddr)},
		{Offset: 4, Kind: HoleADDABSLO12NC, Value: HoleZero, Symbol: int64(dataAddr)},
	}
	patches := NewPatchVector()
	patchStencil(code, runtimeBase, holes, &patches, Relaxation{})

	adrp := binary.LittleEndian.Uint32(code[0:4])
	wantPageDelta := uint32((dataAddr >> 12) - (runtimeBase >> 12))
	gotPageDelta := GetBits(uint64(adrp), 29, 2) | (GetBits(uint64(adrp), 5, 19) << 2)
	if gotPageDelta != wantPageDelta&0x1FFFFF {
		t.Fatalf("ADRP page delta = %#x, want %#x", gotPageDelta, wantPageDelta&0x1FFFFF)
	}

	add := binary.LittleEndian.Uint32(code[4:8])
	if got := GetBits(uint64(add), 10, 12); got != uint32(dataAddr&0xFFF) {
		t.Fatalf("ADD low12 = %#x, want %#x", got, dataAddr&0xFFF)
	}
}

func TestPatchPage21OutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for PAGE21 page delta exceeding 21 bits")
		}
	}()
	code := []byte{0x01, 0x00, 0x00, 0x90} // adrp x1, #0
	hole := Hole{Offset: 0, Kind: HolePAGE21, Value: HoleZero, Symbol: int64(1) << 40}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})
}

func TestPatchPageOff12MisalignedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for PAGEOFF12 value not aligned to its implicit shift")
		}
	}()
	code := []byte{0x42, 0x00, 0x40, 0xF9} // ldr x2, [x2, #0] -- 8-byte access, implicit shift 3
	hole := Hole{Offset: 0, Kind: HoleADDABSLO12NC, Value: HoleZero, Symbol: 0x1001}
	patches := NewPatchVector()
	patchStencil(code, 0, []Hole{hole}, &patches, Relaxation{})
}

func TestARM64AdrpLdrRelaxationToMovz(t *testing.T) {
	code := []byte{
		0x02, 0x00, 0x00, 0x90, // adrp x2, #0
		0x42, 0x00, 0x40, 0xF9, // ldr x2, [x2, #0]
	}
	var gotBuf [8]byte
	const relaxedTarget = uint64(0x1234)
	binary.LittleEndian.PutUint64(gotBuf[:], relaxedTarget)
	gotAddr := int64(uintptr(unsafe.Pointer(&gotBuf[0])))

	holes := []Hole{
		{Offset: 0, Kind: HoleADRGOTPAGE, Value: HoleZero, Symbol: gotAddr},
		{Offset: 4, Kind: HoleLD64GOTLO12NC, Value: HoleZero, Symbol: gotAddr},
	}
	patches := NewPatchVector()
	patchStencil(code, 0x1000, holes, &patches, Relaxation{})

	wantMovz := uint32(0xD2800000) | (uint32(relaxedTarget) << 5) | 2
	if got := binary.LittleEndian.Uint32(code[0:4]); got != wantMovz {
		t.Fatalf("relaxed movz = %#x, want %#x", got, wantMovz)
	}
	if got := binary.LittleEndian.Uint32(code[4:8]); got != 0xD503201F {
		t.Fatalf("second slot was not replaced with a nop: %#x", got)
	}
}

func TestARM64AdrpLdrRelaxationSkippedWhenDisabled(t *testing.T) {
	code := []byte{
		0x02, 0x00, 0x00, 0x90, // adrp x2, #0
		0x42, 0x00, 0x40, 0xF9, // ldr x2, [x2, #0]
	}
	// Disabled relaxation never dereferences Symbol, so a small
	// same-page-range constant (rather than a live pointer) is enough to
	// exercise the ordinary ADRP patch path that follows.
	const runtimeBase = uint64(0x10000)
	const gotSlotAddr = int64(0x13000)
	holes := []Hole{
		{Offset: 0, Kind: HoleADRGOTPAGE, Value: HoleZero, Symbol: gotSlotAddr},
		{Offset: 4, Kind: HoleLD64GOTLO12NC, Value: HoleZero, Symbol: gotSlotAddr},
	}
	patches := NewPatchVector()
	patchStencil(code, runtimeBase, holes, &patches, Relaxation{DisableARM64AdrpLdr: true})

	adrp := binary.LittleEndian.Uint32(code[0:4])
	if !isAArch64Adrp(adrp) {
		t.Fatal("ADRP instruction was relaxed away despite DisableARM64AdrpLdr")
	}
}
