// Command stencilgen inspects the stencil tables baked into internal/jit
// and sanity-checks them: every hole must land inside its stencil's body,
// with enough room for the width its kind writes. It doesn't generate
// anything at build time -- the tables are committed Go source, hand-encoded
// the same way a build-time stencil generator's output would be. This is
// the offline check such a generator would run on its own output before
// shipping it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tinylang/uopjit/internal/jit"
)

const versionString = "stencilgen 0.0.1"

func main() {
	var dump = flag.Bool("dump", false, "print each stencil's body as a hex listing")
	flag.Parse()

	fmt.Fprintf(os.Stderr, "----=[ %s ]=----\n", versionString)

	failed := false
	check := func(label string, group jit.StencilGroup) {
		if err := checkGroup(label, group, *dump); err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", label, err)
			failed = true
			return
		}
		fmt.Fprintf(os.Stderr, "ok   %s (code %d bytes, %d holes; data %d bytes, %d holes)\n",
			label, len(group.Code.Body), len(group.Code.Holes), len(group.Data.Body), len(group.Data.Holes))
	}

	check("trampoline", jit.Trampoline())
	check("fatal-error", jit.FatalErrorGroup())
	for _, op := range jit.Opcodes() {
		check(opcodeName(op), *jit.StencilGroupFor(op))
	}

	if failed {
		log.Fatalln("one or more stencil groups failed validation")
	}
	fmt.Fprintln(os.Stderr, "-> all stencil groups are well-formed")
}

func checkGroup(label string, group jit.StencilGroup, dump bool) error {
	if err := checkStencil(label+".code", group.Code); err != nil {
		return err
	}
	if err := checkStencil(label+".data", group.Data); err != nil {
		return err
	}
	if dump {
		fmt.Fprintf(os.Stderr, "%s.code: % x\n", label, group.Code.Body)
		fmt.Fprintf(os.Stderr, "%s.data: % x\n", label, group.Data.Body)
	}
	return nil
}

func checkStencil(label string, stencil jit.Stencil) error {
	for i, hole := range stencil.Holes {
		width := holeWidth(hole.Kind)
		if hole.Offset < 0 || hole.Offset+width > len(stencil.Body) {
			return fmt.Errorf("%s: hole %d (kind %v, offset %d, width %d) overruns a %d-byte body",
				label, i, hole.Kind, hole.Offset, width, len(stencil.Body))
		}
	}
	return nil
}

// holeWidth reports how many bytes a hole of this kind writes, for bounds
// checking only -- the authoritative patching logic lives in reloc.go.
func holeWidth(kind jit.HoleKind) int {
	switch kind {
	case jit.HoleUNSIGNED, jit.HoleABS64, jit.HoleX8664_64:
		return 8
	default:
		return 4
	}
}

func opcodeName(op jit.Opcode) string {
	switch op {
	case jit.OpLoadConst:
		return "UOP_LOAD_CONST"
	case jit.OpGuardExit:
		return "UOP_GUARD_EXIT"
	case jit.OpJumpBackward:
		return "UOP_JUMP_BACKWARD"
	case jit.OpCallHelper:
		return "UOP_CALL_HELPER"
	default:
		return fmt.Sprintf("opcode(%d)", op)
	}
}
