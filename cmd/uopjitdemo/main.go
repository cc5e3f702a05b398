// Command uopjitdemo compiles a small, hand-built uop trace through the
// internal/jit package and reports the addresses and sizes it publishes.
//
// It exists to give the copy-and-patch pipeline something to run end to end
// outside of the test suite -- the traces it builds are not meant to be
// interesting programs, just exercises of each stencil in turn.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"unsafe"

	"github.com/tinylang/uopjit/internal/jit"
)

const versionString = "uopjitdemo 0.0.1"

func main() {
	var scenario = flag.String("trace", "load-const", "demo trace to compile (load-const, jump-backward, guard-exit, call-helper)")
	var dumpPath = flag.String("o", "", "if set, write the compiled code bytes to this file")
	flag.Parse()

	fmt.Fprintf(os.Stderr, "----=[ %s ]=----\n", versionString)

	trace, exitCount, err := buildTrace(*scenario)
	if err != nil {
		log.Fatalln(err)
	}

	executor := &jit.Executor{ExitCount: exitCount}
	fmt.Fprintf(os.Stderr, "-> compiling %d-instruction trace (%q)\n", len(trace), *scenario)
	if err := jit.Compile(executor, trace); err != nil {
		log.Fatalln(err)
	}
	defer jit.FreeExecutor(executor)

	fmt.Fprintf(os.Stderr, "jit_code        = %#x\n", executor.JITCode)
	fmt.Fprintf(os.Stderr, "jit_side_entry  = %#x\n", executor.JITSideEntry)
	fmt.Fprintf(os.Stderr, "jit_size        = %d bytes (page size %d)\n", executor.JITSize, jit.PageSize())

	if *dumpPath != "" {
		if err := dumpCode(executor, *dumpPath); err != nil {
			log.Fatalln(err)
		}
		fmt.Fprintf(os.Stderr, "-> wrote code bytes: %s\n", *dumpPath)
	}
}

func buildTrace(scenario string) ([]jit.UopInstruction, uint32, error) {
	switch scenario {
	case "load-const":
		return []jit.UopInstruction{
			{Opcode: jit.OpStartExecutor},
			{Opcode: jit.OpLoadConst, Operand: 0x1122334455667788, Format: jit.FormatTarget, Target: 1},
		}, 0, nil

	case "jump-backward":
		return []jit.UopInstruction{
			{Opcode: jit.OpStartExecutor},
			{Opcode: jit.OpLoadConst, Operand: 1, Format: jit.FormatTarget, Target: 2},
			{Opcode: jit.OpJumpBackward, Format: jit.FormatJump, JumpTarget: 1},
		}, 0, nil

	case "guard-exit":
		return []jit.UopInstruction{
			{Opcode: jit.OpStartExecutor},
			{Opcode: jit.OpGuardExit, Format: jit.FormatExit, ExitIndex: 0},
			{Opcode: jit.OpLoadConst, Operand: 1, Format: jit.FormatTarget, Target: 2},
		}, 1, nil

	case "call-helper":
		return []jit.UopInstruction{
			{Opcode: jit.OpStartExecutor},
			{Opcode: jit.OpCallHelper, Format: jit.FormatTarget, Target: 1},
		}, 0, nil

	default:
		return nil, 0, fmt.Errorf("unknown demo trace %q", scenario)
	}
}

// dumpCode reads the published, already-executable region back as bytes for
// inspection (e.g. disassembling the demo output with objdump). Safe only
// because Compile has already returned successfully: JITCode/JITSize are
// only valid together, and only while the executor has not been freed.
func dumpCode(executor *jit.Executor, path string) error {
	code := unsafe.Slice((*byte)(unsafe.Pointer(executor.JITCode)), int(executor.JITSize))
	return os.WriteFile(path, code, 0o644)
}
