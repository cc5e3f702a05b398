//go:build !arm64

package jit

// flushInstructionCache is a no-op on strongly-ordered architectures where
// the CPU's own instruction fetch already sees writes through the data
// cache (x86-64). The abstraction is still invoked unconditionally from
// MarkExecutable so call sites never special-case the architecture.
func flushInstructionCache(mem []byte) {}
