//go:build !linux && !darwin

package jit

import "fmt"

// No Windows (or other) page allocator is implemented: the runtime memory
// code this package grew from only ever supported Unix via mmap/mprotect;
// Windows support there existed solely in the static ELF/Mach-O/PE
// *link-time* writers, a different concern (producing a standalone binary)
// from allocating live JIT pages.

func osPageSize() int {
	return 4096
}

func osAllocate(size uintptr) ([]byte, error) {
	return nil, fmt.Errorf("jit: page allocation not supported on this platform")
}

func osFree(mem []byte) error {
	return fmt.Errorf("jit: page release not supported on this platform")
}

func osMarkExecutable(mem []byte) error {
	return fmt.Errorf("jit: page protection not supported on this platform")
}
