//go:build linux || darwin

package jit

import "golang.org/x/sys/unix"

// Wraps the same three calls (Mmap/Mprotect/Munmap) from golang.org/x/sys/unix
// that a JIT memory manager needs; the hotreload.go code this allocator was
// adapted from used the raw syscall package directly.

func osPageSize() int {
	return unix.Getpagesize()
}

func osAllocate(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

func osFree(mem []byte) error {
	return unix.Munmap(mem)
}

func osMarkExecutable(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}
