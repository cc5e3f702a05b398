package jit

import "fmt"

// jitError wraps an OS error the way hotreload.go's jit_error convention
// does: a single warning category tagged "jit: unable to <operation> (<cause>)"
// covering allocation, permission-change, i-cache-flush, and release
// failures.
func jitError(op string, cause error) error {
	return fmt.Errorf("jit: unable to %s (%w)", op, cause)
}

// PageSize returns the page size used for rounding allocations, overridable
// via UOPJIT_PAGE_SIZE for deterministic tests.
func PageSize() int {
	if pageSizeOverride > 0 {
		return pageSizeOverride
	}
	return osPageSize()
}

// Allocate reserves and commits size bytes (a positive multiple of
// PageSize()) as read+write anonymous memory. OS failure is reported as a
// jitError; the allocator never aborts the process on it. A size that is not
// a positive multiple of PageSize() is a caller error and panics.
func Allocate(size uintptr) ([]byte, error) {
	if size == 0 || size%uintptr(PageSize()) != 0 {
		panic("jit: Allocate size must be a positive multiple of the page size")
	}
	mem, err := osAllocate(size)
	if err != nil {
		return nil, jitError("allocate memory", err)
	}
	return mem, nil
}

// Free releases a prior Allocate allocation. mem must match an allocation
// exactly.
func Free(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := osFree(mem); err != nil {
		return jitError("free memory", err)
	}
	return nil
}

// MarkExecutable transitions mem to read+execute (never write) and flushes
// the instruction cache over its range before returning. The W->X
// transition and the flush are both mandatory and ordered: no thread may
// observe mem as writable after this call returns successfully.
func MarkExecutable(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := osMarkExecutable(mem); err != nil {
		return jitError("protect executable memory", err)
	}
	// Flush after the protection change and before returning, so no thread
	// can fetch stale instructions from this range once it is published.
	flushInstructionCache(mem)
	return nil
}
