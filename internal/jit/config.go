package jit

import env "github.com/xyproto/env/v2"

// Debugging knobs, read once at package init the way a small CLI tool reads
// its flags. Exposed as plain booleans/ints rather than re-reading the
// environment on every Compile call.
var (
	defaultRelaxation = Relaxation{
		DisableX86GOTLoad:   env.Bool("UOPJIT_DISABLE_X86_RELAX"),
		DisableARM64AdrpLdr: env.Bool("UOPJIT_DISABLE_ARM64_RELAX"),
	}
	pageSizeOverride = env.Int("UOPJIT_PAGE_SIZE", 0)
)
