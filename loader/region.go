package loader

import (
	"io"

	"github.com/wnxd/mcpehost/emulator"
)

// Region is one loadable segment. Length bytes come from ReaderAt; the
// rest of Size is zero filled.
type Region struct {
	Addr, Size    uint64
	Length, Align uint64
	Prot          emulator.MemProt
	io.ReaderAt
}
