package debugger

import (
	"github.com/wnxd/mcpehost/emulator"
	"golang.org/x/exp/constraints"
)

// Align rounds a up to a multiple of b, a power of two.
func Align[I constraints.Integer](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}

// MemoryManager maps guest pages and runs the guest heap on top of them.
type MemoryManager interface {
	MemMap(addr, size uint64, prot emulator.MemProt) (emulator.MemRegion, error)
	MemUnmap(addr uint64, size uint64) error
	MemProtect(addr, size uint64, prot emulator.MemProt) error
	MapAlloc(size uint64, prot emulator.MemProt) (emulator.MemRegion, error)
	MapFree(addr uint64, size uint64) error
	MemAlloc(size uint64) (uint64, error)
	MemFree(addr uint64) error
	MemSize(addr uint64) uint64
	ToPointer(addr uint64) emulator.Pointer
	MemImport(data []byte) (uint64, error)
	MemImportString(s string) (uint64, error)
}
