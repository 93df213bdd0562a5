package loader

import (
	"encoding/binary"
	"io"
	"iter"

	"github.com/wnxd/mcpehost/emulator"
)

// Module is a parsed shared object, not yet mapped. Addresses are
// relative to its load base.
type Module interface {
	io.Closer
	Name() string
	Arch() emulator.Arch
	ByteOrder() binary.ByteOrder
	Regions() []Region
	EntryAddr() uint64
	InitAddrs() []uint64
	Libraries() []string
	Relocations() []Relocation
	FindSymbol(name string) (uint64, error)
	Symbols() iter.Seq2[string, uint64]
}
