package encoding

import (
	"github.com/wnxd/mcpehost/emulator"
)

// LayoutOf returns the C layout rules of arch. i386 aligns 8-byte
// scalars to 4.
func LayoutOf(arch emulator.Arch) *Layout {
	l := &Layout{Order: emulator.BO_LITTLE_ENDIAN.Binary(), PointerSize: int(arch.PointerSize())}
	if arch == emulator.ARCH_X86 {
		l.MaxAlign = 4
	}
	return l
}

// Write stores the value v points at into guest memory at p.
func (l *Layout) Write(p emulator.Pointer, v any) error {
	data, err := l.Marshal(v)
	if err != nil {
		return err
	}
	return p.MemWrite(data)
}

// Read loads guest memory at p into the value v points at.
func (l *Layout) Read(p emulator.Pointer, v any) error {
	size, err := l.Size(v)
	if err != nil {
		return err
	}
	data, err := p.MemRead(uint64(size))
	if err != nil {
		return err
	}
	return l.Unmarshal(data, v)
}
