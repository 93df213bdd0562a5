package emulator

import (
	"slices"
)

type Pointer struct {
	emu  Emulator
	addr uint64
}

func ToPointer(emu Emulator, addr uint64) Pointer {
	return Pointer{emu, addr}
}

func (p Pointer) IsNil() bool {
	return p.addr == 0
}

func (p Pointer) Address() uint64 {
	return p.addr
}

func (p Pointer) Add(offset uint64) Pointer {
	return Pointer{p.emu, p.addr + offset}
}

func (p Pointer) Sub(offset uint64) Pointer {
	return Pointer{p.emu, p.addr - offset}
}

func (p Pointer) MemRead(size uint64) ([]byte, error) {
	return p.emu.MemRead(p.addr, size)
}

func (p Pointer) MemWrite(data []byte) error {
	return p.emu.MemWrite(p.addr, data)
}

func (p Pointer) MemReadString() (string, error) {
	var data []byte
	const size = 0x10
	for begin := p.addr; ; begin += size {
		buf, err := p.emu.MemRead(begin, size)
		if err != nil {
			return "", err
		}
		i := slices.Index(buf, 0)
		if i == -1 {
			data = append(data, buf...)
		} else {
			data = append(data, buf[:i]...)
			break
		}
	}
	return string(data), nil
}

func (p Pointer) MemWriteString(s string) error {
	return p.emu.MemWrite(p.addr, append([]byte(s), 0))
}

func (p Pointer) MemReadPointer() (ptr Pointer, err error) {
	size := p.emu.Arch().PointerSize()
	if size == 0 {
		err = ErrArchUnsupported
		return
	}
	buf, err := p.emu.MemRead(p.addr, size)
	if err != nil {
		return
	}
	ptr.emu, ptr.addr = p.emu, p.readUint(buf)
	return
}

func (p Pointer) MemWritePointer(addr uint64) error {
	size := p.emu.Arch().PointerSize()
	if size == 0 {
		return ErrArchUnsupported
	}
	buf := make([]byte, size)
	p.putUint(buf, addr)
	return p.emu.MemWrite(p.addr, buf)
}

func (p Pointer) MemReadUint32() (uint32, error) {
	buf, err := p.emu.MemRead(p.addr, 4)
	if err != nil {
		return 0, err
	}
	return p.emu.ByteOrder().Binary().Uint32(buf), nil
}

func (p Pointer) MemWriteUint32(v uint32) error {
	buf := make([]byte, 4)
	p.emu.ByteOrder().Binary().PutUint32(buf, v)
	return p.emu.MemWrite(p.addr, buf)
}

func (p Pointer) ReadAt(b []byte, off int64) (n int, err error) {
	data, err := p.emu.MemRead(p.addr+uint64(off), uint64(len(b)))
	if err != nil {
		return 0, err
	}
	return copy(b, data), nil
}

func (p Pointer) WriteAt(b []byte, off int64) (n int, err error) {
	return len(b), p.emu.MemWrite(p.addr+uint64(off), b)
}

func (p Pointer) readUint(buf []byte) uint64 {
	bo := p.emu.ByteOrder().Binary()
	if len(buf) == 4 {
		return uint64(bo.Uint32(buf))
	}
	return bo.Uint64(buf)
}

func (p Pointer) putUint(buf []byte, v uint64) {
	bo := p.emu.ByteOrder().Binary()
	if len(buf) == 4 {
		bo.PutUint32(buf, uint32(v))
	} else {
		bo.PutUint64(buf, v)
	}
}
