package patch

import (
	"encoding/binary"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

const (
	arm64LdrX16 = 0x58000050 // ldr x16, #8
	arm64BrX16  = 0xd61f0200 // br x16
	arm64LdrX0  = 0x58000040 // ldr x0, #8
	arm64Ret    = 0xd65f03c0

	armLdrPC = 0xe51ff004 // ldr pc, [pc, #-4]
	armLdrR0 = 0xe59f0000 // ldr r0, [pc, #0]
	armBxLR  = 0xe12fff1e

	thumbLdrWPC = 0xf000f8df // ldr.w pc, [pc, #0]
	thumbLdrR0  = 0x4800     // ldr r0, [pc, #0]
	thumbBxLR   = 0x4770
	thumbNop    = 0xbf00
)

// jumpCode returns the bytes that make the function at addr continue at
// target. On ARM bit 0 of addr marks thumb code.
func jumpCode(arch emulator.Arch, addr, target uint64) ([]byte, uint64) {
	le := binary.LittleEndian
	var b []byte
	switch arch {
	case emulator.ARCH_ARM64:
		b = le.AppendUint32(b, arm64LdrX16)
		b = le.AppendUint32(b, arm64BrX16)
		b = le.AppendUint64(b, target)
	case emulator.ARCH_ARM:
		if addr&1 == 0 {
			b = le.AppendUint32(b, armLdrPC)
			b = le.AppendUint32(b, uint32(target))
			break
		}
		addr &^= 1
		if addr%4 != 0 {
			b = le.AppendUint16(b, thumbNop)
		}
		b = le.AppendUint16(b, uint16(thumbLdrWPC&0xffff))
		b = le.AppendUint16(b, uint16(thumbLdrWPC>>16))
		b = le.AppendUint32(b, uint32(target))
	case emulator.ARCH_X86:
		b = append(b, 0xe9)
		b = le.AppendUint32(b, uint32(target-(addr+5)))
	case emulator.ARCH_X86_64:
		b = append(b, 0xff, 0x25, 0, 0, 0, 0)
		b = le.AppendUint64(b, target)
	}
	return b, addr
}

// returnCode returns the bytes that make the function at addr return v.
func returnCode(arch emulator.Arch, addr, v uint64) ([]byte, uint64) {
	le := binary.LittleEndian
	var b []byte
	switch arch {
	case emulator.ARCH_ARM64:
		b = le.AppendUint32(b, arm64LdrX0)
		b = le.AppendUint32(b, arm64Ret)
		b = le.AppendUint64(b, v)
	case emulator.ARCH_ARM:
		if addr&1 == 0 {
			b = le.AppendUint32(b, armLdrR0)
			b = le.AppendUint32(b, armBxLR)
			b = le.AppendUint32(b, uint32(v))
			break
		}
		addr &^= 1
		if addr%4 == 0 {
			b = le.AppendUint16(b, thumbLdrR0)
			b = le.AppendUint16(b, thumbBxLR)
		} else {
			b = le.AppendUint16(b, thumbLdrR0+1)
			b = le.AppendUint16(b, thumbBxLR)
			b = le.AppendUint16(b, thumbNop)
		}
		b = le.AppendUint32(b, uint32(v))
	case emulator.ARCH_X86:
		b = append(b, 0xb8)
		b = le.AppendUint32(b, uint32(v))
		b = append(b, 0xc3)
	case emulator.ARCH_X86_64:
		b = append(b, 0x48, 0xb8)
		b = le.AppendUint64(b, v)
		b = append(b, 0xc3)
	}
	return b, addr
}

// WriteJump overwrites the start of the function at addr with a jump
// to target.
func WriteJump(dbg debugger.Debugger, addr, target uint64) error {
	code, at := jumpCode(dbg.Emulator().Arch(), addr, target)
	if code == nil {
		return emulator.ErrArchUnsupported
	}
	return dbg.Emulator().MemWrite(at, code)
}

// WriteReturn overwrites the function at addr so that it returns v
// immediately.
func WriteReturn(dbg debugger.Debugger, addr, v uint64) error {
	code, at := returnCode(dbg.Emulator().Arch(), addr, v)
	if code == nil {
		return emulator.ErrArchUnsupported
	}
	return dbg.Emulator().MemWrite(at, code)
}
