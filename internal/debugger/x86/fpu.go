package x86

import (
	"encoding/binary"
	"math"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

// Layout of the staging area: xmm0-xmm7 as saved by the trap stubs, the
// pending float result, then the caller's return address.
const (
	spillRegs   = 8
	retValueOff = spillRegs * 8
	retAddrOff  = retValueOff + 8
)

// fpu moves floating point values between host functions and the guest
// through memory. The x86_64 trap stubs save the vector argument
// registers before trapping, and a float result is loaded by a tail stub
// the host function returns through.
type fpu struct {
	area uint64
	tail uint64
}

func newFPU(dbg debugger.Debugger, wide bool) (*fpu, error) {
	page := dbg.Emulator().PageSize()
	data, err := dbg.MapAlloc(page, emulator.MEM_PROT_READ|emulator.MEM_PROT_WRITE)
	if err != nil {
		return nil, err
	}
	code, err := dbg.MapAlloc(page, emulator.MEM_PROT_READ|emulator.MEM_PROT_EXEC)
	if err != nil {
		dbg.MapFree(data.Addr, data.Size)
		return nil, err
	}
	f := &fpu{area: data.Addr, tail: code.Addr}
	tail := f.tail32()
	if wide {
		tail = f.tail64()
	}
	if err = dbg.Emulator().MemWrite(code.Addr, tail); err != nil {
		return nil, err
	}
	return f, nil
}

// movR11 is mov r11, imm64.
func movR11(v uint64) []byte {
	return binary.LittleEndian.AppendUint64([]byte{0x49, 0xBB}, v)
}

// spillTrap saves xmm0-xmm7 to the area, then traps.
func (f *fpu) spillTrap() []byte {
	code := movR11(f.area)
	for n := byte(0); n < spillRegs; n++ {
		// movsd [r11+n*8], xmmN
		code = append(code, 0xF2, 0x41, 0x0F, 0x11, 0x43|n<<3, n*8)
	}
	return append(code, trapCode...)
}

// tail64 loads xmm0 from the result slot and jumps to the saved return
// address.
func (f *fpu) tail64() []byte {
	code := movR11(f.area)
	code = append(code, 0xF2, 0x41, 0x0F, 0x10, 0x43, retValueOff) // movsd xmm0, [r11+retValueOff]
	return append(code, 0x41, 0xFF, 0x63, retAddrOff)             // jmp [r11+retAddrOff]
}

// tail32 pushes the result slot onto the x87 stack and jumps to the saved
// return address.
func (f *fpu) tail32() []byte {
	code := binary.LittleEndian.AppendUint32([]byte{0xDD, 0x05}, uint32(f.area+retValueOff)) // fld qword [area+retValueOff]
	return binary.LittleEndian.AppendUint32(append(code, 0xFF, 0x25), uint32(f.area+retAddrOff))
}

func (f *fpu) arg(dbg debugger.MemoryManager, i int) (uint64, error) {
	if i < 0 || i >= spillRegs {
		return 0, debugger.ErrArgumentInvalid
	}
	buf, err := dbg.ToPointer(f.area + uint64(i)*8).MemRead(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// retWrite stores bits as the result and points the return address on
// the stack at the tail stub.
func (f *fpu) retWrite(dbg debugger.MemoryManager, ctx emulator.RegisterContext, spReg emulator.Reg, size, bits uint64) error {
	sp, err := ctx.RegRead(spReg)
	if err != nil {
		return err
	}
	slot := dbg.ToPointer(sp)
	var ret uint64
	if size == 4 {
		var v uint32
		v, err = slot.MemReadUint32()
		ret = uint64(v)
	} else {
		var p emulator.Pointer
		p, err = slot.MemReadPointer()
		ret = p.Address()
	}
	if err != nil {
		return err
	}
	area := dbg.ToPointer(f.area)
	if err = area.Add(retValueOff).MemWrite(binary.LittleEndian.AppendUint64(nil, bits)); err != nil {
		return err
	}
	// a second result in the same call only replaces the value
	if ret == f.tail {
		return nil
	}
	if err = area.Add(retAddrOff).MemWrite(binary.LittleEndian.AppendUint64(nil, ret)); err != nil {
		return err
	}
	if size == 4 {
		return slot.MemWriteUint32(uint32(f.tail))
	}
	return slot.MemWritePointer(f.tail)
}

// widen turns float bits into the double the x87 tail loads.
func widen(bits uint64, double bool) uint64 {
	if double {
		return bits
	}
	return math.Float64bits(float64(math.Float32frombits(uint32(bits))))
}
