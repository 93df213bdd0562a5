package x86

import (
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	internal "github.com/wnxd/mcpehost/internal/debugger"
)

const X86_STACK_SIZE = 0x80000

// int 0x80
var trapCode = []byte{0xCD, 0x80}

// x86Dbg implements cdecl: every argument on the stack above the return address.
type x86Dbg struct {
	internal.Dbg
	fpu *fpu
}

func NewX86Debugger(emu emulator.Emulator) (debugger.Debugger, error) {
	dbg := new(x86Dbg)
	if err := dbg.Init(dbg, emu); err != nil {
		return nil, err
	}
	f, err := newFPU(dbg, false)
	if err != nil {
		dbg.Close()
		return nil, err
	}
	dbg.fpu = f
	return dbg, nil
}

// FloatArea is the guest block float results are staged in.
func (dbg *x86Dbg) FloatArea() uint64 {
	return dbg.fpu.area
}

func (dbg *x86Dbg) PointerSize() uint64 {
	return 4
}

func (dbg *x86Dbg) StackAlign() uint64 {
	return 16
}

func (dbg *x86Dbg) StackSize() uint64 {
	return X86_STACK_SIZE
}

func (dbg *x86Dbg) PC() emulator.Reg {
	return emulator.X86_REG_EIP
}

func (dbg *x86Dbg) SP() emulator.Reg {
	return emulator.X86_REG_ESP
}

func (dbg *x86Dbg) TrapCode() []byte {
	return trapCode
}

func (dbg *x86Dbg) SavedRegs() []emulator.Reg {
	return []emulator.Reg{
		emulator.X86_REG_EAX, emulator.X86_REG_ECX, emulator.X86_REG_EDX,
		emulator.X86_REG_ESP, emulator.X86_REG_EBP, emulator.X86_REG_EIP,
	}
}

func (dbg *x86Dbg) Arg(ctx emulator.RegisterContext, i int) (uint64, error) {
	sp, err := ctx.RegRead(emulator.X86_REG_ESP)
	if err != nil {
		return 0, err
	}
	v, err := dbg.ToPointer(sp + 4 + uint64(i)*4).MemReadUint32()
	return uint64(v), err
}

func (dbg *x86Dbg) ArgWrite(ctx emulator.RegisterContext, args []uint64) error {
	sp, err := ctx.RegRead(emulator.X86_REG_ESP)
	if err != nil {
		return err
	}
	// ESP+4 is 16-aligned at entry once the return address is pushed
	sp = (sp - uint64(len(args))*4) &^ 15
	for i, arg := range args {
		if err = dbg.ToPointer(sp + uint64(i)*4).MemWriteUint32(uint32(arg)); err != nil {
			return err
		}
	}
	return ctx.RegWrite(emulator.X86_REG_ESP, sp)
}

func (dbg *x86Dbg) RetRead(ctx emulator.RegisterContext) (uint64, error) {
	v, err := ctx.RegRead(emulator.X86_REG_EAX)
	return v & 0xFFFFFFFF, err
}

func (dbg *x86Dbg) RetWrite(ctx emulator.RegisterContext, val uint64) error {
	return ctx.RegWrite(emulator.X86_REG_EAX, val&0xFFFFFFFF)
}

// FloatArg has nothing to read: cdecl passes floats on the stack.
func (dbg *x86Dbg) FloatArg(ctx emulator.RegisterContext, i int) (uint64, error) {
	return 0, debugger.ErrArgumentInvalid
}

// FloatRetWrite returns through a stub that loads the value into st(0).
func (dbg *x86Dbg) FloatRetWrite(ctx emulator.RegisterContext, bits uint64, double bool) error {
	return dbg.fpu.retWrite(dbg, ctx, emulator.X86_REG_ESP, 4, widen(bits, double))
}

func (dbg *x86Dbg) Return(ctx emulator.RegisterContext) error {
	return ret(dbg, ctx, emulator.X86_REG_ESP, emulator.X86_REG_EIP, 4)
}

func (dbg *x86Dbg) SetReturnAddr(ctx emulator.RegisterContext, addr uint64) error {
	return push(dbg, ctx, emulator.X86_REG_ESP, addr, 4)
}

func push(dbg debugger.MemoryManager, ctx emulator.RegisterContext, spReg emulator.Reg, val, size uint64) error {
	sp, err := ctx.RegRead(spReg)
	if err != nil {
		return err
	}
	sp -= size
	p := dbg.ToPointer(sp)
	if size == 4 {
		err = p.MemWriteUint32(uint32(val))
	} else {
		err = p.MemWritePointer(val)
	}
	if err != nil {
		return err
	}
	return ctx.RegWrite(spReg, sp)
}

func ret(dbg debugger.MemoryManager, ctx emulator.RegisterContext, spReg, pcReg emulator.Reg, size uint64) error {
	sp, err := ctx.RegRead(spReg)
	if err != nil {
		return err
	}
	p := dbg.ToPointer(sp)
	var addr uint64
	if size == 4 {
		var v uint32
		v, err = p.MemReadUint32()
		addr = uint64(v)
	} else {
		var ptr emulator.Pointer
		ptr, err = p.MemReadPointer()
		addr = ptr.Address()
	}
	if err != nil {
		return err
	}
	if err = ctx.RegWrite(spReg, sp+size); err != nil {
		return err
	}
	return ctx.RegWrite(pcReg, addr)
}
