package x86

import (
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	internal "github.com/wnxd/mcpehost/internal/debugger"
)

const X86_64_STACK_SIZE = 0x100000

// System V argument registers in order.
var argRegs = []emulator.Reg{
	emulator.X86_64_REG_RDI, emulator.X86_64_REG_RSI, emulator.X86_64_REG_RDX,
	emulator.X86_64_REG_RCX, emulator.X86_64_REG_R8, emulator.X86_64_REG_R9,
}

type x86_64Dbg struct {
	internal.Dbg
	fpu  *fpu
	trap []byte
}

func NewX86_64Debugger(emu emulator.Emulator) (debugger.Debugger, error) {
	dbg := new(x86_64Dbg)
	if err := dbg.Init(dbg, emu); err != nil {
		return nil, err
	}
	f, err := newFPU(dbg, true)
	if err != nil {
		dbg.Close()
		return nil, err
	}
	dbg.fpu = f
	dbg.trap = f.spillTrap()
	return dbg, nil
}

// FloatArea is the guest block xmm0-xmm7 are saved to on every trap,
// followed by the staged float result.
func (dbg *x86_64Dbg) FloatArea() uint64 {
	return dbg.fpu.area
}

func (dbg *x86_64Dbg) PointerSize() uint64 {
	return 8
}

func (dbg *x86_64Dbg) StackAlign() uint64 {
	return 16
}

func (dbg *x86_64Dbg) StackSize() uint64 {
	return X86_64_STACK_SIZE
}

func (dbg *x86_64Dbg) PC() emulator.Reg {
	return emulator.X86_64_REG_RIP
}

func (dbg *x86_64Dbg) SP() emulator.Reg {
	return emulator.X86_64_REG_RSP
}

func (dbg *x86_64Dbg) TrapCode() []byte {
	return dbg.trap
}

func (dbg *x86_64Dbg) SavedRegs() []emulator.Reg {
	return append([]emulator.Reg{
		emulator.X86_64_REG_RAX, emulator.X86_64_REG_RSP, emulator.X86_64_REG_RBP, emulator.X86_64_REG_RIP,
	}, argRegs...)
}

func (dbg *x86_64Dbg) Arg(ctx emulator.RegisterContext, i int) (uint64, error) {
	if i < len(argRegs) {
		return ctx.RegRead(argRegs[i])
	}
	sp, err := ctx.RegRead(emulator.X86_64_REG_RSP)
	if err != nil {
		return 0, err
	}
	p, err := dbg.ToPointer(sp + 8 + uint64(i-len(argRegs))*8).MemReadPointer()
	return p.Address(), err
}

func (dbg *x86_64Dbg) ArgWrite(ctx emulator.RegisterContext, args []uint64) error {
	for i, arg := range args[:min(len(args), len(argRegs))] {
		if err := ctx.RegWrite(argRegs[i], arg); err != nil {
			return err
		}
	}
	// varargs callees read AL as the vector register count
	if err := ctx.RegWrite(emulator.X86_64_REG_RAX, 0); err != nil {
		return err
	}
	if len(args) <= len(argRegs) {
		return nil
	}
	extra := args[len(argRegs):]
	sp, err := ctx.RegRead(emulator.X86_64_REG_RSP)
	if err != nil {
		return err
	}
	sp = (sp - uint64(len(extra))*8) &^ 15
	for i, arg := range extra {
		if err = dbg.ToPointer(sp + uint64(i)*8).MemWritePointer(arg); err != nil {
			return err
		}
	}
	return ctx.RegWrite(emulator.X86_64_REG_RSP, sp)
}

func (dbg *x86_64Dbg) RetRead(ctx emulator.RegisterContext) (uint64, error) {
	return ctx.RegRead(emulator.X86_64_REG_RAX)
}

func (dbg *x86_64Dbg) RetWrite(ctx emulator.RegisterContext, val uint64) error {
	return ctx.RegWrite(emulator.X86_64_REG_RAX, val)
}

func (dbg *x86_64Dbg) FloatArg(ctx emulator.RegisterContext, i int) (uint64, error) {
	return dbg.fpu.arg(dbg, i)
}

// FloatRetWrite returns through a stub that loads the value into xmm0.
func (dbg *x86_64Dbg) FloatRetWrite(ctx emulator.RegisterContext, bits uint64, double bool) error {
	if !double {
		bits &= 0xFFFFFFFF
	}
	return dbg.fpu.retWrite(dbg, ctx, emulator.X86_64_REG_RSP, 8, bits)
}

func (dbg *x86_64Dbg) Return(ctx emulator.RegisterContext) error {
	return ret(dbg, ctx, emulator.X86_64_REG_RSP, emulator.X86_64_REG_RIP, 8)
}

func (dbg *x86_64Dbg) SetReturnAddr(ctx emulator.RegisterContext, addr uint64) error {
	return push(dbg, ctx, emulator.X86_64_REG_RSP, addr, 8)
}
