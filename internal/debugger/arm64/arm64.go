package arm64

import (
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	internal "github.com/wnxd/mcpehost/internal/debugger"
)

const (
	ARM64_STACK_SIZE = 0x100000
	POINTER_SIZE     = 8
	regArgs          = 8
)

var (
	trapCode  = []byte{0xA1, 0x06, 0x00, 0xD4} // svc #0x35
	savedRegs = []emulator.Reg{
		emulator.ARM64_REG_X0, emulator.ARM64_REG_X1, emulator.ARM64_REG_X2, emulator.ARM64_REG_X3,
		emulator.ARM64_REG_X4, emulator.ARM64_REG_X5, emulator.ARM64_REG_X6, emulator.ARM64_REG_X7,
		emulator.ARM64_REG_X8, emulator.ARM64_REG_X16, emulator.ARM64_REG_X17,
		emulator.ARM64_REG_FP, emulator.ARM64_REG_LR, emulator.ARM64_REG_SP, emulator.ARM64_REG_PC,
	}
)

type Arm64Dbg struct {
	internal.Dbg
}

func NewArm64Debugger(emu emulator.Emulator) (debugger.Debugger, error) {
	dbg := new(Arm64Dbg)
	if err := dbg.Init(dbg, emu); err != nil {
		return nil, err
	}
	return dbg, nil
}

func (dbg *Arm64Dbg) PointerSize() uint64 {
	return POINTER_SIZE
}

func (dbg *Arm64Dbg) StackAlign() uint64 {
	return 16
}

func (dbg *Arm64Dbg) StackSize() uint64 {
	return ARM64_STACK_SIZE
}

func (dbg *Arm64Dbg) PC() emulator.Reg {
	return emulator.ARM64_REG_PC
}

func (dbg *Arm64Dbg) SP() emulator.Reg {
	return emulator.ARM64_REG_SP
}

func (dbg *Arm64Dbg) TrapCode() []byte {
	return trapCode
}

func (dbg *Arm64Dbg) SavedRegs() []emulator.Reg {
	return savedRegs
}

func argReg(i int) emulator.Reg {
	return emulator.ARM64_REG_X0 + emulator.Reg(i)
}

func (dbg *Arm64Dbg) Arg(ctx emulator.RegisterContext, i int) (uint64, error) {
	if i < regArgs {
		return ctx.RegRead(argReg(i))
	}
	sp, err := ctx.RegRead(emulator.ARM64_REG_SP)
	if err != nil {
		return 0, err
	}
	p, err := dbg.ToPointer(sp + uint64(i-regArgs)*POINTER_SIZE).MemReadPointer()
	return p.Address(), err
}

func (dbg *Arm64Dbg) ArgWrite(ctx emulator.RegisterContext, args []uint64) error {
	for i, arg := range args[:min(len(args), regArgs)] {
		if err := ctx.RegWrite(argReg(i), arg); err != nil {
			return err
		}
	}
	if len(args) <= regArgs {
		return nil
	}
	extra := args[regArgs:]
	sp, err := ctx.RegRead(emulator.ARM64_REG_SP)
	if err != nil {
		return err
	}
	sp = (sp - uint64(len(extra))*POINTER_SIZE) &^ 15
	for i, arg := range extra {
		if err = dbg.ToPointer(sp + uint64(i)*POINTER_SIZE).MemWritePointer(arg); err != nil {
			return err
		}
	}
	return ctx.RegWrite(emulator.ARM64_REG_SP, sp)
}

func (dbg *Arm64Dbg) RetRead(ctx emulator.RegisterContext) (uint64, error) {
	return ctx.RegRead(emulator.ARM64_REG_X0)
}

func (dbg *Arm64Dbg) RetWrite(ctx emulator.RegisterContext, val uint64) error {
	return ctx.RegWrite(emulator.ARM64_REG_X0, val)
}

func (dbg *Arm64Dbg) FloatArg(ctx emulator.RegisterContext, i int) (uint64, error) {
	if i >= regArgs {
		return 0, debugger.ErrArgumentInvalid
	}
	return ctx.RegRead(emulator.ARM64_REG_D0 + emulator.Reg(i))
}

func (dbg *Arm64Dbg) FloatRetWrite(ctx emulator.RegisterContext, bits uint64, double bool) error {
	if !double {
		bits &= 0xFFFFFFFF
	}
	return ctx.RegWrite(emulator.ARM64_REG_D0, bits)
}

func (dbg *Arm64Dbg) Return(ctx emulator.RegisterContext) error {
	lr, err := ctx.RegRead(emulator.ARM64_REG_LR)
	if err != nil {
		return err
	}
	return ctx.RegWrite(emulator.ARM64_REG_PC, lr)
}

func (dbg *Arm64Dbg) SetReturnAddr(ctx emulator.RegisterContext, addr uint64) error {
	return ctx.RegWrite(emulator.ARM64_REG_LR, addr)
}
