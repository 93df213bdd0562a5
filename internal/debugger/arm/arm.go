package arm

import (
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	internal "github.com/wnxd/mcpehost/internal/debugger"
)

const (
	ARM_STACK_SIZE = 0x80000
	POINTER_SIZE   = 4
	regArgs        = 4
)

var (
	trapCode  = []byte{0x35, 0x00, 0x00, 0xEF} // svc #0x35
	savedRegs = []emulator.Reg{
		emulator.ARM_REG_R0, emulator.ARM_REG_R1, emulator.ARM_REG_R2, emulator.ARM_REG_R3,
		emulator.ARM_REG_R12, emulator.ARM_REG_SP, emulator.ARM_REG_LR, emulator.ARM_REG_PC,
	}
)

type armDbg struct {
	internal.Dbg
}

func NewArmDebugger(emu emulator.Emulator) (debugger.Debugger, error) {
	dbg := new(armDbg)
	if err := dbg.Init(dbg, emu); err != nil {
		return nil, err
	}
	return dbg, nil
}

func (dbg *armDbg) PointerSize() uint64 {
	return POINTER_SIZE
}

func (dbg *armDbg) StackAlign() uint64 {
	return 8
}

func (dbg *armDbg) StackSize() uint64 {
	return ARM_STACK_SIZE
}

func (dbg *armDbg) PC() emulator.Reg {
	return emulator.ARM_REG_PC
}

func (dbg *armDbg) SP() emulator.Reg {
	return emulator.ARM_REG_SP
}

func (dbg *armDbg) TrapCode() []byte {
	return trapCode
}

func (dbg *armDbg) SavedRegs() []emulator.Reg {
	return savedRegs
}

func (dbg *armDbg) Arg(ctx emulator.RegisterContext, i int) (uint64, error) {
	if i < regArgs {
		return ctx.RegRead(emulator.ARM_REG_R0 + emulator.Reg(i))
	}
	sp, err := ctx.RegRead(emulator.ARM_REG_SP)
	if err != nil {
		return 0, err
	}
	v, err := dbg.ToPointer(sp + uint64(i-regArgs)*POINTER_SIZE).MemReadUint32()
	return uint64(v), err
}

func (dbg *armDbg) ArgWrite(ctx emulator.RegisterContext, args []uint64) error {
	for i, arg := range args[:min(len(args), regArgs)] {
		if err := ctx.RegWrite(emulator.ARM_REG_R0+emulator.Reg(i), arg&0xFFFFFFFF); err != nil {
			return err
		}
	}
	if len(args) <= regArgs {
		return nil
	}
	extra := args[regArgs:]
	sp, err := ctx.RegRead(emulator.ARM_REG_SP)
	if err != nil {
		return err
	}
	sp = (sp - uint64(len(extra))*POINTER_SIZE) &^ 7
	for i, arg := range extra {
		if err = dbg.ToPointer(sp + uint64(i)*POINTER_SIZE).MemWriteUint32(uint32(arg)); err != nil {
			return err
		}
	}
	return ctx.RegWrite(emulator.ARM_REG_SP, sp)
}

func (dbg *armDbg) RetRead(ctx emulator.RegisterContext) (uint64, error) {
	return ctx.RegRead(emulator.ARM_REG_R0)
}

func (dbg *armDbg) RetWrite(ctx emulator.RegisterContext, val uint64) error {
	return ctx.RegWrite(emulator.ARM_REG_R0, val&0xFFFFFFFF)
}

// FloatArg has nothing to read: armeabi-v7a passes floats in core
// registers.
func (dbg *armDbg) FloatArg(ctx emulator.RegisterContext, i int) (uint64, error) {
	return 0, debugger.ErrArgumentInvalid
}

func (dbg *armDbg) FloatRetWrite(ctx emulator.RegisterContext, bits uint64, double bool) error {
	if err := ctx.RegWrite(emulator.ARM_REG_R0, bits&0xFFFFFFFF); err != nil || !double {
		return err
	}
	return ctx.RegWrite(emulator.ARM_REG_R1, bits>>32)
}

// Return jumps to LR. Bit 0 of LR selects thumb state in the backend.
func (dbg *armDbg) Return(ctx emulator.RegisterContext) error {
	lr, err := ctx.RegRead(emulator.ARM_REG_LR)
	if err != nil {
		return err
	}
	return ctx.RegWrite(emulator.ARM_REG_PC, lr)
}

func (dbg *armDbg) SetReturnAddr(ctx emulator.RegisterContext, addr uint64) error {
	return ctx.RegWrite(emulator.ARM_REG_LR, addr)
}
