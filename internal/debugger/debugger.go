package debugger

import (
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

// Debugger is implemented once per architecture. The embedded Dbg supplies
// the managers; the arch type supplies the calling convention.
type Debugger interface {
	debugger.Debugger
	StackAlign() uint64
	StackSize() uint64
	PC() emulator.Reg
	SP() emulator.Reg
	TrapCode() []byte
	SavedRegs() []emulator.Reg
	Arg(ctx emulator.RegisterContext, i int) (uint64, error)
	ArgWrite(ctx emulator.RegisterContext, args []uint64) error
	RetRead(ctx emulator.RegisterContext) (uint64, error)
	RetWrite(ctx emulator.RegisterContext, val uint64) error
	// FloatArg reads the i-th floating point argument register. ABIs that
	// pass floats in core registers or on the stack have none.
	FloatArg(ctx emulator.RegisterContext, i int) (uint64, error)
	// FloatRetWrite returns a float (double false) or double in the
	// ABI's floating point return location.
	FloatRetWrite(ctx emulator.RegisterContext, bits uint64, double bool) error
	Return(ctx emulator.RegisterContext) error
	SetReturnAddr(ctx emulator.RegisterContext, addr uint64) error
}

type Dbg struct {
	impl Debugger
	emu  emulator.Emulator
	memoryManager
	hookManager
	fileManager
	moduleManager
	taskManager
	threadManager
}

func (dbg *Dbg) Init(impl Debugger, emu emulator.Emulator) error {
	dbg.impl = impl
	dbg.emu = emu
	dbg.memoryManager.ctor()
	if err := dbg.hookManager.ctor(dbg.impl); err != nil {
		return err
	}
	dbg.fileManager.ctor()
	dbg.moduleManager.ctor()
	dbg.taskManager.ctor()
	dbg.threadManager.ctor()
	return nil
}

func (dbg *Dbg) Close() error {
	dbg.threadManager.dtor(dbg.impl)
	dbg.taskManager.dtor()
	dbg.moduleManager.dtor()
	dbg.fileManager.dtor()
	dbg.hookManager.dtor()
	dbg.memoryManager.dtor(dbg.impl)
	return nil
}

func (dbg *Dbg) Emulator() emulator.Emulator {
	return dbg.emu
}

func (dbg *Dbg) PointerSize() uint64 {
	return dbg.emu.Arch().PointerSize()
}
