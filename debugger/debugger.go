package debugger

import (
	"io"

	"github.com/wnxd/mcpehost/emulator"
)

type Debugger interface {
	io.Closer
	Emulator() emulator.Emulator
	PointerSize() uint64
	MemoryManager
	HookManager
	TaskManager
	ThreadManager
	ModuleManager
	FileManager
}

func New(emu emulator.Emulator) (Debugger, error) {
	if ctor, ok := ctorFor(emu.Arch()); ok {
		return ctor(emu)
	}
	return nil, emulator.ErrArchUnsupported
}
