package debugger

import (
	"github.com/wnxd/mcpehost/emulator"
)

// Context is the view a host function gets of the guest call that entered it.
type Context interface {
	Debugger() Debugger
	PC() emulator.Reg
	SP() emulator.Reg
	emulator.RegisterContext
	// Arg returns the raw integer argument at index i.
	Arg(i int) uint64
	// ArgExtract decodes consecutive arguments into pointers
	// (*uint64, *uint32, *int32, *int, *bool, *string, *emulator.Pointer).
	ArgExtract(args ...any) error
	RetWrite(val any) error
	// FloatArg returns the raw bits of the i-th floating point argument
	// register. Read them before calling back into the guest.
	FloatArg(i int) (uint64, error)
	FloatRetWrite(bits uint64, double bool) error
	Return() error
	Goto(addr uint64) error
	ToPointer(addr uint64) emulator.Pointer
}
