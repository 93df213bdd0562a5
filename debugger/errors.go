package debugger

import (
	"errors"
	"fmt"
)

var (
	ErrModuleNotFound  = errors.New("module not found")
	ErrSymbolNotFound  = errors.New("symbol not found")
	ErrTaskInvalid     = errors.New("task invalid")
	ErrArgumentInvalid = errors.New("argument invalid")
	ErrEmulatorStop    = errors.New("emulator stop")
	ErrAddressInvalid  = errors.New("address invalid")
)

// Fault locates where guest execution stopped unexpectedly. Inside a
// known module the location is module relative.
type Fault struct {
	ctx    Context
	Module string
	PC     uint64
}

func newFault(ctx Context) Fault {
	pc, _ := ctx.RegRead(ctx.PC())
	f := Fault{ctx: ctx, PC: pc}
	if m, err := ctx.Debugger().FindModuleByAddr(pc); err == nil && m.Name() != "" {
		f.Module = m.Name()
		f.PC = pc - m.BaseAddr()
	}
	return f
}

func (f *Fault) String() string {
	if f.Module == "" {
		return fmt.Sprintf("pc %#016x", f.PC)
	}
	return fmt.Sprintf("%s+%#x", f.Module, f.PC)
}

func (f *Fault) Context() Context {
	return f.ctx
}

// InterruptException is a trap no host function is bound to.
type InterruptException struct {
	Fault
	Intno uint64
}

func NewInterruptException(ctx Context, intno uint64) error {
	return &InterruptException{Fault: newFault(ctx), Intno: intno}
}

func (e *InterruptException) Error() string {
	return fmt.Sprintf("unhandled interrupt %d at %s", e.Intno, &e.Fault)
}

// PanicException is a host function that panicked while the guest
// called it.
type PanicException struct {
	Fault
	value any
	stack []byte
}

func NewPanicException(ctx Context, v any, stack []byte) error {
	return &PanicException{Fault: newFault(ctx), value: v, stack: stack}
}

func (e *PanicException) Error() string {
	return fmt.Sprintf("host function panicked at %s: %v", &e.Fault, e.value)
}

func (e *PanicException) Panic() any {
	return e.value
}

func (e *PanicException) Stack() []byte {
	return e.stack
}
