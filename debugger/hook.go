package debugger

import (
	"io"
)

// ControlCallback is a host function. It reads its arguments from ctx
// and returns to the guest when it returns, unless it jumped.
type ControlCallback = func(ctx Context, data any)

type HookManager interface {
	// AddControl binds callback to a fresh guest address. Guest code
	// calls that address like any function.
	AddControl(callback ControlCallback, data any) (ControlHandler, error)
}

// ControlHandler is a bound host function. Closing it frees the address.
type ControlHandler interface {
	io.Closer
	Addr() uint64
}
