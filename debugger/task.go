package debugger

import (
	"context"
)

type TaskManager interface {
	// Call runs the guest function at addr with integer arguments and
	// returns its integer result once it returns to the host.
	Call(ctx context.Context, addr uint64, args ...uint64) (uint64, error)
}
