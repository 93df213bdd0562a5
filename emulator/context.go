package emulator

import (
	"io"
)

// Context holds a saved CPU state.
type Context interface {
	io.Closer
	Save() error
	Restore() error
}
