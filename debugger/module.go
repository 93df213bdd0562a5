package debugger

import (
	"context"
	"io"
)

type Symbol struct {
	Name  string
	Value uint64
}

// SymbolIter is implemented by modules able to enumerate their exports.
type SymbolIter interface {
	Symbols(yield func(Symbol) bool)
}

// Module is a library present in guest memory, mapped from an ELF file
// or backed by host functions.
type Module interface {
	io.Closer
	Name() string
	Region() (uint64, uint64)
	BaseAddr() uint64
	EntryAddr() uint64
	// Init runs the module's initializers. Loading never does.
	Init(ctx context.Context) error
	FindSymbol(name string) (uint64, error)
}

// ModuleManager keeps modules in load order. Global symbol lookup
// returns the first module defining the name.
type ModuleManager interface {
	Load(module Module)
	Unload(module Module)
	FindModuleByAddr(addr uint64) (Module, error)
	FindSymbol(name string) (Module, uint64, error)
}
