package linker

import (
	"context"
	"sync"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/internal/hybris"
)

// hostLibrary exposes a HookTable as a loaded library. Host functions
// get their trap address the first time they are looked up.
type hostLibrary struct {
	dbg    debugger.Debugger
	name   string
	table  *hybris.HookTable
	handle uint64

	mu     sync.Mutex
	ctrls  map[string]debugger.ControlHandler
	closed bool
}

func newHostLibrary(dbg debugger.Debugger, name string, t *hybris.HookTable) (*hostLibrary, error) {
	handle, err := dbg.MemAlloc(dbg.PointerSize())
	if err != nil {
		return nil, err
	}
	return &hostLibrary{
		dbg:    dbg,
		name:   name,
		table:  t,
		handle: handle,
		ctrls:  make(map[string]debugger.ControlHandler),
	}, nil
}

func (h *hostLibrary) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, ctrl := range h.ctrls {
		ctrl.Close()
	}
	h.ctrls = nil
	return h.dbg.MemFree(h.handle)
}

func (h *hostLibrary) Name() string {
	return h.name
}

func (h *hostLibrary) Region() (uint64, uint64) {
	return h.handle, h.dbg.PointerSize()
}

func (h *hostLibrary) BaseAddr() uint64 {
	return h.handle
}

func (h *hostLibrary) Handle() uint64 {
	return h.handle
}

func (h *hostLibrary) EntryAddr() uint64 {
	return 0
}

func (h *hostLibrary) Init(ctx context.Context) error {
	return nil
}

func (h *hostLibrary) FindSymbol(name string) (uint64, error) {
	hook, ok := h.table.Lookup(name)
	if !ok {
		return 0, debugger.ErrSymbolNotFound
	}
	if hook.Func == nil {
		return hook.Addr, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, debugger.ErrModuleNotFound
	}
	if ctrl, ok := h.ctrls[name]; ok {
		return ctrl.Addr(), nil
	}
	ctrl, err := h.dbg.AddControl(hook.Func, nil)
	if err != nil {
		return 0, err
	}
	h.ctrls[name] = ctrl
	return ctrl.Addr(), nil
}

// owns reports whether addr is the trap of one of h's functions.
func (h *hostLibrary) owns(addr uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ctrl := range h.ctrls {
		if ctrl.Addr() == addr {
			return true
		}
	}
	return false
}

func (h *hostLibrary) Symbols(yield func(debugger.Symbol) bool) {
	for _, name := range h.table.Names() {
		addr, err := h.FindSymbol(name)
		if err != nil {
			continue
		}
		if !yield(debugger.Symbol{Name: name, Value: addr}) {
			return
		}
	}
}
