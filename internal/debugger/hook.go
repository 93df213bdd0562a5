package debugger

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

const ctrlStride = 4

type hookManager struct {
	releases []func() error
	mu       sync.RWMutex
	ctrlFree [][2]uint64
	controls map[uint64]*controlHandler
	fault    error
	active   atomic.Int32
}

type controlHandler struct {
	hm       *hookManager
	addr     [2]uint64
	callback debugger.ControlCallback
	data     any
	once     sync.Once
}

func (h *hookManager) ctor(dbg Debugger) error {
	h.controls = make(map[uint64]*controlHandler)
	hook, err := dbg.Emulator().Hook(emulator.HOOK_TYPE_INTR, emulator.InterruptCallback(func(intno uint64, data any) {
		h.handleInterrupt(data.(Debugger), intno)
	}), dbg, 1, 0)
	if err != nil {
		return err
	}
	h.releases = append(h.releases, hook.Close)
	return nil
}

func (h *hookManager) dtor() {
	for i := len(h.releases) - 1; i >= 0; i-- {
		h.releases[i]()
	}
	h.releases = nil
}

// allocCtrlAddrs maps one executable page filled with trap instructions.
func (h *hookManager) allocCtrlAddrs(dbg Debugger) error {
	region, err := dbg.MapAlloc(dbg.Emulator().PageSize(), emulator.MEM_PROT_READ|emulator.MEM_PROT_EXEC)
	if err != nil {
		return err
	}
	h.releases = append(h.releases, func() error {
		return dbg.MapFree(region.Addr, region.Size)
	})
	trap := dbg.TrapCode()
	stride := ctrlStride
	if len(trap) > stride {
		stride = int(debugger.Align(uint64(len(trap)), 16))
	}
	code := make([]byte, region.Size)
	for off := 0; off+stride <= len(code); off += stride {
		copy(code[off:off+stride], trap)
		addr := region.Addr + uint64(off)
		h.ctrlFree = append(h.ctrlFree, [2]uint64{addr, addr + uint64(len(trap))})
	}
	return dbg.Emulator().MemWrite(region.Addr, code)
}

func (h *hookManager) addControl(dbg Debugger, callback debugger.ControlCallback, data any) (debugger.ControlHandler, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ctrlFree) == 0 {
		if err := h.allocCtrlAddrs(dbg); err != nil {
			return nil, err
		}
	}
	addr := h.ctrlFree[0]
	h.ctrlFree = h.ctrlFree[1:]
	handler := &controlHandler{hm: h, addr: addr, callback: callback, data: data}
	h.controls[addr[1]] = handler
	return handler, nil
}

func (h *hookManager) handleInterrupt(dbg Debugger, intno uint64) {
	emu := dbg.Emulator()
	pc, err := emu.RegRead(dbg.PC())
	if err != nil {
		h.stop(emu, err)
		return
	}
	h.mu.RLock()
	handler, ok := h.controls[pc]
	h.mu.RUnlock()
	ctx := &callContext{dbg: dbg}
	if !ok {
		h.stop(emu, debugger.NewInterruptException(ctx, intno))
		return
	}
	ctx.entry = handler.addr[0]
	defer func() {
		if ex := recover(); ex != nil {
			h.stop(emu, debugger.NewPanicException(ctx, ex, debug.Stack()))
		}
	}()
	h.active.Add(1)
	defer h.active.Add(-1)
	handler.callback(ctx, handler.data)
	if ctx.jumped {
		return
	}
	if err := dbg.Return(emu); err != nil {
		h.stop(emu, err)
	}
}

func (h *hookManager) stop(emu emulator.Emulator, err error) {
	h.mu.Lock()
	if h.fault == nil {
		h.fault = err
	}
	h.mu.Unlock()
	emu.Stop()
}

// stopping reports whether a stop is pending for the current run.
func (h *hookManager) stopping() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fault != nil
}

func (h *hookManager) inCallback() bool {
	return h.active.Load() > 0
}

// takeFault returns and clears the error that stopped the last run.
func (h *hookManager) takeFault() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.fault
	h.fault = nil
	return err
}

func (h *controlHandler) Close() error {
	h.once.Do(func() {
		h.hm.mu.Lock()
		delete(h.hm.controls, h.addr[1])
		h.hm.ctrlFree = append(h.hm.ctrlFree, h.addr)
		h.hm.mu.Unlock()
	})
	return nil
}

func (h *controlHandler) Addr() uint64 {
	return h.addr[0]
}

func (dbg *Dbg) AddControl(callback debugger.ControlCallback, data any) (debugger.ControlHandler, error) {
	return dbg.hookManager.addControl(dbg.impl, callback, data)
}

// Fault reports and clears the error that last stopped emulation.
func (dbg *Dbg) Fault() error {
	return dbg.hookManager.takeFault()
}
