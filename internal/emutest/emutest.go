// Package emutest provides a flat-memory emulator without a CPU core.
// Guest code never executes. Tests stand in for guest functions with
// Program and enter host trampolines with Trap.
package emutest

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/wnxd/mcpehost/emulator"
)

const pageSize = 0x1000

type region struct {
	emulator.MemRegion
	data []byte
}

type hook struct {
	emu        *Emulator
	typ        emulator.HookType
	callback   any
	data       any
	begin, end uint64
}

type Emulator struct {
	arch    emulator.Arch
	mu      sync.Mutex
	regions []*region
	regs    map[emulator.Reg]uint64
	hooks   []*hook
	progs   map[uint64]Func
	stopped bool
}

// Func stands in for the guest function at some address.
type Func func(e *Emulator) error

func New(arch emulator.Arch) *Emulator {
	return &Emulator{arch: arch, regs: make(map[emulator.Reg]uint64), progs: make(map[uint64]Func)}
}

func (e *Emulator) Close() error {
	return nil
}

func (e *Emulator) Arch() emulator.Arch {
	return e.arch
}

func (e *Emulator) ByteOrder() emulator.ByteOrder {
	return emulator.BO_LITTLE_ENDIAN
}

func (e *Emulator) PageSize() uint64 {
	return pageSize
}

func (e *Emulator) MemMap(addr, size uint64, prot emulator.MemProt) error {
	if addr%pageSize != 0 || size%pageSize != 0 || size == 0 {
		return errors.New("unaligned mapping")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.regions {
		if addr < r.End() && r.Addr < addr+size {
			return errors.New("mapping overlaps")
		}
	}
	e.regions = append(e.regions, &region{MemRegion: emulator.MemRegion{Addr: addr, Size: size, Prot: prot}, data: make([]byte, size)})
	slices.SortFunc(e.regions, func(a, b *region) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
	return nil
}

func (e *Emulator) MemUnmap(addr, size uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.regions)
	e.regions = slices.DeleteFunc(e.regions, func(r *region) bool {
		return r.Addr >= addr && r.End() <= addr+size
	})
	if n == len(e.regions) {
		return emulator.ErrMemUnmapped
	}
	return nil
}

func (e *Emulator) MemProtect(addr, size uint64, prot emulator.MemProt) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.regions {
		if r.Contains(addr) {
			r.Prot = prot
			return nil
		}
	}
	return emulator.ErrMemUnmapped
}

func (e *Emulator) MemRegions() ([]emulator.MemRegion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	arr := make([]emulator.MemRegion, len(e.regions))
	for i, r := range e.regions {
		arr[i] = r.MemRegion
	}
	return arr, nil
}

func (e *Emulator) MemRead(addr, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	return buf, e.access(addr, buf, false)
}

func (e *Emulator) MemWrite(addr uint64, data []byte) error {
	return e.access(addr, data, true)
}

func (e *Emulator) access(addr uint64, buf []byte, write bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(buf) > 0 {
		r := e.find(addr)
		if r == nil {
			return emulator.ErrMemUnmapped
		}
		off := addr - r.Addr
		var n int
		if write {
			n = copy(r.data[off:], buf)
		} else {
			n = copy(buf, r.data[off:])
		}
		buf = buf[n:]
		addr += uint64(n)
	}
	return nil
}

func (e *Emulator) find(addr uint64) *region {
	for _, r := range e.regions {
		if r.Contains(addr) {
			return r
		}
	}
	return nil
}

func (e *Emulator) RegRead(reg emulator.Reg) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regs[reg], nil
}

func (e *Emulator) RegWrite(reg emulator.Reg, value uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regs[reg] = value
	return nil
}

func (e *Emulator) RegReadBatch(regs ...emulator.Reg) ([]uint64, error) {
	vals := make([]uint64, len(regs))
	for i, reg := range regs {
		vals[i], _ = e.RegRead(reg)
	}
	return vals, nil
}

func (e *Emulator) RegWriteBatch(regs []emulator.Reg, vals []uint64) error {
	for i, reg := range regs {
		e.RegWrite(reg, vals[i])
	}
	return nil
}

type cpuContext struct {
	emu  *Emulator
	regs map[emulator.Reg]uint64
}

func (e *Emulator) ContextAlloc() (emulator.Context, error) {
	return &cpuContext{emu: e}, nil
}

func (c *cpuContext) Save() error {
	c.emu.mu.Lock()
	c.regs = maps.Clone(c.emu.regs)
	c.emu.mu.Unlock()
	return nil
}

func (c *cpuContext) Restore() error {
	if c.regs == nil {
		return emulator.ErrContextEmpty
	}
	c.emu.mu.Lock()
	c.emu.regs = maps.Clone(c.regs)
	c.emu.mu.Unlock()
	return nil
}

func (c *cpuContext) Close() error {
	c.regs = nil
	return nil
}

// Program installs fn as the body of the guest function at addr.
func (e *Emulator) Program(addr uint64, fn Func) {
	e.mu.Lock()
	e.progs[addr&^1] = fn
	e.mu.Unlock()
}

// PC returns the program counter register of the emulated arch.
func (e *Emulator) PC() emulator.Reg {
	switch e.arch {
	case emulator.ARCH_ARM:
		return emulator.ARM_REG_PC
	case emulator.ARCH_ARM64:
		return emulator.ARM64_REG_PC
	case emulator.ARCH_X86:
		return emulator.X86_REG_EIP
	}
	return emulator.X86_64_REG_RIP
}

// Start runs the program installed at begin, then parks the program
// counter at until unless the program called Stop.
func (e *Emulator) Start(begin, until uint64) error {
	e.mu.Lock()
	fn, ok := e.progs[begin&^1]
	e.stopped = false
	e.mu.Unlock()
	if !ok {
		return errors.ErrUnsupported
	}
	e.RegWrite(e.PC(), begin)
	if err := fn(e); err != nil {
		return err
	}
	e.mu.Lock()
	stopped := e.stopped
	e.stopped = false
	e.mu.Unlock()
	if !stopped {
		e.RegWrite(e.PC(), until)
	}
	return nil
}

func (e *Emulator) Stop() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return nil
}

func (e *Emulator) Hook(typ emulator.HookType, callback any, data any, begin, end uint64) (emulator.Hook, error) {
	h := &hook{emu: e, typ: typ, callback: callback, data: data, begin: begin, end: end}
	e.mu.Lock()
	e.hooks = append(e.hooks, h)
	e.mu.Unlock()
	return h, nil
}

// Trap simulates the guest executing the trap instruction ending at pc.
// Interrupt hooks fire with the program counter already past the trap.
func (e *Emulator) Trap(pcReg emulator.Reg, pc uint64) {
	e.RegWrite(pcReg, pc)
	e.mu.Lock()
	hooks := slices.Clone(e.hooks)
	e.mu.Unlock()
	for _, h := range hooks {
		if h.typ != emulator.HOOK_TYPE_INTR {
			continue
		}
		if h.begin <= h.end && (pc < h.begin || pc > h.end) {
			continue
		}
		h.callback.(emulator.InterruptCallback)(0, h.data)
	}
}

func (h *hook) Close() error {
	h.emu.mu.Lock()
	h.emu.hooks = slices.DeleteFunc(h.emu.hooks, func(v *hook) bool { return v == h })
	h.emu.mu.Unlock()
	return nil
}
