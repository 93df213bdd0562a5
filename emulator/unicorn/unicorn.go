//go:build unicorn

// Package unicorn backs emulator.Emulator with the unicorn CPU engine.
package unicorn

import (
	"sync"

	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"github.com/wnxd/mcpehost/emulator"
)

const pageSize = 0x1000

type unicorn struct {
	mu   uc.Unicorn
	arch emulator.Arch
	regs map[emulator.Reg]int
}

type cpuContext struct {
	mu  uc.Unicorn
	ctx uc.Context
}

type hook struct {
	once sync.Once
	mu   uc.Unicorn
	h    uc.Hook
}

// New creates an emulator for arch.
func New(arch emulator.Arch) (emulator.Emulator, error) {
	var ucArch, ucMode int
	var regs map[emulator.Reg]int
	switch arch {
	case emulator.ARCH_ARM:
		ucArch, ucMode, regs = uc.ARCH_ARM, uc.MODE_ARM, armRegs
	case emulator.ARCH_ARM64:
		ucArch, ucMode, regs = uc.ARCH_ARM64, uc.MODE_ARM, arm64Regs
	case emulator.ARCH_X86:
		ucArch, ucMode, regs = uc.ARCH_X86, uc.MODE_32, x86Regs
	case emulator.ARCH_X86_64:
		ucArch, ucMode, regs = uc.ARCH_X86, uc.MODE_64, x86_64Regs
	default:
		return nil, emulator.ErrArchUnsupported
	}
	mu, err := uc.NewUnicorn(ucArch, ucMode)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create new unicorn instance")
	}
	u := &unicorn{mu: mu, arch: arch, regs: regs}
	if arch == emulator.ARCH_ARM64 {
		// enable vfp
		cpacr, err := mu.RegRead(uc.ARM64_REG_CPACR_EL1)
		if err != nil {
			mu.Close()
			return nil, errors.Wrap(err, "failed to read cpacr_el1 register")
		}
		if err := mu.RegWrite(uc.ARM64_REG_CPACR_EL1, cpacr|0x300000); err != nil {
			mu.Close()
			return nil, errors.Wrap(err, "failed to enable vfp")
		}
	}
	return u, nil
}

func (u *unicorn) Close() error {
	return u.mu.Close()
}

func (u *unicorn) Arch() emulator.Arch {
	return u.arch
}

func (u *unicorn) ByteOrder() emulator.ByteOrder {
	return emulator.BO_LITTLE_ENDIAN
}

func (u *unicorn) PageSize() uint64 {
	return pageSize
}

func (u *unicorn) MemMap(addr, size uint64, prot emulator.MemProt) error {
	return u.mu.MemMapProt(addr, size, toProt(prot))
}

func (u *unicorn) MemUnmap(addr, size uint64) error {
	return u.mu.MemUnmap(addr, size)
}

func (u *unicorn) MemProtect(addr, size uint64, prot emulator.MemProt) error {
	return u.mu.MemProtect(addr, size, toProt(prot))
}

func (u *unicorn) MemRegions() ([]emulator.MemRegion, error) {
	regions, err := u.mu.MemRegions()
	if err != nil {
		return nil, err
	}
	arr := make([]emulator.MemRegion, 0, len(regions))
	for _, r := range regions {
		arr = append(arr, emulator.MemRegion{Addr: r.Begin, Size: r.End - r.Begin + 1, Prot: fromProt(r.Prot)})
	}
	return arr, nil
}

func (u *unicorn) MemRead(addr, size uint64) ([]byte, error) {
	return u.mu.MemRead(addr, size)
}

func (u *unicorn) MemWrite(addr uint64, data []byte) error {
	return u.mu.MemWrite(addr, data)
}

func (u *unicorn) RegRead(reg emulator.Reg) (uint64, error) {
	r, ok := u.regs[reg]
	if !ok {
		return 0, emulator.ErrRegUnsupported
	}
	return u.mu.RegRead(r)
}

func (u *unicorn) RegWrite(reg emulator.Reg, value uint64) error {
	r, ok := u.regs[reg]
	if !ok {
		return emulator.ErrRegUnsupported
	}
	return u.mu.RegWrite(r, value)
}

func (u *unicorn) RegReadBatch(regs ...emulator.Reg) ([]uint64, error) {
	vals := make([]uint64, len(regs))
	for i, reg := range regs {
		v, err := u.RegRead(reg)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (u *unicorn) RegWriteBatch(regs []emulator.Reg, vals []uint64) error {
	for i, reg := range regs {
		if err := u.RegWrite(reg, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func (u *unicorn) ContextAlloc() (emulator.Context, error) {
	return &cpuContext{mu: u.mu}, nil
}

func (u *unicorn) Start(begin, until uint64) error {
	// arm thumb entries keep the low bit set, unicorn switches mode on it
	return u.mu.Start(begin, until)
}

func (u *unicorn) Stop() error {
	return u.mu.Stop()
}

func (u *unicorn) Hook(typ emulator.HookType, callback any, data any, begin, end uint64) (emulator.Hook, error) {
	var h uc.Hook
	var err error
	switch typ {
	case emulator.HOOK_TYPE_INTR:
		cb, ok := callback.(emulator.InterruptCallback)
		if !ok {
			return nil, emulator.ErrHookUnsupported
		}
		h, err = u.mu.HookAdd(uc.HOOK_INTR, func(mu uc.Unicorn, intno uint32) {
			cb(uint64(intno), data)
		}, begin, end)
	case emulator.HOOK_TYPE_INSN_INVALID:
		cb, ok := callback.(emulator.InvalidCallback)
		if !ok {
			return nil, emulator.ErrHookUnsupported
		}
		h, err = u.mu.HookAdd(uc.HOOK_INSN_INVALID, func(mu uc.Unicorn) bool {
			return cb(data)
		}, begin, end)
	case emulator.HOOK_TYPE_CODE, emulator.HOOK_TYPE_BLOCK:
		cb, ok := callback.(emulator.CodeCallback)
		if !ok {
			return nil, emulator.ErrHookUnsupported
		}
		htype := uc.HOOK_CODE
		if typ == emulator.HOOK_TYPE_BLOCK {
			htype = uc.HOOK_BLOCK
		}
		h, err = u.mu.HookAdd(htype, func(mu uc.Unicorn, addr uint64, size uint32) {
			cb(addr, uint64(size), data)
		}, begin, end)
	default:
		cb, ok := callback.(emulator.MemoryCallback)
		if !ok {
			return nil, emulator.ErrHookUnsupported
		}
		htype := toHookType(typ)
		if htype == 0 {
			return nil, emulator.ErrHookUnsupported
		}
		if typ&emulator.HOOK_TYPE_MEM_INVALID != 0 {
			h, err = u.mu.HookAdd(htype, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) bool {
				return cb(fromAccess(access), addr, uint64(size), uint64(value), data)
			}, begin, end)
		} else {
			h, err = u.mu.HookAdd(htype, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) {
				cb(fromAccess(access), addr, uint64(size), uint64(value), data)
			}, begin, end)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to register hook %#x", typ)
	}
	return &hook{mu: u.mu, h: h}, nil
}

func (h *hook) Close() (err error) {
	h.once.Do(func() {
		err = h.mu.HookDel(h.h)
	})
	return
}

func (c *cpuContext) Save() error {
	ctx, err := c.mu.ContextSave(c.ctx)
	if err != nil {
		return errors.Wrap(err, "failed to save cpu context")
	}
	c.ctx = ctx
	return nil
}

func (c *cpuContext) Restore() error {
	if c.ctx == nil {
		return emulator.ErrContextEmpty
	}
	return c.mu.ContextRestore(c.ctx)
}

func (c *cpuContext) Close() error {
	c.ctx = nil
	return nil
}

func toProt(prot emulator.MemProt) int {
	var p int
	if prot&emulator.MEM_PROT_READ != 0 {
		p |= uc.PROT_READ
	}
	if prot&emulator.MEM_PROT_WRITE != 0 {
		p |= uc.PROT_WRITE
	}
	if prot&emulator.MEM_PROT_EXEC != 0 {
		p |= uc.PROT_EXEC
	}
	return p
}

func fromProt(p int) emulator.MemProt {
	var prot emulator.MemProt
	if p&uc.PROT_READ != 0 {
		prot |= emulator.MEM_PROT_READ
	}
	if p&uc.PROT_WRITE != 0 {
		prot |= emulator.MEM_PROT_WRITE
	}
	if p&uc.PROT_EXEC != 0 {
		prot |= emulator.MEM_PROT_EXEC
	}
	return prot
}

var hookTypes = []struct {
	typ emulator.HookType
	uc  int
}{
	{emulator.HOOK_TYPE_MEM_READ_UNMAPPED, uc.HOOK_MEM_READ_UNMAPPED},
	{emulator.HOOK_TYPE_MEM_WRITE_UNMAPPED, uc.HOOK_MEM_WRITE_UNMAPPED},
	{emulator.HOOK_TYPE_MEM_FETCH_UNMAPPED, uc.HOOK_MEM_FETCH_UNMAPPED},
	{emulator.HOOK_TYPE_MEM_READ_PROT, uc.HOOK_MEM_READ_PROT},
	{emulator.HOOK_TYPE_MEM_WRITE_PROT, uc.HOOK_MEM_WRITE_PROT},
	{emulator.HOOK_TYPE_MEM_FETCH_PROT, uc.HOOK_MEM_FETCH_PROT},
	{emulator.HOOK_TYPE_MEM_READ, uc.HOOK_MEM_READ},
	{emulator.HOOK_TYPE_MEM_WRITE, uc.HOOK_MEM_WRITE},
	{emulator.HOOK_TYPE_MEM_FETCH, uc.HOOK_MEM_FETCH},
	{emulator.HOOK_TYPE_MEM_READ_AFTER, uc.HOOK_MEM_READ_AFTER},
}

func toHookType(typ emulator.HookType) int {
	var htype int
	for _, t := range hookTypes {
		if typ&t.typ != 0 {
			htype |= t.uc
		}
	}
	return htype
}

func fromAccess(access int) emulator.HookType {
	switch access {
	case uc.MEM_READ:
		return emulator.HOOK_TYPE_MEM_READ
	case uc.MEM_WRITE:
		return emulator.HOOK_TYPE_MEM_WRITE
	case uc.MEM_FETCH:
		return emulator.HOOK_TYPE_MEM_FETCH
	case uc.MEM_READ_UNMAPPED:
		return emulator.HOOK_TYPE_MEM_READ_UNMAPPED
	case uc.MEM_WRITE_UNMAPPED:
		return emulator.HOOK_TYPE_MEM_WRITE_UNMAPPED
	case uc.MEM_FETCH_UNMAPPED:
		return emulator.HOOK_TYPE_MEM_FETCH_UNMAPPED
	case uc.MEM_READ_PROT:
		return emulator.HOOK_TYPE_MEM_READ_PROT
	case uc.MEM_WRITE_PROT:
		return emulator.HOOK_TYPE_MEM_WRITE_PROT
	case uc.MEM_FETCH_PROT:
		return emulator.HOOK_TYPE_MEM_FETCH_PROT
	case uc.MEM_READ_AFTER:
		return emulator.HOOK_TYPE_MEM_READ_AFTER
	}
	return 0
}
