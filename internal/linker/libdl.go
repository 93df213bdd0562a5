package linker

import (
	"context"
	"math"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/internal/hybris"
)

const rtldDefault = 0

type dlState struct {
	errAddr uint64
	err     string
	strs    map[string]uint64
}

func (l *Linker) fail(err error) {
	l.mu.Lock()
	l.dl.err = err.Error()
	l.mu.Unlock()
	linkerLog.WithError(err).Debug("dl call failed")
}

func (l *Linker) guestString(s string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if addr, ok := l.dl.strs[s]; ok {
		return addr
	}
	addr, err := l.dbg.MemImportString(s)
	if err != nil {
		return 0
	}
	if l.dl.strs == nil {
		l.dl.strs = make(map[string]uint64)
	}
	l.dl.strs[s] = addr
	return addr
}

func (l *Linker) isGlobal(handle uint64) bool {
	next := uint64(math.MaxUint64)
	if l.dbg.PointerSize() == 4 {
		next = math.MaxUint32
	}
	return handle == rtldDefault || handle == next
}

func (l *Linker) dlopen(ctx debugger.Context, _ any) {
	var path string
	var flags int32
	ctx.ArgExtract(&path, &flags)
	if path == "" {
		ctx.RetWrite(uint64(rtldDefault))
		return
	}
	lib, err := l.Dlopen(path, nil)
	if err == nil {
		err = lib.Init(context.Background())
	}
	if err != nil {
		l.fail(err)
		ctx.RetWrite(uint64(0))
		return
	}
	ctx.RetWrite(lib.Handle())
}

func (l *Linker) dlsym(ctx debugger.Context, _ any) {
	handle := ctx.Arg(0)
	name, _ := ctx.ToPointer(ctx.Arg(1)).MemReadString()
	var lib Library
	if !l.isGlobal(handle) {
		var ok bool
		if lib, ok = l.ByHandle(handle); !ok {
			l.fail(ErrInvalidHandle)
			ctx.RetWrite(uint64(0))
			return
		}
	}
	addr, err := l.Dlsym(lib, name)
	if err != nil {
		l.fail(err)
		addr = 0
	}
	ctx.RetWrite(addr)
}

func (l *Linker) dlclose(ctx debugger.Context, _ any) {
	lib, ok := l.ByHandle(ctx.Arg(0))
	if !ok {
		l.fail(ErrInvalidHandle)
		ctx.RetWrite(uint64(math.MaxUint32))
		return
	}
	if err := l.Dlclose(lib); err != nil {
		l.fail(err)
		ctx.RetWrite(uint64(math.MaxUint32))
		return
	}
	ctx.RetWrite(uint64(0))
}

func (l *Linker) dlerror(ctx debugger.Context, _ any) {
	l.mu.Lock()
	msg := l.dl.err
	l.dl.err = ""
	if l.dl.errAddr != 0 {
		l.dbg.MemFree(l.dl.errAddr)
		l.dl.errAddr = 0
	}
	if msg != "" {
		l.dl.errAddr, _ = l.dbg.MemImportString(msg)
	}
	addr := l.dl.errAddr
	l.mu.Unlock()
	ctx.RetWrite(addr)
}

// dladdr fills a Dl_info with the library containing addr and the
// closest exported symbol at or below it.
func (l *Linker) dladdr(ctx debugger.Context, _ any) {
	addr, info := ctx.Arg(0), ctx.Arg(1)
	m, err := l.owner(addr)
	if err != nil || info == 0 {
		ctx.RetWrite(uint64(0))
		return
	}
	var sym debugger.Symbol
	if it, ok := m.(debugger.SymbolIter); ok {
		it.Symbols(func(s debugger.Symbol) bool {
			if s.Value <= addr && s.Value > sym.Value {
				sym = s
			}
			return true
		})
	}
	size := l.dbg.PointerSize()
	fields := []uint64{l.guestString(m.Name()), m.BaseAddr(), 0, 0}
	if sym.Name != "" {
		fields[2], fields[3] = l.guestString(sym.Name), sym.Value
	}
	p := ctx.ToPointer(info)
	for i, v := range fields {
		p.Add(uint64(i) * size).MemWritePointer(v)
	}
	ctx.RetWrite(uint64(1))
}

func (l *Linker) owner(addr uint64) (debugger.Module, error) {
	if m, err := l.dbg.FindModuleByAddr(addr); err == nil {
		return m, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if h, ok := e.lib.(*hostLibrary); ok && h.owns(addr) {
			return h, nil
		}
	}
	return nil, debugger.ErrModuleNotFound
}

// LibDL returns the libdl.so table served by this linker.
func (l *Linker) LibDL() *hybris.HookTable {
	t := hybris.NewHookTable()
	t.AddFunc("dlopen", l.dlopen)
	t.AddFunc("android_dlopen_ext", l.dlopen)
	t.AddFunc("dlsym", l.dlsym)
	t.AddFunc("dlvsym", l.dlsym)
	t.AddFunc("dlclose", l.dlclose)
	t.AddFunc("dlerror", l.dlerror)
	t.AddFunc("dladdr", l.dladdr)
	t.AddFunc("dl_iterate_phdr", hybris.Nop(0))
	t.AddFunc("dl_unwind_find_exidx", hybris.Nop(0))
	t.AddFunc("android_get_LD_LIBRARY_PATH", hybris.Nop(0))
	t.AddFunc("android_update_LD_LIBRARY_PATH", func(ctx debugger.Context, _ any) {
		path, _ := ctx.ToPointer(ctx.Arg(0)).MemReadString()
		l.UpdateLibraryPath(path)
		ctx.RetWrite(uint64(0))
	})
	return t
}
