package linker

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/hybris"
	"github.com/wnxd/mcpehost/loader"
)

// Object is a shared object mapped into guest memory.
type Object struct {
	dbg  debugger.Debugger
	mod  loader.Module
	base uint64
	size uint64
	deps []*Object

	mu     sync.Mutex
	ctrls  map[string]debugger.ControlHandler
	inited bool
	closed bool
}

func span(regions []loader.Region, page uint64) uint64 {
	var end uint64
	for _, r := range regions {
		end = max(end, r.Addr+r.Size)
	}
	return debugger.Align(end, page)
}

func mapObject(dbg debugger.Debugger, m loader.Module) (*Object, error) {
	emu := dbg.Emulator()
	size := span(m.Regions(), emu.PageSize())
	if size == 0 {
		return nil, errors.Errorf("%s has no loadable segments", m.Name())
	}
	region, err := dbg.MapAlloc(size, emulator.MEM_PROT_READ|emulator.MEM_PROT_WRITE)
	if err != nil {
		return nil, errors.Wrapf(err, "map %s (%s)", m.Name(), humanize.IBytes(size))
	}
	obj := &Object{
		dbg:   dbg,
		mod:   m,
		base:  region.Addr,
		size:  region.Size,
		ctrls: make(map[string]debugger.ControlHandler),
	}
	for _, r := range m.Regions() {
		if r.Length == 0 || r.ReaderAt == nil {
			continue
		}
		data := make([]byte, r.Length)
		if _, err = r.ReadAt(data, 0); err != nil && err != io.EOF {
			dbg.MapFree(obj.base, obj.size)
			return nil, errors.Wrapf(err, "read %s segment %#x", m.Name(), r.Addr)
		}
		if err = emu.MemWrite(obj.base+r.Addr, data); err != nil {
			dbg.MapFree(obj.base, obj.size)
			return nil, err
		}
	}
	return obj, nil
}

// protect applies the segment permissions once relocation is done.
func (o *Object) protect() error {
	page := o.dbg.Emulator().PageSize()
	for _, r := range o.mod.Regions() {
		begin := o.base + r.Addr&^(page-1)
		end := debugger.Align(o.base+r.Addr+r.Size, page)
		if err := o.dbg.MemProtect(begin, end-begin, r.Prot|emulator.MEM_PROT_READ); err != nil {
			return err
		}
	}
	return nil
}

func (o *Object) writeWord(addr, size, value uint64) error {
	bo := o.mod.ByteOrder()
	buf := make([]byte, size)
	switch size {
	case 4:
		bo.PutUint32(buf, uint32(value))
	case 8:
		bo.PutUint64(buf, value)
	default:
		return errors.Errorf("%s: relocation size %d at %#x", o.Name(), size, addr)
	}
	return o.dbg.Emulator().MemWrite(o.base+addr, buf)
}

func (o *Object) bindHook(name string, h hybris.Hook) (uint64, error) {
	if h.Func == nil {
		return h.Addr, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if ctrl, ok := o.ctrls[name]; ok {
		return ctrl.Addr(), nil
	}
	ctrl, err := o.dbg.AddControl(h.Func, nil)
	if err != nil {
		return 0, err
	}
	o.ctrls[name] = ctrl
	return ctrl.Addr(), nil
}

func (o *Object) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.unmap()
	return o.mod.Close()
}

func (o *Object) unmap() {
	for _, ctrl := range o.ctrls {
		ctrl.Close()
	}
	o.ctrls = nil
	o.dbg.MapFree(o.base, o.size)
}

func (o *Object) Name() string {
	return o.mod.Name()
}

func (o *Object) Region() (uint64, uint64) {
	return o.base, o.size
}

func (o *Object) BaseAddr() uint64 {
	return o.base
}

func (o *Object) Handle() uint64 {
	return o.base
}

func (o *Object) EntryAddr() uint64 {
	if e := o.mod.EntryAddr(); e != 0 {
		return o.base + e
	}
	return 0
}

func (o *Object) ByteOrder() binary.ByteOrder {
	return o.mod.ByteOrder()
}

// Init runs the initializers of o's dependencies and then its own, each
// object at most once.
func (o *Object) Init(ctx context.Context) error {
	o.mu.Lock()
	if o.inited {
		o.mu.Unlock()
		return nil
	}
	o.inited = true
	o.mu.Unlock()
	for _, dep := range o.deps {
		if err := dep.Init(ctx); err != nil {
			return err
		}
	}
	for _, addr := range o.mod.InitAddrs() {
		if addr == 0 || addr == ^uint64(0) {
			continue
		}
		if _, err := o.dbg.Call(ctx, o.base+addr); err != nil {
			return errors.Wrapf(err, "%s: initializer %#x", o.Name(), addr)
		}
	}
	return nil
}

func (o *Object) FindSymbol(name string) (uint64, error) {
	addr, err := o.mod.FindSymbol(name)
	if err != nil {
		return 0, debugger.ErrSymbolNotFound
	}
	return o.base + addr, nil
}

func (o *Object) Symbols(yield func(debugger.Symbol) bool) {
	for name, addr := range o.mod.Symbols() {
		if !yield(debugger.Symbol{Name: name, Value: o.base + addr}) {
			return
		}
	}
}
