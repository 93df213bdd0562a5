package hybris

import (
	"math"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/apex/log"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/encoding"
)

// Env is the guest process the host libraries operate on.
type Env struct {
	Dbg    debugger.Debugger
	Layout *encoding.Layout

	once    sync.Once
	errno   uint64
	mu      sync.Mutex
	streams map[uint64]*stream
	dirs    map[uint64]*dirStream
	exits   []exitHandler
	keys    keyStore
	sync    syncTable
	environ map[string]uint64
	rng     *rand.Rand

	// Exit ends the process on behalf of the guest.
	Exit func(code int)
}

func NewEnv(dbg debugger.Debugger) *Env {
	return &Env{
		Dbg:     dbg,
		Layout:  encoding.LayoutOf(dbg.Emulator().Arch()),
		streams: make(map[uint64]*stream),
		dirs:    make(map[uint64]*dirStream),
		environ: make(map[string]uint64),
		rng:     rand.New(rand.NewPCG(1, 1)),
		Exit:    os.Exit,
	}
}

func (e *Env) Arch() emulator.Arch {
	return e.Dbg.Emulator().Arch()
}

func (e *Env) ptr(addr uint64) emulator.Pointer {
	return e.Dbg.ToPointer(addr)
}

// errnoAddr returns the guest word behind __errno.
func (e *Env) errnoAddr() uint64 {
	e.once.Do(func() {
		addr, err := e.Dbg.MemAlloc(4)
		if err != nil {
			log.WithField("component", "libc").WithError(err).Error("errno allocation failed")
			return
		}
		e.errno = addr
	})
	return e.errno
}

func (e *Env) setErrno(code int) {
	if addr := e.errnoAddr(); addr != 0 {
		e.ptr(addr).MemWriteUint32(uint32(code))
	}
}

// signed sign-extends a raw argument of the guest word size.
func (e *Env) signed(v uint64) int64 {
	if e.Arch().PointerSize() == 4 {
		return int64(int32(v))
	}
	return int64(v)
}

// minusOne is -1 at the guest word size.
func (e *Env) minusOne() uint64 {
	if e.Arch().PointerSize() == 4 {
		return math.MaxUint32
	}
	return math.MaxUint64
}

type cfunc func(ctx debugger.Context) uint64

// wrap turns fn into a control callback returning its result to the guest.
func wrap(fn cfunc) debugger.ControlCallback {
	return func(ctx debugger.Context, _ any) {
		ctx.RetWrite(fn(ctx))
	}
}

func (t *HookTable) add(name string, fn cfunc) {
	t.AddFunc(name, wrap(fn))
}

// Nop returns a callback that returns v without side effects.
func Nop(v uint64) debugger.ControlCallback {
	return func(ctx debugger.Context, _ any) {
		ctx.RetWrite(v)
	}
}

// Stub returns a callback that logs the call under component and returns 0.
func Stub(component, name, msg string) debugger.ControlCallback {
	l := log.WithField("component", component)
	return func(ctx debugger.Context, _ any) {
		l.Warnf("%s: %s", msg, name)
		ctx.RetWrite(uint64(0))
	}
}
