package hybris

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"os"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/encoding"
)

// sysconf names used by bionic.
const (
	scClkTck          = 0x6
	scPageSize        = 0x27
	scPageSizeAlt     = 0x28
	scNprocessorsConf = 0x60
	scNprocessorsOnln = 0x61
)

const (
	mapFixed     = 0x10
	mapAnonymous = 0x20
)

// sdkVersion is the Android API level reported to the guest.
const sdkVersion = "27"

type exitHandler struct {
	fn, arg, dso uint64
}

type tm struct {
	Sec    int32
	Min    int32
	Hour   int32
	Mday   int32
	Mon    int32
	Year   int32
	Wday   int32
	Yday   int32
	Isdst  int32
	Gmtoff int
	Zone   encoding.Pointer
}

func (e *Env) processFuncs(t *HookTable) {
	t.add("mmap", e.mmap)
	t.add("mmap64", e.mmap)
	t.add("munmap", func(ctx debugger.Context) uint64 {
		if err := e.Dbg.MapFree(ctx.Arg(0), ctx.Arg(1)); err != nil {
			return e.fail(syscall.EINVAL)
		}
		return 0
	})
	t.add("mprotect", func(ctx debugger.Context) uint64 {
		if err := e.Dbg.MemProtect(ctx.Arg(0), ctx.Arg(1), protOf(ctx.Arg(2))); err != nil {
			return e.fail(syscall.ENOMEM)
		}
		return 0
	})
	t.add("getpid", func(ctx debugger.Context) uint64 {
		return uint64(os.Getpid())
	})
	t.add("getppid", func(ctx debugger.Context) uint64 {
		return uint64(os.Getppid())
	})
	t.add("getuid", func(ctx debugger.Context) uint64 {
		return uint64(os.Getuid())
	})
	t.add("geteuid", func(ctx debugger.Context) uint64 {
		return uint64(os.Geteuid())
	})
	t.add("getgid", func(ctx debugger.Context) uint64 {
		return uint64(os.Getgid())
	})
	t.add("getenv", func(ctx debugger.Context) uint64 {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.environ[e.str(ctx.Arg(0))]
	})
	t.add("setenv", func(ctx debugger.Context) uint64 {
		name := e.str(ctx.Arg(0))
		e.mu.Lock()
		_, exists := e.environ[name]
		e.mu.Unlock()
		if exists && ctx.Arg(2) == 0 {
			return 0
		}
		addr := e.newString(e.str(ctx.Arg(1)))
		e.mu.Lock()
		e.environ[name] = addr
		e.mu.Unlock()
		return 0
	})
	t.add("unsetenv", func(ctx debugger.Context) uint64 {
		e.mu.Lock()
		delete(e.environ, e.str(ctx.Arg(0)))
		e.mu.Unlock()
		return 0
	})
	t.add("__system_property_get", func(ctx debugger.Context) uint64 {
		var value string
		if e.str(ctx.Arg(0)) == "ro.build.version.sdk" {
			value = sdkVersion
		}
		e.ptr(ctx.Arg(1)).MemWriteString(value)
		return uint64(len(value))
	})
	t.add("sysconf", func(ctx debugger.Context) uint64 {
		switch int32(ctx.Arg(0)) {
		case scClkTck:
			return 100
		case scPageSize, scPageSizeAlt:
			return e.Dbg.Emulator().PageSize()
		case scNprocessorsConf, scNprocessorsOnln:
			return uint64(runtime.NumCPU())
		}
		return e.fail(syscall.EINVAL)
	})
	t.add("time", func(ctx debugger.Context) uint64 {
		now := uint64(time.Now().Unix())
		if addr := ctx.Arg(0); addr != 0 {
			e.writeWord(addr, now)
		}
		return now
	})
	t.add("gettimeofday", func(ctx debugger.Context) uint64 {
		now := time.Now()
		if addr := ctx.Arg(0); addr != 0 {
			e.Layout.Write(e.ptr(addr), &timespec{Sec: int(now.Unix()), Nsec: now.Nanosecond() / 1000})
		}
		return 0
	})
	t.add("clock_gettime", func(ctx debugger.Context) uint64 {
		var now timespec
		switch int32(ctx.Arg(0)) {
		case 0:
			now = toTimespec(time.Now())
		default:
			d := time.Since(bootTime)
			now = timespec{Sec: int(d / time.Second), Nsec: int(d % time.Second)}
		}
		if err := e.Layout.Write(e.ptr(ctx.Arg(1)), &now); err != nil {
			return e.fail(syscall.EFAULT)
		}
		return 0
	})
	t.add("clock", func(ctx debugger.Context) uint64 {
		return uint64(time.Since(bootTime) / time.Microsecond)
	})
	t.add("localtime_r", func(ctx debugger.Context) uint64 {
		return e.writeTm(ctx.Arg(0), ctx.Arg(1), time.Local)
	})
	t.add("gmtime_r", func(ctx debugger.Context) uint64 {
		return e.writeTm(ctx.Arg(0), ctx.Arg(1), time.UTC)
	})
	t.add("rand", func(ctx debugger.Context) uint64 {
		return uint64(e.rng.Int32())
	})
	t.add("lrand48", func(ctx debugger.Context) uint64 {
		return uint64(e.rng.Int32())
	})
	t.add("random", func(ctx debugger.Context) uint64 {
		return uint64(e.rng.Int32())
	})
	t.add("srand", func(ctx debugger.Context) uint64 {
		seed := uint64(uint32(ctx.Arg(0)))
		e.rng = rand.New(rand.NewPCG(seed, seed))
		return 0
	})
	t.add("arc4random", func(ctx debugger.Context) uint64 {
		var b [4]byte
		crand.Read(b[:])
		return uint64(binary.LittleEndian.Uint32(b[:]))
	})
	t.add("qsort", func(ctx debugger.Context) uint64 {
		e.qsort(ctx.Arg(0), ctx.Arg(1), ctx.Arg(2), ctx.Arg(3))
		return 0
	})
	t.add("atexit", func(ctx debugger.Context) uint64 {
		e.mu.Lock()
		e.exits = append(e.exits, exitHandler{fn: ctx.Arg(0)})
		e.mu.Unlock()
		return 0
	})
	t.add("__cxa_atexit", func(ctx debugger.Context) uint64 {
		e.mu.Lock()
		e.exits = append(e.exits, exitHandler{fn: ctx.Arg(0), arg: ctx.Arg(1), dso: ctx.Arg(2)})
		e.mu.Unlock()
		return 0
	})
	t.add("__cxa_finalize", func(ctx debugger.Context) uint64 {
		e.Finalize(context.Background(), ctx.Arg(0))
		return 0
	})
	t.add("exit", func(ctx debugger.Context) uint64 {
		code := int(int32(ctx.Arg(0)))
		libcLog.Infof("guest exit(%d)", code)
		e.Finalize(context.Background(), 0)
		e.Exit(code)
		return 0
	})
	t.add("_exit", func(ctx debugger.Context) uint64 {
		e.Exit(int(int32(ctx.Arg(0))))
		return 0
	})
	t.add("abort", func(ctx debugger.Context) uint64 {
		libcLog.Error("guest abort")
		e.Exit(134)
		return 0
	})
	t.add("__stack_chk_fail", func(ctx debugger.Context) uint64 {
		libcLog.Error("stack corruption detected")
		e.Exit(134)
		return 0
	})
	var guard [8]byte
	crand.Read(guard[:])
	if addr, err := e.Dbg.MemImport(guard[:e.Dbg.PointerSize()]); err == nil {
		t.Add("__stack_chk_guard", Addr(addr))
	}
	t.add("__errno", func(ctx debugger.Context) uint64 {
		return e.errnoAddr()
	})
	t.add("__errno_location", func(ctx debugger.Context) uint64 {
		return e.errnoAddr()
	})
}

var bootTime = time.Now()

func protOf(p uint64) emulator.MemProt {
	var prot emulator.MemProt
	if p&1 != 0 {
		prot |= emulator.MEM_PROT_READ
	}
	if p&2 != 0 {
		prot |= emulator.MEM_PROT_WRITE
	}
	if p&4 != 0 {
		prot |= emulator.MEM_PROT_EXEC
	}
	return prot
}

func (e *Env) mmap(ctx debugger.Context) uint64 {
	length, prot, flags := ctx.Arg(1), ctx.Arg(2), uint32(ctx.Arg(3))
	fd := int(int32(ctx.Arg(4)))
	if flags&mapFixed != 0 {
		return e.fail(syscall.EINVAL)
	}
	region, err := e.Dbg.MapAlloc(length, protOf(prot)|emulator.MEM_PROT_READ|emulator.MEM_PROT_WRITE)
	if err != nil {
		libcLog.WithError(err).Errorf("mmap of %s failed", humanize.IBytes(length))
		return e.fail(syscall.ENOMEM)
	}
	if flags&mapAnonymous == 0 && fd >= 0 {
		off := e.signed(ctx.Arg(5))
		if _, err := e.seek(fd, off, 0); err == nil {
			e.read(fd, region.Addr, length)
		}
	}
	e.Dbg.MemProtect(region.Addr, region.Size, protOf(prot))
	return region.Addr
}

func (e *Env) writeWord(addr, v uint64) {
	e.ptr(addr).MemWritePointer(v)
}

func (e *Env) writeTm(src, dst uint64, loc *time.Location) uint64 {
	buf, err := e.ptr(src).MemRead(e.Dbg.PointerSize())
	if err != nil {
		return 0
	}
	var sec int64
	if len(buf) == 4 {
		sec = int64(int32(binary.LittleEndian.Uint32(buf)))
	} else {
		sec = int64(binary.LittleEndian.Uint64(buf))
	}
	t := time.Unix(sec, 0).In(loc)
	_, off := t.Zone()
	v := tm{
		Sec:    int32(t.Second()),
		Min:    int32(t.Minute()),
		Hour:   int32(t.Hour()),
		Mday:   int32(t.Day()),
		Mon:    int32(t.Month()) - 1,
		Year:   int32(t.Year() - 1900),
		Wday:   int32(t.Weekday()),
		Yday:   int32(t.YearDay() - 1),
		Gmtoff: off,
	}
	if err := e.Layout.Write(e.ptr(dst), &v); err != nil {
		return 0
	}
	return dst
}

// qsort orders the array through the guest comparator. Elements stay in
// place while comparing and are permuted once at the end.
func (e *Env) qsort(base, n, size, cmp uint64) {
	if n < 2 || size == 0 {
		return
	}
	data, err := e.ptr(base).MemRead(n * size)
	if err != nil {
		return
	}
	idx := make([]uint64, n)
	for i := range idx {
		idx[i] = uint64(i)
	}
	slices.SortStableFunc(idx, func(a, b uint64) int {
		r, err := e.Dbg.Call(context.Background(), cmp, base+a*size, base+b*size)
		if err != nil {
			return 0
		}
		return int(int32(r))
	})
	out := make([]byte, 0, len(data))
	for _, i := range idx {
		out = append(out, data[i*size:(i+1)*size]...)
	}
	e.ptr(base).MemWrite(out)
}

// Finalize runs the exit handlers registered for dso, or all of them
// when dso is 0, in reverse registration order.
func (e *Env) Finalize(ctx context.Context, dso uint64) {
	e.mu.Lock()
	var run []exitHandler
	e.exits = slices.DeleteFunc(e.exits, func(h exitHandler) bool {
		if dso == 0 || h.dso == dso {
			run = append(run, h)
			return true
		}
		return false
	})
	e.mu.Unlock()
	for i := len(run) - 1; i >= 0; i-- {
		if _, err := e.Dbg.Call(ctx, run[i].fn, run[i].arg); err != nil {
			libcLog.WithError(err).Warn("exit handler failed")
		}
	}
}
