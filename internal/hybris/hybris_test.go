package hybris

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/debugger/arm64"
	"github.com/wnxd/mcpehost/internal/debugger/x86"
	"github.com/wnxd/mcpehost/internal/emutest"
)

type guest struct {
	t   *testing.T
	emu *emutest.Emulator
	dbg debugger.Debugger
	env *Env
}

func newGuest(t *testing.T) *guest {
	t.Helper()
	emu := emutest.New(emulator.ARCH_ARM64)
	dbg, err := arm64.NewArm64Debugger(emu)
	if err != nil {
		t.Fatalf("NewArm64Debugger: %v", err)
	}
	t.Cleanup(func() { dbg.Close() })
	env := NewEnv(dbg)
	env.Exit = func(code int) { t.Fatalf("guest exited with %d", code) }
	return &guest{t: t, emu: emu, dbg: dbg, env: env}
}

// call enters the host function bound to name in tbl as guest code would
// and returns X0.
func (g *guest) call(tbl *HookTable, name string, args ...uint64) uint64 {
	g.t.Helper()
	h, ok := tbl.Lookup(name)
	if !ok || h.Func == nil {
		g.t.Fatalf("%s is not a host function", name)
	}
	ctrl, err := g.dbg.AddControl(h.Func, nil)
	if err != nil {
		g.t.Fatal(err)
	}
	defer ctrl.Close()
	for i, arg := range args {
		g.emu.RegWrite(emulator.ARM64_REG_X0+emulator.Reg(i), arg)
	}
	g.emu.RegWrite(emulator.ARM64_REG_LR, 0x1000)
	g.emu.Trap(emulator.ARM64_REG_PC, ctrl.Addr()+4)
	v, _ := g.emu.RegRead(emulator.ARM64_REG_X0)
	return v
}

func (g *guest) str(s string) uint64 {
	g.t.Helper()
	addr, err := g.dbg.MemImportString(s)
	if err != nil {
		g.t.Fatal(err)
	}
	return addr
}

func (g *guest) read(addr uint64) string {
	g.t.Helper()
	s, err := g.dbg.ToPointer(addr).MemReadString()
	if err != nil {
		g.t.Fatal(err)
	}
	return s
}

func (g *guest) alloc(size uint64) uint64 {
	g.t.Helper()
	addr, err := g.dbg.MemAlloc(size)
	if err != nil {
		g.t.Fatal(err)
	}
	return addr
}

func TestHookTableIsAdditive(t *testing.T) {
	tbl := NewHookTable()
	if !tbl.Add("malloc", Addr(0x100)) {
		t.Fatal("first binding refused")
	}
	if tbl.Add("malloc", Addr(0x200)) {
		t.Fatal("binding overwritten")
	}
	if h, _ := tbl.Lookup("malloc"); h.Addr != 0x100 {
		t.Fatalf("malloc = %#x", h.Addr)
	}
	if tbl.Add("", Addr(1)) || tbl.Add("free", Hook{}) {
		t.Fatal("invalid binding accepted")
	}

	other := NewHookTable()
	other.Add("malloc", Addr(0x300))
	other.Add("free", Addr(0x400))
	if n := tbl.Merge(other); n != 1 {
		t.Fatalf("Merge added %d, want 1", n)
	}
	if names := tbl.Names(); len(names) != 2 || names[0] != "malloc" || names[1] != "free" {
		t.Fatalf("names = %v", names)
	}
	var nilTable *HookTable
	if _, ok := nilTable.Lookup("malloc"); ok || nilTable.Len() != 0 {
		t.Fatal("nil table is not empty")
	}
}

func TestAndroidStubsKeepImplementations(t *testing.T) {
	tbl := NewHookTable()
	tbl.Add("ALooper_pollAll", Addr(0x10))
	n := AndroidStubs(tbl)
	if n != len(androidSymbols)-1 {
		t.Fatalf("stubbed %d of %d", n, len(androidSymbols))
	}
	if h, _ := tbl.Lookup("ALooper_pollAll"); h.Addr != 0x10 {
		t.Fatal("stub replaced an implementation")
	}
	if h, ok := tbl.Lookup("ASensorManager_getInstance"); !ok || h.Func == nil {
		t.Fatal("missing symbol not stubbed")
	}
}

type words []uint64

func (w *words) Word() uint64 {
	v := (*w)[0]
	*w = (*w)[1:]
	return v
}

func (w *words) Long() uint64 {
	return w.Word()
}

func (w *words) Double() float64 {
	return math.Float64frombits(w.Word())
}

func TestSprintf(t *testing.T) {
	g := newGuest(t)
	name := g.str("steve")
	tests := []struct {
		format string
		args   words
		want   string
	}{
		{"plain", nil, "plain"},
		{"%d/%i", words{uint64(0xFFFFFFFF), 7}, "-1/7"},
		{"%ld", words{math.MaxUint64}, "-1"},
		{"%u %x %X %o", words{10, 255, 255, 8}, "10 ff FF 10"},
		{"%5d|%-5d|%05d", words{42, 42, 42}, "   42|42   |00042"},
		{"%*d", words{4, 7}, "   7"},
		{"%hhd %hd", words{0x1FF, 0x1FFFF}, "-1 -1"},
		{"%s and %s", words{name, 0}, "steve and (null)"},
		{"%.2f", words{math.Float64bits(3.14159)}, "3.14"},
		{"%c%c", words{'o', 'k'}, "ok"},
		{"%p", words{0x1000}, "0x1000"},
		{"100%%", nil, "100%"},
		{"tail %", nil, "tail %"},
	}
	for _, tt := range tests {
		args := tt.args
		if got := Sprintf(g.emu, tt.format, &args); got != tt.want {
			t.Errorf("Sprintf(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestLibCStrings(t *testing.T) {
	g := newGuest(t)
	libc := LibC(g.env)
	hello := g.str("hello world")
	if n := g.call(libc, "strlen", hello); n != 11 {
		t.Fatalf("strlen = %d", n)
	}
	dup := g.call(libc, "strdup", hello)
	if dup == hello || g.read(dup) != "hello world" {
		t.Fatalf("strdup returned %#x", dup)
	}
	if r := g.call(libc, "strcmp", hello, dup); r != 0 {
		t.Fatalf("strcmp equal = %d", r)
	}
	if r := int64(g.call(libc, "strcmp", g.str("a"), g.str("b"))); r >= 0 {
		t.Fatalf("strcmp(a, b) = %d", r)
	}
	if p := g.call(libc, "strchr", hello, 'w'); p != hello+6 {
		t.Fatalf("strchr = %#x", p)
	}
	if p := g.call(libc, "strstr", hello, g.str("wor")); p != hello+6 {
		t.Fatalf("strstr = %#x", p)
	}
	if v := g.call(libc, "strtol", g.str("  -0x1F rest"), 0, 0); int64(v) != -31 {
		t.Fatalf("strtol = %d", int64(v))
	}
	if v := g.call(libc, "atoi", g.str("123abc")); v != 123 {
		t.Fatalf("atoi = %d", v)
	}
}

func TestLibCMemory(t *testing.T) {
	g := newGuest(t)
	libc := LibC(g.env)
	buf := g.call(libc, "calloc", 4, 8)
	if buf == 0 {
		t.Fatal("calloc failed")
	}
	src := g.str("abcdef")
	g.call(libc, "memcpy", buf, src, 7)
	if g.read(buf) != "abcdef" {
		t.Fatalf("memcpy result %q", g.read(buf))
	}
	g.call(libc, "memset", buf, 'z', 3)
	if g.read(buf) != "zzzdef" {
		t.Fatalf("memset result %q", g.read(buf))
	}
	grown := g.call(libc, "realloc", buf, 64)
	if g.read(grown) != "zzzdef" {
		t.Fatal("realloc lost contents")
	}
	g.call(libc, "free", grown)
}

func TestLibCSnprintf(t *testing.T) {
	g := newGuest(t)
	libc := LibC(g.env)
	buf := g.alloc(8)
	n := g.call(libc, "snprintf", buf, 8, g.str("%s-%d"), g.str("level"), 42)
	if n != 8 {
		t.Fatalf("snprintf = %d, want full length 8", n)
	}
	if got := g.read(buf); got != "level-4" {
		t.Fatalf("buffer = %q", got)
	}
}

func TestPthreadMutexAndKeys(t *testing.T) {
	g := newGuest(t)
	libc := LibC(g.env)
	mutex := g.alloc(8)
	if r := g.call(libc, "pthread_mutex_lock", mutex); r != 0 {
		t.Fatalf("lock = %d", r)
	}
	if r := g.call(libc, "pthread_mutex_trylock", mutex); r != 0 {
		t.Fatalf("recursive trylock = %d", r)
	}
	g.call(libc, "pthread_mutex_unlock", mutex)
	g.call(libc, "pthread_mutex_unlock", mutex)
	if r := g.call(libc, "pthread_mutex_unlock", mutex); r == 0 {
		t.Fatal("unlocking an unlocked mutex succeeded")
	}

	key := g.alloc(4)
	g.call(libc, "pthread_key_create", key, 0)
	k, _ := g.dbg.ToPointer(key).MemReadUint32()
	g.call(libc, "pthread_setspecific", uint64(k), 0xabc)
	if v := g.call(libc, "pthread_getspecific", uint64(k)); v != 0xabc {
		t.Fatalf("getspecific = %#x", v)
	}
}

func TestPthreadCreateSpawns(t *testing.T) {
	g := newGuest(t)
	libc := LibC(g.env)
	out := g.alloc(8)
	if r := g.call(libc, "pthread_create", out, 0, 0x30000, 5); r != 0 {
		t.Fatalf("pthread_create = %d", r)
	}
	id, _ := g.dbg.ToPointer(out).MemReadPointer()
	if !g.dbg.ThreadAlive(int(id.Address())) || g.dbg.Threads() != 2 {
		t.Fatalf("thread %d not alive", id.Address())
	}
	// sched_yield from main starts the new thread
	g.call(libc, "sched_yield")
	if pc, _ := g.emu.RegRead(emulator.ARM64_REG_PC); pc != 0x30000 {
		t.Fatalf("pc = %#x, want thread entry", pc)
	}
	if g.dbg.CurrentThread() != int(id.Address()) {
		t.Fatal("spawned thread not current")
	}
}

func TestCondTimedWaitTimesOut(t *testing.T) {
	g := newGuest(t)
	libc := LibC(g.env)
	mutex, cond, ts := g.alloc(8), g.alloc(8), g.alloc(16)
	// an absolute time in the past
	g.env.Layout.Write(g.dbg.ToPointer(ts), &timespec{Sec: 1})
	g.call(libc, "pthread_mutex_lock", mutex)
	if r := g.call(libc, "pthread_cond_timedwait", cond, mutex, ts); r != 110 {
		t.Fatalf("timedwait = %d, want ETIMEDOUT", r)
	}
	if r := g.call(libc, "pthread_mutex_unlock", mutex); r != 0 {
		t.Fatal("mutex not held after timedwait")
	}
}

func TestLibMDouble(t *testing.T) {
	g := newGuest(t)
	libm := LibM(g.env)
	g.emu.RegWrite(emulator.ARM64_REG_D0, math.Float64bits(2))
	g.call(libm, "sqrt")
	d0, _ := g.emu.RegRead(emulator.ARM64_REG_D0)
	if got := math.Float64frombits(d0); math.Abs(got-math.Sqrt2) > 1e-12 {
		t.Fatalf("sqrt(2) = %v", got)
	}
}

type floatArea interface {
	FloatArea() uint64
	TrapCode() []byte
}

// x86Call enters name on an x86 family guest with the return address
// 0x1000 on the stack and returns the area floats are staged in.
func x86Call(t *testing.T, arch emulator.Arch, name string, setup func(dbg debugger.Debugger, sp, area uint64)) (*emutest.Emulator, debugger.Debugger, uint64) {
	t.Helper()
	emu := emutest.New(arch)
	newDbg, sp, pc := x86.NewX86Debugger, emulator.X86_REG_ESP, emulator.X86_REG_EIP
	if arch == emulator.ARCH_X86_64 {
		newDbg, sp, pc = x86.NewX86_64Debugger, emulator.X86_64_REG_RSP, emulator.X86_64_REG_RIP
	}
	dbg, err := newDbg(emu)
	if err != nil {
		t.Fatalf("new debugger: %v", err)
	}
	t.Cleanup(func() { dbg.Close() })
	fa := dbg.(floatArea)
	stack, err := dbg.MapAlloc(0x1000, emulator.MEM_PROT_READ|emulator.MEM_PROT_WRITE)
	if err != nil {
		t.Fatal(err)
	}
	top := stack.Addr + 0x800
	if arch == emulator.ARCH_X86_64 {
		dbg.ToPointer(top).MemWritePointer(0x1000)
	} else {
		dbg.ToPointer(top).MemWriteUint32(0x1000)
	}
	emu.RegWrite(sp, top)
	setup(dbg, top, fa.FloatArea())

	h, ok := LibM(NewEnv(dbg)).Lookup(name)
	if !ok {
		t.Fatalf("%s missing", name)
	}
	ctrl, err := dbg.AddControl(h.Func, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	emu.Trap(pc, ctrl.Addr()+uint64(len(fa.TrapCode())))
	return emu, dbg, fa.FloatArea()
}

func readUint64(t *testing.T, dbg debugger.Debugger, addr uint64) uint64 {
	t.Helper()
	buf, err := dbg.ToPointer(addr).MemRead(8)
	if err != nil {
		t.Fatal(err)
	}
	return binary.LittleEndian.Uint64(buf)
}

func readFloat64(t *testing.T, dbg debugger.Debugger, addr uint64) float64 {
	t.Helper()
	return math.Float64frombits(readUint64(t, dbg, addr))
}

func TestLibMDoubleX86(t *testing.T) {
	tests := []struct {
		arch emulator.Arch
		pc   emulator.Reg
		// leading bytes of the stub the call returns through
		tail []byte
	}{
		{emulator.ARCH_X86_64, emulator.X86_64_REG_RIP, []byte{0x49, 0xBB}},
		{emulator.ARCH_X86, emulator.X86_REG_EIP, []byte{0xDD, 0x05}},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String(), func(t *testing.T) {
			emu, dbg, area := x86Call(t, tt.arch, "pow", func(dbg debugger.Debugger, sp, area uint64) {
				two := binary.LittleEndian.AppendUint64(nil, math.Float64bits(2))
				ten := binary.LittleEndian.AppendUint64(nil, math.Float64bits(10))
				if tt.arch == emulator.ARCH_X86_64 {
					// as saved from xmm0 and xmm1 by the trap stub
					dbg.ToPointer(area).MemWrite(append(two, ten...))
				} else {
					dbg.ToPointer(sp + 4).MemWrite(append(two, ten...))
				}
			})
			if got := readFloat64(t, dbg, area+64); got != 1024 {
				t.Fatalf("pow(2, 10) staged %v", got)
			}
			if ret := readUint64(t, dbg, area+72); ret != 0x1000 {
				t.Fatalf("saved return address = %#x", ret)
			}
			pc, _ := emu.RegRead(tt.pc)
			code, err := dbg.ToPointer(pc).MemRead(uint64(len(tt.tail)))
			if err != nil || !bytes.Equal(code, tt.tail) {
				t.Fatalf("returned to %#x (%x), not the result stub", pc, code)
			}
		})
	}
}

func TestLibMFloatX86Widens(t *testing.T) {
	_, dbg, area := x86Call(t, emulator.ARCH_X86, "sqrtf", func(dbg debugger.Debugger, sp, _ uint64) {
		dbg.ToPointer(sp + 4).MemWriteUint32(math.Float32bits(16))
	})
	// st(0) is loaded as a double
	if got := readFloat64(t, dbg, area+64); got != 4 {
		t.Fatalf("sqrtf(16) staged %v", got)
	}
}
