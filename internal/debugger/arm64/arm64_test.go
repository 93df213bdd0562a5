package arm64

import (
	"context"
	"errors"
	"testing"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/emutest"
)

func newDbg(t *testing.T) (*emutest.Emulator, debugger.Debugger) {
	t.Helper()
	emu := emutest.New(emulator.ARCH_ARM64)
	dbg, err := NewArm64Debugger(emu)
	if err != nil {
		t.Fatalf("NewArm64Debugger: %v", err)
	}
	t.Cleanup(func() { dbg.Close() })
	return emu, dbg
}

// callHost simulates guest code branching to a control trampoline.
func callHost(emu *emutest.Emulator, addr uint64, ret uint64, args ...uint64) uint64 {
	for i, arg := range args {
		emu.RegWrite(emulator.ARM64_REG_X0+emulator.Reg(i), arg)
	}
	emu.RegWrite(emulator.ARM64_REG_LR, ret)
	emu.Trap(emulator.ARM64_REG_PC, addr+4)
	v, _ := emu.RegRead(emulator.ARM64_REG_X0)
	return v
}

func TestControlReturnsToCaller(t *testing.T) {
	emu, dbg := newDbg(t)
	ctrl, err := dbg.AddControl(func(ctx debugger.Context, data any) {
		var a, b uint64
		if err := ctx.ArgExtract(&a, &b); err != nil {
			t.Errorf("ArgExtract: %v", err)
		}
		ctx.RetWrite(a + b + data.(uint64))
	}, uint64(100))
	if err != nil {
		t.Fatal(err)
	}
	if got := callHost(emu, ctrl.Addr(), 0x1234, 1, 2); got != 103 {
		t.Fatalf("result = %d, want 103", got)
	}
	if pc, _ := emu.RegRead(emulator.ARM64_REG_PC); pc != 0x1234 {
		t.Fatalf("pc = %#x, want return address", pc)
	}
}

func TestControlStringArgument(t *testing.T) {
	emu, dbg := newDbg(t)
	s, err := dbg.MemImportString("libc.so")
	if err != nil {
		t.Fatal(err)
	}
	var got string
	ctrl, _ := dbg.AddControl(func(ctx debugger.Context, _ any) {
		ctx.ArgExtract(&got)
	}, nil)
	callHost(emu, ctrl.Addr(), 0, s)
	if got != "libc.so" {
		t.Fatalf("got %q", got)
	}
}

func TestCallStackArguments(t *testing.T) {
	emu, dbg := newDbg(t)
	const fn = 0x10000
	emu.Program(fn, func(e *emutest.Emulator) error {
		sp, _ := e.RegRead(emulator.ARM64_REG_SP)
		if sp%16 != 0 {
			t.Errorf("sp %#x not aligned", sp)
		}
		x7, _ := e.RegRead(emulator.ARM64_REG_X7)
		p, err := dbg.ToPointer(sp + 8).MemReadPointer()
		if err != nil {
			return err
		}
		e.RegWrite(emulator.ARM64_REG_X0, x7*1000+p.Address())
		return nil
	})
	ret, err := dbg.Call(context.Background(), fn, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ret != 7009 {
		t.Fatalf("ret = %d, want 7009", ret)
	}
}

func TestCallRestoresRegisters(t *testing.T) {
	emu, dbg := newDbg(t)
	const fn = 0x10000
	emu.Program(fn, func(e *emutest.Emulator) error {
		e.RegWrite(emulator.ARM64_REG_X1, 0xdead)
		return nil
	})
	emu.RegWrite(emulator.ARM64_REG_X1, 7)
	if _, err := dbg.Call(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
	if v, _ := emu.RegRead(emulator.ARM64_REG_X1); v != 7 {
		t.Fatalf("x1 = %#x, want 7", v)
	}
}

func TestNestedCallFromHost(t *testing.T) {
	emu, dbg := newDbg(t)
	const outer, inner = 0x10000, 0x20000
	emu.Program(inner, func(e *emutest.Emulator) error {
		x0, _ := e.RegRead(emulator.ARM64_REG_X0)
		e.RegWrite(emulator.ARM64_REG_X0, x0*2)
		return nil
	})
	ctrl, _ := dbg.AddControl(func(ctx debugger.Context, _ any) {
		v, err := dbg.Call(context.Background(), inner, ctx.Arg(0))
		if err != nil {
			t.Errorf("nested Call: %v", err)
		}
		ctx.RetWrite(v + 1)
	}, nil)
	emu.Program(outer, func(e *emutest.Emulator) error {
		lr, _ := e.RegRead(emulator.ARM64_REG_LR)
		r := callHost(e, ctrl.Addr(), lr, 20)
		e.RegWrite(emulator.ARM64_REG_X0, r)
		return nil
	})
	ret, err := dbg.Call(context.Background(), outer)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ret != 41 {
		t.Fatalf("ret = %d, want 41", ret)
	}
}

func TestPanicStopsGuest(t *testing.T) {
	emu, dbg := newDbg(t)
	ctrl, _ := dbg.AddControl(func(debugger.Context, any) { panic("boom") }, nil)
	const fn = 0x10000
	emu.Program(fn, func(e *emutest.Emulator) error {
		callHost(e, ctrl.Addr(), 0)
		return nil
	})
	_, err := dbg.Call(context.Background(), fn)
	var ex *debugger.PanicException
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want PanicException", err)
	}
	if ex.Panic() != "boom" {
		t.Fatalf("panic value = %v", ex.Panic())
	}
}

func TestHeapReuse(t *testing.T) {
	_, dbg := newDbg(t)
	a, err := dbg.MemAlloc(24)
	if err != nil {
		t.Fatal(err)
	}
	if size := dbg.MemSize(a); size != 32 {
		t.Fatalf("MemSize = %d, want 32", size)
	}
	if err = dbg.MemFree(a); err != nil {
		t.Fatal(err)
	}
	b, _ := dbg.MemAlloc(16)
	if b != a {
		t.Fatalf("freed block not reused: %#x != %#x", b, a)
	}
	if err = dbg.MemFree(0x1); err == nil {
		t.Fatal("freeing an unknown address succeeded")
	}
}
