package arm64

import (
	"context"
	"testing"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

func reg(t *testing.T, emu emulator.Emulator, r emulator.Reg) uint64 {
	t.Helper()
	v, err := emu.RegRead(r)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestYieldSwitchesThreads(t *testing.T) {
	emu, dbg := newDbg(t)
	yield, _ := dbg.AddControl(func(ctx debugger.Context, _ any) {
		dbg.Yield(ctx, 5)
	}, nil)
	const entry = 0x30000
	id, err := dbg.Spawn(entry, 0x77)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if id == dbg.MainThread() || dbg.Threads() != 2 {
		t.Fatalf("id %d, threads %d", id, dbg.Threads())
	}

	// main yields: the new thread starts with its argument
	if got := callHost(emu, yield.Addr(), 0x1234); got != 0x77 {
		t.Fatalf("thread arg = %#x", got)
	}
	if pc := reg(t, emu, emulator.ARM64_REG_PC); pc != entry {
		t.Fatalf("pc = %#x, want thread entry", pc)
	}
	if dbg.CurrentThread() != id {
		t.Fatalf("current = %d, want %d", dbg.CurrentThread(), id)
	}
	exit := reg(t, emu, emulator.ARM64_REG_LR)

	// the thread yields back to main
	if got := callHost(emu, yield.Addr(), 0x5555); got != 5 {
		t.Fatalf("main resumed with %d", got)
	}
	if pc := reg(t, emu, emulator.ARM64_REG_PC); pc != 0x1234 {
		t.Fatalf("main pc = %#x", pc)
	}
	if dbg.CurrentThread() != dbg.MainThread() {
		t.Fatal("main thread not current")
	}

	// and main lets it run again
	callHost(emu, yield.Addr(), 0x1234)
	if pc := reg(t, emu, emulator.ARM64_REG_PC); pc != 0x5555 {
		t.Fatalf("thread pc = %#x", pc)
	}

	// returning from the entry function ends the thread
	emu.Trap(emulator.ARM64_REG_PC, exit+4)
	if dbg.ThreadAlive(id) || dbg.Threads() != 1 {
		t.Fatal("thread still alive after returning")
	}
	if pc := reg(t, emu, emulator.ARM64_REG_PC); pc != 0x1234 {
		t.Fatalf("main pc = %#x after exit", pc)
	}
}

func TestYieldWithoutThreads(t *testing.T) {
	emu, dbg := newDbg(t)
	var switched bool
	yield, _ := dbg.AddControl(func(ctx debugger.Context, _ any) {
		switched = dbg.Yield(ctx, 3)
	}, nil)
	if got := callHost(emu, yield.Addr(), 0x1234); got != 3 || switched {
		t.Fatalf("got %d switched %v", got, switched)
	}
	if pc := reg(t, emu, emulator.ARM64_REG_PC); pc != 0x1234 {
		t.Fatalf("pc = %#x", pc)
	}
}

func TestWaitResumesWhenReady(t *testing.T) {
	emu, dbg := newDbg(t)
	var flag bool
	wait, _ := dbg.AddControl(func(ctx debugger.Context, _ any) {
		dbg.Wait(ctx, func() (uint64, bool) {
			return 9, flag
		})
	}, nil)
	set, _ := dbg.AddControl(func(debugger.Context, any) { flag = true }, nil)
	yield, _ := dbg.AddControl(func(ctx debugger.Context, _ any) {
		dbg.Yield(ctx, 1)
	}, nil)
	const entry = 0x30000
	if _, err := dbg.Spawn(entry, 0); err != nil {
		t.Fatal(err)
	}

	callHost(emu, wait.Addr(), 0x1234)
	if pc := reg(t, emu, emulator.ARM64_REG_PC); pc != entry {
		t.Fatalf("waiting main did not hand over, pc = %#x", pc)
	}
	// nothing else is runnable while main waits
	if got := callHost(emu, yield.Addr(), 0x4000); got != 1 {
		t.Fatalf("yield = %d", got)
	}
	if pc := reg(t, emu, emulator.ARM64_REG_PC); pc != 0x4000 {
		t.Fatalf("pc = %#x, want thread to continue", pc)
	}
	callHost(emu, set.Addr(), 0x4100)
	if got := callHost(emu, yield.Addr(), 0x4200); got != 9 {
		t.Fatalf("main resumed with %d, want 9", got)
	}
	if pc := reg(t, emu, emulator.ARM64_REG_PC); pc != 0x1234 {
		t.Fatalf("main pc = %#x", pc)
	}
}

func TestWaitReadyImmediately(t *testing.T) {
	emu, dbg := newDbg(t)
	wait, _ := dbg.AddControl(func(ctx debugger.Context, _ any) {
		dbg.Wait(ctx, func() (uint64, bool) { return 4, true })
	}, nil)
	if got := callHost(emu, wait.Addr(), 0x1234); got != 4 {
		t.Fatalf("got %d", got)
	}
}

func TestMainCannotExit(t *testing.T) {
	emu, dbg := newDbg(t)
	var exited bool
	ctrl, _ := dbg.AddControl(func(ctx debugger.Context, _ any) {
		exited = dbg.ExitThread(ctx)
	}, nil)
	callHost(emu, ctrl.Addr(), 0x1234)
	if exited {
		t.Fatal("main thread exited")
	}
	if err := dbg.RunThreads(context.Background()); err != nil {
		t.Fatalf("RunThreads without threads: %v", err)
	}
}

func TestSpawnRejectsNull(t *testing.T) {
	_, dbg := newDbg(t)
	if _, err := dbg.Spawn(0, 0); err == nil {
		t.Fatal("spawned a thread at address 0")
	}
}
