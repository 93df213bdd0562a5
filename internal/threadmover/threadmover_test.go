package threadmover

import (
	"os"
	"testing"

	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/debugger/arm64"
	"github.com/wnxd/mcpehost/internal/emutest"
	"github.com/wnxd/mcpehost/internal/hybris"
	"golang.org/x/sys/unix"
)

func TestRunOnMainBeforeLoop(t *testing.T) {
	m := New()
	ran := false
	m.RunOnMain(func() { ran = true })
	if !ran {
		t.Fatal("RunOnMain did not run fn on the main thread itself")
	}
}

func TestRunOnMainFromGuestThread(t *testing.T) {
	m := New()
	got := make(chan int, 1)
	done := make(chan struct{})
	steps := 0
	Go(func() {
		m.RunOnMain(func() { got <- unix.Gettid() })
		close(done)
	})
	m.ExecuteMainThread(func() bool {
		steps++
		select {
		case <-done:
			return false
		default:
			return true
		}
	})
	if tid := <-got; tid != m.MainTid() {
		t.Fatalf("work ran on thread %d, want main %d", tid, m.MainTid())
	}
	if steps == 0 {
		t.Fatal("event loop never ran")
	}
}

func TestRunOnMainAfterLoopExit(t *testing.T) {
	m := New()
	m.ExecuteMainThread(func() bool { return false })
	done := make(chan bool)
	Go(func() {
		ran := false
		m.RunOnMain(func() { ran = true })
		done <- ran
	})
	if !<-done {
		t.Fatal("RunOnMain after shutdown did not run fn")
	}
}

func TestHookLibC(t *testing.T) {
	emu := emutest.New(emulator.ARCH_ARM64)
	dbg, err := arm64.NewArm64Debugger(emu)
	if err != nil {
		t.Fatal(err)
	}
	defer dbg.Close()
	tbl := hybris.NewHookTable()
	HookLibC(tbl, dbg)
	call := func(name string) uint64 {
		h, ok := tbl.Lookup(name)
		if !ok {
			t.Fatalf("%s not hooked", name)
		}
		ctrl, err := dbg.AddControl(h.Func, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer ctrl.Close()
		emu.RegWrite(emulator.ARM64_REG_LR, 0x1000)
		emu.Trap(emulator.ARM64_REG_PC, ctrl.Addr()+4)
		v, _ := emu.RegRead(emulator.ARM64_REG_X0)
		return v
	}
	if tid := call("gettid"); tid != uint64(os.Getpid()) {
		t.Errorf("gettid = %d, want pid %d", tid, os.Getpid())
	}
	if call("pthread_main_np") != 1 {
		t.Error("entry task is not the main thread")
	}
	if self := call("pthread_self"); self != uint64(dbg.MainThread()) {
		t.Errorf("pthread_self = %d", self)
	}

	// existing bindings win over the libc table merged after
	libc := hybris.NewHookTable()
	libc.AddFunc("gettid", hybris.Nop(1))
	if n := tbl.Merge(libc); n != 0 {
		t.Errorf("merge replaced %d hooks", n)
	}
}
