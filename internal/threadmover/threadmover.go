// Package threadmover keeps the process's original thread for the host
// event loop while the game runs on a thread of its own, and funnels
// work that must happen on the original thread back onto it.
package threadmover

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/internal/hybris"
	"golang.org/x/sys/unix"
)

var moverLog = log.WithField("component", "ThreadMover")

// Mover owns the original OS thread. Create it from main before
// starting anything else.
type Mover struct {
	tid     int
	exec    chan func()
	closed  chan struct{}
	once    sync.Once
	running atomic.Bool
}

// New locks the calling goroutine to its OS thread and records it as
// the main thread.
func New() *Mover {
	runtime.LockOSThread()
	return &Mover{
		tid:    unix.Gettid(),
		exec:   make(chan func()),
		closed: make(chan struct{}),
	}
}

// MainTid is the kernel id of the original thread.
func (m *Mover) MainTid() int {
	return m.tid
}

func (m *Mover) OnMain() bool {
	return unix.Gettid() == m.tid
}

// RunOnMain runs fn on the original thread and waits for it. fn runs
// directly when called there already, before the event loop took the
// thread over, or after it exited.
func (m *Mover) RunOnMain(fn func()) {
	if m.OnMain() || !m.running.Load() {
		fn()
		return
	}
	done := make(chan struct{})
	select {
	case <-m.closed:
		fn()
	case m.exec <- func() { fn(); close(done) }:
		<-done
	}
}

// Pump runs the work queued by RunOnMain without blocking.
func (m *Mover) Pump() {
	for {
		select {
		case fn := <-m.exec:
			fn()
		default:
			return
		}
	}
}

// ExecuteMainThread hands the original thread to the event loop. step
// runs one iteration and reports whether the loop continues; queued
// main-thread work runs between iterations.
func (m *Mover) ExecuteMainThread(step func() bool) {
	if !m.OnMain() {
		moverLog.Warn("ExecuteMainThread called off the main thread")
	}
	m.running.Store(true)
	defer m.stop()
	for {
		m.Pump()
		if !step() {
			return
		}
	}
}

func (m *Mover) stop() {
	m.once.Do(func() {
		m.running.Store(false)
		close(m.closed)
	})
	m.Pump()
}

// Go starts fn on a thread of its own and forgets about it. The game
// entry never returns control to the host, the process exits around it.
func Go(fn func()) {
	go func() {
		runtime.LockOSThread()
		fn()
	}()
}

// HookLibC makes thread identity queries from the guest agree with the
// thread its entry task runs on.
func HookLibC(t *hybris.HookTable, dbg debugger.Debugger) {
	pid := uint64(os.Getpid())
	t.AddFunc("gettid", func(ctx debugger.Context, _ any) {
		id := dbg.CurrentThread()
		if id == dbg.MainThread() {
			ctx.RetWrite(pid)
			return
		}
		ctx.RetWrite(pid + uint64(id))
	})
	t.AddFunc("pthread_self", func(ctx debugger.Context, _ any) {
		ctx.RetWrite(uint64(dbg.CurrentThread()))
	})
	t.AddFunc("pthread_main_np", func(ctx debugger.Context, _ any) {
		ctx.RetWrite(dbg.CurrentThread() == dbg.MainThread())
	})
}
