package debugger

import (
	"context"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

// idleTick bounds how long a thread with nothing runnable sleeps before
// checking timed waits again.
const idleTick = time.Millisecond

type guestThread struct {
	id      int
	entry   uint64
	args    []uint64
	started bool
	state   emulator.Context
	stack   emulator.MemRegion
	// ready is nil for a runnable thread. Otherwise it decides when the
	// thread resumes and what its host function returns.
	ready func() (uint64, bool)
	ret   uint64
	reret bool
}

type threadManager struct {
	mu       sync.Mutex
	initOnce sync.Once
	initErr  error
	threads  []*guestThread
	main     *guestThread
	current  *guestThread
	nextID   int
	exit     debugger.ControlHandler
	idle     debugger.ControlHandler
}

func (th *threadManager) ctor() {
	th.main = &guestThread{id: os.Getpid(), started: true}
	th.current = th.main
	th.threads = []*guestThread{th.main}
	th.nextID = th.main.id
}

func (th *threadManager) dtor(dbg Debugger) {
	th.mu.Lock()
	defer th.mu.Unlock()
	for _, t := range th.threads {
		th.release(dbg, t)
	}
	th.threads = nil
	if th.exit != nil {
		th.exit.Close()
	}
	if th.idle != nil {
		th.idle.Close()
	}
}

func (th *threadManager) init(dbg Debugger, hm *hookManager) error {
	th.initOnce.Do(func() {
		if th.main.state, th.initErr = dbg.Emulator().ContextAlloc(); th.initErr != nil {
			return
		}
		th.exit, th.initErr = dbg.AddControl(func(ctx debugger.Context, _ any) {
			if !th.exitThread(dbg, hm, ctx) {
				panic(errors.Wrap(debugger.ErrTaskInvalid, "main thread reached the thread exit trap"))
			}
		}, nil)
		if th.initErr != nil {
			return
		}
		th.idle, th.initErr = dbg.AddControl(func(ctx debugger.Context, _ any) {
			th.idleLoop(dbg, hm, ctx)
		}, nil)
	})
	return th.initErr
}

func (th *threadManager) release(dbg Debugger, t *guestThread) {
	if t.state != nil {
		t.state.Close()
	}
	if t.stack.Size != 0 {
		dbg.MapFree(t.stack.Addr, t.stack.Size)
	}
}

func (th *threadManager) spawn(dbg Debugger, hm *hookManager, addr uint64, args []uint64) (int, error) {
	if addr == 0 {
		return 0, debugger.ErrAddressInvalid
	}
	if err := th.init(dbg, hm); err != nil {
		return 0, err
	}
	stack, err := dbg.MapAlloc(dbg.StackSize(), emulator.MEM_PROT_READ|emulator.MEM_PROT_WRITE)
	if err != nil {
		return 0, err
	}
	state, err := dbg.Emulator().ContextAlloc()
	if err != nil {
		dbg.MapFree(stack.Addr, stack.Size)
		return 0, err
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	th.nextID++
	t := &guestThread{id: th.nextID, entry: addr, args: slices.Clone(args), state: state, stack: stack}
	th.threads = append(th.threads, t)
	return t.id, nil
}

// pick returns the next thread after the current one that may run,
// committing its wait condition.
func (th *threadManager) pick() *guestThread {
	i := slices.Index(th.threads, th.current)
	n := len(th.threads)
	for k := 1; k <= n; k++ {
		t := th.threads[(i+k+n)%n]
		if t == th.current {
			continue
		}
		if t.ready == nil {
			return t
		}
		if ret, ok := t.ready(); ok {
			t.ready = nil
			t.ret, t.reret = ret, true
			return t
		}
	}
	return nil
}

// switchTo loads t onto the CPU. The caller already saved the outgoing
// thread.
func (th *threadManager) switchTo(dbg Debugger, t *guestThread) error {
	emu := dbg.Emulator()
	th.current = t
	if !t.started {
		t.started = true
		sp := t.stack.End() &^ (dbg.StackAlign() - 1)
		if err := emu.RegWrite(dbg.SP(), sp); err != nil {
			return err
		}
		if err := dbg.ArgWrite(emu, t.args); err != nil {
			return err
		}
		if err := dbg.SetReturnAddr(emu, th.exit.Addr()); err != nil {
			return err
		}
		return emu.RegWrite(dbg.PC(), t.entry)
	}
	if err := t.state.Restore(); err != nil {
		return err
	}
	if t.reret {
		t.reret = false
		return dbg.RetWrite(emu, t.ret)
	}
	return nil
}

// park saves the current thread, which will resume once ready allows it,
// and loads to.
func (th *threadManager) park(dbg Debugger, ready func() (uint64, bool), to *guestThread) bool {
	cur := th.current
	if err := cur.state.Save(); err != nil {
		return false
	}
	cur.ready = ready
	if err := th.switchTo(dbg, to); err != nil {
		th.current = cur
		cur.ready = nil
		cur.state.Restore()
		return false
	}
	return true
}

func (th *threadManager) yield(dbg Debugger, tm *taskManager, hm *hookManager, ctx debugger.Context, ret uint64) bool {
	if tm.depth.Load() > 1 || th.init(dbg, hm) != nil {
		ctx.RetWrite(ret)
		return false
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	to := th.pick()
	if to == nil {
		ctx.RetWrite(ret)
		return false
	}
	if err := ctx.RetWrite(ret); err != nil {
		return false
	}
	if err := ctx.Return(); err != nil {
		return false
	}
	return th.park(dbg, nil, to)
}

func (th *threadManager) wait(dbg Debugger, tm *taskManager, hm *hookManager, ctx debugger.Context, ready func() (uint64, bool)) {
	nested := tm.depth.Load() > 1 || th.init(dbg, hm) != nil
	for {
		th.mu.Lock()
		if ret, ok := ready(); ok {
			th.mu.Unlock()
			ctx.RetWrite(ret)
			return
		}
		if !nested {
			if to := th.pick(); to != nil {
				if err := ctx.Return(); err == nil && th.park(dbg, ready, to) {
					th.mu.Unlock()
					return
				}
			}
		}
		th.mu.Unlock()
		if hm.stopping() {
			return
		}
		time.Sleep(idleTick)
	}
}

// exitThread retires the current thread and loads the next runnable one.
func (th *threadManager) exitThread(dbg Debugger, hm *hookManager, ctx debugger.Context) bool {
	th.mu.Lock()
	defer th.mu.Unlock()
	cur := th.current
	if cur == th.main || cur == nil {
		return false
	}
	for {
		if to := th.pick(); to != nil {
			th.threads = slices.DeleteFunc(th.threads, func(t *guestThread) bool { return t == cur })
			th.release(dbg, cur)
			if err := th.switchTo(dbg, to); err != nil {
				hm.stop(dbg.Emulator(), err)
				return true
			}
			pc, _ := dbg.Emulator().RegRead(dbg.PC())
			ctx.Goto(pc)
			return true
		}
		th.mu.Unlock()
		stopping := hm.stopping()
		if !stopping {
			time.Sleep(idleTick)
		}
		th.mu.Lock()
		if stopping {
			return true
		}
	}
}

// idleLoop runs on the main thread under RunThreads. The main thread is
// parked on the idle trap itself so resuming it re-enters the loop.
func (th *threadManager) idleLoop(dbg Debugger, hm *hookManager, ctx debugger.Context) {
	entry := ctx.(*callContext).entry
	for {
		th.mu.Lock()
		if len(th.threads) <= 1 {
			th.mu.Unlock()
			return
		}
		if to := th.pick(); to != nil {
			if err := ctx.Goto(entry); err == nil && th.park(dbg, nil, to) {
				th.mu.Unlock()
				return
			}
		}
		th.mu.Unlock()
		if hm.stopping() {
			return
		}
		time.Sleep(idleTick)
	}
}

// claimMain hands the CPU back to the main thread when a top level call
// ends while another thread is current, keeping that thread resumable.
func (th *threadManager) claimMain() {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.current == th.main {
		return
	}
	if th.current.state != nil {
		th.current.state.Save()
	}
	th.current = th.main
	th.main.ready = nil
}

func (dbg *Dbg) MainThread() int {
	return dbg.threadManager.main.id
}

func (dbg *Dbg) CurrentThread() int {
	dbg.threadManager.mu.Lock()
	defer dbg.threadManager.mu.Unlock()
	return dbg.threadManager.current.id
}

func (dbg *Dbg) ThreadAlive(id int) bool {
	dbg.threadManager.mu.Lock()
	defer dbg.threadManager.mu.Unlock()
	return slices.ContainsFunc(dbg.threadManager.threads, func(t *guestThread) bool { return t.id == id })
}

func (dbg *Dbg) Threads() int {
	dbg.threadManager.mu.Lock()
	defer dbg.threadManager.mu.Unlock()
	return len(dbg.threadManager.threads)
}

func (dbg *Dbg) Spawn(addr uint64, args ...uint64) (int, error) {
	return dbg.threadManager.spawn(dbg.impl, &dbg.hookManager, addr, args)
}

func (dbg *Dbg) Yield(ctx debugger.Context, ret uint64) bool {
	return dbg.threadManager.yield(dbg.impl, &dbg.taskManager, &dbg.hookManager, ctx, ret)
}

func (dbg *Dbg) Wait(ctx debugger.Context, ready func() (uint64, bool)) {
	dbg.threadManager.wait(dbg.impl, &dbg.taskManager, &dbg.hookManager, ctx, ready)
}

func (dbg *Dbg) ExitThread(ctx debugger.Context) bool {
	return dbg.threadManager.exitThread(dbg.impl, &dbg.hookManager, ctx)
}

func (dbg *Dbg) RunThreads(ctx context.Context) error {
	if dbg.Threads() <= 1 {
		return nil
	}
	th := &dbg.threadManager
	if err := th.init(dbg.impl, &dbg.hookManager); err != nil {
		return err
	}
	_, err := dbg.Call(ctx, th.idle.Addr())
	return err
}
