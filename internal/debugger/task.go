package debugger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

const redZone = 128

type taskManager struct {
	mu       sync.Mutex
	depth    atomic.Int32
	initOnce sync.Once
	initErr  error
	stack    emulator.MemRegion
	exit     debugger.ControlHandler
}

func (tm *taskManager) ctor() {}

func (tm *taskManager) dtor() {
	if tm.exit != nil {
		tm.exit.Close()
	}
}

func (tm *taskManager) init(dbg Debugger) error {
	tm.initOnce.Do(func() {
		tm.stack, tm.initErr = dbg.MapAlloc(dbg.StackSize(), emulator.MEM_PROT_READ|emulator.MEM_PROT_WRITE)
		if tm.initErr != nil {
			return
		}
		// reaching the exit trap ends Start before the trap executes
		tm.exit, tm.initErr = dbg.AddControl(func(debugger.Context, any) {}, nil)
	})
	return tm.initErr
}

func (tm *taskManager) call(ctx context.Context, dbg Debugger, hm *hookManager, th *threadManager, addr uint64, args []uint64) (uint64, error) {
	if addr == 0 {
		return 0, debugger.ErrAddressInvalid
	}
	if err := tm.init(dbg); err != nil {
		return 0, err
	}
	// host functions may call back into the guest while it is stopped in a
	// control trap; such calls nest on the running stack
	nested := hm.inCallback()
	if !nested {
		tm.mu.Lock()
		defer tm.mu.Unlock()
	}
	tm.depth.Add(1)
	defer tm.depth.Add(-1)

	emu := dbg.Emulator()
	saved := dbg.SavedRegs()
	vals, err := emu.RegReadBatch(saved...)
	if err != nil {
		return 0, err
	}
	defer emu.RegWriteBatch(saved, vals)
	if !nested {
		defer th.claimMain()
	}

	sp := tm.stack.End()
	if nested {
		cur, err := emu.RegRead(dbg.SP())
		if err != nil {
			return 0, err
		}
		sp = cur - redZone
	}
	sp &^= dbg.StackAlign() - 1
	if err = emu.RegWrite(dbg.SP(), sp); err != nil {
		return 0, err
	}
	if err = dbg.ArgWrite(emu, args); err != nil {
		return 0, err
	}
	exit := tm.exit.Addr()
	if err = dbg.SetReturnAddr(emu, exit); err != nil {
		return 0, err
	}

	stop := context.AfterFunc(ctx, func() {
		hm.stop(emu, context.Cause(ctx))
	})
	defer stop()
	if err = emu.Start(addr, exit); err != nil {
		hm.takeFault()
		return 0, errors.Wrapf(err, "guest call %#x", addr)
	}
	if err = hm.takeFault(); err != nil {
		return 0, err
	}
	if pc, _ := emu.RegRead(dbg.PC()); pc != exit {
		return 0, errors.Wrapf(debugger.ErrEmulatorStop, "guest call %#x stopped at %#x", addr, pc)
	}
	return dbg.RetRead(emu)
}

func (dbg *Dbg) Call(ctx context.Context, addr uint64, args ...uint64) (uint64, error) {
	return dbg.taskManager.call(ctx, dbg.impl, &dbg.hookManager, &dbg.threadManager, addr, args)
}

// Depth reports how many guest calls are on the host stack.
func (dbg *Dbg) Depth() int {
	return int(dbg.taskManager.depth.Load())
}
