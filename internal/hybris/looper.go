package hybris

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wnxd/mcpehost/debugger"
)

const (
	pollWake    = -1
	pollTimeout = -3
	pollError   = -4

	looperEventInput = 1

	// pollSlice bounds one blocking poll so shutdown is noticed.
	pollSlice = 16 * time.Millisecond
)

type looperFd struct {
	ident    int32
	events   uint32
	callback uint64
	data     uint64
}

// Looper is the one ALooper of the process. Polls park the polling guest
// thread so others make progress.
type Looper struct {
	env    *Env
	handle uint64
	input  *InputQueue

	// FirstPoll runs once, on the first poll, before any event is
	// reported. It announces the window and input queue to the guest.
	FirstPoll func()

	first   sync.Once
	running atomic.Bool
	woken   atomic.Bool
	mu      sync.Mutex
	fds     map[int32]looperFd
}

func NewLooper(e *Env, input *InputQueue) (*Looper, error) {
	handle, err := e.Dbg.MemAlloc(16)
	if err != nil {
		return nil, err
	}
	l := &Looper{env: e, handle: handle, input: input, fds: make(map[int32]looperFd)}
	l.running.Store(true)
	return l, nil
}

func (l *Looper) Handle() uint64 {
	return l.handle
}

// SetRunning marks whether the host event loop still runs. A stopped
// looper fails every poll.
func (l *Looper) SetRunning(running bool) {
	l.running.Store(running)
	l.Wake()
}

func (l *Looper) Running() bool {
	return l.running.Load()
}

func (l *Looper) Wake() {
	l.woken.Store(true)
}

// ready reports the result of a poll if one is due, writing the out
// parameters.
func (l *Looper) ready(outFd, outEvents, outData uint64) (int32, bool) {
	e := l.env
	if !l.running.Load() {
		return pollError, true
	}
	if l.input != nil && l.input.hasEvents() {
		if ident, data, ok := l.input.attached(); ok {
			if outFd != 0 {
				e.ptr(outFd).MemWriteUint32(^uint32(0))
			}
			if outEvents != 0 {
				e.ptr(outEvents).MemWriteUint32(1)
			}
			if outData != 0 {
				e.writeWord(outData, data)
			}
			return ident, true
		}
	}
	if fd, src, ok := l.readyFd(); ok {
		if outFd != 0 {
			e.ptr(outFd).MemWriteUint32(uint32(fd))
		}
		if outEvents != 0 {
			e.ptr(outEvents).MemWriteUint32(src.events | looperEventInput)
		}
		if outData != 0 {
			e.writeWord(outData, src.data)
		}
		return src.ident, true
	}
	if l.woken.Swap(false) {
		return pollWake, true
	}
	return 0, false
}

type buffered interface {
	Buffered() int
}

// readyFd returns a registered fd with unread data, lowest fd first.
func (l *Looper) readyFd() (int32, looperFd, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	best := int32(-1)
	for fd := range l.fds {
		file, err := l.env.Dbg.GetFile(int(fd))
		if err != nil {
			continue
		}
		if b, ok := file.(buffered); ok && b.Buffered() > 0 && (best < 0 || fd < best) {
			best = fd
		}
	}
	if best < 0 {
		return 0, looperFd{}, false
	}
	return best, l.fds[best], true
}

func (l *Looper) poll(ctx debugger.Context) {
	timedOut := int64(pollTimeout)
	if l.FirstPoll != nil {
		l.first.Do(l.FirstPoll)
	}
	timeout := int32(ctx.Arg(0))
	outFd, outEvents, outData := ctx.Arg(1), ctx.Arg(2), ctx.Arg(3)
	if v, ok := l.ready(outFd, outEvents, outData); ok {
		ctx.RetWrite(int64(v))
		return
	}
	if timeout == 0 {
		l.env.Dbg.Yield(ctx, uint64(timedOut))
		return
	}
	wait := pollSlice
	if timeout > 0 {
		wait = min(wait, time.Duration(timeout)*time.Millisecond)
	}
	until := time.Now().Add(wait)
	l.env.Dbg.Wait(ctx, func() (uint64, bool) {
		if v, ok := l.ready(outFd, outEvents, outData); ok {
			return uint64(int64(v)), true
		}
		return uint64(timedOut), !time.Now().Before(until)
	})
}

func (l *Looper) InitHooks(t *HookTable) {
	self := func(debugger.Context) uint64 {
		return l.handle
	}
	t.add("ALooper_prepare", self)
	t.add("ALooper_forThread", self)
	t.add("ALooper_acquire", zero)
	t.add("ALooper_release", zero)
	t.add("ALooper_wake", func(debugger.Context) uint64 {
		l.Wake()
		return 0
	})
	t.add("ALooper_addFd", func(ctx debugger.Context) uint64 {
		fd := int32(ctx.Arg(1))
		l.mu.Lock()
		l.fds[fd] = looperFd{ident: int32(ctx.Arg(2)), events: uint32(ctx.Arg(3)), callback: ctx.Arg(4), data: ctx.Arg(5)}
		l.mu.Unlock()
		return 1
	})
	t.add("ALooper_removeFd", func(ctx debugger.Context) uint64 {
		fd := int32(ctx.Arg(1))
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.fds[fd]; !ok {
			return 0
		}
		delete(l.fds, fd)
		return 1
	})
	t.AddFunc("ALooper_pollAll", func(ctx debugger.Context, _ any) {
		l.poll(ctx)
	})
	t.AddFunc("ALooper_pollOnce", func(ctx debugger.Context, _ any) {
		l.poll(ctx)
	})
}
