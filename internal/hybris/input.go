package hybris

import (
	"sync"

	"github.com/wnxd/mcpehost/debugger"
)

// Input event kinds, as AInputEvent_getType reports them.
const (
	InputEventKey    = 1
	InputEventMotion = 2
)

const (
	sourceKeyboard    = 0x101
	sourceTouchscreen = 0x1002
)

// InputEvent is one key or pointer event for the guest.
type InputEvent struct {
	Type    int32
	Action  int32
	KeyCode int32
	Meta    int32
	X, Y    float32
}

func (ev InputEvent) source() uint64 {
	if ev.Type == InputEventKey {
		return sourceKeyboard
	}
	return sourceTouchscreen
}

// InputQueue is the guest's AInputQueue, fed by the host window.
type InputQueue struct {
	env    *Env
	handle uint64

	mu      sync.Mutex
	pending []InputEvent
	live    map[uint64]InputEvent
	looper  *Looper
	ident   int32
	data    uint64
}

func NewInputQueue(e *Env) (*InputQueue, error) {
	handle, err := e.Dbg.MemAlloc(16)
	if err != nil {
		return nil, err
	}
	return &InputQueue{env: e, handle: handle, live: make(map[uint64]InputEvent)}, nil
}

func (q *InputQueue) Handle() uint64 {
	return q.handle
}

// Push queues ev for the guest and wakes its looper.
func (q *InputQueue) Push(ev InputEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	l := q.looper
	q.mu.Unlock()
	if l != nil {
		l.Wake()
	}
}

func (q *InputQueue) hasEvents() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0
}

// attached returns the looper source the queue reports through.
func (q *InputQueue) attached() (int32, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ident, q.data, q.looper != nil
}

func (q *InputQueue) next() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0
	}
	handle, err := q.env.Dbg.MemAlloc(8)
	if err != nil {
		return 0
	}
	q.live[handle] = q.pending[0]
	q.pending = q.pending[1:]
	return handle
}

func (q *InputQueue) event(handle uint64) InputEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.live[handle]
}

func (q *InputQueue) finish(handle uint64) {
	q.mu.Lock()
	_, ok := q.live[handle]
	delete(q.live, handle)
	q.mu.Unlock()
	if ok {
		q.env.Dbg.MemFree(handle)
	}
}

func (q *InputQueue) InitHooks(t *HookTable, l *Looper) {
	e := q.env
	t.add("AInputQueue_attachLooper", func(ctx debugger.Context) uint64 {
		q.mu.Lock()
		q.looper, q.ident, q.data = l, int32(ctx.Arg(2)), ctx.Arg(4)
		q.mu.Unlock()
		return 0
	})
	t.add("AInputQueue_detachLooper", func(debugger.Context) uint64 {
		q.mu.Lock()
		q.looper = nil
		q.mu.Unlock()
		return 0
	})
	t.add("AInputQueue_hasEvents", func(debugger.Context) uint64 {
		return bool2u(q.hasEvents())
	})
	t.add("AInputQueue_getEvent", func(ctx debugger.Context) uint64 {
		handle := q.next()
		if handle == 0 {
			return e.minusOne()
		}
		e.writeWord(ctx.Arg(1), handle)
		return 0
	})
	t.add("AInputQueue_preDispatchEvent", zero)
	t.add("AInputQueue_finishEvent", func(ctx debugger.Context) uint64 {
		q.finish(ctx.Arg(1))
		return 0
	})

	field := func(get func(InputEvent) uint64) cfunc {
		return func(ctx debugger.Context) uint64 {
			return get(q.event(ctx.Arg(0)))
		}
	}
	t.add("AInputEvent_getType", field(func(ev InputEvent) uint64 { return uint64(ev.Type) }))
	t.add("AInputEvent_getSource", field(InputEvent.source))
	t.add("AInputEvent_getDeviceId", zero)
	t.add("AKeyEvent_getAction", field(func(ev InputEvent) uint64 { return uint64(ev.Action) }))
	t.add("AKeyEvent_getKeyCode", field(func(ev InputEvent) uint64 { return uint64(ev.KeyCode) }))
	t.add("AKeyEvent_getMetaState", field(func(ev InputEvent) uint64 { return uint64(ev.Meta) }))
	t.add("AKeyEvent_getScanCode", zero)
	t.add("AKeyEvent_getRepeatCount", zero)
	t.add("AKeyEvent_getFlags", zero)
	t.add("AMotionEvent_getAction", field(func(ev InputEvent) uint64 { return uint64(ev.Action) }))
	t.add("AMotionEvent_getMetaState", field(func(ev InputEvent) uint64 { return uint64(ev.Meta) }))
	t.add("AMotionEvent_getButtonState", zero)
	t.add("AMotionEvent_getPointerCount", func(debugger.Context) uint64 { return 1 })
	t.add("AMotionEvent_getPointerId", zero)
	t.AddFunc("AMotionEvent_getX", func(ctx debugger.Context, _ any) {
		RetFloat(ctx, q.event(ctx.Arg(0)).X)
	})
	t.AddFunc("AMotionEvent_getY", func(ctx debugger.Context, _ any) {
		RetFloat(ctx, q.event(ctx.Arg(0)).Y)
	})
	t.AddFunc("AMotionEvent_getRawX", func(ctx debugger.Context, _ any) {
		RetFloat(ctx, q.event(ctx.Arg(0)).X)
	})
	t.AddFunc("AMotionEvent_getRawY", func(ctx debugger.Context, _ any) {
		RetFloat(ctx, q.event(ctx.Arg(0)).Y)
	})
	t.AddFunc("AMotionEvent_getAxisValue", func(ctx debugger.Context, _ any) {
		RetFloat(ctx, 0)
	})
}
