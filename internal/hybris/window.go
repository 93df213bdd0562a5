package hybris

import (
	"sync"

	"github.com/wnxd/mcpehost/debugger"
)

// Surface is the host side of the one window the guest renders into.
type Surface interface {
	Size() (width, height int)
	SwapBuffers()
}

const windowFormatRGBA8888 = 1

// Window is the guest's ANativeWindow. The guest only ever sees an
// opaque handle.
type Window struct {
	env    *Env
	handle uint64

	mu      sync.Mutex
	surface Surface
}

func NewWindow(e *Env) (*Window, error) {
	handle, err := e.Dbg.MemAlloc(16)
	if err != nil {
		return nil, err
	}
	return &Window{env: e, handle: handle}, nil
}

func (w *Window) Handle() uint64 {
	return w.handle
}

// Attach makes s the surface behind the window.
func (w *Window) Attach(s Surface) {
	w.mu.Lock()
	w.surface = s
	w.mu.Unlock()
}

func (w *Window) Surface() Surface {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.surface
}

func (w *Window) size() (int, int) {
	if s := w.Surface(); s != nil {
		return s.Size()
	}
	return 0, 0
}

func (w *Window) InitHooks(t *HookTable) {
	t.add("ANativeWindow_getWidth", func(debugger.Context) uint64 {
		width, _ := w.size()
		return uint64(width)
	})
	t.add("ANativeWindow_getHeight", func(debugger.Context) uint64 {
		_, height := w.size()
		return uint64(height)
	})
	t.add("ANativeWindow_getFormat", func(debugger.Context) uint64 {
		return windowFormatRGBA8888
	})
	t.add("ANativeWindow_setBuffersGeometry", zero)
	t.add("ANativeWindow_acquire", zero)
	t.add("ANativeWindow_release", zero)
	t.add("ANativeWindow_fromSurface", func(debugger.Context) uint64 {
		return w.handle
	})
}
