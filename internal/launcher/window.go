package launcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wnxd/mcpehost/internal/hybris"
	"github.com/wnxd/mcpehost/internal/patch"
)

// WindowManager creates the host window and supplies GL entry points.
type WindowManager interface {
	CreateWindow(ctx context.Context, title string, width, height int, api GraphicsAPI) (Window, error)
	ProcAddress(env *hybris.Env) hybris.ProcAddress
}

// Window is the one host window. Step runs one iteration of its event
// loop on the main thread and reports whether it is still open.
type Window interface {
	hybris.Surface
	patch.Cursor
	Step() bool
	Close()
}

// keyboardWindow is implemented by windows that can deliver key presses
// straight to the game instead of through the text input.
type keyboardWindow interface {
	SetKeyboardDirectInput(enabled bool)
}

const defaultFrameInterval = 16 * time.Millisecond

// HeadlessWindowManager renders nowhere. GL calls are answered by
// hybris.HeadlessGL.
type HeadlessWindowManager struct {
	FrameInterval time.Duration

	mu sync.Mutex
	gl *hybris.HeadlessGL
}

func (m *HeadlessWindowManager) ProcAddress(env *hybris.Env) hybris.ProcAddress {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gl == nil {
		m.gl = hybris.NewHeadlessGL(env)
	}
	return m.gl.Proc
}

// Describe names the GL implementation.
func (m *HeadlessWindowManager) Describe() (vendor, renderer, version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gl == nil {
		return "mcpehost", "headless", "OpenGL ES 2.0"
	}
	return m.gl.Vendor, m.gl.Renderer, m.gl.Version
}

func (m *HeadlessWindowManager) CreateWindow(ctx context.Context, title string, width, height int, api GraphicsAPI) (Window, error) {
	interval := m.FrameInterval
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	launcherLog.Infof("Creating headless %dx%d %s window %q", width, height, api, title)
	return &headlessWindow{
		ctx:      ctx,
		width:    width,
		height:   height,
		interval: interval,
		closed:   make(chan struct{}),
	}, nil
}

type headlessWindow struct {
	ctx      context.Context
	width    int
	height   int
	interval time.Duration

	frames      atomic.Uint64
	cursor      atomic.Bool
	directInput atomic.Bool
	closed      chan struct{}
	closing     sync.Once

	mu        sync.Mutex
	text      string
	textInput bool
}

func (w *headlessWindow) Size() (int, int) {
	return w.width, w.height
}

func (w *headlessWindow) SwapBuffers() {
	w.frames.Add(1)
}

func (w *headlessWindow) ShowMousePointer() {
	w.cursor.Store(true)
}

func (w *headlessWindow) HideMousePointer() {
	w.cursor.Store(false)
}

func (w *headlessWindow) SetKeyboardDirectInput(enabled bool) {
	w.directInput.Store(enabled)
}

func (w *headlessWindow) Step() bool {
	t := time.NewTimer(w.interval)
	defer t.Stop()
	select {
	case <-w.closed:
		return false
	case <-w.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *headlessWindow) Close() {
	w.closing.Do(func() {
		close(w.closed)
	})
}

// The headless window doubles as the text input of the activity.

func (w *headlessWindow) Enable(text string, multiline bool) {
	w.mu.Lock()
	w.text, w.textInput = text, true
	w.mu.Unlock()
	launcherLog.Debugf("text input enabled (multiline=%v)", multiline)
}

func (w *headlessWindow) Disable() {
	w.mu.Lock()
	w.textInput = false
	w.mu.Unlock()
}

func (w *headlessWindow) Update(text string) {
	w.mu.Lock()
	w.text = text
	w.mu.Unlock()
}

func (w *headlessWindow) CursorPosition() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len([]rune(w.text))
}

// mainSurface routes buffer swaps onto the main thread.
type mainSurface struct {
	Window
	run func(func())
}

func (s mainSurface) SwapBuffers() {
	s.run(s.Window.SwapBuffers)
}
