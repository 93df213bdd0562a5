package hybris

import (
	"sync"

	"github.com/apex/log"
	"github.com/wnxd/mcpehost/debugger"
)

const (
	eglFalse      = 0
	eglTrue       = 1
	eglSuccess    = 0x3000
	eglAlphaSize  = 0x3021
	eglBlueSize   = 0x3022
	eglGreenSize  = 0x3023
	eglRedSize    = 0x3024
	eglDepthSize  = 0x3025
	eglStencil    = 0x3026
	eglVendor     = 0x3053
	eglVersion    = 0x3054
	eglExtensions = 0x3055
	eglHeight     = 0x3056
	eglWidth      = 0x3057
	eglClientAPIs = 0x308D

	eglDisplay = 1
	eglConfig  = 1
	eglContext = 1
	eglSurface = 1
)

var eglLog = log.WithField("component", "egl")

// EGL is a single-display, single-surface EGL whose surface is the
// Window. GL entry points come from proc.
type EGL struct {
	env    *Env
	proc   ProcAddress
	window *Window

	// TexturePatch rewrites BGRA texture uploads to RGBA.
	TexturePatch bool

	mu    sync.Mutex
	procs map[string]uint64
	strs  map[uint64]uint64
	ctrls []debugger.ControlHandler
}

func NewEGL(e *Env, w *Window, proc ProcAddress) *EGL {
	return &EGL{
		env:    e,
		proc:   proc,
		window: w,
		procs:  make(map[string]uint64),
		strs:   make(map[uint64]uint64),
	}
}

// Close releases the trampolines handed out by eglGetProcAddress.
func (g *EGL) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.ctrls {
		c.Close()
	}
	g.ctrls = nil
	clear(g.procs)
	return nil
}

// ProcAddress resolves name with the texture patch applied.
func (g *EGL) ProcAddress(name string) (Hook, bool) {
	h, ok := g.proc(name)
	if !ok || !g.TexturePatch || h.Func == nil {
		return h, ok
	}
	switch name {
	case "glTexImage2D":
		return Func(rewriteArgs(h.Func, 2, 6)), true
	case "glTexSubImage2D":
		return Func(rewriteArgs(h.Func, 6)), true
	}
	return h, true
}

// argOverride replaces some integer arguments of a call.
type argOverride struct {
	debugger.Context
	args map[int]uint64
}

func (a *argOverride) Arg(i int) uint64 {
	if v, ok := a.args[i]; ok {
		return v
	}
	return a.Context.Arg(i)
}

// rewriteArgs passes BGRA as RGBA in each of the argument slots idx.
func rewriteArgs(fn debugger.ControlCallback, idx ...int) debugger.ControlCallback {
	return func(ctx debugger.Context, data any) {
		over := &argOverride{Context: ctx, args: make(map[int]uint64)}
		for _, i := range idx {
			if ctx.Arg(i) == glBGRA {
				over.args[i] = glRGBA
			}
		}
		fn(over, data)
	}
}

// lookup returns a guest-callable address for GL function name.
func (g *EGL) lookup(name string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if addr, ok := g.procs[name]; ok {
		return addr
	}
	h, ok := g.ProcAddress(name)
	if !ok {
		eglLog.Debugf("eglGetProcAddress(%s): not found", name)
		return 0
	}
	addr := h.Addr
	if h.Func != nil {
		ctrl, err := g.env.Dbg.AddControl(h.Func, nil)
		if err != nil {
			eglLog.WithError(err).Errorf("eglGetProcAddress(%s)", name)
			return 0
		}
		g.ctrls = append(g.ctrls, ctrl)
		addr = ctrl.Addr()
	}
	g.procs[name] = addr
	return addr
}

func (g *EGL) str(which uint64) uint64 {
	var s string
	switch which {
	case eglVendor:
		s = "mcpehost"
	case eglVersion:
		s = "1.4"
	case eglExtensions:
		s = ""
	case eglClientAPIs:
		s = "OpenGL_ES"
	default:
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if addr, ok := g.strs[which]; ok {
		return addr
	}
	addr := g.env.newString(s)
	g.strs[which] = addr
	return addr
}

func (g *EGL) configAttrib(attr uint64) uint32 {
	switch attr {
	case eglRedSize, eglGreenSize, eglBlueSize, eglAlphaSize, eglStencil:
		return 8
	case eglDepthSize:
		return 24
	}
	return 0
}

// Library builds the symbol table of libEGL.so.
func (g *EGL) Library() *HookTable {
	t := NewHookTable()
	e := g.env
	ret := func(v uint64) cfunc {
		return func(debugger.Context) uint64 { return v }
	}
	t.add("eglGetError", ret(eglSuccess))
	t.add("eglGetDisplay", ret(eglDisplay))
	t.add("eglGetCurrentDisplay", ret(eglDisplay))
	t.add("eglGetCurrentContext", ret(eglContext))
	t.add("eglGetCurrentSurface", ret(eglSurface))
	t.add("eglCreateContext", ret(eglContext))
	t.add("eglCreateWindowSurface", ret(eglSurface))
	t.add("eglCreatePbufferSurface", ret(eglSurface))
	for _, name := range []string{
		"eglMakeCurrent", "eglDestroySurface", "eglDestroyContext", "eglTerminate",
		"eglSwapInterval", "eglBindAPI", "eglReleaseThread", "eglWaitClient",
		"eglWaitGL", "eglWaitNative", "eglSurfaceAttrib",
	} {
		t.add(name, ret(eglTrue))
	}
	t.add("eglInitialize", func(ctx debugger.Context) uint64 {
		if major := ctx.Arg(1); major != 0 {
			e.ptr(major).MemWriteUint32(1)
		}
		if minor := ctx.Arg(2); minor != 0 {
			e.ptr(minor).MemWriteUint32(4)
		}
		return eglTrue
	})
	t.add("eglChooseConfig", func(ctx debugger.Context) uint64 {
		configs, size, num := ctx.Arg(2), uint32(ctx.Arg(3)), ctx.Arg(4)
		if configs != 0 && size > 0 {
			e.writeWord(configs, eglConfig)
		}
		if num != 0 {
			e.ptr(num).MemWriteUint32(1)
		}
		return eglTrue
	})
	t.add("eglGetConfigs", func(ctx debugger.Context) uint64 {
		configs, size, num := ctx.Arg(1), uint32(ctx.Arg(2)), ctx.Arg(3)
		if configs != 0 && size > 0 {
			e.writeWord(configs, eglConfig)
		}
		if num != 0 {
			e.ptr(num).MemWriteUint32(1)
		}
		return eglTrue
	})
	t.add("eglGetConfigAttrib", func(ctx debugger.Context) uint64 {
		if out := ctx.Arg(3); out != 0 {
			e.ptr(out).MemWriteUint32(g.configAttrib(ctx.Arg(2)))
		}
		return eglTrue
	})
	t.add("eglQuerySurface", func(ctx debugger.Context) uint64 {
		out := ctx.Arg(3)
		if out == 0 {
			return eglFalse
		}
		width, height := g.window.size()
		switch ctx.Arg(2) {
		case eglWidth:
			e.ptr(out).MemWriteUint32(uint32(width))
		case eglHeight:
			e.ptr(out).MemWriteUint32(uint32(height))
		default:
			e.ptr(out).MemWriteUint32(0)
		}
		return eglTrue
	})
	t.add("eglQueryString", func(ctx debugger.Context) uint64 {
		return g.str(ctx.Arg(1))
	})
	t.add("eglSwapBuffers", func(debugger.Context) uint64 {
		if s := g.window.Surface(); s != nil {
			s.SwapBuffers()
		}
		return eglTrue
	})
	t.add("eglGetProcAddress", func(ctx debugger.Context) uint64 {
		return g.lookup(e.str(ctx.Arg(0)))
	})
	return t
}
