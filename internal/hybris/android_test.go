package hybris

import (
	"testing"
	"testing/fstest"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

func TestAssetManager(t *testing.T) {
	g := newGuest(t)
	mgr, err := NewAssetManager(g.env, fstest.MapFS{
		"resource_packs/vanilla/manifest.json": {Data: []byte(`{"format_version":1}`)},
		"resource_packs/vanilla/pack_icon.png": {Data: []byte("png")},
		"resource_packs/vanilla/textures/a":    {Data: []byte("a")},
	})
	if err != nil {
		t.Fatal(err)
	}
	tbl := NewHookTable()
	mgr.InitHooks(tbl)

	if h := g.call(tbl, "AAssetManager_fromJava", 0, 0); h != mgr.Handle() {
		t.Fatalf("fromJava = %#x", h)
	}
	if a := g.call(tbl, "AAssetManager_open", mgr.Handle(), g.str("missing.json"), 0); a != 0 {
		t.Fatal("opened a missing asset")
	}
	a := g.call(tbl, "AAssetManager_open", mgr.Handle(), g.str("/resource_packs/vanilla/manifest.json"), 0)
	if a == 0 {
		t.Fatal("open failed")
	}
	if n := g.call(tbl, "AAsset_getLength", a); n != 20 {
		t.Fatalf("length = %d", n)
	}
	buf := g.alloc(32)
	if n := g.call(tbl, "AAsset_read", a, buf, 8); n != 8 {
		t.Fatalf("read = %d", n)
	}
	if n := g.call(tbl, "AAsset_getRemainingLength", a); n != 12 {
		t.Fatalf("remaining = %d", n)
	}
	if pos := g.call(tbl, "AAsset_seek", a, 1, 0); pos != 1 {
		t.Fatalf("seek = %d", pos)
	}
	whole := g.call(tbl, "AAsset_getBuffer", a)
	data, _ := g.dbg.ToPointer(whole).MemRead(20)
	if string(data) != `{"format_version":1}` {
		t.Fatalf("buffer = %q", data)
	}
	g.call(tbl, "AAsset_close", a)
	if n := g.call(tbl, "AAsset_getLength", a); n != 0 {
		t.Fatal("closed asset still readable")
	}

	dir := g.call(tbl, "AAssetManager_openDir", mgr.Handle(), g.str("resource_packs/vanilla"))
	var names []string
	for {
		s := g.call(tbl, "AAssetDir_getNextFileName", dir)
		if s == 0 {
			break
		}
		names = append(names, g.read(s))
	}
	if len(names) != 2 || names[0] != "manifest.json" || names[1] != "pack_icon.png" {
		t.Fatalf("dir listing = %v", names)
	}
	g.call(tbl, "AAssetDir_close", dir)
}

type fakeSurface struct {
	w, h  int
	swaps int
}

func (s *fakeSurface) Size() (int, int) {
	return s.w, s.h
}

func (s *fakeSurface) SwapBuffers() {
	s.swaps++
}

func TestWindowAndEGL(t *testing.T) {
	g := newGuest(t)
	win, err := NewWindow(g.env)
	if err != nil {
		t.Fatal(err)
	}
	surface := &fakeSurface{w: 720, h: 480}
	win.Attach(surface)
	tbl := NewHookTable()
	win.InitHooks(tbl)
	if w := g.call(tbl, "ANativeWindow_getWidth", win.Handle()); w != 720 {
		t.Fatalf("width = %d", w)
	}

	gl := NewHeadlessGL(g.env)
	egl := NewEGL(g.env, win, gl.Proc)
	defer egl.Close()
	lib := egl.Library()
	out := g.alloc(4)
	g.call(lib, "eglQuerySurface", eglDisplay, eglSurface, eglHeight, out)
	if h, _ := g.dbg.ToPointer(out).MemReadUint32(); h != 480 {
		t.Fatalf("EGL_HEIGHT = %d", h)
	}
	g.call(lib, "eglSwapBuffers", eglDisplay, eglSurface)
	if surface.swaps != 1 {
		t.Fatal("swap not forwarded")
	}

	name := g.str("glGetString")
	addr := g.call(lib, "eglGetProcAddress", name)
	if addr == 0 || g.call(lib, "eglGetProcAddress", name) != addr {
		t.Fatalf("eglGetProcAddress = %#x, want a stable address", addr)
	}
	if g.call(lib, "eglGetProcAddress", g.str("notGL")) != 0 {
		t.Fatal("resolved a non-GL name")
	}
	gles := GLES2(egl.ProcAddress)
	if gles.Len() != len(gles2Names) {
		t.Fatalf("GLES2 bound %d of %d", gles.Len(), len(gles2Names))
	}
	version := g.call(gles, "glGetString", glVersion)
	if got := g.read(version); got != "OpenGL ES 2.0" {
		t.Fatalf("GL_VERSION = %q", got)
	}
	ids := g.alloc(8)
	g.call(gles, "glGenTextures", 2, ids)
	a, _ := g.dbg.ToPointer(ids).MemReadUint32()
	b, _ := g.dbg.ToPointer(ids + 4).MemReadUint32()
	if a == 0 || b == a {
		t.Fatalf("texture names %d %d", a, b)
	}
}

func TestTexturePatchRewritesFormat(t *testing.T) {
	g := newGuest(t)
	var format uint64
	proc := func(name string) (Hook, bool) {
		return Func(wrap(func(ctx debugger.Context) uint64 {
			format = ctx.Arg(6)
			return 0
		})), true
	}
	win, _ := NewWindow(g.env)
	egl := NewEGL(g.env, win, proc)
	egl.TexturePatch = true
	tbl := GLES2(egl.ProcAddress)
	g.call(tbl, "glTexImage2D", 0, 0, glRGBA, 1, 1, 0, glBGRA, 0)
	if format != glRGBA {
		t.Fatalf("format = %#x, want RGBA", format)
	}
	egl.TexturePatch = false
	tbl = GLES2(egl.ProcAddress)
	g.call(tbl, "glTexImage2D", 0, 0, glRGBA, 1, 1, 0, glBGRA, 0)
	if format != glBGRA {
		t.Fatalf("format = %#x, want BGRA untouched", format)
	}
}

func TestLooperReportsInput(t *testing.T) {
	g := newGuest(t)
	queue, _ := NewInputQueue(g.env)
	looper, err := NewLooper(g.env, queue)
	if err != nil {
		t.Fatal(err)
	}
	var announced int
	looper.FirstPoll = func() { announced++ }
	tbl := NewHookTable()
	looper.InitHooks(tbl)
	queue.InitHooks(tbl, looper)

	g.call(tbl, "AInputQueue_attachLooper", queue.Handle(), looper.Handle(), 7, 0, 0xd00d)
	queue.Push(InputEvent{Type: InputEventKey, Action: 0, KeyCode: 62})
	outData := g.alloc(8)
	if r := g.call(tbl, "ALooper_pollAll", 0, 0, 0, outData); int32(r) != 7 {
		t.Fatalf("pollAll = %d, want input ident", int32(r))
	}
	if p, _ := g.dbg.ToPointer(outData).MemReadPointer(); p.Address() != 0xd00d {
		t.Fatalf("outData = %#x", p.Address())
	}
	evOut := g.alloc(8)
	if r := g.call(tbl, "AInputQueue_getEvent", queue.Handle(), evOut); r != 0 {
		t.Fatalf("getEvent = %d", r)
	}
	ev, _ := g.dbg.ToPointer(evOut).MemReadPointer()
	if typ := g.call(tbl, "AInputEvent_getType", ev.Address()); typ != InputEventKey {
		t.Fatalf("type = %d", typ)
	}
	if code := g.call(tbl, "AKeyEvent_getKeyCode", ev.Address()); code != 62 {
		t.Fatalf("key code = %d", code)
	}
	g.call(tbl, "AInputQueue_finishEvent", queue.Handle(), ev.Address(), 1)

	// the push above woke the looper once
	if r := g.call(tbl, "ALooper_pollAll", 0, 0, 0, 0); int32(r) != pollWake {
		t.Fatalf("pollAll = %d, want wake", int32(r))
	}
	if r := g.call(tbl, "ALooper_pollAll", 0, 0, 0, 0); int32(r) != pollTimeout {
		t.Fatalf("idle pollAll = %d, want timeout", int32(r))
	}
	looper.SetRunning(false)
	if r := g.call(tbl, "ALooper_pollAll", ^uint64(0), 0, 0, 0); int32(r) != pollError {
		t.Fatalf("stopped pollAll = %d", int32(r))
	}
	if announced != 1 {
		t.Fatalf("first poll ran %d times", announced)
	}
	if pc, _ := g.emu.RegRead(emulator.ARM64_REG_PC); pc != 0x1000 {
		t.Fatalf("pc = %#x", pc)
	}
}
