package jni

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/encoding"
	"github.com/wnxd/mcpehost/internal/hybris"
)

const sdkVersion = 27

var ErrNoEntry = errors.New("ANativeActivity_onCreate not found")

// nativeActivity mirrors ANativeActivity.
type nativeActivity struct {
	Callbacks encoding.Pointer
	VM        encoding.Pointer
	Env       encoding.Pointer
	Clazz     encoding.Pointer
	Internal  encoding.Pointer
	External  encoding.Pointer
	SDK       int32
	Instance  encoding.Pointer
	Assets    encoding.Pointer
	Obb       encoding.Pointer
}

// activityCallbacks mirrors ANativeActivityCallbacks.
type activityCallbacks struct {
	OnStart                    encoding.Pointer
	OnResume                   encoding.Pointer
	OnSaveInstanceState        encoding.Pointer
	OnPause                    encoding.Pointer
	OnStop                     encoding.Pointer
	OnDestroy                  encoding.Pointer
	OnWindowFocusChanged       encoding.Pointer
	OnNativeWindowCreated      encoding.Pointer
	OnNativeWindowResized      encoding.Pointer
	OnNativeWindowRedrawNeeded encoding.Pointer
	OnNativeWindowDestroyed    encoding.Pointer
	OnInputQueueCreated        encoding.Pointer
	OnInputQueueDestroyed      encoding.Pointer
	OnContentRectChanged       encoding.Pointer
	OnConfigurationChanged     encoding.Pointer
	OnLowMemory                encoding.Pointer
}

// NativeMethod names a native method a guest library implements as a
// Java_ export.
type NativeMethod struct {
	Name string
	Sig  string
}

// Support runs the guest activity on top of a bridge.
type Support struct {
	Bridge   *Bridge
	Activity Object
	Looper   *hybris.Looper
	Window   *hybris.Window
	Input    *hybris.InputQueue
	Assets   *hybris.AssetManager

	// DataDir backs internalDataPath, externalDataPath and obbPath.
	DataDir string

	dbg       debugger.Debugger
	layout    *encoding.Layout
	activity  uint64
	callbacks activityCallbacks
	stbiLoad  uint64
	stbiFree  uint64
}

func NewSupport(b *Bridge, activity Object) *Support {
	return &Support{
		Bridge:   b,
		Activity: activity,
		dbg:      b.dbg,
		layout:   encoding.LayoutOf(b.dbg.Emulator().Arch()),
	}
}

// MangleNative returns the symbol a guest library exports for method
// name of class.
func MangleNative(class, name string) string {
	return "Java_" + mangle(class) + "_" + mangle(name)
}

func mangle(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '/':
			sb.WriteByte('_')
		case r == '_':
			sb.WriteString("_1")
		case r == ';':
			sb.WriteString("_2")
		case r == '[':
			sb.WriteString("_3")
		case r < 0x80 && (r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'):
			sb.WriteRune(r)
		default:
			fmt.Fprintf(&sb, "_0%04x", r)
		}
	}
	return sb.String()
}

// RegisterNatives binds every method whose Java_ symbol resolve finds
// and returns how many were bound.
func (s *Support) RegisterNatives(c *Class, methods []NativeMethod, resolve func(sym string) uint64) int {
	n := 0
	for _, m := range methods {
		addr := resolve(MangleNative(c.Name, m.Name))
		if addr == 0 {
			jniLog.Debugf("no native for %s.%s", c.Name, m.Name)
			continue
		}
		s.Bridge.vm.RegisterNatives(c, m.Name, m.Sig, addr)
		n++
	}
	return n
}

func (s *Support) guestString(str string) (uint64, error) {
	addr, err := s.dbg.MemImportString(str)
	if err != nil {
		return 0, err
	}
	s.Bridge.allocs = append(s.Bridge.allocs, addr)
	return addr, nil
}

// buildActivity writes ANativeActivity and its callback table.
func (s *Support) buildActivity() error {
	cbSize, err := s.layout.Size(&activityCallbacks{})
	if err != nil {
		return err
	}
	cbs, err := s.Bridge.alloc(uint64(cbSize))
	if err != nil {
		return err
	}
	if err = s.layout.Write(s.dbg.ToPointer(cbs), &activityCallbacks{}); err != nil {
		return err
	}
	path, err := s.guestString(s.DataDir)
	if err != nil {
		return err
	}
	a := nativeActivity{
		Callbacks: encoding.Pointer(cbs),
		VM:        encoding.Pointer(s.Bridge.javaVM),
		Env:       encoding.Pointer(s.Bridge.env),
		Clazz:     encoding.Pointer(s.Bridge.vm.NewRef(s.Activity, GlobalRef)),
		Internal:  encoding.Pointer(path),
		External:  encoding.Pointer(path),
		SDK:       sdkVersion,
		Obb:       encoding.Pointer(path),
	}
	if s.Assets != nil {
		a.Assets = encoding.Pointer(s.Assets.Handle())
	}
	size, err := s.layout.Size(&a)
	if err != nil {
		return err
	}
	if s.activity, err = s.Bridge.alloc(uint64(size)); err != nil {
		return err
	}
	return s.layout.Write(s.dbg.ToPointer(s.activity), &a)
}

// ActivityAddr is the ANativeActivity* handed to onCreate.
func (s *Support) ActivityAddr() uint64 {
	return s.activity
}

func (s *Support) callback(ctx context.Context, name string, fn encoding.Pointer, args ...uint64) error {
	if fn == 0 {
		return nil
	}
	jniLog.Debugf("activity callback %s", name)
	_, err := s.dbg.Call(ctx, uint64(fn), append([]uint64{s.activity}, args...)...)
	return errors.Wrap(err, name)
}

// spawn runs a callback on its own guest thread.
func (s *Support) spawn(name string, fn encoding.Pointer, args ...uint64) {
	if fn == 0 {
		return
	}
	if _, err := s.dbg.Spawn(uint64(fn), append([]uint64{s.activity}, args...)...); err != nil {
		jniLog.WithError(err).Errorf("activity callback %s", name)
	}
}

// StartGame creates the activity and drives it until every guest thread
// it started has exited.
func (s *Support) StartGame(ctx context.Context, onCreate, stbiLoad, stbiFree uint64) error {
	if onCreate == 0 {
		return ErrNoEntry
	}
	s.stbiLoad, s.stbiFree = stbiLoad, stbiFree
	s.Bridge.ctx = ctx
	if err := s.buildActivity(); err != nil {
		return errors.Wrap(err, "build activity")
	}
	jniLog.Info("Invoking nativeOnCreate")
	if _, err := s.dbg.Call(ctx, onCreate, s.activity, 0, 0); err != nil {
		return errors.Wrap(err, "ANativeActivity_onCreate")
	}
	var a nativeActivity
	if err := s.layout.Read(s.dbg.ToPointer(s.activity), &a); err != nil {
		return err
	}
	if err := s.layout.Read(s.dbg.ToPointer(uint64(a.Callbacks)), &s.callbacks); err != nil {
		return err
	}
	if s.Looper != nil {
		s.Looper.FirstPoll = s.announce
	}
	jniLog.Info("Invoking start activity callbacks")
	if err := s.callback(ctx, "onStart", s.callbacks.OnStart); err != nil {
		return err
	}
	if err := s.callback(ctx, "onResume", s.callbacks.OnResume); err != nil {
		return err
	}
	return s.dbg.RunThreads(ctx)
}

// announce hands the window and input queue to the guest once its
// looper starts polling.
func (s *Support) announce() {
	cb := s.callbacks
	if s.Window != nil {
		s.spawn("onNativeWindowCreated", cb.OnNativeWindowCreated, s.Window.Handle())
	}
	if s.Input != nil {
		s.spawn("onInputQueueCreated", cb.OnInputQueueCreated, s.Input.Handle())
	}
	s.spawn("onWindowFocusChanged", cb.OnWindowFocusChanged, 1)
}

// SetLooperRunning stops or resumes the guest event looper.
func (s *Support) SetLooperRunning(running bool) {
	if s.Looper != nil {
		s.Looper.SetRunning(running)
	}
}

// DecodeImage decodes an image with the guest's stb_image into RGBA
// pixels.
func (s *Support) DecodeImage(ctx context.Context, data []byte) (width, height int, pixels []byte, err error) {
	if s.stbiLoad == 0 {
		return 0, 0, nil, errors.New("stbi_load_from_memory not available")
	}
	buf, err := s.dbg.MemImport(data)
	if err != nil {
		return 0, 0, nil, err
	}
	defer s.dbg.MemFree(buf)
	dims, err := s.dbg.MemAlloc(12)
	if err != nil {
		return 0, 0, nil, err
	}
	defer s.dbg.MemFree(dims)
	img, err := s.dbg.Call(ctx, s.stbiLoad, buf, uint64(len(data)), dims, dims+4, dims+8, 4)
	if err != nil {
		return 0, 0, nil, errors.Wrap(err, "stbi_load_from_memory")
	}
	if img == 0 {
		return 0, 0, nil, errors.New("stbi_load_from_memory failed")
	}
	p := s.dbg.ToPointer(dims)
	w, _ := p.MemReadUint32()
	h, _ := p.Add(4).MemReadUint32()
	pixels, err = s.dbg.ToPointer(img).MemRead(uint64(w) * uint64(h) * 4)
	if s.stbiFree != 0 {
		s.dbg.Call(ctx, s.stbiFree, img)
	}
	return int(w), int(h), pixels, err
}
