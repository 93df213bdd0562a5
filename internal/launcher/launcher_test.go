package launcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/debugger/arm64"
	"github.com/wnxd/mcpehost/internal/emutest"
	"github.com/wnxd/mcpehost/internal/hybris"
	"github.com/wnxd/mcpehost/internal/linker"
	"github.com/wnxd/mcpehost/internal/paths"
	"github.com/wnxd/mcpehost/internal/threadmover"
)

type fakeLib struct {
	name string
	syms map[string]uint64
}

func (l *fakeLib) Close() error                   { return nil }
func (l *fakeLib) Name() string                   { return l.name }
func (l *fakeLib) Region() (uint64, uint64)       { return 0, 0 }
func (l *fakeLib) BaseAddr() uint64               { return 0 }
func (l *fakeLib) EntryAddr() uint64              { return 0 }
func (l *fakeLib) Init(ctx context.Context) error { return nil }
func (l *fakeLib) Handle() uint64                 { return 1 }

func (l *fakeLib) FindSymbol(name string) (uint64, error) {
	if addr, ok := l.syms[name]; ok {
		return addr, nil
	}
	return 0, linker.ErrUnresolved
}

type fakeLoader struct {
	failures int
	dlopens  int
	libs     map[string]*fakeLib
	tables   map[string]*hybris.HookTable
	closed   []string
}

func newFakeLoader(failures int) *fakeLoader {
	return &fakeLoader{
		failures: failures,
		libs:     make(map[string]*fakeLib),
		tables:   make(map[string]*hybris.HookTable),
	}
}

func (f *fakeLoader) LoadLibrary(name string, t *hybris.HookTable) (linker.Library, error) {
	if _, ok := f.libs[name]; ok {
		return nil, errors.Errorf("library %s already loaded", name)
	}
	lib := &fakeLib{name: name}
	f.libs[name] = lib
	f.tables[name] = t
	return lib, nil
}

func (f *fakeLoader) Dlopen(path string, hooks *hybris.HookTable) (linker.Library, error) {
	f.dlopens++
	if f.dlopens <= f.failures {
		return nil, errors.Wrap(linker.ErrUnresolved, "glGetString")
	}
	return &fakeLib{name: filepath.Base(path)}, nil
}

func (f *fakeLoader) Dlclose(lib linker.Library) error {
	delete(f.libs, lib.Name())
	f.closed = append(f.closed, lib.Name())
	return nil
}

func (f *fakeLoader) Lookup(name string) (linker.Library, bool) {
	lib, ok := f.libs[name]
	return lib, ok
}

func gles2Table() *hybris.HookTable {
	t := hybris.NewHookTable()
	t.AddFunc("glClear", hybris.Nop(0))
	return t
}

func newSequencer(t *testing.T, opts Options, failures int) (*Sequencer, *fakeLoader) {
	t.Helper()
	ld := newFakeLoader(failures)
	s := NewSequencer(NewState(opts), ld)
	s.GLES2 = gles2Table
	if err := s.Run(Plan{{Name: libGLES2}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return s, ld
}

func TestLoadGuestFirstTry(t *testing.T) {
	s, ld := newSequencer(t, DefaultOptions(), 0)
	lib, err := s.LoadGuest("/game/libminecraftpe.so", nil)
	if err != nil {
		t.Fatalf("LoadGuest: %v", err)
	}
	if s.State.Guest() != lib {
		t.Error("guest handle not recorded")
	}
	if s.Attempts != 1 || s.State.Mode() != DesktopGL || len(ld.closed) != 0 {
		t.Errorf("attempts=%d mode=%s closed=%v", s.Attempts, s.State.Mode(), ld.closed)
	}
}

func TestLoadGuestFallsBackOnce(t *testing.T) {
	s, ld := newSequencer(t, DefaultOptions(), 1)
	stub := ld.tables[libGLES2]
	if _, err := s.LoadGuest("/game/libminecraftpe.so", nil); err != nil {
		t.Fatalf("LoadGuest: %v", err)
	}
	if s.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", s.Attempts)
	}
	if s.State.Mode() != GLES2 {
		t.Errorf("mode = %s", s.State.Mode())
	}
	if !slices.Equal(ld.closed, []string{libGLES2}) {
		t.Errorf("closed = %v", ld.closed)
	}
	installed := ld.tables[libGLES2]
	if installed == stub {
		t.Fatal("stub GLES library still installed")
	}
	if _, ok := installed.Lookup("glClear"); !ok {
		t.Error("GLES2 symbols missing after fallback")
	}
	if s.State.Hooks(libGLES2) != installed {
		t.Error("state does not record the GLES2 table")
	}
}

func TestLoadGuestSecondFailureIsFatal(t *testing.T) {
	s, _ := newSequencer(t, DefaultOptions(), 2)
	_, err := s.LoadGuest("/game/libminecraftpe.so", nil)
	if errors.Cause(err) != ErrGuestUnloadable {
		t.Fatalf("err = %v, want %v", err, ErrGuestUnloadable)
	}
	if s.Attempts != 2 {
		t.Errorf("attempts = %d, want exactly 2", s.Attempts)
	}
}

func TestLoadGuestNoFallbackFromGLES2(t *testing.T) {
	opts := DefaultOptions()
	opts.ForceGLES = true
	s, ld := newSequencer(t, opts, 1)
	_, err := s.LoadGuest("/game/libminecraftpe.so", nil)
	if errors.Cause(err) != ErrGuestUnloadable {
		t.Fatalf("err = %v", err)
	}
	if s.Attempts != 1 || len(ld.closed) != 0 {
		t.Errorf("attempts=%d closed=%v", s.Attempts, ld.closed)
	}
}

func captureLogs(t *testing.T) *memory.Handler {
	t.Helper()
	logger := log.Log.(*log.Logger)
	prev := logger.Handler
	h := memory.New()
	log.SetHandler(h)
	t.Cleanup(func() { log.SetHandler(prev) })
	return h
}

func TestRunOptionalSteps(t *testing.T) {
	logs := captureLogs(t)
	s := NewSequencer(NewState(DefaultOptions()), newFakeLoader(0))
	broken := errors.New("no audio")
	err := s.Run(Plan{
		{Name: "libc.so"},
		{Name: "fmod", Optional: true, Load: func() error { return broken }},
		{Name: "libandroid.so"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []string{"libc.so", "libandroid.so"}; !slices.Equal(s.Loaded(), want) {
		t.Errorf("loaded = %v, want %v", s.Loaded(), want)
	}
	var warned bool
	for _, e := range logs.Entries {
		if e.Level == log.WarnLevel && e.Fields["error"] != nil {
			warned = true
		}
	}
	if !warned {
		t.Error("skipped optional step not logged as a warning")
	}

	err = s.Run(Plan{
		{Name: "libm.so", Load: func() error { return broken }},
		{Name: "liblog.so"},
	})
	if errors.Cause(err) != broken {
		t.Fatalf("err = %v", err)
	}
	if slices.Contains(s.Loaded(), "liblog.so") {
		t.Error("sequence continued past a required failure")
	}
}

func TestStateModeChangesForwardOnly(t *testing.T) {
	s := NewState(DefaultOptions())
	if s.Mode() != DesktopGL {
		t.Fatalf("mode = %s", s.Mode())
	}
	if !s.FallbackToGLES2("test") {
		t.Fatal("first fallback refused")
	}
	if s.FallbackToGLES2("again") {
		t.Error("second fallback accepted")
	}

	sealed := NewState(DefaultOptions())
	sealed.Seal()
	if sealed.FallbackToGLES2("late") || sealed.Mode() != DesktopGL {
		t.Error("sealed state changed mode")
	}

	if !s.DirectInput() {
		t.Error("direct input starts disabled")
	}
	s.DisableDirectInput()
	if s.DirectInput() {
		t.Error("direct input still enabled")
	}
}

func TestGameVersion(t *testing.T) {
	emu := emutest.New(emulator.ARCH_ARM64)
	dbg, err := arm64.NewArm64Debugger(emu)
	if err != nil {
		t.Fatal(err)
	}
	defer dbg.Close()
	lib := &fakeLib{name: gameLibrary, syms: make(map[string]uint64)}
	for i, v := range []uint32{1, 16, 221, 1} {
		val, err := dbg.MemAlloc(4)
		if err != nil {
			t.Fatal(err)
		}
		ptr, err := dbg.MemAlloc(8)
		if err != nil {
			t.Fatal(err)
		}
		dbg.ToPointer(val).MemWriteUint32(v)
		dbg.ToPointer(ptr).MemWritePointer(val)
		lib.syms[versionSymbols[i]] = ptr
	}
	v, err := GameVersion(dbg, lib)
	if err != nil {
		t.Fatalf("GameVersion: %v", err)
	}
	if v.String() != "1.16.221.1" {
		t.Errorf("version = %s", v)
	}
	if !NeedsTexturePatch(v) {
		t.Error("1.16.221 should want the texture patch")
	}

	delete(lib.syms, versionSymbols[0])
	if _, err := GameVersion(dbg, lib); err == nil {
		t.Error("missing major version not reported")
	}
}

func TestApplyPatchesFallsBackWithoutGLCore(t *testing.T) {
	emu := emutest.New(emulator.ARCH_ARM64)
	dbg, err := arm64.NewArm64Debugger(emu)
	if err != nil {
		t.Fatal(err)
	}
	defer dbg.Close()
	opts := DefaultOptions()
	state := NewState(opts)
	ld := newFakeLoader(0)
	p := &process{
		Launcher: &Launcher{Options: opts},
		state:    state,
		seq:      NewSequencer(state, ld),
		dbg:      dbg,
	}
	guest := &fakeLib{name: gameLibrary, syms: map[string]uint64{}}
	p.applyPatches(guest)

	if state.Mode() != GLES2 {
		t.Errorf("mode = %s, want %s", state.Mode(), GLES2)
	}
	if !state.sealed {
		t.Error("state not sealed after patching")
	}
	if state.FallbackToGLES2("late") {
		t.Error("mode changed after sealing")
	}
	if ld.dlopens != 0 || len(ld.libs) != 0 {
		t.Errorf("patching loaded libraries: dlopens=%d libs=%d", ld.dlopens, len(ld.libs))
	}
}

func TestHeadlessWindow(t *testing.T) {
	m := &HeadlessWindowManager{FrameInterval: time.Millisecond}
	win, err := m.CreateWindow(context.Background(), windowTitle, 720, 480, DesktopGL)
	if err != nil {
		t.Fatal(err)
	}
	if w, h := win.Size(); w != 720 || h != 480 {
		t.Errorf("size = %dx%d", w, h)
	}
	if !win.Step() {
		t.Fatal("open window stopped")
	}
	ran := 0
	s := mainSurface{Window: win, run: func(fn func()) { ran++; fn() }}
	s.SwapBuffers()
	if ran != 1 || win.(*headlessWindow).frames.Load() != 1 {
		t.Errorf("swap not routed: ran=%d", ran)
	}
	win.Close()
	win.Close()
	if win.Step() {
		t.Error("closed window kept running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	win, _ = m.CreateWindow(ctx, windowTitle, 1, 1, GLES2)
	cancel()
	if win.Step() {
		t.Error("window outlived its context")
	}
}

func TestDirModLoaderMissingDir(t *testing.T) {
	m := &DirModLoader{}
	if err := m.LoadMods(context.Background(), filepath.Join(t.TempDir(), "mods"), true); err != nil {
		t.Fatalf("LoadMods: %v", err)
	}
	if err := m.LoadMods(context.Background(), "", false); err != nil {
		t.Fatalf("LoadMods: %v", err)
	}
	if len(m.Mods()) != 0 {
		t.Error("mods loaded from nowhere")
	}
}

func newLauncher(t *testing.T, gameDir string) *Launcher {
	t.Helper()
	p, err := paths.New()
	if err != nil {
		t.Fatal(err)
	}
	p.SetDataDir(t.TempDir())
	opts := DefaultOptions()
	opts.GameDir = gameDir
	opts.DisableFmod = true
	return &Launcher{
		Options: opts,
		Paths:   p,
		Mover:   threadmover.New(),
		NewEmulator: func(arch emulator.Arch) (emulator.Emulator, error) {
			return emutest.New(arch), nil
		},
	}
}

func TestRunGameMissing(t *testing.T) {
	l := newLauncher(t, t.TempDir())
	if code := l.Run(context.Background()); code != ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitFailure)
	}
}

func TestRunGameUnloadable(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib", paths.AbiDir(emulator.ARCH_ARM64), gameLibrary)
	if err := os.MkdirAll(filepath.Dir(lib), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lib, []byte("not an ELF file"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := newLauncher(t, dir)
	if code := l.Run(context.Background()); code != ExitUnloadable {
		t.Fatalf("exit code = %d, want %d", code, ExitUnloadable)
	}
}
