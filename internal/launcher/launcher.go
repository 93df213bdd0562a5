package launcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	_ "github.com/wnxd/mcpehost/debugger/arches"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/filesystem"
	"github.com/wnxd/mcpehost/internal/android"
	"github.com/wnxd/mcpehost/internal/hybris"
	"github.com/wnxd/mcpehost/internal/jni"
	"github.com/wnxd/mcpehost/internal/linker"
	"github.com/wnxd/mcpehost/internal/patch"
	"github.com/wnxd/mcpehost/internal/paths"
	"github.com/wnxd/mcpehost/internal/shim"
	"github.com/wnxd/mcpehost/internal/threadmover"
	"golang.org/x/sync/errgroup"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUnloadable = 51
)

const (
	gameLibrary = "libminecraftpe.so"
	windowTitle = "Minecraft"
	modsDir     = "mods"
)

// Launcher boots the game. Collaborators left nil get their defaults.
type Launcher struct {
	Options Options
	Paths   *paths.Helper
	Mover   *threadmover.Mover

	// NewEmulator creates the CPU for the game's architecture.
	NewEmulator func(arch emulator.Arch) (emulator.Emulator, error)

	Windows WindowManager
	Crash   CrashHandler
	Mods    ModLoader
	Audio   AudioLoader
	Session SessionService

	Pid int
}

func (l *Launcher) defaults() error {
	if l.Paths == nil {
		p, err := paths.New()
		if err != nil {
			return err
		}
		l.Paths = p
	}
	if l.Mover == nil {
		l.Mover = threadmover.New()
	}
	if l.Windows == nil {
		l.Windows = &HeadlessWindowManager{}
	}
	if l.Crash == nil {
		l.Crash = LogCrashHandler{}
	}
	if l.Audio == nil {
		l.Audio = &FmodLoader{Paths: l.Paths}
	}
	if l.Session == nil {
		l.Session = NopSession{}
	}
	if l.Pid == 0 {
		l.Pid = os.Getpid()
	}
	if l.NewEmulator == nil {
		return errors.New("no CPU backend")
	}
	return nil
}

func (l *Launcher) applyPaths() {
	o := l.Options
	if o.GameDir != "" {
		l.Paths.SetGameDir(o.GameDir)
	}
	if o.DataDir != "" {
		l.Paths.SetDataDir(o.DataDir)
	}
	if o.CacheDir != "" {
		l.Paths.SetCacheDir(o.CacheDir)
	}
}

// process is everything one run of the game owns.
type process struct {
	*Launcher
	state *State
	seq   *Sequencer
	dbg   debugger.Debugger
	env   *hybris.Env
	ld    *linker.Linker

	window *hybris.Window
	input  *hybris.InputQueue
	looper *hybris.Looper
	assets *hybris.AssetManager
	egl    *hybris.EGL

	mu  sync.Mutex
	win Window
}

func (p *process) hostWindow() Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.win
}

func (p *process) ShowMousePointer() {
	if w := p.hostWindow(); w != nil {
		p.Mover.RunOnMain(w.ShowMousePointer)
	}
}

func (p *process) HideMousePointer() {
	if w := p.hostWindow(); w != nil {
		p.Mover.RunOnMain(w.HideMousePointer)
	}
}

func (p *process) close() {
	if p.egl != nil {
		p.egl.Close()
	}
	if p.ld != nil {
		p.ld.Close()
	}
	p.dbg.Close()
	p.dbg.Emulator().Close()
}

// Run boots the game and drives the main thread until the window closes.
// It returns the process exit code.
func (l *Launcher) Run(ctx context.Context) (code int) {
	if err := l.defaults(); err != nil {
		launcherLog.WithError(err).Error("Failed to start")
		return ExitFailure
	}
	l.Crash.Register()
	defer func() {
		if r := recover(); r != nil {
			l.Crash.Report(r)
			code = ExitFailure
		}
	}()
	l.applyPaths()
	state := NewState(l.Options)

	libPath, arch, err := l.Paths.FindGameLibrary(gameLibrary)
	if err != nil {
		launcherLog.WithError(err).Error("Could not find the game, use the -dg flag to fix this error")
		return ExitFailure
	}
	launcherLog.Infof("Game library %s (%s)", libPath, arch)
	if !debugger.Supported(arch) {
		launcherLog.Errorf("No debugger for %s", arch)
		return ExitFailure
	}

	emu, err := l.NewEmulator(arch)
	if err != nil {
		launcherLog.WithError(err).Error("Failed to create the CPU")
		return ExitFailure
	}
	dbg, err := debugger.New(emu)
	if err != nil {
		emu.Close()
		launcherLog.WithError(err).Error("Failed to create the debugger")
		return ExitFailure
	}
	p := &process{Launcher: l, state: state, dbg: dbg}
	if code, err := p.boot(ctx, libPath); err != nil {
		launcherLog.WithError(err).Error("Failed to start the game")
		p.close()
		return code
	}
	return p.mainLoop(ctx)
}

func (p *process) boot(ctx context.Context, libPath string) (int, error) {
	p.redirectFiles()
	p.env = hybris.NewEnv(p.dbg)
	ld, err := linker.New(p.dbg)
	if err != nil {
		return ExitFailure, err
	}
	p.ld = ld
	p.seq = NewSequencer(p.state, ld)
	if err := p.hostObjects(); err != nil {
		return ExitFailure, err
	}
	ld.UpdateLibraryPath(filepath.Dir(libPath))
	if err := p.seq.Run(p.platformPlan()); err != nil {
		return ExitFailure, err
	}

	if p.Mods == nil {
		p.Mods = &DirModLoader{Linker: ld, Dbg: p.dbg}
	}
	if err := p.Mods.LoadMods(ctx, p.modsDir(), true); err != nil {
		launcherLog.WithError(err).Warn("Failed to preload mods")
	}

	p.seq.GLES2 = func() *hybris.HookTable { return hybris.GLES2(p.Windows.ProcAddress(p.env)) }
	guest, err := p.seq.LoadGuest(libPath, patch.CoreHooks(p))
	if err != nil {
		return ExitUnloadable, err
	}
	launcherLog.Info("Loaded Minecraft library")

	if !p.Options.DisableFmod {
		audio := Step{Name: "fmod", Optional: true, Load: p.Audio.Load}
		if err := p.seq.Run(Plan{audio}); err != nil {
			return ExitFailure, err
		}
	}
	if err := guest.Init(ctx); err != nil {
		return ExitUnloadable, errors.Wrap(err, "initialize game library")
	}
	if err := p.Mods.LoadMods(ctx, p.modsDir(), false); err != nil {
		launcherLog.WithError(err).Warn("Failed to load mods")
	}
	p.applyPatches(guest)
	return ExitOK, nil
}

func (p *process) modsDir() string {
	return filepath.Join(p.Paths.PrimaryDataDirectory(), modsDir)
}

// redirectFiles routes guest file access: /proc first, then the data
// directory redirect over the host root.
func (p *process) redirectFiles() {
	src := shim.Source{Pid: p.Pid, AppDir: p.Paths.AppDir(), Argv0: p.Options.argv0()}
	args := p.Options.Args
	if len(args) == 0 {
		args = []string{gameLibrary}
	}
	p.dbg.AddFileHandler(shim.NewProcHandler(shim.NewProcFS(src, args)))
	table := shim.NewTable(src, p.Paths.PrimaryDataDirectory())
	p.dbg.AddFileHandler(shim.NewHandler(table, filesystem.SysDirFS("/")))
}

func (p *process) hostObjects() error {
	var err error
	if p.window, err = hybris.NewWindow(p.env); err != nil {
		return err
	}
	if p.input, err = hybris.NewInputQueue(p.env); err != nil {
		return err
	}
	if p.looper, err = hybris.NewLooper(p.env, p.input); err != nil {
		return err
	}
	assets := os.DirFS(os.TempDir())
	if dir, err := p.Paths.FindGameFile("assets"); err == nil {
		assets = os.DirFS(dir)
	} else {
		launcherLog.WithError(err).Warn("Game assets not found")
	}
	if p.assets, err = hybris.NewAssetManager(p.env, assets); err != nil {
		return err
	}
	p.egl = hybris.NewEGL(p.env, p.window, p.Windows.ProcAddress(p.env))
	p.egl.TexturePatch = p.Options.TexturePatch
	return nil
}

// platformPlan lists the host libraries in load order.
func (p *process) platformPlan() Plan {
	libc := hybris.NewHookTable()
	threadmover.HookLibC(libc, p.dbg)
	libc.Merge(hybris.LibC(p.env))

	libandroid := hybris.NewHookTable()
	p.assets.InitHooks(libandroid)
	p.input.InitHooks(libandroid, p.looper)
	p.looper.InitHooks(libandroid)
	p.window.InitHooks(libandroid)
	libandroid.AddFunc("ANativeActivity_finish", func(debugger.Context, any) {
		if w := p.hostWindow(); w != nil {
			w.Close()
		}
	})
	n := hybris.AndroidStubs(libandroid)
	launcherLog.Debugf("%d android stubs", n)

	return Plan{
		{Name: "libc.so", Symbols: libc},
		{Name: "libm.so", Symbols: hybris.LibM(p.env)},
		{Name: "libdl.so", Symbols: p.ld.LibDL()},
		{Name: "liblog.so", Symbols: hybris.LibLog(p.env)},
		{Name: "libEGL.so", Symbols: p.egl.Library()},
		{Name: libGLES2, Load: func() error {
			t := hybris.NewHookTable()
			if p.state.Mode() == GLES2 {
				t = hybris.GLES2(p.Windows.ProcAddress(p.env))
			}
			return p.seq.step(Step{Name: libGLES2, Symbols: t})
		}},
		{Name: "libandroid.so", Symbols: libandroid},
		{Name: "libOpenSLES.so", Optional: true},
	}
}

func (p *process) applyPatches(guest linker.Library) {
	target := patch.NewTarget(p.dbg, guest)
	if v, err := GameVersion(p.dbg, guest); err == nil {
		launcherLog.Infof("Game version: %s", v)
		if NeedsTexturePatch(v) && !p.Options.TexturePatch {
			launcherLog.Warn("This version may render textures wrong, try the -tp flag")
		}
	} else {
		launcherLog.WithError(err).Debug("Game version unknown")
	}
	if _, err := patch.Standard(p).Apply(target); err != nil {
		launcherLog.WithError(err).Warn("Patching failed")
	}
	if patch.IsRenderDragon(target) {
		launcherLog.Info("The game uses bgfx, disabling keyboard direct input")
		p.state.DisableDirectInput()
	}
	if p.state.Mode() == DesktopGL {
		if _, err := patch.NewSet(patch.GLCore()).Apply(target); err != nil {
			p.state.FallbackToGLES2(err.Error())
		}
	}
	p.state.Seal()
}

// mainLoop starts the game on its own thread and hands the original one
// to the window until it closes.
func (p *process) mainLoop(ctx context.Context) int {
	win, err := p.Windows.CreateWindow(ctx, windowTitle, p.Options.Width, p.Options.Height, p.state.Mode())
	if err != nil {
		launcherLog.WithError(err).Error("Failed to create the window")
		p.close()
		return ExitFailure
	}
	p.mu.Lock()
	p.win = win
	p.mu.Unlock()
	p.window.Attach(mainSurface{Window: win, run: p.Mover.RunOnMain})
	if k, ok := win.(keyboardWindow); ok {
		k.SetKeyboardDirectInput(p.state.DirectInput())
	}

	guest := p.state.Guest()
	support, err := p.startSupport(ctx, guest, win)
	if err != nil {
		launcherLog.WithError(err).Error("Failed to start the game")
		p.close()
		return ExitFailure
	}
	onCreate, _ := p.ld.Dlsym(guest, "ANativeActivity_onCreate")
	stbiLoad, _ := p.ld.Dlsym(guest, "stbi_load_from_memory")
	stbiFree, _ := p.ld.Dlsym(guest, "stbi_image_free")

	p.state.SetRunning(true)
	threadmover.Go(func() {
		if err := support.StartGame(ctx, onCreate, stbiLoad, stbiFree); err != nil {
			var pe *debugger.PanicException
			if errors.As(err, &pe) {
				p.Crash.Report(pe.Panic())
			}
			launcherLog.WithError(err).Error("Game stopped")
		}
		p.ld.Dlclose(guest)
		win.Close()
	})
	p.Mover.ExecuteMainThread(win.Step)

	launcherLog.Info("Shutting down")
	p.state.SetRunning(false)
	support.SetLooperRunning(false)
	if err := p.shutdown(); err != nil {
		launcherLog.WithError(err).Warn("Shutdown incomplete")
	}
	return ExitOK
}

// shutdown stops the session and the audio backend within a bounded
// time. The game thread is left running.
func (p *process) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sessionShutdownTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Session.Shutdown(gctx)
	})
	if c, ok := p.Audio.(io.Closer); ok && !p.Options.DisableFmod {
		g.Go(c.Close)
	}
	return g.Wait()
}

// startSupport sets up the Java side of the activity and runs the
// game's JNI_OnLoad.
func (p *process) startSupport(ctx context.Context, guest linker.Library, win Window) (*jni.Support, error) {
	vm := jni.NewVM()
	android.Register(vm)
	bridge, err := jni.NewBridge(p.dbg, vm)
	if err != nil {
		return nil, err
	}
	activity := android.NewMainActivity(p.Paths.PrimaryDataDirectory())
	if ti, ok := win.(android.TextInput); ok {
		activity.TextInput = ti
	}
	activity.QuitCallback = win.Close

	support := jni.NewSupport(bridge, activity)
	support.Looper = p.looper
	support.Window = p.window
	support.Input = p.input
	support.Assets = p.assets
	support.DataDir = p.Paths.PrimaryDataDirectory()

	resolve := func(sym string) uint64 {
		addr, _ := p.ld.Dlsym(guest, sym)
		return addr
	}
	n := support.RegisterNatives(android.MainActivityClass, android.MinecraftNatives, resolve)
	launcherLog.Debugf("Registered %d natives", n)

	if onLoad := resolve("JNI_OnLoad"); onLoad != 0 {
		if _, err := p.dbg.Call(ctx, onLoad, bridge.JavaVM(), 0); err != nil {
			return nil, errors.Wrap(err, "JNI_OnLoad")
		}
	}
	return support, nil
}
