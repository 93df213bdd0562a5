package launcher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/internal/hybris"
	"github.com/wnxd/mcpehost/internal/linker"
	"github.com/wnxd/mcpehost/internal/paths"
)

// CrashHandler reports a crash of the host.
type CrashHandler interface {
	Register()
	Report(v any)
}

type LogCrashHandler struct{}

func (LogCrashHandler) Register() {
	debug.SetTraceback("all")
}

func (LogCrashHandler) Report(v any) {
	launcherLog.WithField("panic", v).Errorf("The launcher crashed\n%s", debug.Stack())
}

// ModLoader loads the libraries under the mods directory. The preinit
// pass runs before the game library is mapped, the second one after.
type ModLoader interface {
	LoadMods(ctx context.Context, dir string, preinit bool) error
}

const modInit = "mod_init"

// DirModLoader maps every .so in the directory, in name order, and
// calls their mod_init once the game is loaded.
type DirModLoader struct {
	Linker *linker.Linker
	Dbg    debugger.Debugger
	Hooks  *hybris.HookTable

	mu   sync.Mutex
	mods []linker.Library
}

func (m *DirModLoader) LoadMods(ctx context.Context, dir string, preinit bool) error {
	if preinit {
		return m.preload(dir)
	}
	m.mu.Lock()
	mods := slices.Clone(m.mods)
	m.mu.Unlock()
	for _, mod := range mods {
		if err := mod.Init(ctx); err != nil {
			launcherLog.WithError(err).Warnf("Failed to initialize mod %s", mod.Name())
			continue
		}
		addr, err := mod.FindSymbol(modInit)
		if err != nil || addr == 0 {
			continue
		}
		if _, err := m.Dbg.Call(ctx, addr); err != nil {
			launcherLog.WithError(err).Warnf("%s of %s failed", modInit, mod.Name())
		}
	}
	return nil
}

func (m *DirModLoader) preload(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}
		lib, err := m.Linker.Dlopen(filepath.Join(dir, e.Name()), m.Hooks)
		if err != nil {
			launcherLog.WithError(err).Warnf("Failed to load mod %s", e.Name())
			continue
		}
		launcherLog.Infof("Loaded mod %s", e.Name())
		m.mu.Lock()
		m.mods = append(m.mods, lib)
		m.mu.Unlock()
	}
	return nil
}

// Mods returns the loaded mods in load order.
func (m *DirModLoader) Mods() []linker.Library {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.mods)
}

// AudioLoader brings up the host audio backend.
type AudioLoader interface {
	Load() error
}

const fmodLibrary = "libfmod.so.12.0"

// FmodLoader opens the host build of FMOD shipped in the data directory.
type FmodLoader struct {
	Paths *paths.Helper

	handle uintptr
}

func hostAbi() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "x86"
	case "arm64":
		return "arm64-v8a"
	case "arm":
		return "armeabi-v7a"
	}
	return runtime.GOARCH
}

func (f *FmodLoader) Load() error {
	path, err := f.Paths.FindDataFile(filepath.Join("lib", "native", hostAbi(), fmodLibrary))
	if err != nil {
		return err
	}
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return errors.Wrap(err, path)
	}
	if _, err := purego.Dlsym(handle, "FMOD_System_Create"); err != nil {
		purego.Dlclose(handle)
		return errors.Wrap(err, path)
	}
	f.handle = handle
	if info, err := os.Stat(path); err == nil {
		launcherLog.Infof("Loaded host FMOD %s (%s)", path, humanize.Bytes(uint64(info.Size())))
	}
	return nil
}

func (f *FmodLoader) Close() error {
	if f.handle == 0 {
		return nil
	}
	err := purego.Dlclose(f.handle)
	f.handle = 0
	return err
}

// SessionService is the Xbox Live helper. Shutdown gets a bounded time.
type SessionService interface {
	Shutdown(ctx context.Context) error
}

const sessionShutdownTimeout = 2 * time.Second

type NopSession struct{}

func (NopSession) Shutdown(context.Context) error {
	return nil
}
