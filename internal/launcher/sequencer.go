// Package launcher boots the game library inside the emulator.
package launcher

import (
	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/internal/hybris"
	"github.com/wnxd/mcpehost/internal/linker"
)

var (
	ErrGameNotFound    = errors.New("game not found")
	ErrGuestUnloadable = errors.New("failed to load Minecraft library")
)

var launcherLog = log.WithField("component", "launcher")

const libGLES2 = "libGLESv2.so"

// Step is one library of the load plan. A step with a Load function runs
// it; otherwise Symbols is registered as a host library called Name.
type Step struct {
	Name     string
	Symbols  *hybris.HookTable
	Optional bool
	Load     func() error
}

// Plan is the ordered list of host libraries installed before the game.
type Plan []Step

// Loader is the part of the linker the sequencer drives.
type Loader interface {
	LoadLibrary(name string, t *hybris.HookTable) (linker.Library, error)
	Dlopen(path string, hooks *hybris.HookTable) (linker.Library, error)
	Dlclose(lib linker.Library) error
	Lookup(name string) (linker.Library, bool)
}

type Sequencer struct {
	State  *State
	Loader Loader

	// GLES2 builds the symbol table installed as libGLESv2.so when the
	// guest falls back from desktop GL.
	GLES2 func() *hybris.HookTable
	// BeforeGLES2 runs before those symbols are installed.
	BeforeGLES2 func() error

	// Attempts counts guest load attempts.
	Attempts int
	loaded   []string
}

func NewSequencer(state *State, ld Loader) *Sequencer {
	return &Sequencer{State: state, Loader: ld}
}

// Loaded lists the steps installed so far, in order.
func (s *Sequencer) Loaded() []string {
	return s.loaded
}

func (s *Sequencer) step(st Step) error {
	if st.Load != nil {
		return st.Load()
	}
	t := st.Symbols
	if t == nil {
		t = hybris.NewHookTable()
	}
	if _, err := s.Loader.LoadLibrary(st.Name, t); err != nil {
		return err
	}
	s.State.SetHooks(st.Name, t)
	return nil
}

// Run installs every step in order. An optional step that fails is
// logged and skipped; any other failure stops the sequence.
func (s *Sequencer) Run(plan Plan) error {
	for _, st := range plan {
		if err := s.step(st); err != nil {
			if st.Optional {
				launcherLog.WithError(err).Warnf("Failed to load %s, continuing without it", st.Name)
				continue
			}
			return errors.Wrapf(err, "load %s", st.Name)
		}
		launcherLog.Debugf("Loaded %s", st.Name)
		s.loaded = append(s.loaded, st.Name)
	}
	return nil
}

func (s *Sequencer) dlopen(path string, hooks *hybris.HookTable) (linker.Library, error) {
	s.Attempts++
	return s.Loader.Dlopen(path, hooks)
}

// LoadGuest maps the game library. In desktop GL mode a failure switches
// the process to GLES2, replaces the stub libGLESv2.so with real symbols
// and tries once more.
func (s *Sequencer) LoadGuest(path string, hooks *hybris.HookTable) (linker.Library, error) {
	launcherLog.Info("Loading Minecraft library")
	lib, err := s.dlopen(path, hooks)
	if err == nil {
		s.State.SetGuest(lib)
		return lib, nil
	}
	if s.State.Mode() != DesktopGL || !s.State.FallbackToGLES2(err.Error()) {
		return nil, errors.Wrap(ErrGuestUnloadable, err.Error())
	}
	if stub, ok := s.Loader.Lookup(libGLES2); ok {
		if cerr := s.Loader.Dlclose(stub); cerr != nil {
			launcherLog.WithError(cerr).Warn("Failed to unload the stub GLES library")
		}
	}
	if s.BeforeGLES2 != nil {
		if err := s.BeforeGLES2(); err != nil {
			return nil, errors.Wrap(ErrGuestUnloadable, err.Error())
		}
	}
	t := hybris.NewHookTable()
	if s.GLES2 != nil {
		t = s.GLES2()
	}
	if _, err := s.Loader.LoadLibrary(libGLES2, t); err != nil {
		return nil, errors.Wrap(ErrGuestUnloadable, err.Error())
	}
	s.State.SetHooks(libGLES2, t)
	lib, err = s.dlopen(path, hooks)
	if err != nil {
		return nil, errors.Wrap(ErrGuestUnloadable, err.Error())
	}
	s.State.SetGuest(lib)
	return lib, nil
}
