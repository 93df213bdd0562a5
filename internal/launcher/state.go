package launcher

import (
	"sync"
	"sync/atomic"

	"github.com/wnxd/mcpehost/internal/hybris"
	"github.com/wnxd/mcpehost/internal/linker"
)

// State is the process-wide context the bootstrap threads through its
// components. Only the load sequence mutates it.
type State struct {
	Options Options

	mu          sync.Mutex
	mode        GraphicsAPI
	fellBack    bool
	sealed      bool
	guest       linker.Library
	hooks       map[string]*hybris.HookTable
	directInput bool

	running atomic.Bool
}

// NewState takes the graphics mode from the options.
func NewState(opts Options) *State {
	return &State{
		Options:     opts,
		mode:        opts.Preferred(),
		hooks:       make(map[string]*hybris.HookTable),
		directInput: true,
	}
}

func (s *State) Mode() GraphicsAPI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// FallbackToGLES2 switches to GLES2. It happens at most once, and never
// once the game runs. It reports whether the mode changed.
func (s *State) FallbackToGLES2(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed || s.fellBack || s.mode == GLES2 {
		return false
	}
	launcherLog.Warnf("falling back to %s: %s", GLES2, reason)
	s.mode = GLES2
	s.fellBack = true
	return true
}

// Seal makes the graphics mode final.
func (s *State) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

func (s *State) SetGuest(lib linker.Library) {
	s.mu.Lock()
	s.guest = lib
	s.mu.Unlock()
}

func (s *State) Guest() linker.Library {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guest
}

// SetHooks records the table installed for library name.
func (s *State) SetHooks(name string, t *hybris.HookTable) {
	s.mu.Lock()
	s.hooks[name] = t
	s.mu.Unlock()
}

func (s *State) Hooks(name string) *hybris.HookTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hooks[name]
}

// DisableDirectInput turns the keyboard direct input capability off for
// the rest of the process.
func (s *State) DisableDirectInput() {
	s.mu.Lock()
	s.directInput = false
	s.mu.Unlock()
}

func (s *State) DirectInput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directInput
}

func (s *State) SetRunning(running bool) {
	s.running.Store(running)
}

func (s *State) Running() bool {
	return s.running.Load()
}
