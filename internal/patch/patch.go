// Package patch rewrites functions of the mapped game library.
package patch

import (
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

var (
	ErrSymbolMissing        = errors.New("symbol missing")
	ErrRendererIncompatible = errors.New("renderer incompatible")
)

var patchLog = log.WithField("component", "patch")

// Library is the part of a mapped library a patch needs.
type Library interface {
	Name() string
	BaseAddr() uint64
	FindSymbol(name string) (uint64, error)
}

// Target is the library being patched together with the host functions
// patches installed into it.
type Target struct {
	Dbg debugger.Debugger
	Lib Library

	mu    sync.Mutex
	ctrls []debugger.ControlHandler
}

func NewTarget(dbg debugger.Debugger, lib Library) *Target {
	return &Target{Dbg: dbg, Lib: lib}
}

func (t *Target) Arch() emulator.Arch {
	return t.Dbg.Emulator().Arch()
}

// Symbol returns the address of the first of names the library exports.
func (t *Target) Symbol(names ...string) (uint64, error) {
	for _, name := range names {
		if addr, err := t.Lib.FindSymbol(name); err == nil && addr != 0 {
			return addr, nil
		}
	}
	if len(names) == 0 {
		return 0, ErrSymbolMissing
	}
	return 0, errors.Wrap(ErrSymbolMissing, names[0])
}

// Has reports whether the library exports name.
func (t *Target) Has(name string) bool {
	_, err := t.Symbol(name)
	return err == nil
}

// Redirect makes the function name continue in the host callback fn.
func (t *Target) Redirect(name string, fn debugger.ControlCallback) error {
	addr, err := t.Symbol(name)
	if err != nil {
		return err
	}
	ctrl, err := t.Dbg.AddControl(fn, nil)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.ctrls = append(t.ctrls, ctrl)
	t.mu.Unlock()
	return WriteJump(t.Dbg, addr, ctrl.Addr())
}

// Return makes the function name return v.
func (t *Target) Return(name string, v uint64) error {
	addr, err := t.Symbol(name)
	if err != nil {
		return err
	}
	return WriteReturn(t.Dbg, addr, v)
}

// Close releases the host functions installed by Redirect. Patched
// code must not run afterwards.
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ctrl := range t.ctrls {
		ctrl.Close()
	}
	t.ctrls = nil
	return nil
}

type Patch struct {
	Name string
	// Arch limits the patch to some architectures. Nil matches all.
	Arch func(emulator.Arch) bool
	// Disabled patches are registered but never applied.
	Disabled bool
	// Critical patches fail the whole set.
	Critical bool
	Apply    func(t *Target) error
}

func X86Family(arch emulator.Arch) bool {
	return arch.IsX86()
}

func X86Only(arch emulator.Arch) bool {
	return arch == emulator.ARCH_X86
}

type Failure struct {
	Name string
	Err  error
}

type Report struct {
	Applied []string
	Skipped []string
	Failed  []Failure
}

func (r *Report) Ok(name string) bool {
	for _, n := range r.Applied {
		if n == name {
			return true
		}
	}
	return false
}

// Set is an ordered list of patches. Each patch is applied at most once.
type Set struct {
	patches []Patch
	done    map[string]bool
}

func NewSet(patches ...Patch) *Set {
	return &Set{patches: patches, done: make(map[string]bool)}
}

func (s *Set) Add(p ...Patch) {
	s.patches = append(s.patches, p...)
}

func (s *Set) Names() []string {
	names := make([]string, len(s.patches))
	for i, p := range s.patches {
		names[i] = p.Name
	}
	return names
}

// Apply runs the patches in order. A failing patch is logged and
// skipped unless it is critical, in which case Apply stops and returns
// its error.
func (s *Set) Apply(t *Target) (*Report, error) {
	report := &Report{}
	arch := t.Arch()
	for _, p := range s.patches {
		if p.Disabled || (p.Arch != nil && !p.Arch(arch)) {
			report.Skipped = append(report.Skipped, p.Name)
			continue
		}
		if s.done[p.Name] {
			report.Applied = append(report.Applied, p.Name)
			continue
		}
		if err := p.Apply(t); err != nil {
			report.Failed = append(report.Failed, Failure{p.Name, err})
			if p.Critical {
				patchLog.WithError(err).Errorf("failed to apply %s", p.Name)
				return report, err
			}
			patchLog.WithError(err).Warnf("skipping %s", p.Name)
			continue
		}
		s.done[p.Name] = true
		report.Applied = append(report.Applied, p.Name)
		patchLog.Debugf("applied %s", p.Name)
	}
	return report, nil
}
