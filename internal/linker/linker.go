// Package linker maps Android shared objects into the emulated address
// space and binds their imports against host symbol tables and
// previously loaded libraries.
package linker

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/apex/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/internal/hybris"
	"github.com/wnxd/mcpehost/loader"
	"github.com/wnxd/mcpehost/loader/elf"
)

var (
	ErrLibraryNotFound = errors.New("library not found")
	ErrUnresolved      = errors.New("unresolved symbol")
	ErrArchMismatch    = errors.New("library built for another arch")
	ErrInvalidHandle   = errors.New("invalid library handle")
)

const symbolCacheSize = 4096

var linkerLog = log.WithField("component", "linker")

// Library is a module known to the linker, either host backed or mapped
// from an ELF file.
type Library interface {
	debugger.Module
	Handle() uint64
}

type entry struct {
	lib  Library
	refs int
}

type Linker struct {
	dbg debugger.Debugger

	mu      sync.Mutex
	paths   []string
	entries []*entry
	symbols *lru.Cache[string, uint64]
	dl      dlState
}

func New(dbg debugger.Debugger) (*Linker, error) {
	cache, err := lru.New[string, uint64](symbolCacheSize)
	if err != nil {
		return nil, err
	}
	return &Linker{dbg: dbg, symbols: cache}, nil
}

// Close unloads every library, newest first.
func (l *Linker) Close() error {
	l.mu.Lock()
	entries := l.entries
	l.entries = nil
	l.mu.Unlock()
	for i := len(entries) - 1; i >= 0; i-- {
		l.dbg.Unload(entries[i].lib)
		entries[i].lib.Close()
	}
	l.symbols.Purge()
	return nil
}

// UpdateLibraryPath sets the colon separated directories searched for
// libraries opened by bare name.
func (l *Linker) UpdateLibraryPath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = slices.DeleteFunc(strings.Split(path, ":"), func(s string) bool { return s == "" })
	linkerLog.Debugf("library path %v", l.paths)
}

func (l *Linker) find(name string) *entry {
	for _, e := range l.entries {
		if e.lib.Name() == name {
			return e
		}
	}
	return nil
}

func (l *Linker) register(lib Library, refs int) {
	l.mu.Lock()
	l.entries = append(l.entries, &entry{lib: lib, refs: refs})
	l.mu.Unlock()
	l.dbg.Load(lib)
	l.symbols.Purge()
}

// LoadLibrary registers a host library under name. Its symbols resolve
// to the bindings of t. It stays loaded until a Dlopen of it is matched
// by a Dlclose.
func (l *Linker) LoadLibrary(name string, t *hybris.HookTable) (Library, error) {
	l.mu.Lock()
	if l.find(name) != nil {
		l.mu.Unlock()
		return nil, errors.Errorf("library %s already loaded", name)
	}
	l.mu.Unlock()
	lib, err := newHostLibrary(l.dbg, name, t)
	if err != nil {
		return nil, err
	}
	l.register(lib, 0)
	linkerLog.Debugf("loaded host library %s (%d symbols)", name, t.Len())
	return lib, nil
}

// locate resolves a library name against the search path.
func (l *Linker) locate(name string) (string, error) {
	if strings.ContainsRune(name, '/') {
		if _, err := os.Stat(name); err != nil {
			return "", errors.Wrap(ErrLibraryNotFound, name)
		}
		return name, nil
	}
	l.mu.Lock()
	paths := slices.Clone(l.paths)
	l.mu.Unlock()
	for _, dir := range paths {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.Wrap(ErrLibraryNotFound, name)
}

// Dlopen returns the library at path, mapping it if it is not loaded
// yet. Imports bind to hooks first, then to loaded libraries in load
// order. Initializers do not run until Init.
func (l *Linker) Dlopen(path string, hooks *hybris.HookTable) (Library, error) {
	l.mu.Lock()
	if e := l.find(filepath.Base(path)); e != nil {
		e.refs++
		l.mu.Unlock()
		return e.lib, nil
	}
	l.mu.Unlock()
	file, err := l.locate(path)
	if err != nil {
		return nil, err
	}
	m, err := elf.Open(file)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	if e := l.find(m.Name()); e != nil {
		e.refs++
		l.mu.Unlock()
		m.Close()
		return e.lib, nil
	}
	l.mu.Unlock()
	obj, err := l.Link(m, hooks)
	if err != nil {
		m.Close()
		return nil, err
	}
	return obj, nil
}

// Link maps m, loading its dependencies first, and binds its imports.
func (l *Linker) Link(m loader.Module, hooks *hybris.HookTable) (*Object, error) {
	if m.Arch() != l.dbg.Emulator().Arch() {
		return nil, errors.Wrapf(ErrArchMismatch, "%s is %s", m.Name(), m.Arch())
	}
	var deps []*Object
	for _, need := range m.Libraries() {
		l.mu.Lock()
		e := l.find(need)
		l.mu.Unlock()
		if e != nil {
			if obj, ok := e.lib.(*Object); ok {
				deps = append(deps, obj)
			}
			continue
		}
		lib, err := l.Dlopen(need, nil)
		if err != nil {
			linkerLog.WithError(err).Debugf("%s: needed %s unavailable", m.Name(), need)
			continue
		}
		if obj, ok := lib.(*Object); ok {
			deps = append(deps, obj)
		}
	}
	obj, err := mapObject(l.dbg, m)
	if err != nil {
		return nil, err
	}
	obj.deps = deps
	if err = l.relocate(obj, hooks); err == nil {
		err = obj.protect()
	}
	if err != nil {
		obj.unmap()
		return nil, err
	}
	l.register(obj, 1)
	linkerLog.Debugf("mapped %s at %#x", obj.Name(), obj.BaseAddr())
	return obj, nil
}

func (l *Linker) relocate(obj *Object, hooks *hybris.HookTable) error {
	var missing []string
	for _, rel := range obj.mod.Relocations() {
		switch r := rel.(type) {
		case *loader.RelocationValue:
			if err := obj.writeWord(r.Addr, r.Size, obj.base+r.Value); err != nil {
				return err
			}
		case *loader.RelocationImport:
			addr, err := l.resolveImport(obj, r.Symbol, hooks)
			if err != nil {
				if !r.Weak {
					missing = append(missing, r.Symbol)
					continue
				}
				addr = 0
			} else {
				addr += r.Addend
			}
			if err = obj.writeWord(r.Addr, r.Size, addr); err != nil {
				return err
			}
		}
	}
	if len(missing) != 0 {
		slices.Sort(missing)
		missing = slices.Compact(missing)
		return errors.Wrapf(ErrUnresolved, "%s: %s", obj.Name(), strings.Join(missing, ", "))
	}
	return nil
}

func (l *Linker) resolveImport(obj *Object, name string, hooks *hybris.HookTable) (uint64, error) {
	if h, ok := hooks.Lookup(name); ok {
		return obj.bindHook(name, h)
	}
	if addr, err := l.global(name); err == nil {
		return addr, nil
	}
	return obj.FindSymbol(name)
}

// global looks name up in every loaded library in load order.
func (l *Linker) global(name string) (uint64, error) {
	if addr, ok := l.symbols.Get(name); ok {
		return addr, nil
	}
	_, addr, err := l.dbg.FindSymbol(name)
	if err != nil {
		return 0, err
	}
	l.symbols.Add(name, addr)
	return addr, nil
}

// Dlsym looks name up in lib, or globally when lib is nil.
func (l *Linker) Dlsym(lib Library, name string) (uint64, error) {
	if lib == nil {
		return l.global(name)
	}
	return lib.FindSymbol(name)
}

// Dlclose drops one reference to lib and unloads it with the last one.
func (l *Linker) Dlclose(lib Library) error {
	l.mu.Lock()
	i := slices.IndexFunc(l.entries, func(e *entry) bool { return e.lib == lib })
	if i < 0 {
		l.mu.Unlock()
		return ErrInvalidHandle
	}
	e := l.entries[i]
	e.refs--
	if e.refs > 0 {
		l.mu.Unlock()
		return nil
	}
	l.entries = slices.Delete(l.entries, i, i+1)
	l.mu.Unlock()
	l.dbg.Unload(lib)
	l.symbols.Purge()
	linkerLog.Debugf("unloaded %s", lib.Name())
	return lib.Close()
}

// Lookup returns the loaded library called name.
func (l *Linker) Lookup(name string) (Library, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.find(name); e != nil {
		return e.lib, true
	}
	return nil, false
}

// ByHandle returns the library whose guest handle is h.
func (l *Linker) ByHandle(h uint64) (Library, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.lib.Handle() == h {
			return e.lib, true
		}
	}
	return nil, false
}
