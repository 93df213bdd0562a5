// Package hybris provides the host side of the Android libraries a guest
// links against: symbol tables whose entries are host functions or
// fixed guest addresses.
package hybris

import (
	"github.com/wnxd/mcpehost/debugger"
)

// Hook is one symbol binding. Exactly one of Func and Addr is set.
type Hook struct {
	Func debugger.ControlCallback
	Addr uint64
}

func Func(fn debugger.ControlCallback) Hook {
	return Hook{Func: fn}
}

func Addr(addr uint64) Hook {
	return Hook{Addr: addr}
}

func (h Hook) IsZero() bool {
	return h.Func == nil && h.Addr == 0
}

// HookTable maps symbol names to hooks in insertion order. Entries are
// only ever added.
type HookTable struct {
	names []string
	hooks map[string]Hook
}

func NewHookTable() *HookTable {
	return &HookTable{hooks: make(map[string]Hook)}
}

// Add binds name unless it is already bound. It reports whether the
// binding was added.
func (t *HookTable) Add(name string, h Hook) bool {
	if name == "" || h.IsZero() {
		return false
	}
	if _, ok := t.hooks[name]; ok {
		return false
	}
	t.names = append(t.names, name)
	t.hooks[name] = h
	return true
}

func (t *HookTable) AddFunc(name string, fn debugger.ControlCallback) bool {
	return t.Add(name, Func(fn))
}

// Merge adds every binding of other that t does not have yet and
// returns how many were added.
func (t *HookTable) Merge(other *HookTable) int {
	if other == nil {
		return 0
	}
	var n int
	for _, name := range other.names {
		if t.Add(name, other.hooks[name]) {
			n++
		}
	}
	return n
}

func (t *HookTable) Lookup(name string) (Hook, bool) {
	if t == nil {
		return Hook{}, false
	}
	h, ok := t.hooks[name]
	return h, ok
}

func (t *HookTable) Names() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.names...)
}

func (t *HookTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}
