package debugger

import (
	"sync"

	"github.com/wnxd/mcpehost/emulator"
)

type DbgCtor func(emulator.Emulator) (Debugger, error)

var (
	dbgMu  sync.RWMutex
	dbgMap = make(map[emulator.Arch]DbgCtor)
)

// Register makes ctor the debugger for arch. The first registration
// wins.
func Register(arch emulator.Arch, ctor DbgCtor) bool {
	dbgMu.Lock()
	defer dbgMu.Unlock()
	if _, ok := dbgMap[arch]; ok {
		return false
	}
	dbgMap[arch] = ctor
	return true
}

// Supported reports whether a debugger is registered for arch.
func Supported(arch emulator.Arch) bool {
	dbgMu.RLock()
	defer dbgMu.RUnlock()
	_, ok := dbgMap[arch]
	return ok
}

func ctorFor(arch emulator.Arch) (DbgCtor, bool) {
	dbgMu.RLock()
	defer dbgMu.RUnlock()
	ctor, ok := dbgMap[arch]
	return ctor, ok
}
