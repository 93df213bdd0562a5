package debugger

import (
	"slices"
	"sync"

	"github.com/wnxd/mcpehost/debugger"
)

type moduleManager struct {
	mu     sync.RWMutex
	loaded []debugger.Module
}

func (mm *moduleManager) ctor() {
}

func (mm *moduleManager) dtor() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for i := len(mm.loaded) - 1; i >= 0; i-- {
		mm.loaded[i].Close()
	}
	mm.loaded = nil
}

func (mm *moduleManager) Load(module debugger.Module) {
	mm.mu.Lock()
	if !slices.Contains(mm.loaded, module) {
		mm.loaded = append(mm.loaded, module)
	}
	mm.mu.Unlock()
}

func (mm *moduleManager) Unload(module debugger.Module) {
	mm.mu.Lock()
	mm.loaded = slices.DeleteFunc(mm.loaded, func(m debugger.Module) bool { return m == module })
	mm.mu.Unlock()
}

func (mm *moduleManager) FindModuleByAddr(addr uint64) (debugger.Module, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	for _, module := range mm.loaded {
		begin, size := module.Region()
		if addr >= begin && addr < begin+size {
			return module, nil
		}
	}
	return nil, debugger.ErrModuleNotFound
}

// FindSymbol searches modules in load order; the first definition wins.
func (mm *moduleManager) FindSymbol(name string) (debugger.Module, uint64, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	for _, module := range mm.loaded {
		addr, err := module.FindSymbol(name)
		if err == nil {
			return module, addr, nil
		}
	}
	return nil, 0, debugger.ErrSymbolNotFound
}
