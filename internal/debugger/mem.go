package debugger

import (
	"slices"
	"sync"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

const (
	mapBase   = 0x40000000
	heapAlign = 16
)

type memBlock struct {
	addr, size uint64
}

type memoryManager struct {
	mapMu   sync.Mutex
	mapAddr uint64
	maps    map[uint64]uint64
	memMu   sync.Mutex
	used    map[uint64]uint64
	free    []memBlock
}

func (mm *memoryManager) ctor() {
	mm.mapAddr = mapBase
	mm.maps = make(map[uint64]uint64)
	mm.used = make(map[uint64]uint64)
}

func (mm *memoryManager) dtor(dbg Debugger) {
	emu := dbg.Emulator()
	mm.mapMu.Lock()
	for addr, size := range mm.maps {
		emu.MemUnmap(addr, size)
	}
	clear(mm.maps)
	mm.mapMu.Unlock()
}

func (mm *memoryManager) memMap(dbg Debugger, addr, size uint64, prot emulator.MemProt) (emulator.MemRegion, error) {
	emu := dbg.Emulator()
	addr &^= emu.PageSize() - 1
	size = debugger.Align(size, emu.PageSize())
	if err := emu.MemMap(addr, size, prot); err != nil {
		return emulator.MemRegion{}, err
	}
	mm.mapMu.Lock()
	mm.maps[addr] = size
	if end := addr + size; end > mm.mapAddr {
		mm.mapAddr = end
	}
	mm.mapMu.Unlock()
	return emulator.MemRegion{Addr: addr, Size: size, Prot: prot}, nil
}

func (mm *memoryManager) memUnmap(dbg Debugger, addr, size uint64) error {
	emu := dbg.Emulator()
	size = debugger.Align(size, emu.PageSize())
	if err := emu.MemUnmap(addr, size); err != nil {
		return err
	}
	mm.mapMu.Lock()
	delete(mm.maps, addr)
	mm.mapMu.Unlock()
	return nil
}

func (mm *memoryManager) mapAlloc(dbg Debugger, size uint64, prot emulator.MemProt) (emulator.MemRegion, error) {
	emu := dbg.Emulator()
	size = debugger.Align(size, emu.PageSize())
	mm.mapMu.Lock()
	addr := mm.mapAddr
	mm.mapAddr += size
	mm.mapMu.Unlock()
	if err := emu.MemMap(addr, size, prot); err != nil {
		return emulator.MemRegion{}, err
	}
	mm.mapMu.Lock()
	mm.maps[addr] = size
	mm.mapMu.Unlock()
	return emulator.MemRegion{Addr: addr, Size: size, Prot: prot}, nil
}

func (mm *memoryManager) memAlloc(dbg Debugger, size uint64) (uint64, error) {
	if size == 0 {
		return 0, debugger.ErrArgumentInvalid
	}
	size = debugger.Align(size, heapAlign)
	mm.memMu.Lock()
	defer mm.memMu.Unlock()
	for i := range mm.free {
		b := &mm.free[i]
		if b.size < size {
			continue
		}
		addr := b.addr
		b.addr += size
		b.size -= size
		if b.size == 0 {
			mm.free = slices.Delete(mm.free, i, i+1)
		}
		mm.used[addr] = size
		return addr, nil
	}
	region, err := mm.mapAlloc(dbg, size, emulator.MEM_PROT_READ|emulator.MEM_PROT_WRITE)
	if err != nil {
		return 0, err
	}
	if region.Size > size {
		mm.insertFree(region.Addr+size, region.Size-size)
	}
	mm.used[region.Addr] = size
	return region.Addr, nil
}

func (mm *memoryManager) memFree(addr uint64) error {
	if addr == 0 {
		return debugger.ErrAddressInvalid
	}
	mm.memMu.Lock()
	defer mm.memMu.Unlock()
	size, ok := mm.used[addr]
	if !ok {
		return debugger.ErrAddressInvalid
	}
	delete(mm.used, addr)
	mm.insertFree(addr, size)
	return nil
}

// insertFree keeps the free list sorted and coalesced.
func (mm *memoryManager) insertFree(addr, size uint64) {
	i, _ := slices.BinarySearchFunc(mm.free, addr, func(b memBlock, addr uint64) int {
		switch {
		case b.addr < addr:
			return -1
		case b.addr > addr:
			return 1
		}
		return 0
	})
	mm.free = slices.Insert(mm.free, i, memBlock{addr, size})
	if i+1 < len(mm.free) && mm.free[i].addr+mm.free[i].size == mm.free[i+1].addr {
		mm.free[i].size += mm.free[i+1].size
		mm.free = slices.Delete(mm.free, i+1, i+2)
	}
	if i > 0 && mm.free[i-1].addr+mm.free[i-1].size == mm.free[i].addr {
		mm.free[i-1].size += mm.free[i].size
		mm.free = slices.Delete(mm.free, i, i+1)
	}
}

func (dbg *Dbg) MemMap(addr, size uint64, prot emulator.MemProt) (emulator.MemRegion, error) {
	return dbg.memoryManager.memMap(dbg.impl, addr, size, prot)
}

func (dbg *Dbg) MemUnmap(addr, size uint64) error {
	return dbg.memoryManager.memUnmap(dbg.impl, addr, size)
}

func (dbg *Dbg) MemProtect(addr, size uint64, prot emulator.MemProt) error {
	return dbg.emu.MemProtect(addr, debugger.Align(size, dbg.emu.PageSize()), prot)
}

func (dbg *Dbg) MapAlloc(size uint64, prot emulator.MemProt) (emulator.MemRegion, error) {
	return dbg.memoryManager.mapAlloc(dbg.impl, size, prot)
}

func (dbg *Dbg) MapFree(addr, size uint64) error {
	return dbg.memoryManager.memUnmap(dbg.impl, addr, size)
}

func (dbg *Dbg) MemAlloc(size uint64) (uint64, error) {
	return dbg.memoryManager.memAlloc(dbg.impl, size)
}

func (dbg *Dbg) MemFree(addr uint64) error {
	return dbg.memoryManager.memFree(addr)
}

func (dbg *Dbg) MemSize(addr uint64) uint64 {
	dbg.memMu.Lock()
	defer dbg.memMu.Unlock()
	return dbg.used[addr]
}

func (dbg *Dbg) ToPointer(addr uint64) emulator.Pointer {
	return emulator.ToPointer(dbg.emu, addr)
}

func (dbg *Dbg) MemImport(data []byte) (uint64, error) {
	addr, err := dbg.MemAlloc(uint64(max(len(data), 1)))
	if err != nil {
		return 0, err
	}
	if err = dbg.emu.MemWrite(addr, data); err != nil {
		dbg.MemFree(addr)
		return 0, err
	}
	return addr, nil
}

func (dbg *Dbg) MemImportString(s string) (uint64, error) {
	return dbg.MemImport(append([]byte(s), 0))
}
