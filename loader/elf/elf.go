// Package elf reads Android shared objects into loader modules.
package elf

import (
	"debug/elf"
	"encoding/binary"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/loader"
)

var (
	ErrMachineUnsupported = errors.New("elf: machine unsupported")
	ErrNotShared          = errors.New("elf: not a shared object")
	ErrSymbolNotFound     = errors.New("elf: symbol not found")
)

const (
	DT_ANDROID_REL    elf.DynTag = 0x6000000F
	DT_ANDROID_RELSZ  elf.DynTag = 0x60000010
	DT_ANDROID_RELA   elf.DynTag = 0x60000011
	DT_ANDROID_RELASZ elf.DynTag = 0x60000012
	DT_RELR           elf.DynTag = 0x24
	DT_RELRSZ         elf.DynTag = 0x23
	DT_ANDROID_RELR   elf.DynTag = 0x6FFFE000
	DT_ANDROID_RELRSZ elf.DynTag = 0x6FFFE001
)

type relKind int

const (
	relNone relKind = iota
	relRelative
	relSymbol
)

type relInfo struct {
	kind relKind
	size uint64
	abs  bool
}

var relInfoMap = map[elf.Machine]map[uint32]relInfo{
	elf.EM_ARM: {
		uint32(elf.R_ARM_ABS32):     {relSymbol, 4, true},
		uint32(elf.R_ARM_GLOB_DAT):  {relSymbol, 4, false},
		uint32(elf.R_ARM_JUMP_SLOT): {relSymbol, 4, false},
		uint32(elf.R_ARM_RELATIVE):  {relRelative, 4, false},
	},
	elf.EM_AARCH64: {
		uint32(elf.R_AARCH64_ABS64):     {relSymbol, 8, true},
		uint32(elf.R_AARCH64_GLOB_DAT):  {relSymbol, 8, false},
		uint32(elf.R_AARCH64_JUMP_SLOT): {relSymbol, 8, false},
		uint32(elf.R_AARCH64_RELATIVE):  {relRelative, 8, false},
	},
	elf.EM_386: {
		uint32(elf.R_386_32):       {relSymbol, 4, true},
		uint32(elf.R_386_GLOB_DAT): {relSymbol, 4, false},
		uint32(elf.R_386_JMP_SLOT): {relSymbol, 4, false},
		uint32(elf.R_386_RELATIVE): {relRelative, 4, false},
	},
	elf.EM_X86_64: {
		uint32(elf.R_X86_64_64):       {relSymbol, 8, true},
		uint32(elf.R_X86_64_GLOB_DAT): {relSymbol, 8, false},
		uint32(elf.R_X86_64_JMP_SLOT): {relSymbol, 8, false},
		uint32(elf.R_X86_64_RELATIVE): {relRelative, 8, false},
	},
}

var archMap = map[elf.Machine]emulator.Arch{
	elf.EM_ARM:     emulator.ARCH_ARM,
	elf.EM_AARCH64: emulator.ARCH_ARM64,
	elf.EM_386:     emulator.ARCH_X86,
	elf.EM_X86_64:  emulator.ARCH_X86_64,
}

type module struct {
	name    string
	file    *elf.File
	closer  io.Closer
	arch    emulator.Arch
	dynamic map[elf.DynTag][]uint64
	symbols []elf.Symbol
	exports map[string]uint64
	needed  []string
	rels    []loader.Relocation
	inits   []uint64
}

// Open parses the shared object at path.
func Open(path string) (loader.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := newModule(f, filepath.Base(path))
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, path)
	}
	m.closer = f
	return m, nil
}

// NewModule parses a shared object from r. name is used when the
// object carries no DT_SONAME.
func NewModule(r io.ReaderAt, name string) (loader.Module, error) {
	return newModule(r, name)
}

func newModule(r io.ReaderAt, name string) (*module, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	if f.Type != elf.ET_DYN {
		return nil, ErrNotShared
	}
	arch, ok := archMap[f.Machine]
	if !ok {
		return nil, errors.Wrapf(ErrMachineUnsupported, "%s", f.Machine)
	}
	m := &module{name: name, file: f, arch: arch, dynamic: make(map[elf.DynTag][]uint64)}
	if err = m.parseDynamic(); err != nil {
		return nil, err
	}
	if sonames, _ := f.DynString(elf.DT_SONAME); len(sonames) != 0 && sonames[0] != "" {
		m.name = sonames[0]
	}
	m.needed, _ = f.DynString(elf.DT_NEEDED)
	if m.symbols, err = f.DynamicSymbols(); err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	m.exports = make(map[string]uint64)
	for _, sym := range m.symbols {
		if sym.Section == elf.SHN_UNDEF || sym.Name == "" {
			continue
		}
		switch elf.ST_BIND(sym.Info) {
		case elf.STB_GLOBAL, elf.STB_WEAK:
			if _, dup := m.exports[sym.Name]; !dup {
				m.exports[sym.Name] = sym.Value
			}
		}
	}
	if err = m.parseRelocations(); err != nil {
		return nil, err
	}
	m.parseInits()
	return m, nil
}

func (m *module) Close() error {
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}

func (m *module) Name() string {
	return m.name
}

func (m *module) Arch() emulator.Arch {
	return m.arch
}

func (m *module) ByteOrder() binary.ByteOrder {
	return m.file.ByteOrder
}

func (m *module) Regions() []loader.Region {
	var regions []loader.Region
	for _, prog := range m.file.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		var prot emulator.MemProt
		if prog.Flags&elf.PF_R != 0 {
			prot |= emulator.MEM_PROT_READ
		}
		if prog.Flags&elf.PF_W != 0 {
			prot |= emulator.MEM_PROT_WRITE
		}
		if prog.Flags&elf.PF_X != 0 {
			prot |= emulator.MEM_PROT_EXEC
		}
		regions = append(regions, loader.Region{
			Addr: prog.Vaddr, Size: prog.Memsz,
			Length: prog.Filesz, Align: prog.Align,
			Prot: prot, ReaderAt: prog.ReaderAt,
		})
	}
	return regions
}

func (m *module) EntryAddr() uint64 {
	return m.file.Entry
}

func (m *module) InitAddrs() []uint64 {
	return m.inits
}

func (m *module) Libraries() []string {
	return m.needed
}

func (m *module) Relocations() []loader.Relocation {
	return m.rels
}

func (m *module) FindSymbol(name string) (uint64, error) {
	if v, ok := m.exports[name]; ok {
		return v, nil
	}
	return 0, ErrSymbolNotFound
}

func (m *module) Symbols() iter.Seq2[string, uint64] {
	return func(yield func(string, uint64) bool) {
		for _, sym := range m.symbols {
			if v, ok := m.exports[sym.Name]; ok && v == sym.Value {
				if !yield(sym.Name, v) {
					return
				}
			}
		}
	}
}

func (m *module) class64() bool {
	return m.file.Class == elf.ELFCLASS64
}

func (m *module) wordSize() uint64 {
	if m.class64() {
		return 8
	}
	return 4
}

// readAt reads file-backed bytes at a virtual address.
func (m *module) readAt(vaddr, size uint64) ([]byte, error) {
	for _, prog := range m.file.Progs {
		if prog.Type != elf.PT_LOAD || vaddr < prog.Vaddr || vaddr+size > prog.Vaddr+prog.Filesz {
			continue
		}
		buf := make([]byte, size)
		if _, err := prog.ReadAt(buf, int64(vaddr-prog.Vaddr)); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return nil, errors.Errorf("elf: address %#x not file backed", vaddr)
}

func (m *module) readWord(vaddr uint64) uint64 {
	buf, err := m.readAt(vaddr, m.wordSize())
	if err != nil {
		return 0
	}
	if m.class64() {
		return m.file.ByteOrder.Uint64(buf)
	}
	return uint64(m.file.ByteOrder.Uint32(buf))
}

func (m *module) parseDynamic() error {
	var ds *elf.Prog
	for _, prog := range m.file.Progs {
		if prog.Type == elf.PT_DYNAMIC {
			ds = prog
			break
		}
	}
	if ds == nil {
		return nil
	}
	data, err := io.ReadAll(ds.Open())
	if err != nil {
		return err
	}
	bo := m.file.ByteOrder
	ent := 2 * m.wordSize()
	for off := uint64(0); off+ent <= uint64(len(data)); off += ent {
		var tag, val uint64
		if m.class64() {
			tag, val = bo.Uint64(data[off:]), bo.Uint64(data[off+8:])
		} else {
			tag, val = uint64(bo.Uint32(data[off:])), uint64(bo.Uint32(data[off+4:]))
		}
		if elf.DynTag(tag) == elf.DT_NULL {
			break
		}
		m.dynamic[elf.DynTag(tag)] = append(m.dynamic[elf.DynTag(tag)], val)
	}
	return nil
}

func (m *module) dynTable(addrTag, sizeTag elf.DynTag) []byte {
	addrs, sizes := m.dynamic[addrTag], m.dynamic[sizeTag]
	if len(addrs) == 0 || len(sizes) == 0 {
		return nil
	}
	data, _ := m.readAt(addrs[0], sizes[0])
	return data
}

// parseInits collects DT_INIT and DT_INIT_ARRAY in execution order.
// Array slots are usually filled by relative relocations.
func (m *module) parseInits() {
	if v := m.dynamic[elf.DT_INIT]; len(v) != 0 && v[0] != 0 {
		m.inits = append(m.inits, v[0])
	}
	addrs, sizes := m.dynamic[elf.DT_INIT_ARRAY], m.dynamic[elf.DT_INIT_ARRAYSZ]
	if len(addrs) == 0 || len(sizes) == 0 {
		return
	}
	relative := make(map[uint64]uint64)
	for _, rel := range m.rels {
		if v, ok := rel.(*loader.RelocationValue); ok {
			relative[v.Addr] = v.Value
		}
	}
	ws := m.wordSize()
	for slot := addrs[0]; slot < addrs[0]+sizes[0]; slot += ws {
		v, ok := relative[slot]
		if !ok {
			v = m.readWord(slot)
		}
		if v != 0 && v != ^uint64(0) && (ws == 8 || v != 0xFFFFFFFF) {
			m.inits = append(m.inits, v)
		}
	}
}
