package elf

import (
	"bytes"
	"debug/elf"
	"io"

	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/loader"
)

func (m *module) parseRelocations() error {
	m.parseRel(m.dynTable(elf.DT_REL, elf.DT_RELSZ), false)
	m.parseRel(m.dynTable(elf.DT_RELA, elf.DT_RELASZ), true)
	if plt := m.dynamic[elf.DT_PLTREL]; len(plt) != 0 {
		m.parseRel(m.dynTable(elf.DT_JMPREL, elf.DT_PLTRELSZ), elf.DynTag(plt[0]) == elf.DT_RELA)
	}
	if err := m.parsePacked(m.dynTable(DT_ANDROID_REL, DT_ANDROID_RELSZ), false); err != nil {
		return err
	}
	if err := m.parsePacked(m.dynTable(DT_ANDROID_RELA, DT_ANDROID_RELASZ), true); err != nil {
		return err
	}
	m.parseRelr(m.dynTable(DT_RELR, DT_RELRSZ))
	m.parseRelr(m.dynTable(DT_ANDROID_RELR, DT_ANDROID_RELRSZ))
	return nil
}

func (m *module) splitInfo(info uint64) (sym, typ uint32) {
	if m.class64() {
		return elf.R_SYM64(info), elf.R_TYPE64(info)
	}
	return elf.R_SYM32(uint32(info)), elf.R_TYPE32(uint32(info))
}

func (m *module) symbol(index uint32) *elf.Symbol {
	// DynamicSymbols drops the null symbol at index 0
	if index == 0 || int(index) > len(m.symbols) {
		return nil
	}
	return &m.symbols[index-1]
}

func (m *module) addReloc(offset, info, addend uint64, hasAddend bool) {
	symIndex, typ := m.splitInfo(info)
	ri, ok := relInfoMap[m.file.Machine][typ]
	if !ok {
		return
	}
	if !hasAddend {
		addend = m.readWord(offset)
		if ri.size == 4 {
			addend &= 0xFFFFFFFF
		}
	}
	switch ri.kind {
	case relRelative:
		m.rels = append(m.rels, &loader.RelocationValue{Addr: offset, Size: ri.size, Value: addend})
	case relSymbol:
		sym := m.symbol(symIndex)
		if sym == nil {
			return
		}
		// slots hold the lazy stub address, not an addend
		if !hasAddend && !ri.abs {
			addend = 0
		}
		m.rels = append(m.rels, &loader.RelocationImport{
			Addr: offset, Size: ri.size, Addend: addend,
			Symbol: sym.Name, Library: sym.Library,
			Weak: elf.ST_BIND(sym.Info) == elf.STB_WEAK,
		})
	}
}

func (m *module) parseRel(data []byte, rela bool) {
	bo := m.file.ByteOrder
	ws := int(m.wordSize())
	ent := 2 * ws
	if rela {
		ent = 3 * ws
	}
	for off := 0; off+ent <= len(data); off += ent {
		var offset, info, addend uint64
		if ws == 8 {
			offset, info = bo.Uint64(data[off:]), bo.Uint64(data[off+8:])
			if rela {
				addend = bo.Uint64(data[off+16:])
			}
		} else {
			offset, info = uint64(bo.Uint32(data[off:])), uint64(bo.Uint32(data[off+4:]))
			if rela {
				addend = uint64(int64(int32(bo.Uint32(data[off+8:]))))
			}
		}
		m.addReloc(offset, info, addend, rela)
	}
}

const (
	groupedByInfo = 1 << iota
	groupedByOffsetDelta
	groupedByAddend
	groupHasAddend
)

// parsePacked decodes Android's APS2 packed relocation stream.
func (m *module) parsePacked(data []byte, rela bool) error {
	if len(data) == 0 {
		return nil
	}
	if !bytes.HasPrefix(data, []byte("APS2")) {
		return errors.New("elf: bad packed relocation header")
	}
	r := bytes.NewReader(data[4:])
	var err error
	sleb := func() uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = readSleb128(r)
		return v
	}
	count := sleb()
	offset := sleb()
	var addend uint64
	for count > 0 && err == nil {
		size := sleb()
		flags := sleb()
		var delta, info uint64
		if flags&groupedByOffsetDelta != 0 {
			delta = sleb()
		}
		if flags&groupedByInfo != 0 {
			info = sleb()
		}
		hasAddend := flags&groupHasAddend != 0
		if hasAddend && flags&groupedByAddend != 0 {
			addend += sleb()
		} else if !hasAddend {
			addend = 0
		}
		for i := uint64(0); i < size && err == nil; i++ {
			if flags&groupedByOffsetDelta != 0 {
				offset += delta
			} else {
				offset += sleb()
			}
			if flags&groupedByInfo == 0 {
				info = sleb()
			}
			if hasAddend && flags&groupedByAddend == 0 {
				addend += sleb()
			}
			m.addReloc(offset, info, addend, rela)
		}
		count -= min(size, count)
	}
	return errors.Wrap(err, "elf: packed relocations")
}

func readSleb128(r io.ByteReader) (uint64, error) {
	var (
		v     uint64
		shift uint
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= ^uint64(0) << shift
			}
			return v, nil
		}
	}
}

// parseRelr decodes the compact relative relocation format.
func (m *module) parseRelr(data []byte) {
	bo := m.file.ByteOrder
	ws := m.wordSize()
	var base uint64
	for off := uint64(0); off+ws <= uint64(len(data)); off += ws {
		var entry uint64
		if ws == 8 {
			entry = bo.Uint64(data[off:])
		} else {
			entry = uint64(bo.Uint32(data[off:]))
		}
		if entry&1 == 0 {
			m.addRelative(entry, ws)
			base = entry + ws
			continue
		}
		addr := base
		for entry >>= 1; entry != 0; entry >>= 1 {
			if entry&1 != 0 {
				m.addRelative(addr, ws)
			}
			addr += ws
		}
		base += (8*ws - 1) * ws
	}
}

func (m *module) addRelative(addr, size uint64) {
	m.rels = append(m.rels, &loader.RelocationValue{Addr: addr, Size: size, Value: m.readWord(addr)})
}
