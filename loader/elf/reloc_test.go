package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/wnxd/mcpehost/loader"
)

func testModule() *module {
	return &module{
		file: &elf.File{FileHeader: elf.FileHeader{
			Class:     elf.ELFCLASS64,
			Machine:   elf.EM_AARCH64,
			ByteOrder: binary.LittleEndian,
		}},
		symbols: []elf.Symbol{
			{Name: "malloc", Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)},
			{Name: "__cxa_finalize", Info: elf.ST_INFO(elf.STB_WEAK, elf.STT_FUNC)},
		},
	}
}

func sleb(buf *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

func TestReadSleb128(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, 64, -65, 0x1234567, -0x1234567} {
		var buf bytes.Buffer
		sleb(&buf, v)
		got, err := readSleb128(&buf)
		if err != nil || int64(got) != v {
			t.Errorf("readSleb128(%d) = %d, %v", v, int64(got), err)
		}
	}
}

func TestPackedRelocations(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("APS2")
	sleb(&buf, 3)      // count
	sleb(&buf, 0x1000) // initial offset
	sleb(&buf, 2)
	sleb(&buf, groupedByInfo|groupedByOffsetDelta|groupedByAddend|groupHasAddend)
	sleb(&buf, 8)
	sleb(&buf, int64(elf.R_AARCH64_RELATIVE))
	sleb(&buf, 0x500)
	sleb(&buf, 1)
	sleb(&buf, groupedByInfo)
	sleb(&buf, int64(elf.R_INFO(2, uint32(elf.R_AARCH64_GLOB_DAT))))
	sleb(&buf, 0x10)

	m := testModule()
	if err := m.parsePacked(buf.Bytes(), true); err != nil {
		t.Fatal(err)
	}
	if len(m.rels) != 3 {
		t.Fatalf("got %d relocations, want 3", len(m.rels))
	}
	for i, addr := range []uint64{0x1008, 0x1010} {
		v, ok := m.rels[i].(*loader.RelocationValue)
		if !ok || v.Addr != addr || v.Value != 0x500 || v.Size != 8 {
			t.Errorf("rel %d = %+v", i, m.rels[i])
		}
	}
	imp, ok := m.rels[2].(*loader.RelocationImport)
	if !ok || imp.Addr != 0x1020 || imp.Symbol != "__cxa_finalize" || !imp.Weak || imp.Addend != 0 {
		t.Errorf("import = %+v", m.rels[2])
	}
}

func TestPackedBadHeader(t *testing.T) {
	if err := testModule().parsePacked([]byte("APS1"), true); err == nil {
		t.Fatal("accepted a bad header")
	}
}

func TestRelr(t *testing.T) {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, 0x2000)
	binary.LittleEndian.PutUint64(data[8:], 0b1011)
	m := testModule()
	m.parseRelr(data)
	var got []uint64
	for _, rel := range m.rels {
		got = append(got, rel.(*loader.RelocationValue).Addr)
	}
	want := []uint64{0x2000, 0x2008, 0x2018}
	if len(got) != len(want) {
		t.Fatalf("got %#x, want %#x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %#x, want %#x", got, want)
		}
	}
}
