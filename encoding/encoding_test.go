package encoding

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/wnxd/mcpehost/emulator"
)

type activity struct {
	Callbacks Pointer
	VM        Pointer
	Env       Pointer
	Clazz     Pointer
	Internal  Pointer
	External  Pointer
	SDK       int32
	Instance  Pointer
	Assets    Pointer
	Obb       Pointer
	cache     string `encoding:"ignore"`
}

func TestActivityLayout(t *testing.T) {
	tests := []struct {
		arch      emulator.Arch
		size      int
		sdkOffset int
		instance  int
	}{
		{emulator.ARCH_ARM, 40, 24, 28},
		{emulator.ARCH_X86, 40, 24, 28},
		{emulator.ARCH_ARM64, 80, 48, 56},
		{emulator.ARCH_X86_64, 80, 48, 56},
	}
	for _, tt := range tests {
		l := LayoutOf(tt.arch)
		var a activity
		if size, err := l.Size(&a); err != nil || size != tt.size {
			t.Errorf("%s: Size = %d, %v; want %d", tt.arch, size, err, tt.size)
		}
		if off, _ := l.Offset(&a, "SDK"); off != tt.sdkOffset {
			t.Errorf("%s: SDK offset = %d, want %d", tt.arch, off, tt.sdkOffset)
		}
		if off, _ := l.Offset(&a, "Instance"); off != tt.instance {
			t.Errorf("%s: Instance offset = %d, want %d", tt.arch, off, tt.instance)
		}
	}
}

func TestMarshalPointerWidth(t *testing.T) {
	l := &Layout{Order: binary.LittleEndian, PointerSize: 4}
	v := struct {
		A Pointer
		B uint8
		C uint16
		D [2]Pointer
	}{A: 0x11223344, B: 5, C: 0x0607, D: [2]Pointer{1, 2}}
	data, err := l.Marshal(&v)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x44, 0x33, 0x22, 0x11, 5, 0, 0x07, 0x06, 1, 0, 0, 0, 2, 0, 0, 0}
	if !bytes.Equal(data, want) {
		t.Fatalf("Marshal = % x, want % x", data, want)
	}
	var back struct {
		A Pointer
		B uint8
		C uint16
		D [2]Pointer
	}
	if err = l.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != v {
		t.Fatalf("Unmarshal = %+v", back)
	}
}

func TestI386Int64Alignment(t *testing.T) {
	v := struct {
		A int32
		B int64
	}{}
	if size, _ := LayoutOf(emulator.ARCH_X86).Size(&v); size != 12 {
		t.Errorf("x86 size = %d, want 12", size)
	}
	if size, _ := LayoutOf(emulator.ARCH_ARM).Size(&v); size != 16 {
		t.Errorf("arm size = %d, want 16", size)
	}
}

func TestUnsupported(t *testing.T) {
	l := LayoutOf(emulator.ARCH_ARM64)
	if _, err := l.Marshal(struct{ S string }{}); err == nil {
		t.Error("Marshal of a non-pointer succeeded")
	}
	if _, err := l.Marshal(&struct{ S string }{}); err == nil {
		t.Error("Marshal of a string field succeeded")
	}
}
