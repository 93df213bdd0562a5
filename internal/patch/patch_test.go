package patch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/debugger/arm64"
	"github.com/wnxd/mcpehost/internal/emutest"
)

type symbols map[string]uint64

func (s symbols) Name() string     { return "libminecraftpe.so" }
func (s symbols) BaseAddr() uint64 { return 0 }

func (s symbols) FindSymbol(name string) (uint64, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return 0, debugger.ErrSymbolNotFound
}

func newTarget(t *testing.T, syms symbols) (*emutest.Emulator, *Target) {
	t.Helper()
	emu := emutest.New(emulator.ARCH_ARM64)
	dbg, err := arm64.NewArm64Debugger(emu)
	if err != nil {
		t.Fatal(err)
	}
	code, err := dbg.MapAlloc(0x1000, emulator.MEM_PROT_ALL)
	if err != nil {
		t.Fatal(err)
	}
	for name, off := range syms {
		syms[name] = code.Addr + off
	}
	target := NewTarget(dbg, syms)
	t.Cleanup(func() {
		target.Close()
		dbg.Close()
	})
	return emu, target
}

func le32(v ...uint32) []byte {
	var b []byte
	for _, x := range v {
		b = binary.LittleEndian.AppendUint32(b, x)
	}
	return b
}

func TestJumpCode(t *testing.T) {
	for _, tc := range []struct {
		name   string
		arch   emulator.Arch
		addr   uint64
		target uint64
		want   []byte
		at     uint64
	}{
		{"arm64", emulator.ARCH_ARM64, 0x1000, 0x1122334455, append(le32(0x58000050, 0xd61f0200), 0x55, 0x44, 0x33, 0x22, 0x11, 0, 0, 0), 0x1000},
		{"arm", emulator.ARCH_ARM, 0x1000, 0x2000, le32(0xe51ff004, 0x2000), 0x1000},
		{"thumb", emulator.ARCH_ARM, 0x1001, 0x2000, le32(0xf000f8df, 0x2000), 0x1000},
		{"thumb unaligned", emulator.ARCH_ARM, 0x1003, 0x2000, append([]byte{0x00, 0xbf}, le32(0xf000f8df, 0x2000)...), 0x1002},
		{"x86", emulator.ARCH_X86, 0x1000, 0x2000, []byte{0xe9, 0xfb, 0x0f, 0, 0}, 0x1000},
		{"x86 backwards", emulator.ARCH_X86, 0x2000, 0x1000, []byte{0xe9, 0xfb, 0xef, 0xff, 0xff}, 0x2000},
		{"x86_64", emulator.ARCH_X86_64, 0x1000, 0x2000, []byte{0xff, 0x25, 0, 0, 0, 0, 0, 0x20, 0, 0, 0, 0, 0, 0}, 0x1000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, at := jumpCode(tc.arch, tc.addr, tc.target)
			if !bytes.Equal(got, tc.want) || at != tc.at {
				t.Fatalf("jumpCode = % x at %#x, want % x at %#x", got, at, tc.want, tc.at)
			}
		})
	}
}

func TestReturnCode(t *testing.T) {
	for _, tc := range []struct {
		name string
		arch emulator.Arch
		addr uint64
		want []byte
	}{
		{"arm64", emulator.ARCH_ARM64, 0x1000, append(le32(0x58000040, 0xd65f03c0), 1, 0, 0, 0, 0, 0, 0, 0)},
		{"arm", emulator.ARCH_ARM, 0x1000, le32(0xe59f0000, 0xe12fff1e, 1)},
		{"thumb", emulator.ARCH_ARM, 0x1001, le32(0x47704800, 1)},
		{"thumb unaligned", emulator.ARCH_ARM, 0x1003, append([]byte{0x01, 0x48, 0x70, 0x47, 0x00, 0xbf}, le32(1)...)},
		{"x86", emulator.ARCH_X86, 0x1000, []byte{0xb8, 1, 0, 0, 0, 0xc3}},
		{"x86_64", emulator.ARCH_X86_64, 0x1000, []byte{0x48, 0xb8, 1, 0, 0, 0, 0, 0, 0, 0, 0xc3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := returnCode(tc.arch, tc.addr, 1)
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("returnCode = % x, want % x", got, tc.want)
			}
		})
	}
}

func TestSetApplyOrderAndSkips(t *testing.T) {
	_, target := newTarget(t, symbols{symHbuiEnabled: 0x100})
	var calls []string
	record := func(name string, err error) Patch {
		return Patch{Name: name, Apply: func(*Target) error {
			calls = append(calls, name)
			return err
		}}
	}
	x86 := record("x86-only", nil)
	x86.Arch = X86Only
	off := record("off", nil)
	off.Disabled = true
	set := NewSet(record("first", nil), record("broken", ErrSymbolMissing), x86, off, Hbui(), record("last", nil))

	report, err := set.Apply(target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if want := []string{"first", "broken", "last"}; len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] || calls[2] != want[2] {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	if !report.Ok("first") || !report.Ok("last") || report.Ok("broken") || report.Ok("hbui") {
		t.Fatalf("applied = %v", report.Applied)
	}
	if len(report.Skipped) != 3 || len(report.Failed) != 1 || report.Failed[0].Name != "broken" {
		t.Fatalf("report = %+v", report)
	}

	calls = nil
	if _, err := set.Apply(target); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != "broken" {
		t.Fatalf("second pass calls = %v, want only the failed patch", calls)
	}
}

func TestCriticalFailureStops(t *testing.T) {
	_, target := newTarget(t, symbols{symRenderDragonAPI: 0x100, symImmediateMode: 0x200})
	var after bool
	set := NewSet(GLCore(), Patch{Name: "after", Apply: func(*Target) error {
		after = true
		return nil
	}})
	_, err := set.Apply(target)
	if !errors.Is(err, ErrRendererIncompatible) {
		t.Fatalf("err = %v, want ErrRendererIncompatible", err)
	}
	if after {
		t.Fatal("patch after a critical failure ran")
	}
}

func TestGLCoreMissingSymbol(t *testing.T) {
	_, target := newTarget(t, symbols{})
	if err := GLCore().Apply(target); !errors.Is(err, ErrRendererIncompatible) {
		t.Fatalf("err = %v", err)
	}
}

func TestReturnPatchWritesCode(t *testing.T) {
	_, target := newTarget(t, symbols{symSplitscreen: 0x40})
	if err := Splitscreen().Apply(target); err != nil {
		t.Fatal(err)
	}
	addr, _ := target.Symbol(symSplitscreen)
	got, _ := target.Dbg.Emulator().MemRead(addr, 16)
	if want := append(le32(0x58000040, 0xd65f03c0), make([]byte, 8)...); !bytes.Equal(got, want) {
		t.Fatalf("code = % x, want % x", got, want)
	}
}

func TestStandardX86OnlyPatches(t *testing.T) {
	_, target := newTarget(t, symbols{symHbuiEnabled: 0x100, symSplitscreen: 0x200})
	report, err := Standard(&fakeCursor{}).Apply(target)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{symHbuiEnabled, symSplitscreen} {
		addr, _ := target.Symbol(name)
		got, _ := target.Dbg.Emulator().MemRead(addr, 8)
		if !bytes.Equal(got, make([]byte, 8)) {
			t.Errorf("%s patched on arm64: % x", name, got)
		}
	}
	for _, name := range []string{"hbui", "splitscreen", "shader-error"} {
		if report.Ok(name) {
			t.Errorf("%s applied on arm64", name)
		}
	}
}

type fakeCursor struct {
	shown, hidden int
}

func (c *fakeCursor) ShowMousePointer() { c.shown++ }
func (c *fakeCursor) HideMousePointer() { c.hidden++ }

func TestCoreRedirectsToCursor(t *testing.T) {
	emu, target := newTarget(t, symbols{symAndroidShowMousePointer: 0x0, symAndroidHideMousePointer: 0x40})
	var c fakeCursor
	if err := Core(&c).Apply(target); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{symAndroidShowMousePointer, symAndroidHideMousePointer} {
		addr, _ := target.Symbol(name)
		p, err := target.Dbg.ToPointer(addr + 8).MemReadPointer()
		if err != nil {
			t.Fatal(err)
		}
		emu.RegWrite(emulator.ARM64_REG_LR, 0x1000)
		emu.Trap(emulator.ARM64_REG_PC, p.Address()+4)
	}
	if c.shown != 1 || c.hidden != 1 {
		t.Fatalf("cursor = %+v", c)
	}
}

func TestCoreWithoutSymbols(t *testing.T) {
	_, target := newTarget(t, symbols{})
	if err := Core(&fakeCursor{}).Apply(target); !errors.Is(err, ErrSymbolMissing) {
		t.Fatalf("err = %v, want ErrSymbolMissing", err)
	}
	if IsRenderDragon(target) {
		t.Fatal("empty library reported as bgfx")
	}
}
