package x86

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/emutest"
)

func newX86_64(t *testing.T) (*emutest.Emulator, *x86_64Dbg) {
	t.Helper()
	emu := emutest.New(emulator.ARCH_X86_64)
	dbg, err := NewX86_64Debugger(emu)
	if err != nil {
		t.Fatalf("NewX86_64Debugger: %v", err)
	}
	t.Cleanup(func() { dbg.Close() })
	return emu, dbg.(*x86_64Dbg)
}

func TestSpillTrapEncoding(t *testing.T) {
	_, dbg := newX86_64(t)
	code := dbg.TrapCode()
	if !bytes.Equal(code[:2], []byte{0x49, 0xBB}) || binary.LittleEndian.Uint64(code[2:10]) != dbg.FloatArea() {
		t.Fatalf("prologue = %x", code[:10])
	}
	// movsd [r11+0x38], xmm7
	if got := code[10+7*6 : 10+8*6]; !bytes.Equal(got, []byte{0xF2, 0x41, 0x0F, 0x11, 0x7B, 0x38}) {
		t.Fatalf("xmm7 spill = %x", got)
	}
	if !bytes.HasSuffix(code, trapCode) {
		t.Fatalf("trap code does not end in the trap: %x", code)
	}
}

func TestControlsUseWideStride(t *testing.T) {
	emu, dbg := newX86_64(t)
	stack, err := dbg.MapAlloc(0x1000, emulator.MEM_PROT_READ|emulator.MEM_PROT_WRITE)
	if err != nil {
		t.Fatal(err)
	}
	var hits [2]int
	var got float64
	first, err := dbg.AddControl(func(debugger.Context, any) { hits[0]++ }, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := dbg.AddControl(func(ctx debugger.Context, _ any) {
		hits[1]++
		v, err := ctx.FloatArg(1)
		if err != nil {
			t.Errorf("FloatArg: %v", err)
		}
		got = math.Float64frombits(v)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.Addr()-first.Addr() < uint64(len(dbg.TrapCode())) {
		t.Fatalf("controls %#x and %#x overlap", first.Addr(), second.Addr())
	}
	dbg.ToPointer(dbg.FloatArea() + 8).MemWrite(binary.LittleEndian.AppendUint64(nil, math.Float64bits(1.5)))
	dbg.ToPointer(stack.Addr + 0x800).MemWritePointer(0x4000)
	emu.RegWrite(emulator.X86_64_REG_RSP, stack.Addr+0x800)
	emu.Trap(emulator.X86_64_REG_RIP, second.Addr()+uint64(len(dbg.TrapCode())))
	if hits != [2]int{0, 1} || got != 1.5 {
		t.Fatalf("hits = %v, xmm1 = %v", hits, got)
	}
	if pc, _ := emu.RegRead(emulator.X86_64_REG_RIP); pc != 0x4000 {
		t.Fatalf("rip = %#x, want return address", pc)
	}
}
