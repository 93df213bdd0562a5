package hybris

import (
	"math"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/encoding"
)

// ArgReader yields the variable arguments of a C call in order.
type ArgReader interface {
	// Word reads an argument of the guest word size.
	Word() uint64
	// Long reads a 64-bit integer argument.
	Long() uint64
	// Double reads a double argument.
	Double() float64
}

type ctxArgs struct {
	ctx  debugger.Context
	arch emulator.Arch
	next int
	fp   int
}

// Variadic reads the arguments of a "..." call starting at argument index first.
func Variadic(ctx debugger.Context, first int) ArgReader {
	return &ctxArgs{ctx: ctx, arch: ctx.Debugger().Emulator().Arch(), next: first}
}

func (a *ctxArgs) Word() uint64 {
	v := a.ctx.Arg(a.next)
	a.next++
	return v
}

func (a *ctxArgs) Long() uint64 {
	switch a.arch {
	case emulator.ARCH_ARM:
		a.next += a.next & 1
		fallthrough
	case emulator.ARCH_X86:
		lo := a.ctx.Arg(a.next)
		hi := a.ctx.Arg(a.next + 1)
		a.next += 2
		return uint64(uint32(lo)) | hi<<32
	}
	return a.Word()
}

func (a *ctxArgs) Double() float64 {
	switch a.arch {
	case emulator.ARCH_ARM, emulator.ARCH_X86:
		return math.Float64frombits(a.Long())
	case emulator.ARCH_ARM64, emulator.ARCH_X86_64:
		if a.fp < 8 {
			v, _ := a.ctx.FloatArg(a.fp)
			a.fp++
			return math.Float64frombits(v)
		}
		return math.Float64frombits(a.Word())
	}
	return 0
}

// arm64VaList is the AAPCS64 va_list.
type arm64VaList struct {
	Stack  encoding.Pointer
	GrTop  encoding.Pointer
	VrTop  encoding.Pointer
	GrOffs int32
	VrOffs int32
}

// x86_64VaList is the System V va_list element.
type x86_64VaList struct {
	GpOffset uint32
	FpOffset uint32
	Overflow encoding.Pointer
	RegSave  encoding.Pointer
}

type vaList struct {
	dbg    debugger.Debugger
	arch   emulator.Arch
	stack  uint64
	arm64  arm64VaList
	x86_64 x86_64VaList
}

// VaList reads the arguments behind a va_list passed as ap.
func VaList(dbg debugger.Debugger, ap uint64) ArgReader {
	arch := dbg.Emulator().Arch()
	v := &vaList{dbg: dbg, arch: arch, stack: ap}
	layout := encoding.LayoutOf(arch)
	switch arch {
	case emulator.ARCH_ARM64:
		layout.Read(dbg.ToPointer(ap), &v.arm64)
		v.stack = uint64(v.arm64.Stack)
	case emulator.ARCH_X86_64:
		layout.Read(dbg.ToPointer(ap), &v.x86_64)
		v.stack = uint64(v.x86_64.Overflow)
	}
	return v
}

func (v *vaList) load(addr, size uint64) uint64 {
	buf, err := v.dbg.Emulator().MemRead(addr, size)
	if err != nil {
		return 0
	}
	bo := v.dbg.Emulator().ByteOrder().Binary()
	if size == 4 {
		return uint64(bo.Uint32(buf))
	}
	return bo.Uint64(buf)
}

func (v *vaList) pop(size, align uint64) uint64 {
	v.stack = debugger.Align(v.stack, align)
	val := v.load(v.stack, size)
	v.stack += size
	return val
}

func (v *vaList) Word() uint64 {
	switch v.arch {
	case emulator.ARCH_ARM64:
		if v.arm64.GrOffs < 0 {
			addr := uint64(v.arm64.GrTop) + uint64(int64(v.arm64.GrOffs))
			v.arm64.GrOffs += 8
			return v.load(addr, 8)
		}
		return v.pop(8, 8)
	case emulator.ARCH_X86_64:
		if v.x86_64.GpOffset < 48 {
			addr := uint64(v.x86_64.RegSave) + uint64(v.x86_64.GpOffset)
			v.x86_64.GpOffset += 8
			return v.load(addr, 8)
		}
		return v.pop(8, 8)
	}
	return v.pop(4, 4)
}

func (v *vaList) Long() uint64 {
	switch v.arch {
	case emulator.ARCH_ARM:
		return v.pop(8, 8)
	case emulator.ARCH_X86:
		return v.pop(8, 4)
	}
	return v.Word()
}

func (v *vaList) Double() float64 {
	switch v.arch {
	case emulator.ARCH_ARM64:
		if v.arm64.VrOffs < 0 {
			addr := uint64(v.arm64.VrTop) + uint64(int64(v.arm64.VrOffs))
			v.arm64.VrOffs += 16
			return math.Float64frombits(v.load(addr, 8))
		}
		return math.Float64frombits(v.pop(8, 8))
	case emulator.ARCH_X86_64:
		if v.x86_64.FpOffset < 176 {
			addr := uint64(v.x86_64.RegSave) + uint64(v.x86_64.FpOffset)
			v.x86_64.FpOffset += 16
			return math.Float64frombits(v.load(addr, 8))
		}
		return math.Float64frombits(v.pop(8, 8))
	}
	return math.Float64frombits(v.Long())
}

type jvalues struct {
	dbg  debugger.Debugger
	addr uint64
}

// JValues reads a jvalue array. Every element is 8 bytes wide.
func JValues(dbg debugger.Debugger, addr uint64) ArgReader {
	return &jvalues{dbg: dbg, addr: addr}
}

func (j *jvalues) Long() uint64 {
	buf, err := j.dbg.Emulator().MemRead(j.addr, 8)
	j.addr += 8
	if err != nil {
		return 0
	}
	return j.dbg.Emulator().ByteOrder().Binary().Uint64(buf)
}

func (j *jvalues) Word() uint64 {
	v := j.Long()
	if j.dbg.PointerSize() == 4 {
		v &= math.MaxUint32
	}
	return v
}

func (j *jvalues) Double() float64 {
	return math.Float64frombits(j.Long())
}

// RetLong returns a 64-bit integer, split across two registers on 32-bit
// arches.
func RetLong(ctx debugger.Context, v uint64) {
	ctx.RetWrite(v)
	switch ctx.Debugger().Emulator().Arch() {
	case emulator.ARCH_ARM:
		ctx.RegWrite(emulator.ARM_REG_R1, v>>32)
	case emulator.ARCH_X86:
		ctx.RegWrite(emulator.X86_REG_EDX, v>>32)
	}
}
