package hybris

import (
	"math"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
)

// FPArgs reads the arguments of a call mixing integer and floating
// point parameters, in declaration order. Floats come from the vector
// registers where the ABI has them and from the integer slots otherwise.
type FPArgs struct {
	ctx  debugger.Context
	arch emulator.Arch
	next int
	fp   int
}

func NewFPArgs(ctx debugger.Context) *FPArgs {
	return &FPArgs{ctx: ctx, arch: ctx.Debugger().Emulator().Arch()}
}

func (a *FPArgs) Int() uint64 {
	v := a.ctx.Arg(a.next)
	a.next++
	return v
}

func (a *FPArgs) vector() (uint64, bool) {
	switch a.arch {
	case emulator.ARCH_ARM64, emulator.ARCH_X86_64:
		v, _ := a.ctx.FloatArg(a.fp)
		a.fp++
		return v, true
	}
	return 0, false
}

func (a *FPArgs) Double() float64 {
	if v, ok := a.vector(); ok {
		return math.Float64frombits(v)
	}
	// AAPCS puts 64-bit values in an even register pair
	if a.arch == emulator.ARCH_ARM {
		a.next += a.next & 1
	}
	lo := a.ctx.Arg(a.next)
	hi := a.ctx.Arg(a.next + 1)
	a.next += 2
	return math.Float64frombits(uint64(uint32(lo)) | hi<<32)
}

func (a *FPArgs) Float() float32 {
	if v, ok := a.vector(); ok {
		return math.Float32frombits(uint32(v))
	}
	return math.Float32frombits(uint32(a.Int()))
}

func RetDouble(ctx debugger.Context, v float64) {
	ctx.FloatRetWrite(math.Float64bits(v), true)
}

func RetFloat(ctx debugger.Context, v float32) {
	ctx.FloatRetWrite(uint64(math.Float32bits(v)), false)
}
