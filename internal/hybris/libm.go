package hybris

import (
	"maps"
	"math"
	"slices"

	"github.com/wnxd/mcpehost/debugger"
)

var unaryMath = map[string]func(float64) float64{
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"sinh":  math.Sinh,
	"cosh":  math.Cosh,
	"tanh":  math.Tanh,
	"exp":   math.Exp,
	"exp2":  math.Exp2,
	"expm1": math.Expm1,
	"log":   math.Log,
	"log2":  math.Log2,
	"log10": math.Log10,
	"log1p": math.Log1p,
	"sqrt":  math.Sqrt,
	"cbrt":  math.Cbrt,
	"fabs":  math.Abs,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.Round,
	"trunc": math.Trunc,
	"rint":  math.RoundToEven,
}

var binaryMath = map[string]func(float64, float64) float64{
	"pow":       math.Pow,
	"atan2":     math.Atan2,
	"fmod":      math.Mod,
	"hypot":     math.Hypot,
	"fmin":      math.Min,
	"fmax":      math.Max,
	"copysign":  math.Copysign,
	"nextafter": math.Nextafter,
	"remainder": math.Remainder,
}

// LibM returns libm.so.
func LibM(e *Env) *HookTable {
	t := NewHookTable()
	for _, name := range slices.Sorted(maps.Keys(unaryMath)) {
		fn := unaryMath[name]
		t.AddFunc(name, func(ctx debugger.Context, _ any) {
			RetDouble(ctx, fn(NewFPArgs(ctx).Double()))
		})
		t.AddFunc(name+"f", func(ctx debugger.Context, _ any) {
			RetFloat(ctx, float32(fn(float64(NewFPArgs(ctx).Float()))))
		})
	}
	for _, name := range slices.Sorted(maps.Keys(binaryMath)) {
		fn := binaryMath[name]
		t.AddFunc(name, func(ctx debugger.Context, _ any) {
			a := NewFPArgs(ctx)
			x := a.Double()
			RetDouble(ctx, fn(x, a.Double()))
		})
		t.AddFunc(name+"f", func(ctx debugger.Context, _ any) {
			a := NewFPArgs(ctx)
			x := a.Float()
			RetFloat(ctx, float32(fn(float64(x), float64(a.Float()))))
		})
	}
	t.AddFunc("ldexp", func(ctx debugger.Context, _ any) {
		a := NewFPArgs(ctx)
		x := a.Double()
		RetDouble(ctx, math.Ldexp(x, int(int32(a.Int()))))
	})
	t.AddFunc("ldexpf", func(ctx debugger.Context, _ any) {
		a := NewFPArgs(ctx)
		x := a.Float()
		RetFloat(ctx, float32(math.Ldexp(float64(x), int(int32(a.Int())))))
	})
	t.AddFunc("frexp", func(ctx debugger.Context, _ any) {
		a := NewFPArgs(ctx)
		frac, exp := math.Frexp(a.Double())
		e.ptr(a.Int()).MemWriteUint32(uint32(int32(exp)))
		RetDouble(ctx, frac)
	})
	t.AddFunc("modf", func(ctx debugger.Context, _ any) {
		a := NewFPArgs(ctx)
		ip, frac := math.Modf(a.Double())
		e.Layout.Write(e.ptr(a.Int()), &ip)
		RetDouble(ctx, frac)
	})
	t.AddFunc("lround", func(ctx debugger.Context, _ any) {
		ctx.RetWrite(uint64(int64(math.Round(NewFPArgs(ctx).Double()))))
	})
	t.AddFunc("lroundf", func(ctx debugger.Context, _ any) {
		ctx.RetWrite(uint64(int64(math.Round(float64(NewFPArgs(ctx).Float())))))
	})
	t.AddFunc("lrint", func(ctx debugger.Context, _ any) {
		ctx.RetWrite(uint64(int64(math.RoundToEven(NewFPArgs(ctx).Double()))))
	})
	t.AddFunc("lrintf", func(ctx debugger.Context, _ any) {
		ctx.RetWrite(uint64(int64(math.RoundToEven(float64(NewFPArgs(ctx).Float())))))
	})
	t.AddFunc("sincos", func(ctx debugger.Context, _ any) {
		a := NewFPArgs(ctx)
		sin, cos := math.Sincos(a.Double())
		e.Layout.Write(e.ptr(a.Int()), &sin)
		e.Layout.Write(e.ptr(a.Int()), &cos)
	})
	t.AddFunc("sincosf", func(ctx debugger.Context, _ any) {
		a := NewFPArgs(ctx)
		sin, cos := math.Sincos(float64(a.Float()))
		s, c := float32(sin), float32(cos)
		e.Layout.Write(e.ptr(a.Int()), &s)
		e.Layout.Write(e.ptr(a.Int()), &c)
	})
	return t
}
