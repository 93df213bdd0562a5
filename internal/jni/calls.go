package jni

import (
	"math"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/internal/hybris"
)

type callForm struct {
	suffix string
	args   func(b *Bridge, ctx debugger.Context, first int) (hybris.ArgReader, bool)
}

var callForms = []callForm{
	{"", func(b *Bridge, ctx debugger.Context, first int) (hybris.ArgReader, bool) {
		return hybris.Variadic(ctx, first), false
	}},
	{"V", func(b *Bridge, ctx debugger.Context, first int) (hybris.ArgReader, bool) {
		return hybris.VaList(b.dbg, ctx.Arg(first)), false
	}},
	{"A", func(b *Bridge, ctx debugger.Context, first int) (hybris.ArgReader, bool) {
		return hybris.JValues(b.dbg, ctx.Arg(first)), true
	}},
}

// callImpl fills in the Call<T>Method families.
func (b *Bridge) callImpl(impl map[string]slotFunc) {
	for _, t := range callTypes {
		kind := t.kind
		for _, form := range callForms {
			form := form
			impl["Call"+t.name+"Method"+form.suffix] = func(ctx debugger.Context) {
				this := b.obj(ctx.Arg(1))
				m := b.virtual(this, b.vm.MethodByID(ctx.Arg(2)))
				b.invoke(ctx, kind, this, m, form, 3)
			}
			impl["CallNonvirtual"+t.name+"Method"+form.suffix] = func(ctx debugger.Context) {
				b.invoke(ctx, kind, b.obj(ctx.Arg(1)), b.vm.MethodByID(ctx.Arg(3)), form, 4)
			}
			impl["CallStatic"+t.name+"Method"+form.suffix] = func(ctx debugger.Context) {
				b.invoke(ctx, kind, nil, b.vm.MethodByID(ctx.Arg(2)), form, 3)
			}
		}
	}
}

// virtual picks the override of m on the receiver's class.
func (b *Bridge) virtual(this Object, m *Method) *Method {
	if m == nil || m.Static || isNil(this) {
		return m
	}
	if o := this.Class().Method(m.Name, m.Sig, false); o != nil {
		return o
	}
	return m
}

func (b *Bridge) invoke(ctx debugger.Context, kind byte, this Object, m *Method, form callForm, first int) {
	if m == nil {
		jniLog.Warn("call through invalid method id")
		b.ret(ctx, kind, zeroOf(kind))
		return
	}
	r, jvalues := form.args(b, ctx, first)
	v := b.vm.Call(this, m, b.readArgs(r, m.Sig, jvalues)...)
	if kind != 'V' && v == nil {
		v = zeroOf(kind)
	}
	b.ret(ctx, kind, v)
}

// fieldImpl fills in Get/Set[Static]<T>Field.
func (b *Bridge) fieldImpl(impl map[string]slotFunc) {
	for _, t := range callTypes[:9] {
		kind := t.kind
		impl["Get"+t.name+"Field"] = func(ctx debugger.Context) {
			b.getField(ctx, kind, b.obj(ctx.Arg(1)), ctx.Arg(2))
		}
		impl["GetStatic"+t.name+"Field"] = func(ctx debugger.Context) {
			b.getField(ctx, kind, nil, ctx.Arg(2))
		}
		impl["Set"+t.name+"Field"] = func(ctx debugger.Context) {
			b.setField(ctx, kind, b.obj(ctx.Arg(1)), ctx.Arg(2))
		}
		impl["SetStatic"+t.name+"Field"] = func(ctx debugger.Context) {
			b.setField(ctx, kind, nil, ctx.Arg(2))
		}
	}
}

func (b *Bridge) getField(ctx debugger.Context, kind byte, o Object, id uint64) {
	f := b.vm.FieldByID(id)
	if f == nil {
		b.ret(ctx, kind, zeroOf(kind))
		return
	}
	b.ret(ctx, kind, b.vm.GetField(o, f))
}

func (b *Bridge) setField(ctx debugger.Context, kind byte, o Object, id uint64) {
	f := b.vm.FieldByID(id)
	if f == nil {
		return
	}
	r := hybris.NewFPArgs(ctx)
	for i := 0; i < 3; i++ {
		r.Int()
	}
	var v Value
	switch kind {
	case 'L':
		v = b.obj(r.Int())
	case 'F':
		v = r.Float()
	case 'D':
		v = r.Double()
	case 'J':
		v = int64(hybris.Variadic(ctx, 3).Long())
	default:
		v = int64(r.Int())
	}
	b.vm.SetField(o, f, v)
}

// elemSize is the guest width of a primitive array element.
func elemSize(kind byte) int {
	switch kind {
	case 'Z', 'B':
		return 1
	case 'C', 'S':
		return 2
	case 'J', 'D':
		return 8
	}
	return 4
}

func (b *Bridge) encodeElems(kind byte, elems []Value) []byte {
	size := elemSize(kind)
	buf := make([]byte, len(elems)*size)
	bo := b.order()
	for i, v := range elems {
		p := buf[i*size:]
		switch kind {
		case 'Z':
			if toInt(v) != 0 {
				p[0] = 1
			}
		case 'B':
			p[0] = byte(toInt(v))
		case 'C', 'S':
			bo.PutUint16(p, uint16(toInt(v)))
		case 'I':
			bo.PutUint32(p, uint32(toInt(v)))
		case 'F':
			bo.PutUint32(p, math.Float32bits(float32(toFloat(v))))
		case 'J':
			bo.PutUint64(p, uint64(toInt(v)))
		case 'D':
			bo.PutUint64(p, math.Float64bits(toFloat(v)))
		}
	}
	return buf
}

func (b *Bridge) decodeElems(kind byte, buf []byte, elems []Value) {
	size := elemSize(kind)
	bo := b.order()
	for i := range elems {
		if (i+1)*size > len(buf) {
			return
		}
		p := buf[i*size:]
		switch kind {
		case 'Z':
			elems[i] = p[0] != 0
		case 'B':
			elems[i] = int8(p[0])
		case 'C':
			elems[i] = bo.Uint16(p)
		case 'S':
			elems[i] = int16(bo.Uint16(p))
		case 'I':
			elems[i] = int32(bo.Uint32(p))
		case 'F':
			elems[i] = math.Float32frombits(bo.Uint32(p))
		case 'J':
			elems[i] = int64(bo.Uint64(p))
		case 'D':
			elems[i] = math.Float64frombits(bo.Uint64(p))
		}
	}
}

// bytes returns the raw guest image of a primitive array.
func (b *Bridge) bytes(o Object) ([]byte, byte) {
	switch a := o.(type) {
	case *ByteArray:
		return a.Data, 'B'
	case *Array:
		if len(a.Elem) == 1 {
			return b.encodeElems(a.Elem[0], a.Elems), a.Elem[0]
		}
	}
	return nil, 0
}

// store copies a guest image back into a primitive array.
func (b *Bridge) store(o Object, kind byte, off int, buf []byte) {
	switch a := o.(type) {
	case *ByteArray:
		if off < len(a.Data) {
			copy(a.Data[off:], buf)
		}
	case *Array:
		if off < len(a.Elems) {
			b.decodeElems(kind, buf, a.Elems[off:])
		}
	}
}

// arrayImpl fills in the primitive array families.
func (b *Bridge) arrayImpl(impl map[string]slotFunc) {
	for _, t := range primTypes {
		kind := t.kind
		impl["New"+t.name+"Array"] = func(ctx debugger.Context) {
			n := max(int(int32(ctx.Arg(1))), 0)
			if kind == 'B' {
				ctx.RetWrite(b.ref(&ByteArray{Data: make([]byte, n)}))
				return
			}
			ctx.RetWrite(b.ref(NewArray(string(kind), n)))
		}
		impl["Get"+t.name+"ArrayElements"] = func(ctx debugger.Context) {
			b.arrayElements(ctx, 2)
		}
		impl["Release"+t.name+"ArrayElements"] = func(ctx debugger.Context) {
			b.releaseElements(ctx)
		}
		impl["Get"+t.name+"ArrayRegion"] = func(ctx debugger.Context) {
			data, _ := b.bytes(b.obj(ctx.Arg(1)))
			size := uint64(elemSize(kind))
			start, n := ctx.Arg(2)*size, ctx.Arg(3)*size
			if start+n > uint64(len(data)) {
				jniLog.Warnf("Get%sArrayRegion out of bounds", t.name)
				return
			}
			b.dbg.ToPointer(ctx.Arg(4)).MemWrite(data[start : start+n])
		}
		impl["Set"+t.name+"ArrayRegion"] = func(ctx debugger.Context) {
			size := uint64(elemSize(kind))
			buf, err := b.dbg.ToPointer(ctx.Arg(4)).MemRead(ctx.Arg(3) * size)
			if err != nil {
				return
			}
			b.store(b.obj(ctx.Arg(1)), kind, int(ctx.Arg(2)), buf)
		}
	}
}

// arrayElements copies an array into guest memory and pins it until
// released. isCopy is the argument index of the jboolean* out param, or 0.
func (b *Bridge) arrayElements(ctx debugger.Context, isCopy int) {
	o := b.obj(ctx.Arg(1))
	data, kind := b.bytes(o)
	if kind == 0 {
		ctx.RetWrite(uint64(0))
		return
	}
	buf := make([]byte, len(data)+8)
	copy(buf, data)
	addr, err := b.dbg.MemImport(buf)
	if err != nil {
		ctx.RetWrite(uint64(0))
		return
	}
	b.mu.Lock()
	b.pins[addr] = pinned{obj: o, kind: kind}
	b.mu.Unlock()
	if isCopy != 0 {
		b.setCopy(ctx.Arg(isCopy))
	}
	ctx.RetWrite(addr)
}

// releaseElements handles Release*ArrayElements(env, array, elems, mode).
func (b *Bridge) releaseElements(ctx debugger.Context) {
	addr, mode := ctx.Arg(2), uint32(ctx.Arg(3))
	b.mu.Lock()
	pin, ok := b.pins[addr]
	if ok && mode != jniCommit {
		delete(b.pins, addr)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if mode != jniAbort {
		data, _ := b.bytes(pin.obj)
		if buf, err := b.dbg.ToPointer(addr).MemRead(uint64(len(data))); err == nil {
			b.store(pin.obj, pin.kind, 0, buf)
		}
	}
	if mode != jniCommit {
		b.dbg.MemFree(addr)
	}
}
