package jni

import (
	"math"
	"unicode/utf16"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/internal/hybris"
)

// directBuffer backs NewDirectByteBuffer.
type directBuffer struct {
	*Instance
	addr, capacity uint64
}

var byteBufferClass = NewClass("java/nio/ByteBuffer", ObjectClass)

func (b *Bridge) envImpl() map[string]slotFunc {
	vm := b.vm
	impl := map[string]slotFunc{
		"GetVersion": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(jniVersion))
		},
		"FindClass": func(ctx debugger.Context) {
			ctx.RetWrite(b.ref(vm.ClassFor(b.cstr(ctx.Arg(1)))))
		},
		"GetSuperclass": func(ctx debugger.Context) {
			ctx.RetWrite(b.ref(vm.GetSuperclass(b.class(ctx.Arg(1)))))
		},
		"IsAssignableFrom": func(ctx debugger.Context) {
			ctx.RetWrite(b.class(ctx.Arg(1)).IsSubclassOf(b.class(ctx.Arg(2))))
		},
		"Throw": func(ctx debugger.Context) {
			jniLog.Warnf("guest threw %v", b.obj(ctx.Arg(1)))
			ctx.RetWrite(uint64(0))
		},
		"ThrowNew": func(ctx debugger.Context) {
			jniLog.Warnf("guest threw %s: %s", b.class(ctx.Arg(1)).Name, b.cstr(ctx.Arg(2)))
			ctx.RetWrite(uint64(0))
		},
		"ExceptionOccurred": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(0))
		},
		"ExceptionDescribe": func(ctx debugger.Context) {},
		"ExceptionClear":    func(ctx debugger.Context) {},
		"ExceptionCheck": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(0))
		},
		"FatalError": func(ctx debugger.Context) {
			jniLog.Errorf("fatal error: %s", b.cstr(ctx.Arg(1)))
		},
		"PushLocalFrame": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(jniOK))
		},
		"PopLocalFrame": func(ctx debugger.Context) {
			ctx.RetWrite(b.ref(b.obj(ctx.Arg(1))))
		},
		"EnsureLocalCapacity": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(jniOK))
		},
		"NewGlobalRef": func(ctx debugger.Context) {
			ctx.RetWrite(vm.NewRef(b.obj(ctx.Arg(1)), GlobalRef))
		},
		"NewWeakGlobalRef": func(ctx debugger.Context) {
			ctx.RetWrite(vm.NewRef(b.obj(ctx.Arg(1)), WeakGlobalRef))
		},
		"NewLocalRef": func(ctx debugger.Context) {
			ctx.RetWrite(b.ref(b.obj(ctx.Arg(1))))
		},
		"DeleteGlobalRef":     b.deleteRef,
		"DeleteWeakGlobalRef": b.deleteRef,
		"DeleteLocalRef":      b.deleteRef,
		"IsSameObject": func(ctx debugger.Context) {
			ctx.RetWrite(b.obj(ctx.Arg(1)) == b.obj(ctx.Arg(2)))
		},
		"GetObjectRefType": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(vm.RefKind(ctx.Arg(1))))
		},
		"AllocObject": func(ctx debugger.Context) {
			ctx.RetWrite(b.ref(NewInstance(b.class(ctx.Arg(1)))))
		},
		"NewObject": func(ctx debugger.Context) {
			b.newObject(ctx, hybris.Variadic(ctx, 3), false)
		},
		"NewObjectV": func(ctx debugger.Context) {
			b.newObject(ctx, hybris.VaList(b.dbg, ctx.Arg(3)), false)
		},
		"NewObjectA": func(ctx debugger.Context) {
			b.newObject(ctx, hybris.JValues(b.dbg, ctx.Arg(3)), true)
		},
		"GetObjectClass": func(ctx debugger.Context) {
			o := b.obj(ctx.Arg(1))
			if o == nil {
				ctx.RetWrite(uint64(0))
				return
			}
			ctx.RetWrite(b.ref(o.Class()))
		},
		"IsInstanceOf": func(ctx debugger.Context) {
			ctx.RetWrite(vm.IsInstanceOf(b.obj(ctx.Arg(1)), b.class(ctx.Arg(2))))
		},
		"GetMethodID": func(ctx debugger.Context) {
			ctx.RetWrite(vm.ID(vm.GetMethodID(b.class(ctx.Arg(1)), b.cstr(ctx.Arg(2)), b.cstr(ctx.Arg(3)), false)))
		},
		"GetStaticMethodID": func(ctx debugger.Context) {
			ctx.RetWrite(vm.ID(vm.GetMethodID(b.class(ctx.Arg(1)), b.cstr(ctx.Arg(2)), b.cstr(ctx.Arg(3)), true)))
		},
		"GetFieldID": func(ctx debugger.Context) {
			ctx.RetWrite(vm.ID(vm.GetFieldID(b.class(ctx.Arg(1)), b.cstr(ctx.Arg(2)), b.cstr(ctx.Arg(3)), false)))
		},
		"GetStaticFieldID": func(ctx debugger.Context) {
			ctx.RetWrite(vm.ID(vm.GetFieldID(b.class(ctx.Arg(1)), b.cstr(ctx.Arg(2)), b.cstr(ctx.Arg(3)), true)))
		},
		"FromReflectedMethod": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(0))
		},

		"NewString": func(ctx debugger.Context) {
			n := ctx.Arg(2)
			data, _ := b.dbg.ToPointer(ctx.Arg(1)).MemRead(n * 2)
			units := make([]uint16, n)
			for i := range units {
				units[i] = b.order().Uint16(data[i*2:])
			}
			ctx.RetWrite(b.ref(NewString(string(utf16.Decode(units)))))
		},
		"NewStringUTF": func(ctx debugger.Context) {
			if ctx.Arg(1) == 0 {
				ctx.RetWrite(uint64(0))
				return
			}
			ctx.RetWrite(b.ref(NewString(b.cstr(ctx.Arg(1)))))
		},
		"GetStringLength": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(len(utf16.Encode([]rune(StringOf(b.obj(ctx.Arg(1))))))))
		},
		"GetStringUTFLength": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(len(StringOf(b.obj(ctx.Arg(1))))))
		},
		"GetStringUTFChars": func(ctx debugger.Context) {
			addr, _ := b.dbg.MemImportString(StringOf(b.obj(ctx.Arg(1))))
			b.setCopy(ctx.Arg(2))
			ctx.RetWrite(addr)
		},
		"ReleaseStringUTFChars": func(ctx debugger.Context) {
			b.dbg.MemFree(ctx.Arg(2))
		},
		"GetStringChars":        b.stringChars,
		"GetStringCritical":     b.stringChars,
		"ReleaseStringChars":    b.releaseChars,
		"ReleaseStringCritical": b.releaseChars,
		"GetStringRegion": func(ctx debugger.Context) {
			units := utf16.Encode([]rune(StringOf(b.obj(ctx.Arg(1)))))
			start, n := ctx.Arg(2), ctx.Arg(3)
			if start+n > uint64(len(units)) {
				return
			}
			buf := make([]byte, n*2)
			for i, u := range units[start : start+n] {
				b.order().PutUint16(buf[i*2:], u)
			}
			b.dbg.ToPointer(ctx.Arg(4)).MemWrite(buf)
		},
		"GetStringUTFRegion": func(ctx debugger.Context) {
			runes := []rune(StringOf(b.obj(ctx.Arg(1))))
			start, n := ctx.Arg(2), ctx.Arg(3)
			if start+n > uint64(len(runes)) {
				return
			}
			b.dbg.ToPointer(ctx.Arg(4)).MemWriteString(string(runes[start : start+n]))
		},

		"GetArrayLength": func(ctx debugger.Context) {
			switch a := b.obj(ctx.Arg(1)).(type) {
			case *Array:
				ctx.RetWrite(uint64(len(a.Elems)))
			case *ByteArray:
				ctx.RetWrite(uint64(len(a.Data)))
			default:
				ctx.RetWrite(uint64(0))
			}
		},
		"NewObjectArray": func(ctx debugger.Context) {
			n := int(int32(ctx.Arg(1)))
			a := NewArray("L"+b.class(ctx.Arg(2)).Name+";", max(n, 0))
			if init := b.obj(ctx.Arg(3)); init != nil {
				for i := range a.Elems {
					a.Elems[i] = init
				}
			}
			ctx.RetWrite(b.ref(a))
		},
		"GetObjectArrayElement": func(ctx debugger.Context) {
			a, _ := b.obj(ctx.Arg(1)).(*Array)
			i := int(int32(ctx.Arg(2)))
			if a == nil || i < 0 || i >= len(a.Elems) {
				ctx.RetWrite(uint64(0))
				return
			}
			o, _ := a.Elems[i].(Object)
			ctx.RetWrite(b.ref(o))
		},
		"SetObjectArrayElement": func(ctx debugger.Context) {
			a, _ := b.obj(ctx.Arg(1)).(*Array)
			i := int(int32(ctx.Arg(2)))
			if a != nil && i >= 0 && i < len(a.Elems) {
				a.Elems[i] = b.obj(ctx.Arg(3))
			}
		},
		"GetPrimitiveArrayCritical": func(ctx debugger.Context) {
			b.arrayElements(ctx, 0)
		},
		"ReleasePrimitiveArrayCritical": func(ctx debugger.Context) {
			b.releaseElements(ctx)
		},

		"RegisterNatives": func(ctx debugger.Context) {
			b.registerNatives(b.class(ctx.Arg(1)), ctx.Arg(2), int(int32(ctx.Arg(3))))
			ctx.RetWrite(uint64(jniOK))
		},
		"UnregisterNatives": func(ctx debugger.Context) {
			b.class(ctx.Arg(1)).unbind()
			ctx.RetWrite(uint64(jniOK))
		},
		"MonitorEnter": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(jniOK))
		},
		"MonitorExit": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(jniOK))
		},
		"GetJavaVM": func(ctx debugger.Context) {
			b.writeWord(ctx.Arg(1), b.javaVM)
			ctx.RetWrite(uint64(jniOK))
		},

		"NewDirectByteBuffer": func(ctx debugger.Context) {
			buf := &directBuffer{Instance: NewInstance(byteBufferClass), addr: ctx.Arg(1), capacity: ctx.Arg(2)}
			ctx.RetWrite(b.ref(buf))
		},
		"GetDirectBufferAddress": func(ctx debugger.Context) {
			if buf, ok := b.obj(ctx.Arg(1)).(*directBuffer); ok {
				ctx.RetWrite(buf.addr)
				return
			}
			ctx.RetWrite(uint64(0))
		},
		"GetDirectBufferCapacity": func(ctx debugger.Context) {
			if buf, ok := b.obj(ctx.Arg(1)).(*directBuffer); ok {
				hybris.RetLong(ctx, buf.capacity)
				return
			}
			hybris.RetLong(ctx, math.MaxUint64)
		},
	}
	b.callImpl(impl)
	b.fieldImpl(impl)
	b.arrayImpl(impl)
	return impl
}

func (b *Bridge) deleteRef(ctx debugger.Context) {
	b.vm.DeleteRef(ctx.Arg(1))
}

func (b *Bridge) setCopy(addr uint64) {
	if addr != 0 {
		b.dbg.ToPointer(addr).MemWrite([]byte{1})
	}
}

func (b *Bridge) stringChars(ctx debugger.Context) {
	units := utf16.Encode([]rune(StringOf(b.obj(ctx.Arg(1)))))
	buf := make([]byte, len(units)*2+2)
	for i, u := range units {
		b.order().PutUint16(buf[i*2:], u)
	}
	addr, err := b.dbg.MemImport(buf)
	if err != nil {
		ctx.RetWrite(uint64(0))
		return
	}
	b.setCopy(ctx.Arg(2))
	ctx.RetWrite(addr)
}

func (b *Bridge) releaseChars(ctx debugger.Context) {
	b.dbg.MemFree(ctx.Arg(2))
}

func (b *Bridge) newObject(ctx debugger.Context, r hybris.ArgReader, jvalues bool) {
	c := b.class(ctx.Arg(1))
	m := b.vm.MethodByID(ctx.Arg(2))
	o := NewInstance(c)
	if m != nil {
		b.vm.Call(o, m, b.readArgs(r, m.Sig, jvalues)...)
	}
	ctx.RetWrite(b.ref(o))
}

// registerNatives reads n JNINativeMethod entries at addr.
func (b *Bridge) registerNatives(c *Class, addr uint64, n int) {
	size := b.dbg.PointerSize()
	for i := 0; i < n; i++ {
		p := b.dbg.ToPointer(addr + uint64(i)*3*size)
		name, _ := p.MemReadPointer()
		sig, _ := p.Add(size).MemReadPointer()
		fn, _ := p.Add(2 * size).MemReadPointer()
		b.vm.RegisterNatives(c, b.cstr(name.Address()), b.cstr(sig.Address()), fn.Address())
	}
}

func (b *Bridge) vmImpl() map[string]slotFunc {
	attach := func(ctx debugger.Context) {
		b.writeWord(ctx.Arg(1), b.env)
		ctx.RetWrite(uint64(jniOK))
	}
	return map[string]slotFunc{
		"DestroyJavaVM": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(jniOK))
		},
		"AttachCurrentThread":         attach,
		"AttachCurrentThreadAsDaemon": attach,
		"DetachCurrentThread": func(ctx debugger.Context) {
			ctx.RetWrite(uint64(jniOK))
		},
		"GetEnv": attach,
	}
}
