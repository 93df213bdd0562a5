package jni

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/internal/debugger/arm64"
	"github.com/wnxd/mcpehost/internal/emutest"
)

func newBridge(t *testing.T) (*emutest.Emulator, debugger.Debugger, *Bridge) {
	t.Helper()
	emu := emutest.New(emulator.ARCH_ARM64)
	dbg, err := arm64.NewArm64Debugger(emu)
	if err != nil {
		t.Fatalf("NewArm64Debugger: %v", err)
	}
	t.Cleanup(func() { dbg.Close() })
	b, err := NewBridge(dbg, NewVM())
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return emu, dbg, b
}

func callHost(emu *emutest.Emulator, addr uint64, args ...uint64) uint64 {
	for i, arg := range args {
		emu.RegWrite(emulator.ARM64_REG_X0+emulator.Reg(i), arg)
	}
	emu.RegWrite(emulator.ARM64_REG_LR, 0x1000)
	emu.Trap(emulator.ARM64_REG_PC, addr+4)
	v, _ := emu.RegRead(emulator.ARM64_REG_X0)
	return v
}

// envCall calls the JNIEnv slot name with env prepended.
func envCall(t *testing.T, emu *emutest.Emulator, dbg debugger.Debugger, b *Bridge, name string, args ...uint64) uint64 {
	t.Helper()
	idx := slices.Index(envFunctions, name)
	if idx < 0 {
		t.Fatalf("no JNIEnv slot %s", name)
	}
	tbl, err := dbg.ToPointer(b.Env()).MemReadPointer()
	if err != nil {
		t.Fatal(err)
	}
	fn, err := tbl.Add(uint64(idx) * dbg.PointerSize()).MemReadPointer()
	if err != nil {
		t.Fatal(err)
	}
	return callHost(emu, fn.Address(), append([]uint64{b.Env()}, args...)...)
}

func cstring(t *testing.T, dbg debugger.Debugger, s string) uint64 {
	t.Helper()
	addr, err := dbg.MemImportString(s)
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestEnvTableLayout(t *testing.T) {
	if len(envFunctions) != 233 {
		t.Fatalf("JNIEnv has %d slots, want 233", len(envFunctions))
	}
	for i, name := range map[int]string{6: "FindClass", 33: "GetMethodID", 34: "CallObjectMethod", 113: "GetStaticMethodID", 167: "NewStringUTF", 215: "RegisterNatives", 232: "GetObjectRefType"} {
		if envFunctions[i] != name {
			t.Errorf("slot %d = %s, want %s", i, envFunctions[i], name)
		}
	}
}

func TestIsInstanceOfWalksParents(t *testing.T) {
	vm := NewVM()
	base := NewClass("android/content/Context", ObjectClass)
	mid := NewClass("android/content/ContextWrapper", base)
	leaf := NewClass("android/app/NativeActivity", mid)
	vm.Register(base, mid, leaf)
	o := NewInstance(leaf)
	for _, c := range []*Class{leaf, mid, base, ObjectClass} {
		if !vm.IsInstanceOf(o, c) {
			t.Errorf("instance of %s not an instance of %s", leaf.Name, c.Name)
		}
	}
	if vm.IsInstanceOf(NewInstance(base), leaf) {
		t.Error("parent is an instance of its child")
	}
	if vm.GetSuperclass(leaf) != mid {
		t.Error("GetSuperclass returned the wrong parent")
	}
	if !vm.IsInstanceOf(nil, leaf) {
		t.Error("null is not an instance")
	}
}

func TestClassForDeclaresUnknown(t *testing.T) {
	vm := NewVM()
	c := vm.ClassFor("org.example.Missing")
	if c.Name != "org/example/Missing" || c.Super != ObjectClass {
		t.Fatalf("ClassFor = %s (parent %v)", c.Name, c.Super)
	}
	if again, ok := vm.FindClass("org/example/Missing"); !ok || again != c {
		t.Fatal("declared class not registered")
	}
	if v := vm.CallMethod(NewInstance(c), "count", "()I"); v != int32(0) {
		t.Fatalf("unknown method returned %#v", v)
	}
	if v := vm.CallMethod(NewInstance(c), "name", "()Ljava/lang/String;"); v != nil {
		t.Fatalf("unknown object method returned %#v", v)
	}
}

func TestFindClassAndCallStatic(t *testing.T) {
	emu, dbg, b := newBridge(t)
	info := NewClass("com/mojang/minecraftpe/HardwareInformation", ObjectClass).
		DefStatic("getAndroidVersion", "()Ljava/lang/String;", func(*VM, Object, []Value) Value {
			return NewString("Linux")
		}).
		DefStatic("scale", "(IJD)J", func(_ *VM, _ Object, args []Value) Value {
			return int64(float64(args[0].(int32))*args[2].(float64)) + args[1].(int64)
		})
	b.VM().Register(info)

	cls := envCall(t, emu, dbg, b, "FindClass", cstring(t, dbg, "com/mojang/minecraftpe/HardwareInformation"))
	if b.obj(cls) != info {
		t.Fatalf("FindClass returned %v", b.obj(cls))
	}
	mid := envCall(t, emu, dbg, b, "GetStaticMethodID", cls, cstring(t, dbg, "getAndroidVersion"), cstring(t, dbg, "()Ljava/lang/String;"))
	if mid == 0 {
		t.Fatal("GetStaticMethodID returned 0")
	}
	s := envCall(t, emu, dbg, b, "CallStaticObjectMethodA", cls, mid, 0)
	if got := StringOf(b.obj(s)); got != "Linux" {
		t.Fatalf("getAndroidVersion = %q", got)
	}

	mid = envCall(t, emu, dbg, b, "GetStaticMethodID", cls, cstring(t, dbg, "scale"), cstring(t, dbg, "(IJD)J"))
	vals, _ := dbg.MemAlloc(24)
	p := dbg.ToPointer(vals)
	p.MemWritePointer(3)
	p.Add(8).MemWritePointer(5)
	p.Add(16).MemWritePointer(math.Float64bits(1.5))
	if got := envCall(t, emu, dbg, b, "CallStaticLongMethodA", cls, mid, vals); got != 9 {
		t.Fatalf("scale = %d, want 9", got)
	}
}

func TestVirtualCallUsesOverride(t *testing.T) {
	emu, dbg, b := newBridge(t)
	base := NewClass("test/Base", ObjectClass).Def("id", "()I", func(*VM, Object, []Value) Value { return int32(1) })
	sub := NewClass("test/Sub", base).Def("id", "()I", func(*VM, Object, []Value) Value { return int32(2) })
	b.VM().Register(base, sub)
	mid := b.VM().ID(b.VM().GetMethodID(base, "id", "()I", false))
	obj := b.ref(NewInstance(sub))
	if got := envCall(t, emu, dbg, b, "CallIntMethodA", obj, mid, 0); got != 2 {
		t.Fatalf("virtual call = %d, want 2", got)
	}
	if got := envCall(t, emu, dbg, b, "CallNonvirtualIntMethodA", obj, b.ref(base), mid, 0); got != 1 {
		t.Fatalf("nonvirtual call = %d, want 1", got)
	}
}

func TestStrings(t *testing.T) {
	emu, dbg, b := newBridge(t)
	h := envCall(t, emu, dbg, b, "NewStringUTF", cstring(t, dbg, "héllo"))
	if got := envCall(t, emu, dbg, b, "GetStringLength", h); got != 5 {
		t.Errorf("GetStringLength = %d, want 5", got)
	}
	if got := envCall(t, emu, dbg, b, "GetStringUTFLength", h); got != 6 {
		t.Errorf("GetStringUTFLength = %d, want 6", got)
	}
	isCopy, _ := dbg.MemAlloc(1)
	chars := envCall(t, emu, dbg, b, "GetStringUTFChars", h, isCopy)
	if s, _ := dbg.ToPointer(chars).MemReadString(); s != "héllo" {
		t.Errorf("GetStringUTFChars = %q", s)
	}
	if flag, _ := dbg.ToPointer(isCopy).MemRead(1); flag[0] != 1 {
		t.Error("isCopy not set")
	}
	envCall(t, emu, dbg, b, "ReleaseStringUTFChars", h, chars)
	if envCall(t, emu, dbg, b, "NewStringUTF", 0) != 0 {
		t.Error("NewStringUTF(NULL) returned an object")
	}
}

func TestFields(t *testing.T) {
	emu, dbg, b := newBridge(t)
	c := NewClass("test/Point", ObjectClass).StaticField("ORIGIN", "I", int32(7))
	b.VM().Register(c)
	cls := b.ref(c)
	sid := envCall(t, emu, dbg, b, "GetStaticFieldID", cls, cstring(t, dbg, "ORIGIN"), cstring(t, dbg, "I"))
	if got := envCall(t, emu, dbg, b, "GetStaticIntField", cls, sid); got != 7 {
		t.Fatalf("ORIGIN = %d, want 7", got)
	}
	fid := envCall(t, emu, dbg, b, "GetFieldID", cls, cstring(t, dbg, "x"), cstring(t, dbg, "I"))
	obj := envCall(t, emu, dbg, b, "AllocObject", cls)
	if got := envCall(t, emu, dbg, b, "GetIntField", obj, fid); got != 0 {
		t.Fatalf("fresh field = %d", got)
	}
	envCall(t, emu, dbg, b, "SetIntField", obj, fid, 42)
	if got := envCall(t, emu, dbg, b, "GetIntField", obj, fid); got != 42 {
		t.Fatalf("x = %d, want 42", got)
	}
}

func TestArrayElementsCommit(t *testing.T) {
	emu, dbg, b := newBridge(t)
	arr := envCall(t, emu, dbg, b, "NewIntArray", 3)
	if got := envCall(t, emu, dbg, b, "GetArrayLength", arr); got != 3 {
		t.Fatalf("length = %d", got)
	}
	elems := envCall(t, emu, dbg, b, "GetIntArrayElements", arr, 0)
	dbg.ToPointer(elems + 4).MemWriteUint32(99)
	envCall(t, emu, dbg, b, "ReleaseIntArrayElements", arr, elems, 0)
	a := b.obj(arr).(*Array)
	if a.Elems[1] != int32(99) {
		t.Fatalf("elements = %v", a.Elems)
	}

	buf, _ := dbg.MemAlloc(8)
	dbg.ToPointer(buf).MemWrite([]byte{1, 2, 3})
	bytes := envCall(t, emu, dbg, b, "NewByteArray", 4)
	envCall(t, emu, dbg, b, "SetByteArrayRegion", bytes, 1, 3, buf)
	if got := b.obj(bytes).(*ByteArray).Data; string(got) != "\x00\x01\x02\x03" {
		t.Fatalf("byte array = %v", got)
	}
}

func TestRegisterNativesAndCallNative(t *testing.T) {
	emu, dbg, b := newBridge(t)
	c := NewClass("com/mojang/minecraftpe/MainActivity", ObjectClass)
	b.VM().Register(c)
	const fn = 0x40000
	emu.Program(fn, func(e *emutest.Emulator) error {
		env, _ := e.RegRead(emulator.ARM64_REG_X0)
		if env != b.Env() {
			t.Errorf("native got env %#x", env)
		}
		x2, _ := e.RegRead(emulator.ARM64_REG_X2)
		e.RegWrite(emulator.ARM64_REG_X0, x2*2)
		return nil
	})
	size := dbg.PointerSize()
	methods, _ := dbg.MemAlloc(3 * size)
	p := dbg.ToPointer(methods)
	p.MemWritePointer(cstring(t, dbg, "twice"))
	p.Add(size).MemWritePointer(cstring(t, dbg, "(I)I"))
	p.Add(2 * size).MemWritePointer(fn)
	if got := envCall(t, emu, dbg, b, "RegisterNatives", b.ref(c), methods, 1); got != 0 {
		t.Fatalf("RegisterNatives = %d", got)
	}
	v, err := b.CallNative(c, NewInstance(c), "twice", "(I)I", int32(21))
	if err != nil {
		t.Fatal(err)
	}
	if v != int32(42) {
		t.Fatalf("twice(21) = %#v", v)
	}
	if _, err = b.CallNative(c, nil, "missing", "()V"); err == nil {
		t.Fatal("calling an unbound native succeeded")
	}
}

func TestJavaVMGetEnv(t *testing.T) {
	emu, dbg, b := newBridge(t)
	tbl, _ := dbg.ToPointer(b.JavaVM()).MemReadPointer()
	fn, _ := tbl.Add(6 * dbg.PointerSize()).MemReadPointer()
	out, _ := dbg.MemAlloc(8)
	if got := callHost(emu, fn.Address(), b.JavaVM(), out, jniVersion); got != jniOK {
		t.Fatalf("GetEnv = %d", got)
	}
	if env, _ := dbg.ToPointer(out).MemReadPointer(); env.Address() != b.Env() {
		t.Fatalf("GetEnv wrote %#x", env.Address())
	}
}

func TestMangleNative(t *testing.T) {
	tests := []struct{ class, name, want string }{
		{"com/mojang/minecraftpe/MainActivity", "nativeRegisterThis", "Java_com_mojang_minecraftpe_MainActivity_nativeRegisterThis"},
		{"com/mojang/minecraftpe/MainActivity", "native_call", "Java_com_mojang_minecraftpe_MainActivity_native_1call"},
		{"a/B$C", "d", "Java_a_B_00024C_d"},
	}
	for _, tt := range tests {
		if got := MangleNative(tt.class, tt.name); got != tt.want {
			t.Errorf("MangleNative(%s, %s) = %s, want %s", tt.class, tt.name, got, tt.want)
		}
	}
}

func TestSupportRegisterNatives(t *testing.T) {
	_, _, b := newBridge(t)
	c := NewClass("com/mojang/minecraftpe/MainActivity", ObjectClass)
	s := NewSupport(b, NewInstance(c))
	syms := map[string]uint64{"Java_com_mojang_minecraftpe_MainActivity_nativeResize": 0x5000}
	n := s.RegisterNatives(c, []NativeMethod{
		{"nativeResize", "(II)V"},
		{"nativeShutdown", "()V"},
	}, func(sym string) uint64 { return syms[sym] })
	if n != 1 {
		t.Fatalf("bound %d natives, want 1", n)
	}
	if m := c.Method("nativeResize", "(II)V", false); m == nil || m.Native != 0x5000 {
		t.Fatalf("nativeResize not bound: %+v", m)
	}
}

func TestSupportStartGame(t *testing.T) {
	emu, dbg, b := newBridge(t)
	c := NewClass("com/mojang/minecraftpe/MainActivity", ObjectClass)
	s := NewSupport(b, NewInstance(c))
	s.DataDir = "/data/data/com.mojang.minecraftpe"
	const onCreate, onStart = 0x40000, 0x41000
	var order []string
	emu.Program(onCreate, func(e *emutest.Emulator) error {
		act, _ := e.RegRead(emulator.ARM64_REG_X0)
		var a nativeActivity
		if err := s.layout.Read(dbg.ToPointer(act), &a); err != nil {
			return err
		}
		if a.SDK != sdkVersion || uint64(a.Env) != b.Env() || uint64(a.VM) != b.JavaVM() {
			t.Errorf("activity = %+v", a)
		}
		if path, _ := dbg.ToPointer(uint64(a.Internal)).MemReadString(); path != s.DataDir {
			t.Errorf("internalDataPath = %q", path)
		}
		if _, ok := b.obj(uint64(a.Clazz)).(*Instance); !ok {
			t.Error("clazz is not the activity")
		}
		dbg.ToPointer(uint64(a.Callbacks)).MemWritePointer(onStart)
		order = append(order, "onCreate")
		return nil
	})
	emu.Program(onStart, func(e *emutest.Emulator) error {
		order = append(order, "onStart")
		return nil
	})
	if err := s.StartGame(context.Background(), onCreate, 0, 0); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if !slices.Equal(order, []string{"onCreate", "onStart"}) {
		t.Fatalf("callbacks ran as %v", order)
	}
	if err := s.StartGame(context.Background(), 0, 0, 0); err != ErrNoEntry {
		t.Fatalf("StartGame without entry = %v", err)
	}
}

func TestDecodeImage(t *testing.T) {
	emu, dbg, b := newBridge(t)
	s := NewSupport(b, nil)
	const load, free = 0x40000, 0x41000
	var freed uint64
	emu.Program(load, func(e *emutest.Emulator) error {
		regs, _ := e.RegReadBatch(emulator.ARM64_REG_X1, emulator.ARM64_REG_X2, emulator.ARM64_REG_X3)
		dbg.ToPointer(regs[1]).MemWriteUint32(2)
		dbg.ToPointer(regs[2]).MemWriteUint32(uint32(regs[0]))
		img, _ := dbg.MemImport(make([]byte, 2*regs[0]*4))
		e.RegWrite(emulator.ARM64_REG_X0, img)
		return nil
	})
	emu.Program(free, func(e *emutest.Emulator) error {
		freed, _ = e.RegRead(emulator.ARM64_REG_X0)
		return nil
	})
	s.stbiLoad, s.stbiFree = load, free
	w, h, pixels, err := s.DecodeImage(context.Background(), []byte("png!"))
	if err != nil {
		t.Fatal(err)
	}
	if w != 2 || h != 4 || len(pixels) != 32 {
		t.Fatalf("decoded %dx%d with %d bytes", w, h, len(pixels))
	}
	if freed == 0 {
		t.Fatal("stbi_image_free not called")
	}
}
