// Package android provides the Java side of the platform the game
// expects: its activity, context chain and a few helper classes.
package android

import (
	"github.com/apex/log"
	"github.com/wnxd/mcpehost/internal/jni"
)

// SDKVersion is the Android release the host claims to be.
const SDKVersion = 27

var androidLog = log.WithField("component", "android")

var (
	BuildVersionClass   = jni.NewClass("android/os/Build$VERSION", jni.ObjectClass).StaticField("SDK_INT", "I", int32(SDKVersion))
	ContextClass        = jni.NewClass("android/content/Context", jni.ObjectClass)
	ContextWrapperClass = jni.NewClass("android/content/ContextWrapper", ContextClass)
	NativeActivityClass = jni.NewClass("android/app/NativeActivity", ContextWrapperClass)
	MainActivityClass   = jni.NewClass("com/mojang/minecraftpe/MainActivity", NativeActivityClass)
	HardwareInfoClass   = jni.NewClass("com/mojang/minecraftpe/HardwareInformation", jni.ObjectClass)
	DeviceManagerClass  = jni.NewClass("com/mojang/minecraftpe/input/JellyBeanDeviceManager", jni.ObjectClass)
	FileClass           = jni.NewClass("java/io/File", jni.ObjectClass)
	ClassLoaderClass    = jni.NewClass("java/lang/ClassLoader", jni.ObjectClass)
)

// Classes lists every class this package defines.
func Classes() []*jni.Class {
	return []*jni.Class{
		BuildVersionClass, ContextClass, ContextWrapperClass, NativeActivityClass, MainActivityClass,
		HardwareInfoClass, DeviceManagerClass, FileClass, ClassLoaderClass,
	}
}

// Register makes the classes visible to FindClass.
func Register(vm *jni.VM) {
	vm.Register(Classes()...)
	androidLog.Debugf("registered %d classes", len(Classes()))
}

// Context is implemented by objects that can stand in for an
// android.content.Context.
type Context interface {
	jni.Object
	StorageDir() string
}

func storageOf(this jni.Object) string {
	if c, ok := this.(Context); ok {
		return c.StorageDir()
	}
	return ""
}

func init() {
	ContextClass.
		Def("getFilesDir", "()Ljava/io/File;", func(_ *jni.VM, this jni.Object, _ []jni.Value) jni.Value {
			return NewFile(storageOf(this))
		}).
		Def("getCacheDir", "()Ljava/io/File;", func(_ *jni.VM, this jni.Object, _ []jni.Value) jni.Value {
			return NewFile(storageOf(this))
		}).
		Def("getClassLoader", "()Ljava/lang/ClassLoader;", func(*jni.VM, jni.Object, []jni.Value) jni.Value {
			return SystemClassLoader()
		}).
		Def("getApplicationContext", "()Landroid/content/Context;", func(_ *jni.VM, this jni.Object, _ []jni.Value) jni.Value {
			return this
		})

	HardwareInfoClass.DefStatic("getAndroidVersion", "()Ljava/lang/String;", func(*jni.VM, jni.Object, []jni.Value) jni.Value {
		return jni.NewString("Linux")
	})
}

// HardwareInfo is com.mojang.minecraftpe.HardwareInformation.
type HardwareInfo struct{}

func (*HardwareInfo) Class() *jni.Class {
	return HardwareInfoClass
}

func stringArg(args []jni.Value, i int) string {
	if i < len(args) {
		return jni.StringOf(args[i])
	}
	return ""
}

func boolArg(args []jni.Value, i int) bool {
	if i < len(args) {
		b, _ := args[i].(bool)
		return b
	}
	return false
}
