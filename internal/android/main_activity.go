package android

import (
	"github.com/google/uuid"
	"github.com/wnxd/mcpehost/internal/jni"
)

// TextInput is the host side of the on-screen keyboard.
type TextInput interface {
	Enable(text string, multiline bool)
	Disable()
	Update(text string)
	CursorPosition() int
}

// MainActivity is com.mojang.minecraftpe.MainActivity.
type MainActivity struct {
	StorageDirectory string
	TextInput        TextInput

	// QuitCallback runs when the game asks the activity to finish.
	QuitCallback func()
}

func NewMainActivity(storage string) *MainActivity {
	return &MainActivity{StorageDirectory: storage}
}

func (*MainActivity) Class() *jni.Class {
	return MainActivityClass
}

func (a *MainActivity) StorageDir() string {
	return a.StorageDirectory
}

// Quit runs the shutdown callback, if any.
func (a *MainActivity) Quit() {
	if a.QuitCallback != nil {
		a.QuitCallback()
	}
}

// activityOf never returns nil so a MainActivity built by AllocObject
// still answers.
func activityOf(this jni.Object) *MainActivity {
	if a, ok := this.(*MainActivity); ok && a != nil {
		return a
	}
	return &MainActivity{}
}

// MinecraftNatives are the MainActivity natives the game library exports.
var MinecraftNatives = []jni.NativeMethod{
	{Name: "nativeRegisterThis", Sig: "()V"},
	{Name: "nativeWaitCrashManagementSetupComplete", Sig: "()V"},
	{Name: "nativeInitializeWithApplicationContext", Sig: "(Landroid/content/Context;)V"},
	{Name: "nativeShutdown", Sig: "()V"},
	{Name: "nativeUnregisterThis", Sig: "()V"},
	{Name: "nativeStopThis", Sig: "()V"},
	{Name: "nativeOnDestroy", Sig: "()V"},
	{Name: "nativeResize", Sig: "(II)V"},
	{Name: "nativeSetTextboxText", Sig: "(Ljava/lang/String;)V"},
	{Name: "nativeReturnKeyPressed", Sig: "()V"},
	{Name: "nativeBackPressed", Sig: "()V"},
	{Name: "nativeOnPickImageSuccess", Sig: "(JLjava/lang/String;)V"},
	{Name: "nativeOnPickImageCanceled", Sig: "(J)V"},
}

type activityFunc func(a *MainActivity, vm *jni.VM, args []jni.Value) jni.Value

func def(name, sig string, fn activityFunc) {
	MainActivityClass.Def(name, sig, func(vm *jni.VM, this jni.Object, args []jni.Value) jni.Value {
		return fn(activityOf(this), vm, args)
	})
}

func init() {
	def("getAndroidVersion", "()I", func(*MainActivity, *jni.VM, []jni.Value) jni.Value {
		return int32(SDKVersion)
	})
	def("getLocale", "()Ljava/lang/String;", func(*MainActivity, *jni.VM, []jni.Value) jni.Value {
		return jni.NewString("en")
	})
	def("getDeviceModel", "()Ljava/lang/String;", func(*MainActivity, *jni.VM, []jni.Value) jni.Value {
		return jni.NewString("Linux")
	})
	def("getFilesDir", "()Ljava/io/File;", func(a *MainActivity, _ *jni.VM, _ []jni.Value) jni.Value {
		return NewFile(a.StorageDirectory)
	})
	def("getCacheDir", "()Ljava/io/File;", func(a *MainActivity, _ *jni.VM, _ []jni.Value) jni.Value {
		return NewFile(a.StorageDirectory)
	})
	def("getExternalStoragePath", "()Ljava/lang/String;", func(a *MainActivity, _ *jni.VM, _ []jni.Value) jni.Value {
		return jni.NewString(a.StorageDirectory)
	})
	def("hasWriteExternalStoragePermission", "()Z", func(*MainActivity, *jni.VM, []jni.Value) jni.Value {
		return true
	})
	def("getHardwareInfo", "()Lcom/mojang/minecraftpe/HardwareInformation;", func(*MainActivity, *jni.VM, []jni.Value) jni.Value {
		return &HardwareInfo{}
	})
	def("createUUID", "()Ljava/lang/String;", func(*MainActivity, *jni.VM, []jni.Value) jni.Value {
		return jni.NewString(uuid.NewString())
	})
	def("getFileDataBytes", "(Ljava/lang/String;)[B", func(*MainActivity, *jni.VM, []jni.Value) jni.Value {
		return &jni.ByteArray{Data: []byte{}}
	})
	def("getIPAddresses", "()[Ljava/lang/String;", func(*MainActivity, *jni.VM, []jni.Value) jni.Value {
		return jni.NewArray("Ljava/lang/String;", 0)
	})
	def("getBroadcastAddresses", "()[Ljava/lang/String;", func(*MainActivity, *jni.VM, []jni.Value) jni.Value {
		return jni.NewArray("Ljava/lang/String;", 0)
	})
	def("showKeyboard", "(Ljava/lang/String;IZZZ)V", func(a *MainActivity, _ *jni.VM, args []jni.Value) jni.Value {
		if a.TextInput != nil {
			a.TextInput.Enable(stringArg(args, 0), boolArg(args, 4))
		}
		return nil
	})
	def("hideKeyboard", "()V", func(a *MainActivity, _ *jni.VM, _ []jni.Value) jni.Value {
		if a.TextInput != nil {
			a.TextInput.Disable()
		}
		return nil
	})
	def("updateTextboxText", "(Ljava/lang/String;)V", func(a *MainActivity, _ *jni.VM, args []jni.Value) jni.Value {
		if a.TextInput != nil {
			a.TextInput.Update(stringArg(args, 0))
		}
		return nil
	})
	def("finish", "()V", func(a *MainActivity, _ *jni.VM, _ []jni.Value) jni.Value {
		a.Quit()
		return nil
	})
	def("getCursorPosition", "()I", func(a *MainActivity, _ *jni.VM, _ []jni.Value) jni.Value {
		if a.TextInput != nil {
			return int32(a.TextInput.CursorPosition())
		}
		return int32(0)
	})
}
