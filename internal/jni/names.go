package jni

import "fmt"

var callTypes = []struct {
	name string
	kind byte
}{
	{"Object", 'L'},
	{"Boolean", 'Z'},
	{"Byte", 'B'},
	{"Char", 'C'},
	{"Short", 'S'},
	{"Int", 'I'},
	{"Long", 'J'},
	{"Float", 'F'},
	{"Double", 'D'},
	{"Void", 'V'},
}

var primTypes = callTypes[1:9]

// envFunctions lists the JNINativeInterface slots in table order.
var envFunctions = func() []string {
	names := []string{
		"reserved0", "reserved1", "reserved2", "reserved3",
		"GetVersion", "DefineClass", "FindClass",
		"FromReflectedMethod", "FromReflectedField", "ToReflectedMethod",
		"GetSuperclass", "IsAssignableFrom", "ToReflectedField",
		"Throw", "ThrowNew", "ExceptionOccurred", "ExceptionDescribe", "ExceptionClear", "FatalError",
		"PushLocalFrame", "PopLocalFrame",
		"NewGlobalRef", "DeleteGlobalRef", "DeleteLocalRef", "IsSameObject", "NewLocalRef", "EnsureLocalCapacity",
		"AllocObject", "NewObject", "NewObjectV", "NewObjectA",
		"GetObjectClass", "IsInstanceOf", "GetMethodID",
	}
	calls := func(prefix string) {
		for _, t := range callTypes {
			names = append(names, prefix+t.name+"Method", prefix+t.name+"MethodV", prefix+t.name+"MethodA")
		}
	}
	fields := func(prefix string) {
		for _, t := range callTypes[:9] {
			names = append(names, "Get"+prefix+t.name+"Field")
		}
		for _, t := range callTypes[:9] {
			names = append(names, "Set"+prefix+t.name+"Field")
		}
	}
	calls("Call")
	calls("CallNonvirtual")
	names = append(names, "GetFieldID")
	fields("")
	names = append(names, "GetStaticMethodID")
	calls("CallStatic")
	names = append(names, "GetStaticFieldID")
	fields("Static")
	names = append(names,
		"NewString", "GetStringLength", "GetStringChars", "ReleaseStringChars",
		"NewStringUTF", "GetStringUTFLength", "GetStringUTFChars", "ReleaseStringUTFChars",
		"GetArrayLength", "NewObjectArray", "GetObjectArrayElement", "SetObjectArrayElement",
	)
	for _, format := range []string{"New%sArray", "Get%sArrayElements", "Release%sArrayElements", "Get%sArrayRegion", "Set%sArrayRegion"} {
		for _, t := range primTypes {
			names = append(names, fmt.Sprintf(format, t.name))
		}
	}
	names = append(names,
		"RegisterNatives", "UnregisterNatives", "MonitorEnter", "MonitorExit", "GetJavaVM",
		"GetStringRegion", "GetStringUTFRegion",
		"GetPrimitiveArrayCritical", "ReleasePrimitiveArrayCritical",
		"GetStringCritical", "ReleaseStringCritical",
		"NewWeakGlobalRef", "DeleteWeakGlobalRef", "ExceptionCheck",
		"NewDirectByteBuffer", "GetDirectBufferAddress", "GetDirectBufferCapacity",
		"GetObjectRefType",
	)
	return names
}()

// vmFunctions lists the JNIInvokeInterface slots in table order.
var vmFunctions = []string{
	"reserved0", "reserved1", "reserved2",
	"DestroyJavaVM", "AttachCurrentThread", "DetachCurrentThread", "GetEnv", "AttachCurrentThreadAsDaemon",
}
