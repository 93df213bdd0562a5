package android

import (
	"os"
	"sync"

	"github.com/wnxd/mcpehost/internal/jni"
)

// File is java.io.File.
type File struct {
	Path string
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (*File) Class() *jni.Class {
	return FileClass
}

func pathOf(this jni.Object) string {
	if f, ok := this.(*File); ok {
		return f.Path
	}
	return ""
}

// ClassLoader is java.lang.ClassLoader. There is exactly one.
type ClassLoader struct{}

func (*ClassLoader) Class() *jni.Class {
	return ClassLoaderClass
}

var (
	loaderOnce sync.Once
	loader     *ClassLoader
)

func SystemClassLoader() *ClassLoader {
	loaderOnce.Do(func() {
		loader = &ClassLoader{}
	})
	return loader
}

func init() {
	FileClass.
		Def("getPath", "()Ljava/lang/String;", func(_ *jni.VM, this jni.Object, _ []jni.Value) jni.Value {
			return jni.NewString(pathOf(this))
		}).
		Def("getAbsolutePath", "()Ljava/lang/String;", func(_ *jni.VM, this jni.Object, _ []jni.Value) jni.Value {
			return jni.NewString(pathOf(this))
		}).
		Def("exists", "()Z", func(_ *jni.VM, this jni.Object, _ []jni.Value) jni.Value {
			_, err := os.Stat(pathOf(this))
			return err == nil
		})

	ClassLoaderClass.
		Def("loadClass", "(Ljava/lang/String;)Ljava/lang/Class;", func(vm *jni.VM, _ jni.Object, args []jni.Value) jni.Value {
			return vm.ClassFor(stringArg(args, 0))
		}).
		DefStatic("getSystemClassLoader", "()Ljava/lang/ClassLoader;", func(*jni.VM, jni.Object, []jni.Value) jni.Value {
			return SystemClassLoader()
		})
}
