package filesystem

import (
	"errors"
	"io"
	"io/fs"
	"testing"
)

func TestVirtualWriteRead(t *testing.T) {
	vfs := NewVirtualFS()
	if err := vfs.WriteFile("proc/cpuinfo", []byte("processor\t: 0\n"), 0o444); err != nil {
		t.Fatal(err)
	}
	f, err := vfs.Open("/proc/cpuinfo")
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(f)
	if err != nil || string(data) != "processor\t: 0\n" {
		t.Fatalf("read %q, %v", data, err)
	}
	if err = vfs.WriteFile("proc/cpuinfo", nil, 0o444); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("second WriteFile err = %v", err)
	}
}

func TestVirtualGenerate(t *testing.T) {
	vfs := NewVirtualFS()
	n := 0
	vfs.Generate("proc/self/stat", func() []byte {
		n++
		return []byte{byte('0' + n)}
	})
	for want := 1; want <= 2; want++ {
		f, err := vfs.OpenFile("proc/self/stat", O_RDONLY, 0)
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(f.(io.Reader))
		if string(data) != string(rune('0'+want)) {
			t.Fatalf("open %d read %q", want, data)
		}
	}
	if _, err := vfs.OpenFile("proc/self/stat", O_WRONLY, 0); !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("write open err = %v", err)
	}
}

func TestVirtualCreateAndAppend(t *testing.T) {
	vfs := NewVirtualFS()
	if _, err := vfs.Mkdir("data/files", 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := vfs.OpenFile("data/files/log.txt", O_CREATE|O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.(WriteFile).Write([]byte("ab"))
	f, _ = vfs.OpenFile("data/files/log.txt", O_APPEND|O_WRONLY, 0)
	f.(WriteFile).Write([]byte("cd"))
	info, err := fs.Stat(vfs, "data/files/log.txt")
	if err != nil || info.Size() != 4 {
		t.Fatalf("stat = %v, %v", info, err)
	}
	entries, err := vfs.ReadDir("data/files")
	if err != nil || len(entries) != 1 || entries[0].Name() != "log.txt" {
		t.Fatalf("ReadDir = %v, %v", entries, err)
	}
	if _, err = vfs.OpenFile("data/missing", O_RDONLY, 0); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestVirtualLink(t *testing.T) {
	vfs := NewVirtualFS()
	vfs.Link("proc/self/exe", SoftLink("/system/bin/app_process", nil))
	target, err := vfs.Readlink("proc/self/exe")
	if err != nil || target != "/system/bin/app_process" {
		t.Fatalf("Readlink = %q, %v", target, err)
	}
}
