package filesystem

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestHostDirRoundTrip(t *testing.T) {
	root := t.TempDir()
	d := SysDirFS(root)
	if _, err := d.Mkdir("games/com.mojang", 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := d.OpenFile("games/com.mojang/options.txt", O_CREATE|O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.(WriteFile).Write([]byte("ctrl_sensitivity:0.5"))
	f.Close()

	r, err := d.Open("games/com.mojang/options.txt")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "ctrl_sensitivity:0.5" {
		t.Errorf("read %q", data)
	}

	dir, err := d.OpenFile("games", O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()
	entries, err := dir.(DirFile).ReadDir(-1)
	if err != nil || len(entries) != 1 || entries[0].Name() != "com.mojang" {
		t.Fatalf("ReadDir = %v, %v", entries, err)
	}
}

func TestHostDirErrorsUseGuestNames(t *testing.T) {
	root := t.TempDir()
	d := SysDirFS(root)
	_, err := fs.Stat(d, "missing/file")
	var pe *fs.PathError
	if !errors.As(err, &pe) || pe.Path != "missing/file" || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Stat err = %#v", err)
	}
	os.Mkdir(filepath.Join(root, "dir"), 0o755)
	if _, err := d.OpenFile("dir", O_WRONLY, 0); !errors.Is(err, syscall.EISDIR) {
		t.Fatalf("writable directory open err = %v", err)
	}
}

func TestHostDirReadlink(t *testing.T) {
	root := t.TempDir()
	if err := os.Symlink("/opt/game", filepath.Join(root, "exe")); err != nil {
		t.Skip(err)
	}
	target, err := SysDirFS(root).Readlink("exe")
	if err != nil || target != "/opt/game" {
		t.Fatalf("Readlink = %q, %v", target, err)
	}
}

func TestHostFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cpuinfo")
	os.WriteFile(p, []byte("processor\t: 0\n"), 0o644)
	f := SysFileFS(p)
	if _, err := fs.Stat(f, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.OpenFile("other", O_RDONLY, 0); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("nested open err = %v", err)
	}
}
