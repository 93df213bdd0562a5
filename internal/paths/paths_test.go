package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/emulator"
)

func newHelper(t *testing.T) *Helper {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("XDG_DATA_DIRS", "")
	h, err := New()
	if err != nil {
		t.Fatal(err)
	}
	h.SetAppDir(filepath.Join(home, "opt", "bin"))
	return h
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultDirectories(t *testing.T) {
	h := newHelper(t)
	home := os.Getenv("HOME")
	if got, want := h.PrimaryDataDirectory(), filepath.Join(home, ".local/share/mcpelauncher"); got != want {
		t.Errorf("PrimaryDataDirectory = %s, want %s", got, want)
	}
	if got, want := h.CacheDirectory(), filepath.Join(home, ".cache/mcpelauncher"); got != want {
		t.Errorf("CacheDirectory = %s, want %s", got, want)
	}
	h.SetDataDir("/srv/data")
	h.SetCacheDir("/srv/cache")
	if h.PrimaryDataDirectory() != "/srv/data" || h.CacheDirectory() != "/srv/cache" {
		t.Error("overrides ignored")
	}
}

func TestFindGameFile(t *testing.T) {
	h := newHelper(t)
	lib := filepath.Join(h.PrimaryDataDirectory(), "versions/current/lib/x86_64/libminecraftpe.so")
	touch(t, lib)
	p, arch, err := h.FindGameLibrary("libminecraftpe.so")
	if err != nil {
		t.Fatal(err)
	}
	if p != lib || arch != emulator.ARCH_X86_64 {
		t.Fatalf("FindGameLibrary = %s, %s", p, arch)
	}

	h.SetGameDir(t.TempDir())
	if _, err = h.FindGameFile("lib/x86_64/libminecraftpe.so"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("game dir override still searched defaults: %v", err)
	}
}

func TestFindDataFile(t *testing.T) {
	h := newHelper(t)
	shared := filepath.Join(ParentDir(h.AppDir()), "share/mcpelauncher/lib/x86/libfmod.so")
	touch(t, shared)
	if p, err := h.FindDataFile("lib/x86/libfmod.so"); err != nil || p != shared {
		t.Fatalf("FindDataFile = %s, %v", p, err)
	}
	primary := filepath.Join(h.PrimaryDataDirectory(), "lib/x86/libfmod.so")
	touch(t, primary)
	if p, _ := h.FindDataFile("lib/x86/libfmod.so"); p != primary {
		t.Fatalf("primary data directory not preferred: %s", p)
	}
}

func TestParentDir(t *testing.T) {
	tests := map[string]string{
		"/opt/launcher/bin":  "/opt/launcher",
		"/opt/launcher/bin/": "/opt/launcher",
		"/opt":               "",
		"bin":                "",
	}
	for in, want := range tests {
		if got := ParentDir(in); got != want {
			t.Errorf("ParentDir(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAbiDir(t *testing.T) {
	for _, arch := range Abis {
		if AbiDir(arch) == "" {
			t.Errorf("no ABI directory for %s", arch)
		}
	}
}
