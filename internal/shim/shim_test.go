package shim

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/filesystem"
	"github.com/wnxd/mcpehost/internal/debugger/arm64"
	"github.com/wnxd/mcpehost/internal/emutest"
)

const dest = "/home/user/.local/share/mcpelauncher/"

func TestTableEntries(t *testing.T) {
	table := NewTable(Source{Pid: 4242, AppDir: "/opt/launcher/bin", Argv0: "/opt/launcher/bin"}, dest)
	want := []string{
		"/data/data/com.mojang.minecraftpe",
		"/data/data/opt/launcher/proc/4242/cmdline",
		"/data/data/opt/launcher/bin",
		"/data/data",
	}
	if got := table.Prefixes(); !slices.Equal(got, want) {
		t.Fatalf("prefixes = %q\nwant %q", got, want)
	}
	if table.Destination() != dest {
		t.Fatalf("destination = %q", table.Destination())
	}
}

func TestTableRelativeArgv0(t *testing.T) {
	table := NewTable(Source{Pid: 1, AppDir: "/usr/bin", Argv0: "mcpelauncher-client"}, dest)
	if !slices.Contains(table.Prefixes(), "/data/data/mcpelauncher-client") {
		t.Fatalf("prefixes = %q", table.Prefixes())
	}
	table = NewTable(Source{Pid: 1, AppDir: "/usr/bin"}, dest)
	if n := len(table.Prefixes()); n != 3 {
		t.Fatalf("empty argv0 gave %d prefixes", n)
	}
}

func TestRewrite(t *testing.T) {
	table := NewTable(Source{Pid: 4242, AppDir: "/opt/launcher/bin", Argv0: "/opt/launcher/bin"}, dest)
	tests := []struct {
		in, out string
	}{
		{"/data/data/com.mojang.minecraftpe/games/options.txt", dest + "/games/options.txt"},
		{"/data/data/opt/launcher/bin/games", dest + "/games"},
		{"/data/data/opt/launcher/proc/4242/cmdline/x", dest + "/x"},
		{"/data/data/other", dest + "/other"},
		{"/data/data", dest},
		{"/tmp/file", "/tmp/file"},
		{"", ""},
		{"relative/data/data", "relative/data/data"},
	}
	for _, tt := range tests {
		if got := table.Rewrite(tt.in); got != tt.out {
			t.Errorf("Rewrite(%q) = %q, want %q", tt.in, got, tt.out)
		}
	}
}

func TestRewriteFirstMatchWins(t *testing.T) {
	table := NewTable(Source{Pid: 7, AppDir: "/a/b", Argv0: "com.mojang.minecraftpe"}, dest)
	// the legacy entry and the argv0 entry are equal; declaration order decides
	p, ok := table.Match("/data/data/com.mojang.minecraftpe/x")
	if !ok || p != LegacyDataDir {
		t.Fatalf("Match = %q, %v", p, ok)
	}
	if got := table.Rewrite("/data/data/com.mojang.minecraftpe/x"); got != dest+"/x" {
		t.Fatalf("Rewrite = %q", got)
	}
}

func TestRewriteIdentity(t *testing.T) {
	table := NewTable(Source{Pid: 4242, AppDir: "/opt/launcher/bin", Argv0: "/opt/launcher/bin"}, dest)
	for _, in := range []string{"/", "/data", "/data/dat", "/proc/self/maps", "/system/lib/libc.so", "data/data"} {
		if got := table.Rewrite(in); got != in {
			t.Errorf("Rewrite(%q) = %q", in, got)
		}
	}
}

func TestHandlerRedirectsToHost(t *testing.T) {
	dir := t.TempDir()
	table := NewTable(Source{Pid: 1, AppDir: "/opt/x"}, dir)
	h := NewHandler(table, filesystem.SysDirFS("/"))
	if _, err := h.Mkdir("/data/data/com.mojang.minecraftpe/games", 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := h.OpenFile("/data/data/com.mojang.minecraftpe/games/options.txt", filesystem.O_CREATE|filesystem.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.(filesystem.WriteFile).Write([]byte("gfx_vsync:1"))
	f.Close()
	data, err := os.ReadFile(filepath.Join(dir, "games", "options.txt"))
	if err != nil || string(data) != "gfx_vsync:1" {
		t.Fatalf("host file = %q, %v", data, err)
	}
	entries, err := h.ReadDir("/data/data/games")
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir = %v, %v", entries, err)
	}
}

func TestProcFS(t *testing.T) {
	vfs := NewProcFS(Source{Pid: 4242, Argv0: "/opt/launcher/bin"}, []string{"/opt/launcher/bin", "-dg", "/games"})
	h := NewFSHandler(vfs)
	for _, name := range []string{"/proc/self/cmdline", "/proc/4242/cmdline"} {
		f, err := h.OpenFile(name, filesystem.O_RDONLY, 0)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		data, _ := io.ReadAll(f.(io.Reader))
		if !strings.HasPrefix(string(data), "/opt/launcher/bin\x00-dg\x00") {
			t.Fatalf("%s = %q", name, data)
		}
	}
	if target, err := h.Readlink("/proc/self/exe"); err != nil || target != "/opt/launcher/bin" {
		t.Fatalf("Readlink = %q, %v", target, err)
	}
	if _, err := h.Stat("/proc/cpuinfo"); err != nil {
		t.Fatal(err)
	}
}

// newChain wires the handlers the way the launcher does: /proc first,
// then the data directory redirect over the host root.
func newChain(t *testing.T, dir string) debugger.Debugger {
	t.Helper()
	dbg, err := arm64.NewArm64Debugger(emutest.New(emulator.ARCH_ARM64))
	if err != nil {
		t.Fatalf("NewArm64Debugger: %v", err)
	}
	t.Cleanup(func() { dbg.Close() })
	src := Source{Pid: 4242, AppDir: "/opt/launcher/bin", Argv0: "/opt/launcher/bin"}
	dbg.AddFileHandler(NewProcHandler(NewProcFS(src, []string{"/opt/launcher/bin"})))
	dbg.AddFileHandler(NewHandler(NewTable(src, dir), filesystem.SysDirFS("/")))
	return dbg
}

func TestChainWritesReachHost(t *testing.T) {
	dir := t.TempDir()
	dbg := newChain(t, dir)
	if _, err := dbg.Mkdir("/data/data/com.mojang.minecraftpe/games", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if info, err := os.Stat(filepath.Join(dir, "games")); err != nil || !info.IsDir() {
		t.Fatalf("host dir after mkdir: %v", err)
	}
	f, err := dbg.OpenFile("/data/data/com.mojang.minecraftpe/games/options.txt", filesystem.O_CREATE|filesystem.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	f.(filesystem.WriteFile).Write([]byte("gfx_vsync:1"))
	f.Close()
	if data, err := os.ReadFile(filepath.Join(dir, "games", "options.txt")); err != nil || string(data) != "gfx_vsync:1" {
		t.Fatalf("host file = %q, %v", data, err)
	}

	other := t.TempDir()
	f, err = dbg.OpenFile(filepath.Join(other, "new.txt"), filesystem.O_CREATE|filesystem.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("create outside /data: %v", err)
	}
	f.Close()
	if _, err := os.Stat(filepath.Join(other, "new.txt")); err != nil {
		t.Fatalf("host file outside /data: %v", err)
	}
}

func TestChainProcIsReadOnly(t *testing.T) {
	dbg := newChain(t, t.TempDir())
	f, err := dbg.OpenFile("/proc/self/cmdline", filesystem.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open cmdline: %v", err)
	}
	data, _ := io.ReadAll(f.(io.Reader))
	if string(data) != "/opt/launcher/bin\x00" {
		t.Fatalf("cmdline = %q", data)
	}
	if _, err := dbg.OpenFile("/proc/self/cmdline", filesystem.O_WRONLY, 0); !errors.Is(err, syscall.EROFS) {
		t.Fatalf("write cmdline: %v", err)
	}
	if _, err := dbg.Mkdir("/proc/self/cmdline", 0o755); !errors.Is(err, syscall.EROFS) {
		t.Fatalf("mkdir over cmdline: %v", err)
	}

	h := NewProcHandler(NewProcFS(Source{Pid: 1}, nil))
	if _, err := h.Mkdir("/data/data/games", 0o755); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Mkdir outside /proc = %v", err)
	}
	if _, err := h.OpenFile("/options.txt", filesystem.O_CREATE|filesystem.O_WRONLY, 0o644); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("create outside /proc = %v", err)
	}
}
