package main

import (
	"bytes"
	"context"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/wnxd/mcpehost/internal/launcher"
	"github.com/wnxd/mcpehost/internal/threadmover"
)

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"-dg", "/games/mc"}, []string{"--game-dir", "/games/mc"}},
		{[]string{"-ww=1280", "-wh", "720"}, []string{"--width=1280", "--height", "720"}},
		{[]string{"-fes", "-tp", "-df"}, []string{"--force-opengles", "--texture-patch", "--disable-fmod"}},
		{[]string{"-v"}, []string{"-v"}},
		{[]string{"--", "-dg"}, []string{"--", "-dg"}},
	}
	for _, tt := range tests {
		if got := normalizeArgs(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("normalizeArgs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func runApp(t *testing.T, args ...string) (launcher.Options, int, bool) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var got launcher.Options
	called := false
	a := newApp(nil)
	a.launch = func(_ context.Context, opts launcher.Options) int {
		got, called = opts, true
		return launcher.ExitOK
	}
	cmd := a.command()
	cmd.SetArgs(normalizeArgs(args))
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		return got, launcher.ExitFailure, called
	}
	return got, a.code, called
}

func TestFlagsToOptions(t *testing.T) {
	opts, code, called := runApp(t, "-dg", "/games/mc", "-dd", "/data", "-ww", "1280", "-fes", "-tp")
	if !called || code != launcher.ExitOK {
		t.Fatalf("launch called=%v code=%d", called, code)
	}
	if opts.GameDir != "/games/mc" || opts.DataDir != "/data" {
		t.Errorf("dirs = %q %q", opts.GameDir, opts.DataDir)
	}
	if opts.Width != 1280 || opts.Height != 480 {
		t.Errorf("size = %dx%d", opts.Width, opts.Height)
	}
	if !opts.ForceGLES || !opts.TexturePatch || opts.DisableFmod {
		t.Errorf("options = %+v", opts)
	}
	if opts.Preferred() != launcher.GLES2 {
		t.Errorf("preferred = %s", opts.Preferred())
	}
}

func TestEnvironmentOptions(t *testing.T) {
	t.Setenv("MCPEHOST_CACHE_DIR", "/tmp/mc-cache")
	opts, _, called := runApp(t)
	if !called {
		t.Fatal("launch not called")
	}
	if opts.CacheDir != "/tmp/mc-cache" {
		t.Errorf("cache dir = %q", opts.CacheDir)
	}
}

func TestArgumentErrors(t *testing.T) {
	if _, code, called := runApp(t, "--width", "0"); called || code != launcher.ExitFailure {
		t.Errorf("zero width: called=%v code=%d", called, code)
	}
	if _, code, called := runApp(t, "--no-such-flag"); called || code != launcher.ExitFailure {
		t.Errorf("unknown flag: called=%v code=%d", called, code)
	}
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)
	out := buf.String()
	for _, want := range []string{"mcpehost " + AppVersion, "CPU backend: " + backendName, "GL Renderer: headless"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

func TestLauncherKeepsMainThreadMover(t *testing.T) {
	mover := threadmover.New()
	defer runtime.UnlockOSThread()
	l := newApp(mover).launcher(launcher.DefaultOptions())
	if l.Mover != mover {
		t.Fatal("launcher does not use the mover created by main")
	}
	if !l.Mover.OnMain() {
		t.Fatal("mover not bound to the creating thread")
	}
}
