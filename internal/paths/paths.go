// Package paths finds the game, data and cache directories.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v8"
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/emulator"
)

const appName = "mcpelauncher"

var ErrNotFound = errors.New("file not found")

type xdg struct {
	Home      string   `env:"HOME"`
	DataHome  string   `env:"XDG_DATA_HOME"`
	CacheHome string   `env:"XDG_CACHE_HOME"`
	DataDirs  []string `env:"XDG_DATA_DIRS" envSeparator:":" envDefault:"/usr/local/share:/usr/share"`
}

// Helper resolves files relative to the launcher's directories.
// Overrides win over every search path.
type Helper struct {
	appDir   string
	gameDir  string
	dataDir  string
	cacheDir string
	env      xdg
}

// New reads the XDG environment and the directory of the running
// executable.
func New() (*Helper, error) {
	h := &Helper{}
	if err := env.Parse(&h.env); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if h.env.DataHome == "" {
		h.env.DataHome = filepath.Join(h.env.Home, ".local", "share")
	}
	if h.env.CacheHome == "" {
		h.env.CacheHome = filepath.Join(h.env.Home, ".cache")
	}
	if exe, err := os.Executable(); err == nil {
		h.appDir = filepath.Dir(exe)
	}
	return h, nil
}

func (h *Helper) SetAppDir(dir string) {
	h.appDir = dir
}

func (h *Helper) SetGameDir(dir string) {
	h.gameDir = dir
}

func (h *Helper) SetDataDir(dir string) {
	h.dataDir = dir
}

func (h *Helper) SetCacheDir(dir string) {
	h.cacheDir = dir
}

// AppDir is the directory holding the launcher executable.
func (h *Helper) AppDir() string {
	return h.appDir
}

// PrimaryDataDirectory is where the game keeps its writable data.
func (h *Helper) PrimaryDataDirectory() string {
	if h.dataDir != "" {
		return h.dataDir
	}
	return filepath.Join(h.env.DataHome, appName)
}

func (h *Helper) CacheDirectory() string {
	if h.cacheDir != "" {
		return h.cacheDir
	}
	return filepath.Join(h.env.CacheHome, appName)
}

// dataDirs lists the directories searched for data files, best first.
func (h *Helper) dataDirs() []string {
	dirs := []string{h.PrimaryDataDirectory()}
	if h.appDir != "" {
		dirs = append(dirs, filepath.Join(ParentDir(h.appDir), "share", appName))
	}
	for _, d := range h.env.DataDirs {
		if d != "" {
			dirs = append(dirs, filepath.Join(d, appName))
		}
	}
	return dirs
}

func (h *Helper) gameDirs() []string {
	if h.gameDir != "" {
		return []string{h.gameDir}
	}
	dirs := h.dataDirs()
	for i, d := range dirs {
		dirs[i] = filepath.Join(d, "versions", "current")
	}
	return append(dirs, h.dataDirs()...)
}

func find(dirs []string, name string) (string, error) {
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.Wrapf(ErrNotFound, "%s (searched %s)", name, strings.Join(dirs, ", "))
}

// FindGameFile locates name inside the game directory.
func (h *Helper) FindGameFile(name string) (string, error) {
	return find(h.gameDirs(), name)
}

// FindDataFile locates name inside the data directories.
func (h *Helper) FindDataFile(name string) (string, error) {
	return find(h.dataDirs(), name)
}

// ParentDir strips the last element of dir.
func ParentDir(dir string) string {
	dir = strings.TrimRight(dir, "/")
	i := strings.LastIndexByte(dir, '/')
	if i <= 0 {
		return ""
	}
	return dir[:i]
}

// AbiDir is the Android ABI directory name of arch.
func AbiDir(arch emulator.Arch) string {
	switch arch {
	case emulator.ARCH_ARM:
		return "armeabi-v7a"
	case emulator.ARCH_ARM64:
		return "arm64-v8a"
	case emulator.ARCH_X86:
		return "x86"
	case emulator.ARCH_X86_64:
		return "x86_64"
	}
	return ""
}

// Abis lists the arches a game library is searched for, preferred first.
var Abis = []emulator.Arch{emulator.ARCH_ARM64, emulator.ARCH_ARM, emulator.ARCH_X86_64, emulator.ARCH_X86}

// FindGameLibrary locates lib/<abi>/name for the first ABI the game
// ships.
func (h *Helper) FindGameLibrary(name string) (string, emulator.Arch, error) {
	var last error
	for _, arch := range Abis {
		p, err := h.FindGameFile(filepath.Join("lib", AbiDir(arch), name))
		if err == nil {
			return p, arch, nil
		}
		last = err
	}
	return "", 0, last
}
