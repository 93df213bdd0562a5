// Package shim rewrites the storage paths a guest builds from Android
// conventions into the host data directory.
package shim

import (
	"path"
	"strconv"
	"strings"

	"github.com/apex/log"
)

// LegacyDataDir is where guests up to 1.16.210 keep their data.
const LegacyDataDir = "/data/data/com.mojang.minecraftpe"

// Source is the process identity the table derives guest paths from.
type Source struct {
	Pid    int
	AppDir string
	Argv0  string
}

// Table is an ordered prefix list with one destination. It is built
// once and never changes.
type Table struct {
	prefixes []string
	dest     string
}

// NewTable builds the redirect table in match order: the legacy package
// directory, the proc cmdline path newer guests derive from the app
// directory, the invoking program path, then /data/data as catch-all.
func NewTable(src Source, dest string) *Table {
	prefixes := []string{
		LegacyDataDir,
		"/data/data" + parentDir(src.AppDir) + "/proc/" + strconv.Itoa(src.Pid) + "/cmdline",
	}
	if src.Argv0 != "" {
		if strings.HasPrefix(src.Argv0, "/") {
			prefixes = append(prefixes, "/data/data"+src.Argv0)
		} else {
			prefixes = append(prefixes, "/data/data/"+src.Argv0)
		}
	}
	prefixes = append(prefixes, "/data/data")
	t := &Table{prefixes: prefixes, dest: dest}
	logger := log.WithField("component", "REDIRECT")
	for _, p := range prefixes {
		logger.Debugf("%s to %s", p, dest)
	}
	return t
}

// parentDir strips the last element, keeping a trailing separator off.
func parentDir(dir string) string {
	dir = strings.TrimSuffix(dir, "/")
	if i := strings.LastIndexByte(dir, '/'); i > 0 {
		return dir[:i]
	}
	return ""
}

func (t *Table) Prefixes() []string {
	return append([]string(nil), t.prefixes...)
}

func (t *Table) Destination() string {
	return t.dest
}

// Match returns the first prefix that name starts with.
func (t *Table) Match(name string) (string, bool) {
	for _, p := range t.prefixes {
		if strings.HasPrefix(name, p) {
			return p, true
		}
	}
	return "", false
}

// Rewrite maps name to destination+suffix, or returns it unchanged.
func (t *Table) Rewrite(name string) string {
	p, ok := t.Match(name)
	if !ok {
		return name
	}
	return t.dest + name[len(p):]
}

// clean normalises a guest path without resolving it against a cwd.
func clean(name string) string {
	if name == "" {
		return "/"
	}
	return path.Clean("/" + name)
}
