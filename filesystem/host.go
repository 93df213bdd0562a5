package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// hostFile serves exactly one host file, under the empty name.
type hostFile string

// hostDir serves the host tree below a directory. Errors carry the
// name the guest used, not the host path.
type hostDir string

// SysFileFS serves the host file at path.
func SysFileFS(path string) FS {
	return hostFile(path)
}

// SysDirFS serves the host tree rooted at dir.
func SysDirFS(dir string) ReadlinkFS {
	return hostDir(dir)
}

func guestErr(op, name string, err error) error {
	if pe, ok := err.(*fs.PathError); ok {
		return &fs.PathError{Op: op, Path: name, Err: pe.Err}
	}
	if le, ok := err.(*os.LinkError); ok {
		return &fs.PathError{Op: op, Path: name, Err: le.Err}
	}
	return err
}

func (f hostFile) Open(name string) (fs.File, error) {
	return Open(f, name)
}

func (f hostFile) Stat(name string) (fs.FileInfo, error) {
	if name != "" {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	info, err := os.Stat(string(f))
	return info, guestErr("stat", name, err)
}

func (f hostFile) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	if name != "" {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	file, err := os.OpenFile(string(f), int(flag), perm)
	if err != nil {
		return nil, guestErr("open", name, err)
	}
	return file, nil
}

func (d hostDir) path(name string) string {
	return filepath.Join(string(d), filepath.FromSlash(name))
}

func (d hostDir) Open(name string) (fs.File, error) {
	return Open(d, name)
}

func (d hostDir) Stat(name string) (fs.FileInfo, error) {
	info, err := os.Stat(d.path(name))
	return info, guestErr("stat", name, err)
}

// OpenFile opens name. Directories open as *os.File, which lists its
// entries for fdopendir.
func (d hostDir) OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error) {
	if flag.Writable() {
		if info, err := os.Stat(d.path(name)); err == nil && info.IsDir() {
			return nil, &fs.PathError{Op: "open", Path: name, Err: syscall.EISDIR}
		}
	}
	file, err := os.OpenFile(d.path(name), int(flag), perm)
	if err != nil {
		return nil, guestErr("open", name, err)
	}
	return file, nil
}

func (d hostDir) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(d.path(name))
	return entries, guestErr("readdir", name, err)
}

// Mkdir creates name along with any missing parents, so the game can
// create its data directory inside a fresh redirect target.
func (d hostDir) Mkdir(name string, perm fs.FileMode) (DirFS, error) {
	p := d.path(name)
	if err := os.MkdirAll(p, perm); err != nil {
		return nil, guestErr("mkdir", name, err)
	}
	return hostDir(p), nil
}

func (d hostDir) Readlink(name string) (string, error) {
	target, err := os.Readlink(d.path(name))
	return target, guestErr("readlink", name, err)
}
