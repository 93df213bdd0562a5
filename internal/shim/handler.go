package shim

import (
	"io/fs"
	"strings"
	"syscall"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/filesystem"
)

// Handler serves guest file operations from fsys after passing each
// path through rewrite.
type Handler struct {
	fsys    filesystem.ReadlinkFS
	rewrite func(string) string
	// mount limits the handler to one subtree; names outside it are
	// left to the next handler.
	mount    string
	readOnly bool
}

var _ debugger.FileHandler = (*Handler)(nil)

// NewHandler redirects through t onto the host tree at root.
func NewHandler(t *Table, root filesystem.ReadlinkFS) *Handler {
	return &Handler{fsys: root, rewrite: t.Rewrite}
}

// NewFSHandler serves fsys as the guest root without rewriting.
func NewFSHandler(fsys filesystem.ReadlinkFS) *Handler {
	return &Handler{fsys: fsys}
}

// NewProcHandler serves /proc entries from fsys. It holds nothing outside
// /proc and its entries cannot be written or created.
func NewProcHandler(fsys filesystem.ReadlinkFS) *Handler {
	return &Handler{fsys: fsys, mount: "/proc", readOnly: true}
}

func (h *Handler) owns(name string) bool {
	if h.mount == "" {
		return true
	}
	name = clean(name)
	return name == h.mount || strings.HasPrefix(name, h.mount+"/")
}

// refuse answers a write to name: EROFS when the entry exists here,
// otherwise the next handler is asked.
func (h *Handler) refuse(op, name string) error {
	if _, err := fs.Stat(h.fsys, name); err != nil {
		return fs.ErrNotExist
	}
	return &fs.PathError{Op: op, Path: "/" + name, Err: syscall.EROFS}
}

func (h *Handler) resolve(name string) string {
	if h.rewrite != nil {
		name = h.rewrite(name)
	}
	return strings.TrimPrefix(clean(name), "/")
}

func (h *Handler) OpenFile(name string, flag filesystem.FileFlag, perm fs.FileMode) (filesystem.File, error) {
	if !h.owns(name) {
		return nil, fs.ErrNotExist
	}
	name = h.resolve(name)
	if h.readOnly && (flag.Writable() || flag&(filesystem.O_CREATE|filesystem.O_TRUNC|filesystem.O_APPEND) != 0) {
		return nil, h.refuse("open", name)
	}
	return h.fsys.OpenFile(name, flag, perm)
}

func (h *Handler) Stat(name string) (fs.FileInfo, error) {
	if !h.owns(name) {
		return nil, fs.ErrNotExist
	}
	return fs.Stat(h.fsys, h.resolve(name))
}

func (h *Handler) ReadDir(name string) ([]fs.DirEntry, error) {
	if !h.owns(name) {
		return nil, fs.ErrNotExist
	}
	return h.fsys.ReadDir(h.resolve(name))
}

func (h *Handler) Mkdir(name string, perm fs.FileMode) (filesystem.DirFS, error) {
	if !h.owns(name) {
		return nil, fs.ErrNotExist
	}
	name = h.resolve(name)
	if h.readOnly {
		return nil, h.refuse("mkdir", name)
	}
	return h.fsys.Mkdir(name, perm)
}

func (h *Handler) Readlink(name string) (string, error) {
	if !h.owns(name) {
		return "", fs.ErrNotExist
	}
	return h.fsys.Readlink(h.resolve(name))
}
