package debugger

import (
	"io/fs"

	"github.com/wnxd/mcpehost/filesystem"
)

// FileHandler serves part of the guest file system. A handler that does
// not hold a path answers fs.ErrNotExist so the next one is asked.
type FileHandler interface {
	OpenFile(name string, flag filesystem.FileFlag, perm fs.FileMode) (filesystem.File, error)
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Mkdir(name string, perm fs.FileMode) (filesystem.DirFS, error)
	Readlink(name string) (string, error)
}

// FileManager owns the guest file descriptor table and the handler
// chain paths are resolved through, first added first asked.
type FileManager interface {
	AddFileHandler(handler FileHandler)

	CreateFileDescriptor(file filesystem.File) int
	CloseFileDescriptor(fd int) (filesystem.File, error)
	GetFile(fd int) (filesystem.File, error)
	DupFile(fd int) (int, error)
	Dup2File(oldfd, newfd int) error

	OpenFile(name string, flag filesystem.FileFlag, perm fs.FileMode) (filesystem.File, error)
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Mkdir(name string, perm fs.FileMode) (filesystem.DirFS, error)
	Readlink(name string) (string, error)
}
