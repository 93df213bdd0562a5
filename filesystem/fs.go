// Package filesystem describes the file trees guest file access is
// served from.
package filesystem

import (
	"io/fs"
	"os"
)

// FileFlag is an open flag in host terms.
type FileFlag int

const (
	O_RDONLY = FileFlag(os.O_RDONLY)
	O_WRONLY = FileFlag(os.O_WRONLY)
	O_RDWR   = FileFlag(os.O_RDWR)
	O_APPEND = FileFlag(os.O_APPEND)
	O_CREATE = FileFlag(os.O_CREATE)
	O_EXCL   = FileFlag(os.O_EXCL)
	O_SYNC   = FileFlag(os.O_SYNC)
	O_TRUNC  = FileFlag(os.O_TRUNC)
)

// Writable reports whether f opens for writing.
func (f FileFlag) Writable() bool {
	return f&(O_WRONLY|O_RDWR) != 0
}

type FS interface {
	fs.FS
	OpenFile(name string, flag FileFlag, perm fs.FileMode) (File, error)
}

type DirFS interface {
	FS
	ReadDir(name string) ([]fs.DirEntry, error)
	Mkdir(name string, perm fs.FileMode) (DirFS, error)
}

// ReadlinkFS is a tree the guest can resolve symlinks in. Every file
// handler serves one.
type ReadlinkFS interface {
	DirFS
	Readlink(name string) (string, error)
}

// File is an open guest file. What else it can do is discovered with
// type assertions on ReadFile, WriteFile and DirFile.
type File interface {
	Close() error
	Stat() (fs.FileInfo, error)
}

type ReadFile interface {
	File
	Read(b []byte) (n int, err error)
}

type WriteFile interface {
	File
	Write(b []byte) (n int, err error)
}

type DirFile interface {
	File
	ReadDir(n int) ([]fs.DirEntry, error)
}

func Open(f FS, name string) (fs.File, error) {
	file, err := f.OpenFile(name, O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	if ff, ok := file.(fs.File); ok {
		return ff, nil
	}
	file.Close()
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
}
