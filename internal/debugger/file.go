package debugger

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/filesystem"
)

type fileRef struct {
	file  filesystem.File
	count int64
}

type fileManager struct {
	handlerRW sync.RWMutex
	handlers  []debugger.FileHandler
	fd        int64
	fileRW    sync.RWMutex
	fileMap   map[int]filesystem.File
}

func (fm *fileManager) ctor() {
	fm.fd = 2
	fm.fileMap = map[int]filesystem.File{
		0: &fileRef{file: os.Stdin, count: 1},
		1: &fileRef{file: os.Stdout, count: 1},
		2: &fileRef{file: os.Stderr, count: 1},
	}
}

func (fm *fileManager) dtor() {
	fm.fileRW.Lock()
	for fd, file := range fm.fileMap {
		if fd > 2 {
			file.Close()
		}
	}
	fm.fileMap = nil
	fm.fileRW.Unlock()
	fm.handlerRW.Lock()
	fm.handlers = nil
	fm.handlerRW.Unlock()
}

func (fm *fileManager) AddFileHandler(handler debugger.FileHandler) {
	fm.handlerRW.Lock()
	fm.handlers = append(fm.handlers, handler)
	fm.handlerRW.Unlock()
}

func (fm *fileManager) CreateFileDescriptor(file filesystem.File) int {
	fd := int(atomic.AddInt64(&fm.fd, 1))
	fm.fileRW.Lock()
	fm.fileMap[fd] = &fileRef{file: file, count: 1}
	fm.fileRW.Unlock()
	return fd
}

func (fm *fileManager) CloseFileDescriptor(fd int) (filesystem.File, error) {
	fm.fileRW.Lock()
	defer fm.fileRW.Unlock()
	if file, ok := fm.fileMap[fd]; ok {
		delete(fm.fileMap, fd)
		return file, nil
	}
	return nil, fs.ErrNotExist
}

func (fm *fileManager) GetFile(fd int) (filesystem.File, error) {
	fm.fileRW.RLock()
	defer fm.fileRW.RUnlock()
	if file, ok := fm.fileMap[fd]; ok {
		return file, nil
	}
	return nil, fs.ErrNotExist
}

func (fm *fileManager) DupFile(fd int) (int, error) {
	fm.fileRW.Lock()
	defer fm.fileRW.Unlock()
	file, ok := fm.fileMap[fd]
	if !ok {
		return -1, fs.ErrNotExist
	}
	ref := file.(*fileRef)
	atomic.AddInt64(&ref.count, 1)
	newfd := int(atomic.AddInt64(&fm.fd, 1))
	fm.fileMap[newfd] = ref
	return newfd, nil
}

func (fm *fileManager) Dup2File(oldfd, newfd int) error {
	if oldfd == newfd {
		return nil
	}
	fm.fileRW.Lock()
	defer fm.fileRW.Unlock()
	file, ok := fm.fileMap[oldfd]
	if !ok {
		return fs.ErrNotExist
	}
	if old, ok := fm.fileMap[newfd]; ok {
		old.Close()
	}
	ref := file.(*fileRef)
	atomic.AddInt64(&ref.count, 1)
	fm.fileMap[newfd] = ref
	return nil
}

// each walks the handler chain. A handler answering anything but
// fs.ErrNotExist ends the walk.
func each[T any](fm *fileManager, name string, fn func(debugger.FileHandler, string) (T, error)) (T, error) {
	name = path.Join("/", name)
	fm.handlerRW.RLock()
	handlers := slices.Clone(fm.handlers)
	fm.handlerRW.RUnlock()
	var zero T
	for _, handler := range handlers {
		v, err := fn(handler, name)
		if err == nil {
			return v, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return zero, err
		}
	}
	return zero, fs.ErrNotExist
}

func (fm *fileManager) OpenFile(name string, flag filesystem.FileFlag, perm fs.FileMode) (filesystem.File, error) {
	return each(fm, name, func(h debugger.FileHandler, name string) (filesystem.File, error) {
		return h.OpenFile(name, flag, perm)
	})
}

func (fm *fileManager) Stat(name string) (fs.FileInfo, error) {
	return each(fm, name, debugger.FileHandler.Stat)
}

func (fm *fileManager) ReadDir(name string) ([]fs.DirEntry, error) {
	return each(fm, name, debugger.FileHandler.ReadDir)
}

func (fm *fileManager) Mkdir(name string, perm fs.FileMode) (filesystem.DirFS, error) {
	return each(fm, name, func(h debugger.FileHandler, name string) (filesystem.DirFS, error) {
		return h.Mkdir(name, perm)
	})
}

func (fm *fileManager) Readlink(name string) (string, error) {
	return each(fm, name, debugger.FileHandler.Readlink)
}

func (f *fileRef) Close() error {
	i := atomic.AddInt64(&f.count, -1)
	if i > 0 {
		return nil
	} else if i < 0 {
		return fs.ErrClosed
	}
	return f.file.Close()
}

func (f *fileRef) Stat() (fs.FileInfo, error) {
	return f.file.Stat()
}

func (f *fileRef) Read(b []byte) (int, error) {
	if r, ok := f.file.(filesystem.ReadFile); ok {
		return r.Read(b)
	}
	return 0, errors.ErrUnsupported
}

func (f *fileRef) Write(b []byte) (int, error) {
	if w, ok := f.file.(filesystem.WriteFile); ok {
		return w.Write(b)
	}
	return 0, errors.ErrUnsupported
}

func (f *fileRef) Seek(offset int64, whence int) (int64, error) {
	if s, ok := f.file.(io.Seeker); ok {
		return s.Seek(offset, whence)
	}
	return 0, errors.ErrUnsupported
}

func (f *fileRef) ReadDir(n int) ([]fs.DirEntry, error) {
	if dir, ok := f.file.(filesystem.DirFile); ok {
		return dir.ReadDir(n)
	}
	return nil, errors.ErrUnsupported
}

// Buffered reports unread bytes of pipe-like files, 0 for others.
func (f *fileRef) Buffered() int {
	if b, ok := f.file.(interface{ Buffered() int }); ok {
		return b.Buffered()
	}
	return 0
}
