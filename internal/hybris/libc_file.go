package hybris

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"syscall"
	"time"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/emulator"
	"github.com/wnxd/mcpehost/filesystem"
)

// Linux open(2) flags as the guest passes them.
const (
	linuxAccMode = 0x3
	linuxCreat   = 0x40
	linuxExcl    = 0x80
	linuxTrunc   = 0x200
	linuxAppend  = 0x400
)

const (
	sIFMT  = 0o170000
	sIFDIR = 0o040000
	sIFREG = 0o100000
	sIFLNK = 0o120000
	sIFCHR = 0o020000
)

const (
	dtUnknown = 0
	dtDir     = 4
	dtReg     = 8
	dtLnk     = 10
)

func openFlags(guest uint32) filesystem.FileFlag {
	var flag filesystem.FileFlag
	switch guest & linuxAccMode {
	case 1:
		flag = filesystem.O_WRONLY
	case 2:
		flag = filesystem.O_RDWR
	default:
		flag = filesystem.O_RDONLY
	}
	if guest&linuxCreat != 0 {
		flag |= filesystem.O_CREATE
	}
	if guest&linuxExcl != 0 {
		flag |= filesystem.O_EXCL
	}
	if guest&linuxTrunc != 0 {
		flag |= filesystem.O_TRUNC
	}
	if guest&linuxAppend != 0 {
		flag |= filesystem.O_APPEND
	}
	return flag
}

// errnoOf maps a host error onto the errno the guest expects.
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, fs.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, fs.ErrClosed):
		return syscall.EBADF
	case errors.Is(err, errors.ErrUnsupported):
		return syscall.ENOSYS
	}
	return syscall.EIO
}

// fail sets errno from err and returns -1.
func (e *Env) fail(err error) uint64 {
	e.setErrno(int(errnoOf(err)))
	return e.minusOne()
}

type timespec struct {
	Sec  int
	Nsec int
}

func toTimespec(t time.Time) timespec {
	return timespec{Sec: int(t.Unix()), Nsec: t.Nanosecond()}
}

type statArm64 struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	_       uint64
	Size    int64
	Blksize int32
	_       int32
	Blocks  int64
	Atim    timespec
	Mtim    timespec
	Ctim    timespec
	_       [2]uint32
}

type statX86_64 struct {
	Dev     uint64
	Ino     uint64
	Nlink   uint64
	Mode    uint32
	Uid     uint32
	Gid     uint32
	_       uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atim    timespec
	Mtim    timespec
	Ctim    timespec
	_       [3]int64
}

// stat32 is struct stat64 as bionic lays it out on arm and x86.
type stat32 struct {
	Dev     uint64
	_       [4]byte
	Ino32   uint32
	Mode    uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	_       [4]byte
	Size    int64
	Blksize uint32
	Blocks  uint64
	Atim    timespec
	Mtim    timespec
	Ctim    timespec
	Ino     uint64
}

func modeOf(info fs.FileInfo) uint32 {
	mode := uint32(info.Mode().Perm())
	switch {
	case info.IsDir():
		mode |= sIFDIR
	case info.Mode()&fs.ModeSymlink != 0:
		mode |= sIFLNK
	case info.Mode()&fs.ModeCharDevice != 0:
		mode |= sIFCHR
	default:
		mode |= sIFREG
	}
	return mode
}

func (e *Env) writeStat(addr uint64, info fs.FileInfo) error {
	mode, size, mtime := modeOf(info), info.Size(), toTimespec(info.ModTime())
	blocks := (size + 511) / 512
	var v any
	switch e.Arch() {
	case emulator.ARCH_ARM64:
		v = &statArm64{Mode: mode, Nlink: 1, Size: size, Blksize: 4096, Blocks: blocks, Atim: mtime, Mtim: mtime, Ctim: mtime}
	case emulator.ARCH_X86_64:
		v = &statX86_64{Mode: mode, Nlink: 1, Size: size, Blksize: 4096, Blocks: blocks, Atim: mtime, Mtim: mtime, Ctim: mtime}
	default:
		v = &stat32{Mode: mode, Nlink: 1, Size: size, Blksize: 4096, Blocks: uint64(blocks), Atim: mtime, Mtim: mtime, Ctim: mtime}
	}
	return e.Layout.Write(e.ptr(addr), v)
}

// dirent is the bionic struct dirent, identical on every arch.
type dirent struct {
	Ino    uint64
	Off    int64
	Reclen uint16
	Type   uint8
	Name   [256]byte
}

type dirStream struct {
	fd      int
	entries []fs.DirEntry
	pos     int
	buf     uint64
}

func (e *Env) fileFuncs(t *HookTable) {
	open := func(ctx debugger.Context) uint64 {
		name := e.str(ctx.Arg(0))
		file, err := e.Dbg.OpenFile(name, openFlags(uint32(ctx.Arg(1))), fs.FileMode(ctx.Arg(2)&0o777))
		if err != nil {
			libcLog.Debugf("open %s: %v", name, err)
			return e.fail(err)
		}
		return uint64(e.Dbg.CreateFileDescriptor(file))
	}
	t.add("open", open)
	t.add("open64", open)
	t.add("__open_2", open)
	t.add("close", func(ctx debugger.Context) uint64 {
		file, err := e.Dbg.CloseFileDescriptor(int(int32(ctx.Arg(0))))
		if err != nil {
			return e.fail(fs.ErrClosed)
		}
		file.Close()
		return 0
	})
	t.add("read", func(ctx debugger.Context) uint64 {
		n, err := e.read(int(int32(ctx.Arg(0))), ctx.Arg(1), ctx.Arg(2))
		if err != nil {
			return e.fail(err)
		}
		return n
	})
	t.add("__read_chk", func(ctx debugger.Context) uint64 {
		n, err := e.read(int(int32(ctx.Arg(0))), ctx.Arg(1), ctx.Arg(2))
		if err != nil {
			return e.fail(err)
		}
		return n
	})
	t.add("write", func(ctx debugger.Context) uint64 {
		n, err := e.write(int(int32(ctx.Arg(0))), ctx.Arg(1), ctx.Arg(2))
		if err != nil {
			return e.fail(err)
		}
		return n
	})
	pipe := func(ctx debugger.Context) uint64 {
		r, w := filesystem.Pipe()
		fds := [2]int{e.Dbg.CreateFileDescriptor(r), e.Dbg.CreateFileDescriptor(w)}
		p := e.ptr(ctx.Arg(0))
		if err := p.MemWriteUint32(uint32(fds[0])); err != nil {
			return e.fail(syscall.EFAULT)
		}
		p.Add(4).MemWriteUint32(uint32(fds[1]))
		return 0
	}
	t.add("pipe", pipe)
	t.add("pipe2", pipe)
	t.add("lseek", func(ctx debugger.Context) uint64 {
		off, err := e.seek(int(int32(ctx.Arg(0))), e.signed(ctx.Arg(1)), int(ctx.Arg(2)))
		if err != nil {
			return e.fail(err)
		}
		return uint64(off)
	})
	t.AddFunc("lseek64", func(ctx debugger.Context, _ any) {
		args := Variadic(ctx, 1)
		fd, off, whence := int32(ctx.Arg(0)), int64(args.Long()), int32(args.Word())
		pos, err := e.seek(int(fd), off, int(whence))
		if err != nil {
			RetLong(ctx, ^uint64(0))
			e.setErrno(int(errnoOf(err)))
			return
		}
		RetLong(ctx, uint64(pos))
	})
	stat := func(ctx debugger.Context) uint64 {
		info, err := e.Dbg.Stat(e.str(ctx.Arg(0)))
		if err != nil {
			return e.fail(err)
		}
		if err = e.writeStat(ctx.Arg(1), info); err != nil {
			return e.fail(err)
		}
		return 0
	}
	t.add("stat", stat)
	t.add("stat64", stat)
	t.add("lstat", stat)
	t.add("lstat64", stat)
	fstat := func(ctx debugger.Context) uint64 {
		file, err := e.Dbg.GetFile(int(int32(ctx.Arg(0))))
		if err != nil {
			return e.fail(fs.ErrClosed)
		}
		info, err := file.Stat()
		if err != nil {
			return e.fail(err)
		}
		if err = e.writeStat(ctx.Arg(1), info); err != nil {
			return e.fail(err)
		}
		return 0
	}
	t.add("fstat", fstat)
	t.add("fstat64", fstat)
	t.add("access", func(ctx debugger.Context) uint64 {
		if _, err := e.Dbg.Stat(e.str(ctx.Arg(0))); err != nil {
			return e.fail(err)
		}
		return 0
	})
	t.add("mkdir", func(ctx debugger.Context) uint64 {
		name := e.str(ctx.Arg(0))
		if _, err := e.Dbg.Stat(name); err == nil {
			return e.fail(fs.ErrExist)
		}
		if _, err := e.Dbg.Mkdir(name, fs.FileMode(ctx.Arg(1)&0o777)); err != nil {
			return e.fail(err)
		}
		return 0
	})
	t.add("readlink", func(ctx debugger.Context) uint64 {
		target, err := e.Dbg.Readlink(e.str(ctx.Arg(0)))
		if err != nil {
			return e.fail(err)
		}
		n := min(uint64(len(target)), ctx.Arg(2))
		e.ptr(ctx.Arg(1)).MemWrite([]byte(target[:n]))
		return n
	})
	t.add("getcwd", func(ctx debugger.Context) uint64 {
		buf, size := ctx.Arg(0), ctx.Arg(1)
		const cwd = "/"
		if buf == 0 {
			return e.newString(cwd)
		}
		if size < uint64(len(cwd)+1) {
			e.setErrno(int(syscall.ERANGE))
			return 0
		}
		e.ptr(buf).MemWriteString(cwd)
		return buf
	})
	t.add("dup", func(ctx debugger.Context) uint64 {
		fd, err := e.Dbg.DupFile(int(int32(ctx.Arg(0))))
		if err != nil {
			return e.fail(fs.ErrClosed)
		}
		return uint64(fd)
	})
	t.add("dup2", func(ctx debugger.Context) uint64 {
		if err := e.Dbg.Dup2File(int(int32(ctx.Arg(0))), int(int32(ctx.Arg(1)))); err != nil {
			return e.fail(fs.ErrClosed)
		}
		return ctx.Arg(1)
	})
	t.add("opendir", func(ctx debugger.Context) uint64 {
		name := e.str(ctx.Arg(0))
		entries, err := e.Dbg.ReadDir(name)
		if err != nil {
			e.setErrno(int(errnoOf(err)))
			return 0
		}
		return e.openDir(-1, entries)
	})
	t.add("fdopendir", func(ctx debugger.Context) uint64 {
		fd := int(int32(ctx.Arg(0)))
		file, err := e.Dbg.GetFile(fd)
		if err != nil {
			e.setErrno(int(syscall.EBADF))
			return 0
		}
		dir, ok := file.(filesystem.DirFile)
		if !ok {
			e.setErrno(int(syscall.ENOTDIR))
			return 0
		}
		entries, err := dir.ReadDir(-1)
		if err != nil {
			e.setErrno(int(errnoOf(err)))
			return 0
		}
		return e.openDir(fd, entries)
	})
	t.add("readdir", func(ctx debugger.Context) uint64 {
		return e.readDir(ctx.Arg(0))
	})
	t.add("readdir64", func(ctx debugger.Context) uint64 {
		return e.readDir(ctx.Arg(0))
	})
	t.add("closedir", func(ctx debugger.Context) uint64 {
		addr := ctx.Arg(0)
		e.mu.Lock()
		d, ok := e.dirs[addr]
		delete(e.dirs, addr)
		e.mu.Unlock()
		if !ok {
			return e.fail(fs.ErrClosed)
		}
		if d.fd >= 0 {
			if file, err := e.Dbg.CloseFileDescriptor(d.fd); err == nil {
				file.Close()
			}
		}
		e.Dbg.MemFree(d.buf)
		e.Dbg.MemFree(addr)
		return 0
	})
}

func (e *Env) read(fd int, buf, n uint64) (uint64, error) {
	file, err := e.Dbg.GetFile(fd)
	if err != nil {
		return 0, fs.ErrClosed
	}
	r, ok := file.(filesystem.ReadFile)
	if !ok {
		return 0, errors.ErrUnsupported
	}
	data := make([]byte, n)
	m, err := r.Read(data)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if m > 0 {
		if err = e.ptr(buf).MemWrite(data[:m]); err != nil {
			return 0, syscall.EFAULT
		}
	}
	return uint64(m), nil
}

func (e *Env) write(fd int, buf, n uint64) (uint64, error) {
	file, err := e.Dbg.GetFile(fd)
	if err != nil {
		return 0, fs.ErrClosed
	}
	w, ok := file.(filesystem.WriteFile)
	if !ok {
		return 0, errors.ErrUnsupported
	}
	data, err := e.ptr(buf).MemRead(n)
	if err != nil {
		return 0, syscall.EFAULT
	}
	m, err := w.Write(data)
	return uint64(m), err
}

func (e *Env) seek(fd int, off int64, whence int) (int64, error) {
	file, err := e.Dbg.GetFile(fd)
	if err != nil {
		return 0, fs.ErrClosed
	}
	s, ok := file.(io.Seeker)
	if !ok {
		return 0, syscall.ESPIPE
	}
	return s.Seek(off, whence)
}

func (e *Env) openDir(fd int, entries []fs.DirEntry) uint64 {
	addr := e.malloc(uint64(e.Dbg.PointerSize()))
	if addr == 0 {
		return 0
	}
	size, _ := e.Layout.Size(&dirent{})
	buf := e.malloc(uint64(size))
	if buf == 0 {
		e.Dbg.MemFree(addr)
		return 0
	}
	e.mu.Lock()
	e.dirs[addr] = &dirStream{fd: fd, entries: entries, buf: buf}
	e.mu.Unlock()
	return addr
}

func (e *Env) readDir(addr uint64) uint64 {
	e.mu.Lock()
	d, ok := e.dirs[addr]
	if !ok || d.pos >= len(d.entries) {
		e.mu.Unlock()
		if !ok {
			e.setErrno(int(syscall.EBADF))
		}
		return 0
	}
	entry := d.entries[d.pos]
	d.pos++
	pos := d.pos
	e.mu.Unlock()
	ent := dirent{Ino: uint64(pos), Off: int64(pos), Type: dtReg}
	size, _ := e.Layout.Size(&ent)
	ent.Reclen = uint16(size)
	switch {
	case entry.IsDir():
		ent.Type = dtDir
	case entry.Type()&fs.ModeSymlink != 0:
		ent.Type = dtLnk
	case !entry.Type().IsRegular():
		ent.Type = dtUnknown
	}
	copy(ent.Name[:len(ent.Name)-1], path.Base(entry.Name()))
	if err := e.Layout.Write(e.ptr(d.buf), &ent); err != nil {
		return 0
	}
	return d.buf
}
