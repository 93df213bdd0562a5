package hybris

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"syscall"

	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/filesystem"
)

// bionic sizeof(FILE) per word size.
const (
	fileSize32 = 84
	fileSize64 = 152
)

type stream struct {
	fd  int
	eof bool
	err bool
}

func (e *Env) fileSize() uint64 {
	if e.Dbg.PointerSize() == 4 {
		return fileSize32
	}
	return fileSize64
}

// stdStreams maps __sF and the stdin/stdout/stderr variables.
func (e *Env) stdStreams(t *HookTable) {
	size := e.fileSize()
	base := e.malloc(size * 3)
	if base == 0 {
		return
	}
	e.mu.Lock()
	for i := range 3 {
		e.streams[base+uint64(i)*size] = &stream{fd: i}
	}
	e.mu.Unlock()
	t.Add("__sF", Addr(base))
	vars := e.malloc(e.Dbg.PointerSize() * 3)
	if vars == 0 {
		return
	}
	for i, name := range []string{"stdin", "stdout", "stderr"} {
		v := vars + uint64(i)*e.Dbg.PointerSize()
		e.ptr(v).MemWritePointer(base + uint64(i)*size)
		t.Add(name, Addr(v))
	}
}

func (e *Env) stream(addr uint64) (*stream, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[addr]
	return s, ok
}

func fopenFlags(mode string) (uint32, bool) {
	mode = strings.NewReplacer("b", "", "e", "", "x", "").Replace(mode)
	switch mode {
	case "r":
		return 0, true
	case "r+":
		return 2, true
	case "w":
		return 1 | linuxCreat | linuxTrunc, true
	case "w+":
		return 2 | linuxCreat | linuxTrunc, true
	case "a":
		return 1 | linuxCreat | linuxAppend, true
	case "a+":
		return 2 | linuxCreat | linuxAppend, true
	}
	return 0, false
}

func (e *Env) stdioFuncs(t *HookTable) {
	e.stdStreams(t)
	fopen := func(ctx debugger.Context) uint64 {
		name, mode := e.str(ctx.Arg(0)), e.str(ctx.Arg(1))
		flags, ok := fopenFlags(mode)
		if !ok {
			e.setErrno(int(syscall.EINVAL))
			return 0
		}
		file, err := e.Dbg.OpenFile(name, openFlags(flags), 0o644)
		if err != nil {
			libcLog.Debugf("fopen %s: %v", name, err)
			e.setErrno(int(errnoOf(err)))
			return 0
		}
		return e.newStream(e.Dbg.CreateFileDescriptor(file))
	}
	t.add("fopen", fopen)
	t.add("fopen64", fopen)
	t.add("fdopen", func(ctx debugger.Context) uint64 {
		fd := int(int32(ctx.Arg(0)))
		if _, err := e.Dbg.GetFile(fd); err != nil {
			e.setErrno(int(syscall.EBADF))
			return 0
		}
		return e.newStream(fd)
	})
	t.add("fclose", func(ctx debugger.Context) uint64 {
		addr := ctx.Arg(0)
		e.mu.Lock()
		s, ok := e.streams[addr]
		if ok && s.fd > 2 {
			delete(e.streams, addr)
		}
		e.mu.Unlock()
		if !ok {
			return e.fail(fs.ErrClosed)
		}
		if s.fd <= 2 {
			return 0
		}
		if file, err := e.Dbg.CloseFileDescriptor(s.fd); err == nil {
			file.Close()
		}
		e.Dbg.MemFree(addr)
		return 0
	})
	t.add("fileno", func(ctx debugger.Context) uint64 {
		s, ok := e.stream(ctx.Arg(0))
		if !ok {
			return e.fail(fs.ErrClosed)
		}
		return uint64(s.fd)
	})
	t.add("fread", func(ctx debugger.Context) uint64 {
		buf, size, n := ctx.Arg(0), ctx.Arg(1), ctx.Arg(2)
		s, ok := e.stream(ctx.Arg(3))
		if !ok || size == 0 {
			return 0
		}
		got, err := e.readFull(s, buf, size*n)
		if err != nil {
			s.err = true
		}
		return got / size
	})
	t.add("fwrite", func(ctx debugger.Context) uint64 {
		buf, size, n := ctx.Arg(0), ctx.Arg(1), ctx.Arg(2)
		s, ok := e.stream(ctx.Arg(3))
		if !ok || size == 0 {
			return 0
		}
		put, err := e.write(s.fd, buf, size*n)
		if err != nil {
			s.err = true
		}
		return put / size
	})
	t.add("fgets", func(ctx debugger.Context) uint64 {
		buf, n := ctx.Arg(0), int(int32(ctx.Arg(1)))
		s, ok := e.stream(ctx.Arg(2))
		if !ok || n <= 0 {
			return 0
		}
		line, err := e.readLine(s, n-1)
		if line == "" && err != nil {
			s.eof = true
			return 0
		}
		e.ptr(buf).MemWriteString(line)
		return buf
	})
	t.add("fputs", func(ctx debugger.Context) uint64 {
		return e.fputs(ctx.Arg(1), e.str(ctx.Arg(0)))
	})
	t.add("fputc", func(ctx debugger.Context) uint64 {
		e.fputs(ctx.Arg(1), string(rune(byte(ctx.Arg(0)))))
		return uint64(byte(ctx.Arg(0)))
	})
	t.add("putc", func(ctx debugger.Context) uint64 {
		e.fputs(ctx.Arg(1), string(rune(byte(ctx.Arg(0)))))
		return uint64(byte(ctx.Arg(0)))
	})
	t.add("fflush", zero)
	t.add("fseek", func(ctx debugger.Context) uint64 {
		s, ok := e.stream(ctx.Arg(0))
		if !ok {
			return e.fail(fs.ErrClosed)
		}
		if _, err := e.seek(s.fd, e.signed(ctx.Arg(1)), int(ctx.Arg(2))); err != nil {
			return e.fail(err)
		}
		s.eof = false
		return 0
	})
	t.add("ftell", func(ctx debugger.Context) uint64 {
		s, ok := e.stream(ctx.Arg(0))
		if !ok {
			return e.fail(fs.ErrClosed)
		}
		pos, err := e.seek(s.fd, 0, io.SeekCurrent)
		if err != nil {
			return e.fail(err)
		}
		return uint64(pos)
	})
	t.add("rewind", func(ctx debugger.Context) uint64 {
		if s, ok := e.stream(ctx.Arg(0)); ok {
			e.seek(s.fd, 0, io.SeekStart)
			s.eof, s.err = false, false
		}
		return 0
	})
	t.add("feof", func(ctx debugger.Context) uint64 {
		s, ok := e.stream(ctx.Arg(0))
		return bool2u(ok && s.eof)
	})
	t.add("ferror", func(ctx debugger.Context) uint64 {
		s, ok := e.stream(ctx.Arg(0))
		return bool2u(ok && s.err)
	})
	t.add("puts", func(ctx debugger.Context) uint64 {
		os.Stdout.WriteString(e.str(ctx.Arg(0)) + "\n")
		return 1
	})
	t.add("putchar", func(ctx debugger.Context) uint64 {
		os.Stdout.Write([]byte{byte(ctx.Arg(0))})
		return uint64(byte(ctx.Arg(0)))
	})
	t.add("printf", func(ctx debugger.Context) uint64 {
		s := Sprintf(e.Dbg.Emulator(), e.str(ctx.Arg(0)), Variadic(ctx, 1))
		os.Stdout.WriteString(s)
		return uint64(len(s))
	})
	t.add("vprintf", func(ctx debugger.Context) uint64 {
		s := Sprintf(e.Dbg.Emulator(), e.str(ctx.Arg(0)), VaList(e.Dbg, ctx.Arg(1)))
		os.Stdout.WriteString(s)
		return uint64(len(s))
	})
	t.add("fprintf", func(ctx debugger.Context) uint64 {
		return e.fputs(ctx.Arg(0), Sprintf(e.Dbg.Emulator(), e.str(ctx.Arg(1)), Variadic(ctx, 2)))
	})
	t.add("vfprintf", func(ctx debugger.Context) uint64 {
		return e.fputs(ctx.Arg(0), Sprintf(e.Dbg.Emulator(), e.str(ctx.Arg(1)), VaList(e.Dbg, ctx.Arg(2))))
	})
	t.add("sprintf", func(ctx debugger.Context) uint64 {
		return e.sprint(ctx.Arg(0), ^uint64(0), e.str(ctx.Arg(1)), Variadic(ctx, 2))
	})
	t.add("vsprintf", func(ctx debugger.Context) uint64 {
		return e.sprint(ctx.Arg(0), ^uint64(0), e.str(ctx.Arg(1)), VaList(e.Dbg, ctx.Arg(2)))
	})
	t.add("snprintf", func(ctx debugger.Context) uint64 {
		return e.sprint(ctx.Arg(0), ctx.Arg(1), e.str(ctx.Arg(2)), Variadic(ctx, 3))
	})
	t.add("vsnprintf", func(ctx debugger.Context) uint64 {
		return e.sprint(ctx.Arg(0), ctx.Arg(1), e.str(ctx.Arg(2)), VaList(e.Dbg, ctx.Arg(3)))
	})
	t.add("__sprintf_chk", func(ctx debugger.Context) uint64 {
		return e.sprint(ctx.Arg(0), ctx.Arg(2), e.str(ctx.Arg(3)), Variadic(ctx, 4))
	})
	t.add("__vsprintf_chk", func(ctx debugger.Context) uint64 {
		return e.sprint(ctx.Arg(0), ctx.Arg(2), e.str(ctx.Arg(3)), VaList(e.Dbg, ctx.Arg(4)))
	})
	t.add("__snprintf_chk", func(ctx debugger.Context) uint64 {
		return e.sprint(ctx.Arg(0), ctx.Arg(1), e.str(ctx.Arg(4)), Variadic(ctx, 5))
	})
	t.add("__vsnprintf_chk", func(ctx debugger.Context) uint64 {
		return e.sprint(ctx.Arg(0), ctx.Arg(1), e.str(ctx.Arg(4)), VaList(e.Dbg, ctx.Arg(5)))
	})
}

func zero(debugger.Context) uint64 { return 0 }

func (e *Env) newStream(fd int) uint64 {
	addr := e.malloc(e.fileSize())
	if addr == 0 {
		return 0
	}
	e.mu.Lock()
	e.streams[addr] = &stream{fd: fd}
	e.mu.Unlock()
	return addr
}

func (e *Env) fputs(addr uint64, s string) uint64 {
	st, ok := e.stream(addr)
	if !ok {
		return e.fail(fs.ErrClosed)
	}
	file, err := e.Dbg.GetFile(st.fd)
	if err != nil {
		return e.fail(fs.ErrClosed)
	}
	w, ok := file.(filesystem.WriteFile)
	if !ok {
		return e.fail(errors.ErrUnsupported)
	}
	n, err := io.WriteString(w, s)
	if err != nil {
		st.err = true
		return e.fail(err)
	}
	return uint64(n)
}

// sprint writes the formatted result truncated to size bytes including
// the terminator and returns the untruncated length.
func (e *Env) sprint(buf, size uint64, format string, args ArgReader) uint64 {
	s := Sprintf(e.Dbg.Emulator(), format, args)
	if size > 0 && buf != 0 {
		out := prefix(s, int(min(size-1, uint64(len(s)))))
		e.ptr(buf).MemWriteString(out)
	}
	return uint64(len(s))
}

func (e *Env) readFull(s *stream, buf, n uint64) (uint64, error) {
	var got uint64
	for got < n {
		m, err := e.read(s.fd, buf+got, n-got)
		got += m
		if err != nil {
			return got, err
		}
		if m == 0 {
			s.eof = true
			break
		}
	}
	return got, nil
}

// readLine reads up to limit bytes, stopping after a newline.
func (e *Env) readLine(s *stream, limit int) (string, error) {
	file, err := e.Dbg.GetFile(s.fd)
	if err != nil {
		return "", err
	}
	r, ok := file.(filesystem.ReadFile)
	if !ok {
		return "", errors.ErrUnsupported
	}
	var sb strings.Builder
	c := make([]byte, 1)
	for sb.Len() < limit {
		n, err := r.Read(c)
		if n == 0 || err != nil {
			if err == nil {
				err = io.EOF
			}
			return sb.String(), err
		}
		sb.WriteByte(c[0])
		if c[0] == '\n' {
			break
		}
	}
	return sb.String(), nil
}
