package hybris

import (
	"bytes"
	"strconv"
	"strings"
	"syscall"

	"github.com/apex/log"
	"github.com/wnxd/mcpehost/debugger"
)

var libcLog = log.WithField("component", "libc")

// LibC returns the host implementation of libc.so. Thread identity is
// not part of it; the thread mover adds those entries.
func LibC(e *Env) *HookTable {
	t := NewHookTable()
	e.memoryFuncs(t)
	e.stringFuncs(t)
	e.fileFuncs(t)
	e.stdioFuncs(t)
	e.processFuncs(t)
	e.threadFuncs(t)
	for _, name := range libcStubNames {
		t.AddFunc(name, Stub("libc", name, "libc stub called"))
	}
	return t
}

func (e *Env) memoryFuncs(t *HookTable) {
	t.add("malloc", func(ctx debugger.Context) uint64 {
		return e.malloc(ctx.Arg(0))
	})
	t.add("calloc", func(ctx debugger.Context) uint64 {
		size := ctx.Arg(0) * ctx.Arg(1)
		addr := e.malloc(size)
		if addr != 0 {
			e.ptr(addr).MemWrite(make([]byte, size))
		}
		return addr
	})
	t.add("realloc", func(ctx debugger.Context) uint64 {
		old, size := ctx.Arg(0), ctx.Arg(1)
		if old == 0 {
			return e.malloc(size)
		}
		if size == 0 {
			e.Dbg.MemFree(old)
			return 0
		}
		oldSize := e.Dbg.MemSize(old)
		if size <= oldSize {
			return old
		}
		addr := e.malloc(size)
		if addr == 0 {
			return 0
		}
		if data, err := e.ptr(old).MemRead(oldSize); err == nil {
			e.ptr(addr).MemWrite(data)
		}
		e.Dbg.MemFree(old)
		return addr
	})
	t.add("free", func(ctx debugger.Context) uint64 {
		if addr := ctx.Arg(0); addr != 0 {
			e.Dbg.MemFree(addr)
		}
		return 0
	})
	t.add("memalign", func(ctx debugger.Context) uint64 {
		return e.malloc(max(ctx.Arg(1), ctx.Arg(0)))
	})
	t.add("aligned_alloc", func(ctx debugger.Context) uint64 {
		return e.malloc(max(ctx.Arg(1), ctx.Arg(0)))
	})
	t.add("posix_memalign", func(ctx debugger.Context) uint64 {
		addr := e.malloc(max(ctx.Arg(2), ctx.Arg(1)))
		if addr == 0 {
			return uint64(syscall.ENOMEM)
		}
		e.ptr(ctx.Arg(0)).MemWritePointer(addr)
		return 0
	})
	t.add("malloc_usable_size", func(ctx debugger.Context) uint64 {
		return e.Dbg.MemSize(ctx.Arg(0))
	})
	t.add("memcpy", e.memmove)
	t.add("memmove", e.memmove)
	t.add("__memcpy_chk", e.memmove)
	t.add("__memmove_chk", e.memmove)
	t.add("memset", e.memset)
	t.add("__memset_chk", e.memset)
	t.add("memcmp", func(ctx debugger.Context) uint64 {
		n := ctx.Arg(2)
		a, _ := e.ptr(ctx.Arg(0)).MemRead(n)
		b, _ := e.ptr(ctx.Arg(1)).MemRead(n)
		return uint64(int64(bytes.Compare(a, b)))
	})
	t.add("memchr", func(ctx debugger.Context) uint64 {
		addr, c, n := ctx.Arg(0), byte(ctx.Arg(1)), ctx.Arg(2)
		data, err := e.ptr(addr).MemRead(n)
		if err != nil {
			return 0
		}
		if i := bytes.IndexByte(data, c); i >= 0 {
			return addr + uint64(i)
		}
		return 0
	})
}

func (e *Env) malloc(size uint64) uint64 {
	addr, err := e.Dbg.MemAlloc(max(size, 1))
	if err != nil {
		libcLog.WithError(err).Errorf("malloc(%d) failed", size)
		e.setErrno(int(syscall.ENOMEM))
		return 0
	}
	return addr
}

func (e *Env) memmove(ctx debugger.Context) uint64 {
	dst, src, n := ctx.Arg(0), ctx.Arg(1), ctx.Arg(2)
	if n == 0 {
		return dst
	}
	data, err := e.ptr(src).MemRead(n)
	if err == nil {
		e.ptr(dst).MemWrite(data)
	}
	return dst
}

func (e *Env) memset(ctx debugger.Context) uint64 {
	dst, c, n := ctx.Arg(0), byte(ctx.Arg(1)), ctx.Arg(2)
	if n > 0 {
		e.ptr(dst).MemWrite(bytes.Repeat([]byte{c}, int(n)))
	}
	return dst
}

func (e *Env) str(addr uint64) string {
	if addr == 0 {
		return ""
	}
	s, _ := e.ptr(addr).MemReadString()
	return s
}

// newString copies s into a fresh heap block.
func (e *Env) newString(s string) uint64 {
	addr, err := e.Dbg.MemImportString(s)
	if err != nil {
		return 0
	}
	return addr
}

func (e *Env) stringFuncs(t *HookTable) {
	t.add("strlen", func(ctx debugger.Context) uint64 {
		return uint64(len(e.str(ctx.Arg(0))))
	})
	t.add("__strlen_chk", func(ctx debugger.Context) uint64 {
		return uint64(len(e.str(ctx.Arg(0))))
	})
	t.add("strnlen", func(ctx debugger.Context) uint64 {
		return min(uint64(len(e.str(ctx.Arg(0)))), ctx.Arg(1))
	})
	t.add("strcmp", func(ctx debugger.Context) uint64 {
		return uint64(int64(strings.Compare(e.str(ctx.Arg(0)), e.str(ctx.Arg(1)))))
	})
	t.add("strncmp", func(ctx debugger.Context) uint64 {
		n := int(ctx.Arg(2))
		return uint64(int64(strings.Compare(prefix(e.str(ctx.Arg(0)), n), prefix(e.str(ctx.Arg(1)), n))))
	})
	t.add("strcasecmp", func(ctx debugger.Context) uint64 {
		return uint64(int64(strings.Compare(strings.ToLower(e.str(ctx.Arg(0))), strings.ToLower(e.str(ctx.Arg(1))))))
	})
	t.add("strncasecmp", func(ctx debugger.Context) uint64 {
		n := int(ctx.Arg(2))
		a := strings.ToLower(prefix(e.str(ctx.Arg(0)), n))
		b := strings.ToLower(prefix(e.str(ctx.Arg(1)), n))
		return uint64(int64(strings.Compare(a, b)))
	})
	t.add("strcpy", func(ctx debugger.Context) uint64 {
		dst := ctx.Arg(0)
		e.ptr(dst).MemWriteString(e.str(ctx.Arg(1)))
		return dst
	})
	t.add("strncpy", func(ctx debugger.Context) uint64 {
		dst, n := ctx.Arg(0), int(ctx.Arg(2))
		buf := make([]byte, n)
		copy(buf, e.str(ctx.Arg(1)))
		e.ptr(dst).MemWrite(buf)
		return dst
	})
	t.add("strcat", func(ctx debugger.Context) uint64 {
		dst := ctx.Arg(0)
		cur := e.str(dst)
		e.ptr(dst + uint64(len(cur))).MemWriteString(e.str(ctx.Arg(1)))
		return dst
	})
	t.add("strncat", func(ctx debugger.Context) uint64 {
		dst := ctx.Arg(0)
		cur := e.str(dst)
		e.ptr(dst + uint64(len(cur))).MemWriteString(prefix(e.str(ctx.Arg(1)), int(ctx.Arg(2))))
		return dst
	})
	t.add("strchr", func(ctx debugger.Context) uint64 {
		addr, c := ctx.Arg(0), byte(ctx.Arg(1))
		s := e.str(addr)
		if c == 0 {
			return addr + uint64(len(s))
		}
		if i := strings.IndexByte(s, c); i >= 0 {
			return addr + uint64(i)
		}
		return 0
	})
	t.add("strrchr", func(ctx debugger.Context) uint64 {
		addr, c := ctx.Arg(0), byte(ctx.Arg(1))
		s := e.str(addr)
		if c == 0 {
			return addr + uint64(len(s))
		}
		if i := strings.LastIndexByte(s, c); i >= 0 {
			return addr + uint64(i)
		}
		return 0
	})
	t.add("strstr", func(ctx debugger.Context) uint64 {
		addr := ctx.Arg(0)
		if i := strings.Index(e.str(addr), e.str(ctx.Arg(1))); i >= 0 {
			return addr + uint64(i)
		}
		return 0
	})
	t.add("strdup", func(ctx debugger.Context) uint64 {
		return e.newString(e.str(ctx.Arg(0)))
	})
	t.add("strndup", func(ctx debugger.Context) uint64 {
		return e.newString(prefix(e.str(ctx.Arg(0)), int(ctx.Arg(1))))
	})
	t.add("strerror", func(ctx debugger.Context) uint64 {
		return e.newString(syscall.Errno(ctx.Arg(0)).Error())
	})
	t.add("strtol", e.strtol(true, 0))
	t.add("strtoll", e.strtol(true, 64))
	t.add("strtoul", e.strtol(false, 0))
	t.add("strtoull", e.strtol(false, 64))
	t.add("atoi", func(ctx debugger.Context) uint64 {
		n, _ := strconv.ParseInt(leadingNumber(e.str(ctx.Arg(0)), 10, true), 10, 32)
		return uint64(n)
	})
	t.add("atol", func(ctx debugger.Context) uint64 {
		n, _ := strconv.ParseInt(leadingNumber(e.str(ctx.Arg(0)), 10, true), 10, 64)
		return uint64(n)
	})
	t.add("strtod", func(ctx debugger.Context) uint64 {
		libcLog.Debug("strtod: floating point result unsupported")
		return 0
	})
	t.add("tolower", func(ctx debugger.Context) uint64 {
		return uint64(lower(byte(ctx.Arg(0))))
	})
	t.add("toupper", func(ctx debugger.Context) uint64 {
		c := byte(ctx.Arg(0))
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		return uint64(c)
	})
	t.add("isspace", func(ctx debugger.Context) uint64 {
		return bool2u(strings.IndexByte(" \t\n\v\f\r", byte(ctx.Arg(0))) >= 0)
	})
	t.add("isdigit", func(ctx debugger.Context) uint64 {
		return bool2u(isDigit(byte(ctx.Arg(0))))
	})
	t.add("isalpha", func(ctx debugger.Context) uint64 {
		c := lower(byte(ctx.Arg(0)))
		return bool2u(c >= 'a' && c <= 'z')
	})
}

// strtol parses like strtol(3). bits 0 means the guest word size.
func (e *Env) strtol(signed bool, bits int) cfunc {
	return func(ctx debugger.Context) uint64 {
		addr, end, base := ctx.Arg(0), ctx.Arg(1), int(int32(ctx.Arg(2)))
		s := e.str(addr)
		trimmed := strings.TrimLeft(s, " \t\n\v\f\r")
		skip := len(s) - len(trimmed)
		digits := trimmed
		neg := false
		if digits != "" && (digits[0] == '-' || digits[0] == '+') {
			neg = digits[0] == '-'
			digits = digits[1:]
			skip++
		}
		if (base == 0 || base == 16) && len(digits) > 1 && digits[0] == '0' && lower(digits[1]) == 'x' {
			digits = digits[2:]
			skip += 2
			base = 16
		} else if base == 0 && len(digits) > 1 && digits[0] == '0' {
			base = 8
		} else if base == 0 {
			base = 10
		}
		num := leadingNumber(digits, base, false)
		if end != 0 {
			consumed := uint64(0)
			if num != "" {
				consumed = uint64(skip + len(num))
			}
			e.ptr(end).MemWritePointer(addr + consumed)
		}
		if bits == 0 {
			bits = int(e.Arch().PointerSize() * 8)
		}
		v, _ := strconv.ParseUint(num, base, bits)
		if neg && signed {
			return uint64(-int64(v))
		}
		if neg {
			return -v
		}
		return v
	}
}

// leadingNumber returns the prefix of s made of digits valid in base.
func leadingNumber(s string, base int, sign bool) string {
	i := 0
	if sign {
		s = strings.TrimLeft(s, " \t\n")
		if s != "" && (s[0] == '-' || s[0] == '+') {
			i++
		}
	}
	for ; i < len(s); i++ {
		d := digitValue(s[i])
		if d < 0 || d >= base {
			break
		}
	}
	return s[:i]
}

func digitValue(c byte) int {
	switch {
	case isDigit(c):
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return -1
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func prefix(s string, n int) string {
	if n >= 0 && len(s) > n {
		return s[:n]
	}
	return s
}

func bool2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
