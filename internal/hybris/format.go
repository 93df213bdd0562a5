package hybris

import (
	"fmt"
	"strings"

	"github.com/wnxd/mcpehost/emulator"
)

// Sprintf formats a C format string, pulling arguments from args and
// strings from guest memory.
func Sprintf(mem emulator.Emulator, format string, args ArgReader) string {
	wide := mem.Arch().PointerSize() == 8
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		start := i
		i++
		var spec strings.Builder
		spec.WriteByte('%')
		for ; i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0; i++ {
			spec.WriteByte(format[i])
		}
		for ; i < len(format) && (isDigit(format[i]) || format[i] == '.' || format[i] == '*'); i++ {
			if format[i] == '*' {
				fmt.Fprintf(&spec, "%d", int32(args.Word()))
				continue
			}
			spec.WriteByte(format[i])
		}
		var length string
		for ; i < len(format) && strings.IndexByte("hlLqjzt", format[i]) >= 0; i++ {
			length += string(format[i])
		}
		if i >= len(format) {
			sb.WriteString(format[start:])
			break
		}
		long := length == "ll" || length == "q" || length == "j" || (wide && (length == "l" || length == "z" || length == "t"))
		word := func() uint64 {
			if long {
				return args.Long()
			}
			return args.Word()
		}
		verb := format[i]
		switch verb {
		case 'd', 'i':
			v := word()
			var n int64
			switch {
			case long:
				n = int64(v)
			case length == "hh":
				n = int64(int8(v))
			case length == "h":
				n = int64(int16(v))
			default:
				n = int64(int32(v))
			}
			fmt.Fprintf(&sb, spec.String()+"d", n)
		case 'u', 'x', 'X', 'o':
			v := word()
			if !long {
				v = uint64(uint32(v))
			}
			if verb == 'u' {
				verb = 'd'
			}
			fmt.Fprintf(&sb, spec.String()+string(verb), v)
		case 'c':
			fmt.Fprintf(&sb, spec.String()+"c", rune(byte(args.Word())))
		case 's':
			addr := args.Word()
			s := "(null)"
			if addr != 0 {
				s, _ = emulator.ToPointer(mem, addr).MemReadString()
			}
			fmt.Fprintf(&sb, spec.String()+"s", s)
		case 'p':
			fmt.Fprintf(&sb, "0x%x", args.Word())
		case 'f', 'F', 'e', 'E', 'g', 'G':
			fmt.Fprintf(&sb, spec.String()+string(verb), args.Double())
		case 'a', 'A':
			fmt.Fprintf(&sb, spec.String()+"x", args.Double())
		case 'n':
			args.Word()
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteString(format[start : i+1])
		}
	}
	return sb.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
