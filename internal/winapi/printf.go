package winapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xyproto/pevm/internal/vmem"
)

// formatString renders a cdecl printf-family format string against guest
// stack arguments starting at argStart, reading each consumed argument as
// one stdcall-width (4-byte) slot — the "practical subset" spec.md §4.5
// calls for rather than a fully general varargs ABI (no %lld/%ls 64-bit
// widening, no positional args).
func formatString(mem *vmem.Memory, format string, argStart uint32) string {
	var out strings.Builder
	argIdx := uint32(0)
	nextArg := func() uint32 {
		v, _ := mem.ReadU32(argStart + argIdx*4)
		argIdx++
		return v
	}

	i := 0
	for i < len(format) {
		ch := format[i]
		if ch != '%' {
			out.WriteByte(ch)
			i++
			continue
		}
		j := i + 1
		for j < len(format) && strings.ContainsRune("-+ 0123456789.lh", rune(format[j])) {
			j++
		}
		if j >= len(format) {
			out.WriteByte('%')
			break
		}
		verb := format[j]
		switch verb {
		case 'd', 'i':
			out.WriteString(strconv.FormatInt(int64(int32(nextArg())), 10))
		case 'u':
			out.WriteString(strconv.FormatUint(uint64(nextArg()), 10))
		case 'x':
			out.WriteString(strconv.FormatUint(uint64(nextArg()), 16))
		case 'X':
			out.WriteString(strings.ToUpper(strconv.FormatUint(uint64(nextArg()), 16)))
		case 'c':
			out.WriteByte(byte(nextArg()))
		case 'p':
			out.WriteString(fmt.Sprintf("0x%08X", nextArg()))
		case 's':
			ptr := nextArg()
			s, _ := mem.ReadCString(ptr)
			out.WriteString(s)
		case '%':
			out.WriteByte('%')
		default:
			out.WriteByte('%')
			out.WriteByte(verb)
		}
		i = j + 1
	}
	return out.String()
}

// PrintfFamily covers printf/sprintf/_snprintf-shaped ucrt/vcruntime
// entry points, spec.md §4.5. All are cdecl (caller cleans the stack),
// so Args is always 0 here regardless of how many varargs are consumed.
func PrintfFamily() []Stub {
	return []Stub{
		{Name: "printf", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			fmtPtr := arg(mem, sp, 0)
			format, _ := mem.ReadCString(fmtPtr)
			out := formatString(mem, format, sp+4)
			h.Stdout().Write([]byte(out))
			return uint32(len(out)), nil
		}},
		{Name: "puts", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			s, _ := mem.ReadCString(arg(mem, sp, 0))
			h.Stdout().Write([]byte(s + "\n"))
			return uint32(len(s) + 1), nil
		}},
		{Name: "sprintf", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst := arg(mem, sp, 0)
			format, _ := mem.ReadCString(arg(mem, sp, 1))
			out := formatString(mem, format, sp+8)
			mem.WriteCString(dst, out)
			return uint32(len(out)), nil
		}},
		{Name: "_snprintf", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst := arg(mem, sp, 0)
			size := arg(mem, sp, 1)
			format, _ := mem.ReadCString(arg(mem, sp, 2))
			out := formatString(mem, format, sp+12)
			if uint32(len(out)) >= size && size > 0 {
				out = out[:size-1]
			}
			mem.WriteCString(dst, out)
			return uint32(len(out)), nil
		}},
		{Name: "vsnprintf", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst := arg(mem, sp, 0)
			size := arg(mem, sp, 1)
			format, _ := mem.ReadCString(arg(mem, sp, 2))
			argList := arg(mem, sp, 3)
			out := formatString(mem, format, argList)
			if uint32(len(out)) >= size && size > 0 {
				out = out[:size-1]
			}
			mem.WriteCString(dst, out)
			return uint32(len(out)), nil
		}},
		{Name: "malloc", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return h.HeapAlloc(arg(mem, sp, 0), 8), nil
		}},
		{Name: "free", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			h.HeapFree(arg(mem, sp, 0))
			return 0, nil
		}},
		{Name: "realloc", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return h.HeapRealloc(arg(mem, sp, 0), arg(mem, sp, 1)), nil
		}},
		{Name: "memcpy", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst, src, n := arg(mem, sp, 0), arg(mem, sp, 1), arg(mem, sp, 2)
			data, _ := mem.ReadBytes(src, int(n))
			mem.WriteBytes(dst, data)
			return dst, nil
		}},
		{Name: "memset", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst, v, n := arg(mem, sp, 0), byte(arg(mem, sp, 1)), arg(mem, sp, 2)
			buf := make([]byte, n)
			for i := range buf {
				buf[i] = v
			}
			mem.WriteBytes(dst, buf)
			return dst, nil
		}},
		{Name: "strlen", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			s, _ := mem.ReadCString(arg(mem, sp, 0))
			return uint32(len(s)), nil
		}},
	}
}
