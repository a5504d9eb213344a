package hostcall

import "github.com/xyproto/pevm/internal/vmem"

// Convention is the calling convention a COM vtable slot (or any raw guest
// function pointer) uses to receive its implicit `this`, spec.md §9
// "thiscall vs stdcall detection".
type Convention int

const (
	// ConventionUnknown means the scan below found no recognizable pattern.
	ConventionUnknown Convention = iota
	ConventionStdcall
	ConventionThiscall
)

// DetectConvention scans up to 96 bytes at addr for the opcode patterns a
// compiler emits to fetch `this`: thiscall passes it in ECX, so the
// prologue typically starts by spilling ECX to a stack slot (89 4D xx /
// 89 0D xxxxxxxx / 8B xx forms reading ECX) or using [ecx+off] addressing
// (ModRM base=001) before the first stack-argument access. stdcall
// functions instead reference [esp+off] (or [ebp+off] after a standard
// push ebp/mov ebp,esp prologue) for their first argument with no ECX
// read. This is a heuristic, not a decoder: spec.md §9 explicitly allows a
// per-slot override table since the scan can't be perfect on obfuscated or
// hand-written stubs.
func DetectConvention(mem *vmem.Memory, addr uint32) Convention {
	const window = 96
	buf := make([]byte, 0, window)
	for i := uint32(0); i < window; i++ {
		b, err := mem.ReadU8(addr + i)
		if err != nil {
			break
		}
		buf = append(buf, b)
	}

	i := 0
	for i < len(buf)-1 {
		op := buf[i]
		switch {
		case op == 0x55 && i+2 < len(buf) && buf[i+1] == 0x8B && buf[i+2] == 0xEC:
			// push ebp; mov ebp, esp — standard prologue, keep scanning
			// the body for an ECX read before any ESP/EBP-relative access.
			i += 3
			continue
		case op == 0x8B && i+1 < len(buf):
			modrm := buf[i+1]
			mod := modrm >> 6
			rm := modrm & 7
			reg := (modrm >> 3) & 7
			if mod != 3 && rm == 1 && reg != 1 {
				// mov reg, [ecx+...] (rm field selects ECX as base)
				return ConventionThiscall
			}
			if mod == 3 && rm == 1 {
				// mov reg, ecx
				return ConventionThiscall
			}
			if mod == 1 && rm == 4 && i+2 < len(buf) && buf[i+2] == 0x24 {
				// mov reg, [esp+disp8] — stack argument read before any ECX use
				return ConventionStdcall
			}
			if mod == 1 && rm == 5 && i+2 < len(buf) && int8(buf[i+2]) >= 8 {
				// mov reg, [ebp+disp8] at or past the first argument slot
				return ConventionStdcall
			}
			i += 2
			continue
		case op == 0x89 && i+1 < len(buf):
			modrm := buf[i+1]
			reg := (modrm >> 3) & 7
			if reg == 1 {
				// mov [...], ecx — spilling the implicit this pointer
				return ConventionThiscall
			}
			i += 2
			continue
		case op == 0x51:
			// push ecx — common MSVC /Od "spill this to a local" idiom
			return ConventionThiscall
		default:
			i++
		}
	}
	return ConventionUnknown
}
