package winapi

import (
	"github.com/xyproto/pevm/internal/vmem"
)

// Oleaut32Stubs covers BSTR allocation/lifetime and VARIANT
// initialization, the automation-layer plumbing guest code calls directly
// (as opposed to internal/com's Invoke path, which a host caller drives).
// BSTR layout matches internal/com/dispatch.go's allocBSTR: a 4-byte
// little-endian length prefix immediately before the returned pointer,
// followed by UTF-16 body and a trailing NUL.
func Oleaut32Stubs() []Stub {
	return []Stub{
		{Name: "SysAllocString", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			s := strArg(h, mem, arg(mem, sp, 0), true)
			return allocBSTRGuest(h, mem, s)
		}},
		{Name: "SysAllocStringLen", Args: 2, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			ptr := arg(mem, sp, 0)
			n := arg(mem, sp, 1)
			var s string
			if ptr != 0 {
				raw, _ := mem.ReadBytes(ptr, int(n)*2)
				units := make([]uint16, len(raw)/2)
				for i := range units {
					units[i] = uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
				}
				s = decodeUTF16Units(units)
			}
			return allocBSTRGuest(h, mem, s)
		}},
		{Name: "SysFreeString", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			ptr := arg(mem, sp, 0)
			if ptr != 0 {
				h.HeapFree(ptr - 4)
			}
			return 0, nil
		}},
		{Name: "SysStringLen", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			ptr := arg(mem, sp, 0)
			if ptr == 0 {
				return 0, nil
			}
			lenBytes, err := mem.ReadU32(ptr - 4)
			if err != nil {
				return 0, nil
			}
			return lenBytes / 2, nil
		}},
		{Name: "VariantInit", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			ptr := arg(mem, sp, 0)
			if ptr != 0 {
				mem.WriteBytes(ptr, make([]byte, 16))
			}
			return 0, nil
		}},
		{Name: "VariantClear", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			ptr := arg(mem, sp, 0)
			if ptr != 0 {
				mem.WriteBytes(ptr, make([]byte, 16))
			}
			return 0, nil // S_OK
		}},
	}
}

func allocBSTRGuest(h Host, mem *vmem.Memory, s string) (uint32, error) {
	units := encodeUTF16Units(s)
	body := make([]byte, len(units)*2+2)
	for i, u := range units {
		body[i*2] = byte(u)
		body[i*2+1] = byte(u >> 8)
	}
	lenPrefixed := make([]byte, 4+len(body))
	n := uint32(len(units) * 2)
	lenPrefixed[0] = byte(n)
	lenPrefixed[1] = byte(n >> 8)
	lenPrefixed[2] = byte(n >> 16)
	lenPrefixed[3] = byte(n >> 24)
	copy(lenPrefixed[4:], body)

	base := h.HeapAlloc(uint32(len(lenPrefixed)), 4)
	if base == 0 {
		return 0, nil
	}
	mem.WriteBytes(base, lenPrefixed)
	return base + 4, nil
}

func encodeUTF16Units(s string) []uint16 {
	var out []uint16
	for _, r := range s {
		if r <= 0xFFFF {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}

func decodeUTF16Units(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u <= 0xDBFF && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] <= 0xDFFF {
			r := (rune(u)-0xD800)<<10 | (rune(units[i+1]) - 0xDC00) + 0x10000
			runes = append(runes, r)
			i++
			continue
		}
		runes = append(runes, rune(u))
	}
	return string(runes)
}
