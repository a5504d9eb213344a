package winapi

import "github.com/xyproto/pevm/internal/vmem"

// NtdllStubs covers the small slice of ntdll.dll guest code typically
// calls directly rather than through kernel32 forwarders: RtlMoveMemory/
// RtlZeroMemory/RtlFillMemory (raw memmove-shaped primitives) and
// NtCurrentTeb-style introspection is intentionally absent — guests
// access the TEB via the FS segment override in internal/x86, not a
// call, spec.md §4.2 "segment override prefixes (FS/GS observable)".
func NtdllStubs() []Stub {
	return []Stub{
		{Name: "RtlMoveMemory", Args: 3, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst, src, n := arg(mem, sp, 0), arg(mem, sp, 1), arg(mem, sp, 2)
			data, _ := mem.ReadBytes(src, int(n))
			mem.WriteBytes(dst, data)
			return 0, nil
		}},
		{Name: "RtlZeroMemory", Args: 2, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst, n := arg(mem, sp, 0), arg(mem, sp, 1)
			mem.WriteBytes(dst, make([]byte, n))
			return 0, nil
		}},
		{Name: "RtlFillMemory", Args: 3, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst, n, v := arg(mem, sp, 0), arg(mem, sp, 1), byte(arg(mem, sp, 2))
			buf := make([]byte, n)
			for i := range buf {
				buf[i] = v
			}
			mem.WriteBytes(dst, buf)
			return 0, nil
		}},
		{Name: "RtlCompareMemory", Args: 3, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			a, b, n := arg(mem, sp, 0), arg(mem, sp, 1), arg(mem, sp, 2)
			var i uint32
			for ; i < n; i++ {
				av, _ := mem.ReadU8(a + i)
				bv, _ := mem.ReadU8(b + i)
				if av != bv {
					break
				}
			}
			return i, nil
		}},
	}
}
