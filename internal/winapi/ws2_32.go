package winapi

import "github.com/xyproto/pevm/internal/vmem"

// Ws2_32Stubs covers the small Winsock handshake subset spec.md §8
// scenario 2 exercises: a guest binds WSAStartup by ordinal #115 (the
// real ws2_32.dll export table's actual ordinal for that symbol, not a
// number this emulator invented), fills a caller-supplied WSADATA, and
// gets back version 2.2 negotiated both ways. Real socket I/O is out of
// scope — socket() returns INVALID_SOCKET rather than touching the host
// network stack, and connect()/send()/recv() are not emulated at all,
// matching spec.md §6's sandboxed-by-default posture.
func Ws2_32Stubs() []Stub {
	return []Stub{
		{Name: "WSAStartup", Ordinal: 115, Args: 2, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dataOut := arg(mem, sp, 1)
			if dataOut != 0 {
				writeWSAData(mem, dataOut)
			}
			return 0, nil // success
		}},
		{Name: "WSACleanup", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0, nil
		}},
		{Name: "WSAGetLastError", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0, nil
		}},
		{Name: "socket", Args: 3, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0xFFFFFFFF, nil // INVALID_SOCKET: no real network stack behind this emulator
		}},
		{Name: "closesocket", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0, nil
		}},
		{Name: "htons", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			v := arg(mem, sp, 0)
			return uint32(v<<8|v>>8) & 0xFFFF, nil
		}},
		{Name: "ntohs", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			v := arg(mem, sp, 0)
			return uint32(v<<8|v>>8) & 0xFFFF, nil
		}},
		{Name: "inet_addr", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0xFFFFFFFF, nil // INADDR_NONE
		}},
	}
}

// writeWSAData fills the LPWSADATA output structure WSAStartup's second
// argument points at: wVersion and wHighVersion (each a little-endian
// u16) both set to 0x0202 (Winsock 2.2), spec.md §8 scenario 2's "the
// first two u16 fields equal 0x0202, 0x0202". The remaining WSADATA
// fields (szDescription/szSystemStatus/iMaxSockets/iMaxUdpDg/lpVendorInfo)
// are zeroed — no guest this emulator targets inspects them.
func writeWSAData(mem *vmem.Memory, ptr uint32) {
	const wsaDataSize = 400 // real WSADATA is ~400 bytes on Win32 (two 256-byte string fields dominate it)
	buf := make([]byte, wsaDataSize)
	buf[0], buf[1] = 0x02, 0x02 // wVersion = 0x0202
	buf[2], buf[3] = 0x02, 0x02 // wHighVersion = 0x0202
	mem.WriteBytes(ptr, buf)
}
