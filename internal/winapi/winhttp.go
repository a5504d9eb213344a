package winapi

import "github.com/xyproto/pevm/internal/vmem"

// WinHTTPStubs is winhttp.dll's equivalent of wininet.go's subset:
// WinHttpOpen/Connect/OpenRequest/SendRequest/ReceiveResponse/ReadData/
// CloseHandle, spec.md §11. The response body is built as soon as
// WinHttpOpenRequest supplies the request path (WinHttp's API splits
// connect-to-host and open-request-on-path into two calls, unlike
// wininet's single InternetOpenUrlA) and stored at the returned handle
// the same cursor/length-prefixed way wininet.go does, so
// WinHttpSendRequest/WinHttpReceiveResponse are no-ops that just report
// success and WinHttpReadData drains the prepared body.
func WinHTTPStubs(host, path string, overrides map[string]string) []Stub {
	return []Stub{
		{Name: "WinHttpOpen", Args: 5, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0x00170000, nil
		}},
		{Name: "WinHttpConnect", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0x00180000, nil
		}},
		{Name: "WinHttpOpenRequest", Args: 7, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			reqPath := strArg(h, mem, arg(mem, sp, 2), true)
			if reqPath == "" {
				reqPath = path
			}
			body := buildResponseBody(host, path, overrides, "http://"+host+reqPath)
			return allocResponseHandle(h, mem, body), nil
		}},
		{Name: "WinHttpSendRequest", Args: 7, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 1, nil
		}},
		{Name: "WinHttpReceiveResponse", Args: 2, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 1, nil
		}},
		{Name: "WinHttpQueryDataAvailable", Args: 2, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			handle := arg(mem, sp, 0)
			sizeOut := arg(mem, sp, 1)
			cursor, _ := mem.ReadU32(handle)
			length, _ := mem.ReadU32(handle + 4)
			remaining := uint32(0)
			if length > cursor {
				remaining = length - cursor
			}
			if sizeOut != 0 {
				mem.WriteU32(sizeOut, remaining)
			}
			return 1, nil
		}},
		{Name: "WinHttpReadData", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			handle := arg(mem, sp, 0)
			bufPtr := arg(mem, sp, 1)
			bufSize := arg(mem, sp, 2)
			bytesReadOut := arg(mem, sp, 3)
			data := readResponseHandle(mem, handle, bufSize)
			if len(data) > 0 {
				mem.WriteBytes(bufPtr, data)
			}
			if bytesReadOut != 0 {
				mem.WriteU32(bytesReadOut, uint32(len(data)))
			}
			return 1, nil
		}},
		{Name: "WinHttpCloseHandle", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			h.HeapFree(arg(mem, sp, 0))
			return 1, nil
		}},
		{Name: "WinHttpSetOption", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 1, nil
		}},
	}
}
