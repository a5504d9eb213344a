package winapi

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xyproto/pevm/internal/vmem"
)

// WinINetStubs and winhttp.go's WinHTTPStubs answer spec.md §11's network
// surface: rather than open a real socket (out of scope — this emulator
// is sandboxed by default, spec.md §6), a guest's InternetOpenUrlA call
// gets a synthesized response body. Config.WinINetHost/WinINetPath name
// the host/path a response is reported as coming from; FormOverrides maps
// a specific request path to a literal response body for tests that need
// to control exactly what a guest program reads back. Grounded on
// original_source's host network shim (a fixed canned-response table
// rather than a live HTTP client) described in spec.md §11 "WinINet /
// WinHTTP network stub".
//
// Every handle this file hands out is itself a heap pointer to an 8-byte
// header (u32 cursor, u32 bodyLength) immediately followed by the
// response body bytes, so InternetReadFile's sequential-read semantics
// need no separate host-side handle table.
const responseHeaderSize = 8

func buildResponseBody(host, defaultPath string, overrides map[string]string, requestURL string) []byte {
	reqPath := defaultPath
	if u, err := url.Parse(requestURL); err == nil && u.Path != "" {
		reqPath = u.Path
	}
	if body, ok := overrides[reqPath]; ok {
		return []byte(body)
	}
	return []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nsynthetic response from %s%s\n", host, reqPath))
}

func allocResponseHandle(h Host, mem *vmem.Memory, body []byte) uint32 {
	ptr := h.HeapAlloc(uint32(responseHeaderSize+len(body)), 4)
	header := make([]byte, responseHeaderSize)
	header[4] = byte(len(body))
	header[5] = byte(len(body) >> 8)
	header[6] = byte(len(body) >> 16)
	header[7] = byte(len(body) >> 24)
	mem.WriteBytes(ptr, header)
	mem.WriteBytes(ptr+responseHeaderSize, body)
	return ptr
}

func readResponseHandle(mem *vmem.Memory, handle uint32, maxBytes uint32) []byte {
	cursor, _ := mem.ReadU32(handle)
	length, _ := mem.ReadU32(handle + 4)
	if cursor >= length {
		return nil
	}
	remaining := length - cursor
	n := remaining
	if maxBytes < n {
		n = maxBytes
	}
	data, _ := mem.ReadBytes(handle+responseHeaderSize+cursor, int(n))
	mem.WriteU32(handle, cursor+n)
	return data
}

// WinINetStubs implements the practical wininet.dll subset spec.md §11
// names: InternetOpenA/InternetOpenUrlA/InternetReadFile/
// InternetCloseHandle.
func WinINetStubs(host, path string, overrides map[string]string) []Stub {
	return []Stub{
		{Name: "InternetOpenA", Args: 5, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0x00140000, nil // synthetic HINTERNET session handle
		}},
		{Name: "InternetOpenUrlA", Args: 6, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			reqURL := strArg(h, mem, arg(mem, sp, 1), false)
			body := buildResponseBody(host, path, overrides, reqURL)
			return allocResponseHandle(h, mem, body), nil
		}},
		{Name: "InternetConnectA", Args: 8, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0x00150000, nil
		}},
		{Name: "HttpOpenRequestA", Args: 8, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			reqPath := strArg(h, mem, arg(mem, sp, 2), false)
			body := buildResponseBody(host, path, overrides, "http://"+host+reqPath)
			return allocResponseHandle(h, mem, body), nil
		}},
		{Name: "HttpSendRequestA", Args: 5, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 1, nil // body was already prepared when the handle was allocated
		}},
		{Name: "InternetReadFile", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
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
		{Name: "InternetCloseHandle", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			// Freeing a handle that was never a heap allocation (the fixed
			// session/connect constants above) is a harmless no-op: Heap.Free
			// only deletes a bookkeeping entry if one exists for ptr.
			h.HeapFree(arg(mem, sp, 0))
			return 1, nil
		}},
		{Name: "InternetSetOptionA", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 1, nil
		}},
		{Name: "InternetCrackUrlA", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			u := strArg(h, mem, arg(mem, sp, 0), false)
			_ = strings.TrimSpace(u)
			return 1, nil // component breakdown is out of scope: guests target InternetOpenUrlA/HttpOpenRequestA directly
		}},
	}
}
