package winapi

import "github.com/xyproto/pevm/internal/vmem"

// User32Stubs covers the handful of user32.dll entry points a headless
// guest actually calls for real (string formatting, message-box
// confirmation dialogs that never block because there's no user to
// click them) rather than purely cosmetic window management, spec.md
// §4.5. Everything else user32 exports falls back to the generic stub
// catalogue in catalogue.go.
func User32Stubs() []Stub {
	return []Stub{
		// MessageBoxA never blocks for input: it logs the text/caption
		// through the PE_VM_TRACE_UNSUPPORTED trace and reports IDOK, the same "nobody's there to
		// click it" contract spec.md §4.5 describes for GUI entry points.
		{Name: "MessageBoxA", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			text := strArg(h, mem, arg(mem, sp, 1), false)
			caption := strArg(h, mem, arg(mem, sp, 2), false)
			h.TraceUnsupportedf("MessageBoxA(%q, %q) -> IDOK", caption, text)
			return 1, nil // IDOK
		}},
		{Name: "MessageBoxW", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			text := strArg(h, mem, arg(mem, sp, 1), true)
			caption := strArg(h, mem, arg(mem, sp, 2), true)
			h.TraceUnsupportedf("MessageBoxW(%q, %q) -> IDOK", caption, text)
			return 1, nil
		}},
		{Name: "wsprintfA", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst := arg(mem, sp, 0)
			format, _ := mem.ReadCString(arg(mem, sp, 1))
			out := formatString(mem, format, sp+8)
			mem.WriteCString(dst, out)
			return uint32(len(out)), nil
		}},
		{Name: "wsprintfW", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			dst := arg(mem, sp, 0)
			format, _ := mem.ReadWideString(arg(mem, sp, 1))
			out := formatString(mem, format, sp+8)
			mem.WriteWideString(dst, out)
			return uint32(len(out)), nil
		}},
	}
}
