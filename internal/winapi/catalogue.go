package winapi

import (
	"fmt"

	"github.com/xyproto/pevm/internal/hostcall"
	"github.com/xyproto/pevm/internal/vmem"
)

// Stub is one emulated API's behavior: given the Host surface, guest
// memory, and its stdcall stack pointer, it returns the EAX value a real
// implementation would leave behind. Mirrors the teacher's libdef.go
// Function record (name + parameter list driving FFI marshaling) but
// generalized from "describe the signature for a future call" to "this
// *is* the call".
type Stub struct {
	Name string
	Args uint32 // stdcall argument count; StackCleanup = Args*4
	Fn   func(h Host, mem *vmem.Memory, sp uint32) (uint32, error)

	// Ordinal additionally registers this stub under (module, ordinal),
	// for DLLs a guest commonly imports by ordinal rather than by name —
	// ws2_32.dll's WSAStartup at #115 above all, spec.md §8 scenario 2.
	Ordinal uint16
}

func arg(mem *vmem.Memory, sp uint32, n uint32) uint32 {
	v, _ := hostcall.Arg(mem, sp, n)
	return v
}

// wrap adapts a Stub into the func(any, uint32) signature hostcall.Table
// expects, asserting the vm argument back to winapi.Host — the
// decoupling point documented on hostcall.Func.Fn.
func wrap(s Stub) func(any, uint32) (uint32, error) {
	return func(vm any, sp uint32) (uint32, error) {
		h, ok := vm.(Host)
		if !ok {
			return 0, fmt.Errorf("winapi: vm does not implement Host for %s", s.Name)
		}
		return s.Fn(h, h.Memory(), sp)
	}
}

// RegisterModule installs every Stub in stubs under module into table,
// plus its ordinal binding when one is set.
func RegisterModule(table *hostcall.Table, module string, stubs []Stub) {
	for _, s := range stubs {
		fn := wrap(s)
		if s.Name != "" {
			table.Register(module, s.Name, fn, s.Args*4)
		}
		if s.Ordinal != 0 {
			table.RegisterOrdinal(module, s.Ordinal, fn, s.Args*4)
		}
	}
}

// stubReturning0 is the catalogue entry for the large "emulate by doing
// nothing and returning success/zero" tail named in spec.md §4.5 — most
// guest programs never inspect these return values closely enough to
// notice, and the ones that do are out of this spec's scope.
func stubReturning0(name string, args uint32) Stub {
	return Stub{Name: name, Args: args, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
		return 0, nil
	}}
}

func stubReturning1(name string, args uint32) Stub {
	return Stub{Name: name, Args: args, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
		return 1, nil
	}}
}

// catalogueEntry is one row of the generic stub tail: a module, export
// name, stdcall argument count, and the constant EAX value to return.
// This is the "emulate by doing nothing" catalogue spec.md §4.5 calls
// for beyond the hand-written per-module files (kernel32.go, advapi32.go,
// and friends) — functions a guest program typically calls for their
// side effect (or not at all) rather than to inspect the return value.
type catalogueEntry struct {
	module string
	name   string
	args   uint32
	ret    uint32
}

var genericCatalogue = []catalogueEntry{
	// kernel32.dll: process/thread/sync primitives guest code often calls
	// without checking failure paths this emulator doesn't model.
	{"kernel32.dll", "InitializeCriticalSection", 1, 0},
	{"kernel32.dll", "InitializeCriticalSectionAndSpinCount", 2, 1},
	{"kernel32.dll", "DeleteCriticalSection", 1, 0},
	{"kernel32.dll", "EnterCriticalSection", 1, 0},
	{"kernel32.dll", "LeaveCriticalSection", 1, 0},
	{"kernel32.dll", "TryEnterCriticalSection", 1, 1},
	{"kernel32.dll", "CreateMutexA", 3, 0x104},
	{"kernel32.dll", "CreateMutexW", 3, 0x104},
	{"kernel32.dll", "ReleaseMutex", 1, 1},
	{"kernel32.dll", "CreateEventA", 4, 0x108},
	{"kernel32.dll", "CreateEventW", 4, 0x108},
	{"kernel32.dll", "SetEvent", 1, 1},
	{"kernel32.dll", "ResetEvent", 1, 1},
	{"kernel32.dll", "WaitForSingleObject", 2, 0},
	{"kernel32.dll", "WaitForMultipleObjects", 4, 0},
	{"kernel32.dll", "CloseHandle", 1, 1},
	{"kernel32.dll", "CreateThread", 6, 0x200},
	{"kernel32.dll", "ExitThread", 1, 0},
	{"kernel32.dll", "GetCurrentThreadId", 0, 1},
	{"kernel32.dll", "GetCurrentProcessId", 0, 1},
	{"kernel32.dll", "GetCurrentProcess", 0, 0xFFFFFFFF},
	{"kernel32.dll", "Sleep", 1, 0},
	{"kernel32.dll", "QueryPerformanceCounter", 1, 1},
	{"kernel32.dll", "QueryPerformanceFrequency", 1, 1},
	{"kernel32.dll", "GetSystemTimeAsFileTime", 1, 0},
	{"kernel32.dll", "GetVersion", 0, 0x00000A06},
	{"kernel32.dll", "GetVersionExA", 1, 1},
	{"kernel32.dll", "GetCommandLineA", 0, 0},
	{"kernel32.dll", "GetCommandLineW", 0, 0},
	{"kernel32.dll", "GetEnvironmentStrings", 0, 0},
	{"kernel32.dll", "FreeEnvironmentStringsA", 1, 1},
	{"kernel32.dll", "GetStartupInfoA", 1, 0},
	{"kernel32.dll", "GetStartupInfoW", 1, 0},
	{"kernel32.dll", "SetUnhandledExceptionFilter", 1, 0},
	{"kernel32.dll", "UnhandledExceptionFilter", 1, 0},
	{"kernel32.dll", "IsDebuggerPresent", 0, 0},
	{"kernel32.dll", "OutputDebugStringA", 1, 0},
	{"kernel32.dll", "OutputDebugStringW", 1, 0},
	{"kernel32.dll", "DisableThreadLibraryCalls", 1, 1},
	{"kernel32.dll", "LoadLibraryA", 1, 0},
	{"kernel32.dll", "LoadLibraryW", 1, 0},
	{"kernel32.dll", "FreeLibrary", 1, 1},
	{"kernel32.dll", "GetProcAddress", 2, 0},
	{"kernel32.dll", "MultiByteToWideChar", 6, 0},
	{"kernel32.dll", "WideCharToMultiByte", 8, 0},
	{"kernel32.dll", "GetACP", 0, 1252},
	{"kernel32.dll", "GetModuleFileNameA", 3, 0},
	{"kernel32.dll", "GetModuleFileNameW", 3, 0},
	{"kernel32.dll", "CreateFileA", 7, 0xFFFFFFFF},
	{"kernel32.dll", "CreateFileW", 7, 0xFFFFFFFF},
	{"kernel32.dll", "ReadFile", 5, 1},
	{"kernel32.dll", "FlushFileBuffers", 1, 1},
	{"kernel32.dll", "SetFilePointer", 4, 0},
	{"kernel32.dll", "GetFileSize", 2, 0},
	{"kernel32.dll", "DeleteFileA", 1, 1},
	{"kernel32.dll", "FindFirstFileA", 2, 0xFFFFFFFF},
	{"kernel32.dll", "FindNextFileA", 2, 0},
	{"kernel32.dll", "FindClose", 1, 1},
	{"kernel32.dll", "GetTempPathA", 2, 0},
	{"kernel32.dll", "GetTempFileNameA", 4, 0},
	{"kernel32.dll", "InterlockedIncrement", 1, 1},
	{"kernel32.dll", "InterlockedDecrement", 1, 0},
	{"kernel32.dll", "InterlockedExchange", 2, 0},
	{"kernel32.dll", "InterlockedCompareExchange", 3, 0},
	{"kernel32.dll", "FormatMessageA", 7, 0},
	{"kernel32.dll", "LocalAlloc", 2, 0},
	{"kernel32.dll", "LocalFree", 1, 0},
	{"kernel32.dll", "GlobalAlloc", 2, 0},
	{"kernel32.dll", "GlobalFree", 1, 0},
	{"kernel32.dll", "GlobalLock", 1, 0},
	{"kernel32.dll", "GlobalUnlock", 1, 1},

	// user32.dll: window/message-loop plumbing this headless emulator
	// never really drives, spec.md §4.5 non-goal "no real window system".
	{"user32.dll", "RegisterClassA", 1, 1},
	{"user32.dll", "RegisterClassExA", 1, 1},
	{"user32.dll", "CreateWindowExA", 12, 0x00010000},
	{"user32.dll", "DestroyWindow", 1, 1},
	{"user32.dll", "ShowWindow", 2, 1},
	{"user32.dll", "UpdateWindow", 1, 1},
	{"user32.dll", "GetMessageA", 4, 0},
	{"user32.dll", "TranslateMessage", 1, 1},
	{"user32.dll", "DispatchMessageA", 1, 0},
	{"user32.dll", "PostQuitMessage", 1, 0},
	{"user32.dll", "DefWindowProcA", 4, 0},
	{"user32.dll", "GetDC", 1, 0x00020000},
	{"user32.dll", "ReleaseDC", 2, 1},
	{"user32.dll", "InvalidateRect", 3, 1},
	{"user32.dll", "SetTimer", 4, 1},
	{"user32.dll", "KillTimer", 2, 1},
	{"user32.dll", "LoadCursorA", 2, 0x00030000},
	{"user32.dll", "LoadIconA", 2, 0x00040000},
	{"user32.dll", "GetClientRect", 2, 1},
	{"user32.dll", "GetWindowRect", 2, 1},
	{"user32.dll", "SetWindowTextA", 2, 1},
	{"user32.dll", "GetWindowTextA", 3, 0},
	{"user32.dll", "FindWindowA", 2, 0},
	{"user32.dll", "SendMessageA", 4, 0},
	{"user32.dll", "PostMessageA", 4, 1},
	{"user32.dll", "GetDesktopWindow", 0, 0x00010001},
	{"user32.dll", "GetForegroundWindow", 0, 0},
	{"user32.dll", "SetForegroundWindow", 1, 1},
	{"user32.dll", "GetActiveWindow", 0, 0},

	// gdi32.dll: drawing primitives — no real surface exists to draw on.
	{"gdi32.dll", "CreateSolidBrush", 1, 0x00050000},
	{"gdi32.dll", "CreatePen", 3, 0x00060000},
	{"gdi32.dll", "CreateFontA", 14, 0x00070000},
	{"gdi32.dll", "SelectObject", 2, 0},
	{"gdi32.dll", "DeleteObject", 1, 1},
	{"gdi32.dll", "GetStockObject", 1, 0x00080000},
	{"gdi32.dll", "TextOutA", 5, 1},
	{"gdi32.dll", "SetBkMode", 2, 1},
	{"gdi32.dll", "SetTextColor", 2, 0},
	{"gdi32.dll", "BitBlt", 9, 1},

	// shell32.dll: shell integration, accepted and ignored.
	{"shell32.dll", "ShellExecuteA", 6, 33},
	{"shell32.dll", "SHGetFolderPathA", 5, 0},
	{"shell32.dll", "SHGetSpecialFolderPathA", 4, 1},
	{"shell32.dll", "CommandLineToArgvW", 2, 0},

	// comctl32.dll / shlwapi.dll: common-control and path-utility helpers.
	{"comctl32.dll", "InitCommonControls", 0, 0},
	{"comctl32.dll", "InitCommonControlsEx", 1, 1},
	{"shlwapi.dll", "PathFileExistsA", 1, 0},
	{"shlwapi.dll", "PathCombineA", 3, 0},
	{"shlwapi.dll", "StrStrIA", 2, 0},

	// msvcrt.dll / ucrtbase.dll: the rest of the CRT surface beyond
	// printf.go's formatted-output subset.
	{"msvcrt.dll", "exit", 1, 0},
	{"msvcrt.dll", "_exit", 1, 0},
	{"msvcrt.dll", "abort", 0, 0},
	{"msvcrt.dll", "atoi", 0, 0},
	{"msvcrt.dll", "atol", 0, 0},
	{"msvcrt.dll", "rand", 0, 0},
	{"msvcrt.dll", "srand", 0, 0},
	{"msvcrt.dll", "time", 0, 0},
	{"msvcrt.dll", "clock", 0, 0},
	{"msvcrt.dll", "_initterm", 2, 0},
	{"msvcrt.dll", "__getmainargs", 5, 0},
	{"msvcrt.dll", "__set_app_type", 1, 0},
	{"msvcrt.dll", "_controlfp", 2, 0},
	{"msvcrt.dll", "_except_handler3", 4, 0},
	{"msvcrt.dll", "_except_handler4", 4, 0},
	{"msvcrt.dll", "__CxxFrameHandler3", 5, 0},
	{"msvcrt.dll", "_lock", 1, 0},
	{"msvcrt.dll", "_unlock", 1, 0},
	{"msvcrt.dll", "strcmp", 0, 0},
	{"msvcrt.dll", "strcpy", 0, 0},
	{"msvcrt.dll", "strcat", 0, 0},
	{"msvcrt.dll", "strncpy", 0, 0},
	{"msvcrt.dll", "strstr", 0, 0},
	{"vcruntime140.dll", "memmove", 0, 0},
	{"vcruntime140.dll", "memcmp", 0, 0},
	{"vcruntime140.dll", "_CxxThrowException", 2, 0},
	{"vcruntime140.dll", "__current_exception", 0, 0},
	{"api-ms-win-crt-runtime-l1-1-0.dll", "_initterm_e", 2, 0},
	{"api-ms-win-crt-stdio-l1-1-0.dll", "__stdio_common_vfprintf", 0, 0},

	// oleaut32.dll additions beyond oleaut32.go's BSTR/VARIANT subset.
	{"oleaut32.dll", "SysAllocStringByteLen", 2, 0},
	{"oleaut32.dll", "VarUI4FromStr", 4, 0x80004001},
	{"oleaut32.dll", "LoadTypeLib", 2, 0x80004001},
	{"oleaut32.dll", "LoadRegTypeLib", 6, 0x80004001},

	// ole32.dll additions beyond ole32.go's activation subset.
	{"ole32.dll", "CoTaskMemAlloc", 1, 0},
	{"ole32.dll", "CoTaskMemFree", 1, 0},
	{"ole32.dll", "CoGetClassObject", 5, 0x80004005},
	{"ole32.dll", "OleInitialize", 1, 0},
	{"ole32.dll", "OleUninitialize", 0, 0},
	{"ole32.dll", "OleRun", 1, 0},

	// advapi32.dll additions beyond advapi32.go's Reg* subset.
	{"advapi32.dll", "RegFlushKey", 1, 0},
	{"advapi32.dll", "RegNotifyChangeKeyValue", 5, 0},
	{"advapi32.dll", "OpenProcessToken", 3, 1},
	{"advapi32.dll", "GetUserNameA", 2, 1},
	{"advapi32.dll", "CryptAcquireContextA", 5, 1},
	{"advapi32.dll", "CryptReleaseContext", 2, 1},
	{"advapi32.dll", "CryptGenRandom", 3, 1},

	// version.dll / imagehlp.dll / dbghelp.dll: inert on this emulator.
	{"version.dll", "GetFileVersionInfoSizeA", 2, 0},
	{"version.dll", "GetFileVersionInfoA", 4, 0},
	{"version.dll", "VerQueryValueA", 4, 0},

	// kernel32.dll: the remaining file/volume/environment surface a
	// guest installer or config-reading program commonly touches.
	{"kernel32.dll", "GetDriveTypeA", 1, 1},
	{"kernel32.dll", "GetLogicalDrives", 0, 4},
	{"kernel32.dll", "GetDiskFreeSpaceA", 5, 1},
	{"kernel32.dll", "GetFullPathNameA", 4, 0},
	{"kernel32.dll", "GetShortPathNameA", 3, 0},
	{"kernel32.dll", "GetFileAttributesA", 1, 0x20},
	{"kernel32.dll", "SetFileAttributesA", 2, 1},
	{"kernel32.dll", "CreateDirectoryA", 2, 1},
	{"kernel32.dll", "RemoveDirectoryA", 1, 1},
	{"kernel32.dll", "CopyFileA", 3, 1},
	{"kernel32.dll", "MoveFileA", 2, 1},
	{"kernel32.dll", "GetEnvironmentVariableA", 3, 0},
	{"kernel32.dll", "SetEnvironmentVariableA", 2, 1},
	{"kernel32.dll", "ExpandEnvironmentStringsA", 3, 0},
	{"kernel32.dll", "GetSystemDirectoryA", 2, 0},
	{"kernel32.dll", "GetWindowsDirectoryA", 2, 0},
	{"kernel32.dll", "GetComputerNameA", 2, 1},
	{"kernel32.dll", "GetLocalTime", 1, 0},
	{"kernel32.dll", "GetSystemTime", 1, 0},
	{"kernel32.dll", "FileTimeToSystemTime", 2, 1},
	{"kernel32.dll", "SystemTimeToFileTime", 2, 1},
	{"kernel32.dll", "CompareFileTime", 2, 0},
	{"kernel32.dll", "lstrcpyA", 2, 0},
	{"kernel32.dll", "lstrcatA", 2, 0},
	{"kernel32.dll", "lstrcmpA", 2, 0},
	{"kernel32.dll", "lstrcmpiA", 2, 0},
	{"kernel32.dll", "CreateProcessA", 10, 1},
	{"kernel32.dll", "TerminateProcess", 2, 1},
	{"kernel32.dll", "GetExitCodeProcess", 2, 1},
	{"kernel32.dll", "DuplicateHandle", 7, 1},
	{"kernel32.dll", "SetHandleInformation", 3, 1},
	{"kernel32.dll", "CreatePipe", 4, 1},
	{"kernel32.dll", "PeekNamedPipe", 6, 1},
	{"kernel32.dll", "SetConsoleTextAttribute", 2, 1},
	{"kernel32.dll", "SetConsoleCtrlHandler", 2, 1},
	{"kernel32.dll", "AllocConsole", 0, 1},
	{"kernel32.dll", "FreeConsole", 0, 1},

	// winmm.dll / setupapi.dll / crypt32.dll: commonly linked but rarely
	// load-bearing for an emulated guest's observable behavior.
	{"winmm.dll", "timeGetTime", 0, 0},
	{"winmm.dll", "PlaySoundA", 3, 1},
	{"winmm.dll", "mciSendStringA", 4, 0},
	{"setupapi.dll", "SetupDiGetClassDevsA", 4, 0xFFFFFFFF},
	{"setupapi.dll", "SetupDiEnumDeviceInfo", 3, 0},
	{"setupapi.dll", "SetupDiDestroyDeviceInfoList", 1, 1},
	{"crypt32.dll", "CryptStringToBinaryA", 6, 1},
	{"crypt32.dll", "CryptBinaryToStringA", 5, 1},
	{"crypt32.dll", "CertOpenStore", 5, 0},
	{"crypt32.dll", "CertCloseStore", 2, 1},
	{"crypt32.dll", "CertFreeCertificateContext", 1, 1},

	// psapi.dll / iphlpapi.dll: process/network introspection a guest
	// might probe for diagnostics without depending on the real answer.
	{"psapi.dll", "EnumProcesses", 3, 1},
	{"psapi.dll", "GetModuleBaseNameA", 4, 0},
	{"psapi.dll", "GetProcessMemoryInfo", 3, 1},
	{"iphlpapi.dll", "GetAdaptersInfo", 2, 0},
	{"iphlpapi.dll", "GetNetworkParams", 2, 0},
}

// Catalogue groups genericCatalogue by module and wraps each entry as a
// Stub via stubReturning0/stubReturning1 (or a literal-constant variant
// for return values outside {0,1}), giving New a single map to range
// over when installing every module's generic tail alongside the
// hand-written per-module stub files.
func Catalogue() map[string][]Stub {
	out := make(map[string][]Stub)
	for _, e := range genericCatalogue {
		var s Stub
		switch e.ret {
		case 0:
			s = stubReturning0(e.name, e.args)
		case 1:
			s = stubReturning1(e.name, e.args)
		default:
			ret := e.ret
			s = Stub{Name: e.name, Args: e.args, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
				return ret, nil
			}}
		}
		out[e.module] = append(out[e.module], s)
	}
	return out
}
