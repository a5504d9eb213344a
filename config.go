package pevm

import (
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/xyproto/pevm/internal/registry"
)

// OS identifies the host platform this VM emulates guest code against.
// A single enum value exists today; the type stays an enum (rather than
// a bare bool) so a future OS surface doesn't require an API break,
// following the teacher's target.go platform-enum pattern.
type OS int

const (
	OSWindows OS = iota
)

func (o OS) String() string {
	switch o {
	case OSWindows:
		return "windows"
	default:
		return "unknown"
	}
}

// Arch identifies the guest instruction set. pevm only interprets 32-bit
// x86; the enum exists for the same forward-compatibility reason as OS.
type Arch int

const (
	ArchX86 Arch = iota
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	default:
		return "unknown"
	}
}

// Config is New's sole input: target identification, the registry the
// COM activation pipeline and registry-backed stubs query, execution
// limits, and the WinINet/WinHTTP network-stub configuration spec.md §6
// describes (a guest that calls InternetOpenUrlA/WinHttpSendRequest gets
// a canned or overridden response rather than a real socket).
type Config struct {
	OS   OS
	Arch Arch

	// RootDir resolves relative DLL paths found in the registry's
	// InprocServer32 values during COM activation.
	RootDir string

	// Registry backs HKCR/HKLM/HKCU lookups for CLSID resolution and the
	// advapi32 registry stub family. A nil Registry gets a fresh empty one.
	Registry *registry.Registry

	// Sandbox records whether the net/file shim runs sandboxed (spec.md §6
	// "Sandbox mode"). No host call in this module reads it, so setting it
	// to false changes no behaviour.
	Sandbox bool

	// ExecutionLimit bounds internal/x86.CPU.Step invocations per
	// executeAt call; 0 means no limit.
	ExecutionLimit uint64

	// WinINetHost/WinINetPath/WinINetFormOverrides configure the
	// internal/winapi wininet.go and winhttp.go stub responses: guest
	// calls to InternetOpenUrlA/WinHttpSendRequest return this host and
	// path unless FormOverrides maps the requested path to a literal
	// response body.
	WinINetHost          string
	WinINetPath          string
	WinINetFormOverrides map[string]string
}

// DefaultExecutionLimit is the step budget DefaultConfig sets unless
// PE_VM_EXECUTION_LIMIT names another positive value; exceeding it raises
// internal/x86.CPU's step-budget fault.
const DefaultExecutionLimit = 50_000_000

// DefaultConfig reads PE_VM_* environment variables the way the teacher's
// configuration loader does (env.Bool/env.Str only — this module never
// calls an env.Int helper, since no such overload is available in the
// vendored xyproto/env/v2 version; integer fields are read as strings and
// parsed with strconv, same as internal/trace.Load does for its own
// address-list and breakpoint env vars).
func DefaultConfig() Config {
	cfg := Config{
		OS:                   OSWindows,
		Arch:                 ArchX86,
		RootDir:              env.Str("PE_VM_ROOT"),
		Registry:             registry.New(),
		Sandbox:              !env.Bool("PE_VM_NO_SANDBOX"),
		ExecutionLimit:       DefaultExecutionLimit,
		WinINetHost:          env.Str("PE_VM_WININET_HOST"),
		WinINetPath:          env.Str("PE_VM_WININET_PATH"),
		WinINetFormOverrides: parseFormOverrides(env.Str("PE_VM_WININET_FORM_OVERRIDES")),
	}
	if s := env.Str("PE_VM_EXECUTION_LIMIT"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil && n > 0 {
			cfg.ExecutionLimit = n
		}
	}
	if cfg.WinINetHost == "" {
		cfg.WinINetHost = "localhost"
	}
	if cfg.WinINetPath == "" {
		cfg.WinINetPath = "/"
	}
	return cfg
}

// parseFormOverrides decodes "path1=body1;path2=body2" into a map, the
// same flat delimited-pair format the teacher's config loader uses for
// its header-override env var.
func parseFormOverrides(s string) map[string]string {
	out := make(map[string]string)
	if s == "" {
		return out
	}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}
