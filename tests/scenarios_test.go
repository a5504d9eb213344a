// Package tests exercises the end-to-end scenarios spec.md §8 names,
// each running a hand-assembled fixture from tests/common through the
// real PE32 parser, loader, x86 interpreter, and Windows/COM host-call
// surface, the way the teacher's integration_test.go drives full
// compile-and-run pipelines rather than unit-testing one stage at a time.
package tests

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xyproto/pevm"
	"github.com/xyproto/pevm/internal/com"
	"github.com/xyproto/pevm/internal/registry"
	"github.com/xyproto/pevm/tests/common"
)

func TestHelloWorldExport(t *testing.T) {
	vm := pevm.New(pevm.DefaultConfig())

	if err := vm.LoadImage(common.BuildHelloWorldDLL()); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if err := vm.ResolveImports(); err != nil {
		t.Fatalf("ResolveImports: %v", err)
	}

	eax, err := vm.ExecuteExport("hello", nil)
	if err != nil {
		t.Fatalf("ExecuteExport(hello): %v", err)
	}
	if eax != 0 {
		t.Errorf("EAX = 0x%08X, want 0", eax)
	}
	if got, want := vm.Stdout().String(), "Hello, world!\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestWS2_32OrdinalImport(t *testing.T) {
	vm := pevm.New(pevm.DefaultConfig())

	if err := vm.LoadImage(common.BuildWS2_32OrdinalDLL()); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if err := vm.ResolveImports(); err != nil {
		t.Fatalf("ResolveImports: %v", err)
	}

	eax, err := vm.ExecuteExport("init", nil)
	if err != nil {
		t.Fatalf("ExecuteExport(init): %v", err)
	}
	if eax != 0 {
		t.Errorf("EAX = 0x%08X, want 0 (WSAStartup success)", eax)
	}

	// executeAt pushes the sentinel return address at TopOfStack()-4 before
	// entry; init's prologue then does push ebp (-4) and sub esp,0x190,
	// landing its WSADATA buffer at TopOfStack()-8-0x190. ExecuteAt restores
	// registers/flags after the call but leaves guest memory intact, so the
	// buffer contents survive for inspection.
	sp := vm.Memory().TopOfStack() - 8 - 0x190
	wVersion, err := vm.ReadU16(sp)
	if err != nil {
		t.Fatalf("ReadU16(wVersion): %v", err)
	}
	wHighVersion, err := vm.ReadU16(sp + 2)
	if err != nil {
		t.Fatalf("ReadU16(wHighVersion): %v", err)
	}
	if wVersion != 0x0202 || wHighVersion != 0x0202 {
		t.Errorf("WSADATA version = (0x%04X, 0x%04X), want (0x0202, 0x0202)", wVersion, wHighVersion)
	}
}

func TestRelocationAtAlternateBase(t *testing.T) {
	const altBase = 0x1000_0000

	vm := pevm.New(pevm.DefaultConfig())

	if err := vm.LoadImageAt(common.BuildRelocatableHelloWorldDLL(), altBase); err != nil {
		t.Fatalf("LoadImageAt: %v", err)
	}
	if got := vm.Base(); got != altBase {
		t.Fatalf("Base() = 0x%08X, want 0x%08X", got, altBase)
	}
	if err := vm.ResolveImports(); err != nil {
		t.Fatalf("ResolveImports: %v", err)
	}

	eax, err := vm.ExecuteExport("hello", nil)
	if err != nil {
		t.Fatalf("ExecuteExport(hello) at alternate base: %v", err)
	}
	if eax != 0 {
		t.Errorf("EAX = 0x%08X, want 0", eax)
	}
	if got, want := vm.Stdout().String(), "Hello, world!\n"; got != want {
		t.Errorf("stdout at relocated base = %q, want %q (the HIGHLOW fixup on the mov-eax-imm32 operand did not apply correctly)", got, want)
	}
}

func TestComInvokeI4DoublesArgument(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "comserver.dll"), common.BuildComServerDLL(), 0o644); err != nil {
		t.Fatalf("writing fixture DLL: %v", err)
	}

	cfg := pevm.DefaultConfig()
	cfg.RootDir = dir
	cfg.Registry = registry.New()
	if err := cfg.Registry.Set(`HKCR\CLSID\`+common.ComServerCLSID+`\InprocServer32`, registry.StringValue(`C:\comserver.dll`)); err != nil {
		t.Fatalf("seeding registry: %v", err)
	}

	vm := pevm.New(cfg)

	obj, err := pevm.ComCreateInstance(vm, common.ComServerCLSID)
	if err != nil {
		t.Fatalf("ComCreateInstance: %v", err)
	}

	result, err := pevm.ComInvokeI4(vm, obj, 1, []com.ComArg{{Kind: com.ArgU32, U32: 7}})
	if err != nil {
		t.Fatalf("ComInvokeI4: %v", err)
	}
	if result != 14 {
		t.Errorf("ComInvokeI4(dispid=1, 7) = %d, want 14", result)
	}
}

func TestMissingImportDiagnostic(t *testing.T) {
	vm := pevm.New(pevm.DefaultConfig())

	if err := vm.LoadImage(common.BuildMissingImportDLL()); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}

	err := vm.ResolveImports()
	if err == nil {
		t.Fatal("ResolveImports succeeded, want a MissingImportsError for UNKNOWN.DLL!frobnicate")
	}
	missing, ok := err.(*pevm.MissingImportsError)
	if !ok {
		t.Fatalf("ResolveImports error type = %T, want *pevm.MissingImportsError", err)
	}

	count := 0
	for _, label := range missing.Labels {
		if label == "UNKNOWN.DLL!frobnicate" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("missing.Labels = %v, want exactly one %q entry", missing.Labels, "UNKNOWN.DLL!frobnicate")
	}
}

func TestNestedReentryInvariance(t *testing.T) {
	vm := pevm.New(pevm.DefaultConfig())

	if err := vm.LoadImage(common.BuildReentryProbeDLL()); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if err := vm.ResolveImports(); err != nil {
		t.Fatalf("ResolveImports: %v", err)
	}

	if _, err := vm.ExecuteExport("set_regs", nil); err != nil {
		t.Fatalf("ExecuteExport(set_regs): %v", err)
	}

	eax, err := vm.ExecuteExport("get_ebx", nil)
	if err != nil {
		t.Fatalf("ExecuteExport(get_ebx): %v", err)
	}
	if eax != 0 {
		t.Errorf("EAX = 0x%08X after set_regs+get_ebx, want 0 (set_regs's EBX=0x11111111 must not survive nested re-entry)", eax)
	}
}

// sanity check that every fixture builder produces an image that starts
// with the MZ signature and that LoadImage accepts.
func TestFixturesParseAsValidPE(t *testing.T) {
	for name, raw := range map[string][]byte{
		"hello":   common.BuildHelloWorldDLL(),
		"ws2_32":  common.BuildWS2_32OrdinalDLL(),
		"reloc":   common.BuildRelocatableHelloWorldDLL(),
		"missing": common.BuildMissingImportDLL(),
		"com":     common.BuildComServerDLL(),
		"reentry": common.BuildReentryProbeDLL(),
	} {
		if !strings.HasPrefix(string(raw[:2]), "MZ") {
			t.Errorf("%s: missing MZ signature", name)
		}
		if err := pevm.New(pevm.DefaultConfig()).LoadImage(raw); err != nil {
			t.Errorf("%s: LoadImage: %v", name, err)
		}
	}
}
