package main

import (
	"fmt"
	"os"

	"github.com/xyproto/pevm"
)

// cmdRun loads a PE32 image from disk, resolves its imports against the
// VM's host-call catalogue, and executes either the named -export or the
// image's own entry point, printing the returned EAX and anything the
// guest wrote to stdout (spec.md §8's "hello world" scenario drives this
// path: msvcrt!printf writes land in Stdout(), EAX carries the export's
// return value).
func cmdRun(cfg pevm.Config, path string) error {
	if *verboseFlag {
		os.Setenv("PE_VM_TRACE", "1")
		os.Setenv("PE_VM_TRACE_IMPORTS", "1")
		os.Setenv("PE_VM_TRACE_COM", "1")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	callArgs, err := parseArgList(*argsFlag)
	if err != nil {
		return err
	}

	vm := pevm.New(cfg)

	if err := vm.LoadImage(raw); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	if err := vm.ResolveImports(); err != nil {
		return fmt.Errorf("resolving imports of %s: %w", path, err)
	}

	var eax uint32
	if *exportFlag != "" {
		eax, err = vm.ExecuteExport(*exportFlag, callArgs)
	} else {
		eax, err = vm.ExecuteEntry(callArgs)
	}

	if out := vm.Stdout().String(); out != "" {
		fmt.Print(out)
	}
	if err != nil {
		return err
	}

	fmt.Printf("EAX = 0x%08X (%d)\n", eax, int32(eax))
	return nil
}
