package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xyproto/pevm"
	"github.com/xyproto/pevm/internal/registry"
)

const versionString = "pevm 0.1.0"

// Global flags, mirrored after the teacher's main.go: flags are parsed
// once up front and must precede the subcommand/filename, since the
// stdlib flag package stops parsing at the first non-flag argument.
var (
	exportFlag    = flag.String("export", "", "export name to call instead of the entry point")
	argsFlag      = flag.String("args", "", "comma-separated stdcall arguments (decimal or 0x-prefixed hex)")
	registryFlag  = flag.String("registry", "", "path to a YAML registry seed file (internal/registry.LoadYAML)")
	noSandboxFlag = flag.Bool("no-sandbox", false, "disable PE_VM_NO_SANDBOX's default sandboxing (host filesystem/network passthroughs)")
	limitFlag     = flag.Uint64("limit", 0, "execution step limit per call (0 keeps Config's default/env-derived limit)")
	verboseFlag   = flag.Bool("v", false, "verbose mode (trace execution, import calls and COM activation to stderr)")
	versionShort  = flag.Bool("V", false, "print version information and exit")
	versionLong   = flag.Bool("version", false, "print version information and exit")
)

func main() {
	flag.Parse()

	if *versionShort || *versionLong {
		fmt.Println(versionString)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cmdHelp()
		os.Exit(1)
	}

	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "help", "--help", "-h":
		cmdHelp()
	case "version", "--version":
		fmt.Println(versionString)
	case "run":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: pevm [-export=name] [-args=1,2,0x10] run <image.exe|.dll>")
			os.Exit(1)
		}
		if err := cmdRun(cfg, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		// Bare filename is shorthand for "run", matching the teacher's
		// "c67 program.c67" shorthand for "c67 build program.c67".
		if _, statErr := os.Stat(args[0]); statErr == nil {
			if err := cmdRun(cfg, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'pevm help' for usage information\n", args[0])
		os.Exit(1)
	}
}

func buildConfig() (pevm.Config, error) {
	cfg := pevm.DefaultConfig()
	if *noSandboxFlag {
		cfg.Sandbox = false
	}
	if *limitFlag != 0 {
		cfg.ExecutionLimit = *limitFlag
	}
	if *registryFlag != "" {
		data, err := os.ReadFile(*registryFlag)
		if err != nil {
			return cfg, fmt.Errorf("reading registry seed %s: %w", *registryFlag, err)
		}
		reg, err := registry.LoadYAML(data)
		if err != nil {
			return cfg, fmt.Errorf("parsing registry seed %s: %w", *registryFlag, err)
		}
		cfg.Registry = reg
	}
	return cfg, nil
}

// parseArgList turns "-args=1,2,0x10" into the uint32 stdcall argument
// slice ExecuteExport/ExecuteEntry push right-to-left.
func parseArgList(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseUint(p, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", p, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func cmdHelp() {
	fmt.Println(versionString)
	fmt.Println(`
Usage:
  pevm [flags] run <image.exe|.dll>   load a PE32 image, resolve its imports,
                                      and execute its entry point (or -export)
  pevm [flags] <image.exe|.dll>       shorthand for "pevm run"
  pevm version                        print version information
  pevm help                           show this message

Flags (must come before the command or image path):
  -export=name       call the named export instead of the entry point
  -args=1,2,0x10      comma-separated stdcall arguments, decimal or hex
  -registry=file.yml  seed the registry from a YAML file before loading
  -no-sandbox         disable the default host-filesystem/network sandboxing
  -limit=N            per-call execution step limit
  -v                  verbose: trace execution, import calls and COM activation
  -V, -version        print version information and exit`)
}
