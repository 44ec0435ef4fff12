// cmd/lox/main.go
package main

import (
	"fmt"
	"os"

	"sentra/internal/compiler"
	loxerrors "sentra/internal/errors"
	"sentra/internal/repl"
	"sentra/internal/vm"
)

// Exit codes match the original sysexits.h-flavored convention: 64 for CLI
// usage errors, 65 for data-format (compile) errors, 70 for runtime
// errors, 74 for I/O failures.
const (
	exitOK      = 0
	exitUsage   = 64
	exitCompile = 65
	exitRuntime = 70
	exitIOError = 74
)

func main() {
	os.Exit(runMain())
}

// runMain is split out from main so tests can re-exec it as a subprocess
// command via testscript without calling os.Exit from inside a test binary.
func runMain() int {
	args := os.Args[1:]

	switch len(args) {
	case 0:
		repl.Start(vm.New(), os.Stdin, os.Stdout, os.Stderr, repl.Options{})
		return exitOK
	case 1:
		return runFile(args[0])
	default:
		fmt.Fprintln(os.Stderr, "Usage: lox [path]")
		return exitUsage
	}
}

func runFile(path string) int {
	source, err := os.ReadFile(path)
	if err != nil {
		hostErr := loxerrors.NewHostError(err, fmt.Sprintf("could not open file %q", path))
		fmt.Fprintf(os.Stderr, "Could not open file \"%s\": %v\n", path, hostErr.Cause())
		return exitIOError
	}

	interp := vm.New()
	fn, ok := compiler.Compile(string(source), interp)
	if !ok {
		return exitCompile
	}
	if err := interp.Interpret(fn); err != nil {
		return exitRuntime
	}
	return exitOK
}
