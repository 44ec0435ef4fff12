// internal/repl/repl.go
//
// Package repl implements the interactive read-eval-print loop: prompt,
// read one line (up to 1024 bytes including the newline), compile and run
// it against a VM that persists across lines so globals and interned
// strings accumulate the way they would running the same lines from a
// file.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"sentra/internal/compiler"
	"sentra/internal/vm"
)

const maxLine = 1024

// Options configures a REPL session. Verbose turns on a post-line timing
// banner reporting how long the line took to compile and run.
type Options struct {
	Verbose bool
}

// Start runs the loop until in hits EOF, then returns. Each line is
// compiled and interpreted against interp; a compile or runtime error is
// reported (by the compiler/VM themselves, to errOut) and the loop
// continues with the next line rather than exiting, since one bad line
// shouldn't kill an interactive session.
func Start(interp *vm.VM, in io.Reader, out, errOut io.Writer, opts Options) {
	interp.Stdout = out
	interp.Stderr = errOut
	reader := bufio.NewReaderSize(in, maxLine)
	prompt := shouldPrompt(in, out)

	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}

		line, err := readLine(reader)
		if line == "" && err != nil {
			return
		}

		started := time.Now()
		fn, ok := compiler.Compile(line, interp)
		if !ok {
			continue
		}
		interp.Interpret(fn)

		if opts.Verbose {
			fmt.Fprintf(out, "(%s)\n", humanize.RelTime(started, time.Now(), "", ""))
		}
	}
}

// readLine reads up to maxLine bytes, stopping at (and including) the first
// newline, mirroring fgets' contract: the trailing newline stays in the
// returned line because the scanner treats newline as just another
// whitespace character.
func readLine(r *bufio.Reader) (string, error) {
	buf := make([]byte, 0, maxLine)
	for len(buf) < maxLine {
		b, err := r.ReadByte()
		if err != nil {
			return string(buf), err
		}
		buf = append(buf, b)
		if b == '\n' {
			return string(buf), nil
		}
	}
	return string(buf), nil
}

// shouldPrompt writes "> " only when stdin and stdout both look like a
// terminal; piping a script into the REPL through stdin (a common way to
// drive it from tests) shouldn't pollute stdout with prompts.
func shouldPrompt(in io.Reader, out io.Writer) bool {
	inFile, ok := in.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	outFile, ok := out.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(inFile.Fd()) && isatty.IsTerminal(outFile.Fd())
}
