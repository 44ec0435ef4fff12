package repl

import (
	"bytes"
	"strings"
	"testing"

	"sentra/internal/vm"
)

func TestStartEvaluatesEachLineAgainstAPersistentVM(t *testing.T) {
	t.Run("single expression", func(t *testing.T) {
		interp := vm.New()
		var out, errOut bytes.Buffer
		Start(interp, strings.NewReader("print 1 + 2;\n"), &out, &errOut, Options{})
		if out.String() != "3\n" {
			t.Fatalf("got %q, want %q (stderr: %s)", out.String(), "3\n", errOut.String())
		}
	})

	t.Run("globals persist across lines", func(t *testing.T) {
		interp := vm.New()
		var out, errOut bytes.Buffer
		Start(interp, strings.NewReader("var x = 1;\nprint x + 1;\n"), &out, &errOut, Options{})
		if out.String() != "2\n" {
			t.Fatalf("got %q, want %q (stderr: %s)", out.String(), "2\n", errOut.String())
		}
	})
}

func TestStartRecoversFromACompileErrorOnOneLine(t *testing.T) {
	interp := vm.New()
	var out, errOut bytes.Buffer
	Start(interp, strings.NewReader("var;\nprint 5;\n"), &out, &errOut, Options{})
	if out.String() != "5\n" {
		t.Fatalf("got %q, want %q", out.String(), "5\n")
	}
	if !strings.Contains(errOut.String(), "Error") {
		t.Errorf("expected a compile error on stderr, got %q", errOut.String())
	}
}

func TestStartStopsCleanlyAtEOF(t *testing.T) {
	interp := vm.New()
	var out, errOut bytes.Buffer
	Start(interp, strings.NewReader(""), &out, &errOut, Options{})
	if out.Len() != 0 || errOut.Len() != 0 {
		t.Fatalf("expected no output on immediate EOF, got stdout=%q stderr=%q", out.String(), errOut.String())
	}
}
