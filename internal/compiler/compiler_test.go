package compiler

import (
	"bytes"
	"strings"
	"testing"

	"sentra/internal/vm"
)

// compileAndRun compiles source, runs it against a fresh VM, and returns
// everything written to stdout/stderr plus the run error (if any). It
// exercises Compile and Interpret together since a compile error only
// becomes visible through captured stderr text.
func compileAndRun(t *testing.T, source string) (stdout, stderr string, err error) {
	t.Helper()
	v := vm.New()
	var out, errOut bytes.Buffer
	v.Stdout = &out
	v.Stderr = &errOut

	fn, ok := Compile(source, v)
	if !ok {
		return out.String(), errOut.String(), nil
	}
	runErr := v.Interpret(fn)
	return out.String(), errOut.String(), runErr
}

func TestCompileArithmeticAndPrint(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"precedence", "print 1 + 2 * 3;", "7\n"},
		{"grouping", "print (1 + 2) * 3;", "9\n"},
		{"string concat", `print "foo" + "bar";`, "foobar\n"},
		{"comparison", "print 1 < 2;", "true\n"},
		{"not equal", "print 1 != 2;", "true\n"},
		{"negate", "print -5;", "-5\n"},
		{"not", "print !false;", "true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, err := compileAndRun(t, tt.source)
			if err != nil {
				t.Fatalf("unexpected runtime error: %v (stderr: %s)", err, errOut)
			}
			if out != tt.want {
				t.Errorf("got %q, want %q", out, tt.want)
			}
		})
	}
}

func TestCompileVariablesAndScope(t *testing.T) {
	source := `
		var a = 1;
		var b = 2;
		{
			var a = a + b;
			print a;
		}
		print a;
	`
	// The inner `a` is declared before its initializer is compiled, so the
	// `a` in `a + b` resolves to the new, not yet initialized local.
	out, errOut, err := compileAndRun(t, source)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v (stderr: %s)", err, errOut)
	}
	if !strings.Contains(errOut, "Can't read local variable in its own initializer.") {
		t.Fatalf("stderr = %q, want the own-initializer compile error", errOut)
	}
	if out != "" {
		t.Fatalf("got %q, want no output from a program that failed to compile", out)
	}
}

func TestCompileControlFlow(t *testing.T) {
	source := `
		var total = 0;
		for (var i = 0; i < 5; i = i + 1) {
			if (i == 3) {
				print "three";
			}
			total = total + i;
		}
		print total;
	`
	out, errOut, err := compileAndRun(t, source)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v (stderr: %s)", err, errOut)
	}
	if out != "three\n10\n" {
		t.Fatalf("got %q, want %q", out, "three\n10\n")
	}
}

func TestCompileWhileLoop(t *testing.T) {
	source := `
		var i = 0;
		var sum = 0;
		while (i < 4) {
			sum = sum + i;
			i = i + 1;
		}
		print sum;
	`
	out, errOut, err := compileAndRun(t, source)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v (stderr: %s)", err, errOut)
	}
	if out != "6\n" {
		t.Fatalf("got %q, want %q", out, "6\n")
	}
}

func TestCompileAndOrShortCircuit(t *testing.T) {
	source := `
		fun sideEffect() {
			print "called";
			return true;
		}
		print false and sideEffect();
		print true or sideEffect();
	`
	out, errOut, err := compileAndRun(t, source)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v (stderr: %s)", err, errOut)
	}
	if out != "false\ntrue\n" {
		t.Fatalf("got %q, want %q", out, "false\ntrue\n")
	}
}

func TestCompileFunctionsAndReturn(t *testing.T) {
	source := `
		fun add(a, b) {
			return a + b;
		}
		print add(3, 4);
	`
	out, errOut, err := compileAndRun(t, source)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v (stderr: %s)", err, errOut)
	}
	if out != "7\n" {
		t.Fatalf("got %q, want %q", out, "7\n")
	}
}

func TestCompileClosureCapturesUpvalue(t *testing.T) {
	source := `
		fun makeCounter() {
			var i = 0;
			fun counter() {
				i = i + 1;
				return i;
			}
			return counter;
		}
		var counter = makeCounter();
		print counter();
		print counter();
	`
	out, errOut, err := compileAndRun(t, source)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v (stderr: %s)", err, errOut)
	}
	if out != "1\n2\n" {
		t.Fatalf("got %q, want %q", out, "1\n2\n")
	}
}

func TestCompileRecursion(t *testing.T) {
	source := `
		fun fib(n) {
			if (n < 2) return n;
			return fib(n - 1) + fib(n - 2);
		}
		print fib(10);
	`
	out, errOut, err := compileAndRun(t, source)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v (stderr: %s)", err, errOut)
	}
	if out != "55\n" {
		t.Fatalf("got %q, want %q", out, "55\n")
	}
}

func TestCompileErrorsReportLocation(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"missing paren", "print (1 + 2;", "Expect ')' after expression."},
		{"missing semicolon", "var x = 1", "Expect ';' after variable declaration."},
		{"bad expression start", "var x = ;", "Expect expression."},
		{"return at top level", "return 1;", "Can't return from top-level code."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := vm.New()
			var errOut bytes.Buffer
			v.Stderr = &errOut
			_, ok := Compile(tt.source, v)
			if ok {
				t.Fatalf("expected a compile error for %q", tt.source)
			}
			if !strings.Contains(errOut.String(), tt.want) {
				t.Errorf("stderr = %q, want it to contain %q", errOut.String(), tt.want)
			}
		})
	}
}

func TestCompileRedeclaredLocalIsError(t *testing.T) {
	v := vm.New()
	var errOut bytes.Buffer
	v.Stderr = &errOut
	source := `
		{
			var a = 1;
			var a = 2;
		}
	`
	_, ok := Compile(source, v)
	if ok {
		t.Fatal("expected a compile error for shadowing redeclaration")
	}
	if !strings.Contains(errOut.String(), "Already a variable with this name in this scope.") {
		t.Errorf("unexpected stderr: %q", errOut.String())
	}
}
