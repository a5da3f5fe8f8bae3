package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lemonberrylabs/calcd/pkg/types"
)

func run(t *testing.T, input string, opts Options) (string, []float64, error) {
	t.Helper()
	var out strings.Builder
	s := New(strings.NewReader(input), &out, opts)
	results, err := s.Run(context.Background())
	return out.String(), results, err
}

func TestSessionOutput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"quit only", "q", ""},
		{"print markers then quit", ";;;q", ""},
		{"empty input", "", ""},
		{"whitespace only", " \n\t ", ""},
		{"two statements", "2+3*4; (2+3)*4; q", "=14\n=20\n"},
		{"no terminator", "2+3*4", "=14\n"},
		{"newline separated", "1+1;\n2*2;\n", "=2\n=4\n"},
		{"adjacent expressions", "1;2 3;q", "=1\n=2\n=3\n"},
		{"stops at quit", "7; q; 8;", "=7\n"},
		{"factorial", "5!; 0!;", "=120\n=1\n"},
		{"six significant digits", "1/3; 1234567;", "=0.333333\n=1.23457e+06\n"},
		{"braces and modulo", "{7+3}%4;", "=2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := run(t, tt.input, DefaultOptions())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionResults(t *testing.T) {
	_, results, err := run(t, "1+1; 8-3-2; 8/4/2; q", DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 3, 1}
	if len(results) != len(want) {
		t.Fatalf("results = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result %d = %v, want %v", i, results[i], want[i])
		}
	}
}

func TestSessionAbortsOnFirstError(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    types.ErrorKind
		output  string
		results int
	}{
		{"division by zero", "1; 1/0; 5;", types.KindDivisionByZero, "=1\n", 1},
		{"modulo by zero", "1%0; 2;", types.KindModuloByZero, "", 0},
		{"mismatched", "(1+2; 3;", types.KindMismatchedDelimiter, "", 0},
		{"bad token", "2; x; 3;", types.KindBadToken, "=2\n", 1},
		{"primary expected", "*2;", types.KindPrimaryExpected, "", 0},
		// '!' only binds to a literal, so it is left over as the next statement.
		{"factorial on a group", "(-1)!; q", types.KindPrimaryExpected, "=-1\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, results, err := run(t, tt.input, DefaultOptions())
			if !types.IsKind(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			if out != tt.output {
				t.Errorf("output = %q, want %q", out, tt.output)
			}
			if len(results) != tt.results {
				t.Errorf("got %d results, want %d", len(results), tt.results)
			}
			if types.ExitCode(err) != types.ExitKnown {
				t.Errorf("exit code = %d, want %d", types.ExitCode(err), types.ExitKnown)
			}
		})
	}
}

func TestSessionInteractivePrompt(t *testing.T) {
	opts := DefaultOptions()
	opts.Interactive = true

	out, _, err := run(t, "1;q", opts)
	if err != nil {
		t.Fatal(err)
	}
	if out != ">=1\n>" {
		t.Errorf("output = %q", out)
	}
}

func TestSessionCustomMarkers(t *testing.T) {
	opts := DefaultOptions()
	opts.Interactive = true
	opts.Prompt = "calc> "
	opts.ResultMarker = "= "
	opts.Precision = -1

	out, _, err := run(t, "1/3", opts)
	if err != nil {
		t.Fatal(err)
	}
	if out != "calc> = 0.3333333333333333\ncalc> " {
		t.Errorf("output = %q", out)
	}
}

func TestSessionZeroPrecisionUsesDefault(t *testing.T) {
	out, _, err := run(t, "2/3", Options{ResultMarker: "=", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if out != "=0.666667\n" {
		t.Errorf("output = %q", out)
	}
}

func TestSessionStatementLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxStatements = 2

	out, results, err := run(t, "1;2;3;", opts)
	if !types.IsKind(err, types.KindResourceLimit) {
		t.Fatalf("expected ResourceLimit, got %v", err)
	}
	if out != "=1\n=2\n" || len(results) != 2 {
		t.Errorf("output = %q, results = %v", out, results)
	}

	// Trailing print markers and quit do not count.
	if _, _, err := run(t, "1;2;;;q", opts); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSessionNestingLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDepth = 3

	_, _, err := run(t, "((((1))))", opts)
	if !types.IsKind(err, types.KindRecursionLimit) {
		t.Fatalf("expected RecursionLimit, got %v", err)
	}
}

func TestSessionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out strings.Builder
	s := New(strings.NewReader("1;2;"), &out, DefaultOptions())
	_, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if types.ExitCode(err) != types.ExitUnknown {
		t.Errorf("exit code = %d, want %d", types.ExitCode(err), types.ExitUnknown)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestSessionWriteFailure(t *testing.T) {
	s := New(strings.NewReader("1;"), failingWriter{}, DefaultOptions())
	_, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := types.KindOf(err); ok {
		t.Errorf("write failure should not carry a calculator kind: %v", err)
	}
}

func TestSessionStatementsCount(t *testing.T) {
	s := New(strings.NewReader("1;;2;q"), &strings.Builder{}, DefaultOptions())
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Statements() != 2 {
		t.Errorf("statements = %d, want 2", s.Statements())
	}
}
