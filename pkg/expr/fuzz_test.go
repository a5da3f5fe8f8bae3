package expr

import (
	"strings"
	"testing"

	"github.com/lemonberrylabs/calcd/pkg/types"
)

var pushbackCorpus = []string{
	"", ";", "q", "1", "1+", "(", ")", "{", "}", "!", "5!", "5!!", "(1+2)!",
	"--5", "-(2+3)", "{1+2)", "(1+2}", "1/0", "1%0", "2 3", "1;2;q",
	"((((1))))", "1+2*3-4/5%6", "-+-+1", "3!*2!+1!", "1e", "1e+", ".",
	"1..2", "(1+(2*{3-4})/5)", "*", "+", "8-3-2", "8/4/2", "0!", "1 2 3",
	"()", "{}", "(!)", "!5", "5 !", "1+;", ";;;q", "5!q",
}

// Every grammar level either consumes the token it reads or puts it back and
// returns, so no input can fill the buffer twice.
func TestNoInputTriggersInvalidPushback(t *testing.T) {
	for _, in := range pushbackCorpus {
		_, err := Evaluate(in)
		if types.IsKind(err, types.KindInvalidPushback) {
			t.Errorf("%q: %v", in, err)
		}
		if err := drainStatements(in); types.IsKind(err, types.KindInvalidPushback) {
			t.Errorf("%q (statements): %v", in, err)
		}
	}
}

func FuzzEvaluate(f *testing.F) {
	for _, in := range pushbackCorpus {
		f.Add(in)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if len(in) > 256 {
			return
		}
		_, err := Evaluate(in)
		if err == nil {
			return
		}
		if _, ok := types.KindOf(err); !ok {
			t.Fatalf("%q: error without a kind: %v", in, err)
		}
		if types.IsKind(err, types.KindInvalidPushback) {
			t.Fatalf("%q: %v", in, err)
		}
		if err := drainStatements(in); types.IsKind(err, types.KindInvalidPushback) {
			t.Fatalf("%q (statements): %v", in, err)
		}
	})
}

// drainStatements evaluates in as a sequence of statements the way the
// interactive driver does, stopping at the first error, 'q', or end of input.
func drainStatements(in string) error {
	ts := NewTokenStream(strings.NewReader(in))
	ev := NewEvaluator(ts)
	for {
		t, err := ts.Get()
		for err == nil && t.Type == TokenPrint {
			t, err = ts.Get()
		}
		if err != nil {
			return err
		}
		if t.Type == TokenQuit || t.Type == TokenEnd {
			return nil
		}
		if err := ts.Putback(t); err != nil {
			return err
		}
		if _, err := ev.Expression(); err != nil {
			return err
		}
	}
}
