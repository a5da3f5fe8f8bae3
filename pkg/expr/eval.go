package expr

import (
	"math"
	"strings"

	"github.com/lemonberrylabs/calcd/pkg/types"
)

// DefaultMaxDepth is the default limit on nested groups and unary prefixes.
// Each level costs one primary call frame, so this bounds recursion on
// adversarial input.
const DefaultMaxDepth = 1000

// maxFactorialArg is the largest n for which n! is finite in float64.
const maxFactorialArg = 170

// Evaluator is a recursive descent evaluator over a TokenStream.
//
// Grammar (loosest to tightest):
//
//	expression := term (("+" | "-") term)*
//	term       := primary (("*" | "/" | "%") primary)*
//	primary    := number ["!"] | "(" expression ")" | "{" expression "}"
//	            | ("-" | "+") primary
type Evaluator struct {
	ts       *TokenStream
	maxDepth int
	depth    int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxDepth sets the nesting limit. Zero or less disables the limit.
func WithMaxDepth(n int) Option {
	return func(e *Evaluator) {
		e.maxDepth = n
	}
}

// NewEvaluator creates an evaluator that borrows ts for every call.
func NewEvaluator(ts *TokenStream, opts ...Option) *Evaluator {
	e := &Evaluator{ts: ts, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate evaluates a single expression held in input. A trailing ';' is
// allowed; any other trailing token is an error.
func Evaluate(input string, opts ...Option) (float64, error) {
	ts := NewTokenStream(strings.NewReader(input))
	v, err := NewEvaluator(ts, opts...).Expression()
	if err != nil {
		return 0, err
	}

	t, err := ts.Get()
	if err != nil {
		return 0, err
	}
	if t.Type == TokenPrint {
		if t, err = ts.Get(); err != nil {
			return 0, err
		}
	}
	if t.Type != TokenEnd {
		return 0, types.NewUnexpectedTokenError(t.Pos, t.String())
	}
	return v, nil
}

// Scan tokenizes all of input and returns the tokens up to, not including,
// the end of input. It reports the first lexical error.
func Scan(input string) ([]Token, error) {
	ts := NewTokenStream(strings.NewReader(input))
	var tokens []Token
	for {
		t, err := ts.Get()
		if err != nil {
			return tokens, err
		}
		if t.Type == TokenEnd {
			return tokens, nil
		}
		tokens = append(tokens, t)
	}
}

// Expression is the grammar entry point: handles + and -.
func (e *Evaluator) Expression() (float64, error) {
	left, err := e.term()
	if err != nil {
		return 0, err
	}

	for {
		t, err := e.ts.Get()
		if err != nil {
			return 0, err
		}
		switch t.Type {
		case TokenPlus:
			d, err := e.term()
			if err != nil {
				return 0, err
			}
			left += d
		case TokenMinus:
			d, err := e.term()
			if err != nil {
				return 0, err
			}
			left -= d
		default:
			return left, e.ts.Putback(t)
		}
	}
}

// term handles *, / and %.
func (e *Evaluator) term() (float64, error) {
	left, err := e.primary()
	if err != nil {
		return 0, err
	}

	for {
		t, err := e.ts.Get()
		if err != nil {
			return 0, err
		}
		switch t.Type {
		case TokenStar:
			d, err := e.primary()
			if err != nil {
				return 0, err
			}
			left *= d
		case TokenSlash:
			d, err := e.primary()
			if err != nil {
				return 0, err
			}
			if d == 0 {
				return 0, types.NewDivisionByZeroError(t.Pos)
			}
			left /= d
		case TokenPercent:
			d, err := e.primary()
			if err != nil {
				return 0, err
			}
			if d == 0 {
				return 0, types.NewModuloByZeroError(t.Pos)
			}
			left = math.Mod(left, d)
		default:
			return left, e.ts.Putback(t)
		}
	}
}

// primary handles numbers, groups and unary prefixes.
func (e *Evaluator) primary() (float64, error) {
	t, err := e.ts.Get()
	if err != nil {
		return 0, err
	}

	switch t.Type {
	case TokenNumber:
		return e.number(t)
	case TokenLParen:
		return e.group(t, TokenRParen, ')')
	case TokenLBrace:
		return e.group(t, TokenRBrace, '}')
	case TokenMinus:
		d, err := e.unary(t)
		return -d, err
	case TokenPlus:
		return e.unary(t)
	case TokenEnd:
		return 0, types.NewPrimaryExpectedError(t.Pos, "primary expected: unexpected end of input")
	default:
		return 0, types.NewPrimaryExpectedError(t.Pos, "")
	}
}

// number returns the literal's value, applying a postfix '!' if one follows.
func (e *Evaluator) number(t Token) (float64, error) {
	next, err := e.ts.Get()
	if err != nil {
		return 0, err
	}
	if next.Type != TokenBang {
		return t.Value, e.ts.Putback(next)
	}

	v, err := Factorial(t.Value)
	if err != nil {
		return 0, types.NewNegativeFactorialError(next.Pos)
	}
	return v, nil
}

// group evaluates a delimited sub-expression and consumes its closer.
func (e *Evaluator) group(open Token, closer TokenType, want byte) (float64, error) {
	if err := e.enter(open.Pos); err != nil {
		return 0, err
	}
	defer e.leave()

	d, err := e.Expression()
	if err != nil {
		return 0, err
	}
	t, err := e.ts.Get()
	if err != nil {
		return 0, err
	}
	if t.Type != closer {
		return 0, types.NewMismatchedDelimiterError(t.Pos, want)
	}
	return d, nil
}

// unary evaluates the primary following a prefix sign.
func (e *Evaluator) unary(sign Token) (float64, error) {
	if err := e.enter(sign.Pos); err != nil {
		return 0, err
	}
	defer e.leave()
	return e.primary()
}

func (e *Evaluator) enter(pos int) error {
	if e.maxDepth > 0 && e.depth >= e.maxDepth {
		return types.NewRecursionLimitError(pos, e.maxDepth)
	}
	e.depth++
	return nil
}

func (e *Evaluator) leave() {
	e.depth--
}

// Factorial computes n! for v truncated toward zero. Negativity is checked
// after truncation, so -0.5 is treated as 0. Arguments above 170 overflow
// to +Inf.
func Factorial(v float64) (float64, error) {
	n := math.Trunc(v)
	if n < 0 {
		return 0, types.NewNegativeFactorialError(-1)
	}
	if math.IsNaN(n) {
		return n, nil
	}
	if n > maxFactorialArg {
		return math.Inf(1), nil
	}

	result := 1.0
	for i := n; i > 1; i-- {
		result *= i
	}
	return result, nil
}
