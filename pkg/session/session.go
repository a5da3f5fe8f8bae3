// Package session implements the calculator's read-evaluate-print driver:
// it prompts, skips print markers, stops on quit or end of input, and
// writes one result line per evaluated statement.
package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemonberrylabs/calcd/pkg/expr"
	"github.com/lemonberrylabs/calcd/pkg/types"
)

// Default driver settings.
const (
	DefaultPrompt       = ">"
	DefaultResultMarker = "="
)

// Options configures a Session.
type Options struct {
	Prompt       string
	ResultMarker string
	Precision    int // significant digits; 0 selects the default, negative the shortest round-trip
	MaxDepth     int // nesting limit for the evaluator; 0 disables it
	// MaxStatements bounds the number of evaluated statements; 0 is unlimited.
	MaxStatements int
	// Interactive prints the prompt before each statement.
	Interactive bool
	Logger      zerolog.Logger
}

// DefaultOptions returns the settings of the classic calculator.
func DefaultOptions() Options {
	return Options{
		Prompt:       DefaultPrompt,
		ResultMarker: DefaultResultMarker,
		Precision:    expr.DefaultPrecision,
		MaxDepth:     expr.DefaultMaxDepth,
		Logger:       zerolog.Nop(),
	}
}

// Session owns the token stream for one input source and evaluates its
// statements in order.
type Session struct {
	ts   *expr.TokenStream
	eval *expr.Evaluator
	out  io.Writer
	opts Options
	log  zerolog.Logger

	statements int
}

// New creates a session reading statements from in and writing prompts and
// results to out.
func New(in io.Reader, out io.Writer, opts Options) *Session {
	if opts.Precision == 0 {
		opts.Precision = expr.DefaultPrecision
	}
	ts := expr.NewTokenStream(in)
	return &Session{
		ts:   ts,
		eval: expr.NewEvaluator(ts, expr.WithMaxDepth(opts.MaxDepth)),
		out:  out,
		opts: opts,
		log:  opts.Logger,
	}
}

// Statements returns the number of statements evaluated so far.
func (s *Session) Statements() int {
	return s.statements
}

// Run evaluates statements until 'q', end of input, or the first error,
// and returns the results printed so far. Errors are never recovered: the
// first one ends the session. ctx is checked between statements.
func (s *Session) Run(ctx context.Context) ([]float64, error) {
	var results []float64
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if s.opts.Interactive {
			if _, err := io.WriteString(s.out, s.opts.Prompt); err != nil {
				return results, fmt.Errorf("writing prompt: %w", err)
			}
		}

		t, err := s.ts.Get()
		for err == nil && t.Type == expr.TokenPrint {
			t, err = s.ts.Get()
		}
		if err != nil {
			return results, err
		}
		if t.Type == expr.TokenQuit || t.Type == expr.TokenEnd {
			s.log.Debug().Int("statements", s.statements).Str("stop", t.Type.String()).Msg("session finished")
			return results, nil
		}

		if s.opts.MaxStatements > 0 && s.statements >= s.opts.MaxStatements {
			return results, types.NewResourceLimitError(
				fmt.Sprintf("statement limit exceeded (max %d)", s.opts.MaxStatements))
		}
		if err := s.ts.Putback(t); err != nil {
			return results, err
		}

		start := time.Now()
		v, err := s.eval.Expression()
		if err != nil {
			s.log.Debug().Err(err).Int("pos", s.ts.Pos()).Msg("statement failed")
			return results, err
		}
		s.statements++
		results = append(results, v)
		s.log.Debug().Float64("value", v).Dur("took", time.Since(start)).Msg("statement evaluated")

		if _, err := fmt.Fprintf(s.out, "%s%s\n", s.opts.ResultMarker, expr.FormatValue(v, s.opts.Precision)); err != nil {
			return results, fmt.Errorf("writing result: %w", err)
		}
	}
}
