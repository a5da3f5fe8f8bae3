// Package types defines the tagged errors shared by the calculator packages.
package types

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the class of a calculator error.
type ErrorKind string

// Error kinds raised by the calculator.
const (
	KindBadToken            ErrorKind = "BadToken"
	KindInvalidPushback     ErrorKind = "InvalidPushback"
	KindPrimaryExpected     ErrorKind = "PrimaryExpected"
	KindMismatchedDelimiter ErrorKind = "MismatchedDelimiter"
	KindDivisionByZero      ErrorKind = "DivisionByZero"
	KindModuloByZero        ErrorKind = "ModuloByZero"
	KindNegativeFactorial   ErrorKind = "NegativeFactorial"
	KindRecursionLimit      ErrorKind = "RecursionLimit"
	KindUnexpectedToken     ErrorKind = "UnexpectedToken"
	KindResourceLimit       ErrorKind = "ResourceLimit"
)

var knownKinds = map[ErrorKind]bool{
	KindBadToken:            true,
	KindInvalidPushback:     true,
	KindPrimaryExpected:     true,
	KindMismatchedDelimiter: true,
	KindDivisionByZero:      true,
	KindModuloByZero:        true,
	KindNegativeFactorial:   true,
	KindRecursionLimit:      true,
	KindUnexpectedToken:     true,
	KindResourceLimit:       true,
}

// ParseKind returns the ErrorKind named s.
func ParseKind(s string) (ErrorKind, bool) {
	k := ErrorKind(s)
	return k, knownKinds[k]
}

// Process exit statuses.
const (
	ExitOK      = 0
	ExitKnown   = 1 // a CalcError aborted the run
	ExitUnknown = 2 // anything else
)

// CalcError is a calculator failure tagged with its kind. Every kind is
// terminating: it propagates unchanged to whoever drives the evaluation.
type CalcError struct {
	Kind    ErrorKind
	Message string
	Pos     int // byte offset in the input, -1 when unknown
}

// Error implements the error interface.
func (e *CalcError) Error() string {
	return e.Message
}

// ToMap converts the error into a JSON-friendly payload.
func (e *CalcError) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"kind":    string(e.Kind),
		"message": e.Message,
	}
	if e.Pos >= 0 {
		m["position"] = e.Pos
	}
	return m
}

// KindOf reports the kind of the first CalcError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CalcError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries a CalcError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if _, ok := KindOf(err); ok {
		return ExitKnown
	}
	return ExitUnknown
}

// Common error constructors.

// NewBadTokenError creates a BadToken error.
func NewBadTokenError(pos int, detail string) *CalcError {
	msg := "Bad token"
	if detail != "" {
		msg = fmt.Sprintf("Bad token: %s", detail)
	}
	return &CalcError{Kind: KindBadToken, Message: msg, Pos: pos}
}

// NewInvalidPushbackError creates an InvalidPushback error.
func NewInvalidPushbackError() *CalcError {
	return &CalcError{Kind: KindInvalidPushback, Message: "putback() into a full buffer", Pos: -1}
}

// NewPrimaryExpectedError creates a PrimaryExpected error.
func NewPrimaryExpectedError(pos int, msg string) *CalcError {
	if msg == "" {
		msg = "primary expected"
	}
	return &CalcError{Kind: KindPrimaryExpected, Message: msg, Pos: pos}
}

// NewMismatchedDelimiterError creates a MismatchedDelimiter error naming the
// closer that was expected.
func NewMismatchedDelimiterError(pos int, want byte) *CalcError {
	return &CalcError{Kind: KindMismatchedDelimiter, Message: fmt.Sprintf("'%c' expected", want), Pos: pos}
}

// NewDivisionByZeroError creates a DivisionByZero error.
func NewDivisionByZeroError(pos int) *CalcError {
	return &CalcError{Kind: KindDivisionByZero, Message: "divide by zero", Pos: pos}
}

// NewModuloByZeroError creates a ModuloByZero error.
func NewModuloByZeroError(pos int) *CalcError {
	return &CalcError{Kind: KindModuloByZero, Message: "%: divide by zero", Pos: pos}
}

// NewNegativeFactorialError creates a NegativeFactorial error.
func NewNegativeFactorialError(pos int) *CalcError {
	return &CalcError{Kind: KindNegativeFactorial, Message: "Factorial of a negative number is undefined", Pos: pos}
}

// NewRecursionLimitError creates a RecursionLimit error for input nested
// deeper than the evaluator allows.
func NewRecursionLimitError(pos, max int) *CalcError {
	return &CalcError{
		Kind:    KindRecursionLimit,
		Message: fmt.Sprintf("expression nesting exceeds limit (max %d)", max),
		Pos:     pos,
	}
}

// NewUnexpectedTokenError creates an UnexpectedToken error.
func NewUnexpectedTokenError(pos int, tok string) *CalcError {
	return &CalcError{Kind: KindUnexpectedToken, Message: fmt.Sprintf("unexpected token %s after expression", tok), Pos: pos}
}

// NewResourceLimitError creates a ResourceLimit error.
func NewResourceLimitError(msg string) *CalcError {
	return &CalcError{Kind: KindResourceLimit, Message: msg, Pos: -1}
}
