package expr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/lemonberrylabs/calcd/pkg/types"
)

// TokenStream reads tokens from an input source one at a time and can hold
// a single token that was put back. It is the only reader of its input.
type TokenStream struct {
	r   *bufio.Reader
	pos int // byte offset of the next unread input

	full   bool  // is there a token in buffer?
	buffer Token // token kept by Putback
}

// NewTokenStream creates a token stream reading from r.
func NewTokenStream(r io.Reader) *TokenStream {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &TokenStream{r: br}
}

// Pos returns the byte offset of the next unread input character.
func (ts *TokenStream) Pos() int {
	return ts.pos
}

// Buffered reports whether a token is waiting in the pushback buffer.
func (ts *TokenStream) Buffered() bool {
	return ts.full
}

// Putback stores t so the next Get returns it. Only one token may be held.
func (ts *TokenStream) Putback(t Token) error {
	if ts.full {
		return types.NewInvalidPushbackError()
	}
	ts.buffer = t
	ts.full = true
	return nil
}

// Get returns the buffered token if there is one, otherwise reads the next
// token from the input. Exhausted input yields a TokenEnd token. A character
// that starts no token yields a BadToken error and is left unread.
func (ts *TokenStream) Get() (Token, error) {
	if ts.full {
		ts.full = false
		return ts.buffer, nil
	}

	ch, err := ts.skipWhitespace()
	if errors.Is(err, io.EOF) {
		return Token{Type: TokenEnd, Pos: ts.pos}, nil
	}
	if err != nil {
		return Token{}, fmt.Errorf("reading input: %w", err)
	}

	if tt, ok := symbols[ch]; ok {
		ts.pos++
		return Token{Type: tt, Pos: ts.pos - 1}, nil
	}

	if ch == '.' || isDigit(ch) {
		// Leave the character in the input; readNumber consumes the literal.
		if err := ts.r.UnreadRune(); err != nil {
			return Token{}, fmt.Errorf("reading input: %w", err)
		}
		return ts.readNumber()
	}

	if err := ts.r.UnreadRune(); err != nil {
		return Token{}, fmt.Errorf("reading input: %w", err)
	}
	return Token{}, types.NewBadTokenError(ts.pos, strconv.QuoteRune(ch))
}

// skipWhitespace reads past spaces, tabs and newlines and returns the first
// other rune. That rune is consumed from the reader but not counted in pos.
func (ts *TokenStream) skipWhitespace() (rune, error) {
	for {
		ch, size, err := ts.r.ReadRune()
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(ch) {
			return ch, nil
		}
		ts.pos += size
	}
}

// readNumber reads a decimal floating-point literal: digits, an optional
// fraction, and an optional exponent.
func (ts *TokenStream) readNumber() (Token, error) {
	start := ts.pos
	var sb strings.Builder

	ts.readDigits(&sb)
	if ts.peekByte(0) == '.' {
		ts.accept(&sb)
		ts.readDigits(&sb)
	}
	if ts.exponentAhead() {
		ts.accept(&sb) // e or E
		if c := ts.peekByte(0); c == '+' || c == '-' {
			ts.accept(&sb)
		}
		ts.readDigits(&sb)
	}

	raw := sb.String()
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return Token{}, types.NewBadTokenError(start, fmt.Sprintf("number %q out of range", raw))
		}
		return Token{}, types.NewBadTokenError(start, fmt.Sprintf("invalid number %q", raw))
	}
	return Token{Type: TokenNumber, Value: f, Pos: start}, nil
}

// exponentAhead reports whether the input continues with an exponent marker
// followed by at least one digit, optionally after a sign. It peeks only as
// far as needed so an interactive reader is not blocked on the next line.
func (ts *TokenStream) exponentAhead() bool {
	if c := ts.peekByte(0); c != 'e' && c != 'E' {
		return false
	}
	c := ts.peekByte(1)
	if c == '+' || c == '-' {
		return isDigit(rune(ts.peekByte(2)))
	}
	return isDigit(rune(c))
}

func (ts *TokenStream) readDigits(sb *strings.Builder) {
	for isDigit(rune(ts.peekByte(0))) {
		ts.accept(sb)
	}
}

// accept moves one byte from the input into sb.
func (ts *TokenStream) accept(sb *strings.Builder) {
	b, err := ts.r.ReadByte()
	if err != nil {
		return
	}
	sb.WriteByte(b)
	ts.pos++
}

// peekByte returns the input byte i positions ahead, or 0 if unavailable.
func (ts *TokenStream) peekByte(i int) byte {
	b, _ := ts.r.Peek(i + 1)
	if len(b) <= i {
		return 0
	}
	return b[i]
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
