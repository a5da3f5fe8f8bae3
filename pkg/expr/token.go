// Package expr implements the calculator's lexer and evaluator: a token
// stream with one-token pushback feeding a three-level recursive descent
// grammar (expression, term, primary) that computes float64 results.
package expr

import "strconv"

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Control
	TokenEnd   TokenType = iota // input exhausted
	TokenPrint                  // ;
	TokenQuit                   // q

	// Literals
	TokenNumber // floating-point literal

	// Grouping
	TokenLParen // (
	TokenRParen // )
	TokenLBrace // {
	TokenRBrace // }

	// Operators
	TokenPlus    // +
	TokenMinus   // -
	TokenStar    // *
	TokenSlash   // /
	TokenPercent // %
	TokenBang    // !
)

// symbols maps each single-character symbol to its token type.
var symbols = map[rune]TokenType{
	';': TokenPrint,
	'q': TokenQuit,
	'(': TokenLParen,
	')': TokenRParen,
	'{': TokenLBrace,
	'}': TokenRBrace,
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'%': TokenPercent,
	'!': TokenBang,
}

// Token represents a single lexical token. Value is meaningful only for
// TokenNumber.
type Token struct {
	Type  TokenType
	Value float64
	Pos   int // byte offset in the input
}

// String returns a debug-friendly representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenEnd:
		return "END"
	case TokenPrint:
		return "PRINT"
	case TokenQuit:
		return "QUIT"
	case TokenNumber:
		return "NUMBER"
	case TokenLParen:
		return "LPAREN"
	case TokenRParen:
		return "RPAREN"
	case TokenLBrace:
		return "LBRACE"
	case TokenRBrace:
		return "RBRACE"
	case TokenPlus:
		return "PLUS"
	case TokenMinus:
		return "MINUS"
	case TokenStar:
		return "STAR"
	case TokenSlash:
		return "SLASH"
	case TokenPercent:
		return "PERCENT"
	case TokenBang:
		return "BANG"
	default:
		return "UNKNOWN"
	}
}

// String renders the token as it would appear in source.
func (t Token) String() string {
	if t.Type == TokenNumber {
		return strconv.FormatFloat(t.Value, 'g', -1, 64)
	}
	if t.Type == TokenEnd {
		return "end of input"
	}
	for ch, tt := range symbols {
		if tt == t.Type {
			return strconv.QuoteRune(ch)
		}
	}
	return t.Type.String()
}
