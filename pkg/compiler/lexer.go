package compiler

import (
	"strings"
	"unicode"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// TokenType represents the type of a token.
type TokenType uint8

const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenIdent     // opcodes, labels, type names
	TokenRegister  // RAX, EAX, AL, SP, ...
	TokenWidth     // BYTE, WORD, DWORD, QWORD
	TokenDirective // .func, .param, ...
	TokenInt
	TokenFloat
	TokenString // "quoted"
	TokenChar   // 'c'
	TokenComma
	TokenColon
	TokenLBracket
	TokenRBracket
	TokenPlus
	TokenMinus
	TokenStar
	TokenIllegal
)

// String returns the string representation of a token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenIdent:
		return "IDENT"
	case TokenRegister:
		return "REGISTER"
	case TokenWidth:
		return "WIDTH"
	case TokenDirective:
		return "DIRECTIVE"
	case TokenInt:
		return "INT"
	case TokenFloat:
		return "FLOAT"
	case TokenString:
		return "STRING"
	case TokenChar:
		return "CHAR"
	case TokenComma:
		return "COMMA"
	case TokenColon:
		return "COLON"
	case TokenLBracket:
		return "LBRACKET"
	case TokenRBracket:
		return "RBRACKET"
	case TokenPlus:
		return "PLUS"
	case TokenMinus:
		return "MINUS"
	case TokenStar:
		return "STAR"
	case TokenIllegal:
		return "ILLEGAL"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int
}

// Lexer tokenizes assembly source code.
type Lexer struct {
	input     string
	pos       int
	line      int
	lineStart int
	tokens    []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		line:   1,
		tokens: []Token{},
	}
}

// Tokenize tokenizes the entire input and returns the tokens.
func (l *Lexer) Tokenize() []Token {
	for l.pos < len(l.input) {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			break
		}

		ch := l.input[l.pos]

		switch {
		case ch == '\n':
			l.emit(TokenNewline, "\n", l.pos)
			l.pos++
			l.line++
			l.lineStart = l.pos

		case ch == ';':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}

		case ch == ',':
			l.single(TokenComma)
		case ch == ':':
			l.single(TokenColon)
		case ch == '[':
			l.single(TokenLBracket)
		case ch == ']':
			l.single(TokenRBracket)
		case ch == '+':
			l.single(TokenPlus)
		case ch == '-':
			l.single(TokenMinus)
		case ch == '*':
			l.single(TokenStar)

		case ch == '"':
			l.scanQuoted('"', TokenString)
		case ch == '\'':
			l.scanQuoted('\'', TokenChar)

		case ch == '.' && l.pos+1 < len(l.input) && isIdentStart(l.input[l.pos+1]):
			start := l.pos
			l.pos++
			l.scanWord()
			l.emit(TokenDirective, strings.ToLower(l.input[start+1:l.pos]), start)

		case unicode.IsDigit(rune(ch)):
			l.scanNumber()

		case isIdentStart(ch):
			start := l.pos
			l.scanWord()
			l.emit(l.classifyWord(l.input[start:l.pos]), l.input[start:l.pos], start)

		default:
			l.single(TokenIllegal)
		}
	}

	l.emit(TokenEOF, "", l.pos)
	return l.tokens
}

func (l *Lexer) emit(t TokenType, value string, start int) {
	l.tokens = append(l.tokens, Token{Type: t, Value: value, Line: l.line, Column: start - l.lineStart + 1})
}

func (l *Lexer) single(t TokenType) {
	l.emit(t, l.input[l.pos:l.pos+1], l.pos)
	l.pos++
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			l.pos++
		} else {
			break
		}
	}
}

func isIdentStart(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch == '_'
}

func (l *Lexer) scanWord() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isIdentStart(ch) || unicode.IsDigit(rune(ch)) {
			l.pos++
		} else {
			break
		}
	}
}

// scanQuoted reads up to the closing quote on the same line. Backslash
// escapes are kept verbatim; the parser unquotes them.
func (l *Lexer) scanQuoted(quote byte, t TokenType) {
	start := l.pos
	l.pos++
	for l.pos < len(l.input) && l.input[l.pos] != quote && l.input[l.pos] != '\n' {
		if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) {
			l.pos++
		}
		l.pos++
	}
	if l.pos >= len(l.input) || l.input[l.pos] != quote {
		l.emit(TokenIllegal, l.input[start:l.pos], start)
		return
	}
	l.pos++
	l.emit(t, l.input[start:l.pos], start)
}

func (l *Lexer) scanNumber() {
	start := l.pos
	isFloat := false

	if l.input[l.pos] == '0' && l.pos+1 < len(l.input) && (l.input[l.pos+1] == 'x' || l.input[l.pos+1] == 'X') {
		l.pos += 2
		for l.pos < len(l.input) && isHexDigit(l.input[l.pos]) {
			l.pos++
		}
		l.emit(TokenInt, l.input[start:l.pos], start)
		return
	}

	for l.pos < len(l.input) && unicode.IsDigit(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		isFloat = true
		l.pos++
		for l.pos < len(l.input) && unicode.IsDigit(rune(l.input[l.pos])) {
			l.pos++
		}
	}

	if isFloat {
		l.emit(TokenFloat, l.input[start:l.pos], start)
	} else {
		l.emit(TokenInt, l.input[start:l.pos], start)
	}
}

func isHexDigit(ch byte) bool {
	return unicode.IsDigit(rune(ch)) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func (l *Lexer) classifyWord(value string) TokenType {
	if _, ok := vm.ParseRegister(value); ok {
		return TokenRegister
	}
	if _, ok := vm.WidthFromKeyword(strings.ToUpper(value)); ok {
		return TokenWidth
	}
	return TokenIdent
}
