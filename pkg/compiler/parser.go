package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

var (
	ErrSyntax         = errors.New("syntax error")
	ErrDuplicateLabel = errors.New("duplicate label")
	ErrUndefinedLabel = errors.New("undefined label")
	ErrUnknownType    = errors.New("unknown type")
	ErrDirective      = errors.New("invalid directive")
	ErrValueRange     = errors.New("value out of range")
)

// OperandType represents the syntactic form of an operand.
type OperandType uint8

const (
	OperandInt OperandType = iota
	OperandFloat
	OperandRegister
	OperandMemory
	OperandLabel
)

// Operand represents an instruction operand as written.
type Operand struct {
	Type     OperandType
	Width    vm.BitWidth // 0 when no size keyword was given
	Register vm.Register // OperandRegister, or the base of OperandMemory
	HasBase  bool        // OperandMemory: [base ± offset] rather than [address]
	IntVal   int64       // literal, address or offset
	FloatVal float64
	Label    string
}

// AsmInstruction represents a parsed assembly instruction.
type AsmInstruction struct {
	Opcode   string
	Operands []Operand
	Line     int
	Column   int
}

// Directive is a dot-prefixed line. Index is the number of instructions
// that precede it.
type Directive struct {
	Name  string
	Args  []Token
	Index int
	Line  int
}

// AsmProgram represents a parsed assembly program.
type AsmProgram struct {
	Instructions []AsmInstruction
	Labels       map[string]int // label -> instruction index
	Directives   []Directive
}

// Parser parses assembly source code.
type Parser struct {
	tokens  []Token
	pos     int
	program *AsmProgram
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	lexer := NewLexer(input)
	tokens := lexer.Tokenize()
	return &Parser{
		tokens: tokens,
		program: &AsmProgram{
			Instructions: []AsmInstruction{},
			Labels:       make(map[string]int),
		},
	}
}

// Parse parses the entire input and returns the program.
func (p *Parser) Parse() (*AsmProgram, error) {
	for {
		tok := p.peek()

		switch tok.Type {
		case TokenEOF:
			return p.program, nil

		case TokenNewline:
			p.pos++

		case TokenDirective:
			p.parseDirective()

		case TokenIdent:
			if p.peekAt(1).Type == TokenColon {
				if _, dup := p.program.Labels[tok.Value]; dup {
					return nil, fmt.Errorf("line %d: %w: %s", tok.Line, ErrDuplicateLabel, tok.Value)
				}
				p.program.Labels[tok.Value] = len(p.program.Instructions)
				p.pos += 2
				continue
			}
			inst, err := p.parseInstruction()
			if err != nil {
				return nil, err
			}
			p.program.Instructions = append(p.program.Instructions, inst)

		default:
			return nil, p.unexpected(tok)
		}
	}
}

func (p *Parser) peek() Token {
	return p.peekAt(0)
}

func (p *Parser) peekAt(n int) Token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) next() Token {
	tok := p.peek()
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) unexpected(tok Token) error {
	if tok.Type == TokenNewline || tok.Type == TokenEOF {
		return fmt.Errorf("line %d: %w: unexpected end of line", tok.Line, ErrSyntax)
	}
	return fmt.Errorf("line %d:%d: %w: unexpected %s %q", tok.Line, tok.Column, ErrSyntax, tok.Type, tok.Value)
}

func atLineEnd(tok Token) bool {
	return tok.Type == TokenNewline || tok.Type == TokenEOF
}

func (p *Parser) parseDirective() {
	tok := p.next()
	d := Directive{Name: tok.Value, Line: tok.Line, Index: len(p.program.Instructions)}
	for !atLineEnd(p.peek()) {
		d.Args = append(d.Args, p.next())
	}
	p.program.Directives = append(p.program.Directives, d)
}

func (p *Parser) parseInstruction() (AsmInstruction, error) {
	tok := p.next()
	inst := AsmInstruction{
		Opcode:   tok.Value,
		Line:     tok.Line,
		Column:   tok.Column,
		Operands: []Operand{},
	}

	for !atLineEnd(p.peek()) {
		if len(inst.Operands) > 0 {
			if sep := p.next(); sep.Type != TokenComma {
				return inst, p.unexpected(sep)
			}
		}
		operand, err := p.parseOperand()
		if err != nil {
			return inst, err
		}
		inst.Operands = append(inst.Operands, operand)
	}

	return inst, nil
}

func (p *Parser) parseOperand() (Operand, error) {
	var width vm.BitWidth
	if tok := p.peek(); tok.Type == TokenWidth {
		width, _ = vm.WidthFromKeyword(strings.ToUpper(tok.Value))
		p.pos++
	}

	tok := p.peek()
	switch tok.Type {
	case TokenRegister:
		if width != 0 {
			return Operand{}, p.unexpected(tok)
		}
		p.pos++
		r, _ := vm.ParseRegister(tok.Value)
		return Operand{Type: OperandRegister, Register: r}, nil

	case TokenLBracket:
		p.pos++
		op, err := p.parseMemory()
		op.Width = width
		return op, err

	case TokenIdent:
		if width != 0 {
			return Operand{}, p.unexpected(tok)
		}
		p.pos++
		return Operand{Type: OperandLabel, Label: tok.Value}, nil

	default:
		op, err := p.parseNumber()
		op.Width = width
		return op, err
	}
}

// parseMemory reads the rest of "[100]", "[BP]", "[BP - 8]" or "[RAX + 16]".
func (p *Parser) parseMemory() (Operand, error) {
	op := Operand{Type: OperandMemory}
	if tok := p.peek(); tok.Type == TokenRegister {
		p.pos++
		op.Register, _ = vm.ParseRegister(tok.Value)
		op.HasBase = true

		switch sign := p.peek(); sign.Type {
		case TokenPlus, TokenMinus:
			p.pos++
			n, err := p.parseInt()
			if err != nil {
				return op, err
			}
			if sign.Type == TokenMinus {
				n = -n
			}
			op.IntVal = n
		}
	} else {
		n, err := p.parseSignedInt()
		if err != nil {
			return op, err
		}
		op.IntVal = n
	}
	if tok := p.next(); tok.Type != TokenRBracket {
		return op, p.unexpected(tok)
	}
	return op, nil
}

func (p *Parser) parseNumber() (Operand, error) {
	negative := false
	if p.peek().Type == TokenMinus {
		negative = true
		p.pos++
	}
	tok := p.peek()
	switch tok.Type {
	case TokenFloat:
		p.pos++
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return Operand{}, fmt.Errorf("line %d: %w: invalid float %s", tok.Line, ErrSyntax, tok.Value)
		}
		if negative {
			f = -f
		}
		return Operand{Type: OperandFloat, FloatVal: f}, nil

	case TokenChar:
		p.pos++
		r, err := unquoteChar(tok)
		if err != nil {
			return Operand{}, err
		}
		v := int64(r)
		if negative {
			v = -v
		}
		return Operand{Type: OperandInt, IntVal: v}, nil

	default:
		n, err := p.parseInt()
		if err != nil {
			return Operand{}, err
		}
		if negative {
			n = -n
		}
		return Operand{Type: OperandInt, IntVal: n}, nil
	}
}

func (p *Parser) parseSignedInt() (int64, error) {
	if p.peek().Type == TokenMinus {
		p.pos++
		n, err := p.parseInt()
		return -n, err
	}
	return p.parseInt()
}

// parseInt reads a decimal or 0x-prefixed literal. Values up to 2^64-1
// are accepted and reinterpreted as two's complement.
func (p *Parser) parseInt() (int64, error) {
	tok := p.next()
	if tok.Type != TokenInt {
		return 0, p.unexpected(tok)
	}
	return parseIntLiteral(tok)
}

func parseIntLiteral(tok Token) (int64, error) {
	digits, base := tok.Value, 10
	if len(digits) > 2 && (digits[:2] == "0x" || digits[:2] == "0X") {
		digits, base = digits[2:], 16
	}
	u, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: %w: invalid integer %s", tok.Line, ErrSyntax, tok.Value)
	}
	return int64(u), nil
}

func unquoteChar(tok Token) (rune, error) {
	s, err := strconv.Unquote(tok.Value)
	if err != nil {
		return 0, fmt.Errorf("line %d: %w: invalid character literal %s", tok.Line, ErrSyntax, tok.Value)
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, fmt.Errorf("line %d: %w: invalid character literal %s", tok.Line, ErrSyntax, tok.Value)
	}
	return r[0], nil
}
