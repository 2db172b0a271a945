package compiler

import (
	"testing"
)

func TestLexer_BasicTokens(t *testing.T) {
	input := `loop: MOVE DWORD [BP - 8], EAX ; comment`

	tokens := NewLexer(input).Tokenize()

	expected := []TokenType{
		TokenIdent, TokenColon, TokenIdent, TokenWidth, TokenLBracket, TokenRegister,
		TokenMinus, TokenInt, TokenRBracket, TokenComma, TokenRegister, TokenEOF,
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d: %v", len(expected), len(tokens), tokens)
	}
	for i, tok := range tokens {
		if tok.Type != expected[i] {
			t.Errorf("token %d: expected %v, got %v", i, expected[i], tok.Type)
		}
	}
}

func TestLexer_Words(t *testing.T) {
	tests := []struct {
		input    string
		expected TokenType
	}{
		{"RAX", TokenRegister},
		{"eax", TokenRegister},
		{"AL", TokenRegister},
		{"SP", TokenRegister},
		{"BP", TokenRegister},
		{"BYTE", TokenWidth},
		{"qword", TokenWidth},
		{"MOVE", TokenIdent},
		{"main_loop2", TokenIdent},
		{".func", TokenDirective},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tokens := NewLexer(tt.input).Tokenize()
			if tokens[0].Type != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, tokens[0].Type)
			}
		})
	}
}

func TestLexer_Numbers(t *testing.T) {
	tests := []struct {
		input    string
		expected TokenType
		value    string
	}{
		{"42", TokenInt, "42"},
		{"0x1F", TokenInt, "0x1F"},
		{"3.14", TokenFloat, "3.14"},
		{"'A'", TokenChar, "'A'"},
		{`"main.bb"`, TokenString, `"main.bb"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tokens := NewLexer(tt.input).Tokenize()
			if tokens[0].Type != tt.expected || tokens[0].Value != tt.value {
				t.Errorf("expected %v %q, got %v %q", tt.expected, tt.value, tokens[0].Type, tokens[0].Value)
			}
		})
	}
}

func TestLexer_Positions(t *testing.T) {
	tokens := NewLexer("NOP\n  PUSH 1").Tokenize()
	// NOP NEWLINE PUSH 1 EOF
	if tokens[2].Line != 2 || tokens[2].Column != 3 {
		t.Errorf("PUSH at %d:%d, want 2:3", tokens[2].Line, tokens[2].Column)
	}
	if tokens[3].Column != 8 {
		t.Errorf("1 at column %d, want 8", tokens[3].Column)
	}
}

func TestLexer_DirectiveName(t *testing.T) {
	tokens := NewLexer(".FUNC main").Tokenize()
	if tokens[0].Type != TokenDirective || tokens[0].Value != "func" {
		t.Errorf("got %v %q", tokens[0].Type, tokens[0].Value)
	}
}

func TestLexer_UnterminatedString(t *testing.T) {
	tokens := NewLexer(`.file "main.bb`).Tokenize()
	if tokens[1].Type != TokenIllegal {
		t.Errorf("expected ILLEGAL, got %v", tokens[1].Type)
	}
}
