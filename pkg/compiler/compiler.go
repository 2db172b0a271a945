package compiler

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/BBpezsgo/Interpreter-sub015/pkg/vm"
)

// Compile assembles source code to a program with debug information.
func Compile(source string) (*vm.Program, error) {
	return CompileFile("", source)
}

// CompileFile is like Compile but records name as the source file of every
// instruction until a .file directive says otherwise.
func CompileFile(name, source string) (*vm.Program, error) {
	parser := NewParser(source)
	asmProgram, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	compiler := &Compiler{
		file:    name,
		code:    make([]vm.Instruction, 0, len(asmProgram.Instructions)),
		structs: make(map[string]*vm.TypeInfo),
		debug:   &vm.DebugInformation{},
	}

	return compiler.compile(asmProgram)
}

// Compiler turns a parsed program into instructions and debug information.
type Compiler struct {
	labels  map[string]int
	file    string
	code    []vm.Instruction
	structs map[string]*vm.TypeInfo
	debug   *vm.DebugInformation

	fn       *vm.FunctionInformation
	elements []vm.StackElement
}

func (c *Compiler) compile(program *AsmProgram) (*vm.Program, error) {
	c.labels = program.Labels
	// Function names are call targets even without an explicit label.
	for _, d := range program.Directives {
		if d.Name != "func" || len(d.Args) != 1 || d.Args[0].Type != TokenIdent {
			continue
		}
		if _, ok := c.labels[d.Args[0].Value]; !ok {
			c.labels[d.Args[0].Value] = d.Index
		}
	}

	next := 0
	applyUpTo := func(index int) error {
		for ; next < len(program.Directives) && program.Directives[next].Index <= index; next++ {
			d := program.Directives[next]
			if err := c.directive(d); err != nil {
				return fmt.Errorf("line %d: %w", d.Line, err)
			}
		}
		return nil
	}

	for i, inst := range program.Instructions {
		if err := applyUpTo(i); err != nil {
			return nil, err
		}
		bytecode, err := c.compileInstruction(inst)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", inst.Line, err)
		}
		c.code = append(c.code, bytecode)
		c.debug.SourceLocations = append(c.debug.SourceLocations, vm.SourceLocation{
			Instructions: vm.InstructionRange{Start: i, End: i},
			File:         c.file,
			Line:         inst.Line,
			Column:       inst.Column,
		})
	}
	if err := applyUpTo(len(program.Instructions)); err != nil {
		return nil, err
	}
	if c.fn != nil {
		return nil, fmt.Errorf("%w: function %s has no .endfunc", ErrDirective, c.fn.Name)
	}

	return &vm.Program{Code: c.code, Debug: c.debug}, nil
}

func (c *Compiler) compileInstruction(inst AsmInstruction) (vm.Instruction, error) {
	opcode, ok := vm.OpcodeFromString(strings.ToUpper(inst.Opcode))
	if !ok {
		return vm.Instruction{}, fmt.Errorf("%w: %s", vm.ErrUnknownOpcode, inst.Opcode)
	}
	if want := opcode.OperandCount(); len(inst.Operands) != want {
		return vm.Instruction{}, fmt.Errorf("%w: %s takes %d, got %d", vm.ErrOperandCount, opcode, want, len(inst.Operands))
	}

	operands := make([]vm.Operand, len(inst.Operands))
	for i, op := range inst.Operands {
		encoded, err := c.compileOperand(op)
		if err != nil {
			return vm.Instruction{}, fmt.Errorf("operand %d: %w", i+1, err)
		}
		operands[i] = encoded
	}

	out := vm.NewInstruction(opcode, operands...)
	if err := out.Validate(); err != nil {
		return vm.Instruction{}, err
	}
	return out, nil
}

func (c *Compiler) compileOperand(op Operand) (vm.Operand, error) {
	switch op.Type {
	case OperandRegister:
		return vm.Reg(op.Register), nil

	case OperandLabel:
		target, ok := c.labels[op.Label]
		if !ok {
			return vm.Operand{}, fmt.Errorf("%w: %s", ErrUndefinedLabel, op.Label)
		}
		return vm.Immediate(vm.Bit32, int64(target)), nil

	case OperandInt:
		w := op.Width
		if w == 0 {
			w = vm.Bit32
		}
		if !fits(op.IntVal, w) {
			return vm.Operand{}, fmt.Errorf("%w: %d does not fit in %s", ErrValueRange, op.IntVal, w.Keyword())
		}
		return vm.Immediate(w, op.IntVal), nil

	case OperandFloat:
		switch op.Width {
		case 0, vm.Bit32:
			return vm.Immediate(vm.Bit32, int64(int32(math.Float32bits(float32(op.FloatVal))))), nil
		case vm.Bit64:
			return vm.Immediate(vm.Bit64, int64(math.Float64bits(op.FloatVal))), nil
		}
		return vm.Operand{}, fmt.Errorf("%w: float literal cannot be %s", ErrValueRange, op.Width.Keyword())

	case OperandMemory:
		w := op.Width
		if w == 0 {
			w = vm.Bit32
		}
		if op.HasBase {
			return vm.Relative(op.Register, w, op.IntVal)
		}
		if op.IntVal < 0 || op.IntVal > math.MaxInt32 {
			return vm.Operand{}, fmt.Errorf("%w: address %d", ErrValueRange, op.IntVal)
		}
		return vm.Absolute(w, op.IntVal)
	}
	return vm.Operand{}, fmt.Errorf("%w: operand type %d", ErrSyntax, op.Type)
}

// fits reports whether v is representable in w bits, signed or unsigned.
func fits(v int64, w vm.BitWidth) bool {
	if w >= vm.Bit64 {
		return true
	}
	return v >= -(1<<(w-1)) && v <= 1<<w-1
}

// ===== Directives =====

func (c *Compiler) directive(d Directive) error {
	switch d.Name {
	case "file":
		if len(d.Args) != 1 {
			return fmt.Errorf("%w: .file takes a name", ErrDirective)
		}
		name := d.Args[0].Value
		if d.Args[0].Type == TokenString {
			unquoted, err := strconv.Unquote(name)
			if err != nil {
				return fmt.Errorf("%w: .file %s", ErrDirective, name)
			}
			name = unquoted
		}
		c.file = name

	case "func":
		if len(d.Args) != 1 || d.Args[0].Type != TokenIdent {
			return fmt.Errorf("%w: .func takes a name", ErrDirective)
		}
		if c.fn != nil {
			return fmt.Errorf("%w: .func %s inside %s", ErrDirective, d.Args[0].Value, c.fn.Name)
		}
		c.fn = &vm.FunctionInformation{
			Instructions: vm.InstructionRange{Start: d.Index},
			Name:         d.Args[0].Value,
			File:         c.file,
		}
		c.elements = nil

	case "endfunc":
		if c.fn == nil {
			return fmt.Errorf("%w: .endfunc without .func", ErrDirective)
		}
		if d.Index == c.fn.Instructions.Start {
			return fmt.Errorf("%w: function %s is empty", ErrDirective, c.fn.Name)
		}
		c.fn.Instructions.End = d.Index - 1
		c.debug.Functions = append(c.debug.Functions, *c.fn)
		if len(c.elements) > 0 {
			c.debug.Scopes = append(c.debug.Scopes, vm.ScopeInformation{
				Instructions: c.fn.Instructions,
				Elements:     c.elements,
			})
		}
		c.fn, c.elements = nil, nil

	case "param", "local":
		if c.fn == nil {
			return fmt.Errorf("%w: .%s outside a function", ErrDirective, d.Name)
		}
		el, err := c.stackElement(d)
		if err != nil {
			return err
		}
		c.elements = append(c.elements, el)

	case "struct":
		return c.defineStruct(d)

	case "frame":
		if len(d.Args) < 2 {
			return fmt.Errorf("%w: .frame takes the saved CP and BP offsets", ErrDirective)
		}
		cp, rest, err := signedArg(d.Args)
		if err != nil {
			return err
		}
		bp, rest, err := signedArg(rest)
		if err != nil {
			return err
		}
		if len(rest) != 0 {
			return fmt.Errorf("%w: trailing arguments to .frame", ErrDirective)
		}
		c.debug.FrameOffsets = &vm.FrameOffsets{SavedCodePointer: int(cp), SavedBasePointer: int(bp)}

	default:
		return fmt.Errorf("%w: unknown directive .%s", ErrDirective, d.Name)
	}
	return nil
}

// stackElement reads ".param name type offset" or ".local name type offset".
func (c *Compiler) stackElement(d Directive) (vm.StackElement, error) {
	args := d.Args
	if len(args) < 3 || args[0].Type != TokenIdent {
		return vm.StackElement{}, fmt.Errorf("%w: .%s takes a name, a type and an offset", ErrDirective, d.Name)
	}
	t, rest, err := c.parseType(args[1:])
	if err != nil {
		return vm.StackElement{}, err
	}
	offset, rest, err := signedArg(rest)
	if err != nil {
		return vm.StackElement{}, err
	}
	if len(rest) != 0 {
		return vm.StackElement{}, fmt.Errorf("%w: trailing arguments to .%s", ErrDirective, d.Name)
	}
	kind := vm.ElementVariable
	if d.Name == "param" {
		kind = vm.ElementParameter
	}
	return vm.StackElement{
		Kind:       kind,
		Identifier: args[0].Value,
		Type:       t,
		Address:    int(offset),
		Size:       t.Size(),
	}, nil
}

// defineStruct reads ".struct Name field:type ...". Fields are laid out in
// order without padding.
func (c *Compiler) defineStruct(d Directive) error {
	args := d.Args
	if len(args) < 1 || args[0].Type != TokenIdent {
		return fmt.Errorf("%w: .struct takes a name", ErrDirective)
	}
	name := args[0].Value
	if _, ok := c.structs[name]; ok {
		return fmt.Errorf("%w: struct %s already defined", ErrDirective, name)
	}
	if _, ok := vm.BuiltinType(name); ok {
		return fmt.Errorf("%w: struct %s shadows a builtin type", ErrDirective, name)
	}

	t := &vm.TypeInfo{Kind: vm.TypeStruct, Name: name}
	offset := 0
	rest := args[1:]
	for len(rest) > 0 {
		if len(rest) < 3 || rest[0].Type != TokenIdent || rest[1].Type != TokenColon {
			return fmt.Errorf("%w: struct %s: expected field:type", ErrDirective, name)
		}
		field := rest[0].Value
		ft, after, err := c.parseType(rest[2:])
		if err != nil {
			return err
		}
		t.Fields = append(t.Fields, vm.FieldInfo{Name: field, Type: ft, Offset: offset})
		offset += ft.Size()
		rest = after
	}
	c.structs[name] = t
	return nil
}

// parseType reads "i32", "Point", "*u8" or "[4]char" from the front of
// tokens and returns what follows it.
func (c *Compiler) parseType(tokens []Token) (*vm.TypeInfo, []Token, error) {
	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("%w: missing type", ErrUnknownType)
	}
	tok := tokens[0]
	switch tok.Type {
	case TokenStar:
		elem, rest, err := c.parseType(tokens[1:])
		if err != nil {
			return nil, nil, err
		}
		return vm.PointerTo(elem), rest, nil

	case TokenLBracket:
		if len(tokens) < 3 || tokens[1].Type != TokenInt || tokens[2].Type != TokenRBracket {
			return nil, nil, fmt.Errorf("%w: malformed array type", ErrUnknownType)
		}
		n, err := parseIntLiteral(tokens[1])
		if err != nil {
			return nil, nil, err
		}
		if n <= 0 {
			return nil, nil, fmt.Errorf("%w: array length %d", ErrUnknownType, n)
		}
		elem, rest, err := c.parseType(tokens[3:])
		if err != nil {
			return nil, nil, err
		}
		return vm.ArrayOf(elem, int(n)), rest, nil

	case TokenIdent:
		if t, ok := vm.BuiltinType(tok.Value); ok {
			return t, tokens[1:], nil
		}
		if t, ok := c.structs[tok.Value]; ok {
			return t, tokens[1:], nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownType, tok.Value)
}

func signedArg(tokens []Token) (int64, []Token, error) {
	negative := false
	if len(tokens) > 0 && tokens[0].Type == TokenMinus {
		negative = true
		tokens = tokens[1:]
	}
	if len(tokens) == 0 || tokens[0].Type != TokenInt {
		return 0, nil, fmt.Errorf("%w: expected an integer", ErrDirective)
	}
	n, err := parseIntLiteral(tokens[0])
	if err != nil {
		return 0, nil, err
	}
	if negative {
		n = -n
	}
	return n, tokens[1:], nil
}
