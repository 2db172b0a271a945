package vm

import (
	"fmt"
	"strings"
)

// InstructionRange is an inclusive range of instruction indices.
type InstructionRange struct {
	Start int `cbor:"1,keyasint"`
	End   int `cbor:"2,keyasint"`
}

// Contains reports whether cp lies in the range.
func (r InstructionRange) Contains(cp int) bool {
	return cp >= r.Start && cp <= r.End
}

func (r InstructionRange) width() int { return r.End - r.Start }

// SourceLocation maps instructions to a position in a source file.
type SourceLocation struct {
	Instructions InstructionRange `cbor:"1,keyasint"`
	File         string           `cbor:"2,keyasint,omitempty"`
	Line         int              `cbor:"3,keyasint"`
	Column       int              `cbor:"4,keyasint,omitempty"`
}

func (l SourceLocation) String() string {
	file := l.File
	if file == "" {
		file = "<unknown>"
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", file, l.Line)
}

// FunctionInformation names the function compiled into a range.
type FunctionInformation struct {
	Instructions InstructionRange `cbor:"1,keyasint"`
	Name         string           `cbor:"2,keyasint"`
	File         string           `cbor:"3,keyasint,omitempty"`
}

// StackElementKind classifies a stack element.
type StackElementKind uint8

const (
	ElementParameter StackElementKind = iota
	ElementVariable
	ElementInternal
)

func (k StackElementKind) String() string {
	switch k {
	case ElementParameter:
		return "param"
	case ElementVariable:
		return "local"
	case ElementInternal:
		return "internal"
	}
	return fmt.Sprintf("StackElementKind(%d)", uint8(k))
}

// StackElement is a named slot of a stack frame. Address is relative to BP.
type StackElement struct {
	Kind       StackElementKind `cbor:"1,keyasint"`
	Identifier string           `cbor:"2,keyasint"`
	Type       *TypeInfo        `cbor:"3,keyasint,omitempty"`
	Address    int              `cbor:"4,keyasint"`
	Size       int              `cbor:"5,keyasint"`
}

// ScopeInformation lists the stack elements live in a range.
type ScopeInformation struct {
	Instructions InstructionRange `cbor:"1,keyasint"`
	Elements     []StackElement   `cbor:"2,keyasint"`
}

// FrameOffsets locates the saved code and base pointers relative to a
// frame's BP.
type FrameOffsets struct {
	SavedCodePointer int `cbor:"1,keyasint"`
	SavedBasePointer int `cbor:"2,keyasint"`
}

// DefaultFrameOffsets returns the offsets produced by CALL followed by the
// standard prologue (PUSH globals, PUSH BP, MOVE BP, SP) for a stack growing
// in direction.
func DefaultFrameOffsets(direction int) FrameOffsets {
	stack := stackLayout{direction: direction}
	return FrameOffsets{
		SavedBasePointer: stack.slot(0, 0, BasePointerSize),
		SavedCodePointer: stack.slot(0, BasePointerSize+StackPointerSize, CodePointerSize),
	}
}

// DebugInformation is the compiler metadata attached to a program. Every
// lookup tolerates a nil receiver.
type DebugInformation struct {
	SourceLocations []SourceLocation      `cbor:"1,keyasint,omitempty"`
	Functions       []FunctionInformation `cbor:"2,keyasint,omitempty"`
	Scopes          []ScopeInformation    `cbor:"3,keyasint,omitempty"`
	FrameOffsets    *FrameOffsets         `cbor:"4,keyasint,omitempty"`
}

// Offsets returns the recorded frame offsets or the ABI defaults.
func (d *DebugInformation) Offsets(direction int) FrameOffsets {
	if d == nil || d.FrameOffsets == nil {
		return DefaultFrameOffsets(direction)
	}
	return *d.FrameOffsets
}

// LocationFor returns the narrowest source location covering cp.
func (d *DebugInformation) LocationFor(cp int) (SourceLocation, bool) {
	if d == nil {
		return SourceLocation{}, false
	}
	best, found := SourceLocation{}, false
	for _, l := range d.SourceLocations {
		if l.Instructions.Contains(cp) && (!found || l.Instructions.width() < best.Instructions.width()) {
			best, found = l, true
		}
	}
	return best, found
}

// FunctionFor returns the innermost function covering cp.
func (d *DebugInformation) FunctionFor(cp int) (FunctionInformation, bool) {
	if d == nil {
		return FunctionInformation{}, false
	}
	best, found := FunctionInformation{}, false
	for _, f := range d.Functions {
		if f.Instructions.Contains(cp) && (!found || f.Instructions.width() < best.Instructions.width()) {
			best, found = f, true
		}
	}
	return best, found
}

// ScopesFor returns every scope covering cp, outermost first.
func (d *DebugInformation) ScopesFor(cp int) []ScopeInformation {
	if d == nil {
		return nil
	}
	var out []ScopeInformation
	for _, s := range d.Scopes {
		if s.Instructions.Contains(cp) {
			out = append(out, s)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Instructions.width() > out[j-1].Instructions.width(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// TypeKind is the shape of a TypeInfo.
type TypeKind uint8

const (
	TypeInvalid TypeKind = iota
	TypeU8
	TypeI8
	TypeU16
	TypeChar
	TypeI16
	TypeU32
	TypeI32
	TypeF32
	TypeU64
	TypeI64
	TypeF64
	TypePointer
	TypeStruct
	TypeArray
)

var builtinTypeNames = map[TypeKind]string{
	TypeU8:   "u8",
	TypeI8:   "i8",
	TypeU16:  "u16",
	TypeChar: "char",
	TypeI16:  "i16",
	TypeU32:  "u32",
	TypeI32:  "i32",
	TypeF32:  "f32",
	TypeU64:  "u64",
	TypeI64:  "i64",
	TypeF64:  "f64",
}

// FieldInfo is one field of a struct type.
type FieldInfo struct {
	Name   string    `cbor:"1,keyasint"`
	Type   *TypeInfo `cbor:"2,keyasint"`
	Offset int       `cbor:"3,keyasint"`
}

// TypeInfo describes the runtime shape of a value. Type graphs must be
// acyclic.
type TypeInfo struct {
	Kind   TypeKind    `cbor:"1,keyasint"`
	Name   string      `cbor:"2,keyasint,omitempty"`
	Elem   *TypeInfo   `cbor:"3,keyasint,omitempty"` // pointer and array element
	Fields []FieldInfo `cbor:"4,keyasint,omitempty"`
	Length int         `cbor:"5,keyasint,omitempty"` // array length
}

// BuiltinType returns the builtin type with the given name.
func BuiltinType(name string) (*TypeInfo, bool) {
	for k, n := range builtinTypeNames {
		if n == name {
			return &TypeInfo{Kind: k}, true
		}
	}
	return nil, false
}

// PointerTo returns a pointer type to elem.
func PointerTo(elem *TypeInfo) *TypeInfo {
	return &TypeInfo{Kind: TypePointer, Elem: elem}
}

// ArrayOf returns an array type of n elements.
func ArrayOf(elem *TypeInfo, n int) *TypeInfo {
	return &TypeInfo{Kind: TypeArray, Elem: elem, Length: n}
}

// Size returns the size of a value of the type in bytes.
func (t *TypeInfo) Size() int {
	if t == nil {
		return 0
	}
	switch t.Kind {
	case TypeU8, TypeI8:
		return 1
	case TypeU16, TypeI16, TypeChar:
		return 2
	case TypeU32, TypeI32, TypeF32:
		return 4
	case TypeU64, TypeI64, TypeF64:
		return 8
	case TypePointer:
		return PointerSize
	case TypeArray:
		return t.Elem.Size() * t.Length
	case TypeStruct:
		size := 0
		for _, f := range t.Fields {
			size = max(size, f.Offset+f.Type.Size())
		}
		return size
	}
	return 0
}

func (t *TypeInfo) signed() bool {
	switch t.Kind {
	case TypeI8, TypeI16, TypeI32, TypeI64:
		return true
	}
	return false
}

func (t *TypeInfo) String() string {
	if t == nil {
		return "?"
	}
	switch t.Kind {
	case TypePointer:
		return "*" + t.Elem.String()
	case TypeArray:
		return fmt.Sprintf("[%d]%s", t.Length, t.Elem)
	case TypeStruct:
		if t.Name != "" {
			return t.Name
		}
		names := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			names[i] = f.Name + ":" + f.Type.String()
		}
		return "struct{" + strings.Join(names, ", ") + "}"
	}
	if n, ok := builtinTypeNames[t.Kind]; ok {
		return n
	}
	return "?"
}
