package vm

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrAwaitInput is returned by an external function that cannot complete
	// until the host feeds more input. The tick becomes a no-op.
	ErrAwaitInput = errors.New("awaiting input")

	ErrDuplicateExternal = errors.New("duplicate external function")

	// errStall makes Tick return without advancing CP.
	errStall = errors.New("stall")
)

// ExternalFunc is a native function callable from the VM. params and ret are
// the live memory bytes of the parameter block and the return slot, in
// address order.
type ExternalFunc func(p *Processor, params, ret []byte) error

// ExternalFunction describes a native function. ID 0 asks the table to
// assign the next free id.
type ExternalFunction struct {
	ID             int
	Name           string
	ParametersSize int
	ReturnSize     int
	Func           ExternalFunc
}

// ExternalTable maps ids and names to external functions. It is built once
// per processor and not modified afterwards.
type ExternalTable struct {
	byID   map[int]*ExternalFunction
	byName map[string]*ExternalFunction
}

// NewExternalTable builds a table holding the built-ins (ids 1..12) followed
// by the host functions.
func NewExternalTable(host ...ExternalFunction) (*ExternalTable, error) {
	t := &ExternalTable{
		byID:   make(map[int]*ExternalFunction),
		byName: make(map[string]*ExternalFunction),
	}
	next := 1
	add := func(fn ExternalFunction) error {
		if fn.Func == nil {
			return fmt.Errorf("external function %q has no implementation", fn.Name)
		}
		if fn.ParametersSize < 0 || fn.ReturnSize < 0 {
			return fmt.Errorf("external function %q has a negative size", fn.Name)
		}
		if fn.ID == 0 {
			for t.byID[next] != nil {
				next++
			}
			fn.ID = next
		}
		if _, ok := t.byID[fn.ID]; ok {
			return fmt.Errorf("%w: id %d", ErrDuplicateExternal, fn.ID)
		}
		if _, ok := t.byName[fn.Name]; ok && fn.Name != "" {
			return fmt.Errorf("%w: name %q", ErrDuplicateExternal, fn.Name)
		}
		entry := fn
		t.byID[fn.ID] = &entry
		if fn.Name != "" {
			t.byName[fn.Name] = &entry
		}
		return nil
	}
	for _, fn := range builtinExternals() {
		if err := add(fn); err != nil {
			return nil, err
		}
	}
	for _, fn := range host {
		if err := add(fn); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Get looks a function up by id.
func (t *ExternalTable) Get(id int) (*ExternalFunction, bool) {
	fn, ok := t.byID[id]
	return fn, ok
}

// Lookup looks a function up by name.
func (t *ExternalTable) Lookup(name string) (*ExternalFunction, bool) {
	fn, ok := t.byName[name]
	return fn, ok
}

// All returns the functions ordered by id.
func (t *ExternalTable) All() []*ExternalFunction {
	out := make([]*ExternalFunction, 0, len(t.byID))
	for _, fn := range t.byID {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SplitParams cuts a parameter block into the individual parameters in the
// order the caller pushed them.
func (p *Processor) SplitParams(params []byte, sizes ...int) [][]byte {
	out := make([][]byte, len(sizes))
	if p.stack.direction < 0 {
		off := len(params)
		for i, s := range sizes {
			out[i] = params[off-s : off]
			off -= s
		}
		return out
	}
	off := 0
	for i, s := range sizes {
		out[i] = params[off : off+s]
		off += s
	}
	return out
}

// callExternal implements CALLEXT. The caller has pushed ReturnSize bytes of
// return space and then ParametersSize bytes of parameters.
func (p *Processor) callExternal(id int64) error {
	fn, ok := p.externals.Get(int(id))
	if !ok {
		return signalf(SignalUndefinedExternalFunction, "undefined external function %d", id)
	}
	sp := p.Registers.StackPointer
	paramsAddr := p.stack.slot(sp, 0, fn.ParametersSize)
	retAddr := p.stack.slot(sp, fn.ParametersSize, fn.ReturnSize)
	if p.stack.used(sp) < fn.ParametersSize+fn.ReturnSize {
		return signalf(SignalStackOverflow, "stack underflow: external %s needs %d bytes of arguments, %d on the stack",
			fn.Name, fn.ParametersSize+fn.ReturnSize, p.stack.used(sp))
	}
	params, err := p.Memory.Slice(paramsAddr, fn.ParametersSize)
	if err != nil {
		return err
	}
	ret, err := p.Memory.Slice(retAddr, fn.ReturnSize)
	if err != nil {
		return err
	}

	err = fn.Func(p, params, ret)
	switch {
	case err == nil:
	case errors.Is(err, ErrAwaitInput):
		p.awaiting = true
		return errStall
	case SignalOf(err) != SignalNone:
		return err
	default:
		return signalf(SignalUserCrash, "external function %s (%d): %v", fn.Name, fn.ID, err)
	}
	p.awaiting = false
	p.stats.ExternalCalls++
	p.logger.Debug("external call", "id", fn.ID, "name", fn.Name)
	return nil
}
