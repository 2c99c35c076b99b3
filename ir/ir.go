// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ir provides the arena-based SSA intermediate representation the
// vectorizer transforms.  A Func owns all of its Blocks and Values; blocks
// and values carry stable integer ids so that side tables (dominators, loop
// membership, scheduling state) can be kept in dense slices and bitsets.
// Control flow between blocks is represented with explicit predecessor lists
// and a tagged terminator variant per block; there are no edge objects.
package ir

import "fmt"

// A TypeKind is the lane-scalar type of a Value.  Widening values to vectors
// is the instruction vectorizer's job and outside this package.
type TypeKind int

const (
	Void TypeKind = iota
	Bool
	Int
	Ptr
)

func (t TypeKind) String() string {
	switch t {
	case Void:
		return "void"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Ptr:
		return "ptr"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// An Op identifies the operation a Value performs.
type Op int

const (
	OpInvalid Op = iota
	OpArg         // function argument; Aux is the argument index (int)
	OpConst       // constant; Aux is int64 or bool
	OpPhi         // φ; Args parallel to phiPreds
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpXor
	OpNot
	OpICmp   // integer comparison; Aux is a Pred
	OpSelect // Args[0] ? Args[1] : Args[2], per lane
	OpIndex  // Args[0] (ptr) advanced by Args[1] elements
	OpLoad   // load through Args[0]
	OpStore  // store Args[1] through Args[0]; Void
	OpCall   // call; Aux is the callee *Callee
)

var opNames = [...]string{
	OpInvalid: "invalid",
	OpArg:     "arg",
	OpConst:   "const",
	OpPhi:     "phi",
	OpAdd:     "add",
	OpSub:     "sub",
	OpMul:     "mul",
	OpDiv:     "div",
	OpAnd:     "and",
	OpOr:      "or",
	OpXor:     "xor",
	OpNot:     "not",
	OpICmp:    "icmp",
	OpSelect:  "select",
	OpIndex:   "index",
	OpLoad:    "load",
	OpStore:   "store",
	OpCall:    "call",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// A Pred is an integer comparison predicate for OpICmp.
type Pred int

const (
	PredEQ Pred = iota
	PredNE
	PredLT
	PredLE
	PredGT
	PredGE
)

func (p Pred) String() string {
	switch p {
	case PredEQ:
		return "eq"
	case PredNE:
		return "ne"
	case PredLT:
		return "lt"
	case PredLE:
		return "le"
	case PredGT:
		return "gt"
	case PredGE:
		return "ge"
	}
	return fmt.Sprintf("pred(%d)", int(p))
}

// A Callee names an external function called by an OpCall value, together
// with the attribute bits the vectorizer cares about.  Reduction intrinsics
// such as rv_any are declared NoMemory|NoThrow|Convergent|NoRecurse.
type Callee struct {
	Name      string
	NoMemory  bool
	NoThrow   bool
	Convergent bool
	NoRecurse bool
}

// A Value is one SSA instruction.  Args point at the operand values; for
// OpPhi the phiPreds slice runs parallel to Args and names the incoming
// predecessor block of each operand.
type Value struct {
	ID    int
	Name  string
	Op    Op
	Type  TypeKind
	Args  []*Value
	Aux   any
	Block *Block

	phiPreds []*Block
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	if v.Name != "" {
		return v.Name
	}
	return fmt.Sprintf("v%d", v.ID)
}

// AuxInt returns the int64 payload of an OpConst value.
func (v *Value) AuxInt() int64 { return v.Aux.(int64) }

// AuxBool returns the bool payload of an OpConst value.
func (v *Value) AuxBool() bool { return v.Aux.(bool) }

// CalleeOf returns the callee of an OpCall value.
func (v *Value) CalleeOf() *Callee { return v.Aux.(*Callee) }

// NumIncoming returns the number of φ incomings.
func (v *Value) NumIncoming() int { return len(v.Args) }

// Incoming returns the i-th φ incoming as a (value, predecessor) pair.
func (v *Value) Incoming(i int) (*Value, *Block) { return v.Args[i], v.phiPreds[i] }

// IncomingFor returns the incoming value for the given predecessor, or nil.
func (v *Value) IncomingFor(pred *Block) *Value {
	for i, p := range v.phiPreds {
		if p == pred {
			return v.Args[i]
		}
	}
	return nil
}

// AddIncoming appends an incoming (value, predecessor) pair to a φ.
func (v *Value) AddIncoming(val *Value, pred *Block) {
	if v.Op != OpPhi {
		panic("ir: AddIncoming on non-phi " + v.String())
	}
	v.Args = append(v.Args, val)
	v.phiPreds = append(v.phiPreds, pred)
}

// SetIncoming replaces the incoming value arriving from pred.
func (v *Value) SetIncoming(pred *Block, val *Value) {
	for i, p := range v.phiPreds {
		if p == pred {
			v.Args[i] = val
			return
		}
	}
	panic(fmt.Sprintf("ir: %v has no incoming from %v", v, pred))
}

// SetIncomingBlock renames the predecessor of the i-th incoming.
func (v *Value) SetIncomingBlock(i int, pred *Block) { v.phiPreds[i] = pred }

// RemoveIncoming drops the incoming arriving from pred, if any.
func (v *Value) RemoveIncoming(pred *Block) {
	for i, p := range v.phiPreds {
		if p == pred {
			v.Args = append(v.Args[:i], v.Args[i+1:]...)
			v.phiPreds = append(v.phiPreds[:i], v.phiPreds[i+1:]...)
			return
		}
	}
}

// A Block is one basic block: an ordered list of non-terminator values
// followed by exactly one terminator.  Preds is maintained by the edge
// helpers on Block and Func; code must not mutate it directly.
type Block struct {
	ID     int
	Name   string
	Func   *Func
	Preds  []*Block
	Values []*Value
	Term   Terminator
}

func (b *Block) String() string {
	if b == nil {
		return "<nil>"
	}
	if b.Name != "" {
		return b.Name
	}
	return fmt.Sprintf("b%d", b.ID)
}

// Succs returns the successor blocks of b's terminator, nil if b has none.
func (b *Block) Succs() []*Block {
	if b.Term == nil {
		return nil
	}
	return b.Term.Succs()
}

// Phis returns the prefix of b.Values that are φ nodes.
func (b *Block) Phis() []*Value {
	n := 0
	for n < len(b.Values) && b.Values[n].Op == OpPhi {
		n++
	}
	return b.Values[:n]
}

// FirstNonPhi returns the index of the first non-φ value in b.
func (b *Block) FirstNonPhi() int {
	n := 0
	for n < len(b.Values) && b.Values[n].Op == OpPhi {
		n++
	}
	return n
}

// A Terminator ends a block.  The variant set is closed by the unexported
// terminator method; in particular there is no switch terminator.
type Terminator interface {
	Succs() []*Block
	terminator()
}

// Return ends the function, optionally producing a result.
type Return struct{ Result *Value }

// Unreachable marks a block whose end cannot be reached.
type Unreachable struct{}

// Br branches unconditionally to Target.
type Br struct{ Target *Block }

// CondBr branches to Then when Cond holds and to Else otherwise.
type CondBr struct {
	Cond       *Value
	Then, Else *Block
}

func (*Return) terminator()      {}
func (*Unreachable) terminator() {}
func (*Br) terminator()          {}
func (*CondBr) terminator()      {}

func (*Return) Succs() []*Block      { return nil }
func (*Unreachable) Succs() []*Block { return nil }
func (t *Br) Succs() []*Block        { return []*Block{t.Target} }
func (t *CondBr) Succs() []*Block    { return []*Block{t.Then, t.Else} }

// A Func is the arena owning every block and value of one function.
type Func struct {
	Name   string
	Entry  *Block
	Blocks []*Block
	Params []*Value

	blockID int
	valueID int
}

// NewFunc returns an empty function with the given name.
func NewFunc(name string) *Func {
	return &Func{Name: name}
}

// NumBlockIDs returns an upper bound on block ids, for sizing bitsets.
func (f *Func) NumBlockIDs() int { return f.blockID }

// NumValueIDs returns an upper bound on value ids.
func (f *Func) NumValueIDs() int { return f.valueID }

// NewBlock appends a fresh, empty block to the arena.
func (f *Func) NewBlock(name string) *Block {
	b := &Block{ID: f.blockID, Name: name, Func: f}
	f.blockID++
	f.Blocks = append(f.Blocks, b)
	return b
}

// RemoveBlock unlinks b from the arena.  The caller must already have
// disconnected b from every predecessor and successor.
func (f *Func) RemoveBlock(b *Block) {
	if len(b.Preds) != 0 {
		panic(fmt.Sprintf("ir: removing block %v with %d predecessors", b, len(b.Preds)))
	}
	b.setTerm(nil)
	for i, blk := range f.Blocks {
		if blk == b {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			break
		}
	}
	b.Func = nil
}

// NewValue creates a value and appends it to b.
func (f *Func) NewValue(b *Block, op Op, typ TypeKind, args ...*Value) *Value {
	v := f.newValue(b, op, typ, args...)
	b.Values = append(b.Values, v)
	return v
}

// NewValueAt creates a value and inserts it at position i within b.
func (f *Func) NewValueAt(b *Block, i int, op Op, typ TypeKind, args ...*Value) *Value {
	v := f.newValue(b, op, typ, args...)
	b.Values = append(b.Values, nil)
	copy(b.Values[i+1:], b.Values[i:])
	b.Values[i] = v
	return v
}

func (f *Func) newValue(b *Block, op Op, typ TypeKind, args ...*Value) *Value {
	v := &Value{ID: f.valueID, Op: op, Type: typ, Args: args, Block: b}
	f.valueID++
	return v
}

// NewPhi creates an empty φ at the end of b's φ prefix.
func (f *Func) NewPhi(b *Block, typ TypeKind) *Value {
	return f.NewValueAt(b, b.FirstNonPhi(), OpPhi, typ)
}

// NewConstInt creates an integer constant in b.
func (f *Func) NewConstInt(b *Block, c int64) *Value {
	v := f.NewValue(b, OpConst, Int)
	v.Aux = c
	return v
}

// NewConstBool creates a boolean constant in b.
func (f *Func) NewConstBool(b *Block, c bool) *Value {
	v := f.NewValue(b, OpConst, Bool)
	v.Aux = c
	return v
}

// NewUndef creates an undef placeholder of the given type in b, modeled as a
// zero constant so every consumer stays total.
func (f *Func) NewUndef(b *Block, typ TypeKind) *Value {
	v := f.NewValue(b, OpConst, typ)
	switch typ {
	case Bool:
		v.Aux = false
	default:
		v.Aux = int64(0)
	}
	v.Name = fmt.Sprintf("undef%d", v.ID)
	return v
}

// NewParam appends a function argument value, hosted in the entry block.
func (f *Func) NewParam(name string, typ TypeKind) *Value {
	if f.Entry == nil {
		panic("ir: NewParam before entry block exists")
	}
	v := f.NewValueAt(f.Entry, len(f.Params), OpArg, typ)
	v.Aux = len(f.Params)
	v.Name = name
	f.Params = append(f.Params, v)
	return v
}

// RemoveValue unlinks v from its block.  Uses of v are the caller's problem.
func (b *Block) RemoveValue(v *Value) {
	for i, w := range b.Values {
		if w == v {
			b.Values = append(b.Values[:i], b.Values[i+1:]...)
			v.Block = nil
			return
		}
	}
	panic(fmt.Sprintf("ir: %v not in block %v", v, b))
}

// MoveValueFront detaches v from its current block and inserts it at the
// front of dst (after dst's φ prefix if v is not a φ, before it otherwise).
func (b *Block) MoveValueFront(v *Value, dst *Block) {
	b.RemoveValue(v)
	at := 0
	if v.Op != OpPhi {
		at = dst.FirstNonPhi()
	}
	dst.Values = append(dst.Values, nil)
	copy(dst.Values[at+1:], dst.Values[at:])
	dst.Values[at] = v
	v.Block = dst
}

// SetTerm installs t as b's terminator, maintaining predecessor lists on the
// old and new successor blocks.
func (b *Block) SetTerm(t Terminator) {
	b.setTerm(t)
}

func (b *Block) setTerm(t Terminator) {
	if b.Term != nil {
		for _, s := range b.Term.Succs() {
			s.removePred(b)
		}
	}
	b.Term = t
	if t != nil {
		for _, s := range t.Succs() {
			s.Preds = append(s.Preds, b)
		}
	}
}

func (b *Block) removePred(p *Block) {
	for i, q := range b.Preds {
		if q == p {
			b.Preds = append(b.Preds[:i], b.Preds[i+1:]...)
			return
		}
	}
}

// ReplaceSuccessor rewrites every occurrence of old in b's terminator to
// new, maintaining predecessor lists.  φ incomings in old and new are left
// alone; callers that care must fix them up.
func (b *Block) ReplaceSuccessor(old, new *Block) {
	switch t := b.Term.(type) {
	case *Br:
		if t.Target == old {
			t.Target = new
			old.removePred(b)
			new.Preds = append(new.Preds, b)
		}
	case *CondBr:
		for t.Then == old || t.Else == old {
			if t.Then == old {
				t.Then = new
			} else {
				t.Else = new
			}
			old.removePred(b)
			new.Preds = append(new.Preds, b)
		}
	default:
		panic(fmt.Sprintf("ir: block %v has no successor %v to replace", b, old))
	}
}

// ReplaceAllUses rewrites every use of old to new across the function:
// value operands, φ incomings, branch conditions and return results.
func (f *Func) ReplaceAllUses(old, new *Value) {
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			if v == new {
				continue
			}
			for i, a := range v.Args {
				if a == old {
					v.Args[i] = new
				}
			}
		}
		switch t := b.Term.(type) {
		case *CondBr:
			if t.Cond == old {
				t.Cond = new
			}
		case *Return:
			if t.Result == old {
				t.Result = new
			}
		}
	}
}

// HasUses reports whether v is referenced anywhere in the function.
func (f *Func) HasUses(v *Value) bool {
	for _, b := range f.Blocks {
		for _, w := range b.Values {
			if w == v {
				continue
			}
			for _, a := range w.Args {
				if a == v {
					return true
				}
			}
		}
		switch t := b.Term.(type) {
		case *CondBr:
			if t.Cond == v {
				return true
			}
		case *Return:
			if t.Result == v {
				return true
			}
		}
	}
	return false
}
