// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file contains a small construction DSL used by tests to define
// functions.  As an example, the function
//
//	entry:
//	  x = arg #0
//	  c = icmp lt x zero
//	  br c -> then else
//
// can be defined as
//
//	b := ir.Fun("f", "entry",
//	    ir.Bloc("entry",
//	        ir.Valu("x", ir.OpArg, ir.Int, 0),
//	        ir.Valu("zero", ir.OpConst, ir.Int, int64(0)),
//	        ir.Valu("c", ir.OpICmp, ir.Bool, ir.PredLT, "x", "zero"),
//	        ir.If("c", "then", "else")),
//	    ...)
//
// and blocks and values are retrieved by name from b.Blocks and b.Values.
// φ incomings are written as "pred:value" operand strings.

package ir

import (
	"fmt"
	"strings"
)

// A Built function plus name→block and name→value lookup tables.
type Built struct {
	F      *Func
	Blocks map[string]*Block
	Values map[string]*Value
}

type blocDef struct {
	name   string
	values []valuDef
	ctrl   ctrlDef
}

type valuDef struct {
	name string
	op   Op
	typ  TypeKind
	aux  any
	args []string
}

type ctrlDef struct {
	kind       string // "goto", "if", "ret", "unreach"
	cond       string
	succs      []string
	result     string
}

// Bloc defines one block with its values and single control definition.
func Bloc(name string, entries ...any) blocDef {
	bd := blocDef{name: name, ctrl: ctrlDef{kind: "unreach"}}
	for _, e := range entries {
		switch e := e.(type) {
		case valuDef:
			bd.values = append(bd.values, e)
		case ctrlDef:
			bd.ctrl = e
		default:
			panic(fmt.Sprintf("ir: Bloc(%s): unexpected entry %T", name, e))
		}
	}
	return bd
}

// Valu defines one value.  For OpArg, aux is the argument index; for
// OpConst, an int64 or bool; for OpICmp, a Pred; for OpCall, a *Callee.
// φ operands use the "pred:value" form.
func Valu(name string, op Op, typ TypeKind, aux any, args ...string) valuDef {
	return valuDef{name: name, op: op, typ: typ, aux: aux, args: args}
}

// Goto defines an unconditional branch.
func Goto(target string) ctrlDef { return ctrlDef{kind: "goto", succs: []string{target}} }

// If defines a conditional branch on the named value.
func If(cond, then, els string) ctrlDef {
	return ctrlDef{kind: "if", cond: cond, succs: []string{then, els}}
}

// Ret defines a return; pass "" for a void return.
func Ret(result string) ctrlDef { return ctrlDef{kind: "ret", result: result} }

// Unreach defines an unreachable terminator.
func Unreach() ctrlDef { return ctrlDef{kind: "unreach"} }

// Fun builds a function from block definitions.  The entry block is named;
// blocks and values may be referenced before their definition.
func Fun(name, entry string, blocs ...blocDef) *Built {
	f := NewFunc(name)
	bt := &Built{F: f, Blocks: map[string]*Block{}, Values: map[string]*Value{}}

	for _, bd := range blocs {
		bt.Blocks[bd.name] = f.NewBlock(bd.name)
	}
	eb, ok := bt.Blocks[entry]
	if !ok {
		panic(fmt.Sprintf("ir: Fun(%s): no entry block %q", name, entry))
	}
	f.Entry = eb

	// First pass: materialize values without operands.
	for _, bd := range blocs {
		b := bt.Blocks[bd.name]
		for _, vd := range bd.values {
			v := f.NewValue(b, vd.op, vd.typ)
			v.Name = vd.name
			v.Aux = vd.aux
			if vd.op == OpArg {
				idx := vd.aux.(int)
				for len(f.Params) <= idx {
					f.Params = append(f.Params, nil)
				}
				f.Params[idx] = v
			}
			if _, dup := bt.Values[vd.name]; dup {
				panic(fmt.Sprintf("ir: Fun(%s): duplicate value %q", name, vd.name))
			}
			bt.Values[vd.name] = v
		}
	}

	// Second pass: resolve operands and terminators.
	for _, bd := range blocs {
		b := bt.Blocks[bd.name]
		for _, vd := range bd.values {
			v := bt.Values[vd.name]
			for _, arg := range vd.args {
				if v.Op == OpPhi {
					pred, val, ok := strings.Cut(arg, ":")
					if !ok {
						panic(fmt.Sprintf("ir: φ %s: operand %q is not pred:value", vd.name, arg))
					}
					v.AddIncoming(bt.value(val), bt.block(pred))
				} else {
					v.Args = append(v.Args, bt.value(arg))
				}
			}
		}
		switch bd.ctrl.kind {
		case "goto":
			b.SetTerm(&Br{Target: bt.block(bd.ctrl.succs[0])})
		case "if":
			b.SetTerm(&CondBr{
				Cond: bt.value(bd.ctrl.cond),
				Then: bt.block(bd.ctrl.succs[0]),
				Else: bt.block(bd.ctrl.succs[1]),
			})
		case "ret":
			t := &Return{}
			if bd.ctrl.result != "" {
				t.Result = bt.value(bd.ctrl.result)
			}
			b.SetTerm(t)
		case "unreach":
			b.SetTerm(&Unreachable{})
		}
	}
	return bt
}

func (bt *Built) block(name string) *Block {
	b, ok := bt.Blocks[name]
	if !ok {
		panic(fmt.Sprintf("ir: unknown block %q", name))
	}
	return b
}

func (bt *Built) value(name string) *Value {
	v, ok := bt.Values[name]
	if !ok {
		panic(fmt.Sprintf("ir: unknown value %q", name))
	}
	return v
}
