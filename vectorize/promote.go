// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file implements definition promotion: given a value v and a later
// block in the schedule that v's definition block does not dominate, it
// threads v through a chain of φ nodes along the topological order so that
// a dominating definition exists at the destination.  Predecessors entering
// the span from before the definition contribute a fill value (undef, or
// false when promoting masks); loop back edges contribute the running
// definition carried around by the φ itself.

package vectorize

import (
	"github.com/Hugobros3/rv/ir"
)

// A fillFunc produces the value used for paths that bypass the promoted
// definition.
type fillFunc func(f *ir.Func, typ ir.TypeKind) *ir.Value

// undefFill materializes an undef of the promoted type in the entry block.
func undefFill(f *ir.Func, typ ir.TypeKind) *ir.Value {
	v := f.NewUndef(f.Entry, typ)
	f.Entry.MoveValueFront(v, f.Entry)
	return v
}

// falseFill materializes a false constant; used when promoting masks, where
// a bypassing path means "no lane took this edge".
func falseFill(f *ir.Func, typ ir.TypeKind) *ir.Value {
	v := f.NewConstBool(f.Entry, false)
	f.Entry.MoveValueFront(v, f.Entry)
	return v
}

// promoteDefinition returns a definition of v that dominates the block at
// destIdx, inserting φ nodes along the index span as needed.  The span must
// be contiguous in the schedule; promoting across an unindexed block is a
// programmer error.
func promoteDefinition(region Region, bi *BlockIndex, v *ir.Value, destIdx int, fill fillFunc) *ir.Value {
	f := v.Block.Func
	defIdx := bi.PosOf(v.Block)
	span := destIdx - defIdx
	if span < 0 {
		panic("vectorize: promoteDefinition scheduled backwards")
	}
	if span == 0 {
		return v
	}

	var fillVal *ir.Value
	getFill := func() *ir.Value {
		if fillVal == nil {
			fillVal = fill(f, v.Type)
		}
		return fillVal
	}

	defs := make([]*ir.Value, span+1)
	defs[0] = v
	for i := 1; i <= span; i++ {
		b := bi.Order[defIdx+i]

		type incoming struct {
			pred *ir.Block
			val  *ir.Value // nil marks a back edge, resolved to the φ itself
		}
		var ins []incoming
		agreed := true
		var agree *ir.Value
		for _, p := range b.Preds {
			if !region.Contains(p) {
				continue
			}
			pIdx := bi.PosOf(p)
			switch {
			case pIdx >= defIdx+i:
				ins = append(ins, incoming{pred: p, val: nil})
			case pIdx < defIdx:
				ins = append(ins, incoming{pred: p, val: getFill()})
			default:
				d := defs[pIdx-defIdx]
				if d == nil {
					d = getFill()
				}
				ins = append(ins, incoming{pred: p, val: d})
			}
		}
		for _, in := range ins {
			if in.val == nil {
				continue
			}
			if agree == nil {
				agree = in.val
			} else if agree != in.val {
				agreed = false
			}
		}
		hasBackEdge := false
		for _, in := range ins {
			if in.val == nil {
				hasBackEdge = true
			}
		}
		if len(ins) == 0 {
			defs[i] = getFill()
			continue
		}
		if agreed && agree != nil && !hasBackEdge {
			defs[i] = agree
			continue
		}
		phi := f.NewPhi(b, v.Type)
		phi.Name = v.String() + ".thread" + b.String()
		for _, in := range ins {
			val := in.val
			if val == nil {
				val = phi // loop-carried: the running definition is invariant in the cycle
			}
			phi.AddIncoming(val, in.pred)
		}
		defs[i] = phi
	}
	return defs[span]
}
