// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file propagates vector shapes forward through the region and
// classifies its control flow: which branches diverge, which blocks run
// under a varying predicate, which merge points join divergent paths, and
// which loops have lane-dependent trip counts.  The propagation is an
// iterative fixpoint in the style of classic bit-vector dataflow, with the
// shape lattice standing in for the bit vectors; it terminates because
// Join only ever moves shapes up a finite lattice.

package vectorize

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/Hugobros3/rv/ir"
	"github.com/Hugobros3/rv/shape"
)

// AnalyzeShapes seeds the context with the mapping's argument shapes,
// propagates shapes to every in-region value, and fills the divergence
// classification sets.  Loop info must describe the current CFG.
func AnalyzeShapes(ctx *Context, loops *ir.LoopForest) {
	f := ctx.Region.Entry.Func

	for i, p := range f.Params {
		if p == nil {
			continue
		}
		if i < len(ctx.Mapping.ArgShapes) {
			ctx.SetShape(p, ctx.Mapping.ArgShapes[i])
		} else {
			ctx.SetShape(p, shape.Var(0))
		}
	}

	// The φ transfer consults the varying-predicate classification, which
	// itself depends on shapes; two rounds of propagate-then-classify reach
	// the combined fixpoint since classification only ever grows.
	propagate(ctx, loops)
	classifyControl(ctx, loops)
	propagate(ctx, loops)
	classifyControl(ctx, loops)
}

func propagate(ctx *Context, loops *ir.LoopForest) {
	f := ctx.Region.Entry.Func

	// Fixpoint over in-region instructions.
	worklist := ctx.Region.Blocks()
	queued := bitset.New(uint(f.NumBlockIDs()))
	for _, b := range worklist {
		queued.Set(uint(b.ID))
	}
	for len(worklist) > 0 {
		b := worklist[0]
		worklist = worklist[1:]
		queued.Clear(uint(b.ID))

		changed := false
		for _, v := range b.Values {
			old := ctx.ShapeOf(v)
			now := transfer(ctx, loops, v)
			if now != old {
				ctx.SetShape(v, now)
				if ctx.ShapeOf(v) != old { // pinned values do not change
					changed = true
				}
			}
		}
		if changed {
			for _, s := range b.Succs() {
				if ctx.Region.Contains(s) && !queued.Test(uint(s.ID)) {
					queued.Set(uint(s.ID))
					worklist = append(worklist, s)
				}
			}
			// Shapes flow through data edges too, not only control edges;
			// requeueing all users is overkill at region scale, so requeue
			// the whole region once more when a block kept changing.
			for _, r := range ctx.Region.Blocks() {
				if !queued.Test(uint(r.ID)) {
					queued.Set(uint(r.ID))
					worklist = append(worklist, r)
				}
			}
		}
	}
}

// transfer computes the shape of v from its operands.
func transfer(ctx *Context, loops *ir.LoopForest, v *ir.Value) shape.Shape {
	observed := func(a *ir.Value) shape.Shape {
		return ctx.ObservedShape(a, v.Block, loops)
	}
	switch v.Op {
	case ir.OpArg:
		return ctx.ShapeOf(v) // seeded from the mapping
	case ir.OpConst:
		return shape.Uni(0)
	case ir.OpPhi:
		s := shape.UndefShape
		for i := range v.Args {
			in, _ := v.Incoming(i)
			s = shape.Join(s, observed(in))
		}
		// A φ whose block runs under a varying predicate merges values from
		// divergent paths and cannot stay strided.
		if ctx.VaryingPredicateBlocks[v.Block] && s.IsDefined() && !s.IsVarying() {
			return shape.Var(s.Alignment())
		}
		return s
	case ir.OpAdd, ir.OpSub:
		a, b := observed(v.Args[0]), observed(v.Args[1])
		// uniform±contiguous stays contiguous; strides add.
		if a.HasStridedShape() && b.HasStridedShape() {
			stride := a.StrideOf() + b.StrideOf()
			if v.Op == ir.OpSub {
				stride = a.StrideOf() - b.StrideOf()
			}
			return shape.Stride(stride, 0)
		}
		return shape.Join(a, b)
	case ir.OpMul:
		a, b := observed(v.Args[0]), observed(v.Args[1])
		if a.IsUniform() && b.IsUniform() {
			return shape.Uni(0)
		}
		return shape.Var(0)
	case ir.OpDiv, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpICmp:
		s := shape.UndefShape
		for _, a := range v.Args {
			s = shape.Join(s, observed(a))
		}
		if s.IsUniform() || !s.IsDefined() {
			return s
		}
		return shape.Var(s.Alignment())
	case ir.OpNot:
		s := observed(v.Args[0])
		if s.IsUniform() {
			return s
		}
		return shape.Var(0)
	case ir.OpIndex:
		base, off := observed(v.Args[0]), observed(v.Args[1])
		if base.IsUniform() && off.HasStridedShape() {
			return shape.Stride(off.StrideOf(), base.Alignment())
		}
		return shape.Join(base, off)
	case ir.OpLoad:
		if observed(v.Args[0]).IsUniform() {
			return shape.Uni(0)
		}
		return shape.Var(0)
	case ir.OpStore:
		return shape.UndefShape // void
	case ir.OpCall:
		if c, ok := v.Aux.(*ir.Callee); ok && c.Convergent {
			// Reductions such as rv_any produce a lane-invariant result.
			return shape.Uni(0)
		}
		return shape.Var(0)
	}
	return shape.Var(0)
}

// classifyControl fills the divergence sets of the context.
func classifyControl(ctx *Context, loops *ir.LoopForest) {
	// Varying-predicate blocks: any in-region predecessor ends in a branch
	// whose condition shape is not uniform.  Iterate to closure: a block
	// reached only through divergent control passes the property on to its
	// merge points via the loop above during shape propagation.
	for changed := true; changed; {
		changed = false
		for _, b := range ctx.Region.Blocks() {
			if ctx.VaryingPredicateBlocks[b] {
				continue
			}
			for _, p := range b.Preds {
				if !ctx.Region.Contains(p) {
					continue
				}
				if divergentTerminator(ctx, loops, p) || ctx.VaryingPredicateBlocks[p] {
					ctx.VaryingPredicateBlocks[b] = true
					changed = true
					break
				}
			}
		}
	}

	for _, b := range ctx.Region.Blocks() {
		if len(b.Preds) < 2 || !ctx.VaryingPredicateBlocks[b] {
			continue
		}
		ctx.JoinDivergentBlocks[b] = true
	}

	for _, l := range loops.Loops {
		if !ctx.Region.Contains(l.Header) {
			continue
		}
		for _, e := range l.ExitingBlocks() {
			if divergentTerminator(ctx, loops, e) {
				ctx.AddDivergentLoop(l)
				for _, x := range l.ExitBlocks() {
					ctx.DivergentLoopExits[x] = true
				}
				break
			}
		}
	}
}

// divergentTerminator reports whether b ends in a conditional branch on a
// non-uniform condition.
func divergentTerminator(ctx *Context, loops *ir.LoopForest, b *ir.Block) bool {
	t, ok := b.Term.(*ir.CondBr)
	if !ok {
		return false
	}
	s := ctx.ObservedShape(t.Cond, b, loops)
	return s.IsDefined() && !s.IsUniform()
}
