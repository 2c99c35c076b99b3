// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file computes the execution masks the rewrites depend on: for every
// block the per-lane predicate under which it runs, and for every edge the
// per-lane predicate under which it is taken.  Masks are materialized as
// ordinary IR values so the linearizer can feed them to its φ-to-select
// folds, and the normalizer can combine them into loop-exit masks.
//
// The scheme is the usual one.  The entry block runs under the mask
// argument (or all-true when the mapping is unmasked); a conditional branch
// splits its block mask with the condition; a join block's mask is a φ of
// the incoming edge masks, which later folds to their disjunction; a loop
// header's φ over (pre-header, latch) is the loop's live mask.

package vectorize

import (
	"github.com/Hugobros3/rv/ir"
	"github.com/Hugobros3/rv/shape"
)

// A MaskAnalysis exposes edge, block and loop-exit masks to the transforms.
// The default implementation is built by ComputeMasks; drivers may supply
// their own.
type MaskAnalysis interface {
	// BlockMask returns the execution mask of b.
	BlockMask(b *ir.Block) *ir.Value
	// ExitMask returns the mask of the edge from b to its succIdx-th
	// successor as of the last update.
	ExitMask(b *ir.Block, succIdx int) *ir.Value
	// CombinedLoopExitMask returns (building it on first use) the per-lane
	// predicate, valid at l's latch, of leaving l in the current iteration.
	CombinedLoopExitMask(l *ir.Loop) *ir.Value
	// UpdateExitMask re-points the mask of the edge (b, succIdx), used by
	// the transforms as they replace terminators.
	UpdateExitMask(b *ir.Block, succIdx int, v *ir.Value)
	// UpdateBlockMask re-points b's execution mask and re-derives the
	// masks of b's outgoing edges from it.  The loop normalizer uses this
	// to install accumulated exit masks on a divergent loop's exit blocks.
	UpdateBlockMask(b *ir.Block, v *ir.Value)
}

type edgeKey struct {
	block   *ir.Block
	succIdx int
}

// maskRewriter is implemented by mask analyses that can re-point their
// cached tables when the loop normalizer swaps an exit block's mask for
// its accumulated form.  The built-in analysis implements it; external
// ones may not, in which case only the IR-level uses are rewritten.
type maskRewriter interface {
	replaceMaskOutside(l *ir.Loop, old, new *ir.Value)
	// replaceMask re-points every cached mask equal to old, everywhere.
	// The linearizer calls it when φ folding deletes a value the tables
	// still reference.
	replaceMask(old, new *ir.Value)
}

type maskAnalysis struct {
	ctx   *Context
	bi    *BlockIndex
	loops *ir.LoopForest

	blockMasks map[*ir.Block]*ir.Value
	edgeMasks  map[edgeKey]*ir.Value
	loopExit   map[*ir.Loop]*ir.Value
}

// ComputeMasks materializes block and edge masks for every in-region block
// and records each block's predicate in the context.
func ComputeMasks(ctx *Context, bi *BlockIndex, loops *ir.LoopForest) MaskAnalysis {
	ma := &maskAnalysis{
		ctx:        ctx,
		bi:         bi,
		loops:      loops,
		blockMasks: map[*ir.Block]*ir.Value{},
		edgeMasks:  map[edgeKey]*ir.Value{},
		loopExit:   map[*ir.Loop]*ir.Value{},
	}
	ma.build()
	return ma
}

func (ma *maskAnalysis) build() {
	ctx := ma.ctx
	f := ctx.Region.Entry.Func

	// Entry mask: the mask argument when the mapping has one, all-true
	// otherwise.
	var entry *ir.Value
	if mp := ctx.Mapping.MaskPos; mp >= 0 && mp < len(f.Params) {
		entry = f.Params[mp]
	} else {
		entry = f.NewConstBool(f.Entry, true)
		entry.Name = "mask.entry"
		f.Entry.MoveValueFront(entry, f.Entry)
		ctx.SetShape(entry, shape.Uni(0))
	}

	// Headers first: their live-mask φs are patched once the latch's edge
	// mask exists.
	type patch struct {
		phi  *ir.Value
		loop *ir.Loop
	}
	var patches []patch

	for _, b := range ma.bi.Order {
		var mask *ir.Value
		switch {
		case b == ctx.Region.Entry:
			mask = entry
		case ma.loops.LoopWithHeader(b) != nil:
			l := ma.loops.LoopWithHeader(b)
			phi := f.NewPhi(b, ir.Bool)
			phi.Name = "mask.live." + b.String()
			if ph := l.Preheader(); ph != nil && ctx.Region.Contains(ph) {
				phi.AddIncoming(ma.edgeMaskInto(ph, b), ph)
			} else if ph != nil {
				phi.AddIncoming(entry, ph)
			}
			patches = append(patches, patch{phi, l})
			if ctx.IsDivergent(l) {
				ctx.SetShape(phi, shape.Var(0))
			} else {
				ctx.SetShape(phi, shape.Uni(0))
			}
			mask = phi
		case len(ma.inRegionPreds(b)) == 1:
			p := ma.inRegionPreds(b)[0]
			mask = ma.edgeMaskInto(p, b)
		case len(ma.inRegionPreds(b)) == 0:
			mask = entry
		default:
			phi := f.NewPhi(b, ir.Bool)
			phi.Name = "mask." + b.String()
			for _, p := range ma.inRegionPreds(b) {
				phi.AddIncoming(ma.edgeMaskInto(p, b), p)
			}
			ctx.SetShape(phi, ma.joinedPredShape(b))
			mask = phi
		}
		ma.blockMasks[b] = mask
		ctx.SetPredicate(b, mask)
		ma.buildEdgeMasks(b, mask)
	}

	for _, p := range patches {
		latch := p.loop.Latch()
		if latch == nil {
			ctx.Log.Fatalf(p.loop.Header.String(), "loop has no unique latch")
		}
		p.phi.AddIncoming(ma.edgeMaskInto(latch, p.loop.Header), latch)
	}
}

// buildEdgeMasks materializes the exit masks of b's terminator.
func (ma *maskAnalysis) buildEdgeMasks(b *ir.Block, mask *ir.Value) {
	ctx := ma.ctx
	f := b.Func
	switch t := b.Term.(type) {
	case *ir.Br:
		ma.edgeMasks[edgeKey{b, 0}] = mask
	case *ir.CondBr:
		condShape := ctx.ShapeOf(t.Cond)
		then := f.NewValue(b, ir.OpAnd, ir.Bool, mask, t.Cond)
		then.Name = "mask." + b.String() + ".then"
		not := f.NewValue(b, ir.OpNot, ir.Bool, t.Cond)
		not.Name = "mask." + b.String() + ".not"
		els := f.NewValue(b, ir.OpAnd, ir.Bool, mask, not)
		els.Name = "mask." + b.String() + ".else"
		sh := shape.Join(ctx.ShapeOf(mask), condShape)
		ctx.SetShape(not, condShape)
		ctx.SetShape(then, sh)
		ctx.SetShape(els, sh)
		ma.edgeMasks[edgeKey{b, 0}] = then
		ma.edgeMasks[edgeKey{b, 1}] = els
	}
}

// edgeMaskInto returns the mask of the (unique) edge from p into b.
func (ma *maskAnalysis) edgeMaskInto(p, b *ir.Block) *ir.Value {
	for i, s := range p.Succs() {
		if s == b {
			if m := ma.edgeMasks[edgeKey{p, i}]; m != nil {
				return m
			}
		}
	}
	ma.ctx.Log.Fatalf(p.String(), "missing exit mask on edge to %v", b)
	return nil
}

func (ma *maskAnalysis) inRegionPreds(b *ir.Block) []*ir.Block {
	var out []*ir.Block
	seen := map[*ir.Block]bool{}
	for _, p := range b.Preds {
		if ma.ctx.Region.Contains(p) && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func (ma *maskAnalysis) joinedPredShape(b *ir.Block) shape.Shape {
	s := shape.UndefShape
	for _, p := range ma.inRegionPreds(b) {
		for i, t := range p.Succs() {
			if t == b {
				if m := ma.edgeMasks[edgeKey{p, i}]; m != nil {
					s = shape.Join(s, ma.ctx.ShapeOf(m))
				}
			}
		}
	}
	if !s.IsDefined() {
		return shape.Var(0)
	}
	return s
}

func (ma *maskAnalysis) BlockMask(b *ir.Block) *ir.Value { return ma.blockMasks[b] }

func (ma *maskAnalysis) ExitMask(b *ir.Block, succIdx int) *ir.Value {
	m := ma.edgeMasks[edgeKey{b, succIdx}]
	if m == nil {
		ma.ctx.Log.Fatalf(b.String(), "missing exit mask for successor %d", succIdx)
	}
	return m
}

func (ma *maskAnalysis) UpdateExitMask(b *ir.Block, succIdx int, v *ir.Value) {
	ma.edgeMasks[edgeKey{b, succIdx}] = v
}

func (ma *maskAnalysis) UpdateBlockMask(b *ir.Block, v *ir.Value) {
	ma.blockMasks[b] = v
	ma.ctx.SetPredicate(b, v)
	ma.buildEdgeMasks(b, v)
}

func (ma *maskAnalysis) replaceMask(old, new *ir.Value) {
	for b, m := range ma.blockMasks {
		if m == old {
			ma.blockMasks[b] = new
			ma.ctx.SetPredicate(b, new)
		}
	}
	for k, m := range ma.edgeMasks {
		if m == old {
			ma.edgeMasks[k] = new
		}
	}
	for l, m := range ma.loopExit {
		if m == old {
			ma.loopExit[l] = new
		}
	}
}

func (ma *maskAnalysis) replaceMaskOutside(l *ir.Loop, old, new *ir.Value) {
	for b, m := range ma.blockMasks {
		if m == old && !l.Contains(b) {
			ma.blockMasks[b] = new
			ma.ctx.SetPredicate(b, new)
		}
	}
	for k, m := range ma.edgeMasks {
		if m == old && !l.Contains(k.block) {
			ma.edgeMasks[k] = new
		}
	}
}

// CombinedLoopExitMask builds, once per loop, the disjunction over all exit
// edges of l of their masks, promoted so the result is valid at the latch.
func (ma *maskAnalysis) CombinedLoopExitMask(l *ir.Loop) *ir.Value {
	if m := ma.loopExit[l]; m != nil {
		return m
	}
	ctx := ma.ctx
	latch := l.Latch()
	if latch == nil {
		ctx.Log.Fatalf(l.Header.String(), "loop has no unique latch")
	}
	f := latch.Func
	latchIdx := ma.bi.PosOf(latch)

	var combined *ir.Value
	for _, e := range l.ExitingBlocks() {
		for i, s := range e.Succs() {
			if l.Contains(s) {
				continue
			}
			m := ma.ExitMask(e, i)
			atLatch := m
			if m.Block != latch {
				atLatch = promoteDefinition(ctx.Region, ma.bi, m, latchIdx, falseFill)
			}
			if combined == nil {
				combined = atLatch
				continue
			}
			or := f.NewValueAt(latch, len(latch.Values), ir.OpOr, ir.Bool, combined, atLatch)
			or.Name = "mask.exit." + l.Header.String()
			ctx.SetShape(or, shape.Join(ctx.ShapeOf(combined), ctx.ShapeOf(atLatch)))
			combined = or
		}
	}
	if combined == nil {
		ctx.Log.Fatalf(l.Header.String(), "divergent loop has no exit edges")
	}
	ma.loopExit[l] = combined
	return combined
}
