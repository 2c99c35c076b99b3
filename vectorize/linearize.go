// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file is the CFG linearizer.  It walks the region's blocks in the
// loop-contiguous topological order, emits each block by merging the relay
// that was standing in for it, folds branches whose condition varies across
// lanes into the relay chain, folds the φs of blocks whose predecessor sets
// changed into mask-selected chains, and keeps the dominator tree current
// as it goes.  When it is done no in-region terminator is divergent and
// per-lane control has been rewritten into data flow.

package vectorize

import (
	"github.com/Hugobros3/rv/ir"
)

type origEdge struct {
	from, to *ir.Block
}

type linearizer struct {
	ctx      *Context
	masks    MaskAnalysis
	dt       *ir.DomTree
	loops    *ir.LoopForest
	bi       *BlockIndex
	chain    *relayChain
	platform PlatformInfo

	// Masks of edges as they were when their source block was processed;
	// φ folding reads these after the edges themselves are gone.
	edgeMaskAt map[origEdge]*ir.Value
	// Predecessor sets before linearization started.
	origPreds map[*ir.Block][]*ir.Block
	relayset  map[*ir.Block]bool
}

func newLinearizer(ctx *Context, masks MaskAnalysis, dt *ir.DomTree, loops *ir.LoopForest, bi *BlockIndex, platform PlatformInfo) *linearizer {
	f := ctx.Region.Entry.Func
	lin := &linearizer{
		ctx:        ctx,
		masks:      masks,
		dt:         dt,
		loops:      loops,
		bi:         bi,
		chain:      newRelayChain(f, ctx.Region),
		platform:   platform,
		edgeMaskAt: map[origEdge]*ir.Value{},
		origPreds:  map[*ir.Block][]*ir.Block{},
		relayset:   map[*ir.Block]bool{},
	}
	for _, b := range bi.Order {
		lin.origPreds[b] = append([]*ir.Block(nil), b.Preds...)
	}
	return lin
}

// run performs the linearization.
func (lin *linearizer) run() {
	norm := &loopNormalizer{
		ctx: lin.ctx, masks: lin.masks, loops: lin.loops,
		dt: lin.dt, bi: lin.bi, chain: lin.chain, platform: lin.platform,
	}

	for i, b := range lin.bi.Order {
		anchor := lin.peekContinuation(i)

		// Divergent loops are normalized when their header comes up, before
		// the header itself is emitted, so the loop body is already
		// latch-exiting by the time it is walked.
		if l := lin.loops.LoopWithHeader(b); l != nil && lin.ctx.IsDivergent(l) {
			norm.normalize(l, anchor)
		}

		anchor = lin.emitBlock(i, b)
		lin.recomputeIdom(b)
		lin.foldPhis(b)
		lin.processBranch(b, anchor)
	}

	if !lin.chain.empty() {
		lin.ctx.Log.Fatalf(lin.ctx.Region.Entry.String(), "relay targets left unemitted after linearization")
	}
	lin.cleanup()
}

// peekContinuation returns the pending continuation relay of the block
// about to be emitted at index i without retiring its relay.
func (lin *linearizer) peekContinuation(i int) *relay {
	if r := lin.chain.getRelay(i); r != nil {
		return r.next
	}
	return nil
}

// emitBlock merges the relay standing in for index i into the real block:
// branches targeting the relay are rewired to b, instructions parked in the
// relay (migrated exit φs) move to b's front, and the relay block is
// deleted.  The caller then recomputes b's immediate dominator with
// recomputeIdom.  Returns b's mandatory continuation relay.
func (lin *linearizer) emitBlock(i int, b *ir.Block) *relay {
	next, relayBlock := lin.chain.advanceScheduleHead(i)
	if relayBlock == nil {
		return nil
	}
	delete(lin.relayset, relayBlock)

	for len(relayBlock.Preds) > 0 {
		relayBlock.Preds[0].ReplaceSuccessor(relayBlock, b)
	}
	for len(relayBlock.Values) > 0 {
		v := relayBlock.Values[0]
		relayBlock.MoveValueFront(v, b)
	}
	lin.ctx.Region.Remove(relayBlock)
	lin.ctx.DropPredicate(relayBlock)
	b.Func.RemoveBlock(relayBlock)
	return next
}

func (lin *linearizer) recomputeIdom(b *ir.Block) {
	if b == lin.ctx.Region.Entry {
		return
	}
	var ncd *ir.Block
	for _, p := range b.Preds {
		if !lin.ctx.Region.Contains(p) {
			continue
		}
		if lin.bi.Contains(p) && lin.bi.PosOf(p) >= lin.bi.PosOf(b) {
			continue // back edge does not dominate
		}
		ncd = lin.dt.NearestCommonDominator(ncd, p)
	}
	if ncd != nil {
		lin.dt.SetIdom(b, ncd)
	}
}

// route picks the block a branch to target must actually go to: the
// pending anchor when it comes first (control owes it a visit), the
// target's own relay otherwise.
func (lin *linearizer) route(anchor, target *relay) *relay {
	if anchor != nil && anchor != target && anchor.id < target.id && lin.chain.getRelay(anchor.id) != nil {
		return anchor
	}
	return target
}

// processBranch rewrites b's terminator against the relay chain.  anchor is
// b's mandatory continuation, inherited from the relay merged at emission.
func (lin *linearizer) processBranch(b *ir.Block, anchor *relay) {
	ctx := lin.ctx
	switch t := b.Term.(type) {
	case *ir.Return, *ir.Unreachable, nil:
		return

	case *ir.Br:
		succ := t.Target
		if lin.skipEdge(b, succ) {
			return
		}
		lin.recordEdgeMask(b, succ, 0)
		node := lin.chain.addTargetToRelay(anchor, lin.bi.PosOf(succ))
		lin.redirect(b, succ, lin.route(anchor, node))

	case *ir.CondBr:
		condShape := ctx.ObservedShape(t.Cond, b, lin.loops)
		if condShape.IsDefined() && !condShape.IsUniform() {
			lin.foldBranch(b, t, anchor)
			return
		}
		// Uniform branch: keep the two-way structure, but both targets are
		// still scheduled so later merges know they are coming.
		lin.recordEdgeMask(b, t.Then, 0)
		lin.recordEdgeMask(b, t.Else, 1)
		for _, succ := range []*ir.Block{t.Then, t.Else} {
			if lin.skipEdge(b, succ) {
				continue
			}
			node := lin.chain.addTargetToRelay(anchor, lin.bi.PosOf(succ))
			lin.redirect(b, succ, lin.route(anchor, node))
		}
	}
}

// foldBranch linearizes a divergent conditional branch: both successors are
// scheduled, the later one nested as a mandatory target after the earlier
// one, and the branch itself degenerates to an unconditional edge into the
// chain.  Per-lane selection re-materializes at merge points when φs fold.
func (lin *linearizer) foldBranch(b *ir.Block, t *ir.CondBr, anchor *relay) {
	first, second := t.Then, t.Else
	if lin.bi.PosOf(second) < lin.bi.PosOf(first) {
		first, second = second, first
	}
	if lin.bi.PosOf(first) <= lin.bi.PosOf(b) {
		lin.ctx.Log.Fatalf(b.String(), "divergent branch on a loop back edge; divergent loops must be normalized first")
	}
	lin.recordEdgeMask(b, t.Then, 0)
	lin.recordEdgeMask(b, t.Else, 1)

	secondHadRelay := lin.chain.getRelay(lin.bi.PosOf(second)) != nil

	nodeFirst := lin.chain.addTargetToRelay(anchor, lin.bi.PosOf(first))
	lin.chain.addTargetToRelay(nodeFirst, lin.bi.PosOf(second))

	target := lin.route(anchor, nodeFirst)
	lin.redirect(b, first, target)
	if second != first {
		lin.redirect(b, second, target)
	}

	// The folded edge is taken by every lane that reached b.
	lin.masks.UpdateExitMask(b, 0, lin.masks.BlockMask(b))
	lin.masks.UpdateExitMask(b, 1, lin.masks.BlockMask(b))

	// Dominator repair: control now reaches second through first.
	if lin.dt.Idom(second) == b && !secondHadRelay {
		lin.dt.SetIdom(second, first)
	}
}

// skipEdge reports whether the edge b→succ is left untouched: region
// exits, already-scheduled relay blocks, and loop back edges stay as they
// are.
func (lin *linearizer) skipEdge(b, succ *ir.Block) bool {
	if lin.relayset[succ] {
		return true
	}
	if !lin.ctx.Region.Contains(succ) {
		return true
	}
	if !lin.bi.Contains(succ) {
		return true
	}
	return lin.bi.PosOf(succ) <= lin.bi.PosOf(b) // back edge
}

// redirect points the b→succ edge at a relay block instead.
func (lin *linearizer) redirect(b, succ *ir.Block, r *relay) {
	lin.relayset[r.block] = true
	if r.block == succ {
		return
	}
	b.ReplaceSuccessor(succ, r.block)
}

// recordEdgeMask remembers the current mask of the original edge b→succ
// for the φ folds at succ.
func (lin *linearizer) recordEdgeMask(b, succ *ir.Block, succIdx int) {
	if _, ok := lin.edgeMaskAt[origEdge{b, succ}]; ok {
		return
	}
	lin.edgeMaskAt[origEdge{b, succ}] = lin.masks.ExitMask(b, succIdx)
}

// foldPhis repairs the φs of an emitted block whose predecessor set was
// changed by linearization.  φs that lost an incoming edge fold to a chain
// of mask selects over their original incomings; φs whose block only
// gained predecessors receive undef incomings for the new edges.
func (lin *linearizer) foldPhis(b *ir.Block) {
	f := b.Func
	ctx := lin.ctx

	cur := map[*ir.Block]bool{}
	for _, p := range b.Preds {
		cur[p] = true
	}

	phis := append([]*ir.Value(nil), b.Phis()...)
	for _, phi := range phis {
		lost := false
		for i := 0; i < phi.NumIncoming(); i++ {
			if _, pred := phi.Incoming(i); !cur[pred] {
				lost = true
				break
			}
		}
		if !lost {
			incoming := map[*ir.Block]bool{}
			for i := 0; i < phi.NumIncoming(); i++ {
				_, pred := phi.Incoming(i)
				incoming[pred] = true
			}
			for _, p := range b.Preds {
				if !incoming[p] {
					phi.AddIncoming(f.NewUndef(f.Entry, phi.Type), p)
					incoming[p] = true
				}
			}
			continue
		}

		if phi.NumIncoming() == 1 {
			v, _ := phi.Incoming(0)
			v = lin.dominatingDef(v, b)
			lin.replacePhi(phi, v, b)
			continue
		}

		// d = v0; d = select(mask(pred_i → b), v_i, d) for i ≥ 1.
		at := b.FirstNonPhi()
		sel, _ := phi.Incoming(0)
		sel = lin.dominatingDef(sel, b)
		for i := 1; i < phi.NumIncoming(); i++ {
			v, pred := phi.Incoming(i)
			mask := lin.edgeMaskAt[origEdge{pred, b}]
			if mask == nil {
				ctx.Log.Fatalf(b.String(), "missing edge mask from %v while folding φ %v", pred, phi)
			}
			mask = lin.dominatingDef(mask, b)
			v = lin.dominatingDef(v, b)
			s := f.NewValueAt(b, at, ir.OpSelect, phi.Type, mask, v, sel)
			s.Name = phi.String() + ".fold"
			at++
			sel = s
		}
		ctx.SetShape(sel, ctx.ShapeOf(phi))
		lin.replacePhi(phi, sel, b)
	}
}

// replacePhi retires a folded φ: uses are rewritten to repl, and any mask
// table still pointing at the φ is re-pointed so later folds never read a
// deleted value.
func (lin *linearizer) replacePhi(phi, repl *ir.Value, b *ir.Block) {
	b.Func.ReplaceAllUses(phi, repl)
	b.RemoveValue(phi)
	if rw, ok := lin.masks.(maskRewriter); ok {
		rw.replaceMask(phi, repl)
	}
	for k, m := range lin.edgeMaskAt {
		if m == phi {
			lin.edgeMaskAt[k] = repl
		}
	}
}

// dominatingDef returns a definition of v valid at use, promoting it along
// the schedule when its definition block no longer dominates use.
func (lin *linearizer) dominatingDef(v *ir.Value, use *ir.Block) *ir.Value {
	if v.Block == nil || v.Block == use || lin.dt.Dominates(v.Block, use) {
		return v
	}
	fill := undefFill
	if v.Type == ir.Bool {
		fill = falseFill
	}
	return promoteDefinition(lin.ctx.Region, lin.bi, v, lin.bi.PosOf(use), fill)
}

// cleanup rewrites degenerate conditional branches whose successors all
// landed on the same block into unconditional branches.
func (lin *linearizer) cleanup() {
	for _, b := range lin.ctx.Region.Blocks() {
		if t, ok := b.Term.(*ir.CondBr); ok && t.Then == t.Else {
			target := t.Then
			b.SetTerm(&ir.Br{Target: target})
			lin.masks.UpdateExitMask(b, 0, lin.masks.BlockMask(b))
		}
	}
}

// Linearize runs the full divergence-driven rewrite of the region: shape
// and mask analyses must already have populated ctx.  On return every
// in-region terminator is uniform, divergent loops are latch-exiting, and
// the dominator tree matches the final CFG.
func Linearize(ctx *Context, masks MaskAnalysis, dt *ir.DomTree, loops *ir.LoopForest, bi *BlockIndex, platform PlatformInfo) {
	lin := newLinearizer(ctx, masks, dt, loops, bi, platform)
	lin.run()
}
