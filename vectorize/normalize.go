// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file converts divergent loops to latch-exit form.  A divergent loop
// may be left on different iterations by different lanes; after this
// rewrite the loop body runs until no lane is live, every original exit
// edge is gone, and the latch alone decides, uniformly via an rv_any
// reduction over the live mask, whether another iteration runs.  Values
// that were live out of the loop are carried across iterations by tracker
// φs at the header, updated at the latch with a mask-select that latches
// the value in the iteration its lane leaves.
//
// Preconditions (from the loop canonicalizer): unique pre-header, single
// latch, and loop-closed SSA: every exterior use of a loop-defined value
// flows through a single-input φ in an exit block.  Violations abort the
// transform.

package vectorize

import (
	"sort"

	"github.com/Hugobros3/rv/ir"
	"github.com/Hugobros3/rv/shape"
)

// A PlatformInfo materializes target intrinsics.  DeclareAnyReduce returns
// the callee for the boolean any-reduction the latch exit branches on.
type PlatformInfo interface {
	DeclareAnyReduce() *ir.Callee
}

// DefaultPlatform declares rv_any with the attribute set reduction
// intrinsics carry: no memory access, no unwinding, convergent, no
// recursion.
type DefaultPlatform struct{}

func (DefaultPlatform) DeclareAnyReduce() *ir.Callee {
	return &ir.Callee{
		Name:       "rv_any",
		NoMemory:   true,
		NoThrow:    true,
		Convergent: true,
		NoRecurse:  true,
	}
}

type loopNormalizer struct {
	ctx      *Context
	masks    MaskAnalysis
	loops    *ir.LoopForest
	dt       *ir.DomTree
	bi       *BlockIndex
	chain    *relayChain
	platform PlatformInfo
}

// normalize rewrites the divergent loop l to latch-exit form.  exitAnchor
// is the relay chain position after which the loop's exits are scheduled;
// it may be nil when nothing is pending past the loop yet.
func (n *loopNormalizer) normalize(l *ir.Loop, exitAnchor *relay) {
	ctx := n.ctx
	log := ctx.Log

	latch := l.Latch()
	if latch == nil {
		log.Fatalf(l.Header.String(), "divergent loop has %d latches, need exactly one", len(l.Latches))
	}
	preheader := l.Preheader()
	if preheader == nil {
		log.Fatalf(l.Header.String(), "divergent loop has no unique pre-header")
	}

	// Step 1: every original exit becomes a scheduled target after the loop.
	exits := l.ExitBlocks()
	if len(exits) == 0 {
		log.Fatalf(l.Header.String(), "divergent loop has no exits")
	}
	sort.Slice(exits, func(i, j int) bool { return n.bi.PosOf(exits[i]) < n.bi.PosOf(exits[j]) })
	anchor := exitAnchor
	var firstExit *relay
	for _, x := range exits {
		if !ctx.Region.Contains(x) {
			log.Fatalf(x.String(), "loop exit leaves the region")
		}
		r := n.chain.addTargetToRelay(anchor, n.bi.PosOf(x))
		if firstExit == nil {
			firstExit = r
		}
		anchor = r
	}
	// A target already pending between the latch and the first exit is
	// where control must converge before the exits run.
	if exitAnchor != nil && exitAnchor.id < firstExit.id && n.chain.getRelay(exitAnchor.id) != nil {
		firstExit = exitAnchor
	}

	// The combined exit mask is built before exit edges are dropped; it
	// reads the per-edge masks of the current terminators.
	cem := n.masks.CombinedLoopExitMask(l)

	// Each exit block will run after the loop for every lane that ever
	// took its edge, across all iterations.  Accumulate the per-iteration
	// edge mask in a header φ so the exit's block mask (and everything
	// downstream of it) sees the union rather than the last iteration.
	latchIdx0 := n.bi.PosOf(l.Latch())
	for _, x := range exits {
		n.accumulateExitMask(l, preheader, l.Latch(), latchIdx0, x)
	}

	// Step 2: trackers for live-outs.  Kill exits (exits whose branch is
	// uniform, taken by every lane together) are not tracked; their φs
	// are only re-routed through the latch in step 6.
	latchIdx := n.bi.PosOf(latch)
	tracked := map[*ir.Value]bool{}
	trackerUpd := map[*ir.Value]*ir.Value{} // live-out → latch update
	for _, x := range exits {
		exitingPred := n.loopPredOf(l, x)
		kill := !divergentTerminator(ctx, n.loops, exitingPred)
		for _, phi := range x.Phis() {
			if phi.NumIncoming() != 1 {
				log.Fatalf(phi.String(), "exit block φ has %d incomings, loop-closed SSA requires one", phi.NumIncoming())
			}
			v, pred := phi.Incoming(0)
			if kill || v.Block == nil || !l.Contains(v.Block) {
				continue
			}
			upd := trackerUpd[v]
			if upd == nil {
				upd = n.requestTracker(l, preheader, latch, latchIdx, cem, v)
				trackerUpd[v] = upd
			}
			phi.SetIncoming(pred, upd)
			tracked[phi] = true
		}
	}

	// Step 4: drop loop-exit edges; every exiting block falls through to
	// its in-loop successor.
	for _, e := range l.ExitingBlocks() {
		t, ok := e.Term.(*ir.CondBr)
		if !ok {
			if br, ok := e.Term.(*ir.Br); ok && !l.Contains(br.Target) && e != latch {
				log.Fatalf(e.String(), "exiting block leaves the loop unconditionally")
			}
			continue
		}
		var inLoop *ir.Block
		switch {
		case l.Contains(t.Then) && !l.Contains(t.Else):
			inLoop = t.Then
		case l.Contains(t.Else) && !l.Contains(t.Then):
			inLoop = t.Else
		default:
			log.Fatalf(e.String(), "exiting block has no unique in-loop successor")
		}
		e.SetTerm(&ir.Br{Target: inLoop})
		n.masks.UpdateExitMask(e, 0, n.masks.BlockMask(e))
	}

	// Step 5: latch exit.  The loop iterates while any lane is live.
	f := latch.Func
	live := n.masks.BlockMask(latch)
	not := f.NewValue(latch, ir.OpNot, ir.Bool, cem)
	nextLive := f.NewValue(latch, ir.OpAnd, ir.Bool, live, not)
	nextLive.Name = "mask.live.next." + l.Header.String()
	ctx.SetShape(not, ctx.ShapeOf(cem))
	ctx.SetShape(nextLive, shape.Join(ctx.ShapeOf(live), ctx.ShapeOf(cem)))

	anyCall := f.NewValue(latch, ir.OpCall, ir.Bool, nextLive)
	anyCall.Aux = n.platform.DeclareAnyReduce()
	anyCall.Name = "any." + l.Header.String()
	ctx.PinWithShape(anyCall, shape.Uni(0))

	latch.SetTerm(&ir.CondBr{Cond: anyCall, Then: l.Header, Else: firstExit.block})
	n.masks.UpdateExitMask(latch, 0, nextLive)
	n.masks.UpdateExitMask(latch, 1, n.loopEntryMask(l, preheader))

	// The header's live-mask φ now carries the still-live lanes around the
	// back edge.
	if livePhi := n.masks.BlockMask(l.Header); livePhi != nil && livePhi.Op == ir.OpPhi && livePhi.IncomingFor(latch) != nil {
		livePhi.SetIncoming(latch, nextLive)
	}
	ctx.RemoveDivergentLoop(l)

	// Step 6: exit-block φs.  Loop-invariant or constant incomings fold to
	// the incoming value outright; the rest re-route through the latch and
	// migrate to the single exit relay, where control actually leaves the
	// loop.  Tracked φs carry their tracker's latch state; kill-exit φs
	// carry the live-out itself, promoted to the latch when its definition
	// does not dominate it.
	for _, x := range exits {
		phis := append([]*ir.Value(nil), x.Phis()...)
		for _, phi := range phis {
			v, _ := phi.Incoming(0)
			if v.Block == nil || !l.Contains(v.Block) {
				f.ReplaceAllUses(phi, v)
				x.RemoveValue(phi)
				continue
			}
			if !tracked[phi] && !n.dt.Dominates(v.Block, latch) {
				v = promoteDefinition(ctx.Region, n.bi, v, latchIdx, undefFill)
			}
			phi.Args[0] = v
			phi.SetIncomingBlock(0, latch)
			x.MoveValueFront(phi, firstExit.block)
		}
	}
}

// accumulateExitMask installs the running union of the edge mask into the
// exit block x as x's execution mask.
func (n *loopNormalizer) accumulateExitMask(l *ir.Loop, preheader, latch *ir.Block, latchIdx int, x *ir.Block) {
	ctx := n.ctx
	f := latch.Func

	e := n.loopPredOf(l, x)
	var m *ir.Value
	for i, s := range e.Succs() {
		if s == x {
			m = n.masks.ExitMask(e, i)
		}
	}
	if m == nil {
		ctx.Log.Fatalf(x.String(), "missing exit mask on edge from %v", e)
	}

	acc := f.NewPhi(l.Header, ir.Bool)
	acc.Name = "mask.left." + x.String()
	off := f.NewConstBool(preheader, false)
	acc.AddIncoming(off, preheader)
	ctx.SetShape(acc, shape.Var(0))
	ctx.SetShape(off, shape.Uni(0))

	atLatch := m
	if !n.dt.Dominates(m.Block, latch) {
		atLatch = promoteDefinition(ctx.Region, n.bi, m, latchIdx, falseFill)
	}
	upd := f.NewValueAt(latch, len(latch.Values), ir.OpOr, ir.Bool, acc, atLatch)
	upd.Name = acc.Name + ".upd"
	ctx.SetShape(upd, shape.Var(0))
	acc.AddIncoming(upd, latch)

	// The stale per-iteration mask m doubled as x's block mask when the
	// mask analysis materialized the region's masks; every mask computed
	// downstream of the loop chained on it.  Re-point those uses (and the
	// analysis' own tables) at the accumulated mask; uses inside the loop
	// (the combined exit mask and the accumulator itself) still mean
	// "left this iteration" and keep the original value.
	old := n.masks.BlockMask(x)
	n.masks.UpdateBlockMask(x, upd)
	if old != nil && old != upd {
		replaceMaskUsesOutsideLoop(f, l, old, upd)
		if rw, ok := n.masks.(maskRewriter); ok {
			rw.replaceMaskOutside(l, old, upd)
		}
	}
}

// replaceMaskUsesOutsideLoop rewrites operand references to old in every
// block outside l.
func replaceMaskUsesOutsideLoop(f *ir.Func, l *ir.Loop, old, new *ir.Value) {
	for _, b := range f.Blocks {
		if l.Contains(b) {
			continue
		}
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
		if t, ok := b.Term.(*ir.CondBr); ok && t.Cond == old {
			t.Cond = new
		}
	}
}

// requestTracker inserts the header tracker φ and its latch update for the
// live-out v and returns the update (the tracker's latch state).
func (n *loopNormalizer) requestTracker(l *ir.Loop, preheader, latch *ir.Block, latchIdx int, cem, v *ir.Value) *ir.Value {
	ctx := n.ctx
	f := latch.Func

	tracker := f.NewPhi(l.Header, v.Type)
	tracker.Name = "track." + v.String()
	tracker.AddIncoming(f.NewUndef(preheader, v.Type), preheader)
	ctx.SetShape(tracker, shape.Var(0))

	// Step 3: the live-out must be visible at the latch.
	atLatch := v
	if !n.dt.Dominates(v.Block, latch) {
		atLatch = promoteDefinition(ctx.Region, n.bi, v, latchIdx, undefFill)
	}

	upd := f.NewValueAt(latch, len(latch.Values), ir.OpSelect, v.Type, cem, atLatch, tracker)
	upd.Name = "track." + v.String() + ".upd"
	ctx.SetShape(upd, shape.Var(0))
	tracker.AddIncoming(upd, latch)
	return upd
}

// loopPredOf returns the in-loop predecessor of the exit block x.
func (n *loopNormalizer) loopPredOf(l *ir.Loop, x *ir.Block) *ir.Block {
	for _, p := range x.Preds {
		if l.Contains(p) {
			return p
		}
	}
	n.ctx.Log.Fatalf(x.String(), "exit block has no in-loop predecessor")
	return nil
}

// loopEntryMask returns the mask under which lanes entered l, which is the
// mask that holds once the loop is done.
func (n *loopNormalizer) loopEntryMask(l *ir.Loop, preheader *ir.Block) *ir.Value {
	for i, s := range preheader.Succs() {
		if s == l.Header {
			return n.masks.ExitMask(preheader, i)
		}
	}
	n.ctx.Log.Fatalf(preheader.String(), "pre-header does not branch to header")
	return nil
}
