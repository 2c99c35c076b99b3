// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vectorize_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Hugobros3/rv/interp"
	"github.com/Hugobros3/rv/ir"
	"github.com/Hugobros3/rv/shape"
	"github.com/Hugobros3/rv/vectorize"
)

const width = 4

// whileLoopFn builds `while (a[i] != 0) i++` starting at a per-lane index:
// the canonical divergent loop.
func whileLoopFn() *ir.Built {
	return ir.Fun("whileneq", "entry",
		ir.Bloc("entry",
			ir.Valu("base", ir.OpArg, ir.Ptr, 0),
			ir.Valu("lane", ir.OpArg, ir.Int, 1),
			ir.Valu("zero", ir.OpConst, ir.Int, int64(0)),
			ir.Valu("one", ir.OpConst, ir.Int, int64(1)),
			ir.Goto("header")),
		ir.Bloc("header",
			ir.Valu("i", ir.OpPhi, ir.Int, nil, "entry:lane", "latch:inext"),
			ir.Valu("addr", ir.OpIndex, ir.Ptr, nil, "base", "i"),
			ir.Valu("av", ir.OpLoad, ir.Int, nil, "addr"),
			ir.Valu("cz", ir.OpICmp, ir.Bool, ir.PredNE, "av", "zero"),
			ir.If("cz", "latch", "exitb")),
		ir.Bloc("latch",
			ir.Valu("inext", ir.OpAdd, ir.Int, nil, "i", "one"),
			ir.Goto("header")),
		ir.Bloc("exitb",
			ir.Valu("iout", ir.OpPhi, ir.Int, nil, "header:i"),
			ir.Ret("iout")))
}

func vectorizeFn(t *testing.T, b *ir.Built, argShapes ...shape.Shape) *vectorize.Result {
	t.Helper()
	res, err := vectorize.VectorizeRegion(b.F, vectorize.WholeFunction(b.F), vectorize.Options{
		Width:     width,
		MaskPos:   -1,
		ArgShapes: argShapes,
	})
	if err != nil {
		t.Fatalf("VectorizeRegion: %v", err)
	}
	return res
}

// checkUniformTerminators asserts the central post-condition: no in-region
// terminator branches on a lane-divergent condition.
func checkUniformTerminators(t *testing.T, res *vectorize.Result, f *ir.Func) {
	t.Helper()
	for _, b := range f.Blocks {
		if cb, ok := b.Term.(*ir.CondBr); ok {
			s := res.Context.ShapeOf(cb.Cond)
			if s.IsDefined() && !s.IsUniform() {
				t.Errorf("block %v still branches on %v with shape %v", b, cb.Cond, s)
			}
		}
	}
}

// checkSingleLatchExits asserts that every loop of the final CFG has
// exactly one exit edge and that it leaves from the latch.
func checkSingleLatchExits(t *testing.T, f *ir.Func) {
	t.Helper()
	dt := ir.BuildDomTree(f)
	for _, l := range ir.BuildLoopForest(f, dt).Loops {
		exiting := l.ExitingBlocks()
		if len(exiting) != 1 {
			t.Errorf("loop %v has %d exiting blocks, want 1", l, len(exiting))
			continue
		}
		if exiting[0] != l.Latch() {
			t.Errorf("loop %v exits from %v, not its latch %v", l, exiting[0], l.Latch())
		}
		n := 0
		for _, s := range exiting[0].Succs() {
			if !l.Contains(s) {
				n++
			}
		}
		if n != 1 {
			t.Errorf("loop %v has %d exit edges, want 1", l, n)
		}
	}
}

// runEquivalence runs the scalar reference once per lane and the
// transformed function once in lockstep, on identical memory images, and
// compares results and memory.
func runEquivalence(t *testing.T, scalar, vec *ir.Func, mem []int64, laneArgs [][]int64) {
	t.Helper()

	wantMem := append([]int64(nil), mem...)
	sm := &interp.Machine{Mem: wantMem}
	want := make([]int64, len(laneArgs))
	for l, args := range laneArgs {
		r, err := sm.Run(scalar, args)
		if err != nil {
			t.Fatalf("scalar lane %d: %v", l, err)
		}
		want[l] = r
	}

	gotMem := append([]int64(nil), mem...)
	vm := &interp.Machine{Mem: gotMem}
	got, err := vm.RunLanes(vec, laneArgs)
	if err != nil {
		t.Fatalf("lockstep run: %v", err)
	}

	require.Equal(t, want, got, "per-lane results diverge from scalar runs")
	require.Equal(t, wantMem, gotMem, "memory images diverge from scalar runs")
}

func TestLinearizeUniformRegionIsNoOp(t *testing.T) {
	b := varyingDiamond()
	f := b.F

	type edgeset map[string][]string
	structure := func() edgeset {
		es := edgeset{}
		for _, blk := range f.Blocks {
			var succs []string
			for _, s := range blk.Succs() {
				succs = append(succs, s.String())
			}
			es[blk.String()] = succs
		}
		return es
	}
	before := structure()

	res := vectorizeFn(t, b, shape.Uni(0))
	require.Equal(t, before, structure(), "uniform region's CFG changed")
	if b.Values["p"].Op != ir.OpPhi || b.Values["p"].Block != b.Blocks["merge"] {
		t.Error("uniform region's φ was folded")
	}
	checkUniformTerminators(t, res, f)
}

func TestLinearizeVaryingDiamond(t *testing.T) {
	b := varyingDiamond()
	f := b.F
	res := vectorizeFn(t, b, shape.Var(0))

	checkUniformTerminators(t, res, f)
	if err := ir.Verify(f); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// The divergent branch is gone and the φ became a select chain.
	if _, ok := b.Blocks["entry"].Term.(*ir.Br); !ok {
		t.Errorf("entry terminator is %T, want unconditional branch", b.Blocks["entry"].Term)
	}
	if b.F.HasUses(b.Values["p"]) {
		t.Error("folded φ still has uses")
	}
	foundSelect := false
	for _, v := range b.Blocks["merge"].Values {
		if v.Op == ir.OpSelect {
			foundSelect = true
		}
	}
	if !foundSelect {
		t.Error("merge block has no select after φ folding")
	}

	// Both arms execute on the single linear path.
	scalar := varyingDiamond().F
	runEquivalence(t, scalar, f, nil, [][]int64{{-1}, {2}, {-3}, {4}})
}

func TestLinearizeDiamondWithStores(t *testing.T) {
	// Same diamond, but the merged value is stored to out[lane]; the store
	// happens once per lane with the folded select as operand.
	build := func() *ir.Built {
		return ir.Fun("vstore", "entry",
			ir.Bloc("entry",
				ir.Valu("x", ir.OpArg, ir.Int, 0),
				ir.Valu("out", ir.OpArg, ir.Ptr, 1),
				ir.Valu("lane", ir.OpArg, ir.Int, 2),
				ir.Valu("zero", ir.OpConst, ir.Int, int64(0)),
				ir.Valu("c", ir.OpICmp, ir.Bool, ir.PredLT, "x", "zero"),
				ir.If("c", "then", "els")),
			ir.Bloc("then",
				ir.Valu("vt", ir.OpMul, ir.Int, nil, "x", "x"),
				ir.Goto("merge")),
			ir.Bloc("els",
				ir.Valu("one", ir.OpConst, ir.Int, int64(1)),
				ir.Valu("ve", ir.OpAdd, ir.Int, nil, "x", "one"),
				ir.Goto("merge")),
			ir.Bloc("merge",
				ir.Valu("p", ir.OpPhi, ir.Int, nil, "then:vt", "els:ve"),
				ir.Valu("slot", ir.OpIndex, ir.Ptr, nil, "out", "lane"),
				ir.Valu("st", ir.OpStore, ir.Void, nil, "slot", "p"),
				ir.Ret("p")))
	}
	b := build()
	res := vectorizeFn(t, b, shape.Var(0), shape.Uni(0), shape.Cont(0))
	checkUniformTerminators(t, res, b.F)

	mem := make([]int64, 8)
	runEquivalence(t, build().F, b.F,
		mem, [][]int64{{-1, 0, 0}, {2, 0, 1}, {-3, 0, 2}, {4, 0, 3}})
}

func TestWhileLoopWithVaryingExit(t *testing.T) {
	b := whileLoopFn()
	f := b.F
	res := vectorizeFn(t, b, shape.Uni(0), shape.Cont(0))

	checkUniformTerminators(t, res, f)
	checkSingleLatchExits(t, f)
	if err := ir.Verify(f); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// The latch now branches on an any-reduction over the live mask.
	latch := b.Blocks["latch"]
	cb, ok := latch.Term.(*ir.CondBr)
	if !ok {
		t.Fatal("latch does not end in a conditional branch")
	}
	if cb.Cond.Op != ir.OpCall || cb.Cond.CalleeOf().Name != "rv_any" {
		t.Errorf("latch branches on %v, want an rv_any call", cb.Cond)
	}
	if !cb.Cond.CalleeOf().Convergent || !cb.Cond.CalleeOf().NoMemory {
		t.Error("rv_any is missing its intrinsic attributes")
	}

	// A tracker φ carries the live-out across iterations.
	tracker := 0
	for _, v := range b.Blocks["header"].Phis() {
		if v.Op == ir.OpPhi && len(v.Name) >= 6 && v.Name[:6] == "track." {
			tracker++
		}
	}
	if tracker != 1 {
		t.Errorf("header has %d tracker φs, want 1", tracker)
	}

	// a = [0,1,1,0] with lanes starting at i = 0..3; per-lane results must
	// match four scalar runs.  Extra zero padding absorbs the reads that
	// masked-off lanes keep issuing.
	mem := []int64{0, 1, 1, 0, 0, 0, 0, 0}
	runEquivalence(t, whileLoopFn().F, f,
		mem, [][]int64{{0, 0}, {0, 1}, {0, 2}, {0, 3}})
}

// nestedDivergentFn: an outer uniform loop running n times around an inner
// loop whose trip count is the per-lane bound; s counts inner iterations.
func nestedDivergentFn() *ir.Built {
	return ir.Fun("nesteddiv", "entry",
		ir.Bloc("entry",
			ir.Valu("bound", ir.OpArg, ir.Int, 0),
			ir.Valu("n", ir.OpArg, ir.Int, 1),
			ir.Valu("zero", ir.OpConst, ir.Int, int64(0)),
			ir.Valu("one", ir.OpConst, ir.Int, int64(1)),
			ir.Goto("oh")),
		ir.Bloc("oh",
			ir.Valu("i", ir.OpPhi, ir.Int, nil, "entry:zero", "ol:inext"),
			ir.Valu("s", ir.OpPhi, ir.Int, nil, "entry:zero", "ol:sout"),
			ir.Goto("ih")),
		ir.Bloc("ih",
			ir.Valu("j", ir.OpPhi, ir.Int, nil, "oh:zero", "il:jnext"),
			ir.Valu("sin", ir.OpPhi, ir.Int, nil, "oh:s", "il:snext"),
			ir.Valu("cj", ir.OpICmp, ir.Bool, ir.PredLT, "j", "bound"),
			ir.If("cj", "il", "ihexit")),
		ir.Bloc("il",
			ir.Valu("snext", ir.OpAdd, ir.Int, nil, "sin", "one"),
			ir.Valu("jnext", ir.OpAdd, ir.Int, nil, "j", "one"),
			ir.Goto("ih")),
		ir.Bloc("ihexit",
			ir.Valu("sout", ir.OpPhi, ir.Int, nil, "ih:sin"),
			ir.Goto("ol")),
		ir.Bloc("ol",
			ir.Valu("inext", ir.OpAdd, ir.Int, nil, "i", "one"),
			ir.Valu("ci", ir.OpICmp, ir.Bool, ir.PredLT, "inext", "n"),
			ir.If("ci", "oh", "exit")),
		ir.Bloc("exit",
			ir.Valu("sfin", ir.OpPhi, ir.Int, nil, "ol:sout"),
			ir.Ret("sfin")))
}

func TestNestedDivergentLoop(t *testing.T) {
	b := nestedDivergentFn()
	f := b.F
	res := vectorizeFn(t, b, shape.Var(0), shape.Uni(0))

	checkUniformTerminators(t, res, f)
	checkSingleLatchExits(t, f)

	// With n = 3 outer rounds and inner bounds 1..4 per lane, the counter
	// accumulates 3 * bound.
	laneArgs := [][]int64{{1, 3}, {2, 3}, {3, 3}, {4, 3}}
	runEquivalence(t, nestedDivergentFn().F, f, nil, laneArgs)

	vm := &interp.Machine{}
	got, err := vm.RunLanes(f, laneArgs)
	if err != nil {
		t.Fatalf("lockstep: %v", err)
	}
	require.Equal(t, []int64{3, 6, 9, 12}, got)
}

// killExitFn: a divergent loop with an extra uniform break.  The break is
// a kill exit: taken by every live lane together, it needs no tracker.
func killExitFn() *ir.Built {
	return ir.Fun("killexit", "entry",
		ir.Bloc("entry",
			ir.Valu("base", ir.OpArg, ir.Ptr, 0),
			ir.Valu("lane", ir.OpArg, ir.Int, 1),
			ir.Valu("ubrk", ir.OpArg, ir.Int, 2),
			ir.Valu("zero", ir.OpConst, ir.Int, int64(0)),
			ir.Valu("one", ir.OpConst, ir.Int, int64(1)),
			ir.Goto("header")),
		ir.Bloc("header",
			ir.Valu("i", ir.OpPhi, ir.Int, nil, "entry:lane", "latch:inext"),
			ir.Valu("addr", ir.OpIndex, ir.Ptr, nil, "base", "i"),
			ir.Valu("av", ir.OpLoad, ir.Int, nil, "addr"),
			ir.Valu("cz", ir.OpICmp, ir.Bool, ir.PredNE, "av", "zero"),
			ir.If("cz", "chk", "exita")),
		ir.Bloc("chk",
			ir.Valu("cbr", ir.OpICmp, ir.Bool, ir.PredLT, "ubrk", "zero"),
			ir.If("cbr", "exitb", "latch")),
		ir.Bloc("latch",
			ir.Valu("inext", ir.OpAdd, ir.Int, nil, "i", "one"),
			ir.Goto("header")),
		ir.Bloc("exita",
			ir.Valu("pa", ir.OpPhi, ir.Int, nil, "header:i"),
			ir.Goto("done")),
		ir.Bloc("exitb",
			ir.Valu("pb", ir.OpPhi, ir.Int, nil, "chk:i"),
			ir.Goto("done")),
		ir.Bloc("done",
			ir.Valu("r", ir.OpPhi, ir.Int, nil, "exita:pa", "exitb:pb"),
			ir.Ret("r")))
}

func TestKillExitCreatesNoTracker(t *testing.T) {
	b := killExitFn()
	f := b.F
	res := vectorizeFn(t, b, shape.Uni(0), shape.Cont(0), shape.Uni(0))

	checkUniformTerminators(t, res, f)
	checkSingleLatchExits(t, f)

	// One live-out flows through the divergent exit, so there is exactly
	// one tracker; the kill exit contributes none.
	trackers := 0
	for _, v := range b.Blocks["header"].Phis() {
		if len(v.Name) >= 6 && v.Name[:6] == "track." {
			trackers++
		}
	}
	require.Equal(t, 1, trackers)

	mem := []int64{0, 1, 1, 0, 0, 0, 0, 0}
	// ubrk ≥ 0: the break never fires and the loop behaves as the plain
	// while loop; ubrk < 0: every lane leaves in the first iteration.
	for _, ubrk := range []int64{5, -1} {
		runEquivalence(t, killExitFn().F, f,
			mem, [][]int64{{0, 0, ubrk}, {0, 1, ubrk}, {0, 2, ubrk}, {0, 3, ubrk}})
	}
}

func TestUniformLoopWithUniformBreakIsUntouched(t *testing.T) {
	// for (i = 0; i < n; i++) { if (brk < 0) break; } with uniform n and
	// brk: nothing diverges, so the normalizer must leave the loop alone.
	build := func() *ir.Built {
		return ir.Fun("ubreak", "entry",
			ir.Bloc("entry",
				ir.Valu("n", ir.OpArg, ir.Int, 0),
				ir.Valu("brk", ir.OpArg, ir.Int, 1),
				ir.Valu("zero", ir.OpConst, ir.Int, int64(0)),
				ir.Valu("one", ir.OpConst, ir.Int, int64(1)),
				ir.Goto("header")),
			ir.Bloc("header",
				ir.Valu("i", ir.OpPhi, ir.Int, nil, "entry:zero", "latch:inext"),
				ir.Valu("c", ir.OpICmp, ir.Bool, ir.PredLT, "i", "n"),
				ir.If("c", "body", "exit1")),
			ir.Bloc("body",
				ir.Valu("cb", ir.OpICmp, ir.Bool, ir.PredLT, "brk", "zero"),
				ir.If("cb", "exit2", "latch")),
			ir.Bloc("latch",
				ir.Valu("inext", ir.OpAdd, ir.Int, nil, "i", "one"),
				ir.Goto("header")),
			ir.Bloc("exit1",
				ir.Valu("p1", ir.OpPhi, ir.Int, nil, "header:i"),
				ir.Goto("done")),
			ir.Bloc("exit2",
				ir.Valu("p2", ir.OpPhi, ir.Int, nil, "body:i"),
				ir.Goto("done")),
			ir.Bloc("done",
				ir.Valu("r", ir.OpPhi, ir.Int, nil, "exit1:p1", "exit2:p2"),
				ir.Ret("r")))
	}
	b := build()
	f := b.F
	res := vectorizeFn(t, b, shape.Uni(0), shape.Uni(0))

	checkUniformTerminators(t, res, f)
	for _, v := range b.Blocks["header"].Phis() {
		if len(v.Name) >= 6 && v.Name[:6] == "track." {
			t.Errorf("uniform loop grew a tracker φ %v", v)
		}
	}
	// The loop still has its two uniform exits.
	dt := ir.BuildDomTree(f)
	loops := ir.BuildLoopForest(f, dt)
	l := loops.LoopWithHeader(b.Blocks["header"])
	require.NotNil(t, l)
	require.Len(t, l.ExitingBlocks(), 2, "uniform exits were rewritten")

	runEquivalence(t, build().F, f, nil,
		[][]int64{{3, 1}, {3, 1}, {3, 1}, {3, 1}})
	runEquivalence(t, build().F, f, nil,
		[][]int64{{3, -1}, {3, -1}, {3, -1}, {3, -1}})
}

func TestSequentialVaryingDiamonds(t *testing.T) {
	// Two divergent if/else regions in sequence: the second one's masks
	// chain on the folded φs of the first.
	build := func() *ir.Built {
		return ir.Fun("twodiamonds", "entry",
			ir.Bloc("entry",
				ir.Valu("x", ir.OpArg, ir.Int, 0),
				ir.Valu("zero", ir.OpConst, ir.Int, int64(0)),
				ir.Valu("two", ir.OpConst, ir.Int, int64(2)),
				ir.Valu("c1", ir.OpICmp, ir.Bool, ir.PredLT, "x", "zero"),
				ir.If("c1", "a", "b")),
			ir.Bloc("a",
				ir.Valu("va", ir.OpSub, ir.Int, nil, "zero", "x"),
				ir.Goto("m1")),
			ir.Bloc("b",
				ir.Valu("vb", ir.OpAdd, ir.Int, nil, "x", "two"),
				ir.Goto("m1")),
			ir.Bloc("m1",
				ir.Valu("p1", ir.OpPhi, ir.Int, nil, "a:va", "b:vb"),
				ir.Valu("c2", ir.OpICmp, ir.Bool, ir.PredGT, "p1", "two"),
				ir.If("c2", "c", "d")),
			ir.Bloc("c",
				ir.Valu("vc", ir.OpMul, ir.Int, nil, "p1", "two"),
				ir.Goto("m2")),
			ir.Bloc("d",
				ir.Valu("vd", ir.OpAdd, ir.Int, nil, "p1", "zero"),
				ir.Goto("m2")),
			ir.Bloc("m2",
				ir.Valu("p2", ir.OpPhi, ir.Int, nil, "c:vc", "d:vd"),
				ir.Ret("p2")))
	}
	b := build()
	res := vectorizeFn(t, b, shape.Var(0))
	checkUniformTerminators(t, res, b.F)
	if err := ir.Verify(b.F); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	runEquivalence(t, build().F, b.F, nil, [][]int64{{-5}, {1}, {4}, {-1}})
}

func TestVectorizeRejectsBadWidth(t *testing.T) {
	b := varyingDiamond()
	_, err := vectorize.VectorizeRegion(b.F, vectorize.WholeFunction(b.F), vectorize.Options{
		Width:   3,
		MaskPos: -1,
	})
	require.Error(t, err)
}

func TestDomTreeConsistentAfterLinearization(t *testing.T) {
	b := whileLoopFn()
	res := vectorizeFn(t, b, shape.Uni(0), shape.Cont(0))
	if err := res.DomTree.Verify(); err != nil {
		t.Errorf("returned dominator tree is stale: %v", err)
	}
}

func TestPhiPredsAgreeAfterLinearization(t *testing.T) {
	for _, build := range []func() *ir.Built{varyingDiamond, whileLoopFn, nestedDivergentFn, killExitFn} {
		b := build()
		var shapes []shape.Shape
		switch b.F.Name {
		case "vdiamond":
			shapes = []shape.Shape{shape.Var(0)}
		case "whileneq":
			shapes = []shape.Shape{shape.Uni(0), shape.Cont(0)}
		case "nesteddiv":
			shapes = []shape.Shape{shape.Var(0), shape.Uni(0)}
		case "killexit":
			shapes = []shape.Shape{shape.Uni(0), shape.Cont(0), shape.Uni(0)}
		}
		vectorizeFn(t, b, shapes...)
		if err := ir.Verify(b.F); err != nil {
			t.Errorf("%s: %v", b.F.Name, err)
		}
	}
}
