// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vectorize implements the core of the region vectorizer: the
// divergence analyses over vector shapes, the normalization of divergent
// loops to latch-exit form, and the linearization of divergent control
// flow into mask-predicated straight-line code.  The instruction widening
// that turns the resulting region into actual SIMD operations is a
// separate pass and not part of this package.
//
// The entry point is VectorizeRegion.  A driver supplies the function, the
// region, the vector width and the argument shapes; the transform runs in
// place and either completes, returning metadata for the instruction
// vectorizer, or aborts with an error describing the offending block or
// value.  A failed region leaves the IR inconsistent; the
// caller discards the module.

package vectorize

import (
	"errors"
	"math/bits"

	"github.com/Hugobros3/rv/ir"
	"github.com/Hugobros3/rv/shape"
)

// Options configures one VectorizeRegion invocation.
type Options struct {
	// Width is the vector width W; it must be a power of two.
	Width int
	// ArgShapes seeds the shape analysis; missing entries default to
	// varying.
	ArgShapes []shape.Shape
	// ResultShape, when defined, is recorded on the mapping.
	ResultShape shape.Shape
	// MaskPos is the index of the mask argument, -1 for an unmasked
	// mapping.
	MaskPos int
	// Pinned fixes the shapes of specific values before analysis runs;
	// the analysis will not move them.
	Pinned map[*ir.Value]shape.Shape
	// Platform materializes reduction intrinsics; nil means
	// DefaultPlatform.
	Platform PlatformInfo
	// Masks overrides the built-in mask analysis, for drivers that carry
	// their own.
	Masks MaskAnalysis
}

// A Result carries the metadata the instruction vectorizer consumes next
// to the rewritten function: the final dominator tree, the block schedule,
// the surviving masks and the context with its shape map.
type Result struct {
	Context *Context
	DomTree *ir.DomTree
	Loops   *ir.LoopForest
	Index   *BlockIndex
	Masks   MaskAnalysis
}

// VectorizeRegion rewrites the region rooted at region.Entry so that its
// dynamic control flow is uniform across opts.Width lanes: divergent loops
// become latch-exiting, divergent branches fold away, and per-lane control
// decisions become mask selects.  The function is mutated in place.
func VectorizeRegion(f *ir.Func, region Region, opts Options) (res *Result, err error) {
	if opts.Width < 1 || bits.OnesCount(uint(opts.Width)) != 1 {
		return nil, errors.New("vectorize: width must be a power of two")
	}
	if err := ir.Verify(f); err != nil {
		return nil, err
	}

	mapping := Mapping{
		ScalarFn:    f,
		VectorFn:    f,
		Width:       opts.Width,
		MaskPos:     opts.MaskPos,
		ResultShape: opts.ResultShape,
		ArgShapes:   opts.ArgShapes,
	}
	ctx := NewContext(mapping, region)

	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*FatalError); ok {
				err = fe
				return
			}
			panic(r)
		}
	}()

	for v, s := range opts.Pinned {
		ctx.PinWithShape(v, s)
	}

	dt := ir.BuildDomTree(f)
	loops := ir.BuildLoopForest(f, dt)
	checkPreconditions(ctx, loops)

	AnalyzeShapes(ctx, loops)
	checkLoopClosedSSA(ctx, loops)
	bi := BuildBlockIndex(region, loops, ctx.Log)

	masks := opts.Masks
	if masks == nil {
		masks = ComputeMasks(ctx, bi, loops)
	}
	platform := opts.Platform
	if platform == nil {
		platform = DefaultPlatform{}
	}

	Linearize(ctx, masks, dt, loops, bi, platform)

	if err := ir.Verify(f); err != nil {
		ctx.Log.Fatalf(f.Name, "linearization left a malformed function: %v", err)
	}
	if err := dt.Verify(); err != nil {
		ctx.Log.Fatalf(f.Name, "dominator tree inconsistent after linearization: %v", err)
	}

	return &Result{Context: ctx, DomTree: dt, Loops: loops, Index: bi, Masks: masks}, nil
}

// checkPreconditions rejects regions the transform does not handle:
// in-region blocks other than the entry that have a predecessor outside the
// region, and loops that fail the checkNaturalLoops consistency check.
func checkPreconditions(ctx *Context, loops *ir.LoopForest) {
	for _, b := range ctx.Region.Blocks() {
		for _, p := range b.Preds {
			if b == ctx.Region.Entry {
				continue
			}
			if !ctx.Region.Contains(p) {
				ctx.Log.Fatalf(b.String(), "in-region block has out-of-region predecessor %v", p)
			}
		}
	}
	checkNaturalLoops(ctx, loops)
}

// checkLoopClosedSSA verifies the normalizer's key precondition for every
// divergent loop: each use of a loop-defined value outside the loop flows
// through a single-input φ in one of the loop's exit blocks.  Runs before
// mask materialization, which inserts its own out-of-loop mask plumbing.
func checkLoopClosedSSA(ctx *Context, loops *ir.LoopForest) {
	for _, l := range loops.Loops {
		if !ctx.IsDivergent(l) || !ctx.Region.Contains(l.Header) {
			continue
		}
		exits := map[*ir.Block]bool{}
		for _, x := range l.ExitBlocks() {
			exits[x] = true
		}
		for _, b := range ctx.Region.Blocks() {
			if l.Contains(b) {
				continue
			}
			for _, v := range b.Values {
				closed := v.Op == ir.OpPhi && exits[b] && v.NumIncoming() == 1
				for _, a := range v.Args {
					if a.Block != nil && l.Contains(a.Block) && !closed {
						ctx.Log.Fatalf(v.String(), "use of loop-defined value %v escapes %v without a loop-closed φ", a, l)
					}
				}
			}
			switch t := b.Term.(type) {
			case *ir.Return:
				if t.Result != nil && t.Result.Block != nil && l.Contains(t.Result.Block) {
					ctx.Log.Fatalf(b.String(), "return of loop-defined value %v escapes %v without a loop-closed φ", t.Result, l)
				}
			case *ir.CondBr:
				if t.Cond.Block != nil && l.Contains(t.Cond.Block) {
					ctx.Log.Fatalf(b.String(), "branch on loop-defined value %v escapes %v without a loop-closed φ", t.Cond, l)
				}
			}
		}
	}
}

func checkNaturalLoops(ctx *Context, loops *ir.LoopForest) {
	// Every loop BuildLoopForest finds is natural and contains its latches,
	// so this check only guards against an inconsistent loop forest.  A
	// cycle entered other than through a dominating header yields no loop
	// at all; BuildBlockIndex rejects it when no block of the cycle can be
	// scheduled.
	for _, l := range loops.Loops {
		if !ctx.Region.Contains(l.Header) {
			continue
		}
		for _, latch := range l.Latches {
			if !l.Contains(latch) {
				ctx.Log.Fatalf(l.Header.String(), "irreducible control flow at latch %v", latch)
			}
		}
	}
}
