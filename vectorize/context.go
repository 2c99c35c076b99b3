// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file defines the vectorization context: the per-region state shared
// by the analyses, the loop normalizer and the linearizer.  The context owns
// the value-shape map, the block predicates and the divergence
// classification sets; everything else reads and updates it through the
// accessors below.

package vectorize

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/Hugobros3/rv/ir"
	"github.com/Hugobros3/rv/shape"
)

// A Region is a subset of a function's blocks, closed under intra-region
// control flow, with a unique entry.
type Region struct {
	Entry  *ir.Block
	blocks *bitset.BitSet
}

// WholeFunction returns the region covering every block of f.
func WholeFunction(f *ir.Func) Region {
	bs := bitset.New(uint(f.NumBlockIDs()))
	for _, b := range f.Blocks {
		bs.Set(uint(b.ID))
	}
	return Region{Entry: f.Entry, blocks: bs}
}

// NewRegion returns the region made of the given blocks.
func NewRegion(entry *ir.Block, blocks []*ir.Block) Region {
	bs := bitset.New(uint(entry.Func.NumBlockIDs()))
	for _, b := range blocks {
		bs.Set(uint(b.ID))
	}
	bs.Set(uint(entry.ID))
	return Region{Entry: entry, blocks: bs}
}

// Contains reports whether b is an in-region block.
func (r Region) Contains(b *ir.Block) bool {
	return b != nil && r.blocks.Test(uint(b.ID))
}

// Add grows the region by one block.  Fresh blocks created while rewriting
// the region (relay blocks) become region members.
func (r Region) Add(b *ir.Block) {
	r.blocks.Set(uint(b.ID))
}

// Remove shrinks the region by one block.
func (r Region) Remove(b *ir.Block) {
	r.blocks.Clear(uint(b.ID))
}

// Blocks returns the in-region blocks in arena order.
func (r Region) Blocks() []*ir.Block {
	var out []*ir.Block
	for _, b := range r.Entry.Func.Blocks {
		if r.Contains(b) {
			out = append(out, b)
		}
	}
	return out
}

// A Mapping describes the scalar→vector function relation for one region:
// which function is being widened, into what, at which width, and with
// which argument and result shapes.  MaskPos is the index of the mask
// argument in the vector function, -1 when the vector function is unmasked.
type Mapping struct {
	ScalarFn    *ir.Func
	VectorFn    *ir.Func
	Width       int
	MaskPos     int
	ResultShape shape.Shape
	ArgShapes   []shape.Shape
}

// A Context holds all per-region vectorization state.
type Context struct {
	Mapping Mapping
	Region  Region
	Log     *Log

	shapes     map[*ir.Value]shape.Shape
	pinned     map[*ir.Value]bool
	predicates map[*ir.Block]*ir.Value

	divergentLoops        map[*ir.Loop]bool
	DivergentLoopExits    map[*ir.Block]bool
	JoinDivergentBlocks   map[*ir.Block]bool
	VaryingPredicateBlocks map[*ir.Block]bool
}

// NewContext returns a context for the given mapping and region.
func NewContext(mapping Mapping, region Region) *Context {
	return &Context{
		Mapping:                mapping,
		Region:                 region,
		Log:                    NewLog(),
		shapes:                 map[*ir.Value]shape.Shape{},
		pinned:                 map[*ir.Value]bool{},
		predicates:             map[*ir.Block]*ir.Value{},
		divergentLoops:         map[*ir.Loop]bool{},
		DivergentLoopExits:     map[*ir.Block]bool{},
		JoinDivergentBlocks:    map[*ir.Block]bool{},
		VaryingPredicateBlocks: map[*ir.Block]bool{},
	}
}

// InRegion reports whether the given block or value belongs to the region.
func (c *Context) InRegion(x any) bool {
	switch x := x.(type) {
	case *ir.Block:
		return c.Region.Contains(x)
	case *ir.Value:
		return x.Block != nil && c.Region.Contains(x.Block)
	}
	return false
}

// SetShape records the shape of v.  Updates to pinned values are ignored;
// void-typed values never carry a shape.
func (c *Context) SetShape(v *ir.Value, s shape.Shape) {
	if v.Type == ir.Void || c.pinned[v] {
		return
	}
	c.shapes[v] = s
}

// ShapeOf returns the recorded shape of v, Undef when none is known.
// Callers must not treat Undef as Uniform.
func (c *Context) ShapeOf(v *ir.Value) shape.Shape {
	return c.shapes[v]
}

// Pin freezes v's current shape; later SetShape calls are ignored.
func (c *Context) Pin(v *ir.Value) {
	c.pinned[v] = true
}

// PinWithShape sets v's shape and freezes it in one step.
func (c *Context) PinWithShape(v *ir.Value, s shape.Shape) {
	c.SetShape(v, s)
	c.pinned[v] = true
}

// ObservedShape returns the shape of v as seen from block at: Varying if v
// is defined inside a divergent loop that at is outside of (temporal
// divergence), the recorded shape otherwise.
func (c *Context) ObservedShape(v *ir.Value, at *ir.Block, loops *ir.LoopForest) shape.Shape {
	if v.Block != nil {
		for l := loops.LoopOf(v.Block); l != nil; l = l.Parent {
			if c.IsDivergent(l) && !l.Contains(at) {
				return shape.Var(c.ShapeOf(v).Alignment())
			}
		}
	}
	return c.ShapeOf(v)
}

// SetPredicate records the SSA value carrying b's execution mask.
func (c *Context) SetPredicate(b *ir.Block, v *ir.Value) {
	c.mustBeInRegion(b)
	c.predicates[b] = v
}

// Predicate returns b's execution mask value, nil if none was recorded.
func (c *Context) Predicate(b *ir.Block) *ir.Value {
	return c.predicates[b]
}

// DropPredicate forgets b's execution mask.
func (c *Context) DropPredicate(b *ir.Block) {
	delete(c.predicates, b)
}

// AddDivergentLoop flags l as having lane-dependent trip counts.
func (c *Context) AddDivergentLoop(l *ir.Loop) { c.divergentLoops[l] = true }

// RemoveDivergentLoop clears l's divergent flag, typically after the loop
// normalizer has rewritten it to a uniform latch exit.
func (c *Context) RemoveDivergentLoop(l *ir.Loop) { delete(c.divergentLoops, l) }

// IsDivergent reports whether l is flagged divergent.
func (c *Context) IsDivergent(l *ir.Loop) bool { return c.divergentLoops[l] }

// DivergentLoops returns the flagged loops in no particular order.
func (c *Context) DivergentLoops() []*ir.Loop {
	var out []*ir.Loop
	for l := range c.divergentLoops {
		out = append(out, l)
	}
	return out
}

func (c *Context) mustBeInRegion(b *ir.Block) {
	if !c.Region.Contains(b) {
		c.Log.Fatalf(b.String(), "block is outside the region under transformation")
	}
}
