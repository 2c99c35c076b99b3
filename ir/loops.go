// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file discovers the natural-loop forest of a Func.  Loops are found
// from back edges (edges whose target dominates their source) and populated
// by walking predecessors backward from the latch, the textbook natural
// loop construction.  The canonicalization the vectorizer relies on (unique
// pre-header, single latch) is queried here and verified by callers.

package ir

import (
	"github.com/bits-and-blooms/bitset"
)

// A Loop is one natural loop: its header, the latches that branch back to
// the header, and the set of member blocks.  Nested loops form a forest
// through Parent/Children.
type Loop struct {
	Header   *Block
	Latches  []*Block
	Parent   *Loop
	Children []*Loop

	blocks *bitset.BitSet
}

// Contains reports whether b is a member of l.
func (l *Loop) Contains(b *Block) bool {
	return b != nil && l.blocks.Test(uint(b.ID))
}

// Latch returns the unique latch, nil if the loop has several.
func (l *Loop) Latch() *Block {
	if len(l.Latches) == 1 {
		return l.Latches[0]
	}
	return nil
}

// Preheader returns the unique out-of-loop predecessor of the header, nil
// if the header has several or none.
func (l *Loop) Preheader() *Block {
	var ph *Block
	for _, p := range l.Header.Preds {
		if l.Contains(p) {
			continue
		}
		if ph != nil && ph != p {
			return nil
		}
		ph = p
	}
	return ph
}

// ExitingBlocks returns the in-loop blocks with a successor outside l.
func (l *Loop) ExitingBlocks() []*Block {
	var out []*Block
	for _, b := range l.Blocks() {
		for _, s := range b.Succs() {
			if !l.Contains(s) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// ExitBlocks returns the out-of-loop successor blocks of l, deduplicated,
// in discovery order.
func (l *Loop) ExitBlocks() []*Block {
	var out []*Block
	seen := map[*Block]bool{}
	for _, b := range l.Blocks() {
		for _, s := range b.Succs() {
			if !l.Contains(s) && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Blocks returns the member blocks of l in arena order.
func (l *Loop) Blocks() []*Block {
	var out []*Block
	for _, b := range l.Header.Func.Blocks {
		if l.Contains(b) {
			out = append(out, b)
		}
	}
	return out
}

// NumBlocks returns the member count of l.
func (l *Loop) NumBlocks() int { return int(l.blocks.Count()) }

func (l *Loop) String() string { return "loop@" + l.Header.String() }

// A LoopForest holds every natural loop of a Func, innermost-first lookup
// included.
type LoopForest struct {
	f     *Func
	Roots []*Loop
	Loops []*Loop

	byHeader  map[*Block]*Loop
	innermost map[*Block]*Loop
}

// LoopOf returns the innermost loop containing b, nil if b is loop-free.
func (lf *LoopForest) LoopOf(b *Block) *Loop { return lf.innermost[b] }

// LoopWithHeader returns the loop headed by b, if any.
func (lf *LoopForest) LoopWithHeader(b *Block) *Loop { return lf.byHeader[b] }

// IsBackEdge reports whether from→to is a loop back edge.
func (lf *LoopForest) IsBackEdge(from, to *Block) bool {
	l := lf.byHeader[to]
	return l != nil && l.Contains(from)
}

// BuildLoopForest finds the natural loops of f given its dominator tree.
// Irreducible control flow (a cycle entered other than through the
// dominating header) is not handled and yields no loop for that cycle;
// the vectorizer rejects such regions up front.
func BuildLoopForest(f *Func, dt *DomTree) *LoopForest {
	lf := &LoopForest{
		f:         f,
		byHeader:  map[*Block]*Loop{},
		innermost: map[*Block]*Loop{},
	}

	// Back edges, grouped by header.  Postorder makes inner headers appear
	// before outer ones, which keeps nesting assignment a single pass.
	po := Postorder(f)
	for _, b := range po {
		for _, s := range b.Succs() {
			if !dt.Dominates(s, b) {
				continue
			}
			l := lf.byHeader[s]
			if l == nil {
				l = &Loop{Header: s, blocks: bitset.New(uint(f.NumBlockIDs()))}
				l.blocks.Set(uint(s.ID))
				lf.byHeader[s] = l
				lf.Loops = append(lf.Loops, l)
			}
			l.Latches = append(l.Latches, b)
			// Natural loop body: everything that reaches the latch without
			// passing through the header.
			work := []*Block{b}
			for len(work) > 0 {
				n := work[len(work)-1]
				work = work[:len(work)-1]
				if l.blocks.Test(uint(n.ID)) {
					continue
				}
				l.blocks.Set(uint(n.ID))
				work = append(work, n.Preds...)
			}
		}
	}

	// Nesting: a loop's parent is the smallest other loop containing its
	// header.  Innermost membership follows the same rule per block.
	for _, l := range lf.Loops {
		for _, m := range lf.Loops {
			if m == l || !m.Contains(l.Header) {
				continue
			}
			if l.Parent == nil || l.Parent.NumBlocks() > m.NumBlocks() {
				l.Parent = m
			}
		}
	}
	for _, l := range lf.Loops {
		if l.Parent != nil {
			l.Parent.Children = append(l.Parent.Children, l)
		} else {
			lf.Roots = append(lf.Roots, l)
		}
	}
	for _, b := range f.Blocks {
		var best *Loop
		for _, l := range lf.Loops {
			if !l.Contains(b) {
				continue
			}
			if best == nil || best.NumBlocks() > l.NumBlocks() {
				best = l
			}
		}
		if best != nil {
			lf.innermost[b] = best
		}
	}
	return lf
}
