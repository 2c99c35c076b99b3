// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file computes and maintains the dominator tree of a Func using the
// Cooper-Harvey-Kennedy iterative algorithm over a postorder numbering.
// The vectorizer updates the tree incrementally while it rewrites the CFG
// and calls Verify at the end to check the result against a fresh build.

package ir

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// A DomTree holds the immediate-dominator relation for the blocks of one
// Func.  It stays attached to the Func across CFG edits; the owner is
// responsible for keeping it consistent via SetIdom.
type DomTree struct {
	f    *Func
	idom map[*Block]*Block
}

// Postorder returns a DFS postorder of the blocks reachable from entry.
func Postorder(f *Func) []*Block {
	seen := bitset.New(uint(f.NumBlockIDs()))
	order := make([]*Block, 0, len(f.Blocks))

	type frame struct {
		b *Block
		i int // next successor edge to explore
	}
	stack := []frame{{b: f.Entry}}
	seen.Set(uint(f.Entry.ID))
	for len(stack) > 0 {
		top := len(stack) - 1
		fr := &stack[top]
		succs := fr.b.Succs()
		if fr.i < len(succs) {
			s := succs[fr.i]
			fr.i++
			if !seen.Test(uint(s.ID)) {
				seen.Set(uint(s.ID))
				stack = append(stack, frame{b: s})
			}
			continue
		}
		order = append(order, fr.b)
		stack = stack[:top]
	}
	return order
}

// BuildDomTree computes the dominator tree of f from scratch.
func BuildDomTree(f *Func) *DomTree {
	po := Postorder(f)
	ponum := make(map[*Block]int, len(po))
	for i, b := range po {
		ponum[b] = i
	}

	idom := make(map[*Block]*Block, len(po))
	idom[f.Entry] = f.Entry
	for changed := true; changed; {
		changed = false
		// Reverse postorder, skipping the entry.
		for i := len(po) - 2; i >= 0; i-- {
			b := po[i]
			var newIdom *Block
			for _, p := range b.Preds {
				if _, ok := idom[p]; !ok {
					continue
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom, ponum, idom)
				}
			}
			if newIdom != nil && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	idom[f.Entry] = nil
	return &DomTree{f: f, idom: idom}
}

// intersect walks the two idom chains up to their closest common ancestor.
func intersect(b, c *Block, ponum map[*Block]int, idom map[*Block]*Block) *Block {
	for b != c {
		for ponum[b] < ponum[c] {
			b = idom[b]
		}
		for ponum[c] < ponum[b] {
			c = idom[c]
		}
	}
	return b
}

// Idom returns the immediate dominator of b, nil for the entry block and
// for blocks not reachable when the tree was built.
func (dt *DomTree) Idom(b *Block) *Block { return dt.idom[b] }

// SetIdom updates b's immediate dominator.  Used by the linearizer to keep
// the tree consistent while it rewires the CFG.
func (dt *DomTree) SetIdom(b, dom *Block) {
	if b == dt.f.Entry {
		panic("ir: SetIdom on entry block")
	}
	dt.idom[b] = dom
}

// Dominates reports whether a dominates b (reflexively).
func (dt *DomTree) Dominates(a, b *Block) bool {
	for b != nil {
		if a == b {
			return true
		}
		b = dt.idom[b]
	}
	return false
}

// NearestCommonDominator returns the closest block dominating both a and b.
func (dt *DomTree) NearestCommonDominator(a, b *Block) *Block {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	depth := func(x *Block) int {
		d := 0
		for x != nil {
			d++
			x = dt.idom[x]
		}
		return d
	}
	da, db := depth(a), depth(b)
	for da > db {
		a = dt.idom[a]
		da--
	}
	for db > da {
		b = dt.idom[b]
		db--
	}
	for a != b {
		a = dt.idom[a]
		b = dt.idom[b]
	}
	return a
}

// Verify rebuilds the dominator tree from the current CFG and reports the
// first disagreement with the incrementally maintained tree, if any.
func (dt *DomTree) Verify() error {
	fresh := BuildDomTree(dt.f)
	for _, b := range Postorder(dt.f) {
		if got, want := dt.idom[b], fresh.idom[b]; got != want {
			return fmt.Errorf("dominator tree out of date at %v: idom is %v, CFG says %v", b, got, want)
		}
	}
	return nil
}
