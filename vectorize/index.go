// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file builds the total topological order of in-region blocks that the
// linearizer schedules against.  The order respects loop nesting: every
// loop's blocks occupy a contiguous index range with the header first and
// the latch last, so that a loop can be named by the pair of its end
// indices and relay targets inside and after a loop never interleave.
//
// The order is computed scope by scope over a condensed graph: within one
// scope (the region top level, or one loop body), each child loop collapses
// to a single super-node.  Kahn's algorithm orders the scope's nodes,
// deferring the latch until every other node has been placed.

package vectorize

import (
	"sort"

	"github.com/Hugobros3/rv/ir"
)

// A BlockIndex is a bijection between in-region blocks and [0, N).
type BlockIndex struct {
	Order []*ir.Block
	pos   map[*ir.Block]int
}

// PosOf returns b's scheduling index.  Indexing a block that was never
// scheduled is a programmer error.
func (bi *BlockIndex) PosOf(b *ir.Block) int {
	i, ok := bi.pos[b]
	if !ok {
		panic("vectorize: block " + b.String() + " was never indexed")
	}
	return i
}

// Contains reports whether b was indexed.
func (bi *BlockIndex) Contains(b *ir.Block) bool {
	_, ok := bi.pos[b]
	return ok
}

// LoopRange returns the contiguous index range [start, end] covered by l.
func (bi *BlockIndex) LoopRange(l *ir.Loop) (start, end int) {
	return bi.PosOf(l.Header), bi.PosOf(l.Latches[len(l.Latches)-1])
}

// BuildBlockIndex computes the loop-contiguous topological order of the
// region's blocks.
func BuildBlockIndex(region Region, loops *ir.LoopForest, log *Log) *BlockIndex {
	bi := &BlockIndex{pos: map[*ir.Block]int{}}
	s := &indexScheduler{region: region, loops: loops, log: log, bi: bi}
	s.scheduleScope(nil, region.Entry)
	return bi
}

type indexScheduler struct {
	region Region
	loops  *ir.LoopForest
	log    *Log
	bi     *BlockIndex
}

func (s *indexScheduler) place(b *ir.Block) {
	s.bi.pos[b] = len(s.bi.Order)
	s.bi.Order = append(s.bi.Order, b)
}

// unitOf maps an in-region block to its node at the given scope level: the
// block itself if it sits directly in the scope, or its outermost enclosing
// loop below the scope.
func (s *indexScheduler) unitOf(b *ir.Block, scope *ir.Loop) any {
	l := s.loops.LoopOf(b)
	if l == scope {
		return b
	}
	for l != nil && l.Parent != scope {
		l = l.Parent
	}
	if l == nil {
		// b's loop nest does not pass through scope; treat as direct.
		return b
	}
	return l
}

// scheduleScope orders the nodes directly inside scope (nil for the region
// top level).  header, when non-nil, is placed first; for a loop scope the
// latch-containing unit is deferred to the very end.
func (s *indexScheduler) scheduleScope(scope *ir.Loop, entry *ir.Block) {
	// Collect the scope's units.
	var units []any
	seen := map[any]bool{}
	for _, b := range s.region.Blocks() {
		if scope != nil && !scope.Contains(b) {
			continue
		}
		u := s.unitOf(b, scope)
		if u == any(b) && scope != nil && b == scope.Header {
			continue // the header is placed eagerly below
		}
		if !seen[u] {
			seen[u] = true
			units = append(units, u)
		}
	}

	var latchUnit any
	if scope != nil {
		latch := scope.Latch()
		if latch == nil {
			s.log.Fatalf(scope.Header.String(), "loop has %d latches, canonical form requires one", len(scope.Latches))
		}
		s.place(scope.Header)
		if latch != scope.Header {
			latchUnit = s.unitOf(latch, scope)
		}
	}

	// Condensed edges between units, ignoring edges that stay inside one
	// unit, leave the scope, or loop back to the scope header.
	indeg := map[any]int{}
	succs := map[any][]any{}
	for _, u := range units {
		indeg[u] += 0
	}
	forEachBlock := func(u any, fn func(*ir.Block)) {
		switch u := u.(type) {
		case *ir.Block:
			fn(u)
		case *ir.Loop:
			for _, b := range u.Blocks() {
				fn(b)
			}
		}
	}
	for _, u := range units {
		forEachBlock(u, func(b *ir.Block) {
			for _, t := range b.Succs() {
				if !s.region.Contains(t) {
					continue
				}
				if scope != nil && !scope.Contains(t) {
					continue
				}
				if scope != nil && t == scope.Header {
					continue // back edge of this scope
				}
				tu := s.unitOf(t, scope)
				if tu == u || !seen[tu] {
					continue
				}
				if lu, ok := u.(*ir.Loop); ok && t == lu.Header {
					continue // latch edge internal to child loop u
				}
				succs[u] = append(succs[u], tu)
				indeg[tu]++
			}
		})
	}

	idOf := func(u any) int {
		switch u := u.(type) {
		case *ir.Block:
			return u.ID
		case *ir.Loop:
			return u.Header.ID
		}
		return -1
	}

	var ready []any
	for _, u := range units {
		if indeg[u] == 0 {
			ready = append(ready, u)
		}
	}
	placed := 0
	for placed < len(units) {
		sort.Slice(ready, func(i, j int) bool { return idOf(ready[i]) < idOf(ready[j]) })
		var u any
		picked := -1
		for i, cand := range ready {
			if cand == latchUnit && len(ready) > 1 {
				continue // the latch closes the scope
			}
			u = cand
			picked = i
			break
		}
		if picked < 0 {
			if len(ready) == 0 {
				s.log.Fatalf(entry.String(), "region is not reducible: no schedulable block remains")
			}
			u = ready[0]
			picked = 0
		}
		ready = append(ready[:picked], ready[picked+1:]...)
		placed++

		switch u := u.(type) {
		case *ir.Block:
			s.place(u)
		case *ir.Loop:
			s.scheduleScope(u, u.Header)
		}
		for _, t := range succs[u] {
			indeg[t]--
			if indeg[t] == 0 {
				ready = append(ready, t)
			}
		}
	}

	if scope != nil && latchUnit != nil {
		if lb, ok := latchUnit.(*ir.Block); !ok || s.bi.pos[lb] != len(s.bi.Order)-1 {
			s.log.Fatalf(scope.Header.String(), "latch %v did not schedule last in its loop", scope.Latch())
		}
	}
}
