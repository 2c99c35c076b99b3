// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file implements the relay chain, the linearizer's encoding of
// "pending merges".  A relay stands for a scheduled future target: a fresh
// empty block that branches converge on until the real target is emitted.
// Relay nodes link forward in ascending target order; a node's chain is the
// list of targets control must still visit after converging at the node.
//
// Relay blocks exist between addTargetToRelay and the emission of their target,
// at which point the linearizer rewires their predecessors to the real
// block, moves any parked instructions over, and deletes them.

package vectorize

import (
	"fmt"

	"github.com/Hugobros3/rv/ir"
)

// A relay is one scheduled target: its index in the block order, the
// placeholder block standing in for it, and the next target on its chain.
type relay struct {
	id    int
	block *ir.Block
	next  *relay
}

// A relayChain owns every live relay of one linearization, keyed by target
// index.
type relayChain struct {
	f      *ir.Func
	region Region
	byID   map[int]*relay
}

func newRelayChain(f *ir.Func, region Region) *relayChain {
	return &relayChain{f: f, region: region, byID: map[int]*relay{}}
}

// getRelay returns the relay scheduled for id, nil if there is none.
func (rc *relayChain) getRelay(id int) *relay {
	return rc.byID[id]
}

// requestRelay returns the relay for id, creating it (and its placeholder
// block) on first request.
func (rc *relayChain) requestRelay(id int) *relay {
	if r := rc.byID[id]; r != nil {
		return r
	}
	b := rc.f.NewBlock(fmt.Sprintf("relay.%d", id))
	b.SetTerm(&ir.Unreachable{})
	rc.region.Add(b)
	r := &relay{id: id, block: b}
	rc.byID[id] = r
	return r
}

// addTargetToRelay schedules id onto anchor's chain, keeping the chain
// sorted by ascending target index.  If id is already on the chain
// downstream of anchor, that node is returned.  With a nil anchor the relay
// for id starts (or continues) a chain of its own.
func (rc *relayChain) addTargetToRelay(anchor *relay, id int) *relay {
	node := rc.requestRelay(id)
	if anchor == nil || anchor == node {
		return node
	}
	if anchor.id > id {
		// id comes first: the anchor chain becomes the tail of id's chain.
		rc.mergeChains(node, anchor)
		return node
	}
	rc.mergeChains(anchor, node)
	return node
}

// mergeChains splices the chain starting at tail into the chain starting at
// head, keeping ascending order and dropping duplicates.  Chains share
// structure; a union only ever adds targets to a path, which is safe:
// visiting an extra scheduled block under a false predicate is a no-op.
func (rc *relayChain) mergeChains(head, tail *relay) {
	if head.id >= tail.id {
		panic("vectorize: relay chain merge out of order")
	}
	for tail != nil {
		for head.next != nil && head.next.id <= tail.id {
			head = head.next
		}
		if head.id == tail.id || head.next == tail {
			tail = tail.next
			continue
		}
		displaced := head.next
		tailNext := tail.next
		head.next = tail
		head = tail
		if displaced != nil {
			rc.mergeChains(head, displaced)
		}
		tail = tailNext
	}
}

// advanceScheduleHead is called when the linearizer emits the block with
// the given index.  It retires the relay standing in for id and returns the
// next relay on its chain (the emitted block's mandatory continuation) and
// the placeholder block, whose uses the caller rewires to the real block.
func (rc *relayChain) advanceScheduleHead(id int) (next *relay, outRelayBlock *ir.Block) {
	r := rc.byID[id]
	if r == nil {
		return nil, nil
	}
	delete(rc.byID, id)
	return r.next, r.block
}

// empty reports whether every scheduled target has been emitted.
func (rc *relayChain) empty() bool { return len(rc.byID) == 0 }
