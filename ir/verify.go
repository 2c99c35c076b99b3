// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file checks the structural well-formedness of a Func: predecessor
// lists agree with terminators, every φ has exactly one incoming per
// predecessor, and φs only appear in the leading prefix of a block.  The
// transform tests run Verify before and after every rewrite.

package ir

import "fmt"

// Verify reports the first structural inconsistency found in f, nil if the
// function is well formed.
func Verify(f *Func) error {
	if f.Entry == nil {
		return fmt.Errorf("func %s has no entry block", f.Name)
	}

	// Edge symmetry: b.Preds must be exactly the multiset of blocks whose
	// terminator targets b.
	want := map[*Block]map[*Block]int{}
	for _, b := range f.Blocks {
		if b.Term == nil {
			return fmt.Errorf("block %v has no terminator", b)
		}
		for _, s := range b.Succs() {
			if s.Func != f {
				return fmt.Errorf("block %v branches to foreign block %v", b, s)
			}
			if want[s] == nil {
				want[s] = map[*Block]int{}
			}
			want[s][b]++
		}
	}
	for _, b := range f.Blocks {
		got := map[*Block]int{}
		for _, p := range b.Preds {
			got[p]++
		}
		for p, n := range want[b] {
			if got[p] != n {
				return fmt.Errorf("block %v: %d pred entries for %v, terminators imply %d", b, got[p], p, n)
			}
		}
		for p, n := range got {
			if want[b][p] != n {
				return fmt.Errorf("block %v: stale pred entry for %v", b, p)
			}
		}
	}

	for _, b := range f.Blocks {
		inPrefix := true
		for _, v := range b.Values {
			if v.Block != b {
				return fmt.Errorf("value %v claims block %v, found in %v", v, v.Block, b)
			}
			if v.Op == OpPhi {
				if !inPrefix {
					return fmt.Errorf("φ %v appears after non-φ values in %v", v, b)
				}
				if err := verifyPhi(b, v); err != nil {
					return err
				}
			} else {
				inPrefix = false
			}
		}
	}
	return nil
}

func verifyPhi(b *Block, phi *Value) error {
	if len(phi.Args) != len(phi.phiPreds) {
		return fmt.Errorf("φ %v in %v: %d values, %d incoming blocks", phi, b, len(phi.Args), len(phi.phiPreds))
	}
	preds := map[*Block]int{}
	for _, p := range b.Preds {
		preds[p]++
	}
	seen := map[*Block]int{}
	for _, p := range phi.phiPreds {
		seen[p]++
	}
	// A double edge (both arms of a conditional branch reaching b)
	// contributes one φ incoming, not two.
	for p := range preds {
		if seen[p] == 0 {
			return fmt.Errorf("φ %v in %v: missing incoming for predecessor %v", phi, b, p)
		}
	}
	for p := range seen {
		if preds[p] == 0 {
			return fmt.Errorf("φ %v in %v: incoming from non-predecessor %v", phi, b, p)
		}
	}
	return nil
}
