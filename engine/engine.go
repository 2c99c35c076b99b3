// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine is the programmatic entrypoint to the region vectorizer.
// Drivers look transformation passes up by short name and run them against
// a function and region; the passes themselves live in package vectorize.
package engine

import (
	"fmt"

	"github.com/Hugobros3/rv/ir"
	"github.com/Hugobros3/rv/vectorize"
)

// A Pass is one region transformation.  Name returns the short,
// all-lowercase name drivers use to request it; Run mutates the function
// in place and returns the vectorizer metadata, or an error naming the
// offending block or value.
type Pass interface {
	Name() string
	Description() string
	Run(f *ir.Func, region vectorize.Region, opts vectorize.Options) (*vectorize.Result, error)
}

// All available passes, keyed by a unique, short, all-lowercase name.
var passes map[string]Pass

func init() {
	passes = map[string]Pass{
		"vectorize": vectorizePass{},
	}
}

// AllPasses returns every registered transformation, keyed by short name.
func AllPasses() map[string]Pass {
	return passes
}

// GetPass returns a Pass keyed by the given short name.  The short name
// must be one of the keys in the map returned by AllPasses.
func GetPass(shortName string) Pass {
	return passes[shortName]
}

// AddPass allows custom passes to be registered.  Invoke this before
// starting a driver.
func AddPass(shortName string, p Pass) error {
	if old, ok := passes[shortName]; ok {
		return fmt.Errorf("the short name %q is already associated with a pass (%s)",
			shortName, old.Description())
	}
	passes[shortName] = p
	return nil
}

type vectorizePass struct{}

func (vectorizePass) Name() string { return "vectorize" }

func (vectorizePass) Description() string {
	return "Normalize divergent loops and linearize divergent control flow for a vector width"
}

func (vectorizePass) Run(f *ir.Func, region vectorize.Region, opts vectorize.Options) (*vectorize.Result, error) {
	return vectorize.VectorizeRegion(f, region, opts)
}
