// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package interp evaluates IR functions, either as a single scalar
// activation or as W lanes advancing through the CFG in lockstep.  The
// lockstep mode is what the vectorizer's functional-equivalence tests run
// transformed regions under: after linearization all branch conditions are
// lane-invariant, so the lanes can share one control path while every
// non-control value stays per lane.  Reductions named rv_any combine the
// lanes' operands, exactly as the instruction vectorizer would lower them.
package interp

import (
	"errors"
	"fmt"

	"github.com/Hugobros3/rv/ir"
)

// stepLimit bounds the number of block transitions per activation, so a
// broken rewrite cannot hang the test suite.
const stepLimit = 1 << 20

// A Machine holds the memory shared by all lanes.  Pointer-typed values
// are indices into Mem; OpIndex does the address arithmetic.
type Machine struct {
	Mem []int64
}

// Run evaluates one scalar activation of f.
func (m *Machine) Run(f *ir.Func, args []int64) (int64, error) {
	rets, err := m.run(f, [][]int64{args}, false)
	if err != nil {
		return 0, err
	}
	return rets[0], nil
}

// RunLanes evaluates f once for all lanes in lockstep.  Branch conditions
// must agree across lanes; a disagreement means the region was not
// linearized and is reported as an error.
func (m *Machine) RunLanes(f *ir.Func, laneArgs [][]int64) ([]int64, error) {
	return m.run(f, laneArgs, true)
}

func (m *Machine) run(f *ir.Func, laneArgs [][]int64, lockstep bool) ([]int64, error) {
	lanes := len(laneArgs)
	env := make([]map[*ir.Value]int64, lanes)
	for i := range env {
		env[i] = map[*ir.Value]int64{}
	}

	var prev *ir.Block
	b := f.Entry
	for steps := 0; ; steps++ {
		if steps > stepLimit {
			return nil, fmt.Errorf("interp: %s did not terminate (stuck around %v)", f.Name, b)
		}

		// φs read their incomings simultaneously before anything else in
		// the block executes.
		phis := b.Phis()
		staged := make([][]int64, len(phis))
		for pi, phi := range phis {
			in := phi.IncomingFor(prev)
			if in == nil {
				return nil, fmt.Errorf("interp: φ %v in %v has no incoming from %v", phi, b, prev)
			}
			vals := make([]int64, lanes)
			for l := 0; l < lanes; l++ {
				v, err := m.eval(in, env[l], laneArgs[l], l, lanes, env)
				if err != nil {
					return nil, err
				}
				vals[l] = v
			}
			staged[pi] = vals
		}
		for pi, phi := range phis {
			for l := 0; l < lanes; l++ {
				env[l][phi] = staged[pi][l]
			}
		}

		for _, v := range b.Values[len(phis):] {
			for l := 0; l < lanes; l++ {
				r, err := m.eval(v, env[l], laneArgs[l], l, lanes, env)
				if err != nil {
					return nil, err
				}
				env[l][v] = r
			}
		}

		switch t := b.Term.(type) {
		case *ir.Return:
			rets := make([]int64, lanes)
			if t.Result != nil {
				for l := 0; l < lanes; l++ {
					r, err := m.eval(t.Result, env[l], laneArgs[l], l, lanes, env)
					if err != nil {
						return nil, err
					}
					rets[l] = r
				}
			}
			return rets, nil
		case *ir.Unreachable:
			return nil, fmt.Errorf("interp: reached unreachable block %v", b)
		case *ir.Br:
			prev, b = b, t.Target
		case *ir.CondBr:
			c0, err := m.eval(t.Cond, env[0], laneArgs[0], 0, lanes, env)
			if err != nil {
				return nil, err
			}
			if lockstep {
				for l := 1; l < lanes; l++ {
					cl, err := m.eval(t.Cond, env[l], laneArgs[l], l, lanes, env)
					if err != nil {
						return nil, err
					}
					if (cl != 0) != (c0 != 0) {
						return nil, fmt.Errorf("interp: divergent branch in %v: lanes disagree on %v", b, t.Cond)
					}
				}
			}
			if c0 != 0 {
				prev, b = b, t.Then
			} else {
				prev, b = b, t.Else
			}
		default:
			return nil, errors.New("interp: block without terminator")
		}
	}
}

// eval computes v in the given lane.  Values already computed in this
// activation are read back from the environment; constants and arguments
// evaluate on demand.
func (m *Machine) eval(v *ir.Value, env map[*ir.Value]int64, args []int64, lane, lanes int, allEnv []map[*ir.Value]int64) (int64, error) {
	if r, ok := env[v]; ok {
		return r, nil
	}
	arg := func(i int) (int64, error) { return m.eval(v.Args[i], env, args, lane, lanes, allEnv) }
	b2i := func(b bool) int64 {
		if b {
			return 1
		}
		return 0
	}

	switch v.Op {
	case ir.OpArg:
		idx := v.Aux.(int)
		if idx >= len(args) {
			return 0, fmt.Errorf("interp: missing argument %d for %v", idx, v)
		}
		return args[idx], nil
	case ir.OpConst:
		switch c := v.Aux.(type) {
		case int64:
			return c, nil
		case bool:
			return b2i(c), nil
		}
		return 0, fmt.Errorf("interp: constant %v has unsupported payload %T", v, v.Aux)
	case ir.OpPhi:
		return 0, fmt.Errorf("interp: φ %v read before its block executed", v)
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpIndex:
		a, err := arg(0)
		if err != nil {
			return 0, err
		}
		b, err := arg(1)
		if err != nil {
			return 0, err
		}
		switch v.Op {
		case ir.OpAdd, ir.OpIndex:
			return a + b, nil
		case ir.OpSub:
			return a - b, nil
		case ir.OpMul:
			return a * b, nil
		case ir.OpDiv:
			if b == 0 {
				return 0, fmt.Errorf("interp: division by zero at %v", v)
			}
			return a / b, nil
		case ir.OpAnd:
			return a & b, nil
		case ir.OpOr:
			return a | b, nil
		case ir.OpXor:
			return a ^ b, nil
		}
	case ir.OpNot:
		a, err := arg(0)
		if err != nil {
			return 0, err
		}
		return b2i(a == 0), nil
	case ir.OpICmp:
		a, err := arg(0)
		if err != nil {
			return 0, err
		}
		b, err := arg(1)
		if err != nil {
			return 0, err
		}
		switch v.Aux.(ir.Pred) {
		case ir.PredEQ:
			return b2i(a == b), nil
		case ir.PredNE:
			return b2i(a != b), nil
		case ir.PredLT:
			return b2i(a < b), nil
		case ir.PredLE:
			return b2i(a <= b), nil
		case ir.PredGT:
			return b2i(a > b), nil
		case ir.PredGE:
			return b2i(a >= b), nil
		}
	case ir.OpSelect:
		c, err := arg(0)
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return arg(1)
		}
		return arg(2)
	case ir.OpLoad:
		a, err := arg(0)
		if err != nil {
			return 0, err
		}
		if a < 0 || a >= int64(len(m.Mem)) {
			return 0, fmt.Errorf("interp: load out of bounds at %v (addr %d)", v, a)
		}
		return m.Mem[a], nil
	case ir.OpStore:
		a, err := arg(0)
		if err != nil {
			return 0, err
		}
		val, err := arg(1)
		if err != nil {
			return 0, err
		}
		if a < 0 || a >= int64(len(m.Mem)) {
			return 0, fmt.Errorf("interp: store out of bounds at %v (addr %d)", v, a)
		}
		m.Mem[a] = val
		return 0, nil
	case ir.OpCall:
		c := v.CalleeOf()
		if c.Name == "rv_any" {
			// Reduce OR over the operand across every lane.  The operand
			// values of the other lanes are read from their environments,
			// which hold them by the time the call executes.
			any := int64(0)
			for l := 0; l < lanes; l++ {
				o, err := m.eval(v.Args[0], allEnv[l], args, l, lanes, allEnv)
				if err != nil {
					return 0, err
				}
				if o != 0 {
					any = 1
				}
			}
			return any, nil
		}
		return 0, fmt.Errorf("interp: call to unknown function %q", c.Name)
	}
	return 0, fmt.Errorf("interp: cannot evaluate %v (%v)", v, v.Op)
}
