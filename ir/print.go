// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file renders a Func as deterministic text.  The format is consumed
// by the golden-archive tests, so block order (arena order) and value
// spelling must stay stable.

package ir

import (
	"fmt"
	"strings"
)

// Print renders f in a stable textual form.
func Print(f *Func) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s:\n", f.Name)
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "%s:", b)
		if len(b.Preds) > 0 {
			preds := make([]string, len(b.Preds))
			for i, p := range b.Preds {
				preds[i] = p.String()
			}
			fmt.Fprintf(&sb, " ; preds: %s", strings.Join(preds, " "))
		}
		sb.WriteByte('\n')
		for _, v := range b.Values {
			fmt.Fprintf(&sb, "  %s\n", formatValue(v))
		}
		fmt.Fprintf(&sb, "  %s\n", formatTerm(b.Term))
	}
	return sb.String()
}

func formatValue(v *Value) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s = %s", v, v.Op)
	switch v.Op {
	case OpConst:
		fmt.Fprintf(&sb, " %v", v.Aux)
	case OpArg:
		fmt.Fprintf(&sb, " #%d", v.Aux)
	case OpICmp:
		fmt.Fprintf(&sb, " %s", v.Aux.(Pred))
	case OpCall:
		fmt.Fprintf(&sb, " %s", v.CalleeOf().Name)
	case OpPhi:
		for i := range v.Args {
			val, pred := v.Incoming(i)
			fmt.Fprintf(&sb, " [%s: %s]", pred, val)
		}
		return sb.String()
	}
	for _, a := range v.Args {
		fmt.Fprintf(&sb, " %s", a)
	}
	return sb.String()
}

func formatTerm(t Terminator) string {
	switch t := t.(type) {
	case nil:
		return "<no terminator>"
	case *Return:
		if t.Result == nil {
			return "ret"
		}
		return fmt.Sprintf("ret %s", t.Result)
	case *Unreachable:
		return "unreachable"
	case *Br:
		return fmt.Sprintf("br %s", t.Target)
	case *CondBr:
		return fmt.Sprintf("br %s -> %s %s", t.Cond, t.Then, t.Else)
	}
	return fmt.Sprintf("<%T>", t)
}
