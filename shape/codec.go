// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file implements the textual shape encoding used by drivers and tests
// to describe argument and result shapes:
//
//	shapes   := shape ( '_' shape )* ( 'r' shape )?
//	shape    := 'B' | ( 'U' | 'C' | 'T' | ( 'S' digit+ ) ) alignOpt
//	alignOpt := ( 'a' digit+ )?
//
// For example "U_Ca4_S8rT" declares a uniform first argument, a contiguous
// 4-aligned second argument, a stride-8 third argument and a varying result.

package shape

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadShape is wrapped by all decoding errors.
var ErrBadShape = errors.New("malformed shape string")

// Signature is the decoded form of a full shape string: one shape per
// argument, plus an optional result shape.
type Signature struct {
	Args      []Shape
	Result    Shape
	HasResult bool
}

// DecodeSignature decodes a full argument-list shape string.
func DecodeSignature(s string) (Signature, error) {
	var sig Signature
	rest := s
	// The result shape is introduced by an 'r' that cannot be confused with
	// an argument shape, since no shape letter or suffix uses 'r'.
	if i := strings.IndexByte(rest, 'r'); i >= 0 {
		res, err := Decode(rest[i+1:])
		if err != nil {
			return Signature{}, err
		}
		sig.Result = res
		sig.HasResult = true
		rest = rest[:i]
	}
	if rest == "" {
		return Signature{}, fmt.Errorf("%w: %q has no argument shapes", ErrBadShape, s)
	}
	for _, part := range strings.Split(rest, "_") {
		sh, err := Decode(part)
		if err != nil {
			return Signature{}, err
		}
		sig.Args = append(sig.Args, sh)
	}
	return sig, nil
}

// Decode decodes a single shape token.
func Decode(s string) (Shape, error) {
	if s == "" {
		return Shape{}, fmt.Errorf("%w: empty token", ErrBadShape)
	}
	rest := s[1:]
	var sh Shape
	switch s[0] {
	case 'B':
		if rest != "" {
			return Shape{}, fmt.Errorf("%w: undef shape %q takes no suffix", ErrBadShape, s)
		}
		return Shape{Kind: Undef}, nil
	case 'U':
		sh.Kind = Uniform
	case 'C':
		sh.Kind = Contiguous
	case 'T':
		sh.Kind = Varying
	case 'S':
		digits := countDigits(rest)
		if digits == 0 {
			return Shape{}, fmt.Errorf("%w: strided shape %q is missing its stride", ErrBadShape, s)
		}
		stride, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return Shape{}, fmt.Errorf("%w: %q: %v", ErrBadShape, s, err)
		}
		rest = rest[digits:]
		sh = Stride(stride, 0)
	default:
		return Shape{}, fmt.Errorf("%w: unknown shape letter %q in %q", ErrBadShape, s[0:1], s)
	}
	if rest != "" {
		if rest[0] != 'a' {
			return Shape{}, fmt.Errorf("%w: trailing %q in %q", ErrBadShape, rest, s)
		}
		digits := countDigits(rest[1:])
		if digits == 0 || digits != len(rest)-1 {
			return Shape{}, fmt.Errorf("%w: bad alignment suffix in %q", ErrBadShape, s)
		}
		align, err := strconv.Atoi(rest[1:])
		if err != nil {
			return Shape{}, fmt.Errorf("%w: %q: %v", ErrBadShape, s, err)
		}
		sh.Align = align
	}
	return sh, nil
}

// Encode renders a single shape as a token accepted by Decode.
func Encode(sh Shape) string {
	var b strings.Builder
	switch sh.Kind {
	case Undef:
		return "B"
	case Uniform:
		b.WriteByte('U')
	case Contiguous:
		b.WriteByte('C')
	case Varying:
		b.WriteByte('T')
	case Strided:
		b.WriteByte('S')
		b.WriteString(strconv.Itoa(sh.Stride))
	}
	if sh.Align != 0 {
		b.WriteByte('a')
		b.WriteString(strconv.Itoa(sh.Align))
	}
	return b.String()
}

// EncodeSignature renders a Signature as a full shape string.
func EncodeSignature(sig Signature) string {
	parts := make([]string, len(sig.Args))
	for i, sh := range sig.Args {
		parts[i] = Encode(sh)
	}
	s := strings.Join(parts, "_")
	if sig.HasResult {
		s += "r" + Encode(sig.Result)
	}
	return s
}

func countDigits(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}
