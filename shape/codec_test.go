// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shape_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Hugobros3/rv/shape"
)

func TestDecodeSingle(t *testing.T) {
	tests := []struct {
		in   string
		want shape.Shape
	}{
		{"B", shape.UndefShape},
		{"U", shape.Uni(0)},
		{"C", shape.Cont(0)},
		{"T", shape.Var(0)},
		{"S4", shape.Stride(4, 0)},
		{"S16", shape.Stride(16, 0)},
		{"Ua8", shape.Uni(8)},
		{"Ca4", shape.Cont(4)},
		{"S8a32", shape.Stride(8, 32)},
		{"S1", shape.Cont(0)}, // stride 1 collapses to contiguous
		{"S0", shape.Uni(0)},  // stride 0 collapses to uniform
	}
	for _, tt := range tests {
		got, err := shape.Decode(tt.in)
		if err != nil {
			t.Errorf("Decode(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Decode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, in := range []string{"", "X", "S", "Sx", "Ua", "U8", "Ba4", "Uq", "Ca4x"} {
		if _, err := shape.Decode(in); err == nil {
			t.Errorf("Decode(%q) succeeded, want error", in)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	shapes := []shape.Shape{
		shape.UndefShape,
		shape.Uni(0), shape.Uni(16),
		shape.Cont(0), shape.Cont(4),
		shape.Stride(2, 0), shape.Stride(12, 8),
		shape.Var(0), shape.Var(64),
	}
	for _, s := range shapes {
		got, err := shape.Decode(shape.Encode(s))
		if err != nil {
			t.Fatalf("Decode(Encode(%v)): %v", s, err)
		}
		if got != s {
			t.Errorf("Decode(Encode(%v)) = %v", s, got)
		}
	}
}

func TestDecodeSignature(t *testing.T) {
	require := require.New(t)

	sig, err := shape.DecodeSignature("U_Ca4_S8rT")
	require.NoError(err)
	require.Len(sig.Args, 3)
	require.Equal(shape.Uni(0), sig.Args[0])
	require.Equal(shape.Cont(4), sig.Args[1])
	require.Equal(shape.Stride(8, 0), sig.Args[2])
	require.True(sig.HasResult)
	require.Equal(shape.Var(0), sig.Result)

	sig, err = shape.DecodeSignature("T_T")
	require.NoError(err)
	require.Len(sig.Args, 2)
	require.False(sig.HasResult)

	_, err = shape.DecodeSignature("")
	require.Error(err)
	_, err = shape.DecodeSignature("U_")
	require.Error(err)
	_, err = shape.DecodeSignature("rT")
	require.Error(err)
}

func TestSignatureRoundTrip(t *testing.T) {
	for _, s := range []string{"U", "T_T", "U_Ca4_S8rT", "B_Ua16rC"} {
		sig, err := shape.DecodeSignature(s)
		if err != nil {
			t.Fatalf("DecodeSignature(%q): %v", s, err)
		}
		if got := shape.EncodeSignature(sig); got != s {
			t.Errorf("EncodeSignature(DecodeSignature(%q)) = %q", s, got)
		}
	}
}
