// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shape_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Hugobros3/rv/shape"
)

func TestLatticeOrder(t *testing.T) {
	require := require.New(t)

	// Join climbs the chain Undef ⊑ Uniform ⊑ Contiguous ⊑ Strided ⊑ Varying.
	require.Equal(shape.Uniform, shape.Join(shape.UndefShape, shape.Uni(0)).Kind)
	require.Equal(shape.Contiguous, shape.Join(shape.Uni(0), shape.Cont(0)).Kind)
	require.Equal(shape.Strided, shape.Join(shape.Cont(0), shape.Stride(4, 0)).Kind)
	require.Equal(shape.Varying, shape.Join(shape.Stride(4, 0), shape.Var(0)).Kind)

	// Join is commutative on the chain.
	require.Equal(shape.Join(shape.Uni(0), shape.Var(0)), shape.Join(shape.Var(0), shape.Uni(0)))

	// Undef is the identity.
	s := shape.Stride(3, 8)
	require.Equal(s.Kind, shape.Join(shape.UndefShape, s).Kind)
	require.Equal(s.StrideOf(), shape.Join(shape.UndefShape, s).StrideOf())
}

func TestStrideCollapse(t *testing.T) {
	require := require.New(t)

	// Stride 0 is uniform and stride 1 is contiguous.
	require.Equal(shape.Uniform, shape.Stride(0, 0).Kind)
	require.Equal(shape.Contiguous, shape.Stride(1, 4).Kind)
	require.Equal(shape.Strided, shape.Stride(2, 0).Kind)
}

func TestJoinDifferentStrides(t *testing.T) {
	// No common stride exists, so the join escalates to varying.
	got := shape.Join(shape.Stride(2, 0), shape.Stride(3, 0))
	if !got.IsVarying() {
		t.Errorf("join of stride 2 and stride 3 = %v, want varying", got)
	}
}

func TestAlignmentMeetsByGCD(t *testing.T) {
	require := require.New(t)

	require.Equal(4, shape.Join(shape.Uni(8), shape.Uni(12)).Alignment())
	require.Equal(0, shape.Join(shape.Uni(8), shape.Uni(0)).Alignment())
	require.Equal(8, shape.Join(shape.Var(16), shape.Var(8)).Alignment())
}

func TestPredicates(t *testing.T) {
	require := require.New(t)

	require.True(shape.Uni(0).IsUniform())
	require.False(shape.Cont(0).IsUniform())
	require.True(shape.Uni(0).HasStridedShape())
	require.True(shape.Cont(0).HasStridedShape())
	require.True(shape.Stride(7, 0).HasStridedShape())
	require.False(shape.Var(0).HasStridedShape())
	require.False(shape.UndefShape.IsDefined())

	require.Equal(0, shape.Uni(0).StrideOf())
	require.Equal(1, shape.Cont(0).StrideOf())
	require.Equal(7, shape.Stride(7, 0).StrideOf())
}
