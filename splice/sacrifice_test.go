// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splice

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSacrificeScores(t *testing.T) {

	// f = ½x₀² + x₁² + 2x₂² + ½·0·x₃² - 3x₀ - 4x₁ - 2x₂ - x₃
	d := []float64{1, 2, 4, 0}
	b := []float64{3, 4, 2, 1}

	p := Problem{P: 4, Sparsity: 1, Oracle: diagQuad(d, b)}
	o, err := p.New(nil)
	require.NoError(t, err)

	w := o.Init()
	loc := &spliceLoc{
		x:       []float64{3, 0, 0, 0}, // fitted on support {0}: x₀ = b₀/d₀
		support: []int{0},
		coords:  []int{0},
	}

	require.NoError(t, computeSacrifices(&o.spliceSpec, &w.spliceCtx, loc))

	// backward: ½·d₀·x₀² ; forward: ½·bⱼ²/dⱼ at the fitted point
	require.InDelta(t, 4.5, w.backward[0], 1e-12)
	require.InDelta(t, 4.0, w.forward[1], 1e-12)
	require.InDelta(t, 0.5, w.forward[2], 1e-12)

	// zero curvature admits no ratio: ranked strictly last, no division fault
	require.True(t, math.IsInf(w.forward[3], -1))

	act, ina := rankExchange(&o.spliceSpec, &w.spliceCtx, loc)
	require.Equal(t, []int{0}, act)
	require.Equal(t, []int{1, 2, 3}, ina)
}

func TestSacrificeWeights(t *testing.T) {

	// two groups of two identical coordinates: only the weight
	// separates their normalized scores
	d := []float64{1, 1, 1, 1}
	b := []float64{2, 2, 2, 2}

	p := Problem{
		P: 4, Sparsity: 1,
		Oracle: diagQuad(d, b),
		Groups: []Group{{0, 1, 1}, {2, 3, 2}},
	}
	o, err := p.New(nil)
	require.NoError(t, err)

	w := o.Init()
	loc := &spliceLoc{
		x:       []float64{2, 2, 0, 0},
		support: []int{0},
		coords:  []int{0, 1},
	}

	require.NoError(t, computeSacrifices(&o.spliceSpec, &w.spliceCtx, loc))
	require.InDelta(t, 4.0, w.backward[0], 1e-12) // (½·4 + ½·4) / 1
	require.InDelta(t, 2.0, w.forward[1], 1e-12)  // (½·4 + ½·4) / 2
}

func TestSacrificeTieBreak(t *testing.T) {

	// groups 1 and 2 share an identical forward sacrifice:
	// the lower index must rank first
	d := []float64{1, 1, 1}
	b := []float64{0, 2, 2}

	p := Problem{P: 3, Sparsity: 0, Oracle: diagQuad(d, b)}
	o, err := p.New(nil)
	require.NoError(t, err)

	w := o.Init()
	loc := &spliceLoc{x: make([]float64, 3)}

	require.NoError(t, computeSacrifices(&o.spliceSpec, &w.spliceCtx, loc))
	require.Equal(t, w.forward[1], w.forward[2])

	_, ina := rankExchange(&o.spliceSpec, &w.spliceCtx, loc)
	require.Equal(t, []int{1, 2, 0}, ina)
}

func TestSacrificePinned(t *testing.T) {

	d := []float64{1, 1, 1}
	b := []float64{3, 2, 1}

	p := Problem{P: 3, Sparsity: 2, Oracle: diagQuad(d, b), Pinned: []int{0}}
	o, err := p.New(nil)
	require.NoError(t, err)

	w := o.Init()
	loc := &spliceLoc{
		x:       []float64{3, 2, 0},
		support: []int{0, 1},
		coords:  []int{0, 1},
	}

	require.NoError(t, computeSacrifices(&o.spliceSpec, &w.spliceCtx, loc))

	// the pinned group is never ranked for removal
	act, ina := rankExchange(&o.spliceSpec, &w.spliceCtx, loc)
	require.Equal(t, []int{1}, act)
	require.Equal(t, []int{2}, ina)
}

func TestSacrificeImportant(t *testing.T) {

	d := []float64{1, 1, 1, 1, 1}
	b := []float64{0, 1, 5, 3, 2}

	p := Problem{P: 5, Sparsity: 1, Oracle: diagQuad(d, b), Important: 2}
	o, err := p.New(nil)
	require.NoError(t, err)

	w := o.Init()
	loc := &spliceLoc{
		x:       make([]float64, 5),
		support: []int{0},
		coords:  []int{0},
	}

	require.NoError(t, computeSacrifices(&o.spliceSpec, &w.spliceCtx, loc))

	// only the two best inactive candidates survive the cap
	_, ina := rankExchange(&o.spliceSpec, &w.spliceCtx, loc)
	require.Equal(t, []int{2, 3}, ina)
}
