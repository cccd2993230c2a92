// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splice

import (
	"cmp"
	"math"
	"slices"
)

// diagTol is the curvature threshold below which a forward sacrifice
// ratio is considered undefined.
const diagTol = 1e-12

// computeSacrifices rebuilds the per-group sacrifice tables from the
// current restricted optimum, using one full-dimension gradient and
// Hessian-diagonal evaluation so that every score shares the same local
// quadratic model:
//
//   - backward (active group): 𝚺ⱼ ½·hⱼⱼ·xⱼ² — the modeled cost of
//     forcing the fitted values of the group to zero.
//   - forward (inactive group): 𝚺ⱼ ½·gⱼ²/hⱼⱼ — the modeled decrease
//     from a one-step Newton activation of the group.
//
// Raw scores are divided by the group weight before ranking. A group
// whose every coordinate has near-zero curvature admits no forward
// ratio and is scored -Inf, i.e. ranked strictly last instead of
// raising a division fault.
func computeSacrifices(spec *spliceSpec, ctx *spliceCtx, loc *spliceLoc) error {

	if err := evalDiag(spec, ctx, loc.x, ctx.allCoords, ctx.fullGrad, ctx.fullDiag); err != nil {
		return err
	}

	for id := range ctx.active {
		ctx.active[id] = false
	}
	for _, id := range loc.support {
		ctx.active[id] = true
	}

	for id := 0; id < spec.groups.count(); id++ {
		if ctx.active[id] {
			ctx.backward[id] = backwardScore(spec, ctx, loc.x, id)
			ctx.forward[id] = zero
		} else {
			ctx.forward[id] = forwardScore(spec, ctx, id)
			ctx.backward[id] = zero
		}
	}
	return nil
}

func backwardScore(spec *spliceSpec, ctx *spliceCtx, x []float64, id int) float64 {
	first, last := spec.groups.span(id)
	v := zero
	for c := first; c <= last; c++ {
		v += half * ctx.fullDiag[c] * x[c] * x[c]
	}
	return v / spec.groups.weight(id)
}

func forwardScore(spec *spliceSpec, ctx *spliceCtx, id int) float64 {
	first, last := spec.groups.span(id)
	v, terms := zero, 0
	for c := first; c <= last; c++ {
		if d := ctx.fullDiag[c]; d > diagTol {
			g := ctx.fullGrad[c]
			v += half * g * g / d
			terms++
		}
	}
	if terms == 0 {
		return math.Inf(-1)
	}
	return v / spec.groups.weight(id)
}

// rankExchange orders the removable active groups by ascending backward
// sacrifice and the inactive groups by descending forward sacrifice.
// Pinned groups are never ranked for removal. Equal scores break toward
// the lower group index, keeping the exchange decision deterministic.
// A positive important-search cap truncates the inactive ranking.
func rankExchange(spec *spliceSpec, ctx *spliceCtx, loc *spliceLoc) (act, ina []int) {

	act = ctx.actRank[:0]
	for _, id := range loc.support {
		if !spec.pinMask[id] {
			act = append(act, id)
		}
	}
	slices.SortFunc(act, func(a, b int) int {
		if c := cmp.Compare(ctx.backward[a], ctx.backward[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	ina = ctx.inaRank[:0]
	for id := 0; id < spec.groups.count(); id++ {
		if !ctx.active[id] {
			ina = append(ina, id)
		}
	}
	slices.SortFunc(ina, func(a, b int) int {
		if c := cmp.Compare(ctx.forward[b], ctx.forward[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	if spec.important > 0 && len(ina) > spec.important {
		ina = ina[:spec.important]
	}

	ctx.actRank, ctx.inaRank = act, ina
	return
}
