// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splice

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// newtonSolve finds a stationary point of the objective restricted to
// loc.coords, holding every other coordinate at zero, by damped Newton
// iteration:
//
//	solve (𝐇 + 𝛕𝐈)·𝚫 = -𝐠 for 𝚫
//	x ← x + 𝛌𝚫 with 𝛌 ∈ {1, ½, ¼, …}
//
// A failed Cholesky factorization never aborts the solve: the ridge 𝛕
// escalates geometrically until the factorization succeeds, so a descent
// direction exists even for nonconvex objectives. The iteration stops
// when the step norm or the relative objective improvement falls below
// the configured tolerance, or when the iteration budget runs out (which
// is reported, not an error: the caller proceeds with the best value found).
//
// The location is updated in place; the support is never touched.
func newtonSolve(spec *spliceSpec, ctx *spliceCtx, loc *spliceLoc) (status newtonStatus, err error) {

	n := len(loc.coords)
	if loc.f, err = evalValue(spec, ctx, loc.x); err != nil || n == 0 {
		return
	}

	g := ctx.nwGrad[:n]
	dir := ctx.nwStep[:n]
	old := ctx.nwSave[:n]
	tol := spec.stop.StepTolerance

	status = newtonIterLimit
	for it := 0; it < spec.stop.NewtonIterations; it++ {

		ctx.hess = resizeSym(ctx.hess, n)
		if err = evalDerive(spec, ctx, loc.x, loc.coords, g, ctx.hess); err != nil {
			return
		}
		newtonDirection(spec, ctx, g, dir)
		ctx.newton++

		// Backtrack by halving until the objective decreases.
		for i, c := range loc.coords {
			old[i] = loc.x[c]
		}
		fOld, stp, down := loc.f, one, false
		for back := 0; back <= spec.ridge.Backtrack; back++ {
			for i, c := range loc.coords {
				loc.x[c] = old[i] + stp*dir[i]
			}
			var f float64
			if f, err = evalValue(spec, ctx, loc.x); err != nil {
				return
			}
			if f < fOld {
				loc.f, down = f, true
				break
			}
			stp *= half
		}
		if !down {
			// No halving finds a lower value: the quadratic model has
			// nothing left to offer at this support.
			for i, c := range loc.coords {
				loc.x[c] = old[i]
			}
			status = newtonConverged
			return
		}

		change := math.Max(math.Abs(fOld), math.Max(math.Abs(loc.f), one))
		if stp*floats.Norm(dir, 2) <= tol || fOld-loc.f <= tol*change {
			status = newtonConverged
			return
		}
	}
	return
}

// newtonDirection solves 𝐇𝚫 = -𝐠 with the Cholesky-plus-multiple-of-identity
// modification (Nocedal & Wright, Algorithm 3.3): when the restricted Hessian
// is not positive definite, a scalar ridge 𝛕 grows geometrically until the
// factorization succeeds. A ridge beyond the configured cap flags the result
// numerically unstable but the solve continues with the best value found.
func newtonDirection(spec *spliceSpec, ctx *spliceCtx, g, dir []float64) {

	n := len(g)
	ctx.ridged = resizeSym(ctx.ridged, n)

	minA := ctx.hess.At(0, 0)
	for i := 1; i < n; i++ {
		if a := ctx.hess.At(i, i); a < minA {
			minA = a
		}
	}
	tau := zero
	if minA <= zero {
		tau = -minA + spec.ridge.Base
	}

	d := mat.NewVecDense(n, dir)
	grad := mat.NewVecDense(n, g)
	for try := 0; try < spec.ridge.Tries; try++ {
		ctx.ridged.CopySym(ctx.hess)
		if tau != zero {
			for i := 0; i < n; i++ {
				ctx.ridged.SetSym(i, i, ctx.hess.At(i, i)+tau)
			}
		}
		if ctx.chol.Factorize(ctx.ridged) {
			if tau > ctx.maxRidge {
				ctx.maxRidge = tau
			}
			if tau > spec.ridge.Cap {
				ctx.unstable = true
			}
			_ = ctx.chol.SolveVecTo(d, grad)
			d.ScaleVec(-one, d)
			return
		}
		tau = math.Max(five*tau, spec.ridge.Base)
	}

	// The modification failed to reach a positive definite matrix:
	// fall back to steepest descent.
	ctx.unstable = true
	for i, v := range g {
		dir[i] = -v
	}
}
