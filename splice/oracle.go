// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splice

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrConfig reports a structural misconfiguration, always detected
	// before any oracle call.
	ErrConfig = errors.New("splice: invalid configuration")
	// ErrOracle reports an oracle contract violation (non-finite value
	// or evaluation panic). It aborts the solve and is never silently
	// substituted.
	ErrOracle = errors.New("splice: oracle fault")
)

// Oracle supplies objective value, gradient and Hessian information
// restricted to an arbitrary coordinate set. It must be a deterministic,
// side-effect-free function of its inputs: the solver may invoke it with
// any ascending subset of coordinates, holding all others at zero.
//
// The same contract serves plain, grouped and weighted objectives: the
// solver never asks the oracle about groups, only coordinates.
type Oracle struct {
	// Function evaluates the objective at x.
	Function func(x []float64) float64
	// Derivative writes the gradient of the objective restricted to
	// coords into g (len(coords)) and the Hessian restricted to coords
	// into h (order len(coords)).
	Derivative func(x []float64, coords []int, g []float64, h *mat.SymDense)
	// Diagonal optionally writes the restricted gradient into g and only
	// the Hessian diagonal into d. When nil the solver derives the
	// diagonal from Derivative, forming the full restricted Hessian.
	Diagonal func(x []float64, coords []int, g, d []float64)
}

// evalValue evaluates the objective with panic and finiteness checks.
func evalValue(spec *spliceSpec, ctx *spliceCtx, x []float64) (f float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: evaluation panic: %v", ErrOracle, r)
		}
	}()
	f = spec.oracle.Function(x)
	ctx.evals++
	if math.IsNaN(f) || math.IsInf(f, 0) {
		err = fmt.Errorf("%w: non-finite objective value %v", ErrOracle, f)
	}
	return
}

// evalDerive evaluates the restricted gradient and Hessian with
// panic and finiteness checks. Faults name the offending coordinate
// and its group.
func evalDerive(spec *spliceSpec, ctx *spliceCtx, x []float64, coords []int, g []float64, h *mat.SymDense) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: evaluation panic: %v", ErrOracle, r)
		}
	}()
	spec.oracle.Derivative(x, coords, g, h)
	ctx.evals++
	if err = checkGrad(spec, coords, g); err != nil {
		return
	}
	for i := range coords {
		for j := 0; j <= i; j++ {
			if v := h.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				c := coords[i]
				return fmt.Errorf("%w: non-finite hessian entry at coordinate %d (group %d)",
					ErrOracle, c, spec.groups.owner(c))
			}
		}
	}
	return
}

// evalDiag evaluates the restricted gradient and Hessian diagonal,
// falling back to a full Derivative call when the oracle provides
// no diagonal shortcut.
func evalDiag(spec *spliceSpec, ctx *spliceCtx, x []float64, coords []int, g, d []float64) (err error) {
	if spec.oracle.Diagonal == nil {
		ctx.fullHess = resizeSym(ctx.fullHess, len(coords))
		if err = evalDerive(spec, ctx, x, coords, g, ctx.fullHess); err != nil {
			return
		}
		for i := range coords {
			d[i] = ctx.fullHess.At(i, i)
		}
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: evaluation panic: %v", ErrOracle, r)
		}
	}()
	spec.oracle.Diagonal(x, coords, g, d)
	ctx.evals++
	if err = checkGrad(spec, coords, g); err != nil {
		return
	}
	for i, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			c := coords[i]
			return fmt.Errorf("%w: non-finite hessian diagonal at coordinate %d (group %d)",
				ErrOracle, c, spec.groups.owner(c))
		}
	}
	return
}

func checkGrad(spec *spliceSpec, coords []int, g []float64) error {
	for i, v := range g[:len(coords)] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			c := coords[i]
			return fmt.Errorf("%w: non-finite gradient at coordinate %d (group %d)",
				ErrOracle, c, spec.groups.owner(c))
		}
	}
	return nil
}
