// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/splicing/splice"
)

var (
	sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
	cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)
	quadEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/4)
)

type Method int

const (
	// Forward use the first order accuracy forward difference for the gradient.
	Forward Method = iota
	// Central use the second order accuracy central difference for the gradient.
	Central
)

// Spec builds a splice.Oracle for a bare objective by finite differences,
// for callers without an analytic or autodiff derivative provider.
// The gradient uses the configured difference method; second derivatives
// always use symmetric central differences (3-point diagonal, 4-point
// cross terms).
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
type Spec struct {
	// The problem dimension.
	N int
	// Function of which to estimate the derivatives.
	// The argument x passed to this function is an n-vector.
	Object func(x []float64) float64
	// Finite difference method for the gradient.
	Method Method
	// Relative step size used to compute the absolute step size as
	// h = RelStep * max(1, |x|), with RelStep selected automatically
	// when zero.
	RelStep float64
}

// Oracle checks the parameters and builds the oracle.
// The returned oracle shares one perturbation scratch: to avoid race
// conditions, build a separate oracle for each goroutine.
func (as *Spec) Oracle() (o splice.Oracle, err error) {

	switch {
	case as.N <= 0:
		err = errors.New("negative dimensions")
	case as.Object == nil:
		err = errors.New("object function is required")
	case as.Method != Forward && as.Method != Central:
		err = errors.New("unknown method")
	case math.IsNaN(as.RelStep) || as.RelStep < 0:
		err = errors.New("negative relative step")
	}
	if err != nil {
		return
	}

	scratch := make([]float64, as.N)
	perturb := func(x []float64) []float64 {
		if len(x) != as.N {
			panic("x dimension not match spec")
		}
		copy(scratch, x)
		return scratch
	}

	o = splice.Oracle{
		Function: func(x []float64) float64 {
			return as.Object(x)
		},
		Derivative: func(x []float64, coords []int, g []float64, h *mat.SymDense) {
			xs := perturb(x)
			as.gradient(xs, coords, g)
			as.hessian(xs, coords, h)
		},
		Diagonal: func(x []float64, coords []int, g, d []float64) {
			xs := perturb(x)
			as.gradient(xs, coords, g)
			as.diagonal(xs, coords, d)
		},
	}
	return
}

func (as *Spec) gradStep(x float64) float64 {
	rel := as.RelStep
	if rel == 0 {
		if as.Method == Central {
			rel = cubeEps
		} else {
			rel = sqrtEps
		}
	}
	return rel * math.Max(1, math.Abs(x))
}

func (as *Spec) curvStep(x float64) float64 {
	return quadEps * math.Max(1, math.Abs(x))
}

// gradient estimates the restricted gradient, restoring xs after
// every perturbation.
func (as *Spec) gradient(xs []float64, coords []int, g []float64) {
	f0 := 0.0
	if as.Method == Forward {
		f0 = as.Object(xs)
	}
	for i, c := range coords {
		h, old := as.gradStep(xs[c]), xs[c]
		if as.Method == Central {
			xs[c] = old + h
			fp := as.Object(xs)
			xs[c] = old - h
			fm := as.Object(xs)
			xs[c] = old
			g[i] = (fp - fm) / (2 * h)
		} else {
			xs[c] = old + h
			fp := as.Object(xs)
			xs[c] = old
			g[i] = (fp - f0) / h
		}
	}
}

// hessian estimates the full restricted Hessian.
func (as *Spec) hessian(xs []float64, coords []int, h *mat.SymDense) {
	f0 := as.Object(xs)
	for i, ci := range coords {
		hi, oi := as.curvStep(xs[ci]), xs[ci]

		xs[ci] = oi + hi
		fp := as.Object(xs)
		xs[ci] = oi - hi
		fm := as.Object(xs)
		xs[ci] = oi
		h.SetSym(i, i, (fp-2*f0+fm)/(hi*hi))

		for j := 0; j < i; j++ {
			cj := coords[j]
			hj, oj := as.curvStep(xs[cj]), xs[cj]
			xs[ci], xs[cj] = oi+hi, oj+hj
			fpp := as.Object(xs)
			xs[cj] = oj - hj
			fpm := as.Object(xs)
			xs[ci] = oi - hi
			fmm := as.Object(xs)
			xs[cj] = oj + hj
			fmp := as.Object(xs)
			xs[ci], xs[cj] = oi, oj
			h.SetSym(i, j, (fpp-fpm-fmp+fmm)/(4*hi*hj))
		}
	}
}

// diagonal estimates only the restricted Hessian diagonal.
func (as *Spec) diagonal(xs []float64, coords []int, d []float64) {
	f0 := as.Object(xs)
	for i, c := range coords {
		h, old := as.curvStep(xs[c]), xs[c]
		xs[c] = old + h
		fp := as.Object(xs)
		xs[c] = old - h
		fm := as.Object(xs)
		xs[c] = old
		d[i] = (fp - 2*f0 + fm) / (h * h)
	}
}
