// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splice

import (
	"gonum.org/v1/gonum/mat"
)

const (
	zero = 0.0
	half = 0.5
	one  = 1.0
	five = 5.0
	eps  = float64(7)/3 - float64(4)/3 - 1.
)

// Status is the terminal state of a splicing solve.
type Status int

const (
	// Converged no exchange of any admissible size improves the restricted optimum.
	Converged Status = iota
	// BudgetExhausted the round budget was hit before reaching a splicing fixed point.
	BudgetExhausted
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "CONVERGED"
	case BudgetExhausted:
		return "BUDGET_EXHAUSTED"
	}
	return "UNKNOWN"
}

// newtonStatus is the outcome of one restricted Newton solve.
// Hitting the iteration limit is not an error: the caller proceeds
// with the best location found.
type newtonStatus int

const (
	newtonConverged newtonStatus = iota
	newtonIterLimit
)

// spliceSpec holds the immutable description of one solve problem.
type spliceSpec struct {
	// the coordinate dimension
	p int
	// the target support size in groups
	s int
	// the group view of the coordinate space
	groups groupTable
	// groups that never leave the support
	pinned  []int
	pinMask []bool
	// cap on ranked inactive candidates per round (0 = all)
	important int

	oracle Oracle
	ridge  RidgeOpt
	stop   Termination
	logger Logger
}

// spliceLoc is a restricted solution: the full parameter vector
// (zero outside the support), the support itself with its expanded
// coordinate set, and the achieved objective value.
type spliceLoc struct {
	f       float64
	x       []float64
	support []int // group ids, ascending
	coords  []int // expanded coordinates, ascending
}

// spliceCtx is the per-workspace mutable state of a solve: sacrifice
// tables, trial and Newton scratch, and counters. Nothing here carries
// semantic state across Fit calls.
type spliceCtx struct {
	// sacrifice tables indexed by group id, rebuilt every round
	backward []float64
	forward  []float64
	active   []bool
	// ranked group ids for the current round
	actRank []int
	inaRank []int

	// candidate exchange scratch
	trial spliceLoc

	// full-dimension oracle scratch for the sacrifice pass
	allCoords []int
	fullGrad  []float64
	fullDiag  []float64
	fullHess  *mat.SymDense

	// restricted Newton scratch
	nwGrad []float64
	nwStep []float64
	nwSave []float64
	hess   *mat.SymDense
	ridged *mat.SymDense
	chol   mat.Cholesky

	// counters and instability records
	rounds   int
	splices  int
	newton   int
	evals    int
	maxRidge float64
	unstable bool
}

func (ctx *spliceCtx) clear() {
	ctx.rounds = 0
	ctx.splices = 0
	ctx.newton = 0
	ctx.evals = 0
	ctx.maxRidge = zero
	ctx.unstable = false
}

// resizeSym returns a SymDense of order n backed by old storage when possible.
func resizeSym(m *mat.SymDense, n int) *mat.SymDense {
	if n == 0 {
		panic("resize to zero dimension")
	}
	if m == nil || n > m.SymmetricDim() {
		return mat.NewSymDense(n, nil)
	}
	return m.SliceSym(0, n).(*mat.SymDense)
}
