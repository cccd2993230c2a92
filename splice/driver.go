// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splice

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// spliceDriver runs the splicing search: it owns the current support and
// restricted solution, proposes exchanges between active and inactive
// groups, and accepts an exchange only when the re-solved restricted
// optimum actually improves beyond the configured tolerance.
type spliceDriver struct {
	optimizer *Optimizer
	workspace *Workspace
	location  *spliceLoc
}

// mainLoop is the controller state machine. Each round rebuilds the
// sacrifice tables and scans exchange sizes k = 1 … cap, re-solving the
// smallest admissible exchange first. An accepted exchange replaces the
// support wholesale and starts the next round with k reset to 1; a round
// accepting nothing is a splicing fixed point.
func (d *spliceDriver) mainLoop(support []int) (status Status, err error) {

	spec := &d.optimizer.spliceSpec
	ctx := &d.workspace.spliceCtx
	loc := d.location

	ctx.clear()
	d.printInit()

	if err = d.initSupport(support); err != nil {
		return
	}
	if _, err = newtonSolve(spec, ctx, loc); err != nil {
		return
	}

	if log := spec.logger; log.enable(LogEval) {
		log.log("At round %5d    f= %12.5e    support= %v\n", 0, loc.f, loc.support)
		log.out("\n round  nsub  neval    k         f\n")
		log.out(" %5d %5d %6d    -  %12.5e\n", 0, ctx.newton, ctx.evals, loc.f)
	}

	// No inactive group to exchange with: the restricted solve is the answer.
	if spec.s == 0 || spec.s == spec.groups.count() {
		d.printExit(Converged)
		return Converged, nil
	}

	status = BudgetExhausted
	for round := 0; round < spec.stop.MaxSplicingRounds; round++ {
		ctx.rounds++
		var k int
		if k, err = d.splicingRound(); err != nil {
			return
		}
		if k == 0 {
			status = Converged
			break
		}
		if log := spec.logger; log.enable(LogEval) {
			log.log("At round %5d    f= %12.5e    k= %d    support= %v\n",
				ctx.rounds, loc.f, k, loc.support)
			log.out(" %5d %5d %6d %4d  %12.5e\n", ctx.rounds, ctx.newton, ctx.evals, k, loc.f)
		}
	}

	d.printExit(status)
	return
}

// splicingRound performs one propose/verify sweep and reports the
// accepted exchange size (0 when no exchange of any size helps).
func (d *spliceDriver) splicingRound() (accepted int, err error) {

	spec := &d.optimizer.spliceSpec
	ctx := &d.workspace.spliceCtx
	loc := d.location
	log := spec.logger

	if err = computeSacrifices(spec, ctx, loc); err != nil {
		return
	}
	act, ina := rankExchange(spec, ctx, loc)

	fCur := loc.f
	maxK := min(spec.stop.MaxExchangeSize, len(act), len(ina))
	for k := 1; k <= maxK; k++ {

		// Pruning: the exchange is admissible only when every outgoing
		// group is beaten by a distinct incoming group in the quadratic
		// model. Both rankings are monotone, so the first failing pair
		// rules out every larger k without a subsolve.
		if !(ctx.forward[ina[k-1]] > ctx.backward[act[k-1]]) {
			break
		}

		trial := d.formTrial(act[:k], ina[:k])
		if _, err = newtonSolve(spec, ctx, trial); err != nil {
			return
		}

		change := math.Max(math.Abs(fCur), math.Max(math.Abs(trial.f), one))
		if fCur-trial.f > spec.stop.ImproveTolerance*change {
			loc.f = trial.f
			copy(loc.x, trial.x)
			loc.support = append(loc.support[:0], trial.support...)
			loc.coords = append(loc.coords[:0], trial.coords...)
			ctx.splices++
			accepted = k
			if log.enable(LogTrace) {
				log.log("SPLICE k=%d accepted: out= %v in= %v f= %12.5e\n", k, act[:k], ina[:k], trial.f)
			}
			return
		}
		if log.enable(LogTrace) {
			log.log("SPLICE k=%d rejected: out= %v in= %v f= %12.5e\n", k, act[:k], ina[:k], trial.f)
		}
	}
	return
}

// formTrial builds the candidate restricted problem obtained by swapping
// the drop groups for the add groups, warm-starting from the current
// solution with the dropped coordinates zeroed.
func (d *spliceDriver) formTrial(drop, add []int) *spliceLoc {

	spec := &d.optimizer.spliceSpec
	ctx := &d.workspace.spliceCtx
	loc := d.location

	trial := &ctx.trial
	copy(trial.x, loc.x)

	trial.support = trial.support[:0]
	for _, id := range loc.support {
		if !slices.Contains(drop, id) {
			trial.support = append(trial.support, id)
		}
	}
	trial.support = append(trial.support, add...)
	slices.Sort(trial.support)

	for _, id := range drop {
		first, last := spec.groups.span(id)
		for c := first; c <= last; c++ {
			trial.x[c] = zero
		}
	}
	trial.coords = spec.groups.expand(trial.support, trial.coords[:0])
	return trial
}

// initSupport chooses the starting support. Caller-supplied and pinned
// groups come first; the remainder is filled from the largest weighted
// parameter magnitudes when the initial vector is nonzero, then from
// the largest forward sacrifices against the zero vector. Coordinates
// outside the chosen support are forced to zero.
func (d *spliceDriver) initSupport(support []int) (err error) {

	spec := &d.optimizer.spliceSpec
	ctx := &d.workspace.spliceCtx
	loc := d.location

	count := spec.groups.count()
	chosen := ctx.active
	for id := range chosen {
		chosen[id] = false
	}

	take := 0
	for _, id := range spec.pinned {
		chosen[id] = true
		take++
	}
	for _, id := range support {
		if !chosen[id] {
			chosen[id] = true
			take++
		}
	}
	if take > spec.s {
		return fmt.Errorf("%w: initial support of %d groups exceeds sparsity level %d", ErrConfig, take, spec.s)
	}

	// Fill from the initial parameter magnitudes.
	if take < spec.s {
		rank := ctx.inaRank[:0]
		for id := 0; id < count; id++ {
			if chosen[id] {
				continue
			}
			first, last := spec.groups.span(id)
			m := zero
			for c := first; c <= last; c++ {
				m += loc.x[c] * loc.x[c]
			}
			if m > zero {
				ctx.forward[id] = m / spec.groups.weight(id)
				rank = append(rank, id)
			}
		}
		take += takeLargest(ctx, rank, chosen, spec.s-take)
	}

	// Fill from the forward sacrifice against the zero vector.
	if take < spec.s {
		for c := range ctx.trial.x {
			ctx.trial.x[c] = zero
		}
		if err = evalDiag(spec, ctx, ctx.trial.x, ctx.allCoords, ctx.fullGrad, ctx.fullDiag); err != nil {
			return
		}
		rank := ctx.inaRank[:0]
		for id := 0; id < count; id++ {
			if !chosen[id] {
				ctx.forward[id] = forwardScore(spec, ctx, id)
				rank = append(rank, id)
			}
		}
		take += takeLargest(ctx, rank, chosen, spec.s-take)
	}

	loc.support = loc.support[:0]
	for id := 0; id < count; id++ {
		if chosen[id] {
			loc.support = append(loc.support, id)
		} else {
			first, last := spec.groups.span(id)
			for c := first; c <= last; c++ {
				loc.x[c] = zero
			}
		}
	}
	loc.coords = spec.groups.expand(loc.support, loc.coords[:0])
	return
}

// takeLargest marks up to n groups with the largest scores in
// ctx.forward, ties to the lower group index.
func takeLargest(ctx *spliceCtx, rank []int, chosen []bool, n int) int {
	slices.SortFunc(rank, func(a, b int) int {
		if c := cmp.Compare(ctx.forward[b], ctx.forward[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	n = min(n, len(rank))
	for _, id := range rank[:n] {
		chosen[id] = true
	}
	return n
}

// printInit logs the setup of the splicing search.
func (d *spliceDriver) printInit() {
	spec := &d.optimizer.spliceSpec
	log := spec.logger
	if log.enable(LogLast) {
		log.log("RUNNING THE SPLICING CODE\n")
		log.log("           * * *\n")
		log.log("Machine precision = %10.3e\n", eps)
		log.log("P = %d    S = %d    G = %d\n", spec.p, spec.s, spec.groups.count())
	}
}

// printExit logs the final statistics of the splicing search.
func (d *spliceDriver) printExit(status Status) {

	spec := &d.optimizer.spliceSpec
	ctx := &d.workspace.spliceCtx
	loc := d.location

	log := spec.logger
	if !log.enable(LogLast) {
		return
	}

	log.log("\n           * * *\n")
	log.log("Rnd   = total number of splicing rounds\n")
	log.log("Nspl  = number of accepted exchanges\n")
	log.log("Nsub  = total number of Newton iterations\n")
	log.log("Neval = total number of oracle evaluations\n")
	log.log("Ridge = largest ridge added to a restricted Hessian\n")
	log.log("F     = final function value\n")
	log.log("\n           * * *\n")
	log.log("\n    P     Rnd   Nspl   Nsub   Neval     Ridge          F\n")
	log.log("%5d %6d %6d %6d %7d %9.2e %12.5e\n",
		spec.p, ctx.rounds, ctx.splices, ctx.newton, ctx.evals, ctx.maxRidge, loc.f)

	if log.enable(LogChange) {
		log.log("\n A =")
		for _, id := range loc.support {
			log.log(" %d", id)
		}
		log.log("\n X =")
		for i, x := range loc.x {
			log.log(" %.2e", x)
			if (i+1)%6 == 0 {
				log.log("\n    ")
			}
		}
		log.log("\n")
	}

	switch status {
	case Converged:
		log.log("\nCONVERGENCE: NO EXCHANGE IMPROVES THE RESTRICTED OPTIMUM\n")
	case BudgetExhausted:
		log.log("\nSTOP: TOTAL NO. of SPLICING ROUNDS REACHED LIMIT\n")
	}
	if ctx.unstable {
		log.log("WARNING: RIDGE REGULARIZATION EXCEEDED THE CONFIGURED CAP\n")
	}
}
