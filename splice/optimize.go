// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package splice

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only the setup banner and the exit summary
	LogLast LogLevel = 0
	// LogEval print also f and the support after every accepted exchange
	LogEval LogLevel = 1
	// LogTrace print every proposed exchange, accepted or not
	LogTrace LogLevel = 99
	// LogChange print also the final support and x
	LogChange LogLevel = 100
	// LogVerbose reserved for the most detailed output (level > 100)
	LogVerbose LogLevel = 101
)

// Logger handles logging output for the solver.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

func (l *Logger) out(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}

// Termination specifies the stopping criteria for the splicing search.
type Termination struct {
	// The search stops when the number of splicing rounds exceeds limit.
	MaxSplicingRounds int
	// The largest number of groups exchanged in one splice.
	MaxExchangeSize int
	// The iteration cap of each restricted Newton solve.
	NewtonIterations int
	// An exchange is accepted only when the restricted optimum improves by
	//   𝒇ₒₗ𝒹 - 𝒇ₙₑ𝓌 > 𝚝𝚘𝚕 × 𝚖𝚊𝚡(|𝒇ₒₗ𝒹|,|𝒇ₙₑ𝓌|,1)
	ImproveTolerance float64
	// A restricted Newton solve stops when the step norm or the relative
	// objective improvement falls below this tolerance.
	StepTolerance float64
}

// RidgeOpt controls the recovery behaviour of the restricted Newton solve.
type RidgeOpt struct {
	// The initial ridge added to an indefinite restricted Hessian,
	// escalated geometrically until the factorization succeeds.
	Base float64
	// A ridge beyond this cap marks the result numerically unstable
	// (recorded and surfaced, never fatal).
	Cap float64
	// The maximum number of trial factorizations per Newton step.
	Tries int
	// The maximum number of step halvings per Newton step.
	Backtrack int
}

// Problem specifies a sparsity-constrained optimization problem:
// minimize the oracle objective over p coordinates subject to at most
// Sparsity groups being nonzero.
type Problem struct {
	P        int     // The coordinate dimension
	Sparsity int     // The target support size in groups
	Oracle   Oracle  // Objective value, gradient and Hessian oracle
	Groups   []Group // Optional group descriptor (nil = singleton groups)
	Pinned   []int   // Optional groups that always stay in the support
	// Optional cap on how many inactive candidates are ranked per round.
	Important int
	Ridge     *RidgeOpt   // Optional Newton recovery config
	Stop      Termination // Stop condition
}

// New creates a new splicing solver for given problem.
// Every configuration error is reported here, before any oracle call.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}
	if logger.Out == nil {
		logger.Out = os.Stderr
	}

	stop := p.Stop
	if stop.MaxSplicingRounds == 0 {
		stop.MaxSplicingRounds = 20
	}
	if stop.MaxExchangeSize == 0 {
		stop.MaxExchangeSize = 5
	}
	if stop.NewtonIterations == 0 {
		stop.NewtonIterations = 10
	}
	if stop.ImproveTolerance == 0 {
		stop.ImproveTolerance = 1e-8
	}
	if stop.StepTolerance == 0 {
		stop.StepTolerance = 1e-8
	}

	ridge := RidgeOpt{Base: 1e-3, Cap: 1e6, Tries: 20, Backtrack: 20}
	if p.Ridge != nil {
		ridge = *p.Ridge
		if ridge.Base == 0 {
			ridge.Base = 1e-3
		}
		if ridge.Cap == 0 {
			ridge.Cap = 1e6
		}
		if ridge.Tries == 0 {
			ridge.Tries = 20
		}
		if ridge.Backtrack == 0 {
			ridge.Backtrack = 20
		}
	}

	groups, err := newGroupTable(p.P, p.Groups)

	switch {
	case err != nil:
	case p.P <= 0:
		err = fmt.Errorf("%w: problem dimension must greater than 0", ErrConfig)
	case p.Sparsity < 0:
		err = fmt.Errorf("%w: sparsity level must not less than 0", ErrConfig)
	case p.Sparsity > groups.count():
		err = fmt.Errorf("%w: sparsity level %d exceeds group count %d", ErrConfig, p.Sparsity, groups.count())
	case p.Oracle.Function == nil || p.Oracle.Derivative == nil:
		err = fmt.Errorf("%w: oracle function and derivative are required", ErrConfig)
	case p.Important < 0:
		err = fmt.Errorf("%w: important search cap must not less than 0", ErrConfig)
	case len(p.Pinned) > p.Sparsity:
		err = fmt.Errorf("%w: pinned group number exceeds sparsity level", ErrConfig)
	case stop.MaxSplicingRounds < 0 || stop.MaxExchangeSize < 0 || stop.NewtonIterations < 0:
		err = fmt.Errorf("%w: iteration budget must not less than 0", ErrConfig)
	case math.IsNaN(stop.ImproveTolerance) || stop.ImproveTolerance < zero:
		err = fmt.Errorf("%w: improve tolerance must not less than 0", ErrConfig)
	case math.IsNaN(stop.StepTolerance) || stop.StepTolerance < zero:
		err = fmt.Errorf("%w: step tolerance must not less than 0", ErrConfig)
	case ridge.Base <= zero || ridge.Cap <= zero || ridge.Tries < 0 || ridge.Backtrack < 0:
		err = fmt.Errorf("%w: ridge option must be positive", ErrConfig)
	}

	if err != nil {
		return
	}

	pinMask := make([]bool, groups.count())
	pinned := slices.Clone(p.Pinned)
	slices.Sort(pinned)
	for _, id := range pinned {
		switch {
		case id < 0 || id >= groups.count():
			err = fmt.Errorf("%w: pinned group %d out of range", ErrConfig, id)
		case pinMask[id]:
			err = fmt.Errorf("%w: pinned group %d duplicated", ErrConfig, id)
		default:
			pinMask[id] = true
			continue
		}
		return
	}

	optimizer = &Optimizer{
		spliceSpec{
			p: p.P, s: p.Sparsity,
			groups:    groups,
			pinned:    pinned,
			pinMask:   pinMask,
			important: p.Important,
			oracle:    p.Oracle,
			ridge:     ridge,
			stop:      stop,
			logger:    *logger,
		},
	}
	return
}

// Optimizer implemented using the splicing algorithm.
type Optimizer struct {
	spliceSpec
}

// Workspace contains the scratch state of the splicing search.
// To avoid race conditions, separate workspaces need to be created for
// each goroutine. But multiple workspaces could share one optimizer.
type Workspace struct {
	p, s int
	spliceCtx
}

// Result contains the final result of the splicing search.
type Result struct {
	OK      bool      // Whether the search reached a splicing fixed point.
	F       float64   // Final function value.
	X       []float64 // Final solution (zero outside the support).
	Support []int     // Final support, ascending group ids.
	// Whether ridge regularization beyond the configured cap was needed
	// during a restricted solve (recorded, never fatal).
	Unstable bool
	Summary  // Search summary.
}

// Summary contains a summary of the splicing search.
type Summary struct {
	Status   Status  // Terminal status of the search.
	NumRound int     // Number of splicing rounds performed.
	NumExch  int     // Number of accepted exchanges.
	NumSub   int     // Number of restricted Newton iterations performed.
	NumEval  int     // Number of oracle evaluations performed.
	MaxRidge float64 // Largest ridge added to a restricted Hessian.
}

// Init allocate the workspace for the splicing solver.
func (o *Optimizer) Init() *Workspace {

	w := new(Workspace)
	w.p, w.s = o.p, o.s

	p, count := o.p, o.groups.count()
	all := make([]int, p)
	for c := range all {
		all[c] = c
	}

	w.spliceCtx = spliceCtx{
		backward: make([]float64, count),
		forward:  make([]float64, count),
		active:   make([]bool, count),
		actRank:  make([]int, 0, count),
		inaRank:  make([]int, 0, count),
		trial: spliceLoc{
			x:       make([]float64, p),
			support: make([]int, 0, count),
			coords:  make([]int, 0, p),
		},
		allCoords: all,
		fullGrad:  make([]float64, p),
		fullDiag:  make([]float64, p),
		nwGrad:    make([]float64, p),
		nwStep:    make([]float64, p),
		nwSave:    make([]float64, p),
	}
	return w
}

// Fit runs the splicing search from the optional initial parameters x
// and initial support, using workspace w. A nil x starts from the zero
// vector; a nil or partial support is completed by the initialization
// heuristic. Coordinates outside the chosen support are held at zero.
func (o *Optimizer) Fit(x []float64, support []int, w *Workspace) (*Result, error) {

	if x != nil && len(x) != o.p {
		panic("initial x dimension not match spec")
	}
	if w.p != o.p || w.s != o.s {
		panic("workspace dimension not match spec")
	}

	count := o.groups.count()
	seen := make([]bool, count)
	for _, id := range support {
		switch {
		case id < 0 || id >= count:
			return nil, fmt.Errorf("%w: initial support group %d out of range", ErrConfig, id)
		case seen[id]:
			return nil, fmt.Errorf("%w: initial support group %d duplicated", ErrConfig, id)
		}
		seen[id] = true
	}

	loc := spliceLoc{
		x:       make([]float64, o.p),
		support: make([]int, 0, count),
		coords:  make([]int, 0, o.p),
	}
	if x != nil {
		copy(loc.x, x)
	}

	driver := spliceDriver{
		optimizer: o,
		workspace: w,
		location:  &loc,
	}

	status, err := driver.mainLoop(support)
	if err != nil {
		return nil, err
	}
	return &Result{
		OK: status == Converged,
		F:  loc.f, X: loc.x,
		Support:  slices.Clone(loc.support),
		Unstable: w.unstable,
		Summary: Summary{
			Status:   status,
			NumRound: w.rounds,
			NumExch:  w.splices,
			NumSub:   w.newton,
			NumEval:  w.evals,
			MaxRidge: w.maxRidge,
		},
	}, nil
}
