package ik

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/logging"
)

// SolveOutcome is the result kind of a solve.
type SolveOutcome int

const (
	// Converged means every primary task was complete for the required number of iterations.
	Converged SolveOutcome = iota
	// MaxIterationsReached means the iteration budget ran out first. The pose is the best reached.
	MaxIterationsReached
	// Degenerate means a step could not be computed. The pose is the one before that step.
	Degenerate
)

func (o SolveOutcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case MaxIterationsReached:
		return "max iterations reached"
	case Degenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// SolveResult reports how a solve ended.
type SolveResult struct {
	Outcome    SolveOutcome
	Iterations int
	// Distance is the largest remaining error of the primary tasks.
	Distance float64
	// Err is set when Outcome is Degenerate or the context ended the solve early.
	Err error
}

// Solved reports whether the solve converged.
func (r SolveResult) Solved() bool {
	return r.Outcome == Converged
}

// lockEpsilon is the clamp delta under which a DOF is locked without looking for a smaller one.
const lockEpsilon = 1e-6

// Solver iterates the Jacobian pseudo-inverse over a set of segments and tasks. Primary tasks
// share one Jacobian; secondary tasks share another that is solved in the primary's null space.
type Solver struct {
	body   *body.Body
	root   body.NodeID
	logger logging.Logger
	opts   SolverOptions

	segments []*Segment
	tasks    []Task

	primary       *Jacobian
	secondary     *Jacobian
	secondaryBase *Jacobian
}

// NewSolver assigns DOF columns to segments and rows to tasks. root is the top-most start node
// of the segments; FK is refreshed from it every iteration.
func NewSolver(
	b *body.Body,
	root body.NodeID,
	segments []*Segment,
	tasks []Task,
	algorithm Algorithm,
	opts SolverOptions,
	logger logging.Logger,
) (*Solver, error) {
	if !algorithm.Iterative() {
		return nil, errors.Errorf("algorithm %v is not iterative", algorithm)
	}
	if len(segments) == 0 {
		return nil, errors.New("solver needs at least one segment")
	}
	if len(tasks) == 0 {
		return nil, errors.New("solver needs at least one task")
	}
	opts = opts.withDefaults()

	dof := 0
	for _, seg := range segments {
		seg.dofOffset = dof
		dof += SegmentDOF
	}
	var primarySize, secondarySize int
	for _, t := range tasks {
		if t.Primary() {
			t.SetOffset(primarySize)
			primarySize += t.Size()
		} else {
			t.SetOffset(secondarySize)
			secondarySize += t.Size()
		}
	}
	if primarySize == 0 {
		return nil, errors.New("solver needs at least one primary task")
	}

	sdls := algorithm == AlgorithmSDLS
	s := &Solver{
		body:     b,
		root:     root,
		logger:   logger,
		opts:     opts,
		segments: segments,
		tasks:    tasks,
		primary:  NewJacobian(primarySize, dof, sdls, opts),
	}
	if secondarySize > 0 {
		s.secondary = NewJacobian(secondarySize, dof, sdls, opts)
		s.secondaryBase = NewJacobian(secondarySize, dof, sdls, opts)
	}
	for _, seg := range segments {
		for i := 0; i < SegmentDOF; i++ {
			for _, j := range s.jacobians() {
				j.SetDOFWeight(seg.dofOffset+i, seg.Weight(i))
			}
		}
	}
	return s, nil
}

func (s *Solver) jacobians() []*Jacobian {
	if s.secondary == nil {
		return []*Jacobian{s.primary}
	}
	return []*Jacobian{s.primary, s.secondary, s.secondaryBase}
}

// Segments returns the solver's segments in column order.
func (s *Solver) Segments() []*Segment {
	return s.segments
}

// Tasks returns the solver's tasks.
func (s *Solver) Tasks() []Task {
	return s.tasks
}

// DOF returns the number of Jacobian columns.
func (s *Solver) DOF() int {
	return len(s.segments) * SegmentDOF
}

// Solve runs at most maxIterations steps. The body's FK caches below the solver root are current
// when it returns.
func (s *Solver) Solve(ctx context.Context, maxIterations int) SolveResult {
	streak := 0
	for iter := 0; iter < maxIterations; iter++ {
		s.body.UpdateFK(s.root, body.RootIsLocal)
		if s.complete() {
			streak++
			if streak >= s.opts.ConvergedStreak {
				return SolveResult{Outcome: Converged, Iterations: iter, Distance: s.distance()}
			}
		} else {
			streak = 0
		}
		if err := ctx.Err(); err != nil {
			return SolveResult{Outcome: MaxIterationsReached, Iterations: iter, Distance: s.distance(), Err: err}
		}
		if err := s.step(); err != nil {
			s.logger.Debugw("solve step failed", "iteration", iter, "error", err)
			return SolveResult{Outcome: Degenerate, Iterations: iter, Distance: s.distance(), Err: err}
		}
	}
	s.body.UpdateFK(s.root, body.RootIsLocal)
	if s.complete() && streak+1 >= s.opts.ConvergedStreak {
		return SolveResult{Outcome: Converged, Iterations: maxIterations, Distance: s.distance()}
	}
	return SolveResult{Outcome: MaxIterationsReached, Iterations: maxIterations, Distance: s.distance()}
}

// step computes and applies one update. Joints are only written once the update is known to be
// finite, so a failed step leaves the pose untouched.
func (s *Solver) step() error {
	for _, seg := range s.segments {
		seg.sync()
	}
	s.primary.ClearColumns()
	if s.secondaryBase != nil {
		s.secondaryBase.ClearColumns()
	}
	for _, t := range s.tasks {
		if t.Primary() {
			t.ComputeJacobian(s.primary)
		} else {
			t.ComputeJacobian(s.secondaryBase)
		}
	}

	defer func() {
		for _, seg := range s.segments {
			seg.Unlock()
		}
	}()
	for {
		if err := s.primary.Invert(); err != nil {
			return err
		}
		if s.secondary != nil {
			s.secondary.copyFrom(s.secondaryBase)
			if err := s.primary.SubTask(s.secondary); err != nil {
				return err
			}
		}
		if !s.updateAngles() {
			break
		}
	}
	for _, seg := range s.segments {
		seg.Apply()
	}
	return nil
}

// updateAngles clamps every segment's candidate rotation. Clamped DOFs with a negligible delta
// are all locked; otherwise the single DOF with the smallest delta is. It reports whether anything
// was locked, in which case the update must be recomputed.
func (s *Solver) updateAngles() bool {
	var (
		minSeg   *Segment
		minDOF   int
		minDelta r3.Vector
		minMag   = math.MaxFloat64
		locked   bool
	)
	lockWith := s.jacobians()
	if s.secondary != nil {
		// the working copy is rebuilt from the base every pass
		lockWith = []*Jacobian{s.primary, s.secondaryBase}
	}
	for _, seg := range s.segments {
		delta, clamped, limited := seg.UpdateAngle(s.primary)
		if !limited {
			continue
		}
		for dof := 0; dof < SegmentDOF; dof++ {
			if !clamped[dof] || seg.Locked(dof) {
				continue
			}
			mag := dofDelta(delta, dof)
			if mag < lockEpsilon {
				seg.Lock(dof, delta, lockWith...)
				locked = true
				continue
			}
			if mag < minMag {
				minSeg, minDOF, minDelta, minMag = seg, dof, delta, mag
			}
		}
	}
	if !locked && minSeg != nil {
		minSeg.Lock(minDOF, minDelta, lockWith...)
		locked = true
	}
	return locked
}

// dofDelta is the part of a segment's clamped delta that belongs to one DOF. Swing DOFs lock
// together, so both report the swing magnitude.
func dofDelta(delta r3.Vector, dof int) float64 {
	if dof == DOFTwist {
		return math.Abs(delta.Y)
	}
	return math.Hypot(delta.X, delta.Z)
}

func (s *Solver) complete() bool {
	for _, t := range s.tasks {
		if t.Primary() && !t.Complete() {
			return false
		}
	}
	return true
}

func (s *Solver) distance() float64 {
	var d float64
	for _, t := range s.tasks {
		if t.Primary() {
			d = math.Max(d, t.Distance())
		}
	}
	return d
}
