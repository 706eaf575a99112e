package ik

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Algorithm selects how a chain is solved.
type Algorithm int

const (
	// AlgorithmSDLS iterates with selectively damped least squares.
	AlgorithmSDLS Algorithm = iota
	// AlgorithmDLS iterates with damped least squares.
	AlgorithmDLS
	// AlgorithmDirect copies goal orientations into joint space and clamps them, no iteration.
	AlgorithmDirect
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmDirect:
		return "direct"
	case AlgorithmDLS:
		return "dls"
	case AlgorithmSDLS:
		return "sdls"
	default:
		return "unknown"
	}
}

// ParseAlgorithm is the inverse of Algorithm.String. An empty string selects SDLS, as does the
// zero Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "direct":
		return AlgorithmDirect, nil
	case "dls":
		return AlgorithmDLS, nil
	case "sdls", "":
		return AlgorithmSDLS, nil
	default:
		return 0, errors.Errorf("unknown ik algorithm %q", s)
	}
}

// Iterative reports whether the algorithm runs the Jacobian solver.
func (a Algorithm) Iterative() bool {
	return a == AlgorithmDLS || a == AlgorithmSDLS
}

const (
	defaultConvergedStreak = 2

	// SDLS scales every damped update a little short so oscillation against joint limits settles.
	defaultSDLSDamping = 0.80

	defaultDLSMaxAngleChange  = 0.1
	defaultDLSMaxLambda       = 10
	defaultSDLSMaxAngleChange = math.Pi / 4

	defaultPositionEpsilon    = 1e-3
	defaultOrientationEpsilon = 1e-6

	defaultIterations = 100

	defaultAcquireTimeout = 100 * time.Millisecond
)

// SolverOptions tunes the Jacobian solver.
type SolverOptions struct {
	// Number of consecutive iterations all tasks must be complete before reporting convergence.
	ConvergedStreak int `json:"converged_streak"`

	// Factor applied to every SDLS update.
	SDLSDamping float64 `json:"sdls_damping"`

	// Largest joint step, in radians, the DLS damping aims for.
	DLSMaxAngleChange float64 `json:"dls_max_angle_change"`

	// Upper bound of the squared DLS damping term.
	DLSMaxLambda float64 `json:"dls_max_lambda"`

	// Largest joint step, in radians, of one SDLS update.
	SDLSMaxAngleChange float64 `json:"sdls_max_angle_change"`

	// A position task is complete when the effector is closer than this to its goal.
	PositionEpsilon float64 `json:"position_epsilon"`

	// An orientation task is complete when 1 - |cos| of the half angle error is below this.
	OrientationEpsilon float64 `json:"orientation_epsilon"`
}

// NewDefaultSolverOptions returns the default solver tuning.
func NewDefaultSolverOptions() SolverOptions {
	return SolverOptions{
		ConvergedStreak:    defaultConvergedStreak,
		SDLSDamping:        defaultSDLSDamping,
		DLSMaxAngleChange:  defaultDLSMaxAngleChange,
		DLSMaxLambda:       defaultDLSMaxLambda,
		SDLSMaxAngleChange: defaultSDLSMaxAngleChange,
		PositionEpsilon:    defaultPositionEpsilon,
		OrientationEpsilon: defaultOrientationEpsilon,
	}
}

// withDefaults fills unset fields with their defaults.
func (o SolverOptions) withDefaults() SolverOptions {
	def := NewDefaultSolverOptions()
	if o.ConvergedStreak <= 0 {
		o.ConvergedStreak = def.ConvergedStreak
	}
	if o.SDLSDamping <= 0 {
		o.SDLSDamping = def.SDLSDamping
	}
	if o.DLSMaxAngleChange <= 0 {
		o.DLSMaxAngleChange = def.DLSMaxAngleChange
	}
	if o.DLSMaxLambda <= 0 {
		o.DLSMaxLambda = def.DLSMaxLambda
	}
	if o.SDLSMaxAngleChange <= 0 {
		o.SDLSMaxAngleChange = def.SDLSMaxAngleChange
	}
	if o.PositionEpsilon <= 0 {
		o.PositionEpsilon = def.PositionEpsilon
	}
	if o.OrientationEpsilon <= 0 {
		o.OrientationEpsilon = def.OrientationEpsilon
	}
	return o
}

// Options configures an Engine.
type Options struct {
	// Number of pool workers. Zero solves every group on the calling goroutine.
	Workers int `json:"workers"`

	// How long to wait for a free worker before solving a group on the calling goroutine.
	AcquireTimeout time.Duration `json:"acquire_timeout"`

	Solver SolverOptions `json:"solver"`
}

// NewDefaultOptions returns engine options that solve inline with the default solver tuning.
func NewDefaultOptions() Options {
	return Options{
		AcquireTimeout: defaultAcquireTimeout,
		Solver:         NewDefaultSolverOptions(),
	}
}
