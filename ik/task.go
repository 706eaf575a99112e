package ik

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/spatialmath"
)

// Task is one objective of a solve: an error vector (beta) and its derivatives with respect to
// the DOFs of the segments it depends on.
type Task interface {
	// Size is the number of rows the task occupies.
	Size() int
	// Offset is the first row of the task in its Jacobian.
	Offset() int
	SetOffset(row int)
	// Primary tasks are solved first; secondary tasks only use the primary's null space.
	Primary() bool
	Weight() float64
	// ComputeJacobian fills the task's rows. Segments must be synced with the body.
	ComputeJacobian(j *Jacobian)
	// Distance is the current error magnitude.
	Distance() float64
	Complete() bool
}

type taskBase struct {
	body     *body.Body
	effector body.NodeID
	segments []*Segment
	offset   int
	primary  bool
	weight   float64
}

func (t *taskBase) Size() int            { return 3 }
func (t *taskBase) Offset() int          { return t.offset }
func (t *taskBase) SetOffset(row int)    { t.offset = row }
func (t *taskBase) Primary() bool        { return t.primary }
func (t *taskBase) Weight() float64      { return t.weight }
func (t *taskBase) tip() spatialmath.Transform {
	return t.body.LocalToWorld(t.effector)
}

// PositionTask drives the effector's world position to a goal.
type PositionTask struct {
	taskBase
	goal        r3.Vector
	clampLength float64
	epsilon     float64
}

// NewPositionTask returns a position task for effector moved by segments.
func NewPositionTask(b *body.Body, effector body.NodeID, segments []*Segment, weight float64, primary bool,
	opts SolverOptions,
) *PositionTask {
	var extension float64
	for _, s := range segments {
		extension += s.Extension()
	}
	clamp := math.MaxFloat64
	if len(segments) > 0 && extension > 0 {
		// limit a single step to a fraction of the chain's reach
		clamp = extension / float64(2*len(segments))
	}
	return &PositionTask{
		taskBase:    taskBase{body: b, effector: effector, segments: segments, primary: primary, weight: weight},
		clampLength: clamp,
		epsilon:     opts.PositionEpsilon,
	}
}

// SetGoal sets the world space goal position.
func (t *PositionTask) SetGoal(goal r3.Vector) {
	t.goal = goal
}

// Goal returns the world space goal position.
func (t *PositionTask) Goal() r3.Vector {
	return t.goal
}

// ComputeJacobian sets beta to the clamped weighted error and the columns to axis x lever arm.
func (t *PositionTask) ComputeJacobian(j *Jacobian) {
	pos := t.tip().Translation
	d := t.goal.Sub(pos)
	if l := d.Norm(); l > t.clampLength {
		d = d.Mul(t.clampLength / l)
	}
	j.SetBetas(t.offset, d.Mul(t.weight))
	for _, s := range t.segments {
		lever := s.Origin().Sub(pos)
		for i := 0; i < SegmentDOF; i++ {
			j.SetDerivatives(t.offset, s.DOFOffset()+i, lever.Cross(s.Axis(i).Mul(t.weight)))
		}
	}
}

// Distance returns the distance between the effector and the goal.
func (t *PositionTask) Distance() float64 {
	return t.goal.Sub(t.tip().Translation).Norm()
}

// Complete reports whether the effector is within epsilon of the goal.
func (t *PositionTask) Complete() bool {
	return t.goal.Sub(t.tip().Translation).Norm2() < t.epsilon*t.epsilon
}

// OrientationTask drives the effector's world rotation to a goal.
type OrientationTask struct {
	taskBase
	goal    quat.Number
	epsilon float64
}

// NewOrientationTask returns an orientation task for effector moved by segments.
func NewOrientationTask(b *body.Body, effector body.NodeID, segments []*Segment, weight float64, primary bool,
	opts SolverOptions,
) *OrientationTask {
	return &OrientationTask{
		taskBase: taskBase{body: b, effector: effector, segments: segments, primary: primary, weight: weight},
		goal:     spatialmath.IdentityQuat(),
		epsilon:  opts.OrientationEpsilon,
	}
}

// SetGoal sets the world space goal rotation.
func (t *OrientationTask) SetGoal(goal quat.Number) {
	t.goal = spatialmath.Normalize(goal)
}

// Goal returns the world space goal rotation.
func (t *OrientationTask) Goal() quat.Number {
	return t.goal
}

// ComputeJacobian sets beta to the weighted rotation vector from the effector to the goal and the
// columns to the DOF axes.
func (t *OrientationTask) ComputeJacobian(j *Jacobian) {
	rot := t.tip().Rotation
	d := spatialmath.QuatToRotationVector(quat.Mul(t.goal, quat.Conj(rot)))
	j.SetBetas(t.offset, d.Mul(t.weight))
	for _, s := range t.segments {
		for i := 0; i < SegmentDOF; i++ {
			j.SetDerivatives(t.offset, s.DOFOffset()+i, s.Axis(i).Mul(t.weight))
		}
	}
}

// Distance returns the rotation angle between the effector and the goal.
func (t *OrientationTask) Distance() float64 {
	return spatialmath.QuatAngle(quat.Mul(t.goal, quat.Conj(t.tip().Rotation)))
}

// Complete reports whether the effector rotation matches the goal.
func (t *OrientationTask) Complete() bool {
	return math.Abs(spatialmath.Dot(spatialmath.Normalize(t.tip().Rotation), t.goal)) > 1-t.epsilon
}
