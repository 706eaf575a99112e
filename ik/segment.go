package ik

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/spatialmath"
)

// SegmentDOF is the number of rotational degrees of freedom of a segment.
const SegmentDOF = 3

// Segment is one spherical joint of a chain: the start node rotates and the end node is the next
// node toward the end effector. Rotations are integrated and limited in the limit frame, whose Y
// axis points from start to end at rest.
type Segment struct {
	body       *body.Body
	start, end body.NodeID

	weights [SegmentDOF]float64
	limits  Limits

	// limit frame relative to the start node's joint frame
	frame    quat.Number
	frameInv quat.Number
	// rest distance between start and end
	extension float64

	dofOffset int

	// state of the current iteration
	basis    quat.Number
	newBasis quat.Number
	axes     [SegmentDOF]r3.Vector
	origin   r3.Vector
	locked   [SegmentDOF]bool
	lockedAt [SegmentDOF]float64
}

// NewSegment returns the segment rotating start toward end. end must be a child of start.
func NewSegment(b *body.Body, start, end body.NodeID, limits Limits, weights [SegmentDOF]float64) *Segment {
	offset := b.Rest(end).Translation
	frame := spatialmath.IdentityQuat()
	if offset.Norm() > 0 {
		frame = spatialmath.QuatBetween(twistAxis, offset)
	}
	for i, w := range weights {
		if w <= 0 {
			weights[i] = 1
		}
	}
	s := &Segment{
		body:      b,
		start:     start,
		end:       end,
		weights:   weights,
		limits:    limits,
		frame:     frame,
		frameInv:  quat.Conj(frame),
		extension: offset.Norm() * b.Rest(end).Scale,
	}
	s.sync()
	return s
}

// Start returns the rotating node.
func (s *Segment) Start() body.NodeID {
	return s.start
}

// End returns the node the segment points at.
func (s *Segment) End() body.NodeID {
	return s.end
}

// Limits returns the segment limits.
func (s *Segment) Limits() Limits {
	return s.limits
}

// Extension returns the rest distance between start and end.
func (s *Segment) Extension() float64 {
	return s.extension
}

// Weight returns the weight of a DOF.
func (s *Segment) Weight(dof int) float64 {
	return s.weights[dof]
}

// DOFOffset returns the column of the first DOF of the segment in the solver's Jacobian.
func (s *Segment) DOFOffset() int {
	return s.dofOffset
}

// Axis returns the world space axis of a DOF as of the last sync.
func (s *Segment) Axis(dof int) r3.Vector {
	return s.axes[dof]
}

// Origin returns the world space position of the start node as of the last sync.
func (s *Segment) Origin() r3.Vector {
	return s.origin
}

// sync reads the joint rotation and world frame from the body. The body's caches must be current.
func (s *Segment) sync() {
	joint := s.body.Joint(s.start).Rotation
	s.basis = quat.Mul(s.frameInv, quat.Mul(joint, s.frame))
	s.newBasis = s.basis

	world := s.body.LocalToWorld(s.start)
	s.origin = world.Translation
	dofFrame := quat.Mul(world.Rotation, s.frame)
	s.axes[0] = spatialmath.RotateVector(dofFrame, r3.Vector{X: 1, Y: 0, Z: 0})
	s.axes[1] = spatialmath.RotateVector(dofFrame, r3.Vector{X: 0, Y: 1, Z: 0})
	s.axes[2] = spatialmath.RotateVector(dofFrame, r3.Vector{X: 0, Y: 0, Z: 1})
}

// toJoint maps a rotation in the limit frame to a joint rotation.
func (s *Segment) toJoint(q quat.Number) quat.Number {
	return quat.Mul(s.frame, quat.Mul(q, s.frameInv))
}

// ClampJoint clamps a joint space rotation of this segment's start node against its limits.
func (s *Segment) ClampJoint(joint quat.Number) quat.Number {
	q := quat.Mul(s.frameInv, quat.Mul(joint, s.frame))
	clamped, changed := s.limits.Clamp(q)
	if !changed {
		return joint
	}
	return s.toJoint(clamped)
}

// UpdateAngle integrates the solver's angle update for this segment into a candidate rotation
// and clamps it. If a limit is hit it returns the rotation vector from the current to the
// clamped rotation, flags the clamped DOFs and reports true.
func (s *Segment) UpdateAngle(j *Jacobian) (delta r3.Vector, clamped [SegmentDOF]bool, limited bool) {
	if s.locked[0] && s.locked[1] && s.locked[2] {
		return r3.Vector{}, clamped, false
	}
	dq := r3.Vector{
		X: j.AngleUpdate(s.dofOffset),
		Y: j.AngleUpdate(s.dofOffset + 1),
		Z: j.AngleUpdate(s.dofOffset + 2),
	}
	s.newBasis = quat.Mul(s.basis, spatialmath.QuatFromRotationVector(dq))
	if !s.limits.Any() {
		return r3.Vector{}, clamped, false
	}

	a := s.limits.rangeParameters(s.newBasis)
	anyLocked := false
	for i := range s.locked {
		if s.locked[i] {
			a[i] = s.lockedAt[i]
			anyLocked = true
		}
	}
	clamped = s.limits.clampParameters(&a)
	if !clamped[0] && !clamped[1] && !clamped[2] {
		if anyLocked {
			s.newBasis = s.limits.fromParameters(a)
		}
		return r3.Vector{}, clamped, false
	}

	s.newBasis = s.limits.fromParameters(a)
	delta = spatialmath.QuatToRotationVector(quat.Mul(quat.Conj(s.basis), s.newBasis))
	if !(s.locked[0] || s.locked[2]) && (clamped[0] || clamped[2]) {
		s.lockedAt[0], s.lockedAt[2] = a[0], a[2]
	}
	if !s.locked[1] && clamped[1] {
		s.lockedAt[1] = a[1]
	}
	return delta, clamped, true
}

// Lock freezes a DOF at the given delta for the rest of the inner clamping loop, removing it from
// every given Jacobian. Swing DOFs are locked together.
func (s *Segment) Lock(dof int, delta r3.Vector, jacobians ...*Jacobian) {
	if dof == DOFTwist {
		s.locked[DOFTwist] = true
		for _, j := range jacobians {
			j.Lock(s.dofOffset+DOFTwist, delta.Y)
		}
		return
	}
	s.locked[DOFSwingX], s.locked[DOFSwingZ] = true, true
	for _, j := range jacobians {
		j.Lock(s.dofOffset+DOFSwingX, delta.X)
		j.Lock(s.dofOffset+DOFSwingZ, delta.Z)
	}
}

// Locked reports whether a DOF is locked.
func (s *Segment) Locked(dof int) bool {
	return s.locked[dof]
}

// Unlock releases all locked DOFs.
func (s *Segment) Unlock() {
	s.locked = [SegmentDOF]bool{}
}

// Apply writes the candidate rotation to the start node's joint.
func (s *Segment) Apply() {
	s.basis = spatialmath.Normalize(s.newBasis)
	s.body.SetJointRotation(s.start, s.toJoint(s.basis))
}
