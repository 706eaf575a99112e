package ik

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/logging"
	"go.viam.com/articulated/spatialmath"
)

func TestNewChainErrors(t *testing.T) {
	b := buildArm(t)
	logger := logging.NewTestLogger(t)
	opts := NewDefaultSolverOptions()

	cfg := armChain(AlgorithmSDLS)
	cfg.Length = 10
	_, err := NewChain(b, cfg, opts, logger)
	test.That(t, err, test.ShouldBeError, NewChainTooLongError("arm", "hand", 10, 4))

	cfg = armChain(AlgorithmSDLS)
	cfg.EndEffector = "finger"
	_, err = NewChain(b, cfg, opts, logger)
	test.That(t, err, test.ShouldBeError, NewEffectorNotFoundError("arm", "finger"))

	cfg = armChain(AlgorithmSDLS)
	cfg.Joints = []JointConfig{{Name: "root"}}
	_, err = NewChain(b, cfg, opts, logger)
	test.That(t, err, test.ShouldBeError, NewUnknownJointError("arm", "root"))

	cfg = armChain(AlgorithmSDLS)
	cfg.Joints = []JointConfig{{Name: "shoulder", Fixed: true}, {Name: "elbow", Fixed: true}, {Name: "wrist", Fixed: true}}
	_, err = NewChain(b, cfg, opts, logger)
	test.That(t, err, test.ShouldBeError, NewNoDOFError("arm"))

	cfg = armChain(AlgorithmSDLS)
	cfg.PositionWeight = 0
	_, err = NewChain(b, cfg, opts, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg = armChain(AlgorithmSDLS)
	cfg.Joints = []JointConfig{{Name: "elbow", Limits: Limits{Min: [3]float64{0.2}, Limit: [3]bool{true}}}}
	_, err = NewChain(b, cfg, opts, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestChainSegments(t *testing.T) {
	b := buildArm(t)
	cfg := armChain(AlgorithmSDLS)
	cfg.Joints = []JointConfig{{Name: "elbow", Fixed: true}}
	c, err := NewChain(b, cfg, NewDefaultSolverOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, c.Root(), test.ShouldEqual, lookup(t, b, "shoulder"))
	test.That(t, c.Path(), test.ShouldResemble,
		[]body.NodeID{lookup(t, b, "shoulder"), lookup(t, b, "elbow"), lookup(t, b, "wrist"), lookup(t, b, "hand")})
	test.That(t, c.Starts(), test.ShouldHaveLength, 2)
	test.That(t, c.Starts()[0], test.ShouldEqual, lookup(t, b, "shoulder"))
	test.That(t, c.Starts()[1], test.ShouldEqual, lookup(t, b, "wrist"))
	test.That(t, c.DOF(), test.ShouldEqual, 6)
	test.That(t, c.Config().Iterations, test.ShouldEqual, defaultIterations)

	segs := c.Segments()
	test.That(t, segs[0].End(), test.ShouldEqual, lookup(t, b, "elbow"))
	test.That(t, segs[0].Extension(), test.ShouldAlmostEqual, 1)
	test.That(t, segs[1].DOFOffset(), test.ShouldEqual, 3)
}

func TestChainReachable(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmDLS, AlgorithmSDLS} {
		t.Run(alg.String(), func(t *testing.T) {
			b := buildArm(t)
			cfg := armChain(alg)
			cfg.Iterations = 1000
			c, err := NewChain(b, cfg, NewDefaultSolverOptions(), logging.NewTestLogger(t))
			test.That(t, err, test.ShouldBeNil)

			hand := lookup(t, b, "hand")
			goal := r3.Vector{X: 1.5, Y: 1.5, Z: 0.5}
			b.SetGoal(hand, goalAt(goal))
			res := c.Solve(context.Background())
			test.That(t, res.Outcome, test.ShouldEqual, Converged)
			test.That(t, res.Err, test.ShouldBeNil)
			test.That(t, b.WorldPosition(hand).Sub(goal).Norm(), test.ShouldBeLessThan, 1e-3)
			test.That(t, res.Distance, test.ShouldBeLessThan, 1e-3)
		})
	}
}

func TestChainReachesFKPose(t *testing.T) {
	// a pose produced by forward kinematics is reachable by construction
	b, _ := bentArm(t)
	hand := lookup(t, b, "hand")
	target := b.LocalToWorld(hand)
	b.ResetJoints()
	b.UpdateAll()
	b.SetGoal(hand, target)

	cfg := armChain(AlgorithmSDLS)
	cfg.OrientationWeight = 1
	cfg.Iterations = 1000
	c, err := NewChain(b, cfg, NewDefaultSolverOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	res := c.Solve(context.Background())
	test.That(t, res.Outcome, test.ShouldEqual, Converged)
	got := b.LocalToWorld(hand)
	test.That(t, got.Translation.Sub(target.Translation).Norm(), test.ShouldBeLessThan, 1e-3)
	test.That(t, spatialmath.QuaternionAlmostEqual(got.Rotation, target.Rotation, 1e-2), test.ShouldBeTrue)
}

func TestChainUnreachable(t *testing.T) {
	b := buildArm(t)
	c, err := NewChain(b, armChain(AlgorithmSDLS), NewDefaultSolverOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	hand := lookup(t, b, "hand")
	shoulder := lookup(t, b, "shoulder")
	goal := r3.Vector{X: 0, Y: 10, Z: 0}
	b.SetGoal(hand, goalAt(goal))
	res := c.Solve(context.Background())
	test.That(t, res.Outcome, test.ShouldEqual, MaxIterationsReached)
	test.That(t, res.Iterations, test.ShouldEqual, defaultIterations)
	test.That(t, res.Solved(), test.ShouldBeFalse)

	// fully stretched toward the target
	reach := b.WorldPosition(hand).Sub(b.WorldPosition(shoulder))
	test.That(t, reach.Norm(), test.ShouldBeGreaterThan, 0.95*3)
	test.That(t, reach.Angle(goal.Sub(b.WorldPosition(shoulder))).Radians(), test.ShouldBeLessThan, 0.05)
	test.That(t, res.Distance, test.ShouldAlmostEqual, 7, 0.2)
}

func TestChainSolveIsIdempotent(t *testing.T) {
	b := buildArm(t)
	c, err := NewChain(b, armChain(AlgorithmSDLS), NewDefaultSolverOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	hand := lookup(t, b, "hand")
	goal := r3.Vector{X: 1, Y: 2, Z: 0}
	b.SetGoal(hand, goalAt(goal))
	test.That(t, c.Solve(context.Background()).Outcome, test.ShouldEqual, Converged)

	before := b.Snapshot(b.Root())
	res := c.Solve(context.Background())
	test.That(t, res.Outcome, test.ShouldEqual, Converged)
	test.That(t, res.Iterations, test.ShouldBeLessThanOrEqualTo, 1)
	after := b.Snapshot(b.Root())
	for i := range before {
		prev, next := recordRotation(before[i]), recordRotation(after[i])
		test.That(t, spatialmath.QuatAngle(quat.Mul(quat.Conj(prev), next)), test.ShouldBeLessThan, 1e-4)
	}
	test.That(t, b.WorldPosition(hand).Sub(goal).Norm(), test.ShouldBeLessThan, 1e-3)
}

func recordRotation(rec spatialmath.TransformRecord) quat.Number {
	return quat.Number{Real: rec.Rotation[0], Imag: rec.Rotation[1], Jmag: rec.Rotation[2], Kmag: rec.Rotation[3]}
}

func TestChainWithoutGoalHoldsPose(t *testing.T) {
	b, _ := bentArm(t)
	hand := lookup(t, b, "hand")
	start := b.WorldPosition(hand)
	c, err := NewChain(b, armChain(AlgorithmDLS), NewDefaultSolverOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	res := c.Solve(context.Background())
	test.That(t, res.Outcome, test.ShouldEqual, Converged)
	test.That(t, b.WorldPosition(hand).Sub(start).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestChainJointLimits(t *testing.T) {
	b := buildArm(t)
	cfg := armChain(AlgorithmSDLS)
	limited := Limits{Min: [3]float64{-0.2, -0.1, -0.2}, Max: [3]float64{0.2, 0.1, 0.2}, Limit: [3]bool{true, true, true}}
	cfg.Joints = []JointConfig{{Name: "shoulder", Limits: limited}, {Name: "elbow", Limits: limited}, {Name: "wrist", Limits: limited}}
	c, err := NewChain(b, cfg, NewDefaultSolverOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	hand := lookup(t, b, "hand")
	b.SetGoal(hand, goalAt(r3.Vector{X: 0, Y: 3, Z: 0}))
	res := c.Solve(context.Background())
	test.That(t, res.Outcome, test.ShouldEqual, MaxIterationsReached)
	for _, seg := range c.Segments() {
		_, changed := seg.Limits().Clamp(quatInLimitFrame(seg, b.Joint(seg.Start()).Rotation))
		test.That(t, changed, test.ShouldBeFalse)
	}
	// the limits still let the hand move toward the goal
	test.That(t, b.WorldPosition(hand).Y, test.ShouldBeGreaterThan, 0.5)
}

func TestChainDirect(t *testing.T) {
	b := buildArm(t)
	cfg := armChain(AlgorithmDirect)
	c, err := NewChain(b, cfg, NewDefaultSolverOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	shoulder := lookup(t, b, "shoulder")
	elbow := lookup(t, b, "elbow")
	up := spatialmath.QuatFromAxisAngle(r3.Vector{X: 0, Y: 0, Z: 1}, math.Pi/2)
	b.SetGoal(shoulder, spatialmath.NewRotation(up))
	b.SetGoal(elbow, spatialmath.NewRotation(up))

	res := c.Solve(context.Background())
	test.That(t, res.Outcome, test.ShouldEqual, Converged)
	test.That(t, spatialmath.QuaternionAlmostEqual(b.LocalToWorld(shoulder).Rotation, up, 1e-9), test.ShouldBeTrue)
	// the elbow's world goal equals its parent's, so its joint is identity
	test.That(t, spatialmath.QuaternionAlmostEqual(b.Joint(elbow).Rotation, spatialmath.IdentityQuat(), 1e-9),
		test.ShouldBeTrue)
	hand := b.WorldPosition(lookup(t, b, "hand"))
	test.That(t, hand.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, hand.Y, test.ShouldAlmostEqual, 3, 1e-9)
}

func TestChainTargetSpace(t *testing.T) {
	b := buildArm(t)
	cfg := armChain(AlgorithmSDLS)
	space := spatialmath.NewRigid(r3.Vector{X: 0, Y: 0, Z: 1}, spatialmath.IdentityQuat())
	cfg.TargetSpace = &space
	c, err := NewChain(b, cfg, NewDefaultSolverOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	hand := lookup(t, b, "hand")
	b.SetGoal(hand, goalAt(r3.Vector{X: 2, Y: 1, Z: -1}))
	test.That(t, c.Solve(context.Background()).Outcome, test.ShouldEqual, Converged)
	test.That(t, b.WorldPosition(hand).Sub(r3.Vector{X: 2, Y: 1, Z: 0}).Norm(), test.ShouldBeLessThan, 1e-3)
}

func TestChainOrientationSecondary(t *testing.T) {
	b := buildArm(t)
	cfg := armChain(AlgorithmSDLS)
	cfg.OrientationWeight = 1
	cfg.OrientationSecondary = true
	cfg.Iterations = 500
	c, err := NewChain(b, cfg, NewDefaultSolverOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	hand := lookup(t, b, "hand")
	goal := spatialmath.NewRigid(r3.Vector{X: 1.5, Y: 1.5, Z: 0}, spatialmath.QuatFromAxisAngle(r3.Vector{X: 0, Y: 0, Z: 1}, math.Pi/2))
	b.SetGoal(hand, goal)
	res := c.Solve(context.Background())
	test.That(t, res.Outcome, test.ShouldEqual, Converged)
	test.That(t, b.WorldPosition(hand).Sub(goal.Translation).Norm(), test.ShouldBeLessThan, 1e-3)
}

func TestSolveOutcomeString(t *testing.T) {
	test.That(t, Converged.String(), test.ShouldEqual, "converged")
	test.That(t, MaxIterationsReached.String(), test.ShouldEqual, "max iterations reached")
	test.That(t, Degenerate.String(), test.ShouldEqual, "degenerate")
	alg, err := ParseAlgorithm("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, alg, test.ShouldEqual, AlgorithmSDLS)
}

func quatInLimitFrame(seg *Segment, joint quat.Number) quat.Number {
	return quat.Mul(seg.frameInv, quat.Mul(joint, seg.frame))
}
