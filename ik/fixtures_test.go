package ik

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/spatialmath"
)

type bone struct {
	name, parent string
	offset       r3.Vector
}

func buildBody(t *testing.T, bones []bone) *body.Body {
	t.Helper()
	b := body.NewBuilder()
	for _, bn := range bones {
		_, err := b.AddNode(body.NodeSpec{
			Name:      bn.name,
			Rig:       body.SimulatedRig,
			JointKind: spatialmath.RotationOnly,
			Rest:      spatialmath.NewRigid(bn.offset, spatialmath.IdentityQuat()),
		})
		test.That(t, err, test.ShouldBeNil)
	}
	for _, bn := range bones {
		if bn.parent == "" {
			continue
		}
		test.That(t, b.ConnectNames(bn.parent, bn.name), test.ShouldBeNil)
	}
	out, err := b.Freeze()
	test.That(t, err, test.ShouldBeNil)
	out.UpdateAll()
	return out
}

// buildArm is a straight arm of three unit bones along X.
func buildArm(t *testing.T) *body.Body {
	t.Helper()
	return buildBody(t, []bone{
		{"root", "", r3.Vector{}},
		{"shoulder", "root", r3.Vector{}},
		{"elbow", "shoulder", r3.Vector{X: 1, Y: 0, Z: 0}},
		{"wrist", "elbow", r3.Vector{X: 1, Y: 0, Z: 0}},
		{"hand", "wrist", r3.Vector{X: 1, Y: 0, Z: 0}},
	})
}

var humanoidBones = []bone{
	{"hips", "", r3.Vector{X: 0, Y: 1, Z: 0}},
	{"spine", "hips", r3.Vector{X: 0, Y: 0.2, Z: 0}},
	{"chest", "spine", r3.Vector{X: 0, Y: 0.3, Z: 0}},
	{"neck", "chest", r3.Vector{X: 0, Y: 0.3, Z: 0}},
	{"head", "neck", r3.Vector{X: 0, Y: 0.2, Z: 0}},
	{"lShoulder", "chest", r3.Vector{X: 0.1, Y: 0.2, Z: 0}},
	{"lArm", "lShoulder", r3.Vector{X: 0.1, Y: 0, Z: 0}},
	{"lForearm", "lArm", r3.Vector{X: 0.3, Y: 0, Z: 0}},
	{"lHand", "lForearm", r3.Vector{X: 0.3, Y: 0, Z: 0}},
	{"rShoulder", "chest", r3.Vector{X: -0.1, Y: 0.2, Z: 0}},
	{"rArm", "rShoulder", r3.Vector{X: -0.1, Y: 0, Z: 0}},
	{"rForearm", "rArm", r3.Vector{X: -0.3, Y: 0, Z: 0}},
	{"rHand", "rForearm", r3.Vector{X: -0.3, Y: 0, Z: 0}},
	{"lLeg", "hips", r3.Vector{X: 0.1, Y: -0.1, Z: 0}},
	{"lShin", "lLeg", r3.Vector{X: 0, Y: -0.45, Z: 0}},
	{"lFoot", "lShin", r3.Vector{X: 0, Y: -0.45, Z: 0}},
}

func buildHumanoid(t *testing.T) *body.Body {
	t.Helper()
	return buildBody(t, humanoidBones)
}

func lookup(t *testing.T, b *body.Body, name string) body.NodeID {
	t.Helper()
	id, ok := b.Lookup(name)
	test.That(t, ok, test.ShouldBeTrue)
	return id
}

func armChain(alg Algorithm) ChainConfig {
	return ChainConfig{
		Name:           "arm",
		EndEffector:    "hand",
		Length:         3,
		Algorithm:      alg,
		PositionWeight: 1,
	}
}

func goalAt(p r3.Vector) spatialmath.Transform {
	return spatialmath.NewRigid(p, spatialmath.IdentityQuat())
}
