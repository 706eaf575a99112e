package body

import (
	"encoding/json"
	"math"
	"testing"
	"unicode/utf16"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"go.viam.com/articulated/spatialmath"
)

// buildHumanoidish builds
//
//	hips
//	├── spine ── chest ── neck
//	│            ├── lArm ── lHand
//	│            └── rArm ── rHand
//	└── leg ── foot
func buildHumanoidish(t *testing.T) *Body {
	t.Helper()
	b := NewBuilder()
	add := func(name string, offset r3.Vector) NodeID {
		id, err := b.AddNode(NodeSpec{
			Name:      name,
			Rig:       SimulatedRig,
			JointKind: spatialmath.RotationOnly,
			Rest:      spatialmath.NewRigid(offset, spatialmath.IdentityQuat()),
		})
		test.That(t, err, test.ShouldBeNil)
		return id
	}
	hips := add("hips", r3.Vector{X: 0, Y: 1, Z: 0})
	spine := add("spine", r3.Vector{X: 0, Y: 0.2, Z: 0})
	chest := add("chest", r3.Vector{X: 0, Y: 0.3, Z: 0})
	neck := add("neck", r3.Vector{X: 0, Y: 0.3, Z: 0})
	lArm := add("lArm", r3.Vector{X: 0.2, Y: 0.2, Z: 0})
	lHand := add("lHand", r3.Vector{X: 0.5, Y: 0, Z: 0})
	rArm := add("rArm", r3.Vector{X: -0.2, Y: 0.2, Z: 0})
	rHand := add("rHand", r3.Vector{X: -0.5, Y: 0, Z: 0})
	leg := add("leg", r3.Vector{X: 0.1, Y: -0.1, Z: 0})
	foot := add("foot", r3.Vector{X: 0, Y: -0.9, Z: 0})
	for _, e := range [][2]NodeID{
		{hips, spine}, {spine, chest}, {chest, neck}, {chest, lArm}, {lArm, lHand},
		{chest, rArm}, {rArm, rHand}, {hips, leg}, {leg, foot},
	} {
		test.That(t, b.Connect(e[0], e[1]), test.ShouldBeNil)
	}
	body, err := b.Freeze()
	test.That(t, err, test.ShouldBeNil)
	body.UpdateAll()
	return body
}

func mustLookup(t *testing.T, b *Body, name string) NodeID {
	t.Helper()
	id, ok := b.Lookup(name)
	test.That(t, ok, test.ShouldBeTrue)
	return id
}

func names(b *Body, ids []NodeID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.Name(id))
	}
	return out
}

func TestKinematicLists(t *testing.T) {
	b := buildHumanoidish(t)
	test.That(t, names(b, b.Order()), test.ShouldResemble,
		[]string{"hips", "spine", "chest", "neck", "lArm", "lHand", "rArm", "rHand", "leg", "foot"})
	test.That(t, names(b, b.KinematicList(mustLookup(t, b, "chest"))), test.ShouldResemble,
		[]string{"chest", "neck", "lArm", "lHand", "rArm", "rHand"})
	test.That(t, names(b, b.KinematicList(mustLookup(t, b, "lHand"))), test.ShouldResemble, []string{"lHand"})
	test.That(t, b.Depth(mustLookup(t, b, "rHand")), test.ShouldEqual, 4)
	test.That(t, b.IsAncestor(mustLookup(t, b, "spine"), mustLookup(t, b, "lHand")), test.ShouldBeTrue)
	test.That(t, b.IsAncestor(mustLookup(t, b, "leg"), mustLookup(t, b, "lHand")), test.ShouldBeFalse)
	test.That(t, names(b, b.Children(mustLookup(t, b, "chest"))), test.ShouldResemble, []string{"neck", "lArm", "rArm"})
}

func TestNames(t *testing.T) {
	b := NewBuilder()
	id, err := b.AddNode(NodeSpec{Name: "épaule", JointKind: spatialmath.RotationOnly})
	test.That(t, err, test.ShouldBeNil)
	body, err := b.Freeze()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, body.Name(id), test.ShouldEqual, "épaule")
	test.That(t, string(utf16.Decode(body.WideName(id))), test.ShouldEqual, "épaule")
}

func TestForwardKinematics(t *testing.T) {
	b := buildHumanoidish(t)
	lArm := mustLookup(t, b, "lArm")
	lHand := mustLookup(t, b, "lHand")

	test.That(t, b.WorldPosition(lHand).Sub(r3.Vector{X: 0.7, Y: 1.7, Z: 0}).Norm(), test.ShouldBeLessThan, 1e-12)

	// quarter turn of the arm about Z raises the hand
	test.That(t, b.SetJoint(lArm, spatialmath.NewRotation(spatialmath.QuatFromAxisAngle(r3.Vector{X: 0, Y: 0, Z: 1}, math.Pi/2))),
		test.ShouldBeNil)
	b.UpdateFK(lArm, RootIsLocal)
	test.That(t, b.WorldPosition(lHand).Sub(r3.Vector{X: 0.2, Y: 2.2, Z: 0}).Norm(), test.ShouldBeLessThan, 1e-12)

	// round trip of the cached transforms
	for _, id := range b.Order() {
		l2w := b.LocalToWorld(id)
		w2l := b.WorldToLocal(id)
		test.That(t, spatialmath.TransformAlmostEqual(spatialmath.Compose(l2w, w2l),
			spatialmath.NewIdentity(spatialmath.TranslationRotation), 1e-12), test.ShouldBeTrue)
		test.That(t, spatialmath.TransformAlmostEqual(
			spatialmath.Compose(b.ParentWorld(id), b.LocalToParent(id)), l2w, 1e-12), test.ShouldBeTrue)
	}

	// RootIsWorld places the head at its local transform
	b.UpdateFK(lArm, RootIsWorld)
	test.That(t, spatialmath.TransformAlmostEqual(b.LocalToWorld(lArm), b.LocalToParent(lArm), 1e-12), test.ShouldBeTrue)
}

func TestSetJointKind(t *testing.T) {
	b := buildHumanoidish(t)
	lArm := mustLookup(t, b, "lArm")
	err := b.SetJoint(lArm, spatialmath.NewRigid(r3.Vector{X: 1, Y: 0, Z: 0}, spatialmath.IdentityQuat()))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, spatialmath.TransformAlmostEqual(b.Joint(lArm), spatialmath.NewIdentity(spatialmath.RotationOnly), 0),
		test.ShouldBeTrue)
}

func TestGoals(t *testing.T) {
	b := buildHumanoidish(t)
	lHand := mustLookup(t, b, "lHand")
	_, ok := b.Goal(lHand)
	test.That(t, ok, test.ShouldBeFalse)

	g := spatialmath.NewRigid(r3.Vector{X: 1, Y: 1, Z: 1}, spatialmath.IdentityQuat())
	test.That(t, b.SetGoal(lHand, g), test.ShouldBeTrue)
	test.That(t, b.SetGoal(lHand, g), test.ShouldBeFalse)
	got, ok := b.Goal(lHand)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, g)
	test.That(t, b.ClearGoal(lHand), test.ShouldBeTrue)
	test.That(t, b.ClearGoal(lHand), test.ShouldBeFalse)
}

func TestBuilderErrors(t *testing.T) {
	b := NewBuilder()
	_, err := b.Freeze()
	test.That(t, err, test.ShouldEqual, ErrEmpty)

	a, err := b.AddNode(NodeSpec{Name: "a"})
	test.That(t, err, test.ShouldBeNil)
	_, err = b.AddNode(NodeSpec{Name: "a"})
	test.That(t, err, test.ShouldNotBeNil)
	c, err := b.AddNode(NodeSpec{Name: "c"})
	test.That(t, err, test.ShouldBeNil)

	_, err = b.Freeze()
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, b.Connect(a, c), test.ShouldBeNil)
	test.That(t, b.Connect(a, c), test.ShouldNotBeNil)
	test.That(t, b.Connect(c, a), test.ShouldNotBeNil)
	test.That(t, b.Connect(a, 42), test.ShouldNotBeNil)
	test.That(t, b.ConnectNames("a", "missing"), test.ShouldNotBeNil)

	_, err = b.AddNode(NodeSpec{Name: "bad", Rest: spatialmath.Transform{Scale: -1}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = b.Freeze()
	test.That(t, err, test.ShouldBeNil)
}

func TestThaw(t *testing.T) {
	b := buildHumanoidish(t)
	builder := b.Thaw()
	tail, err := builder.AddNode(NodeSpec{Name: "tail", JointKind: spatialmath.RotationOnly})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, builder.ConnectNames("hips", "tail"), test.ShouldBeNil)
	grown, err := builder.Freeze()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grown.Len(), test.ShouldEqual, b.Len()+1)
	test.That(t, b.Len(), test.ShouldEqual, 10)
	test.That(t, grown.Name(tail), test.ShouldEqual, "tail")
	test.That(t, names(grown, grown.Children(grown.Root())), test.ShouldResemble, []string{"spine", "leg", "tail"})
}

func TestCloneSubtree(t *testing.T) {
	b := buildHumanoidish(t)
	spine := mustLookup(t, b, "spine")
	chest := mustLookup(t, b, "chest")
	test.That(t, b.SetJoint(spine, spatialmath.NewRotation(spatialmath.QuatFromAxisAngle(r3.Vector{X: 1, Y: 0, Z: 0}, 0.3))),
		test.ShouldBeNil)
	b.UpdateAll()

	clone, err := b.CloneSubtree(chest)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clone.Len(), test.ShouldEqual, 6)
	test.That(t, names(clone, clone.Order()), test.ShouldResemble, names(b, b.KinematicList(chest)))
	test.That(t, clone.Source(clone.Root()), test.ShouldEqual, chest)

	clone.UpdateAll()
	for _, id := range clone.Order() {
		src := clone.Source(id)
		test.That(t, spatialmath.TransformAlmostEqual(clone.LocalToWorld(id), b.LocalToWorld(src), 1e-12), test.ShouldBeTrue)
	}

	// the clone is private
	cloneArm, ok := clone.Lookup("lArm")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, clone.SetJoint(cloneArm, spatialmath.NewRotation(spatialmath.QuatFromAxisAngle(r3.Vector{X: 0, Y: 1, Z: 0}, 1))),
		test.ShouldBeNil)
	test.That(t, spatialmath.TransformAlmostEqual(b.Joint(mustLookup(t, b, "lArm")),
		spatialmath.NewIdentity(spatialmath.RotationOnly), 0), test.ShouldBeTrue)
}

func TestArchive(t *testing.T) {
	b := buildHumanoidish(t)
	chest := mustLookup(t, b, "chest")
	lArm := mustLookup(t, b, "lArm")
	rArm := mustLookup(t, b, "rArm")

	before := b.Snapshot(chest)
	q := spatialmath.QuatFromAxisAngle(r3.Vector{X: 0, Y: 0, Z: 1}, 0.4)
	test.That(t, b.SetJoint(lArm, spatialmath.NewRotation(q)), test.ShouldBeNil)
	test.That(t, b.SetJoint(rArm, spatialmath.NewRotation(q)), test.ShouldBeNil)
	posed := b.Snapshot(chest)
	test.That(t, cmp.Diff(before, posed), test.ShouldNotBeEmpty)

	data, err := json.Marshal(posed)
	test.That(t, err, test.ShouldBeNil)
	var decoded Archive
	test.That(t, json.Unmarshal(data, &decoded), test.ShouldBeNil)
	test.That(t, cmp.Diff(posed, decoded), test.ShouldBeEmpty)

	test.That(t, b.Restore(chest, before), test.ShouldBeNil)
	test.That(t, cmp.Diff(before, b.Snapshot(chest)), test.ShouldBeEmpty)

	// merge only the left arm
	test.That(t, b.RestoreFiltered(chest, decoded, func(id NodeID) bool { return id == lArm }), test.ShouldBeNil)
	test.That(t, spatialmath.QuaternionAlmostEqual(b.Joint(lArm).Rotation, q, 1e-12), test.ShouldBeTrue)
	test.That(t, spatialmath.QuaternionAlmostEqual(b.Joint(rArm).Rotation, spatialmath.IdentityQuat(), 0), test.ShouldBeTrue)

	test.That(t, b.Restore(chest, decoded[:2]), test.ShouldNotBeNil)
	bad := append(Archive{}, decoded...)
	bad[1].Translation = [3]float64{1, 0, 0}
	test.That(t, b.Restore(chest, bad), test.ShouldNotBeNil)
	test.That(t, spatialmath.QuaternionAlmostEqual(b.Joint(rArm).Rotation, spatialmath.IdentityQuat(), 0), test.ShouldBeTrue)
}
