// Package body implements an articulated body: a tree of named nodes, each with a rest transform,
// a joint transform applied on top of it, and cached local/world transforms kept current by
// forward kinematics.
//
// Nodes live in an arena and are addressed by NodeID. Parents are plain indices and children are
// a first-child/next-sibling list, so the tree holds no pointers and can be cloned by copying.
package body

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/spatialmath"
)

// NodeID addresses a node inside one Body.
type NodeID int

// NoNode is the id of the absent node: the parent of the root, the end of a sibling list.
const NoNode NodeID = -1

// RigKind tags whether a node belongs to an animated (source) or simulated (driven) rig.
type RigKind int

const (
	// AnimatedRig nodes are posed from animation data.
	AnimatedRig RigKind = iota
	// SimulatedRig nodes are posed by the solver.
	SimulatedRig
)

func (r RigKind) String() string {
	switch r {
	case AnimatedRig:
		return "animated"
	case SimulatedRig:
		return "simulated"
	default:
		return "unknown"
	}
}

// SpaceMode selects how the head of a kinematic list is placed during forward kinematics.
type SpaceMode int

const (
	// RootIsLocal composes the head's local transform with its parent's world transform.
	RootIsLocal SpaceMode = iota
	// RootIsWorld treats the head's local transform as its world transform.
	RootIsWorld
)

type node struct {
	name      string
	wide      []uint16
	rig       RigKind
	jointKind spatialmath.TransformKind

	parent      NodeID
	firstChild  NodeID
	lastChild   NodeID
	nextSibling NodeID
	depth       int

	rest    spatialmath.Transform
	restInv spatialmath.Transform
	joint   spatialmath.Transform

	local2parent spatialmath.Transform
	parent2local spatialmath.Transform
	local2world  spatialmath.Transform
	world2local  spatialmath.Transform

	goal    spatialmath.Transform
	hasGoal bool

	// pre-order list of this node and all its descendants
	kinematic []NodeID
	// id of the node this one was cloned from, NoNode in a primary body
	source NodeID
}

func (n *node) resetCaches() {
	n.local2parent = spatialmath.Compose(n.rest, n.joint)
	n.parent2local = n.local2parent.Invert()
	n.local2world = n.local2parent
	n.world2local = n.parent2local
	n.source = NoNode
}

// Body is an articulated tree whose shape is fixed. Poses (joints), goals and caches are mutable;
// adding or removing nodes goes through Thaw and a new Freeze.
//
// A Body is not safe for concurrent mutation. Solving in parallel is done on private clones.
type Body struct {
	nodes  []node
	byName map[string]NodeID
	root   NodeID
	order  []NodeID
	base   spatialmath.Transform
}

// index computes depths, the pre-order and every node's kinematic list.
func (b *Body) index() {
	b.order = b.order[:0]
	var visit func(id NodeID, depth int)
	visit = func(id NodeID, depth int) {
		b.nodes[id].depth = depth
		b.order = append(b.order, id)
		for c := b.nodes[id].firstChild; c != NoNode; c = b.nodes[c].nextSibling {
			visit(c, depth+1)
		}
	}
	visit(b.root, 0)

	// the kinematic list of a node is the contiguous run of the pre-order starting at it
	pos := make([]int, len(b.nodes))
	for i, id := range b.order {
		pos[id] = i
	}
	for i := len(b.order) - 1; i >= 0; i-- {
		id := b.order[i]
		end := i + 1
		for c := b.nodes[id].firstChild; c != NoNode; c = b.nodes[c].nextSibling {
			if e := pos[c] + len(b.nodes[c].kinematic); e > end {
				end = e
			}
		}
		b.nodes[id].kinematic = b.order[i:end:end]
	}
}

// Thaw returns a builder holding a copy of the body's nodes, rest transforms and joints, for
// structural edits. The body itself is not modified.
func (b *Body) Thaw() *Builder {
	nb := &Builder{byName: make(map[string]NodeID, len(b.byName)), base: b.base}
	nb.nodes = make([]node, len(b.nodes))
	copy(nb.nodes, b.nodes)
	for i := range nb.nodes {
		nb.nodes[i].kinematic = nil
	}
	for k, v := range b.byName {
		nb.byName[k] = v
	}
	return nb
}

// Len returns the number of nodes.
func (b *Body) Len() int {
	return len(b.nodes)
}

// Root returns the root node.
func (b *Body) Root() NodeID {
	return b.root
}

// Valid reports whether id addresses a node of this body.
func (b *Body) Valid(id NodeID) bool {
	return id >= 0 && int(id) < len(b.nodes)
}

// Lookup returns the id of the named node.
func (b *Body) Lookup(name string) (NodeID, bool) {
	id, ok := b.byName[name]
	return id, ok
}

// Name returns the UTF-8 name of a node.
func (b *Body) Name(id NodeID) string {
	return b.nodes[id].name
}

// WideName returns the UTF-16 name of a node, as handed to hosts that use wide strings.
func (b *Body) WideName(id NodeID) []uint16 {
	return b.nodes[id].wide
}

// Rig returns the rig tag of a node.
func (b *Body) Rig(id NodeID) RigKind {
	return b.nodes[id].rig
}

// JointKind returns the kind of joint transform a node accepts.
func (b *Body) JointKind(id NodeID) spatialmath.TransformKind {
	return b.nodes[id].jointKind
}

// Parent returns the parent of a node, NoNode for the root.
func (b *Body) Parent(id NodeID) NodeID {
	return b.nodes[id].parent
}

// Children returns the children of a node in connection order.
func (b *Body) Children(id NodeID) []NodeID {
	var out []NodeID
	for c := b.nodes[id].firstChild; c != NoNode; c = b.nodes[c].nextSibling {
		out = append(out, c)
	}
	return out
}

// Depth returns the number of edges between a node and the root.
func (b *Body) Depth(id NodeID) int {
	return b.nodes[id].depth
}

// IsAncestor reports whether a is a strict ancestor of d.
func (b *Body) IsAncestor(a, d NodeID) bool {
	for at := b.nodes[d].parent; at != NoNode; at = b.nodes[at].parent {
		if at == a {
			return true
		}
	}
	return false
}

// KinematicList returns the pre-order list of id and all its descendants. The slice is owned
// by the body and must not be modified.
func (b *Body) KinematicList(id NodeID) []NodeID {
	return b.nodes[id].kinematic
}

// Order returns the pre-order of the whole body.
func (b *Body) Order() []NodeID {
	return b.order
}

// Source returns the node of the primary body that id was cloned from, or NoNode.
func (b *Body) Source(id NodeID) NodeID {
	return b.nodes[id].source
}

// Base returns the world transform the root is attached to.
func (b *Body) Base() spatialmath.Transform {
	return b.base
}

// SetBase sets the world transform the root is attached to. Caches update on the next UpdateFK.
func (b *Body) SetBase(base spatialmath.Transform) {
	b.base = base
}

// Rest returns the rest local-to-parent transform of a node.
func (b *Body) Rest(id NodeID) spatialmath.Transform {
	return b.nodes[id].rest
}

// RestInverse returns the inverse of the rest transform.
func (b *Body) RestInverse(id NodeID) spatialmath.Transform {
	return b.nodes[id].restInv
}

// Joint returns the joint transform applied on top of the rest transform.
func (b *Body) Joint(id NodeID) spatialmath.Transform {
	return b.nodes[id].joint
}

// SetJoint replaces the joint transform of a node. The transform must fit the node's joint kind.
func (b *Body) SetJoint(id NodeID, joint spatialmath.Transform) error {
	n := &b.nodes[id]
	joint.Kind = n.jointKind
	if err := joint.Validate(); err != nil {
		return NewJointKindError(n.name, err)
	}
	n.joint = joint
	return nil
}

// SetJointRotation replaces only the rotation of a node's joint.
func (b *Body) SetJointRotation(id NodeID, q quat.Number) {
	b.nodes[id].joint.Rotation = q
}

// ResetJoints sets every joint to identity.
func (b *Body) ResetJoints() {
	for i := range b.nodes {
		b.nodes[i].joint = spatialmath.NewIdentity(b.nodes[i].jointKind)
	}
}

// LocalToParent returns the cached local-to-parent transform.
func (b *Body) LocalToParent(id NodeID) spatialmath.Transform {
	return b.nodes[id].local2parent
}

// ParentToLocal returns the cached parent-to-local transform.
func (b *Body) ParentToLocal(id NodeID) spatialmath.Transform {
	return b.nodes[id].parent2local
}

// LocalToWorld returns the cached local-to-world transform.
func (b *Body) LocalToWorld(id NodeID) spatialmath.Transform {
	return b.nodes[id].local2world
}

// WorldToLocal returns the cached world-to-local transform.
func (b *Body) WorldToLocal(id NodeID) spatialmath.Transform {
	return b.nodes[id].world2local
}

// ParentWorld returns the world transform of a node's parent, or the body base for the root.
func (b *Body) ParentWorld(id NodeID) spatialmath.Transform {
	if p := b.nodes[id].parent; p != NoNode {
		return b.nodes[p].local2world
	}
	return b.base
}

// WorldPosition returns the world space origin of a node.
func (b *Body) WorldPosition(id NodeID) r3.Vector {
	return b.nodes[id].local2world.Translation
}

// Goal returns the goal transform of a node, if one is set.
func (b *Body) Goal(id NodeID) (spatialmath.Transform, bool) {
	n := &b.nodes[id]
	return n.goal, n.hasGoal
}

// GoalEpsilon is the tolerance under which a new goal is considered equal to the current one.
const GoalEpsilon = 1e-9

// SetGoal sets the world space goal of a node and reports whether it changed.
func (b *Body) SetGoal(id NodeID, goal spatialmath.Transform) bool {
	n := &b.nodes[id]
	if n.hasGoal && spatialmath.TransformAlmostEqual(n.goal, goal, GoalEpsilon) {
		return false
	}
	n.goal = goal
	n.hasGoal = true
	return true
}

// ClearGoal removes the goal of a node and reports whether one was set.
func (b *Body) ClearGoal(id NodeID) bool {
	n := &b.nodes[id]
	had := n.hasGoal
	n.hasGoal = false
	n.goal = spatialmath.Transform{}
	return had
}
