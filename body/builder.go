package body

import (
	"unicode/utf16"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/spatialmath"
)

// NodeSpec describes a node at construction time. Its tags cannot change afterwards.
type NodeSpec struct {
	Name string
	Rig  RigKind
	// JointKind restricts the joint (delta) transform applied on top of the rest transform.
	JointKind spatialmath.TransformKind
	// Rest is the node's local-to-parent transform with an identity joint.
	Rest spatialmath.Transform
}

// Builder is the mutable construction phase of a Body. Only a Builder can change the shape of
// the tree; Freeze produces the immutable-shape Body used for kinematics.
type Builder struct {
	nodes  []node
	byName map[string]NodeID
	base   spatialmath.Transform
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		byName: map[string]NodeID{},
		base:   spatialmath.NewIdentity(spatialmath.TranslationRotationScale),
	}
}

// AddNode adds an unconnected node and returns its id.
func (b *Builder) AddNode(spec NodeSpec) (NodeID, error) {
	if spec.Name == "" {
		return NoNode, errors.New("node name cannot be empty")
	}
	if _, ok := b.byName[spec.Name]; ok {
		return NoNode, NewDuplicateNameError(spec.Name)
	}
	if !spec.JointKind.Valid() {
		return NoNode, errors.Errorf("node %q has invalid joint kind %d", spec.Name, spec.JointKind)
	}
	rest := spec.Rest
	if rest.Scale == 0 {
		rest.Scale = 1
	}
	if rest.Rotation == (quat.Number{}) {
		rest.Rotation = spatialmath.IdentityQuat()
	}
	rest.Kind = spatialmath.TranslationRotation
	if rest.Scale != 1 {
		rest.Kind = spatialmath.TranslationRotationScale
	}
	if err := rest.Validate(); err != nil {
		return NoNode, errors.Wrapf(err, "rest transform of node %q", spec.Name)
	}
	rest = rest.Normalized()

	id := NodeID(len(b.nodes))
	n := node{
		name:        spec.Name,
		wide:        utf16.Encode([]rune(spec.Name)),
		rig:         spec.Rig,
		jointKind:   spec.JointKind,
		parent:      NoNode,
		firstChild:  NoNode,
		lastChild:   NoNode,
		nextSibling: NoNode,
		rest:        rest,
		restInv:     rest.Invert(),
		joint:       spatialmath.NewIdentity(spec.JointKind),
	}
	n.resetCaches()
	b.nodes = append(b.nodes, n)
	b.byName[spec.Name] = id
	return id, nil
}

// Connect makes child a child of parent. Children keep the order in which they were connected.
func (b *Builder) Connect(parent, child NodeID) error {
	if !b.valid(parent) {
		return NewNodeNotFoundError(parent)
	}
	if !b.valid(child) {
		return NewNodeNotFoundError(child)
	}
	c := &b.nodes[child]
	if c.parent != NoNode {
		return NewAlreadyConnectedError(c.name)
	}
	for at := parent; at != NoNode; at = b.nodes[at].parent {
		if at == child {
			return NewCycleError(b.nodes[parent].name, c.name)
		}
	}
	c.parent = parent
	p := &b.nodes[parent]
	if p.lastChild == NoNode {
		p.firstChild = child
	} else {
		b.nodes[p.lastChild].nextSibling = child
	}
	p.lastChild = child
	return nil
}

// ConnectNames is Connect by node name.
func (b *Builder) ConnectNames(parent, child string) error {
	p, ok := b.byName[parent]
	if !ok {
		return NewNodeNotFoundError(parent)
	}
	c, ok := b.byName[child]
	if !ok {
		return NewNodeNotFoundError(child)
	}
	return b.Connect(p, c)
}

// Lookup returns the id of the named node.
func (b *Builder) Lookup(name string) (NodeID, bool) {
	id, ok := b.byName[name]
	return id, ok
}

// SetBase sets the world transform the root node is attached to.
func (b *Builder) SetBase(base spatialmath.Transform) {
	b.base = base
}

func (b *Builder) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(b.nodes)
}

// Freeze validates the tree, computes the kinematic lists and returns the Body. The builder may
// keep being used afterwards; the returned Body does not share state with it.
func (b *Builder) Freeze() (*Body, error) {
	if len(b.nodes) == 0 {
		return nil, ErrEmpty
	}
	root := NoNode
	for i := range b.nodes {
		if b.nodes[i].parent != NoNode {
			continue
		}
		if root != NoNode {
			return nil, NewMultipleRootsError(b.nodes[root].name, b.nodes[i].name)
		}
		root = NodeID(i)
	}
	if root == NoNode {
		return nil, ErrNoRoot
	}

	nodes := make([]node, len(b.nodes))
	copy(nodes, b.nodes)
	byName := make(map[string]NodeID, len(b.byName))
	for k, v := range b.byName {
		byName[k] = v
	}
	body := &Body{nodes: nodes, byName: byName, root: root, base: b.base}
	body.index()
	return body, nil
}
