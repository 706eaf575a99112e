package body

import "go.viam.com/articulated/spatialmath"

// UpdateFK recomputes the cached transforms of id and all its descendants in one pass over its
// kinematic list. Parents precede children in the list, so every node reads an already updated
// parent world transform.
func (b *Body) UpdateFK(id NodeID, mode SpaceMode) {
	list := b.nodes[id].kinematic
	for i, cur := range list {
		n := &b.nodes[cur]
		n.local2parent = spatialmath.Compose(n.rest, n.joint)
		n.parent2local = n.local2parent.Invert()

		switch {
		case i == 0 && mode == RootIsWorld:
			n.local2world = n.local2parent
		case n.parent == NoNode:
			n.local2world = spatialmath.Compose(b.base, n.local2parent)
		default:
			n.local2world = spatialmath.Compose(b.nodes[n.parent].local2world, n.local2parent)
		}
		n.world2local = n.local2world.Invert()
	}
}

// UpdateAll runs forward kinematics over the whole body.
func (b *Body) UpdateAll() {
	b.UpdateFK(b.root, RootIsLocal)
}
