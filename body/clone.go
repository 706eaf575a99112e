package body

// CloneSubtree returns a private body holding a copy of root and all its descendants: rest
// transforms, joints, goals and caches. The clone's base is the current world transform of
// root's parent, so forward kinematics on the clone reproduces the primary's world transforms.
// Node names are preserved and Source maps clone ids back to this body.
func (b *Body) CloneSubtree(root NodeID) (*Body, error) {
	if !b.Valid(root) {
		return nil, NewNodeNotFoundError(root)
	}
	list := b.nodes[root].kinematic
	remap := make(map[NodeID]NodeID, len(list))
	for i, id := range list {
		remap[id] = NodeID(i)
	}
	mapped := func(id NodeID) NodeID {
		if id == NoNode {
			return NoNode
		}
		if to, ok := remap[id]; ok {
			return to
		}
		return NoNode
	}

	clone := &Body{
		nodes:  make([]node, len(list)),
		byName: make(map[string]NodeID, len(list)),
		root:   0,
		base:   b.ParentWorld(root),
	}
	for i, id := range list {
		n := b.nodes[id]
		n.parent = mapped(n.parent)
		n.firstChild = mapped(n.firstChild)
		n.lastChild = mapped(n.lastChild)
		n.nextSibling = mapped(n.nextSibling)
		if id == root {
			n.parent = NoNode
			n.nextSibling = NoNode
		}
		n.kinematic = nil
		n.source = id
		clone.nodes[i] = n
		clone.byName[n.name] = NodeID(i)
	}
	clone.index()
	return clone, nil
}
