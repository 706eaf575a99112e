package body

import (
	"github.com/pkg/errors"

	"go.viam.com/articulated/spatialmath"
)

// Archive is a serialized pose: the joint transforms of a kinematic list, in pre-order.
type Archive []spatialmath.TransformRecord

// Snapshot records the joints of from and all its descendants.
func (b *Body) Snapshot(from NodeID) Archive {
	list := b.nodes[from].kinematic
	out := make(Archive, len(list))
	for i, id := range list {
		out[i] = b.nodes[id].joint.Record()
	}
	return out
}

// Restore writes an archive back onto the kinematic list of from. The archive must have been
// taken from a kinematic list of the same shape, on this body or on a clone of it.
func (b *Body) Restore(from NodeID, archive Archive) error {
	return b.RestoreFiltered(from, archive, nil)
}

// RestoreFiltered is Restore limited to the nodes keep accepts. A nil keep accepts every node.
// Nothing is written if any record is invalid.
func (b *Body) RestoreFiltered(from NodeID, archive Archive, keep func(NodeID) bool) error {
	if !b.Valid(from) {
		return NewNodeNotFoundError(from)
	}
	list := b.nodes[from].kinematic
	if len(list) != len(archive) {
		return NewArchiveLengthError(len(list), len(archive))
	}
	joints := make([]spatialmath.Transform, len(list))
	for i, id := range list {
		if keep != nil && !keep(id) {
			continue
		}
		t, err := spatialmath.FromRecord(b.nodes[id].jointKind, archive[i])
		if err != nil {
			return errors.Wrapf(err, "archive entry %d (%q)", i, b.nodes[id].name)
		}
		joints[i] = t
	}
	for i, id := range list {
		if keep != nil && !keep(id) {
			continue
		}
		b.nodes[id].joint = joints[i]
	}
	return nil
}
