// Package retarget transfers the pose of one articulated body onto another, either by copying
// world rotations directly into the destination's joints or by turning source transforms into
// destination goals for the IK engine.
package retarget

import (
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/body"
	"go.viam.com/articulated/ik"
	"go.viam.com/articulated/logging"
	"go.viam.com/articulated/spatialmath"
)

// Binding maps a source node onto a destination node. Offset is applied on the source side of the
// world rotation, so it expresses the destination bone's rest orientation relative to the source
// bone's. The zero Offset is the identity.
type Binding struct {
	Source string                `json:"source"`
	Dest   string                `json:"dest"`
	Offset spatialmath.Transform `json:"offset"`
}

// ClampFunc clamps a joint space rotation of a destination node.
type ClampFunc func(dest body.NodeID, joint quat.Number) quat.Number

// pair is a resolved binding.
type pair struct {
	src, dst body.NodeID
	offset   quat.Number
}

// Retargeter syncs a destination body from a source body through a fixed set of bindings.
type Retargeter struct {
	src, dst *body.Body
	logger   logging.Logger
	pairs    []pair
	clamp    ClampFunc
}

// NewRetargeter resolves bindings against both bodies. Every unknown name and every destination
// bound twice is reported in the returned error.
func NewRetargeter(src, dst *body.Body, bindings []Binding, logger logging.Logger) (*Retargeter, error) {
	var err error
	bound := map[body.NodeID]string{}
	pairs := make([]pair, 0, len(bindings))
	for _, bnd := range bindings {
		s, ok := src.Lookup(bnd.Source)
		if !ok {
			err = multierr.Append(err, errors.Wrap(body.NewNodeNotFoundError(bnd.Source), "source"))
		}
		d, dok := dst.Lookup(bnd.Dest)
		if !dok {
			err = multierr.Append(err, errors.Wrap(body.NewNodeNotFoundError(bnd.Dest), "destination"))
		}
		if !ok || !dok {
			continue
		}
		if prev, dup := bound[d]; dup {
			err = multierr.Append(err, errors.Errorf("destination %q bound to both %q and %q", bnd.Dest, prev, bnd.Source))
			continue
		}
		bound[d] = bnd.Source
		offset := bnd.Offset.Rotation
		if offset == (quat.Number{}) {
			offset = spatialmath.IdentityQuat()
		}
		pairs = append(pairs, pair{src: s, dst: d, offset: spatialmath.Normalize(offset)})
	}
	if err != nil {
		return nil, err
	}

	// parents are synced before their children
	rank := make(map[body.NodeID]int, dst.Len())
	for i, id := range dst.Order() {
		rank[id] = i
	}
	sort.SliceStable(pairs, func(i, j int) bool { return rank[pairs[i].dst] < rank[pairs[j].dst] })
	logger.Debugw("retargeter ready", "bindings", len(pairs))
	return &Retargeter{src: src, dst: dst, logger: logger, pairs: pairs}, nil
}

// SetClamp installs the clamp applied to every synced joint. A nil clamp disables clamping.
func (r *Retargeter) SetClamp(clamp ClampFunc) {
	r.clamp = clamp
}

// Len returns the number of bindings.
func (r *Retargeter) Len() int {
	return len(r.pairs)
}

// SyncRotations writes each bound destination joint so the destination node takes the world
// rotation of its source node, composed with the binding offset. The source caches must be
// current; the destination caches are current when SyncRotations returns.
func (r *Retargeter) SyncRotations() {
	for _, p := range r.pairs {
		target := quat.Mul(r.src.LocalToWorld(p.src).Rotation, p.offset)
		frame := spatialmath.Compose(r.dst.ParentWorld(p.dst), r.dst.Rest(p.dst))
		joint := spatialmath.Normalize(quat.Mul(quat.Conj(frame.Rotation), target))
		if r.clamp != nil {
			joint = r.clamp(p.dst, joint)
		}
		r.dst.SetJointRotation(p.dst, joint)
		r.dst.UpdateFK(p.dst, body.RootIsLocal)
	}
}

// UpdateGoals sets the goal of every bound destination node from the world transform of its
// source node, with the position scaled by scale. It returns how many goals changed.
func (r *Retargeter) UpdateGoals(scale float64) int {
	changed := 0
	for _, p := range r.pairs {
		w := r.src.LocalToWorld(p.src)
		goal := spatialmath.NewRigid(w.Translation.Mul(scale), quat.Mul(w.Rotation, p.offset))
		if r.dst.SetGoal(p.dst, goal) {
			changed++
		}
	}
	return changed
}

// HeightRatio returns the destination to source ratio of the world heights (Y) of a bound pair,
// named by its destination node. It is the usual scale for UpdateGoals, taken at rest.
func (r *Retargeter) HeightRatio(dest string) (float64, error) {
	d, ok := r.dst.Lookup(dest)
	if !ok {
		return 0, body.NewNodeNotFoundError(dest)
	}
	for _, p := range r.pairs {
		if p.dst != d {
			continue
		}
		h := r.src.WorldPosition(p.src).Y
		if h < spatialmath.Epsilon && h > -spatialmath.Epsilon {
			return 0, errors.Errorf("source of %q sits at zero height", dest)
		}
		return r.dst.WorldPosition(d).Y / h, nil
	}
	return 0, errors.Errorf("%q is not bound", dest)
}

// ChainClamp returns a clamp that applies the joint limits of the chain segment starting at each
// node. Nodes outside every chain pass through unchanged.
func ChainClamp(chains ...*ik.Chain) ClampFunc {
	segs := map[body.NodeID]*ik.Segment{}
	for _, c := range chains {
		for _, s := range c.Segments() {
			segs[s.Start()] = s
		}
	}
	return func(dest body.NodeID, joint quat.Number) quat.Number {
		if s, ok := segs[dest]; ok {
			return s.ClampJoint(joint)
		}
		return joint
	}
}
