package body

import "github.com/pkg/errors"

var (
	// ErrEmpty is returned when freezing a builder without nodes.
	ErrEmpty = errors.New("body has no nodes")
	// ErrNoRoot is returned when no node is left without a parent.
	ErrNoRoot = errors.New("body has no root node")
)

// NewNodeNotFoundError is returned when a node id or name does not exist in the body.
func NewNodeNotFoundError(ref interface{}) error {
	return errors.Errorf("node %v not found", ref)
}

// NewDuplicateNameError is returned when two nodes are given the same name.
func NewDuplicateNameError(name string) error {
	return errors.Errorf("node name %q already in use", name)
}

// NewAlreadyConnectedError is returned when connecting a child that already has a parent.
func NewAlreadyConnectedError(child string) error {
	return errors.Errorf("node %q already has a parent", child)
}

// NewCycleError is returned when a connection would make a node its own ancestor.
func NewCycleError(parent, child string) error {
	return errors.Errorf("connecting %q under %q would create a cycle", child, parent)
}

// NewMultipleRootsError is returned when more than one node has no parent at freeze time.
func NewMultipleRootsError(first, second string) error {
	return errors.Errorf("body has more than one root: %q and %q", first, second)
}

// NewArchiveLengthError is returned when an archive does not match the kinematic list it is restored onto.
func NewArchiveLengthError(want, got int) error {
	return errors.Errorf("archive holds %d transforms, kinematic list has %d nodes", got, want)
}

// NewJointKindError wraps a joint transform that does not fit the node's joint kind.
func NewJointKindError(name string, err error) error {
	return errors.Wrapf(err, "invalid joint transform for node %q", name)
}
