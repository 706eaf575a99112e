package ik

import "github.com/pkg/errors"

var (
	// ErrDegenerate is returned when the Jacobian cannot be factored.
	ErrDegenerate = errors.New("jacobian factorization did not converge")
	// ErrNonFinite is returned when a solve step produces NaN or infinite values.
	ErrNonFinite = errors.New("non-finite values in solve step")
)

// NewChainTooLongError is returned when a chain asks for more segments than the effector has ancestors.
func NewChainTooLongError(chain, effector string, length, ancestors int) error {
	return errors.Errorf("chain %q: effector %q has %d ancestors, %d segments requested", chain, effector, ancestors, length)
}

// NewNoDOFError is returned when every joint of a chain is fixed.
func NewNoDOFError(chain string) error {
	return errors.Errorf("chain %q has no degrees of freedom", chain)
}

// NewUnknownJointError is returned when a joint setting names a node that is not part of the chain.
func NewUnknownJointError(chain, joint string) error {
	return errors.Errorf("chain %q: joint %q is not a segment of the chain", chain, joint)
}

// NewEffectorNotFoundError is returned when the end effector node does not exist.
func NewEffectorNotFoundError(chain, effector string) error {
	return errors.Errorf("chain %q: end effector %q not found", chain, effector)
}

// NewDuplicateChainError is returned when adding a chain whose name is taken.
func NewDuplicateChainError(chain string) error {
	return errors.Errorf("chain %q already exists", chain)
}
