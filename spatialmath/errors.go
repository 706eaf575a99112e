package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// NewScaleMismatchError is returned when a transform carries a scale its kind does not allow.
func NewScaleMismatchError(kind TransformKind, scale float64) error {
	return errors.Errorf("%s transform cannot carry scale %v", kind, scale)
}

// NewTranslationMismatchError is returned when a rotation only transform carries a translation.
func NewTranslationMismatchError(kind TransformKind, t r3.Vector) error {
	return errors.Errorf("%s transform cannot carry translation %v", kind, t)
}
