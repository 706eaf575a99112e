package spatialmath

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// TransformKind tags which components a Transform may carry.
type TransformKind int

const (
	// RotationOnly transforms carry a rotation; translation is zero and scale is one.
	RotationOnly TransformKind = iota
	// TranslationRotation transforms are rigid; scale is one.
	TranslationRotation
	// TranslationRotationScale transforms are similarities with a uniform scale.
	TranslationRotationScale
)

func (k TransformKind) String() string {
	switch k {
	case RotationOnly:
		return "rotation"
	case TranslationRotation:
		return "translation_rotation"
	case TranslationRotationScale:
		return "translation_rotation_scale"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseTransformKind is the inverse of TransformKind.String.
func ParseTransformKind(s string) (TransformKind, error) {
	switch s {
	case "rotation":
		return RotationOnly, nil
	case "translation_rotation", "":
		return TranslationRotation, nil
	case "translation_rotation_scale":
		return TranslationRotationScale, nil
	default:
		return 0, errors.Errorf("unknown transform kind %q", s)
	}
}

// Valid reports whether k is one of the declared kinds.
func (k TransformKind) Valid() bool {
	return k >= RotationOnly && k <= TranslationRotationScale
}

func widerKind(a, b TransformKind) TransformKind {
	if a > b {
		return a
	}
	return b
}

// Transform is a rotation, optionally preceded by a uniform scale and followed by a translation:
// x -> Translation + Scale * Rotation(x).
type Transform struct {
	Kind        TransformKind
	Rotation    quat.Number
	Translation r3.Vector
	Scale       float64
}

// NewIdentity returns the identity transform of the given kind.
func NewIdentity(kind TransformKind) Transform {
	return Transform{Kind: kind, Rotation: IdentityQuat(), Scale: 1}
}

// NewRotation returns a rotation only transform.
func NewRotation(q quat.Number) Transform {
	return Transform{Kind: RotationOnly, Rotation: Normalize(q), Scale: 1}
}

// NewRigid returns a translation + rotation transform.
func NewRigid(t r3.Vector, q quat.Number) Transform {
	return Transform{Kind: TranslationRotation, Rotation: Normalize(q), Translation: t, Scale: 1}
}

// NewSimilarity returns a translation + rotation + uniform scale transform.
func NewSimilarity(t r3.Vector, q quat.Number, s float64) (Transform, error) {
	if !(s > 0) || math.IsInf(s, 0) {
		return Transform{}, errors.Errorf("similarity scale must be positive and finite, got %v", s)
	}
	return Transform{Kind: TranslationRotationScale, Rotation: Normalize(q), Translation: t, Scale: s}, nil
}

// Validate checks that the transform only carries the components its kind allows.
func (t Transform) Validate() error {
	switch t.Kind {
	case RotationOnly:
		if t.Translation != (r3.Vector{}) {
			return NewTranslationMismatchError(t.Kind, t.Translation)
		}
		if t.Scale != 1 {
			return NewScaleMismatchError(t.Kind, t.Scale)
		}
	case TranslationRotation:
		if t.Scale != 1 {
			return NewScaleMismatchError(t.Kind, t.Scale)
		}
	case TranslationRotationScale:
		if !(t.Scale > 0) {
			return NewScaleMismatchError(t.Kind, t.Scale)
		}
	default:
		return errors.Errorf("invalid transform kind %d", int(t.Kind))
	}
	return nil
}

// Compose returns a∘b: the transform applying b first and then a. The result kind is the wider
// of the two kinds.
func Compose(a, b Transform) Transform {
	return Transform{
		Kind:        widerKind(a.Kind, b.Kind),
		Rotation:    quat.Mul(a.Rotation, b.Rotation),
		Translation: RotateVector(a.Rotation, b.Translation).Mul(a.Scale).Add(a.Translation),
		Scale:       a.Scale * b.Scale,
	}
}

// Invert returns the inverse transform.
func (t Transform) Invert() Transform {
	inv := quat.Conj(t.Rotation)
	s := 1 / t.Scale
	return Transform{
		Kind:        t.Kind,
		Rotation:    inv,
		Translation: RotateVector(inv, t.Translation).Mul(-s),
		Scale:       s,
	}
}

// Apply maps a point through the transform.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return RotateVector(t.Rotation, p).Mul(t.Scale).Add(t.Translation)
}

// ApplyRotation maps a direction through the rotation part only.
func (t Transform) ApplyRotation(v r3.Vector) r3.Vector {
	return RotateVector(t.Rotation, v)
}

// WithRotation returns a copy of t with its rotation replaced.
func (t Transform) WithRotation(q quat.Number) Transform {
	t.Rotation = q
	return t
}

// WithTranslation returns a copy of t with its translation replaced.
func (t Transform) WithTranslation(v r3.Vector) Transform {
	t.Translation = v
	return t
}

// Normalized returns t with a unit rotation.
func (t Transform) Normalized() Transform {
	t.Rotation = Normalize(t.Rotation)
	return t
}

// TransformAlmostEqual compares two transforms component-wise, ignoring their kind tags.
func TransformAlmostEqual(a, b Transform, tol float64) bool {
	return QuaternionAlmostEqual(a.Rotation, b.Rotation, tol) &&
		a.Translation.Sub(b.Translation).Norm() <= tol &&
		math.Abs(a.Scale-b.Scale) <= tol
}

// Matrix returns the column-major homogeneous matrix of the transform.
func (t Transform) Matrix() mgl64.Mat4 {
	q := Normalize(t.Rotation)
	rot := mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}.Mat4()
	trans := mgl64.Translate3D(t.Translation.X, t.Translation.Y, t.Translation.Z)
	scale := mgl64.Scale3D(t.Scale, t.Scale, t.Scale)
	return trans.Mul4(rot).Mul4(scale)
}

// DualQuaternion returns the rigid part of the transform as a unit dual quaternion.
func (t Transform) DualQuaternion() dualquat.Number {
	tr := quat.Number{Imag: t.Translation.X, Jmag: t.Translation.Y, Kmag: t.Translation.Z}
	return dualquat.Number{
		Real: t.Rotation,
		Dual: quat.Scale(0.5, quat.Mul(tr, t.Rotation)),
	}
}

// NewRigidFromDualQuaternion is the inverse of Transform.DualQuaternion.
func NewRigidFromDualQuaternion(dq dualquat.Number) Transform {
	tr := quat.Scale(2, quat.Mul(dq.Dual, quat.Conj(dq.Real)))
	return NewRigid(r3.Vector{X: tr.Imag, Y: tr.Jmag, Z: tr.Kmag}, dq.Real)
}

func (t Transform) String() string {
	return fmt.Sprintf("%s{R:(%.4f %.4f %.4f %.4f) T:(%.4f %.4f %.4f) S:%.4f}",
		t.Kind, t.Rotation.Real, t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag,
		t.Translation.X, t.Translation.Y, t.Translation.Z, t.Scale)
}
