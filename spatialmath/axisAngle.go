package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// See here for a thorough explanation: https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
// An orientation can be expressed by an axis, i.e. a line from the origin to a point on the unit
// sphere (rx, ry, rz), and a rotation around that axis, theta. These four numbers can be used as-is
// (R4), or converted to R3, where theta multiplies the axis to give a vector whose length is theta.

// R4AA represents an R4 axis angle.
type R4AA struct {
	Theta float64 `json:"th" yaml:"th" mapstructure:"th"`
	RX    float64 `json:"x" yaml:"x" mapstructure:"x"`
	RY    float64 `json:"y" yaml:"y" mapstructure:"y"`
	RZ    float64 `json:"z" yaml:"z" mapstructure:"z"`
}

// NewR4AA creates an identity R4AA about Z.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// ToR3 converts an R4 angle axis to R3.
func (r4 *R4AA) ToR3() r3.Vector {
	r := *r4
	r.Normalize()
	return r3.Vector{X: r.RX * r.Theta, Y: r.RY * r.Theta, Z: r.RZ * r.Theta}
}

// ToQuat converts an R4 axis angle to a unit quaternion. A zero axis is treated as no rotation.
func (r4 *R4AA) ToQuat() quat.Number {
	if r4.RX == 0 && r4.RY == 0 && r4.RZ == 0 {
		return IdentityQuat()
	}
	return QuatFromAxisAngle(r3.Vector{X: r4.RX, Y: r4.RY, Z: r4.RZ}, r4.Theta)
}

// Normalize scales the x, y, and z components of a R4 axis angle to be on the unit sphere.
// A zero axis is left untouched.
func (r4 *R4AA) Normalize() {
	norm := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	if norm == 0.0 {
		return
	}
	r4.RX /= norm
	r4.RY /= norm
	r4.RZ /= norm
}

// R3ToR4 converts an R3 angle axis to R4.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta == 0 {
		return NewR4AA()
	}
	return &R4AA{theta, aa.X / theta, aa.Y / theta, aa.Z / theta}
}

// QuatToR4AA converts a quat to an R4 axis angle in the same way the C++ Eigen library does.
// https://eigen.tuxfamily.org/dox/AngleAxis_8h_source.html
func QuatToR4AA(q quat.Number) R4AA {
	denom := Norm(quat.Number{Imag: q.Imag, Jmag: q.Jmag, Kmag: q.Kmag})

	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}

	if denom < 1e-6 {
		return R4AA{Theta: angle, RX: 0, RY: 0, RZ: 1}
	}
	return R4AA{angle, q.Imag / denom, q.Jmag / denom, q.Kmag / denom}
}
