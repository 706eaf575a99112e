// Package spatialmath defines the transform variants and rotation helpers used by the skeleton and
// the IK solver. Rotations are unit quaternions (gonum quat.Number), translations are r3 vectors.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

const (
	radToDeg = 180 / math.Pi
	degToRad = math.Pi / 180
)

// Epsilon is the default tolerance used when comparing rotations and translations.
const Epsilon = 1e-9

// smallAngle is the rotation angle below which the exp/log maps switch to their first order forms.
const smallAngle = 1e-8

// IdentityQuat returns the identity rotation.
func IdentityQuat() quat.Number {
	return quat.Number{Real: 1}
}

// Norm returns the norm of a quaternion.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize returns q scaled to unit length. The zero quaternion normalizes to identity.
func Normalize(q quat.Number) quat.Number {
	n := Norm(q)
	if n == 0 {
		return IdentityQuat()
	}
	return quat.Scale(1/n, q)
}

// Flip will multiply a quaternion by -1, returning a quaternion representing the same orientation but in the opposing octant.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// Dot returns the 4D dot product of two quaternions.
func Dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// QuaternionAlmostEqual is an equality test for two quaternions that accounts for q and -q
// representing the same rotation.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	if Dot(a, b) < 0 {
		b = Flip(b)
	}
	return math.Abs(a.Real-b.Real) <= tol &&
		math.Abs(a.Imag-b.Imag) <= tol &&
		math.Abs(a.Jmag-b.Jmag) <= tol &&
		math.Abs(a.Kmag-b.Kmag) <= tol
}

// RotateVector applies the rotation q to v.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	// v' = v + w*t + u x t, with t = 2 u x v
	u := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	t := u.Cross(v).Mul(2)
	return v.Add(t.Mul(q.Real)).Add(u.Cross(t))
}

// QuatFromAxisAngle returns the rotation of theta radians about axis. A zero axis yields identity.
func QuatFromAxisAngle(axis r3.Vector, theta float64) quat.Number {
	n := axis.Norm()
	if n == 0 {
		return IdentityQuat()
	}
	axis = axis.Mul(1 / n)
	s := math.Sin(theta / 2)
	return quat.Number{Real: math.Cos(theta / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// QuatFromRotationVector maps a rotation vector (axis scaled by angle) to a unit quaternion.
func QuatFromRotationVector(v r3.Vector) quat.Number {
	theta := v.Norm()
	if theta < smallAngle {
		return Normalize(quat.Number{Real: 1, Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{Real: math.Cos(theta / 2), Imag: v.X * s, Jmag: v.Y * s, Kmag: v.Z * s}
}

// QuatToRotationVector maps a unit quaternion to its rotation vector, taking the short way around.
func QuatToRotationVector(q quat.Number) r3.Vector {
	if q.Real < 0 {
		q = Flip(q)
	}
	u := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := u.Norm()
	if s < smallAngle {
		return u.Mul(2)
	}
	theta := 2 * math.Atan2(s, q.Real)
	return u.Mul(theta / s)
}

// QuatAngle returns the rotation angle of q in [0, pi].
func QuatAngle(q quat.Number) float64 {
	return QuatToRotationVector(q).Norm()
}

// QuatBetween returns the shortest arc rotation taking the direction of from onto the direction of to.
func QuatBetween(from, to r3.Vector) quat.Number {
	a, b := from.Normalize(), to.Normalize()
	if a.Norm() == 0 || b.Norm() == 0 {
		return IdentityQuat()
	}
	d := a.Dot(b)
	if d < -1+1e-12 {
		// antiparallel; any perpendicular axis works
		axis := a.Cross(r3.Vector{X: 1, Y: 0, Z: 0})
		if axis.Norm2() < 1e-12 {
			axis = a.Cross(r3.Vector{X: 0, Y: 1, Z: 0})
		}
		return QuatFromAxisAngle(axis, math.Pi)
	}
	c := a.Cross(b)
	return Normalize(quat.Number{Real: 1 + d, Imag: c.X, Jmag: c.Y, Kmag: c.Z})
}

// DecomposeSwingTwist splits q into a swing and a twist about axis such that q = swing * twist.
// The twist is the rotation about axis closest to q; when q carries no rotation about axis (a
// half turn orthogonal to it) the twist is identity.
func DecomposeSwingTwist(q quat.Number, axis r3.Vector) (swing, twist quat.Number) {
	axis = axis.Normalize()
	proj := axis.Mul(axis.Dot(r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}))
	twist = quat.Number{Real: q.Real, Imag: proj.X, Jmag: proj.Y, Kmag: proj.Z}
	if Norm(twist) < 1e-12 {
		twist = IdentityQuat()
	} else {
		twist = Normalize(twist)
	}
	swing = quat.Mul(q, quat.Conj(twist))
	return swing, twist
}

// Slerp spherically interpolates between a and b.
func Slerp(a, b quat.Number, t float64) quat.Number {
	d := Dot(a, b)
	if d < 0 {
		b = Flip(b)
		d = -d
	}
	if d > 1-1e-9 {
		return Normalize(quat.Add(quat.Scale(1-t, a), quat.Scale(t, b)))
	}
	theta := math.Acos(d)
	sin := math.Sin(theta)
	return quat.Add(quat.Scale(math.Sin((1-t)*theta)/sin, a), quat.Scale(math.Sin(t*theta)/sin, b))
}

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * degToRad
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * radToDeg
}
