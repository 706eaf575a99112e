package ik

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/spatialmath"
)

// The three rotational degrees of freedom of a segment, expressed in its limit frame. The limit
// frame's Y axis points along the bone, so DOF 1 is the twist and DOFs 0 and 2 are the swing.
const (
	DOFSwingX = 0
	DOFTwist  = 1
	DOFSwingZ = 2
)

// ClampPolicy selects how swing limits are enforced.
type ClampPolicy int

const (
	// DirectClamp clamps the two swing angles and the twist angle independently.
	DirectClamp ClampPolicy = iota
	// SphericalClamp clamps the swing in spherical coordinates of the swing quaternion's (x, w, z)
	// point, theta = atan2(w, x) and phi = acos(z), so the swing range is bounded by a cone.
	SphericalClamp
)

func (p ClampPolicy) String() string {
	switch p {
	case DirectClamp:
		return "direct"
	case SphericalClamp:
		return "spherical"
	default:
		return "unknown"
	}
}

// ParseClampPolicy is the inverse of ClampPolicy.String. An empty string is DirectClamp.
func ParseClampPolicy(s string) (ClampPolicy, error) {
	switch s {
	case "direct", "":
		return DirectClamp, nil
	case "spherical":
		return SphericalClamp, nil
	default:
		return 0, errors.Errorf("unknown clamp policy %q", s)
	}
}

// Limits bounds the three angles of a segment, in radians. An axis only constrains when its
// Limit flag is set; min must not exceed zero and max must not be below zero.
type Limits struct {
	Min, Max [3]float64
	Limit    [3]bool
	Policy   ClampPolicy
}

// Any reports whether any axis is limited.
func (l Limits) Any() bool {
	return l.Limit[0] || l.Limit[1] || l.Limit[2]
}

// Validate checks the ranges of the limited axes.
func (l Limits) Validate() error {
	for i := 0; i < 3; i++ {
		if !l.Limit[i] {
			continue
		}
		if l.Min[i] > 0 || l.Max[i] < 0 {
			return errors.Errorf("limit range [%v, %v] of dof %d must contain zero", l.Min[i], l.Max[i], i)
		}
		if l.Max[i] > math.Pi || l.Min[i] < -math.Pi {
			return errors.Errorf("limit range [%v, %v] of dof %d exceeds a half turn", l.Min[i], l.Max[i], i)
		}
	}
	return nil
}

var twistAxis = r3.Vector{X: 0, Y: 1, Z: 0}

// rangeParameters returns the swing angles (ax, az) and twist angle ay of a rotation expressed in
// the limit frame, following the policy's parameterization.
func (l Limits) rangeParameters(q quat.Number) [3]float64 {
	if q.Real < 0 {
		q = spatialmath.Flip(q)
	}
	swing, twist := spatialmath.DecomposeSwingTwist(q, twistAxis)
	if swing.Real < 0 {
		swing = spatialmath.Flip(swing)
	}
	ay := 2 * math.Atan2(twist.Jmag, twist.Real)
	if ay > math.Pi {
		ay -= 2 * math.Pi
	} else if ay < -math.Pi {
		ay += 2 * math.Pi
	}
	switch l.Policy {
	case SphericalClamp:
		theta := math.Atan2(swing.Real, swing.Imag)
		phi := math.Acos(clampUnit(swing.Kmag))
		// measured from the rest swing at theta = phi = pi/2, in the units of a swing angle
		return [3]float64{math.Pi - 2*theta, ay, math.Pi - 2*phi}
	default:
		return [3]float64{2 * math.Asin(clampUnit(swing.Imag)), ay, 2 * math.Asin(clampUnit(swing.Kmag))}
	}
}

// fromParameters is the inverse of rangeParameters.
func (l Limits) fromParameters(a [3]float64) quat.Number {
	var swing quat.Number
	switch l.Policy {
	case SphericalClamp:
		theta, phi := (math.Pi-a[0])/2, (math.Pi-a[2])/2
		sinPhi := math.Sin(phi)
		swing = spatialmath.Normalize(quat.Number{
			Real: sinPhi * math.Sin(theta),
			Imag: sinPhi * math.Cos(theta),
			Kmag: math.Cos(phi),
		})
	default:
		x, z := math.Sin(a[0]/2), math.Sin(a[2]/2)
		w := 1 - x*x - z*z
		if w < 0 {
			w = 0
		}
		swing = spatialmath.Normalize(quat.Number{Real: math.Sqrt(w), Imag: x, Kmag: z})
	}
	twist := spatialmath.QuatFromAxisAngle(twistAxis, a[1])
	return quat.Mul(swing, twist)
}

// clampParameters clamps a parameter triple in place and reports which axes were clamped.
func (l Limits) clampParameters(a *[3]float64) [3]bool {
	var clamped [3]bool
	if l.Limit[DOFTwist] {
		a[1], clamped[1] = clampInterval(a[1], l.Min[1], l.Max[1])
	}
	if l.Limit[DOFSwingX] {
		a[0], clamped[0] = clampInterval(a[0], l.Min[0], l.Max[0])
	}
	if l.Limit[DOFSwingZ] {
		a[2], clamped[2] = clampInterval(a[2], l.Min[2], l.Max[2])
	}
	return clamped
}

// Clamp returns q (a rotation in the limit frame) moved inside the limits. A rotation already
// inside the limits is returned unchanged, so Clamp is idempotent.
func (l Limits) Clamp(q quat.Number) (quat.Number, bool) {
	if !l.Any() {
		return q, false
	}
	a := l.rangeParameters(q)
	clamped := l.clampParameters(&a)
	if !clamped[0] && !clamped[1] && !clamped[2] {
		return q, false
	}
	return l.fromParameters(a), true
}

// limitSlack absorbs the rounding of a parameter that was clamped onto its boundary.
const limitSlack = 1e-12

func clampInterval(v, lo, hi float64) (float64, bool) {
	switch {
	case v > hi+limitSlack:
		return hi, true
	case v < lo-limitSlack:
		return lo, true
	default:
		return v, false
	}
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
