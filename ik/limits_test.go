package ik

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/articulated/spatialmath"
)

func testLimits(policy ClampPolicy) Limits {
	return Limits{
		Min:    [3]float64{-0.7, -0.5, -0.3},
		Max:    [3]float64{0.7, 0.5, 0.3},
		Limit:  [3]bool{true, true, true},
		Policy: policy,
	}
}

func TestClampInsideIsFixedPoint(t *testing.T) {
	for _, policy := range []ClampPolicy{DirectClamp, SphericalClamp} {
		t.Run(policy.String(), func(t *testing.T) {
			l := testLimits(policy)
			q := spatialmath.QuatFromRotationVector(r3.Vector{X: 0.1, Y: 0.2, Z: -0.05})
			out, changed := l.Clamp(q)
			test.That(t, changed, test.ShouldBeFalse)
			test.That(t, out, test.ShouldResemble, q)
		})
	}
}

func TestClampTwist(t *testing.T) {
	for _, policy := range []ClampPolicy{DirectClamp, SphericalClamp} {
		t.Run(policy.String(), func(t *testing.T) {
			l := testLimits(policy)
			out, changed := l.Clamp(spatialmath.QuatFromAxisAngle(twistAxis, 1.2))
			test.That(t, changed, test.ShouldBeTrue)
			test.That(t, spatialmath.QuaternionAlmostEqual(out, spatialmath.QuatFromAxisAngle(twistAxis, 0.5), 1e-9),
				test.ShouldBeTrue)

			out, changed = l.Clamp(spatialmath.QuatFromAxisAngle(twistAxis, -1.2))
			test.That(t, changed, test.ShouldBeTrue)
			test.That(t, spatialmath.QuaternionAlmostEqual(out, spatialmath.QuatFromAxisAngle(twistAxis, -0.5), 1e-9),
				test.ShouldBeTrue)
		})
	}
}

func TestClampIsIdempotent(t *testing.T) {
	for _, policy := range []ClampPolicy{DirectClamp, SphericalClamp} {
		t.Run(policy.String(), func(t *testing.T) {
			l := testLimits(policy)
			q := spatialmath.QuatFromRotationVector(r3.Vector{X: 1.1, Y: 0.9, Z: -0.8})
			once, changed := l.Clamp(q)
			test.That(t, changed, test.ShouldBeTrue)
			twice, changed := l.Clamp(once)
			test.That(t, changed, test.ShouldBeFalse)
			test.That(t, twice, test.ShouldResemble, once)
		})
	}
}

func TestDirectClampSwing(t *testing.T) {
	l := Limits{Min: [3]float64{-0.4, 0, -0.4}, Max: [3]float64{0.4, 0, 0.4}, Limit: [3]bool{true, false, true}}
	out, changed := l.Clamp(spatialmath.QuatFromAxisAngle(r3.Vector{X: 1, Y: 0, Z: 0}, 1))
	test.That(t, changed, test.ShouldBeTrue)
	test.That(t, spatialmath.QuaternionAlmostEqual(out, spatialmath.QuatFromAxisAngle(r3.Vector{X: 1, Y: 0, Z: 0}, 0.4), 1e-9),
		test.ShouldBeTrue)

	// an unlimited twist passes through
	q := quat.Mul(spatialmath.QuatFromAxisAngle(r3.Vector{X: 0, Y: 0, Z: 1}, 0.2), spatialmath.QuatFromAxisAngle(twistAxis, 2))
	out, changed = l.Clamp(q)
	test.That(t, changed, test.ShouldBeFalse)
	test.That(t, out, test.ShouldResemble, q)
}

func TestSphericalClampSwing(t *testing.T) {
	l := Limits{
		Min:    [3]float64{-0.5, 0, -0.25},
		Max:    [3]float64{0.5, 0, 0.25},
		Limit:  [3]bool{true, false, true},
		Policy: SphericalClamp,
	}
	// a pure swing about X maps onto theta alone
	out, changed := l.Clamp(spatialmath.QuatFromAxisAngle(r3.Vector{X: 1, Y: 0, Z: 0}, 1))
	test.That(t, changed, test.ShouldBeTrue)
	test.That(t, spatialmath.QuaternionAlmostEqual(out, spatialmath.QuatFromAxisAngle(r3.Vector{X: 1, Y: 0, Z: 0}, 0.5), 1e-9),
		test.ShouldBeTrue)

	// theta is outside its range, phi is inside and is kept
	q := spatialmath.QuatFromRotationVector(r3.Vector{X: 1, Y: 0, Z: 0.2})
	out, changed = l.Clamp(q)
	test.That(t, changed, test.ShouldBeTrue)
	test.That(t, out.Jmag, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, out.Kmag, test.ShouldAlmostEqual, q.Kmag, 1e-12)
	theta := math.Atan2(out.Real, out.Imag)
	test.That(t, math.Pi-2*theta, test.ShouldAlmostEqual, 0.5, 1e-12)

	// a box clamp of the same rotation limits a different region
	box := l
	box.Policy = DirectClamp
	boxed, changed := box.Clamp(q)
	test.That(t, changed, test.ShouldBeTrue)
	test.That(t, spatialmath.QuaternionAlmostEqual(out, boxed, 1e-6), test.ShouldBeFalse)
}

func TestLimitsValidate(t *testing.T) {
	test.That(t, testLimits(DirectClamp).Validate(), test.ShouldBeNil)

	bad := testLimits(DirectClamp)
	bad.Min[1] = 0.1
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = testLimits(DirectClamp)
	bad.Max[0] = 4
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	// unlimited axes are not checked
	bad.Limit[0] = false
	test.That(t, bad.Validate(), test.ShouldBeNil)
}

func TestParseClampPolicy(t *testing.T) {
	for _, p := range []ClampPolicy{DirectClamp, SphericalClamp} {
		parsed, err := ParseClampPolicy(p.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, p)
	}
	_, err := ParseClampPolicy("box")
	test.That(t, err, test.ShouldNotBeNil)
}
