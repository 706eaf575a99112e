package ik

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// singularEpsilon is the singular value under which a direction is treated as lost.
const singularEpsilon = 1e-10

// Jacobian holds the stacked task error (beta) and derivatives of a solve step, and computes the
// damped pseudo-inverse update of the joint angles.
type Jacobian struct {
	opts SolverOptions
	sdls bool

	taskSize, dof int
	// factor the transpose when there are more DOFs than task rows
	transpose bool

	beta       []float64
	jac        *mat.Dense
	dTheta     []float64
	dThetaTmp  []float64
	norm       []float64
	weightSqrt []float64

	svdU      mat.Dense
	svdV      mat.Dense
	svdW      []float64
	nullspace *mat.Dense
	minDamp   float64
}

// NewJacobian allocates a Jacobian for taskSize rows and dof columns.
func NewJacobian(taskSize, dof int, sdls bool, opts SolverOptions) *Jacobian {
	j := &Jacobian{opts: opts, sdls: sdls}
	j.ArmMatrices(taskSize, dof)
	return j
}

// ArmMatrices sizes the matrices and resets the weights to one.
func (j *Jacobian) ArmMatrices(taskSize, dof int) {
	j.taskSize, j.dof = taskSize, dof
	j.transpose = dof > taskSize
	j.beta = make([]float64, taskSize)
	j.jac = mat.NewDense(max(taskSize, 1), max(dof, 1), nil)
	j.dTheta = make([]float64, dof)
	j.dThetaTmp = make([]float64, dof)
	j.norm = make([]float64, dof)
	j.weightSqrt = make([]float64, dof)
	for i := range j.weightSqrt {
		j.weightSqrt[i] = 1
	}
	j.nullspace = nil
	j.svdU.Reset()
	j.svdV.Reset()
	j.svdW = nil
}

// SetDOFWeight sets the weight of a DOF column.
func (j *Jacobian) SetDOFWeight(dof int, w float64) {
	j.weightSqrt[dof] = math.Sqrt(w)
}

// SetBetas sets three consecutive rows of the task error.
func (j *Jacobian) SetBetas(row int, v r3.Vector) {
	j.beta[row] = v.X
	j.beta[row+1] = v.Y
	j.beta[row+2] = v.Z
}

// SetDerivatives sets three consecutive rows of a DOF column, scaled by the DOF weight.
func (j *Jacobian) SetDerivatives(row, dof int, v r3.Vector) {
	w := j.weightSqrt[dof]
	j.jac.Set(row, dof, v.X*w)
	j.jac.Set(row+1, dof, v.Y*w)
	j.jac.Set(row+2, dof, v.Z*w)
}

// derivative returns the unweighted derivative of a task row by a DOF. A zero weight has no
// stored derivative and moves nothing.
func (j *Jacobian) derivative(row, dof int) float64 {
	if j.weightSqrt[dof] == 0 {
		return 0
	}
	return j.jac.At(row, dof) / j.weightSqrt[dof]
}

// ClearColumns zeroes the derivatives of every DOF.
func (j *Jacobian) ClearColumns() {
	j.jac.Zero()
}

// AngleUpdate returns the angle update of a DOF after Invert.
func (j *Jacobian) AngleUpdate(dof int) float64 {
	return j.dTheta[dof]
}

// AngleUpdateNorm returns the largest absolute angle update.
func (j *Jacobian) AngleUpdateNorm() float64 {
	if len(j.dTheta) == 0 {
		return 0
	}
	return math.Max(floats.Max(j.dTheta), -floats.Min(j.dTheta))
}

// BetaNorm returns the norm of the task error.
func (j *Jacobian) BetaNorm() float64 {
	return floats.Norm(j.beta, 2)
}

// Lock removes a DOF from the problem: its contribution at delta (a joint angle) is subtracted from
// beta and its column and update are zeroed.
func (j *Jacobian) Lock(dof int, delta float64) {
	for i := 0; i < j.taskSize; i++ {
		j.beta[i] -= j.derivative(i, dof) * delta
		j.jac.Set(i, dof, 0)
	}
	j.norm[dof] = 0
	j.dTheta[dof] = 0
}

// Invert factors the Jacobian and computes the damped angle update. It fails only when the
// factorization does not converge or the problem holds non-finite values.
func (j *Jacobian) Invert() error {
	if j.taskSize == 0 || j.dof == 0 {
		for i := range j.dTheta {
			j.dTheta[i] = 0
		}
		return nil
	}
	if !finite(j.beta) || !finite(j.jac.RawMatrix().Data) {
		return ErrNonFinite
	}

	var svd mat.SVD
	if j.transpose {
		// Jt = U W Vt, so J = V W Ut and Jinv = U Winv Vt
		if !svd.Factorize(j.jac.T(), mat.SVDThin) {
			return ErrDegenerate
		}
		svd.UTo(&j.svdV)
		svd.VTo(&j.svdU)
	} else {
		if !svd.Factorize(j.jac, mat.SVDThin) {
			return ErrDegenerate
		}
		svd.UTo(&j.svdU)
		svd.VTo(&j.svdV)
	}
	if k := min(j.taskSize, j.dof); len(j.svdW) != k {
		j.svdW = make([]float64, k)
	}
	svd.Values(j.svdW)

	if j.sdls {
		j.invertSDLS()
	} else {
		j.invertDLS()
	}
	if !finite(j.dTheta) {
		return ErrNonFinite
	}
	return nil
}

// invertDLS computes the damped least squares update. The damping only grows from zero as the
// smallest significant singular value approaches the size of the requested step.
func (j *Jacobian) invertDLS() {
	xLength := floats.Norm(j.beta, 2)
	wMin := math.MaxFloat64
	for _, w := range j.svdW {
		if w > singularEpsilon && w < wMin {
			wMin = w
		}
	}

	d := xLength / j.opts.DLSMaxAngleChange
	var lambda float64
	switch {
	case wMin <= d/2:
		lambda = d / 2
	case wMin < d:
		lambda = math.Sqrt(wMin * (d - wMin))
	}
	lambda = math.Min(lambda*lambda, j.opts.DLSMaxLambda)

	for i := range j.dTheta {
		j.dTheta[i] = 0
	}
	for i, w := range j.svdW {
		if w <= singularEpsilon {
			continue
		}
		wInv := w / (w*w + lambda)
		// (Ut beta)_i
		var ub float64
		for r := 0; r < j.taskSize; r++ {
			ub += j.svdU.At(r, i) * j.beta[r]
		}
		ub *= wInv
		for c := range j.dTheta {
			j.dTheta[c] += j.svdV.At(c, i) * ub
		}
	}
	for c := range j.dTheta {
		j.dTheta[c] *= j.weightSqrt[c]
	}
}

// invertSDLS computes the selectively damped least squares update: every singular direction is
// damped by how far its unit response would move the joints.
func (j *Jacobian) invertSDLS() {
	maxAngleChange := j.opts.SDLSMaxAngleChange
	for c := range j.dTheta {
		j.dTheta[c] = 0
	}
	j.minDamp = 1

	for c := 0; c < j.dof; c++ {
		j.norm[c] = 0
		for r := 0; r+2 < j.taskSize; r += 3 {
			j.norm[c] += math.Sqrt(sq(j.jac.At(r, c)) + sq(j.jac.At(r+1, c)) + sq(j.jac.At(r+2, c)))
		}
	}

	for i, w := range j.svdW {
		if w <= singularEpsilon {
			continue
		}
		wInv := 1 / w
		var alpha, n float64
		for r := 0; r+2 < j.taskSize; r += 3 {
			u0, u1, u2 := j.svdU.At(r, i), j.svdU.At(r+1, i), j.svdU.At(r+2, i)
			alpha += u0*j.beta[r] + u1*j.beta[r+1] + u2*j.beta[r+2]
			n += math.Sqrt(u0*u0 + u1*u1 + u2*u2)
		}
		alpha *= wInv

		var m, maxDTheta float64
		for c := 0; c < j.dof; c++ {
			v := j.svdV.At(c, i)
			m += math.Abs(v) * j.norm[c]
			j.dThetaTmp[c] = v * alpha
			if abs := math.Abs(j.dThetaTmp[c]) * j.weightSqrt[c]; abs > maxDTheta {
				maxDTheta = abs
			}
		}
		m *= wInv

		gamma := maxAngleChange
		if n < m {
			gamma *= n / m
		}
		damp := 1.0
		if gamma < maxDTheta {
			damp = gamma / maxDTheta
		}
		// one factor per singular direction keeps the update inside the span of V
		for c := 0; c < j.dof; c++ {
			j.dTheta[c] += j.opts.SDLSDamping * damp * j.dThetaTmp[c]
		}
		if damp < j.minDamp {
			j.minDamp = damp
		}
	}

	var maxAngle float64
	for c := 0; c < j.dof; c++ {
		j.dTheta[c] *= j.weightSqrt[c]
		maxAngle = math.Max(maxAngle, math.Abs(j.dTheta[c]))
	}
	if maxAngle > maxAngleChange {
		damp := maxAngleChange / (maxAngleChange + maxAngle)
		for c := range j.dTheta {
			j.dTheta[c] *= damp
		}
	}
}

// ComputeNullProjection builds N = I - B Bt from the right singular vectors with significant
// singular values. It reports false when the Jacobian is rank deficient, in which case there is
// no null space worth exploiting.
func (j *Jacobian) ComputeNullProjection() bool {
	rank := 0
	for _, w := range j.svdW {
		if w > singularEpsilon {
			rank++
		}
	}
	if rank < j.taskSize || rank == 0 {
		return false
	}
	basis := mat.NewDense(j.dof, rank, nil)
	col := 0
	for i, w := range j.svdW {
		if w <= singularEpsilon {
			continue
		}
		for r := 0; r < j.dof; r++ {
			basis.Set(r, col, j.svdV.At(r, i))
		}
		col++
	}
	var bbt mat.Dense
	bbt.Mul(basis, basis.T())
	n := mat.NewDense(j.dof, j.dof, nil)
	for r := 0; r < j.dof; r++ {
		for c := 0; c < j.dof; c++ {
			id := 0.0
			if r == c {
				id = 1
			}
			n.Set(r, c, id-bbt.At(r, c))
		}
	}
	j.nullspace = n
	return true
}

// NullSpace returns the projection computed by the last ComputeNullProjection.
func (j *Jacobian) NullSpace() mat.Matrix {
	return j.nullspace
}

// Restrict subtracts the motion already produced by dTheta (joint angles) from beta and projects
// the Jacobian onto the given null space, which is expressed in weighted coordinates.
func (j *Jacobian) Restrict(dTheta []float64, nullspace mat.Matrix) {
	for r := 0; r < j.taskSize; r++ {
		var moved float64
		for c := 0; c < j.dof; c++ {
			moved += j.derivative(r, c) * dTheta[c]
		}
		j.beta[r] -= moved
	}
	var restricted mat.Dense
	restricted.Mul(j.jac, nullspace)
	j.jac.Copy(&restricted)
}

// SubTask solves a lower priority Jacobian inside the null space of this one and adds its
// update. sub must share this Jacobian's columns.
func (j *Jacobian) SubTask(sub *Jacobian) error {
	if !j.ComputeNullProjection() {
		return nil
	}
	sub.Restrict(j.dTheta, j.nullspace)
	if err := sub.Invert(); err != nil {
		return err
	}
	for c := range j.dTheta {
		j.dTheta[c] += sub.AngleUpdate(c)
	}
	return nil
}

// copyFrom overwrites beta and derivatives with other's. Both must have the same shape.
func (j *Jacobian) copyFrom(other *Jacobian) {
	copy(j.beta, other.beta)
	j.jac.Copy(other.jac)
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func sq(x float64) float64 {
	return x * x
}
