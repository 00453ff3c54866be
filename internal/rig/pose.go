package rig

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// Identity returns a 4x4 identity transform.
func Identity() *mat.Dense {
	T := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		T.Set(i, i, 1)
	}
	return T
}

// PoseFromValues builds a homogeneous transform from a translation and
// yaw/pitch/roll angles in radians: R = Rz(yaw) * Ry(pitch) * Rx(roll).
func PoseFromValues(x, y, z, yaw, pitch, roll float64) *mat.Dense {
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cr, sr := math.Cos(roll), math.Sin(roll)

	return mat.NewDense(4, 4, []float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr, x,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr, y,
		-sp, cp * sr, cp * cr, z,
		0, 0, 0, 1,
	})
}

// Compose returns a * b, i.e. b expressed in the frame of a.
func Compose(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}

// ApplyPose applies a 4x4 homogeneous transform to point (x, y, z).
func ApplyPose(x, y, z float64, T mat.Matrix) (wx, wy, wz float64) {
	wx = T.At(0, 0)*x + T.At(0, 1)*y + T.At(0, 2)*z + T.At(0, 3)
	wy = T.At(1, 0)*x + T.At(1, 1)*y + T.At(1, 2)*z + T.At(1, 3)
	wz = T.At(2, 0)*x + T.At(2, 1)*y + T.At(2, 2)*z + T.At(2, 3)
	return
}

// Translation returns the translation column of T.
func Translation(T mat.Matrix) (x, y, z float64) {
	return T.At(0, 3), T.At(1, 3), T.At(2, 3)
}

// Quaternion returns the unit quaternion of T's rotation block with a
// non-negative real part.
func Quaternion(T mat.Matrix) quat.Number {
	m00, m01, m02 := T.At(0, 0), T.At(0, 1), T.At(0, 2)
	m10, m11, m12 := T.At(1, 0), T.At(1, 1), T.At(1, 2)
	m20, m21, m22 := T.At(2, 0), T.At(2, 1), T.At(2, 2)

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 * s, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}

	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// IsValidTransform checks T is 4x4 with a proper rotation block
// (det ≈ 1) and a last row of [0 0 0 1].
func IsValidTransform(T mat.Matrix) bool {
	r, c := T.Dims()
	if r != 4 || c != 4 {
		return false
	}
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, T.At(i, j))
		}
	}
	if math.Abs(mat.Det(rot)-1) > MatrixValidationTolerance {
		return false
	}
	if T.At(3, 0) != 0 || T.At(3, 1) != 0 || T.At(3, 2) != 0 || math.Abs(T.At(3, 3)-1) > 0.001 {
		return false
	}
	return true
}
