package adjust

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/geometry"
)

// ExteriorCovariance 把切空间中的位姿协方差变换为 omega、phi、kappa、XL、YL、ZL 的协方差。
func ExteriorCovariance(pose geometry.Pose3, cov mat.Symmetric) *mat.SymDense {
	J := mat.NewDense(6, 6, nil)
	fd.Jacobian(J, func(y, x []float64) {
		q := pose.Retract(x)
		y[0], y[1], y[2] = q.OmegaPhiKappa()
		y[3], y[4], y[5] = q.T.X, q.T.Y, q.T.Z
	}, make([]float64, 6), &fd.JacobianSettings{Formula: fd.Central})
	return propagate(J, cov)
}

// StdDevs 返回对角线平方根乘以 scale。
func StdDevs(cov mat.Symmetric, scale float64) []float64 {
	n := cov.SymmetricDim()
	sd := make([]float64, n)
	for i := range sd {
		sd[i] = scale * math.Sqrt(math.Abs(cov.At(i, i)))
	}
	return sd
}
