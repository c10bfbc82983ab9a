// Package noise 提供高斯噪声模型，对残差和雅可比矩阵做白化，
// 使每个因子都以单位协方差参与平差。
package noise

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidSigma 表示标准差非正，或协方差矩阵不正定。
var ErrInvalidSigma = errors.New("noise: invalid sigma")

// DimensionMismatchError 表示向量或矩阵的行数与模型维数不一致。
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("noise: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Model 对残差做白化。所有实现都不可变。
type Model interface {
	// Dim 是残差维数。
	Dim() int
	// Whiten 返回 R*r，其中 R'R 为信息矩阵。
	Whiten(r []float64) ([]float64, error)
	// WhitenJacobian 返回 R*J。
	WhitenJacobian(J *mat.Dense) (*mat.Dense, error)
	// Distance 返回 r 的马氏距离平方。
	Distance(r []float64) (float64, error)
	// Sigmas 返回各分量的标准差。
	Sigmas() []float64
}

// Diagonal 按各分量自己的 sigma 白化。
type Diagonal struct {
	sigmas    []float64
	invSigmas []float64
}

var _ Model = (*Diagonal)(nil)

// NewDiagonal 由标准差构造对角模型。
func NewDiagonal(sigmas []float64) (*Diagonal, error) {
	if len(sigmas) == 0 {
		return nil, errors.Wrap(ErrInvalidSigma, "empty sigma vector")
	}
	d := &Diagonal{
		sigmas:    make([]float64, len(sigmas)),
		invSigmas: make([]float64, len(sigmas)),
	}
	for i, s := range sigmas {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, errors.Wrapf(ErrInvalidSigma, "sigma[%d] = %g", i, s)
		}
		d.sigmas[i] = s
		d.invSigmas[i] = 1 / s
	}
	return d, nil
}

// NewDiagonalFromVariances 由方差构造对角模型。
func NewDiagonalFromVariances(variances []float64) (*Diagonal, error) {
	sigmas := make([]float64, len(variances))
	for i, v := range variances {
		sigmas[i] = math.Sqrt(v)
	}
	return NewDiagonal(sigmas)
}

func (d *Diagonal) Dim() int { return len(d.sigmas) }

func (d *Diagonal) Sigmas() []float64 { return append([]float64(nil), d.sigmas...) }

func (d *Diagonal) Whiten(r []float64) ([]float64, error) {
	if len(r) != d.Dim() {
		return nil, &DimensionMismatchError{Expected: d.Dim(), Actual: len(r)}
	}
	out := make([]float64, len(r))
	for i, v := range r {
		out[i] = v * d.invSigmas[i]
	}
	return out, nil
}

func (d *Diagonal) WhitenJacobian(J *mat.Dense) (*mat.Dense, error) {
	rows, _ := J.Dims()
	if rows != d.Dim() {
		return nil, &DimensionMismatchError{Expected: d.Dim(), Actual: rows}
	}
	out := mat.DenseCopyOf(J)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] *= d.invSigmas[i]
		}
	}
	return out, nil
}

func (d *Diagonal) Distance(r []float64) (float64, error) {
	return distance(d, r)
}

// Isotropic 是所有分量共用同一 sigma 的对角模型。
type Isotropic struct {
	Diagonal
	sigma float64
}

var _ Model = (*Isotropic)(nil)

// NewIsotropic 构造 dim 维、标准差为 sigma 的模型。
func NewIsotropic(dim int, sigma float64) (*Isotropic, error) {
	if dim <= 0 {
		return nil, errors.Wrapf(ErrInvalidSigma, "dimension %d", dim)
	}
	sigmas := make([]float64, dim)
	for i := range sigmas {
		sigmas[i] = sigma
	}
	d, err := NewDiagonal(sigmas)
	if err != nil {
		return nil, err
	}
	return &Isotropic{Diagonal: *d, sigma: sigma}, nil
}

// NewUnit 即 sigma 为 1 的各向同性模型。
func NewUnit(dim int) (*Isotropic, error) { return NewIsotropic(dim, 1) }

// Sigma 返回共用的标准差。
func (i *Isotropic) Sigma() float64 { return i.sigma }

// Gaussian 用完整信息矩阵的上三角平方根做白化。
type Gaussian struct {
	sqrtInfo *mat.Dense
	sigmas   []float64
}

var _ Model = (*Gaussian)(nil)

// NewGaussian 由协方差矩阵构造模型。
func NewGaussian(cov *mat.SymDense) (*Gaussian, error) {
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, errors.Wrap(ErrInvalidSigma, "empty covariance")
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, errors.Wrap(ErrInvalidSigma, "covariance is not positive definite")
	}
	var info mat.SymDense
	if err := chol.InverseTo(&info); err != nil {
		return nil, errors.Wrap(ErrInvalidSigma, err.Error())
	}
	var ichol mat.Cholesky
	if ok := ichol.Factorize(&info); !ok {
		return nil, errors.Wrap(ErrInvalidSigma, "information matrix is not positive definite")
	}
	var U mat.TriDense
	ichol.UTo(&U)
	g := &Gaussian{sqrtInfo: mat.DenseCopyOf(&U), sigmas: make([]float64, n)}
	for i := 0; i < n; i++ {
		g.sigmas[i] = math.Sqrt(cov.At(i, i))
	}
	return g, nil
}

// NewGaussianFromSqrtInformation 由 R 构造模型，R'R 为信息矩阵。
// R 必须是非奇异方阵。
func NewGaussianFromSqrtInformation(R mat.Matrix) (*Gaussian, error) {
	r, c := R.Dims()
	if r != c || r == 0 {
		return nil, &DimensionMismatchError{Expected: r, Actual: c}
	}
	var info mat.SymDense
	info.SymOuterK(1, mat.DenseCopyOf(R).T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&info); !ok {
		return nil, errors.Wrap(ErrInvalidSigma, "square-root information is singular")
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, errors.Wrap(ErrInvalidSigma, err.Error())
	}
	g := &Gaussian{sqrtInfo: mat.DenseCopyOf(R), sigmas: make([]float64, r)}
	for i := 0; i < r; i++ {
		g.sigmas[i] = math.Sqrt(cov.At(i, i))
	}
	return g, nil
}

func (g *Gaussian) Dim() int { return len(g.sigmas) }

func (g *Gaussian) Sigmas() []float64 { return append([]float64(nil), g.sigmas...) }

// SqrtInformation 返回 R 的副本。
func (g *Gaussian) SqrtInformation() *mat.Dense { return mat.DenseCopyOf(g.sqrtInfo) }

func (g *Gaussian) Whiten(r []float64) ([]float64, error) {
	if len(r) != g.Dim() {
		return nil, &DimensionMismatchError{Expected: g.Dim(), Actual: len(r)}
	}
	out := mat.NewVecDense(len(r), nil)
	out.MulVec(g.sqrtInfo, mat.NewVecDense(len(r), append([]float64(nil), r...)))
	return out.RawVector().Data, nil
}

func (g *Gaussian) WhitenJacobian(J *mat.Dense) (*mat.Dense, error) {
	rows, _ := J.Dims()
	if rows != g.Dim() {
		return nil, &DimensionMismatchError{Expected: g.Dim(), Actual: rows}
	}
	var out mat.Dense
	out.Mul(g.sqrtInfo, J)
	return &out, nil
}

func (g *Gaussian) Distance(r []float64) (float64, error) {
	return distance(g, r)
}

func distance(m Model, r []float64) (float64, error) {
	w, err := m.Whiten(r)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, v := range w {
		sum += v * v
	}
	return sum, nil
}
