package linear

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/key"
)

// GaussianConditional 是平方根形式的条件密度 p(x_f | parents)：
// R x_f + sum_j S_j x_j = d，R 为上三角。
type GaussianConditional struct {
	frontal key.Key
	r       *mat.TriDense
	parents []key.Key
	s       []*mat.Dense
	d       []float64
}

// NewGaussianConditional 构造条件密度，只使用 R 的上三角。
func NewGaussianConditional(frontal key.Key, d []float64, R mat.Matrix, parents []key.Key, S []*mat.Dense) (*GaussianConditional, error) {
	return NewGaussianConditionalWithSigmas(frontal, d, R, parents, S, nil)
}

// NewGaussianConditionalWithSigmas 构造各行带标准差的条件密度，构造时即对各行白化。
func NewGaussianConditionalWithSigmas(frontal key.Key, d []float64, R mat.Matrix, parents []key.Key, S []*mat.Dense, sigmas []float64) (*GaussianConditional, error) {
	n, c := R.Dims()
	if n != c || n != len(d) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "R is %dx%d, d has %d rows", n, c, len(d))
	}
	if len(parents) != len(S) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%d parents but %d blocks", len(parents), len(S))
	}
	if sigmas != nil && len(sigmas) != n {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%d sigmas for %d rows", len(sigmas), n)
	}
	scale := func(i int) float64 {
		if sigmas == nil {
			return 1
		}
		return 1 / sigmas[i]
	}

	gc := &GaussianConditional{
		frontal: frontal,
		r:       mat.NewTriDense(n, mat.Upper, nil),
		parents: append([]key.Key(nil), parents...),
		s:       make([]*mat.Dense, len(S)),
		d:       make([]float64, n),
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			gc.r.SetTri(i, j, R.At(i, j)*scale(i))
		}
		gc.d[i] = d[i] * scale(i)
	}
	for p, Sp := range S {
		if r, _ := Sp.Dims(); r != n {
			return nil, errors.Wrapf(ErrDimensionMismatch, "parent %s block has %d rows, want %d", parents[p], r, n)
		}
		blk := mat.DenseCopyOf(Sp)
		_, cols := blk.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < cols; j++ {
				blk.Set(i, j, blk.At(i, j)*scale(i))
			}
		}
		gc.s[p] = blk
	}
	return gc, nil
}

// Frontal 是被条件化的变量。
func (c *GaussianConditional) Frontal() key.Key { return c.frontal }

// Parents 是条件变量。
func (c *GaussianConditional) Parents() []key.Key { return c.parents }

// Dim 是前端变量维数。
func (c *GaussianConditional) Dim() int { return len(c.d) }

// R 返回前端上三角块。
func (c *GaussianConditional) R() *mat.TriDense { return c.r }

// S 返回第 i 个父变量的块。
func (c *GaussianConditional) S(i int) *mat.Dense { return c.s[i] }

// D 返回右端项。
func (c *GaussianConditional) D() []float64 { return c.d }

// Solve 在给定父变量取值 x 时返回 x_f = R^-1 (d - sum S_j x_j)。
func (c *GaussianConditional) Solve(x VectorValues) ([]float64, error) {
	return c.SolveOtherRHS(x, c.d)
}

// SolveOtherRHS 同 Solve，但以 rhs 代替 d。
func (c *GaussianConditional) SolveOtherRHS(x VectorValues, rhs []float64) ([]float64, error) {
	y := append([]float64(nil), rhs...)
	var Sx mat.VecDense
	for i, p := range c.parents {
		xp, ok := x[p]
		if !ok {
			return nil, errors.Wrapf(ErrMissingVariable, "parent %s of %s", p, c.frontal)
		}
		Sx.Reset()
		Sx.MulVec(c.s[i], mat.NewVecDense(len(xp), xp))
		floats.Sub(y, Sx.RawVector().Data)
	}
	return c.solveTriangular(false, y)
}

// SolveTranspose 返回 R'^-1 rhs。
func (c *GaussianConditional) SolveTranspose(rhs []float64) ([]float64, error) {
	return c.solveTriangular(true, rhs)
}

func (c *GaussianConditional) solveTriangular(trans bool, rhs []float64) ([]float64, error) {
	var a mat.Matrix = c.r
	if trans {
		a = c.r.TTri()
	}
	var x mat.VecDense
	err := x.SolveVec(a, mat.NewVecDense(len(rhs), append([]float64(nil), rhs...)))
	if err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, &IndeterminantError{Key: c.frontal}
		}
	}
	return x.RawVector().Data, nil
}

// LogDeterminant 即 sum log|R_ii|。
func (c *GaussianConditional) LogDeterminant() float64 {
	var sum float64
	for i := range c.d {
		sum += math.Log(math.Abs(c.r.At(i, i)))
	}
	return sum
}

// Information 返回 R'R，即给定父变量时前端变量的信息矩阵。
func (c *GaussianConditional) Information() *mat.SymDense {
	var info mat.SymDense
	info.SymOuterK(1, mat.DenseCopyOf(c.r).T())
	return &info
}

// Factor 把条件密度还原为雅可比因子。
func (c *GaussianConditional) Factor() *JacobianFactor {
	keys := append([]key.Key{c.frontal}, c.parents...)
	blocks := append([]*mat.Dense{mat.DenseCopyOf(c.r)}, c.s...)
	return &JacobianFactor{keys: keys, blocks: blocks, b: c.d}
}
