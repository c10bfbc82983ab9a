package linear

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/key"
)

// GaussianFactorGraph 是以雅可比因子列表存储的稀疏线性最小二乘系统。
type GaussianFactorGraph struct {
	factors []*JacobianFactor
}

// NewGaussianFactorGraph 把因子收集成图。
func NewGaussianFactorGraph(factors ...*JacobianFactor) *GaussianFactorGraph {
	return &GaussianFactorGraph{factors: append([]*JacobianFactor(nil), factors...)}
}

func (g *GaussianFactorGraph) Add(f *JacobianFactor) { g.factors = append(g.factors, f) }

// Size 是因子个数。
func (g *GaussianFactorGraph) Size() int { return len(g.factors) }

func (g *GaussianFactorGraph) At(i int) *JacobianFactor { return g.factors[i] }

// Factors 按加入顺序返回因子，返回的切片不得修改。
func (g *GaussianFactorGraph) Factors() []*JacobianFactor { return g.factors }

// Keys 按升序返回全部变量。
func (g *GaussianFactorGraph) Keys() []key.Key {
	s := key.Set{}
	for _, f := range g.factors {
		s.Add(f.keys...)
	}
	return s.Sorted()
}

// KeySets 返回每个因子的变量，供排序启发式使用。
func (g *GaussianFactorGraph) KeySets() [][]key.Key {
	out := make([][]key.Key, len(g.factors))
	for i, f := range g.factors {
		out[i] = f.keys
	}
	return out
}

// Dims 返回每个变量的维数。
func (g *GaussianFactorGraph) Dims() (map[key.Key]int, error) {
	dims := make(map[key.Key]int)
	for _, f := range g.factors {
		for i, k := range f.keys {
			d := f.Dim(i)
			if prev, ok := dims[k]; ok && prev != d {
				return nil, errors.Wrapf(ErrDimensionMismatch, "variable %s has dimension %d and %d", k, prev, d)
			}
			dims[k] = d
		}
	}
	return dims, nil
}

// Error 是 x 处各因子误差之和。
func (g *GaussianFactorGraph) Error(x VectorValues) float64 {
	var sum float64
	for _, f := range g.factors {
		sum += f.Error(x)
	}
	return sum
}

// Gradient 返回 x 处的 A'(Ax - b)。
func (g *GaussianFactorGraph) Gradient(x VectorValues) VectorValues {
	out := VectorValues{}
	for _, f := range g.factors {
		f.TransposeMultiplyAdd(1, f.Residual(x), out)
	}
	return out
}

// GradientAtZero 返回 -A'b。
func (g *GaussianFactorGraph) GradientAtZero() VectorValues {
	return g.Gradient(nil)
}

// HessianDiagonal 按变量返回 A'A 的对角线。
func (g *GaussianFactorGraph) HessianDiagonal() VectorValues {
	out := VectorValues{}
	for _, f := range g.factors {
		f.addHessianDiagonal(out)
	}
	return out
}

// Damped 返回与 g 共享因子的新图，并对每个变量的每个分量加先验 sqrt(lambda*d_i)。
// diag 为 nil 时按单位阵阻尼。
func (g *GaussianFactorGraph) Damped(lambda float64, diag VectorValues) (*GaussianFactorGraph, error) {
	dims, err := g.Dims()
	if err != nil {
		return nil, err
	}
	out := &GaussianFactorGraph{factors: make([]*JacobianFactor, len(g.factors), len(g.factors)+len(dims))}
	copy(out.factors, g.factors)
	for _, k := range g.Keys() {
		d := dims[k]
		A := mat.NewDense(d, d, nil)
		for i := 0; i < d; i++ {
			w := 1.0
			if diag != nil {
				w = diag[k][i]
			}
			A.Set(i, i, math.Sqrt(lambda*w))
		}
		out.factors = append(out.factors, &JacobianFactor{keys: []key.Key{k}, blocks: []*mat.Dense{A}, b: make([]float64, d)})
	}
	return out, nil
}

func (g *GaussianFactorGraph) layout(order []key.Key) (map[key.Key]int, int, error) {
	dims, err := g.Dims()
	if err != nil {
		return nil, 0, err
	}
	offsets := make(map[key.Key]int, len(order))
	n := 0
	for _, k := range order {
		d, ok := dims[k]
		if !ok {
			continue
		}
		offsets[k] = n
		n += d
	}
	if len(offsets) != len(dims) {
		return nil, 0, ErrIncompleteOrdering
	}
	return offsets, n, nil
}

// Jacobian 按给定列顺序返回稠密的 A 和 b。
func (g *GaussianFactorGraph) Jacobian(order []key.Key) (*mat.Dense, []float64, error) {
	offsets, n, err := g.layout(order)
	if err != nil {
		return nil, nil, err
	}
	m := 0
	for _, f := range g.factors {
		m += f.Rows()
	}
	if m == 0 || n == 0 {
		return nil, nil, errors.New("linear: empty system")
	}
	A := mat.NewDense(m, n, nil)
	b := make([]float64, 0, m)
	row := 0
	for _, f := range g.factors {
		for i, k := range f.keys {
			blk := f.blocks[i]
			r, c := blk.Dims()
			A.Slice(row, row+r, offsets[k], offsets[k]+c).(*mat.Dense).Copy(blk)
		}
		b = append(b, f.b...)
		row += f.Rows()
	}
	return A, b, nil
}

// AugmentedHessian 按给定列顺序返回 [A b]'[A b]。
func (g *GaussianFactorGraph) AugmentedHessian(order []key.Key) (*mat.SymDense, error) {
	A, b, err := g.Jacobian(order)
	if err != nil {
		return nil, err
	}
	m, n := A.Dims()
	Ab := mat.NewDense(m, n+1, nil)
	Ab.Slice(0, m, 0, n).(*mat.Dense).Copy(A)
	Ab.SetCol(n, b)
	var H mat.SymDense
	H.SymOuterK(1, Ab.T())
	return &H, nil
}

// Optimize 按给定顺序消元并回代。
func (g *GaussianFactorGraph) Optimize(order Ordering) (VectorValues, error) {
	bn, err := g.Eliminate(order)
	if err != nil {
		return nil, err
	}
	return bn.Optimize()
}
