package linear

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/key"
)

// JacobianFactor 是白化后的线性代价 0.5*||sum_k A_k x_k - b||^2。
type JacobianFactor struct {
	keys   []key.Key
	blocks []*mat.Dense
	b      []float64
}

// NewJacobianFactor 由每个键一个块和右端项构造因子，每块都必须有 len(b) 行。
func NewJacobianFactor(keys []key.Key, blocks []*mat.Dense, b []float64) (*JacobianFactor, error) {
	if len(keys) != len(blocks) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%d keys but %d blocks", len(keys), len(blocks))
	}
	seen := key.Set{}
	for i, A := range blocks {
		if seen.Has(keys[i]) {
			return nil, errors.Errorf("linear: duplicate key %s in factor", keys[i])
		}
		seen.Add(keys[i])
		if r, _ := A.Dims(); r != len(b) {
			return nil, errors.Wrapf(ErrDimensionMismatch, "block %s has %d rows, rhs has %d", keys[i], r, len(b))
		}
	}
	return &JacobianFactor{
		keys:   append([]key.Key(nil), keys...),
		blocks: append([]*mat.Dense(nil), blocks...),
		b:      append([]float64(nil), b...),
	}, nil
}

// Keys 按块顺序返回变量，返回的切片不得修改。
func (f *JacobianFactor) Keys() []key.Key { return f.keys }

// Rows 是标量方程个数。
func (f *JacobianFactor) Rows() int { return len(f.b) }

// Block 返回第 i 个雅可比块。
func (f *JacobianFactor) Block(i int) *mat.Dense { return f.blocks[i] }

// BlockFor 返回 k 对应的块。
func (f *JacobianFactor) BlockFor(k key.Key) (*mat.Dense, bool) {
	for i, fk := range f.keys {
		if fk == k {
			return f.blocks[i], true
		}
	}
	return nil, false
}

// RHS 返回 b，不得修改。
func (f *JacobianFactor) RHS() []float64 { return f.b }

// Dim 返回第 i 块的列数。
func (f *JacobianFactor) Dim(i int) int {
	_, c := f.blocks[i].Dims()
	return c
}

// Residual 返回 A*x - b，x 中缺失的变量按零计。
func (f *JacobianFactor) Residual(x VectorValues) []float64 {
	e := make([]float64, len(f.b))
	var Ax mat.VecDense
	for i, k := range f.keys {
		xk, ok := x[k]
		if !ok {
			continue
		}
		Ax.Reset()
		Ax.MulVec(f.blocks[i], mat.NewVecDense(len(xk), xk))
		floats.Add(e, Ax.RawVector().Data)
	}
	for i := range e {
		e[i] -= f.b[i]
	}
	return e
}

// Error 即 0.5*||A*x - b||^2。
func (f *JacobianFactor) Error(x VectorValues) float64 {
	e := f.Residual(x)
	return 0.5 * floats.Dot(e, e)
}

// TransposeMultiplyAdd 把 alpha*A'*e 累加到 g。
func (f *JacobianFactor) TransposeMultiplyAdd(alpha float64, e []float64, g VectorValues) {
	ev := mat.NewVecDense(len(e), e)
	var y mat.VecDense
	for i, k := range f.keys {
		y.Reset()
		y.MulVec(f.blocks[i].T(), ev)
		cur, ok := g[k]
		if !ok {
			cur = make([]float64, f.Dim(i))
			g[k] = cur
		}
		floats.AddScaled(cur, alpha, y.RawVector().Data)
	}
}

// MultiplyBlocks 对 x 中存在的块返回 A*x。
func (f *JacobianFactor) MultiplyBlocks(x VectorValues) []float64 {
	out := make([]float64, len(f.b))
	var Ax mat.VecDense
	for i, k := range f.keys {
		xk, ok := x[k]
		if !ok {
			continue
		}
		Ax.Reset()
		Ax.MulVec(f.blocks[i], mat.NewVecDense(len(xk), xk))
		floats.Add(out, Ax.RawVector().Data)
	}
	return out
}

// addHessianDiagonal 累加每块的列范数平方。
func (f *JacobianFactor) addHessianDiagonal(d VectorValues) {
	for i, k := range f.keys {
		A := f.blocks[i]
		r, c := A.Dims()
		cur, ok := d[k]
		if !ok {
			cur = make([]float64, c)
			d[k] = cur
		}
		for j := 0; j < c; j++ {
			for row := 0; row < r; row++ {
				v := A.At(row, j)
				cur[j] += v * v
			}
		}
	}
}
