package linear

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/key"
)

// GaussianBayesNet 是消元 GaussianFactorGraph 的结果：按消元顺序每个变量一个条件密度，
// 每个条件密度只依赖在它之后消元的变量。
type GaussianBayesNet struct {
	conditionals []*GaussianConditional
}

// NewGaussianBayesNet 按消元顺序收集条件密度。
func NewGaussianBayesNet(conditionals ...*GaussianConditional) *GaussianBayesNet {
	return &GaussianBayesNet{conditionals: append([]*GaussianConditional(nil), conditionals...)}
}

// Add 追加一个条件密度。
func (bn *GaussianBayesNet) Add(c *GaussianConditional) {
	bn.conditionals = append(bn.conditionals, c)
}

// Size 是条件密度个数。
func (bn *GaussianBayesNet) Size() int { return len(bn.conditionals) }

// At 返回第 i 个条件密度。
func (bn *GaussianBayesNet) At(i int) *GaussianConditional { return bn.conditionals[i] }

// Conditionals 按消元顺序返回条件密度，返回的切片不得修改。
func (bn *GaussianBayesNet) Conditionals() []*GaussianConditional { return bn.conditionals }

// Ordering 按消元顺序返回前端变量。
func (bn *GaussianBayesNet) Ordering() Ordering {
	out := make(Ordering, len(bn.conditionals))
	for i, c := range bn.conditionals {
		out[i] = c.frontal
	}
	return out
}

// Optimize 从最后一个条件密度向前回代。
func (bn *GaussianBayesNet) Optimize() (VectorValues, error) {
	x := VectorValues{}
	for i := len(bn.conditionals) - 1; i >= 0; i-- {
		c := bn.conditionals[i]
		xi, err := c.Solve(x)
		if err != nil {
			return nil, err
		}
		x[c.frontal] = xi
	}
	return x, nil
}

// BackSubstitute 解 R x = rhs，用 rhs 代替各个 d。
func (bn *GaussianBayesNet) BackSubstitute(rhs VectorValues) (VectorValues, error) {
	x := VectorValues{}
	for i := len(bn.conditionals) - 1; i >= 0; i-- {
		c := bn.conditionals[i]
		gi, ok := rhs[c.frontal]
		if !ok {
			return nil, errors.Wrapf(ErrMissingVariable, "rhs for %s", c.frontal)
		}
		xi, err := c.SolveOtherRHS(x, gi)
		if err != nil {
			return nil, err
		}
		x[c.frontal] = xi
	}
	return x, nil
}

// BackSubstituteTranspose 向前扫描求解 R' y = x。
func (bn *GaussianBayesNet) BackSubstituteTranspose(x VectorValues) (VectorValues, error) {
	gy := x.Clone()
	y := VectorValues{}
	for _, c := range bn.conditionals {
		g, ok := gy[c.frontal]
		if !ok {
			return nil, errors.Wrapf(ErrMissingVariable, "rhs for %s", c.frontal)
		}
		yi, err := c.SolveTranspose(g)
		if err != nil {
			return nil, err
		}
		y[c.frontal] = yi
		yv := mat.NewVecDense(len(yi), yi)
		for j, p := range c.parents {
			var st mat.VecDense
			st.MulVec(c.s[j].T(), yv)
			cur, ok := gy[p]
			if !ok {
				cur = make([]float64, st.Len())
				gy[p] = cur
			}
			floats.Sub(cur, st.RawVector().Data)
		}
	}
	return y, nil
}

// LogDeterminant 是 R 的行列式的对数。
func (bn *GaussianBayesNet) LogDeterminant() float64 {
	var sum float64
	for _, c := range bn.conditionals {
		sum += c.LogDeterminant()
	}
	return sum
}

// Determinant 是 |det R|。
func (bn *GaussianBayesNet) Determinant() float64 {
	return math.Exp(bn.LogDeterminant())
}

// FactorGraph 把每个条件密度还原为雅可比因子。
func (bn *GaussianBayesNet) FactorGraph() *GaussianFactorGraph {
	g := &GaussianFactorGraph{}
	for _, c := range bn.conditionals {
		g.Add(c.Factor())
	}
	return g
}

// Matrix 返回稠密上三角 R 和 d，列按消元顺序排列。
func (bn *GaussianBayesNet) Matrix() (*mat.Dense, []float64, error) {
	return bn.FactorGraph().Jacobian(bn.Ordering())
}

// GradientAtZero 是 0.5*||Rx - d||^2 在 x = 0 处的梯度。
func (bn *GaussianBayesNet) GradientAtZero() VectorValues {
	return bn.FactorGraph().GradientAtZero()
}

// OptimizeGradientSearch 返回二次型沿零点最速下降方向的极小点（柯西点）。
func (bn *GaussianBayesNet) OptimizeGradientSearch() (VectorValues, error) {
	g := bn.GradientAtZero()
	gg := g.SquaredNorm()
	if gg == 0 {
		return g, nil
	}
	var gHg float64
	for _, f := range bn.FactorGraph().Factors() {
		Rg := f.MultiplyBlocks(g)
		gHg += floats.Dot(Rg, Rg)
	}
	if gHg == 0 {
		return nil, errors.New("linear: zero curvature along the gradient")
	}
	return g.Scale(-gg / gHg), nil
}

// Keys 按升序返回前端变量。
func (bn *GaussianBayesNet) Keys() []key.Key {
	s := key.Set{}
	for _, c := range bn.conditionals {
		s.Add(c.frontal)
	}
	return s.Sorted()
}
