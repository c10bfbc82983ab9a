package nonlinear

import (
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/linear"
)

// Marginals 由线性化后的图求估计的高斯边缘分布。单变量协方差共用一次消元；
// 联合查询把所求变量放在最后消元，末尾的条件密度即其边缘分布的平方根信息矩阵。
type Marginals struct {
	gfg    *linear.GaussianFactorGraph
	values *Values
	order  linear.Ordering

	once  sync.Once
	bn    *linear.GaussianBayesNet
	bnErr error
}

// NewMarginals 在 values 处线性化一次并保存线性系统。
func NewMarginals(graph *FactorGraph, values *Values, opts ...LinearizeOption) (*Marginals, error) {
	gfg, err := graph.Linearize(values, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "linearize for marginals")
	}
	return &Marginals{
		gfg:    gfg,
		values: values.Clone(),
		order:  linear.MinDegreeOrdering(gfg.KeySets()),
	}, nil
}

// MarginalInformation 返回 k 在其切空间中的信息矩阵。
func (m *Marginals) MarginalInformation(k key.Key) (*mat.SymDense, error) {
	jm, err := m.jointInformation([]key.Key{k})
	if err != nil {
		return nil, err
	}
	return jm.full, nil
}

// MarginalCovariance 返回 k 的协方差，位姿为 6x6，点为 3x3。
func (m *Marginals) MarginalCovariance(k key.Key) (*mat.SymDense, error) {
	dims, err := m.gfg.Dims()
	if err != nil {
		return nil, err
	}
	d, ok := dims[k]
	if !ok || !m.values.Exists(k) {
		return nil, &MissingKeyError{Key: k}
	}
	bn, err := m.bayesNet()
	if err != nil {
		return nil, err
	}

	// cov = (R'R)^-1，故其 k 块为 Y'Y，其中 R'Y = E_k。
	order := bn.Ordering()
	rhs := linear.ZeroVectorValues(dims)
	cols := make([][]float64, d)
	for j := range cols {
		rhs[k] = make([]float64, d)
		rhs[k][j] = 1
		y, err := bn.BackSubstituteTranspose(rhs)
		if err != nil {
			return nil, &SolveError{cause: err}
		}
		cols[j] = y.Vector(order)
	}
	cov := mat.NewSymDense(d, nil)
	for a := 0; a < d; a++ {
		for b := a; b < d; b++ {
			cov.SetSym(a, b, floats.Dot(cols[a], cols[b]))
		}
	}
	return cov, nil
}

// bayesNet 按减少填充的顺序只消元一次。
func (m *Marginals) bayesNet() (*linear.GaussianBayesNet, error) {
	m.once.Do(func() {
		bn, err := m.gfg.Eliminate(m.order)
		if err != nil {
			m.bnErr = &SolveError{cause: err}
			return
		}
		m.bn = bn
	})
	return m.bn, m.bnErr
}

// JointMarginalInformation 返回 keys 的联合信息矩阵，分块按给定顺序。
func (m *Marginals) JointMarginalInformation(keys ...key.Key) (*JointMarginal, error) {
	return m.jointInformation(keys)
}

// JointMarginalCovariance 返回 keys 的联合协方差，分块按给定顺序。
func (m *Marginals) JointMarginalCovariance(keys ...key.Key) (*JointMarginal, error) {
	jm, err := m.jointInformation(keys)
	if err != nil {
		return nil, err
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(jm.full); !ok {
		return nil, &SolveError{cause: errors.Errorf("information of %v is not positive definite", keys)}
	}
	cov := mat.NewSymDense(jm.full.SymmetricDim(), nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, &SolveError{cause: err}
	}
	jm.full = cov
	return jm, nil
}

func (m *Marginals) jointInformation(keys []key.Key) (*JointMarginal, error) {
	if len(keys) == 0 {
		return nil, errors.New("nonlinear: no keys requested")
	}
	dims, err := m.gfg.Dims()
	if err != nil {
		return nil, err
	}
	seen := key.Set{}
	for _, k := range keys {
		if seen.Has(k) {
			return nil, errors.Errorf("nonlinear: key %s requested twice", k)
		}
		seen.Add(k)
		if _, ok := dims[k]; !ok || !m.values.Exists(k) {
			return nil, &MissingKeyError{Key: k}
		}
	}

	bn, err := m.gfg.Eliminate(m.order.WithLast(keys...))
	if err != nil {
		return nil, &SolveError{cause: err}
	}
	tail := linear.NewGaussianBayesNet(bn.Conditionals()[bn.Size()-len(keys):]...)
	R, _, err := tail.Matrix()
	if err != nil {
		return nil, err
	}
	n, _ := R.Dims()
	info := mat.NewSymDense(n, nil)
	info.SymOuterK(1, R.T())

	jm := &JointMarginal{
		keys:    append([]key.Key(nil), keys...),
		offsets: make(map[key.Key]int, len(keys)),
		dims:    make(map[key.Key]int, len(keys)),
		full:    info,
	}
	off := 0
	for _, k := range keys {
		jm.offsets[k] = off
		jm.dims[k] = dims[k]
		off += dims[k]
	}
	return jm, nil
}

// JointMarginal 是多个变量的联合协方差或信息矩阵。
type JointMarginal struct {
	keys    []key.Key
	offsets map[key.Key]int
	dims    map[key.Key]int
	full    *mat.SymDense
}

// Keys 按分块顺序返回变量。
func (j *JointMarginal) Keys() []key.Key { return j.keys }

// Full 返回整个矩阵。
func (j *JointMarginal) Full() *mat.SymDense { return j.full }

// At 返回 (k1, k2) 块的副本。
func (j *JointMarginal) At(k1, k2 key.Key) (*mat.Dense, error) {
	o1, ok := j.offsets[k1]
	if !ok {
		return nil, &MissingKeyError{Key: k1}
	}
	o2, ok := j.offsets[k2]
	if !ok {
		return nil, &MissingKeyError{Key: k2}
	}
	out := mat.NewDense(j.dims[k1], j.dims[k2], nil)
	for r := 0; r < j.dims[k1]; r++ {
		for c := 0; c < j.dims[k2]; c++ {
			out.Set(r, c, j.full.At(o1+r, o2+c))
		}
	}
	return out, nil
}
