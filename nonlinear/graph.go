package nonlinear

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/linear"
)

// FactorGraph 是只追加的因子序列。不能并发修改，但可以被多个读者
// （包括多个优化器）共享。
type FactorGraph struct {
	factors []Factor
}

// NewFactorGraph 把因子收集成图。
func NewFactorGraph(factors ...Factor) *FactorGraph {
	return &FactorGraph{factors: append([]Factor(nil), factors...)}
}

// Add 追加因子。
func (g *FactorGraph) Add(factors ...Factor) {
	g.factors = append(g.factors, factors...)
}

// Size 是因子个数。
func (g *FactorGraph) Size() int { return len(g.factors) }

func (g *FactorGraph) At(i int) Factor { return g.factors[i] }

// Factors 按加入顺序返回因子，返回的切片不得修改。
func (g *FactorGraph) Factors() []Factor { return g.factors }

// Keys 按升序返回图中引用的全部变量。
func (g *FactorGraph) Keys() []key.Key {
	s := key.Set{}
	for _, f := range g.factors {
		s.Add(f.Keys()...)
	}
	return s.Sorted()
}

// Error 是 values 处的总代价 0.5*sum ||白化残差||^2。
func (g *FactorGraph) Error(values *Values) (float64, error) {
	var sum float64
	for i, f := range g.factors {
		e, err := f.Error(values)
		if err != nil {
			return 0, errors.Wrapf(err, "factor %d", i)
		}
		sum += e
	}
	return sum, nil
}

type linearizeOptions struct {
	workers int
}

// LinearizeOption 配置 Linearize。
type LinearizeOption func(*linearizeOptions)

// WithWorkers 最多用 n 个 goroutine 计算因子。每个因子写自己的槽位，
// 结果与串行计算相同。
func WithWorkers(n int) LinearizeOption {
	return func(o *linearizeOptions) {
		o.workers = n
	}
}

// Linearize 在 values 处计算全部因子，返回白化线性系统 A*delta = b，
// b 为白化残差取负。它在 delta = 0 处的误差等于 g.Error(values)。
func (g *FactorGraph) Linearize(values *Values, opts ...LinearizeOption) (*linear.GaussianFactorGraph, error) {
	o := linearizeOptions{workers: 1}
	for _, opt := range opts {
		opt(&o)
	}

	out := make([]*linear.JacobianFactor, len(g.factors))
	linearizeOne := func(i int) error {
		ev, err := g.factors[i].Evaluate(values)
		if err != nil {
			return errors.Wrapf(err, "factor %d", i)
		}
		b := make([]float64, len(ev.Residual))
		for j, r := range ev.Residual {
			b[j] = -r
		}
		jf, err := linear.NewJacobianFactor(ev.Keys, ev.Jacobians, b)
		if err != nil {
			return errors.Wrapf(err, "factor %d", i)
		}
		out[i] = jf
		return nil
	}

	if o.workers <= 1 {
		for i := range g.factors {
			if err := linearizeOne(i); err != nil {
				return nil, err
			}
		}
		return linear.NewGaussianFactorGraph(out...), nil
	}

	var eg errgroup.Group
	eg.SetLimit(o.workers)
	for i := range g.factors {
		eg.Go(func() error { return linearizeOne(i) })
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return linear.NewGaussianFactorGraph(out...), nil
}
