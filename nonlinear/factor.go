package nonlinear

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/noise"
)

// Factor 是一项代价。实现不可变，其计算只依赖传入的 Values。
type Factor interface {
	// Keys 以固定顺序返回变量。
	Keys() []key.Key
	// Dim 是残差维数。
	Dim() int
	// Evaluate 返回白化后的残差和雅可比。values 缺少某个键时返回 *MissingKeyError。
	Evaluate(values *Values) (*Evaluation, error)
	// Error 即 0.5*||白化残差||^2。
	Error(values *Values) (float64, error)
}

// Evaluation 是在某点线性化的因子。Jacobians[i] 对应 Keys[i]，两者均已白化。
type Evaluation struct {
	Keys      []key.Key
	Residual  []float64
	Jacobians []*mat.Dense
}

// Jacobian 返回 k 对应的块，没有则返回 nil。
func (e *Evaluation) Jacobian(k key.Key) *mat.Dense {
	for i, ek := range e.Keys {
		if ek == k {
			return e.Jacobians[i]
		}
	}
	return nil
}

// Error 即 0.5*||Residual||^2。
func (e *Evaluation) Error() float64 {
	return 0.5 * floats.Dot(e.Residual, e.Residual)
}

// ResidualFunc 计算未白化的残差（预测值 - 观测值）。jacobians 为 true 时按键顺序
// 每个键再返回一个雅可比，否则忽略返回的切片。两种模式的残差必须相同。
type ResidualFunc func(values *Values, jacobians bool) ([]float64, []*mat.Dense, error)

// NoiseModelFactor 是观测因子的基本构件：用噪声模型白化 ResidualFunc。
// 具体因子内嵌它。
type NoiseModelFactor struct {
	keys     []key.Key
	model    noise.Model
	residual ResidualFunc
}

// NewNoiseModelFactor 绑定键、噪声模型和残差函数。
func NewNoiseModelFactor(model noise.Model, keys []key.Key, residual ResidualFunc) (*NoiseModelFactor, error) {
	if model == nil {
		return nil, errors.New("nonlinear: nil noise model")
	}
	if len(keys) == 0 {
		return nil, errors.New("nonlinear: factor without keys")
	}
	seen := key.Set{}
	for _, k := range keys {
		if seen.Has(k) {
			return nil, errors.Errorf("nonlinear: duplicate key %s in factor", k)
		}
		seen.Add(k)
	}
	return &NoiseModelFactor{keys: append([]key.Key(nil), keys...), model: model, residual: residual}, nil
}

// Keys 实现 Factor。
func (f *NoiseModelFactor) Keys() []key.Key { return f.keys }

// Dim 实现 Factor。
func (f *NoiseModelFactor) Dim() int { return f.model.Dim() }

// NoiseModel 返回噪声模型。
func (f *NoiseModelFactor) NoiseModel() noise.Model { return f.model }

// CheckKeys 对 values 中缺少的第一个键返回 *MissingKeyError。
func (f *NoiseModelFactor) CheckKeys(values *Values) error {
	for _, k := range f.keys {
		if !values.Exists(k) {
			return &MissingKeyError{Key: k}
		}
	}
	return nil
}

// UnwhitenedError 是不经噪声模型的 0.5*||残差||^2。
func (f *NoiseModelFactor) UnwhitenedError(values *Values) (float64, error) {
	if err := f.CheckKeys(values); err != nil {
		return 0, err
	}
	r, _, err := f.residual(values, false)
	if err != nil {
		return 0, err
	}
	return 0.5 * floats.Dot(r, r), nil
}

// Evaluate 实现 Factor。
func (f *NoiseModelFactor) Evaluate(values *Values) (*Evaluation, error) {
	if err := f.CheckKeys(values); err != nil {
		return nil, err
	}
	r, H, err := f.residual(values, true)
	if err != nil {
		return nil, err
	}
	if len(H) != len(f.keys) {
		return nil, errors.Errorf("nonlinear: %d jacobians for %d keys", len(H), len(f.keys))
	}
	wr, err := f.model.Whiten(r)
	if err != nil {
		return nil, err
	}
	ev := &Evaluation{Keys: f.keys, Residual: wr, Jacobians: make([]*mat.Dense, len(H))}
	for i, J := range H {
		if ev.Jacobians[i], err = f.model.WhitenJacobian(J); err != nil {
			return nil, errors.Wrapf(err, "jacobian of %s", f.keys[i])
		}
	}
	return ev, nil
}

// Error 实现 Factor。
func (f *NoiseModelFactor) Error(values *Values) (float64, error) {
	if err := f.CheckKeys(values); err != nil {
		return 0, err
	}
	r, _, err := f.residual(values, false)
	if err != nil {
		return 0, err
	}
	wr, err := f.model.Whiten(r)
	if err != nil {
		return 0, err
	}
	return 0.5 * floats.Dot(wr, wr), nil
}
