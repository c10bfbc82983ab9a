package slam

import (
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/noise"
	"github.com/hhyanyan/bbagraph/nonlinear"
)

// localCoordinatesJacobian 由 LocalCoordinates 在 retract 坐标下不是恒等映射的类型实现，
// 例如 geometry.Pose3。
type localCoordinatesJacobian[T any] interface {
	LocalCoordinatesJacobian(other T) *mat.Dense
}

// PriorFactor 把变量约束到观测值，残差为 measured.LocalCoordinates(x)。
type PriorFactor[T nonlinear.Manifold[T]] struct {
	*nonlinear.NoiseModelFactor
	key      key.Key
	measured T
}

// NewPriorFactor 构造 k 上的先验。
func NewPriorFactor[T nonlinear.Manifold[T]](k key.Key, measured T, model noise.Model) (*PriorFactor[T], error) {
	if model != nil && model.Dim() != measured.Dim() {
		return nil, &noise.DimensionMismatchError{Expected: measured.Dim(), Actual: model.Dim()}
	}
	f := &PriorFactor[T]{key: k, measured: measured}
	base, err := nonlinear.NewNoiseModelFactor(model, []key.Key{k}, f.residual)
	if err != nil {
		return nil, err
	}
	f.NoiseModelFactor = base
	return f, nil
}

// Measured 返回先验值。
func (f *PriorFactor[T]) Measured() T { return f.measured }

func (f *PriorFactor[T]) residual(values *nonlinear.Values, jacobians bool) ([]float64, []*mat.Dense, error) {
	x, err := nonlinear.At[T](values, f.key)
	if err != nil {
		return nil, nil, err
	}
	r := f.measured.LocalCoordinates(x)
	if !jacobians {
		return r, nil, nil
	}
	if lj, ok := any(f.measured).(localCoordinatesJacobian[T]); ok {
		return r, []*mat.Dense{lj.LocalCoordinatesJacobian(x)}, nil
	}
	n := len(r)
	H := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		H.Set(i, i, 1)
	}
	return r, []*mat.Dense{H}, nil
}
