package nonlinear

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/linear"
)

// Manifold 是变量类型 T 的约定：切空间的 retract 及其逆。
// geometry.Pose3 和 geometry.Point3 都满足它。
type Manifold[T any] interface {
	Dim() int
	Retract(delta []float64) T
	LocalCoordinates(other T) []float64
	Equals(other T, tol float64) bool
}

// Value 是 Values 中保存的擦除了类型的变量。
type Value interface {
	Dim() int
	Retract(delta []float64) Value
	// other 类型不同时 LocalCoordinates 返回错误。
	LocalCoordinates(other Value) ([]float64, error)
	Equals(other Value, tol float64) bool
	// Interface 返回被包装的变量。
	Interface() any
}

// NewValue 包装流形变量。
func NewValue[T Manifold[T]](x T) Value { return manifoldValue[T]{x} }

type manifoldValue[T Manifold[T]] struct {
	v T
}

func (m manifoldValue[T]) Dim() int { return m.v.Dim() }

func (m manifoldValue[T]) Retract(delta []float64) Value { return manifoldValue[T]{m.v.Retract(delta)} }

func (m manifoldValue[T]) LocalCoordinates(other Value) ([]float64, error) {
	o, ok := other.(manifoldValue[T])
	if !ok {
		return nil, &TypeMismatchError{Expected: typeName[T](), Actual: fmt.Sprintf("%T", other.Interface())}
	}
	return m.v.LocalCoordinates(o.v), nil
}

func (m manifoldValue[T]) Equals(other Value, tol float64) bool {
	o, ok := other.(manifoldValue[T])
	return ok && m.v.Equals(o.v, tol)
}

func (m manifoldValue[T]) Interface() any { return m.v }

func typeName[T any]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

// Values 是变量存储：按变量保存当前估计。同一时刻只归一个 goroutine 使用，
// 优化器在副本上工作。
type Values struct {
	m map[key.Key]Value
}

// NewValues 返回空存储。
func NewValues() *Values {
	return &Values{m: make(map[key.Key]Value)}
}

// Insert 加入带类型的变量，k 已存在时返回 ErrKeyExists。
func Insert[T Manifold[T]](v *Values, k key.Key, x T) error {
	return v.InsertValue(k, NewValue(x))
}

// Update 替换带类型的变量。k 不存在时返回 *MissingKeyError，
// 类型不同时返回 *TypeMismatchError。
func Update[T Manifold[T]](v *Values, k key.Key, x T) error {
	if _, err := At[T](v, k); err != nil {
		return err
	}
	v.m[k] = NewValue(x)
	return nil
}

// At 以 T 类型返回 k 处的变量。
func At[T Manifold[T]](v *Values, k key.Key) (T, error) {
	var zero T
	val, ok := v.m[k]
	if !ok {
		return zero, &MissingKeyError{Key: k}
	}
	x, ok := val.Interface().(T)
	if !ok {
		return zero, &TypeMismatchError{Key: k, Expected: typeName[T](), Actual: fmt.Sprintf("%T", val.Interface())}
	}
	return x, nil
}

// InsertValue 加入擦除了类型的变量。
func (v *Values) InsertValue(k key.Key, x Value) error {
	if _, ok := v.m[k]; ok {
		return errors.Wrapf(ErrKeyExists, "insert %s", k)
	}
	v.m[k] = x
	return nil
}

// Value 返回 k 处擦除了类型的变量。
func (v *Values) Value(k key.Key) (Value, error) {
	val, ok := v.m[k]
	if !ok {
		return nil, &MissingKeyError{Key: k}
	}
	return val, nil
}

// Pose3 返回 k 处的位姿。
func (v *Values) Pose3(k key.Key) (geometry.Pose3, error) { return At[geometry.Pose3](v, k) }

// Point3 返回 k 处的点。
func (v *Values) Point3(k key.Key) (geometry.Point3, error) { return At[geometry.Point3](v, k) }

// Exists 判断 k 是否存在。
func (v *Values) Exists(k key.Key) bool {
	_, ok := v.m[k]
	return ok
}

// Len 是变量个数。
func (v *Values) Len() int { return len(v.m) }

// Keys 按升序返回变量。
func (v *Values) Keys() []key.Key {
	out := make([]key.Key, 0, len(v.m))
	for k := range v.m {
		out = append(out, k)
	}
	key.Sort(out)
	return out
}

// Dims 返回每个变量的切空间维数。
func (v *Values) Dims() map[key.Key]int {
	out := make(map[key.Key]int, len(v.m))
	for k, x := range v.m {
		out[k] = x.Dim()
	}
	return out
}

// Clone 复制存储。变量不可变，因此共享。
func (v *Values) Clone() *Values {
	out := &Values{m: make(map[key.Key]Value, len(v.m))}
	for k, x := range v.m {
		out.m[k] = x
	}
	return out
}

// Retract 返回新存储，每个变量按其增量移动，没有增量的变量原样保留。
func (v *Values) Retract(delta linear.VectorValues) (*Values, error) {
	out := v.Clone()
	for k, d := range delta {
		x, ok := v.m[k]
		if !ok {
			return nil, &MissingKeyError{Key: k}
		}
		if len(d) != x.Dim() {
			return nil, errors.Wrapf(linear.ErrDimensionMismatch, "delta for %s has %d entries, want %d", k, len(d), x.Dim())
		}
		out.m[k] = x.Retract(d)
	}
	return out, nil
}

// LocalCoordinates 返回把 v 变到 other 的切向量，
// 使 v.Retract(v.LocalCoordinates(other)) 等于 other。
func (v *Values) LocalCoordinates(other *Values) (linear.VectorValues, error) {
	out := make(linear.VectorValues, len(v.m))
	for k, x := range v.m {
		y, ok := other.m[k]
		if !ok {
			return nil, &MissingKeyError{Key: k}
		}
		d, err := x.LocalCoordinates(y)
		if err != nil {
			var tm *TypeMismatchError
			if errors.As(err, &tm) {
				tm.Key = k
			}
			return nil, err
		}
		out[k] = d
	}
	return out, nil
}

// Equals 判断两个存储的键相同且值在 tol 内相等。
func (v *Values) Equals(other *Values, tol float64) bool {
	if len(v.m) != len(other.m) {
		return false
	}
	for k, x := range v.m {
		y, ok := other.m[k]
		if !ok || !x.Equals(y, tol) {
			return false
		}
	}
	return true
}
