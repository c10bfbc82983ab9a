package linear

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/hhyanyan/bbagraph/key"
)

// VectorValues 把变量映射到切空间向量。
type VectorValues map[key.Key][]float64

// ZeroVectorValues 返回给定维数的零向量。
func ZeroVectorValues(dims map[key.Key]int) VectorValues {
	out := make(VectorValues, len(dims))
	for k, d := range dims {
		out[k] = make([]float64, d)
	}
	return out
}

// Keys 按升序返回变量。
func (v VectorValues) Keys() []key.Key {
	out := make([]key.Key, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	key.Sort(out)
	return out
}

// Dim 是总维数。
func (v VectorValues) Dim() int {
	n := 0
	for _, x := range v {
		n += len(x)
	}
	return n
}

// Vector 按给定顺序拼接各块。
func (v VectorValues) Vector(order []key.Key) []float64 {
	var out []float64
	for _, k := range order {
		out = append(out, v[k]...)
	}
	return out
}

// Clone 深拷贝。
func (v VectorValues) Clone() VectorValues {
	out := make(VectorValues, len(v))
	for k, x := range v {
		out[k] = append([]float64(nil), x...)
	}
	return out
}

// Add 在键的并集上返回 v + o。
func (v VectorValues) Add(o VectorValues) VectorValues {
	return v.addScaled(1, o)
}

// Subtract 在键的并集上返回 v - o。
func (v VectorValues) Subtract(o VectorValues) VectorValues {
	return v.addScaled(-1, o)
}

func (v VectorValues) addScaled(alpha float64, o VectorValues) VectorValues {
	out := v.Clone()
	for k, x := range o {
		if cur, ok := out[k]; ok {
			floats.AddScaled(cur, alpha, x)
			continue
		}
		y := make([]float64, len(x))
		floats.AddScaled(y, alpha, x)
		out[k] = y
	}
	return out
}

// Scale 返回 alpha*v。
func (v VectorValues) Scale(alpha float64) VectorValues {
	out := v.Clone()
	for _, x := range out {
		floats.Scale(alpha, x)
	}
	return out
}

// Dot 是两者共有键上的内积。
func (v VectorValues) Dot(o VectorValues) float64 {
	var sum float64
	for _, k := range v.Keys() {
		if y, ok := o[k]; ok {
			sum += floats.Dot(v[k], y)
		}
	}
	return sum
}

func (v VectorValues) SquaredNorm() float64 { return v.Dot(v) }

func (v VectorValues) Norm() float64 { return math.Sqrt(v.SquaredNorm()) }

// Equals 在 tol 内比较键和元素。
func (v VectorValues) Equals(o VectorValues, tol float64) bool {
	if len(v) != len(o) {
		return false
	}
	for k, x := range v {
		y, ok := o[k]
		if !ok || !floats.EqualApprox(x, y, tol) {
			return false
		}
	}
	return true
}
