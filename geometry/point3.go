package geometry

import (
	"math"

	"github.com/golang/geo/r3"
)

// Point3 是三维点。切空间为 R^3，retract 即相加。
type Point3 struct {
	r3.Vector
}

// NewPoint3 由坐标构造点。
func NewPoint3(x, y, z float64) Point3 {
	return Point3{r3.Vector{X: x, Y: y, Z: z}}
}

// Dim 是切空间维数。
func (p Point3) Dim() int { return 3 }

// Retract 把点移动 delta。
func (p Point3) Retract(delta []float64) Point3 {
	mustLen(delta, 3)
	return NewPoint3(p.X+delta[0], p.Y+delta[1], p.Z+delta[2])
}

// LocalCoordinates 返回 q - p。
func (p Point3) LocalCoordinates(q Point3) []float64 {
	return []float64{q.X - p.X, q.Y - p.Y, q.Z - p.Z}
}

// Equals 在 tol 内比较坐标。
func (p Point3) Equals(q Point3, tol float64) bool {
	return math.Abs(p.X-q.X) <= tol && math.Abs(p.Y-q.Y) <= tol && math.Abs(p.Z-q.Z) <= tol
}

// Slice 以切片形式返回坐标。
func (p Point3) Slice() []float64 { return []float64{p.X, p.Y, p.Z} }

func mustLen(delta []float64, n int) {
	if len(delta) != n {
		panic("geometry: tangent vector has wrong dimension")
	}
}
