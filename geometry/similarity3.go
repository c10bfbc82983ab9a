package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Similarity3 把 p 变为 S*R*p + T。切向量为 [w; v; l]：旋转在右侧更新，
// T 在世界坐标中加 v，比例乘以 exp(l)。
type Similarity3 struct {
	R Rot3
	T r3.Vector
	S float64
}

// IdentitySimilarity 是单位变换。
func IdentitySimilarity() Similarity3 { return Similarity3{R: IdentityRot(), S: 1} }

// NewSimilarity3 构造相似变换。
func NewSimilarity3(r Rot3, t r3.Vector, s float64) Similarity3 {
	return Similarity3{R: r, T: t, S: s}
}

// Dim 是切空间维数。
func (s Similarity3) Dim() int { return 7 }

// Retract 施加切向量 [w; v; l]。
func (s Similarity3) Retract(delta []float64) Similarity3 {
	mustLen(delta, 7)
	w := r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]}
	return Similarity3{
		R: s.R.Mul(Expmap(w)),
		T: s.T.Add(r3.Vector{X: delta[3], Y: delta[4], Z: delta[5]}),
		S: s.S * math.Exp(delta[6]),
	}
}

// LocalCoordinates 返回把 s 变到 q 的切向量。
func (s Similarity3) LocalCoordinates(q Similarity3) []float64 {
	w := s.R.Transpose().Mul(q.R).Logmap()
	v := q.T.Sub(s.T)
	return []float64{w.X, w.Y, w.Z, v.X, v.Y, v.Z, math.Log(q.S / s.S)}
}

// Equals 在 tol 内比较旋转、平移和比例。
func (s Similarity3) Equals(q Similarity3, tol float64) bool {
	return s.R.Equals(q.R, tol) && Point3{s.T}.Equals(Point3{q.T}, tol) && math.Abs(s.S-q.S) <= tol
}

// TransformFrom 把源坐标系中的点变换到目标坐标系。
func (s Similarity3) TransformFrom(p Point3) Point3 {
	return Point3{s.R.Rotate(p.Vector).Mul(s.S).Add(s.T)}
}

// TransformFromJacobians 返回 TransformFrom(p) 对 s 的 retract 的导数 (3x7)
// 和对 p 的导数 (3x3)。
func (s Similarity3) TransformFromJacobians(p Point3) (Ds, Dp *mat.Dense) {
	rp := s.R.Rotate(p.Vector)
	// d(S R exp(w) p)/dw = -S R [p]x
	rs := mul33(s.R.m, skew(p.Vector))
	Ds = mat.NewDense(3, 7, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			Ds.Set(i, j, -s.S*rs[i][j])
		}
		Ds.Set(i, 3+i, 1)
	}
	Ds.Set(0, 6, s.S*rp.X)
	Ds.Set(1, 6, s.S*rp.Y)
	Ds.Set(2, 6, s.S*rp.Z)

	Dp = mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			Dp.Set(i, j, s.S*s.R.m[i][j])
		}
	}
	return Ds, Dp
}

// OmegaPhiKappa 返回旋转矩阵 M = Rᵀ 的角元素。
func (s Similarity3) OmegaPhiKappa() (omega, phi, kappa float64) {
	return s.R.Transpose().OmegaPhiKappa()
}
