// Package geometry 提供平差因子所用的相机与刚体基本类型：旋转、位姿、点、
// 内参，以及带解析雅可比的针孔投影。
package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const nearZero = 1e-10

// Rot3 是以正交矩阵存储的三维旋转。
type Rot3 struct {
	m [3][3]float64
}

// IdentityRot 返回单位旋转。
func IdentityRot() Rot3 {
	return Rot3{m: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// RotFromMatrix 包装按行存储的 3x3 矩阵，假定其正交。
func RotFromMatrix(m [3][3]float64) Rot3 { return Rot3{m: m} }

// RotFromColumns 以给定轴为列构造旋转。
func RotFromColumns(c1, c2, c3 r3.Vector) Rot3 {
	return Rot3{m: [3][3]float64{
		{c1.X, c2.X, c3.X},
		{c1.Y, c2.Y, c3.Y},
		{c1.Z, c2.Z, c3.Z},
	}}
}

// RotX 是绕 x 轴旋转 t 弧度。
func RotX(t float64) Rot3 {
	s, c := math.Sincos(t)
	return Rot3{m: [3][3]float64{{1, 0, 0}, {0, c, -s}, {0, s, c}}}
}

// RotY 是绕 y 轴旋转 t 弧度。
func RotY(t float64) Rot3 {
	s, c := math.Sincos(t)
	return Rot3{m: [3][3]float64{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}}
}

// RotZ 是绕 z 轴旋转 t 弧度。
func RotZ(t float64) Rot3 {
	s, c := math.Sincos(t)
	return Rot3{m: [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}}
}

// RotFromOmegaPhiKappa 返回依次旋转 omega、phi、kappa 得到的摄影测量旋转矩阵 M。
// M 把物方坐标差变换到像空间坐标系，其 z 轴背离地面。
func RotFromOmegaPhiKappa(omega, phi, kappa float64) Rot3 {
	so, co := math.Sincos(omega)
	sp, cp := math.Sincos(phi)
	sk, ck := math.Sincos(kappa)
	var r Rot3
	r.m[0][0], r.m[0][1], r.m[0][2] = cp*ck, so*sp*ck+co*sk, -co*sp*ck+so*sk
	r.m[1][0], r.m[1][1], r.m[1][2] = -cp*sk, -so*sp*sk+co*ck, co*sp*sk+so*ck
	r.m[2][0], r.m[2][1], r.m[2][2] = sp, -so*cp, co*cp
	return r
}

// OmegaPhiKappa 从 RotFromOmegaPhiKappa 构造的矩阵中恢复角元素。
func (r Rot3) OmegaPhiKappa() (omega, phi, kappa float64) {
	phi = math.Asin(clamp(r.m[2][0], -1, 1))
	omega = math.Atan2(-r.m[2][1], r.m[2][2])
	kappa = math.Atan2(-r.m[1][0], r.m[0][0])
	return omega, phi, kappa
}

// Expmap 用罗德里格斯公式把旋转向量（轴乘角）映射到 SO(3)。
func Expmap(w r3.Vector) Rot3 {
	theta2 := w.Norm2()
	W := skew(w)
	W2 := mul33(W, W)
	var a, b float64
	if theta2 < nearZero*nearZero {
		a, b = 1, 0.5
	} else {
		theta := math.Sqrt(theta2)
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / theta2
	}
	out := IdentityRot()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.m[i][j] += a*W[i][j] + b*W2[i][j]
		}
	}
	return out
}

// Logmap 是 Expmap 的逆，角度取值 [0, pi]。
func (r Rot3) Logmap() r3.Vector {
	m := r.m
	tr := m[0][0] + m[1][1] + m[2][2]
	diff := r3.Vector{X: m[2][1] - m[1][2], Y: m[0][2] - m[2][0], Z: m[1][0] - m[0][1]}

	switch {
	case tr > 3-1e-12:
		// 单位阵附近取一阶近似
		return diff.Mul(0.5)
	case tr+1 < 1e-6:
		// 角度接近 pi，sin(theta) 趋于零，改用对称部分
		i := 0
		if m[1][1] > m[i][i] {
			i = 1
		}
		if m[2][2] > m[i][i] {
			i = 2
		}
		var v [3]float64
		v[i] = math.Sqrt((m[i][i] + 1) / 2)
		for j := 0; j < 3; j++ {
			if j != i {
				v[j] = (m[i][j] + m[j][i]) / (4 * v[i])
			}
		}
		axis := r3.Vector{X: v[0], Y: v[1], Z: v[2]}.Normalize()
		theta := math.Pi - math.Asin(clamp(diff.Norm()/2, 0, 1))
		if diff.Dot(axis) < 0 {
			axis = axis.Mul(-1)
		}
		return axis.Mul(theta)
	default:
		theta := math.Acos(clamp((tr-1)/2, -1, 1))
		return diff.Mul(theta / (2 * math.Sin(theta)))
	}
}

// At 返回 (i, j) 元素。
func (r Rot3) At(i, j int) float64 { return r.m[i][j] }

// Matrix 按行返回元素。
func (r Rot3) Matrix() [3][3]float64 { return r.m }

// Dense 以 gonum 矩阵返回旋转。
func (r Rot3) Dense() *mat.Dense { return dense33(r.m) }

// Column 返回第 j 列。
func (r Rot3) Column(j int) r3.Vector {
	return r3.Vector{X: r.m[0][j], Y: r.m[1][j], Z: r.m[2][j]}
}

// Mul 复合 r*q。
func (r Rot3) Mul(q Rot3) Rot3 { return Rot3{m: mul33(r.m, q.m)} }

// Transpose 返回逆旋转。
func (r Rot3) Transpose() Rot3 { return Rot3{m: transpose33(r.m)} }

// Rotate 计算 R*p。
func (r Rot3) Rotate(p r3.Vector) r3.Vector { return mulVec33(r.m, p) }

// Unrotate 计算 R'*p。
func (r Rot3) Unrotate(p r3.Vector) r3.Vector { return mulVec33(transpose33(r.m), p) }

// Equals 在 tol 内逐元素比较。
func (r Rot3) Equals(q Rot3, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(r.m[i][j]-q.m[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// rightJacobianInverse 是 SO(3) 右雅可比在 w 处的逆。
func rightJacobianInverse(w r3.Vector) [3][3]float64 {
	theta2 := w.Norm2()
	W := skew(w)
	W2 := mul33(W, W)
	c := 1.0 / 12
	if theta2 > nearZero*nearZero {
		theta := math.Sqrt(theta2)
		c = 1/theta2 - (1+math.Cos(theta))/(2*theta*math.Sin(theta))
	}
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = 0.5*W[i][j] + c*W2[i][j]
		}
		out[i][i]++
	}
	return out
}

func skew(v r3.Vector) [3][3]float64 {
	return [3][3]float64{
		{0, -v.Z, v.Y},
		{v.Z, 0, -v.X},
		{-v.Y, v.X, 0},
	}
}

func mul33(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func mulVec33(a [3][3]float64, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: a[0][0]*v.X + a[0][1]*v.Y + a[0][2]*v.Z,
		Y: a[1][0]*v.X + a[1][1]*v.Y + a[1][2]*v.Z,
		Z: a[2][0]*v.X + a[2][1]*v.Y + a[2][2]*v.Z,
	}
}

func transpose33(a [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[j][i] = a[i][j]
		}
	}
	return out
}

func dense33(a [3][3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	})
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
