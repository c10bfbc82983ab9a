package geometry

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Pose3 是刚体变换。R 把本体坐标旋转到世界坐标系，T 是本体原点的世界坐标，
// 对相机而言 R 是相机到世界的旋转，T 是投影中心。
//
// 切向量为 [w; v]（旋转在前）。retract 在右侧扰动旋转，在本体系内平移：
//
//	R' = R * Exp(w),  T' = T + R*v
//
// LocalCoordinates 是它的精确逆运算。
type Pose3 struct {
	R Rot3
	T Point3
}

// IdentityPose 返回单位变换。
func IdentityPose() Pose3 { return Pose3{R: IdentityRot()} }

// NewPose3 由旋转和平移构造位姿。
func NewPose3(r Rot3, t Point3) Pose3 { return Pose3{R: r, T: t} }

// AerialPose 由摄影测量外方位元素构造相机位姿：omega、phi、kappa 三个角和投影中心。
// 相机沿 omega-phi-kappa 像空间坐标系的负 z 轴观察。
func AerialPose(omega, phi, kappa float64, center Point3) Pose3 {
	m := RotFromOmegaPhiKappa(omega, phi, kappa)
	return Pose3{R: m.Transpose().Mul(imageFlip), T: center}
}

var imageFlip = RotFromMatrix([3][3]float64{{1, 0, 0}, {0, -1, 0}, {0, 0, -1}})

// OmegaPhiKappa 返回航摄位姿的外方位角元素。
func (p Pose3) OmegaPhiKappa() (omega, phi, kappa float64) {
	return imageFlip.Mul(p.R.Transpose()).OmegaPhiKappa()
}

// Dim 是切空间维数。
func (p Pose3) Dim() int { return 6 }

// Retract 施加切向量 [w; v]。
func (p Pose3) Retract(delta []float64) Pose3 {
	mustLen(delta, 6)
	w := r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]}
	v := r3.Vector{X: delta[3], Y: delta[4], Z: delta[5]}
	return Pose3{
		R: p.R.Mul(Expmap(w)),
		T: Point3{p.T.Add(p.R.Rotate(v))},
	}
}

// LocalCoordinates 返回把 p 变到 q 的切向量。
func (p Pose3) LocalCoordinates(q Pose3) []float64 {
	w := p.R.Transpose().Mul(q.R).Logmap()
	v := p.R.Unrotate(q.T.Sub(p.T.Vector))
	return []float64{w.X, w.Y, w.Z, v.X, v.Y, v.Z}
}

// LocalCoordinatesJacobian 是 p.LocalCoordinates(q) 对 q 的 retract 的导数。
func (p Pose3) LocalCoordinatesJacobian(q Pose3) *mat.Dense {
	rel := p.R.Transpose().Mul(q.R)
	jr := rightJacobianInverse(rel.Logmap())
	H := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			H.Set(i, j, jr[i][j])
			H.Set(3+i, 3+j, rel.m[i][j])
		}
	}
	return H
}

// Compose 返回 p*q。
func (p Pose3) Compose(q Pose3) Pose3 {
	return Pose3{R: p.R.Mul(q.R), T: Point3{p.T.Add(p.R.Rotate(q.T.Vector))}}
}

// ComposeJacobian 是 p.Compose(q) 对 p 的 retract 的导数，
// 表示在复合结果的切空间中。
func (p Pose3) ComposeJacobian(q Pose3) *mat.Dense {
	rqT := transpose33(q.R.m)
	cross := mul33(rqT, skew(q.T.Vector))
	H := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			H.Set(i, j, rqT[i][j])
			H.Set(3+i, j, -cross[i][j])
			H.Set(3+i, 3+j, rqT[i][j])
		}
	}
	return H
}

// Inverse 返回逆变换。
func (p Pose3) Inverse() Pose3 {
	rt := p.R.Transpose()
	return Pose3{R: rt, T: Point3{rt.Rotate(p.T.Vector).Mul(-1)}}
}

// Between 返回 p^-1 * q。
func (p Pose3) Between(q Pose3) Pose3 { return p.Inverse().Compose(q) }

// TransformTo 把世界坐标点变换到本体坐标系。
func (p Pose3) TransformTo(pt Point3) r3.Vector {
	return p.R.Unrotate(pt.Sub(p.T.Vector))
}

// TransformFrom 把本体坐标点变换到世界坐标系。
func (p Pose3) TransformFrom(pt r3.Vector) Point3 {
	return Point3{p.R.Rotate(pt).Add(p.T.Vector)}
}

// Equals 在 tol 内比较旋转和平移。
func (p Pose3) Equals(q Pose3, tol float64) bool {
	return p.R.Equals(q.R, tol) && p.T.Equals(q.T, tol)
}
