package geometry

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PinholeCamera 是位于某位姿的已标定相机。相机沿本体 z 轴观察，
// 像方 x 向右、y 向下。
type PinholeCamera struct {
	Pose Pose3
	K    Cal3S2
}

// LookAt 把相机放在 eye 处，以给定的上方向对准 target。
func LookAt(eye, target Point3, up r3.Vector, k Cal3S2) (PinholeCamera, error) {
	zc := target.Sub(eye.Vector)
	if zc.Norm() == 0 {
		return PinholeCamera{}, errors.New("look-at: eye and target coincide")
	}
	zc = zc.Normalize()
	xc := up.Mul(-1).Cross(zc)
	if xc.Norm() < nearZero {
		return PinholeCamera{}, errors.New("look-at: up vector parallel to viewing direction")
	}
	xc = xc.Normalize()
	yc := zc.Cross(xc)
	return PinholeCamera{Pose: Pose3{R: RotFromColumns(xc, yc, zc), T: eye}, K: k}, nil
}

// Project 把物方点投影为像素坐标。
func (c PinholeCamera) Project(p Point3) (r2.Point, error) {
	pc := c.Pose.TransformTo(p)
	if pc.Z <= 0 {
		return r2.Point{}, &CheiralityError{Depth: pc.Z}
	}
	d := 1 / pc.Z
	return c.K.Uncalibrate(r2.Point{X: pc.X * d, Y: pc.Y * d}), nil
}

// ProjectWithJacobians 投影 p，并返回对位姿切空间的 2x6 导数和对点的 2x3 导数。
func (c PinholeCamera) ProjectWithJacobians(p Point3) (r2.Point, *mat.Dense, *mat.Dense, error) {
	pc := c.Pose.TransformTo(p)
	if pc.Z <= 0 {
		return r2.Point{}, nil, nil, &CheiralityError{Depth: pc.Z}
	}
	d := 1 / pc.Z
	u, v := pc.X*d, pc.Y*d
	uv := c.K.Uncalibrate(r2.Point{X: u, Y: v})

	// d(像素)/d(相机坐标) = K * d(归一化坐标)/d(相机坐标)
	dpn := [2][3]float64{{d, 0, -u * d}, {0, d, -v * d}}
	var dpc [2][3]float64
	for j := 0; j < 3; j++ {
		dpc[0][j] = c.K.Fx*dpn[0][j] + c.K.S*dpn[1][j]
		dpc[1][j] = c.K.Fy * dpn[1][j]
	}

	// d(相机坐标)/d(位姿) = [skew(pc), -I]，d(相机坐标)/d(点) = R'
	sk := skew(pc)
	rt := transpose33(c.Pose.R.m)
	Dpose := mat.NewDense(2, 6, nil)
	Dpoint := mat.NewDense(2, 3, nil)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			var a, b float64
			for k := 0; k < 3; k++ {
				a += dpc[i][k] * sk[k][j]
				b += dpc[i][k] * rt[k][j]
			}
			Dpose.Set(i, j, a)
			Dpose.Set(i, 3+j, -dpc[i][j])
			Dpoint.Set(i, j, b)
		}
	}
	return uv, Dpose, Dpoint, nil
}

// Backproject 返回过像素 uv 的光线上、给定深度处的物方点。
func (c PinholeCamera) Backproject(uv r2.Point, depth float64) Point3 {
	pn := c.K.Calibrate(uv)
	return c.Pose.TransformFrom(r3.Vector{X: pn.X * depth, Y: pn.Y * depth, Z: depth})
}
