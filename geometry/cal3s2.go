package geometry

import (
	"math"

	"github.com/golang/geo/r2"
)

// Cal3S2 是五参数针孔内参：焦距、倾斜与像主点。
type Cal3S2 struct {
	Fx, Fy, S, U0, V0 float64
}

// NewCal3S2 由参数构造内参。
func NewCal3S2(fx, fy, s, u0, v0 float64) Cal3S2 {
	return Cal3S2{Fx: fx, Fy: fy, S: s, U0: u0, V0: v0}
}

// Uncalibrate 把归一化像点坐标变换为像素坐标。
func (k Cal3S2) Uncalibrate(p r2.Point) r2.Point {
	return r2.Point{X: k.Fx*p.X + k.S*p.Y + k.U0, Y: k.Fy*p.Y + k.V0}
}

// Calibrate 把像素坐标变换为归一化像点坐标。
func (k Cal3S2) Calibrate(uv r2.Point) r2.Point {
	y := (uv.Y - k.V0) / k.Fy
	x := (uv.X - k.U0 - k.S*y) / k.Fx
	return r2.Point{X: x, Y: y}
}

// Equals 在 tol 内比较参数。
func (k Cal3S2) Equals(o Cal3S2, tol float64) bool {
	return math.Abs(k.Fx-o.Fx) <= tol && math.Abs(k.Fy-o.Fy) <= tol &&
		math.Abs(k.S-o.S) <= tol && math.Abs(k.U0-o.U0) <= tol && math.Abs(k.V0-o.V0) <= tol
}
