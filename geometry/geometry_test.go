package geometry

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

func numericJacobian(rows, cols int, f func(x []float64) []float64) *mat.Dense {
	J := mat.NewDense(rows, cols, nil)
	fd.Jacobian(J, func(y, x []float64) { copy(y, f(x)) }, make([]float64, cols), &fd.JacobianSettings{Formula: fd.Central})
	return J
}

func TestExpmapLogmapRoundTrip(t *testing.T) {
	cases := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 1e-12, Y: -2e-12, Z: 0},
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: 1, Y: 2, Z: -0.5},
		{X: 0, Y: 0, Z: math.Pi - 1e-7},
		{X: math.Pi / math.Sqrt(2), Y: math.Pi / math.Sqrt(2), Z: 0},
	}
	for _, w := range cases {
		R := Expmap(w)
		back := Expmap(R.Logmap())
		assert.True(t, R.Equals(back, 1e-9), "round trip failed for %v", w)
	}
}

func TestExpmapIsOrthonormal(t *testing.T) {
	R := Expmap(r3.Vector{X: 0.3, Y: 0.7, Z: -1.1})
	assert.True(t, R.Mul(R.Transpose()).Equals(IdentityRot(), 1e-12))
}

func TestElementaryRotations(t *testing.T) {
	assert.True(t, RotZ(0.4).Equals(Expmap(r3.Vector{Z: 0.4}), 1e-12))
	assert.True(t, RotX(-0.2).Equals(Expmap(r3.Vector{X: -0.2}), 1e-12))
	assert.True(t, RotY(1.3).Equals(Expmap(r3.Vector{Y: 1.3}), 1e-12))
}

func TestOmegaPhiKappaRoundTrip(t *testing.T) {
	o, p, k := 0.01, -0.01, 0.005
	M := RotFromOmegaPhiKappa(o, p, k)
	o2, p2, k2 := M.OmegaPhiKappa()
	assert.InDelta(t, o, o2, 1e-12)
	assert.InDelta(t, p, p2, 1e-12)
	assert.InDelta(t, k, k2, 1e-12)

	pose := AerialPose(o, p, k, NewPoint3(100, 200, 600))
	o3, p3, k3 := pose.OmegaPhiKappa()
	assert.InDelta(t, o, o3, 1e-12)
	assert.InDelta(t, p, p3, 1e-12)
	assert.InDelta(t, k, k3, 1e-12)
}

func TestAerialProjectionMatchesCollinearity(t *testing.T) {
	o, p, k, f := 0.015, -0.012, 0.005, 152.4
	center := NewPoint3(1000, 1000, 2000)
	ground := NewPoint3(1500, 1200, 150)

	M := RotFromOmegaPhiKappa(o, p, k)
	d := ground.Sub(center.Vector)
	r := M.Rotate(d)
	wantX := -f * r.X / r.Z
	wantY := -f * r.Y / r.Z

	cam := PinholeCamera{Pose: AerialPose(o, p, k, center), K: NewCal3S2(f, f, 0, 0, 0)}
	uv, err := cam.Project(ground)
	require.NoError(t, err)
	assert.InDelta(t, wantX, uv.X, 1e-9)
	assert.InDelta(t, -wantY, uv.Y, 1e-9)
}

func TestPoseRetractLocalRoundTrip(t *testing.T) {
	a := NewPose3(Expmap(r3.Vector{X: 0.2, Y: -0.1, Z: 0.4}), NewPoint3(1, 2, 3))
	b := NewPose3(Expmap(r3.Vector{X: -0.5, Y: 0.3, Z: 1.2}), NewPoint3(-4, 0.5, 7))
	assert.True(t, a.Retract(a.LocalCoordinates(b)).Equals(b, 1e-9))

	delta := []float64{0.01, -0.02, 0.03, 0.5, -0.1, 0.2}
	got := a.LocalCoordinates(a.Retract(delta))
	assert.InDeltaSlice(t, delta, got, 1e-12)
}

func TestPointRetractLocalRoundTrip(t *testing.T) {
	a, b := NewPoint3(1, 2, 3), NewPoint3(-1, 5, 0.5)
	assert.True(t, a.Retract(a.LocalCoordinates(b)).Equals(b, 1e-12))
}

func TestPoseInverseAndBetween(t *testing.T) {
	a := NewPose3(RotZ(0.3), NewPoint3(1, 0, 0))
	assert.True(t, a.Compose(a.Inverse()).Equals(IdentityPose(), 1e-12))
	b := NewPose3(RotX(0.1), NewPoint3(0, 2, 1))
	assert.True(t, a.Compose(a.Between(b)).Equals(b, 1e-12))

	pt := NewPoint3(3, -2, 5)
	assert.True(t, a.TransformFrom(a.TransformTo(pt)).Equals(pt, 1e-12))
}

func TestLocalCoordinatesJacobian(t *testing.T) {
	p := NewPose3(Expmap(r3.Vector{X: 0.1, Y: 0.2, Z: 0.3}), NewPoint3(1, 2, 3))
	q := NewPose3(Expmap(r3.Vector{X: 0.4, Y: -0.2, Z: 0.6}), NewPoint3(0, -1, 2))
	numeric := numericJacobian(6, 6, func(x []float64) []float64 {
		return p.LocalCoordinates(q.Retract(x))
	})
	assert.True(t, mat.EqualApprox(numeric, p.LocalCoordinatesJacobian(q), 1e-6))
}

func TestComposeJacobian(t *testing.T) {
	p := NewPose3(Expmap(r3.Vector{X: 0.1, Y: 0.2, Z: 0.3}), NewPoint3(1, 2, 3))
	q := NewPose3(Expmap(r3.Vector{X: -0.3, Y: 0.1, Z: 0.2}), NewPoint3(0.5, -1, 2))
	c := p.Compose(q)
	numeric := numericJacobian(6, 6, func(x []float64) []float64 {
		return c.LocalCoordinates(p.Retract(x).Compose(q))
	})
	assert.True(t, mat.EqualApprox(numeric, p.ComposeJacobian(q), 1e-6))
}

func TestProjectWithJacobians(t *testing.T) {
	k := NewCal3S2(500, 480, 0.1, 320, 240)
	cam, err := LookAt(NewPoint3(40, 5, 10), NewPoint3(0, 0, 0), r3.Vector{Z: 1}, k)
	require.NoError(t, err)
	pt := NewPoint3(3, -2, 4)

	uv, Dpose, Dpoint, err := cam.ProjectWithJacobians(pt)
	require.NoError(t, err)
	plain, err := cam.Project(pt)
	require.NoError(t, err)
	assert.Equal(t, plain, uv)

	numPose := numericJacobian(2, 6, func(x []float64) []float64 {
		c := PinholeCamera{Pose: cam.Pose.Retract(x), K: k}
		out, _ := c.Project(pt)
		return []float64{out.X, out.Y}
	})
	numPoint := numericJacobian(2, 3, func(x []float64) []float64 {
		out, _ := cam.Project(pt.Retract(x))
		return []float64{out.X, out.Y}
	})
	assert.True(t, mat.EqualApprox(numPose, Dpose, 1e-5))
	assert.True(t, mat.EqualApprox(numPoint, Dpoint, 1e-5))
}

func TestProjectBehindCamera(t *testing.T) {
	cam := PinholeCamera{Pose: IdentityPose(), K: NewCal3S2(1, 1, 0, 0, 0)}
	_, err := cam.Project(NewPoint3(0, 0, -1))
	var ce *CheiralityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, -1.0, ce.Depth)
}

func TestBackprojectInvertsProject(t *testing.T) {
	k := NewCal3S2(500, 500, 0, 320, 240)
	cam, err := LookAt(NewPoint3(0, -30, 5), NewPoint3(0, 0, 0), r3.Vector{Z: 1}, k)
	require.NoError(t, err)
	pt := NewPoint3(1, 2, -1)
	uv, err := cam.Project(pt)
	require.NoError(t, err)
	depth := cam.Pose.TransformTo(pt).Z
	assert.True(t, cam.Backproject(uv, depth).Equals(pt, 1e-9))
}

func TestLookAtDegenerate(t *testing.T) {
	_, err := LookAt(NewPoint3(0, 0, 10), NewPoint3(0, 0, 0), r3.Vector{Z: 1}, Cal3S2{})
	assert.Error(t, err)
}

func TestCalibrateInvertsUncalibrate(t *testing.T) {
	k := NewCal3S2(500, 450, 0.5, 320, 240)
	p := r2.Point{X: 0.1, Y: -0.2}
	back := k.Calibrate(k.Uncalibrate(p))
	assert.InDelta(t, p.X, back.X, 1e-12)
	assert.InDelta(t, p.Y, back.Y, 1e-12)
}
