package adjust

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/nonlinear"
)

// tight 只有在无噪声问题解到舍入误差时才停止。
func tight() nonlinear.LevenbergMarquardtParams {
	p := nonlinear.DefaultLevenbergMarquardtParams()
	p.AbsoluteErrorTol = 0
	p.RelativeErrorTol = 0
	p.ErrorTol = 1e-14
	return p
}

func imageOf(t *testing.T, cam geometry.PinholeCamera, p geometry.Point3) r2.Point {
	t.Helper()
	uv, err := cam.Project(p)
	require.NoError(t, err)
	return flipY(uv)
}

func TestResectSynthetic(t *testing.T) {
	const f = 152.0
	truth := geometry.AerialPose(0.01, -0.02, 0.3, geometry.NewPoint3(500, 400, 1000))
	cam := geometry.PinholeCamera{Pose: truth, K: geometry.NewCal3S2(f, f, 0, 0, 0)}
	ground := []geometry.Point3{
		geometry.NewPoint3(250, 150, 10),
		geometry.NewPoint3(750, 180, 35),
		geometry.NewPoint3(720, 640, 0),
		geometry.NewPoint3(280, 610, 50),
		geometry.NewPoint3(510, 390, 20),
	}
	var pts []ControlPoint
	for _, g := range ground {
		pts = append(pts, ControlPoint{Image: imageOf(t, cam, g), Ground: g})
	}

	approx, err := ApproximatePose(f, pts)
	require.NoError(t, err)
	_, _, kappa := approx.OmegaPhiKappa()
	assert.InDelta(t, 0.3, kappa, 0.05)
	assert.InDelta(t, 1000, approx.T.Z, 50)

	res, err := Resect(f, 0.005, pts, tight())
	require.NoError(t, err)
	assert.True(t, res.Pose.Equals(truth, 1e-6), "got %v", res.Pose)
	require.Len(t, res.Residuals, len(pts))
	for _, r := range res.Residuals {
		assert.InDelta(t, 0, r.Norm(), 1e-6)
	}
	assert.InDelta(t, 0, res.Sigma0, 1e-6)
	assert.Positive(t, res.Iterations)
}

func TestResectTextbookBlock(t *testing.T) {
	const f = 152.916
	pts := []ControlPoint{
		{Name: "tn08", Image: r2.Point{X: 86.421, Y: -83.977}, Ground: geometry.NewPoint3(1268.1022, 1455.0274, -14.3939)},
		{Name: "ts08", Image: r2.Point{X: -100.916, Y: 92.582}, Ground: geometry.NewPoint3(732.1811, 545.3437, -14.7009)},
		{Name: "re08", Image: r2.Point{X: -98.322, Y: -89.161}, Ground: geometry.NewPoint3(1454.5532, 731.6659, -14.3509)},
		{Name: "rw08", Image: r2.Point{X: 78.812, Y: 98.123}, Ground: geometry.NewPoint3(545.2449, 1268.2324, -14.6639)},
		{Name: "0000", Image: r2.Point{X: -8.641, Y: 5.630}, Ground: geometry.NewPoint3(1000, 1000, -14.4540)},
	}
	res, err := Resect(f, 0.01, pts, nonlinear.DefaultLevenbergMarquardtParams())
	require.NoError(t, err)

	omega, phi, kappa := res.Pose.OmegaPhiKappa()
	deg := 180 / math.Pi
	assert.InDelta(t, -0.4109, omega*deg, 1e-3)
	assert.InDelta(t, 1.2108, phi*deg, 1e-3)
	assert.InDelta(t, 102.8003, kappa*deg, 1e-3)
	assert.InDelta(t, 1027.870, res.Pose.T.X, 1e-2)
	assert.InDelta(t, 1044.114, res.Pose.T.Y, 1e-2)
	assert.InDelta(t, 611.197, res.Pose.T.Z, 1e-2)
	assert.InDelta(t, 0.00282, res.Sigma0, 5e-5)

	require.NotNil(t, res.Covariance)
	for i, sd := range StdDevs(res.Covariance, 1) {
		assert.Positive(t, sd, "parameter %d", i)
	}
}

func TestResectTooFewPoints(t *testing.T) {
	_, err := Resect(150, 0.01, []ControlPoint{{}, {}}, nonlinear.DefaultLevenbergMarquardtParams())
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func intersectionCameras() []geometry.PinholeCamera {
	k := geometry.NewCal3S2(152.4, 152.4, 0, 0, 0)
	return []geometry.PinholeCamera{
		{Pose: geometry.AerialPose(0.015, -0.012, 0.005, geometry.NewPoint3(1000, 1000, 2000)), K: k},
		{Pose: geometry.AerialPose(-0.010, 0.020, -0.008, geometry.NewPoint3(2000, 1000, 2000)), K: k},
	}
}

func TestIntersectStereoPair(t *testing.T) {
	cams := intersectionCameras()
	rays := []Ray{
		{Camera: cams[0], Image: r2.Point{X: 39.24150014636523, Y: 13.925783508004365}},
		{Camera: cams[1], Image: r2.Point{X: -38.124045214887815, Y: 17.62136773163286}},
	}
	res, err := Intersect(0.005, rays, tight())
	require.NoError(t, err)
	assert.True(t, res.Point.Equals(geometry.NewPoint3(1500, 1200, 150), 1e-6), "got %v", res.Point)
	assert.Len(t, res.Residuals, 2)
	assert.InDelta(t, 0, res.Sigma0, 1e-6)
}

func TestApproximatePointIsRayIntersection(t *testing.T) {
	cams := intersectionCameras()
	truth := geometry.NewPoint3(1400, 900, 80)
	var rays []Ray
	for _, c := range cams {
		rays = append(rays, Ray{Camera: c, Image: imageOf(t, c, truth)})
	}
	p, err := ApproximatePoint(rays)
	require.NoError(t, err)
	assert.True(t, p.Equals(truth, 1e-6), "got %v", p)
}

func TestIntersectRedundantRays(t *testing.T) {
	k := geometry.NewCal3S2(100, 100, 0, 0, 0)
	truth := geometry.NewPoint3(20, -10, 5)
	var rays []Ray
	for i, c := range []geometry.Point3{
		geometry.NewPoint3(0, 0, 500),
		geometry.NewPoint3(100, 0, 500),
		geometry.NewPoint3(0, 100, 510),
		geometry.NewPoint3(100, 100, 490),
	} {
		cam := geometry.PinholeCamera{Pose: geometry.AerialPose(0, 0, 0.1*float64(i), c), K: k}
		img := imageOf(t, cam, truth)
		// 交替加入小扰动，使残差不为零
		d := 0.002
		if i%2 == 1 {
			d = -d
		}
		img.X += d
		rays = append(rays, Ray{Camera: cam, Image: img})
	}
	res, err := Intersect(0.002, rays, nonlinear.DefaultLevenbergMarquardtParams())
	require.NoError(t, err)
	assert.True(t, res.Point.Equals(truth, 0.1), "got %v", res.Point)
	assert.Positive(t, res.Sigma0)

	var eig mat.EigenSym
	require.True(t, eig.Factorize(res.Covariance, false))
	for _, v := range eig.Values(nil) {
		assert.Positive(t, v)
	}
	sd := StdDevs(res.Covariance, 1)
	assert.Greater(t, sd[2], sd[0], "depth is the weakest direction")
}

func TestIntersectSingleRay(t *testing.T) {
	_, err := Intersect(0.01, []Ray{{Camera: intersectionCameras()[0]}}, nonlinear.DefaultLevenbergMarquardtParams())
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestExteriorCovariance(t *testing.T) {
	pose := geometry.AerialPose(0.05, -0.03, 1.2, geometry.NewPoint3(10, 20, 300))
	cov := mat.NewSymDense(6, nil)
	for i := 3; i < 6; i++ {
		cov.SetSym(i, i, 4)
	}
	ext := ExteriorCovariance(pose, cov)

	// 只有平移的协方差在世界坐标轴上保持各向同性
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0, ext.At(i, i), 1e-12)
		assert.InDelta(t, 4, ext.At(3+i, 3+i), 1e-6)
	}
	assert.InDeltaSlice(t, []float64{0, 0, 0, 2, 2, 2}, StdDevs(ext, 1), 1e-6)
}
