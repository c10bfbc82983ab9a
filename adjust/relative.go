package adjust

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/noise"
	"github.com/hhyanyan/bbagraph/nonlinear"
	"github.com/hhyanyan/bbagraph/slam"
)

// baseSigma 把右片固定在选定的基线上。
const baseSigma = 1e-6

// TiePoint 是立体像对左右两片上都量测了的点，单位 mm，y 向上。
type TiePoint struct {
	Name        string
	Left, Right r2.Point
}

// RelativeOrientation 是平差后的立体模型。左片位于 (0, 0, f)，角元素为零，
// 基线确定模型比例。
type RelativeOrientation struct {
	Left, Right geometry.Pose3
	// Base 是右片的 X 坐标。
	Base   float64
	Points []geometry.Point3
	// 右片 omega、phi、kappa、YL、ZL 的协方差，已按 Sigma0² 缩放。
	Covariance *mat.SymDense
	Sigma0     float64
	// Residuals 保存每个点左右片的像点残差。
	Residuals  [][2]r2.Point
	Iterations int
}

// RelativeOrient 由至少五个同名点建立立体模型。基线取 x 视差的平均值，
// 各点初值为其左片像点坐标，位于 Z = 0 平面上。
func RelativeOrient(f, sigma float64, pts []TiePoint, params nonlinear.LevenbergMarquardtParams) (*RelativeOrientation, error) {
	if len(pts) < 5 {
		return nil, errors.Wrapf(ErrTooFewPoints, "relative orientation needs 5 tie points, got %d", len(pts))
	}
	model, err := noise.NewIsotropic(2, sigma)
	if err != nil {
		return nil, err
	}
	k := geometry.NewCal3S2(f, f, 0, 0, 0)
	left := geometry.PinholeCamera{Pose: geometry.AerialPose(0, 0, 0, geometry.NewPoint3(0, 0, f)), K: k}
	rightKey := key.X(1)

	base := 0.0
	for _, p := range pts {
		base += p.Left.X - p.Right.X
	}
	base /= float64(len(pts))

	graph := nonlinear.NewFactorGraph()
	values := nonlinear.NewValues()
	if err := nonlinear.Insert(values, rightKey, geometry.AerialPose(0, 0, 0, geometry.NewPoint3(base, 0, f))); err != nil {
		return nil, err
	}
	for i, p := range pts {
		pk := key.P(i)
		lf, err := slam.NewTriangulationFactor(flipY(p.Left), model, pk, left)
		if err != nil {
			return nil, err
		}
		rf, err := slam.NewProjectionFactor(flipY(p.Right), model, rightKey, pk, k)
		if err != nil {
			return nil, err
		}
		graph.Add(lf)
		graph.Add(rf)
		if err := nonlinear.Insert(values, pk, geometry.NewPoint3(p.Left.X, p.Left.Y, 0)); err != nil {
			return nil, err
		}
	}
	bf, err := baseLineFactor(rightKey, base)
	if err != nil {
		return nil, err
	}
	graph.Add(bf)

	opt, err := nonlinear.NewLevenbergMarquardtOptimizer(graph, values, params)
	if err != nil {
		return nil, err
	}
	result, err := opt.Optimize()
	if err != nil {
		return nil, errors.Wrap(err, "relative orientation")
	}
	right, err := result.Pose3(rightKey)
	if err != nil {
		return nil, err
	}

	res := &RelativeOrientation{Left: left.Pose, Right: right, Base: base, Iterations: opt.Iterations()}
	rcam := geometry.PinholeCamera{Pose: right, K: k}
	sum := 0.0
	for i, p := range pts {
		pt, err := result.Point3(key.P(i))
		if err != nil {
			return nil, err
		}
		res.Points = append(res.Points, pt)
		var pair [2]r2.Point
		for j, c := range []struct {
			cam geometry.PinholeCamera
			obs r2.Point
		}{{left, p.Left}, {rcam, p.Right}} {
			uv, err := c.cam.Project(pt)
			if err != nil {
				return nil, errors.Wrapf(err, "tie point %s", p.Name)
			}
			pair[j] = flipY(uv).Sub(c.obs)
			sum += pair[j].X*pair[j].X + pair[j].Y*pair[j].Y
		}
		res.Residuals = append(res.Residuals, pair)
	}
	// 每点 4 个观测，对 3 个坐标，另加 5 个参数。
	redundancy := len(pts) - 5
	if redundancy > 0 {
		res.Sigma0 = math.Sqrt(sum / float64(redundancy))
	}

	marginals, err := opt.Marginals()
	if err != nil {
		return nil, err
	}
	cov, err := marginals.MarginalCovariance(rightKey)
	if err != nil {
		return nil, err
	}
	ext := ExteriorCovariance(right, cov)
	if redundancy > 0 {
		ext.ScaleSym(res.Sigma0*res.Sigma0/(sigma*sigma), ext)
	}
	// 去掉由基线固定的 XL。
	keep := []int{0, 1, 2, 4, 5}
	res.Covariance = mat.NewSymDense(len(keep), nil)
	for i, a := range keep {
		for j := i; j < len(keep); j++ {
			res.Covariance.SetSym(i, j, ext.At(a, keep[j]))
		}
	}
	return res, nil
}

// baseLineFactor 把位姿的 X 坐标约束为 base。
func baseLineFactor(k key.Key, base float64) (*nonlinear.NoiseModelFactor, error) {
	model, err := noise.NewIsotropic(1, baseSigma)
	if err != nil {
		return nil, err
	}
	return nonlinear.NewNoiseModelFactor(model, []key.Key{k}, func(values *nonlinear.Values, jacobians bool) ([]float64, []*mat.Dense, error) {
		pose, err := values.Pose3(k)
		if err != nil {
			return nil, nil, err
		}
		r := []float64{pose.T.X - base}
		if !jacobians {
			return r, nil, nil
		}
		// retract 时 T 的增量为 R v。
		H := mat.NewDense(1, 6, nil)
		for j := 0; j < 3; j++ {
			H.Set(0, 3+j, pose.R.At(0, j))
		}
		return r, []*mat.Dense{H}, nil
	})
}
