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

// ErrTooFewPoints 表示观测不足以确定未知数。
var ErrTooFewPoints = errors.New("too few points")

// ControlPoint 是坐标已知的地面点及其像点坐标，单位 mm（y 向上）。
type ControlPoint struct {
	Name   string
	Image  r2.Point
	Ground geometry.Point3
}

// Resection 是平差后的相机。
type Resection struct {
	Pose geometry.Pose3
	// omega、phi、kappa、XL、YL、ZL 的协方差，已按 Sigma0² 缩放。
	Covariance *mat.SymDense
	// Sigma0 是验后单位权中误差 (mm)。
	Sigma0     float64
	Residuals  []r2.Point
	Iterations int
}

// ApproximatePose 由控制点估算近似竖直的相机：先由像点与地面点两两距离估算航高，
// 再用二维相似变换估算 XL、YL 和 kappa。
func ApproximatePose(f float64, pts []ControlPoint) (geometry.Pose3, error) {
	if len(pts) < 3 {
		return geometry.Pose3{}, errors.Wrapf(ErrTooFewPoints, "resection needs 3 control points, got %d", len(pts))
	}
	sumH, count := 0.0, 0
	for i := 0; i < len(pts)-1; i++ {
		for j := i + 1; j < len(pts); j++ {
			a, b := pts[i], pts[j]
			dx, dy := b.Image.X-a.Image.X, b.Image.Y-a.Image.Y
			cx := a.Image.X*a.Ground.Z - b.Image.X*b.Ground.Z
			cy := a.Image.Y*a.Ground.Z - b.Image.Y*b.Ground.Z
			gx, gy := b.Ground.X-a.Ground.X, b.Ground.Y-a.Ground.Y

			qa := dx*dx + dy*dy
			qb := 2 * (dx*cx + dy*cy)
			qc := cx*cx + cy*cy - f*f*(gx*gx+gy*gy)
			disc := qb*qb - 4*qa*qc
			if qa == 0 || disc < 0 {
				continue
			}
			sumH += (-qb + math.Sqrt(disc)) / (2 * qa)
			count++
		}
	}
	if count == 0 {
		return geometry.Pose3{}, errors.New("cannot estimate flying height")
	}
	zl := sumH / float64(count)

	// 纠正后的像片上 X = a*x' - b*y' + XL，Y = b*x' + a*y' + YL。
	A := mat.NewDense(2*len(pts), 4, nil)
	L := mat.NewVecDense(2*len(pts), nil)
	for i, p := range pts {
		s := (zl - p.Ground.Z) / f
		xv, yv := p.Image.X*s, p.Image.Y*s
		A.SetRow(2*i, []float64{xv, -yv, 1, 0})
		A.SetRow(2*i+1, []float64{yv, xv, 0, 1})
		L.SetVec(2*i, p.Ground.X)
		L.SetVec(2*i+1, p.Ground.Y)
	}
	var sol mat.VecDense
	if err := sol.SolveVec(A, L); err != nil {
		return geometry.Pose3{}, errors.Wrap(err, "conformal transformation")
	}
	kappa := math.Atan2(sol.AtVec(1), sol.AtVec(0))
	return geometry.AerialPose(0, 0, kappa, geometry.NewPoint3(sol.AtVec(2), sol.AtVec(3), zl)), nil
}

// Resect 用控制点平差焦距为 f (mm) 的相机，像点坐标标准差为 sigma (mm)。
func Resect(f, sigma float64, pts []ControlPoint, params nonlinear.LevenbergMarquardtParams) (*Resection, error) {
	initial, err := ApproximatePose(f, pts)
	if err != nil {
		return nil, err
	}
	return ResectFrom(initial, f, sigma, pts, params)
}

// ResectFrom 同 Resect，但由调用方给出初始位姿。
func ResectFrom(initial geometry.Pose3, f, sigma float64, pts []ControlPoint, params nonlinear.LevenbergMarquardtParams) (*Resection, error) {
	if len(pts) < 3 {
		return nil, errors.Wrapf(ErrTooFewPoints, "resection needs 3 control points, got %d", len(pts))
	}
	model, err := noise.NewIsotropic(2, sigma)
	if err != nil {
		return nil, err
	}
	k := geometry.NewCal3S2(f, f, 0, 0, 0)
	poseKey := key.X(0)

	graph := nonlinear.NewFactorGraph()
	for _, p := range pts {
		fac, err := slam.NewResectioningFactor(flipY(p.Image), model, poseKey, p.Ground, k)
		if err != nil {
			return nil, err
		}
		graph.Add(fac)
	}
	values := nonlinear.NewValues()
	if err := nonlinear.Insert(values, poseKey, initial); err != nil {
		return nil, err
	}

	opt, err := nonlinear.NewLevenbergMarquardtOptimizer(graph, values, params)
	if err != nil {
		return nil, err
	}
	result, err := opt.Optimize()
	if err != nil {
		return nil, errors.Wrap(err, "resection")
	}
	pose, err := result.Pose3(poseKey)
	if err != nil {
		return nil, err
	}

	res := &Resection{Pose: pose, Iterations: opt.Iterations()}
	cam := geometry.PinholeCamera{Pose: pose, K: k}
	sum := 0.0
	for _, p := range pts {
		uv, err := cam.Project(p.Ground)
		if err != nil {
			return nil, errors.Wrapf(err, "control point %s", p.Name)
		}
		r := flipY(uv).Sub(p.Image)
		res.Residuals = append(res.Residuals, r)
		sum += r.X*r.X + r.Y*r.Y
	}
	redundancy := 2*len(pts) - 6
	if redundancy > 0 {
		res.Sigma0 = math.Sqrt(sum / float64(redundancy))
	}

	marginals, err := opt.Marginals()
	if err != nil {
		return nil, err
	}
	cov, err := marginals.MarginalCovariance(poseKey)
	if err != nil {
		return nil, err
	}
	ext := ExteriorCovariance(pose, cov)
	if redundancy > 0 {
		ext.ScaleSym(res.Sigma0*res.Sigma0/(sigma*sigma), ext)
	}
	res.Covariance = ext
	return res, nil
}

// flipY 在像点坐标（y 向上）与投影因子的像素坐标（v 向下）之间转换。
func flipY(p r2.Point) r2.Point { return r2.Point{X: p.X, Y: -p.Y} }
