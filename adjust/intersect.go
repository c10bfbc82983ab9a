package adjust

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/noise"
	"github.com/hhyanyan/bbagraph/nonlinear"
	"github.com/hhyanyan/bbagraph/slam"
)

// Ray 是未知地面点在已定向相机中的像点，单位 mm，y 向上。
type Ray struct {
	Camera geometry.PinholeCamera
	Image  r2.Point
}

// Intersection 是平差后的地面点。
type Intersection struct {
	Point geometry.Point3
	// X、Y、Z 的协方差，有多余观测时按 Sigma0² 缩放。
	Covariance *mat.SymDense
	Sigma0     float64
	Residuals  []r2.Point
	Iterations int
}

// ApproximatePoint 返回在最小二乘意义下离所有光线最近的点。
func ApproximatePoint(rays []Ray) (geometry.Point3, error) {
	if len(rays) < 2 {
		return geometry.Point3{}, errors.Wrapf(ErrTooFewPoints, "intersection needs 2 rays, got %d", len(rays))
	}
	N := mat.NewSymDense(3, nil)
	u := mat.NewVecDense(3, nil)
	for _, r := range rays {
		c := r.Camera.Pose.T
		d := r.Camera.Backproject(flipY(r.Image), 1).Sub(c.Vector).Normalize()
		P := projector(d)
		N.AddSym(N, P)
		var pc mat.VecDense
		pc.MulVec(P, mat.NewVecDense(3, []float64{c.X, c.Y, c.Z}))
		u.AddVec(u, &pc)
	}
	var x mat.VecDense
	if err := x.SolveVec(N, u); err != nil {
		return geometry.Point3{}, errors.Wrap(err, "rays are parallel")
	}
	return geometry.NewPoint3(x.AtVec(0), x.AtVec(1), x.AtVec(2)), nil
}

// projector 对单位方向 d 返回 I - d dᵀ。
func projector(d r3.Vector) *mat.SymDense {
	v := []float64{d.X, d.Y, d.Z}
	P := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			e := -v[i] * v[j]
			if i == j {
				e++
			}
			P.SetSym(i, j, e)
		}
	}
	return P
}

// Intersect 平差至少两台相机看到的地面点。sigma 为像点坐标标准差 (mm)。
func Intersect(sigma float64, rays []Ray, params nonlinear.LevenbergMarquardtParams) (*Intersection, error) {
	initial, err := ApproximatePoint(rays)
	if err != nil {
		return nil, err
	}
	model, err := noise.NewIsotropic(2, sigma)
	if err != nil {
		return nil, err
	}
	pointKey := key.P(0)

	graph := nonlinear.NewFactorGraph()
	for _, r := range rays {
		f, err := slam.NewTriangulationFactor(flipY(r.Image), model, pointKey, r.Camera)
		if err != nil {
			return nil, err
		}
		graph.Add(f)
	}
	values := nonlinear.NewValues()
	if err := nonlinear.Insert(values, pointKey, initial); err != nil {
		return nil, err
	}

	opt, err := nonlinear.NewLevenbergMarquardtOptimizer(graph, values, params)
	if err != nil {
		return nil, err
	}
	result, err := opt.Optimize()
	if err != nil {
		return nil, errors.Wrap(err, "intersection")
	}
	pt, err := result.Point3(pointKey)
	if err != nil {
		return nil, err
	}

	res := &Intersection{Point: pt, Iterations: opt.Iterations()}
	sum := 0.0
	for i, r := range rays {
		uv, err := r.Camera.Project(pt)
		if err != nil {
			return nil, errors.Wrapf(err, "ray %d", i)
		}
		d := flipY(uv).Sub(r.Image)
		res.Residuals = append(res.Residuals, d)
		sum += d.X*d.X + d.Y*d.Y
	}
	redundancy := 2*len(rays) - 3
	res.Sigma0 = math.Sqrt(sum / float64(redundancy))

	marginals, err := opt.Marginals()
	if err != nil {
		return nil, err
	}
	cov, err := marginals.MarginalCovariance(pointKey)
	if err != nil {
		return nil, err
	}
	cov.ScaleSym(res.Sigma0*res.Sigma0/(sigma*sigma), cov)
	res.Covariance = cov
	return res, nil
}
