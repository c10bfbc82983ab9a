package adjust

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/noise"
	"github.com/hhyanyan/bbagraph/nonlinear"
)

// CommonPoint 是模型坐标和地面坐标都已知的公共点。
type CommonPoint struct {
	Name   string
	Model  geometry.Point3
	Ground geometry.Point3
}

// AbsoluteOrientation 是平差后由模型坐标到地面坐标的七参数变换。
type AbsoluteOrientation struct {
	Transform geometry.Similarity3
	// 比例、omega、phi、kappa、TX、TY、TZ 的协方差，已按 Sigma0² 缩放。
	Covariance *mat.SymDense
	Sigma0     float64
	Residuals  []r3.Vector
	Iterations int

	// tangent 是 Transform 切向量的协方差。
	tangent *mat.SymDense
}

// ApproximateSimilarity 对重心化点集的互协方差做 SVD，闭式求出变换。
func ApproximateSimilarity(pts []CommonPoint) (geometry.Similarity3, error) {
	if len(pts) < 3 {
		return geometry.Similarity3{}, errors.Wrapf(ErrTooFewPoints, "absolute orientation needs 3 common points, got %d", len(pts))
	}
	var mc, gc r3.Vector
	for _, p := range pts {
		mc = mc.Add(p.Model.Vector)
		gc = gc.Add(p.Ground.Vector)
	}
	n := float64(len(pts))
	mc, gc = mc.Mul(1/n), gc.Mul(1/n)

	H := mat.NewDense(3, 3, nil)
	spread := 0.0
	for _, p := range pts {
		a := p.Ground.Sub(gc)
		b := p.Model.Sub(mc)
		spread += b.Norm2()
		av, bv := []float64{a.X, a.Y, a.Z}, []float64{b.X, b.Y, b.Z}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				H.Set(i, j, H.At(i, j)+av[i]*bv[j])
			}
		}
	}
	if spread == 0 {
		return geometry.Similarity3{}, errors.New("common points coincide")
	}

	var svd mat.SVD
	if !svd.Factorize(H, mat.SVDFull) {
		return geometry.Similarity3{}, errors.New("svd of cross covariance failed")
	}
	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)
	sv := svd.Values(nil)

	var UV mat.Dense
	UV.Mul(&U, V.T())
	d := 1.0
	if mat.Det(&UV) < 0 {
		d = -1
	}
	D := mat.NewDiagDense(3, []float64{1, 1, d})
	var UD, R mat.Dense
	UD.Mul(&U, D)
	R.Mul(&UD, V.T())

	var rm [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rm[i][j] = R.At(i, j)
		}
	}
	rot := geometry.RotFromMatrix(rm)
	scale := (sv[0] + sv[1] + d*sv[2]) / spread
	t := gc.Sub(rot.Rotate(mc).Mul(scale))
	return geometry.NewSimilarity3(rot, t, scale), nil
}

// AbsoluteOrient 用至少三个公共点平差变换，sigma 为地面坐标标准差。
func AbsoluteOrient(sigma float64, pts []CommonPoint, params nonlinear.LevenbergMarquardtParams) (*AbsoluteOrientation, error) {
	initial, err := ApproximateSimilarity(pts)
	if err != nil {
		return nil, err
	}
	model, err := noise.NewIsotropic(3, sigma)
	if err != nil {
		return nil, err
	}
	simKey := key.Symbol('s', 0)

	graph := nonlinear.NewFactorGraph()
	for _, p := range pts {
		f, err := commonPointFactor(model, simKey, p)
		if err != nil {
			return nil, err
		}
		graph.Add(f)
	}
	values := nonlinear.NewValues()
	if err := nonlinear.Insert(values, simKey, initial); err != nil {
		return nil, err
	}

	opt, err := nonlinear.NewLevenbergMarquardtOptimizer(graph, values, params)
	if err != nil {
		return nil, err
	}
	result, err := opt.Optimize()
	if err != nil {
		return nil, errors.Wrap(err, "absolute orientation")
	}
	sim, err := nonlinear.At[geometry.Similarity3](result, simKey)
	if err != nil {
		return nil, err
	}

	res := &AbsoluteOrientation{Transform: sim, Iterations: opt.Iterations()}
	sum := 0.0
	for _, p := range pts {
		r := sim.TransformFrom(p.Model).Sub(p.Ground.Vector)
		res.Residuals = append(res.Residuals, r)
		sum += r.Norm2()
	}
	redundancy := 3*len(pts) - 7
	if redundancy > 0 {
		res.Sigma0 = math.Sqrt(sum / float64(redundancy))
	}

	marginals, err := opt.Marginals()
	if err != nil {
		return nil, err
	}
	cov, err := marginals.MarginalCovariance(simKey)
	if err != nil {
		return nil, err
	}
	if redundancy > 0 {
		cov.ScaleSym(res.Sigma0*res.Sigma0/(sigma*sigma), cov)
	}
	res.tangent = cov
	res.Covariance = similarityCovariance(sim, cov)
	return res, nil
}

// TransformPoint 把模型点变换到地面，并把参数协方差传播到该点。
func (a *AbsoluteOrientation) TransformPoint(p geometry.Point3) (geometry.Point3, *mat.SymDense) {
	Ds, _ := a.Transform.TransformFromJacobians(p)
	return a.Transform.TransformFrom(p), propagate(Ds, a.tangent)
}

// commonPointFactor 是一个模型点的地面残差。
func commonPointFactor(model noise.Model, k key.Key, p CommonPoint) (*nonlinear.NoiseModelFactor, error) {
	return nonlinear.NewNoiseModelFactor(model, []key.Key{k}, func(values *nonlinear.Values, jacobians bool) ([]float64, []*mat.Dense, error) {
		sim, err := nonlinear.At[geometry.Similarity3](values, k)
		if err != nil {
			return nil, nil, err
		}
		d := sim.TransformFrom(p.Model).Sub(p.Ground.Vector)
		r := []float64{d.X, d.Y, d.Z}
		if !jacobians {
			return r, nil, nil
		}
		Ds, _ := sim.TransformFromJacobians(p.Model)
		return r, []*mat.Dense{Ds}, nil
	})
}

// similarityCovariance 把切空间协方差变换为比例、omega、phi、kappa、TX、TY、TZ 的协方差。
func similarityCovariance(sim geometry.Similarity3, cov mat.Symmetric) *mat.SymDense {
	J := mat.NewDense(7, 7, nil)
	fd.Jacobian(J, func(y, x []float64) {
		q := sim.Retract(x)
		y[0] = q.S
		y[1], y[2], y[3] = q.OmegaPhiKappa()
		y[4], y[5], y[6] = q.T.X, q.T.Y, q.T.Z
	}, make([]float64, 7), &fd.JacobianSettings{Formula: fd.Central})
	return propagate(J, cov)
}

// propagate 返回对称化的 J cov Jᵀ。
func propagate(J mat.Matrix, cov mat.Symmetric) *mat.SymDense {
	var JC, full mat.Dense
	JC.Mul(J, cov)
	full.Mul(&JC, J.T())
	n, _ := full.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	return out
}
