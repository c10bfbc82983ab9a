package slam

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/noise"
	"github.com/hhyanyan/bbagraph/nonlinear"
)

// ProjectionOption 配置投影因子。
type ProjectionOption func(*projection)

// WithBodyPSensor 设置相机在位姿变量本体坐标系中的位姿。
func WithBodyPSensor(p geometry.Pose3) ProjectionOption {
	return func(o *projection) {
		o.bodyPSensor = &p
	}
}

// WithThrowCheirality 使点在相机后方时报错，而不是给常数惩罚。
func WithThrowCheirality() ProjectionOption {
	return func(o *projection) {
		o.throwCheirality = true
	}
}

// projection 是各重投影因子共用的状态。
type projection struct {
	measured        r2.Point
	k               geometry.Cal3S2
	bodyPSensor     *geometry.Pose3
	throwCheirality bool
}

func newProjection(measured r2.Point, model noise.Model, k geometry.Cal3S2, opts []ProjectionOption) (projection, error) {
	if model != nil && model.Dim() != 2 {
		return projection{}, &noise.DimensionMismatchError{Expected: 2, Actual: model.Dim()}
	}
	p := projection{measured: measured, k: k}
	for _, opt := range opts {
		opt(&p)
	}
	return p, nil
}

// evaluate 返回从本体位姿看 point 的重投影误差及其导数。点在相机后方时
// 每个分量为 2*fx、导数为零，除非设置了 throwCheirality。
func (p *projection) evaluate(pose geometry.Pose3, point geometry.Point3, jacobians bool) ([]float64, *mat.Dense, *mat.Dense, error) {
	camPose := pose
	if p.bodyPSensor != nil {
		camPose = pose.Compose(*p.bodyPSensor)
	}
	cam := geometry.PinholeCamera{Pose: camPose, K: p.k}
	uv, Dpose, Dpoint, err := cam.ProjectWithJacobians(point)
	if err != nil {
		var ce *geometry.CheiralityError
		if !p.throwCheirality && errors.As(err, &ce) {
			return []float64{2 * p.k.Fx, 2 * p.k.Fx}, mat.NewDense(2, 6, nil), mat.NewDense(2, 3, nil), nil
		}
		return nil, nil, nil, err
	}
	r := []float64{uv.X - p.measured.X, uv.Y - p.measured.Y}
	if jacobians && p.bodyPSensor != nil {
		var H mat.Dense
		H.Mul(Dpose, pose.ComposeJacobian(*p.bodyPSensor))
		Dpose = &H
	}
	return r, Dpose, Dpoint, nil
}

// ProjectionFactor 是相机位姿和点坐标都为未知量时的重投影误差。
type ProjectionFactor struct {
	*nonlinear.NoiseModelFactor
	projection
	poseKey  key.Key
	pointKey key.Key
}

// NewProjectionFactor 构造 pointKey 在 poseKey 相机（内参 k）中像素观测 measured 的因子。
// model 必须是二维的。
func NewProjectionFactor(measured r2.Point, model noise.Model, poseKey, pointKey key.Key, k geometry.Cal3S2, opts ...ProjectionOption) (*ProjectionFactor, error) {
	p, err := newProjection(measured, model, k, opts)
	if err != nil {
		return nil, err
	}
	f := &ProjectionFactor{projection: p, poseKey: poseKey, pointKey: pointKey}
	if f.NoiseModelFactor, err = nonlinear.NewNoiseModelFactor(model, []key.Key{poseKey, pointKey}, f.residual); err != nil {
		return nil, err
	}
	return f, nil
}

// Measured 返回观测像素。
func (f *ProjectionFactor) Measured() r2.Point { return f.measured }

// Calibration 返回相机内参。
func (f *ProjectionFactor) Calibration() geometry.Cal3S2 { return f.k }

func (f *ProjectionFactor) residual(values *nonlinear.Values, jacobians bool) ([]float64, []*mat.Dense, error) {
	pose, err := values.Pose3(f.poseKey)
	if err != nil {
		return nil, nil, err
	}
	point, err := values.Point3(f.pointKey)
	if err != nil {
		return nil, nil, err
	}
	r, Dpose, Dpoint, err := f.evaluate(pose, point, jacobians)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "project %s into %s", f.pointKey, f.poseKey)
	}
	return r, []*mat.Dense{Dpose, Dpoint}, nil
}

// ResectioningFactor 从未知相机位姿观测已知控制点，用于空间后方交会。
type ResectioningFactor struct {
	*nonlinear.NoiseModelFactor
	projection
	poseKey key.Key
	point   geometry.Point3
}

// NewResectioningFactor 构造已知点像素观测 measured 的因子。
func NewResectioningFactor(measured r2.Point, model noise.Model, poseKey key.Key, point geometry.Point3, k geometry.Cal3S2, opts ...ProjectionOption) (*ResectioningFactor, error) {
	p, err := newProjection(measured, model, k, opts)
	if err != nil {
		return nil, err
	}
	f := &ResectioningFactor{projection: p, poseKey: poseKey, point: point}
	if f.NoiseModelFactor, err = nonlinear.NewNoiseModelFactor(model, []key.Key{poseKey}, f.residual); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *ResectioningFactor) residual(values *nonlinear.Values, jacobians bool) ([]float64, []*mat.Dense, error) {
	pose, err := values.Pose3(f.poseKey)
	if err != nil {
		return nil, nil, err
	}
	r, Dpose, _, err := f.evaluate(pose, f.point, jacobians)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "project control point into %s", f.poseKey)
	}
	return r, []*mat.Dense{Dpose}, nil
}

// TriangulationFactor 从已知相机观测未知点，用于空间前方交会。
type TriangulationFactor struct {
	*nonlinear.NoiseModelFactor
	projection
	pointKey key.Key
	pose     geometry.Pose3
}

// NewTriangulationFactor 构造 pointKey 在已知位姿和内参的相机中像素观测 measured 的因子。
func NewTriangulationFactor(measured r2.Point, model noise.Model, pointKey key.Key, camera geometry.PinholeCamera, opts ...ProjectionOption) (*TriangulationFactor, error) {
	p, err := newProjection(measured, model, camera.K, opts)
	if err != nil {
		return nil, err
	}
	f := &TriangulationFactor{projection: p, pointKey: pointKey, pose: camera.Pose}
	if f.NoiseModelFactor, err = nonlinear.NewNoiseModelFactor(model, []key.Key{pointKey}, f.residual); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *TriangulationFactor) residual(values *nonlinear.Values, jacobians bool) ([]float64, []*mat.Dense, error) {
	point, err := values.Point3(f.pointKey)
	if err != nil {
		return nil, nil, err
	}
	r, _, Dpoint, err := f.evaluate(f.pose, point, jacobians)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "project %s", f.pointKey)
	}
	return r, []*mat.Dense{Dpoint}, nil
}
