package project

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/hhyanyan/bbagraph/adjust"
	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/noise"
	"github.com/hhyanyan/bbagraph/nonlinear"
	"github.com/hhyanyan/bbagraph/slam"
)

// CameraKey 是相机 id 对应的变量。
func CameraKey(id int) key.Key { return key.X(id) }

// PointKey 是地面点 id 对应的变量。
func PointKey(id int) key.Key { return key.P(id) }

// Pose 返回相机位姿。相机沿 omega-phi-kappa 像空间坐标系的负 z 轴观察。
func (c *Camera) Pose() geometry.Pose3 {
	return geometry.AerialPose(c.Omega, c.Phi, c.Kappa, geometry.NewPoint3(c.XL, c.YL, c.ZL))
}

// Calibration 以焦平面毫米为单位，像主点位于原点。
func (c *Camera) Calibration() geometry.Cal3S2 {
	return geometry.NewCal3S2(c.F, c.F, 0, 0, 0)
}

// SetPose 把位姿存为外方位元素。
func (c *Camera) SetPose(p geometry.Pose3) {
	c.Omega, c.Phi, c.Kappa = p.OmegaPhiKappa()
	c.XL, c.YL, c.ZL = p.T.X, p.T.Y, p.T.Z
}

// ImagePoint 把像点坐标（y 向上）转换为投影因子所用的像素坐标（v 向下）。
func ImagePoint(x, y float64) r2.Point { return r2.Point{X: x, Y: -y} }

// ImageCoordinates 是 ImagePoint 的逆。
func ImageCoordinates(uv r2.Point) (x, y float64) { return uv.X, -uv.Y }

// Build 把区域网转换为因子图和初值。控制点固定不动，其观测只约束相机。
// 观测少于两次的未知点不参与平差，没有可用观测的相机也一样。
func (p *Project) Build() (*nonlinear.FactorGraph, *nonlinear.Values, error) {
	model, err := noise.NewIsotropic(2, p.Config.ObsSigma)
	if err != nil {
		return nil, nil, errors.Wrap(err, "observation noise")
	}

	seen := make(map[int]int)
	for _, o := range p.Observations {
		if _, ok := p.Camera(o.CamID); !ok {
			return nil, nil, errors.Errorf("observation references unknown camera %d", o.CamID)
		}
		if _, ok := p.Point(o.PtID); !ok {
			return nil, nil, errors.Errorf("observation references unknown point %d", o.PtID)
		}
		seen[o.PtID]++
	}

	values := nonlinear.NewValues()
	for _, pt := range p.Points {
		if pt.IsFixed || seen[pt.ID] < 2 {
			continue
		}
		if err := nonlinear.Insert(values, PointKey(pt.ID), geometry.NewPoint3(pt.X, pt.Y, pt.Z)); err != nil {
			return nil, nil, errors.Wrapf(err, "point %d", pt.ID)
		}
	}

	graph := nonlinear.NewFactorGraph()
	used := make(map[int]bool)
	for _, o := range p.Observations {
		cam, _ := p.Camera(o.CamID)
		pt, _ := p.Point(o.PtID)
		uv := ImagePoint(o.X, o.Y)
		switch {
		case pt.IsFixed:
			f, err := slam.NewResectioningFactor(uv, model, CameraKey(cam.ID), geometry.NewPoint3(pt.X, pt.Y, pt.Z), cam.Calibration())
			if err != nil {
				return nil, nil, err
			}
			graph.Add(f)
			used[cam.ID] = true
		case values.Exists(PointKey(pt.ID)):
			f, err := slam.NewProjectionFactor(uv, model, CameraKey(cam.ID), PointKey(pt.ID), cam.Calibration())
			if err != nil {
				return nil, nil, err
			}
			graph.Add(f)
			used[cam.ID] = true
		}
	}
	for _, c := range p.Cameras {
		if !used[c.ID] {
			continue
		}
		if err := nonlinear.Insert(values, CameraKey(c.ID), c.Pose()); err != nil {
			return nil, nil, errors.Wrapf(err, "camera %d", c.ID)
		}
	}
	return graph, values, nil
}

// Sigma0 是单位权中误差 sqrt(2*error / redundancy)，只统计图中引用的变量。
func Sigma0(graph *nonlinear.FactorGraph, values *nonlinear.Values) (float64, error) {
	rows := 0
	for _, f := range graph.Factors() {
		rows += f.Dim()
	}
	unknowns := 0
	dims := values.Dims()
	for _, k := range graph.Keys() {
		unknowns += dims[k]
	}
	redundancy := rows - unknowns
	if redundancy <= 0 {
		return 0, errors.Errorf("no redundancy: %d observations for %d unknowns", rows, unknowns)
	}
	e, err := graph.Error(values)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(2 * e / float64(redundancy)), nil
}

// Apply 把平差结果写回区域网。给出 marginals 时还按 sigma0 填写标准差。
func (p *Project) Apply(values *nonlinear.Values, marginals *nonlinear.Marginals, sigma0 float64) error {
	for _, c := range p.Cameras {
		k := CameraKey(c.ID)
		if !values.Exists(k) {
			continue
		}
		pose, err := values.Pose3(k)
		if err != nil {
			return err
		}
		c.SetPose(pose)
		if marginals == nil {
			continue
		}
		cov, err := marginals.MarginalCovariance(k)
		if err != nil {
			return errors.Wrapf(err, "covariance of camera %d", c.ID)
		}
		sd := adjust.StdDevs(adjust.ExteriorCovariance(pose, cov), sigma0)
		c.SOmega, c.SPhi, c.SKappa = sd[0], sd[1], sd[2]
		c.SXL, c.SYL, c.SZL = sd[3], sd[4], sd[5]
	}
	for _, pt := range p.Points {
		k := PointKey(pt.ID)
		if !values.Exists(k) {
			continue
		}
		x, err := values.Point3(k)
		if err != nil {
			return err
		}
		pt.X, pt.Y, pt.Z = x.X, x.Y, x.Z
		if marginals == nil {
			continue
		}
		cov, err := marginals.MarginalCovariance(k)
		if err != nil {
			return errors.Wrapf(err, "covariance of point %s", pt.Name)
		}
		sd := adjust.StdDevs(cov, sigma0)
		pt.SX, pt.SY, pt.SZ = sd[0], sd[1], sd[2]
	}
	return nil
}
