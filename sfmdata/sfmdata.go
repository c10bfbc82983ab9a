// Package sfmdata 生成已知真值的模拟运动恢复结构问题。
package sfmdata

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/noise"
	"github.com/hhyanyan/bbagraph/nonlinear"
	"github.com/hhyanyan/bbagraph/slam"
)

// Options 选择场景。
type Options struct {
	// Triangle 用三个共面点代替立方体的角点。
	Triangle   bool
	NumCameras int
	K          geometry.Cal3S2
}

// DefaultOptions 是三台 640x480 相机观测的立方体。
func DefaultOptions() Options {
	return Options{NumCameras: 3, K: geometry.NewCal3S2(500, 500, 0, 320, 240)}
}

// NoiseModels 是与生成的观测相匹配的噪声模型。
type NoiseModels struct {
	PosePrior   noise.Model
	Odometry    noise.Model
	PointPrior  noise.Model
	Measurement noise.Model
}

// Data 是求解器能看到的数据。Z[i][k] 是相机 i 对点 J[i][k] 的第 k 个观测。
// Odometry[i] 是相机 i-1 到相机 i 的相对位姿，Odometry[0] 为单位变换。
type Data struct {
	K        geometry.Cal3S2
	Z        [][]r2.Point
	J        [][]int
	Odometry []geometry.Pose3
	Noise    NoiseModels
}

// GroundTruth 保存生成数据所用的相机和点。
type GroundTruth struct {
	K       geometry.Cal3S2
	Cameras []geometry.PinholeCamera
	Points  []geometry.Point3
}

const (
	sceneRadius  = 10.0
	cameraRadius = 40.0
	cameraHeight = 10.0
)

// Generate 把相机放在围绕场景的圆上，都对准原点，并把每个点投影到每台相机。
func Generate(opts Options) (*Data, *GroundTruth, error) {
	if opts.NumCameras < 1 {
		return nil, nil, errors.Errorf("need at least one camera, got %d", opts.NumCameras)
	}
	truth := &GroundTruth{K: opts.K}
	if opts.Triangle {
		for j := 0; j < 3; j++ {
			theta := float64(j) * 2 * math.Pi / 3
			truth.Points = append(truth.Points, geometry.NewPoint3(sceneRadius*math.Cos(theta), sceneRadius*math.Sin(theta), 0))
		}
	} else {
		r := sceneRadius
		truth.Points = []geometry.Point3{
			geometry.NewPoint3(r, r, r), geometry.NewPoint3(-r, r, r),
			geometry.NewPoint3(-r, -r, r), geometry.NewPoint3(r, -r, r),
			geometry.NewPoint3(r, r, -r), geometry.NewPoint3(-r, r, -r),
			geometry.NewPoint3(-r, -r, -r), geometry.NewPoint3(r, -r, -r),
		}
	}

	noiseModels, err := defaultNoise()
	if err != nil {
		return nil, nil, err
	}
	data := &Data{
		K:        opts.K,
		Z:        make([][]r2.Point, opts.NumCameras),
		J:        make([][]int, opts.NumCameras),
		Odometry: make([]geometry.Pose3, opts.NumCameras),
		Noise:    noiseModels,
	}
	origin := geometry.NewPoint3(0, 0, 0)
	up := r3.Vector{Z: 1}
	for i := 0; i < opts.NumCameras; i++ {
		theta := float64(i) * 2 * math.Pi / float64(opts.NumCameras)
		eye := geometry.NewPoint3(cameraRadius*math.Cos(theta), cameraRadius*math.Sin(theta), cameraHeight)
		cam, err := geometry.LookAt(eye, origin, up, opts.K)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "camera %d", i)
		}
		truth.Cameras = append(truth.Cameras, cam)
		for j, p := range truth.Points {
			uv, err := cam.Project(p)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "camera %d point %d", i, j)
			}
			data.Z[i] = append(data.Z[i], uv)
			data.J[i] = append(data.J[i], j)
		}
	}
	data.Odometry[0] = geometry.IdentityPose()
	for i := 1; i < opts.NumCameras; i++ {
		data.Odometry[i] = truth.Cameras[i-1].Pose.Between(truth.Cameras[i].Pose)
	}
	return data, truth, nil
}

func defaultNoise() (NoiseModels, error) {
	var (
		n   NoiseModels
		err error
	)
	if n.PosePrior, err = noise.NewDiagonal([]float64{0.001, 0.001, 0.001, 0.1, 0.1, 0.1}); err != nil {
		return n, err
	}
	if n.Odometry, err = noise.NewDiagonal([]float64{0.001, 0.001, 0.001, 0.05, 0.05, 0.05}); err != nil {
		return n, err
	}
	if n.PointPrior, err = noise.NewIsotropic(3, 0.1); err != nil {
		return n, err
	}
	n.Measurement, err = noise.NewIsotropic(2, 1.0)
	return n, err
}

// Problem 为数据构建平差图：每个观测一个投影因子，第一台相机和第一个点
// 各加一个先验以固定基准。初值为真值。
func Problem(data *Data, truth *GroundTruth) (*nonlinear.FactorGraph, *nonlinear.Values, error) {
	graph := nonlinear.NewFactorGraph()
	for i := range data.Z {
		for k, z := range data.Z[i] {
			f, err := slam.NewProjectionFactor(z, data.Noise.Measurement, key.X(i), key.P(data.J[i][k]), data.K)
			if err != nil {
				return nil, nil, err
			}
			graph.Add(f)
		}
	}
	posePrior, err := slam.NewPriorFactor(key.X(0), truth.Cameras[0].Pose, data.Noise.PosePrior)
	if err != nil {
		return nil, nil, err
	}
	pointPrior, err := slam.NewPriorFactor(key.P(0), truth.Points[0], data.Noise.PointPrior)
	if err != nil {
		return nil, nil, err
	}
	graph.Add(posePrior, pointPrior)

	values := nonlinear.NewValues()
	for i, c := range truth.Cameras {
		if err := nonlinear.Insert(values, key.X(i), c.Pose); err != nil {
			return nil, nil, err
		}
	}
	for j, p := range truth.Points {
		if err := nonlinear.Insert(values, key.P(j), p); err != nil {
			return nil, nil, err
		}
	}
	return graph, values, nil
}
