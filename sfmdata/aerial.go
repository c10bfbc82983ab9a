package sfmdata

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/project"
)

// AerialOptions 描述一个摄影测量区域网：起伏地形上方的竖直航摄像片格网，
// 地面点也按规则格网分布。长度单位为米，Focal、像幅和 ObsNoise 为毫米。
type AerialOptions struct {
	CamerasX, CamerasY int
	Spacing            float64
	Height             float64
	Omega, Phi, Kappa  float64
	Focal              float64
	SensorWidth        float64
	SensorHeight       float64
	GridStep           float64

	// CameraOffset 加到初始区域网的真实投影中心上；初始角元素全为零，未知点初始 Z=0。
	CameraOffset geometry.Point3
	// ObsNoise 是加到像点坐标上的噪声标准差，由 Seed 生成。
	ObsNoise float64
	Seed     uint64
}

// DefaultAerialOptions 是 600m 航高、50mm 焦距的 6x5 区域网。
func DefaultAerialOptions() AerialOptions {
	return AerialOptions{
		CamerasX: 6, CamerasY: 5,
		Spacing: 100, Height: 600,
		Omega: 0.01, Phi: -0.01, Kappa: 0.005,
		Focal: 50, SensorWidth: 36, SensorHeight: 24,
		GridStep:     50,
		CameraOffset: geometry.NewPoint3(15, -10, 25),
	}
}

// Terrain 是 (x, y) 处的地面高程。
func Terrain(x, y float64) float64 {
	return 20*math.Sin(x/100) + 30*math.Cos(y/100) + 50
}

// AerialBlock 模拟区域网。四角点和最靠近中心的点为控制点。
// 返回初值带扰动的区域网和真值，两者观测相同。
func AerialBlock(opts AerialOptions) (initial, truth *project.Project, err error) {
	if opts.CamerasX < 1 || opts.CamerasY < 1 {
		return nil, nil, errors.Errorf("invalid camera grid %dx%d", opts.CamerasX, opts.CamerasY)
	}
	if opts.GridStep <= 0 || opts.Spacing <= 0 || opts.Focal <= 0 {
		return nil, nil, errors.New("grid step, spacing and focal length must be positive")
	}
	width := float64(opts.CamerasX-1) * opts.Spacing
	depth := float64(opts.CamerasY-1) * opts.Spacing
	nx := int(math.Floor(width/opts.GridStep)) + 1
	ny := int(math.Floor(depth/opts.GridStep)) + 1
	cx, cy := nx/2, ny/2

	cfg := project.Config{ProjectName: fmt.Sprintf("Block_%dx%d", opts.CamerasX, opts.CamerasY), ObsSigma: project.DefaultObsSigma}
	truth = &project.Project{Config: cfg}
	initial = &project.Project{Config: cfg}

	id := 0
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			x, y := float64(ix)*opts.GridStep, float64(iy)*opts.GridStep
			corner := (ix == 0 || ix == nx-1) && (iy == 0 || iy == ny-1)
			fixed := corner || (ix == cx && iy == cy)
			name := fmt.Sprintf("Pt_%d", id)
			if fixed {
				name = "Ctrl_" + name
			}
			p := &project.GroundPoint{ID: id, Name: name, X: x, Y: y, Z: Terrain(x, y), IsFixed: fixed}
			truth.Points = append(truth.Points, p)
			q := *p
			if !fixed {
				q.Z = 0
			}
			initial.Points = append(initial.Points, &q)
			id++
		}
	}

	id = 0
	for iy := 0; iy < opts.CamerasY; iy++ {
		for ix := 0; ix < opts.CamerasX; ix++ {
			c := &project.Camera{
				ID: id, F: opts.Focal,
				XL: float64(ix) * opts.Spacing, YL: float64(iy) * opts.Spacing, ZL: opts.Height,
				Omega: opts.Omega, Phi: opts.Phi, Kappa: opts.Kappa,
			}
			truth.Cameras = append(truth.Cameras, c)
			initial.Cameras = append(initial.Cameras, &project.Camera{
				ID: id, F: opts.Focal,
				XL: c.XL + opts.CameraOffset.X, YL: c.YL + opts.CameraOffset.Y, ZL: c.ZL + opts.CameraOffset.Z,
			})
			id++
		}
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	for _, c := range truth.Cameras {
		cam := geometry.PinholeCamera{Pose: c.Pose(), K: c.Calibration()}
		for _, p := range truth.Points {
			uv, err := cam.Project(geometry.NewPoint3(p.X, p.Y, p.Z))
			if err != nil {
				continue
			}
			x, y := project.ImageCoordinates(uv)
			if math.Abs(x) > opts.SensorWidth/2 || math.Abs(y) > opts.SensorHeight/2 {
				continue
			}
			if opts.ObsNoise > 0 {
				x += opts.ObsNoise * rng.NormFloat64()
				y += opts.ObsNoise * rng.NormFloat64()
			}
			truth.Observations = append(truth.Observations, project.Observation{CamID: c.ID, PtID: p.ID, X: x, Y: y})
		}
	}
	initial.Observations = append([]project.Observation(nil), truth.Observations...)
	return initial, truth, nil
}
