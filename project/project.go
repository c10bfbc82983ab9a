// Package project 读写摄影测量区域网平差工程：project.json 指定相机、
// 地面点和像点观测三个 CSV 文件。像点坐标为焦平面上的毫米，y 向上；
// 角元素为 omega、phi、kappa，单位弧度。
package project

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// DefaultObsSigma 是 project.json 未设置时像点坐标的标准差 (mm)，
// 此时 sigma0 就是以毫米计的中误差。
const DefaultObsSigma = 1.0

// Config 是 project.json 的内容。
type Config struct {
	ProjectName string  `json:"project_name,omitempty"`
	CameraFile  string  `json:"camera_file"`
	PointFile   string  `json:"point_file"`
	ObsFile     string  `json:"obs_file"`
	ObsSigma    float64 `json:"obs_sigma,omitempty"`
}

// Camera 是外方位元素及其验后精度。
type Camera struct {
	ID                int
	F                 float64
	XL, YL, ZL        float64
	Omega, Phi, Kappa float64

	SOmega, SPhi, SKappa float64
	SXL, SYL, SZL        float64
}

// GroundPoint 是物方点。固定点为控制点，不参与平差。
type GroundPoint struct {
	ID      int
	Name    string
	X, Y, Z float64
	IsFixed bool

	SX, SY, SZ float64
}

// Observation 是某点在某相机中的像点坐标。
type Observation struct {
	CamID, PtID int
	X, Y        float64
}

// Project 是载入的区域网。
type Project struct {
	Dir          string
	Config       Config
	Cameras      []*Camera
	Points       []*GroundPoint
	Observations []Observation
}

// Load 读取 project.json 及其指定的 CSV 文件，路径相对于其所在目录。
func Load(path string) (*Project, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read project file")
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if cfg.CameraFile == "" || cfg.PointFile == "" || cfg.ObsFile == "" {
		return nil, errors.Errorf("%s: camera_file, point_file and obs_file are required", path)
	}
	if cfg.ObsSigma < 0 {
		return nil, errors.Errorf("%s: obs_sigma must be positive", path)
	}
	if cfg.ObsSigma == 0 {
		cfg.ObsSigma = DefaultObsSigma
	}

	p := &Project{Dir: filepath.Dir(path), Config: cfg}
	if p.Cameras, err = loadCameras(filepath.Join(p.Dir, cfg.CameraFile)); err != nil {
		return nil, err
	}
	if p.Points, err = loadPoints(filepath.Join(p.Dir, cfg.PointFile)); err != nil {
		return nil, err
	}
	if p.Observations, err = loadObservations(filepath.Join(p.Dir, cfg.ObsFile)); err != nil {
		return nil, err
	}
	return p, nil
}

// Save 把 project.json 和三个 CSV 文件写入 dir。
func (p *Project) Save(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "create project dir")
	}
	cfg := p.Config
	if cfg.CameraFile == "" {
		cfg.CameraFile = "cameras.csv"
	}
	if cfg.PointFile == "" {
		cfg.PointFile = "points.csv"
	}
	if cfg.ObsFile == "" {
		cfg.ObsFile = "observations.csv"
	}
	if err := writeCSV(filepath.Join(dir, cfg.CameraFile), p.cameraRecords()); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, cfg.PointFile), p.pointRecords()); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, cfg.ObsFile), p.observationRecords()); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode project file")
	}
	if err := os.WriteFile(filepath.Join(dir, "project.json"), b, 0o644); err != nil {
		return errors.Wrap(err, "write project file")
	}
	p.Dir, p.Config = dir, cfg
	return nil
}

// Camera 返回给定 id 的相机。
func (p *Project) Camera(id int) (*Camera, bool) {
	for _, c := range p.Cameras {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Point 返回给定 id 的地面点。
func (p *Project) Point(id int) (*GroundPoint, bool) {
	for _, pt := range p.Points {
		if pt.ID == id {
			return pt, true
		}
	}
	return nil, false
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open csv")
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, errors.Errorf("%s: empty file", path)
		}
		return nil, errors.Wrapf(err, "%s: header", path)
	}
	lines, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return lines, nil
}

// fields 解析一条 CSV 记录，记住第一个错误及其位置。
type fields struct {
	path string
	line int
	rec  []string
	err  error
}

func (f *fields) check(n int) bool {
	if len(f.rec) < n {
		f.err = errors.Errorf("%s:%d: expected %d columns, got %d", f.path, f.line, n, len(f.rec))
		return false
	}
	return true
}

func (f *fields) int(i int) int {
	v, err := strconv.Atoi(f.rec[i])
	if err != nil && f.err == nil {
		f.err = errors.Wrapf(err, "%s:%d column %d", f.path, f.line, i+1)
	}
	return v
}

func (f *fields) float(i int) float64 {
	v, err := strconv.ParseFloat(f.rec[i], 64)
	if err != nil && f.err == nil {
		f.err = errors.Wrapf(err, "%s:%d column %d", f.path, f.line, i+1)
	}
	return v
}

func loadCameras(path string) ([]*Camera, error) {
	lines, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	cams := make([]*Camera, 0, len(lines))
	for i, l := range lines {
		f := fields{path: path, line: i + 2, rec: l}
		if !f.check(8) {
			return nil, f.err
		}
		c := &Camera{
			ID: f.int(0), F: f.float(1),
			XL: f.float(2), YL: f.float(3), ZL: f.float(4),
			Omega: f.float(5), Phi: f.float(6), Kappa: f.float(7),
		}
		if f.err != nil {
			return nil, f.err
		}
		cams = append(cams, c)
	}
	return cams, nil
}

func loadPoints(path string) ([]*GroundPoint, error) {
	lines, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	pts := make([]*GroundPoint, 0, len(lines))
	for i, l := range lines {
		f := fields{path: path, line: i + 2, rec: l}
		if !f.check(6) {
			return nil, f.err
		}
		pt := &GroundPoint{
			ID: f.int(0), Name: l[1],
			X: f.float(2), Y: f.float(3), Z: f.float(4),
			IsFixed: l[5] == "1",
		}
		if f.err != nil {
			return nil, f.err
		}
		pts = append(pts, pt)
	}
	return pts, nil
}

func loadObservations(path string) ([]Observation, error) {
	lines, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	obs := make([]Observation, 0, len(lines))
	for i, l := range lines {
		f := fields{path: path, line: i + 2, rec: l}
		if !f.check(4) {
			return nil, f.err
		}
		o := Observation{CamID: f.int(0), PtID: f.int(1), X: f.float(2), Y: f.float(3)}
		if f.err != nil {
			return nil, f.err
		}
		obs = append(obs, o)
	}
	return obs, nil
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create csv")
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

func (p *Project) cameraRecords() [][]string {
	out := [][]string{{"id", "f", "xl", "yl", "zl", "omega", "phi", "kappa"}}
	for _, c := range p.Cameras {
		out = append(out, []string{
			fmt.Sprint(c.ID), fmt.Sprint(c.F),
			fmt.Sprintf("%.3f", c.XL), fmt.Sprintf("%.3f", c.YL), fmt.Sprintf("%.3f", c.ZL),
			fmt.Sprintf("%.9f", c.Omega), fmt.Sprintf("%.9f", c.Phi), fmt.Sprintf("%.9f", c.Kappa),
		})
	}
	return out
}

func (p *Project) pointRecords() [][]string {
	out := [][]string{{"id", "name", "X", "Y", "Z", "isFixed"}}
	for _, pt := range p.Points {
		fixed := "0"
		if pt.IsFixed {
			fixed = "1"
		}
		out = append(out, []string{
			fmt.Sprint(pt.ID), pt.Name,
			fmt.Sprintf("%.3f", pt.X), fmt.Sprintf("%.3f", pt.Y), fmt.Sprintf("%.3f", pt.Z), fixed,
		})
	}
	return out
}

func (p *Project) observationRecords() [][]string {
	out := [][]string{{"camID", "ptID", "x", "y"}}
	for _, o := range p.Observations {
		out = append(out, []string{
			fmt.Sprint(o.CamID), fmt.Sprint(o.PtID),
			fmt.Sprintf("%.6f", o.X), fmt.Sprintf("%.6f", o.Y),
		})
	}
	return out
}
