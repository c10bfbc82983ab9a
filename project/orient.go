package project

import (
	"github.com/golang/geo/r2"

	"github.com/hhyanyan/bbagraph/adjust"
	"github.com/hhyanyan/bbagraph/geometry"
)

// ModelPoint 是模型坐标中的具名点。
type ModelPoint struct {
	Name  string
	Point geometry.Point3
}

// LoadTiePoints 读取立体像对量测：name,xl,yl,xr,yr，单位 mm。
func LoadTiePoints(path string) ([]adjust.TiePoint, error) {
	lines, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	pts := make([]adjust.TiePoint, 0, len(lines))
	for i, l := range lines {
		f := fields{path: path, line: i + 2, rec: l}
		if !f.check(5) {
			return nil, f.err
		}
		p := adjust.TiePoint{
			Name:  l[0],
			Left:  r2.Point{X: f.float(1), Y: f.float(2)},
			Right: r2.Point{X: f.float(3), Y: f.float(4)},
		}
		if f.err != nil {
			return nil, f.err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

// LoadCommonPoints 读取两个坐标系中都已知的点：
// name,x,y,z,X,Y,Z，模型坐标在前。
func LoadCommonPoints(path string) ([]adjust.CommonPoint, error) {
	lines, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	pts := make([]adjust.CommonPoint, 0, len(lines))
	for i, l := range lines {
		f := fields{path: path, line: i + 2, rec: l}
		if !f.check(7) {
			return nil, f.err
		}
		p := adjust.CommonPoint{
			Name:   l[0],
			Model:  geometry.NewPoint3(f.float(1), f.float(2), f.float(3)),
			Ground: geometry.NewPoint3(f.float(4), f.float(5), f.float(6)),
		}
		if f.err != nil {
			return nil, f.err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

// LoadModelPoints 读取 name,x,y,z 行。
func LoadModelPoints(path string) ([]ModelPoint, error) {
	lines, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	pts := make([]ModelPoint, 0, len(lines))
	for i, l := range lines {
		f := fields{path: path, line: i + 2, rec: l}
		if !f.check(4) {
			return nil, f.err
		}
		p := ModelPoint{Name: l[0], Point: geometry.NewPoint3(f.float(1), f.float(2), f.float(3))}
		if f.err != nil {
			return nil, f.err
		}
		pts = append(pts, p)
	}
	return pts, nil
}
