package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Project {
	return &Project{
		Config: Config{ProjectName: "sample", ObsSigma: 0.005},
		Cameras: []*Camera{
			{ID: 0, F: 50, XL: 0, YL: 0, ZL: 600, Omega: 0.01, Phi: -0.01, Kappa: 0.005},
			{ID: 1, F: 50, XL: 100, YL: 0, ZL: 600},
		},
		Points: []*GroundPoint{
			{ID: 0, Name: "Ctrl_Pt_0", X: 0, Y: 0, Z: 80, IsFixed: true},
			{ID: 1, Name: "Pt_1", X: 50, Y: 0, Z: 75.5},
		},
		Observations: []Observation{
			{CamID: 0, PtID: 0, X: 0.1, Y: -0.2},
			{CamID: 0, PtID: 1, X: 4.9, Y: 0.05},
			{CamID: 1, PtID: 1, X: -4.8, Y: 0.07},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := sample()
	require.NoError(t, p.Save(dir))

	got, err := Load(filepath.Join(dir, "project.json"))
	require.NoError(t, err)
	assert.Equal(t, "sample", got.Config.ProjectName)
	assert.Equal(t, "cameras.csv", got.Config.CameraFile)
	assert.Equal(t, 0.005, got.Config.ObsSigma)
	assert.Equal(t, dir, got.Dir)

	require.Len(t, got.Cameras, 2)
	assert.Equal(t, 50.0, got.Cameras[0].F)
	assert.InDelta(t, 0.01, got.Cameras[0].Omega, 1e-9)
	assert.InDelta(t, 600, got.Cameras[1].ZL, 1e-3)

	require.Len(t, got.Points, 2)
	assert.True(t, got.Points[0].IsFixed)
	assert.False(t, got.Points[1].IsFixed)
	assert.Equal(t, "Pt_1", got.Points[1].Name)
	assert.InDelta(t, 75.5, got.Points[1].Z, 1e-3)

	assert.Equal(t, p.Observations, got.Observations)
}

func TestLoadDefaultsObsSigma(t *testing.T) {
	dir := t.TempDir()
	p := sample()
	p.Config.ObsSigma = 0
	require.NoError(t, p.Save(dir))
	got, err := Load(filepath.Join(dir, "project.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultObsSigma, got.Config.ObsSigma)
}

func TestLoadErrors(t *testing.T) {
	write := func(t *testing.T, dir, name, content string) {
		t.Helper()
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	t.Run("missing project", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "project.json"))
		assert.Error(t, err)
	})
	t.Run("missing file names", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "project.json", `{"camera_file": "c.csv"}`)
		_, err := Load(filepath.Join(dir, "project.json"))
		assert.ErrorContains(t, err, "required")
	})
	t.Run("negative sigma", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "project.json", `{"camera_file": "c.csv", "point_file": "p.csv", "obs_file": "o.csv", "obs_sigma": -1}`)
		_, err := Load(filepath.Join(dir, "project.json"))
		assert.ErrorContains(t, err, "obs_sigma")
	})
	t.Run("bad number", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, sample().Save(dir))
		write(t, dir, "points.csv", "id,name,X,Y,Z,isFixed\n0,a,1,2,3,1\n1,b,x,2,3,0\n")
		_, err := Load(filepath.Join(dir, "project.json"))
		assert.ErrorContains(t, err, "points.csv:3 column 3")
	})
	t.Run("short record", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, sample().Save(dir))
		write(t, dir, "observations.csv", "camID,ptID,x,y\n0,1,2\n")
		_, err := Load(filepath.Join(dir, "project.json"))
		assert.ErrorContains(t, err, "observations.csv:2: expected 4 columns, got 3")
	})
	t.Run("empty file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, sample().Save(dir))
		write(t, dir, "cameras.csv", "")
		_, err := Load(filepath.Join(dir, "project.json"))
		assert.ErrorContains(t, err, "empty file")
	})
}

func TestBuildRejectsUnknownReferences(t *testing.T) {
	p := sample()
	p.Observations = append(p.Observations, Observation{CamID: 9, PtID: 1})
	_, _, err := p.Build()
	assert.ErrorContains(t, err, "unknown camera 9")

	p = sample()
	p.Observations = append(p.Observations, Observation{CamID: 0, PtID: 7})
	_, _, err = p.Build()
	assert.ErrorContains(t, err, "unknown point 7")
}

func TestBuildSelectsFactors(t *testing.T) {
	p := sample()
	p.Points = append(p.Points, &GroundPoint{ID: 2, Name: "Pt_2", X: 90, Y: 10, Z: 70})
	p.Cameras = append(p.Cameras, &Camera{ID: 5, F: 50, ZL: 600})
	p.Observations = append(p.Observations, Observation{CamID: 1, PtID: 2, X: 1, Y: 1})

	graph, values, err := p.Build()
	require.NoError(t, err)
	// 控制点一个因子、Pt_1 两个；Pt_2 只被观测一次
	assert.Equal(t, 3, graph.Size())
	assert.True(t, values.Exists(CameraKey(0)))
	assert.True(t, values.Exists(CameraKey(1)))
	assert.False(t, values.Exists(CameraKey(5)), "camera without observations")
	assert.True(t, values.Exists(PointKey(1)))
	assert.False(t, values.Exists(PointKey(0)), "control point")
	assert.False(t, values.Exists(PointKey(2)), "single observation")
}

func TestImagePointFlipsY(t *testing.T) {
	uv := ImagePoint(3, 4)
	assert.Equal(t, -4.0, uv.Y)
	x, y := ImageCoordinates(uv)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 4.0, y)
}

func TestCameraPoseRoundTrip(t *testing.T) {
	c := &Camera{XL: 1, YL: 2, ZL: 3, Omega: 0.1, Phi: -0.2, Kappa: 1.3}
	var d Camera
	d.SetPose(c.Pose())
	assert.InDelta(t, c.Omega, d.Omega, 1e-12)
	assert.InDelta(t, c.Phi, d.Phi, 1e-12)
	assert.InDelta(t, c.Kappa, d.Kappa, 1e-12)
	assert.Equal(t, 3.0, d.ZL)
}
