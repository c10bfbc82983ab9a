package sfmdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhyanyan/bbagraph/nonlinear"
)

func TestAerialBlockLayout(t *testing.T) {
	initial, truth, err := AerialBlock(DefaultAerialOptions())
	require.NoError(t, err)

	assert.Len(t, truth.Cameras, 30)
	assert.Len(t, truth.Points, 99)
	var controls []string
	for _, p := range truth.Points {
		if p.IsFixed {
			controls = append(controls, p.Name)
		}
	}
	assert.Equal(t, []string{"Ctrl_Pt_0", "Ctrl_Pt_10", "Ctrl_Pt_49", "Ctrl_Pt_88", "Ctrl_Pt_98"}, controls)

	center, ok := truth.Point(49)
	require.True(t, ok)
	assert.Equal(t, 250.0, center.X)
	assert.Equal(t, 200.0, center.Y)
	assert.Equal(t, Terrain(250, 200), center.Z)

	c0, _ := initial.Camera(0)
	assert.Equal(t, 15.0, c0.XL)
	assert.Equal(t, -10.0, c0.YL)
	assert.Equal(t, 625.0, c0.ZL)
	assert.Zero(t, c0.Omega)
	for i, p := range initial.Points {
		if !p.IsFixed {
			assert.Zero(t, p.Z)
		} else {
			assert.Equal(t, truth.Points[i].Z, p.Z)
		}
	}

	require.NotEmpty(t, truth.Observations)
	assert.Equal(t, truth.Observations, initial.Observations)
	for _, o := range truth.Observations {
		assert.LessOrEqual(t, o.X, 18.0)
		assert.GreaterOrEqual(t, o.X, -18.0)
		assert.LessOrEqual(t, o.Y, 12.0)
		assert.GreaterOrEqual(t, o.Y, -12.0)
	}
}

func TestAerialBlockNoiseIsSeeded(t *testing.T) {
	opts := DefaultAerialOptions()
	opts.ObsNoise = 0.005
	opts.Seed = 7
	_, a, err := AerialBlock(opts)
	require.NoError(t, err)
	_, b, err := AerialBlock(opts)
	require.NoError(t, err)
	assert.Equal(t, a.Observations, b.Observations)

	_, clean, err := AerialBlock(DefaultAerialOptions())
	require.NoError(t, err)
	assert.NotEqual(t, clean.Observations, a.Observations)
}

func TestAerialBlockAdjustment(t *testing.T) {
	if testing.Short() {
		t.Skip("full block adjustment")
	}
	initial, truth, err := AerialBlock(DefaultAerialOptions())
	require.NoError(t, err)

	graph, values, err := initial.Build()
	require.NoError(t, err)
	params := nonlinear.DefaultLevenbergMarquardtParams()
	params.RelativeErrorTol = 0
	params.AbsoluteErrorTol = 0
	params.ErrorTol = 1e-14
	params.Workers = 4
	opt, err := nonlinear.NewLevenbergMarquardtOptimizer(graph, values, params)
	require.NoError(t, err)
	result, err := opt.Optimize()
	require.NoError(t, err)
	require.Equal(t, nonlinear.StateConverged, opt.State())

	require.NoError(t, initial.Apply(result, nil, 0))
	for i, c := range initial.Cameras {
		want := truth.Cameras[i]
		assert.InDelta(t, want.XL, c.XL, 1e-4, "camera %d", c.ID)
		assert.InDelta(t, want.YL, c.YL, 1e-4, "camera %d", c.ID)
		assert.InDelta(t, want.ZL, c.ZL, 1e-4, "camera %d", c.ID)
		assert.InDelta(t, want.Omega, c.Omega, 1e-7, "camera %d", c.ID)
		assert.InDelta(t, want.Phi, c.Phi, 1e-7, "camera %d", c.ID)
		assert.InDelta(t, want.Kappa, c.Kappa, 1e-7, "camera %d", c.ID)
	}
	for i, p := range initial.Points {
		want := truth.Points[i]
		assert.InDelta(t, want.Z, p.Z, 1e-4, "point %s", p.Name)
	}
}
