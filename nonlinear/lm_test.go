package nonlinear

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
)

func TestLevenbergMarquardtConverges(t *testing.T) {
	truth := geometry.NewPoint3(3, 4, 5)
	g, initial := trilateration(t, truth)
	metrics := &BasicMetricsCollector{}
	params := DefaultLevenbergMarquardtParams()
	params.Metrics = metrics

	opt, err := NewLevenbergMarquardtOptimizer(g, initial, params)
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, opt.State())

	prev := opt.Error()
	for !opt.State().Terminal() {
		require.NoError(t, opt.Iterate())
		assert.LessOrEqual(t, opt.Error(), prev)
		prev = opt.Error()
	}
	assert.Equal(t, StateConverged, opt.State())

	p, err := opt.Values().Point3(key.P(0))
	require.NoError(t, err)
	assert.True(t, p.Equals(truth, 1e-4), "got %v", p)

	start, err := initial.Point3(key.P(0))
	require.NoError(t, err)
	assert.True(t, start.Equals(geometry.NewPoint3(1, 1, 1), 0), "initial values must not be modified")

	stats := metrics.GetStats()
	assert.Equal(t, int64(opt.Iterations()), stats.AcceptedSteps)
	assert.Equal(t, StateConverged, stats.LastState)
	assert.Positive(t, stats.Linearizations)
}

func TestLevenbergMarquardtOptimize(t *testing.T) {
	truth := geometry.NewPoint3(3, 4, 5)
	g, initial := trilateration(t, truth)
	params := DefaultLevenbergMarquardtParams()
	params.DiagonalDamping = true
	params.Ordering = OrderingNatural
	params.Workers = 3

	opt, err := NewLevenbergMarquardtOptimizer(g, initial, params)
	require.NoError(t, err)
	result, err := opt.Optimize()
	require.NoError(t, err)
	p, err := result.Point3(key.P(0))
	require.NoError(t, err)
	assert.True(t, p.Equals(truth, 1e-4))
}

func TestLevenbergMarquardtLambdaStaysPositive(t *testing.T) {
	truth := geometry.NewPoint3(3, 4, 5)
	g, initial := trilateration(t, truth)
	params := DefaultLevenbergMarquardtParams()
	params.LambdaInitial = math.SmallestNonzeroFloat64

	opt, err := NewLevenbergMarquardtOptimizer(g, initial, params)
	require.NoError(t, err)
	require.NoError(t, opt.Iterate())
	assert.Positive(t, opt.Lambda())

	result, err := opt.Optimize()
	require.NoError(t, err)
	p, err := result.Point3(key.P(0))
	require.NoError(t, err)
	assert.True(t, p.Equals(truth, 1e-4), "got %v", p)
}

func TestLevenbergMarquardtTerminalStatesAreSticky(t *testing.T) {
	g, initial := trilateration(t, geometry.NewPoint3(3, 4, 5))
	params := DefaultLevenbergMarquardtParams()
	params.MaxIterations = 1
	params.AbsoluteErrorTol = 0
	params.RelativeErrorTol = 0

	opt, err := NewLevenbergMarquardtOptimizer(g, initial, params)
	require.NoError(t, err)
	require.NoError(t, opt.Iterate())
	require.Equal(t, StateExhausted, opt.State())
	assert.Equal(t, 1, opt.Iterations())

	before := opt.Values()
	require.NoError(t, opt.Iterate())
	assert.Equal(t, 1, opt.Iterations())
	assert.True(t, before.Equals(opt.Values(), 0))
}

func TestLevenbergMarquardtFailsWhenNoStepHelps(t *testing.T) {
	g := NewFactorGraph(pointPrior(t, key.P(0), geometry.NewPoint3(5, 5, 5), 1, true))
	initial := NewValues()
	require.NoError(t, Insert(initial, key.P(0), geometry.NewPoint3(0, 0, 0)))

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	params := DefaultLevenbergMarquardtParams()
	params.AbsoluteErrorTol = 0
	params.RelativeErrorTol = 0
	params.Logger = logger

	opt, err := NewLevenbergMarquardtOptimizer(g, initial, params)
	require.NoError(t, err)
	startError := opt.Error()

	err = opt.Iterate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLambdaExceeded)
	var se *SolveError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Iteration)
	assert.Equal(t, StateFailed, opt.State())

	// 被拒绝的步长不改变估计
	assert.Equal(t, startError, opt.Error())
	assert.True(t, opt.Values().Equals(initial, 0))

	assert.Equal(t, err, opt.Iterate())
	_, err = opt.Marginals()
	assert.ErrorIs(t, err, ErrNotOptimized)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	var warned bool
	for _, e := range hook.AllEntries() {
		warned = warned || e.Level == logrus.WarnLevel
	}
	assert.True(t, warned)
}

func TestLevenbergMarquardtMarginalsBeforeIterate(t *testing.T) {
	g, initial := trilateration(t, geometry.NewPoint3(3, 4, 5))
	opt, err := NewLevenbergMarquardtOptimizer(g, initial, DefaultLevenbergMarquardtParams())
	require.NoError(t, err)

	_, err = opt.Marginals()
	assert.ErrorIs(t, err, ErrNotOptimized)

	require.NoError(t, opt.Iterate())
	m, err := opt.Marginals()
	require.NoError(t, err)
	cov, err := m.MarginalCovariance(key.P(0))
	require.NoError(t, err)
	assert.Equal(t, 3, cov.SymmetricDim())
}

func TestLevenbergMarquardtZeroErrorConvergesImmediately(t *testing.T) {
	g := NewFactorGraph(pointPrior(t, key.P(0), geometry.NewPoint3(1, 2, 3), 1, false))
	initial := NewValues()
	require.NoError(t, Insert(initial, key.P(0), geometry.NewPoint3(1, 2, 3)))

	opt, err := NewLevenbergMarquardtOptimizer(g, initial, DefaultLevenbergMarquardtParams())
	require.NoError(t, err)
	require.NoError(t, opt.Iterate())
	assert.Equal(t, StateConverged, opt.State())
	assert.Equal(t, 0, opt.Iterations())
}

func TestNewLevenbergMarquardtOptimizerErrors(t *testing.T) {
	g, initial := trilateration(t, geometry.NewPoint3(3, 4, 5))
	g.Add(pointPrior(t, key.P(7), geometry.NewPoint3(0, 0, 0), 1, false))
	_, err := NewLevenbergMarquardtOptimizer(g, initial, DefaultLevenbergMarquardtParams())
	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, key.P(7), missing.Key)

	params := DefaultLevenbergMarquardtParams()
	params.LambdaFactor = 1
	_, err = NewLevenbergMarquardtOptimizer(NewFactorGraph(), NewValues(), params)
	assert.Error(t, err)
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *LevenbergMarquardtParams)
		wantErr bool
	}{
		{"defaults", func(p *LevenbergMarquardtParams) {}, false},
		{"zero iterations", func(p *LevenbergMarquardtParams) { p.MaxIterations = 0 }, true},
		{"negative tolerance", func(p *LevenbergMarquardtParams) { p.RelativeErrorTol = -1 }, true},
		{"zero lambda", func(p *LevenbergMarquardtParams) { p.LambdaInitial = 0 }, true},
		{"lambda above bound", func(p *LevenbergMarquardtParams) { p.LambdaInitial = 1e6 }, true},
		{"inverted bounds", func(p *LevenbergMarquardtParams) { p.LambdaLowerBound = 1e6 }, true},
		{"bad diagonal", func(p *LevenbergMarquardtParams) { p.DiagonalDamping = true; p.MinDiagonal = 0 }, true},
		{"unknown ordering", func(p *LevenbergMarquardtParams) { p.Ordering = "colamd" }, true},
		{"natural ordering", func(p *LevenbergMarquardtParams) { p.Ordering = OrderingNatural }, false},
		{"negative workers", func(p *LevenbergMarquardtParams) { p.Workers = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultLevenbergMarquardtParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "converged", StateConverged.String())
	assert.False(t, StateIterating.Terminal())
	assert.True(t, StateExhausted.Terminal())
}
