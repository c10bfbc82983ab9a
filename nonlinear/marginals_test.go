package nonlinear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
)

func assertPSD(t *testing.T, m *mat.SymDense) {
	t.Helper()
	var eig mat.EigenSym
	require.True(t, eig.Factorize(m, false))
	for _, v := range eig.Values(nil) {
		assert.GreaterOrEqual(t, v, -1e-12)
	}
}

// chain 是带先验的 p0，以及由线性偏移因子连到它的 p1。
func chain(t *testing.T) (*FactorGraph, *Values) {
	t.Helper()
	g := NewFactorGraph(pointPrior(t, key.P(0), geometry.NewPoint3(0, 0, 0), 0.5, false))
	between, err := NewNoiseModelFactor(isotropic(t, 3, 1), []key.Key{key.P(0), key.P(1)}, func(values *Values, _ bool) ([]float64, []*mat.Dense, error) {
		a, err := values.Point3(key.P(0))
		if err != nil {
			return nil, nil, err
		}
		b, err := values.Point3(key.P(1))
		if err != nil {
			return nil, nil, err
		}
		I := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
		negI := mat.NewDense(3, 3, []float64{-1, 0, 0, 0, -1, 0, 0, 0, -1})
		d := b.Sub(a.Vector)
		return []float64{d.X - 1, d.Y, d.Z}, []*mat.Dense{negI, I}, nil
	})
	require.NoError(t, err)
	g.Add(between)

	values := NewValues()
	require.NoError(t, Insert(values, key.P(0), geometry.NewPoint3(0, 0, 0)))
	require.NoError(t, Insert(values, key.P(1), geometry.NewPoint3(1, 0, 0)))
	return g, values
}

func TestMarginalCovarianceOfLinearChain(t *testing.T) {
	g, values := chain(t)
	m, err := NewMarginals(g, values)
	require.NoError(t, err)

	cov0, err := m.MarginalCovariance(key.P(0))
	require.NoError(t, err)
	cov1, err := m.MarginalCovariance(key.P(1))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0.25, cov0.At(i, i), 1e-12)
		assert.InDelta(t, 1.25, cov1.At(i, i), 1e-12)
	}
	assertPSD(t, cov0)
	assertPSD(t, cov1)

	info, err := m.MarginalInformation(key.P(0))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, info.At(2, 2), 1e-12)
}

func TestMarginalCovarianceReusesElimination(t *testing.T) {
	g, values := chain(t)
	m, err := NewMarginals(g, values)
	require.NoError(t, err)

	joint, err := m.JointMarginalCovariance(key.P(0), key.P(1))
	require.NoError(t, err)
	for _, k := range []key.Key{key.P(0), key.P(1)} {
		cov, err := m.MarginalCovariance(k)
		require.NoError(t, err)
		want, err := joint.At(k, k)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(want, cov, 1e-12), "key %s", k)
	}
	first := m.bn
	require.NotNil(t, first)
	_, err = m.MarginalCovariance(key.P(0))
	require.NoError(t, err)
	assert.Same(t, first, m.bn)
}

func TestJointMarginalCovariance(t *testing.T) {
	g, values := chain(t)
	m, err := NewMarginals(g, values)
	require.NoError(t, err)

	joint, err := m.JointMarginalCovariance(key.P(1), key.P(0))
	require.NoError(t, err)
	assert.Equal(t, []key.Key{key.P(1), key.P(0)}, joint.Keys())
	assert.Equal(t, 6, joint.Full().SymmetricDim())
	assertPSD(t, joint.Full())

	off, err := joint.At(key.P(0), key.P(1))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, off.At(0, 0), 1e-12)
	assert.InDelta(t, 0, off.At(0, 1), 1e-12)

	b11, err := joint.At(key.P(1), key.P(1))
	require.NoError(t, err)
	assert.InDelta(t, 1.25, b11.At(1, 1), 1e-12)

	_, err = joint.At(key.P(2), key.P(0))
	var missing *MissingKeyError
	assert.ErrorAs(t, err, &missing)
}

func TestMarginalsErrors(t *testing.T) {
	g, values := chain(t)
	m, err := NewMarginals(g, values)
	require.NoError(t, err)

	_, err = m.MarginalCovariance(key.P(5))
	var missing *MissingKeyError
	assert.ErrorAs(t, err, &missing)

	_, err = m.JointMarginalCovariance(key.P(0), key.P(0))
	assert.Error(t, err)

	// 去掉先验后 p1 单独不受约束
	loose := NewFactorGraph(g.At(1))
	m, err = NewMarginals(loose, values)
	require.NoError(t, err)
	_, err = m.MarginalCovariance(key.P(1))
	var se *SolveError
	assert.ErrorAs(t, err, &se)
}
