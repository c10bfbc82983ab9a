package nonlinear

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/geometry"
	"github.com/hhyanyan/bbagraph/key"
	"github.com/hhyanyan/bbagraph/noise"
)

func isotropic(t *testing.T, dim int, sigma float64) noise.Model {
	t.Helper()
	m, err := noise.NewIsotropic(dim, sigma)
	require.NoError(t, err)
	return m
}

// pointPrior 把点拉向 measured。flip 把雅可比取负，使线性化步长总指向上坡。
func pointPrior(t *testing.T, k key.Key, measured geometry.Point3, sigma float64, flip bool) Factor {
	t.Helper()
	f, err := NewNoiseModelFactor(isotropic(t, 3, sigma), []key.Key{k}, func(values *Values, _ bool) ([]float64, []*mat.Dense, error) {
		x, err := At[geometry.Point3](values, k)
		if err != nil {
			return nil, nil, err
		}
		s := 1.0
		if flip {
			s = -1
		}
		return measured.LocalCoordinates(x), []*mat.Dense{mat.NewDense(3, 3, []float64{s, 0, 0, 0, s, 0, 0, 0, s})}, nil
	})
	require.NoError(t, err)
	return f
}

// pointRange 观测两点间的距离。
func pointRange(t *testing.T, a, b key.Key, measured, sigma float64) Factor {
	t.Helper()
	f, err := NewNoiseModelFactor(isotropic(t, 1, sigma), []key.Key{a, b}, func(values *Values, _ bool) ([]float64, []*mat.Dense, error) {
		pa, err := At[geometry.Point3](values, a)
		if err != nil {
			return nil, nil, err
		}
		pb, err := At[geometry.Point3](values, b)
		if err != nil {
			return nil, nil, err
		}
		d := pa.Sub(pb.Vector)
		n := d.Norm()
		u := d.Mul(1 / n)
		return []float64{n - measured}, []*mat.Dense{
			mat.NewDense(1, 3, []float64{u.X, u.Y, u.Z}),
			mat.NewDense(1, 3, []float64{-u.X, -u.Y, -u.Z}),
		}, nil
	})
	require.NoError(t, err)
	return f
}

func anchor(i int) key.Key { return key.Symbol('a', uint64(i)) }

// trilateration 用紧先验固定四个锚点，由到锚点的距离确定 p0。
func trilateration(t *testing.T, truth geometry.Point3) (*FactorGraph, *Values) {
	t.Helper()
	anchors := []geometry.Point3{
		geometry.NewPoint3(0, 0, 0),
		geometry.NewPoint3(10, 0, 0),
		geometry.NewPoint3(0, 10, 0),
		geometry.NewPoint3(0, 0, 10),
	}
	g := NewFactorGraph()
	values := NewValues()
	for i, a := range anchors {
		g.Add(pointPrior(t, anchor(i), a, 0.01, false))
		g.Add(pointRange(t, key.P(0), anchor(i), truth.Sub(a.Vector).Norm(), 0.1))
		require.NoError(t, Insert(values, anchor(i), a))
	}
	require.NoError(t, Insert(values, key.P(0), geometry.NewPoint3(1, 1, 1)))
	return g, values
}
