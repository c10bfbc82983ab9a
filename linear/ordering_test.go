package linear

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hhyanyan/bbagraph/key"
)

func TestMinDegreeEliminatesLandmarksFirst(t *testing.T) {
	x0, x1 := key.X(0), key.X(1)
	p0, p1, p2 := key.P(0), key.P(1), key.P(2)
	sets := [][]key.Key{
		{x0},
		{x0, p0}, {x0, p1}, {x0, p2},
		{x1, p0}, {x1, p1}, {x1, p2},
	}
	assert.Equal(t, Ordering{p0, p1, p2, x0, x1}, MinDegreeOrdering(sets))
}

// minDegreeByScan 每选一个变量都重新扫描全部剩余变量。
func minDegreeByScan(keySets [][]key.Key) Ordering {
	adj := make(map[key.Key]key.Set)
	for _, ks := range keySets {
		for _, a := range ks {
			if _, ok := adj[a]; !ok {
				adj[a] = key.Set{}
			}
			for _, b := range ks {
				if a != b {
					adj[a].Add(b)
				}
			}
		}
	}
	var out Ordering
	for len(adj) > 0 {
		remaining := key.Set{}
		for k := range adj {
			remaining.Add(k)
		}
		var best key.Key
		bestDeg := -1
		for _, k := range remaining.Sorted() {
			if d := len(adj[k]); bestDeg < 0 || d < bestDeg {
				best, bestDeg = k, d
			}
		}
		nbrs := adj[best].Sorted()
		for i, a := range nbrs {
			delete(adj[a], best)
			for _, b := range nbrs[i+1:] {
				adj[a].Add(b)
				adj[b].Add(a)
			}
		}
		delete(adj, best)
		out = append(out, best)
	}
	return out
}

func TestMinDegreeMatchesFullScan(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 20; trial++ {
		var sets [][]key.Key
		for i := 0; i < 60; i++ {
			cam := key.X(r.IntN(8))
			sets = append(sets, []key.Key{cam, key.P(r.IntN(30))})
		}
		sets = append(sets, []key.Key{key.X(0)})
		assert.Equal(t, minDegreeByScan(sets), MinDegreeOrdering(sets), "trial %d", trial)
	}
}

func TestNaturalOrdering(t *testing.T) {
	sets := [][]key.Key{{key.X(1), key.P(3)}, {key.X(0)}}
	assert.Equal(t, Ordering{key.P(3), key.X(0), key.X(1)}, NaturalOrdering(sets))
}

func TestWithLast(t *testing.T) {
	o := Ordering{0, 1, 2, 3}
	assert.Equal(t, Ordering{0, 2, 1, 3}, o.WithLast(1, 3))
	assert.Equal(t, map[key.Key]int{0: 0, 1: 1, 2: 2, 3: 3}, o.Positions())
}
