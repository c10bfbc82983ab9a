package linear

import (
	"container/heap"

	"github.com/hhyanyan/bbagraph/key"
)

// Ordering 是变量的消元顺序。顺序只影响填充量和速度，不影响解。
type Ordering []key.Key

// NaturalOrdering 按键的升序消元。
func NaturalOrdering(keySets [][]key.Key) Ordering {
	s := key.Set{}
	for _, ks := range keySets {
		s.Add(ks...)
	}
	return Ordering(s.Sorted())
}

// MinDegreeOrdering 是变量邻接图上的贪心最小度启发式，度相同时取较小的键。
// 对光束法平差它先消去地面点再消去相机，即舒尔补。
func MinDegreeOrdering(keySets [][]key.Key) Ordering {
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

	q := &degreeQueue{}
	for k, nbrs := range adj {
		q.items = append(q.items, degreeItem{k: k, deg: len(nbrs)})
	}
	heap.Init(q)
	out := make(Ordering, 0, len(adj))
	for q.Len() > 0 {
		it := heap.Pop(q).(degreeItem)
		nbrs, ok := adj[it.k]
		if !ok || len(nbrs) != it.deg {
			// 过期条目
			continue
		}
		sorted := nbrs.Sorted()
		for i, a := range sorted {
			delete(adj[a], it.k)
			for _, b := range sorted[i+1:] {
				adj[a].Add(b)
				adj[b].Add(a)
			}
		}
		for _, a := range sorted {
			heap.Push(q, degreeItem{k: a, deg: len(adj[a])})
		}
		delete(adj, it.k)
		out = append(out, it.k)
	}
	return out
}

var _ heap.Interface = (*degreeQueue)(nil)

type degreeItem struct {
	k   key.Key
	deg int
}

// degreeQueue 先弹出度最小的，再按键从小到大。度变化后旧条目过期，弹出时跳过。
type degreeQueue struct {
	items []degreeItem
}

func (q *degreeQueue) Len() int { return len(q.items) }

func (q *degreeQueue) Less(i, j int) bool {
	if q.items[i].deg != q.items[j].deg {
		return q.items[i].deg < q.items[j].deg
	}
	return q.items[i].k < q.items[j].k
}

func (q *degreeQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *degreeQueue) Push(x any) { q.items = append(q.items, x.(degreeItem)) }

func (q *degreeQueue) Pop() any {
	n := len(q.items)
	it := q.items[n-1]
	q.items = q.items[:n-1]
	return it
}

// WithLast 把给定的键按给定顺序移到末尾。
func (o Ordering) WithLast(last ...key.Key) Ordering {
	skip := key.Set{}
	skip.Add(last...)
	out := make(Ordering, 0, len(o))
	for _, k := range o {
		if !skip.Has(k) {
			out = append(out, k)
		}
	}
	return append(out, last...)
}

// Positions 返回每个键的位置。
func (o Ordering) Positions() map[key.Key]int {
	pos := make(map[key.Key]int, len(o))
	for i, k := range o {
		pos[k] = i
	}
	return pos
}
