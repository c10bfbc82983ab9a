package linear

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/hhyanyan/bbagraph/key"
)

// rankTol 是前端块主元的相对阈值，小于它视为零。
const rankTol = 1e-10

// Eliminate 用 Householder QR 依次消元。消去一个变量时，把与它相关的因子叠在一起
// 做 QR 分解，结果拆成该变量的条件密度和其分隔集上的新因子。
func (g *GaussianFactorGraph) Eliminate(order Ordering) (*GaussianBayesNet, error) {
	dims, err := g.Dims()
	if err != nil {
		return nil, err
	}
	pos := order.Positions()
	for k := range dims {
		if _, ok := pos[k]; !ok {
			return nil, errors.Wrapf(ErrIncompleteOrdering, "missing %s", k)
		}
	}

	pool := append([]*JacobianFactor(nil), g.factors...)
	index := make(map[key.Key][]int)
	for i, f := range pool {
		for _, k := range f.keys {
			index[k] = append(index[k], i)
		}
	}

	bn := &GaussianBayesNet{conditionals: make([]*GaussianConditional, 0, len(dims))}
	for _, k := range order {
		if _, ok := dims[k]; !ok {
			continue
		}
		var involved []*JacobianFactor
		for _, i := range index[k] {
			if pool[i] != nil {
				involved = append(involved, pool[i])
				pool[i] = nil
			}
		}
		delete(index, k)
		if len(involved) == 0 {
			return nil, &IndeterminantError{Key: k}
		}

		cond, rest, err := eliminateQR(k, involved, dims, pos)
		if err != nil {
			return nil, err
		}
		bn.conditionals = append(bn.conditionals, cond)
		if rest != nil {
			pool = append(pool, rest)
			for _, sk := range rest.keys {
				index[sk] = append(index[sk], len(pool)-1)
			}
		}
	}
	return bn, nil
}

func eliminateQR(frontal key.Key, factors []*JacobianFactor, dims map[key.Key]int, pos map[key.Key]int) (*GaussianConditional, *JacobianFactor, error) {
	sepSet := key.Set{}
	m := 0
	for _, f := range factors {
		m += f.Rows()
		for _, k := range f.keys {
			if k != frontal {
				sepSet.Add(k)
			}
		}
	}
	sep := make([]key.Key, 0, len(sepSet))
	for k := range sepSet {
		sep = append(sep, k)
	}
	sort.Slice(sep, func(i, j int) bool { return pos[sep[i]] < pos[sep[j]] })

	offsets := map[key.Key]int{frontal: 0}
	n := dims[frontal]
	for _, k := range sep {
		offsets[k] = n
		n += dims[k]
	}

	// QR 要求行数不少于列数，补零行不改变最小二乘问题。
	rows := m
	if rows < n+1 {
		rows = n + 1
	}
	Ab := mat.NewDense(rows, n+1, nil)
	row := 0
	for _, f := range factors {
		for i, k := range f.keys {
			blk := f.blocks[i]
			r, c := blk.Dims()
			Ab.Slice(row, row+r, offsets[k], offsets[k]+c).(*mat.Dense).Copy(blk)
		}
		for i, v := range f.b {
			Ab.Set(row+i, n, v)
		}
		row += f.Rows()
	}

	df := dims[frontal]
	colNorms := make([]float64, df)
	for j := 0; j < df; j++ {
		colNorms[j] = mat.Norm(Ab.ColView(j), 2)
	}

	var qr mat.QR
	qr.Factorize(Ab)
	var R mat.Dense
	qr.RTo(&R)

	for i := 0; i < df; i++ {
		if colNorms[i] == 0 || math.Abs(R.At(i, i)) <= rankTol*colNorms[i] {
			return nil, nil, &IndeterminantError{Key: frontal}
		}
	}

	S := make([]*mat.Dense, len(sep))
	for i, k := range sep {
		S[i] = mat.DenseCopyOf(R.Slice(0, df, offsets[k], offsets[k]+dims[k]))
	}
	d := make([]float64, df)
	for i := range d {
		d[i] = R.At(i, n)
	}
	cond, err := NewGaussianConditional(frontal, d, R.Slice(0, df, 0, df), sep, S)
	if err != nil {
		return nil, nil, err
	}

	end := m
	if end > n+1 {
		end = n + 1
	}
	if len(sep) == 0 || end <= df {
		return cond, nil, nil
	}
	blocks := make([]*mat.Dense, len(sep))
	for i, k := range sep {
		blocks[i] = mat.DenseCopyOf(R.Slice(df, end, offsets[k], offsets[k]+dims[k]))
	}
	b := make([]float64, end-df)
	for i := range b {
		b[i] = R.At(df+i, n)
	}
	return cond, &JacobianFactor{keys: sep, blocks: blocks, b: b}, nil
}
