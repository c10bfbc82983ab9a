// Package key 定义未知量的标识符。
//
// Key 就是一个 64 位整数。约定高 8 位存放单个字符符号，低 56 位存放序号，
// 因此 Symbol('x', 3) 打印为 "x3"。Key 按数值排序，也就先按符号分组。
package key

import (
	"fmt"
	"sort"
)

const (
	chrBits   = 8
	indexBits = 64 - chrBits
	indexMask = uint64(1)<<indexBits - 1
)

// Key 标识一个变量。
type Key uint64

// Symbol 把字符和序号编码为 Key。序号超出 56 位时 panic。
func Symbol(c byte, index uint64) Key {
	if index > indexMask {
		panic(fmt.Sprintf("key: symbol index %d out of range", index))
	}
	return Key(uint64(c)<<indexBits | index)
}

// X 即 Symbol('x', i)，一般用于相机位姿。
func X(i int) Key { return Symbol('x', uint64(i)) }

// P 即 Symbol('p', j)，一般用于地面点。
func P(j int) Key { return Symbol('p', uint64(j)) }

// Chr 返回符号字符。
func (k Key) Chr() byte { return byte(uint64(k) >> indexBits) }

// Index 返回符号序号。
func (k Key) Index() uint64 { return uint64(k) & indexMask }

// String 把符号键打印成 "x0" 的形式，普通整数按十进制打印。
func (k Key) String() string {
	c := k.Chr()
	if c >= '!' && c <= '~' {
		return fmt.Sprintf("%c%d", c, k.Index())
	}
	return fmt.Sprintf("%d", uint64(k))
}

// Sort 原地升序排列。
func Sort(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}

// Set 是无序的键集合。
type Set map[Key]struct{}

// Add 向集合加入键。
func (s Set) Add(keys ...Key) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

// Has 判断 k 是否在集合中。
func (s Set) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Sorted 按升序返回全部成员。
func (s Set) Sorted() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	Sort(out)
	return out
}
