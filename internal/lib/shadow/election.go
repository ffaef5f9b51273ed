package shadow

import (
	"github.com/holiman/uint256"
)

// selectTop reorders ids in place so that the first n carry the highest scores and
// returns them. It is a partial quickselect with the last element as pivot; ties keep
// whatever order the partitioning leaves, as the contract does.
func selectTop(ids []int, n int, score func(id int) *uint256.Int) []int {
	if n >= len(ids) {
		return ids
	}
	if n <= 0 {
		return nil
	}
	lo, hi := 0, len(ids)-1
	for lo < hi {
		p := partition(ids, lo, hi, score)
		if p == n-1 || p == n {
			break
		}
		if p < n-1 {
			lo = p + 1
		} else {
			hi = p - 1
		}
	}
	return ids[:n]
}

// partition moves every id scoring strictly above the pivot in front of it.
func partition(ids []int, lo, hi int, score func(id int) *uint256.Int) int {
	pivot := score(ids[hi])
	i := lo
	for j := lo; j < hi; j++ {
		if score(ids[j]).Gt(pivot) {
			ids[i], ids[j] = ids[j], ids[i]
			i++
		}
	}
	ids[i], ids[hi] = ids[hi], ids[i]
	return i
}
