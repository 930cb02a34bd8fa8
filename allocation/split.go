package allocation

import (
	"cmp"
	"math/rand"
	"slices"

	"golang.org/x/exp/constraints"

	"github.com/anacrolix/reciprocity/types"
)

// Splits total into n parts that differ by at most one. The first total%n parts get the extra
// unit.
func evenSplit[T constraints.Integer](total T, n int) []T {
	if n <= 0 {
		return nil
	}
	ret := make([]T, n)
	share := total / T(n)
	extra := int(total % T(n))
	for i := range ret {
		ret[i] = share
		if i < extra {
			ret[i]++
		}
	}
	return ret
}

// Hands out leftover units one at a time to uniformly chosen uploads.
func distributeRemainder(rand *rand.Rand, uploads []types.Upload, left int) {
	if len(uploads) == 0 {
		return
	}
	for ; left > 0; left-- {
		uploads[rand.Intn(len(uploads))].Bandwidth++
	}
}

// Orders peers by descending key. Peers are shuffled first so that equal keys land in random
// order.
func rankDescending(rand *rand.Rand, peers []types.PeerId, key func(types.PeerId) float64) []types.PeerId {
	ret := slices.Clone(peers)
	rand.Shuffle(len(ret), func(i, j int) {
		ret[i], ret[j] = ret[j], ret[i]
	})
	keys := make(map[types.PeerId]float64, len(ret))
	for _, p := range ret {
		keys[p] = key(p)
	}
	slices.SortStableFunc(ret, func(a, b types.PeerId) int {
		return cmp.Compare(keys[b], keys[a])
	})
	return ret
}
