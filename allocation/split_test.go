package allocation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anacrolix/reciprocity/types"
)

func TestEvenSplit(t *testing.T) {
	assert.Equal(t, []int{4, 3, 3}, evenSplit(10, 3))
	assert.Equal(t, []int{0, 0}, evenSplit(0, 2))
	assert.Equal(t, []uint8{1, 1, 0, 0}, evenSplit[uint8](2, 4))
	assert.Nil(t, evenSplit(5, 0))
}

func TestDistributeRemainder(t *testing.T) {
	uploads := []types.Upload{{To: "a", Bandwidth: 1}, {To: "b", Bandwidth: 2}}
	distributeRemainder(rand.New(rand.NewSource(1)), uploads, 7)
	assert.Equal(t, 10, uploads[0].Bandwidth+uploads[1].Bandwidth)
	assert.GreaterOrEqual(t, uploads[0].Bandwidth, 1)
	assert.GreaterOrEqual(t, uploads[1].Bandwidth, 2)
	// Nobody to give to.
	distributeRemainder(nil, nil, 3)
}

func TestRankDescendingStableOnKeys(t *testing.T) {
	keys := map[types.PeerId]float64{"a": 1, "b": 3, "c": 2, "d": 3}
	r := rand.New(rand.NewSource(2))
	for range 20 {
		ranked := rankDescending(r, []types.PeerId{"a", "b", "c", "d"}, func(p types.PeerId) float64 {
			return keys[p]
		})
		assert.ElementsMatch(t, []types.PeerId{"b", "d"}, ranked[:2])
		assert.Equal(t, []types.PeerId{"c", "a"}, ranked[2:])
	}
}
