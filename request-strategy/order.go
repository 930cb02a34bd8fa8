package requestStrategy

import (
	"iter"

	"github.com/anacrolix/multiless"

	"github.com/anacrolix/reciprocity/types"
)

type pieceIndex = types.PieceIndex

// A missing piece and what it's ranked on this round.
type PieceOrderItem struct {
	Index pieceIndex
	// Number of peers in the current view that hold the piece.
	Availability int
	// Position of the piece in this round's shuffle.
	TieBreak uint32
}

// Rarest first. Equal availability falls back to the shuffle rank so that peers don't herd onto
// the same piece, and the index makes the order total.
func pieceOrderLess(a, b PieceOrderItem) multiless.Computation {
	return multiless.New().Int(
		a.Availability, b.Availability,
	).Uint32(
		a.TieBreak, b.TieBreak,
	).Int(
		a.Index, b.Index,
	)
}

// Missing pieces in rarest-first order. There's no memory of past availability, so an order is
// built from scratch each round and only ever grows.
type PieceOrder struct {
	tree Btree
}

func NewPieceOrder(tree Btree) *PieceOrder {
	return &PieceOrder{tree: tree}
}

// Panics if a piece is added twice.
func (me *PieceOrder) Add(item PieceOrderItem) {
	me.tree.Add(item)
}

func (me *PieceOrder) Len() int {
	return me.tree.Len()
}

func (me *PieceOrder) Iter() iter.Seq[PieceOrderItem] {
	return func(yield func(PieceOrderItem) bool) {
		me.tree.Scan(yield)
	}
}

// Counts how many peers in the view advertise each piece. Pieces outside [0, numPieces) are
// ignored.
func pieceAvailability(peers []types.Availability, numPieces int) map[pieceIndex]int {
	ret := make(map[pieceIndex]int, numPieces)
	for _, p := range peers {
		p.Pieces.Below(numPieces).Iterate(func(i pieceIndex) bool {
			ret[i]++
			return true
		})
	}
	return ret
}
