// Package types contains the records exchanged between the decision engine and the harness that
// drives it: who wants which piece, who uploads to whom, and what actually arrived.
package types

import (
	"fmt"

	typedRoaring "github.com/anacrolix/reciprocity/typed-roaring"
)

// Opaque peer identity. Only used as a map key and for deterministic tie-breaking.
type PeerId string

type PieceIndex = int

// A set of piece indices.
type PieceSet = typedRoaring.Bitmap[PieceIndex]

// Asks Target for blocks of Piece, starting at StartBlock. StartBlock is always the number of
// blocks the Requester already owns for the piece, so blocks arrive in order.
type Request struct {
	Requester  PeerId
	Target     PeerId
	Piece      PieceIndex
	StartBlock int
}

func (r Request) String() string {
	return fmt.Sprintf("%v wants piece %v from %v starting at block %v", r.Requester, r.Piece, r.Target, r.StartBlock)
}

// Bandwidth units From grants To for one round.
type Upload struct {
	From      PeerId
	To        PeerId
	Bandwidth int
}

func (u Upload) String() string {
	return fmt.Sprintf("%v -> %v: %v", u.From, u.To, u.Bandwidth)
}

// A completed transfer recorded in round history.
type Download struct {
	From   PeerId
	To     PeerId
	Piece  PieceIndex
	Blocks int
}

// The pieces a remote peer holds in full, as reported this round.
type Availability struct {
	Peer   PeerId
	Pieces PieceSet
}

func NewAvailability(peer PeerId, pieces ...PieceIndex) (ret Availability) {
	ret.Peer = peer
	for _, p := range pieces {
		ret.Pieces.Add(p)
	}
	return
}

// The local peer's view of itself for one round. Blocks holds the owned block count for every
// piece index.
type Self struct {
	Id             PeerId
	Blocks         []int
	BlocksPerPiece int
}

func (me Self) NumPieces() int {
	return len(me.Blocks)
}

func (me Self) HavePiece(i PieceIndex) bool {
	return me.Blocks[i] >= me.BlocksPerPiece
}

// Pieces that aren't complete yet. Derived on every call, never cached.
func (me Self) Missing() (ret PieceSet) {
	for i := range me.Blocks {
		if !me.HavePiece(i) {
			ret.Add(i)
		}
	}
	return
}

// The owned block count for a piece, clamped so malformed counts can't produce negative offsets.
func (me Self) OwnedBlocks(i PieceIndex) int {
	if i < 0 || i >= len(me.Blocks) {
		return 0
	}
	return max(me.Blocks[i], 0)
}

func (me Self) Complete() bool {
	for i := range me.Blocks {
		if !me.HavePiece(i) {
			return false
		}
	}
	return true
}
