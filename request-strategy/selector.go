package requestStrategy

import (
	"cmp"
	"fmt"
	"math/rand"
	"slices"

	"github.com/pkg/errors"

	"github.com/anacrolix/reciprocity/types"
)

// How pieces with equal availability are ordered.
type TieBreak int

const (
	// One shuffle per round, shared by every peer.
	GlobalShuffle TieBreak = iota
	// Equal-availability pieces are reshuffled for each peer.
	PerPeerShuffle
)

func (me TieBreak) String() string {
	switch me {
	case GlobalShuffle:
		return "global"
	case PerPeerShuffle:
		return "per-peer"
	default:
		return fmt.Sprintf("TieBreak(%d)", int(me))
	}
}

func (me *TieBreak) UnmarshalText(b []byte) error {
	switch string(b) {
	case "global":
		*me = GlobalShuffle
	case "per-peer":
		*me = PerPeerShuffle
	default:
		return fmt.Errorf("unknown tie break %q", b)
	}
	return nil
}

type Config struct {
	// Requests sent to any single peer in a round.
	MaxRequestsPerPeer int
	// Requests for the same piece across all peers in a round. Zero means unlimited, which allows
	// fetching a piece from several peers at once.
	MaxRequestsPerPiece int
	TieBreak            TieBreak
	// Constructs the tree holding the piece order. Defaults to NewTidwallBtree.
	NewBtree func() Btree
}

func NewDefaultConfig() Config {
	return Config{
		MaxRequestsPerPeer: 5,
	}
}

func (cfg Config) Validate() error {
	if cfg.MaxRequestsPerPeer <= 0 {
		return errors.Errorf("max requests per peer must be positive, got %d", cfg.MaxRequestsPerPeer)
	}
	if cfg.MaxRequestsPerPiece < 0 {
		return errors.Errorf("max requests per piece must not be negative, got %d", cfg.MaxRequestsPerPiece)
	}
	switch cfg.TieBreak {
	case GlobalShuffle, PerPeerShuffle:
	default:
		return errors.Errorf("invalid tie break %v", cfg.TieBreak)
	}
	return nil
}

type Input struct {
	Self  types.Self
	Peers []types.Availability
}

// Picks which pieces to request from which peers each round.
type Selector struct {
	cfg  Config
	rand *rand.Rand
}

func NewSelector(cfg Config, rand *rand.Rand) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating piece selector config")
	}
	if cfg.NewBtree == nil {
		cfg.NewBtree = func() Btree { return NewTidwallBtree() }
	}
	return &Selector{cfg: cfg, rand: rand}, nil
}

// Peers ordered by id, dropping ourselves and repeated ids. The first entry for an id wins.
func sortedPeers(self types.PeerId, peers []types.Availability) []types.Availability {
	ret := make([]types.Availability, 0, len(peers))
	seen := make(map[types.PeerId]struct{}, len(peers))
	for _, p := range peers {
		if p.Peer == self {
			continue
		}
		if _, ok := seen[p.Peer]; ok {
			continue
		}
		seen[p.Peer] = struct{}{}
		ret = append(ret, p)
	}
	slices.SortStableFunc(ret, func(a, b types.Availability) int {
		return cmp.Compare(a.Peer, b.Peer)
	})
	return ret
}

// Returns shuffle ranks for the given pieces, consuming randomness in piece order so that the
// result depends only on the seed and the input.
func (me *Selector) shuffleRanks(pieces []pieceIndex) map[pieceIndex]uint32 {
	perm := me.rand.Perm(len(pieces))
	ret := make(map[pieceIndex]uint32, len(pieces))
	for i, p := range pieces {
		ret[p] = uint32(perm[i])
	}
	return ret
}

// Builds this round's rarest-first order over the missing pieces that at least one peer has.
func (me *Selector) buildOrder(missing types.PieceSet, avail map[pieceIndex]int) *PieceOrder {
	wanted := make([]pieceIndex, 0, missing.Len())
	missing.Iterate(func(i pieceIndex) bool {
		if avail[i] > 0 {
			wanted = append(wanted, i)
		}
		return true
	})
	ranks := me.shuffleRanks(wanted)
	order := NewPieceOrder(me.cfg.NewBtree())
	for _, i := range wanted {
		order.Add(PieceOrderItem{
			Index:        i,
			Availability: avail[i],
			TieBreak:     ranks[i],
		})
	}
	return order
}

// Candidate pieces for one peer when ties are reshuffled per peer.
func (me *Selector) perPeerOrder(
	order *PieceOrder,
	wanted types.PieceSet,
) []PieceOrderItem {
	var items []PieceOrderItem
	for item := range order.Iter() {
		if wanted.Contains(item.Index) {
			items = append(items, item)
		}
	}
	perm := me.rand.Perm(len(items))
	for i := range items {
		items[i].TieBreak = uint32(perm[i])
	}
	slices.SortFunc(items, func(a, b PieceOrderItem) int {
		return pieceOrderLess(a, b).OrderingInt()
	})
	return items
}

// Returns requests in peer id order, and rarest first within each peer.
func (me *Selector) Select(input Input) (reqs []types.Request) {
	self := input.Self
	missing := self.Missing()
	if missing.IsEmpty() || len(input.Peers) == 0 {
		return nil
	}
	peers := sortedPeers(self.Id, input.Peers)
	order := me.buildOrder(missing, pieceAvailability(peers, self.NumPieces()))
	perPiece := make(map[pieceIndex]int)
	for _, peer := range peers {
		wanted := peer.Pieces.Intersect(missing)
		if wanted.IsEmpty() {
			continue
		}
		n := 0
		take := func(item PieceOrderItem) bool {
			if n >= me.cfg.MaxRequestsPerPeer {
				return false
			}
			i := item.Index
			if !wanted.Contains(i) {
				return true
			}
			if me.cfg.MaxRequestsPerPiece != 0 && perPiece[i] >= me.cfg.MaxRequestsPerPiece {
				return true
			}
			perPiece[i]++
			n++
			reqs = append(reqs, types.Request{
				Requester:  self.Id,
				Target:     peer.Peer,
				Piece:      i,
				StartBlock: self.OwnedBlocks(i),
			})
			return true
		}
		switch me.cfg.TieBreak {
		case PerPeerShuffle:
			for _, item := range me.perPeerOrder(order, wanted) {
				if !take(item) {
					break
				}
			}
		default:
			for item := range order.Iter() {
				if !take(item) {
					break
				}
			}
		}
	}
	return
}
