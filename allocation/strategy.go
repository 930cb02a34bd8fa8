// Package allocation decides how a peer splits its upload budget among the peers requesting from
// it in a round.
package allocation

import (
	"fmt"

	g "github.com/anacrolix/generics"
	"github.com/elliotchance/orderedmap"

	"github.com/anacrolix/reciprocity/types"
)

// Read-only view of the reciprocity ledger. Strategies never write to it; it's refreshed between
// rounds by whoever drives the engine.
type Ledger interface {
	// Blocks received from the peer over the last window rounds.
	Received(p types.PeerId, window int) int
	// Bandwidth we estimate we must offer the peer to be reciprocated.
	Rate(p types.PeerId) float64
	// Bandwidth the peer last gave us.
	Observed(p types.PeerId) float64
}

type Input struct {
	// The uploading peer. Requests from it, or not addressed to it, are ignored.
	Self     types.PeerId
	Round    int
	Budget   int
	Requests []types.Request
	Ledger   Ledger
}

type Allocation struct {
	Uploads []types.Upload
	// The peer holding the optimistic slot this round, if the strategy has one and it's filled.
	Optimistic g.Option[types.PeerId]
}

func (me Allocation) Total() (ret int) {
	for _, u := range me.Uploads {
		ret += u.Bandwidth
	}
	return
}

func (me Allocation) Map() map[types.PeerId]int {
	ret := make(map[types.PeerId]int, len(me.Uploads))
	for _, u := range me.Uploads {
		ret[u.To] += u.Bandwidth
	}
	return ret
}

func (me Allocation) Get(p types.PeerId) (ret int) {
	for _, u := range me.Uploads {
		if u.To == p {
			ret += u.Bandwidth
		}
	}
	return
}

type Strategy interface {
	Kind() Kind
	// Must return non-negative integer units summing to at most the budget. Zero requesters or a
	// zero budget give an empty allocation.
	Allocate(Input) Allocation
}

type Kind int

const (
	KindPropShare Kind = iota
	KindTitForTat
	KindTyrant
)

var kindNames = map[Kind]string{
	KindPropShare: "propshare",
	KindTitForTat: "tft",
	KindTyrant:    "tyrant",
}

func (me Kind) String() string {
	if s, ok := kindNames[me]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(me))
}

func (me *Kind) UnmarshalText(b []byte) error {
	for k, name := range kindNames {
		if name == string(b) {
			*me = k
			return nil
		}
	}
	return fmt.Errorf("unknown allocation strategy %q", b)
}

func (me Kind) MarshalText() ([]byte, error) {
	return []byte(me.String()), nil
}

// Distinct requesters in order of first appearance.
func requesters(in Input) (ret []types.PeerId) {
	seen := orderedmap.NewOrderedMap()
	for _, r := range in.Requests {
		if r.Requester == in.Self || (in.Self != "" && r.Target != in.Self) {
			continue
		}
		seen.Set(r.Requester, nil)
	}
	ret = make([]types.PeerId, 0, seen.Len())
	for el := seen.Front(); el != nil; el = el.Next() {
		ret = append(ret, el.Key.(types.PeerId))
	}
	return
}

func uploadsFor(self types.PeerId, peers []types.PeerId, bandwidth []int) []types.Upload {
	ret := make([]types.Upload, 0, len(peers))
	for i, p := range peers {
		ret = append(ret, types.Upload{From: self, To: p, Bandwidth: bandwidth[i]})
	}
	return ret
}
