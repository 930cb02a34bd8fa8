package allocation

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/bradfitz/iter"
	"github.com/go-quicktest/qt"

	"github.com/anacrolix/reciprocity/types"
)

type fakeLedger struct {
	received map[types.PeerId]int
	rate     map[types.PeerId]float64
	observed map[types.PeerId]float64
}

func (me fakeLedger) Received(p types.PeerId, window int) int {
	return me.received[p]
}

func (me fakeLedger) Rate(p types.PeerId) float64 {
	return me.rate[p]
}

func (me fakeLedger) Observed(p types.PeerId) float64 {
	return me.observed[p]
}

const self types.PeerId = "self"

func requestsFrom(peers ...types.PeerId) (ret []types.Request) {
	for _, p := range peers {
		ret = append(ret, types.Request{Requester: p, Target: self})
	}
	return
}

func peerNames(n int) (ret []types.PeerId) {
	for i := range iter.N(n) {
		ret = append(ret, types.PeerId(fmt.Sprintf("peer%d", i)))
	}
	return
}

func newStrategies(t *testing.T, seed int64) []Strategy {
	r := rand.New(rand.NewSource(seed))
	ps, err := NewPropShare(NewDefaultPropShareConfig(), r)
	qt.Assert(t, qt.IsNil(err))
	tft, err := NewTitForTat(NewDefaultTitForTatConfig(), r)
	qt.Assert(t, qt.IsNil(err))
	ty, err := NewTyrant(NewDefaultTyrantConfig(), r)
	qt.Assert(t, qt.IsNil(err))
	return []Strategy{ps, tft, ty}
}

func TestEmptyAllocations(t *testing.T) {
	l := fakeLedger{received: map[types.PeerId]int{"a": 3}}
	for _, s := range newStrategies(t, 1) {
		t.Run(s.Kind().String(), func(t *testing.T) {
			a := s.Allocate(Input{Self: self, Budget: 10, Ledger: l})
			qt.Check(t, qt.HasLen(a.Uploads, 0))
			qt.Check(t, qt.IsFalse(a.Optimistic.Ok))
			a = s.Allocate(Input{Self: self, Budget: 0, Requests: requestsFrom("a", "b"), Ledger: l})
			qt.Check(t, qt.HasLen(a.Uploads, 0))
		})
	}
}

func TestBudgetBound(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	peers := peerNames(8)
	for _, s := range newStrategies(t, 3) {
		t.Run(s.Kind().String(), func(t *testing.T) {
			for round := range iter.N(50) {
				l := fakeLedger{
					received: make(map[types.PeerId]int),
					rate:     make(map[types.PeerId]float64),
					observed: make(map[types.PeerId]float64),
				}
				for _, p := range peers {
					l.received[p] = r.Intn(3) * r.Intn(20)
					l.rate[p] = float64(r.Intn(6)) + r.Float64()
					l.observed[p] = float64(r.Intn(10))
				}
				budget := r.Intn(40)
				requesting := peers[:r.Intn(len(peers)+1)]
				a := s.Allocate(Input{
					Self:     self,
					Round:    round,
					Budget:   budget,
					Requests: requestsFrom(requesting...),
					Ledger:   l,
				})
				qt.Assert(t, qt.IsTrue(a.Total() <= budget), qt.Commentf("round %v: %v", round, a.Uploads))
				for _, u := range a.Uploads {
					qt.Assert(t, qt.IsTrue(u.Bandwidth >= 0))
					qt.Assert(t, qt.Equals(u.From, self))
				}
			}
		})
	}
}

func TestRequestsNotForUsAreIgnored(t *testing.T) {
	for _, s := range newStrategies(t, 4) {
		a := s.Allocate(Input{
			Self:   self,
			Budget: 10,
			Requests: []types.Request{
				{Requester: "a", Target: "other"},
				{Requester: self, Target: self},
			},
			Ledger: fakeLedger{},
		})
		qt.Check(t, qt.HasLen(a.Uploads, 0), qt.Commentf("%v", s.Kind()))
	}
}

func TestRequestersDeduplicated(t *testing.T) {
	qt.Assert(t, qt.DeepEquals(
		requesters(Input{Self: self, Requests: requestsFrom("b", "a", "b", "c", "a")}),
		[]types.PeerId{"b", "a", "c"},
	))
}

func TestKindText(t *testing.T) {
	for _, k := range []Kind{KindPropShare, KindTitForTat, KindTyrant} {
		b, err := k.MarshalText()
		qt.Assert(t, qt.IsNil(err))
		var out Kind
		qt.Assert(t, qt.IsNil(out.UnmarshalText(b)))
		qt.Check(t, qt.Equals(out, k))
	}
	var k Kind
	qt.Check(t, qt.ErrorMatches(k.UnmarshalText([]byte("bittyrant")), `unknown allocation strategy "bittyrant"`))
	qt.Check(t, qt.Equals(Kind(7).String(), "Kind(7)"))
}
