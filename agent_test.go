package reciprocity

import (
	"math"
	"testing"

	"github.com/anacrolix/log"
	"github.com/go-quicktest/qt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/anacrolix/reciprocity/allocation"
	"github.com/anacrolix/reciprocity/ledger"
	"github.com/anacrolix/reciprocity/types"
)

type mapHistory map[int][]types.Download

func (me mapHistory) Downloads(round int) []types.Download {
	return me[round]
}

func testConfig(kind allocation.Kind) Config {
	cfg := NewDefaultConfig()
	cfg.Strategy = kind
	cfg.BlocksPerPiece = 4
	cfg.Logger = log.Discard
	return cfg
}

func newTestAgent(t *testing.T, id types.PeerId, cfg Config) *Agent {
	a, err := NewAgent(id, cfg)
	qt.Assert(t, qt.IsNil(err))
	return a
}

func TestNewAgentInvalidConfig(t *testing.T) {
	cfg := testConfig(allocation.KindTitForTat)
	cfg.UploadBudget = -1
	_, err := NewAgent("me", cfg)
	qt.Check(t, qt.ErrorMatches(err, `validating config: upload budget must not be negative, got -1`))
	cfg = testConfig(allocation.KindTitForTat)
	cfg.TitForTat.Slots = 0
	_, err = NewAgent("me", cfg)
	qt.Check(t, qt.ErrorMatches(err, `validating config: tft: slots must be positive, got 0`))
	cfg = testConfig(allocation.Kind(9))
	_, err = NewAgent("me", cfg)
	qt.Check(t, qt.ErrorMatches(err, `validating config: unknown strategy Kind\(9\)`))
}

func TestAgentRequests(t *testing.T) {
	a := newTestAgent(t, "me", testConfig(allocation.KindTitForTat))
	reqs := a.Requests(0, types.Self{Blocks: []int{2, 0, 4}}, []types.Availability{
		types.NewAvailability("b", 1),
		types.NewAvailability("a", 0, 1, 2),
	})
	qt.Check(t, qt.DeepEquals(reqs, []types.Request{
		{Requester: "me", Target: "a", Piece: 0, StartBlock: 2},
		{Requester: "me", Target: "a", Piece: 1, StartBlock: 0},
		{Requester: "me", Target: "b", Piece: 1, StartBlock: 0},
	}))
	qt.Check(t, qt.DeepEquals(a.requestedFrom[0], []types.PeerId{"a", "a", "b"}))
}

func TestAgentEmptyRound(t *testing.T) {
	for _, kind := range []allocation.Kind{allocation.KindPropShare, allocation.KindTitForTat, allocation.KindTyrant} {
		a := newTestAgent(t, "me", testConfig(kind))
		qt.Check(t, qt.HasLen(a.Requests(0, types.Self{Blocks: []int{4, 4}}, nil), 0))
		qt.Check(t, qt.HasLen(a.Uploads(0, nil, nil, mapHistory{}), 0))
	}
}

func TestAgentDropsUnknownRequesters(t *testing.T) {
	cfg := testConfig(allocation.KindTitForTat)
	reg := prometheus.NewRegistry()
	cfg.Registerer = reg
	a := newTestAgent(t, "me", cfg)
	view := []types.Availability{types.NewAvailability("a")}
	ups := a.Uploads(0, []types.Request{
		{Requester: "a", Target: "me"},
		{Requester: "ghost", Target: "me"},
		{Requester: "a", Target: "someone else"},
	}, view, nil)
	qt.Check(t, qt.DeepEquals(ups, []types.Upload{{From: "me", To: "a", Bandwidth: 4}}))
	qt.Check(t, qt.Equals(testutil.ToFloat64(a.metrics.droppedRequests.WithLabelValues("tft")), 2.0))
	qt.Check(t, qt.Equals(testutil.ToFloat64(a.metrics.uploadedUnits.WithLabelValues("tft")), 4.0))
}

func TestAgentTyrantSyncsLedger(t *testing.T) {
	cfg := testConfig(allocation.KindTyrant)
	cfg.UploadBudget = 9
	a := newTestAgent(t, "me", cfg)
	view := []types.Availability{
		types.NewAvailability("a", 0),
		types.NewAvailability("b", 1),
	}
	self := types.Self{Blocks: []int{0, 0}}
	qt.Assert(t, qt.HasLen(a.Requests(0, self, view), 2))
	a.Uploads(0, nil, view, mapHistory{})
	qt.Check(t, qt.Equals(a.Ledger().Len(), 2))
	qt.Check(t, qt.Equals(a.Ledger().Rate("a"), 3.0))

	history := mapHistory{0: {
		{From: "a", To: "me", Piece: 0, Blocks: 5},
		{From: "a", To: "other", Piece: 0, Blocks: 2},
	}}
	a.Requests(1, self, view)
	ups := a.Uploads(1, []types.Request{
		{Requester: "b", Target: "me"},
		{Requester: "a", Target: "me"},
	}, view, history)
	ea, _ := a.Ledger().Entry("a")
	qt.Check(t, qt.Equals(ea.Unchoked, 1))
	qt.Check(t, qt.Equals(ea.Observed, 5.0))
	eb, _ := a.Ledger().Entry("b")
	qt.Check(t, qt.Equals(eb.Choked, 1))
	qt.Check(t, qt.IsTrue(math.Abs(eb.Rate-3.6) < 1e-9), qt.Commentf("%v", eb.Rate))
	qt.Check(t, qt.DeepEquals(ups, []types.Upload{
		{From: "me", To: "a", Bandwidth: 3},
		{From: "me", To: "b", Bandwidth: 3},
	}))
	// Round 0 has been folded in.
	qt.Check(t, qt.HasLen(a.requestedFrom, 1))
}

func TestAgentObserveOutOfOrder(t *testing.T) {
	a := newTestAgent(t, "me", testConfig(allocation.KindPropShare))
	qt.Assert(t, qt.IsNil(a.Observe(3, nil)))
	err := a.Observe(2, nil)
	qt.Check(t, qt.ErrorIs(err, ledger.ErrRoundOutOfOrder))
	qt.Check(t, qt.ErrorMatches(err, `round 2 after round 3: round observed out of order`))
	// Uploads doesn't replay rounds that were already observed.
	a.Uploads(4, nil, nil, mapHistory{})
	qt.Check(t, qt.Equals(a.Ledger().LastRound().Unwrap(), 3))
}

func TestAgentRequestsWithoutObserve(t *testing.T) {
	a := newTestAgent(t, "me", testConfig(allocation.KindPropShare))
	view := []types.Availability{types.NewAvailability("a", 0)}
	for round := range 10 {
		a.Requests(round, types.Self{Blocks: []int{0}}, view)
		qt.Assert(t, qt.IsTrue(len(a.requestedFrom) <= a.Ledger().Config().Window+1),
			qt.Commentf("round %v: %v", round, len(a.requestedFrom)))
	}
	qt.Check(t, qt.DeepEquals(a.requestedFrom[9], []types.PeerId{"a"}))
}

func TestAgentsShareRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := testConfig(allocation.KindPropShare)
	cfg.Registerer = reg
	view := []types.Availability{types.NewAvailability("a", 0), types.NewAvailability("b", 0)}
	self := types.Self{Blocks: []int{0}}
	for _, id := range []types.PeerId{"x", "y"} {
		a := newTestAgent(t, id, cfg)
		a.Requests(0, self, view)
	}
	n, err := testutil.GatherAndCount(reg, "reciprocity_requests_total")
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(n, 1))
}
