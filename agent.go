package reciprocity

import (
	"math/rand"

	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/pkg/errors"

	"github.com/anacrolix/reciprocity/allocation"
	"github.com/anacrolix/reciprocity/ledger"
	requestStrategy "github.com/anacrolix/reciprocity/request-strategy"
	"github.com/anacrolix/reciprocity/types"
)

// Past rounds as seen by one agent.
type History interface {
	// Downloads completed in round. Only those addressed to the agent are used.
	Downloads(round int) []types.Download
}

// The decision engine for one peer. Calls must be made in round order from a single goroutine.
// Separate agents share nothing and may run concurrently.
type Agent struct {
	id       types.PeerId
	cfg      Config
	logger   log.Logger
	metrics  *metrics
	selector *requestStrategy.Selector
	ledger   *ledger.Ledger
	strategy allocation.Strategy
	// Peers we sent requests to, by round, until the round is folded into the ledger.
	requestedFrom map[int][]types.PeerId
	bootstrapped  bool
}

func NewAgent(id types.PeerId, cfg Config) (_ *Agent, err error) {
	if err = cfg.Validate(); err != nil {
		err = errors.Wrap(err, "validating config")
		return
	}
	a := &Agent{
		id:            id,
		cfg:           cfg,
		logger:        cfg.Logger.WithNames(string(id)),
		metrics:       newMetrics(cfg.Registerer),
		requestedFrom: make(map[int][]types.PeerId),
	}
	r := rand.New(rand.NewSource(cfg.Seed))
	a.selector, err = requestStrategy.NewSelector(cfg.Selector, r)
	if err != nil {
		return
	}
	a.ledger, err = ledger.New(cfg.ledgerConfig())
	if err != nil {
		return
	}
	a.strategy, err = newStrategy(&cfg, r)
	if err != nil {
		return
	}
	return a, nil
}

func newStrategy(cfg *Config, r *rand.Rand) (allocation.Strategy, error) {
	switch cfg.Strategy {
	case allocation.KindPropShare:
		return allocation.NewPropShare(cfg.PropShare, r)
	case allocation.KindTitForTat:
		return allocation.NewTitForTat(cfg.TitForTat, r)
	case allocation.KindTyrant:
		return allocation.NewTyrant(cfg.Tyrant, r)
	default:
		return nil, errors.Errorf("unknown strategy %v", cfg.Strategy)
	}
}

func (a *Agent) Id() types.PeerId {
	return a.id
}

func (a *Agent) Strategy() allocation.Kind {
	return a.strategy.Kind()
}

// The agent's reciprocity records. Don't modify them.
func (a *Agent) Ledger() *ledger.Ledger {
	return a.ledger
}

// Picks the requests to send this round. The targets are remembered so that peers who ignore us
// can be told apart when the round is folded into the ledger.
func (a *Agent) Requests(round int, self types.Self, view []types.Availability) []types.Request {
	if self.Id == "" {
		self.Id = a.id
	}
	if self.BlocksPerPiece == 0 {
		self.BlocksPerPiece = a.cfg.BlocksPerPiece
	}
	reqs := a.selector.Select(requestStrategy.Input{
		Self:  self,
		Peers: view,
	})
	targets := make([]types.PeerId, 0, len(reqs))
	for _, r := range reqs {
		targets = append(targets, r.Target)
	}
	a.requestedFrom[round] = append(a.requestedFrom[round], targets...)
	// Rounds that fell out of the ledger window can't matter once they're observed.
	for r := range a.requestedFrom {
		if r < round-a.ledger.Config().Window {
			delete(a.requestedFrom, r)
		}
	}
	a.metrics.requests.WithLabelValues(a.strategy.Kind().String()).Add(float64(len(reqs)))
	a.logger.Levelf(log.Debug, "round %v: %v requests to %v peers", round, len(reqs), len(view))
	return reqs
}

// Folds downloads completed in round into the ledger. Rounds must be observed in increasing order.
// Harnesses that pass a History to Uploads don't need to call this.
func (a *Agent) Observe(round int, downloads []types.Download) error {
	mine := make([]types.Download, 0, len(downloads))
	for _, d := range downloads {
		if d.To == a.id {
			mine = append(mine, d)
		}
	}
	err := a.ledger.Observe(round, mine, a.requestedFrom[round])
	if err != nil {
		return err
	}
	for r := range a.requestedFrom {
		if r <= round {
			delete(a.requestedFrom, r)
		}
	}
	return nil
}

// Brings the ledger up to date with every round before round that it hasn't seen.
func (a *Agent) sync(round int, history History) {
	if history == nil {
		return
	}
	from := 0
	if last := a.ledger.LastRound(); last.Ok {
		from = last.Value + 1
	}
	for r := from; r < round; r++ {
		panicif.Err(a.Observe(r, history.Downloads(r)))
	}
}

func (a *Agent) bootstrap(view []types.Availability) {
	peers := make([]types.PeerId, 0, len(view))
	for _, p := range view {
		if p.Peer != a.id {
			peers = append(peers, p.Peer)
		}
	}
	a.ledger.Bootstrap(peers...)
	a.bootstrapped = true
}

// Requests from peers missing from view can't be attributed, so they're dropped.
func (a *Agent) validRequests(requests []types.Request, view []types.Availability) (ret []types.Request) {
	inView := make(map[types.PeerId]struct{}, len(view))
	for _, p := range view {
		inView[p.Peer] = struct{}{}
	}
	for _, r := range requests {
		if _, ok := inView[r.Requester]; !ok || r.Target != a.id {
			a.logger.Levelf(log.Debug, "ignoring request: %v", r)
			continue
		}
		ret = append(ret, r)
	}
	if dropped := len(requests) - len(ret); dropped != 0 {
		a.metrics.droppedRequests.WithLabelValues(a.strategy.Kind().String()).Add(float64(dropped))
	}
	return
}

// Decides how this round's upload budget is spent on the requests addressed to us.
func (a *Agent) Uploads(
	round int,
	requests []types.Request,
	view []types.Availability,
	history History,
) []types.Upload {
	if round == 0 && !a.bootstrapped {
		a.bootstrap(view)
	}
	a.sync(round, history)
	alloc := a.strategy.Allocate(allocation.Input{
		Self:     a.id,
		Round:    round,
		Budget:   a.cfg.UploadBudget,
		Requests: a.validRequests(requests, view),
		Ledger:   a.ledger,
	})
	for _, u := range alloc.Uploads {
		panicif.LessThan(u.Bandwidth, 0)
	}
	total := alloc.Total()
	panicif.GreaterThan(total, a.cfg.UploadBudget)
	kind := a.strategy.Kind().String()
	a.metrics.uploadedUnits.WithLabelValues(kind).Add(float64(total))
	if alloc.Optimistic.Ok {
		a.metrics.optimisticUnchokes.WithLabelValues(kind).Inc()
	}
	a.logger.Levelf(log.Debug, "round %v: %v units to %v peers", round, total, len(alloc.Uploads))
	return alloc.Uploads
}
