package allocation

import (
	"math/rand"
	"slices"

	g "github.com/anacrolix/generics"
	"github.com/pkg/errors"

	"github.com/anacrolix/reciprocity/types"
)

type TitForTatConfig struct {
	// Upload slots, one of which is the optimistic slot.
	Slots int
	// Rounds of received bandwidth used for ranking.
	Lookback int
	// Rounds an optimistic unchoke is held before it's rerolled.
	OptimisticRounds int
}

func NewDefaultTitForTatConfig() TitForTatConfig {
	return TitForTatConfig{
		Slots:            4,
		Lookback:         2,
		OptimisticRounds: 3,
	}
}

func (cfg TitForTatConfig) Validate() error {
	if cfg.Slots <= 0 {
		return errors.Errorf("slots must be positive, got %d", cfg.Slots)
	}
	if cfg.Lookback < 1 || cfg.Lookback > 3 {
		return errors.Errorf("lookback must be between 1 and 3, got %d", cfg.Lookback)
	}
	if cfg.OptimisticRounds <= 0 {
		return errors.Errorf("optimistic rounds must be positive, got %d", cfg.OptimisticRounds)
	}
	return nil
}

// Classic BitTorrent choking: the best recent uploaders get regular slots, and one more slot
// rotates among the others every few rounds.
type TitForTat struct {
	cfg  TitForTatConfig
	rand *rand.Rand
	// The optimistically unchoked peer, and the rounds it has held the slot.
	optimistic g.Option[types.PeerId]
	held       int
}

var _ Strategy = (*TitForTat)(nil)

func NewTitForTat(cfg TitForTatConfig, rand *rand.Rand) (*TitForTat, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TitForTat{cfg: cfg, rand: rand}, nil
}

func (*TitForTat) Kind() Kind { return KindTitForTat }

func (me *TitForTat) Optimistic() g.Option[types.PeerId] {
	return me.optimistic
}

func (me *TitForTat) Allocate(in Input) (ret Allocation) {
	peers := requesters(in)
	if len(peers) == 0 || in.Budget <= 0 {
		return
	}
	keep := me.optimistic.Ok &&
		me.held < me.cfg.OptimisticRounds &&
		slices.Contains(peers, me.optimistic.Value)
	if keep {
		peers = slices.DeleteFunc(peers, func(p types.PeerId) bool {
			return p == me.optimistic.Value
		})
	}
	ranked := rankDescending(me.rand, peers, func(p types.PeerId) float64 {
		return float64(in.Ledger.Received(p, me.cfg.Lookback))
	})
	regular := ranked[:min(me.cfg.Slots-1, len(ranked))]
	rest := ranked[len(regular):]
	chosen := slices.Clone(regular)
	if keep {
		me.held++
	} else {
		me.optimistic.SetNone()
		me.held = 0
		if len(rest) != 0 {
			me.optimistic.Set(rest[me.rand.Intn(len(rest))])
			me.held = 1
		}
	}
	if me.optimistic.Ok {
		chosen = append(chosen, me.optimistic.Value)
		ret.Optimistic = me.optimistic
	}
	ret.Uploads = uploadsFor(in.Self, chosen, evenSplit(in.Budget, len(chosen)))
	return
}
