package allocation

import (
	"math"
	"math/rand"

	g "github.com/anacrolix/generics"
	"github.com/pkg/errors"

	"github.com/anacrolix/reciprocity/types"
)

type PropShareConfig struct {
	// Share of the budget reserved for one requester that gave us nothing last round.
	OptimisticFraction float64
}

func NewDefaultPropShareConfig() PropShareConfig {
	return PropShareConfig{OptimisticFraction: 0.1}
}

func (cfg PropShareConfig) Validate() error {
	if cfg.OptimisticFraction < 0 || cfg.OptimisticFraction >= 1 {
		return errors.Errorf("optimistic fraction must be in [0, 1), got %v", cfg.OptimisticFraction)
	}
	return nil
}

// Splits the budget in proportion to what each requester uploaded to us in the previous round,
// after setting aside a fraction for one optimistic unchoke.
type PropShare struct {
	cfg  PropShareConfig
	rand *rand.Rand
}

var _ Strategy = (*PropShare)(nil)

func NewPropShare(cfg PropShareConfig, rand *rand.Rand) (*PropShare, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PropShare{cfg: cfg, rand: rand}, nil
}

func (*PropShare) Kind() Kind { return KindPropShare }

func (me *PropShare) Allocate(in Input) (ret Allocation) {
	peers := requesters(in)
	if len(peers) == 0 || in.Budget <= 0 {
		return
	}
	var (
		contributors []types.PeerId
		received     []int
		candidates   []types.PeerId
		total        int
	)
	for _, p := range peers {
		if r := in.Ledger.Received(p, 1); r > 0 {
			contributors = append(contributors, p)
			received = append(received, r)
			total += r
		} else {
			candidates = append(candidates, p)
		}
	}
	var optimisticUnits int
	if len(candidates) != 0 {
		optimisticUnits = int(math.Floor(float64(in.Budget) * me.cfg.OptimisticFraction))
	}
	pool := in.Budget - optimisticUnits
	shares := make([]int, len(contributors))
	for i, r := range received {
		shares[i] = r * pool / total
	}
	ret.Uploads = uploadsFor(in.Self, contributors, shares)
	if len(candidates) != 0 {
		opt := candidates[me.rand.Intn(len(candidates))]
		ret.Optimistic = g.Some(opt)
		ret.Uploads = append(ret.Uploads, types.Upload{From: in.Self, To: opt, Bandwidth: optimisticUnits})
	}
	distributeRemainder(me.rand, ret.Uploads, in.Budget-ret.Total())
	return
}
