package allocation

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/anacrolix/reciprocity/types"
)

type TyrantConfig struct {
	// Rate decay once a peer has reciprocated for Threshold consecutive rounds.
	Gamma float64
	// Rate growth for a peer that didn't reciprocate.
	Alpha float64
	// Consecutive reciprocating rounds before the rate starts to decay.
	Threshold int
	// Initial rate and observed bandwidth, as a fraction of the upload budget.
	InitialFraction float64
	// Floor for rates.
	MinRate float64
}

func NewDefaultTyrantConfig() TyrantConfig {
	return TyrantConfig{
		Gamma:           0.1,
		Alpha:           0.2,
		Threshold:       3,
		InitialFraction: 1.0 / 3,
		MinRate:         1,
	}
}

func (cfg TyrantConfig) Validate() error {
	if cfg.InitialFraction <= 0 || cfg.InitialFraction > 1 {
		return errors.Errorf("initial fraction must be in (0, 1], got %v", cfg.InitialFraction)
	}
	return nil
}

// Ranks requesters by what they give us per unit we must give them, and pays the asking rate of
// as many as the budget allows.
type Tyrant struct {
	cfg  TyrantConfig
	rand *rand.Rand
}

var _ Strategy = (*Tyrant)(nil)

func NewTyrant(cfg TyrantConfig, rand *rand.Rand) (*Tyrant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tyrant{cfg: cfg, rand: rand}, nil
}

func (*Tyrant) Kind() Kind { return KindTyrant }

// What a peer gives us per unit of bandwidth it costs. A zero cost is always preferred.
func returnOnInvestment(l Ledger, p types.PeerId) float64 {
	rate := l.Rate(p)
	if rate <= 0 {
		return math.Inf(1)
	}
	return l.Observed(p) / rate
}

func (me *Tyrant) Allocate(in Input) (ret Allocation) {
	peers := requesters(in)
	if len(peers) == 0 || in.Budget <= 0 {
		return
	}
	ranked := rankDescending(me.rand, peers, func(p types.PeerId) float64 {
		return returnOnInvestment(in.Ledger, p)
	})
	left := in.Budget
	for _, p := range ranked {
		if left <= 0 {
			break
		}
		// Clamped before conversion, rates of stingy peers grow without bound.
		cost := max(int(min(math.Floor(in.Ledger.Rate(p)), float64(left))), 1)
		give := min(cost, left)
		ret.Uploads = append(ret.Uploads, types.Upload{From: in.Self, To: p, Bandwidth: give})
		left -= give
	}
	return
}
