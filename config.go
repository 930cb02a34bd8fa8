package reciprocity

import (
	"github.com/anacrolix/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anacrolix/reciprocity/allocation"
	"github.com/anacrolix/reciprocity/ledger"
	requestStrategy "github.com/anacrolix/reciprocity/request-strategy"
)

// Probably not safe to modify this after it's given to an Agent.
type Config struct {
	Strategy allocation.Kind
	// Bandwidth units available for uploading each round.
	UploadBudget int
	// Used when the Self passed to Agent.Requests doesn't say.
	BlocksPerPiece int
	// Seeds the agent's random source. Agents with the same seed and inputs make the same
	// decisions.
	Seed int64

	Selector  requestStrategy.Config
	PropShare allocation.PropShareConfig
	TitForTat allocation.TitForTatConfig
	Tyrant    allocation.TyrantConfig

	Logger log.Logger
	// Metrics are registered here if it's not nil. Agents may share a Registerer.
	Registerer prometheus.Registerer
}

func NewDefaultConfig() Config {
	return Config{
		Strategy:       allocation.KindTitForTat,
		UploadBudget:   4,
		BlocksPerPiece: 32,
		Seed:           1,
		Selector:       requestStrategy.NewDefaultConfig(),
		PropShare:      allocation.NewDefaultPropShareConfig(),
		TitForTat:      allocation.NewDefaultTitForTatConfig(),
		Tyrant:         allocation.NewDefaultTyrantConfig(),
		Logger:         log.Default.WithNames("reciprocity"),
	}
}

func (cfg *Config) Validate() error {
	if cfg.UploadBudget < 0 {
		return errors.Errorf("upload budget must not be negative, got %d", cfg.UploadBudget)
	}
	if cfg.BlocksPerPiece <= 0 {
		return errors.Errorf("blocks per piece must be positive, got %d", cfg.BlocksPerPiece)
	}
	if err := cfg.Selector.Validate(); err != nil {
		return errors.Wrap(err, "piece selector")
	}
	var err error
	switch cfg.Strategy {
	case allocation.KindPropShare:
		err = cfg.PropShare.Validate()
	case allocation.KindTitForTat:
		err = cfg.TitForTat.Validate()
	case allocation.KindTyrant:
		err = cfg.Tyrant.Validate()
	default:
		return errors.Errorf("unknown strategy %v", cfg.Strategy)
	}
	if err != nil {
		return errors.Wrap(err, cfg.Strategy.String())
	}
	if err := cfg.ledgerConfig().Validate(); err != nil {
		return errors.Wrap(err, "ledger")
	}
	return nil
}

// The ledger keeps as much history as the strategy looks at. Rate bookkeeping always follows the
// tyrant settings, other strategies just don't read it.
func (cfg *Config) ledgerConfig() ledger.Config {
	lc := ledger.NewDefaultConfig()
	switch cfg.Strategy {
	case allocation.KindPropShare:
		lc.Window = 1
	case allocation.KindTitForTat:
		lc.Window = cfg.TitForTat.Lookback
	}
	lc.Gamma = cfg.Tyrant.Gamma
	lc.Alpha = cfg.Tyrant.Alpha
	lc.Threshold = cfg.Tyrant.Threshold
	lc.MinRate = cfg.Tyrant.MinRate
	lc.InitialRate = float64(cfg.UploadBudget) * cfg.Tyrant.InitialFraction
	lc.InitialObserved = lc.InitialRate
	return lc
}
