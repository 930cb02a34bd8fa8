package ledger

import (
	"github.com/pkg/errors"
)

type Config struct {
	// Rounds of received bandwidth remembered, from 1 to 3.
	Window int
	// Rate decay applied once a peer has reciprocated for Threshold consecutive rounds.
	Gamma float64
	// Rate growth applied when a peer we requested from didn't upload to us.
	Alpha float64
	// Consecutive reciprocating rounds after which the rate starts to decay.
	Threshold int
	// Rates never drop below this.
	MinRate float64
	// Rate and observed bandwidth given to peers before anything is known about them.
	InitialRate     float64
	InitialObserved float64
}

func NewDefaultConfig() Config {
	return Config{
		Window:    2,
		Gamma:     0.1,
		Alpha:     0.2,
		Threshold: 3,
		MinRate:   1,
	}
}

func (cfg Config) Validate() error {
	if cfg.Window < 1 || cfg.Window > 3 {
		return errors.Errorf("lookback window must be between 1 and 3, got %d", cfg.Window)
	}
	if cfg.Gamma < 0 || cfg.Gamma >= 1 {
		return errors.Errorf("gamma must be in [0, 1), got %v", cfg.Gamma)
	}
	if cfg.Alpha < 0 {
		return errors.Errorf("alpha must not be negative, got %v", cfg.Alpha)
	}
	if cfg.Threshold <= 0 {
		return errors.Errorf("reciprocity threshold must be positive, got %d", cfg.Threshold)
	}
	if cfg.MinRate <= 0 {
		return errors.Errorf("minimum rate must be positive, got %v", cfg.MinRate)
	}
	if cfg.InitialRate < 0 || cfg.InitialObserved < 0 {
		return errors.Errorf("initial rates must not be negative")
	}
	return nil
}
