package reciprocity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/reciprocity/allocation"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestLedgerConfigFollowsStrategy(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.UploadBudget = 9
	cfg.Strategy = allocation.KindPropShare
	assert.Equal(t, 1, cfg.ledgerConfig().Window)
	cfg.Strategy = allocation.KindTitForTat
	cfg.TitForTat.Lookback = 3
	assert.Equal(t, 3, cfg.ledgerConfig().Window)
	cfg.Strategy = allocation.KindTyrant
	lc := cfg.ledgerConfig()
	assert.Equal(t, 2, lc.Window)
	assert.InDelta(t, 3.0, lc.InitialRate, 1e-9)
	assert.Equal(t, lc.InitialRate, lc.InitialObserved)
	assert.Equal(t, cfg.Tyrant.Gamma, lc.Gamma)
}

func TestConfigValidateBlocksPerPiece(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.BlocksPerPiece = 0
	assert.EqualError(t, cfg.Validate(), "blocks per piece must be positive, got 0")
}
