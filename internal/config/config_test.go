package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
)

func TestLoadCreatesTemplate(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))

	assert.Equal(t, 9, cfg.Strategy.FastWindow)
	assert.Equal(t, 21, cfg.Strategy.SlowWindow)
	assert.Equal(t, 30*time.Second, cfg.Strategy.StalenessTimeout)
	assert.Equal(t, FlankBracket, cfg.Strategy.FlankMode)
	assert.NotEmpty(t, cfg.Session.ID)
	assert.NotEmpty(t, cfg.Store.Path)
	assert.True(t, cfg.IsPaperMode())
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	body := `
[session]
id = "sess-1"
client_id = 7

[strategy]
fast_window = 3
slow_window = 5
stop_offset = 1.5
profit_offset = 0.75
flank_mode = "trailing"
staleness_timeout = "2m"
price_source = "wap"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644))
	t.Setenv("TREND_TRADER_MODE", "live")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", cfg.Session.ID)
	assert.Equal(t, 7, cfg.Session.ClientID)
	assert.Equal(t, "live", cfg.Session.Mode)
	assert.Equal(t, 3, cfg.Strategy.FastWindow)
	assert.Equal(t, FlankTrailing, cfg.Strategy.FlankMode)
	assert.Equal(t, 2*time.Minute, cfg.Strategy.StalenessTimeout)
	assert.Equal(t, models.PriceWAP, cfg.Strategy.PriceSourceField())
	// untouched sections keep defaults
	assert.Equal(t, "MES", cfg.Instrument.Symbol)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Strategy.FastWindow = 0
	err := bad.Validate()
	assert.True(t, errors.Is(err, apperrors.ErrConfigInvalid))

	bad = *cfg
	bad.Instrument.Expiry = ""
	assert.True(t, errors.Is(bad.Validate(), apperrors.ErrInvalidContract))

	bad = *cfg
	bad.Strategy.FlankMode = "bracket"
	bad.Strategy.ProfitOffset = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Gateway.Kind = "kite"
	assert.Error(t, bad.Validate())
	bad.Gateway.Kite.APIKey = "k"
	bad.Gateway.Kite.AccessToken = "t"
	assert.Error(t, bad.Validate())
	bad.Strategy.LinkedFlanks = false
	assert.NoError(t, bad.Validate())
}

func TestBridgePorts(t *testing.T) {
	tests := []struct {
		platform, conn string
		want           int
	}{
		{"tws", "paper", 7497},
		{"tws", "live", 7496},
		{"gateway", "paper", 4002},
		{"gateway", "live", 4001},
	}
	for _, tt := range tests {
		port, err := BridgeConfig{Platform: tt.platform, ConnectionType: tt.conn}.Port()
		require.NoError(t, err)
		assert.Equal(t, tt.want, port)
	}

	_, err := BridgeConfig{Platform: "tws", ConnectionType: "demo"}.Port()
	assert.Error(t, err)
}

func TestInstrumentAtResolvesFrontMonth(t *testing.T) {
	cfg := Default()
	inst := cfg.InstrumentAt(time.Date(2022, time.July, 20, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "202209", inst.Expiry)
	assert.Equal(t, models.ContractFuture, inst.ContractType)
}

func TestInitTemplates(t *testing.T) {
	dir := t.TempDir()
	written, err := InitTemplates(dir, false)
	require.NoError(t, err)
	assert.Len(t, written, 2)

	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	written, err = InitTemplates(dir, false)
	require.NoError(t, err)
	assert.Empty(t, written)
}
