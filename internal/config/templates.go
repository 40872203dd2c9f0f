package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Trend Trader Configuration

[session]
# Session identity. Leave id empty to generate one per run.
id = ""
client_id = 1
account = ""
# Trading mode: "live" or "paper"
mode = "paper"

[instrument]
symbol = "MES"
exchange = "GLOBEX"
# FUT, STK or IND
contract_type = "FUT"
# YYYYMM, or "front" for the active quarterly contract
expiry = "front"
tick_size = 0.25
currency = "USD"

[strategy]
fast_window = 9
slow_window = 21
base_order_size = 1
# Take-profit distance from the reference price
profit_offset = 1.0
# Stop distance from the reference price
stop_offset = 2.0
# bracket, trailing or bracket_trailing
flank_mode = "bracket"
# Attach flanks to the entry at the broker
linked_flanks = true
# amount or percent
trail_type = "amount"
# Cancel an unfilled entry after this long
staleness_timeout = "30s"
# close, open, high, low or wap
price_source = "close"

[gateway]
# paper or kite
kind = "paper"
breaker_failures = 3
breaker_timeout = "30s"
call_timeout = "10s"

[gateway.paper]
initial_position = 0

[gateway.kite]
product = "NRML"
poll_interval = "2s"

[gateway.bridge]
host = "127.0.0.1"
# tws or gateway
platform = "tws"
# paper or live
connection_type = "paper"

[feed]
# replay, websocket or kite
kind = "replay"
replay_file = ""
websocket_url = ""
instrument_token = 0
bar_interval = "5s"
# Abort the session when no bar arrives for this long
max_gap = "60s"

[store]
# Defaults to ~/.config/trend-trader/trader.db
# path = ""
seed_history = true

[logging]
level = "info"
console = true
file = true
# Defaults to ~/.config/trend-trader/logs/trader.log
# file_path = ""

[metrics]
enabled = false
listen = ":9108"
`

const credentialsTemplate = `# Trend Trader Credentials
# Environment variables TREND_TRADER_KITE_API_KEY and
# TREND_TRADER_KITE_ACCESS_TOKEN take precedence.

[gateway.kite]
api_key = ""
access_token = ""
`

// ConfigPath returns the path of config.toml inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := ConfigPath(configDir)
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}

// InitTemplates writes config.toml and credentials.toml into configDir.
// Existing files are left alone unless force is set.
func InitTemplates(configDir string, force bool) ([]string, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	var written []string

	if force || !exists(ConfigPath(configDir)) {
		if err := createTemplateConfig(configDir); err != nil {
			return written, err
		}
		written = append(written, ConfigPath(configDir))
	}

	credPath := filepath.Join(configDir, "credentials.toml")
	if force || !exists(credPath) {
		if err := createTemplateCredentials(configDir); err != nil {
			return written, err
		}
		written = append(written, credPath)
	}
	return written, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
