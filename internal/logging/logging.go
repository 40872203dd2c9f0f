// Package logging configures zerolog and holds the structured loggers for
// transitions, order updates and market status.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"trend-trader/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "trend-trader", "logs", "trader.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLoggerWithConfig builds the session logger: console on stderr, file
// rotated by lumberjack.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithSession adds the session identity to the logger context.
func WithSession(logger zerolog.Logger, sessionID string, clientID int) zerolog.Logger {
	return logger.With().Str("session_id", sessionID).Int("client_id", clientID).Logger()
}

// WithInstrument adds the instrument key to the logger context.
func WithInstrument(logger zerolog.Logger, inst models.Instrument) zerolog.Logger {
	return logger.With().Str("instrument", inst.Key()).Logger()
}

// WithTrade adds a trade ID to the logger context.
func WithTrade(logger zerolog.Logger, tradeID string) zerolog.Logger {
	return logger.With().Str("trade_id", tradeID).Logger()
}

// WithOrderID adds an order ID to the logger context.
func WithOrderID(logger zerolog.Logger, orderID string) zerolog.Logger {
	return logger.With().Str("order_id", orderID).Logger()
}

// LogTransition logs a state-machine transition event.
func LogTransition(logger zerolog.Logger, ev models.Event) {
	logger.Info().
		Str("event", "transition").
		Time("at", ev.Time).
		Str("action", string(ev.Action)).
		Str("trade_id", ev.TradeID).
		Strs("order_ids", ev.OrderIDs).
		Str("side", string(ev.Side)).
		Int("quantity", ev.Quantity).
		Float64("price", ev.Price).
		Int("position", ev.Position).
		Str("state", string(ev.State)).
		Str("reason", ev.Reason).
		Msg("Transition")
}

// LogOrderUpdate logs an inbound order status change.
func LogOrderUpdate(logger zerolog.Logger, tradeID string, u models.OrderUpdate) {
	logger.Debug().
		Str("event", "order").
		Str("trade_id", tradeID).
		Str("order_id", u.OrderID).
		Str("status", string(u.Status)).
		Int("filled", u.FilledQty).
		Float64("avg_price", u.AvgPrice).
		Str("reason", u.Reason).
		Msg("Order update")
}

// LogMarket logs the per-tick market status line.
func LogMarket(logger zerolog.Logger, symbol string, bar models.Bar, trend models.TrendState, position int) {
	logger.Debug().
		Str("event", "market").
		Str("symbol", symbol).
		Time("bar_time", bar.Time).
		Float64("last", bar.Close).
		Float64("fast", trend.FastMA).
		Float64("slow", trend.SlowMA).
		Int("position", position).
		Str("trend", trend.Direction.String()).
		Msg("Market")
}
