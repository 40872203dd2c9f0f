package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trend-trader/internal/broker"
	"trend-trader/internal/config"
	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/feed"
	"trend-trader/internal/logging"
	"trend-trader/internal/metrics"
	"trend-trader/internal/models"
	"trend-trader/internal/resilience"
	"trend-trader/internal/store"
	"trend-trader/internal/stream"
	"trend-trader/internal/trading"
)

// runOptions are command-line overrides of the configured gateway and feed.
type runOptions struct {
	paper      bool
	replayFile string
	replayRate time.Duration
	wsURL      string
}

// apply folds the overrides into cfg and revalidates it.
func (o runOptions) apply(cfg *config.Config) error {
	if o.paper {
		cfg.Session.Mode = "paper"
		cfg.Gateway.Kind = "paper"
	}
	if o.replayFile != "" {
		cfg.Feed.Kind = "replay"
		cfg.Feed.ReplayFile = o.replayFile
	}
	if o.wsURL != "" {
		cfg.Feed.Kind = "websocket"
		cfg.Feed.WebsocketURL = o.wsURL
	}
	if cfg.Gateway.Kind != "paper" && cfg.IsPaperMode() {
		return apperrors.NewValidationError("session.mode", cfg.Session.Mode, "paper mode requires the paper gateway")
	}
	return cfg.Validate()
}

// addRunCommands adds the session runner.
func addRunCommands(rootCmd *cobra.Command, app *App) {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a trading session",
		Long: `Run the execution state machine against the configured gateway and feed.

The session stops on SIGINT/SIGTERM, a fatal gateway error or the end of
the feed. Stopping detaches: working orders stay with the broker.`,
		Example: `  trader run --paper --replay bars.csv
  trader run --paper --ws ws://localhost:8080/bars
  trader run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			if err := opts.apply(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSession(ctx, NewOutput(cmd), cfg, opts, sessionLogger(app, cfg))
		},
	}

	cmd.Flags().BoolVar(&opts.paper, "paper", false, "trade against the simulated gateway")
	cmd.Flags().StringVar(&opts.replayFile, "replay", "", "replay bars from a CSV file")
	cmd.Flags().DurationVar(&opts.replayRate, "replay-interval", 0, "pause between replayed bars")
	cmd.Flags().StringVar(&opts.wsURL, "ws", "", "read bars from a websocket endpoint")

	rootCmd.AddCommand(cmd)
}

func sessionLogger(app *App, cfg *config.Config) zerolog.Logger {
	lc := logging.DefaultLogConfig()
	lc.Level = cfg.Logging.Level
	lc.Console = cfg.Logging.Console
	lc.File = cfg.Logging.File
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	logger := logging.NewLoggerWithConfig(lc)
	if app.Logger.GetLevel() == zerolog.DebugLevel {
		logger = logger.Level(zerolog.DebugLevel)
	}
	return logging.WithSession(logger, cfg.Session.ID, cfg.Session.ClientID)
}

// runSession wires config, journal, gateway, feed and machine together and
// runs until the feed ends, a fatal error occurs or ctx is cancelled.
func runSession(ctx context.Context, output *Output, cfg *config.Config, opts runOptions, logger zerolog.Logger) error {
	inst := cfg.InstrumentAt(time.Now())
	logger = logging.WithInstrument(logger, inst)

	journal, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer journal.Close()

	if err := journal.StartSession(ctx, store.SessionInfo{
		ID:         cfg.Session.ID,
		ClientID:   cfg.Session.ClientID,
		Instrument: inst.Key(),
		Mode:       cfg.Session.Mode,
		StartedAt:  time.Now(),
	}); err != nil {
		return err
	}

	gw := broker.NewGuardedGateway(newGateway(cfg, logger), broker.GuardConfig{
		Breaker: resilience.Config{
			FailureThreshold: cfg.Gateway.BreakerFailures,
			SuccessThreshold: 1,
			Timeout:          cfg.Gateway.BreakerTimeout,
		},
		CallTimeout: cfg.Gateway.CallTimeout,
	}, logger)
	if err := gw.Connect(ctx); err != nil {
		return fmt.Errorf("connecting gateway: %w", err)
	}
	defer gw.Close()

	src, err := newFeed(cfg, opts, logger)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(inst)
	hub := stream.NewHub()
	defer hub.Close()
	journalSink := store.NewJournalSink(journal, cfg.Session.ID, inst, logger)
	sinks := trading.MultiSink{trading.LogSink{Logger: logger}, journalSink, collector, hub}

	machine, err := trading.NewMachine(trading.MachineConfig{
		SessionID:  cfg.Session.ID,
		Instrument: inst,
		Strategy:   cfg.Strategy,
		Gateway:    gw,
		Sink:       sinks,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if cfg.Store.SeedHistory {
		window := cfg.Strategy.SlowWindow
		if cfg.Strategy.FastWindow > window {
			window = cfg.Strategy.FastWindow
		}
		bars, err := journal.RecentBars(ctx, inst.Key(), window)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to seed price history")
		} else if len(bars) > 0 {
			machine.Seed(bars)
			logger.Info().Int("bars", len(bars)).Msg("Seeded price history from journal")
		}
	}

	// Adopt a position and exit orders left by a previous session.
	if err := machine.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}

	if cfg.Metrics.Enabled {
		health := sessionHealth(cfg, gw, journal, machine)
		server := metrics.NewServer(cfg.Metrics.Listen, collector, health.HealthHTTPHandler(), logger)
		server.Handle("/events", stream.Handler(hub, logger))
		go func() {
			if err := server.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	output.Info("Session %s trading %s (%s gateway, %s feed)", cfg.Session.ID, inst.Key(), cfg.Gateway.Kind, cfg.Feed.Kind)

	session := trading.NewSession(machine, src, gw, journalSink, logger)
	err = session.Run(ctx)

	printSnapshot(output, machine.Snapshot(), inst)

	switch {
	case err == nil:
		output.Info("Session stopped; working orders were left with the broker")
		return nil
	case cfg.Feed.Kind == "replay" && errors.Is(err, apperrors.ErrFeedTerminated):
		output.Success("Replay complete")
		return nil
	default:
		return err
	}
}

// sessionHealth registers the checks served on /healthz.
func sessionHealth(cfg *config.Config, gw *broker.GuardedGateway, journal *store.SQLiteStore, machine *trading.Machine) *resilience.HealthMonitor {
	health := resilience.NewHealthMonitor(cfg.Gateway.CallTimeout)
	health.RegisterComponent("gateway", resilience.BreakerHealthCheck(gw.Breaker()))
	health.RegisterComponent("journal", resilience.DatabaseHealthCheck(journal.Ping))
	health.RegisterComponent("feed", resilience.FreshnessHealthCheck(func() time.Time {
		return machine.Snapshot().LastBar.Time
	}, cfg.Feed.MaxGap, time.Now))
	health.RegisterComponent("machine", func(ctx context.Context) resilience.ComponentHealth {
		snap := machine.Snapshot()
		h := resilience.ComponentHealth{
			Status:  resilience.HealthStatusHealthy,
			Message: string(snap.State),
			Details: map[string]interface{}{"position": snap.Position, "ticks": snap.Ticks},
		}
		if snap.Halted {
			h.Status = resilience.HealthStatusUnhealthy
			h.Message = snap.HaltReason
		}
		return h
	})
	return health
}

func newGateway(cfg *config.Config, logger zerolog.Logger) broker.Gateway {
	if cfg.Gateway.Kind == "kite" {
		return broker.NewKiteGateway(broker.KiteGatewayConfig{
			APIKey:       cfg.Gateway.Kite.APIKey,
			AccessToken:  cfg.Gateway.Kite.AccessToken,
			Product:      cfg.Gateway.Kite.Product,
			PollInterval: cfg.Gateway.Kite.PollInterval,
		}, logger)
	}
	return broker.NewPaperGateway(broker.PaperGatewayConfig{
		InitialPosition: cfg.Gateway.Paper.InitialPosition,
	})
}

func newFeed(cfg *config.Config, opts runOptions, logger zerolog.Logger) (feed.Feed, error) {
	switch cfg.Feed.Kind {
	case "replay":
		if cfg.Feed.ReplayFile == "" {
			return nil, apperrors.NewValidationError("feed.replay_file", "", "required by the replay feed")
		}
		replay, err := feed.LoadReplay(cfg.Feed.ReplayFile, opts.replayRate)
		if err != nil {
			return nil, err
		}
		// Recorded bars arrive as fast as they are read; only the end of
		// the file is checked.
		return feed.WithGapDetection(replay, 0), nil
	case "websocket":
		if cfg.Feed.WebsocketURL == "" {
			return nil, apperrors.NewValidationError("feed.websocket_url", "", "required by the websocket feed")
		}
		return feed.WithGapDetection(feed.NewWebsocketFeed(cfg.Feed.WebsocketURL, cfg.Feed.MaxGap, logger), cfg.Feed.MaxGap), nil
	case "kite":
		return feed.WithGapDetection(feed.NewKiteFeed(feed.KiteFeedConfig{
			APIKey:          cfg.Gateway.Kite.APIKey,
			AccessToken:     cfg.Gateway.Kite.AccessToken,
			InstrumentToken: cfg.Feed.InstrumentToken,
			BarInterval:     cfg.Feed.BarInterval,
		}, logger), cfg.Feed.MaxGap), nil
	}
	return nil, apperrors.NewValidationError("feed.kind", cfg.Feed.Kind, "unknown feed")
}

func printSnapshot(output *Output, snap trading.Snapshot, inst models.Instrument) {
	if output.IsJSON() {
		output.JSON(snap)
		return
	}

	lines := []string{
		fmt.Sprintf("State:     %s", output.State(string(snap.State))),
		fmt.Sprintf("Position:  %s", output.Signed(snap.Position)),
		fmt.Sprintf("Bars:      %d", snap.Ticks),
	}
	if snap.HasTrend {
		lines = append(lines, fmt.Sprintf("Trend:     %s (fast %s / slow %s)", snap.Trend.Direction,
			FormatPrice(snap.Trend.FastMA, inst.TickSize), FormatPrice(snap.Trend.SlowMA, inst.TickSize)))
	}
	if snap.Trade != nil {
		lines = append(lines, fmt.Sprintf("Trade:     %s (%s)", snap.Trade.ID, snap.Trade.Reason))
		for _, o := range snap.Trade.Orders() {
			lines = append(lines, fmt.Sprintf("  %s %s %d %s %s", PadRight(string(o.Kind), 13), PadRight(string(o.Side), 4),
				o.Quantity, PadRight(string(o.Spec.Type), 11), o.Status))
		}
	}
	if snap.Halted {
		lines = append(lines, fmt.Sprintf("Halted:    %s", snap.HaltReason))
	}
	output.Box("Session "+inst.Key(), lines)
}
