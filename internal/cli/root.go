// Package cli provides the command-line interface for the trend trader.
package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"trend-trader/internal/config"
	"trend-trader/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-03-01"
)

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Trend Trader - moving-average trend execution engine",
		Long: `Trend Trader runs a single-instrument execution state machine.

Each bar it derives the trend from a fast and a slow moving average,
compares it with the broker position and keeps one entry order with its
protective flanks working: opening, re-entering, reversing, cancelling
stale entries and replacing lost flanks.

Use 'trader run --paper --replay bars.csv' to try it against recorded data.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			app.ConfigDir, _ = cmd.Flags().GetString("config")
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/trend-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addRunCommands(rootCmd, app)
	addJournalCommands(rootCmd, app)

	return rootCmd
}

// loadConfig reads the configuration once per invocation.
func (app *App) loadConfig() (*config.Config, error) {
	if app.Config != nil {
		return app.Config, nil
	}
	cfg, err := config.Load(app.ConfigDir)
	if err != nil {
		return nil, err
	}
	app.Config = cfg
	return cfg, nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Trend Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("encoding config: %w", err)
				}
				output.Print("%s", data)
				return nil
			}
			return showConfig(output, cfg)
		},
	}
	showCmd.Flags().Bool("yaml", false, "render as YAML")
	cmd.AddCommand(showCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.ConfigDir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg, err := app.loadConfig()
			if err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]interface{}{"valid": true, "instrument": cfg.InstrumentAt(time.Now()).Key()})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write configuration templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			force, _ := cmd.Flags().GetBool("force")
			written, err := config.InitTemplates(app.ConfigDir, force)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string][]string{"written": written})
			}
			if len(written) == 0 {
				output.Info("Configuration already exists (use --force to overwrite)")
			}
			for _, path := range written {
				output.Success("Wrote %s", path)
			}
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite existing files")
	cmd.AddCommand(initCmd)

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	inst := cfg.InstrumentAt(time.Now())

	output.Bold("Session")
	output.Printf("  ID:              %s\n", cfg.Session.ID)
	output.Printf("  Client ID:       %d\n", cfg.Session.ClientID)
	output.Printf("  Mode:            %s\n", cfg.Session.Mode)
	output.Println()

	output.Bold("Instrument")
	output.Printf("  Contract:        %s\n", inst.Key())
	output.Printf("  Type:            %s\n", inst.ContractType)
	output.Printf("  Tick Size:       %v %s\n", inst.TickSize, inst.Currency)
	output.Println()

	s := cfg.Strategy
	output.Bold("Strategy")
	output.Printf("  Windows:         fast %d / slow %d\n", s.FastWindow, s.SlowWindow)
	output.Printf("  Base Size:       %d\n", s.BaseOrderSize)
	output.Printf("  Flank Mode:      %s (linked: %v, trail: %s)\n", s.FlankMode, s.LinkedFlanks, s.TrailType)
	output.Printf("  Offsets:         profit %v / stop %v\n", s.ProfitOffset, s.StopOffset)
	output.Printf("  Stale After:     %s\n", FormatDuration(s.StalenessTimeout))
	output.Printf("  Price Source:    %s\n", s.PriceSourceField())
	output.Println()

	output.Bold("Infrastructure")
	output.Printf("  Gateway:         %s\n", cfg.Gateway.Kind)
	output.Printf("  Feed:            %s (bar %s, max gap %s)\n", cfg.Feed.Kind, cfg.Feed.BarInterval, cfg.Feed.MaxGap)
	output.Printf("  Journal:         %s\n", cfg.Store.Path)
	if cfg.Metrics.Enabled {
		output.Printf("  Metrics:         %s/metrics\n", cfg.Metrics.Listen)
	} else {
		output.Printf("  Metrics:         disabled\n")
	}
	if port, err := cfg.Gateway.Bridge.Port(); err == nil {
		output.Dim("  Bridge profile:  %s %s at %s:%d", cfg.Gateway.Bridge.Platform, cfg.Gateway.Bridge.ConnectionType, cfg.Gateway.Bridge.Host, port)
	}

	return nil
}
