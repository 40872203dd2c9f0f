package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trend-trader/internal/models"
	"trend-trader/internal/store"
)

// addJournalCommands adds journal commands.
func addJournalCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Session journal",
		Long:  "Review transitions and trades recorded by past sessions.",
	}

	cmd.AddCommand(newJournalEventsCmd(app))
	cmd.AddCommand(newJournalTradesCmd(app))

	rootCmd.AddCommand(cmd)
}

// openJournal opens the configured journal for reading.
func (app *App) openJournal() (*store.SQLiteStore, error) {
	cfg, err := app.loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Store.Path)
}

func newJournalEventsCmd(app *App) *cobra.Command {
	var filter store.EventFilter
	var action string
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List transition events",
		Example: `  trader journal events --limit 50
  trader journal events --session 6f1c... --action reversal
  trader journal events --since 2h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			journal, err := app.openJournal()
			if err != nil {
				return err
			}
			defer journal.Close()

			filter.Action = models.Action(strings.ToLower(action))
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			events, err := journal.GetEvents(ctx, filter)
			if err != nil {
				output.Error("Failed to fetch events: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(events)
			}
			if len(events) == 0 {
				output.Info("No events recorded.")
				return nil
			}

			table := NewTable(output, "Time", "Action", "Trade", "Orders", "Side", "Qty", "Price", "Pos", "State", "Reason")
			for _, ev := range events {
				price := ""
				if ev.Price != 0 {
					price = fmt.Sprintf("%.2f", ev.Price)
				}
				qty := ""
				if ev.Quantity != 0 {
					qty = fmt.Sprintf("%d", ev.Quantity)
				}
				table.AddRow(
					FormatDateTime(ev.Time),
					output.Action(string(ev.Action)),
					TruncateString(ev.TradeID, 12),
					strings.Join(ev.OrderIDs, ","),
					string(ev.Side),
					qty,
					price,
					FormatQuantity(ev.Position),
					output.State(string(ev.State)),
					TruncateString(ev.Reason, 40),
				)
			}
			table.Render()
			output.Println()
			output.Dim("%d events", len(events))
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.SessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&filter.TradeID, "trade", "", "filter by trade id")
	cmd.Flags().StringVar(&action, "action", "", "filter by action (open, reentry, reversal, ...)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "maximum number of events (newest kept)")
	return cmd
}

func newJournalTradesCmd(app *App) *cobra.Command {
	var filter store.TradeFilter
	var reason string

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List trade snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			journal, err := app.openJournal()
			if err != nil {
				return err
			}
			defer journal.Close()

			filter.Reason = models.TradeReason(strings.ToLower(reason))
			records, err := journal.GetTrades(ctx, filter)
			if err != nil {
				output.Error("Failed to fetch trades: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Info("No trades recorded.")
				return nil
			}

			table := NewTable(output, "Opened", "Trade", "Reason", "Side", "Qty", "Entry", "Fill", "Flanks")
			for _, r := range records {
				t := r.Trade
				var flanks []string
				for _, f := range t.Flanks {
					flanks = append(flanks, fmt.Sprintf("%s:%s", f.Kind, f.Status))
				}
				fill := ""
				if t.Entry.AvgPrice != 0 {
					fill = fmt.Sprintf("%.2f", t.Entry.AvgPrice)
				}
				table.AddRow(
					FormatDateTime(t.OpenedAt),
					t.ID,
					string(t.Reason),
					string(t.Entry.Side),
					fmt.Sprintf("%d", t.Entry.Quantity),
					string(t.Entry.Status),
					fill,
					strings.Join(flanks, " "),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.SessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&filter.Instrument, "instrument", "", "filter by instrument key")
	cmd.Flags().StringVar(&reason, "reason", "", "filter by reason (open, reentry, reversal)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of trades")
	return cmd
}
