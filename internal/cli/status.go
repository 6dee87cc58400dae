package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"portfolio-state/internal/checkpoint"
	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/models"
	"portfolio-state/internal/store"
)

func newStatusCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest checkpointed portfolio state",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			mode, err := app.modeFlag(cmd)
			if err != nil {
				return err
			}

			var archive checkpoint.Archiver
			if db, err := app.openHistory(); err == nil {
				defer db.Close()
				archive = db
			}

			m := checkpoint.NewManager(checkpoint.Config{
				Dir:     app.Config.Checkpoint.Dir,
				Mode:    mode,
				Timeout: app.Config.Checkpoint.Timeout,
			}, archive, app.Logger)
			snap, err := m.Load(commandContext(cmd))
			if err != nil {
				if apperrors.Is(err, apperrors.ErrCheckpointNotFound) && !output.IsJSON() {
					output.Warning("No valid %s checkpoint in %s", mode, app.Config.Checkpoint.Dir)
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}
			printSnapshot(output, snap, time.Now())
			return nil
		},
	}
	cmd.Flags().String("mode", "", "mode to inspect: live or paper (default: configured mode)")
	return cmd
}

func printSnapshot(output *Output, snap models.Snapshot, now time.Time) {
	output.Bold("Portfolio State (%s)", strings.ToUpper(string(snap.Mode)))
	output.Printf("  Checkpoint:  %s (%s)\n", FormatDateTime(snap.Timestamp), FormatAge(snap.Timestamp, now))
	output.Printf("  Heartbeat:   %s\n", FormatAge(snap.LastHeartbeatTS, now))
	output.Printf("  Trading Day: %s\n", snap.TradingDay)
	output.Printf("  Fills:       %d\n", snap.FillsApplied)
	output.Println()

	printEquity(output, snap.Equity)
	output.Println()

	output.Bold("Positions")
	if len(snap.Positions) == 0 {
		output.Dim("  No positions")
	} else {
		table := NewTable(output, "Symbol", "Qty", "Avg", "Last", "Realized", "Unrealized", "Strategy")
		for _, p := range snap.Positions {
			symbol := p.Symbol
			if p.Logical != "" && p.Logical != p.Symbol {
				symbol += " (" + p.Logical + ")"
			}
			table.AddRow(
				symbol,
				output.FormatQuantity(p.Quantity),
				FormatPrice(p.AvgPrice),
				FormatPrice(p.LastPrice),
				output.FormatPnL(p.RealizedPnL),
				output.FormatPnL(p.UnrealizedPnL),
				p.Strategy,
			)
		}
		table.Render()
	}
	output.Println()

	output.Bold("Strategies")
	if len(snap.Strategies) == 0 {
		output.Dim("  No strategy activity")
		return
	}
	table := NewTable(output, "Strategy", "Day P&L", "W/L/B", "Open", "Closed", "Entries", "Exits")
	for _, id := range sortedStrategies(snap.Strategies) {
		st := snap.Strategies[id]
		table.AddRow(
			id,
			output.FormatPnL(st.DayPnL),
			fmt.Sprintf("%d/%d/%d", st.WinTrades, st.LossTrades, st.BreakevenTrades),
			fmt.Sprintf("%d", st.OpenTrades),
			fmt.Sprintf("%d", st.ClosedTrades),
			fmt.Sprintf("%d", st.EntryCount),
			fmt.Sprintf("%d", st.ExitCount),
		)
	}
	table.Render()
}

func printEquity(output *Output, eq models.Equity) {
	output.Bold("Equity")
	output.Printf("  Equity:          %s\n", FormatIndianCurrency(eq.Equity))
	output.Printf("  Starting:        %s\n", FormatIndianCurrency(eq.StartingCapital))
	output.Printf("  Cash:            %s\n", FormatIndianCurrency(eq.Cash))
	output.Printf("  Realized P&L:    %s\n", output.FormatPnL(eq.RealizedPnL))
	output.Printf("  Unrealized P&L:  %s\n", output.FormatPnL(eq.UnrealizedPnL))
	output.Printf("  Day P&L:         %s (%s)\n", output.FormatPnL(eq.DayPnL), FormatPercent(percentOf(eq.DayPnL, eq.StartingCapital)))
	output.Printf("  Total Notional:  %s\n", FormatIndianCurrency(eq.TotalNotional))
	output.Printf("  Free Notional:   %s\n", FormatIndianCurrency(eq.FreeNotional))
}

func percentOf(v, base float64) float64 {
	if base == 0 {
		return 0
	}
	return v / base * 100
}

func sortedStrategies(stats map[string]models.StrategyStats) []string {
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// openHistory opens the history store if it exists. It never creates one.
func (a *App) openHistory() (*store.SQLiteStore, error) {
	if _, err := os.Stat(a.Config.Store.Path); err != nil {
		return nil, fmt.Errorf("history store %s: %w", a.Config.Store.Path, err)
	}
	return store.NewSQLiteStore(a.Config.Store.Path, a.Config.Checkpoint.HistoryLimit)
}

func newHistoryCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			mode, err := app.modeFlag(cmd)
			if err != nil {
				return err
			}
			db, err := app.openHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.ListCheckpoints(commandContext(cmd), store.CheckpointFilter{Mode: mode, Limit: limit})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(records)
			}

			output.Bold("Checkpoint History (%s)", strings.ToUpper(string(mode)))
			if len(records) == 0 {
				output.Dim("  No archived checkpoints")
				return nil
			}
			table := NewTable(output, "ID", "Created", "Equity", "Fills")
			for _, r := range records {
				table.AddRow(r.ID, FormatDateTime(r.CreatedAt), FormatIndianCurrency(r.Equity), fmt.Sprintf("%d", r.FillsApplied))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("mode", "", "mode: live or paper (default: configured mode)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of checkpoints")
	return cmd
}

func newFillsCmd(app *App) *cobra.Command {
	var filter store.FillFilter

	cmd := &cobra.Command{
		Use:   "fills",
		Short: "List journaled fills",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			mode, err := app.modeFlag(cmd)
			if err != nil {
				return err
			}
			filter.Mode = mode

			db, err := app.openHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.GetFills(commandContext(cmd), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(records)
			}

			if len(records) == 0 {
				output.Dim("No fills journaled")
				return nil
			}
			table := NewTable(output, "Time", "Fill", "Symbol", "Side", "Qty", "Price", "Realized", "Position", "Strategy")
			for _, r := range records {
				side := string(r.Fill.Side)
				if r.Fill.Side == models.OrderSideBuy {
					side = output.Green(side)
				} else {
					side = output.Red(side)
				}
				table.AddRow(
					FormatDateTime(r.Fill.Timestamp),
					TruncateString(r.Fill.FillID, 16),
					r.Fill.Symbol,
					side,
					FormatQuantity(r.Fill.Quantity),
					FormatPrice(r.Fill.Price),
					output.FormatPnL(r.RealizedPnL),
					output.FormatQuantity(r.PositionQuantity),
					r.Fill.Strategy,
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("mode", "", "mode: live or paper (default: configured mode)")
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "filter by symbol")
	cmd.Flags().StringVar(&filter.Strategy, "strategy", "", "filter by strategy")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of fills")
	return cmd
}
