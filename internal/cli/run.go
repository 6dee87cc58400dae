package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/notify"
	"portfolio-state/internal/stream"
)

func newRunCmd(app *App) *cobra.Command {
	var feedURL string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the state service",
		Long: `Run the state service until interrupted.

Fills arrive on the in-process bus, from a WebSocket feed when --feed (or
feed.url) is set. SIGINT/SIGTERM stop the service gracefully with a final
checkpoint. SIGUSR1 starts a new trading session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.run(ctx, cmd, feedURL)
		},
	}

	cmd.Flags().StringVar(&feedURL, "feed", "", "WebSocket fill feed URL (overrides feed.url)")
	return cmd
}

func (a *App) run(ctx context.Context, cmd *cobra.Command, feedURL string) error {
	output := NewOutput(cmd)
	rt := newRuntime(a.Config, a.Logger)
	defer rt.close()

	if err := rt.service.Start(ctx); err != nil {
		return err
	}
	var alerts *notify.Watcher
	if mn := newNotifier(a.Config, cmd.ErrOrStderr()); mn.Len() > 0 {
		alerts = notify.Watch(rt.bus, mn, a.Logger)
	}
	snap := rt.service.Snapshot()
	if !output.IsJSON() {
		output.Success("✓ State service running (%s)", a.Config.Service.Mode)
		output.Printf("  Equity: %s  Positions: %d  Trading day: %s\n",
			FormatIndianCurrency(snap.Equity.Equity), snap.OpenPositions(), snap.TradingDay)
	}

	sessions := make(chan os.Signal, 1)
	if sigs := sessionSignals(); len(sigs) > 0 {
		signal.Notify(sessions, sigs...)
		defer signal.Stop(sessions)
	}

	var feedErr chan error
	fc := feedConfig(a.Config, feedURL)
	if fc.URL != "" {
		feedErr = make(chan error, 1)
		feed := stream.NewFillFeed(fc, rt.bus, a.Logger)
		go func() { feedErr <- feed.Run(ctx) }()
		if !output.IsJSON() {
			output.Info("Subscribed to %s", fc.URL)
		}
	}

	var fatal error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-sessions:
			a.Logger.Info().Msg("Session signal received")
			rt.bus.Publish(stream.TopicNewSession, stream.NewSessionEvent{Timestamp: time.Now().UTC()})
		case err := <-feedErr:
			feedErr = nil
			if err != nil {
				a.Logger.Error().Err(err).Msg("Fill feed lost")
				var te *apperrors.TransportError
				if apperrors.As(err, &te) {
					output.Error("✗ Fill feed %s lost after %d attempts", te.URL, te.Attempts)
				}
				fatal = err
				break loop
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stopErr := rt.service.Stop(stopCtx)
	if alerts != nil {
		if err := alerts.Close(stopCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Pending alerts not delivered")
		}
	}

	m := rt.service.Metrics()
	if output.IsJSON() {
		if err := output.JSON(m); err != nil {
			return err
		}
	} else {
		output.Printf("Applied %d fills (%d duplicates, %d rejected), %d checkpoints, %d failed\n",
			m.FillsApplied, m.Duplicates, m.Rejected, m.Saves, m.SaveFailures)
	}
	return multierr.Combine(fatal, stopErr)
}

func newReplayCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <fills.csv>",
		Short: "Apply fills from a CSV file",
		Long: `Start the service, publish every fill in the CSV file in order, then stop
with a final checkpoint.

The header must name the columns fill_id, symbol, logical, side, quantity,
price, strategy, timestamp.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.replay(cmd, args[0])
		},
	}
}

func (a *App) replay(cmd *cobra.Command, path string) error {
	output := NewOutput(cmd)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	rt := newRuntime(a.Config, a.Logger)
	defer rt.close()

	ctx := commandContext(cmd)
	if err := rt.service.Start(ctx); err != nil {
		return err
	}

	n, replayErr := stream.ReplayCSV(ctx, f, rt.bus)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stopErr := rt.service.Stop(stopCtx)

	snap := rt.service.Snapshot()
	m := rt.service.Metrics()
	if output.IsJSON() {
		if err := output.JSON(snap); err != nil {
			return err
		}
	} else {
		output.Success("✓ Replayed %d fills from %s", n, path)
		output.Printf("  Applied: %d  Duplicates: %d  Rejected: %d\n", m.FillsApplied, m.Duplicates, m.Rejected)
		printEquity(output, snap.Equity)
	}
	return multierr.Combine(replayErr, stopErr)
}
