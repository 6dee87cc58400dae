package cli

import (
	"io"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"portfolio-state/internal/checkpoint"
	"portfolio-state/internal/config"
	"portfolio-state/internal/notify"
	"portfolio-state/internal/service"
	"portfolio-state/internal/store"
	"portfolio-state/internal/stream"
	"portfolio-state/internal/trading"
	"portfolio-state/pkg/utils"
)

// runtime is the wired service stack shared by run and replay.
type runtime struct {
	bus     *stream.Bus
	store   *store.SQLiteStore
	manager *checkpoint.Manager
	service *service.Service
}

// newRuntime wires bus, history store, checkpoint manager and service from cfg.
// The service still runs without the history store.
func newRuntime(cfg *config.Config, logger zerolog.Logger) *runtime {
	rt := &runtime{
		bus: stream.NewBusWithConfig(stream.BusConfig{HistorySize: cfg.Bus.HistorySize}, logger),
	}

	var archive checkpoint.Archiver
	var journal service.Journal
	db, err := store.NewSQLiteStore(cfg.Store.Path, cfg.Checkpoint.HistoryLimit)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Store.Path).Msg("History store unavailable, continuing without archive and journal")
	} else {
		rt.store = db
		archive = db
		if cfg.Store.Journal {
			journal = db
		}
	}

	rt.manager = checkpoint.NewManager(checkpoint.Config{
		Dir:     cfg.Checkpoint.Dir,
		Mode:    cfg.TradingMode(),
		Timeout: cfg.Checkpoint.Timeout,
	}, archive, logger)

	rt.service = service.New(service.Config{
		Mode:                   cfg.TradingMode(),
		StartingCapital:        cfg.Service.StartingCapital,
		DedupCapacity:          cfg.Ledger.DedupCapacity,
		QueueSize:              cfg.Service.QueueSize,
		EveryFills:             cfg.Checkpoint.EveryFills,
		Interval:               cfg.Checkpoint.Interval,
		SaveTimeout:            cfg.Checkpoint.Timeout,
		MaxConsecutiveFailures: cfg.Checkpoint.MaxConsecutiveFailures,
	}, rt.bus, rt.manager, journal, trading.NewSessionCalendar(cfg.Service.Timezone), logger)

	return rt
}

// newNotifier builds the alert channels enabled in the alerts section.
func newNotifier(cfg *config.Config, w io.Writer) *notify.MultiNotifier {
	mn := notify.NewMultiNotifier()
	if cfg.Alerts.Terminal {
		tn := notify.NewTerminalNotifier(w)
		tn.SetBellEnabled(cfg.Alerts.Bell)
		mn.AddChannel(tn)
	}
	if cfg.Alerts.WebhookURL != "" {
		mn.AddChannel(notify.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookTimeout))
	}
	return mn
}

// feedConfig converts the feed section, with url overriding the configured one.
func feedConfig(cfg *config.Config, url string) stream.FeedConfig {
	if url == "" {
		url = cfg.Feed.URL
	}
	fc := stream.DefaultFeedConfig(url)
	fc.Retry = utils.RetryConfig{
		MaxAttempts:   cfg.Feed.MaxReconnectAttempts,
		InitialDelay:  cfg.Feed.InitialBackoff,
		MaxDelay:      cfg.Feed.MaxBackoff,
		BackoffFactor: 2,
	}
	if cfg.Feed.PingInterval > 0 {
		fc.PingInterval = cfg.Feed.PingInterval
	}
	return fc
}

func (rt *runtime) close() error {
	var err error
	if rt.store != nil {
		err = multierr.Append(err, rt.store.Close())
	}
	return err
}
