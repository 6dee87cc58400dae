// Package service runs the portfolio state service: it applies fills from the
// bus to the ledger and strategy statistics and checkpoints the result.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/logging"
	"portfolio-state/internal/models"
	"portfolio-state/internal/store"
	"portfolio-state/internal/stream"
	"portfolio-state/internal/trading"
	"portfolio-state/pkg/utils"
)

// State is the lifecycle state of the service.
type State int32

const (
	StateLoading State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "LOADING"
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Checkpointer persists and restores snapshots.
type Checkpointer interface {
	Save(ctx context.Context, snap models.Snapshot) error
	Load(ctx context.Context) (models.Snapshot, error)
	Wait(ctx context.Context) error
}

// Journal records applied fills.
type Journal interface {
	LogFill(ctx context.Context, rec *store.FillRecord) error
}

// Config holds service configuration.
type Config struct {
	Mode            models.Mode
	StartingCapital float64
	DedupCapacity   int
	QueueSize       int

	// EveryFills is the checkpoint cadence in applied fills.
	EveryFills int
	// Interval saves dirty state on a timer. Zero disables the timer.
	Interval time.Duration
	// SaveTimeout bounds each checkpoint write.
	SaveTimeout time.Duration
	// MaxConsecutiveFailures is the number of failed saves after which every
	// further failure raises a checkpoint-failed alert.
	MaxConsecutiveFailures int
	// ShutdownTimeout bounds Stop when called from Run.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default service configuration.
func DefaultConfig() Config {
	return Config{
		Mode:                   models.ModePaper,
		StartingCapital:        100000,
		DedupCapacity:          trading.DefaultDedupCapacity,
		QueueSize:              1024,
		EveryFills:             10,
		Interval:               30 * time.Second,
		SaveTimeout:            5 * time.Second,
		MaxConsecutiveFailures: 5,
		ShutdownTimeout:        30 * time.Second,
	}
}

// Service owns the ledger and statistics and drives checkpointing.
//
// Fills delivered on the bus are queued and applied by a single consumer
// goroutine in delivery order. Readers use Snapshot, which returns a copy.
type Service struct {
	config      Config
	bus         *stream.Bus
	checkpoints Checkpointer
	journal     Journal
	calendar    *trading.SessionCalendar
	log         zerolog.Logger

	ledger *trading.Ledger
	stats  *trading.StatsTracker

	state     atomic.Int32
	lifecycle sync.Mutex

	// stateMu makes ledger, stats and session fields change together.
	stateMu       sync.RWMutex
	tradingDay    string
	lastHeartbeat time.Time

	intakeMu  sync.RWMutex
	accepting bool
	queue     chan stream.Event
	unsubs    []func()
	done      chan struct{}
	quit      chan struct{}

	// Owned by the consumer goroutine.
	sinceSave           int
	dirty               bool
	consecutiveFailures int

	// Metrics
	applied    atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
	dropped    atomic.Uint64
	saves      atomic.Uint64
	failures   atomic.Uint64
	failStreak atomic.Int64
}

// New creates a service. journal and calendar may be nil.
func New(config Config, bus *stream.Bus, checkpoints Checkpointer, journal Journal, calendar *trading.SessionCalendar, logger zerolog.Logger) *Service {
	defaults := DefaultConfig()
	if config.Mode == "" {
		config.Mode = defaults.Mode
	}
	if config.StartingCapital <= 0 {
		config.StartingCapital = defaults.StartingCapital
	}
	if config.DedupCapacity <= 0 {
		config.DedupCapacity = defaults.DedupCapacity
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.EveryFills <= 0 {
		config.EveryFills = defaults.EveryFills
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = defaults.SaveTimeout
	}
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if calendar == nil {
		calendar = trading.NewSessionCalendar(trading.DefaultTimezone)
	}

	log := logging.WithComponent(logger, "state_service").With().Str("mode", string(config.Mode)).Logger()
	return &Service{
		config:      config,
		bus:         bus,
		checkpoints: checkpoints,
		journal:     journal,
		calendar:    calendar,
		log:         log,
		ledger:      trading.NewLedger(config.StartingCapital, config.DedupCapacity, logger),
		stats:       trading.NewStatsTracker(),
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Start restores the latest checkpoint, or starts from the configured
// baseline, subscribes to the bus and starts the consumer.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done != nil {
		return apperrors.ErrServiceStarted
	}

	s.restore(ctx)

	s.queue = make(chan stream.Event, s.config.QueueSize)
	s.done = make(chan struct{})
	s.quit = make(chan struct{})
	s.intakeMu.Lock()
	s.accepting = true
	s.intakeMu.Unlock()

	s.unsubs = []func(){
		s.bus.Subscribe(stream.TopicFills, s.enqueue),
		s.bus.Subscribe(stream.TopicNewSession, s.enqueue),
	}

	go s.consume()
	s.state.Store(int32(StateRunning))

	eq := s.ledger.Equity()
	s.log.Info().
		Float64("equity", eq.Equity).
		Int64("fills_applied", s.ledger.FillsApplied()).
		Int("every_fills", s.config.EveryFills).
		Dur("interval", s.config.Interval).
		Msg("State service running")
	return nil
}

func (s *Service) restore(ctx context.Context) {
	s.state.Store(int32(StateLoading))

	snap, err := s.checkpoints.Load(ctx)
	if err != nil {
		day := s.calendar.TradingDay(time.Now())
		s.stateMu.Lock()
		s.tradingDay = day
		s.lastHeartbeat = time.Now().UTC()
		s.stateMu.Unlock()

		s.log.Warn().
			Err(err).
			Float64("starting_capital", s.config.StartingCapital).
			Str("trading_day", day).
			Msg("No usable checkpoint, starting from baseline")
		return
	}

	s.stateMu.Lock()
	s.ledger.Restore(snap)
	s.stats.Restore(snap.Strategies, snap.Positions)
	s.tradingDay = snap.TradingDay
	if s.tradingDay == "" {
		s.tradingDay = s.calendar.TradingDay(snap.Timestamp)
	}
	s.lastHeartbeat = snap.LastHeartbeatTS
	s.stateMu.Unlock()

	s.log.Info().
		Time("checkpoint_ts", snap.Timestamp).
		Int64("fills_applied", snap.FillsApplied).
		Int("positions", len(snap.Positions)).
		Int("strategies", len(snap.Strategies)).
		Str("trading_day", snap.TradingDay).
		Msg("State restored from checkpoint")
}

// enqueue is the bus handler. It blocks while the queue is full.
func (s *Service) enqueue(ev stream.Event) {
	s.intakeMu.RLock()
	defer s.intakeMu.RUnlock()

	if !s.accepting {
		s.dropped.Add(1)
		s.log.Warn().Str("kind", string(ev.Kind())).Msg("Intake closed, event dropped")
		return
	}
	s.queue <- ev
}

func (s *Service) consume() {
	defer close(s.done)

	var tick <-chan time.Time
	if s.config.Interval > 0 {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		select {
		case <-s.quit:
			return
		case ev, ok := <-s.queue:
			if !ok {
				return
			}
			s.handle(ev)
		case <-tick:
			s.onTick()
		}
	}
}

func (s *Service) handle(ev stream.Event) {
	switch e := ev.(type) {
	case stream.FillEvent:
		s.applyFill(e.Fill)
	case stream.NewSessionEvent:
		s.startSession(e)
	default:
		s.log.Warn().Str("kind", string(ev.Kind())).Msg("Unexpected event on intake")
	}
}

func (s *Service) applyFill(fill models.Fill) {
	s.stateMu.Lock()
	res, err := s.ledger.Apply(fill)
	if err == nil {
		s.stats.Apply(fill, res)
		s.lastHeartbeat = time.Now().UTC()
	}
	s.stateMu.Unlock()

	if err != nil {
		s.rejected.Add(1)
		s.log.Warn().
			Err(err).
			Str("fill_id", fill.FillID).
			Str("symbol", fill.Symbol).
			Str("side", string(fill.Side)).
			Int("quantity", fill.Quantity).
			Float64("price", fill.Price).
			Str("strategy", fill.Strategy).
			Msg("Rejected invalid fill")
		return
	}
	if res.Outcome == trading.OutcomeDuplicateIgnored {
		s.duplicates.Add(1)
		return
	}

	s.applied.Add(1)
	s.journalFill(fill, res)

	s.dirty = true
	s.sinceSave++
	if s.sinceSave >= s.config.EveryFills {
		s.checkpoint("cadence")
	}
}

// journalRetry covers transient SQLite lock contention.
var journalRetry = utils.RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  20 * time.Millisecond,
	MaxDelay:      100 * time.Millisecond,
	BackoffFactor: 2,
}

// journalFill records the fill in history, retrying briefly. Failures are
// logged only.
func (s *Service) journalFill(fill models.Fill, res trading.ApplyResult) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SaveTimeout)
	defer cancel()

	rec := &store.FillRecord{
		Fill:             fill,
		Mode:             s.config.Mode,
		RealizedPnL:      res.RealizedDelta,
		PositionQuantity: res.PostQuantity,
		AppliedAt:        time.Now().UTC(),
	}
	err := utils.Retry(ctx, journalRetry, func() error {
		return s.journal.LogFill(ctx, rec)
	})
	if err != nil {
		log := logging.WithStrategy(logging.WithSymbol(s.log, fill.Symbol), fill.Strategy)
		log.Warn().Err(err).Str("fill_id", fill.FillID).Msg("Failed to journal fill")
	}
}

func (s *Service) startSession(ev stream.NewSessionEvent) {
	day := ev.TradingDay
	if day == "" {
		at := ev.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		day = s.calendar.TradingDay(at)
	}

	s.stateMu.Lock()
	prev := s.tradingDay
	s.ledger.ResetDay()
	s.stats.ResetDay()
	s.tradingDay = day
	s.lastHeartbeat = time.Now().UTC()
	s.stateMu.Unlock()

	s.log.Info().Str("previous_day", prev).Str("trading_day", day).Msg("New trading session")

	s.dirty = true
	s.checkpoint("new_session")
}

func (s *Service) onTick() {
	s.stateMu.Lock()
	s.lastHeartbeat = time.Now().UTC()
	s.stateMu.Unlock()

	if s.dirty {
		s.checkpoint("interval")
	}
}

// checkpoint saves the current snapshot. It runs on the consumer goroutine,
// or during shutdown after the consumer has exited.
func (s *Service) checkpoint(reason string) error {
	snap := s.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.SaveTimeout)
	defer cancel()

	start := time.Now()
	err := s.checkpoints.Save(ctx, snap)
	logging.LogCheckpoint(s.log, reason, snap.FillsApplied, snap.Equity.Equity, time.Since(start), err)

	s.sinceSave = 0
	if err != nil {
		s.failures.Add(1)
		s.consecutiveFailures++
		s.failStreak.Store(int64(s.consecutiveFailures))

		if s.consecutiveFailures >= s.config.MaxConsecutiveFailures {
			s.log.Error().
				Err(err).
				Int("consecutive_failures", s.consecutiveFailures).
				Int64("fills_applied", snap.FillsApplied).
				Msg("ALERT: checkpoint persistence is failing, state since the last good checkpoint is at risk")
			s.bus.Publish(stream.TopicCheckpointFailed, stream.CheckpointFailedEvent{
				Reason:              reason,
				Error:               err.Error(),
				ConsecutiveFailures: s.consecutiveFailures,
				Timestamp:           time.Now().UTC(),
			})
		}
		return err
	}

	s.saves.Add(1)
	s.consecutiveFailures = 0
	s.failStreak.Store(0)
	s.dirty = false
	s.bus.Publish(stream.TopicSnapshotUpdated, stream.SnapshotUpdatedEvent{Snapshot: snap})
	return nil
}

// Snapshot returns a consistent copy of the current state.
func (s *Service) Snapshot() models.Snapshot {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return models.Snapshot{
		Version:         models.SnapshotVersion,
		Mode:            s.config.Mode,
		Equity:          s.ledger.Equity(),
		Positions:       s.ledger.Positions(),
		Strategies:      s.stats.Snapshot(),
		AppliedFillIDs:  s.ledger.AppliedFillIDs(),
		FillsApplied:    s.ledger.FillsApplied(),
		TradingDay:      s.tradingDay,
		LastHeartbeatTS: s.lastHeartbeat,
		Timestamp:       time.Now().UTC(),
	}
}

// Stop closes intake, drains queued events, waits for any in-flight save,
// writes a final checkpoint and unsubscribes. ctx bounds draining and
// waiting; the final save is bounded by the save timeout. If draining times
// out the consumer is stopped after its current event, the remaining events
// are dropped and the applied state is still saved. Stop never returns while
// the consumer is running.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.State() {
	case StateStopped:
		return nil
	case StateRunning:
	default:
		return apperrors.ErrServiceNotRunning
	}
	s.state.Store(int32(StateShuttingDown))
	s.log.Info().Int("queued", len(s.queue)).Msg("State service shutting down")

	s.intakeMu.Lock()
	s.accepting = false
	close(s.queue)
	s.intakeMu.Unlock()

	var saveErr error
	select {
	case <-s.done:
	case <-ctx.Done():
		s.log.Error().Err(ctx.Err()).Int("queued", len(s.queue)).Msg("Timed out draining fill queue")
		close(s.quit)
		<-s.done
		abandoned := 0
		for range s.queue {
			abandoned++
		}
		s.dropped.Add(uint64(abandoned))
		saveErr = fmt.Errorf("%w: fill queue not drained, %d events dropped", apperrors.ErrTimeout, abandoned)
	}

	if err := s.checkpoints.Wait(ctx); err != nil {
		s.log.Warn().Err(err).Msg("In-flight checkpoint did not finish")
	}

	saveErr = multierr.Append(saveErr, s.checkpoint("shutdown"))

	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.state.Store(int32(StateStopped))

	m := s.Metrics()
	s.log.Info().
		Uint64("fills_applied", m.FillsApplied).
		Uint64("duplicates", m.Duplicates).
		Uint64("rejected", m.Rejected).
		Uint64("saves", m.Saves).
		Uint64("save_failures", m.SaveFailures).
		Msg("State service stopped")

	if saveErr != nil {
		return fmt.Errorf("final checkpoint: %w", saveErr)
	}
	return nil
}

// Run starts the service, blocks until ctx is cancelled and stops it.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Metrics contains service counters.
type Metrics struct {
	State               State
	FillsApplied        uint64
	Duplicates          uint64
	Rejected            uint64
	Dropped             uint64
	Saves               uint64
	SaveFailures        uint64
	ConsecutiveFailures int64
	QueueDepth          int
}

// Metrics returns service counters.
func (s *Service) Metrics() Metrics {
	return Metrics{
		State:               s.State(),
		FillsApplied:        s.applied.Load(),
		Duplicates:          s.duplicates.Load(),
		Rejected:            s.rejected.Load(),
		Dropped:             s.dropped.Load(),
		Saves:               s.saves.Load(),
		SaveFailures:        s.failures.Load(),
		ConsecutiveFailures: s.failStreak.Load(),
		QueueDepth:          len(s.queue),
	}
}
