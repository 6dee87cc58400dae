// Package checkpoint persists portfolio snapshots and restores the latest valid one.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/models"
	"portfolio-state/internal/store"
)

// FileName is the name of the "latest" checkpoint file in both locations.
const FileName = "portfolio_state.json"

// Archiver keeps a history of checkpoint documents.
type Archiver interface {
	SaveCheckpoint(ctx context.Context, rec *store.CheckpointRecord) error
	LatestCheckpoint(ctx context.Context, mode models.Mode) (*store.CheckpointRecord, error)
}

// Config holds checkpoint manager configuration.
type Config struct {
	// Dir holds the global file; the mode file lives in Dir/<mode>.
	Dir  string
	Mode models.Mode

	// Timeout bounds Save when the caller's context has no deadline.
	Timeout time.Duration
}

// Manager writes snapshots atomically to a global and a mode-scoped file and
// restores the newest valid one.
//
// Writes are serialized. A write that completes after a newer one is
// discarded, so a timed-out save can never overwrite later state.
type Manager struct {
	config   Config
	archiver Archiver
	log      zerolog.Logger

	writeMu sync.Mutex
	written uint64 // sequence of the last successful write, guarded by writeMu

	seq      atomic.Uint64
	inflight sync.WaitGroup

	// Metrics
	saves       atomic.Uint64
	failures    atomic.Uint64
	stale       atomic.Uint64
	lastSavedAt atomic.Int64
}

// NewManager creates a checkpoint manager. archiver may be nil.
func NewManager(config Config, archiver Archiver, logger zerolog.Logger) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Manager{
		config:   config,
		archiver: archiver,
		log:      logger.With().Str("component", "checkpoint").Str("mode", string(config.Mode)).Logger(),
	}
}

// GlobalPath returns the mode-agnostic checkpoint path.
func (m *Manager) GlobalPath() string {
	return GlobalPath(m.config.Dir)
}

// ModePath returns the mode-scoped checkpoint path.
func (m *Manager) ModePath() string {
	return ModePath(m.config.Dir, m.config.Mode)
}

// GlobalPath returns the mode-agnostic checkpoint path under dir.
func GlobalPath(dir string) string {
	return filepath.Join(dir, FileName)
}

// ModePath returns the checkpoint path for mode under dir.
func ModePath(dir string, mode models.Mode) string {
	return filepath.Join(dir, string(mode), FileName)
}

// Save writes snap to both checkpoint files. If ctx expires first Save returns
// ErrTimeout; the write keeps running and is awaited by Wait.
func (m *Manager) Save(ctx context.Context, snap models.Snapshot) error {
	if snap.Mode == "" {
		snap.Mode = m.config.Mode
	}
	data, err := Encode(snap)
	if err != nil {
		m.failures.Add(1)
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	seq := m.seq.Add(1)
	done := make(chan error, 1)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		done <- m.write(seq, data, snap)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.failures.Add(1)
			return err
		}
		m.saves.Add(1)
		return nil
	case <-ctx.Done():
		m.failures.Add(1)
		return fmt.Errorf("%w: checkpoint write exceeded deadline: %v", apperrors.ErrTimeout, ctx.Err())
	}
}

func (m *Manager) write(seq uint64, data []byte, snap models.Snapshot) error {
	m.writeMu.Lock()
	if seq <= m.written {
		m.writeMu.Unlock()
		m.stale.Add(1)
		m.log.Debug().Uint64("seq", seq).Msg("Discarding stale checkpoint write")
		return nil
	}

	start := time.Now()
	err := multierr.Combine(
		writeAtomic(m.GlobalPath(), data),
		writeAtomic(m.ModePath(), data),
	)
	if err == nil {
		m.written = seq
		m.lastSavedAt.Store(time.Now().UnixNano())
	}
	m.writeMu.Unlock()

	if err != nil {
		return err
	}

	m.log.Debug().
		Uint64("seq", seq).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Checkpoint written")

	m.archive(data, snap)
	return nil
}

// archive records the document in history. Failures are logged only: the
// files are authoritative.
func (m *Manager) archive(data []byte, snap models.Snapshot) {
	if m.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	rec := &store.CheckpointRecord{
		Mode:         snap.Mode,
		CreatedAt:    snap.Timestamp,
		Equity:       snap.Equity.Equity,
		FillsApplied: snap.FillsApplied,
		Payload:      data,
	}
	if err := m.archiver.SaveCheckpoint(ctx, rec); err != nil {
		m.log.Warn().Err(err).Msg("Failed to archive checkpoint")
	}
}

// writeAtomic replaces path with data via a synced temp file and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.NewPersistenceError("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+FileName+".*.tmp")
	if err != nil {
		return apperrors.NewPersistenceError("create", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return apperrors.NewPersistenceError("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return apperrors.NewPersistenceError("sync", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return apperrors.NewPersistenceError("close", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return apperrors.NewPersistenceError("rename", path, err)
	}

	// Persist the rename itself. Not every platform supports syncing a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// Wait blocks until every in-flight write has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for in-flight checkpoint: %v", apperrors.ErrTimeout, ctx.Err())
	}
}

// candidate is one possible source of the latest snapshot.
type candidate struct {
	source string
	snap   models.Snapshot
}

// Load returns the newest valid snapshot for the configured mode, considering
// the mode file, the global file and the archive. Corrupt sources are skipped
// and logged. If nothing valid exists the error matches ErrCheckpointNotFound.
func (m *Manager) Load(ctx context.Context) (models.Snapshot, error) {
	var best *candidate
	var problems error

	consider := func(source string, data []byte) {
		snap, err := Decode(data)
		if err == nil && snap.Mode != m.config.Mode {
			// The global file may belong to another mode sharing the directory.
			m.log.Debug().Str("source", source).Str("found_mode", string(snap.Mode)).Msg("Skipping checkpoint for other mode")
			return
		}
		if err != nil {
			m.log.Warn().Err(err).Str("source", source).Msg("Ignoring invalid checkpoint")
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", source, err))
			return
		}
		if best == nil || newer(snap, best.snap) {
			best = &candidate{source: source, snap: snap}
		}
	}

	for _, path := range []string{m.ModePath(), m.GlobalPath()} {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			m.log.Warn().Err(err).Str("path", path).Msg("Failed to read checkpoint")
			problems = multierr.Append(problems, apperrors.NewPersistenceError("read", path, err))
			continue
		}
		consider(path, data)
	}

	if m.archiver != nil {
		rec, err := m.archiver.LatestCheckpoint(ctx, m.config.Mode)
		switch {
		case err == nil:
			consider("archive:"+rec.ID, rec.Payload)
		case !errors.Is(err, apperrors.ErrCheckpointNotFound):
			m.log.Warn().Err(err).Msg("Failed to read checkpoint archive")
			problems = multierr.Append(problems, err)
		}
	}

	if best == nil {
		return models.Snapshot{}, multierr.Append(apperrors.ErrCheckpointNotFound, problems)
	}

	m.log.Info().
		Str("source", best.source).
		Int64("fills_applied", best.snap.FillsApplied).
		Float64("equity", best.snap.Equity.Equity).
		Time("timestamp", best.snap.Timestamp).
		Msg("Checkpoint loaded")
	return best.snap, nil
}

// newer orders snapshots by timestamp, then by fills applied.
func newer(a, b models.Snapshot) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.FillsApplied > b.FillsApplied
}

// Stats contains checkpoint counters.
type Stats struct {
	Saves       uint64
	Failures    uint64
	StaleWrites uint64
	LastSavedAt time.Time
}

// Stats returns checkpoint counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		Saves:       m.saves.Load(),
		Failures:    m.failures.Load(),
		StaleWrites: m.stale.Load(),
	}
	if ns := m.lastSavedAt.Load(); ns != 0 {
		s.LastSavedAt = time.Unix(0, ns)
	}
	return s
}
