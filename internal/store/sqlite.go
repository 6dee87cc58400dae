package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/models"
	"portfolio-state/pkg/utils"
)

// DefaultHistoryLimit is the number of archived checkpoints kept per mode.
const DefaultHistoryLimit = 100

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db           *sql.DB
	historyLimit int
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
// historyLimit bounds the archived checkpoints per mode; zero or less keeps the default.
func NewSQLiteStore(dbPath string, historyLimit int) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; WAL lets readers proceed.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	store := &SQLiteStore{
		db:           db,
		historyLimit: historyLimit,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Archived checkpoint documents, newest id last
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		equity REAL NOT NULL,
		fills_applied INTEGER NOT NULL,
		payload BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_mode ON checkpoints(mode, id);

	-- Journal of applied fills
	CREATE TABLE IF NOT EXISTS fills (
		fill_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		symbol TEXT NOT NULL,
		logical TEXT,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		strategy TEXT,
		timestamp DATETIME NOT NULL,
		realized_pnl REAL NOT NULL DEFAULT 0,
		position_qty INTEGER NOT NULL DEFAULT 0,
		applied_at DATETIME NOT NULL,
		PRIMARY KEY (mode, fill_id)
	);

	CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol, applied_at);
	CREATE INDEX IF NOT EXISTS idx_fills_strategy ON fills(strategy, applied_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Checkpoint Methods
// ============================================================================

// SaveCheckpoint archives a checkpoint and prunes the mode's history to the
// configured limit. An empty ID is assigned a new ULID.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, rec *CheckpointRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ID == "" {
		rec.ID = utils.NewIDAt(rec.CreatedAt)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, mode, created_at, equity, fills_applied, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Mode), rec.CreatedAt.UTC(), rec.Equity, rec.FillsApplied, rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE mode = ? AND id NOT IN (
			SELECT id FROM checkpoints WHERE mode = ? ORDER BY id DESC LIMIT ?
		)
	`, string(rec.Mode), string(rec.Mode), s.historyLimit)
	if err != nil {
		return fmt.Errorf("failed to prune checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the newest archived checkpoint for mode.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, mode models.Mode) (*CheckpointRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mode, created_at, equity, fills_applied, payload
		FROM checkpoints WHERE mode = ? ORDER BY id DESC LIMIT 1
	`, string(mode))

	var rec CheckpointRecord
	var m string
	err := row.Scan(&rec.ID, &m, &rec.CreatedAt, &rec.Equity, &rec.FillsApplied, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	rec.Mode = models.Mode(m)
	return &rec, nil
}

// ListCheckpoints returns archived checkpoints, newest first.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, filter CheckpointFilter) ([]CheckpointRecord, error) {
	cols := "id, mode, created_at, equity, fills_applied"
	if filter.WithPayload {
		cols += ", payload"
	}
	query := "SELECT " + cols + " FROM checkpoints WHERE 1=1"
	args := []interface{}{}

	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(filter.Mode))
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var records []CheckpointRecord
	for rows.Next() {
		var rec CheckpointRecord
		var m string
		dest := []interface{}{&rec.ID, &m, &rec.CreatedAt, &rec.Equity, &rec.FillsApplied}
		if filter.WithPayload {
			dest = append(dest, &rec.Payload)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		rec.Mode = models.Mode(m)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// ============================================================================
// Fill Journal Methods
// ============================================================================

// LogFill journals an applied fill. Re-logging a fill id for the same mode is a no-op.
func (s *SQLiteStore) LogFill(ctx context.Context, rec *FillRecord) error {
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = time.Now()
	}
	f := rec.Fill
	ts := f.Timestamp
	if ts.IsZero() {
		ts = rec.AppliedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills (fill_id, mode, symbol, logical, side, quantity, price, strategy, timestamp, realized_pnl, position_qty, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.FillID, string(rec.Mode), f.Symbol, f.Logical, string(f.Side), f.Quantity, f.Price, f.StrategyID(), ts.UTC(), rec.RealizedPnL, rec.PositionQuantity, rec.AppliedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to log fill: %w", err)
	}
	return nil
}

// GetFills retrieves journaled fills, newest first.
func (s *SQLiteStore) GetFills(ctx context.Context, filter FillFilter) ([]FillRecord, error) {
	query := "SELECT fill_id, mode, symbol, logical, side, quantity, price, strategy, timestamp, realized_pnl, position_qty, applied_at FROM fills WHERE 1=1"
	args := []interface{}{}

	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(filter.Mode))
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, filter.Strategy)
	}
	if !filter.StartDate.IsZero() {
		query += " AND applied_at >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND applied_at <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY applied_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var records []FillRecord
	for rows.Next() {
		var rec FillRecord
		var mode, side string
		var logical, strategy sql.NullString
		if err := rows.Scan(&rec.Fill.FillID, &mode, &rec.Fill.Symbol, &logical, &side, &rec.Fill.Quantity, &rec.Fill.Price, &strategy, &rec.Fill.Timestamp, &rec.RealizedPnL, &rec.PositionQuantity, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		rec.Mode = models.Mode(mode)
		rec.Fill.Side = models.OrderSide(side)
		rec.Fill.Logical = logical.String
		rec.Fill.Strategy = strategy.String
		records = append(records, rec)
	}

	return records, rows.Err()
}
