// Package store provides the SQLite checkpoint archive and fill journal.
package store

import (
	"context"
	"time"

	"portfolio-state/internal/models"
)

// DataStore defines the interface for durable history.
type DataStore interface {
	// Checkpoints
	SaveCheckpoint(ctx context.Context, rec *CheckpointRecord) error
	LatestCheckpoint(ctx context.Context, mode models.Mode) (*CheckpointRecord, error)
	ListCheckpoints(ctx context.Context, filter CheckpointFilter) ([]CheckpointRecord, error)

	// Fill journal
	LogFill(ctx context.Context, rec *FillRecord) error
	GetFills(ctx context.Context, filter FillFilter) ([]FillRecord, error)

	// Lifecycle
	Close() error
}

// CheckpointRecord is one archived checkpoint document.
type CheckpointRecord struct {
	ID           string
	Mode         models.Mode
	CreatedAt    time.Time
	Equity       float64
	FillsApplied int64
	Payload      []byte
}

// FillRecord is one journaled fill with the ledger's verdict on it.
type FillRecord struct {
	Fill             models.Fill
	Mode             models.Mode
	RealizedPnL      float64
	PositionQuantity int
	AppliedAt        time.Time
}

// CheckpointFilter represents filters for listing checkpoints.
type CheckpointFilter struct {
	Mode  models.Mode
	Since time.Time
	Limit int

	// WithPayload includes the serialized document in the results.
	WithPayload bool
}

// FillFilter represents filters for querying the fill journal.
type FillFilter struct {
	Mode      models.Mode
	Symbol    string
	Strategy  string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
