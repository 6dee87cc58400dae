package stream

import (
	"time"

	"portfolio-state/internal/models"
)

// Topic names a bus channel.
type Topic string

const (
	TopicFills            Topic = "fills"
	TopicSnapshotUpdated  Topic = "state.snapshot.updated"
	TopicNewSession       Topic = "session.new_day"
	TopicCheckpointFailed Topic = "state.checkpoint.failed"
)

// EventKind tags an event variant.
type EventKind string

const (
	KindFill             EventKind = "fill"
	KindSnapshotUpdated  EventKind = "snapshot_updated"
	KindNewSession       EventKind = "new_session"
	KindCheckpointFailed EventKind = "checkpoint_failed"
)

// Event is implemented by the closed set of payloads carried on the bus.
type Event interface {
	Kind() EventKind
}

// FillEvent carries one executed, risk-approved fill.
type FillEvent struct {
	Fill models.Fill `json:"fill"`
}

// Kind implements Event.
func (FillEvent) Kind() EventKind { return KindFill }

// SnapshotUpdatedEvent is published after every durable checkpoint write.
// It serialises to the checkpoint document itself.
type SnapshotUpdatedEvent struct {
	models.Snapshot
}

// Kind implements Event.
func (SnapshotUpdatedEvent) Kind() EventKind { return KindSnapshotUpdated }

// NewSessionEvent marks the start of a trading day. Strategy statistics and
// day P&L reset only on this signal.
type NewSessionEvent struct {
	TradingDay string    `json:"trading_day"`
	Timestamp  time.Time `json:"timestamp"`
}

// Kind implements Event.
func (NewSessionEvent) Kind() EventKind { return KindNewSession }

// CheckpointFailedEvent is published when checkpoint writes keep failing.
type CheckpointFailedEvent struct {
	Reason              string    `json:"reason"`
	Error               string    `json:"error"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Timestamp           time.Time `json:"timestamp"`
}

// Kind implements Event.
func (CheckpointFailedEvent) Kind() EventKind { return KindCheckpointFailed }
