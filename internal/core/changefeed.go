package core

import (
	"context"
	"strings"
	"time"
)

// ChangeType is the declared change of an incremental record.
type ChangeType string

const (
	// ChangeInsert adds a new feature.
	ChangeInsert ChangeType = "insert"

	// ChangeUpdate overwrites an existing feature.
	ChangeUpdate ChangeType = "update"

	// ChangeDelete removes an existing feature.
	ChangeDelete ChangeType = "delete"

	// ChangeUnknown is any other value of the change column.
	ChangeUnknown ChangeType = "unknown"
)

// ParseChangeType classifies a change column value case-insensitively.
func ParseChangeType(v string) ChangeType {
	switch ChangeType(strings.ToLower(strings.TrimSpace(v))) {
	case ChangeInsert:
		return ChangeInsert
	case ChangeUpdate:
		return ChangeUpdate
	case ChangeDelete:
		return ChangeDelete
	default:
		return ChangeUnknown
	}
}

// ChangeEvent records one change applied to a destination layer.
type ChangeEvent struct {
	// RunID identifies the synchronization run that applied the change.
	RunID string `json:"run_id,omitempty"`

	// Layer is the destination layer name.
	Layer string `json:"layer"`

	// Change is the applied change type.
	Change ChangeType `json:"change"`

	// Key is the primary key value or lookup description of the feature.
	Key string `json:"key,omitempty"`

	// FID is the destination feature id after the change.
	FID int64 `json:"fid,omitempty"`

	// Data carries the transcoded attribute values for inserts and updates.
	Data map[string]any `json:"data,omitempty"`

	// Timestamp is when the change was applied.
	Timestamp time.Time `json:"timestamp"`
}

// ChangeFeed is a queue of applied changes for downstream consumers.
type ChangeFeed interface {
	// Enqueue publishes a change event.
	Enqueue(ctx context.Context, event *ChangeEvent) error

	// Dequeue retrieves up to batchSize events in publication order.
	// Returns an empty slice if none are available.
	Dequeue(ctx context.Context, batchSize int) ([]*ChangeEvent, error)

	// Size returns the (approximate) number of queued events.
	Size() int

	// Close releases the feed's resources.
	Close() error
}
