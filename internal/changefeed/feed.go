// Package changefeed publishes the changes applied to destination layers
// for downstream consumers.
package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

var (
	// ErrFeedClosed is returned when publishing to or reading from a closed feed.
	ErrFeedClosed = errors.New("change feed is closed")

	// ErrFeedFull is returned when a bounded in-memory feed has no room left.
	ErrFeedFull = errors.New("change feed is full")

	// ErrInvalidEvent is returned for events without a layer or change type.
	ErrInvalidEvent = errors.New("invalid change event")
)

const defaultBatchSize = 100

// prepare validates an event and stamps a missing timestamp.
func prepare(event *core.ChangeEvent) error {
	if event == nil {
		return ErrInvalidEvent
	}
	if event.Layer == "" {
		return fmt.Errorf("%w: layer is required", ErrInvalidEvent)
	}
	if event.Change == "" {
		return fmt.Errorf("%w: change type is required", ErrInvalidEvent)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return nil
}

func encode(event *core.ChangeEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*core.ChangeEvent, error) {
	var event core.ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	return &event, nil
}
