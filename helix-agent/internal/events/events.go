// Package events defines the records emitted after a conversation turn is
// committed and the Publisher that ships them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

const (
	// SchemaVersion is bumped on any breaking change to TurnCommitted.
	SchemaVersion = 1

	// TypeTurnCommitted is the Type of every TurnCommitted event.
	TypeTurnCommitted = "helix.turn.committed"
)

// TurnCommitted is published once per committed turn, failed turns included.
type TurnCommitted struct {
	SchemaVersion int         `json:"schema_version"`
	Type          string      `json:"type"`
	EventID       string      `json:"event_id"`
	SessionID     string      `json:"session_id"`
	OccurredAt    time.Time   `json:"occurred_at"`
	Turn          memory.Turn `json:"turn"`
}

// NewTurnCommitted builds the event for turn in session sessionID.
func NewTurnCommitted(sessionID string, turn memory.Turn) *TurnCommitted {
	occurred := turn.CommittedAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return &TurnCommitted{
		SchemaVersion: SchemaVersion,
		Type:          TypeTurnCommitted,
		EventID:       ulid.Make().String(),
		SessionID:     sessionID,
		OccurredAt:    occurred.UTC(),
		Turn:          turn,
	}
}

// Encode marshals the event and checks it against the published schema.
func Encode(ev *TurnCommitted) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	if err := Validate(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Publisher delivers TurnCommitted events to a stream.
type Publisher interface {
	Publish(ctx context.Context, ev *TurnCommitted) error
	Close() error
}
