package event

import (
	"encoding/json"
	"time"
)

// TimeLayout is the collector's timestamp format: ISO-8601 with
// fractional seconds, always emitted even when zero.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelMessages Level = "messages"
)

type Event struct {
	Content   string
	Level     Level
	UserID    string
	Metadata  map[string]any
	CreatedAt time.Time
}

type wireEvent struct {
	Content   string         `json:"content"`
	Level     string         `json:"level"`
	UserID    string         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// MarshalWire encodes the event as the collector's request body.
// Internal bookkeeping such as retry counts never appears here.
func (e Event) MarshalWire() ([]byte, error) {
	return json.Marshal(wireEvent{
		Content:   e.Content,
		Level:     string(e.Level),
		UserID:    e.UserID,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt.Format(TimeLayout),
	})
}
