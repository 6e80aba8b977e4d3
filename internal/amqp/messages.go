package amqp

import (
	"encoding/json"
	"time"

	"citasync/internal/core"
)

// SyncTriggerMessage asks the worker to run a sync. Carries only trigger
// metadata; the worker resolves configuration itself.
type SyncTriggerMessage struct {
	Source    string    `json:"source"`
	User      string    `json:"user,omitempty"`
	Label     string    `json:"label,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSyncTriggerMessage(trigger core.SyncTrigger) *SyncTriggerMessage {
	return &SyncTriggerMessage{
		Source:    trigger.Source,
		User:      trigger.User,
		Label:     trigger.Label,
		Timestamp: time.Now(),
	}
}

func (m *SyncTriggerMessage) Trigger() core.SyncTrigger {
	return core.SyncTrigger{Source: m.Source, User: m.User, Label: m.Label}
}

func (m *SyncTriggerMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SyncTriggerMessageFromJSON(data []byte) (*SyncTriggerMessage, error) {
	var msg SyncTriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SyncCompletedMessage announces a finished sync with its counts.
type SyncCompletedMessage struct {
	LogID     int64           `json:"logId"`
	Status    core.SyncStatus `json:"status"`
	Counts    core.SyncCounts `json:"counts"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (m *SyncCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
