package amqp

import (
	"encoding/json"
	"time"
)

// RecalcRequestMessage asks the worker to re-derive one project's rollup.
// Carries only the project id; the worker loads children itself, so a stale
// message is harmless.
type RecalcRequestMessage struct {
	ProjectID string    `json:"projectId"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRecalcRequestMessage(projectID, reason string) *RecalcRequestMessage {
	return &RecalcRequestMessage{
		ProjectID: projectID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func (m *RecalcRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RecalcRequestMessageFromJSON(data []byte) (*RecalcRequestMessage, error) {
	var msg RecalcRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ActivityEventMessage announces one written activity record to downstream
// consumers. Identifiers only; the record itself stays in the store.
type ActivityEventMessage struct {
	ActivityID string    `json:"activityId"`
	BatchID    string    `json:"batchId,omitempty"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *ActivityEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ActivityEventMessageFromJSON(data []byte) (*ActivityEventMessage, error) {
	var msg ActivityEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
