package models

import (
	"time"

	"github.com/benmeehan/iot-provisioner/internal/constants"
)

// Event is one entry of the orchestration event stream. Reporters turn
// events into console output, MQTT messages, and so on.
type Event struct {
	Type    constants.EventType `json:"type"`
	RunID   string              `json:"run_id,omitempty"`
	Address string              `json:"address,omitempty"`
	Phase   constants.Phase     `json:"phase,omitempty"`
	Message string              `json:"message,omitempty"`
	Fields  map[string]string   `json:"fields,omitempty"`
	Time    time.Time           `json:"time"`
}
