package domain

import "time"

// Event is one structured observability entry shipped through the async
// log queue. Delivery is best-effort.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	SourceID  string         `json:"source_id"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}
