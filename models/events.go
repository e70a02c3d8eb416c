package models

import "time"

// TickEvent is emitted once per tracker per tick and fanned out to live
// subscribers (websocket clients, Kafka).
type TickEvent struct {
	SessionID string      `json:"session_id"`
	Tracker   string      `json:"tracker"`
	Variant   Variant     `json:"variant"`
	Source    string      `json:"source,omitempty"`
	Appended  bool        `json:"appended"`
	Captured  bool        `json:"captured"`
	Record    interface{} `json:"record,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
