// Package events is the in-process publish/subscribe bus that carries rule
// update requests and rule change notifications between components.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// RulesUpdate asks the manager to reload the rule set.
	RulesUpdate EventType = "rules.update"

	// RulesChanged announces that the effective rules or the global
	// enabled state changed.
	RulesChanged EventType = "rules.changed"
)

// Event is the message passed through the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`         // component that emitted: "toggle", "manager", "api"
	Data      any       `json:"data,omitempty"` // type-specific payload
}

// ToggleData is the payload of a RulesChanged event emitted by the toggle
// scheduler.
type ToggleData struct {
	Enabled    bool      `json:"enabled"`
	NextToggle time.Time `json:"next_toggle"`
}

// ReloadData is the payload of a RulesChanged event emitted after a reload.
type ReloadData struct {
	Generation string `json:"generation"`
	Global     int    `json:"global"`
	App        int    `json:"app"`
	Apps       int    `json:"apps"`
}
