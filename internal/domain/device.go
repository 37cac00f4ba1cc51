package domain

import (
	"fmt"
	"strings"
	"time"
)

// Device is one controllable appliance as reported by the appliance API.
// Identity is (Type, ID); Name and Room are display strings.
type Device struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Room   string `json:"room"`
	Status bool   `json:"status"`
}

// Describe renders the short human-readable form used in tool results,
// e.g. "Bedroom - Bulb (bulb b2)".
func (d Device) Describe() string {
	return fmt.Sprintf("%s - %s (%s %s)", d.Room, d.Name, d.Type, d.ID)
}

// Snapshot is an immutable point-in-time read of the device catalog.
// It is used for a single resolution attempt and never cached.
type Snapshot struct {
	FetchedAt time.Time
	Devices   []Device
}

// Action is a control intent applied to a resolved device.
type Action string

const (
	ActionOn     Action = "on"
	ActionOff    Action = "off"
	ActionToggle Action = "toggle"
)

// ParseAction clamps free-form input to a known action, defaulting to toggle.
func ParseAction(s string) Action {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionOn:
		return ActionOn
	case ActionOff:
		return ActionOff
	default:
		return ActionToggle
	}
}

// Apply computes the desired on/off status given the current one.
func (a Action) Apply(current bool) bool {
	switch a {
	case ActionOn:
		return true
	case ActionOff:
		return false
	default:
		return !current
	}
}
