package cbus

import "time"

// LogicalState is the derived ON/OFF/UNKNOWN state of a group.
type LogicalState string

const (
	StateOn      LogicalState = "ON"
	StateOff     LogicalState = "OFF"
	StateUnknown LogicalState = "UNKNOWN"
)

// GroupState is the per-group latest known level, derived from incoming
// events/responses. Not persisted beyond process memory; MQTT
// retention is the durable copy.
type GroupState struct {
	Level        int // 0..255; -1 means "unknown"
	LogicalState LogicalState
	LastSeenAt   time.Time
}

// NewGroupStateFromRaw derives a GroupState from an observed raw level.
func NewGroupStateFromRaw(raw int, now time.Time) GroupState {
	state := StateOff
	if raw > 0 {
		state = StateOn
	}
	return GroupState{Level: raw, LogicalState: state, LastSeenAt: now}
}
