// event.go implements EventProcessor: parses event-port
// lines into logical group state changes.
package cgate

import (
	"strings"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
	"github.com/dougrathbone/cgateweb-bridge/internal/cbus"
)

// GroupUpdate is the result of parsing one event-port line.
type GroupUpdate struct {
	Address  cbus.GroupAddress
	Action   cbus.EventAction
	Level    int
	HasLevel bool
}

// EventProcessor parses event-port lines, ignoring comments and dropping
// malformed lines with a warning.
type EventProcessor struct {
	log bridgelog.Logger
}

// NewEventProcessor constructs an EventProcessor.
func NewEventProcessor(log bridgelog.Logger) *EventProcessor {
	if log == nil {
		log = bridgelog.Nop{}
	}
	return &EventProcessor{log: log}
}

// Process parses one event-port line. ok is false for comments (silently
// dropped) and malformed lines (dropped with a logged warning).
func (p *EventProcessor) Process(line string) (GroupUpdate, bool) {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return GroupUpdate{}, false
	}
	ev, ok := cbus.ParseEventLine(line)
	if !ok {
		p.log.Warn("cgate: malformed event-port line, dropped", "line", line)
		return GroupUpdate{}, false
	}
	return GroupUpdate{
		Address:  ev.Address,
		Action:   ev.Action,
		Level:    ev.Level,
		HasLevel: ev.HasLevel,
	}, true
}
