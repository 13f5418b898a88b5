package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
	"github.com/dougrathbone/cgateweb-bridge/internal/cbus"
)

// rampClampDelta is the INCREASE/DECREASE step applied to the current raw
// level.
const rampClampDelta = 26

// Translator implements MqttCommandTranslator: it converts an
// inbound MQTT write topic/payload pair into zero or more outbound C-Gate
// command lines, or schedules a one-shot follow-up via the internal level
// bus for INCREASE/DECREASE.
type Translator struct {
	log     bridgelog.Logger
	project string
	bus     *InternalBus

	// EnqueueCGate hands a C-Gate command line to the outbound throttled
	// queue; the translator has already appended the trailing "\n".
	EnqueueCGate func(line string)

	// LastRawLevel returns the most recently observed raw level for addr,
	// used for best-effort cover STOP.
	LastRawLevel func(addr cbus.GroupAddress) (raw int, ok bool)

	// OnAnnounce is invoked for the special cbus/write/bridge/announce
	// topic to (re)trigger HA discovery.
	OnAnnounce func()
}

// NewTranslator constructs a Translator for the given C-Gate project name.
func NewTranslator(project string, bus *InternalBus, log bridgelog.Logger) *Translator {
	if log == nil {
		log = bridgelog.Nop{}
	}
	return &Translator{project: project, bus: bus, log: log}
}

const announceTopic = "cbus/write/bridge/announce"

// Handle processes one inbound MQTT message.
func (t *Translator) Handle(topic, payload string) {
	if topic == announceTopic {
		if t.OnAnnounce != nil {
			t.OnAnnounce()
		}
		return
	}

	parsed, ok := cbus.ParseWriteTopic(topic)
	if !ok {
		t.log.Warn("translator: unrecognized write topic, dropped", "topic", topic)
		return
	}

	switch parsed.Command {
	case cbus.CmdSwitch:
		t.handleSwitch(parsed.Address, payload)
	case cbus.CmdRamp:
		t.handleRamp(parsed.Address, payload)
	case cbus.CmdGetAll:
		t.handleGetAll(parsed.Address)
	case cbus.CmdGetTree:
		t.handleGetTree(parsed.Address)
	case cbus.CmdPosition:
		t.handlePosition(parsed.Address, payload)
	case cbus.CmdStop:
		t.handleStop(parsed.Address, payload)
	default:
		t.log.Warn("translator: unknown command, dropped", "topic", topic)
	}
}

func (t *Translator) send(line string) {
	if t.EnqueueCGate == nil {
		return
	}
	t.EnqueueCGate(line + "\n")
}

func (t *Translator) addr(a cbus.GroupAddress) string {
	return cbus.FormatAddress(t.project, a)
}

func (t *Translator) handleSwitch(a cbus.GroupAddress, payload string) {
	switch strings.ToUpper(strings.TrimSpace(payload)) {
	case "ON":
		t.send("ON " + t.addr(a))
	case "OFF":
		t.send("OFF " + t.addr(a))
	default:
		t.log.Warn("translator: invalid switch payload, dropped", "payload", payload)
	}
}

func (t *Translator) handleRamp(a cbus.GroupAddress, payload string) {
	trimmed := strings.TrimSpace(payload)
	upper := strings.ToUpper(trimmed)

	switch upper {
	case "ON":
		t.send("ON " + t.addr(a))
		return
	case "OFF":
		t.send("OFF " + t.addr(a))
		return
	case "INCREASE", "DECREASE":
		t.handleRampRelative(a, upper)
		return
	}

	if pctStr, rampTime, hasTime := strings.Cut(trimmed, ","); hasTime {
		pct, err := strconv.Atoi(strings.TrimSpace(pctStr))
		if err != nil {
			t.log.Warn("translator: invalid ramp payload, dropped", "payload", payload)
			return
		}
		raw := cbus.PercentToRaw(pct)
		t.send(fmt.Sprintf("RAMP %s %d %s", t.addr(a), raw, strings.TrimSpace(rampTime)))
		return
	}

	pct, err := strconv.Atoi(trimmed)
	if err != nil {
		t.log.Warn("translator: invalid ramp payload, dropped", "payload", payload)
		return
	}
	raw := cbus.PercentToRaw(pct)
	t.send(fmt.Sprintf("RAMP %s %d", t.addr(a), raw))
}

func (t *Translator) handleRampRelative(a cbus.GroupAddress, direction string) {
	t.send("GET " + t.addr(a) + " level")
	if t.bus == nil {
		return
	}
	t.bus.OnceLevel(a, func(ev LevelEvent) {
		delta := rampClampDelta
		if direction == "DECREASE" {
			delta = -delta
		}
		target := clampRaw(ev.Raw + delta)
		t.send(fmt.Sprintf("RAMP %s %d", t.addr(a), target))
	})
}

func (t *Translator) handleGetAll(a cbus.GroupAddress) {
	t.send(fmt.Sprintf("GET %s level", cbus.FormatNetAppWildcard(t.project, a.Network, a.Application)))
}

func (t *Translator) handleGetTree(a cbus.GroupAddress) {
	t.send("TREEXML " + a.Network)
}

func (t *Translator) handlePosition(a cbus.GroupAddress, payload string) {
	pct, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		t.log.Warn("translator: invalid position payload, dropped", "payload", payload)
		return
	}
	raw := cbus.PercentToRaw(pct)
	t.send(fmt.Sprintf("RAMP %s %d", t.addr(a), raw))
}

func (t *Translator) handleStop(a cbus.GroupAddress, payload string) {
	if strings.ToUpper(strings.TrimSpace(payload)) != "STOP" {
		t.log.Warn("translator: invalid stop payload, dropped", "payload", payload)
		return
	}
	if t.LastRawLevel == nil {
		t.log.Warn("translator: stop has no level source configured, dropped", "address", a.String())
		return
	}
	raw, ok := t.LastRawLevel(a)
	if !ok {
		t.log.Warn("translator: stop has no known level yet, dropped", "address", a.String())
		return
	}
	t.send(fmt.Sprintf("RAMP %s %d", t.addr(a), raw))
}

func clampRaw(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
