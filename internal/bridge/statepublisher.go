package bridge

import (
	"strconv"
	"sync"
	"time"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
	"github.com/dougrathbone/cgateweb-bridge/internal/cbus"
	"github.com/dougrathbone/cgateweb-bridge/internal/cgate"
)

// StatePublisher implements StatePublisher: it turns parsed
// group changes into retained MQTT state/level/position messages, and keeps
// the last-known raw level per group for the translator's best-effort cover
// STOP and for the INCREASE/DECREASE internal level bus.
type StatePublisher struct {
	log         bridgelog.Logger
	retainReads bool
	coverAppID  string
	bus         *InternalBus

	// EnqueuePublish hands an outbound MQTT publish to the outbound
	// throttled queue.
	EnqueuePublish func(topic, payload string, retain bool)

	mu     sync.Mutex
	states map[cbus.GroupAddress]cbus.GroupState
}

// NewStatePublisher constructs a StatePublisher. coverAppID may be empty if
// no cover entities are configured.
func NewStatePublisher(retainReads bool, coverAppID string, bus *InternalBus, log bridgelog.Logger) *StatePublisher {
	if log == nil {
		log = bridgelog.Nop{}
	}
	return &StatePublisher{
		retainReads: retainReads,
		coverAppID:  coverAppID,
		bus:         bus,
		log:         log,
		states:      make(map[cbus.GroupAddress]cbus.GroupState),
	}
}

// PublishGroupUpdate handles an EventProcessor result. ON/OFF events with no explicit level are treated as raw 255/0.
func (p *StatePublisher) PublishGroupUpdate(gu cgate.GroupUpdate) {
	raw := 0
	switch gu.Action {
	case cbus.ActionOn:
		raw = 255
	case cbus.ActionOff:
		raw = 0
	case cbus.ActionRamp:
		if !gu.HasLevel {
			p.log.Warn("statepublisher: ramp event with no level, dropped", "address", gu.Address.String())
			return
		}
		raw = gu.Level
	default:
		p.log.Warn("statepublisher: unknown action, dropped", "address", gu.Address.String())
		return
	}
	p.publish(gu.Address, raw)
}

// PublishLevelUpdate handles a CommandResponseProcessor status-line result.
func (p *StatePublisher) PublishLevelUpdate(lvl cgate.ParsedLevelUpdate) {
	p.publish(lvl.Address, lvl.Raw)
}

func (p *StatePublisher) publish(addr cbus.GroupAddress, raw int) {
	pct := cbus.RawToPercent(raw)
	state := "OFF"
	if raw > 0 {
		state = "ON"
	}

	base := "cbus/read/" + addr.String()
	p.emit(base+"/state", state)
	p.emit(base+"/level", strconv.Itoa(pct))
	if p.coverAppID != "" && addr.Application == p.coverAppID {
		p.emit(base+"/position", strconv.Itoa(pct))
	}

	p.mu.Lock()
	p.states[addr] = cbus.NewGroupStateFromRaw(raw, time.Now())
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.PublishLevel(LevelEvent{Address: addr, Raw: raw})
	}
}

func (p *StatePublisher) emit(topic, payload string) {
	if p.EnqueuePublish == nil {
		return
	}
	p.EnqueuePublish(topic, payload, p.retainReads)
}

// LastRawLevel reports the most recently published raw level for addr, if
// any has been observed this process lifetime.
func (p *StatePublisher) LastRawLevel(addr cbus.GroupAddress) (raw int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[addr]
	return st.Level, ok
}
