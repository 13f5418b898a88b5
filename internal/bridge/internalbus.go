// Package bridge wires the cbus/cgate/mqttsession/hadiscovery packages into
// the running bridge: command translation, state publication, the internal
// level bus used by INCREASE/DECREASE, and the orchestrator that owns
// readiness and shutdown.
package bridge

import (
	"sync"

	"github.com/dougrathbone/cgateweb-bridge/internal/cbus"
)

// LevelEvent is a single delivery on the internal level channel: an observed
// raw level for a group address.
type LevelEvent struct {
	Address cbus.GroupAddress
	Raw     int
}

// InternalBus is a single-process publish/subscribe bus for the internal
// "level" channel, used only to let the ramp translator's INCREASE/DECREASE
// handling wait for the GET response it triggered. Subscriptions are
// one-shot: delivered at most once, then automatically removed. A
// subscription that never sees a matching level is orphaned harmlessly.
type InternalBus struct {
	mu   sync.Mutex
	subs map[cbus.GroupAddress][]func(LevelEvent)
}

// NewInternalBus constructs an empty bus.
func NewInternalBus() *InternalBus {
	return &InternalBus{subs: make(map[cbus.GroupAddress][]func(LevelEvent))}
}

// OnceLevel registers fn to be called exactly once, the next time PublishLevel
// is called for addr. If no level is ever published for addr, fn is simply
// never called.
func (b *InternalBus) OnceLevel(addr cbus.GroupAddress, fn func(LevelEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[addr] = append(b.subs[addr], fn)
}

// PublishLevel delivers ev to every one-shot subscriber registered for its
// address, then removes them. Safe to call with no subscribers present.
func (b *InternalBus) PublishLevel(ev LevelEvent) {
	b.mu.Lock()
	fns := b.subs[ev.Address]
	delete(b.subs, ev.Address)
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// PendingCount reports the number of still-waiting one-shot subscriptions,
// for diagnostics and tests.
func (b *InternalBus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, fns := range b.subs {
		n += len(fns)
	}
	return n
}
