package bridge

import (
	"testing"

	"github.com/dougrathbone/cgateweb-bridge/internal/cbus"
	"github.com/dougrathbone/cgateweb-bridge/internal/cgate"
)

type publish struct {
	topic, payload string
	retain         bool
}

func TestStatePublisherEventRampTo128(t *testing.T) {
	var got []publish
	p := NewStatePublisher(true, "", NewInternalBus(), nil)
	p.EnqueuePublish = func(topic, payload string, retain bool) {
		got = append(got, publish{topic, payload, retain})
	}

	p.PublishGroupUpdate(cgate.GroupUpdate{
		Address:  cbus.GroupAddress{Network: "254", Application: "56", Group: "7"},
		Action:   cbus.ActionRamp,
		Level:    128,
		HasLevel: true,
	})

	if len(got) != 2 {
		t.Fatalf("got %d publishes, want 2: %+v", len(got), got)
	}
	if got[0].topic != "cbus/read/254/56/7/state" || got[0].payload != "ON" {
		t.Fatalf("state publish = %+v", got[0])
	}
	if got[1].topic != "cbus/read/254/56/7/level" || got[1].payload != "50" {
		t.Fatalf("level publish = %+v", got[1])
	}
}

func TestStatePublisherCoverAlsoPublishesPosition(t *testing.T) {
	var got []publish
	p := NewStatePublisher(true, "203", NewInternalBus(), nil)
	p.EnqueuePublish = func(topic, payload string, retain bool) {
		got = append(got, publish{topic, payload, retain})
	}

	p.PublishLevelUpdate(cgate.ParsedLevelUpdate{
		Address: cbus.GroupAddress{Network: "254", Application: "203", Group: "15"},
		Raw:     255,
	})

	if len(got) != 3 {
		t.Fatalf("got %d publishes, want 3: %+v", len(got), got)
	}
	if got[2].topic != "cbus/read/254/203/15/position" || got[2].payload != "100" {
		t.Fatalf("position publish = %+v", got[2])
	}
}

func TestStatePublisherOffIsZeroLevel(t *testing.T) {
	var got []publish
	p := NewStatePublisher(true, "", NewInternalBus(), nil)
	p.EnqueuePublish = func(topic, payload string, retain bool) {
		got = append(got, publish{topic, payload, retain})
	}

	p.PublishGroupUpdate(cgate.GroupUpdate{
		Address: cbus.GroupAddress{Network: "254", Application: "56", Group: "10"},
		Action:  cbus.ActionOff,
	})

	if got[0].payload != "OFF" || got[1].payload != "0" {
		t.Fatalf("got = %+v", got)
	}
}

func TestStatePublisherTracksLastRawLevel(t *testing.T) {
	p := NewStatePublisher(true, "", NewInternalBus(), nil)
	p.EnqueuePublish = func(string, string, bool) {}
	addr := cbus.GroupAddress{Network: "254", Application: "203", Group: "15"}

	if _, ok := p.LastRawLevel(addr); ok {
		t.Fatal("expected no level known yet")
	}

	p.PublishLevelUpdate(cgate.ParsedLevelUpdate{Address: addr, Raw: 180})

	raw, ok := p.LastRawLevel(addr)
	if !ok || raw != 180 {
		t.Fatalf("raw = %d, ok = %v", raw, ok)
	}
}

func TestStatePublisherFeedsInternalBus(t *testing.T) {
	bus := NewInternalBus()
	p := NewStatePublisher(true, "", bus, nil)
	p.EnqueuePublish = func(string, string, bool) {}

	addr := cbus.GroupAddress{Network: "254", Application: "56", Group: "14"}
	var got LevelEvent
	bus.OnceLevel(addr, func(ev LevelEvent) { got = ev })

	p.PublishLevelUpdate(cgate.ParsedLevelUpdate{Address: addr, Raw: 100})

	if got.Raw != 100 {
		t.Fatalf("got = %+v", got)
	}
}
