package bridge

import (
	"testing"

	"github.com/dougrathbone/cgateweb-bridge/internal/cbus"
)

func TestTranslatorSwitchOn(t *testing.T) {
	var sent []string
	tr := NewTranslator("HOME", NewInternalBus(), nil)
	tr.EnqueueCGate = func(line string) { sent = append(sent, line) }

	tr.Handle("cbus/write/254/56/10/switch", "ON")

	if len(sent) != 1 || sent[0] != "ON //HOME/254/56/10\n" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestTranslatorRampWithTime(t *testing.T) {
	var sent []string
	tr := NewTranslator("HOME", NewInternalBus(), nil)
	tr.EnqueueCGate = func(line string) { sent = append(sent, line) }

	tr.Handle("cbus/write/254/56/11/ramp", "75,4s")

	if len(sent) != 1 || sent[0] != "RAMP //HOME/254/56/11 191 4s\n" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestTranslatorIncreaseThenLevelResponse(t *testing.T) {
	var sent []string
	bus := NewInternalBus()
	tr := NewTranslator("HOME", bus, nil)
	tr.EnqueueCGate = func(line string) { sent = append(sent, line) }

	tr.Handle("cbus/write/254/56/14/ramp", "INCREASE")
	if len(sent) != 1 || sent[0] != "GET //HOME/254/56/14 level\n" {
		t.Fatalf("sent after INCREASE = %v", sent)
	}

	addr := cbus.GroupAddress{Network: "254", Application: "56", Group: "14"}
	bus.PublishLevel(LevelEvent{Address: addr, Raw: 100})

	if len(sent) != 2 || sent[1] != "RAMP //HOME/254/56/14 126\n" {
		t.Fatalf("sent after level response = %v", sent)
	}
}

func TestTranslatorDecreaseClampsAtZero(t *testing.T) {
	var sent []string
	bus := NewInternalBus()
	tr := NewTranslator("HOME", bus, nil)
	tr.EnqueueCGate = func(line string) { sent = append(sent, line) }

	tr.Handle("cbus/write/254/56/14/ramp", "DECREASE")
	addr := cbus.GroupAddress{Network: "254", Application: "56", Group: "14"}
	bus.PublishLevel(LevelEvent{Address: addr, Raw: 10})

	if sent[1] != "RAMP //HOME/254/56/14 0\n" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestTranslatorGetAll(t *testing.T) {
	var sent []string
	tr := NewTranslator("HOME", NewInternalBus(), nil)
	tr.EnqueueCGate = func(line string) { sent = append(sent, line) }

	tr.Handle("cbus/write/254/56//getall", "")

	if len(sent) != 1 || sent[0] != "GET //HOME/254/56/* level\n" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestTranslatorGetTree(t *testing.T) {
	var sent []string
	tr := NewTranslator("HOME", NewInternalBus(), nil)
	tr.EnqueueCGate = func(line string) { sent = append(sent, line) }

	tr.Handle("cbus/write/254///gettree", "")

	if len(sent) != 1 || sent[0] != "TREEXML 254\n" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestTranslatorStopUsesLastKnownLevel(t *testing.T) {
	var sent []string
	tr := NewTranslator("HOME", NewInternalBus(), nil)
	tr.EnqueueCGate = func(line string) { sent = append(sent, line) }
	tr.LastRawLevel = func(a cbus.GroupAddress) (int, bool) { return 180, true }

	tr.Handle("cbus/write/254/203/15/stop", "STOP")

	if len(sent) != 1 || sent[0] != "RAMP //HOME/254/203/15 180\n" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestTranslatorStopDropsWhenNoLevelKnown(t *testing.T) {
	var sent []string
	tr := NewTranslator("HOME", NewInternalBus(), nil)
	tr.EnqueueCGate = func(line string) { sent = append(sent, line) }
	tr.LastRawLevel = func(a cbus.GroupAddress) (int, bool) { return 0, false }

	tr.Handle("cbus/write/254/203/15/stop", "STOP")

	if len(sent) != 0 {
		t.Fatalf("sent = %v, want none", sent)
	}
}

func TestTranslatorAnnounceTriggersCallback(t *testing.T) {
	tr := NewTranslator("HOME", NewInternalBus(), nil)
	called := false
	tr.OnAnnounce = func() { called = true }

	tr.Handle("cbus/write/bridge/announce", "")

	if !called {
		t.Fatal("expected OnAnnounce to be called")
	}
}

func TestTranslatorUnknownCommandDropped(t *testing.T) {
	var sent []string
	tr := NewTranslator("HOME", NewInternalBus(), nil)
	tr.EnqueueCGate = func(line string) { sent = append(sent, line) }

	tr.Handle("cbus/write/254/56/10/frobnicate", "ON")

	if len(sent) != 0 {
		t.Fatalf("sent = %v, want none", sent)
	}
}
