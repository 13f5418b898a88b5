package cgate

import "testing"

func TestProcessDiscarded200(t *testing.T) {
	p := NewCommandResponseProcessor(nil)
	got := p.Process("200 OK")
	if got.Kind != KindDiscarded {
		t.Fatalf("kind = %v, want KindDiscarded", got.Kind)
	}
}

func TestProcessLevelUpdate(t *testing.T) {
	p := NewCommandResponseProcessor(nil)
	got := p.Process("300 //HOME/254/56/4 level=255")
	if got.Kind != KindLevel {
		t.Fatalf("kind = %v, want KindLevel", got.Kind)
	}
	if got.Level.Raw != 255 || got.Level.Address.String() != "254/56/4" {
		t.Fatalf("got %+v", got.Level)
	}
}

func TestProcessEventLine(t *testing.T) {
	p := NewCommandResponseProcessor(nil)
	got := p.Process("300-lighting on 254/56/4")
	if got.Kind != KindEvent {
		t.Fatalf("kind = %v, want KindEvent", got.Kind)
	}
	if got.Event.Address.String() != "254/56/4" {
		t.Fatalf("got %+v", got.Event)
	}
}

func TestProcessTreeXmlAccumulation(t *testing.T) {
	p := NewCommandResponseProcessor(nil)

	if got := p.Process("343-254"); got.Kind != KindIgnored {
		t.Fatalf("343 kind = %v, want KindIgnored", got.Kind)
	}
	if !p.acc.Collecting() {
		t.Fatal("expected accumulator to be collecting after 343")
	}

	if got := p.Process("347-<Network>"); got.Kind != KindIgnored {
		t.Fatalf("347 kind = %v", got.Kind)
	}
	if got := p.Process("347-</Network>"); got.Kind != KindIgnored {
		t.Fatalf("347 kind = %v", got.Kind)
	}

	got := p.Process("344-254")
	if got.Kind != KindTreeReady {
		t.Fatalf("344 kind = %v, want KindTreeReady", got.Kind)
	}
	if got.TreeNetwork != "254" {
		t.Fatalf("network = %q", got.TreeNetwork)
	}
	if got.TreeXML != "<Network></Network>" {
		t.Fatalf("xml = %q", got.TreeXML)
	}
	if p.acc.Collecting() {
		t.Fatal("expected accumulator reset after 344")
	}
}

func TestProcess344MismatchIsIgnored(t *testing.T) {
	p := NewCommandResponseProcessor(nil)
	p.Process("343-254")
	p.Process("347-<x/>")

	got := p.Process("344-100")
	if got.Kind != KindIgnored {
		t.Fatalf("kind = %v, want KindIgnored on network mismatch", got.Kind)
	}
}

func TestProcessErrorCodes(t *testing.T) {
	p := NewCommandResponseProcessor(nil)
	got := p.Process("404 object not found")
	if got.Kind != KindError || got.ErrorCode != 404 {
		t.Fatalf("got %+v", got)
	}
	if ErrorHint(404) == "" {
		t.Fatal("expected a hint for 404")
	}
}

func TestProcessUnrecognizedLine(t *testing.T) {
	p := NewCommandResponseProcessor(nil)
	got := p.Process("garbage")
	if got.Kind != KindIgnored {
		t.Fatalf("kind = %v, want KindIgnored", got.Kind)
	}
}
