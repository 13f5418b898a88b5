package bridge

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dougrathbone/cgateweb-bridge/internal/cgate"
	"github.com/dougrathbone/cgateweb-bridge/internal/config"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

// TestEventConnectSendsEventOnViaCommandConnection verifies the wiring
// required by the command/event handshake: the "EVENT ON" line is sent on
// the command connection once the event connection reaches connected, not
// the other way around.
func TestEventConnectSendsEventOnViaCommandConnection(t *testing.T) {
	cmdLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen cmd: %v", err)
	}
	defer cmdLn.Close()
	evtLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen evt: %v", err)
	}
	defer evtLn.Close()

	var mu sync.Mutex
	var cmdReceived string
	go func() {
		conn, err := cmdLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		mu.Lock()
		cmdReceived = string(buf[:n])
		mu.Unlock()
	}()
	go func() {
		conn, err := evtLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(200 * time.Millisecond)
	}()

	cmdAddr := cmdLn.Addr().(*net.TCPAddr)
	evtAddr := evtLn.Addr().(*net.TCPAddr)

	settings := config.Settings{
		MqttBroker:              "127.0.0.1:1",
		CBusIP:                  "127.0.0.1",
		CBusCommandPort:         cmdAddr.Port,
		CBusEventPort:           evtAddr.Port,
		CBusName:                "HOME",
		MessageIntervalMs:       10,
		ReconnectInitialDelayMs: 10,
		ReconnectMaxDelayMs:     50,
	}

	o := New(settings, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.cmdConn.Start(ctx)
	waitUntil(t, 2*time.Second, func() bool { return o.cmdConn.State() == cgate.StateConnected })
	o.evtConn.Start(ctx)

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cmdReceived != ""
	})

	mu.Lock()
	got := cmdReceived
	mu.Unlock()
	if got != "EVENT ON\n" {
		t.Fatalf("command connection received %q, want %q", got, "EVENT ON\n")
	}
}
