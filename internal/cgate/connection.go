// Package cgate implements the CGateConnection, the
// CommandResponseProcessor and the EventProcessor: the two
// long-lived line-protocol TCP connections to C-Gate and the parsers that
// classify what comes back over them.
//
// The reconnect/status-tracking shape uses a named state string,
// Logger.Info/Warn calls tagged with an "action" field, and backoff
// recomputed from an attempt counter that resets on a clean connect.
package cgate

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
	"github.com/dougrathbone/cgateweb-bridge/internal/lineproto"
)

// Tag identifies which C-Gate port a Connection speaks to.
type Tag string

const (
	TagCommand Tag = "command"
	TagEvent   Tag = "event"
)

// State is one of the CGateConnection lifecycle states.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
	StateErrored      State = "errored"
)

// Connection is a single TCP line-protocol connection to C-Gate, with
// exponential-backoff reconnect.
type Connection struct {
	tag  Tag
	addr string
	log  bridgelog.Logger

	initialDelay time.Duration
	maxDelay     time.Duration

	OnConnect func()
	OnClose   func(hadError bool)
	OnError   func(err error)
	OnData    func(line string)

	mu      sync.Mutex
	state   State
	conn    net.Conn
	attempt int

	cancel context.CancelFunc
}

// New constructs a Connection. Callers wire OnConnect/OnClose/OnError/OnData
// before calling Start.
func New(tag Tag, addr string, initialDelay, maxDelay time.Duration, log bridgelog.Logger) *Connection {
	if log == nil {
		log = bridgelog.Nop{}
	}
	return &Connection{
		tag:          tag,
		addr:         addr,
		log:          log,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		state:        StateDisconnected,
	}
}

// Start begins the connect-and-reconnect loop in the background. It returns
// immediately; connection events arrive via the On* callbacks.
func (c *Connection) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.loop(runCtx)
}

// Stop closes the connection and halts reconnect attempts.
func (c *Connection) Stop() {
	c.mu.Lock()
	c.setState(StateClosing)
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.state = s
}

// Send writes data to the socket. If not connected, the data is dropped and
// a warning is logged.
func (c *Connection) Send(data string) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.log.Warn("cgate: dropped outbound data, not connected", "tag", c.tag, "addr", c.addr)
		return
	}
	if _, err := conn.Write([]byte(data)); err != nil {
		c.log.Error("cgate: write failed, closing socket", "tag", c.tag, "error", err)
		c.closeSocket(true)
	}
}

func (c *Connection) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		c.setState(StateConnecting)
		c.mu.Unlock()

		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", c.addr)
		if err != nil {
			c.mu.Lock()
			c.setState(StateErrored)
			c.mu.Unlock()
			if c.OnError != nil {
				c.OnError(err)
			}
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.setState(StateConnected)
		c.attempt = 0
		c.mu.Unlock()

		c.log.Info("cgate: connected", "tag", c.tag, "addr", c.addr)
		if c.OnConnect != nil {
			c.OnConnect()
		}

		hadError := c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		if c.state != StateClosing {
			c.setState(StateDisconnected)
		}
		closing := c.state == StateClosing
		c.mu.Unlock()

		if c.OnClose != nil {
			c.OnClose(hadError)
		}
		if closing {
			return
		}
		if !c.sleepBackoff(ctx) {
			return
		}
	}
}

func (c *Connection) readLoop(ctx context.Context, conn net.Conn) (hadError bool) {
	lb := lineproto.New(lineproto.Options{}, func(line string) error {
		if c.OnData != nil {
			c.OnData(line)
		}
		return nil
	})
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			lb.Append(buf[:n])
			if derr := lb.DrainLines(); derr != nil {
				c.log.Error("cgate: line handler error", "tag", c.tag, "error", derr)
			}
		}
		if err != nil {
			_ = lb.FlushFinal()
			_ = conn.Close()
			select {
			case <-ctx.Done():
				return false
			default:
			}
			hadError = true
			if c.OnError != nil {
				c.OnError(err)
			}
			return hadError
		}
	}
}

func (c *Connection) closeSocket(hadError bool) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	_ = hadError
}

// sleepBackoff waits delay = min(maxDelay, initial * 2^(attempt)) before the
// next reconnect attempt, incrementing the attempt counter. Returns false if
// ctx was cancelled during the wait.
func (c *Connection) sleepBackoff(ctx context.Context) bool {
	c.mu.Lock()
	attempt := c.attempt
	c.attempt++
	c.mu.Unlock()

	delay := c.initialDelay * time.Duration(pow2(attempt))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	c.log.Warn("cgate: reconnecting", "tag", c.tag, "addr", c.addr, "delay", delay.String(), "attempt", attempt+1)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func pow2(n int) int64 {
	if n <= 0 {
		return 1
	}
	var v int64 = 1
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}

// Addr returns the dial address, for logging/diagnostics.
func (c *Connection) Addr() string { return c.addr }

// Tag returns which C-Gate port this connection speaks to.
func (c *Connection) Tag() Tag { return c.tag }
