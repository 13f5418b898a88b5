// Package mqttsession implements MqttSession: the bridge's
// single long-lived MQTT client connection over Eclipse Paho, with a fixed
// subscribe set and inbound-message shape.
package mqttsession

import (
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
)

const (
	topicWriteWildcard = "cbus/write/#"
	topicAnnounce      = "cbus/write/bridge/announce"
	topicHello         = "hello/cgateweb"
	helloPayload       = "Online"

	connectTimeout = 15 * time.Second
)

// Message is one inbound MQTT publish delivered to the bridge.
type Message struct {
	Topic   string
	Payload string
}

// Session owns the single MQTT client connection used by the bridge. All
// outbound publishes from the rest of the bridge flow through it; inbound
// messages are delivered via OnMessage.
type Session struct {
	log bridgelog.Logger

	client paho.Client

	// OnMessage is invoked for every message on cbus/write/# and the
	// announce topic. It must not block.
	OnMessage func(Message)

	// OnFatal is invoked once if the broker rejects authentication.
	OnFatal func(err error)
}

// Options configures the underlying Paho client.
type Options struct {
	BrokerURL string // e.g. tcp://localhost:1883
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
}

// New constructs a Session. Call Connect to open the connection.
func New(log bridgelog.Logger) *Session {
	if log == nil {
		log = bridgelog.Nop{}
	}
	return &Session{log: log}
}

// Connect dials the broker, wiring OnConnect to subscribe to the fixed topic
// set and publish the non-retained hello announcement.
// AutoReconnect is left to the underlying client for everything except a
// broker-rejected auth, which is reported once via OnFatal.
func (s *Session) Connect(opts Options) error {
	popts := paho.NewClientOptions()
	popts.AddBroker(opts.BrokerURL)
	popts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		popts.SetUsername(opts.Username)
		popts.SetPassword(opts.Password)
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	popts.SetKeepAlive(keepAlive)
	popts.SetCleanSession(true)
	popts.AutoReconnect = true

	popts.SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
		if s.OnMessage == nil {
			return
		}
		s.OnMessage(Message{Topic: m.Topic(), Payload: string(m.Payload())})
	})

	popts.OnConnect = func(c paho.Client) {
		s.log.Info("mqtt: connected", "broker", opts.BrokerURL)
		s.subscribe(c)
		s.publishHello(c)
	}

	popts.OnConnectionLost = func(_ paho.Client, err error) {
		s.log.Warn("mqtt: connection lost, auto-reconnect in progress", "error", err)
	}

	popts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		s.log.Info("mqtt: reconnecting")
	}

	client := paho.NewClient(popts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqttsession: connect timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		if isAuthFailure(err) {
			if s.OnFatal != nil {
				s.OnFatal(err)
			}
		}
		return fmt.Errorf("mqttsession: connect failed: %w", err)
	}

	s.client = client
	return nil
}

func (s *Session) subscribe(c paho.Client) {
	for _, topic := range []string{topicWriteWildcard, topicAnnounce} {
		token := c.Subscribe(topic, 0, nil)
		if token.Wait() && token.Error() != nil {
			s.log.Error("mqtt: subscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

func (s *Session) publishHello(c paho.Client) {
	token := c.Publish(topicHello, 0, false, helloPayload)
	if token.Wait() && token.Error() != nil {
		s.log.Error("mqtt: hello publish failed", "error", token.Error())
	}
}

// Publish sends a message, optionally retained, at QoS 0.
func (s *Session) Publish(topic, payload string, retained bool) {
	if s.client == nil || !s.client.IsConnectionOpen() {
		s.log.Warn("mqtt: dropped publish, not connected", "topic", topic)
		return
	}
	token := s.client.Publish(topic, 0, retained, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			s.log.Error("mqtt: publish failed", "topic", topic, "error", token.Error())
		}
	}()
}

// Close disconnects the client, waiting up to 250ms for in-flight work to
// drain.
func (s *Session) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

// isAuthFailure reports whether err represents a broker-rejected
// authentication. Paho's packets.ConnErrors[5] reads "connection refused:
// not authorised"; matching on that substring avoids depending on the
// unexported error value itself.
func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not authorised")
}
