package bridge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
	"github.com/dougrathbone/cgateweb-bridge/internal/cbus"
	"github.com/dougrathbone/cgateweb-bridge/internal/cgate"
	"github.com/dougrathbone/cgateweb-bridge/internal/config"
	"github.com/dougrathbone/cgateweb-bridge/internal/hadiscovery"
	"github.com/dougrathbone/cgateweb-bridge/internal/mqttsession"
	"github.com/dougrathbone/cgateweb-bridge/internal/queue"
)

// allConnectedDebounce is an unconfigurable constant.
const allConnectedDebounce = 10 * time.Second

// Status is the orchestrator's internal readiness snapshot. There is no HTTP
// surface.
type Status struct {
	MqttConnected bool
	CmdConnected  bool
	EvtConnected  bool
	AllConnected  bool
}

// Orchestrator implements BridgeOrchestrator: it wires every
// other component together, owns readiness, periodic getall, and shutdown.
type Orchestrator struct {
	log      bridgelog.Logger
	settings config.Settings

	mqtt     *mqttsession.Session
	cmdConn  *cgate.Connection
	evtConn  *cgate.Connection
	toCGate  *queue.ThrottledQueue
	toMqtt   *queue.ThrottledQueue
	bus      *InternalBus
	tr       *Translator
	sp       *StatePublisher
	cmdProc  *cgate.CommandResponseProcessor
	evtProc  *cgate.EventProcessor
	discover *hadiscovery.Generator
	sched    *Scheduler

	mu                sync.Mutex
	mqttConnected     bool
	cmdConnected      bool
	evtConnected      bool
	allConnected      bool
	lastInitAt        time.Time
	discoveryNetworks []string
}

// New wires every component together but does not yet connect
// anything; call Run to start.
func New(settings config.Settings, log bridgelog.Logger) *Orchestrator {
	if log == nil {
		log = bridgelog.Nop{}
	}
	o := &Orchestrator{
		log:      log,
		settings: settings,
		bus:      NewInternalBus(),
		sched:    NewScheduler(log),
	}

	o.sp = NewStatePublisher(settings.RetainReads, settings.HaDiscoveryCoverAppID, o.bus, log)
	o.tr = NewTranslator(settings.CBusName, o.bus, log)
	o.tr.LastRawLevel = o.sp.LastRawLevel
	o.cmdProc = cgate.NewCommandResponseProcessor(log)
	o.evtProc = cgate.NewEventProcessor(log)

	o.discover = hadiscovery.NewGenerator(hadiscovery.Config{
		Project:       settings.CBusName,
		Prefix:        settings.HaDiscoveryPrefix,
		LightingAppID: config.LightingAppID,
		CoverAppID:    settings.HaDiscoveryCoverAppID,
		SwitchAppID:   settings.HaDiscoverySwitchAppID,
		RelayAppID:    settings.HaDiscoveryRelayAppID,
		PirAppID:      settings.HaDiscoveryPirAppID,
	}, log)

	o.discoveryNetworks = resolveDiscoveryNetworks(settings)

	interval := time.Duration(settings.MessageIntervalMs) * time.Millisecond
	o.toCGate = queue.New(context.Background(), "toCGate", interval, func(item any) error {
		line, ok := item.(string)
		if !ok {
			return fmt.Errorf("bridge: toCGate queue received non-string item %T", item)
		}
		o.cmdConn.Send(line)
		return nil
	}, log)

	o.toMqtt = queue.New(context.Background(), "toMqtt", interval, func(item any) error {
		msg, ok := item.(mqttPublish)
		if !ok {
			return fmt.Errorf("bridge: toMqtt queue received non-publish item %T", item)
		}
		o.mqtt.Publish(msg.topic, msg.payload, msg.retain)
		return nil
	}, log)

	o.tr.EnqueueCGate = func(line string) { o.toCGate.Add(line) }
	o.tr.OnAnnounce = func() {
		if o.settings.HaDiscoveryEnabled {
			o.triggerDiscoveryPass()
		}
	}
	o.sp.EnqueuePublish = func(topic, payload string, retain bool) {
		o.toMqtt.Add(mqttPublish{topic, payload, retain})
	}
	o.discover.EnqueuePublish = func(topic, payload string, retain bool) {
		o.toMqtt.Add(mqttPublish{topic, payload, retain})
	}

	o.cmdConn = cgate.New(cgate.TagCommand, fmt.Sprintf("%s:%d", settings.CBusIP, settings.CBusCommandPort),
		time.Duration(settings.ReconnectInitialDelayMs)*time.Millisecond,
		time.Duration(settings.ReconnectMaxDelayMs)*time.Millisecond, log)
	o.evtConn = cgate.New(cgate.TagEvent, fmt.Sprintf("%s:%d", settings.CBusIP, settings.CBusEventPort),
		time.Duration(settings.ReconnectInitialDelayMs)*time.Millisecond,
		time.Duration(settings.ReconnectMaxDelayMs)*time.Millisecond, log)

	o.cmdConn.OnConnect = func() { o.setCmdConnected(true) }
	o.cmdConn.OnClose = func(bool) { o.setCmdConnected(false) }
	o.cmdConn.OnData = o.handleCommandLine

	o.evtConn.OnConnect = func() {
		o.setEvtConnected(true)
		o.cmdConn.Send("EVENT ON\n")
	}
	o.evtConn.OnClose = func(bool) { o.setEvtConnected(false) }
	o.evtConn.OnData = o.handleEventLine

	o.mqtt = mqttsession.New(log)
	o.mqtt.OnMessage = func(m mqttsession.Message) { o.tr.Handle(m.Topic, m.Payload) }
	o.mqtt.OnFatal = func(err error) {
		log.Error("bridge: fatal MQTT authentication failure, exiting", "error", err)
		os.Exit(1)
	}

	return o
}

type mqttPublish struct {
	topic, payload string
	retain         bool
}

// Run connects every component and blocks until ctx is cancelled, then shuts
// down cleanly.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.sched.Start()
	o.cmdConn.Start(ctx)
	o.evtConn.Start(ctx)

	if err := o.mqtt.Connect(mqttsession.Options{
		BrokerURL: "tcp://" + o.settings.MqttBroker,
		ClientID:  "cgateweb-bridge",
		Username:  o.settings.MqttUsername,
		Password:  o.settings.MqttPassword,
	}); err != nil {
		return fmt.Errorf("bridge: mqtt connect: %w", err)
	}
	o.setMqttConnected(true)

	<-ctx.Done()
	o.shutdown()
	return nil
}

func (o *Orchestrator) handleCommandLine(line string) {
	result := o.cmdProc.Process(line)
	switch result.Kind {
	case cgate.KindLevel:
		o.sp.PublishLevelUpdate(result.Level)
	case cgate.KindEvent:
		o.sp.PublishGroupUpdate(cgateGroupUpdateFromEvent(result.Event))
	case cgate.KindTreeReady:
		root, err := cgate.ParseTree(result.TreeXML)
		if err != nil {
			o.log.Error("bridge: TREEXML parse failed, discovery pass skipped", "network", result.TreeNetwork, "error", err)
			return
		}
		o.discover.PublishDiscoveryFromTree(result.TreeNetwork, root)
	case cgate.KindError:
		o.log.Warn("bridge: C-Gate error response", "code", result.ErrorCode, "hint", cgate.ErrorHint(result.ErrorCode), "text", result.ErrorText)
	}
}

func cgateGroupUpdateFromEvent(ev cbus.ParsedEventLine) cgate.GroupUpdate {
	return cgate.GroupUpdate{Address: ev.Address, Action: ev.Action, Level: ev.Level, HasLevel: ev.HasLevel}
}

func (o *Orchestrator) handleEventLine(line string) {
	gu, ok := o.evtProc.Process(line)
	if !ok {
		return
	}
	o.sp.PublishGroupUpdate(gu)
}

func (o *Orchestrator) setMqttConnected(v bool) {
	o.mu.Lock()
	o.mqttConnected = v
	o.mu.Unlock()
	o.reevaluateReadiness()
}

func (o *Orchestrator) setCmdConnected(v bool) {
	o.mu.Lock()
	o.cmdConnected = v
	o.mu.Unlock()
	o.reevaluateReadiness()
}

func (o *Orchestrator) setEvtConnected(v bool) {
	o.mu.Lock()
	o.evtConnected = v
	o.mu.Unlock()
	o.reevaluateReadiness()
}

// reevaluateReadiness implements the readiness debounce: rapid re-entry into
// allConnected within allConnectedDebounce of the last initialization does
// not re-run startup actions.
func (o *Orchestrator) reevaluateReadiness() {
	o.mu.Lock()
	nowAllConnected := o.mqttConnected && o.cmdConnected && o.evtConnected
	wasAllConnected := o.allConnected
	o.allConnected = nowAllConnected

	shouldInit := false
	if nowAllConnected && !wasAllConnected {
		if time.Since(o.lastInitAt) >= allConnectedDebounce {
			shouldInit = true
			o.lastInitAt = time.Now()
		}
	}
	o.mu.Unlock()

	if shouldInit {
		o.onAllConnected()
	}
}

func (o *Orchestrator) onAllConnected() {
	o.log.Info("bridge: all connections established")

	if o.settings.GetAllOnStart && o.settings.GetAllNetApp != "" {
		o.enqueueGetAllNetApp(o.settings.GetAllNetApp)
	}

	if o.settings.GetAllPeriodSecs > 0 {
		networks := append([]string{}, o.settings.HaDiscoveryNetworks...)
		netApp := o.settings.GetAllNetApp
		_ = o.sched.ReplacePeriodic(o.settings.GetAllPeriodSecs, func() {
			if netApp != "" {
				o.enqueueGetAllNetApp(netApp)
			}
			for _, n := range networks {
				o.enqueueGetAllNetApp(n)
			}
		})
	}

	if o.settings.HaDiscoveryEnabled {
		o.triggerDiscoveryPass()
	}
}

func (o *Orchestrator) enqueueGetAllNetApp(netApp string) {
	o.toCGate.Add(fmt.Sprintf("GET //%s/%s/* level\n", o.settings.CBusName, netApp))
}

func (o *Orchestrator) triggerDiscoveryPass() {
	for _, n := range o.discoveryNetworks {
		o.toCGate.Add("TREEXML " + n + "\n")
	}
}

// UpdateLabels forwards an externally supplied label overlay to the
// discovery generator and re-triggers discovery.
func (o *Orchestrator) UpdateLabels(overlay hadiscovery.LabelOverlay) {
	o.discover.UpdateLabels(overlay)
	if !o.settings.HaDiscoveryEnabled {
		return
	}
	o.triggerDiscoveryPass()
}

// Status returns a snapshot of current readiness.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		MqttConnected: o.mqttConnected,
		CmdConnected:  o.cmdConnected,
		EvtConnected:  o.evtConnected,
		AllConnected:  o.allConnected,
	}
}

func (o *Orchestrator) shutdown() {
	o.log.Info("bridge: shutting down")
	o.sched.Stop()
	o.toCGate.Clear()
	o.toMqtt.Clear()
	o.toCGate.Close()
	o.toMqtt.Close()
	o.cmdConn.Stop()
	o.evtConn.Stop()
	o.mqtt.Close()
}

// resolveDiscoveryNetworks returns the configured haDiscoveryNetworks list,
// or, if empty, the single network extracted from getallnetapp.
func resolveDiscoveryNetworks(s config.Settings) []string {
	if len(s.HaDiscoveryNetworks) > 0 {
		return s.HaDiscoveryNetworks
	}
	if s.GetAllNetApp == "" {
		return nil
	}
	network, _, _ := strings.Cut(s.GetAllNetApp, "/")
	if network == "" {
		return nil
	}
	return []string{network}
}
