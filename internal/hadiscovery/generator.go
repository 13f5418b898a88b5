// Package hadiscovery implements HaDiscoveryGenerator: it
// walks a parsed TREEXML document together with an externally supplied
// label overlay and emits Home Assistant MQTT discovery configuration.
package hadiscovery

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
	"github.com/dougrathbone/cgateweb-bridge/internal/cbus"
	"github.com/dougrathbone/cgateweb-bridge/internal/cgate"
)

// LabelOverlay is the externally supplied, read-only label snapshot.
// The core never mutates it; UpdateLabels replaces it wholesale.
type LabelOverlay struct {
	Labels        map[string]string // N/A/G -> display label
	TypeOverrides map[string]string // N/A/G -> light|cover|switch|relay|pir
	EntityIDs     map[string]string // N/A/G -> object_id
	Exclude       map[string]struct{}
}

func emptyOverlay() LabelOverlay {
	return LabelOverlay{
		Labels:        map[string]string{},
		TypeOverrides: map[string]string{},
		EntityIDs:     map[string]string{},
		Exclude:       map[string]struct{}{},
	}
}

// Config is the fixed, process-lifetime configuration the generator needs.
type Config struct {
	Project       string
	Prefix        string
	LightingAppID string
	CoverAppID    string
	SwitchAppID   string
	RelayAppID    string
	PirAppID      string
}

// Generator implements HaDiscoveryGenerator.
type Generator struct {
	log bridgelog.Logger
	cfg Config

	// EnqueuePublish hands a retained discovery payload to the outbound
	// throttled queue.
	EnqueuePublish func(topic, payload string, retain bool)

	mu            sync.Mutex
	overlay       LabelOverlay
	lastComponent map[string]string // uniqueId -> component, for stale-clear
}

// NewGenerator constructs a Generator with an empty label overlay.
func NewGenerator(cfg Config, log bridgelog.Logger) *Generator {
	if log == nil {
		log = bridgelog.Nop{}
	}
	return &Generator{
		cfg:           cfg,
		log:           log,
		overlay:       emptyOverlay(),
		lastComponent: make(map[string]string),
	}
}

// UpdateLabels atomically replaces the label overlay.
func (g *Generator) UpdateLabels(overlay LabelOverlay) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overlay = overlay
}

func (g *Generator) snapshotOverlay() LabelOverlay {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.overlay
}

type rawGroup struct {
	appID, groupID, label string
}

// PublishDiscoveryFromTree walks root looking for network, collects every
// group on the lighting app id plus any configured cover/switch/relay/pir
// app ids, and emits discovery entities for each.
func (g *Generator) PublishDiscoveryFromTree(network string, root *cgate.Node) {
	start := time.Now()
	netNode := findNetworkNode(root, network)
	if netNode == nil {
		g.log.Warn("hadiscovery: no matching network node in TREEXML, skipped", "network", network)
		return
	}

	overlay := g.snapshotOverlay()
	targets := g.targetAppIDs()

	type found struct {
		addr  cbus.GroupAddress
		label string
	}
	unitDerived := make(map[string]found)

	for _, unit := range netNode.Children("Unit") {
		for _, rg := range collectUnitGroups(&unit, targets) {
			addr := cbus.GroupAddress{Network: network, Application: rg.appID, Group: rg.groupID}
			key := addr.String()
			if existing, ok := unitDerived[key]; ok && existing.label != "" {
				continue
			}
			unitDerived[key] = found{addr: addr, label: rg.label}
		}
	}

	var entityCount, customLabelCount, treeLabelCount, fallbackCount int

	for _, f := range unitDerived {
		kind := g.synthesize(f.addr, f.label, overlay)
		if kind == labelKindNone {
			continue
		}
		entityCount++
		switch kind {
		case labelKindOverlay:
			customLabelCount++
		case labelKindTree:
			treeLabelCount++
		case labelKindFallback:
			fallbackCount++
		}
	}

	// Label supplementation: flat TREEXML can omit groups
	// that have no physical unit but are still addressable.
	for key, label := range overlay.Labels {
		addr, ok := parseLightingKey(key, g.cfg.LightingAppID)
		if !ok || addr.Network != network {
			continue
		}
		if _, ok := unitDerived[key]; ok {
			continue
		}
		if _, excluded := overlay.Exclude[key]; excluded {
			continue
		}
		kind := g.synthesize(addr, "", overlay)
		_ = label
		if kind != labelKindNone {
			entityCount++
			if kind == labelKindOverlay {
				customLabelCount++
			}
		}
	}

	g.publishTreeJSON(network, root)

	g.log.Info("hadiscovery: discovery pass complete",
		"network", network,
		"entities", entityCount,
		"customLabels", customLabelCount,
		"treeLabels", treeLabelCount,
		"fallbackNames", fallbackCount,
		"durationMs", time.Since(start).Milliseconds())
}

func (g *Generator) targetAppIDs() map[string]bool {
	out := map[string]bool{}
	for _, id := range []string{g.cfg.LightingAppID, g.cfg.CoverAppID, g.cfg.SwitchAppID, g.cfg.RelayAppID, g.cfg.PirAppID} {
		if id != "" {
			out[id] = true
		}
	}
	return out
}

type labelKind int

const (
	labelKindNone labelKind = iota
	labelKindOverlay
	labelKindTree
	labelKindFallback
)

// synthesize resolves and publishes (or stale-clears) one discovery entity,
// returning which label source was used.
func (g *Generator) synthesize(addr cbus.GroupAddress, treeLabel string, overlay LabelOverlay) labelKind {
	key := addr.String()
	uniqueID := fmt.Sprintf("cgateweb_%s_%s_%s", addr.Network, addr.Application, addr.Group)

	if _, excluded := overlay.Exclude[key]; excluded {
		g.clearStale(uniqueID)
		return labelKindNone
	}

	typ := g.resolveType(addr, overlay)
	label, kind := g.resolveLabel(addr, typ, treeLabel, overlay)
	objectID := overlay.EntityIDs[key]

	newComponent := componentFor(typ)
	g.mu.Lock()
	oldComponent, hadPrior := g.lastComponent[uniqueID]
	g.mu.Unlock()
	switch {
	case hadPrior && oldComponent != newComponent:
		// The effective component changed since the last pass (override
		// added/changed/removed): invalidate the previously active topic.
		g.clearStale(uniqueID)
	case !hadPrior:
		// First pass for this group: if a type override already diverges
		// from its natural (app-id derived) type, the natural topic was
		// never published but still must be invalidated so a stale
		// discovery config from a differently-configured bridge run can't
		// linger.
		if naturalComponent := componentFor(g.naturalType(addr)); naturalComponent != newComponent {
			g.publishEmptyConfig(naturalComponent, uniqueID)
		}
	}

	g.publishEntity(typ, uniqueID, objectID, label, addr)

	g.mu.Lock()
	g.lastComponent[uniqueID] = newComponent
	g.mu.Unlock()

	return kind
}

func (g *Generator) resolveType(addr cbus.GroupAddress, overlay LabelOverlay) string {
	if ov, ok := overlay.TypeOverrides[addr.String()]; ok {
		switch ov {
		case "light", "cover", "switch", "relay", "pir":
			return ov
		default:
			g.log.Warn("hadiscovery: unknown type override, falling back to light", "address", addr.String(), "override", ov)
			return "light"
		}
	}
	return g.naturalType(addr)
}

// naturalType resolves a group's type from its application id alone,
// ignoring any type override.
func (g *Generator) naturalType(addr cbus.GroupAddress) string {
	switch addr.Application {
	case g.cfg.CoverAppID:
		if g.cfg.CoverAppID != "" {
			return "cover"
		}
	case g.cfg.SwitchAppID:
		if g.cfg.SwitchAppID != "" {
			return "switch"
		}
	case g.cfg.RelayAppID:
		if g.cfg.RelayAppID != "" {
			return "relay"
		}
	case g.cfg.PirAppID:
		if g.cfg.PirAppID != "" {
			return "pir"
		}
	}
	return "light"
}

func (g *Generator) resolveLabel(addr cbus.GroupAddress, typ, treeLabel string, overlay LabelOverlay) (string, labelKind) {
	if l, ok := overlay.Labels[addr.String()]; ok && l != "" {
		return l, labelKindOverlay
	}
	if treeLabel != "" {
		return treeLabel, labelKindTree
	}
	return fmt.Sprintf("CBus %s %s", capitalize(typ), addr.String()), labelKindFallback
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func componentFor(typ string) string {
	switch typ {
	case "cover":
		return "cover"
	case "switch", "relay":
		return "switch"
	case "pir":
		return "binary_sensor"
	default:
		return "light"
	}
}

func (g *Generator) publishEntity(typ, uniqueID, objectID, label string, addr cbus.GroupAddress) {
	component := componentFor(typ)
	readBase := "cbus/read/" + addr.String()
	writeBase := "cbus/write/" + addr.String()

	payload := map[string]any{
		"name":      label,
		"unique_id": uniqueID,
	}
	if objectID != "" {
		payload["object_id"] = objectID
	}

	switch component {
	case "light":
		payload["state_topic"] = readBase + "/state"
		payload["command_topic"] = writeBase + "/switch"
		payload["payload_on"] = "ON"
		payload["payload_off"] = "OFF"
		payload["brightness_state_topic"] = readBase + "/level"
		payload["brightness_command_topic"] = writeBase + "/ramp"
		payload["brightness_scale"] = 100

	case "switch":
		payload["state_topic"] = readBase + "/state"
		payload["command_topic"] = writeBase + "/switch"
		payload["payload_on"] = "ON"
		payload["payload_off"] = "OFF"

	case "cover":
		payload["position_topic"] = readBase + "/position"
		payload["set_position_topic"] = writeBase + "/position"
		payload["command_topic"] = writeBase + "/stop"
		payload["payload_stop"] = "STOP"
		payload["position_open"] = 100
		payload["position_closed"] = 0
		payload["device_class"] = "shutter"

	case "binary_sensor":
		payload["state_topic"] = readBase + "/state"
		payload["payload_on"] = "ON"
		payload["payload_off"] = "OFF"
		payload["device_class"] = "motion"
	}

	g.publishJSON(fmt.Sprintf("%s/%s/%s/config", g.cfg.Prefix, component, uniqueID), payload, true)
}

// clearStale invalidates any previously published config for uniqueID by
// publishing an empty retained payload once.
func (g *Generator) clearStale(uniqueID string) {
	g.mu.Lock()
	component, known := g.lastComponent[uniqueID]
	delete(g.lastComponent, uniqueID)
	g.mu.Unlock()
	if !known {
		return
	}
	if g.EnqueuePublish != nil {
		g.EnqueuePublish(fmt.Sprintf("%s/%s/%s/config", g.cfg.Prefix, component, uniqueID), "", true)
	}
}

// publishEmptyConfig invalidates a specific component's config topic for
// uniqueID, regardless of what was last published.
func (g *Generator) publishEmptyConfig(component, uniqueID string) {
	if g.EnqueuePublish == nil {
		return
	}
	g.EnqueuePublish(fmt.Sprintf("%s/%s/%s/config", g.cfg.Prefix, component, uniqueID), "", true)
}

func (g *Generator) publishJSON(topic string, payload map[string]any, retain bool) {
	if g.EnqueuePublish == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		g.log.Error("hadiscovery: failed to marshal discovery payload", "topic", topic, "error", err)
		return
	}
	g.EnqueuePublish(topic, string(body), retain)
}

func (g *Generator) publishTreeJSON(network string, root *cgate.Node) {
	if g.EnqueuePublish == nil {
		return
	}
	body, err := json.Marshal(root)
	if err != nil {
		g.log.Error("hadiscovery: failed to marshal parsed tree", "network", network, "error", err)
		return
	}
	topic := fmt.Sprintf("cbus/read/%s///tree", network)
	g.EnqueuePublish(topic, string(body), true)
}

func parseLightingKey(key, lightingAppID string) (cbus.GroupAddress, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return cbus.GroupAddress{}, false
	}
	if parts[1] != lightingAppID {
		return cbus.GroupAddress{}, false
	}
	return cbus.GroupAddress{Network: parts[0], Application: parts[1], Group: parts[2]}, true
}

// findNetworkNode resolves the tree node representing network, trying
// several nesting shapes a TREEXML response may take.
func findNetworkNode(root *cgate.Node, network string) *cgate.Node {
	if root == nil {
		return nil
	}
	if n, ok := root.Child("Network"); ok {
		if iface, ok := n.Child("Interface"); ok {
			if n2, ok := iface.Child("Network"); ok && attrMatches(n2, "NetworkNumber", network) {
				return n2
			}
		}
		if attrMatches(n, "NetworkNumber", network) {
			return n
		}
	}
	if iface, ok := root.Child("Interface"); ok {
		if n2, ok := iface.Child("Network"); ok && attrMatches(n2, "NetworkNumber", network) {
			return n2
		}
	}
	if attrMatches(root, "NetworkNumber", network) {
		return root
	}
	if root.HasChildNamed("Unit") {
		return root
	}
	if n, ok := root.Child("Network"); ok && n.HasChildNamed("Unit") {
		return n
	}
	for i := range root.Nodes {
		child := &root.Nodes[i]
		if attrMatches(child, "NetworkNumber", network) {
			return child
		}
		if child.HasChildNamed("Unit") {
			return child
		}
	}
	return nil
}

func attrMatches(n *cgate.Node, attrName, want string) bool {
	for _, a := range n.Attrs {
		if a.Name.Local == attrName {
			return a.Value == want
		}
	}
	return false
}

// collectUnitGroups handles both the structured and flat TREEXML shapes.
func collectUnitGroups(unit *cgate.Node, targetAppIDs map[string]bool) []rawGroup {
	if groupsNode, ok := unit.Child("Groups"); ok {
		appCSV := ""
		if appNode, ok := unit.Child("Application"); ok {
			appCSV = appNode.Text()
		}
		apps := splitCSV(appCSV)
		groups := splitCSV(groupsNode.Text())
		var out []rawGroup
		for _, appID := range apps {
			if !targetAppIDs[appID] {
				continue
			}
			for _, gid := range groups {
				out = append(out, rawGroup{appID: appID, groupID: gid})
			}
		}
		return out
	}

	var out []rawGroup
	for _, appNode := range unit.Children("Application") {
		appID := appNode.Text()
		if addrNode, ok := appNode.Child("ApplicationAddress"); ok {
			appID = addrNode.Text()
		}
		if !targetAppIDs[appID] {
			continue
		}
		for _, groupNode := range appNode.Children("Group") {
			gid := groupNode.Text()
			if addrNode, ok := groupNode.Child("Address"); ok {
				gid = addrNode.Text()
			}
			label := ""
			if labelNode, ok := groupNode.Child("Label"); ok {
				label = labelNode.Text()
			}
			out = append(out, rawGroup{appID: appID, groupID: gid, label: label})
		}
	}
	return out
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
