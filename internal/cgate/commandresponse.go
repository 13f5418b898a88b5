// commandresponse.go implements CommandResponseProcessor: it
// classifies C-Gate command-port lines and drives the TREEXML state
// machine.
package cgate

import (
	"strconv"
	"strings"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
	"github.com/dougrathbone/cgateweb-bridge/internal/cbus"
)

// CommandResponseKind classifies a parsed command-port line.
type CommandResponseKind int

const (
	KindDiscarded  CommandResponseKind = iota // 200
	KindLevel                                 // 300 //project/N/A/G level=X
	KindEvent                                 // 300-<event>
	KindTreeReady                             // 344 completed an accumulation
	KindError                                 // 4xx/5xx
	KindIgnored                               // unrecognized or mismatched 344
)

// CommandResponseResult is the outcome of processing one command-port line.
type CommandResponseResult struct {
	Kind CommandResponseKind

	Level ParsedLevelUpdate
	Event cbus.ParsedEventLine

	TreeNetwork string
	TreeXML     string

	ErrorCode int
	ErrorText string
}

// ParsedLevelUpdate is a group's observed raw level from a 300 status line.
type ParsedLevelUpdate struct {
	Address cbus.GroupAddress
	Raw     int
}

// CommandResponseProcessor classifies command-port lines and owns the
// TREEXML accumulation state machine.
type CommandResponseProcessor struct {
	log bridgelog.Logger
	acc TreeXmlAccumulator
}

// NewCommandResponseProcessor constructs a processor with its own
// TreeXmlAccumulator (each processor owns its own accumulator state).
func NewCommandResponseProcessor(log bridgelog.Logger) *CommandResponseProcessor {
	if log == nil {
		log = bridgelog.Nop{}
	}
	return &CommandResponseProcessor{log: log}
}

// Process classifies a single command-port line via a small state table.
func (p *CommandResponseProcessor) Process(line string) CommandResponseResult {
	code, dash, payload, ok := splitCode(line)
	if !ok {
		p.log.Warn("cgate: unrecognized command-port line", "line", line)
		return CommandResponseResult{Kind: KindIgnored}
	}

	switch {
	case code == 200:
		return CommandResponseResult{Kind: KindDiscarded}

	case code == 343:
		net := strings.TrimSpace(payload)
		p.acc.Begin(net)
		return CommandResponseResult{Kind: KindIgnored}

	case code == 347:
		p.acc.Append(payload)
		return CommandResponseResult{Kind: KindIgnored}

	case code == 344:
		net := strings.TrimSpace(payload)
		joined, ok := p.acc.End(net)
		if !ok {
			p.log.Warn("cgate: 344 network mismatch or no preceding 343, ignored", "network", net)
			return CommandResponseResult{Kind: KindIgnored}
		}
		return CommandResponseResult{Kind: KindTreeReady, TreeNetwork: net, TreeXML: joined}

	case code == 300 && !dash:
		if lvl, ok := parseLevelUpdate(payload); ok {
			return CommandResponseResult{Kind: KindLevel, Level: lvl}
		}
		p.log.Warn("cgate: malformed 300 status line", "line", line)
		return CommandResponseResult{Kind: KindIgnored}

	case code == 300 && dash:
		if ev, ok := cbus.ParseEventLine(payload); ok {
			return CommandResponseResult{Kind: KindEvent, Event: ev}
		}
		p.log.Warn("cgate: malformed 300- event line", "line", line)
		return CommandResponseResult{Kind: KindIgnored}

	case code >= 400 && code < 600:
		return CommandResponseResult{Kind: KindError, ErrorCode: code, ErrorText: payload}

	default:
		p.log.Warn("cgate: unrecognized command response code", "code", code, "line", line)
		return CommandResponseResult{Kind: KindIgnored}
	}
}

func parseLevelUpdate(payload string) (ParsedLevelUpdate, bool) {
	status, ok := cbus.ParseStatusLine(payload)
	if !ok {
		return ParsedLevelUpdate{}, false
	}
	return ParsedLevelUpdate{Address: status.Address, Raw: status.Raw}, true
}

// splitCode parses the leading "<code> " or "<code>-" prefix of a command
// response line.
func splitCode(line string) (code int, dash bool, payload string, ok bool) {
	if len(line) < 4 {
		return 0, false, "", false
	}
	digits := line[:3]
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false, "", false
	}
	sep := line[3]
	rest := strings.TrimSpace(line[4:])
	switch sep {
	case ' ':
		return n, false, rest, true
	case '-':
		return n, true, rest, true
	default:
		return 0, false, "", false
	}
}

// ErrorHint returns a human-readable hint for known C-Gate error codes.
func ErrorHint(code int) string {
	switch code {
	case 400:
		return "bad request: malformed command"
	case 401:
		return "unauthorized: C-Gate rejected the command"
	case 404:
		return "not found: unknown object/group address"
	case 406:
		return "not acceptable: command not valid for this object"
	case 500:
		return "internal C-Gate server error"
	case 503:
		return "service unavailable: C-Gate project may not be started"
	default:
		return "unspecified C-Gate error"
	}
}
