package cgate

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// TreeXmlAccumulator collects TREEXML fragments across 343/347/344 response
// lines. parts is non-empty only while network is set;
// cleared atomically when 344 arrives or a new 343 starts.
type TreeXmlAccumulator struct {
	network *string
	parts   []string
}

// Begin starts (or restarts) accumulation for the given network, discarding
// any prior in-progress accumulation.
func (a *TreeXmlAccumulator) Begin(network string) {
	n := network
	a.network = &n
	a.parts = nil
}

// Append adds an XML data fragment (a "347-" line payload) to the current
// accumulation. It is a no-op if no 343 has been seen (Idle state).
func (a *TreeXmlAccumulator) Append(chunk string) {
	if a.network == nil {
		return
	}
	a.parts = append(a.parts, chunk)
}

// Collecting reports whether a 343 has been seen without a matching 344 yet.
func (a *TreeXmlAccumulator) Collecting() bool {
	return a.network != nil
}

// Network returns the network currently being accumulated, if any.
func (a *TreeXmlAccumulator) Network() (string, bool) {
	if a.network == nil {
		return "", false
	}
	return *a.network, true
}

// End completes accumulation for network, returning the joined XML and true
// if network matches the in-progress accumulation, and resets state on that
// match. A mismatched network (or no 343 at all) returns false and leaves
// any in-progress accumulation untouched; the caller logs it.
func (a *TreeXmlAccumulator) End(network string) (joined string, ok bool) {
	if a.network == nil {
		return "", false
	}
	if *a.network != network {
		return "", false
	}
	var sb strings.Builder
	for _, p := range a.parts {
		sb.WriteString(p)
	}
	a.network = nil
	a.parts = nil
	return sb.String(), true
}

// Reset clears any in-progress accumulation.
func (a *TreeXmlAccumulator) Reset() {
	a.network = nil
	a.parts = nil
}

// --- Generic TREEXML node ---
//
// C-Gate's TREEXML comes in two incompatible shapes (a "structured" shape
// with nested Application/Group elements, and a "flat" shape with
// comma-separated Application/Groups text on the Unit itself), and the root
// element nesting itself varies by C-Gate version. A fixed struct can't
// express "try field X, else Y, else Z" against ambiguous tag names, so the
// tree is decoded into a generic Node and walked in Go code instead.
type Node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []Node     `xml:",any"`
}

// ParseTree unmarshals a joined TREEXML document into its generic root node.
func ParseTree(xmlText string) (*Node, error) {
	var n Node
	if err := xml.Unmarshal([]byte(xmlText), &n); err != nil {
		return nil, fmt.Errorf("cgate: parsing TREEXML: %w", err)
	}
	return &n, nil
}

// Child returns the first direct child element named name, if any.
func (n *Node) Child(name string) (*Node, bool) {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			return &n.Nodes[i], true
		}
	}
	return nil, false
}

// Children returns every direct child element named name.
func (n *Node) Children(name string) []Node {
	var out []Node
	for _, c := range n.Nodes {
		if c.XMLName.Local == name {
			out = append(out, c)
		}
	}
	return out
}

// Text returns the node's own character data, trimmed.
func (n *Node) Text() string {
	return strings.TrimSpace(n.Content)
}

// HasChildNamed reports whether any direct child is named name.
func (n *Node) HasChildNamed(name string) bool {
	_, ok := n.Child(name)
	return ok
}
