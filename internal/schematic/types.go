// Package schematic holds the decoded schematic index: pages, component
// instances, nets, pins, free text and diff records, together with the
// lookup and search primitives the viewer is built on.
package schematic

import (
	"math"
	"strconv"
)

// NoMatch is the distance reported for a lookup or search miss.
const NoMatch = math.MaxInt

// AnyPage asks a lookup to consider every page.
const AnyPage = -1

// Reserved instance property keys. Their first character is below space, so
// searches treat them as hidden.
const (
	PropPage  = "\x00"
	PropPath  = "\x01"
	PropLibID = "\x02"

	PropReference = "Reference"
	propNetName   = "Name"
)

// Box is an SVG box as x, y, width, height.
type Box [4]float64

// Page describes one rendered sheet instance.
type Page struct {
	ID         string
	Name       string
	PageNumber string
	Depth      int
	ViewBox    Box
	ContentBox Box
	Instance   string
	SVGRef     string
}

// Instance maps property names to values for one placed component.
type Instance map[string]string

// Page returns the page index stored in the reserved page property.
func (inst Instance) Page() int {
	page, err := strconv.Atoi(inst[PropPage])
	if err != nil {
		return AnyPage
	}
	return page
}

// Path returns the instance UUID path.
func (inst Instance) Path() string {
	return inst[PropPath]
}

// LibID returns the library symbol identifier.
func (inst Instance) LibID() string {
	return inst[PropLibID]
}

// Net is a named electrical connection. Buses share the type with IsBus set
// and list the nets they carry in BusMembers.
type Net struct {
	ID         string
	Name       string
	IsBus      bool
	Members    map[int][]string
	BusMembers []string
}

// Pages returns the sorted page indices the net appears on.
func (n *Net) Pages() []int {
	pages := make([]int, 0, len(n.Members))
	for page := range n.Members {
		pages = append(pages, page)
	}
	return sortedUnique(pages)
}

// PinRef locates one occurrence of a named pin.
type PinRef struct {
	Page   int
	Refdes string
}

// MatchKind discriminates MatchResult payloads.
type MatchKind string

const (
	KindComponent MatchKind = "component"
	KindNet       MatchKind = "net"
	KindBus       MatchKind = "bus"
	KindPin       MatchKind = "pin"
	KindText      MatchKind = "text"
	KindGhost     MatchKind = "ghost"
	KindNote      MatchKind = "note"
)

// MatchData is the kind-specific payload of a MatchResult.
type MatchData interface {
	matchKind() MatchKind
}

// ComponentData carries the instances of a matched reference designator.
type ComponentData struct {
	Refdes    string
	Instances []Instance
}

// NetData carries a matched net or bus.
type NetData struct {
	Net *Net
}

// PinData carries every occurrence of a matched pin name.
type PinData struct {
	Name string
	Refs []PinRef
}

// TextData carries a matched free-text literal.
type TextData struct {
	Text string
}

// GhostData identifies the adjacent page a ghost preview stands for.
type GhostData struct {
	Page int
}

func (ComponentData) matchKind() MatchKind { return KindComponent }
func (d NetData) matchKind() MatchKind {
	if d.Net != nil && d.Net.IsBus {
		return KindBus
	}
	return KindNet
}
func (PinData) matchKind() MatchKind   { return KindPin }
func (TextData) matchKind() MatchKind  { return KindText }
func (GhostData) matchKind() MatchKind { return KindGhost }

// MatchResult is the outcome of a lookup or search. Callers must check Found
// before trusting Data.
type MatchResult struct {
	Distance int
	Kind     MatchKind
	Pages    []int
	ID       string
	Prop     string
	Value    string
	Display  string
	Data     MatchData
}

// Found reports whether the result is a hit.
func (m MatchResult) Found() bool {
	return m.Distance < NoMatch
}

// Miss returns the empty result for kind.
func Miss(kind MatchKind) MatchResult {
	return MatchResult{Distance: NoMatch, Kind: kind}
}
