// Package resolver maps rendered SVG elements back to schematic entities.
package resolver

import (
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	attrPath      = "p"
	attrNode      = "t"
	attrGhostPage = "data-page"
)

// Target is the element a user interacted with. Host is the use element
// that instantiated the symbol containing Node, if any.
type Target struct {
	Node *html.Node
	Host *html.Node
}

// ElementMatch is a MatchResult widened with the normalized target and the
// container element the classification matched on.
type ElementMatch struct {
	schematic.MatchResult
	Target    *html.Node
	Container *html.Node
}

type rule struct {
	kind     schematic.MatchKind
	selector cascadia.Selector
}

// The first kind with a matching ancestor wins; net labels can sit inside
// component groups.
var rules = []rule{
	{kind: schematic.KindGhost, selector: cascadia.MustCompile("svg.ghost, g.ghost")},
	{kind: schematic.KindBus, selector: cascadia.MustCompile("[t].bus")},
	{kind: schematic.KindNet, selector: cascadia.MustCompile("[t]")},
	{kind: schematic.KindComponent, selector: cascadia.MustCompile("g[p]")},
}

// Resolver classifies elements against a schematic database.
type Resolver struct {
	db     *schematic.Database
	logger *zap.Logger
}

// New constructs a Resolver.
func New(db *schematic.Database, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{db: db, logger: logger}
}

// LookupElem classifies target on page. Elements matching no rule are notes
// without a backing entity.
func (r *Resolver) LookupElem(target Target, page int) ElementMatch {
	node := normalize(target.Node)
	target.Node = node
	for _, rule := range rules {
		container := nearest(target, rule.selector)
		if container == nil {
			continue
		}
		match := ElementMatch{Target: node, Container: container}
		match.MatchResult = r.dispatch(rule.kind, container, page)
		if !match.Found() {
			r.logger.Debug("element matched without entity",
				zap.String("kind", string(rule.kind)),
				zap.Int("page", page))
		}
		return match
	}
	return ElementMatch{
		MatchResult: schematic.MatchResult{
			Distance: schematic.NoMatch,
			Kind:     schematic.KindNote,
			Display:  strings.TrimSpace(TextContent(node)),
		},
		Target:    node,
		Container: node,
	}
}

func (r *Resolver) dispatch(kind schematic.MatchKind, container *html.Node, page int) schematic.MatchResult {
	switch kind {
	case schematic.KindGhost:
		ghost, err := strconv.Atoi(Attr(container, attrGhostPage))
		if err != nil || ghost < 0 || ghost >= r.db.PageCount() {
			return schematic.Miss(kind)
		}
		return schematic.MatchResult{
			Distance: 0,
			Kind:     schematic.KindGhost,
			Pages:    []int{ghost},
			ID:       strconv.Itoa(ghost),
			Display:  r.db.PageName(ghost),
			Data:     schematic.GhostData{Page: ghost},
		}
	case schematic.KindBus, schematic.KindNet:
		return r.db.LookupNet(Attr(container, attrNode), page)
	case schematic.KindComponent:
		return r.db.LookupComp(Attr(container, attrPath), page)
	default:
		return schematic.Miss(kind)
	}
}

// normalize maps text nodes and tspans to their enclosing text element.
func normalize(node *html.Node) *html.Node {
	if node != nil && node.Type == html.TextNode {
		node = node.Parent
	}
	for node != nil && node.Type == html.ElementNode && node.Data == "tspan" && node.Parent != nil {
		node = node.Parent
	}
	return node
}

// nearest walks from target.Node towards the root and returns the first
// element matching selector. Leaving a symbol definition continues at the
// use element that instantiated it.
func nearest(target Target, selector cascadia.Selector) *html.Node {
	node, host := target.Node, target.Host
	for node != nil {
		if node.Type == html.ElementNode {
			if node.Data == "symbol" && host != nil {
				node, host = host, nil
				continue
			}
			if selector.Match(node) {
				return node
			}
		}
		node = node.Parent
		if node == nil && host != nil {
			node, host = host, nil
		}
	}
	return nil
}
