package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var (
	// ErrInvalidSVG indicates markup that could not be parsed.
	ErrInvalidSVG = errors.New("resolver: invalid svg")
	// ErrInvalidSelector indicates a selector that failed to compile.
	ErrInvalidSelector = errors.New("resolver: invalid selector")
	// ErrElementNotFound indicates a selector that matched nothing.
	ErrElementNotFound = errors.New("resolver: element not found")
)

// Document is a parsed page or library SVG.
type Document struct {
	root *html.Node
	svg  *html.Node
}

// ParseDocument parses SVG markup into a queryable tree.
func ParseDocument(markup string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSVG, err)
	}
	svg := cascadia.Query(root, svgRoot)
	if svg == nil {
		return nil, fmt.Errorf("%w: no svg element", ErrInvalidSVG)
	}
	return &Document{root: root, svg: svg}, nil
}

var svgRoot = cascadia.MustCompile("svg")

// Root returns the outermost svg element.
func (d *Document) Root() *html.Node {
	return d.svg
}

// Query returns the first element matching selector.
func (d *Document) Query(selector string) (*html.Node, error) {
	compiled, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSelector, selector, err)
	}
	node := cascadia.Query(d.svg, compiled)
	if node == nil {
		return nil, fmt.Errorf("%w: %q", ErrElementNotFound, selector)
	}
	return node, nil
}

// FindByAttr returns every element whose attr equals value, in document order.
func (d *Document) FindByAttr(attr, value string) []*html.Node {
	return cascadia.QueryAll(d.svg, attrEquals{key: attr, value: value})
}

// Symbol returns the symbol definition referenced by a use element's href.
func (d *Document) Symbol(use *html.Node) *html.Node {
	ref := strings.TrimPrefix(Attr(use, "href"), "#")
	if ref == "" {
		return nil
	}
	for _, node := range d.FindByAttr("id", ref) {
		if node.Data == "symbol" {
			return node
		}
	}
	return nil
}

type attrEquals struct {
	key   string
	value string
}

func (m attrEquals) Match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	value, ok := lookupAttr(n, m.key)
	return ok && value == m.value
}

// Attr returns the value of attribute key on n, ignoring namespaces so
// xlink:href and href read the same.
func Attr(n *html.Node, key string) string {
	value, _ := lookupAttr(n, key)
	return value
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

// TextContent concatenates the text below n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	if n != nil {
		walk(n)
	}
	return b.String()
}
