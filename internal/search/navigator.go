// Package search merges the schematic searches into one paginated result
// list with keyboard cycling.
package search

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
)

// DefaultPageSize is the number of results shown per result page.
const DefaultPageSize = 10

// ErrPageOutOfRange indicates a result page number outside 1..PageCount.
var ErrPageOutOfRange = errors.New("search: result page out of range")

// Source is the subset of the schematic database the navigator searches.
type Source interface {
	SearchComps(query string) []schematic.MatchResult
	SearchNets(query string) []schematic.MatchResult
	SearchPins(query string) []schematic.MatchResult
	SearchText(query string) []schematic.MatchResult
}

// Navigator holds the current query, its merged results, the visible result
// page and the focused result.
type Navigator struct {
	source   Source
	pageSize int

	query   string
	results []schematic.MatchResult
	page    int
	focus   int
}

// NewNavigator constructs a Navigator. A non-positive pageSize selects
// DefaultPageSize.
func NewNavigator(source Source, pageSize int) *Navigator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Navigator{source: source, pageSize: pageSize, focus: -1}
}

// Search replaces the result list with the merged matches for query, ordered
// by distance and otherwise in component, net, pin, text order.
func (n *Navigator) Search(query string) []schematic.MatchResult {
	n.query = query
	n.page = 0
	n.focus = -1
	n.results = nil
	if strings.TrimSpace(query) == "" {
		return nil
	}
	n.results = append(n.results, n.source.SearchComps(query)...)
	n.results = append(n.results, n.source.SearchNets(query)...)
	n.results = append(n.results, n.source.SearchPins(query)...)
	n.results = append(n.results, n.source.SearchText(query)...)
	sort.SliceStable(n.results, func(i, j int) bool {
		return n.results[i].Distance < n.results[j].Distance
	})
	return n.Results()
}

// Query returns the active query.
func (n *Navigator) Query() string {
	return n.query
}

// Results returns every result of the active query.
func (n *Navigator) Results() []schematic.MatchResult {
	return append([]schematic.MatchResult(nil), n.results...)
}

// Total returns the number of results.
func (n *Navigator) Total() int {
	return len(n.results)
}

// PageCount returns ceil(Total/pageSize).
func (n *Navigator) PageCount() int {
	return (len(n.results) + n.pageSize - 1) / n.pageSize
}

// Page returns the zero-based visible result page.
func (n *Navigator) Page() int {
	return n.page
}

// PageResults returns the results on the visible page.
func (n *Navigator) PageResults() []schematic.MatchResult {
	start := n.page * n.pageSize
	if start >= len(n.results) {
		return nil
	}
	end := start + n.pageSize
	if end > len(n.results) {
		end = len(n.results)
	}
	return append([]schematic.MatchResult(nil), n.results[start:end]...)
}

// GotoPage shows the one-based result page number.
func (n *Navigator) GotoPage(number int) error {
	if number < 1 || number > n.PageCount() {
		return fmt.Errorf("%w: %d not in 1..%d", ErrPageOutOfRange, number, n.PageCount())
	}
	n.page = number - 1
	n.focus = -1
	return nil
}

// Cycle moves the focus to the next (or previous) result, wrapping across
// result pages and around the ends. Without a focus it starts at the first
// (or last) result of the visible page. It returns the focused result and
// its index within the visible page.
func (n *Navigator) Cycle(backward bool) (schematic.MatchResult, int, bool) {
	total := len(n.results)
	if total == 0 {
		return schematic.MatchResult{}, -1, false
	}
	switch {
	case n.focus < 0 && backward:
		n.focus = (n.page+1)*n.pageSize - 1
		if n.focus >= total {
			n.focus = total - 1
		}
	case n.focus < 0:
		n.focus = n.page * n.pageSize
		if n.focus >= total {
			n.focus = 0
		}
	case backward:
		n.focus = (n.focus - 1 + total) % total
	default:
		n.focus = (n.focus + 1) % total
	}
	n.page = n.focus / n.pageSize
	return n.results[n.focus], n.focus % n.pageSize, true
}

// Focused returns the focused result, if any.
func (n *Navigator) Focused() (schematic.MatchResult, bool) {
	if n.focus < 0 || n.focus >= len(n.results) {
		return schematic.MatchResult{}, false
	}
	return n.results[n.focus], true
}
