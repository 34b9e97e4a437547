// Package schematictest builds encoded schematic payloads for tests.
package schematictest

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/MarcoPoloResearchLab/schemerge/internal/codec"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
)

// Page mirrors a page entry of the wire index.
type Page struct {
	ID         string    `json:"id"`
	PageNumber string    `json:"pn"`
	Instance   string    `json:"inst"`
	Name       string    `json:"name"`
	Depth      int       `json:"depth"`
	Box        []float64 `json:"box"`
	ContentBox []float64 `json:"contentbox"`
}

// Nets mirrors the wire net map.
type Nets struct {
	Names map[string]string              `json:"names"`
	Map   map[string]map[string][]string `json:"map"`
	Buses map[string][]string            `json:"buses,omitempty"`
}

// Diff mirrors one wire diff record.
type Diff struct {
	Text     string `json:"text"`
	ID       string `json:"id"`
	Conflict bool   `json:"c,omitempty"`
}

// Pair is an ours/theirs diff pair.
type Pair [2][]Diff

// Index mirrors the wire index.
type Index struct {
	Pages []Page                      `json:"pages"`
	Comps map[string][]map[string]any `json:"comps"`
	Nets  Nets                        `json:"nets"`
	Diffs map[string][]Pair           `json:"diffs"`
	Text  map[string][]int            `json:"text"`
	Pins  map[string][][2]any         `json:"pins"`
}

// Comp builds a component instance with the reserved page and path keys
// followed by name/value pairs.
func Comp(page int, path string, props ...string) map[string]any {
	inst := map[string]any{
		schematic.PropPage: page,
		schematic.PropPath: path,
	}
	for i := 0; i+1 < len(props); i += 2 {
		inst[props[i]] = props[i+1]
	}
	return inst
}

// PageSVG returns a minimal page SVG containing the given body.
func PageSVG(body string) string {
	return `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 297 210">` + body + `</svg>`
}

// Payload encodes index and page SVG. Pages without SVG get an empty document.
func Payload(t testing.TB, index Index, pageSVG map[string]string) schematic.Payload {
	t.Helper()
	raw, err := json.Marshal(index)
	if err != nil {
		t.Fatalf("failed to marshal index: %v", err)
	}
	encodedIndex := mustEncode(t, string(raw))
	pages := make(map[string]string, len(index.Pages))
	for i, page := range index.Pages {
		svg, ok := pageSVG[page.ID]
		if !ok {
			svg = PageSVG(`<g id="page` + strconv.Itoa(i) + `"/>`)
		}
		pages[page.ID] = mustEncode(t, svg)
	}
	return schematic.Payload{
		UIData:  `{"schTitle":"fixture","uiMode":3}`,
		Index:   encodedIndex,
		Library: mustEncode(t, `<svg xmlns="http://www.w3.org/2000/svg"><defs></defs></svg>`),
		Pages:   pages,
	}
}

// Open encodes index and returns an initialized database.
func Open(t testing.TB, index Index, pageSVG map[string]string) *schematic.Database {
	t.Helper()
	db, err := schematic.Open(schematic.Config{Payload: Payload(t, index, pageSVG)})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	return db
}

// TwoPages returns an index with pages "top" and "sub1".
func TwoPages() Index {
	return Index{
		Pages: []Page{
			{ID: "p0", PageNumber: "1", Instance: "/", Name: "top", Depth: 0, Box: []float64{0, 0, 297, 210}, ContentBox: []float64{10, 10, 200, 150}},
			{ID: "p1", PageNumber: "2", Instance: "/s1", Name: "sub1", Depth: 1, Box: []float64{0, 0, 297, 210}, ContentBox: []float64{20, 20, 100, 80}},
		},
		Comps: map[string][]map[string]any{},
		Nets:  Nets{Names: map[string]string{}, Map: map[string]map[string][]string{}},
		Diffs: map[string][]Pair{},
		Text:  map[string][]int{},
		Pins:  map[string][][2]any{},
	}
}

func mustEncode(t testing.TB, text string) string {
	t.Helper()
	encoded, err := codec.Encode(text)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	return encoded
}
