package session

import (
	"github.com/MarcoPoloResearchLab/schemerge/internal/merge"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"golang.org/x/net/html"
)

// Effects describes what the rendering layer must apply after a command.
// Nil or empty fields mean no change.
type Effects struct {
	Page      *PageRender            `json:"page,omitempty"`
	Hash      string                 `json:"hash,omitempty"`
	Highlight *Highlight             `json:"highlight,omitempty"`
	Match     *schematic.MatchResult `json:"match,omitempty"`
	Changed   []string               `json:"changed,omitempty"`
	Headers   *[2]merge.HeaderState  `json:"headers,omitempty"`
	Rows      []merge.Row            `json:"rows,omitempty"`
	Results   *Results               `json:"results,omitempty"`
	Submit    *merge.SubmitResult    `json:"submit,omitempty"`
	Settings  map[string]string      `json:"settings,omitempty"`
}

// PageRender asks for page Index to be drawn. Fit is the box the viewport
// should zoom to.
type PageRender struct {
	Index      int           `json:"index"`
	Name       string        `json:"name"`
	PageNumber string        `json:"pageNumber"`
	SVG        string        `json:"svg"`
	ViewBox    schematic.Box `json:"viewBox"`
	Fit        schematic.Box `json:"fit"`
}

// Highlight lists the elements to emphasize and pan to. IDs are values of
// Attr on the page; Elements are the matching nodes of the parsed page.
type Highlight struct {
	Page     int                 `json:"page"`
	Kind     schematic.MatchKind `json:"kind"`
	Attr     string              `json:"attr"`
	IDs      []string            `json:"ids"`
	Elements []*html.Node        `json:"-"`
}

// Results is the visible window of the search result list.
type Results struct {
	Query     string                  `json:"query"`
	Total     int                     `json:"total"`
	Page      int                     `json:"page"`
	PageCount int                     `json:"pageCount"`
	Items     []schematic.MatchResult `json:"items"`
	Focus     int                     `json:"focus"`
}
