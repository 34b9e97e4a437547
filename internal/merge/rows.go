package merge

import (
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
)

// row is one rendered table row: offset within its pair, counted in the same
// space as the table the viewer draws. A collapsed group occupies one row.
type row struct {
	pair   schematic.PairIndex
	offset int
}

// HeaderState is the aggregate checkbox state of one side.
type HeaderState struct {
	Enabled       bool
	Checked       bool
	Indeterminate bool
}

// Box is one checkbox as rendered in a row.
type Box struct {
	Record        schematic.RecordIndex
	ID            string
	Text          string
	Conflict      bool
	Checked       bool
	Indeterminate bool
	Group         int
}

// Row is a rendered table row.
type Row struct {
	Index     int
	Pair      schematic.PairIndex
	Page      int
	Offset    int
	Hidden    bool
	Collapsed bool
	Boxes     [2]*Box
}

func (m *Model) span(pair *schematic.DiffPair) int {
	if pair.Multiple() && m.IsCollapsed(pair) {
		return 1
	}
	n := len(pair.Records(schematic.Ours))
	if theirs := len(pair.Records(schematic.Theirs)); theirs > n {
		n = theirs
	}
	return n
}

// relayout rebuilds the row table after a collapse change, then reapplies
// the filter and header state over the new row space.
func (m *Model) relayout() {
	m.layout = m.layout[:0]
	m.db.ForEachDiff(schematic.AllPageDiffs, func(pair *schematic.DiffPair, _ int) {
		n := m.span(pair)
		for offset := 0; offset < n; offset++ {
			m.layout = append(m.layout, row{pair: pair.Index, offset: offset})
		}
	})
	m.applyFilter()
	m.RecomputeHeaders()
}

// FilterChanges hides every pair whose row texts do not contain query,
// case-insensitively. An empty query shows everything.
func (m *Model) FilterChanges(query string) {
	m.filter = strings.ToLower(strings.TrimSpace(query))
	m.applyFilter()
	m.RecomputeHeaders()
}

// Filter returns the active filter query.
func (m *Model) Filter() string {
	return m.filter
}

func (m *Model) applyFilter() {
	m.hidden = make([]bool, len(m.layout))
	if m.filter == "" {
		return
	}
	counter := 0
	for counter < len(m.layout) {
		pair := m.store.Pair(m.layout[counter].pair)
		n := m.span(pair)
		if !strings.Contains(strings.ToLower(m.pairText(pair)), m.filter) {
			for r := counter; r < counter+n; r++ {
				m.hidden[r] = true
			}
		}
		counter += n
	}
}

func (m *Model) pairText(pair *schematic.DiffPair) string {
	var texts []string
	for _, side := range []schematic.Side{schematic.Ours, schematic.Theirs} {
		for _, index := range pair.Records(side) {
			texts = append(texts, m.store.Record(index).Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (m *Model) eachVisibleRow(fn func(row)) {
	for counter, r := range m.layout {
		if m.hidden[counter] {
			continue
		}
		fn(r)
	}
}

// boxRecord returns the record behind the checkbox of side on r. On a
// collapsed row it is the group representative.
func (m *Model) boxRecord(r row, side schematic.Side) (schematic.RecordIndex, bool) {
	records := m.store.Pair(r.pair).Records(side)
	if r.offset >= len(records) {
		return 0, false
	}
	return records[r.offset], true
}

func (m *Model) box(r row, side schematic.Side) *Box {
	index, ok := m.boxRecord(r, side)
	if !ok {
		return nil
	}
	record := m.store.Record(index)
	b := &Box{
		Record:   index,
		ID:       record.ID,
		Text:     record.Text,
		Conflict: record.Conflict,
		Checked:  record.Checked,
		Group:    1,
	}
	pair := m.store.Pair(r.pair)
	if m.isRepresentative(index) {
		b.Checked, b.Indeterminate = m.GroupState(pair, side)
		b.Group = len(pair.Records(side))
	}
	return b
}

// RecomputeHeaders recounts the visible checkboxes of each side.
func (m *Model) RecomputeHeaders() {
	for _, side := range []schematic.Side{schematic.Ours, schematic.Theirs} {
		total, checked, partial := 0, 0, 0
		m.eachVisibleRow(func(r row) {
			b := m.box(r, side)
			if b == nil {
				return
			}
			total++
			switch {
			case b.Checked:
				checked++
			case b.Indeterminate:
				partial++
			}
		})
		m.headers[side] = headerState(total, checked, partial)
	}
}

func headerState(total, checked, partial int) HeaderState {
	switch {
	case total == 0:
		return HeaderState{}
	case checked == total:
		return HeaderState{Enabled: true, Checked: true}
	case checked == 0 && partial == 0:
		return HeaderState{Enabled: true}
	default:
		return HeaderState{Enabled: true, Indeterminate: true}
	}
}

// HeaderState returns the aggregate state of side as of the last recompute.
func (m *Model) HeaderState(side schematic.Side) HeaderState {
	return m.headers[side]
}

// Rows returns the rendered table, hidden rows included.
func (m *Model) Rows() []Row {
	rows := make([]Row, 0, len(m.layout))
	for counter, r := range m.layout {
		pair := m.store.Pair(r.pair)
		rows = append(rows, Row{
			Index:     counter,
			Pair:      r.pair,
			Page:      pair.Page,
			Offset:    r.offset,
			Hidden:    m.hidden[counter],
			Collapsed: pair.Multiple() && m.IsCollapsed(pair),
			Boxes:     [2]*Box{m.box(r, schematic.Ours), m.box(r, schematic.Theirs)},
		})
	}
	return rows
}

// VisibleRowCount returns the number of rows left by the filter.
func (m *Model) VisibleRowCount() int {
	count := 0
	m.eachVisibleRow(func(row) { count++ })
	return count
}
