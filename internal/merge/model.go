// Package merge implements the checkbox-driven diff resolution model: record
// selection with conflict exclusion, collapsible multi-row groups, row
// filtering and the aggregate header state.
package merge

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyInitialized indicates a second Initialize call.
	ErrAlreadyInitialized = errors.New("merge: model already initialized")
	// ErrUnknownDiff indicates a diff ID that is not in the payload.
	ErrUnknownDiff = errors.New("merge: unknown diff")
	// ErrNotGroup indicates a collapse request on a single-row pair.
	ErrNotGroup = errors.New("merge: pair is not a multi-row group")
	// ErrUnknownPair indicates a pair index outside the arena.
	ErrUnknownPair = errors.New("merge: unknown pair")
	// ErrUnknownSide indicates a side other than ours or theirs.
	ErrUnknownSide     = errors.New("merge: unknown side")
	errMissingDatabase = errors.New("merge: database is required")
)

var noOpLogger = zap.NewNop()

// Model tracks selection state over the database's diff arena. It is not
// safe for concurrent use.
type Model struct {
	db     *schematic.Database
	store  *schematic.DiffStore
	logger *zap.Logger

	initialized bool
	filter      string
	layout      []row
	hidden      []bool
	headers     [2]HeaderState
	changed     []schematic.RecordIndex
}

// New constructs an uninitialized Model over db.
func New(db *schematic.Database, logger *zap.Logger) (*Model, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Model{db: db, store: db.Diffs(), logger: logger}, nil
}

// Initialize sets the starting selection for every pair on every page:
// conflicting pairs stay unchecked and every record excludes the whole
// opposite side, safe pairs
// check their populated side. Multi-row groups start collapsed. In view mode
// the model stays empty.
func (m *Model) Initialize() error {
	if m.initialized {
		return ErrAlreadyInitialized
	}
	m.initialized = true
	if m.db.Mode() == schematic.ModeView {
		m.logger.Info("diff model disabled in view mode")
		return nil
	}

	conflicts := 0
	m.db.ForEachDiff(schematic.AllPageDiffs, func(pair *schematic.DiffPair, page int) {
		if m.pairConflicts(pair) {
			conflicts++
			for _, side := range []schematic.Side{schematic.Ours, schematic.Theirs} {
				opposite := pair.Records(side.Opposite())
				for _, index := range pair.Records(side) {
					record := m.store.Record(index)
					record.Checked = false
					if record.Conflict {
						record.Excluded = append([]schematic.RecordIndex(nil), opposite...)
					}
				}
			}
		} else {
			checked := schematic.Ours
			if len(pair.Records(schematic.Ours)) == 0 {
				checked = schematic.Theirs
			}
			for _, index := range pair.Records(checked) {
				m.store.Record(index).Checked = true
			}
			for _, index := range pair.Records(checked.Opposite()) {
				m.store.Record(index).Checked = false
			}
		}
		if pair.Multiple() {
			m.setCollapsed(pair, true)
		}
	})

	m.relayout()
	m.logger.Info("diff model initialized",
		zap.Int("pairs", len(m.store.Pairs)),
		zap.Int("records", len(m.store.Records)),
		zap.Int("conflicts", conflicts),
		zap.Int("rows", len(m.layout)))
	return nil
}

// pairConflicts reports whether the first record of either populated side is
// flagged as a conflict.
func (m *Model) pairConflicts(pair *schematic.DiffPair) bool {
	for _, side := range []schematic.Side{schematic.Ours, schematic.Theirs} {
		records := pair.Records(side)
		if len(records) > 0 && m.store.Record(records[0]).Conflict {
			return true
		}
	}
	return false
}

// Toggle sets the record with the given ID, applying conflict exclusions, and
// recomputes the header state.
func (m *Model) Toggle(id string, value bool) error {
	index, ok := m.store.RecordByID(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDiff, id)
	}
	m.ApplyCheckChange(index, value, true)
	m.RecomputeHeaders()
	return nil
}

// ApplyCheckChange sets record i to value. Turning a conflicting record on
// with applyExclusions first forces its excluded peers off, one level deep.
// The representative of a collapsed group carries the change to the rest of
// its side with exclusions off. Records are reported as changed only when
// their value actually flips.
func (m *Model) ApplyCheckChange(i schematic.RecordIndex, value, applyExclusions bool) {
	record := m.store.Record(i)
	if value && applyExclusions {
		for _, excluded := range record.Excluded {
			m.ApplyCheckChange(excluded, false, false)
		}
	}
	if m.isRepresentative(i) {
		for _, member := range m.store.PairOf(i).Records(record.Side)[1:] {
			m.ApplyCheckChange(member, value, false)
		}
	}
	if record.Checked != value {
		record.Checked = value
		m.changed = append(m.changed, i)
	}
}

// isRepresentative reports whether i is the first record of a collapsed
// multi-record side.
func (m *Model) isRepresentative(i schematic.RecordIndex) bool {
	records := m.store.PairOf(i).Records(m.store.Record(i).Side)
	return len(records) > 1 && records[0] == i && m.store.Record(records[1]).Collapsed
}

// TakeChanges returns the IDs of records whose value flipped since the last
// call, in the order they changed.
func (m *Model) TakeChanges() []string {
	if len(m.changed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(m.changed))
	seen := make(map[schematic.RecordIndex]struct{}, len(m.changed))
	for _, index := range m.changed {
		if _, dup := seen[index]; dup {
			continue
		}
		seen[index] = struct{}{}
		ids = append(ids, m.store.Record(index).ID)
	}
	m.changed = m.changed[:0]
	return ids
}

// CheckAll sets the chosen side of every visible row to value. Turning a
// side on also clears the opposite side on the same visible rows.
func (m *Model) CheckAll(side schematic.Side, value bool) error {
	if !side.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownSide, side)
	}
	m.eachVisibleRow(func(r row) {
		if index, ok := m.boxRecord(r, side); ok {
			m.ApplyCheckChange(index, value, value)
		}
		if !value {
			return
		}
		if index, ok := m.boxRecord(r, side.Opposite()); ok {
			m.ApplyCheckChange(index, false, false)
		}
	})
	m.RecomputeHeaders()
	return nil
}

// Collapse folds a multi-row pair into its first row.
func (m *Model) Collapse(pairIndex schematic.PairIndex) error {
	return m.setGroup(pairIndex, true)
}

// Expand unfolds a collapsed multi-row pair.
func (m *Model) Expand(pairIndex schematic.PairIndex) error {
	return m.setGroup(pairIndex, false)
}

func (m *Model) setGroup(pairIndex schematic.PairIndex, collapsed bool) error {
	if pairIndex < 0 || int(pairIndex) >= len(m.store.Pairs) {
		return fmt.Errorf("%w: %d", ErrUnknownPair, pairIndex)
	}
	pair := m.store.Pair(pairIndex)
	if !pair.Multiple() {
		return fmt.Errorf("%w: %d", ErrNotGroup, pairIndex)
	}
	m.setCollapsed(pair, collapsed)
	m.relayout()
	return nil
}

func (m *Model) setCollapsed(pair *schematic.DiffPair, collapsed bool) {
	for _, side := range []schematic.Side{schematic.Ours, schematic.Theirs} {
		for n, index := range pair.Records(side) {
			m.store.Record(index).Collapsed = collapsed && n > 0
		}
	}
}

// IsCollapsed reports whether a multi-row pair is folded.
func (m *Model) IsCollapsed(pair *schematic.DiffPair) bool {
	for _, side := range []schematic.Side{schematic.Ours, schematic.Theirs} {
		records := pair.Records(side)
		if len(records) > 1 && m.store.Record(records[1]).Collapsed {
			return true
		}
	}
	return false
}

// GroupState derives the checkbox state of one side of a pair from its
// records.
func (m *Model) GroupState(pair *schematic.DiffPair, side schematic.Side) (checked, indeterminate bool) {
	records := pair.Records(side)
	if len(records) == 0 {
		return false, false
	}
	count := 0
	for _, index := range records {
		if m.store.Record(index).Checked {
			count++
		}
	}
	switch count {
	case len(records):
		return true, false
	case 0:
		return false, false
	default:
		return false, true
	}
}

// Store exposes the underlying diff arena.
func (m *Model) Store() *schematic.DiffStore {
	return m.store
}
