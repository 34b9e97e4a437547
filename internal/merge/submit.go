package merge

import (
	"context"
	"errors"
	"sort"

	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"go.uber.org/zap"
)

// ErrNoApplier indicates a submit without an apply collaborator.
var ErrNoApplier = errors.New("merge: applier is required")

// Applier hands the discarded diff IDs to the apply collaborator.
type Applier interface {
	Apply(ctx context.Context, discarded []string) error
}

// ConflictWarning reports the unresolved conflicts on one page.
type ConflictWarning struct {
	Page     int
	PageName string
	Count    int
}

// SubmitResult describes the outcome of a submit request.
type SubmitResult struct {
	Warnings  []ConflictWarning
	Discarded []string
	Applied   bool
}

// UnresolvedConflicts lists the pages holding conflicting pairs where
// neither side has a checked record, in page order.
func (m *Model) UnresolvedConflicts() []ConflictWarning {
	counts := make(map[int]int)
	m.db.ForEachDiff(schematic.AllPageDiffs, func(pair *schematic.DiffPair, page int) {
		if !m.pairConflicts(pair) {
			return
		}
		for _, side := range []schematic.Side{schematic.Ours, schematic.Theirs} {
			for _, index := range pair.Records(side) {
				if m.store.Record(index).Checked {
					return
				}
			}
		}
		counts[page]++
	})
	pages := make([]int, 0, len(counts))
	for page := range counts {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	warnings := make([]ConflictWarning, 0, len(pages))
	for _, page := range pages {
		warnings = append(warnings, ConflictWarning{Page: page, PageName: m.db.PageName(page), Count: counts[page]})
	}
	return warnings
}

// UncheckedIDs returns the IDs of every unchecked record in payload order.
// These are the hunks the apply collaborator discards.
func (m *Model) UncheckedIDs() []string {
	ids := make([]string, 0, len(m.store.Records))
	seen := make(map[string]struct{}, len(m.store.Records))
	for i := range m.store.Records {
		record := &m.store.Records[i]
		if record.Checked {
			continue
		}
		if _, dup := seen[record.ID]; dup {
			continue
		}
		seen[record.ID] = struct{}{}
		ids = append(ids, record.ID)
	}
	return ids
}

// Submit sends the unchecked IDs to applier. Unresolved conflicts stop the
// submit unless confirmed; the warnings are returned either way. Apply
// failures are returned as-is.
func (m *Model) Submit(ctx context.Context, applier Applier, confirmed bool) (SubmitResult, error) {
	result := SubmitResult{Warnings: m.UnresolvedConflicts()}
	if len(result.Warnings) > 0 && !confirmed {
		return result, nil
	}
	if applier == nil {
		return result, ErrNoApplier
	}
	result.Discarded = m.UncheckedIDs()
	if err := applier.Apply(ctx, result.Discarded); err != nil {
		m.logger.Warn("apply failed", zap.Int("discarded", len(result.Discarded)), zap.Error(err))
		return result, err
	}
	result.Applied = true
	m.logger.Info("merge applied",
		zap.Int("discarded", len(result.Discarded)),
		zap.Int("unresolved_pages", len(result.Warnings)))
	return result, nil
}
