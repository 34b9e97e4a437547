package merge_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/MarcoPoloResearchLab/schemerge/internal/merge"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic/schematictest"
)

const (
	pairSafe schematic.PairIndex = iota
	pairConflict
	pairPowerGroup
	pairConflictGroup
	pairRedundant
)

func diffIndex() schematictest.Index {
	index := schematictest.TwoPages()
	index.Diffs = map[string][]schematictest.Pair{
		"p0": {
			{{{Text: "R1 value changed to 220", ID: "a1"}}, nil},
			{{{Text: "U1 moved", ID: "b1", Conflict: true}}, {{Text: "U1 rotated", ID: "b2", Conflict: true}}},
		},
		"p1": {
			{nil, {
				{Text: "POWER rail renamed", ID: "c1"},
				{Text: "POWER net label added", ID: "c2"},
				{Text: "POWER flag added", ID: "c3"},
			}},
			{{{Text: "Wire added", ID: "d1", Conflict: true}}, {
				{Text: "Wire removed", ID: "d2", Conflict: true},
				{Text: "Junction removed", ID: "d3", Conflict: true},
			}},
			{{{Text: "power symbol moved", ID: "e1"}}, {{Text: "power symbol moved", ID: "e2"}}},
		},
	}
	return index
}

func newModel(t *testing.T) (*merge.Model, *schematic.DiffStore) {
	t.Helper()
	db := schematictest.Open(t, diffIndex(), nil)
	model, err := merge.New(db, nil)
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	if err := model.Initialize(); err != nil {
		t.Fatalf("failed to initialize model: %v", err)
	}
	return model, db.Diffs()
}

func checked(t *testing.T, store *schematic.DiffStore, id string) bool {
	t.Helper()
	index, ok := store.RecordByID(id)
	if !ok {
		t.Fatalf("unknown diff %s", id)
	}
	return store.Record(index).Checked
}

func expectChecked(t *testing.T, store *schematic.DiffStore, want map[string]bool) {
	t.Helper()
	for id, value := range want {
		if got := checked(t, store, id); got != value {
			t.Fatalf("expected %s checked=%v, got %v", id, value, got)
		}
	}
}

func TestInitializeSetsStartingSelection(t *testing.T) {
	model, store := newModel(t)

	expectChecked(t, store, map[string]bool{
		"a1": true,
		"b1": false, "b2": false,
		"c1": true, "c2": true, "c3": true,
		"d1": false, "d2": false, "d3": false,
		"e1": true, "e2": false,
	})

	b1, _ := store.RecordByID("b1")
	b2, _ := store.RecordByID("b2")
	if !reflect.DeepEqual(store.Record(b1).Excluded, []schematic.RecordIndex{b2}) {
		t.Fatalf("expected b1 to exclude b2, got %v", store.Record(b1).Excluded)
	}
	a1, _ := store.RecordByID("a1")
	if store.Record(a1).Excluded != nil {
		t.Fatalf("safe records must not carry exclusions")
	}
	if !model.IsCollapsed(store.Pair(pairPowerGroup)) || !model.IsCollapsed(store.Pair(pairConflictGroup)) {
		t.Fatalf("multi-row groups must start collapsed")
	}
	if err := model.Initialize(); !errors.Is(err, merge.ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized error, got %v", err)
	}
}

func TestInitializeInViewModeLeavesModelEmpty(t *testing.T) {
	payload := schematictest.Payload(t, diffIndex(), nil)
	payload.UIData = `{"uiMode":1}`
	db, err := schematic.Open(schematic.Config{Payload: payload})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	model, err := merge.New(db, nil)
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	if err := model.Initialize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows := model.Rows(); len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
	if state := model.HeaderState(schematic.Ours); state.Enabled {
		t.Fatalf("expected disabled header, got %+v", state)
	}
}

func TestToggleAppliesConflictExclusion(t *testing.T) {
	model, store := newModel(t)

	if err := model.Toggle("b2", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectChecked(t, store, map[string]bool{"b1": false, "b2": true})

	if err := model.Toggle("b1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectChecked(t, store, map[string]bool{"b1": true, "b2": false})

	if err := model.Toggle("d2", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectChecked(t, store, map[string]bool{"d1": false, "d2": true, "d3": true})

	if err := model.Toggle("d1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectChecked(t, store, map[string]bool{"d1": true, "d2": false, "d3": false})

	if err := model.Toggle("zz", true); !errors.Is(err, merge.ErrUnknownDiff) {
		t.Fatalf("expected unknown diff error, got %v", err)
	}
}

func TestApplyCheckChangeWithoutExclusions(t *testing.T) {
	model, store := newModel(t)
	b1, _ := store.RecordByID("b1")
	b2, _ := store.RecordByID("b2")

	model.ApplyCheckChange(b1, true, false)
	model.ApplyCheckChange(b2, true, false)
	expectChecked(t, store, map[string]bool{"b1": true, "b2": true})
}

func TestCollapsedGroupPropagatesFromRepresentative(t *testing.T) {
	model, store := newModel(t)
	group := store.Pair(pairPowerGroup)

	if err := model.Toggle("c1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectChecked(t, store, map[string]bool{"c1": false, "c2": false, "c3": false})

	if err := model.Toggle("c1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectChecked(t, store, map[string]bool{"c1": true, "c2": true, "c3": true})
	if isChecked, indeterminate := model.GroupState(group, schematic.Theirs); !isChecked || indeterminate {
		t.Fatalf("expected checked group, got checked=%v indeterminate=%v", isChecked, indeterminate)
	}

	if err := model.Toggle("c2", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isChecked, indeterminate := model.GroupState(group, schematic.Theirs); isChecked || !indeterminate {
		t.Fatalf("expected indeterminate group, got checked=%v indeterminate=%v", isChecked, indeterminate)
	}

	for _, row := range model.Rows() {
		if row.Pair != pairPowerGroup {
			continue
		}
		box := row.Boxes[schematic.Theirs]
		if !row.Collapsed || box == nil || !box.Indeterminate || box.Checked || box.Group != 3 {
			t.Fatalf("unexpected collapsed group row %+v box %+v", row, box)
		}
	}
}

func TestExpandedGroupTogglesIndividually(t *testing.T) {
	model, store := newModel(t)

	if err := model.Expand(pairPowerGroup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := model.Toggle("c1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectChecked(t, store, map[string]bool{"c1": false, "c2": true, "c3": true})

	if len(model.Rows()) != 7 {
		t.Fatalf("expected 7 rows after expanding, got %d", len(model.Rows()))
	}
	if err := model.Collapse(pairPowerGroup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(model.Rows()) != 5 {
		t.Fatalf("expected 5 rows after collapsing, got %d", len(model.Rows()))
	}

	if err := model.Collapse(pairSafe); !errors.Is(err, merge.ErrNotGroup) {
		t.Fatalf("expected not group error, got %v", err)
	}
	if err := model.Expand(99); !errors.Is(err, merge.ErrUnknownPair) {
		t.Fatalf("expected unknown pair error, got %v", err)
	}
}

func TestHeaderStateAggregatesVisibleBoxes(t *testing.T) {
	model, _ := newModel(t)

	partial := merge.HeaderState{Enabled: true, Indeterminate: true}
	if got := model.HeaderState(schematic.Ours); got != partial {
		t.Fatalf("unexpected ours header %+v", got)
	}
	if got := model.HeaderState(schematic.Theirs); got != partial {
		t.Fatalf("unexpected theirs header %+v", got)
	}

	model.CheckAll(schematic.Theirs, true)
	if got := model.HeaderState(schematic.Theirs); got != (merge.HeaderState{Enabled: true, Checked: true}) {
		t.Fatalf("expected all theirs checked, got %+v", got)
	}
	if got := model.HeaderState(schematic.Ours); got != (merge.HeaderState{Enabled: true}) {
		t.Fatalf("expected ours cleared, got %+v", got)
	}

	model.CheckAll(schematic.Theirs, false)
	if got := model.HeaderState(schematic.Theirs); got != (merge.HeaderState{Enabled: true}) {
		t.Fatalf("expected theirs cleared, got %+v", got)
	}

	model.FilterChanges("no such change")
	if got := model.HeaderState(schematic.Ours); got != (merge.HeaderState{}) {
		t.Fatalf("expected disabled header when everything is filtered, got %+v", got)
	}
}

func TestFilterThenCheckAllTouchesVisibleRowsOnly(t *testing.T) {
	model, store := newModel(t)
	model.TakeChanges()

	model.FilterChanges("POWER")
	if got := model.VisibleRowCount(); got != 2 {
		t.Fatalf("expected 2 visible rows, got %d", got)
	}

	model.CheckAll(schematic.Ours, true)
	expectChecked(t, store, map[string]bool{
		"a1": true,
		"b1": false, "b2": false,
		"c1": false, "c2": false, "c3": false,
		"d1": false, "d2": false, "d3": false,
		"e1": true, "e2": false,
	})
	for _, id := range model.TakeChanges() {
		if id != "c1" && id != "c2" && id != "c3" {
			t.Fatalf("unexpected change to %s outside the filter", id)
		}
	}
	if got := model.HeaderState(schematic.Ours); got != (merge.HeaderState{Enabled: true, Checked: true}) {
		t.Fatalf("unexpected ours header %+v", got)
	}
	if got := model.HeaderState(schematic.Theirs); got != (merge.HeaderState{Enabled: true}) {
		t.Fatalf("unexpected theirs header %+v", got)
	}

	if err := model.Expand(pairPowerGroup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := model.Rows()
	if len(rows) != 7 || model.VisibleRowCount() != 4 {
		t.Fatalf("expected 4 of 7 rows visible, got %d of %d", model.VisibleRowCount(), len(rows))
	}
	for _, row := range rows {
		wantHidden := row.Pair != pairPowerGroup && row.Pair != pairRedundant
		if row.Hidden != wantHidden {
			t.Fatalf("row %d of pair %d: expected hidden=%v", row.Index, row.Pair, wantHidden)
		}
	}

	model.FilterChanges("")
	if got := model.VisibleRowCount(); got != 7 {
		t.Fatalf("expected every row visible, got %d", got)
	}
}

func TestTakeChangesReportsFlipsOnce(t *testing.T) {
	model, _ := newModel(t)
	model.TakeChanges()

	if err := model.Toggle("a1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changes := model.TakeChanges(); changes != nil {
		t.Fatalf("re-checking a checked record must not report a change, got %v", changes)
	}
	if err := model.Toggle("b1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changes := model.TakeChanges(); !reflect.DeepEqual(changes, []string{"b1"}) {
		t.Fatalf("unexpected changes %v", changes)
	}
}

func TestUnresolvedConflictsAndUncheckedIDs(t *testing.T) {
	model, _ := newModel(t)

	want := []merge.ConflictWarning{
		{Page: 0, PageName: "top", Count: 1},
		{Page: 1, PageName: "sub1", Count: 1},
	}
	if got := model.UnresolvedConflicts(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected warnings %+v", got)
	}
	if got := model.UncheckedIDs(); !reflect.DeepEqual(got, []string{"b1", "b2", "d1", "d2", "d3", "e2"}) {
		t.Fatalf("unexpected unchecked ids %v", got)
	}

	if err := model.Toggle("b2", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := model.UnresolvedConflicts(); !reflect.DeepEqual(got, want[1:]) {
		t.Fatalf("unexpected warnings after resolving page 0: %+v", got)
	}
}

type recordingApplier struct {
	calls [][]string
	err   error
}

func (a *recordingApplier) Apply(_ context.Context, discarded []string) error {
	a.calls = append(a.calls, discarded)
	return a.err
}

func TestSubmitRequiresConfirmationForUnresolvedConflicts(t *testing.T) {
	model, _ := newModel(t)
	applier := &recordingApplier{}

	result, err := model.Submit(context.Background(), applier, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied || len(result.Warnings) != 2 || len(applier.calls) != 0 {
		t.Fatalf("expected blocked submit, got %+v calls=%d", result, len(applier.calls))
	}

	result, err = model.Submit(context.Background(), applier, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Applied || len(applier.calls) != 1 {
		t.Fatalf("expected confirmed submit to apply, got %+v", result)
	}
	if !reflect.DeepEqual(applier.calls[0], model.UncheckedIDs()) {
		t.Fatalf("expected unchecked ids to be discarded, got %v", applier.calls[0])
	}
}

func TestSubmitWithoutConflictsAppliesImmediately(t *testing.T) {
	model, _ := newModel(t)
	for _, id := range []string{"b1", "d1"} {
		if err := model.Toggle(id, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	failure := errors.New("connection refused")
	applier := &recordingApplier{err: failure}

	result, err := model.Submit(context.Background(), applier, false)
	if !errors.Is(err, failure) {
		t.Fatalf("expected apply error, got %v", err)
	}
	if result.Applied || len(applier.calls) != 1 {
		t.Fatalf("expected one failed attempt, got %+v calls=%d", result, len(applier.calls))
	}
	if _, err := model.Submit(context.Background(), nil, true); !errors.Is(err, merge.ErrNoApplier) {
		t.Fatalf("expected missing applier error, got %v", err)
	}
}

func TestConflictFlagOnFirstRecordExcludesWholePair(t *testing.T) {
	index := schematictest.TwoPages()
	index.Diffs = map[string][]schematictest.Pair{
		"p0": {
			{
				{{Text: "U5 moved", ID: "o1", Conflict: true}, {Text: "U5 label moved", ID: "o2"}},
				{{Text: "U5 deleted", ID: "t1"}, {Text: "U5 net removed", ID: "t2"}},
			},
		},
	}
	db := schematictest.Open(t, index, nil)
	model, err := merge.New(db, nil)
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	if err := model.Initialize(); err != nil {
		t.Fatalf("failed to initialize model: %v", err)
	}
	store := db.Diffs()
	for _, id := range []string{"o1", "o2", "t1", "t2"} {
		recordIndex, _ := store.RecordByID(id)
		if len(store.Record(recordIndex).Excluded) != 2 {
			t.Fatalf("expected %s to exclude the opposite side, got %v", id, store.Record(recordIndex).Excluded)
		}
	}
	if err := model.Expand(0); err != nil {
		t.Fatalf("expand failed: %v", err)
	}

	if err := model.Toggle("o1", true); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if err := model.Toggle("t1", true); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	expectChecked(t, store, map[string]bool{"o1": false, "o2": false, "t1": true, "t2": false})

	if err := model.Toggle("o2", true); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	expectChecked(t, store, map[string]bool{"o1": false, "o2": true, "t1": false, "t2": false})

	if err := model.Toggle("o2", false); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if warnings := model.UnresolvedConflicts(); len(warnings) != 1 || warnings[0].Count != 1 {
		t.Fatalf("expected the pair to be reported unresolved, got %+v", warnings)
	}
}

func TestCheckAllRejectsUnknownSide(t *testing.T) {
	model, store := newModel(t)

	if err := model.CheckAll(schematic.Side(2), true); !errors.Is(err, merge.ErrUnknownSide) {
		t.Fatalf("expected unknown side error, got %v", err)
	}
	if err := model.CheckAll(schematic.Side(-1), false); !errors.Is(err, merge.ErrUnknownSide) {
		t.Fatalf("expected unknown side error, got %v", err)
	}
	expectChecked(t, store, map[string]bool{"a1": true, "b1": false, "b2": false})
}
