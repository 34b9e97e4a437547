package schematic

// Side selects one half of a diff pair.
type Side int

const (
	Ours   Side = 0
	Theirs Side = 1
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	return 1 - s
}

// Valid reports whether s is Ours or Theirs.
func (s Side) Valid() bool {
	return s == Ours || s == Theirs
}

// String returns the side name used in logs and the UI.
func (s Side) String() string {
	if s == Theirs {
		return "theirs"
	}
	return "ours"
}

// RecordIndex addresses a DiffRecord in the arena.
type RecordIndex int

// PairIndex addresses a DiffPair in the arena.
type PairIndex int

// DiffRecord is one selectable change. Excluded is only set on conflicting
// records and lists the opposite side's records.
type DiffRecord struct {
	ID        string
	Text      string
	Checked   bool
	Conflict  bool
	Collapsed bool
	Excluded  []RecordIndex
	Pair      PairIndex
	Side      Side
}

// DiffPair groups the ours and theirs records for one change point on one page.
type DiffPair struct {
	Index PairIndex
	Page  int
	Sides [2][]RecordIndex
}

// Records returns the record indices on side.
func (p *DiffPair) Records(side Side) []RecordIndex {
	return p.Sides[side]
}

// Multiple reports whether either side holds more than one record.
func (p *DiffPair) Multiple() bool {
	return len(p.Sides[Ours]) > 1 || len(p.Sides[Theirs]) > 1
}

// DiffStore is a flat arena of records and pairs; pairs refer to records by
// index and records point back to their pair by index.
type DiffStore struct {
	Records []DiffRecord
	Pairs   []DiffPair
	byPage  [][]PairIndex
	byID    map[string]RecordIndex
}

func newDiffStore(pages int) DiffStore {
	return DiffStore{
		byPage: make([][]PairIndex, pages),
		byID:   make(map[string]RecordIndex),
	}
}

func (s *DiffStore) addPair(page int, sides [2][]wireDiff) {
	pairIndex := PairIndex(len(s.Pairs))
	pair := DiffPair{Index: pairIndex, Page: page}
	for side, diffs := range sides {
		for _, d := range diffs {
			recordIndex := RecordIndex(len(s.Records))
			s.Records = append(s.Records, DiffRecord{
				ID:       d.ID,
				Text:     d.Text,
				Conflict: bool(d.Conflict),
				Pair:     pairIndex,
				Side:     Side(side),
			})
			if _, exists := s.byID[d.ID]; !exists {
				s.byID[d.ID] = recordIndex
			}
			pair.Sides[side] = append(pair.Sides[side], recordIndex)
		}
	}
	s.Pairs = append(s.Pairs, pair)
	s.byPage[page] = append(s.byPage[page], pairIndex)
}

// Record returns the record at i.
func (s *DiffStore) Record(i RecordIndex) *DiffRecord {
	return &s.Records[i]
}

// Pair returns the pair at i.
func (s *DiffStore) Pair(i PairIndex) *DiffPair {
	return &s.Pairs[i]
}

// PairOf returns the pair a record belongs to.
func (s *DiffStore) PairOf(i RecordIndex) *DiffPair {
	return &s.Pairs[s.Records[i].Pair]
}

// RecordByID finds a record by its diff ID.
func (s *DiffStore) RecordByID(id string) (RecordIndex, bool) {
	i, ok := s.byID[id]
	return i, ok
}

// PagePairs returns the pair indices on page in payload order. Pages without
// diffs yield an empty list.
func (s *DiffStore) PagePairs(page int) []PairIndex {
	if page < 0 || page >= len(s.byPage) {
		return nil
	}
	return s.byPage[page]
}

// PageCount returns the number of pages the store was built for.
func (s *DiffStore) PageCount() int {
	return len(s.byPage)
}

// PageSelector chooses which pages ForEachDiff visits.
type PageSelector int

const (
	// CurrentPageDiffs visits the current page only.
	CurrentPageDiffs PageSelector = iota
	// AllPageDiffs visits every page in page order.
	AllPageDiffs
)

// ForEachDiff calls fn for every diff pair on the selected pages. The pair
// pointers address the arena directly so mutations are shared by all callers.
func (db *Database) ForEachDiff(selector PageSelector, fn func(pair *DiffPair, page int)) {
	visit := func(page int) {
		for _, pairIndex := range db.diffs.PagePairs(page) {
			fn(&db.diffs.Pairs[pairIndex], page)
		}
	}
	if selector == CurrentPageDiffs {
		if db.current != AnyPage {
			visit(db.current)
		}
		return
	}
	for page := 0; page < db.diffs.PageCount(); page++ {
		visit(page)
	}
}
