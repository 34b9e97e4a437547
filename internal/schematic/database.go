package schematic

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/codec"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyInitialized indicates a second Init call.
	ErrAlreadyInitialized = errors.New("schematic: database already initialized")
	// ErrNotInitialized indicates use of the database before Init.
	ErrNotInitialized = errors.New("schematic: database not initialized")
	// ErrInvalidIndex indicates that the embedded index could not be decoded.
	ErrInvalidIndex = errors.New("schematic: invalid index")
	// ErrInvalidUIData indicates that the viewer metadata is not valid JSON.
	ErrInvalidUIData = errors.New("schematic: invalid ui data")
	// ErrPageOutOfRange indicates a page index outside the page list.
	ErrPageOutOfRange = errors.New("schematic: page out of range")
	// ErrMissingPageData indicates a page without an embedded SVG blob.
	ErrMissingPageData = errors.New("schematic: missing page data")
	// ErrMissingLibrary indicates a document without a symbol library blob.
	ErrMissingLibrary = errors.New("schematic: missing library data")
)

const defaultCacheSize = 8

var noOpLogger = zap.NewNop()

// Config describes the inputs required to build a Database.
type Config struct {
	Payload   Payload
	Logger    *zap.Logger
	CacheSize int
}

// Database is the in-memory schematic index. It is not safe for concurrent
// mutation; a viewer session serializes access.
type Database struct {
	payload     Payload
	logger      *zap.Logger
	cache       *pageCache
	initialized bool

	ui       UIData
	pages    []Page
	pageByID map[string]int
	current  int

	comps         map[string][]Instance
	refdesOrder   []string
	refdesByLower map[string]string
	pathIndex     []map[string]string

	nets        map[string]*Net
	netOrder    []string
	netsByName  map[string][]string
	netsByLower map[string][]string
	nodeIndex   []map[string]string

	pins      map[string][]PinRef
	pinOrder  []string
	text      map[string][]int
	textOrder []string

	diffs DiffStore
}

// New constructs an uninitialized Database over payload.
func New(cfg Config) *Database {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Database{
		payload: cfg.Payload,
		logger:  logger,
		cache:   newPageCache(size, logger),
		current: AnyPage,
	}
}

// Open builds and initializes a Database in one step.
func Open(cfg Config) (*Database, error) {
	db := New(cfg)
	if err := db.Init(); err != nil {
		return nil, err
	}
	return db, nil
}

// Init decodes the viewer metadata and index and builds the secondary
// indices. It must be called exactly once.
func (db *Database) Init() error {
	if db.initialized {
		return ErrAlreadyInitialized
	}

	if strings.TrimSpace(db.payload.UIData) != "" {
		if err := json.Unmarshal([]byte(db.payload.UIData), &db.ui); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidUIData, err)
		}
	}
	if db.ui.Mode == 0 {
		db.ui.Mode = ModeMerge
	}

	text, err := codec.Decode(db.payload.Index)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIndex, err)
	}
	var index wireIndex
	if err := json.Unmarshal([]byte(text), &index); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIndex, err)
	}

	db.loadPages(index.Pages)
	if err := db.loadComponents(index.Comps); err != nil {
		return err
	}
	if err := db.loadNets(index.Nets); err != nil {
		return err
	}
	if err := db.loadPins(index.Pins); err != nil {
		return err
	}
	db.loadText(index.Text)
	db.loadDiffs(index.Diffs)

	db.initialized = true
	db.logger.Info("schematic database initialized",
		zap.Int("pages", len(db.pages)),
		zap.Int("components", len(db.comps)),
		zap.Int("nets", len(db.nets)),
		zap.Int("diff_pairs", len(db.diffs.Pairs)),
		zap.Int("diff_records", len(db.diffs.Records)))
	return nil
}

func (db *Database) loadPages(pages []wirePage) {
	db.pages = make([]Page, 0, len(pages))
	db.pageByID = make(map[string]int, len(pages))
	for i, wp := range pages {
		ref := wp.SVG
		if ref == "" {
			ref = wp.ID
		}
		db.pages = append(db.pages, Page{
			ID:         wp.ID,
			Name:       wp.Name,
			PageNumber: string(wp.PageNumber),
			Depth:      wp.Depth,
			ViewBox:    toBox(wp.Box),
			ContentBox: toBox(wp.ContentBox),
			Instance:   wp.Instance,
			SVGRef:     ref,
		})
		if _, exists := db.pageByID[wp.ID]; !exists {
			db.pageByID[wp.ID] = i
		}
	}
	db.pathIndex = make([]map[string]string, len(db.pages))
	db.nodeIndex = make([]map[string]string, len(db.pages))
	for i := range db.pages {
		db.pathIndex[i] = make(map[string]string)
		db.nodeIndex[i] = make(map[string]string)
	}
}

func (db *Database) loadComponents(comps map[string][]map[string]flexStr) error {
	db.comps = make(map[string][]Instance, len(comps))
	db.refdesByLower = make(map[string]string, len(comps))
	for refdes, rawInstances := range comps {
		instances := make([]Instance, 0, len(rawInstances))
		for _, raw := range rawInstances {
			inst := make(Instance, len(raw))
			for key, value := range raw {
				inst[key] = string(value)
			}
			page := inst.Page()
			if page < 0 || page >= len(db.pages) {
				return fmt.Errorf("%w: component %s references page %q", ErrInvalidIndex, refdes, inst[PropPage])
			}
			if path := inst.Path(); path != "" {
				db.pathIndex[page][strings.ToLower(path)] = refdes
			}
			instances = append(instances, inst)
		}
		db.comps[refdes] = instances
		// FIXME: namespace collision between refdes differing only by case
		lower := strings.ToLower(refdes)
		if existing, ok := db.refdesByLower[lower]; !ok || refdes < existing {
			db.refdesByLower[lower] = refdes
		}
		db.refdesOrder = append(db.refdesOrder, refdes)
	}
	sort.Strings(db.refdesOrder)
	return nil
}

func (db *Database) loadNets(wn wireNets) error {
	db.nets = make(map[string]*Net, len(wn.Names)+len(wn.Buses))
	db.netsByName = make(map[string][]string)
	db.netsByLower = make(map[string][]string)

	netFor := func(id string) *Net {
		n, ok := db.nets[id]
		if !ok {
			n = &Net{ID: id, Name: wn.Names[id], Members: make(map[int][]string)}
			db.nets[id] = n
		}
		return n
	}
	for id := range wn.Names {
		netFor(id)
	}
	for id, members := range wn.Buses {
		bus := netFor(id)
		bus.IsBus = true
		bus.BusMembers = append([]string(nil), members...)
	}
	for pageKey, nets := range wn.Map {
		page, err := strconv.Atoi(pageKey)
		if err != nil || page < 0 || page >= len(db.pages) {
			return fmt.Errorf("%w: net map references page %q", ErrInvalidIndex, pageKey)
		}
		for id, nodes := range nets {
			n := netFor(id)
			n.Members[page] = append(n.Members[page], nodes...)
			for _, node := range nodes {
				db.nodeIndex[page][node] = id
			}
		}
	}

	for id, n := range db.nets {
		db.netOrder = append(db.netOrder, id)
		if n.Name == "" {
			continue
		}
		db.netsByName[n.Name] = append(db.netsByName[n.Name], id)
		lower := strings.ToLower(n.Name)
		db.netsByLower[lower] = append(db.netsByLower[lower], id)
	}
	sort.Strings(db.netOrder)
	for _, ids := range db.netsByName {
		sort.Strings(ids)
	}
	for _, ids := range db.netsByLower {
		sort.Strings(ids)
	}
	return nil
}

func (db *Database) loadPins(pins map[string][][2]flexStr) error {
	db.pins = make(map[string][]PinRef, len(pins))
	for name, refs := range pins {
		list := make([]PinRef, 0, len(refs))
		for _, ref := range refs {
			page, err := strconv.Atoi(string(ref[0]))
			if err != nil || page < 0 || page >= len(db.pages) {
				return fmt.Errorf("%w: pin %s references page %q", ErrInvalidIndex, name, ref[0])
			}
			list = append(list, PinRef{Page: page, Refdes: string(ref[1])})
		}
		db.pins[name] = list
		db.pinOrder = append(db.pinOrder, name)
	}
	sort.Strings(db.pinOrder)
	return nil
}

func (db *Database) loadText(text map[string][]int) {
	db.text = make(map[string][]int, len(text))
	for literal, pages := range text {
		db.text[literal] = sortedUnique(append([]int(nil), pages...))
		db.textOrder = append(db.textOrder, literal)
	}
	sort.Strings(db.textOrder)
}

func (db *Database) loadDiffs(diffs map[string][][][]wireDiff) {
	db.diffs = newDiffStore(len(db.pages))
	for page, p := range db.pages {
		pairs, ok := diffs[p.ID]
		if !ok {
			continue
		}
		for _, pair := range pairs {
			var sides [2][]wireDiff
			for side := 0; side < len(pair) && side < 2; side++ {
				sides[side] = pair[side]
			}
			db.diffs.addPair(page, sides)
		}
	}
	for id := range diffs {
		if _, ok := db.pageByID[id]; !ok {
			db.logger.Warn("diffs reference unknown page", zap.String("page_id", id))
		}
	}
}

// UI returns the decoded viewer metadata.
func (db *Database) UI() UIData {
	return db.ui
}

// Mode returns the viewer mode recorded in the metadata.
func (db *Database) Mode() Mode {
	return db.ui.Mode
}

// PageCount returns the number of pages.
func (db *Database) PageCount() int {
	return len(db.pages)
}

// Pages returns a copy of the page list.
func (db *Database) Pages() []Page {
	return append([]Page(nil), db.pages...)
}

// Page returns the page at index i.
func (db *Database) Page(i int) (Page, bool) {
	if i < 0 || i >= len(db.pages) {
		return Page{}, false
	}
	return db.pages[i], true
}

// SetInstance replaces the hierarchical instance path of page i. It is the
// only page field that changes after Init.
func (db *Database) SetInstance(i int, instance string) error {
	if i < 0 || i >= len(db.pages) {
		return fmt.Errorf("%w: %d", ErrPageOutOfRange, i)
	}
	db.pages[i].Instance = instance
	return nil
}

// PageName returns the display name of page i, or "" when out of range.
func (db *Database) PageName(i int) string {
	page, _ := db.Page(i)
	return page.Name
}

// PageViewBox returns the full view box of page i, worksheet included.
func (db *Database) PageViewBox(i int) Box {
	page, _ := db.Page(i)
	return page.ViewBox
}

// PageContentBox returns the bounding box of page i without the worksheet.
func (db *Database) PageContentBox(i int) Box {
	page, _ := db.Page(i)
	return page.ContentBox
}

// PageByName returns the index of the first page named name, or AnyPage.
func (db *Database) PageByName(name string) int {
	for i, page := range db.pages {
		if page.Name == name {
			return i
		}
	}
	lower := strings.ToLower(name)
	for i, page := range db.pages {
		if strings.ToLower(page.Name) == lower {
			return i
		}
	}
	return AnyPage
}

// PageByID returns the index of the page with the given ID, or AnyPage.
func (db *Database) PageByID(id string) int {
	if i, ok := db.pageByID[id]; ok {
		return i
	}
	return AnyPage
}

// CurrentPage returns the selected page index, or AnyPage before the first selection.
func (db *Database) CurrentPage() int {
	return db.current
}

// SelectPage makes page i current and returns its SVG. When i is already
// current it returns changed=false and no SVG; callers skip the redraw.
func (db *Database) SelectPage(i int) (svg string, changed bool, err error) {
	if !db.initialized {
		return "", false, ErrNotInitialized
	}
	if i == db.current {
		return "", false, nil
	}
	svg, err = db.PageSVG(i)
	if err != nil {
		return "", false, err
	}
	db.current = i
	return svg, true, nil
}

// PageSVG decodes the SVG of page i without changing the current page.
func (db *Database) PageSVG(i int) (string, error) {
	if i < 0 || i >= len(db.pages) {
		return "", fmt.Errorf("%w: %d", ErrPageOutOfRange, i)
	}
	encoded, ok := db.payload.Pages[db.pages[i].SVGRef]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingPageData, db.pages[i].SVGRef)
	}
	return db.cache.decode(encoded)
}

// LibrarySVG decodes the shared symbol library.
func (db *Database) LibrarySVG() (string, error) {
	if db.payload.Library == "" {
		return "", ErrMissingLibrary
	}
	return db.cache.decode(db.payload.Library)
}

// RefdesList returns every reference designator in sorted order.
func (db *Database) RefdesList() []string {
	return append([]string(nil), db.refdesOrder...)
}

// NetList returns every net and bus ID in sorted order.
func (db *Database) NetList() []string {
	return append([]string(nil), db.netOrder...)
}

// Net returns the net or bus with the given ID.
func (db *Database) Net(id string) (*Net, bool) {
	n, ok := db.nets[id]
	return n, ok
}

// Instances returns the instances of refdes (case-insensitive) on page, or
// on every page for AnyPage.
func (db *Database) Instances(refdes string, page int) []Instance {
	canonical, ok := db.refdesByLower[strings.ToLower(refdes)]
	if !ok {
		return nil
	}
	var out []Instance
	for _, inst := range db.comps[canonical] {
		if page == AnyPage || inst.Page() == page {
			out = append(out, inst)
		}
	}
	return out
}

// CompProp returns prop of the first instance of refdes on page.
func (db *Database) CompProp(refdes, prop string, page int) string {
	for _, inst := range db.Instances(refdes, page) {
		if value, ok := inst[prop]; ok {
			return value
		}
	}
	return ""
}

// RefdesByPath maps an instance path on page back to its reference designator.
func (db *Database) RefdesByPath(page int, path string) string {
	if page < 0 || page >= len(db.pathIndex) {
		return ""
	}
	return db.pathIndex[page][strings.ToLower(path)]
}

// CompIDs returns the instance paths of refdes on page; these are the
// component container IDs in the page SVG.
func (db *Database) CompIDs(refdes string, page int) []string {
	var ids []string
	for _, inst := range db.Instances(refdes, page) {
		if path := inst.Path(); path != "" {
			ids = append(ids, path)
		}
	}
	return ids
}

// NetIDs returns the node IDs of net id on page. A bus contributes its own
// nodes and those of every member net.
func (db *Database) NetIDs(id string, page int) []string {
	n, ok := db.nets[id]
	if !ok {
		return nil
	}
	var ids []string
	seen := make(map[string]struct{})
	add := func(net *Net) {
		for p, nodes := range net.Members {
			if page != AnyPage && p != page {
				continue
			}
			for _, node := range nodes {
				if _, dup := seen[node]; dup {
					continue
				}
				seen[node] = struct{}{}
				ids = append(ids, node)
			}
		}
	}
	add(n)
	if n.IsBus {
		for _, member := range n.BusMembers {
			if m, ok := db.nets[member]; ok {
				add(m)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// NetName returns the display name of net id.
func (db *Database) NetName(id string) string {
	if n, ok := db.nets[id]; ok {
		return n.Name
	}
	return ""
}

// Diffs exposes the diff arena.
func (db *Database) Diffs() *DiffStore {
	return &db.diffs
}

func sortedUnique(values []int) []int {
	sort.Ints(values)
	out := values[:0]
	for i, v := range values {
		if i == 0 || v != values[i-1] {
			out = append(out, v)
		}
	}
	return out
}
