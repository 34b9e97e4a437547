package schematic

import "strings"

// LookupComp resolves a reference designator (case-insensitive) or, failing
// that, an instance path. A page restricts path resolution and the returned
// instances; AnyPage searches every page.
func (db *Database) LookupComp(refdesOrPath string, page int) MatchResult {
	key := strings.ToLower(strings.TrimSpace(refdesOrPath))
	if key == "" {
		return Miss(KindComponent)
	}

	if refdes, ok := db.refdesByLower[key]; ok {
		return db.componentResult(refdes, page, PropReference, refdes)
	}

	lookupPath := func(p int) (MatchResult, bool) {
		refdes, ok := db.pathIndex[p][key]
		if !ok {
			return MatchResult{}, false
		}
		result := db.componentResult(refdes, p, PropPath, refdesOrPath)
		result.Pages = []int{p}
		for _, inst := range db.comps[refdes] {
			if inst.Page() == p && strings.ToLower(inst.Path()) == key {
				result.Data = ComponentData{Refdes: refdes, Instances: []Instance{inst}}
				break
			}
		}
		return result, true
	}
	if page != AnyPage {
		if page >= 0 && page < len(db.pathIndex) {
			if result, ok := lookupPath(page); ok {
				return result
			}
		}
		return Miss(KindComponent)
	}
	for p := range db.pathIndex {
		if result, ok := lookupPath(p); ok {
			return result
		}
	}
	return Miss(KindComponent)
}

func (db *Database) componentResult(refdes string, page int, prop, value string) MatchResult {
	all := db.comps[refdes]
	pages := make([]int, 0, len(all))
	for _, inst := range all {
		pages = append(pages, inst.Page())
	}
	instances := all
	if page != AnyPage {
		var onPage []Instance
		for _, inst := range all {
			if inst.Page() == page {
				onPage = append(onPage, inst)
			}
		}
		if len(onPage) > 0 {
			instances = onPage
		}
	}
	return MatchResult{
		Distance: 0,
		Kind:     KindComponent,
		Pages:    sortedUnique(pages),
		ID:       refdes,
		Prop:     prop,
		Value:    value,
		Display:  refdes,
		Data:     ComponentData{Refdes: refdes, Instances: instances},
	}
}

// LookupNet resolves a net or bus by, in order: exact ID, membership of a
// node ID on page (the current page for AnyPage), exact name, and
// case-insensitive name.
func (db *Database) LookupNet(nameOrID string, page int) MatchResult {
	if nameOrID == "" {
		return Miss(KindNet)
	}
	if n, ok := db.nets[nameOrID]; ok {
		return netResult(n, "ID", nameOrID)
	}

	if page == AnyPage {
		page = db.current
	}
	if page >= 0 && page < len(db.nodeIndex) {
		if id, ok := db.nodeIndex[page][nameOrID]; ok {
			return netResult(db.nets[id], "ID", nameOrID)
		}
	}

	// FIXME: local and global nets may share a name; the first ID wins
	if ids := db.netsByName[nameOrID]; len(ids) > 0 {
		return netResult(db.nets[ids[0]], propNetName, nameOrID)
	}
	if ids := db.netsByLower[strings.ToLower(nameOrID)]; len(ids) > 0 {
		n := db.nets[ids[0]]
		return netResult(n, propNetName, n.Name)
	}
	return Miss(KindNet)
}

func netResult(n *Net, prop, value string) MatchResult {
	data := NetData{Net: n}
	return MatchResult{
		Distance: 0,
		Kind:     data.matchKind(),
		Pages:    n.Pages(),
		ID:       n.ID,
		Prop:     prop,
		Value:    value,
		Display:  n.Name,
		Data:     data,
	}
}
