package schematic

import "strings"

// SearchComps matches query against every visible property of every
// component and returns one ranked result per reference designator.
func (db *Database) SearchComps(query string) []MatchResult {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	var results []MatchResult
	for _, refdes := range db.refdesOrder {
		best := Miss(KindComponent)
		for _, inst := range db.comps[refdes] {
			for _, key := range visibleKeys(inst) {
				value := inst[key]
				distance := Match(query, value)
				if distance == NoMatch || !better(distance, value, best) {
					continue
				}
				best = db.componentResult(refdes, AnyPage, key, value)
				best.Distance = distance
			}
		}
		if best.Found() {
			results = append(results, best)
		}
	}
	SortResults(results)
	return results
}

// SearchNets matches query against net and bus names.
func (db *Database) SearchNets(query string) []MatchResult {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	var results []MatchResult
	for _, id := range db.netOrder {
		n := db.nets[id]
		if n.Name == "" {
			continue
		}
		distance := Match(query, n.Name)
		if distance == NoMatch {
			continue
		}
		result := netResult(n, propNetName, n.Name)
		result.Distance = distance
		results = append(results, result)
	}
	SortResults(results)
	return results
}

// SearchPins matches query against pin names.
func (db *Database) SearchPins(query string) []MatchResult {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	var results []MatchResult
	for _, name := range db.pinOrder {
		distance := Match(query, name)
		if distance == NoMatch {
			continue
		}
		refs := db.pins[name]
		pages := make([]int, 0, len(refs))
		for _, ref := range refs {
			pages = append(pages, ref.Page)
		}
		results = append(results, MatchResult{
			Distance: distance,
			Kind:     KindPin,
			Pages:    sortedUnique(pages),
			ID:       name,
			Prop:     "Pin",
			Value:    name,
			Display:  name,
			Data:     PinData{Name: name, Refs: append([]PinRef(nil), refs...)},
		})
	}
	SortResults(results)
	return results
}

// SearchText matches query against free text literals.
func (db *Database) SearchText(query string) []MatchResult {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	var results []MatchResult
	for _, literal := range db.textOrder {
		distance := Match(query, literal)
		if distance == NoMatch {
			continue
		}
		results = append(results, MatchResult{
			Distance: distance,
			Kind:     KindText,
			Pages:    append([]int(nil), db.text[literal]...),
			ID:       literal,
			Prop:     "Text",
			Value:    literal,
			Display:  literal,
			Data:     TextData{Text: literal},
		})
	}
	SortResults(results)
	return results
}
