package shell

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/merge"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"github.com/MarcoPoloResearchLab/schemerge/internal/session"
)

func (s *Shell) printEffects(fx session.Effects) {
	if fx.Page != nil {
		fmt.Fprintf(s.out, "page %d/%d %s (%s)\n", fx.Page.Index+1, s.session.Database().PageCount(), fx.Page.Name, fx.Page.PageNumber)
	}
	if fx.Match != nil {
		fmt.Fprintf(s.out, "%s %s\n", fx.Match.Kind, fx.Match.Display)
	}
	if fx.Highlight != nil && len(fx.Highlight.IDs) > 0 {
		fmt.Fprintf(s.out, "highlight %d element(s) [%s=%s]\n", len(fx.Highlight.Elements), fx.Highlight.Attr, strings.Join(fx.Highlight.IDs, ","))
	}
	if fx.Hash != "" {
		fmt.Fprintln(s.out, fx.Hash)
	}
	if fx.Results != nil {
		s.printResults(fx.Results)
	}
	if len(fx.Changed) > 0 {
		fmt.Fprintf(s.out, "changed: %s\n", strings.Join(fx.Changed, ", "))
	}
	if fx.Headers != nil {
		fmt.Fprintf(s.out, "ours %s | theirs %s\n", headerText(fx.Headers[schematic.Ours]), headerText(fx.Headers[schematic.Theirs]))
	}
	if fx.Rows != nil {
		s.printRows(fx.Rows)
	}
	if fx.Submit != nil {
		s.printSubmit(fx.Submit)
	}
	for _, key := range sortedKeys(fx.Settings) {
		fmt.Fprintf(s.out, "%s = %s\n", key, fx.Settings[key])
	}
}

func (s *Shell) printResults(results *session.Results) {
	if results.Total == 0 {
		fmt.Fprintf(s.out, "no results for %q\n", results.Query)
		return
	}
	fmt.Fprintf(s.out, "%d result(s), page %d/%d\n", results.Total, results.Page+1, results.PageCount)
	for i, item := range results.Items {
		marker := " "
		if i == results.Focus {
			marker = ">"
		}
		fmt.Fprintf(s.out, "%s %-9s %-16s %s=%s pages %v\n", marker, item.Kind, item.Display, item.Prop, item.Value, oneBased(item.Pages))
	}
}

func (s *Shell) printRows(rows []merge.Row) {
	for _, row := range rows {
		if row.Hidden {
			continue
		}
		group := " "
		if row.Collapsed {
			group = "+"
		}
		fmt.Fprintf(s.out, "%s pair %-3d p%-2d %-36s | %s\n", group, row.Pair, row.Page+1, boxText(row.Boxes[schematic.Ours]), boxText(row.Boxes[schematic.Theirs]))
	}
}

func (s *Shell) printConflicts(warnings []merge.ConflictWarning) {
	if len(warnings) == 0 {
		fmt.Fprintln(s.out, "no unresolved conflicts")
		return
	}
	for _, warning := range warnings {
		fmt.Fprintf(s.out, "page %d %s: %d unresolved conflict(s)\n", warning.Page+1, warning.PageName, warning.Count)
	}
}

func (s *Shell) printSubmit(result *merge.SubmitResult) {
	if !result.Applied {
		s.printConflicts(result.Warnings)
		fmt.Fprintln(s.out, "not applied; use 'submit force' to apply anyway")
		return
	}
	fmt.Fprintf(s.out, "applied, %d change(s) discarded\n", len(result.Discarded))
}

func boxText(box *merge.Box) string {
	if box == nil {
		return ""
	}
	state := "[ ]"
	switch {
	case box.Indeterminate:
		state = "[-]"
	case box.Checked:
		state = "[x]"
	}
	conflict := ""
	if box.Conflict {
		conflict = " !"
	}
	return fmt.Sprintf("%s %s %s%s", state, box.ID, box.Text, conflict)
}

func headerText(state merge.HeaderState) string {
	switch {
	case !state.Enabled:
		return "-"
	case state.Indeterminate:
		return "[-]"
	case state.Checked:
		return "[x]"
	default:
		return "[ ]"
	}
}

func oneBased(pages []int) []int {
	out := make([]int, len(pages))
	for i, page := range pages {
		out[i] = page + 1
	}
	return out
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
