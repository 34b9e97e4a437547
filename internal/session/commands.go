package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
)

// Command names as used in the JSON envelope.
const (
	NameSelectPage     = "select_page"
	NameNavigate       = "navigate"
	NameToggleDiff     = "toggle_diff"
	NameCheckAll       = "check_all"
	NameFilterChanges  = "filter_changes"
	NameCollapseGroup  = "collapse_group"
	NameSearch         = "search"
	NameCycleResult    = "cycle_result"
	NameGotoResultPage = "goto_result_page"
	NameInspectElement = "inspect_element"
	NameCrossProbe     = "cross_probe"
	NameSubmit         = "submit"
	NameSetSetting     = "set_setting"
)

// ErrUnknownCommand indicates an envelope whose type names no command.
var ErrUnknownCommand = errors.New("session: unknown command")

// Command is one user or collaborator action handled by Dispatch.
type Command interface {
	Name() string
	run(ctx context.Context, s *Session, fx *Effects) error
}

// SelectPage shows page Page.
type SelectPage struct {
	Page int `json:"page"`
}

// Navigate follows a URL hash: "#page", "#page,target" or a bare refdes.
type Navigate struct {
	Hash string `json:"hash"`
}

// ToggleDiff sets the checked state of one diff record.
type ToggleDiff struct {
	ID      string `json:"id"`
	Checked bool   `json:"checked"`
}

// CheckAll sets every visible record on Side.
type CheckAll struct {
	Side    schematic.Side `json:"side"`
	Checked bool           `json:"checked"`
}

// FilterChanges restricts the diff table to rows containing Query.
type FilterChanges struct {
	Query string `json:"query"`
}

// CollapseGroup collapses or expands a multi-row diff pair.
type CollapseGroup struct {
	Pair      schematic.PairIndex `json:"pair"`
	Collapsed bool                `json:"collapsed"`
}

// Search runs a query across components, nets, pins and text.
type Search struct {
	Query string `json:"query"`
}

// CycleResult focuses the next or previous search result and shows it.
type CycleResult struct {
	Backward bool `json:"backward"`
}

// GotoResultPage shows the 1-based result page Page.
type GotoResultPage struct {
	Page int `json:"page"`
}

// InspectElement resolves the element matched by Selector on the current
// page. Host selects the use element when the target sits inside a symbol.
// With Probe set, a resolved component or net is also sent to the
// cross-probe bridge.
type InspectElement struct {
	Selector string `json:"selector"`
	Host     string `json:"host,omitempty"`
	Probe    bool   `json:"probe,omitempty"`
}

// CrossProbe applies a command received from the external EDA bridge.
type CrossProbe struct {
	Cmd     string `json:"cmd"`
	Targets string `json:"targets"`
}

// Submit applies the selection. Without Confirmed, unresolved conflicts
// are returned as warnings and nothing is applied.
type Submit struct {
	Confirmed bool `json:"confirmed"`
}

// SetSetting persists one viewer setting.
type SetSetting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (SelectPage) Name() string     { return NameSelectPage }
func (Navigate) Name() string       { return NameNavigate }
func (ToggleDiff) Name() string     { return NameToggleDiff }
func (CheckAll) Name() string       { return NameCheckAll }
func (FilterChanges) Name() string  { return NameFilterChanges }
func (CollapseGroup) Name() string  { return NameCollapseGroup }
func (Search) Name() string         { return NameSearch }
func (CycleResult) Name() string    { return NameCycleResult }
func (GotoResultPage) Name() string { return NameGotoResultPage }
func (InspectElement) Name() string { return NameInspectElement }
func (CrossProbe) Name() string     { return NameCrossProbe }
func (Submit) Name() string         { return NameSubmit }
func (SetSetting) Name() string     { return NameSetSetting }

// Envelope is the wire form of a command.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeCommand turns an envelope into its command.
func DecodeCommand(envelope Envelope) (Command, error) {
	var command Command
	switch envelope.Type {
	case NameSelectPage:
		command = decodeInto[SelectPage](envelope.Payload)
	case NameNavigate:
		command = decodeInto[Navigate](envelope.Payload)
	case NameToggleDiff:
		command = decodeInto[ToggleDiff](envelope.Payload)
	case NameCheckAll:
		command = decodeInto[CheckAll](envelope.Payload)
	case NameFilterChanges:
		command = decodeInto[FilterChanges](envelope.Payload)
	case NameCollapseGroup:
		command = decodeInto[CollapseGroup](envelope.Payload)
	case NameSearch:
		command = decodeInto[Search](envelope.Payload)
	case NameCycleResult:
		command = decodeInto[CycleResult](envelope.Payload)
	case NameGotoResultPage:
		command = decodeInto[GotoResultPage](envelope.Payload)
	case NameInspectElement:
		command = decodeInto[InspectElement](envelope.Payload)
	case NameCrossProbe:
		command = decodeInto[CrossProbe](envelope.Payload)
	case NameSubmit:
		command = decodeInto[Submit](envelope.Payload)
	case NameSetSetting:
		command = decodeInto[SetSetting](envelope.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, envelope.Type)
	}
	if invalid, ok := command.(invalidPayload); ok {
		return nil, fmt.Errorf("session: invalid %s payload: %w", envelope.Type, invalid.err)
	}
	return command, nil
}

type invalidPayload struct {
	err error
}

func (invalidPayload) Name() string { return "invalid" }

func (p invalidPayload) run(context.Context, *Session, *Effects) error { return p.err }

func decodeInto[T Command](payload json.RawMessage) Command {
	var command T
	if len(payload) == 0 {
		return command
	}
	if err := json.Unmarshal(payload, &command); err != nil {
		return invalidPayload{err: err}
	}
	return command
}
