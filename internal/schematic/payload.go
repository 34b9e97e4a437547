package schematic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is the encoded data embedded in a schematic document.
type Payload struct {
	// UIData is plain JSON describing the viewer (title, mode, themes).
	UIData string
	// Index is the encoded page/component/net/diff index.
	Index string
	// Library is the encoded SVG symbol library shared by all pages.
	Library string
	// Pages maps page IDs to encoded page SVG.
	Pages map[string]string
}

// Mode selects how the viewer presents diffs.
type Mode int

const (
	ModeView  Mode = 1
	ModeDiff  Mode = 2
	ModeMerge Mode = 3
)

// UIData is the decoded viewer metadata.
type UIData struct {
	Version      string                     `json:"vers"`
	Title        string                     `json:"schTitle"`
	SchVersion   string                     `json:"schVers"`
	Mode         Mode                       `json:"uiMode"`
	DiffIcon     string                     `json:"diffIcon"`
	FeedbackURL  string                     `json:"fbUrl"`
	ThemeDefault string                     `json:"themeDefault"`
	ThemeBW      string                     `json:"themeBW"`
	Themes       map[string]json.RawMessage `json:"themes"`
	SessionToken string                     `json:"sessionToken,omitempty"`
}

type wireIndex struct {
	Pages []wirePage                      `json:"pages"`
	Comps map[string][]map[string]flexStr `json:"comps"`
	Nets  wireNets                        `json:"nets"`
	Diffs map[string][][][]wireDiff       `json:"diffs"`
	Text  map[string][]int                `json:"text"`
	Pins  map[string][][2]flexStr         `json:"pins"`
}

type wirePage struct {
	ID         string    `json:"id"`
	PageNumber flexStr   `json:"pn"`
	Instance   string    `json:"inst"`
	Name       string    `json:"name"`
	Depth      int       `json:"depth"`
	Box        []float64 `json:"box"`
	ContentBox []float64 `json:"contentbox"`
	SVG        string    `json:"svg,omitempty"`
}

type wireNets struct {
	Names map[string]string              `json:"names"`
	Map   map[string]map[string][]string `json:"map"`
	Buses map[string][]string            `json:"buses"`
}

type wireDiff struct {
	Text     string   `json:"text"`
	ID       string   `json:"id"`
	Conflict flexBool `json:"c"`
}

// flexStr accepts JSON strings and numbers.
type flexStr string

func (s *flexStr) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = flexStr(value)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = flexStr(number.String())
	return nil
}

// flexBool accepts JSON booleans and 0/1 numbers.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*b = true
	case "false", "null", "0", "":
		*b = false
	default:
		number, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("expected boolean, got %s", data)
		}
		*b = number != 0
	}
	return nil
}

func toBox(values []float64) Box {
	var box Box
	copy(box[:], values)
	return box
}
