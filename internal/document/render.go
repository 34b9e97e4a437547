package document

import (
	"encoding/json"
	"io"
	"text/template"

	"github.com/MarcoPoloResearchLab/schemerge/internal/codec"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
)

const (
	themeDefault = "default"
	themeBW      = "bw"
)

// RenderOptions carries per-document values that are not part of the bundle.
type RenderOptions struct {
	SessionToken string
	FeedbackURL  string
}

type pageBlob struct {
	Key  string
	Blob string
}

type templateData struct {
	Title   string
	UIData  string
	Index   string
	Library string
	Pages   []pageBlob
}

// Blobs never contain a quote, backslash, slash or newline, so they are
// written verbatim between single quotes.
var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{html .Title}}</title>
<script>
var uiData = {{.UIData}};
var data = '{{.Index}}';
var pageData = {
library: '{{.Library}}',
{{- range .Pages}}
{{.Key}}: '{{.Blob}}',
{{- end}}
};
</script>
</head>
<body>
<div id="schematic"></div>
</body>
</html>
`))

// Encode compresses and packs every blob of bundle into a payload.
func Encode(bundle Bundle, opts RenderOptions) (schematic.Payload, error) {
	if err := bundle.Validate(); err != nil {
		return schematic.Payload{}, err
	}
	mode := bundle.Mode
	if mode == 0 {
		mode = schematic.ModeMerge
	}
	ui := schematic.UIData{
		Version:      bundle.Version,
		Title:        bundle.Title,
		Mode:         mode,
		FeedbackURL:  opts.FeedbackURL,
		ThemeDefault: themeDefault,
		ThemeBW:      themeBW,
		Themes:       bundle.Themes,
		SessionToken: opts.SessionToken,
	}
	uiJSON, err := json.Marshal(ui)
	if err != nil {
		return schematic.Payload{}, err
	}

	index, err := codec.Encode(string(bundle.Index))
	if err != nil {
		return schematic.Payload{}, err
	}
	library, err := codec.Encode(bundle.Library)
	if err != nil {
		return schematic.Payload{}, err
	}
	pages := make(map[string]string, len(bundle.Pages))
	for id, svg := range bundle.Pages {
		encoded, err := codec.Encode(svg)
		if err != nil {
			return schematic.Payload{}, err
		}
		pages[id] = encoded
	}
	return schematic.Payload{
		UIData:  string(uiJSON),
		Index:   index,
		Library: library,
		Pages:   pages,
	}, nil
}

// Render writes the HTML document for bundle to w.
func Render(w io.Writer, bundle Bundle, opts RenderOptions) error {
	payload, err := Encode(bundle, opts)
	if err != nil {
		return err
	}
	return Write(w, payload)
}

// Write renders an already encoded payload. Page keys are written in sorted
// order so output is reproducible.
func Write(w io.Writer, payload schematic.Payload) error {
	var ui schematic.UIData
	if payload.UIData != "" {
		if err := json.Unmarshal([]byte(payload.UIData), &ui); err != nil {
			return err
		}
	}
	uiJSON := payload.UIData
	if uiJSON == "" {
		uiJSON = "{}"
	}
	bundle := Bundle{Pages: payload.Pages}
	pages := make([]pageBlob, 0, len(payload.Pages))
	for _, id := range bundle.PageIDs() {
		key, err := json.Marshal(id)
		if err != nil {
			return err
		}
		pages = append(pages, pageBlob{Key: string(key), Blob: payload.Pages[id]})
	}
	return documentTemplate.Execute(w, templateData{
		Title:   ui.Title,
		UIData:  uiJSON,
		Index:   payload.Index,
		Library: payload.Library,
		Pages:   pages,
	})
}
