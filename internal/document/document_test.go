package document

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/schemerge/internal/codec"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
)

const testIndex = `{"pages":[{"id":"p0","pn":"1","inst":"/","name":"top","depth":0,"box":[0,0,297,210],"contentbox":[10,10,200,150]},` +
	`{"id":"p-1","pn":"2","inst":"/s1","name":"sub","depth":1,"box":[0,0,297,210],"contentbox":[0,0,1,1]}],` +
	`"comps":{"R1":[{"\u0000":0,"\u0001":"aaaa-1111","Value":"10k"}]},` +
	`"nets":{"names":{"n1":"GND"},"map":{"0":{"n1":["w1"]}}},"diffs":{},"text":{},"pins":{}}`

func writeBundle(t *testing.T, withUI bool) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "board")
	if err := os.MkdirAll(filepath.Join(dir, pagesDirName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		indexFileName:                            testIndex,
		libraryFileName:                          `<svg><symbol id="r"><rect/></symbol></svg>`,
		filepath.Join(pagesDirName, "p0.svg"):    `<svg><g p="aaaa-1111"><use href="#r"/></g></svg>`,
		filepath.Join(pagesDirName, "p-1.svg"):   `<svg><text>sub sheet</text></svg>`,
		filepath.Join(pagesDirName, "notes.txt"): "ignored",
	}
	if withUI {
		files[uiFileName] = `{"title":"Main Board","version":"1.2","mode":2}`
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadBundleReadsExporterLayout(t *testing.T) {
	bundle, err := LoadBundle(writeBundle(t, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Title != "board" || bundle.Mode != 0 {
		t.Fatalf("unexpected defaults %q/%d", bundle.Title, bundle.Mode)
	}
	if ids := bundle.PageIDs(); len(ids) != 2 || ids[0] != "p-1" || ids[1] != "p0" {
		t.Fatalf("unexpected page ids %v", ids)
	}

	withUI, err := LoadBundle(writeBundle(t, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if withUI.Title != "Main Board" || withUI.Version != "1.2" || withUI.Mode != schematic.ModeDiff {
		t.Fatalf("ui.json not applied: %+v", withUI)
	}
}

func TestLoadBundleRejectsIncompleteBundles(t *testing.T) {
	dir := writeBundle(t, false)
	if err := os.Remove(filepath.Join(dir, pagesDirName, "p-1.svg")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := LoadBundle(dir); !errors.Is(err, ErrMissingPage) {
		t.Fatalf("expected ErrMissingPage, got %v", err)
	}
	if err := os.Remove(filepath.Join(dir, libraryFileName)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := LoadBundle(dir); !errors.Is(err, ErrMissingLibrary) {
		t.Fatalf("expected ErrMissingLibrary, got %v", err)
	}
	if _, err := LoadBundle(t.TempDir()); !errors.Is(err, ErrMissingIndex) {
		t.Fatalf("expected ErrMissingIndex, got %v", err)
	}
}

func TestRenderThenParseRoundTrips(t *testing.T) {
	bundle, err := LoadBundle(writeBundle(t, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out bytes.Buffer
	if err := Render(&out, bundle, RenderOptions{SessionToken: "token-1"}); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	html := out.String()
	for _, fragment := range []string{"<title>Main Board</title>", "var data = '", "library: '", `"p-1": '`} {
		if !strings.Contains(html, fragment) {
			t.Fatalf("document is missing %q", fragment)
		}
	}

	payload, err := Parse(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	svg, err := codec.Decode(payload.Pages["p0"])
	if err != nil || svg != bundle.Pages["p0"] {
		t.Fatalf("page p0 did not round trip: %q %v", svg, err)
	}
	library, err := codec.Decode(payload.Library)
	if err != nil || library != bundle.Library {
		t.Fatalf("library did not round trip: %v", err)
	}
	if _, ok := payload.Pages[libraryKey]; ok {
		t.Fatalf("library must not be listed as a page")
	}

	db, err := schematic.Open(schematic.Config{Payload: payload})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if ui := db.UI(); ui.Title != "Main Board" || ui.SessionToken != "token-1" || ui.Mode != schematic.ModeDiff {
		t.Fatalf("unexpected ui data %+v", ui)
	}
	if db.PageCount() != 2 || db.PageName(1) != "sub" {
		t.Fatalf("unexpected pages %+v", db.Pages())
	}
}

func TestRenderEscapesTitle(t *testing.T) {
	bundle, err := LoadBundle(writeBundle(t, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bundle.Title = "</title><script>"
	var out bytes.Buffer
	if err := Render(&out, bundle, RenderOptions{}); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if strings.Contains(out.String(), "<title></title><script>") {
		t.Fatalf("title was not escaped")
	}
}

func TestParseRejectsDocumentsWithoutPayload(t *testing.T) {
	cases := []string{
		"<html></html>",
		"var data = 'abc';",
		"var data = 'abc'; var pageData = {library: 'x'",
		"var data = 'abc'; var pageData = {library 'x'};",
	}
	for _, input := range cases {
		if _, err := Parse(strings.NewReader(input)); !errors.Is(err, ErrMalformedDocument) {
			t.Fatalf("expected ErrMalformedDocument for %q, got %v", input, err)
		}
	}
}

func TestWriteEscapesPageKeysForScript(t *testing.T) {
	blob, err := codec.Encode("<svg></svg>")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	ids := []string{"</script><b>", "sheet:2", "p\U0001F600"}
	payload := schematic.Payload{UIData: `{"schTitle":"keys"}`, Index: blob, Library: blob, Pages: map[string]string{}}
	for _, id := range ids {
		payload.Pages[id] = blob
	}

	var out bytes.Buffer
	if err := Write(&out, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	html := out.String()
	if strings.Contains(html, "</script><b>") || strings.Contains(html, `\U0001`) {
		t.Fatalf("page keys were not escaped as JSON strings: %s", html)
	}
	if !strings.Contains(html, `"\u003c/script\u003e\u003cb\u003e": '`) {
		t.Fatalf("expected JSON-escaped key in %s", html)
	}

	parsed, err := Parse(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	for _, id := range ids {
		if parsed.Pages[id] != blob {
			t.Fatalf("page %q did not round trip", id)
		}
	}
}
