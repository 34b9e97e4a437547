package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
)

const (
	uiDataMarker   = "var uiData = "
	dataMarker     = "var data = '"
	pageDataMarker = "var pageData = {"
	libraryKey     = "library"
)

// ErrMalformedDocument indicates HTML that does not carry an embedded payload.
var ErrMalformedDocument = errors.New("document: malformed document")

// Parse extracts the embedded payload from a rendered document.
func Parse(r io.Reader) (schematic.Payload, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return schematic.Payload{}, err
	}
	text := string(raw)

	var payload schematic.Payload
	if start := strings.Index(text, uiDataMarker); start >= 0 {
		var ui json.RawMessage
		decoder := json.NewDecoder(strings.NewReader(text[start+len(uiDataMarker):]))
		if err := decoder.Decode(&ui); err != nil {
			return schematic.Payload{}, fmt.Errorf("%w: ui data: %v", ErrMalformedDocument, err)
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, ui); err != nil {
			return schematic.Payload{}, fmt.Errorf("%w: ui data: %v", ErrMalformedDocument, err)
		}
		payload.UIData = compact.String()
	}

	index, ok := quotedAfter(text, dataMarker)
	if !ok {
		return schematic.Payload{}, fmt.Errorf("%w: no index data", ErrMalformedDocument)
	}
	payload.Index = index

	start := strings.Index(text, pageDataMarker)
	if start < 0 {
		return schematic.Payload{}, fmt.Errorf("%w: no page data", ErrMalformedDocument)
	}
	blobs, err := scanPageData(text[start+len(pageDataMarker):])
	if err != nil {
		return schematic.Payload{}, err
	}
	payload.Library = blobs[libraryKey]
	delete(blobs, libraryKey)
	payload.Pages = blobs
	return payload, nil
}

// quotedAfter returns the single-quoted literal that opens at marker.
func quotedAfter(text, marker string) (string, bool) {
	start := strings.Index(text, marker)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(marker):]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// scanPageData reads `key: 'blob',` entries up to the closing brace.
func scanPageData(rest string) (map[string]string, error) {
	blobs := make(map[string]string)
	for {
		rest = strings.TrimLeft(rest, " \t\r\n,")
		if rest == "" {
			return nil, fmt.Errorf("%w: unterminated page data", ErrMalformedDocument)
		}
		if rest[0] == '}' {
			return blobs, nil
		}
		key, after, err := splitKey(rest)
		if err != nil {
			return nil, err
		}
		rest = strings.TrimLeft(after, " \t")
		if rest == "" || rest[0] != '\'' {
			return nil, fmt.Errorf("%w: page %s has no blob", ErrMalformedDocument, key)
		}
		end := strings.IndexByte(rest[1:], '\'')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated blob for page %s", ErrMalformedDocument, key)
		}
		blobs[key] = rest[1 : end+1]
		rest = rest[end+2:]
	}
}

// splitKey reads one page key and the colon after it. Double-quoted keys are
// JSON strings; single-quoted and bare keys end at the colon.
func splitKey(rest string) (string, string, error) {
	if strings.HasPrefix(rest, `"`) {
		end := 1
		for end < len(rest) && rest[end] != '"' {
			if rest[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(rest) {
			return "", "", fmt.Errorf("%w: unterminated page key", ErrMalformedDocument)
		}
		var key string
		if err := json.Unmarshal([]byte(rest[:end+1]), &key); err != nil {
			return "", "", fmt.Errorf("%w: page key %s: %v", ErrMalformedDocument, rest[:end+1], err)
		}
		after := strings.TrimLeft(rest[end+1:], " \t")
		if !strings.HasPrefix(after, ":") {
			return "", "", fmt.Errorf("%w: page key %s without value", ErrMalformedDocument, key)
		}
		return key, after[1:], nil
	}
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", "", fmt.Errorf("%w: page data entry without key", ErrMalformedDocument)
	}
	key := strings.TrimSpace(rest[:colon])
	if strings.HasPrefix(key, "'") {
		if len(key) < 2 || !strings.HasSuffix(key, "'") {
			return "", "", fmt.Errorf("%w: unterminated page key %s", ErrMalformedDocument, key)
		}
		key = key[1 : len(key)-1]
	}
	return key, rest[colon+1:], nil
}
