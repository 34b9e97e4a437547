// Package document loads exporter bundles and renders or parses the
// self-contained schematic HTML document.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
)

const (
	indexFileName   = "index.json"
	libraryFileName = "library.svg"
	uiFileName      = "ui.json"
	pagesDirName    = "pages"
	pageExtension   = ".svg"
)

var (
	// ErrMissingIndex indicates a bundle without index.json.
	ErrMissingIndex = errors.New("document: bundle has no index")
	// ErrMissingLibrary indicates a bundle without library.svg.
	ErrMissingLibrary = errors.New("document: bundle has no symbol library")
	// ErrMissingPage indicates an index page without a matching pages/<id>.svg.
	ErrMissingPage = errors.New("document: bundle is missing page svg")
)

// Bundle is the exporter output a document is built from. A zero Mode
// renders as merge mode.
type Bundle struct {
	Title   string
	Version string
	Mode    schematic.Mode
	Themes  map[string]json.RawMessage
	Index   []byte
	Library string
	Pages   map[string]string
}

type bundleUI struct {
	Title   string                     `json:"title"`
	Version string                     `json:"version"`
	Mode    schematic.Mode             `json:"mode"`
	Themes  map[string]json.RawMessage `json:"themes"`
}

type indexPages struct {
	Pages []struct {
		ID string `json:"id"`
	} `json:"pages"`
}

// LoadBundle reads index.json, library.svg and pages/*.svg from dir. An
// optional ui.json supplies title, version, mode and themes.
func LoadBundle(dir string) (Bundle, error) {
	bundle := Bundle{Title: filepath.Base(filepath.Clean(dir))}

	index, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Bundle{}, ErrMissingIndex
		}
		return Bundle{}, err
	}
	bundle.Index = index

	library, err := os.ReadFile(filepath.Join(dir, libraryFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Bundle{}, ErrMissingLibrary
		}
		return Bundle{}, err
	}
	bundle.Library = string(library)

	if raw, err := os.ReadFile(filepath.Join(dir, uiFileName)); err == nil {
		var ui bundleUI
		if err := json.Unmarshal(raw, &ui); err != nil {
			return Bundle{}, fmt.Errorf("document: invalid %s: %w", uiFileName, err)
		}
		if strings.TrimSpace(ui.Title) != "" {
			bundle.Title = ui.Title
		}
		bundle.Version = ui.Version
		bundle.Mode = ui.Mode
		bundle.Themes = ui.Themes
	} else if !errors.Is(err, os.ErrNotExist) {
		return Bundle{}, err
	}

	entries, err := os.ReadDir(filepath.Join(dir, pagesDirName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Bundle{}, err
	}
	bundle.Pages = make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), pageExtension) {
			continue
		}
		svg, err := os.ReadFile(filepath.Join(dir, pagesDirName, entry.Name()))
		if err != nil {
			return Bundle{}, err
		}
		bundle.Pages[strings.TrimSuffix(entry.Name(), pageExtension)] = string(svg)
	}

	if err := bundle.Validate(); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

// Validate checks that the index parses and every page it lists has SVG.
func (b Bundle) Validate() error {
	if len(b.Index) == 0 {
		return ErrMissingIndex
	}
	if b.Library == "" {
		return ErrMissingLibrary
	}
	var pages indexPages
	if err := json.Unmarshal(b.Index, &pages); err != nil {
		return fmt.Errorf("%w: %v", schematic.ErrInvalidIndex, err)
	}
	for _, page := range pages.Pages {
		if _, ok := b.Pages[page.ID]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingPage, page.ID)
		}
	}
	return nil
}

// PageIDs returns the page IDs in sorted order.
func (b Bundle) PageIDs() []string {
	ids := make([]string, 0, len(b.Pages))
	for id := range b.Pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
