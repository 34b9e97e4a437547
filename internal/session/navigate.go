package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/resolver"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"github.com/MarcoPoloResearchLab/schemerge/internal/settings"
	"github.com/MarcoPoloResearchLab/schemerge/internal/xprobe"
	"go.uber.org/zap"
)

const (
	attrPath = "p"
	attrNode = "t"
)

// selectPage redraws page when it is not already current. The page stays
// parsed for InspectElement and highlight lookups.
func (s *Session) selectPage(ctx context.Context, page int, fx *Effects) error {
	svg, changed, err := s.db.SelectPage(page)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	document, err := resolver.ParseDocument(svg)
	if err != nil {
		return err
	}
	s.document = document

	info, _ := s.db.Page(page)
	fit := info.ViewBox
	if s.zoomToContent(ctx) {
		fit = info.ContentBox
	}
	fx.Page = &PageRender{
		Index:      page,
		Name:       info.Name,
		PageNumber: info.PageNumber,
		SVG:        svg,
		ViewBox:    info.ViewBox,
		Fit:        fit,
	}
	return nil
}

func (s *Session) zoomToContent(ctx context.Context) bool {
	if s.settings == nil {
		return settings.DefaultValues[settings.KeyZoomToContent] == "true"
	}
	value, err := s.settings.Get(ctx, settings.KeyZoomToContent)
	if err != nil {
		s.logger.Warn("failed to read setting", zap.String("key", settings.KeyZoomToContent), zap.Error(err))
		return true
	}
	return value == "true"
}

// navigate follows "#page", "#page,target" or a bare reference designator.
func (s *Session) navigate(ctx context.Context, hash string, fx *Effects) error {
	hash = strings.TrimPrefix(strings.TrimSpace(hash), "#")
	if unescaped, err := url.PathUnescape(hash); err == nil {
		hash = unescaped
	}
	if hash == "" {
		return fmt.Errorf("%w: empty hash", ErrUnknownTarget)
	}

	pageName, target, hasTarget := strings.Cut(hash, ",")
	page := s.db.PageByName(pageName)
	if !hasTarget {
		if page != schematic.AnyPage {
			if err := s.selectPage(ctx, page, fx); err != nil {
				return err
			}
			fx.Hash = s.hashFor(page, "")
			return nil
		}
		result := s.db.LookupComp(pageName, schematic.AnyPage)
		if !result.Found() {
			return fmt.Errorf("%w: %q", ErrUnknownTarget, pageName)
		}
		return s.show(ctx, result, fx)
	}

	if page == schematic.AnyPage {
		return fmt.Errorf("%w: page %q", ErrUnknownTarget, pageName)
	}
	if err := s.selectPage(ctx, page, fx); err != nil {
		return err
	}
	fx.Hash = s.hashFor(page, "")
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}
	result := s.db.LookupComp(target, page)
	if !result.Found() {
		result = s.db.LookupNet(target, page)
	}
	if !result.Found() || !onPage(result, page) {
		return fmt.Errorf("%w: %q on page %q", ErrUnknownTarget, target, pageName)
	}
	s.highlight(result, page, fx)
	fx.Hash = s.hashFor(page, result.Display)
	return nil
}

// show switches to a page holding result, preferring the current page, and
// highlights it there.
func (s *Session) show(ctx context.Context, result schematic.MatchResult, fx *Effects) error {
	page := s.db.CurrentPage()
	if !onPage(result, page) {
		if len(result.Pages) == 0 {
			return fmt.Errorf("%w: %q is not placed on any page", ErrUnknownTarget, result.Display)
		}
		page = result.Pages[0]
	}
	if err := s.selectPage(ctx, page, fx); err != nil {
		return err
	}
	match := result
	fx.Match = &match
	s.highlight(result, page, fx)
	fx.Hash = s.hashFor(page, result.Display)
	return nil
}

func onPage(result schematic.MatchResult, page int) bool {
	for _, p := range result.Pages {
		if p == page {
			return true
		}
	}
	return false
}

// highlight maps result to the element IDs that represent it on page and
// collects those elements from the parsed page.
func (s *Session) highlight(result schematic.MatchResult, page int, fx *Effects) {
	highlight := &Highlight{Page: page, Kind: result.Kind}
	switch data := result.Data.(type) {
	case schematic.ComponentData:
		highlight.Attr = attrPath
		highlight.IDs = s.db.CompIDs(data.Refdes, page)
	case schematic.NetData:
		highlight.Attr = attrNode
		if data.Net != nil {
			highlight.IDs = s.db.NetIDs(data.Net.ID, page)
		}
	case schematic.PinData:
		highlight.Attr = attrPath
		seen := make(map[string]struct{})
		for _, ref := range data.Refs {
			if ref.Page != page {
				continue
			}
			if _, dup := seen[ref.Refdes]; dup {
				continue
			}
			seen[ref.Refdes] = struct{}{}
			highlight.IDs = append(highlight.IDs, s.db.CompIDs(ref.Refdes, page)...)
		}
	default:
		fx.Highlight = highlight
		return
	}
	if s.document != nil && page == s.db.CurrentPage() {
		for _, id := range highlight.IDs {
			highlight.Elements = append(highlight.Elements, s.document.FindByAttr(highlight.Attr, id)...)
		}
	}
	fx.Highlight = highlight
}

func (s *Session) hashFor(page int, target string) string {
	hash := "#" + url.PathEscape(s.db.PageName(page))
	if target != "" {
		hash += "," + url.PathEscape(target)
	}
	return hash
}

// crossProbeSelect highlights every listed component on the first page
// that holds any of them, preferring the current page.
func (s *Session) crossProbeSelect(ctx context.Context, targets []string, fx *Effects) error {
	var found []schematic.MatchResult
	for _, target := range targets {
		result := s.db.LookupComp(target, schematic.AnyPage)
		if result.Found() && len(result.Pages) > 0 {
			found = append(found, result)
		}
	}
	if len(found) == 0 {
		return fmt.Errorf("%w: %v", ErrUnknownTarget, targets)
	}

	page := found[0].Pages[0]
	for _, result := range found {
		if onPage(result, s.db.CurrentPage()) {
			page = s.db.CurrentPage()
			break
		}
	}
	if err := s.selectPage(ctx, page, fx); err != nil {
		return err
	}
	combined := &Highlight{Page: page, Kind: schematic.KindComponent, Attr: attrPath}
	for _, result := range found {
		var single Effects
		s.highlight(result, page, &single)
		combined.IDs = append(combined.IDs, single.Highlight.IDs...)
		combined.Elements = append(combined.Elements, single.Highlight.Elements...)
	}
	fx.Highlight = combined
	fx.Hash = s.hashFor(page, found[0].Display)
	return nil
}

// probe pushes a resolved component or net to the bridge. Failures only
// get logged.
func (s *Session) probe(ctx context.Context, result schematic.MatchResult) {
	if s.prober == nil {
		return
	}
	var command xprobe.Command
	switch data := result.Data.(type) {
	case schematic.ComponentData:
		command = xprobe.Command{Cmd: xprobe.CommandSelect, Targets: data.Refdes}
	case schematic.NetData:
		if data.Net == nil {
			return
		}
		command = xprobe.Command{Cmd: xprobe.CommandNet, Targets: data.Net.Name}
	default:
		return
	}
	if err := s.prober.Send(ctx, command); err != nil {
		s.logger.Debug("cross-probe send failed", zap.String("cmd", command.Cmd), zap.Error(err))
	}
}
