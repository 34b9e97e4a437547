// Package session holds the state of one viewer: the schematic database, the
// merge model, search navigation and settings. Every interaction arrives as a
// Command and leaves as Effects for the rendering layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/schemerge/internal/merge"
	"github.com/MarcoPoloResearchLab/schemerge/internal/resolver"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"github.com/MarcoPoloResearchLab/schemerge/internal/search"
	"github.com/MarcoPoloResearchLab/schemerge/internal/settings"
	"github.com/MarcoPoloResearchLab/schemerge/internal/xprobe"
	"go.uber.org/zap"
)

var (
	// ErrNoPage indicates a command that needs a rendered page before any was selected.
	ErrNoPage = errors.New("session: no page selected")
	// ErrUnknownTarget indicates a hash or cross-probe target that resolves to nothing.
	ErrUnknownTarget = errors.New("session: unknown navigation target")
	// ErrNoSettings indicates a settings command on a session without a store.
	ErrNoSettings = errors.New("session: settings store is not configured")

	errMissingDatabase = errors.New("database is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const opNew = "session.new"

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// SettingsStore persists viewer settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) (string, error)
	All(ctx context.Context) (map[string]string, error)
}

// Prober pushes selections to the cross-probe bridge.
type Prober interface {
	Send(ctx context.Context, command xprobe.Command) error
}

// Config wires a Session to its collaborators. Only Database is required.
type Config struct {
	Database       *schematic.Database
	Settings       SettingsStore
	Applier        merge.Applier
	Prober         Prober
	SearchPageSize int
	Logger         *zap.Logger
}

// Session serializes every command so each one leaves the model consistent
// before the next is handled.
type Session struct {
	mu sync.Mutex

	db        *schematic.Database
	resolver  *resolver.Resolver
	model     *merge.Model
	navigator *search.Navigator
	settings  SettingsStore
	applier   merge.Applier
	prober    Prober
	logger    *zap.Logger

	document *resolver.Document
}

// New builds a session over an initialized database and initializes the
// merge model.
func New(cfg Config) (*Session, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	model, err := merge.New(cfg.Database, logger)
	if err != nil {
		return nil, newServiceError(opNew, "model_failed", err)
	}
	if err := model.Initialize(); err != nil {
		return nil, newServiceError(opNew, "model_failed", err)
	}
	return &Session{
		db:        cfg.Database,
		resolver:  resolver.New(cfg.Database, logger),
		model:     model,
		navigator: search.NewNavigator(cfg.Database, cfg.SearchPageSize),
		settings:  cfg.Settings,
		applier:   cfg.Applier,
		prober:    cfg.Prober,
		logger:    logger,
	}, nil
}

// Dispatch runs command and returns the effects to render. Failures are
// ServiceErrors coded "session.<command>.<reason>".
func (s *Session) Dispatch(ctx context.Context, command Command) (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fx Effects
	if err := command.run(ctx, s, &fx); err != nil {
		operation := "session." + command.Name()
		reason := reasonFor(err)
		s.logError(operation, reason, err)
		return Effects{}, newServiceError(operation, reason, err)
	}
	return fx, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, schematic.ErrPageOutOfRange), errors.Is(err, search.ErrPageOutOfRange):
		return "page_out_of_range"
	case errors.Is(err, ErrUnknownTarget):
		return "unknown_target"
	case errors.Is(err, ErrNoPage):
		return "no_page"
	case errors.Is(err, merge.ErrUnknownDiff), errors.Is(err, merge.ErrUnknownPair):
		return "unknown_diff"
	case errors.Is(err, merge.ErrUnknownSide):
		return "unknown_side"
	case errors.Is(err, merge.ErrNotGroup):
		return "not_group"
	case errors.Is(err, merge.ErrNoApplier), errors.Is(err, ErrNoSettings):
		return "not_configured"
	case errors.Is(err, resolver.ErrInvalidSelector), errors.Is(err, resolver.ErrElementNotFound):
		return "invalid_element"
	case errors.Is(err, settings.ErrUnknownSetting):
		return "unknown_setting"
	case errors.Is(err, errApplyFailed):
		return "apply_failed"
	default:
		return "failed"
	}
}

func (s *Session) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("session command failed", attrs...)
}

// CurrentPage returns the selected page index, or schematic.AnyPage.
func (s *Session) CurrentPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.CurrentPage()
}

// Rows returns the diff table.
func (s *Session) Rows() []merge.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Rows()
}

// Headers returns the ours and theirs header states.
func (s *Session) Headers() [2]merge.HeaderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers()
}

// Conflicts lists pages with unresolved conflicts.
func (s *Session) Conflicts() []merge.ConflictWarning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.UnresolvedConflicts()
}

// UncheckedIDs returns the IDs a submit would discard.
func (s *Session) UncheckedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.UncheckedIDs()
}

// Database exposes the schematic database for read access.
func (s *Session) Database() *schematic.Database {
	return s.db
}

func (s *Session) headers() [2]merge.HeaderState {
	return [2]merge.HeaderState{
		s.model.HeaderState(schematic.Ours),
		s.model.HeaderState(schematic.Theirs),
	}
}

func (s *Session) diffEffects(fx *Effects) {
	fx.Changed = s.model.TakeChanges()
	headers := s.headers()
	fx.Headers = &headers
}

func (s *Session) results(focus int) *Results {
	return &Results{
		Query:     s.navigator.Query(),
		Total:     s.navigator.Total(),
		Page:      s.navigator.Page(),
		PageCount: s.navigator.PageCount(),
		Items:     s.navigator.PageResults(),
		Focus:     focus,
	}
}

func (c SelectPage) run(ctx context.Context, s *Session, fx *Effects) error {
	if err := s.selectPage(ctx, c.Page, fx); err != nil {
		return err
	}
	fx.Hash = s.hashFor(c.Page, "")
	return nil
}

func (c Navigate) run(ctx context.Context, s *Session, fx *Effects) error {
	return s.navigate(ctx, c.Hash, fx)
}

func (c ToggleDiff) run(_ context.Context, s *Session, fx *Effects) error {
	if err := s.model.Toggle(c.ID, c.Checked); err != nil {
		return err
	}
	s.diffEffects(fx)
	return nil
}

func (c CheckAll) run(_ context.Context, s *Session, fx *Effects) error {
	if err := s.model.CheckAll(c.Side, c.Checked); err != nil {
		return err
	}
	s.diffEffects(fx)
	return nil
}

func (c FilterChanges) run(_ context.Context, s *Session, fx *Effects) error {
	s.model.FilterChanges(c.Query)
	fx.Rows = s.model.Rows()
	s.diffEffects(fx)
	return nil
}

func (c CollapseGroup) run(_ context.Context, s *Session, fx *Effects) error {
	var err error
	if c.Collapsed {
		err = s.model.Collapse(c.Pair)
	} else {
		err = s.model.Expand(c.Pair)
	}
	if err != nil {
		return err
	}
	fx.Rows = s.model.Rows()
	s.diffEffects(fx)
	return nil
}

func (c Search) run(_ context.Context, s *Session, fx *Effects) error {
	s.navigator.Search(c.Query)
	fx.Results = s.results(-1)
	return nil
}

func (c CycleResult) run(ctx context.Context, s *Session, fx *Effects) error {
	result, offset, ok := s.navigator.Cycle(c.Backward)
	fx.Results = s.results(offset)
	if !ok {
		return nil
	}
	return s.show(ctx, result, fx)
}

func (c GotoResultPage) run(_ context.Context, s *Session, fx *Effects) error {
	if err := s.navigator.GotoPage(c.Page); err != nil {
		return err
	}
	fx.Results = s.results(-1)
	return nil
}

func (c InspectElement) run(ctx context.Context, s *Session, fx *Effects) error {
	if s.document == nil {
		return ErrNoPage
	}
	node, err := s.document.Query(c.Selector)
	if err != nil {
		return err
	}
	target := resolver.Target{Node: node}
	if strings.TrimSpace(c.Host) != "" {
		if target.Host, err = s.document.Query(c.Host); err != nil {
			return err
		}
	}
	match := s.resolver.LookupElem(target, s.db.CurrentPage())
	result := match.MatchResult
	fx.Match = &result
	if !match.Found() {
		return nil
	}
	if ghost, ok := match.Data.(schematic.GhostData); ok {
		if err := s.selectPage(ctx, ghost.Page, fx); err != nil {
			return err
		}
		fx.Hash = s.hashFor(ghost.Page, "")
		return nil
	}
	s.highlight(result, s.db.CurrentPage(), fx)
	if c.Probe {
		s.probe(ctx, result)
	}
	return nil
}

func (c CrossProbe) run(ctx context.Context, s *Session, fx *Effects) error {
	command := xprobe.Command{Cmd: strings.ToUpper(strings.TrimSpace(c.Cmd)), Targets: c.Targets}
	switch command.Cmd {
	case xprobe.CommandSelect:
		return s.crossProbeSelect(ctx, command.TargetList(), fx)
	case xprobe.CommandNet:
		result := s.db.LookupNet(strings.TrimSpace(command.Targets), schematic.AnyPage)
		if !result.Found() {
			return fmt.Errorf("%w: net %q", ErrUnknownTarget, command.Targets)
		}
		return s.show(ctx, result, fx)
	default:
		return fmt.Errorf("%w: cross-probe command %q", ErrUnknownTarget, c.Cmd)
	}
}

var errApplyFailed = errors.New("apply failed")

func (c Submit) run(ctx context.Context, s *Session, fx *Effects) error {
	result, err := s.model.Submit(ctx, s.applier, c.Confirmed)
	if err != nil {
		if errors.Is(err, merge.ErrNoApplier) {
			return err
		}
		return fmt.Errorf("%w: %w", errApplyFailed, err)
	}
	fx.Submit = &result
	return nil
}

func (c SetSetting) run(ctx context.Context, s *Session, fx *Effects) error {
	if s.settings == nil {
		return ErrNoSettings
	}
	if _, err := s.settings.Set(ctx, c.Key, c.Value); err != nil {
		return err
	}
	all, err := s.settings.All(ctx)
	if err != nil {
		return err
	}
	fx.Settings = all
	return nil
}
