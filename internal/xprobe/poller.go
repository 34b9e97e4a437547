// Package xprobe talks to an external EDA tool's cross-probe bridge.
package xprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Cross-probe commands.
const (
	CommandSelect = "SELECT"
	CommandNet    = "NET"
)

const (
	defaultRetryDelay  = 5 * time.Second
	defaultPollTimeout = 30 * time.Second
)

var (
	errMissingURL     = errors.New("xprobe: bridge url is required")
	errMissingHandler = errors.New("xprobe: handler is required")
)

// Command is one cross-probe message. SELECT carries comma-separated
// reference designators, NET a single net name.
type Command struct {
	Cmd     string `json:"cmd"`
	Targets string `json:"targets"`
}

// TargetList splits Targets on commas, dropping blanks.
func (c Command) TargetList() []string {
	var targets []string
	for _, target := range strings.Split(c.Targets, ",") {
		if target = strings.TrimSpace(target); target != "" {
			targets = append(targets, target)
		}
	}
	return targets
}

// Handler consumes commands received from the bridge.
type Handler func(ctx context.Context, command Command) error

// PollerConfig configures a Poller.
type PollerConfig struct {
	URL         string
	Client      *http.Client
	RetryDelay  time.Duration
	PollTimeout time.Duration
	Logger      *zap.Logger
}

// Poller long-polls the bridge and pushes local selections to it.
type Poller struct {
	endpoint    *url.URL
	client      *http.Client
	retryDelay  time.Duration
	pollTimeout time.Duration
	logger      *zap.Logger
}

// NewPoller validates cfg and constructs a Poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errMissingURL
	}
	endpoint, err := url.Parse(cfg.URL)
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") {
		return nil, fmt.Errorf("xprobe: invalid bridge url %q", cfg.URL)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		endpoint:    endpoint,
		client:      client,
		retryDelay:  retryDelay,
		pollTimeout: pollTimeout,
		logger:      logger,
	}, nil
}

// Run polls until ctx is done. A failed, timed-out or empty poll waits the
// retry delay before the next one; handler errors are logged and do not stop
// polling.
func (p *Poller) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errMissingHandler
	}
	for {
		command, ok, err := p.poll(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			p.logger.Debug("xprobe poll failed", zap.Error(err), zap.Duration("retry_in", p.retryDelay))
			if !p.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		if !ok {
			if !p.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		if err := handler(ctx, command); err != nil {
			p.logger.Warn("xprobe command failed",
				zap.String("cmd", command.Cmd),
				zap.String("targets", command.Targets),
				zap.Error(err))
		}
	}
}

func (p *Poller) wait(ctx context.Context) bool {
	timer := time.NewTimer(p.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Poller) poll(ctx context.Context) (Command, bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(pollCtx, http.MethodGet, p.endpoint.String(), nil)
	if err != nil {
		return Command{}, false, err
	}
	response, err := p.client.Do(request)
	if err != nil {
		return Command{}, false, err
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNoContent:
		return Command{}, false, nil
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return Command{}, false, fmt.Errorf("xprobe: bridge responded %d", response.StatusCode)
	}
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return Command{}, false, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Command{}, false, nil
	}
	var command Command
	if err := json.Unmarshal(raw, &command); err != nil {
		return Command{}, false, fmt.Errorf("xprobe: invalid command: %w", err)
	}
	command.Cmd = strings.ToUpper(strings.TrimSpace(command.Cmd))
	if command.Cmd == "" {
		return Command{}, false, nil
	}
	return command, true, nil
}

// Send pushes command to the bridge as query parameters. Failures are
// returned to the caller, which treats them as best effort.
func (p *Poller) Send(ctx context.Context, command Command) error {
	target := *p.endpoint
	query := target.Query()
	query.Set("cmd", command.Cmd)
	query.Set("targets", command.Targets)
	target.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	response, err := p.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("xprobe: bridge responded %d", response.StatusCode)
	}
	return nil
}
