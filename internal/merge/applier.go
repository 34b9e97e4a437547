package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	applyPath           = "apply"
	defaultApplyTimeout = 30 * time.Second
	maxErrorBody        = 64 << 10
)

var errMissingBaseURL = errors.New("merge: apply base url is required")

// ApplyError carries the raw response text of a rejected apply.
type ApplyError struct {
	StatusCode int
	Body       string
}

func (e *ApplyError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("apply rejected: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return e.Body
}

// HTTPApplier posts the discarded IDs as a JSON array to BaseURL + "apply".
// It never retries.
type HTTPApplier struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// Apply implements Applier.
func (a HTTPApplier) Apply(ctx context.Context, discarded []string) error {
	if strings.TrimSpace(a.BaseURL) == "" {
		return errMissingBaseURL
	}
	if discarded == nil {
		discarded = []string{}
	}
	body, err := json.Marshal(discarded)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(a.BaseURL, "/") + "/" + applyPath
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if a.Token != "" {
		request.Header.Set("Authorization", "Bearer "+a.Token)
	}

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: defaultApplyTimeout}
	}
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	return &ApplyError{StatusCode: response.StatusCode, Body: string(raw)}
}
