package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/schemerge/internal/auth"
	"github.com/MarcoPoloResearchLab/schemerge/internal/database"
	"github.com/MarcoPoloResearchLab/schemerge/internal/mergelog"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic/schematictest"
	"github.com/MarcoPoloResearchLab/schemerge/internal/session"
	"github.com/MarcoPoloResearchLab/schemerge/internal/xprobe"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const testDocumentID = "doc-main"

type recordingOpener struct {
	opened []string
	err    error
}

func (o *recordingOpener) Open(_ context.Context, target string) error {
	o.opened = append(o.opened, target)
	return o.err
}

type testServer struct {
	server   *httptest.Server
	token    string
	mergeLog *mergelog.Service
	realtime *RealtimeDispatcher
	opener   *recordingOpener
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "schemerge.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	mergeLog, err := mergelog.NewService(mergelog.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create merge log: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "schemerge",
		Audience:      "schemerge-viewer",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	token, _, err := issuer.IssueDocumentToken(context.Background(), testDocumentID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	index := schematictest.TwoPages()
	index.Comps = map[string][]map[string]any{
		"U3": {schematictest.Comp(1, "u3-a", "Reference", "U3")},
	}
	viewer, err := session.New(session.Config{Database: schematictest.Open(t, index, map[string]string{
		"p1": schematictest.PageSVG(`<g p="u3-a"><rect/></g>`),
	})})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	opener := &recordingOpener{}
	handler, err := NewHTTPHandler(Dependencies{
		Document:      []byte("<!DOCTYPE html><title>fixture</title>"),
		DocumentID:    testDocumentID,
		SessionToken:  token,
		TokenManager:  issuer,
		MergeLog:      mergeLog,
		Session:       viewer,
		Opener:        opener,
		Realtime:      realtime,
		XProbeTimeout: 100 * time.Millisecond,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return testServer{server: server, token: token, mergeLog: mergeLog, realtime: realtime, opener: opener}
}

func (s testServer) post(t *testing.T, path, body string, authorized bool) *http.Response {
	t.Helper()
	request, err := http.NewRequest(http.MethodPost, s.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if authorized {
		request.Header.Set("Authorization", "Bearer "+s.token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingDocument) {
		t.Fatalf("expected missing document error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Document: []byte("x")}); !errors.Is(err, errMissingTokenManager) {
		t.Fatalf("expected missing token manager error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Document: []byte("x"), TokenManager: stubTokenManager{}}); !errors.Is(err, errMissingMergeLog) {
		t.Fatalf("expected missing merge log error, got %v", err)
	}
}

func TestDocumentIsServedWithSessionCookie(t *testing.T) {
	srv := newTestServer(t)
	response, err := http.Get(srv.server.URL + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	if response.StatusCode != http.StatusOK || !strings.Contains(string(body), "<title>fixture</title>") {
		t.Fatalf("unexpected document response %d %q", response.StatusCode, body)
	}
	found := false
	for _, cookie := range response.Cookies() {
		if cookie.Name == auth.SessionCookieName && cookie.Value == srv.token && cookie.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected session cookie, got %v", response.Cookies())
	}
}

func TestApplyRecordsAndPublishes(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := srv.realtime.Subscribe(ctx, ChannelApply)
	defer cleanup()

	if response := srv.post(t, "/apply", `["a1","b2"]`, false); response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized apply, got %d", response.StatusCode)
	}
	if response := srv.post(t, "/apply", `not json`, true); response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", response.StatusCode)
	}

	response := srv.post(t, "/apply", "[\"a1\",\"b2\"]\n[\"c3\"]\n", true)
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", response.StatusCode)
	}

	select {
	case message := <-stream:
		if !reflect.DeepEqual(message.DiscardedIDs, []string{"a1", "b2", "c3"}) || message.ApplicationID == "" {
			t.Fatalf("unexpected apply message %+v", message)
		}
	case <-time.After(time.Second):
		t.Fatal("expected apply to be published")
	}

	applications, err := srv.mergeLog.List(context.Background(), testDocumentID)
	if err != nil || len(applications) != 1 || applications[0].DiscardedCount != 3 {
		t.Fatalf("unexpected merge log %+v %v", applications, err)
	}
}

func TestApplyAcceptsEmptySelection(t *testing.T) {
	srv := newTestServer(t)
	if response := srv.post(t, "/apply", `[]`, true); response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", response.StatusCode)
	}
	if response := srv.post(t, "/apply", ``, true); response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected empty body to be rejected, got %d", response.StatusCode)
	}
}

func TestOpenURL(t *testing.T) {
	srv := newTestServer(t)
	cases := []struct {
		body   string
		status int
	}{
		{body: `{"url":"https://docs.example.com/part?id=1"}`, status: http.StatusNoContent},
		{body: `{"url":"file:///etc/passwd"}`, status: http.StatusBadRequest},
		{body: `{"url":"javascript:alert(1)"}`, status: http.StatusBadRequest},
		{body: `{`, status: http.StatusBadRequest},
	}
	for _, testCase := range cases {
		if response := srv.post(t, "/openurl", testCase.body, false); response.StatusCode != testCase.status {
			t.Fatalf("%s: expected %d, got %d", testCase.body, testCase.status, response.StatusCode)
		}
	}
	if !reflect.DeepEqual(srv.opener.opened, []string{"https://docs.example.com/part?id=1"}) {
		t.Fatalf("unexpected opened urls %v", srv.opener.opened)
	}

	srv.opener.err = errors.New("no browser")
	if response := srv.post(t, "/openurl", `{"url":"http://example.com"}`, false); response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected opener failure to fall back, got %d", response.StatusCode)
	}
}

func TestCommandsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	response := srv.post(t, "/api/commands", `{"type":"navigate","payload":{"hash":"#sub1,U3"}}`, true)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	var effects struct {
		Page      *session.PageRender `json:"page"`
		Highlight *session.Highlight  `json:"highlight"`
	}
	if err := json.NewDecoder(response.Body).Decode(&effects); err != nil {
		t.Fatalf("failed to decode effects: %v", err)
	}
	if effects.Page == nil || effects.Page.Index != 1 || effects.Highlight == nil || !reflect.DeepEqual(effects.Highlight.IDs, []string{"u3-a"}) {
		t.Fatalf("unexpected effects %+v", effects)
	}

	response = srv.post(t, "/api/commands", `{"type":"navigate","payload":{"hash":"#nowhere"}}`, true)
	var failure map[string]string
	if err := json.NewDecoder(response.Body).Decode(&failure); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if response.StatusCode != http.StatusUnprocessableEntity || failure["code"] != "session.navigate.unknown_target" {
		t.Fatalf("unexpected failure %d %v", response.StatusCode, failure)
	}

	if response := srv.post(t, "/api/commands", `{"type":"submit"}`, true); response.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected submit without applier to be unavailable, got %d", response.StatusCode)
	}
	if response := srv.post(t, "/api/commands", `{"type":"juggle"}`, true); response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected unknown command to be rejected, got %d", response.StatusCode)
	}
	if response := srv.post(t, "/api/commands", `{"type":"search"}`, false); response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized command, got %d", response.StatusCode)
	}
}

func TestXProbeBridge(t *testing.T) {
	srv := newTestServer(t)

	response, err := http.Get(srv.server.URL + "/xprobe")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected idle poll to time out with 204, got %d", response.StatusCode)
	}

	poller, err := xprobe.NewPoller(xprobe.PollerConfig{URL: srv.server.URL + "/xprobe", RetryDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create poller: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	received := make(chan xprobe.Command, 1)
	go func() {
		_ = poller.Run(ctx, func(_ context.Context, command xprobe.Command) error {
			received <- command
			cancel()
			return nil
		})
	}()

	deadline := time.After(3 * time.Second)
	for {
		if err := poller.Send(context.Background(), xprobe.Command{Cmd: xprobe.CommandSelect, Targets: "U3"}); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		select {
		case command := <-received:
			if command.Cmd != xprobe.CommandSelect || command.Targets != "U3" {
				t.Fatalf("unexpected command %+v", command)
			}
			return
		case <-deadline:
			t.Fatal("expected the poller to receive the published command")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestXProbeRejectsUnknownCommands(t *testing.T) {
	srv := newTestServer(t)
	response, err := http.Get(srv.server.URL + "/xprobe?cmd=ZOOM&targets=U1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	if response.StatusCode != http.StatusBadRequest || !bytes.Contains(body, []byte("invalid_command")) {
		t.Fatalf("unexpected response %d %s", response.StatusCode, body)
	}
}
