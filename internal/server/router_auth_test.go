package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/schemerge/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubTokenManager struct {
	subject     string
	validateErr error
}

func (s stubTokenManager) ValidateRequest(*http.Request) (string, error) {
	return s.subject, s.validateErr
}

func runAuthorize(t *testing.T, handler *httpHandler) (*httptest.ResponseRecorder, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodPost, "/apply", http.NoBody)
	request.Header.Set("Authorization", "Bearer some-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler.logger = zap.New(core)
	handler.authorizeRequest(ctx)
	return recorder, logs
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	recorder, logs := runAuthorize(t, &httpHandler{
		tokens: stubTokenManager{validateErr: auth.ErrExpiredToken},
	})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	recorder, logs := runAuthorize(t, &httpHandler{
		tokens: stubTokenManager{validateErr: errors.New("signature mismatch")},
	})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestRejectsMissingTokenSilently(t *testing.T) {
	recorder, logs := runAuthorize(t, &httpHandler{
		tokens: stubTokenManager{validateErr: auth.ErrMissingToken},
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d", recorder.Code)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}
}

func TestAuthorizeRequestRejectsTokenForAnotherDocument(t *testing.T) {
	recorder, logs := runAuthorize(t, &httpHandler{
		documentID: "doc-1",
		tokens:     stubTokenManager{subject: "doc-2"},
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d", recorder.Code)
	}
	if logs.FilterMessage("token issued for another document").Len() != 1 {
		t.Fatalf("expected a document mismatch warning")
	}
}
