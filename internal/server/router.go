package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/schemerge/internal/auth"
	"github.com/MarcoPoloResearchLab/schemerge/internal/mergelog"
	"github.com/MarcoPoloResearchLab/schemerge/internal/session"
	"github.com/MarcoPoloResearchLab/schemerge/internal/xprobe"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	documentIDContextKey   = "schemerge_document_id"
	defaultXProbeTimeout   = 25 * time.Second
	maxApplyBodyBytes      = 4 << 20
	documentContentType    = "text/html; charset=utf-8"
	sessionCookieMaxAgeSec = 12 * 60 * 60
)

var (
	errMissingDocument      = errors.New("rendered document required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingMergeLog      = errors.New("merge log dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type TokenManager interface {
	ValidateRequest(r *http.Request) (string, error)
}

type MergeRecorder interface {
	Record(ctx context.Context, document string, discarded []string) (mergelog.Application, error)
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, command session.Command) (session.Effects, error)
}

// URLOpener opens a URL in the user's browser on the serving host.
type URLOpener interface {
	Open(ctx context.Context, target string) error
}

type Dependencies struct {
	Document      []byte
	DocumentID    string
	SessionToken  string
	TokenManager  TokenManager
	MergeLog      MergeRecorder
	Session       CommandDispatcher
	Opener        URLOpener
	Realtime      *RealtimeDispatcher
	XProbeTimeout time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if len(deps.Document) == 0 {
		return nil, errMissingDocument
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.MergeLog == nil {
		return nil, errMissingMergeLog
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	xprobeTimeout := deps.XProbeTimeout
	if xprobeTimeout <= 0 {
		xprobeTimeout = defaultXProbeTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		document:      deps.Document,
		documentID:    deps.DocumentID,
		sessionToken:  deps.SessionToken,
		tokens:        deps.TokenManager,
		mergeLog:      deps.MergeLog,
		session:       deps.Session,
		opener:        deps.Opener,
		realtime:      realtime,
		xprobeTimeout: xprobeTimeout,
		clock:         clock,
		logger:        logger,
	}

	router.GET("/", handler.handleDocument)
	router.POST("/openurl", handler.handleOpenURL)
	router.GET("/xprobe", handler.handleXProbe)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/apply", handler.handleApply)
	protected.POST("/api/commands", handler.handleCommand)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  allowLocalOrigin,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// allowLocalOrigin admits loopback pages on any port and documents opened
// from disk, which send the "null" origin.
func allowLocalOrigin(origin string) bool {
	if origin == "null" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

type httpHandler struct {
	document      []byte
	documentID    string
	sessionToken  string
	tokens        TokenManager
	mergeLog      MergeRecorder
	session       CommandDispatcher
	opener        URLOpener
	realtime      *RealtimeDispatcher
	xprobeTimeout time.Duration
	clock         func() time.Time
	logger        *zap.Logger
}

func (h *httpHandler) handleDocument(c *gin.Context) {
	if h.sessionToken != "" {
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(auth.SessionCookieName, h.sessionToken, sessionCookieMaxAgeSec, "/", "", false, true)
	}
	c.Data(http.StatusOK, documentContentType, h.document)
}

// handleApply accepts one or more JSON arrays of discarded diff IDs,
// separated by whitespace, and concatenates them in order.
func (h *httpHandler) handleApply(c *gin.Context) {
	discarded, err := decodeDiscarded(io.LimitReader(c.Request.Body, maxApplyBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	application, err := h.mergeLog.Record(c.Request.Context(), h.documentID, discarded)
	if err != nil {
		code := "apply_failed"
		var serviceErr *mergelog.ServiceError
		if errors.As(err, &serviceErr) {
			code = serviceErr.Code()
		}
		h.logger.Error("failed to record merge application", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "apply_failed", "code": code})
		return
	}

	h.realtime.Publish(RealtimeMessage{
		Channel:       ChannelApply,
		EventType:     RealtimeEventApplied,
		ApplicationID: application.ApplicationID,
		DiscardedIDs:  discarded,
		Timestamp:     h.clock().UTC(),
	})
	h.logger.Info("merge applied",
		zap.String("application_id", application.ApplicationID),
		zap.Int("discarded", len(discarded)))
	c.Status(http.StatusNoContent)
}

func decodeDiscarded(body io.Reader) ([]string, error) {
	decoder := json.NewDecoder(body)
	discarded := []string{}
	arrays := 0
	for {
		var batch []string
		err := decoder.Decode(&batch)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		discarded = append(discarded, batch...)
		arrays++
	}
	if arrays == 0 {
		return nil, errors.New("empty apply body")
	}
	return discarded, nil
}

type openURLPayload struct {
	URL string `json:"url"`
}

// handleOpenURL answers 204 only when the URL was handed to the opener; any
// other answer makes the page open a new tab itself.
func (h *httpHandler) handleOpenURL(c *gin.Context) {
	var request openURLPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	target, err := url.Parse(strings.TrimSpace(request.URL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url"})
		return
	}
	if h.opener == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "opener_unavailable"})
		return
	}
	if err := h.opener.Open(c.Request.Context(), target.String()); err != nil {
		h.logger.Warn("failed to open url", zap.String("url", target.String()), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "open_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCommand(c *gin.Context) {
	if h.session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_unavailable"})
		return
	}
	var envelope session.Envelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	command, err := session.DecodeCommand(envelope)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_command", "code": err.Error()})
		return
	}
	effects, err := h.session.Dispatch(c.Request.Context(), command)
	if err != nil {
		var serviceErr *session.ServiceError
		if !errors.As(err, &serviceErr) {
			h.logger.Error("command dispatch failed", zap.String("command", command.Name()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "command_failed"})
			return
		}
		c.JSON(commandStatus(serviceErr.Code()), gin.H{"error": err.Error(), "code": serviceErr.Code()})
		return
	}
	c.JSON(http.StatusOK, effects)
}

func commandStatus(code string) int {
	reason := code[strings.LastIndex(code, ".")+1:]
	switch reason {
	case "apply_failed":
		return http.StatusBadGateway
	case "not_configured":
		return http.StatusNotImplemented
	case "failed":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// handleXProbe is the cross-probe bridge. A request carrying cmd publishes
// it; otherwise the request waits for the next command and answers 204 when
// none arrives in time.
func (h *httpHandler) handleXProbe(c *gin.Context) {
	if cmd := strings.TrimSpace(c.Query("cmd")); cmd != "" {
		command := xprobe.Command{Cmd: strings.ToUpper(cmd), Targets: c.Query("targets")}
		if command.Cmd != xprobe.CommandSelect && command.Cmd != xprobe.CommandNet {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_command"})
			return
		}
		delivered := h.realtime.Publish(RealtimeMessage{
			Channel:   ChannelXProbe,
			EventType: RealtimeEventCrossProbe,
			Command:   command,
			Timestamp: h.clock().UTC(),
		})
		h.logger.Debug("cross-probe published", zap.String("cmd", command.Cmd), zap.Int("listeners", delivered))
		c.Status(http.StatusNoContent)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.xprobeTimeout)
	defer cancel()
	stream, cleanup := h.realtime.Subscribe(ctx, ChannelXProbe)
	defer cleanup()

	select {
	case message, ok := <-stream:
		if !ok {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, message.Command)
	case <-ctx.Done():
		c.Status(http.StatusNoContent)
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.documentID != "" && subject != h.documentID {
		h.logger.Warn("token issued for another document", zap.String("subject", subject))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(documentIDContextKey, subject)
	c.Next()
}
