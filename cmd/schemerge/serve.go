package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/schemerge/internal/auth"
	"github.com/MarcoPoloResearchLab/schemerge/internal/document"
	"github.com/MarcoPoloResearchLab/schemerge/internal/merge"
	"github.com/MarcoPoloResearchLab/schemerge/internal/server"
	"github.com/MarcoPoloResearchLab/schemerge/internal/session"
	"github.com/MarcoPoloResearchLab/schemerge/internal/xprobe"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	tokenIssuer     = "schemerge"
	tokenAudience   = "schemerge-document"
	shutdownTimeout = 10 * time.Second
)

var errNotApplied = errors.New("interrupted before the merge was applied")

type serveOptions struct {
	bundleDir  string
	discardOut string
	crossProbe bool
	open       bool
}

func newServeCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a schematic bundle until the merge is applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.bundleDir, "bundle", "", "Directory holding index.json, library.svg and pages/")
	cmd.Flags().StringVar(&opts.discardOut, "discard-out", "", "Write the discarded diff IDs here instead of stdout")
	cmd.Flags().BoolVar(&opts.crossProbe, "xprobe", false, "Poll the cross-probe bridge")
	cmd.Flags().BoolVar(&opts.open, "open", false, "Open the document in the default browser")
	_ = cmd.MarkFlagRequired("bundle")
	return cmd
}

func runServe(ctx context.Context, stdout, stderr io.Writer, opts serveOptions) error {
	app, err := openApplication(false)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	bundle, err := loadBundle(opts.bundleDir, app.config.MergeMode)
	if err != nil {
		return err
	}

	secret, err := app.signingSecret()
	if err != nil {
		return err
	}
	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: secret,
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      app.config.TokenTTL,
	})
	if err != nil {
		return err
	}
	documentID := uuid.NewString()
	token, _, err := tokenManager.IssueDocumentToken(ctx, documentID)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", app.config.HTTPAddress)
	if err != nil {
		return err
	}
	baseURL := fmt.Sprintf("http://%s/", listener.Addr().String())

	payload, err := document.Encode(bundle, document.RenderOptions{SessionToken: token})
	if err != nil {
		listener.Close()
		return err
	}
	var rendered bytes.Buffer
	if err := document.Write(&rendered, payload); err != nil {
		listener.Close()
		return err
	}
	schematicDB, err := app.openDatabase(payload)
	if err != nil {
		listener.Close()
		return err
	}

	sessionConfig := session.Config{
		Database:       schematicDB,
		Settings:       app.settings,
		Applier:        merge.HTTPApplier{BaseURL: baseURL, Token: token},
		SearchPageSize: app.config.SearchPageSize,
		Logger:         logger,
	}
	var poller *xprobe.Poller
	if opts.crossProbe {
		if poller, err = app.newPoller(); err != nil {
			listener.Close()
			return err
		}
		sessionConfig.Prober = poller
	}
	viewer, err := session.New(sessionConfig)
	if err != nil {
		listener.Close()
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	realtime := server.NewRealtimeDispatcher()
	applied, unsubscribe := realtime.Subscribe(signalCtx, server.ChannelApply)
	defer unsubscribe()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Document:     rendered.Bytes(),
		DocumentID:   documentID,
		SessionToken: token,
		TokenManager: tokenManager,
		MergeLog:     app.mergeLog,
		Session:      viewer,
		Opener:       browserOpener{},
		Realtime:     realtime,
		Logger:       logger,
	})
	if err != nil {
		listener.Close()
		return err
	}

	httpServer := &http.Server{Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", listener.Addr().String()), zap.String("document", documentID))
		err := httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	fmt.Fprintln(stderr, baseURL)

	if poller != nil {
		go func() {
			err := poller.Run(signalCtx, func(ctx context.Context, command xprobe.Command) error {
				_, err := viewer.Dispatch(ctx, session.CrossProbe{Cmd: command.Cmd, Targets: command.Targets})
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("cross-probe poller stopped", zap.Error(err))
			}
		}()
	}
	if opts.open {
		if err := (browserOpener{}).Open(signalCtx, baseURL); err != nil {
			logger.Warn("failed to open browser", zap.Error(err))
		}
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}

	select {
	case message, ok := <-applied:
		if !ok {
			_ = shutdown()
			return errNotApplied
		}
		if err := writeDiscarded(stdout, opts.discardOut, message.DiscardedIDs); err != nil {
			_ = shutdown()
			return err
		}
		logger.Info("merge applied",
			zap.String("application_id", message.ApplicationID),
			zap.Int("discarded", len(message.DiscardedIDs)))
		return shutdown()
	case <-signalCtx.Done():
		_ = shutdown()
		return errNotApplied
	case err := <-errCh:
		if err == nil {
			return errNotApplied
		}
		return err
	}
}

// writeDiscarded writes ids as a JSON array to path, or to stdout when path
// is empty.
func writeDiscarded(stdout io.Writer, path string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')
	if path == "" {
		_, err := stdout.Write(encoded)
		return err
	}
	return os.WriteFile(path, encoded, 0o644)
}
