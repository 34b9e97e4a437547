package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MarcoPoloResearchLab/schemerge/internal/document"
	"github.com/MarcoPoloResearchLab/schemerge/internal/merge"
	"github.com/MarcoPoloResearchLab/schemerge/internal/session"
	"github.com/MarcoPoloResearchLab/schemerge/internal/shell"
	"github.com/MarcoPoloResearchLab/schemerge/internal/xprobe"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const historyFile = ".schemerge_history"

type shellOptions struct {
	documentPath string
	applyURL     string
	crossProbe   bool
}

func newShellCommand() *cobra.Command {
	var opts shellOptions
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Browse and resolve a rendered document from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.documentPath, "document", "", "Rendered HTML document")
	cmd.Flags().StringVar(&opts.applyURL, "apply-url", "", "Base URL of a serving instance to apply against")
	cmd.Flags().BoolVar(&opts.crossProbe, "xprobe", false, "Exchange selections with the cross-probe bridge")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func runShell(ctx context.Context, stdout io.Writer, opts shellOptions) error {
	app, err := openApplication(true)
	if err != nil {
		return err
	}
	defer app.Close()

	file, err := os.Open(opts.documentPath)
	if err != nil {
		return err
	}
	payload, err := document.Parse(file)
	file.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.documentPath, err)
	}
	schematicDB, err := app.openDatabase(payload)
	if err != nil {
		return err
	}

	sessionConfig := session.Config{
		Database:       schematicDB,
		Settings:       app.settings,
		Applier:        printApplier{out: stdout},
		SearchPageSize: app.config.SearchPageSize,
		Logger:         app.logger,
	}
	if opts.applyURL != "" {
		sessionConfig.Applier = merge.HTTPApplier{BaseURL: opts.applyURL, Token: schematicDB.UI().SessionToken}
	}
	var poller *xprobe.Poller
	if opts.crossProbe {
		if poller, err = app.newPoller(); err != nil {
			return err
		}
		sessionConfig.Prober = poller
	}
	viewer, err := session.New(sessionConfig)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if poller != nil {
		go func() {
			err := poller.Run(ctx, func(ctx context.Context, command xprobe.Command) error {
				_, err := viewer.Dispatch(ctx, session.CrossProbe{Cmd: command.Cmd, Targets: command.Targets})
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Warn("cross-probe poller stopped", zap.Error(err))
			}
		}()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "schemerge> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          stdout,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "%s: %d page(s). Type 'help' for commands.\n", opts.documentPath, schematicDB.PageCount())
	sh := shell.New(viewer, rl.Stdout())
	if err := sh.Execute(ctx, []string{"page", "1"}); err != nil {
		fmt.Fprintln(rl.Stdout(), "error:", err)
	}
	return sh.Run(ctx, rl)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, historyFile)
}

// printApplier reports the discarded IDs instead of posting them.
type printApplier struct {
	out io.Writer
}

func (a printApplier) Apply(_ context.Context, discarded []string) error {
	return writeDiscarded(a.out, "", discarded)
}
