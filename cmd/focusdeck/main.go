package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avhart/focusdeck/internal/config"
	"github.com/avhart/focusdeck/internal/estimate"
	"github.com/avhart/focusdeck/internal/identity"
	"github.com/avhart/focusdeck/internal/importer"
	"github.com/avhart/focusdeck/internal/outbox"
	"github.com/avhart/focusdeck/internal/store"
	"github.com/avhart/focusdeck/internal/timer"
	"github.com/avhart/focusdeck/internal/tui"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles everything the commands share. Engines hold no globals; each
// command builds one app, uses it, and closes it.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	store   *store.Store
	ident   *identity.Resolver
	engine  *timer.Engine
	imports *importer.Engine
	drainer *outbox.Drainer

	providers []importer.Provider
}

// notConfiguredRemote fails transiently so outbox records stay queued until a
// real transport is configured. Anonymous resolvers never reach it.
type notConfiguredRemote struct{}

func (notConfiguredRemote) Apply(context.Context, outbox.Mutation) error {
	return fmt.Errorf("remote store not configured")
}

func loadApp(configDir string) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	log := config.NewLogger(cfg)

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("open store", zap.Error(err))
		return nil, fmt.Errorf("open store: %w", err)
	}

	ident := identity.NewResolver(cfg.AccountID)
	owner := ident.OwnerID()

	if _, err := s.EnsureDefaultBucket(owner); err != nil {
		s.Close()
		return nil, fmt.Errorf("ensure default bucket: %w", err)
	}
	state, err := s.EnsureAppState()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("ensure app state: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		store:   s,
		ident:   ident,
		engine:  timer.NewEngine(s, owner, state.DeviceID, log),
		imports: importer.NewEngine(s, owner, log),
		drainer: outbox.NewDrainer(s, notConfiguredRemote{}, ident, log),
	}, nil
}

// close releases process resources. The engine is detached, not stopped:
// a live session stays open in the store so the next launch resumes it.
func (a *app) close() {
	if err := a.engine.Detach(); err != nil {
		a.log.Warn("detach engine", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	_ = a.log.Sync()
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:           "focusdeck",
		Short:         "Local-first task manager and focus timer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runTUI(configDir)
		},
	}
	root.PersistentFlags().StringVar(&configDir, "config", "", "config directory (default ~/.config/focusdeck)")

	root.AddCommand(newSyncCmd(&configDir))
	root.AddCommand(newImportCmd(&configDir))
	root.AddCommand(newEstimateCmd(&configDir))
	root.AddCommand(newVersionCmd())
	return root
}

func runTUI(configDir string) error {
	a, err := loadApp(configDir)
	if err != nil {
		return err
	}
	defer a.close()

	// Only the interactive surface adopts live sessions. Headless commands
	// skip this so they never grab a session out from under a running TUI.
	if err := a.engine.Reconcile(); err != nil {
		a.log.Warn("session reconcile", zap.Error(err))
	}

	// Background drain while the TUI runs. The drainer no-ops while
	// anonymous, so this is safe to start unconditionally when enabled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if a.cfg.SyncEnabled && !a.ident.Anonymous() {
		go a.drainer.RunEvery(ctx, time.Duration(a.cfg.DrainIntervalSecs)*time.Second)
	}

	model := tui.NewApp(a.store, a.engine, a.imports, a.drainer, a.providers, a.ident)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func newSyncCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the pending outbox once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configDir)
			if err != nil {
				return err
			}
			defer a.close()

			if a.ident.Anonymous() {
				fmt.Fprintln(cmd.OutOrStdout(), "anonymous mode: changes stay queued locally")
				return nil
			}

			stats, err := a.drainer.Drain(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d, retried %d, dropped %d, held %d\n",
				stats.Sent, stats.Retried, stats.Dropped, stats.Held)
			return nil
		},
	}
}

func newImportCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Run configured integrations once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configDir)
			if err != nil {
				return err
			}
			defer a.close()

			if len(a.providers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no integrations configured")
				return nil
			}

			result, err := a.imports.Run(cmd.Context(), a.providers)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, auto-routed %d, skipped %d\n",
				result.Imported, result.AutoRouted, result.Skipped)
			return nil
		},
	}
}

func newEstimateCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <task-id>",
		Short: "Suggest a duration for a task from its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configDir)
			if err != nil {
				return err
			}
			defer a.close()

			task, err := a.store.GetTask(args[0])
			if err != nil {
				return err
			}
			minutes, ok, err := estimate.Suggest(a.store, task)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "not enough history for a suggestion")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ~%d min\n", task.Title, minutes)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the focusdeck version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "focusdeck "+version)
		},
	}
}
