package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"stock-sync/config"
	"stock-sync/internal/app"
	"stock-sync/internal/models"
	"stock-sync/internal/report"
	"stock-sync/internal/service"
)

type engineFactory func(cfg *config.Config) (*app.App, error)

func newRootCmd(cfg *config.Config, newEngine engineFactory) *cobra.Command {
	var engine *app.App
	get := func() *app.App { return engine }

	root := &cobra.Command{
		Use:           "stockctl",
		Short:         "Operate the marketplace stock sync engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cfg)
			if err != nil {
				return err
			}
			engine = e
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if engine != nil {
				engine.Close()
			}
		},
	}

	root.AddCommand(
		newMigrateCmd(get),
		newSyncCmd(get),
		newSessionsCmd(get, cfg.Sync.HistoryLimit),
		newSessionCmd(get),
		newCancelCmd(get),
		newSweepCmd(get),
		newPruneCmd(get),
		newExportCmd(get),
		newStatusCmd(get),
	)
	return root
}

func newMigrateCmd(engine func() *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := engine().Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newSyncCmd(engine func() *app.App) *cobra.Command {
	var barcodes, platforms []string
	var user string
	var background bool

	cmd := &cobra.Command{
		Use:   "sync [platform|all]",
		Short: "Push available stock to marketplaces",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := models.PlatformAll
			if len(args) == 1 {
				target = args[0]
			}

			parsed := make([]models.Platform, 0, len(platforms))
			for _, name := range platforms {
				p, err := models.ParsePlatform(name)
				if err != nil {
					return err
				}
				parsed = append(parsed, p)
			}

			req := service.SyncRequest{
				Platforms:   parsed,
				Barcodes:    barcodes,
				TriggeredBy: models.TriggeredByManual,
				User:        user,
			}
			ctx := context.Background()
			orch := engine().Orchestrator

			if background {
				id, err := orch.SyncBackground(ctx, target, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]string{"session_id": id})
			}

			var summary *models.SessionSummary
			var err error
			if target == models.PlatformAll {
				summary, err = orch.SyncAll(ctx, req)
			} else {
				p, perr := models.ParsePlatform(target)
				if perr != nil {
					return perr
				}
				summary, err = orch.SyncPlatform(ctx, p, req)
			}
			if summary != nil {
				if perr := printJSON(cmd, summary); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&barcodes, "barcodes", nil, "limit the run to these barcodes")
	cmd.Flags().StringSliceVar(&platforms, "platforms", nil, "limit a sync of all platforms to these")
	cmd.Flags().StringVar(&user, "user", os.Getenv("USER"), "operator recorded on the session")
	cmd.Flags().BoolVar(&background, "background", false, "print the session id before the run completes")
	return cmd
}

func newSessionsCmd(engine func() *app.App, defaultLimit int) *cobra.Command {
	var platform string
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sync sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := engine().Orchestrator.ListSessions(context.Background(), platform, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, sessions)
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "platform name or all")
	cmd.Flags().IntVar(&limit, "limit", defaultLimit, "maximum sessions to list")
	return cmd
}

func newSessionCmd(engine func() *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "session <id>",
		Short: "Show a session with its details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := engine().Orchestrator.GetSession(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		},
	}
}

func newCancelCmd(engine func() *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Ask a running session to stop before its next batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cancelled, err := engine().Orchestrator.Cancel(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]bool{"cancelled": cancelled})
		},
	}
}

func newSweepCmd(engine func() *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail sessions orphaned by a dead process",
		RunE: func(cmd *cobra.Command, args []string) error {
			swept, err := engine().Sweeper.Sweep(context.Background())
			if err != nil {
				return err
			}
			if swept == nil {
				swept = []string{}
			}
			return printJSON(cmd, map[string][]string{"swept": swept})
		},
	}
}

func newPruneCmd(engine func() *app.App) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished sessions older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			before := time.Now().UTC().Add(-olderThan)
			deleted, err := engine().Orchestrator.DeleteSessionsBefore(context.Background(), before)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"deleted": deleted})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest session to keep")
	return cmd
}

func newExportCmd(engine func() *app.App) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a session with its details to an xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := engine().Orchestrator.GetSession(context.Background(), args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("sync-session-%s.xlsx", view.Session.ID)
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := report.WriteSession(f, view.Session, view.Summary, view.Details); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func newStatusCmd(engine func() *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-platform configuration and last sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := engine().Orchestrator.PlatformStatuses(context.Background())
			if err != nil {
				return err
			}
			return printJSON(cmd, statuses)
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
