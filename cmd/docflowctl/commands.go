package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/app"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/ingest"
	"github.com/joseph-ayodele/docflow/internal/options"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
	"github.com/joseph-ayodele/docflow/internal/repository"
)

type runFunc func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error

// withApp opens the configured store for the duration of one command.
func withApp(logger *slog.Logger, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg := common.LoadConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		a, err := app.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, cmd, args)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return id, nil
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "docflowctl",
		Short:         "Inspect and operate the document ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSubmitCommand(logger),
		newStatusCommand(logger),
		newListCommand(logger),
		newCancelCommand(logger),
		newStatsCommand(logger),
		newHealthCommand(logger),
		newRecoverCommand(logger),
		newCleanupCommand(logger),
		newIngestCommand(logger),
		newProcessCommand(logger),
	)
	return root
}

func newSubmitCommand(logger *slog.Logger) *cobra.Command {
	var (
		optionsJSON string
		format      string
		fileID      string
	)
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			opts, err := options.Decode([]byte(optionsJSON))
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if fileID == "" {
				fileID = filepath.Base(args[0])
			}
			id, err := a.Orchestrator.Submit(ctx, pipeline.SubmitRequest{
				Data:           data,
				FileID:         fileID,
				FileName:       filepath.Base(args[0]),
				DeclaredFormat: format,
				Options:        opts,
			})
			if err != nil {
				return err
			}
			view, err := a.Orchestrator.Status(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		}),
	}
	cmd.Flags().StringVarP(&optionsJSON, "options", "o", "", `processing options JSON, e.g. {"priority":"high"}`)
	cmd.Flags().StringVarP(&format, "format", "f", "", "declared format or mime type")
	cmd.Flags().StringVar(&fileID, "file-id", "", "caller file id (defaults to the file name)")
	return cmd
}

func newStatusCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			view, err := a.Orchestrator.Status(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		}),
	}
}

func newListCommand(logger *slog.Logger) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			filter := repository.ListFilter{Limit: limit}
			if status != "" {
				filter.Status = constants.JobStatus(status)
				if !filter.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			views, err := a.Orchestrator.List(ctx, filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, views)
		}),
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (PENDING, PROCESSING, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum jobs to show")
	return cmd
}

func newCancelCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.Orchestrator.Cancel(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", id)
			return nil
		}),
	}
}

func newStatsCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		Args:  cobra.NoArgs,
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			st, err := a.Monitor.Statistics(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		}),
	}
}

func newHealthCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Classify pipeline health",
		Args:  cobra.NoArgs,
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			h, err := a.Monitor.CheckHealth(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, h)
		}),
	}
}

func newRecoverCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Return stalled jobs to the queue",
		Args:  cobra.NoArgs,
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			n, err := a.Monitor.RecoverStalled(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d stalled job(s)\n", n)
			return nil
		}),
	}
}

func newCleanupCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete terminal jobs older than the retention window",
		Args:  cobra.NoArgs,
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			n, err := a.Monitor.Cleanup(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d job(s)\n", n)
			return nil
		}),
	}
}

func newIngestCommand(logger *slog.Logger) *cobra.Command {
	var (
		includeHidden bool
		exts          []string
	)
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Submit a file or every matching file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			ing := ingest.NewFSIngestor(a.Orchestrator, logger,
				ingest.WithAllowedExts(exts),
				ingest.WithMaxSize(a.Config.Pipeline.MaxFileSize),
			)
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				res, err := ing.IngestPath(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}
			results, stats, err := ing.IngestDirectory(ctx, args[0], !includeHidden)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"results": results, "stats": stats})
		}),
	}
	cmd.Flags().BoolVar(&includeHidden, "hidden", false, "include hidden files and directories")
	cmd.Flags().StringSliceVar(&exts, "ext", nil, "allowed extensions (default pdf,docx,xlsx,txt)")
	return cmd
}

func newProcessCommand(logger *slog.Logger) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process queued jobs in this process until none are claimable",
		Args:  cobra.NoArgs,
		RunE: withApp(logger, func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			n := 0
			for limit <= 0 || n < limit {
				worked, err := a.Orchestrator.ProcessNext(ctx)
				if err != nil {
					return err
				}
				if !worked {
					break
				}
				n++
			}
			a.Tracker.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d job(s)\n", n)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "max", "m", 0, "stop after this many jobs (0 = until the queue is empty)")
	return cmd
}
