package admin

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/tatekae/internal/storage"
)

func exportCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export every session to a JSON file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("tatekae-export-%s.json", time.Now().In(e.cfg.Location()).Format("20060102-150405"))
			if len(args) == 1 {
				path = args[0]
			}
			n, err := e.backups.Export(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d sessions to %s\n", n, path)
			return nil
		},
	}
}

func importCmd(e *env) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import sessions from a JSON export",
		Long:  "Import validates the file, backs up the current database, then upserts every session in one transaction.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := e.backups.Import(cmd.Context(), args[0], dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.DryRun {
				fmt.Fprintf(out, "Dry run: %d sessions would be imported\n", res.Sessions)
				return nil
			}
			fmt.Fprintf(out, "Imported %d sessions (previous data saved to %s)\n", res.Sessions, res.Backup)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")
	return cmd
}

func verifyCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check that every session in a JSON file exists unchanged in the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := e.backups.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("verification failed: %d missing, %d mismatched", len(report.Missing), len(report.Mismatches))
			}
			return nil
		},
	}
}

func backupCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write today's backup now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := e.backups.Run(cmd.Context())
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "Backup for today already exists: %s\n", path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written: %s\n", path)
			return nil
		},
	}
}

func backupsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List backup files, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := e.backups.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No backups found.")
				return nil
			}
			for _, b := range list {
				fmt.Fprintf(out, "%s  %8d bytes  %s\n", b.Date, b.Size, b.ModTime.In(e.cfg.Location()).Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func restoreCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [date]",
		Short: "Restore sessions from the latest backup or the one taken on date (YYYY-MM-DD)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				n   int
				err error
			)
			if len(args) == 1 {
				n, err = e.backups.RestoreDate(ctx, args[0])
			} else {
				n, err = e.backups.RestoreLatest(ctx)
			}
			if err != nil {
				return err
			}

			e.store.LogEvent(ctx, storage.Event{
				Type:     storage.EventSessionsRestored,
				Amount:   int64(n),
				Metadata: map[string]any{"date": dateArg(args)},
				At:       time.Now(),
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d sessions\n", n)
			return nil
		},
	}
}

func dateArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return "latest"
}

func statsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <userId>",
		Short: "Show a user's totals across completed sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := e.store.GetUserStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func sessionsCmd(e *env) *cobra.Command {
	var limit, months int
	cmd := &cobra.Command{
		Use:   "sessions <userId>",
		Short: "List a user's completed sessions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := storage.UserSessionsOptions{Limit: storage.Num(float64(limit))}
			if months > 0 {
				opts.Months = storage.Num(float64(months))
			}
			sessions, err := e.store.GetUserSessions(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %-20s  %d members  %d payments\n",
					s.CreatedAt.In(e.cfg.Location()).Format("2006-01-02"),
					s.GroupName,
					len(s.Members),
					len(s.ActivePayments()))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", storage.DefaultUserSessionsLimit, "Number of sessions to show (1-100)")
	cmd.Flags().IntVar(&months, "months", 0, "Only sessions from the last N months (1-12)")
	return cmd
}

func eventsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Show analytics event counts by type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := e.store.EventCounts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), counts)
		},
	}
}

func vacuumCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Checkpoint the WAL and compact the database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := e.store.Checkpoint(ctx); err != nil {
				return err
			}
			if err := e.store.Vacuum(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database compacted")
			return nil
		},
	}
}
