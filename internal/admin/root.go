// Package admin implements the tatekae-admin command line: backups, data
// migration and ledger inspection against the configured SQLite database.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmynk/tatekae/internal/backup"
	"github.com/mmynk/tatekae/internal/config"
	"github.com/mmynk/tatekae/internal/storage/sqlite"
)

// env is the opened database and backup service shared by subcommands.
type env struct {
	cfg     *config.Config
	store   *sqlite.SQLiteStore
	backups *backup.Service
	logger  *slog.Logger
}

func (e *env) close() {
	if e.store != nil {
		e.store.Close()
	}
}

// newRootCommand builds the command tree. The database is opened before any
// subcommand runs and closed by the caller through e.close.
func newRootCommand(e *env) *cobra.Command {
	var dbPath string
	root := &cobra.Command{
		Use:   "tatekae-admin",
		Short: "Administer the tatekae ledger database",
		Long: `tatekae-admin operates directly on the ledger database.

Run it while the server is stopped, or accept that cached writes the server
has not flushed yet are not visible.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			store, err := sqlite.New(cfg.DBPath, sqlite.WithLocation(cfg.Location()), sqlite.WithLogger(e.logger))
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.store = store
			e.backups = backup.New(store, backup.Options{
				Dir:           cfg.BackupDir,
				RetentionDays: cfg.BackupRetentionDays,
				Location:      cfg.Location(),
				Logger:        e.logger,
			})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides DB_PATH)")

	root.AddCommand(
		exportCmd(e),
		importCmd(e),
		verifyCmd(e),
		backupCmd(e),
		backupsCmd(e),
		restoreCmd(e),
		statsCmd(e),
		sessionsCmd(e),
		eventsCmd(e),
		vacuumCmd(e),
	)
	return root
}

// Execute runs the command tree with args. The logger receives diagnostics;
// command results go to stdout.
func Execute(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	e := &env{logger: logger}
	defer e.close()

	root := newRootCommand(e)
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
