package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/pvdd/internal/infrastructure/sqlite"
	"github.com/zjrosen/pvdd/internal/presentation"
	"github.com/zjrosen/pvdd/internal/provisioning"
	"github.com/zjrosen/pvdd/internal/pvd"
)

var (
	listFormat string
	listDB     string
)

var listCmd = &cobra.Command{
	Use:   "list [id]",
	Short: "List the persisted PvD snapshot",
	Long: `List the PvDs in the daemon's snapshot database, or only the PvD id.

The snapshot is written on every change, so it reflects the running daemon
or, when it is stopped, the state it will restore. The database is opened
read-only.

Examples:
  pvdd list
  pvdd list net-a.example.com
  pvdd list --format json | jq '.[].id'
  pvdd list --db /var/lib/pvdd/pvdd.db`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := listDB
		if path == "" {
			path = cfg.Storage.Path
		}
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		return runList(cmd.Context(), os.Stdout, path, id, listFormat)
	},
}

func init() {
	listCmd.Flags().StringVarP(&listFormat, "format", "f", presentation.FormatTable, "Output format: table or json")
	listCmd.Flags().StringVar(&listDB, "db", "", "Snapshot database (default: storage.path from config)")
	rootCmd.AddCommand(listCmd)
}

// runList prints the snapshot at dbPath. A non-empty id limits the output to
// that PvD.
func runList(ctx context.Context, w io.Writer, dbPath, id, format string) error {
	formatter, err := presentation.NewFormatter(w, format)
	if err != nil {
		return err
	}
	if dbPath == "" {
		return fmt.Errorf("no snapshot database configured")
	}

	var pid pvd.Identity
	if id != "" {
		if pid, err = provisioning.NormalizeIdentity(id); err != nil {
			return err
		}
	}
	if !fileExists(dbPath) {
		if id != "" {
			return fmt.Errorf("%w: %s", pvd.ErrNotFound, pid)
		}
		return formatter.FormatPvDs(nil)
	}

	db, err := sqlite.OpenReadOnly(dbPath)
	if err != nil {
		return fmt.Errorf("opening snapshot database: %w", err)
	}
	defer func() { _ = db.Close() }()

	repo := db.PvDRepository()
	if id != "" {
		snap, err := repo.FindByIdentity(ctx, pid)
		if err != nil {
			return err
		}
		return formatter.FormatPvDs([]presentation.PvDDTO{presentation.FromSnapshot(snap)})
	}

	snaps, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing pvds: %w", err)
	}
	return formatter.FormatPvDs(presentation.FromSnapshots(snaps))
}
