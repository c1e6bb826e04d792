package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zjrosen/pvdd/internal/presentation"
	"github.com/zjrosen/pvdd/internal/provisioning"
	"github.com/zjrosen/pvdd/internal/pvd"
)

var checkFormat string

var errInvalidDeclarations = errors.New("invalid declarations")

var checkCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Validate PvD declaration files",
	Long: `Validate every declaration file (*.yaml, *.yml, *.toml) in a directory
without touching the running daemon.

The directory defaults to provisioning.dir from the config. The command exits
non-zero if any file is invalid or two files declare the same PvD.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		dir := cfg.Provisioning.Dir
		if len(args) == 1 {
			dir = args[0]
		}
		return runCheck(os.Stdout, dir, checkFormat)
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", presentation.FormatTable, "Output format: table or json")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(w io.Writer, dir, format string) error {
	formatter, err := presentation.NewFormatter(w, format)
	if err != nil {
		return err
	}
	if dir == "" {
		return fmt.Errorf("no provisioning directory configured")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading provisioning directory: %w", err)
	}

	var (
		results []presentation.CheckResultDTO
		failed  int
		seen    = make(map[pvd.Identity]string)
	)
	for _, entry := range entries {
		if entry.IsDir() || !provisioning.IsDeclarationFile(entry.Name()) {
			continue
		}
		result := presentation.CheckResultDTO{File: entry.Name()}

		decl, err := provisioning.LoadFile(filepath.Join(dir, entry.Name()))
		if err == nil {
			id, _ := decl.Validate()
			result.ID = id.String()
			result.Attributes = len(decl.Attributes)
			result.Addresses = len(decl.Addresses)
			if first, dup := seen[id]; dup {
				err = fmt.Errorf("%w: also declared in %s", provisioning.ErrDuplicateIdentity, first)
			} else {
				seen[id] = entry.Name()
			}
		}
		if err != nil {
			result.Error = err.Error()
			failed++
		}
		results = append(results, result)
	}

	if err := formatter.FormatCheckResults(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d files", errInvalidDeclarations, failed, len(results))
	}
	return nil
}
