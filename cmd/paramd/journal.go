package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/paramd/pkg/storage"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/spf13/cobra"
)

// Journal commands operate on the persisted parameter database directly and
// need the daemon to be stopped, since it holds the database lock.
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect and maintain persisted parameters offline",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		count := 0
		err = store.ForEach(func(name string, rec storage.Record) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (updated %s)\n", name, rec.Value, rec.UpdatedAt.Format(time.RFC3339))
			count++
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d persisted parameters\n", count)
		return nil
	},
}

var journalBackupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Write a consistent copy of the journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		f, err := os.OpenFile(args[0], os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		n, err := store.Backup(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write backup: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup written to %s (%d bytes)\n", args[0], n)
		return nil
	},
}

var journalImportCmd = &cobra.Command{
	Use:   "import PATH",
	Short: "Import persist.* parameters from a parameter file or directory",
	Long: `Import persist.* parameters from a name=value parameter file, or every
*.para file in a directory. Other names are ignored since only persistent
parameters are journaled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		store, err := openJournal(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		imported, skipped := 0, 0
		_, err = storage.LoadSource(args[0], func(name, value string) error {
			if !types.IsPersistent(name) {
				skipped++
				return nil
			}
			if dryRun {
				fmt.Fprintf(out, "[DRY RUN] %s = %s\n", name, value)
			} else if err := store.Save(name, value); err != nil {
				return fmt.Errorf("failed to save %s: %w", name, err)
			}
			imported++
			return nil
		})
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Fprintf(out, "Dry run completed: %d would be imported, %d ignored\n", imported, skipped)
			return nil
		}
		fmt.Fprintf(out, "✓ Imported %d parameters, %d ignored\n", imported, skipped)
		return nil
	},
}

func init() {
	journalCmd.PersistentFlags().String("data-dir", "", "Data directory (default from config)")
	journalImportCmd.Flags().Bool("dry-run", false, "Show what would be imported without making changes")

	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalBackupCmd)
	journalCmd.AddCommand(journalImportCmd)
}

func openJournal(cmd *cobra.Command) (*storage.BoltStore, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		dataDir = cfg.DataDir
	}

	if _, err := os.Stat(filepath.Join(dataDir, storage.DBFile)); os.IsNotExist(err) {
		return nil, fmt.Errorf("journal not found in %s", dataDir)
	}
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w (is paramd running?)", err)
	}
	return store, nil
}
