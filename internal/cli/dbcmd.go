package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/garnizeh/rioforms/internal/db"
)

func newDBCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the local database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the local database and apply migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := openStore(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			v, err := db.Version(ctx, conn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database initialized successfully (schema %s).\n", v)
			return nil
		},
	})

	var force bool
	backup := &cobra.Command{
		Use:   "backup [dst]",
		Short: "Write a consistent copy of the local database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := g.cfg.DatabasePath + ".bak"
			if len(args) == 1 {
				dst = args[0]
			}
			if _, err := os.Stat(dst); err == nil {
				if !force {
					return fmt.Errorf("backup: %s exists (use --force)", dst)
				}
				if err := os.Remove(dst); err != nil {
					return fmt.Errorf("backup: %w", err)
				}
			}

			ctx := cmd.Context()
			conn, err := openStore(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			if _, err := conn.Exec(ctx, `VACUUM INTO ?`, dst); err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database backup completed: %s\n", dst)
			return nil
		},
	}
	backup.Flags().BoolVar(&force, "force", false, "overwrite an existing backup")
	cmd.AddCommand(backup)

	cmd.AddCommand(&cobra.Command{
		Use:   "restore [src]",
		Short: "Replace the local database with a backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := g.cfg.DatabasePath
			src := dst + ".bak"
			if len(args) == 1 {
				src = args[0]
			}
			if err := restoreFile(src, dst); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database restore completed.")
			return nil
		},
	})

	return cmd
}

// restoreFile copies src over dst and drops dst's WAL side files so the
// restored image is not replayed against a stale log.
func restoreFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	for _, p := range []string{dst + "-wal", dst + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}
