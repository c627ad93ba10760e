package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/garnizeh/rioforms/internal/repository/sqlite"
	"github.com/garnizeh/rioforms/pkg/models"
)

func newSyncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued submissions once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g.cfg, g.version, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !a.prober.Check(ctx) {
				n, err := a.repo.CountQueued(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "offline: %d submission(s) left in queue\n", n)
				return nil
			}

			n, err := a.monitor.Sync(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Synced %d submission(s)\n", n)
			if err := a.engine.LastError(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "replay stopped: %v\n", err)
			}
			return nil
		},
	}
}

func newPreloadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "preload",
		Short: "Fetch the active forms and their questions into the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g.cfg, g.version, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.catalog.Preload(ctx)
			if err != nil {
				return fmt.Errorf("preload: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preloaded %d form(s), %d question set(s)\n", res.Forms, res.QuestionSets)
			return nil
		},
	}
}

func newQueueCmd(g *globals) *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the local submission queue",
	}
	queue.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued submissions in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := openStore(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			rows, err := sqlite.New(conn, g.logger).ListQueue(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tENQUEUED\tID\tFORM\tANSWERS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", r.Key, r.EnqueuedAt.Format(time.RFC3339), r.Payload.ID, r.Payload.FormID, len(r.Payload.AnswerRecords))
			}
			return tw.Flush()
		},
	})
	queue.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Drop one queued submission without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid queue key %q", args[0])
			}
			ctx := cmd.Context()
			conn, err := openStore(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			repo := sqlite.New(conn, g.logger)
			rows, err := repo.ListQueue(ctx)
			if err != nil {
				return err
			}
			idx := slices.IndexFunc(rows, func(r models.QueueRow) bool { return r.Key == key })
			if idx < 0 {
				return fmt.Errorf("no queued submission with key %d", key)
			}
			if err := repo.DeleteQueued(ctx, key); err != nil {
				return err
			}
			g.logger.Warn("queued submission deleted", slog.Int64("key", key), slog.String("id", rows[idx].Payload.ID))
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted queued submission %d (%s).\n", key, rows[idx].Payload.ID)
			return nil
		},
	})
	return queue
}
