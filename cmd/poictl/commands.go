package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/queue"
	"github.com/ignite/poi-importer/internal/service/poi"
)

// backend is what the commands operate on.
type backend struct {
	Importer interface {
		ImportByRegion(ctx context.Context, region string) (domain.ImportOutcome, error)
	}
	Queue queue.Queue
	// Dead is nil for drivers without a dead-letter view.
	Dead  queue.DeadLetterStore
	Close func()
}

type opener func(ctx context.Context, configPath string) (*backend, error)

var errNoDeadLetters = errors.New("the configured queue driver has no dead-letter view; use the broker's own tooling")

// newRootCmd creates the root command
func newRootCmd(open opener) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "poictl",
		Short:        "Operate the charge-point import pipeline",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config file")

	withBackend := func(cmd *cobra.Command, fn func(ctx context.Context, b *backend) error) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		b, err := open(ctx, configPath)
		if err != nil {
			return err
		}
		defer b.Close()
		return fn(ctx, b)
	}

	rootCmd.AddCommand(
		newImportCommand(withBackend),
		newDeadCommand(withBackend),
		newStatsCommand(withBackend),
	)
	return rootCmd
}

type runner func(cmd *cobra.Command, fn func(ctx context.Context, b *backend) error) error

func newImportCommand(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "import <countryCode>",
		Short: "Fetch one region from the catalog and queue its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := poi.NormalizeRegionCode(args[0])
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, b *backend) error {
				out, err := b.Importer.ImportByRegion(ctx, region)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: status=%s queued=%d failed=%d\n", region, out.Status, out.Queued, out.Failed)
				return nil
			})
		},
	}
}

func newDeadCommand(run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead",
		Args:  cobra.NoArgs,
		Short: "Inspect and retry dead-lettered jobs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, b *backend) error {
				if b.Dead == nil {
					return errNoDeadLetters
				}
				jobs, err := b.Dead.DeadJobs(ctx, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tEXTERNAL ID\tATTEMPTS\tFINISHED\tLAST ERROR")
				for _, j := range jobs {
					finished := "-"
					if j.FinishedAt != nil {
						finished = j.FinishedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n", j.ID, externalID(j.Payload), j.Attempt, j.MaxAttempts, finished, j.LastError)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum jobs to show")

	retry := &cobra.Command{
		Use:   "retry <jobID>...",
		Short: "Move dead-lettered jobs back to the queue with a fresh attempt budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, b *backend) error {
				if b.Dead == nil {
					return errNoDeadLetters
				}
				for _, id := range args {
					if err := b.Dead.RetryDead(ctx, id); err != nil {
						return fmt.Errorf("retry %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, retry)
	return cmd
}

func newStatsCommand(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print queue depths and counters as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, b *backend) error {
				s, err := b.Queue.Stats(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			})
		},
	}
}

// externalID pulls the catalog id out of a job payload for display.
func externalID(payload []byte) string {
	id := domain.PeekExternalID(payload)
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}
