package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yodler/yodler/pkg/engine"
	"github.com/yodler/yodler/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past deployments",
		Long: `Read the runs saved in the history store.

Every deploy saves its run and its report events when store.enabled is
set, which is the default.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

// withHistory opens the configured history store for the duration of fn.
func withHistory(ctx context.Context, fn func(store stores.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Store.Enabled {
		return errors.New("run history is disabled (store.enabled is false)")
	}

	store, err := openHistory(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer store.Close()

	return fn(store)
}

func newHistoryListCommand() *cobra.Command {
	var opts stores.ListOptions
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Example: `  # The last 20 runs
  yodler history list

  # Failed runs of one host
  yodler history list --host web1 --status failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				opts.Status = engine.RunStatus(status)
				if err := opts.Status.Validate(); err != nil {
					return err
				}
			}

			return withHistory(cmd.Context(), func(store stores.Store) error {
				runs, err := store.ListRuns(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if jsonOutput {
					if runs == nil {
						runs = []*engine.Run{}
					}
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs, 0 for all")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of runs to skip")
	cmd.Flags().StringVar(&opts.Host, "host", "", "only runs of this host")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "only runs of this scenario")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")

	return cmd
}

func printRuns(w io.Writer, runs []*engine.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs")
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-10s  %-9s  %s\n", "ID", "STARTED", "HOST", "STATUS", "SCENARIO")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  %-10s  %-9s  %s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Host, r.Status, r.Scenario)
	}
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), func(store stores.Store) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				events, err := store.ListEvents(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				return printRun(cmd.OutOrStdout(), run, events)
			})
		},
	}
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Remove a run and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), func(store stores.Store) error {
				if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				log.Info().Str("run_id", args[0]).Msg("Run deleted")
				return nil
			})
		},
	}
}
