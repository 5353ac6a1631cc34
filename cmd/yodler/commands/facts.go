package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yodler/yodler/pkg/config"
	"github.com/yodler/yodler/pkg/shm"
	"github.com/yodler/yodler/pkg/value"
)

func newFactsCommand() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Shared-memory fact cache",
		Long: `Read and write the facts deployments publish to shared memory.

Each name maps to one JSON value. Without a name the command uses the
segment of --host, or the configured shared_memory.name when no hosts are
configured.`,
	}

	cmd.PersistentFlags().StringVar(&host, "host", "", "use the facts segment of this host")

	cmd.AddCommand(newFactsGetCommand(&host))
	cmd.AddCommand(newFactsPutCommand(&host))
	cmd.AddCommand(newFactsDeleteCommand(&host))

	return cmd
}

// withFacts opens the configured fact cache and resolves the segment name
// from args or --host before calling fn.
func withFacts(args []string, host string, fn func(store shm.Store, name string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openFacts(cfg.SharedMemory, nil, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to open shared memory: %w", err)
	}
	return fn(store, factsSegment(cfg, args, host))
}

func factsSegment(cfg *config.Config, args []string, host string) string {
	if len(args) > 0 {
		return args[0]
	}
	return factsName(cfg, host)
}

func newFactsGetCommand(host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get [name]",
		Short: "Print the facts stored under a name",
		Example: `  # Print the facts the last deploy --publish stored
  yodler facts get

  # Print the facts of one host
  yodler facts get --host web1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacts(args, *host, func(store shm.Store, name string) error {
				v, ok, err := store.Read(name)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no facts stored under %q", name)
				}
				return writeJSON(cmd.OutOrStdout(), v)
			})
		},
	}
}

func newFactsPutCommand(host *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "put [name]",
		Short: "Store a JSON value under a name",
		Long: `Store a JSON value under a name, replacing what was there.

The value is read from --file, or from standard input when --file is
unset or "-".`,
		Example: `  # Seed the facts of the next deploy
  echo '{"release": "2024.1"}' | yodler facts put

  yodler facts put deploy/web1 --file facts.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			v, err := value.Parse(data)
			if err != nil {
				return fmt.Errorf("invalid facts: %w", err)
			}

			return withFacts(args, *host, func(store shm.Store, name string) error {
				if err := store.Write(name, v); err != nil {
					return err
				}
				log.Info().Str("name", name).Uint64("segment", shm.SegmentID(name)).Msg("Facts stored")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the value from this file")

	return cmd
}

func newFactsDeleteCommand(host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Remove the facts stored under a name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacts(args, *host, func(store shm.Store, name string) error {
				if err := store.Delete(name); err != nil {
					return err
				}
				log.Info().Str("name", name).Msg("Facts deleted")
				return nil
			})
		},
	}
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(file)
}
