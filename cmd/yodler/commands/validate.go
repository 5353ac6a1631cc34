package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yodler/yodler/pkg/policy"
	"github.com/yodler/yodler/pkg/scenario"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [scenario.star]",
		Short: "Validate the configuration, policies and a scenario",
		Long: `Validate the configuration file, compile the configured policies and
load a scenario for every host without running it.

This command checks:
  - Config syntax and schema conformance (CUE schema for .cue files)
  - Field constraints such as ports and enum values
  - Rego syntax of every policy file
  - That the scenario loads with each host's variables`,
		Example: `  # Validate the config and the scenario it names
  yodler validate -c yodler.yaml

  # Validate a specific scenario
  yodler validate -c yodler.toml release.star`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info().Str("config", configPath).Msg("Configuration is valid")

			if cfg.Policies.Enabled {
				eng, err := policy.NewEngine(log.Logger,
					policy.WithPackage(cfg.Policies.Package),
					policy.WithBuiltins(cfg.Policies.Builtins...))
				if err != nil {
					return err
				}
				if len(cfg.Policies.Paths) > 0 {
					if err := eng.LoadPolicies(ctx, cfg.Policies.Paths); err != nil {
						return err
					}
				}
				for _, p := range eng.ListPolicies() {
					log.Info().
						Str("policy", p.Name).
						Str("severity", string(p.Severity)).
						Bool("enabled", p.Enabled).
						Msg("Policy compiled")
				}
			}

			path := cfg.Deploy.Scenario
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return nil
			}

			targets, err := cfg.Targets("")
			if err != nil {
				return err
			}
			for _, h := range targets {
				vars, err := cfg.VarsFor(h)
				if err != nil {
					return fmt.Errorf("host %s: %w", h.Name, err)
				}
				sc, err := scenario.LoadFile(ctx, path, scenario.Options{
					Vars:      vars,
					StepLimit: cfg.Deploy.StepLimit,
				})
				if err != nil {
					return fmt.Errorf("host %s: %w", h.Name, err)
				}
				log.Info().
					Str("host", h.Name).
					Str("scenario", sc.Name).
					Strs("actions", sc.Actions().Names()).
					Msg("Scenario is valid")
			}
			return nil
		},
	}

	return cmd
}
