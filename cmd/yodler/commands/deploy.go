package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yodler/yodler/pkg/backend"
	"github.com/yodler/yodler/pkg/backend/factory"
	"github.com/yodler/yodler/pkg/config"
	"github.com/yodler/yodler/pkg/engine"
	"github.com/yodler/yodler/pkg/policy"
	"github.com/yodler/yodler/pkg/scenario"
	"github.com/yodler/yodler/pkg/shm"
	"github.com/yodler/yodler/pkg/stores"
	"github.com/yodler/yodler/pkg/telemetry"
)

// rerunDelay debounces scenario changes seen by deploy --watch.
const rerunDelay = 500 * time.Millisecond

type deployOptions struct {
	host    string
	seed    bool
	publish bool
	watch   bool
	dryList bool
	dryRun  bool
}

func newDeployCommand(version string) *cobra.Command {
	var opts deployOptions

	cmd := &cobra.Command{
		Use:   "deploy [scenario.star]",
		Short: "Run a deployment scenario",
		Long: `Run the actions of a scenario, in order, against every configured host.

For each host the scenario is loaded with the host's variables, its
actions run one after another on a fresh heap, and the first failure stops
the host. Each finished run is saved to the history store when it is
enabled.

Facts are exchanged with other processes through shared memory:
  --seed     starts the heap from the facts last published for the host
  --publish  writes the final heap back for the next process

A dry run neither saves history nor publishes facts.`,
		Example: `  # Deploy the scenario named in the config
  yodler deploy -c yodler.yaml

  # Deploy one scenario to a single host
  yodler deploy release.star --host web1

  # List the actions without running them
  yodler deploy release.star --dry-list

  # Run against a recorder and print the commands that would run
  yodler deploy release.star --dry-run

  # Re-run whenever the scenario changes
  yodler deploy release.star --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			path := cfg.Deploy.Scenario
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no scenario given and deploy.scenario is not configured")
			}

			d, err := newDeployer(cmd.Context(), cfg, opts, version, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer d.Close()

			if opts.watch {
				return d.watch(cmd.Context(), path)
			}
			return d.deployAll(cmd.Context(), path)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "deploy to this configured host only")
	cmd.Flags().BoolVar(&opts.seed, "seed", false, "seed the heap from shared memory")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "publish the final heap to shared memory")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-run when the scenario or policies change")
	cmd.Flags().BoolVar(&opts.dryList, "dry-list", false, "print the action names and exit")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "run against a recorder instead of the configured backend")

	return cmd
}

// deployer holds what the runs of one deploy command share.
type deployer struct {
	cfg    *config.Config
	opts   deployOptions
	out    io.Writer
	logger zerolog.Logger

	tel      *telemetry.Telemetry
	facts    shm.Store
	history  stores.Store
	policies *policy.Engine
	watcher  *policy.Loader
}

func newDeployer(ctx context.Context, cfg *config.Config, opts deployOptions, version string, out io.Writer) (*deployer, error) {
	tel, err := telemetry.NewTelemetry(cfg.Telemetry(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	d := &deployer{
		cfg:    cfg,
		opts:   opts,
		out:    out,
		logger: tel.Logger.Zerolog(),
		tel:    tel,
	}

	if opts.dryList {
		return d, nil
	}

	if err := tel.Metrics.StartMetricsServer(ctx); err != nil {
		d.Close()
		return nil, err
	}

	if opts.publish && opts.dryRun {
		d.logger.Warn().Msg("Dry run, facts will not be published")
	}
	if opts.seed || opts.publish {
		d.facts, err = openFacts(cfg.SharedMemory, tel.Metrics, d.logger)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to open shared memory: %w", err)
		}
	}

	if cfg.Store.Enabled && !opts.dryRun {
		history, err := openHistory(ctx, cfg.Store)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		d.history = history
	}

	if cfg.Policies.Enabled {
		if err := d.loadPolicies(ctx); err != nil {
			d.Close()
			return nil, err
		}
	}

	return d, nil
}

func (d *deployer) loadPolicies(ctx context.Context) error {
	eng, err := policy.NewEngine(d.logger,
		policy.WithPackage(d.cfg.Policies.Package),
		policy.WithBuiltins(d.cfg.Policies.Builtins...))
	if err != nil {
		return err
	}

	paths := d.cfg.Policies.Paths
	if len(paths) > 0 {
		if err := eng.LoadPolicies(ctx, paths); err != nil {
			return err
		}
		if d.opts.watch {
			d.watcher, err = eng.Watch(ctx, paths)
			if err != nil {
				return err
			}
		}
	}

	d.policies = eng
	return nil
}

// Close releases the history store, the policy watcher and telemetry.
func (d *deployer) Close() {
	if d.watcher != nil {
		_ = d.watcher.StopWatching()
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close run history")
		}
	}
	if err := d.tel.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// deployAll deploys path to every selected host in configuration order,
// stopping at the first host that fails.
func (d *deployer) deployAll(ctx context.Context, path string) error {
	targets, err := d.cfg.Targets(d.opts.host)
	if err != nil {
		return err
	}

	for _, h := range targets {
		if err := d.deployHost(ctx, path, h); err != nil {
			if len(targets) > 1 {
				return fmt.Errorf("host %s: %w", h.Name, err)
			}
			return err
		}
	}
	return nil
}

func (d *deployer) deployHost(ctx context.Context, path string, h config.HostConfig) error {
	logger := d.logger.With().Str("host", h.Name).Logger()

	vars, err := d.cfg.VarsFor(h)
	if err != nil {
		return err
	}

	sc, err := scenario.LoadFile(ctx, path, scenario.Options{
		Vars:      vars,
		StepLimit: d.cfg.Deploy.StepLimit,
		Logger:    &logger,
	})
	if err != nil {
		return err
	}

	list := sc.Actions()
	if d.opts.dryList {
		for _, name := range list.Names() {
			fmt.Fprintln(d.out, name)
		}
		return nil
	}

	var (
		b        backend.Backend
		recorder *backend.Recorder
	)
	if d.opts.dryRun {
		recorder = backend.NewRecorder()
		b = recorder
	} else {
		var closer io.Closer
		b, closer, err = factory.New(d.cfg.BackendFor(h))
		if err != nil {
			return err
		}
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close backend")
			}
		}()
	}

	heap, err := d.seedHeap(h)
	if err != nil {
		return err
	}

	if d.policies != nil {
		list = policy.GuardList(d.policies, list, policy.Target{Host: h.Name, Vars: vars})
	}

	report := engine.NewReport()
	exec := engine.NewExecutor(heap, report, b,
		engine.WithLogger(logger),
		engine.WithTracer(d.tel.Tracer),
		engine.WithMetrics(d.tel.Metrics))

	run, runErr := exec.Run(ctx, list, sc.Name, h.Name)
	events := report.Events()

	// Recording outlives a cancelled deploy.
	saveCtx := context.WithoutCancel(ctx)
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if d.history != nil {
		if err := d.history.SaveRun(saveCtx, run, events); err != nil {
			errs = append(errs, fmt.Errorf("failed to save run: %w", err))
		}
	}
	if d.opts.publish && !d.opts.dryRun {
		if err := d.facts.Write(factsName(d.cfg, h.Name), heap.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish facts: %w", err))
		}
	}

	if err := printRun(d.out, run, events); err != nil {
		errs = append(errs, err)
	}
	if recorder != nil && !jsonOutput {
		for _, c := range recorder.Commands() {
			fmt.Fprintf(d.out, "  $ %s\n", c)
		}
	}
	if runErr != nil {
		logger.Error().Str("class", string(engine.ClassOf(runErr))).Err(runErr).Msg("Deployment failed")
		if engine.IsTransient(runErr) && !jsonOutput {
			fmt.Fprintln(d.out, "  transient failure, running the deploy again may succeed")
		}
	}

	return errors.Join(errs...)
}

// seedHeap returns an empty heap, or with --seed the facts last published
// for h.
func (d *deployer) seedHeap(h config.HostConfig) (*engine.Heap, error) {
	if !d.opts.seed {
		return engine.NewHeap(), nil
	}

	name := factsName(d.cfg, h.Name)
	snap, ok, err := d.facts.Read(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts %s: %w", name, err)
	}
	if !ok {
		d.logger.Info().Str("facts", name).Msg("No published facts, starting from an empty heap")
		return engine.NewHeap(), nil
	}
	return engine.NewHeapFromSnapshot(snap)
}

// watch deploys path, then deploys again after every change to a scenario
// file in its directory until ctx is done.
func (d *deployer) watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	rerun := make(chan struct{}, 1)
	deploy := func() {
		if err := d.deployAll(ctx, path); err != nil {
			d.logger.Error().Err(err).Msg("Deployment failed")
		}
		d.logger.Info().Str("dir", dir).Msg("Waiting for scenario changes")
	}

	deploy()

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !strings.HasSuffix(event.Name, ".star") {
				continue
			}
			d.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Scenario changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(rerunDelay, func() {
				select {
				case rerun <- struct{}{}:
				default:
				}
			})

		case <-rerun:
			deploy()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
