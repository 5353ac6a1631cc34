package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yodler/yodler/pkg/config"
	"github.com/yodler/yodler/pkg/engine"
	"github.com/yodler/yodler/pkg/shm"
	"github.com/yodler/yodler/pkg/stores"
)

// loadConfig reads the --config file, or returns the validated defaults
// when none is given.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg = config.Default()
		err = cfg.Validate()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openFacts returns the fact cache selected by the shared_memory section.
func openFacts(cfg config.SharedMemoryConfig, recorder shm.OperationRecorder, logger zerolog.Logger) (shm.Store, error) {
	var store shm.Store
	switch cfg.Driver {
	case config.DriverMemory:
		store = shm.NewMemory()
	default:
		sysv, err := shm.NewSysV()
		if err != nil {
			return nil, err
		}
		store = sysv
	}
	return shm.NewInstrumented(store, recorder, logger), nil
}

// factsName is the segment name of a host's facts. Without configured
// hosts the single implicit target publishes under the bare name.
func factsName(cfg *config.Config, host string) string {
	name := cfg.SharedMemory.Name
	if name == "" {
		name = shm.DefaultName
	}
	if len(cfg.Hosts) == 0 || host == "" {
		return name
	}
	return name + "/" + host
}

// openHistory opens and migrates the run history database.
func openHistory(ctx context.Context, cfg config.StoreConfig) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printEvents writes one glyph line per event, followed by the output or
// error of terminal events.
func printEvents(w io.Writer, events []engine.Event) {
	for _, e := range events {
		fmt.Fprintf(w, "%s %s\n", e.Status.Glyph(), e.Action)
		switch {
		case e.Status == engine.EventSucceeded && e.Output != "":
			for _, line := range strings.Split(e.Output, "\n") {
				fmt.Fprintf(w, "  • %s\n", line)
			}
		case e.Status == engine.EventErrored && e.Error != "":
			fmt.Fprintf(w, "  %s\n", e.Error)
		}
	}
}

func printSummary(w io.Writer, run *engine.Run) {
	s := run.Summary
	fmt.Fprintf(w, "%s %s on %s: %s in %s (%d actions, %d succeeded, %d skipped, %d errored)\n",
		run.ID, run.Scenario, run.Host, run.Status, run.Duration.Round(time.Millisecond),
		s.Total, s.Succeeded, s.Skipped, s.Errored)
}

type runReport struct {
	Run    *engine.Run    `json:"run"`
	Events []engine.Event `json:"events"`
}

// printRun writes a run and its events in the format selected by --json.
func printRun(w io.Writer, run *engine.Run, events []engine.Event) error {
	if jsonOutput {
		return writeJSON(w, runReport{Run: run, Events: events})
	}
	printEvents(w, events)
	printSummary(w, run)
	return nil
}
