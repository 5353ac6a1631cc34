package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/yodler/yodler/pkg/backend"
	"github.com/yodler/yodler/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Executor runs an action list against one heap, one report and one
// backend. Actions run strictly one after another; the first failure stops
// the run.
type Executor struct {
	heap    *Heap
	report  *Report
	backend backend.Backend

	runID   string
	logger  zerolog.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithTracer records a span per run and per action.
func WithTracer(tracer *telemetry.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = tracer }
}

// WithMetrics records action and run outcomes.
func WithMetrics(metrics *telemetry.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = metrics }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) ExecutorOption {
	return func(e *Executor) { e.runID = id }
}

// NewExecutor creates an executor.
func NewExecutor(heap *Heap, report *Report, b backend.Backend, opts ...ExecutorOption) *Executor {
	e := &Executor{
		heap:    heap,
		report:  report,
		backend: b,
		runID:   uuid.New().String(),
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("run_id", e.runID).Logger()
	return e
}

// RunID returns the identifier attached to logs, spans and stored runs.
func (e *Executor) RunID() string {
	return e.runID
}

// Heap returns the heap shared by the actions.
func (e *Executor) Heap() *Heap {
	return e.heap
}

// Report returns the report the executor writes to.
func (e *Executor) Report() *Report {
	return e.report
}

// Execute runs every action of the list in order.
//
// For each action a running event is recorded, then the skip predicate is
// evaluated: a skipped action records a skipped event and the run moves on.
// Otherwise the action executes and records succeeded with its output, or
// errored with its error. An error from either step stops the run and is
// returned wrapped in an *ActionError.
//
// The context is checked before each action. A cancelled context is
// recorded as an error against the next action; a running action is never
// interrupted by the executor itself.
func (e *Executor) Execute(ctx context.Context, list *ActionList) error {
	for i, a := range list.All() {
		if err := e.executeOne(ctx, a, i+1); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) executeOne(ctx context.Context, a Action, seq int) error {
	name := a.Name()
	logger := e.logger.With().Str("action", name).Logger()
	startTime := time.Now()

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartActionSpan(ctx, e.runID, name, seq)
		defer span.End()
	}

	e.report.ReportActionRunning(a)
	logger.Info().Msgf("%s %s", EventRunning.Glyph(), name)

	fail := func(err error) error {
		e.report.ReportActionError(a, err)
		logger.Error().Err(err).Msgf("%s %s", EventErrored.Glyph(), name)
		e.metrics.RecordAction(name, string(EventErrored), time.Since(startTime))
		telemetry.Finish(span, telemetry.AttrActionStat, string(EventErrored), err)
		return &ActionError{Action: name, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(NewTransientError("deployment cancelled", err).
			WithCode(ErrCodeCancelled).
			WithOperation(name))
	}

	skip, err := a.Skip(ctx, e.heap)
	if err != nil {
		return fail(err)
	}
	if skip {
		e.report.ReportActionSkipped(a)
		logger.Info().Msgf("%s %s", EventSkipped.Glyph(), name)
		e.metrics.RecordAction(name, string(EventSkipped), time.Since(startTime))
		telemetry.Finish(span, telemetry.AttrActionStat, string(EventSkipped), nil)
		return nil
	}

	output, err := a.Execute(ctx, e.heap, e.backend)
	if err != nil {
		return fail(err)
	}

	e.report.ReportActionSucceed(a, output)
	logger.Info().Dur("duration", time.Since(startTime)).Msgf("%s %s", EventSucceeded.Glyph(), name)
	if output != "" {
		logger.Info().Str("output", output).Msgf("• %s: %s", name, output)
	}
	e.metrics.RecordAction(name, string(EventSucceeded), time.Since(startTime))
	telemetry.Finish(span, telemetry.AttrActionStat, string(EventSucceeded), nil)
	return nil
}

// Run executes the list like Execute and returns the run record describing
// the outcome. The returned error is the one Execute returned.
func (e *Executor) Run(ctx context.Context, list *ActionList, scenario, host string) (*Run, error) {
	run := &Run{
		ID:        e.runID,
		Scenario:  scenario,
		Host:      host,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartRunSpan(ctx, e.runID, scenario, host)
		defer span.End()
	}
	e.metrics.RecordRunStarted()

	e.logger.Info().
		Str("scenario", scenario).
		Str("host", host).
		Int("actions", list.Len()).
		Msg("deployment started")

	err := e.Execute(ctx, list)
	run.finish(err, e.report.Summary(), ctx.Err() != nil)

	e.metrics.RecordRunCompleted(string(run.Status), run.Duration)
	telemetry.Finish(span, telemetry.AttrRunStatus, string(run.Status), err)

	e.logger.Info().
		Str("status", string(run.Status)).
		Int("succeeded", run.Summary.Succeeded).
		Int("skipped", run.Summary.Skipped).
		Int("errored", run.Summary.Errored).
		Dur("duration", run.Duration).
		Msg("deployment finished")

	return run, err
}

// Run is the stored record of one deployment.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// Scenario names the action list that was executed.
	Scenario string `json:"scenario"`

	// Host is the target the backend talked to.
	Host string `json:"host"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Error is the failure message of a failed or cancelled run.
	Error string `json:"error,omitempty"`

	// Summary counts the action outcomes.
	Summary Summary `json:"summary"`
}

func (r *Run) finish(err error, summary Summary, cancelled bool) {
	now := time.Now()
	r.CompletedAt = &now
	r.Duration = now.Sub(r.StartedAt)
	r.Summary = summary

	switch {
	case err == nil:
		r.Status = RunStatusSucceeded
	case cancelled:
		r.Status = RunStatusCancelled
		r.Error = err.Error()
	default:
		r.Status = RunStatusFailed
		r.Error = err.Error()
	}
}
