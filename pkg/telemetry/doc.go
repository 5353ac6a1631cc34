// Package telemetry provides the observability plumbing of yodler: structured
// logging (zerolog), distributed tracing (OpenTelemetry) and metrics
// (Prometheus).
//
// # Usage
//
// Initialize telemetry once at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// The engine executor accepts the tracer and metrics as options; both are
// optional and nil-safe.
//
// # Metrics
//
// Collected when Metrics.Enabled is set:
//
//   - <ns>_runs_total{status}
//   - <ns>_run_duration_seconds{status}
//   - <ns>_active_runs
//   - <ns>_actions_total{status}
//   - <ns>_action_duration_seconds{action}
//   - <ns>_fact_cache_operations_total{op,result}
//
// They are served over HTTP when a listen address is configured.
//
// # Tracing
//
// Every run gets a "run.execute" span and every action an "action.execute"
// child span. Exporters: otlp (gRPC), stdout, none.
package telemetry
