package shm

import (
	"github.com/rs/zerolog"

	"github.com/yodler/yodler/pkg/value"
)

// OperationRecorder receives one call per store operation. It is satisfied
// by *telemetry.Metrics.
type OperationRecorder interface {
	RecordFactOperation(op, result string)
}

// Instrumented wraps a Store with debug logging and operation counters.
type Instrumented struct {
	store    Store
	recorder OperationRecorder
	logger   zerolog.Logger
}

// NewInstrumented wraps store. recorder may be nil.
func NewInstrumented(store Store, recorder OperationRecorder, logger zerolog.Logger) *Instrumented {
	return &Instrumented{
		store:    store,
		recorder: recorder,
		logger:   logger.With().Str("component", "shm").Logger(),
	}
}

// Write implements Store.
func (i *Instrumented) Write(name string, v value.Value) error {
	err := i.store.Write(name, v)
	i.record("write", name, resultOf(err, true))
	return err
}

// Read implements Store.
func (i *Instrumented) Read(name string) (value.Value, bool, error) {
	v, ok, err := i.store.Read(name)
	i.record("read", name, resultOf(err, ok))
	return v, ok, err
}

// Delete implements Store.
func (i *Instrumented) Delete(name string) error {
	err := i.store.Delete(name)
	i.record("delete", name, resultOf(err, true))
	return err
}

func (i *Instrumented) record(op, name, result string) {
	if i.recorder != nil {
		i.recorder.RecordFactOperation(op, result)
	}
	i.logger.Debug().
		Str("op", op).
		Str("name", name).
		Uint64("segment", SegmentID(name)).
		Str("result", result).
		Msg("shared memory operation")
}

func resultOf(err error, ok bool) string {
	switch {
	case err != nil:
		return "error"
	case ok:
		return "ok"
	default:
		return "miss"
	}
}
