package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// ValidationError is one CUE error with its source position.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// ValidationErrors collects every CUE error of a file.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// CUELoader decodes CUE configuration files checked against the #Config
// schema.
type CUELoader struct {
	ctx     *cue.Context
	schemas *SchemaRegistry
}

// NewCUELoader creates a loader with the built-in schemas.
func NewCUELoader() *CUELoader {
	ctx := cuecontext.New()
	return &CUELoader{
		ctx:     ctx,
		schemas: NewSchemaRegistryWithContext(ctx),
	}
}

// Schemas returns the schema registry.
func (l *CUELoader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Decode compiles src, unifies it with #Config and decodes the result over
// cfg.
func (l *CUELoader) Decode(src []byte, filename string, cfg *Config) error {
	val := l.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}

	unified, err := l.schemas.Apply(SchemaConfig, val)
	if err != nil {
		return err
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return convertCUEErrors(err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode cue value: %w", err)
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) error {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		return err
	}
	return out
}
