package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaConfig  = "config"
	SchemaHost    = "host"
	SchemaBackend = "backend"
)

// SchemaRegistry manages CUE schemas for validation. Each schema is a CUE
// source declaring one definition named after the schema.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return NewSchemaRegistryWithContext(cuecontext.New())
}

// NewSchemaRegistryWithContext creates a registry compiling into ctx.
// Values unified with its schemas must come from the same context.
func NewSchemaRegistryWithContext(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(SchemaConfig, builtinSchema, "#Config"); err != nil {
		panic(err)
	}
	_ = sr.RegisterSchema(SchemaHost, builtinSchema, "#Host")
	_ = sr.RegisterSchema(SchemaBackend, builtinSchema, "#Backend")
	return sr
}

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema, definition string) error {
	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s: definition %s not found", name, definition)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Apply unifies val with the named schema and validates the result.
func (sr *SchemaRegistry) Apply(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return unified, nil
}

// ValidateAgainstSchema encodes data and validates it against the named
// schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(name string, data any) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	_, err := sr.Apply(name, dataVal)
	return err
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"

#Port: int & >0 & <65536

#SSH: {
	host?:                     string
	port?:                     #Port
	user?:                     string
	mode?:                     "sftp" | "session"
	auth_method?:              "password" | "key" | "agent"
	password?:                 string
	key_path?:                 string
	key_passphrase?:           string
	known_hosts_path?:         string
	insecure_ignore_host_key?: bool
	connection_timeout?:       #Duration
	keep_alive?:               #Duration
	proxy_host?:               string
	proxy_port?:               #Port
	proxy_user?:               string
}

#Backend: {
	type?:    "local" | "ssh" | "recorder"
	shell?:   string
	dir?:     string
	timeout?: #Duration
	ssh?:     #SSH
}

#Host: {
	name:     string & =~"^[a-zA-Z0-9_.-]+$"
	backend?: #Backend
	vars?: {...}
}

#Config: {
	deploy?: {
		scenario?:   string
		step_limit?: int & >=0
		vars?: {...}
	}
	hosts?: [...#Host]
	backend?: #Backend
	shared_memory?: {
		name?:   string & !=""
		driver?: "sysv" | "memory"
	}
	store?: {
		enabled?: bool
		path?:    string
	}
	logging?: {
		level?:    "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic"
		format?:   "json" | "console"
		output?:   string
		caller?:   bool
		no_color?: bool
	}
	tracing?: {
		enabled?:       bool
		exporter?:      "otlp" | "stdout" | "none"
		endpoint?:      string
		sampling_rate?: number & >=0 & <=1
		insecure?:      bool
		headers?: [string]: string
	}
	metrics?: {
		enabled?:        bool
		listen_address?: string
		path?:           string
	}
	policies?: {
		enabled?: bool
		paths?: [...string]
		package?: string
		builtins?: [...string]
	}
}
`
