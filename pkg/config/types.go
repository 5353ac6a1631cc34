package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the yodler configuration file.
type Config struct {
	// Deploy holds the scenario defaults.
	Deploy DeployConfig `json:"deploy" yaml:"deploy" toml:"deploy"`

	// Hosts lists the deployment targets. Without hosts the top-level
	// backend is the only target.
	Hosts []HostConfig `json:"hosts,omitempty" yaml:"hosts,omitempty" toml:"hosts,omitempty" validate:"dive"`

	// Backend is the default backend of every host.
	Backend BackendConfig `json:"backend" yaml:"backend" toml:"backend"`

	// SharedMemory configures the cross-process fact cache.
	SharedMemory SharedMemoryConfig `json:"shared_memory" yaml:"shared_memory" toml:"shared_memory"`

	// Store configures the run history database.
	Store StoreConfig `json:"store" yaml:"store" toml:"store"`

	// Logging configures log output.
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`

	// Tracing configures span export.
	Tracing TracingConfig `json:"tracing" yaml:"tracing" toml:"tracing"`

	// Metrics configures the prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" toml:"metrics"`

	// Policies configures the policy gate.
	Policies PolicyConfig `json:"policies" yaml:"policies" toml:"policies"`
}

// DeployConfig holds scenario defaults.
type DeployConfig struct {
	// Scenario is the scenario file used when none is given on the command
	// line.
	Scenario string `json:"scenario,omitempty" yaml:"scenario,omitempty" toml:"scenario,omitempty"`

	// StepLimit bounds the Starlark steps of one scenario call. Zero means
	// unlimited.
	StepLimit uint64 `json:"step_limit,omitempty" yaml:"step_limit,omitempty" toml:"step_limit,omitempty"`

	// Vars are exposed to scenarios as ctx.vars.
	Vars map[string]any `json:"vars,omitempty" yaml:"vars,omitempty" toml:"vars,omitempty"`
}

// HostConfig is one deployment target.
type HostConfig struct {
	// Name identifies the host on the command line and in history.
	Name string `json:"name" yaml:"name" toml:"name" validate:"required"`

	// Backend overrides the default backend. Unset fields inherit.
	Backend *BackendConfig `json:"backend,omitempty" yaml:"backend,omitempty" toml:"backend,omitempty"`

	// Vars are merged over the deploy vars for this host.
	Vars map[string]any `json:"vars,omitempty" yaml:"vars,omitempty" toml:"vars,omitempty"`
}

// Backend types.
const (
	BackendLocal    = "local"
	BackendSSH      = "ssh"
	BackendRecorder = "recorder"
)

// BackendConfig selects and configures a command backend.
type BackendConfig struct {
	// Type is one of local, ssh or recorder.
	Type string `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty" validate:"omitempty,oneof=local ssh recorder"`

	// Shell is the local shell.
	Shell string `json:"shell,omitempty" yaml:"shell,omitempty" toml:"shell,omitempty"`

	// Dir is the local working directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`

	// Timeout bounds each command.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`

	// SSH configures the ssh backend.
	SSH SSHConfig `json:"ssh" yaml:"ssh" toml:"ssh"`
}

// SSHConfig configures the ssh backend.
type SSHConfig struct {
	Host                  string   `json:"host,omitempty" yaml:"host,omitempty" toml:"host,omitempty"`
	Port                  int      `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User                  string   `json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
	Mode                  string   `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty" validate:"omitempty,oneof=sftp session"`
	AuthMethod            string   `json:"auth_method,omitempty" yaml:"auth_method,omitempty" toml:"auth_method,omitempty" validate:"omitempty,oneof=password key agent"`
	Password              string   `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	KeyPath               string   `json:"key_path,omitempty" yaml:"key_path,omitempty" toml:"key_path,omitempty"`
	KeyPassphrase         string   `json:"key_passphrase,omitempty" yaml:"key_passphrase,omitempty" toml:"key_passphrase,omitempty"`
	KnownHostsPath        string   `json:"known_hosts_path,omitempty" yaml:"known_hosts_path,omitempty" toml:"known_hosts_path,omitempty"`
	InsecureIgnoreHostKey bool     `json:"insecure_ignore_host_key,omitempty" yaml:"insecure_ignore_host_key,omitempty" toml:"insecure_ignore_host_key,omitempty"`
	ConnectionTimeout     Duration `json:"connection_timeout,omitempty" yaml:"connection_timeout,omitempty" toml:"connection_timeout,omitempty"`
	KeepAlive             Duration `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty" toml:"keep_alive,omitempty"`
	ProxyHost             string   `json:"proxy_host,omitempty" yaml:"proxy_host,omitempty" toml:"proxy_host,omitempty"`
	ProxyPort             int      `json:"proxy_port,omitempty" yaml:"proxy_port,omitempty" toml:"proxy_port,omitempty" validate:"omitempty,min=1,max=65535"`
	ProxyUser             string   `json:"proxy_user,omitempty" yaml:"proxy_user,omitempty" toml:"proxy_user,omitempty"`
}

// Shared memory drivers.
const (
	DriverSysV   = "sysv"
	DriverMemory = "memory"
)

// SharedMemoryConfig configures the fact cache.
type SharedMemoryConfig struct {
	// Name is the segment name facts are published under.
	Name string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`

	// Driver is sysv or memory.
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty" toml:"driver,omitempty" validate:"omitempty,oneof=sysv memory"`
}

// StoreConfig configures the run history.
type StoreConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty" validate:"required_if=Enabled true"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level   string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Format  string `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty" validate:"omitempty,oneof=json console"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty" toml:"output,omitempty"`
	Caller  bool   `json:"caller,omitempty" yaml:"caller,omitempty" toml:"caller,omitempty"`
	NoColor bool   `json:"no_color,omitempty" yaml:"no_color,omitempty" toml:"no_color,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool              `json:"enabled" yaml:"enabled" toml:"enabled"`
	Exporter     string            `json:"exporter,omitempty" yaml:"exporter,omitempty" toml:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
	SamplingRate float64           `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty" toml:"sampling_rate,omitempty" validate:"min=0,max=1"`
	Insecure     bool              `json:"insecure,omitempty" yaml:"insecure,omitempty" toml:"insecure,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address,omitempty" toml:"listen_address,omitempty" validate:"required_if=Enabled true"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// PolicyConfig configures the policy gate.
type PolicyConfig struct {
	// Enabled turns on policy evaluation before each action.
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`

	// Paths lists .rego files or directories.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty" toml:"paths,omitempty"`

	// Package is the rego package queried for deny rules.
	Package string `json:"package,omitempty" yaml:"package,omitempty" toml:"package,omitempty"`

	// Builtins names the built-in policies to enable.
	Builtins []string `json:"builtins,omitempty" yaml:"builtins,omitempty" toml:"builtins,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration struct {
	time.Duration
}

// Seconds is a helper for building a Duration.
func Seconds(n int) Duration {
	return Duration{time.Duration(n) * time.Second}
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
