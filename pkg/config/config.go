package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/yodler/yodler/pkg/backend"
	"github.com/yodler/yodler/pkg/backend/ssh"
	"github.com/yodler/yodler/pkg/shm"
	"github.com/yodler/yodler/pkg/telemetry"
	"github.com/yodler/yodler/pkg/value"
)

// ErrUnknownHost is returned when a requested host is not configured.
var ErrUnknownHost = errors.New("unknown host")

// DefaultStorePath returns the history database location under the user's
// home directory.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".yodler", "history.db")
	}
	return filepath.Join(home, ".yodler", "history.db")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Type:    BackendLocal,
			Shell:   "/bin/sh",
			Timeout: Duration{backend.DefaultTimeout},
			SSH: SSHConfig{
				Port:       22,
				Mode:       string(ssh.ModeSFTP),
				AuthMethod: string(ssh.AuthMethodKey),
			},
		},
		SharedMemory: SharedMemoryConfig{
			Name:   shm.DefaultName,
			Driver: DriverSysV,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    DefaultStorePath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
		},
		Metrics: MetricsConfig{
			ListenAddress: "127.0.0.1:9464",
			Path:          "/metrics",
		},
		Policies: PolicyConfig{
			Package: "yodler.deploy",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the rules spanning several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Hosts))
	for _, h := range c.Hosts {
		if seen[h.Name] {
			return fmt.Errorf("invalid configuration: duplicate host %q", h.Name)
		}
		seen[h.Name] = true

		b := c.BackendFor(h)
		if b.Type == BackendSSH && b.SSH.Host == "" {
			return fmt.Errorf("invalid configuration: host %q uses ssh without an address", h.Name)
		}
	}

	if len(c.Hosts) == 0 && c.Backend.Type == BackendSSH && c.Backend.SSH.Host == "" {
		return fmt.Errorf("invalid configuration: ssh backend requires backend.ssh.host")
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("invalid configuration: otlp exporter requires tracing.endpoint")
	}
	if c.Policies.Enabled && len(c.Policies.Paths) == 0 && len(c.Policies.Builtins) == 0 {
		return fmt.Errorf("invalid configuration: policies enabled without paths or builtins")
	}
	return nil
}

// Targets returns the hosts to deploy to. An empty name selects every
// configured host, or a single local target when there are none.
func (c *Config) Targets(name string) ([]HostConfig, error) {
	if name == "" {
		if len(c.Hosts) == 0 {
			return []HostConfig{{Name: "localhost"}}, nil
		}
		return c.Hosts, nil
	}
	for _, h := range c.Hosts {
		if h.Name == name {
			return []HostConfig{h}, nil
		}
	}
	if len(c.Hosts) == 0 && name == "localhost" {
		return []HostConfig{{Name: name}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownHost, name)
}

// BackendFor returns the default backend with the host's overrides applied.
// An ssh backend without an address connects to the host name.
func (c *Config) BackendFor(h HostConfig) BackendConfig {
	b := c.Backend
	if o := h.Backend; o != nil {
		if o.Type != "" {
			b.Type = o.Type
		}
		if o.Shell != "" {
			b.Shell = o.Shell
		}
		if o.Dir != "" {
			b.Dir = o.Dir
		}
		if o.Timeout.Duration != 0 {
			b.Timeout = o.Timeout
		}
		b.SSH = mergeSSH(b.SSH, o.SSH)
	}
	if b.Type == BackendSSH && b.SSH.Host == "" && h.Name != "localhost" {
		b.SSH.Host = h.Name
	}
	return b
}

func mergeSSH(base, o SSHConfig) SSHConfig {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&base.Host, o.Host)
	set(&base.User, o.User)
	set(&base.Mode, o.Mode)
	set(&base.AuthMethod, o.AuthMethod)
	set(&base.Password, o.Password)
	set(&base.KeyPath, o.KeyPath)
	set(&base.KeyPassphrase, o.KeyPassphrase)
	set(&base.KnownHostsPath, o.KnownHostsPath)
	set(&base.ProxyHost, o.ProxyHost)
	set(&base.ProxyUser, o.ProxyUser)
	if o.Port != 0 {
		base.Port = o.Port
	}
	if o.ProxyPort != 0 {
		base.ProxyPort = o.ProxyPort
	}
	if o.ConnectionTimeout.Duration != 0 {
		base.ConnectionTimeout = o.ConnectionTimeout
	}
	if o.KeepAlive.Duration != 0 {
		base.KeepAlive = o.KeepAlive
	}
	base.InsecureIgnoreHostKey = base.InsecureIgnoreHostKey || o.InsecureIgnoreHostKey
	return base
}

// SSHClientConfig converts b into the ssh backend configuration.
func (b BackendConfig) SSHClientConfig() *ssh.Config {
	s := b.SSH
	cfg := ssh.DefaultConfig(s.Host, s.User)
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}
	if s.Port != 0 {
		cfg.Port = s.Port
	}
	if s.Mode != "" {
		cfg.Mode = ssh.Mode(s.Mode)
	}
	if s.AuthMethod != "" {
		cfg.AuthMethod = ssh.AuthMethod(s.AuthMethod)
	}
	cfg.Password = s.Password
	if s.KeyPath != "" {
		cfg.PrivateKeyPath = s.KeyPath
	}
	cfg.PrivateKeyPassphrase = s.KeyPassphrase
	if s.KnownHostsPath != "" {
		cfg.KnownHostsPath = s.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = !s.InsecureIgnoreHostKey
	if s.ConnectionTimeout.Duration != 0 {
		cfg.ConnectionTimeout = s.ConnectionTimeout.Duration
	}
	if b.Timeout.Duration != 0 {
		cfg.CommandTimeout = b.Timeout.Duration
	}
	cfg.KeepAliveInterval = s.KeepAlive.Duration
	cfg.ProxyHost = s.ProxyHost
	if s.ProxyPort != 0 {
		cfg.ProxyPort = s.ProxyPort
	}
	cfg.ProxyUser = s.ProxyUser
	return cfg
}

// VarsFor returns the deploy vars with the host's vars merged over them.
func (c *Config) VarsFor(h HostConfig) (value.Value, error) {
	merged := make(map[string]any, len(c.Deploy.Vars)+len(h.Vars)+1)
	for k, v := range c.Deploy.Vars {
		merged[k] = v
	}
	for k, v := range h.Vars {
		merged[k] = v
	}
	if _, ok := merged["host"]; !ok {
		merged["host"] = h.Name
	}

	vars, err := value.FromAny(normalize(merged))
	if err != nil {
		return value.Null(), fmt.Errorf("vars for host %s: %w", h.Name, err)
	}
	return vars, nil
}

// normalize rewrites decoder specific containers into map[string]any and
// []any.
func normalize(x any) any {
	switch t := x.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = normalize(v)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[fmt.Sprint(k)] = normalize(v)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = normalize(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = normalize(v)
		}
		return out
	default:
		return x
	}
}

// Telemetry converts the logging, tracing and metrics sections.
func (c *Config) Telemetry(version string) *telemetry.Config {
	t := telemetry.DefaultConfig()
	t.ServiceVersion = version

	if c.Logging.Level != "" {
		t.Logging.Level = c.Logging.Level
	}
	if c.Logging.Format != "" {
		t.Logging.Format = c.Logging.Format
	}
	if c.Logging.Output != "" {
		t.Logging.Output = c.Logging.Output
	}
	t.Logging.EnableCaller = c.Logging.Caller
	t.Logging.NoColor = c.Logging.NoColor

	t.Tracing.Enabled = c.Tracing.Enabled
	if c.Tracing.Exporter != "" {
		t.Tracing.Exporter = c.Tracing.Exporter
	}
	t.Tracing.Endpoint = c.Tracing.Endpoint
	if c.Tracing.SamplingRate != 0 {
		t.Tracing.SamplingRate = c.Tracing.SamplingRate
	}
	t.Tracing.Insecure = c.Tracing.Insecure
	for k, v := range c.Tracing.Headers {
		t.Tracing.Headers[k] = v
	}

	t.Metrics.Enabled = c.Metrics.Enabled
	t.Metrics.ListenAddress = c.Metrics.ListenAddress
	if c.Metrics.Path != "" {
		t.Metrics.Path = c.Metrics.Path
	}
	return t
}
