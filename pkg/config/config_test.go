package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yodler/yodler/pkg/backend/ssh"
	"github.com/yodler/yodler/pkg/value"
)

const yamlConfig = `
deploy:
  scenario: deploy.star
  step_limit: 100000
  vars:
    release: 42
    app: shop
backend:
  type: ssh
  timeout: 10m
  ssh:
    user: deploy
    mode: session
    known_hosts_path: /tmp/known_hosts
hosts:
  - name: web1
    vars:
      role: frontend
  - name: db1
    backend:
      ssh:
        host: 10.0.0.5
        port: 2222
shared_memory:
  name: shop-facts
store:
  enabled: true
  path: /tmp/history.db
logging:
  level: debug
  format: json
`

const tomlConfig = `
[deploy]
scenario = "deploy.star"
step_limit = 100000

[deploy.vars]
release = 42
app = "shop"

[backend]
type = "ssh"
timeout = "10m"

[backend.ssh]
user = "deploy"
mode = "session"
known_hosts_path = "/tmp/known_hosts"

[[hosts]]
name = "web1"
[hosts.vars]
role = "frontend"

[[hosts]]
name = "db1"
[hosts.backend.ssh]
host = "10.0.0.5"
port = 2222

[shared_memory]
name = "shop-facts"

[store]
enabled = true
path = "/tmp/history.db"

[logging]
level = "debug"
format = "json"
`

const cueConfig = `
deploy: {
	scenario:   "deploy.star"
	step_limit: 100000
	vars: {
		release: 42
		app:     "shop"
	}
}
backend: {
	type:    "ssh"
	timeout: "10m"
	ssh: {
		user:             "deploy"
		mode:             "session"
		known_hosts_path: "/tmp/known_hosts"
	}
}
hosts: [
	{name: "web1", vars: role: "frontend"},
	{name: "db1", backend: ssh: {host: "10.0.0.5", port: 2222}},
]
shared_memory: name: "shop-facts"
store: {
	enabled: true
	path:    "/tmp/history.db"
}
logging: {
	level:  "debug"
	format: "json"
}
`

func TestParseFormats(t *testing.T) {
	tests := []struct {
		format Format
		src    string
	}{
		{FormatYAML, yamlConfig},
		{FormatTOML, tomlConfig},
		{FormatCUE, cueConfig},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			cfg, err := Parse([]byte(tt.src), tt.format, "test."+string(tt.format))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}

			if cfg.Deploy.Scenario != "deploy.star" || cfg.Deploy.StepLimit != 100000 {
				t.Errorf("unexpected deploy section %+v", cfg.Deploy)
			}
			if cfg.Backend.Type != BackendSSH || cfg.Backend.Timeout.Duration != 10*time.Minute {
				t.Errorf("unexpected backend %+v", cfg.Backend)
			}
			if cfg.Backend.SSH.Port != 22 {
				t.Errorf("default port should survive decoding, got %d", cfg.Backend.SSH.Port)
			}
			if len(cfg.Hosts) != 2 || cfg.Hosts[1].Backend == nil || cfg.Hosts[1].Backend.SSH.Port != 2222 {
				t.Fatalf("unexpected hosts %+v", cfg.Hosts)
			}
			if cfg.SharedMemory.Name != "shop-facts" || cfg.SharedMemory.Driver != DriverSysV {
				t.Errorf("unexpected shared memory %+v", cfg.SharedMemory)
			}
			if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
				t.Errorf("unexpected logging %+v", cfg.Logging)
			}

			vars, err := cfg.VarsFor(cfg.Hosts[0])
			if err != nil {
				t.Fatalf("VarsFor: %v", err)
			}
			want := value.Map(map[string]value.Value{
				"release": value.Int(42),
				"app":     value.String("shop"),
				"role":    value.String("frontend"),
				"host":    value.String("web1"),
			})
			if !value.Equal(vars, want) {
				t.Errorf("vars = %s, want %s", vars, want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		src     string
		wantErr string
	}{
		{name: "unknown yaml key", format: FormatYAML, src: "bogus: 1\n", wantErr: "bogus"},
		{name: "unknown toml key", format: FormatTOML, src: "bogus = 1\n", wantErr: "unknown keys"},
		{name: "bad backend type", format: FormatYAML, src: "backend:\n  type: telnet\n", wantErr: "Type"},
		{name: "bad duration", format: FormatYAML, src: "backend:\n  timeout: soon\n", wantErr: "invalid duration"},
		{name: "duplicate host", format: FormatYAML, src: "hosts:\n  - name: a\n  - name: a\n", wantErr: "duplicate host"},
		{name: "ssh without address", format: FormatYAML, src: "backend:\n  type: ssh\n", wantErr: "backend.ssh.host"},
		{name: "otlp without endpoint", format: FormatYAML, src: "tracing:\n  enabled: true\n  exporter: otlp\n", wantErr: "tracing.endpoint"},
		{name: "cue schema violation", format: FormatCUE, src: `backend: type: "telnet"`, wantErr: "telnet"},
		{name: "cue unknown field", format: FormatCUE, src: `bogus: 1`, wantErr: "bogus"},
		{name: "cue syntax", format: FormatCUE, src: `backend: {`, wantErr: "test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), tt.format, "test")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCUEErrorsCarryPositions(t *testing.T) {
	err := NewCUELoader().Decode([]byte("backend: type: \"telnet\"\n"), "site.cue", Default())

	var verrs ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yodler.yml")
	if err := os.WriteFile(path, []byte("deploy:\n  scenario: a.star\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Deploy.Scenario != "a.star" {
		t.Errorf("unexpected scenario %q", cfg.Deploy.Scenario)
	}

	if _, err := Load(filepath.Join(dir, "yodler.ini")); err == nil {
		t.Error("expected an unsupported format error")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected a read error")
	}
}

func TestTargets(t *testing.T) {
	cfg := Default()

	targets, err := cfg.Targets("")
	if err != nil || len(targets) != 1 || targets[0].Name != "localhost" {
		t.Fatalf("expected an implicit localhost target, got %v %v", targets, err)
	}

	cfg.Hosts = []HostConfig{{Name: "web1"}, {Name: "web2"}}
	targets, _ = cfg.Targets("")
	if diff := cmp.Diff([]string{"web1", "web2"}, []string{targets[0].Name, targets[1].Name}); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}

	if _, err := cfg.Targets("db1"); !errors.Is(err, ErrUnknownHost) {
		t.Errorf("expected ErrUnknownHost, got %v", err)
	}
}

func TestBackendFor(t *testing.T) {
	cfg := Default()
	cfg.Backend.Type = BackendSSH
	cfg.Backend.SSH.User = "deploy"
	cfg.Backend.SSH.KnownHostsPath = "/tmp/known_hosts"

	web := cfg.BackendFor(HostConfig{Name: "web1"})
	if web.SSH.Host != "web1" || web.SSH.User != "deploy" {
		t.Errorf("expected host name as address, got %+v", web.SSH)
	}

	db := cfg.BackendFor(HostConfig{
		Name: "db1",
		Backend: &BackendConfig{
			Timeout: Seconds(5),
			SSH:     SSHConfig{Host: "10.0.0.5", Port: 2222, Mode: "session"},
		},
	})
	if db.SSH.Host != "10.0.0.5" || db.SSH.Port != 2222 || db.Timeout.Duration != 5*time.Second {
		t.Errorf("overrides not applied: %+v", db)
	}

	sc := db.SSHClientConfig()
	if sc.Address() != "10.0.0.5:2222" || sc.Mode != ssh.ModeSession || sc.CommandTimeout != 5*time.Second {
		t.Errorf("unexpected ssh config %+v", sc)
	}
	if !sc.StrictHostKeyChecking || sc.KnownHostsPath != "/tmp/known_hosts" {
		t.Errorf("expected strict host key checking, got %+v", sc)
	}
}

func TestTelemetryConversion(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "warn"
	cfg.Metrics.Enabled = true

	tc := cfg.Telemetry("1.2.3")
	if tc.ServiceVersion != "1.2.3" || tc.Logging.Level != "warn" || !tc.Metrics.Enabled {
		t.Errorf("unexpected telemetry config %+v", tc)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("converted config should validate: %v", err)
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil || d.Duration != 90*time.Second {
		t.Errorf("UnmarshalText = %v, %v", d, err)
	}
	if err := d.UnmarshalJSON([]byte("2")); err != nil || d.Duration != 2*time.Second {
		t.Errorf("UnmarshalJSON(2) = %v, %v", d, err)
	}
	out, _ := Seconds(90).MarshalText()
	if string(out) != "1m30s" {
		t.Errorf("MarshalText = %s", out)
	}
}

func TestSchemaRegistry(t *testing.T) {
	sr := NewSchemaRegistry()

	if diff := cmp.Diff([]string{"backend", "config", "host"}, sr.ListSchemas()); diff != "" {
		t.Errorf("schemas mismatch (-want +got):\n%s", diff)
	}

	if err := sr.ValidateAgainstSchema(SchemaHost, map[string]any{"name": "web1"}); err != nil {
		t.Errorf("valid host rejected: %v", err)
	}
	if err := sr.ValidateAgainstSchema(SchemaHost, map[string]any{"name": "web 1"}); err == nil {
		t.Error("expected invalid host name to be rejected")
	}
	if err := sr.ValidateAgainstSchema(SchemaBackend, map[string]any{"ssh": map[string]any{"port": 70000}}); err == nil {
		t.Error("expected out of range port to be rejected")
	}

	if err := sr.RegisterSchema("custom", "#Custom: {field1: string}", "#Custom"); err != nil {
		t.Fatalf("RegisterSchema: %v", err)
	}
	if err := sr.RegisterSchema("broken", "#Custom: {", "#Custom"); err == nil {
		t.Error("expected a compile error")
	}
	if err := sr.ValidateAgainstSchema("absent", nil); err == nil {
		t.Error("expected an unknown schema error")
	}
}
