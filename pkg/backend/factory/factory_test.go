package factory

import (
	"context"
	"testing"

	"github.com/yodler/yodler/pkg/backend"
	"github.com/yodler/yodler/pkg/backend/local"
	"github.com/yodler/yodler/pkg/backend/ssh"
	"github.com/yodler/yodler/pkg/config"
)

func TestNew(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		name  string
		cfg   config.BackendConfig
		check func(t *testing.T, b backend.Backend)
	}{
		{
			name: "local",
			cfg:  cfg.Backend,
			check: func(t *testing.T, b backend.Backend) {
				if _, ok := b.(*local.Backend); !ok {
					t.Errorf("expected *local.Backend, got %T", b)
				}
				out, err := b.Exec(context.Background(), "echo hello")
				if err != nil || out != "hello\n" {
					t.Errorf("Exec = %q, %v", out, err)
				}
			},
		},
		{
			name: "recorder",
			cfg:  config.BackendConfig{Type: config.BackendRecorder},
			check: func(t *testing.T, b backend.Backend) {
				rec, ok := b.(*backend.Recorder)
				if !ok {
					t.Fatalf("expected *backend.Recorder, got %T", b)
				}
				_, _ = rec.Exec(context.Background(), "uptime")
				if len(rec.Commands()) != 1 {
					t.Errorf("expected the command to be recorded")
				}
			},
		},
		{
			name: "ssh",
			cfg: func() config.BackendConfig {
				b := cfg.Backend
				b.Type = config.BackendSSH
				b.SSH.Host = "10.0.0.5"
				b.SSH.User = "deploy"
				b.SSH.AuthMethod = "password"
				b.SSH.Password = "secret"
				b.SSH.InsecureIgnoreHostKey = true
				return b
			}(),
			check: func(t *testing.T, b backend.Backend) {
				client, ok := b.(*ssh.Client)
				if !ok {
					t.Fatalf("expected *ssh.Client, got %T", b)
				}
				if client.IsConnected() {
					t.Error("the client must connect lazily")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, closer, err := New(tt.cfg)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer closer.Close()
			tt.check(t, b)
		})
	}
}

func TestNewErrors(t *testing.T) {
	if _, _, err := New(config.BackendConfig{Type: "telnet"}); err == nil {
		t.Error("expected error for an unknown type")
	}
	if _, _, err := New(config.BackendConfig{Type: config.BackendSSH}); err == nil {
		t.Error("expected error for an ssh backend without a host")
	}
}
