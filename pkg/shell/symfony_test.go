package shell

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yodler/yodler/pkg/backend"
)

func TestSymfonyRunCommand(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Symfony)
		args    []string
		opts    []Option
		command string
	}{
		{
			name:    "defaults",
			command: "/usr/bin/php bin/console cache:clear --env=prod --no-debug --no-interaction",
		},
		{
			name: "debug and interaction",
			setup: func(s *Symfony) {
				s.Env = "dev"
				s.Debug = true
				s.Interaction = true
			},
			command: "/usr/bin/php bin/console cache:clear --env=dev",
		},
		{
			name:    "arguments and options",
			args:    []string{"--", "app"},
			opts:    []Option{{Name: "--no-warmup"}, {Name: "limit", Value: "10"}},
			command: "/usr/bin/php bin/console cache:clear -- app --env=prod --no-debug --no-interaction --no-warmup --limit=10",
		},
		{
			name: "shared options lose to predefined and win over call options",
			setup: func(s *Symfony) {
				s.SetOption("env", "test")
				s.SetOption("limit", "5")
				s.SetOption("limit", "7")
			},
			opts:    []Option{{Name: "limit", Value: "10"}},
			command: "/usr/bin/php bin/console cache:clear --env=prod --no-debug --no-interaction --limit=7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := backend.NewRecorder().Respond("which php || true", "/usr/bin/php\n")
			s := NewSymfony(New(rec))
			if tt.setup != nil {
				tt.setup(s)
			}

			if _, err := s.RunCommand(context.Background(), "bin/console", "cache:clear", tt.args, tt.opts...); err != nil {
				t.Fatalf("RunCommand: %v", err)
			}
			want := []string{"which php || true", tt.command}
			if diff := cmp.Diff(want, rec.Commands()); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSymfonyCachesPHPPath(t *testing.T) {
	rec := backend.NewRecorder().Respond("which php || true", "/usr/bin/php\n")
	s := NewSymfony(New(rec))
	ctx := context.Background()

	for range 2 {
		if _, err := s.RunCommand(ctx, "bin/console", "about", nil); err != nil {
			t.Fatalf("RunCommand: %v", err)
		}
	}
	if n := len(rec.Commands()); n != 3 {
		t.Errorf("expected php to be looked up once, got commands %v", rec.Commands())
	}
}

func TestSymfonyWithoutPHP(t *testing.T) {
	rec := backend.NewRecorder()
	_, err := NewSymfony(New(rec)).RunCommand(context.Background(), "bin/console", "about", nil)
	if !errors.Is(err, ErrPHPNotFound) {
		t.Fatalf("expected ErrPHPNotFound, got %v", err)
	}
	if diff := cmp.Diff([]string{"which php || true"}, rec.Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}
