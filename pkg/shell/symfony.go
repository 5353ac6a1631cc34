package shell

import (
	"context"
	"errors"
	"strings"
)

// ErrPHPNotFound is returned when no php binary is on the remote PATH.
var ErrPHPNotFound = errors.New("php not found")

// Option is a console option. An empty Value renders a bare flag.
type Option struct {
	Name  string
	Value string
}

func (o Option) String() string {
	name := o.Name
	if !strings.HasPrefix(name, "--") {
		name = "--" + name
	}
	if o.Value == "" {
		return name
	}
	return name + "=" + o.Value
}

// Symfony runs Symfony console commands through a shell. Commands get
// --env and, unless enabled, --no-debug and --no-interaction.
type Symfony struct {
	Env         string
	Debug       bool
	Interaction bool

	shell   *Shell
	php     string
	options []Option
}

// NewSymfony returns a console runner for the prod environment.
func NewSymfony(sh *Shell) *Symfony {
	return &Symfony{Env: "prod", shell: sh}
}

// SetOption adds an option passed to every command, replacing an earlier
// one of the same name.
func (s *Symfony) SetOption(name, value string) {
	for i := range s.options {
		if s.options[i].Name == name {
			s.options[i].Value = value
			return
		}
	}
	s.options = append(s.options, Option{Name: name, Value: value})
}

// RunCommand runs command through the console script. Predefined options
// win over those set with SetOption, which win over opts.
func (s *Symfony) RunCommand(ctx context.Context, console, command string, args []string, opts ...Option) (string, error) {
	php, err := s.phpPath(ctx)
	if err != nil {
		return "", err
	}

	predefined := []Option{{Name: "env", Value: s.Env}}
	if !s.Debug {
		predefined = append(predefined, Option{Name: "no-debug"})
	}
	if !s.Interaction {
		predefined = append(predefined, Option{Name: "no-interaction"})
	}

	parts := append([]string{php, console, command}, args...)
	seen := make(map[string]bool)
	for _, group := range [][]Option{predefined, s.options, opts} {
		for _, o := range group {
			key := strings.TrimPrefix(o.Name, "--")
			if seen[key] {
				continue
			}
			seen[key] = true
			parts = append(parts, o.String())
		}
	}
	return s.shell.Exec(ctx, strings.Join(parts, " "))
}

func (s *Symfony) phpPath(ctx context.Context) (string, error) {
	if s.php != "" {
		return s.php, nil
	}
	php, err := s.shell.Which(ctx, "php")
	if err != nil {
		return "", err
	}
	if php == "" {
		return "", ErrPHPNotFound
	}
	s.php = php
	return php, nil
}
