// Package factory builds command backends from configuration.
package factory

import (
	"fmt"
	"io"

	"github.com/yodler/yodler/pkg/backend"
	"github.com/yodler/yodler/pkg/backend/local"
	"github.com/yodler/yodler/pkg/backend/ssh"
	"github.com/yodler/yodler/pkg/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates the backend described by cfg. The closer releases its
// connections and must be called once the deployment is done.
func New(cfg config.BackendConfig) (backend.Backend, io.Closer, error) {
	switch cfg.Type {
	case "", config.BackendLocal:
		var opts []local.Option
		if cfg.Shell != "" {
			opts = append(opts, local.WithShell(cfg.Shell))
		}
		if cfg.Dir != "" {
			opts = append(opts, local.WithDir(cfg.Dir))
		}
		if cfg.Timeout.Duration > 0 {
			opts = append(opts, local.WithTimeout(cfg.Timeout.Duration))
		}
		return local.New(opts...), nopCloser{}, nil

	case config.BackendSSH:
		client, err := ssh.New(cfg.SSHClientConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create ssh backend: %w", err)
		}
		return client, client, nil

	case config.BackendRecorder:
		return backend.NewRecorder(), nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
