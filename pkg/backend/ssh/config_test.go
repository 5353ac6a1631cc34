package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yodler/yodler/pkg/backend"
	"golang.org/x/crypto/ssh"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("example.com", "deploy")

	if config.Host != "example.com" {
		t.Errorf("expected host 'example.com', got '%s'", config.Host)
	}
	if config.Port != 22 {
		t.Errorf("expected port 22, got %d", config.Port)
	}
	if config.Mode != ModeSFTP {
		t.Errorf("expected mode 'sftp', got '%s'", config.Mode)
	}
	if config.CommandTimeout != backend.DefaultTimeout {
		t.Errorf("expected command timeout %v, got %v", backend.DefaultTimeout, config.CommandTimeout)
	}
	if config.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected connection timeout 30s, got %v", config.ConnectionTimeout)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name       string
		modifyFunc func(*Config)
		errorMsg   string
	}{
		{
			name: "valid config",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
			},
		},
		{
			name: "session mode",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.Mode = ModeSession
			},
		},
		{
			name:       "missing host",
			modifyFunc: func(c *Config) { c.Host = "" },
			errorMsg:   "host is required",
		},
		{
			name:       "invalid port",
			modifyFunc: func(c *Config) { c.Port = 0 },
			errorMsg:   "invalid port",
		},
		{
			name:       "missing user",
			modifyFunc: func(c *Config) { c.User = "" },
			errorMsg:   "user is required",
		},
		{
			name: "unknown mode",
			modifyFunc: func(c *Config) {
				c.Mode = "telnet"
			},
			errorMsg: "unsupported mode",
		},
		{
			name: "password auth without password",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = ""
			},
			errorMsg: "password is required",
		},
		{
			name: "key auth with missing key",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/key"
			},
			errorMsg: "private key file not found",
		},
		{
			name: "invalid command timeout",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.CommandTimeout = 0
			},
			errorMsg: "command timeout must be positive",
		},
		{
			name: "proxy with missing user",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.ProxyHost = "bastion.example.com"
			},
			errorMsg: "proxy user is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("example.com", "deploy")
			tt.modifyFunc(config)

			err := config.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing '%s', got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing '%s', got '%v'", tt.errorMsg, err)
			}
		})
	}
}

func TestValidateDefaultsEmptyMode(t *testing.T) {
	config := DefaultConfig("example.com", "deploy")
	config.AuthMethod = AuthMethodPassword
	config.Password = "secret"
	config.Mode = ""

	if err := config.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Mode != ModeSFTP {
		t.Errorf("expected mode to default to sftp, got '%s'", config.Mode)
	}
}

func TestConfigAddress(t *testing.T) {
	config := DefaultConfig("example.com", "deploy")
	config.Port = 2222

	if address := config.Address(); address != "example.com:2222" {
		t.Errorf("expected address 'example.com:2222', got '%s'", address)
	}

	config.ProxyHost = "bastion.example.com"
	config.ProxyPort = 2200
	if address := config.ProxyAddress(); address != "bastion.example.com:2200" {
		t.Errorf("expected proxy address 'bastion.example.com:2200', got '%s'", address)
	}
	if !config.IsProxyEnabled() {
		t.Error("expected proxy to be enabled")
	}

	config.ProxyHost = ""
	if address := config.ProxyAddress(); address != "" {
		t.Errorf("expected empty proxy address, got '%s'", address)
	}
}

func TestBuildSSHClientConfig(t *testing.T) {
	t.Run("password authentication", func(t *testing.T) {
		config := DefaultConfig("example.com", "deploy")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.StrictHostKeyChecking = false

		clientConfig, closer, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if closer != nil {
			t.Error("expected no closer for password auth")
		}
		if clientConfig.User != "deploy" {
			t.Errorf("expected user 'deploy', got '%s'", clientConfig.User)
		}
		// password plus keyboard-interactive
		if len(clientConfig.Auth) != 2 {
			t.Errorf("expected 2 auth methods, got %d", len(clientConfig.Auth))
		}
	})

	t.Run("key authentication", func(t *testing.T) {
		keyPath := writeTestKey(t)

		config := DefaultConfig("example.com", "deploy")
		config.AuthMethod = AuthMethodKey
		config.PrivateKeyPath = keyPath
		config.StrictHostKeyChecking = false

		clientConfig, _, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(clientConfig.Auth) != 1 {
			t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
		}
	})

	t.Run("agent without socket", func(t *testing.T) {
		t.Setenv("SSH_AUTH_SOCK", filepath.Join(t.TempDir(), "missing.sock"))

		config := DefaultConfig("example.com", "deploy")
		config.AuthMethod = AuthMethodAgent

		if _, _, err := config.BuildSSHClientConfig(); err == nil {
			t.Error("expected error when the agent socket does not exist")
		}
	})

	t.Run("missing known_hosts", func(t *testing.T) {
		config := DefaultConfig("example.com", "deploy")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")

		if _, _, err := config.BuildSSHClientConfig(); err == nil {
			t.Error("expected error for missing known_hosts")
		}
	})
}

// writeTestKey writes a fresh ED25519 key in OpenSSH PEM format.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return keyPath
}

func TestProxyConfigInheritsCredentials(t *testing.T) {
	config := DefaultConfig("10.0.0.5", "deploy")
	config.AuthMethod = AuthMethodPassword
	config.Password = "secret"
	config.ProxyHost = "bastion.example.com"
	config.ProxyUser = "jump"

	proxy := config.proxyConfig()
	if proxy.Address() != "bastion.example.com:22" || proxy.User != "jump" {
		t.Errorf("unexpected proxy target %s@%s", proxy.User, proxy.Address())
	}
	if proxy.AuthMethod != AuthMethodPassword || proxy.Password != "secret" {
		t.Errorf("expected the target's credentials, got %s %q", proxy.AuthMethod, proxy.Password)
	}

	config.ProxyAuthMethod = AuthMethodKey
	config.ProxyPrivateKeyPath = "/keys/jump"
	proxy = config.proxyConfig()
	if proxy.AuthMethod != AuthMethodKey || proxy.PrivateKeyPath != "/keys/jump" || proxy.Password != "" {
		t.Errorf("explicit proxy credentials must win, got %+v", proxy)
	}
}
