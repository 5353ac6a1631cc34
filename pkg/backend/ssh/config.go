package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yodler/yodler/pkg/backend"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the client logs in.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"

	// AuthMethodAgent signs with the agent listening on $SSH_AUTH_SOCK.
	AuthMethodAgent AuthMethod = "agent"
)

// Mode selects how command results are interpreted.
type Mode string

const (
	// ModeSFTP checks the exit status of every command and reports stderr
	// as diagnostics. Files move over SFTP.
	ModeSFTP Mode = "sftp"

	// ModeSession returns whatever the command printed on stdout without
	// looking at the exit status. Transport failures are still errors.
	ModeSession Mode = "session"
)

// defaultKeys are tried in order when key auth names no key.
var defaultKeys = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// Config describes one target host.
type Config struct {
	Host string
	Port int
	User string
	Mode Mode

	AuthMethod           AuthMethod
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath is only consulted when StrictHostKeyChecking is set.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration

	// CommandTimeout bounds a single command or transfer.
	CommandTimeout time.Duration

	// KeepAliveInterval of zero disables keep-alives. The connection is
	// dropped after MaxKeepAliveRetries missed replies.
	KeepAliveInterval   time.Duration
	MaxKeepAliveRetries int

	// ProxyHost names a jump host. Proxy credentials left empty are taken
	// from the target.
	ProxyHost           string
	ProxyPort           int
	ProxyUser           string
	ProxyAuthMethod     AuthMethod
	ProxyPassword       string
	ProxyPrivateKeyPath string
}

// DefaultConfig returns key auth on port 22 with strict host key checking
// against ~/.ssh/known_hosts.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		Mode:                  ModeSFTP,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        backend.DefaultTimeout,
		MaxKeepAliveRetries:   3,
		ProxyPort:             22,
	}
}

// Validate checks c and fills in defaults: an empty Mode becomes ModeSFTP
// and key auth without a key picks the first default key found in ~/.ssh.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case !validPort(c.Port):
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return errors.New("user is required")
	}

	switch c.Mode {
	case "":
		c.Mode = ModeSFTP
	case ModeSFTP, ModeSession:
	default:
		return fmt.Errorf("unsupported mode: %s", c.Mode)
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if c.ConnectionTimeout <= 0 {
		return errors.New("connection timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return errors.New("command timeout must be positive")
	}

	if c.ProxyHost != "" {
		if !validPort(c.ProxyPort) {
			return fmt.Errorf("invalid proxy port: %d", c.ProxyPort)
		}
		if c.ProxyUser == "" {
			return errors.New("proxy user is required when proxy host is specified")
		}
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func (c *Config) validateAuth() error {
	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return errors.New("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = findDefaultKey()
		}
		if c.PrivateKeyPath == "" {
			return errors.New("private key path is required for key authentication and no default key found")
		}
		if _, err := os.Stat(c.PrivateKeyPath); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	case AuthMethodAgent:
		if os.Getenv("SSH_AUTH_SOCK") == "" {
			return errors.New("agent authentication requires SSH_AUTH_SOCK")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
	return nil
}

func findDefaultKey() string {
	dir := filepath.Join(os.Getenv("HOME"), ".ssh")
	for _, name := range defaultKeys {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// BuildSSHClientConfig returns the client config for c. The closer is
// non-nil when an agent connection was opened and must outlive the client.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, io.Closer, error) {
	auth, closer, err := c.authMethods()
	if err != nil {
		return nil, nil, err
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		if hostKeys, err = knownhosts.New(c.KnownHostsPath); err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, closer, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Servers that prompt for the password only offer
		// keyboard-interactive.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil, nil

	case AuthMethodKey:
		signer, err := c.signer()
		if err != nil {
			return nil, nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil

	case AuthMethodAgent:
		conn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to ssh agent: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, conn, nil
	}
	return nil, nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
}

func (c *Config) signer() (ssh.Signer, error) {
	pem, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if c.PrivateKeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// Address returns host:port of the target.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProxyAddress returns host:port of the jump host, or "" without one.
func (c *Config) ProxyAddress() string {
	if c.ProxyHost == "" {
		return ""
	}
	return net.JoinHostPort(c.ProxyHost, strconv.Itoa(c.ProxyPort))
}

// IsProxyEnabled reports whether connections go through a jump host.
func (c *Config) IsProxyEnabled() bool {
	return c.ProxyHost != ""
}

// proxyConfig returns the config used to reach the jump host. Without a
// proxy auth method the target's credentials are reused.
func (c *Config) proxyConfig() *Config {
	p := &Config{
		Host:                  c.ProxyHost,
		Port:                  c.ProxyPort,
		User:                  c.ProxyUser,
		AuthMethod:            c.ProxyAuthMethod,
		Password:              c.ProxyPassword,
		PrivateKeyPath:        c.ProxyPrivateKeyPath,
		ConnectionTimeout:     c.ConnectionTimeout,
		StrictHostKeyChecking: c.StrictHostKeyChecking,
		KnownHostsPath:        c.KnownHostsPath,
	}
	if p.AuthMethod == "" {
		p.AuthMethod = c.AuthMethod
		p.Password = c.Password
		p.PrivateKeyPath = c.PrivateKeyPath
		p.PrivateKeyPassphrase = c.PrivateKeyPassphrase
	}
	return p
}
