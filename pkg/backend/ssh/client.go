// Package ssh implements the command backend over SSH, with SFTP for file
// transfer.
package ssh

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"github.com/yodler/yodler/pkg/backend"
	"golang.org/x/crypto/ssh"
)

// Client is an SSH backend. The connection is opened lazily on first use and
// shared by every subsequent command and transfer.
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	proxy       *ssh.Client
	sftp        *sftp.Client
	agent       io.Closer
	isConnected bool
	connectedAt time.Time
	stopKeep    chan struct{}
}

var (
	_ backend.Backend = (*Client)(nil)
	_ backend.Closer  = (*Client)(nil)
)

// New creates a new SSH backend.
func New(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection. Calling it on a live connection is
// a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.isConnected && c.client != nil {
		if err := c.healthCheckInternal(); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, agentConn, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return transportErr(c.config.Host, "connect", ErrAuthFailed, err)
	}
	c.agent = agentConn

	if c.config.IsProxyEnabled() {
		err = c.connectViaProxy(ctx, clientConfig)
	} else {
		err = c.connectDirect(ctx, clientConfig)
	}
	if err != nil {
		c.closeLocked()
		return err
	}

	c.isConnected = true
	c.connectedAt = time.Now()

	if c.config.KeepAliveInterval > 0 {
		c.stopKeep = make(chan struct{})
		go c.keepAlive(c.client, c.stopKeep)
	}
	return nil
}

func (c *Client) connectDirect(ctx context.Context, clientConfig *ssh.ClientConfig) error {
	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		go func() {
			select {
			case client := <-connChan:
				_ = client.Close()
			case <-errChan:
			}
		}()
		return transportErr(c.config.Host, "connect", ErrUnreachable, ctx.Err())
	case err := <-errChan:
		return transportErr(c.config.Host, "connect", dialFailure(err), err)
	case client := <-connChan:
		c.client = client
		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

func (c *Client) connectViaProxy(ctx context.Context, targetConfig *ssh.ClientConfig) error {
	proxyConfig := c.config.proxyConfig()

	proxyClientConfig, proxyAgent, err := proxyConfig.BuildSSHClientConfig()
	if err != nil {
		return fmt.Errorf("failed to build proxy config: %w", err)
	}
	if proxyAgent != nil {
		defer proxyAgent.Close()
	}

	log.Debug().Str("proxy", proxyConfig.Address()).Msg("connecting to proxy host")

	proxyClient, err := ssh.Dial("tcp", proxyConfig.Address(), proxyClientConfig)
	if err != nil {
		return transportErr(c.config.Host, "connect-proxy", ErrUnreachable, err)
	}

	targetAddress := c.config.Address()
	proxyConn, err := proxyClient.DialContext(ctx, "tcp", targetAddress)
	if err != nil {
		_ = proxyClient.Close()
		return transportErr(c.config.Host, "connect-via-proxy", ErrUnreachable, err)
	}

	ncc, chans, reqs, err := ssh.NewClientConn(proxyConn, targetAddress, targetConfig)
	if err != nil {
		_ = proxyConn.Close()
		_ = proxyClient.Close()
		return transportErr(c.config.Host, "connect-via-proxy", dialFailure(err), err)
	}

	c.client = ssh.NewClient(ncc, chans, reqs)
	c.proxy = proxyClient

	log.Info().Str("target", targetAddress).Str("proxy", proxyConfig.Address()).Msg("SSH connection established via proxy")
	return nil
}

// Close tears down the SFTP subsystem and the SSH connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected {
		return nil
	}
	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	if err := c.closeLocked(); err != nil {
		return transportErr(c.config.Host, "disconnect", ErrSessionBroken, err)
	}
	return nil
}

func (c *Client) closeLocked() error {
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}
	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	if c.proxy != nil {
		_ = c.proxy.Close()
		c.proxy = nil
	}
	if c.agent != nil {
		_ = c.agent.Close()
		c.agent = nil
	}
	c.isConnected = false
	return err
}

// IsConnected returns true if the backend has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return transportErr(c.config.Host, "healthcheck", ErrNotConnected, ErrNotConnected)
	}
	return c.healthCheckInternal()
}

// healthCheckInternal must be called with connMu held.
func (c *Client) healthCheckInternal() error {
	session, err := c.client.NewSession()
	if err != nil {
		return transportErr(c.config.Host, "healthcheck", ErrSessionBroken, err)
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return transportErr(c.config.Host, "healthcheck", ErrSessionBroken, err)
	}
	return nil
}

func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				log.Error().Str("host", c.config.Host).Msg("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
	}
}

// sshClient returns the live connection, connecting first if needed.
func (c *Client) sshClient(ctx context.Context) (*ssh.Client, error) {
	c.connMu.RLock()
	if c.isConnected && c.client != nil {
		client := c.client
		c.connMu.RUnlock()
		return client, nil
	}
	c.connMu.RUnlock()

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.client, nil
}

// sftpClient returns the shared SFTP client, opening it on first use.
func (c *Client) sftpClient(ctx context.Context) (*sftp.Client, error) {
	client, err := c.sshClient(ctx)
	if err != nil {
		return nil, err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.sftp != nil {
		return c.sftp, nil
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, transportErr(c.config.Host, "sftp-init", ErrSessionBroken, fmt.Errorf("failed to create SFTP client: %w", err))
	}
	c.sftp = sftpClient
	return sftpClient, nil
}
