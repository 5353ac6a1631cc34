package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yodler/yodler/pkg/backend"
)

// Send uploads a local file over SFTP, replacing the remote file.
func (c *Client) Send(ctx context.Context, localPath, remotePath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	if err := c.upload(ctx, localPath, remotePath); err != nil {
		return &backend.TransferError{Op: "send", Local: localPath, Remote: remotePath, Err: err}
	}
	return nil
}

// Recv downloads a remote file over SFTP, replacing the local file.
func (c *Client) Recv(ctx context.Context, remotePath, localPath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	if err := c.download(ctx, remotePath, localPath); err != nil {
		return &backend.TransferError{Op: "recv", Local: localPath, Remote: remotePath, Err: err}
	}
	return nil
}

func (c *Client) upload(ctx context.Context, localPath, remotePath string) error {
	startTime := time.Now()

	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	fileInfo, err := localFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}

	sftpClient, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}

	// Remote paths are always slash-separated.
	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remoteFile.Close()

	written, err := copyWithContext(ctx, remoteFile, localFile)
	if err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	if err := remoteFile.Chmod(fileInfo.Mode().Perm()); err != nil {
		log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set remote file mode")
	}

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")
	return nil
}

func (c *Client) download(ctx context.Context, remotePath, localPath string) error {
	startTime := time.Now()

	sftpClient, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	written, err := copyWithContext(ctx, localFile, remoteFile)
	if err != nil {
		_ = localFile.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := localFile.Close(); err != nil {
		return err
	}

	log.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("file downloaded")
	return nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
