// Package remote executes commands and fetches files on the managed
// instance over SSH. The health checker uses Output for its probes; the
// diag command uses Download to pull service logs.
package remote

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/logging"
)

// Config holds the parameters for an SSH connection to the instance
type Config struct {
	Host           string
	User           string
	PrivateKeyPath string

	// DialTimeout bounds the TCP+handshake of a single attempt
	DialTimeout time.Duration

	// WaitTimeout bounds waiting for the SSH port to open at all;
	// zero skips the wait and dials once.
	WaitTimeout time.Duration
}

// Controller is an established SSH connection to the instance
type Controller struct {
	client     *ssh.Client
	sftpClient *sftp.Client
	host       string
	user       string
}

// escapeNewlines escapes newline characters for proper log formatting
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// safeClose safely closes a resource and logs any errors
func safeClose(name string, closer func() error) {
	if err := closer(); err != nil {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// Dial connects to the instance
func Dial(config Config) (*Controller, error) {
	if config.DialTimeout == 0 {
		config.DialTimeout = 15 * time.Second
	}

	if config.WaitTimeout > 0 {
		if err := waitForSSH(config.Host, config.WaitTimeout); err != nil {
			return nil, fmt.Errorf("SSH not available after timeout: %w", err)
		}
	}

	keyBytes, err := os.ReadFile(config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		// The instance is freshly created and its host key is unknown.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         config.DialTimeout,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(config.Host, "22"), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	logging.Logger().Debug("SSH connection established",
		zap.String("user", config.User),
		zap.String("host", config.Host))

	return &Controller{
		client:     client,
		sftpClient: sftpClient,
		host:       config.Host,
		user:       config.User,
	}, nil
}

// Close closes the SFTP and SSH connections
func (c *Controller) Close() error {
	if c.sftpClient != nil {
		safeClose("SFTP client", c.sftpClient.Close)
	}
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Output executes a command on the instance and returns its combined
// stdout/stderr
func (c *Controller) Output(command string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer safeClose("SSH session", session.Close)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(command)

	out := stdout.String()
	logging.Logger().Debug("Command executed",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", c.host),
		zap.String("stdout", escapeNewlines(logging.Truncate(out))),
		zap.String("stderr", escapeNewlines(logging.Truncate(stderr.String()))),
		zap.Bool("success", err == nil))

	if err != nil {
		return out, fmt.Errorf("remote command failed: %w (stderr: %s)",
			err, logging.Truncate(stderr.String()))
	}
	return out, nil
}

// Run executes a command on the instance, discarding output
func (c *Controller) Run(command string) error {
	_, err := c.Output(command)
	return err
}

// Download copies a single remote file to the local path using SFTP
func (c *Controller) Download(remotePath, localPath string) error {
	remoteInfo, err := c.sftpClient.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("failed to stat remote path: %w", err)
	}
	if remoteInfo.IsDir() {
		return fmt.Errorf("remote path %s is a directory, expected a file", remotePath)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	remoteFile, err := c.sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer safeClose("remote file", remoteFile.Close)

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer safeClose("local file", localFile.Close)

	bytesWritten, err := localFile.ReadFrom(remoteFile)
	if err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	logging.Logger().Info("File downloaded using SFTP",
		zap.String("remote_path", remotePath),
		zap.String("local_path", localPath),
		zap.String("host", c.host),
		zap.Int64("size_bytes", bytesWritten))

	return nil
}

// waitForSSH waits for the SSH port to become reachable with timeout
func waitForSSH(host string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, "22"), 5*time.Second)
		if err == nil {
			if closeErr := conn.Close(); closeErr != nil {
				logging.Logger().Debug("failed to close connection test",
					zap.String("host", host),
					zap.Error(closeErr))
			}
			return nil
		}
		time.Sleep(3 * time.Second)
	}

	return fmt.Errorf("SSH port not available after %v timeout", timeout)
}
