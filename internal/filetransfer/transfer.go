// Package filetransfer uploads result files to a collector host over SFTP.
package filetransfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DefaultConnectTimeout is the default timeout for establishing SSH connections
	DefaultConnectTimeout = 30 * time.Second
)

// Credentials holds SSH connection details for file transfer
type Credentials struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte // PEM-encoded private key
}

// Validate checks that the credentials have all required fields
func (c *Credentials) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if len(c.PrivateKey) == 0 {
		return fmt.Errorf("private key cannot be empty")
	}
	return nil
}

// LoadCredentials reads the private key from keyFile
func LoadCredentials(host string, port int, user, keyFile string) (Credentials, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read private key: %w", err)
	}
	creds := Credentials{Host: host, Port: port, User: user, PrivateKey: key}
	return creds, creds.Validate()
}

// Transfer handles file transfers over SSH/SFTP
type Transfer struct {
	creds          Credentials
	connectTimeout time.Duration
	hostKey        ssh.HostKeyCallback
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Transfer instance
type Option func(*Transfer)

// WithConnectTimeout sets the connection timeout
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transfer) {
		if d > 0 {
			t.connectTimeout = d
		}
	}
}

// WithHostKeyCallback sets how the collector's host key is checked
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(t *Transfer) {
		t.hostKey = cb
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transfer) {
		t.logger = logger
	}
}

// KnownHosts returns a host key callback backed by an OpenSSH known_hosts file
func KnownHosts(file string) (ssh.HostKeyCallback, error) {
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}
	return cb, nil
}

// New creates a new Transfer instance with the given credentials. Without
// WithHostKeyCallback the host key is not checked.
func New(creds Credentials, opts ...Option) *Transfer {
	t := &Transfer{
		creds:          creds,
		connectTimeout: DefaultConnectTimeout,
		hostKey:        ssh.InsecureIgnoreHostKey(),
		logger:         slog.Default(),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Upload copies a local file to remotePath and checks the remote size
func (t *Transfer) Upload(ctx context.Context, localPath, remotePath string) error {
	if localPath == "" {
		return fmt.Errorf("local path cannot be empty")
	}
	if remotePath == "" {
		return fmt.Errorf("remote path cannot be empty")
	}

	localInfo, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	if localInfo.IsDir() {
		return fmt.Errorf("local path is a directory, not a file")
	}

	client, err := t.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	// Remote paths are always slash separated
	remoteDir := path.Dir(remotePath)
	if remoteDir != "." && remoteDir != "/" {
		if err := sftpClient.MkdirAll(remoteDir); err != nil {
			return fmt.Errorf("failed to create remote directory: %w", err)
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remoteFile.Close()

	// Copy with context cancellation support
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(remoteFile, localFile)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to copy file: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled: %w", ctx.Err())
	}

	remoteInfo, err := sftpClient.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("failed to stat remote file: %w", err)
	}
	if remoteInfo.Size() != localInfo.Size() {
		return fmt.Errorf("remote file size %d does not match local size %d", remoteInfo.Size(), localInfo.Size())
	}

	t.logger.Info("uploaded results",
		slog.String("local", localPath),
		slog.String("remote", remotePath),
		slog.Int64("bytes", localInfo.Size()))
	return nil
}

// UploadResults uploads a result file into remoteDir under a name unique to
// this host and rank, and returns the remote path.
func (t *Transfer) UploadResults(ctx context.Context, localPath, remoteDir, hostname string, rank int) (string, error) {
	remotePath := t.ResultPath(localPath, remoteDir, hostname, rank)
	if err := t.Upload(ctx, localPath, remotePath); err != nil {
		return "", err
	}
	return remotePath, nil
}

// ResultPath builds <remoteDir>/<hostname>-r<rank>-<timestamp>-<id>-<base>
func (t *Transfer) ResultPath(localPath, remoteDir, hostname string, rank int) string {
	if hostname == "" {
		hostname = "unknown"
	}
	name := hostname + "-r" + strconv.Itoa(rank) + "-" +
		t.now().UTC().Format("20060102T150405Z") + "-" +
		uuid.NewString()[:8] + "-" + filepath.Base(localPath)
	if remoteDir == "" {
		return name
	}
	return path.Join(remoteDir, name)
}

// connect establishes an SSH connection to the remote host
func (t *Transfer) connect(ctx context.Context) (*ssh.Client, error) {
	if err := t.creds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(t.creds.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            t.creds.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: t.hostKey,
		Timeout:         t.connectTimeout,
	}

	addr := net.JoinHostPort(t.creds.Host, strconv.Itoa(t.creds.Port))

	dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Now().Add(t.connectTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}
