package filetransfer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr string
	}{
		{
			name:  "valid credentials",
			creds: Credentials{Host: "collector", Port: 22, User: "bench", PrivateKey: []byte("key")},
		},
		{
			name:    "empty host",
			creds:   Credentials{Port: 22, User: "bench", PrivateKey: []byte("key")},
			wantErr: "host cannot be empty",
		},
		{
			name:    "port zero",
			creds:   Credentials{Host: "collector", User: "bench", PrivateKey: []byte("key")},
			wantErr: "port must be between 1 and 65535",
		},
		{
			name:    "port too large",
			creds:   Credentials{Host: "collector", Port: 65536, User: "bench", PrivateKey: []byte("key")},
			wantErr: "port must be between 1 and 65535",
		},
		{
			name:    "empty user",
			creds:   Credentials{Host: "collector", Port: 22, PrivateKey: []byte("key")},
			wantErr: "user cannot be empty",
		},
		{
			name:    "empty private key",
			creds:   Credentials{Host: "collector", Port: 22, User: "bench"},
			wantErr: "private key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCredentials(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyFile, []byte("key"), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	creds, err := LoadCredentials("collector", 22, "bench", keyFile)
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if string(creds.PrivateKey) != "key" {
		t.Errorf("PrivateKey = %q, want %q", creds.PrivateKey, "key")
	}

	if _, err := LoadCredentials("collector", 22, "bench", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("LoadCredentials() expected error for missing key file")
	}
}

func TestNew(t *testing.T) {
	creds := Credentials{Host: "collector", Port: 22, User: "bench", PrivateKey: []byte("key")}

	t.Run("default options", func(t *testing.T) {
		transfer := New(creds)
		if transfer.connectTimeout != DefaultConnectTimeout {
			t.Errorf("connectTimeout = %v, want %v", transfer.connectTimeout, DefaultConnectTimeout)
		}
		if transfer.hostKey == nil {
			t.Error("hostKey callback not set")
		}
	})

	t.Run("with custom timeout", func(t *testing.T) {
		transfer := New(creds, WithConnectTimeout(time.Minute))
		if transfer.connectTimeout != time.Minute {
			t.Errorf("connectTimeout = %v, want %v", transfer.connectTimeout, time.Minute)
		}
	})

	t.Run("zero timeout keeps default", func(t *testing.T) {
		transfer := New(creds, WithConnectTimeout(0))
		if transfer.connectTimeout != DefaultConnectTimeout {
			t.Errorf("connectTimeout = %v, want %v", transfer.connectTimeout, DefaultConnectTimeout)
		}
	})
}

func TestTransfer_Upload_InvalidLocalPath(t *testing.T) {
	transfer := New(Credentials{Host: "collector", Port: 22, User: "bench", PrivateKey: []byte("key")})
	ctx := context.Background()

	tests := []struct {
		name       string
		local      string
		remote     string
		wantErr    string
		wantPrefix bool
	}{
		{"empty local path", "", "/remote/path", "local path cannot be empty", false},
		{"empty remote path", "/local/path", "", "remote path cannot be empty", false},
		{"nonexistent local file", "/nonexistent/file/path", "/remote/path", "failed to stat local file", true},
		{"local path is directory", t.TempDir(), "/remote/path", "local path is a directory, not a file", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := transfer.Upload(ctx, tt.local, tt.remote)
			if err == nil {
				t.Fatal("Upload() expected error")
			}
			if tt.wantPrefix && !strings.HasPrefix(err.Error(), tt.wantErr) {
				t.Errorf("Upload() error = %q, want prefix %q", err.Error(), tt.wantErr)
			}
			if !tt.wantPrefix && err.Error() != tt.wantErr {
				t.Errorf("Upload() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "results.csv")
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return file
}

func TestTransfer_Connect_InvalidPrivateKey(t *testing.T) {
	transfer := New(Credentials{Host: "collector", Port: 22, User: "bench", PrivateKey: []byte("not a valid key")})

	err := transfer.Upload(context.Background(), writeTempFile(t, "a,b\n"), "/remote/path")
	if err == nil || !strings.Contains(err.Error(), "failed to parse private key") {
		t.Errorf("Upload() error = %v, want error containing 'failed to parse private key'", err)
	}
}

func TestTransfer_ContextCancellation(t *testing.T) {
	_, clientPEM := newClientKey(t)
	transfer := New(Credentials{Host: "127.0.0.1", Port: 1, User: "bench", PrivateKey: clientPEM},
		WithConnectTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := transfer.Upload(ctx, writeTempFile(t, "a,b\n"), "/remote/path"); err == nil {
		t.Error("Upload() expected error with cancelled context")
	}
}

func TestTransfer_ResultPath(t *testing.T) {
	transfer := New(Credentials{})
	transfer.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	got := transfer.ResultPath("/tmp/out/results.csv", "/srv/results", "node01", 3)
	if !strings.HasPrefix(got, "/srv/results/node01-r3-20260304T050607Z-") {
		t.Errorf("ResultPath() = %q, unexpected prefix", got)
	}
	if !strings.HasSuffix(got, "-results.csv") {
		t.Errorf("ResultPath() = %q, want suffix -results.csv", got)
	}

	if got := transfer.ResultPath("r.csv", "", "", 0); !strings.HasPrefix(got, "unknown-r0-") {
		t.Errorf("ResultPath() = %q, want unknown host prefix", got)
	}
}

func newClientKey(t *testing.T) (ssh.PublicKey, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return signer.PublicKey(), pem.EncodeToMemory(block)
}

// startSFTPServer serves SFTP on a loopback port, accepting only clientKey
func startSFTPServer(t *testing.T, clientKey ssh.PublicKey) (int, ssh.PublicKey) {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("failed to create host signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientKey.Marshal()) {
				return nil, nil
			}
			return nil, io.EOF
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, config)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, hostSigner.PublicKey()
}

func serveConn(conn net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				req.Reply(ok, nil)
			}
		}()
		go func() {
			defer channel.Close()
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
		}()
	}
}

func TestTransfer_UploadResults(t *testing.T) {
	clientPub, clientPEM := newClientKey(t)
	port, hostKey := startSFTPServer(t, clientPub)

	transfer := New(
		Credentials{Host: "127.0.0.1", Port: port, User: "bench", PrivateKey: clientPEM},
		WithConnectTimeout(5*time.Second),
		WithHostKeyCallback(ssh.FixedHostKey(hostKey)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	content := "Benchmark name,run-time-mean [s]\nVectorAddition_int32,0.5\n"
	local := writeTempFile(t, content)
	remoteDir := filepath.ToSlash(filepath.Join(t.TempDir(), "collector", "nested"))

	remote, err := transfer.UploadResults(context.Background(), local, remoteDir, "node01", 0)
	if err != nil {
		t.Fatalf("UploadResults() error = %v", err)
	}

	got, err := os.ReadFile(filepath.FromSlash(remote))
	if err != nil {
		t.Fatalf("remote file missing: %v", err)
	}
	if string(got) != content {
		t.Errorf("remote content = %q, want %q", got, content)
	}
}

func TestTransfer_HostKeyMismatch(t *testing.T) {
	clientPub, clientPEM := newClientKey(t)
	port, _ := startSFTPServer(t, clientPub)
	otherHost, _ := newClientKey(t)

	transfer := New(
		Credentials{Host: "127.0.0.1", Port: port, User: "bench", PrivateKey: clientPEM},
		WithConnectTimeout(5*time.Second),
		WithHostKeyCallback(ssh.FixedHostKey(otherHost)),
	)

	err := transfer.Upload(context.Background(), writeTempFile(t, "x"), "/tmp/never")
	if err == nil || !strings.Contains(err.Error(), "ssh handshake") {
		t.Errorf("Upload() error = %v, want handshake failure", err)
	}
}

func TestKnownHosts_MissingFile(t *testing.T) {
	if _, err := KnownHosts(filepath.Join(t.TempDir(), "known_hosts")); err == nil {
		t.Error("KnownHosts() expected error for missing file")
	}
}
