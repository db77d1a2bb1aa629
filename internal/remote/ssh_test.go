package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"
)

func writeKey(t *testing.T, passphrase string) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("MarshalPrivateKey() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "mgmt.key")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}
	return path
}

func TestNewSSHExecutor_Auth(t *testing.T) {
	plain := writeKey(t, "")
	encrypted := writeKey(t, "Cert-Pa55phrase")

	tests := []struct {
		name    string
		cfg     SSHConfig
		wantErr string
	}{
		{"plain key", SSHConfig{User: "azureuser", KeyFile: plain}, ""},
		{"encrypted key with passphrase", SSHConfig{User: "azureuser", KeyFile: encrypted, KeyPassphrase: "Cert-Pa55phrase"}, ""},
		{"encrypted key without passphrase", SSHConfig{User: "azureuser", KeyFile: encrypted}, "no certificate password"},
		{"encrypted key with wrong passphrase", SSHConfig{User: "azureuser", KeyFile: encrypted, KeyPassphrase: "nope"}, "failed to decrypt"},
		{"password only", SSHConfig{User: "azureuser", Password: "Vm-Pa55word"}, ""},
		{"missing key file", SSHConfig{User: "azureuser", KeyFile: filepath.Join(t.TempDir(), "missing")}, "failed to read SSH private key"},
		{"no credentials", SSHConfig{User: "azureuser"}, "no SSH credentials"},
		{"no user", SSHConfig{Password: "x"}, "SSH user is required"},
		{"missing known hosts", SSHConfig{User: "azureuser", KeyFile: plain, KnownHosts: filepath.Join(t.TempDir(), "known_hosts")}, "failed to load known hosts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = quietLogger()
			e, err := NewSSHExecutor(tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("NewSSHExecutor() error: %v", err)
				}
				if err := e.Close(); err != nil {
					t.Errorf("Close() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewSSHExecutor() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewSSHExecutor_KnownHosts(t *testing.T) {
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(knownHosts, nil, 0600); err != nil {
		t.Fatalf("Failed to write known_hosts: %v", err)
	}

	_, err := NewSSHExecutor(SSHConfig{
		User:       "azureuser",
		Password:   "Vm-Pa55word",
		KnownHosts: knownHosts,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewSSHExecutor() error: %v", err)
	}
}

func TestWrapCommand(t *testing.T) {
	line := `cd codalab-cli && export A='x y' && ./cl config email/password 'p;w'`

	tests := []struct {
		name         string
		sudo         bool
		withPassword bool
		wantPrefix   []string
	}{
		{"plain", false, false, []string{"bash", "-l", "-c"}},
		{"sudo with password", true, true, []string{"sudo", "-S", "-p", "", "bash", "-l", "-c"}},
		{"sudo without password", true, false, []string{"sudo", "-n", "bash", "-l", "-c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := shellquote.Split(wrapCommand(line, tt.sudo, tt.withPassword))
			if err != nil {
				t.Fatalf("Split() error: %v", err)
			}
			want := append(append([]string(nil), tt.wantPrefix...), line)
			if !reflect.DeepEqual(parts, want) {
				t.Errorf("wrapCommand() splits to %q, want %q", parts, want)
			}
		})
	}
}

func TestWithDefaultPort(t *testing.T) {
	tests := map[string]string{
		"clprod.cloudapp.net:2201": "clprod.cloudapp.net:2201",
		"clprod.cloudapp.net":      "clprod.cloudapp.net:22",
		"10.0.0.4":                 "10.0.0.4:22",
	}
	for in, want := range tests {
		if got := withDefaultPort(in); got != want {
			t.Errorf("withDefaultPort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPrefixWriter(t *testing.T) {
	var out bytes.Buffer
	var mu sync.Mutex
	w := &prefixWriter{mu: &mu, out: &out, prefix: "[h:2201] out: ", secrets: []string{"hunter2"}}

	_, _ = w.Write([]byte("Reading package lists"))
	_, _ = w.Write([]byte("... Done\r\nbuilding "))
	_, _ = w.Write([]byte("password=hunter2\nlast"))
	w.Flush()

	want := "[h:2201] out: Reading package lists... Done\n" +
		"[h:2201] out: building password=***REDACTED***\n" +
		"[h:2201] out: last\n"
	if out.String() != want {
		t.Errorf("output =\n%q\nwant\n%q", out.String(), want)
	}

	w.Flush()
	if out.String() != want {
		t.Error("second Flush() wrote again")
	}
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Host: "h:2201", Command: "git pull", ExitCode: 128}
	if got := err.Error(); got != "command failed on h:2201 with exit code 128: git pull" {
		t.Errorf("Error() = %q", got)
	}
}

// startSSHServer serves SSH handshakes with password auth and rejects every
// channel.
func startSSHServer(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("NewSignerFromKey() error: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) { return nil, nil },
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
				if err != nil {
					conn.Close()
					return
				}
				go ssh.DiscardRequests(reqs)
				for ch := range chans {
					ch.Reject(ssh.Prohibited, "no channels")
				}
			}()
		}
	}()
	return ln.Addr().String()
}

// startSilentServer accepts TCP connections and never answers. Accepted
// connections are reported on the returned channel.
func startSilentServer(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	accepted := make(chan net.Conn, 4)
	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case c := <-accepted:
				c.Close()
			default:
				return
			}
		}
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()
	return ln.Addr().String(), accepted
}

func TestSSHExecutor_SlowHostDoesNotBlockOthers(t *testing.T) {
	fast := startSSHServer(t)
	silent, accepted := startSilentServer(t)

	e, err := NewSSHExecutor(SSHConfig{User: "azureuser", Password: "Vm-Pa55word", DialTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewSSHExecutor() error: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	slowDone := make(chan error, 1)
	go func() {
		_, err := e.client(context.Background(), silent)
		slowDone <- err
	}()

	var stalled net.Conn
	select {
	case stalled = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("silent host was never dialed")
	}

	fastDone := make(chan error, 1)
	go func() {
		_, err := e.client(context.Background(), fast)
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("client(fast) error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("connecting to a healthy host waited for the silent one")
	}

	first, err := e.client(context.Background(), fast)
	if err != nil {
		t.Fatalf("client(fast) error: %v", err)
	}
	second, err := e.client(context.Background(), fast)
	if err != nil || first != second {
		t.Errorf("expected the cached client to be reused")
	}

	stalled.Close()
	if err := <-slowDone; err == nil || !strings.Contains(err.Error(), "handshake") {
		t.Errorf("expected handshake error for silent host, got %v", err)
	}
}

func TestSSHExecutor_HandshakeTimeout(t *testing.T) {
	silent, _ := startSilentServer(t)

	e, err := NewSSHExecutor(SSHConfig{User: "azureuser", Password: "Vm-Pa55word", DialTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSSHExecutor() error: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	start := time.Now()
	_, err = e.client(context.Background(), silent)
	if err == nil || !strings.Contains(err.Error(), "handshake") {
		t.Fatalf("expected handshake error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("handshake took %v, expected the dial timeout to bound it", elapsed)
	}
}
