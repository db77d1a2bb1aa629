package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"codadeploy/internal/security"
	"codadeploy/pkg/cmdutil"
	"codadeploy/pkg/fileutil"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DefaultDialTimeout bounds TCP connect plus SSH handshake.
	DefaultDialTimeout = 30 * time.Second

	defaultSSHPort = "22"
	uploadTempDir  = "/tmp"
)

// SSHConfig holds the login settings shared by every host.
type SSHConfig struct {
	User     string
	Password string // password auth and sudo password

	KeyFile       string
	KeyPassphrase string

	// KnownHosts enables strict host key checking against the given file.
	KnownHosts string

	DialTimeout time.Duration

	// Output receives remote stdout/stderr, one "[host] out: " prefixed line at a time.
	Output io.Writer

	Logger *slog.Logger
}

// SSHExecutor runs commands over SSH and uploads files over SFTP.
// Connections are opened lazily and reused until Close.
type SSHExecutor struct {
	cfg          SSHConfig
	clientConfig *ssh.ClientConfig
	logger       *slog.Logger

	outMu sync.Mutex

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSHExecutor prepares authentication and host key checking. No connection
// is made until the first command.
func NewSSHExecutor(cfg SSHConfig) (*SSHExecutor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.User == "" {
		return nil, errors.New("SSH user is required")
	}

	auth, err := authMethods(cfg, logger)
	if err != nil {
		return nil, err
	}

	hostKeys, err := hostKeyCallback(cfg.KnownHosts, logger)
	if err != nil {
		return nil, err
	}

	return &SSHExecutor{
		cfg: cfg,
		clientConfig: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         cfg.DialTimeout,
		},
		logger:  logger,
		clients: make(map[string]*ssh.Client),
	}, nil
}

func authMethods(cfg SSHConfig, logger *slog.Logger) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyFile != "" {
		keyPath := fileutil.ExpandHome(cfg.KeyFile)
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH private key: %w", err)
		}
		if err := security.ValidateSecurePermissions(keyPath); err != nil {
			logger.Warn("SSH private key has insecure permissions", "path", keyPath, "error", err)
		}

		signer, err := parseSigner(data, cfg.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("no SSH credentials configured: need a key file or a password")
	}
	return methods, nil
}

// parseSigner decodes a PEM private key, using passphrase only when the key
// is encrypted.
func parseSigner(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
	}
	if passphrase == "" {
		return nil, errors.New("SSH private key is encrypted but no certificate password is configured")
	}

	signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt SSH private key: %w", err)
	}
	return signer, nil
}

func hostKeyCallback(knownHostsFile string, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		logger.Warn("Host key checking disabled; set service-global.known-hosts to enable it")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	cb, err := knownhosts.New(fileutil.ExpandHome(knownHostsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}
	return cb, nil
}

// Run executes cmd through a login bash shell on host.
func (e *SSHExecutor) Run(ctx context.Context, host string, cmd cmdutil.Command, opts RunOptions) (*Result, error) {
	client, err := e.client(ctx, host)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open SSH session on %s: %w", host, err)
	}
	defer session.Close()

	var captured lockedBuffer
	stream := &prefixWriter{
		mu:      &e.outMu,
		out:     e.cfg.Output,
		prefix:  fmt.Sprintf("[%s] out: ", host),
		secrets: cmd.Secrets(),
	}
	w := io.MultiWriter(&captured, stream)
	session.Stdout = w
	session.Stderr = w

	if opts.Sudo && e.cfg.Password != "" {
		session.Stdin = strings.NewReader(e.cfg.Password + "\n")
	}

	line := wrapCommand(cmd.String(), opts.Sudo, e.cfg.Password != "")
	e.logger.Debug("Executing remote command", "host", host, "sudo", opts.Sudo, "command", cmd.Redacted())

	start := time.Now()
	if err := session.Start(line); err != nil {
		return nil, fmt.Errorf("failed to start command on %s: %w", host, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	var waitErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		stream.Flush()
		return nil, ctx.Err()
	case waitErr = <-done:
	}
	stream.Flush()

	output := string(cmdutil.SanitizeOutput(captured.Bytes(), cmd.Secrets()))
	if waitErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, &CommandError{
				Host:     host,
				Command:  cmd.Redacted(),
				ExitCode: exitErr.ExitStatus(),
				Output:   output,
			}
		}
		return nil, fmt.Errorf("command on %s did not complete: %w", host, waitErr)
	}

	return &Result{Host: host, Output: output, Duration: time.Since(start)}, nil
}

// Put uploads content over SFTP. Relative paths resolve against the login
// home. With Sudo the file is staged in /tmp and moved into place as root.
func (e *SSHExecutor) Put(ctx context.Context, host string, content []byte, remotePath string, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := e.client(ctx, host)
	if err != nil {
		return err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to start SFTP on %s: %w", host, err)
	}
	defer sc.Close()

	if !opts.Sudo {
		return writeRemoteFile(sc, remotePath, content, opts.Mode)
	}

	staged := path.Join(uploadTempDir, "codadeploy-"+uuid.NewString())
	if err := writeRemoteFile(sc, staged, content, 0600); err != nil {
		return err
	}

	steps := []cmdutil.Command{
		cmdutil.New("mkdir", "-p", path.Dir(remotePath)),
		cmdutil.New("mv", staged, remotePath),
		cmdutil.New("chown", "root:root", remotePath),
	}
	if opts.Mode != 0 {
		steps = append(steps, cmdutil.New("chmod", fmt.Sprintf("%04o", opts.Mode.Perm()), remotePath))
	}
	for _, step := range steps {
		if _, err := e.Run(ctx, host, step, RunOptions{Sudo: true}); err != nil {
			if rmErr := sc.Remove(staged); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				e.logger.Warn("Failed to remove staged upload", "host", host, "path", staged, "error", rmErr)
			}
			return fmt.Errorf("failed to place %s: %w", remotePath, err)
		}
	}
	return nil
}

func writeRemoteFile(sc *sftp.Client, remotePath string, content []byte, mode os.FileMode) error {
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sc.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}

	f, err := sc.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write remote file %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close remote file %s: %w", remotePath, err)
	}

	if mode != 0 {
		if err := sc.Chmod(remotePath, mode); err != nil {
			return fmt.Errorf("failed to set permissions on %s: %w", remotePath, err)
		}
	}
	return nil
}

// Close disconnects every cached client.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for host, c := range e.clients {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("%s: %w", host, err))
		}
		delete(e.clients, host)
	}
	return errors.Join(errs...)
}

// client returns the cached connection to host, dialing it first if needed.
// Dialing happens outside mu so one slow host does not hold up the others.
func (e *SSHExecutor) client(ctx context.Context, host string) (*ssh.Client, error) {
	e.mu.Lock()
	c, ok := e.clients[host]
	e.mu.Unlock()
	if ok {
		return c, nil
	}

	c, err := e.dial(ctx, host)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.clients[host]; ok {
		// Lost a race with another dial to the same host.
		c.Close()
		return existing, nil
	}
	e.clients[host] = c
	return c, nil
}

func (e *SSHExecutor) dial(ctx context.Context, host string) (*ssh.Client, error) {
	addr := withDefaultPort(host)
	dialer := net.Dialer{Timeout: e.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// The handshake gets the same budget as the connect.
	if err := conn.SetDeadline(time.Now().Add(e.cfg.DialTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set deadline for %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, e.clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to clear deadline for %s: %w", addr, err)
	}

	e.logger.Debug("Connected", "host", addr, "user", e.cfg.User)
	return ssh.NewClient(c, chans, reqs), nil
}

func withDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultSSHPort)
}

// wrapCommand runs line through a login shell so profile settings apply.
// Sudo reads the password from stdin when one is configured and otherwise
// fails rather than prompting.
func wrapCommand(line string, sudo, withPassword bool) string {
	shell := []string{"bash", "-l", "-c", line}
	if !sudo {
		return shellquote.Join(shell...)
	}
	if withPassword {
		return shellquote.Join(append([]string{"sudo", "-S", "-p", ""}, shell...)...)
	}
	return shellquote.Join(append([]string{"sudo", "-n"}, shell...)...)
}

// prefixWriter writes complete lines to out with a host prefix. Writers for
// different hosts share mu so their lines never interleave.
type prefixWriter struct {
	mu      *sync.Mutex
	out     io.Writer
	prefix  string
	secrets []string
	buf     []byte
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush writes any trailing partial line.
func (w *prefixWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *prefixWriter) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	fmt.Fprintf(w.out, "%s%s\n", w.prefix, cmdutil.SanitizeOutput(line, w.secrets))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
