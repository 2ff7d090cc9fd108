package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
	"github.com/hostwatch/hostwatch/server/internal/config"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

// DefaultDialTimeout bounds TCP connect plus SSH handshake.
const DefaultDialTimeout = 10 * time.Second

// keepaliveTimeout bounds the liveness check of a pooled connection.
const keepaliveTimeout = 5 * time.Second

// SSHOptions configures an SSH source.
type SSHOptions struct {
	// ConfigPath is the ssh_config file consulted for aliases.
	// Empty uses ~/.ssh/config.
	ConfigPath string
	// KnownHosts is used when a target sets none. Empty uses ~/.ssh/known_hosts.
	KnownHosts  string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// SSH samples remote Linux hosts by running linuxCommand over a pooled
// connection per target.
type SSH struct {
	opts   SSHOptions
	logger *slog.Logger
	cpu    *cpuTracker
	now    func() time.Time

	mu    sync.Mutex
	conns map[string]*sshConn
}

type sshConn struct {
	client   *ssh.Client
	settings sshSettings
}

// sshSettings is the resolved connection configuration for one target.
// A change in any field forces a reconnect.
type sshSettings struct {
	hostname     string
	port         string
	user         string
	identityFile string
	passwordEnv  string
	knownHosts   string
	insecure     bool
}

func (s sshSettings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// NewSSH returns an SSH source.
func NewSSH(opts SSHOptions) *SSH {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = filepath.Join(homeDir(), ".ssh", "config")
	}
	if opts.KnownHosts == "" {
		opts.KnownHosts = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SSH{
		opts:   opts,
		logger: logger,
		cpu:    newCPUTracker(),
		now:    time.Now,
		conns:  make(map[string]*sshConn),
	}
}

// Acquire implements scheduler.MetricSource.
func (s *SSH) Acquire(ctx context.Context, t scheduler.Target) (*snapshot.Snapshot, error) {
	client, err := s.client(ctx, t)
	if err != nil {
		return nil, err
	}

	out, err := runCommand(ctx, client, linuxCommand)
	if err != nil {
		// The connection may be dead; redial on the next poll.
		s.drop(t.ID)
		return nil, fmt.Errorf("ssh %s: %w", t.ID, err)
	}

	b := snapshot.NewBuilder()
	if err := parseLinux(out, t.ID, s.cpu, b); err != nil {
		return nil, fmt.Errorf("ssh %s: %w", t.ID, err)
	}
	return b.Build(s.now()), nil
}

// Close closes every pooled connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, c := range s.conns {
		if err := c.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("ssh %s: %w", id, err))
		}
		delete(s.conns, id)
	}
	return errors.Join(errs...)
}

// client returns a live pooled connection for t, dialing when there is none,
// the existing one fails a keepalive, or the target's settings changed.
func (s *SSH) client(ctx context.Context, t scheduler.Target) (*ssh.Client, error) {
	settings := s.resolve(t.Conn)

	s.mu.Lock()
	c, ok := s.conns[t.ID]
	s.mu.Unlock()
	if ok {
		if c.settings == settings && alive(ctx, c.client) {
			return c.client, nil
		}
		s.drop(t.ID)
	}

	client, err := s.dial(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", t.ID, err)
	}

	s.mu.Lock()
	if old, ok := s.conns[t.ID]; ok {
		old.client.Close()
	}
	s.conns[t.ID] = &sshConn{client: client, settings: settings}
	s.mu.Unlock()

	s.logger.Debug("ssh: connected", "target", t.ID, "address", settings.address())
	return client, nil
}

func (s *SSH) drop(id string) {
	s.mu.Lock()
	c, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if ok {
		c.client.Close()
	}
	s.cpu.forget(id)
}

// alive sends an OpenSSH keepalive, which is cheaper than opening a session.
// A connection that does not answer within keepaliveTimeout, or before ctx
// is done, is closed so the pending request returns.
func alive(ctx context.Context, c *ssh.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := c.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()

	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		c.Close()
		<-done
		return false
	}
}

// resolve merges the target's fields with ssh_config entries for its
// address. Explicit target fields win.
func (s *SSH) resolve(tc config.TargetConfig) sshSettings {
	st := sshSettings{
		hostname:    tc.Address,
		user:        tc.User,
		passwordEnv: tc.PasswordEnv,
		knownHosts:  tc.KnownHosts,
		insecure:    tc.InsecureIgnoreHostKey,
	}
	if tc.Port > 0 {
		st.port = strconv.Itoa(tc.Port)
	}
	if tc.KeyFile != "" {
		st.identityFile = expandPath(tc.KeyFile)
	}

	if data, err := os.ReadFile(s.opts.ConfigPath); err == nil {
		if cfg, err := ssh_config.Decode(bytes.NewReader(data)); err == nil {
			alias := tc.Address
			if v, _ := cfg.Get(alias, "HostName"); v != "" {
				st.hostname = v
			}
			if v, _ := cfg.Get(alias, "Port"); v != "" && st.port == "" {
				st.port = v
			}
			if v, _ := cfg.Get(alias, "User"); v != "" && st.user == "" {
				st.user = v
			}
			if v, _ := cfg.Get(alias, "IdentityFile"); v != "" && st.identityFile == "" {
				st.identityFile = expandPath(v)
			}
		}
	}

	if st.port == "" {
		st.port = strconv.Itoa(config.DefaultSSHPort)
	}
	if st.user == "" {
		st.user = os.Getenv("USER")
	}
	if st.knownHosts == "" {
		st.knownHosts = s.opts.KnownHosts
	}
	return st
}

func (s *SSH) clientConfig(st sshSettings) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if m := agentAuth(); m != nil {
		methods = append(methods, m)
	}
	if st.identityFile != "" {
		m, err := keyFileAuth(st.identityFile)
		if err != nil {
			return nil, fmt.Errorf("identity file %s: %w", st.identityFile, err)
		}
		methods = append(methods, m)
	}
	if st.passwordEnv != "" {
		if pw := os.Getenv(st.passwordEnv); pw != "" {
			methods = append(methods, ssh.Password(pw))
		}
	}
	if len(methods) == 0 {
		return nil, errors.New("no ssh auth methods available (agent, key_file or password_env)")
	}

	var hostKey ssh.HostKeyCallback
	if st.insecure {
		hostKey = ssh.InsecureIgnoreHostKey() //nolint:gosec // opted in per target
	} else {
		cb, err := knownhosts.New(st.knownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", st.knownHosts, err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            st.user,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         s.opts.DialTimeout,
	}, nil
}

func (s *SSH) dial(ctx context.Context, st sshSettings) (*ssh.Client, error) {
	cfg, err := s.clientConfig(st)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: s.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", st.address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", st.address(), err)
	}

	deadline := time.Now().Add(s.opts.DialTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, st.address(), cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", st.address(), err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// runCommand runs cmd in a new session. Cancelling ctx closes the session,
// which unblocks the pending read.
func runCommand(ctx context.Context, c *ssh.Client, cmd string) (string, error) {
	session, err := c.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil && len(r.out) == 0 {
			return "", r.err
		}
		// A non-zero exit from one section still leaves the others usable.
		return string(r.out), nil
	}
}

var (
	agentOnce   sync.Once
	agentClient agent.ExtendedAgent
)

// agentAuth returns agent-backed auth when SSH_AUTH_SOCK holds keys.
func agentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}
	agentOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentClient = agent.NewClient(conn)
	})
	if agentClient == nil {
		return nil
	}
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(agentClient.Signers)
}

func keyFileAuth(path string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func expandPath(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}
