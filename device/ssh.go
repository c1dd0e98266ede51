package device

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/teranos/netpulse/connect"
	"github.com/teranos/netpulse/credential"
	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/logger"
)

// SSHOptions configure the SSH transport
type SSHOptions struct {
	Timeout time.Duration
	// KnownHostsPath enables host key verification. Empty accepts any key.
	KnownHostsPath string
}

// SSHDialer creates SSH transports
type SSHDialer struct {
	timeout         time.Duration
	hostKeyCallback ssh.HostKeyCallback
	logger          *zap.SugaredLogger
}

// NewSSHDialer loads the known_hosts file if one is configured
func NewSSHDialer(opts SSHOptions, log *zap.SugaredLogger) (*SSHDialer, error) {
	log = logger.OrNop(log)
	d := &SSHDialer{timeout: opts.Timeout, logger: log}
	if d.timeout <= 0 {
		d.timeout = 15 * time.Second
	}

	if opts.KnownHostsPath == "" {
		log.Warnw("SSH host key verification disabled; set connect.known_hosts_path to enable")
		d.hostKeyCallback = ssh.InsecureIgnoreHostKey()
		return d, nil
	}
	cb, err := knownhosts.New(opts.KnownHostsPath)
	if err != nil {
		return nil, errors.Mark(
			errors.Wrapf(err, "failed to load known hosts from %s", opts.KnownHostsPath),
			errors.ErrConfiguration)
	}
	d.hostKeyCallback = cb
	return d, nil
}

// NewTransport builds an SSH transport. PEM secrets authenticate with the
// key; anything else is sent as password and keyboard-interactive answer.
func (s *SSHDialer) NewTransport(d *Device, c credential.Candidate) (Transport, error) {
	if c.Credential == nil {
		return nil, connect.Misconfigured(errors.New("candidate has no credential"))
	}
	if err := d.Validate(); err != nil {
		return nil, connect.Misconfigured(err)
	}
	auth, err := authMethods(c.Credential.Secret)
	if err != nil {
		return nil, connect.Misconfigured(errors.Wrapf(err, "credential %s", c.Credential.ID))
	}
	return &sshTransport{
		device: d,
		addr:   d.Address(),
		config: &ssh.ClientConfig{
			User:            c.Credential.Username,
			Auth:            auth,
			HostKeyCallback: s.hostKeyCallback,
			Timeout:         s.timeout,
		},
		timeout: s.timeout,
		logger:  s.logger.With(logger.FieldDeviceID, d.ID, logger.FieldCredentialID, c.Credential.ID),
	}, nil
}

func authMethods(secret string) ([]ssh.AuthMethod, error) {
	if strings.Contains(secret, "-----BEGIN") && strings.Contains(secret, "PRIVATE KEY-----") {
		signer, err := ssh.ParsePrivateKey([]byte(secret))
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse private key")
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = secret
		}
		return answers, nil
	}
	return []ssh.AuthMethod{
		ssh.Password(secret),
		ssh.KeyboardInteractive(answer),
	}, nil
}

type sshTransport struct {
	device  *Device
	addr    string
	config  *ssh.ClientConfig
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	client *ssh.Client
}

func (t *sshTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "dial canceled")
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return connect.Misconfigured(errors.Wrapf(err, "failed to resolve %s", t.device.Host))
		}
		return connect.Transient(errors.Wrapf(err, "failed to dial %s", t.addr))
	}

	// The handshake has no context of its own
	_ = conn.SetDeadline(time.Now().Add(t.timeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.addr, t.config)
	stop()
	if err != nil {
		_ = conn.Close()
		return classifyHandshake(err, t.addr)
	}
	_ = conn.SetDeadline(time.Time{})

	t.client = ssh.NewClient(sshConn, chans, reqs)
	logger.FromContext(ctx, t.logger).Debugw("SSH session established", logger.FieldHost, t.addr)
	return nil
}

func classifyHandshake(err error, addr string) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return connect.Misconfigured(errors.Wrapf(err, "host %s is not in known_hosts", addr))
		}
		return connect.Misconfigured(errors.Wrapf(err, "host key mismatch for %s", addr))
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return connect.Authentication(errors.Wrapf(err, "authentication rejected by %s", addr))
	}
	return connect.Transient(errors.Wrapf(err, "SSH handshake with %s failed", addr))
}

func (t *sshTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "failed to close SSH session")
	}
	return nil
}

// SendCommand runs command on a fresh exec channel and returns its stdout
func (t *sshTransport) SendCommand(ctx context.Context, command string) (string, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return "", errors.New("SSH transport is not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return "", connect.Transient(errors.Wrap(err, "failed to open SSH channel"))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return "", errors.Wrapf(ctx.Err(), "command %q interrupted", command)
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return stdout.String(), errors.WithDetail(
					errors.Wrapf(err, "command %q failed", command),
					strings.TrimSpace(stderr.String()))
			}
			return "", connect.Transient(errors.Wrapf(err, "command %q failed", command))
		}
	}
	return stdout.String(), nil
}

func (t *sshTransport) GetConfiguration(ctx context.Context) (string, error) {
	out, err := t.SendCommand(ctx, t.device.RetrievalCommand())
	if err != nil {
		return "", err
	}
	out = NormalizeOutput(out)
	if out == "" {
		return "", errors.Newf("device %s returned an empty configuration", t.device.ID)
	}
	return out, nil
}
