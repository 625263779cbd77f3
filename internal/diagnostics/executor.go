package diagnostics

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/byosamah/volteria-sub000/internal/logging"
)

// Executor runs shell commands on a controller.
type Executor interface {
	Run(ctx context.Context, cmd string) (string, error)
	Close() error
}

// Dialer opens an Executor to host:port.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Executor, error)
}

// SSHDialer connects through the controller's reverse tunnel.
type SSHDialer struct {
	config  *ssh.ClientConfig
	timeout time.Duration
}

// NewSSHDialer builds a password-authenticated dialer. With an empty
// knownHostsPath host keys are not verified.
func NewSSHDialer(user, password, knownHostsPath string, timeout time.Duration) (*SSHDialer, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if knownHostsPath != "" {
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		logging.WarnWithComponent(logging.ComponentDiagnostics, "SSH_KNOWN_HOSTS not set; controller host keys will not be verified")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SSHDialer{
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.Password(password)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
		},
		timeout: timeout,
	}, nil
}

func (d *SSHDialer) Dial(ctx context.Context, host string, port int) (Executor, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, d.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create client connection: %w", err)
	}
	conn.SetDeadline(time.Time{})

	return &sshExecutor{client: ssh.NewClient(c, chans, reqs)}, nil
}

type sshExecutor struct {
	client *ssh.Client
}

func (e *sshExecutor) Run(ctx context.Context, cmd string) (string, error) {
	session, err := e.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
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
		return string(r.out), r.err
	}
}

func (e *sshExecutor) Close() error {
	return e.client.Close()
}
