// Package remote checks that the deployment host accepts SSH connections
// before any build is touched.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/artpar/releaser/internal/core/domain"
)

// Defaults for SSHConfig.
const (
	DefaultUser    = "root"
	DefaultPort    = 22
	DefaultTimeout = 30 * time.Second
)

// SSHConfig configures an SSHChecker.
type SSHConfig struct {
	Host string
	Port int
	User string

	// KeyFile is a private key in OpenSSH/PEM format.
	KeyFile string

	// KnownHosts verifies the host key. When empty, any host key is accepted.
	KnownHosts string

	Timeout time.Duration
}

// SSHChecker opens and immediately closes an SSH session.
type SSHChecker struct {
	cfg    SSHConfig
	signer ssh.Signer
	dial   func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)
	logger *slog.Logger
}

// NewSSHChecker loads the private key and returns a checker.
func NewSSHChecker(cfg SSHConfig, logger *slog.Logger) (*SSHChecker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		return nil, domain.ConfigError("NewSSHChecker", "remote host is required", nil)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.User == "" {
		cfg.User = DefaultUser
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &SSHChecker{cfg: cfg, dial: dialContext, logger: logger.With("component", "remote")}

	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, domain.ConfigError("NewSSHChecker", "read ssh key", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, domain.ConfigError("NewSSHChecker", "parse ssh key", err)
		}
		c.signer = signer
	}

	return c, nil
}

// Address returns host:port.
func (c *SSHChecker) Address() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Check connects to the host and closes the connection. Any failure is a
// ConnectivityError.
func (c *SSHChecker) Check(ctx context.Context) error {
	clientCfg, err := c.clientConfig()
	if err != nil {
		return err
	}

	c.logger.Info("Checking connection to host", "host", c.cfg.User+"@"+c.Address())

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	client, err := c.dial(ctx, c.Address(), clientCfg)
	if err != nil {
		return domain.NewError("Check", domain.ErrConnectivity,
			fmt.Sprintf("Impossible to connect in host %s@%s", c.cfg.User, c.cfg.Host), err)
	}
	return client.Close()
}

func (c *SSHChecker) clientConfig() (*ssh.ClientConfig, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if c.cfg.KnownHosts != "" {
		cb, err := knownhosts.New(c.cfg.KnownHosts)
		if err != nil {
			return nil, domain.ConfigError("Check", "load known hosts", err)
		}
		hostKey = cb
	}

	var auth []ssh.AuthMethod
	if c.signer != nil {
		auth = append(auth, ssh.PublicKeys(c.signer))
	}

	return &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.cfg.Timeout,
	}, nil
}

// dialContext is ssh.Dial with cancellation.
func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
