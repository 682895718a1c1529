package agent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/vesaa/ipslamon/internal/config"
)

// SSHClient wraps an authenticated SSH connection to a router.
type SSHClient struct {
	client *ssh.Client
	host   string
}

// NewSSHClient dials the target host with password or key authentication.
func NewSSHClient(host, user, password, keyPEM string) (*SSHClient, error) {
	var authMethods []ssh.AuthMethod

	if keyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(keyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing SSH key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if password != "" {
		authMethods = append(authMethods, ssh.Password(password))
		// Many IOS images only offer keyboard-interactive for passwords.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH credentials for %s (set router_password or router_key_path)", host)
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: verify against known_hosts
		Timeout:         15 * time.Second,
	}

	addr := host
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	return &SSHClient{client: client, host: host}, nil
}

// DialRouter connects to the router named in cfg.
func DialRouter(cfg *config.Config) (*SSHClient, error) {
	if cfg.RouterHost == "" {
		return nil, fmt.Errorf("router_host is not set")
	}
	var keyPEM string
	if cfg.RouterKeyPath != "" {
		b, err := os.ReadFile(cfg.RouterKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading SSH key: %w", err)
		}
		keyPEM = string(b)
	}
	return NewSSHClient(cfg.RouterHost, cfg.RouterUser, cfg.RouterPassword, keyPEM)
}

// Host is the address the client was dialled with.
func (s *SSHClient) Host() string { return s.host }

// Close cleanly shuts down the SSH connection.
func (s *SSHClient) Close() error { return s.client.Close() }

// Run executes a command and returns combined stdout+stderr.
func (s *SSHClient) Run(cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	out, err := sess.CombinedOutput(cmd)
	return string(out), err
}
