package executor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultDialTimeout bounds connection establishment only. Commands that run
// over an established connection have no deadline.
const DefaultDialTimeout = 10 * time.Second

// PassphraseFunc is asked for the passphrase of an encrypted identity file.
type PassphraseFunc func(keyFile string) ([]byte, error)

// DialConfig describes how to reach and authenticate to a remote target.
type DialConfig struct {
	Host string
	Port int
	User string

	// AgentSocket is the ssh-agent socket path (usually $SSH_AUTH_SOCK).
	AgentSocket    string
	IdentityFiles  []string
	KnownHostsFile string
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool
	Passphrase            PassphraseFunc
	Timeout               time.Duration
}

// Addr returns the host:port the connection is made to.
func (c DialConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Dial opens an SSH connection and wraps it in a Remote executor.
func Dial(cfg DialConfig) (*Remote, error) {
	if cfg.Host == "" {
		return nil, errors.New("ssh host is required")
	}

	hostKeyCallback, err := cfg.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	authMethods, closeAgent := cfg.authMethods()
	defer closeAgent()
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method available for %s: start ssh-agent or configure an identity file", cfg.Host)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	config := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := cfg.Addr()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, transportError("connect to "+addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, transportError("ssh handshake with "+addr, err)
	}

	return NewRemote(ssh.NewClient(c, chans, reqs), cfg.Host), nil
}

func (c DialConfig) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if c.KnownHostsFile == "" {
		return nil, errors.New("known_hosts file is required unless host key checking is disabled")
	}
	callback, err := knownhosts.New(c.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", c.KnownHostsFile, err)
	}
	return callback, nil
}

// authMethods collects agent and identity-file authentication. The returned
// func closes the agent socket once the handshake is done.
func (c DialConfig) authMethods() ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if c.AgentSocket != "" {
		if sock, err := net.Dial("unix", c.AgentSocket); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(sock).Signers))
			closeAgent = func() { sock.Close() }
		}
	}

	var signers []ssh.Signer
	for _, keyFile := range c.IdentityFiles {
		signer, err := c.loadSigner(keyFile)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	return methods, closeAgent
}

func (c DialConfig) loadSigner(keyFile string) (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(pemBytes)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && c.Passphrase != nil {
		passphrase, perr := c.Passphrase(keyFile)
		if perr != nil {
			return nil, perr
		}
		return ssh.ParsePrivateKeyWithPassphrase(pemBytes, passphrase)
	}
	return signer, err
}
