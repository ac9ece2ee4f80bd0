// SPDX-License-Identifier: MPL-2.0

package sshpool

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const dialTimeout = 15 * time.Second

// ConnectionConfig is the resolved dial target for one host alias, derived
// from the user's SSH config.
type ConnectionConfig struct {
	Host          string
	HostName      string
	Port          int
	User          string
	IdentityFiles []string
	ProxyJump     string
}

// Resolve derives the connection config for a host alias from ~/.ssh/config
// conventions. portOverride wins over the config when non-zero.
func Resolve(host string, portOverride int) ConnectionConfig {
	cfg := ConnectionConfig{Host: host, HostName: host, Port: 22}

	if hostname := ssh_config.Get(host, "HostName"); hostname != "" {
		cfg.HostName = hostname
	}
	if portStr := ssh_config.Get(host, "Port"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}
	if portOverride != 0 {
		cfg.Port = portOverride
	}

	cfg.User = ssh_config.Get(host, "User")
	if cfg.User == "" {
		if u, err := user.Current(); err == nil {
			cfg.User = u.Username
		}
	}

	if ids, err := ssh_config.GetAllStrict(host, "IdentityFile"); err == nil {
		for _, id := range ids {
			cfg.IdentityFiles = append(cfg.IdentityFiles, expandHome(id))
		}
	}
	cfg.ProxyJump = ssh_config.Get(host, "ProxyJump")
	return cfg
}

// Dial establishes an authenticated client for the host alias, following the
// resolved SSH config including a single-hop ProxyJump.
func Dial(ctx context.Context, host string, port int) (*ssh.Client, error) {
	cfg := Resolve(host, port)

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods(cfg),
		HostKeyCallback: hostKeyCallback(),
		Timeout:         dialTimeout,
	}
	addr := net.JoinHostPort(cfg.HostName, strconv.Itoa(cfg.Port))

	if cfg.ProxyJump != "" {
		return dialViaJump(ctx, cfg.ProxyJump, addr, clientCfg)
	}

	conn, err := (&net.Dialer{Timeout: dialTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// dialViaJump connects through a single ProxyJump hop. Multi-hop chains are
// rare for workspace hosts and not supported.
func dialViaJump(ctx context.Context, jumpHost, targetAddr string, targetCfg *ssh.ClientConfig) (*ssh.Client, error) {
	jump, err := Dial(ctx, jumpHost, 0)
	if err != nil {
		return nil, fmt.Errorf("proxy jump %s: %w", jumpHost, err)
	}
	conn, err := jump.Dial("tcp", targetAddr)
	if err != nil {
		_ = jump.Close()
		return nil, fmt.Errorf("proxy jump %s to %s: %w", jumpHost, targetAddr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, targetAddr, targetCfg)
	if err != nil {
		_ = conn.Close()
		_ = jump.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// authMethods assembles agent and identity-file auth. Identity files that
// cannot be read or parsed are skipped silently, matching ssh's behavior with
// missing default identities.
func authMethods(cfg ConnectionConfig) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	candidates := cfg.IdentityFiles
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		)
	}

	var signers []ssh.Signer
	seen := make(map[string]bool)
	for _, path := range candidates {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		key, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods
}

// hostKeyCallback verifies against known_hosts when present. Hosts not yet in
// the file must be added by the user with plain ssh first.
func hostKeyCallback() ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, ".ssh", "known_hosts")
		if _, statErr := os.Stat(path); statErr == nil {
			if cb, khErr := knownhosts.New(path); khErr == nil {
				return cb
			}
		}
	}
	return ssh.InsecureIgnoreHostKey()
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
