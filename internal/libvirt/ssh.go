package libvirt

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const (
	// DefaultSocket is the system libvirtd socket on the hypervisor host.
	DefaultSocket = "/var/run/libvirt/libvirt-sock"

	defaultSSHPort = "22"
)

// defaultKeyFiles are tried in order when no key file or agent is available.
var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Target identifies a remote libvirtd reached over SSH.
type Target struct {
	// Host is user@host, host or user@host:port.
	Host    string
	KeyFile string
	Socket  string
	Timeout time.Duration
}

// ParseHost splits user@host[:port] into its parts, filling in the local
// user name and port 22 when omitted.
func ParseHost(s string) (userName, host, port string, err error) {
	if s == "" {
		return "", "", "", fmt.Errorf("remote host is empty")
	}

	rest := s
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		userName, rest = rest[:i], rest[i+1:]
	}

	host, port = rest, defaultSSHPort
	if h, p, splitErr := net.SplitHostPort(rest); splitErr == nil {
		host, port = h, p
	}
	if host == "" {
		return "", "", "", fmt.Errorf("remote host %q has no hostname", s)
	}

	if userName == "" {
		u, err := user.Current()
		if err != nil {
			return "", "", "", fmt.Errorf("failed to determine local user: %w", err)
		}
		userName = u.Username
	}

	return userName, host, port, nil
}

// sshDialer opens a stream to the remote libvirtd socket through an SSH
// connection. It satisfies go-libvirt's socket.Dialer.
type sshDialer struct {
	addr   string
	socket string
	config *ssh.ClientConfig
}

func newSSHDialer(t Target) (*sshDialer, error) {
	userName, host, port, err := ParseHost(t.Host)
	if err != nil {
		return nil, err
	}

	auth, err := authMethods(t.KeyFile)
	if err != nil {
		return nil, err
	}

	sock := t.Socket
	if sock == "" {
		sock = DefaultSocket
	}

	return &sshDialer{
		addr:   net.JoinHostPort(host, port),
		socket: sock,
		config: &ssh.ClientConfig{
			User:            userName,
			Auth:            auth,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         t.Timeout,
		},
	}, nil
}

// Dial implements socket.Dialer.
func (d *sshDialer) Dial() (net.Conn, error) {
	client, err := ssh.Dial("tcp", d.addr, d.config)
	if err != nil {
		return nil, fmt.Errorf("failed to ssh to %s: %w", d.addr, err)
	}

	conn, err := client.Dial("unix", d.socket)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open %s on %s: %w", d.socket, d.addr, err)
	}

	return &tunnelConn{Conn: conn, client: client}, nil
}

// tunnelConn closes the owning SSH client along with the forwarded stream.
type tunnelConn struct {
	net.Conn
	client *ssh.Client
}

func (c *tunnelConn) Close() error {
	err := c.Conn.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// authMethods prefers an explicit key file, then the SSH agent, then the
// usual keys under ~/.ssh.
func authMethods(keyFile string) ([]ssh.AuthMethod, error) {
	if keyFile != "" {
		signer, err := loadSigner(keyFile)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		var signers []ssh.Signer
		for _, name := range defaultKeyFiles {
			if signer, err := loadSigner(filepath.Join(home, ".ssh", name)); err == nil {
				signers = append(signers, signer)
			}
		}
		if len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh credentials: pass a key file or start an ssh agent")
	}
	return methods, nil
}

func loadSigner(keyFile string) (ssh.Signer, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key %s: %w", keyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key %s: %w", keyFile, err)
	}
	return signer, nil
}
