package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openso2/so2home/internal/models"
)

// SFTPDialer opens SFTP sessions over SSH. Without a known_hosts file every
// host key is accepted, matching how stations are usually provisioned.
type SFTPDialer struct {
	Timeout        time.Duration
	KnownHostsFile string
}

func (d SFTPDialer) Dial(ctx context.Context, creds models.Credentials) (Transport, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	auth, err := authMethods(creds)
	if err != nil {
		return nil, err
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if d.KnownHostsFile != "" {
		cb, err := knownhosts.New(d.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	}

	addr := withDefaultPort(creds.Host, "22")
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("start sftp: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &sftpTransport{client: sc, closer: client, conn: conn, timeout: timeout}, nil
}

func authMethods(creds models.Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if creds.KeyFile != "" {
		key, err := os.ReadFile(creds.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		var signer ssh.Signer
		if creds.Secret != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(creds.Secret))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Secret != "" && creds.KeyFile == "" {
		methods = append(methods, ssh.Password(creds.Secret))
	}
	if len(methods) == 0 {
		return nil, errors.New("no credentials: set a secret or key file")
	}
	return methods, nil
}

type sftpTransport struct {
	client  *sftp.Client
	closer  io.Closer
	conn    net.Conn // nil when the client was built over pipes
	timeout time.Duration
}

// newSFTPTransport wraps an existing client; used with in-process servers.
func newSFTPTransport(client *sftp.Client) *sftpTransport {
	return &sftpTransport{client: client}
}

// arm bounds the next network operation; every successful read pushes the
// deadline out again so long transfers keep going while bytes flow.
func (t *sftpTransport) arm() {
	if t.conn != nil {
		_ = t.conn.SetDeadline(time.Now().Add(t.timeout))
	}
}

func (t *sftpTransport) disarm() {
	if t.conn != nil {
		_ = t.conn.SetDeadline(time.Time{})
	}
}

func (t *sftpTransport) List(dir string) ([]string, error) {
	t.arm()
	defer t.disarm()

	entries, err := t.client.ReadDir(dir)
	if err != nil {
		return nil, classifySFTP(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (t *sftpTransport) Fetch(remotePath, localPath string) error {
	t.arm()
	defer t.disarm()

	src, err := t.client.Open(remotePath)
	if err != nil {
		return classifySFTP(err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return classifySFTP(err)
	}

	if err := writeLocal(localPath, &progressReader{r: src, t: t}, info.ModTime()); err != nil {
		return classifySFTP(err)
	}
	return nil
}

func (t *sftpTransport) Close() error {
	err := t.client.Close()
	if t.closer != nil {
		return t.closer.Close()
	}
	return err
}

type progressReader struct {
	r io.Reader
	t *sftpTransport
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.t.arm()
	}
	return n, err
}

func classifySFTP(err error) error {
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) || isConnectionFault(err) {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	return err
}
