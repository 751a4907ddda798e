package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openso2/so2home/internal/models"
)

const DefaultTimeout = 30 * time.Second

// ErrSessionLost marks a transport fault that invalidates the whole session,
// as opposed to a problem with a single file.
var ErrSessionLost = errors.New("session lost")

// Transport is one live remote file session.
//
// List returns the names of regular files in dir, in the server's order, and
// an error wrapping fs.ErrNotExist if dir is missing. Fetch copies one file to
// localPath, preserving its modification time where the protocol allows.
// Errors that break the session wrap ErrSessionLost.
type Transport interface {
	List(dir string) ([]string, error)
	Fetch(remotePath, localPath string) error
	Close() error
}

// Dialer opens a Transport to a station.
type Dialer interface {
	Dial(ctx context.Context, creds models.Credentials) (Transport, error)
}

type DialerFunc func(ctx context.Context, creds models.Credentials) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, creds models.Credentials) (Transport, error) {
	return f(ctx, creds)
}

// ProtocolDialer picks a dialer from the credentials' protocol field.
type ProtocolDialer struct {
	SFTP Dialer
	FTP  Dialer
}

// NewProtocolDialer returns the default SFTP/FTP dialer pair.
func NewProtocolDialer(timeout time.Duration, knownHosts string) ProtocolDialer {
	return ProtocolDialer{
		SFTP: SFTPDialer{Timeout: timeout, KnownHostsFile: knownHosts},
		FTP:  FTPDialer{Timeout: timeout},
	}
}

func (p ProtocolDialer) Dial(ctx context.Context, creds models.Credentials) (Transport, error) {
	switch strings.ToLower(creds.Protocol) {
	case "", "sftp", "ssh":
		if p.SFTP == nil {
			return nil, errors.New("sftp transport not configured")
		}
		return p.SFTP.Dial(ctx, creds)
	case "ftp":
		if p.FTP == nil {
			return nil, errors.New("ftp transport not configured")
		}
		return p.FTP.Dial(ctx, creds)
	default:
		return nil, fmt.Errorf("unknown protocol %q", creds.Protocol)
	}
}

func withDefaultPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}

// isConnectionFault reports whether err means the underlying connection is gone.
func isConnectionFault(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// writeLocal streams r into localPath through a temporary file so a partial
// copy never shows up under the final name.
func writeLocal(localPath string, r io.Reader, mtime time.Time) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".part-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(tmpName, mtime, mtime); err != nil {
			return fmt.Errorf("preserve mtime: %w", err)
		}
	}
	return os.Rename(tmpName, localPath)
}

func listLocal(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		names[e.Name()] = struct{}{}
	}
	return names, nil
}

// diffListings returns the remote names missing locally, in remote order.
func diffListings(remote []string, local map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(remote))
	var missing []string
	for _, name := range remote {
		if _, ok := local[name]; ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		missing = append(missing, name)
	}
	return missing
}
