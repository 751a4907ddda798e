package station

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/openso2/so2home/internal/models"
)

// FTPDialer reaches older stations that only expose plain FTP.
type FTPDialer struct {
	Timeout time.Duration
}

func (d FTPDialer) Dial(ctx context.Context, creds models.Credentials) (Transport, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	addr := withDefaultPort(creds.Host, "21")
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}

	if err := conn.Login(creds.Username, creds.Secret); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	return &ftpTransport{conn: conn}, nil
}

type ftpTransport struct {
	conn *ftp.ServerConn
}

func (t *ftpTransport) List(dir string) ([]string, error) {
	entries, err := t.conn.List(dir)
	if err != nil {
		return nil, classifyFTP(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFile {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

func (t *ftpTransport) Fetch(remotePath, localPath string) error {
	// Not every server answers MDTM; a zero time just skips preservation.
	mtime, err := t.conn.GetTime(remotePath)
	if err != nil {
		mtime = time.Time{}
	}

	resp, err := t.conn.Retr(remotePath)
	if err != nil {
		return classifyFTP(err)
	}
	defer resp.Close()

	if err := writeLocal(localPath, resp, mtime); err != nil {
		return classifyFTP(err)
	}
	return nil
}

func (t *ftpTransport) Close() error {
	return t.conn.Quit()
}

func classifyFTP(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code == ftp.StatusFileUnavailable {
			return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
		}
		if protoErr.Code == ftp.StatusNotAvailable {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
		return err
	}
	if isConnectionFault(err) {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	return err
}
