// Package station manages the connection to one remote scanning station and
// copies its results, status and log files to the home computer.
package station

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/openso2/so2home/internal/metrics"
	"github.com/openso2/so2home/internal/models"
)

const (
	DefaultStatusFile = "/home/scan/OpenSO2/Station/status.txt"
	DefaultRemoteRoot = "/home/scan/OpenSO2/Results"
)

// Options are the file layout and tuning shared by all stations.
type Options struct {
	// RemoteRoot holds {date}/{date}.log and the per-date result folders.
	RemoteRoot string
	// StatusFile is the remote one-line status file.
	StatusFile string
	// LocalRoot receives {date}/{name}/ folders.
	LocalRoot string
	// StatusDir receives {name}_status.txt.
	StatusDir string
	// FetchRetries bounds extra attempts for a single file before it is skipped.
	FetchRetries uint64
	RetryDelay   time.Duration
	Logger       *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.RemoteRoot == "" {
		o.RemoteRoot = DefaultRemoteRoot
	}
	if o.StatusFile == "" {
		o.StatusFile = DefaultStatusFile
	}
	if o.LocalRoot == "" {
		o.LocalRoot = "Results"
	}
	if o.StatusDir == "" {
		o.StatusDir = "Station"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Station is one remote endpoint with a lazily opened session.
//
// Operations are serialised, so calls sharing the session run in program
// order. There is no retry loop: after a fault the next call reconnects.
type Station struct {
	opMu      sync.Mutex
	transport Transport

	mu        sync.RWMutex
	info      models.StationInfo
	state     models.ConnectionState
	lastError string
	lastSync  time.Time

	dialer Dialer
	opts   Options
	logger *zap.SugaredLogger
}

func New(info models.StationInfo, dialer Dialer, opts Options) *Station {
	opts = opts.withDefaults()
	s := &Station{
		info:   info,
		dialer: dialer,
		opts:   opts,
		logger: opts.Logger.With("station", info.Name),
	}
	s.setState(models.Disconnected, nil)
	return s
}

func (s *Station) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Name
}

func (s *Station) Info() models.StationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *Station) State() models.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the message of the most recent fault, if any.
func (s *Station) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *Station) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

func (s *Station) setState(state models.ConnectionState, err error) {
	s.mu.Lock()
	s.state = state
	switch {
	case err != nil:
		s.lastError = err.Error()
	case state == models.Connected:
		s.lastError = ""
	}
	name := s.info.Name
	s.mu.Unlock()
	metrics.ConnectionState.WithLabelValues(name).Set(float64(state))
}

// Update replaces the station record. A change of credentials drops the
// current session so the next call connects with the new ones.
func (s *Station) Update(info models.StationInfo) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	credsChanged := s.info.Credentials != info.Credentials
	s.info = info
	s.mu.Unlock()

	if credsChanged && s.transport != nil {
		s.transport.Close()
		s.transport = nil
		s.setState(models.Disconnected, nil)
	}
}

// Connect opens the session if it is not already open.
func (s *Station) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Station) connectLocked(ctx context.Context) error {
	if s.transport != nil && s.State() == models.Connected {
		return nil
	}

	info := s.Info()
	t, err := s.dialer.Dial(ctx, info.Credentials)
	if err != nil {
		cerr := &ConnectionError{Station: info.Name, Host: info.Credentials.Host, Err: err}
		s.setState(models.ConnectionError, cerr)
		metrics.StationFaultsTotal.WithLabelValues(info.Name, "connection").Inc()
		s.logger.Warnw("connect failed", "host", info.Credentials.Host, "error", err)
		return cerr
	}

	s.transport = t
	s.setState(models.Connected, nil)
	s.logger.Infow("connected", "host", info.Credentials.Host)
	return nil
}

// fault tears the session down after a transport-level error.
func (s *Station) fault(err error) {
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
	s.setState(models.ConnectionError, err)
	metrics.StationFaultsTotal.WithLabelValues(s.Name(), "session").Inc()
	s.logger.Warnw("session fault", "error", err)
}

// Close drops the session and returns the station to Disconnected.
func (s *Station) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var err error
	if s.transport != nil {
		err = s.transport.Close()
		s.transport = nil
	}
	s.setState(models.Disconnected, nil)
	return err
}

// Sync copies every file present in remoteDir but absent from localDir.
// Files are matched by name only; a local file is never re-fetched. A missing
// remote directory is an empty result, not an error.
func (s *Station) Sync(ctx context.Context, localDir, remoteDir string) models.SyncResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return models.SyncResult{Err: err}
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return models.SyncResult{Err: fmt.Errorf("create %s: %w", localDir, err)}
	}
	local, err := listLocal(localDir)
	if err != nil {
		return models.SyncResult{Err: fmt.Errorf("list %s: %w", localDir, err)}
	}

	remote, err := s.transport.List(remoteDir)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Infow("no files found", "remote_dir", remoteDir)
		return models.SyncResult{}
	}
	if err != nil {
		err = fmt.Errorf("list %s: %w", remoteDir, err)
		s.fault(err)
		return models.SyncResult{Err: err}
	}

	toFetch := diffListings(remote, local)
	s.logger.Infow("found files to sync", "count", len(toFetch), "remote_dir", remoteDir)

	result := models.SyncResult{NewFiles: []string{}}
	for _, name := range toFetch {
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		err := s.fetchFile(path.Join(remoteDir, name), filepath.Join(localDir, name))
		if errors.Is(err, ErrSessionLost) {
			err = fmt.Errorf("fetch %s: %w", name, err)
			s.fault(err)
			result.Err = err
			break
		}
		if err != nil {
			metrics.StationFaultsTotal.WithLabelValues(s.Name(), "file").Inc()
			s.logger.Warnw("error syncing file", "file", name, "error", err)
			continue
		}
		result.NewFiles = append(result.NewFiles, name)
	}

	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()
	return result
}

// fetchFile retries transient per-file failures a bounded number of times.
func (s *Station) fetchFile(remotePath, localPath string) error {
	op := func() error {
		err := s.transport.Fetch(remotePath, localPath)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSessionLost) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryDelay), s.opts.FetchRetries)
	return backoff.Retry(op, bo)
}

// PullStatus copies the station's status file and parses its
// "{timestamp} - {status}" line. A missing status file yields an empty status
// and no error; a malformed line yields a *ParseError.
func (s *Station) PullStatus(ctx context.Context) (models.StationStatus, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	name := s.Name()
	status := models.StationStatus{Station: name, PulledAt: time.Now()}

	if err := s.connectLocked(ctx); err != nil {
		return status, err
	}

	localPath := filepath.Join(s.opts.StatusDir, name+"_status.txt")
	err := s.transport.Fetch(s.opts.StatusFile, localPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Infow("no status file found", "remote", s.opts.StatusFile)
		return status, nil
	case errors.Is(err, ErrSessionLost):
		err = fmt.Errorf("pull status: %w", err)
		s.fault(err)
		return status, err
	case err != nil:
		return status, fmt.Errorf("pull status: %w", err)
	}

	line, err := firstLine(localPath)
	if err != nil {
		return status, fmt.Errorf("read status: %w", err)
	}
	timestamp, text, ok := strings.Cut(line, " - ")
	if !ok {
		metrics.StationFaultsTotal.WithLabelValues(name, "parse").Inc()
		return status, &ParseError{Station: name, File: localPath, Line: line}
	}
	status.Timestamp = strings.TrimSpace(timestamp)
	status.Text = strings.TrimSpace(text)
	return status, nil
}

// PullLog copies the station's log for date (YYYY-MM-DD) into
// {LocalRoot}/{date}/{name}/{date}.log and returns that path. If the station
// has not written a log for date yet the path is empty and err is nil.
func (s *Station) PullLog(ctx context.Context, date string) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	name := s.Name()
	localDir := filepath.Join(s.opts.LocalRoot, date, name)
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", localDir, err)
	}

	if err := s.connectLocked(ctx); err != nil {
		return "", err
	}

	remotePath := path.Join(s.opts.RemoteRoot, date, date+".log")
	localPath := filepath.Join(localDir, date+".log")
	err := s.transport.Fetch(remotePath, localPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Infow("no log file found", "date", date)
		return "", nil
	case errors.Is(err, ErrSessionLost):
		err = fmt.Errorf("pull log: %w", err)
		s.fault(err)
		return "", err
	case err != nil:
		return "", fmt.Errorf("pull log: %w", err)
	}
	return localPath, nil
}

func firstLine(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}
	return "", sc.Err()
}
