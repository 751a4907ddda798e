package station

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openso2/so2home/internal/models"
)

// fakeRemote is an in-memory station file system shared by fake sessions.
type fakeRemote struct {
	mu      sync.Mutex
	files   map[string]string // remote path -> content
	dirs    map[string][]string
	failing map[string]error // remote path -> error returned by Fetch
	fetched []string
	dials   int
	dialErr error
	listErr error
	closed  int
	delay   time.Duration
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:   make(map[string]string),
		dirs:    make(map[string][]string),
		failing: make(map[string]error),
	}
}

func (f *fakeRemote) put(dir, name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[dir] = append(f.dirs[dir], name)
	f.files[dir+"/"+name] = content
}

func (f *fakeRemote) putFile(p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = content
}

func (f *fakeRemote) dialer() Dialer {
	return DialerFunc(func(ctx context.Context, creds models.Credentials) (Transport, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.dials++
		if f.dialErr != nil {
			return nil, f.dialErr
		}
		return &fakeTransport{remote: f}, nil
	})
}

func (f *fakeRemote) fetchedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func (f *fakeRemote) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

type fakeTransport struct {
	remote *fakeRemote
	closed bool
}

func (t *fakeTransport) List(dir string) ([]string, error) {
	f := t.remote
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.closed {
		return nil, ErrSessionLost
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	names, ok := f.dirs[dir]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", dir, fs.ErrNotExist)
	}
	return append([]string(nil), names...), nil
}

func (t *fakeTransport) Fetch(remotePath, localPath string) error {
	f := t.remote
	f.mu.Lock()
	delay := f.delay
	if t.closed {
		f.mu.Unlock()
		return ErrSessionLost
	}
	if err, ok := f.failing[remotePath]; ok {
		f.mu.Unlock()
		return err
	}
	content, ok := f.files[remotePath]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("open %s: %w", remotePath, fs.ErrNotExist)
	}
	f.fetched = append(f.fetched, remotePath)
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return writeLocal(localPath, strings.NewReader(content), time.Time{})
}

func (t *fakeTransport) Close() error {
	t.remote.mu.Lock()
	defer t.remote.mu.Unlock()
	t.closed = true
	t.remote.closed++
	return nil
}

func testInfo(name string) models.StationInfo {
	return models.StationInfo{
		Name:        name,
		Credentials: models.Credentials{Host: "10.0.0.5", Username: "scan", Secret: "pw"},
		SyncEnabled: true,
	}
}

func testOptions(t *testing.T) Options {
	t.Helper()
	root := t.TempDir()
	return Options{
		RemoteRoot: "/remote",
		StatusFile: "/remote/status.txt",
		LocalRoot:  filepath.Join(root, "Results"),
		StatusDir:  filepath.Join(root, "Station"),
	}
}

func localNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestSync_CopiesMissingFiles(t *testing.T) {
	remote := newFakeRemote()
	remote.put("/remote/2024-03-01/so2", "a.csv", "A")
	remote.put("/remote/2024-03-01/so2", "b.csv", "B")
	remote.put("/remote/2024-03-01/so2", "c.csv", "C")

	opts := testOptions(t)
	s := New(testInfo("ELSA"), remote.dialer(), opts)
	local := filepath.Join(opts.LocalRoot, "2024-03-01", "ELSA")
	require.NoError(t, os.MkdirAll(local, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "a.csv"), []byte("old"), 0o644))

	res := s.Sync(context.Background(), local, "/remote/2024-03-01/so2")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"b.csv", "c.csv"}, res.NewFiles)
	assert.Equal(t, models.Connected, s.State())

	// an existing local file is never overwritten, whatever its content
	got, err := os.ReadFile(filepath.Join(local, "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
	assert.NotContains(t, remote.fetchedPaths(), "/remote/2024-03-01/so2/a.csv")
	assert.Equal(t, []string{"a.csv", "b.csv", "c.csv"}, localNames(t, local))
}

func TestSync_Idempotent(t *testing.T) {
	remote := newFakeRemote()
	remote.put("/r/so2", "a.csv", "A")
	remote.put("/r/so2", "b.csv", "B")

	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	local := t.TempDir()

	first := s.Sync(context.Background(), local, "/r/so2")
	require.NoError(t, first.Err)
	assert.Len(t, first.NewFiles, 2)

	second := s.Sync(context.Background(), local, "/r/so2")
	require.NoError(t, second.Err)
	assert.Empty(t, second.NewFiles)
	assert.Len(t, remote.fetchedPaths(), 2)
	assert.Equal(t, 1, remote.dialCount(), "session is reused")
}

func TestSync_CreatesLocalDir(t *testing.T) {
	remote := newFakeRemote()
	remote.put("/r/so2", "a.csv", "A")

	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	local := filepath.Join(t.TempDir(), "deep", "er")

	res := s.Sync(context.Background(), local, "/r/so2")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"a.csv"}, res.NewFiles)
	assert.FileExists(t, filepath.Join(local, "a.csv"))
}

func TestSync_MissingRemoteDir(t *testing.T) {
	remote := newFakeRemote()
	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))

	res := s.Sync(context.Background(), t.TempDir(), "/r/nothing-yet")
	assert.NoError(t, res.Err)
	assert.Empty(t, res.NewFiles)
	assert.Equal(t, models.Connected, s.State())
}

func TestSync_PerFileFailureIsSkipped(t *testing.T) {
	remote := newFakeRemote()
	remote.put("/r/so2", "a.csv", "A")
	remote.put("/r/so2", "b.csv", "B")
	remote.put("/r/so2", "c.csv", "C")
	remote.failing["/r/so2/b.csv"] = fs.ErrPermission

	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	local := t.TempDir()

	res := s.Sync(context.Background(), local, "/r/so2")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"a.csv", "c.csv"}, res.NewFiles)
	assert.Equal(t, models.Connected, s.State())
	assert.Equal(t, []string{"a.csv", "c.csv"}, localNames(t, local))
}

func TestSync_TransientFailureIsRetried(t *testing.T) {
	remote := newFakeRemote()
	remote.put("/r/so2", "a.csv", "A")

	flaky := &flakyTransport{fakeTransport: fakeTransport{remote: remote}, failures: 2}
	dialer := DialerFunc(func(ctx context.Context, creds models.Credentials) (Transport, error) {
		return flaky, nil
	})
	opts := testOptions(t)
	opts.FetchRetries = 3
	s := New(testInfo("ELSA"), dialer, opts)

	res := s.Sync(context.Background(), t.TempDir(), "/r/so2")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"a.csv"}, res.NewFiles)
	assert.Equal(t, 3, flaky.attempts)
}

type flakyTransport struct {
	fakeTransport
	failures int
	attempts int
}

func (f *flakyTransport) Fetch(remotePath, localPath string) error {
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("short read")
	}
	return f.fakeTransport.Fetch(remotePath, localPath)
}

func TestSync_SessionFaultThenReconnect(t *testing.T) {
	remote := newFakeRemote()
	remote.put("/r/so2", "a.csv", "A")
	remote.put("/r/so2", "b.csv", "B")
	remote.failing["/r/so2/b.csv"] = fmt.Errorf("read: %w", ErrSessionLost)

	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	local := t.TempDir()

	res := s.Sync(context.Background(), local, "/r/so2")
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrSessionLost)
	assert.Equal(t, []string{"a.csv"}, res.NewFiles)
	assert.Equal(t, models.ConnectionError, s.State())
	assert.NotEmpty(t, s.LastError())
	assert.Equal(t, 1, remote.closed)

	delete(remote.failing, "/r/so2/b.csv")
	res = s.Sync(context.Background(), local, "/r/so2")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"b.csv"}, res.NewFiles)
	assert.Equal(t, models.Connected, s.State())
	assert.Equal(t, 2, remote.dialCount())
}

func TestSync_ListFaultTearsDown(t *testing.T) {
	remote := newFakeRemote()
	remote.listErr = fmt.Errorf("readdir: %w", ErrSessionLost)

	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	res := s.Sync(context.Background(), t.TempDir(), "/r/so2")
	require.Error(t, res.Err)
	assert.Empty(t, res.NewFiles)
	assert.Equal(t, models.ConnectionError, s.State())
}

func TestConnect_Failure(t *testing.T) {
	remote := newFakeRemote()
	remote.dialErr = errors.New("connection refused")

	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	err := s.Connect(context.Background())

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "ELSA", cerr.Station)
	assert.Equal(t, models.ConnectionError, s.State())

	res := s.Sync(context.Background(), t.TempDir(), "/r/so2")
	assert.ErrorAs(t, res.Err, &cerr)
	assert.Empty(t, res.NewFiles)
	assert.Equal(t, 2, remote.dialCount(), "every call retries the connection")
}

func TestConnect_ReconnectClearsLastError(t *testing.T) {
	remote := newFakeRemote()
	remote.dialErr = errors.New("connection refused")

	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	require.Error(t, s.Connect(context.Background()))
	assert.Contains(t, s.LastError(), "connection refused")

	remote.mu.Lock()
	remote.dialErr = nil
	remote.mu.Unlock()

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, models.Connected, s.State())
	assert.Empty(t, s.LastError())
}

func TestConnect_Idempotent(t *testing.T) {
	remote := newFakeRemote()
	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, remote.dialCount())
}

func TestPullStatus(t *testing.T) {
	remote := newFakeRemote()
	remote.putFile("/remote/status.txt", "2024-03-01 12:00:00 - Scanning\n")

	opts := testOptions(t)
	s := New(testInfo("ELSA"), remote.dialer(), opts)

	status, err := s.PullStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ELSA", status.Station)
	assert.Equal(t, "2024-03-01 12:00:00", status.Timestamp)
	assert.Equal(t, "Scanning", status.Text)
	assert.FileExists(t, filepath.Join(opts.StatusDir, "ELSA_status.txt"))
}

func TestPullStatus_Malformed(t *testing.T) {
	remote := newFakeRemote()
	remote.putFile("/remote/status.txt", "garbage\n")

	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	_, err := s.PullStatus(context.Background())

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "garbage", perr.Line)
	assert.Equal(t, models.Connected, s.State(), "a parse problem leaves the session alone")
}

func TestPullStatus_Missing(t *testing.T) {
	remote := newFakeRemote()
	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))

	status, err := s.PullStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, status.Text)
}

func TestPullLog(t *testing.T) {
	remote := newFakeRemote()
	remote.putFile("/remote/2024-03-01/2024-03-01.log", "line one\nline two\n")

	opts := testOptions(t)
	s := New(testInfo("ELSA"), remote.dialer(), opts)

	p, err := s.PullLog(context.Background(), "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.LocalRoot, "2024-03-01", "ELSA", "2024-03-01.log"), p)

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(got))
}

func TestPullLog_Missing(t *testing.T) {
	remote := newFakeRemote()
	opts := testOptions(t)
	s := New(testInfo("ELSA"), remote.dialer(), opts)

	p, err := s.PullLog(context.Background(), "2024-03-02")
	require.NoError(t, err)
	assert.Empty(t, p)
	assert.DirExists(t, filepath.Join(opts.LocalRoot, "2024-03-02", "ELSA"))
}

func TestUpdate_CredentialsForceReconnect(t *testing.T) {
	remote := newFakeRemote()
	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	require.NoError(t, s.Connect(context.Background()))

	info := s.Info()
	info.FilterBadSpectra = true
	s.Update(info)
	assert.Equal(t, models.Connected, s.State())

	info.Credentials.Secret = "new"
	s.Update(info)
	assert.Equal(t, models.Disconnected, s.State())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 2, remote.dialCount())
}

func TestOperationsAreSerialised(t *testing.T) {
	remote := newFakeRemote()
	remote.delay = 20 * time.Millisecond
	for i := 0; i < 3; i++ {
		remote.put("/r/so2", fmt.Sprintf("f%d.csv", i), "x")
	}

	s := New(testInfo("ELSA"), remote.dialer(), testOptions(t))
	local := t.TempDir()

	var wg sync.WaitGroup
	results := make([]models.SyncResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Sync(context.Background(), local, "/r/so2")
		}(i)
	}
	wg.Wait()

	total := len(results[0].NewFiles) + len(results[1].NewFiles)
	assert.Equal(t, 3, total, "no file is fetched twice")
	assert.Len(t, remote.fetchedPaths(), 3)
}

func TestDiffListings(t *testing.T) {
	local := map[string]struct{}{"b": {}}
	assert.Equal(t, []string{"c", "a"}, diffListings([]string{"c", "b", "a", "c"}, local))
	assert.Nil(t, diffListings(nil, local))
}

func TestWriteLocal_NoPartialOnFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.csv")

	err := writeLocal(target, failingReader{}, time.Time{})
	require.Error(t, err)
	assert.NoFileExists(t, target)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
