// Package ingest runs sync passes over the configured stations.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openso2/so2home/internal/config"
	"github.com/openso2/so2home/internal/metrics"
	"github.com/openso2/so2home/internal/models"
	"github.com/openso2/so2home/internal/station"
)

const eventBuffer = 1024

// Layout names the local and remote folders a pass reads and writes.
type Layout struct {
	ResultsDir string
	RemoteRoot string
	SO2Dir     string
	SpectraDir string
}

// StationSource lists stations in the order a pass visits them.
type StationSource interface {
	List() []*station.Station
}

// Orchestrator runs at most one sync pass at a time. Tick is safe to call
// from any goroutine; a tick that arrives while a pass runs does nothing.
type Orchestrator struct {
	stations StationSource
	settings *config.Live
	layout   Layout
	logger   *zap.SugaredLogger

	now   func() time.Time
	newID func() string

	running atomic.Bool
	// passMu is held for the whole of a pass; Wait acquires it.
	passMu  sync.Mutex
	events  chan models.Event

	// lines already reported per station log for logDate.
	// Only touched while running is held.
	logDate string
	logSeen map[string]int

	stateMu    sync.RWMutex
	lastStates map[string]models.ConnectionState
}

func NewOrchestrator(stations StationSource, settings *config.Live, layout Layout, logger *zap.SugaredLogger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		stations:   stations,
		settings:   settings,
		layout:     layout,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		events:     make(chan models.Event, eventBuffer),
		logSeen:    make(map[string]int),
		lastStates: make(map[string]models.ConnectionState),
	}
}

// Events delivers pass notifications in the order they happen.
func (o *Orchestrator) Events() <-chan models.Event {
	return o.events
}

// Running reports whether a pass is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastStates returns each station's connection state at the end of its most
// recent pass.
func (o *Orchestrator) LastStates() map[string]models.ConnectionState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	out := make(map[string]models.ConnectionState, len(o.lastStates))
	for k, v := range o.lastStates {
		out[k] = v
	}
	return out
}

// Wait blocks until the pass in progress, if any, has finished. Once ctx is
// cancelled, no Tick given that ctx starts a pass after Wait returns.
func (o *Orchestrator) Wait() {
	o.passMu.Lock()
	o.passMu.Unlock()
}

// ModeAt is the sync mode for instant t under the given settings.
func ModeAt(t time.Time, s config.Settings) models.SyncMode {
	if s.Location != nil {
		t = t.In(s.Location)
	}
	return models.ModeFor(models.TimeOfDayOf(t), s.SO2Window, s.SpectraWindow)
}

// Tick runs one pass if none is running and the time of day falls in a sync
// window. It reports whether a pass ran.
func (o *Orchestrator) Tick(ctx context.Context) bool {
	if !o.running.CompareAndSwap(false, true) {
		metrics.SkippedTicksTotal.Inc()
		o.logger.Debugw("sync pass already running, skipping tick")
		return false
	}
	defer o.running.Store(false)

	o.passMu.Lock()
	defer o.passMu.Unlock()
	if ctx.Err() != nil {
		return false
	}

	settings := o.settings.Load()
	now := o.now()
	if settings.Location != nil {
		now = now.In(settings.Location)
	}

	mode := ModeAt(now, settings)
	if mode == models.SyncNone {
		metrics.SyncPassesTotal.WithLabelValues("idle").Inc()
		return false
	}

	pass := models.PassContext{
		ID:                o.newID(),
		Started:           now,
		Date:              now.Format("2006-01-02"),
		Mode:              mode,
		Volcano:           settings.Volcano,
		PlumeSpeed:        settings.PlumeSpeed,
		PlumeAltitude:     settings.PlumeAltitude,
		PlumeDirection:    settings.PlumeDirection,
		ScanPairEnabled:   settings.ScanPairEnabled,
		ScanPairTimeLimit: settings.ScanPairTimeLimit,
		Quality:           settings.Quality,
	}
	o.run(ctx, pass)
	return true
}

func (o *Orchestrator) run(ctx context.Context, pass models.PassContext) {
	start := time.Now()
	logger := o.logger.With("pass", pass.ID, "mode", pass.Mode.String(), "date", pass.Date)

	o.emit(ctx, pass, models.Event{Kind: models.EventPassStarted})
	logger.Infow("sync pass started")

	defer func() {
		elapsed := time.Since(start)
		metrics.SyncPassDuration.Observe(elapsed.Seconds())
		metrics.SyncPassesTotal.WithLabelValues("complete").Inc()
		o.emit(ctx, pass, models.Event{Kind: models.EventPassComplete, Duration: elapsed})
		logger.Infow("sync pass complete", "duration", elapsed)
	}()

	if err := os.MkdirAll(o.layout.ResultsDir, 0o755); err != nil {
		o.emit(ctx, pass, models.Event{
			Kind:    models.EventWarning,
			Err:     err,
			Message: fmt.Sprintf("create results directory: %v", err),
		})
		logger.Errorw("cannot create results directory", "dir", o.layout.ResultsDir, "error", err)
		return
	}

	for _, st := range o.stations.List() {
		if ctx.Err() != nil {
			return
		}
		if !st.Info().SyncEnabled {
			continue
		}
		o.syncStation(ctx, pass, st)

		o.stateMu.Lock()
		o.lastStates[st.Name()] = st.State()
		o.stateMu.Unlock()
	}
}

// syncStation runs every step for one station. A station that cannot be
// reached is given up on for this pass after the first failed connect.
func (o *Orchestrator) syncStation(ctx context.Context, pass models.PassContext, st *station.Station) {
	name := st.Name()
	localDay := filepath.Join(o.layout.ResultsDir, pass.Date, name)
	remoteDay := path.Join(o.layout.RemoteRoot, pass.Date)

	type job struct {
		kind   models.SyncKind
		local  string
		remote string
	}
	var jobs []job
	if pass.Mode.SO2() {
		jobs = append(jobs, job{models.SyncKindSO2, localDay, path.Join(remoteDay, o.layout.SO2Dir)})
	}
	if pass.Mode.Spectra() {
		jobs = append(jobs, job{models.SyncKindSpectra, filepath.Join(localDay, o.layout.SpectraDir), path.Join(remoteDay, o.layout.SpectraDir)})
	}

	for _, j := range jobs {
		started := time.Now()
		res := st.Sync(ctx, j.local, j.remote)
		ev := models.Event{
			Station:  name,
			SyncKind: j.kind,
			State:    st.State(),
			Files:    res.NewFiles,
			Duration: time.Since(started),
		}
		if res.OK() {
			ev.Kind = models.EventStationSynced
			metrics.FilesSyncedTotal.WithLabelValues(name, string(j.kind)).Add(float64(len(res.NewFiles)))
		} else {
			ev.Kind = models.EventStationError
			ev.Err = res.Err
			ev.Message = res.Err.Error()
		}
		o.emit(ctx, pass, ev)

		if unreachable(res.Err) {
			return
		}
	}

	status, err := st.PullStatus(ctx)
	switch {
	case err != nil:
		o.emit(ctx, pass, models.Event{Kind: models.EventWarning, Station: name, State: st.State(), Err: err, Message: err.Error()})
		if unreachable(err) {
			return
		}
	case status.Text != "" || status.Timestamp != "":
		o.emit(ctx, pass, models.Event{Kind: models.EventStatus, Station: name, State: st.State(), Status: &status})
	}

	logPath, err := st.PullLog(ctx, pass.Date)
	if err != nil {
		o.emit(ctx, pass, models.Event{Kind: models.EventWarning, Station: name, State: st.State(), Err: err, Message: err.Error()})
		return
	}
	if logPath == "" {
		return
	}
	lines, err := o.newLogLines(name, pass.Date, logPath)
	if err != nil {
		o.emit(ctx, pass, models.Event{Kind: models.EventWarning, Station: name, State: st.State(), Err: err, Message: err.Error()})
		return
	}
	if len(lines) > 0 {
		o.emit(ctx, pass, models.Event{Kind: models.EventLogDelta, Station: name, State: st.State(), LogLines: lines})
	}
}

func unreachable(err error) bool {
	var cerr *station.ConnectionError
	return errors.As(err, &cerr)
}

// newLogLines returns the lines appended to the log since the last pass.
// A log that shrank is treated as new.
func (o *Orchestrator) newLogLines(name, date, logPath string) ([]string, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", logPath, err)
	}

	if date != o.logDate {
		o.logDate = date
		o.logSeen = make(map[string]int)
	}
	seen := o.logSeen[name]
	if seen > len(lines) {
		seen = 0
	}
	o.logSeen[name] = len(lines)
	return lines[seen:], nil
}

func (o *Orchestrator) emit(ctx context.Context, pass models.PassContext, ev models.Event) {
	ev.PassID = pass.ID
	ev.Mode = pass.Mode
	ev.Date = pass.Date
	if ev.Time.IsZero() {
		ev.Time = o.now()
	}
	select {
	case o.events <- ev:
		return
	case <-ctx.Done():
	}
	select {
	case o.events <- ev:
	default:
		o.logger.Warnw("event dropped", "kind", ev.Kind, "station", ev.Station)
	}
}
