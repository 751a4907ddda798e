package ingest

import (
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"github.com/openso2/so2home/internal/models"
	"github.com/openso2/so2home/internal/store"
)

const recentEvents = 200

// RunStore is the part of the store the recorder writes to.
type RunStore interface {
	StartSyncRun(passID, station, kind, date string) (*store.SyncRun, error)
	CompleteSyncRun(run *store.SyncRun) error
	RecordStatus(st models.StationStatus) error
}

// EventRecorder turns pass events into log lines and store rows and keeps
// the most recent ones for the API.
type EventRecorder struct {
	store  RunStore
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	recent []models.Event
}

func NewEventRecorder(st RunStore, logger *zap.SugaredLogger) *EventRecorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventRecorder{store: st, logger: logger}
}

// Consume records events until the channel is closed or done is closed.
func (r *EventRecorder) Consume(events <-chan models.Event, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Record(ev)
		case <-done:
			return
		}
	}
}

func (r *EventRecorder) Record(ev models.Event) {
	r.mu.Lock()
	r.recent = append(r.recent, ev)
	if len(r.recent) > recentEvents {
		r.recent = append([]models.Event(nil), r.recent[len(r.recent)-recentEvents:]...)
	}
	r.mu.Unlock()

	logger := r.logger.With("pass", ev.PassID)
	if ev.Station != "" {
		logger = logger.With("station", ev.Station)
	}

	switch ev.Kind {
	case models.EventPassStarted:
		logger.Infow("pass started", "mode", ev.Mode.String(), "date", ev.Date)
	case models.EventPassComplete:
		logger.Infow("pass complete", "duration", ev.Duration)
	case models.EventStationSynced:
		logger.Infow("station synced", "kind", ev.SyncKind, "new_files", len(ev.Files))
		r.saveRun(ev, true)
	case models.EventStationError:
		logger.Warnw("station sync failed", "kind", ev.SyncKind, "state", ev.State.String(), "error", ev.Message, "new_files", len(ev.Files))
		r.saveRun(ev, false)
	case models.EventStatus:
		if ev.Status == nil {
			return
		}
		logger.Infow("station status", "status", ev.Status.Text, "at", ev.Status.Timestamp)
		if r.store != nil {
			if err := r.store.RecordStatus(*ev.Status); err != nil {
				r.logger.Errorw("record status", "station", ev.Station, "error", err)
			}
		}
	case models.EventLogDelta:
		for _, line := range ev.LogLines {
			logger.Infow("station log", "line", line)
		}
	case models.EventWarning:
		logger.Warnw("sync warning", "message", ev.Message)
	}
}

func (r *EventRecorder) saveRun(ev models.Event, ok bool) {
	if r.store == nil {
		return
	}
	run, err := r.store.StartSyncRun(ev.PassID, ev.Station, string(ev.SyncKind), ev.Date)
	if err != nil {
		r.logger.Errorw("start sync run", "station", ev.Station, "error", err)
		return
	}
	run.FilesSynced = len(ev.Files)
	run.Success = ok
	if ev.Message != "" {
		run.ErrorMessage = sql.NullString{String: ev.Message, Valid: true}
	}
	if err := r.store.CompleteSyncRun(run); err != nil {
		r.logger.Errorw("complete sync run", "station", ev.Station, "error", err)
	}
}

// Recent returns up to n of the latest events, oldest first.
func (r *EventRecorder) Recent(n int) []models.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.recent) {
		n = len(r.recent)
	}
	return append([]models.Event(nil), r.recent[len(r.recent)-n:]...)
}
