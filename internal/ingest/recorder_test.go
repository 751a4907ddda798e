package ingest

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/openso2/so2home/internal/models"
	"github.com/openso2/so2home/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, nil)
	require.NoError(t, st.Migrate())
	return st
}

func TestEventRecorder_WritesRunsAndStatus(t *testing.T) {
	st := setupTestStore(t)
	rec := NewEventRecorder(st, nil)

	now := time.Now()
	rec.Record(models.Event{Kind: models.EventPassStarted, PassID: "p1", Time: now})
	rec.Record(models.Event{
		Kind: models.EventStationSynced, PassID: "p1", Date: passDate, Station: "ELSA",
		SyncKind: models.SyncKindSO2, Files: []string{"a.csv", "b.csv"}, Time: now,
	})
	failure := errors.New("connection refused")
	rec.Record(models.Event{
		Kind: models.EventStationError, PassID: "p1", Date: passDate, Station: "ANNA",
		SyncKind: models.SyncKindSO2, Err: failure, Message: failure.Error(), Time: now,
	})
	rec.Record(models.Event{
		Kind: models.EventStatus, PassID: "p1", Station: "ELSA",
		Status: &models.StationStatus{Station: "ELSA", Timestamp: "12:00", Text: "Scanning", PulledAt: now},
	})
	rec.Record(models.Event{Kind: models.EventPassComplete, PassID: "p1", Time: now})

	runs, err := st.GetRecentSyncRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	errs, err := st.GetRecentSyncErrors(10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "ANNA", errs[0].Station)
	assert.Equal(t, "connection refused", errs[0].ErrorMessage.String)

	statuses, err := st.LatestStatuses()
	require.NoError(t, err)
	assert.Equal(t, "Scanning", statuses["ELSA"].Text)

	recent := rec.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, models.EventStatus, recent[0].Kind)
	assert.Equal(t, models.EventPassComplete, recent[1].Kind)
	assert.Len(t, rec.Recent(0), 5)
}

func TestEventRecorder_RecentIsBounded(t *testing.T) {
	rec := NewEventRecorder(nil, nil)
	for i := 0; i < recentEvents+10; i++ {
		rec.Record(models.Event{Kind: models.EventWarning})
	}
	assert.Len(t, rec.Recent(0), recentEvents)
}

func TestEventRecorder_ConsumesOrchestratorEvents(t *testing.T) {
	f := newFixture(t, "ELSA")
	f.remotes["ELSA"].put("/r/2024-03-01/so2/scan_001.csv", "so2")
	st := setupTestStore(t)
	rec := NewEventRecorder(st, nil)

	require.True(t, f.orch.Tick(context.Background()))

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		rec.Consume(f.orch.Events(), done)
		close(finished)
	}()
	require.Eventually(t, func() bool {
		recent := rec.Recent(1)
		return len(recent) == 1 && recent[0].Kind == models.EventPassComplete
	}, 5*time.Second, 10*time.Millisecond)
	close(done)
	<-finished

	runs, err := st.GetRecentSyncRuns(10)
	require.NoError(t, err)
	var files int
	for _, r := range runs {
		assert.Equal(t, "pass-1", r.PassID)
		files += r.FilesSynced
	}
	assert.Equal(t, 1, files)
}
