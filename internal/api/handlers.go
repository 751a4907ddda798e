package api

import (
	"errors"
	"io/fs"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openso2/so2home/internal/flux"
	"github.com/openso2/so2home/internal/geodesy"
	"github.com/openso2/so2home/internal/models"
	"github.com/openso2/so2home/internal/quality"
	"github.com/openso2/so2home/internal/scan"
)

const defaultFanAngle = 60.0

type StationHealth struct {
	Name      string                 `json:"name"`
	State     models.ConnectionState `json:"state"`
	LastSync  *time.Time             `json:"last_sync,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
}

type HealthStatus struct {
	Status   string          `json:"status"`
	Syncing  bool            `json:"syncing"`
	Stations []StationHealth `json:"stations"`
}

// handleHealth reports "degraded" while any sync-enabled station is in the
// error state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", Stations: []StationHealth{}}
	if s.orch != nil {
		health.Syncing = s.orch.Running()
	}

	for _, st := range s.stations.List() {
		sh := StationHealth{
			Name:      st.Name(),
			State:     st.State(),
			LastError: st.LastError(),
		}
		if t := st.LastSync(); !t.IsZero() {
			sh.LastSync = &t
		}
		if st.Info().SyncEnabled && sh.State == models.ConnectionError {
			health.Status = "degraded"
		}
		health.Stations = append(health.Stations, sh)
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

type StationView struct {
	models.StationInfo
	State     models.ConnectionState `json:"state"`
	LastError string                 `json:"last_error,omitempty"`
	Status    *models.StationStatus  `json:"status,omitempty"`
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	var statuses map[string]models.StationStatus
	if s.store != nil {
		var err error
		statuses, err = s.store.LatestStatuses()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	views := []StationView{}
	for _, st := range s.stations.List() {
		v := StationView{
			StationInfo: st.Info(),
			State:       st.State(),
			LastError:   st.LastError(),
		}
		if status, ok := statuses[v.Name]; ok {
			v.Status = &status
		}
		views = append(views, v)
	}
	s.writeJSON(w, http.StatusOK, views)
}

type RunView struct {
	PassID      string     `json:"pass_id"`
	Station     string     `json:"station"`
	Kind        string     `json:"kind"`
	Date        string     `json:"date"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	FilesSynced int        `json:"files_synced"`
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, []RunView{})
		return
	}
	limit := queryInt(r, "limit", 50)

	fetch := s.store.GetRecentSyncRuns
	if r.URL.Query().Get("failed") == "true" {
		fetch = s.store.GetRecentSyncErrors
	}
	runs, err := fetch(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		v := RunView{
			PassID:      run.PassID,
			Station:     run.Station,
			Kind:        run.Kind,
			Date:        run.Date,
			StartedAt:   run.StartedAt,
			FilesSynced: run.FilesSynced,
			Success:     run.Success,
			Error:       run.ErrorMessage.String,
		}
		if run.FinishedAt.Valid {
			t := run.FinishedAt.Time
			v.FinishedAt = &t
		}
		views = append(views, v)
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeJSON(w, http.StatusOK, []models.Event{})
		return
	}
	events := s.events.Recent(queryInt(r, "limit", 100))
	if events == nil {
		events = []models.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

type StationGeometry struct {
	Name     string              `json:"name"`
	Location models.Coordinate   `json:"location"`
	Fan      []models.Coordinate `json:"fan"`
}

type MapView struct {
	Volcano        models.Coordinate    `json:"volcano"`
	PlumeArrow     [2]models.Coordinate `json:"plume_arrow"`
	PlumeAltitude  float64              `json:"plume_altitude"`
	PlumeDirection float64              `json:"plume_direction"`
	Stations       []StationGeometry    `json:"stations"`
}

// handleMap returns the geometry needed to draw the plume and each
// station's scan fan at the plume altitude.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	settings := s.settings.Load()
	fanAngle := queryFloat(r, "fan_angle", defaultFanAngle)

	view := MapView{
		Volcano:        settings.Volcano,
		PlumeArrow:     geodesy.PlumeArrow(settings.Volcano, settings.PlumeDirection, geodesy.DefaultArrowLength),
		PlumeAltitude:  settings.PlumeAltitude,
		PlumeDirection: settings.PlumeDirection,
		Stations:       []StationGeometry{},
	}
	for _, st := range s.stations.List() {
		loc := st.Info().Location
		fan := geodesy.ScanFan(loc, settings.PlumeAltitude, fanAngle)
		if fan == nil {
			fan = []models.Coordinate{}
		}
		view.Stations = append(view.Stations, StationGeometry{
			Name:     st.Name(),
			Location: loc.Coordinate(),
			Fan:      fan,
		})
	}
	s.writeJSON(w, http.StatusOK, view)
}

type FluxView struct {
	Station string        `json:"station"`
	Date    string        `json:"date"`
	Summary flux.Summary  `json:"summary"`
	Skipped int           `json:"skipped"`
	Rows    []FluxRowView `json:"rows,omitempty"`
}

// FluxRowView carries missing optional columns as null.
type FluxRowView struct {
	Time           time.Time `json:"time"`
	Flux           float64   `json:"flux"`
	FluxErr        *float64  `json:"flux_err"`
	PlumeAltitude  *float64  `json:"plume_altitude"`
	PlumeDirection *float64  `json:"plume_direction"`
}

func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (s *Server) handleFlux(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.stations.Get(name); !ok {
		s.writeError(w, http.StatusNotFound, "unknown station")
		return
	}
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}

	series, err := flux.ReadFile(flux.Path(s.resultsDir, date, name))
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "no flux data for "+date)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	view := FluxView{
		Station: name,
		Date:    date,
		Summary: flux.Summarize(series.Rows),
		Skipped: series.Skipped,
	}
	if r.URL.Query().Get("rows") == "true" {
		view.Rows = make([]FluxRowView, 0, len(series.Rows))
		for _, row := range series.Rows {
			view.Rows = append(view.Rows, FluxRowView{
				Time:           row.Time,
				Flux:           row.Flux,
				FluxErr:        optional(row.FluxErr),
				PlumeAltitude:  optional(row.PlumeAltitude),
				PlumeDirection: optional(row.PlumeDirection),
			})
		}
	}
	s.writeJSON(w, http.StatusOK, view)
}

type ScanView struct {
	Station  string    `json:"station"`
	File     string    `json:"file"`
	Filtered bool      `json:"filtered"`
	Valid    []bool    `json:"valid"`
	Scan     scan.Scan `json:"scan"`
}

// handleScan serves one synced scan with the quality filter applied when the
// station has filter_bad_spectra set. ?raw=true skips the filter.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, ok := s.stations.Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown station")
		return
	}
	file := chi.URLParam(r, "file")
	if file == "" || file != filepath.Base(file) || strings.HasPrefix(file, ".") {
		s.writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}

	sc, err := scan.ReadFile(filepath.Join(s.resultsDir, date, name, file))
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	limits := s.settings.Load().Quality
	filter := st.Info().FilterBadSpectra && r.URL.Query().Get("raw") != "true"
	s.writeJSON(w, http.StatusOK, ScanView{
		Station:  name,
		File:     file,
		Filtered: filter,
		Valid:    quality.Mask(sc.SO2, sc.Intensity, limits),
		Scan:     *sc.Apply(limits, filter),
	})
}

// dateParam reads ?date=YYYY-MM-DD, defaulting to today in the configured zone.
func (s *Server) dateParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		loc := s.settings.Load().Location
		if loc == nil {
			loc = time.UTC
		}
		return time.Now().In(loc).Format("2006-01-02"), true
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return "", false
	}
	return date, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	v, err := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
