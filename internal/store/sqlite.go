package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/openso2/so2home/internal/models"
)

type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func New(db *sql.DB, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{db: db, logger: logger}
}

// Open opens (creating if needed) the sqlite database at path and migrates it.
func Open(path string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := New(db, logger)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertStation mirrors a station record. Secrets are never stored.
func (s *Store) UpsertStation(info models.StationInfo) error {
	_, err := s.db.Exec(`
		INSERT INTO stations (name, latitude, longitude, altitude, azimuth, host, username, protocol, sync_enabled, filter_bad_spectra, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			azimuth = excluded.azimuth,
			host = excluded.host,
			username = excluded.username,
			protocol = excluded.protocol,
			sync_enabled = excluded.sync_enabled,
			filter_bad_spectra = excluded.filter_bad_spectra,
			updated_at = CURRENT_TIMESTAMP
	`, info.Name, info.Location.Latitude, info.Location.Longitude, info.Location.Altitude, info.Location.Azimuth,
		info.Credentials.Host, info.Credentials.Username, info.Credentials.Protocol, info.SyncEnabled, info.FilterBadSpectra)
	return err
}

func (s *Store) ListStations() ([]models.StationInfo, error) {
	rows, err := s.db.Query(`
		SELECT name, latitude, longitude, altitude, azimuth, host, username, protocol, sync_enabled, filter_bad_spectra
		FROM stations ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.StationInfo
	for rows.Next() {
		var st models.StationInfo
		var protocol sql.NullString
		if err := rows.Scan(&st.Name, &st.Location.Latitude, &st.Location.Longitude, &st.Location.Altitude,
			&st.Location.Azimuth, &st.Credentials.Host, &st.Credentials.Username, &protocol,
			&st.SyncEnabled, &st.FilterBadSpectra); err != nil {
			return nil, err
		}
		st.Credentials.Protocol = protocol.String
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

func (s *Store) DeleteStation(name string) error {
	_, err := s.db.Exec(`DELETE FROM stations WHERE name = ?`, name)
	return err
}

// RecordStatus keeps the latest pulled status for a station.
func (s *Store) RecordStatus(st models.StationStatus) error {
	_, err := s.db.Exec(`
		INSERT INTO station_status (station, status_time, status, pulled_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(station) DO UPDATE SET
			status_time = excluded.status_time,
			status = excluded.status,
			pulled_at = excluded.pulled_at
	`, st.Station, st.Timestamp, st.Text, st.PulledAt.UTC())
	return err
}

func (s *Store) LatestStatuses() (map[string]models.StationStatus, error) {
	rows, err := s.db.Query(`SELECT station, status_time, status, pulled_at FROM station_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.StationStatus)
	for rows.Next() {
		var st models.StationStatus
		if err := rows.Scan(&st.Station, &st.Timestamp, &st.Text, &st.PulledAt); err != nil {
			return nil, err
		}
		out[st.Station] = st
	}
	return out, rows.Err()
}
