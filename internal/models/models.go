package models

import (
	"fmt"
	"time"
)

// Coordinate is a point in decimal degrees, positive north and east.
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

type StationLocation struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Altitude  float64 `json:"altitude" yaml:"altitude"` // metres above sea level
	Azimuth   float64 `json:"azimuth" yaml:"azimuth"`   // scan plane, degrees clockwise from north
}

func (l StationLocation) Coordinate() Coordinate {
	return Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Credentials are handed to the transport untouched.
type Credentials struct {
	Host     string `json:"host" yaml:"host"`
	Username string `json:"username" yaml:"username"`
	Secret   string `json:"-" yaml:"secret"`
	KeyFile  string `json:"-" yaml:"key_file,omitempty"`
	Protocol string `json:"protocol" yaml:"protocol,omitempty"` // "sftp" (default) or "ftp"
}

// StationInfo is the persisted part of a station record.
type StationInfo struct {
	Name             string          `json:"name" yaml:"name"`
	Location         StationLocation `json:"location" yaml:"location"`
	Credentials      Credentials     `json:"credentials" yaml:"credentials"`
	SyncEnabled      bool            `json:"sync_enabled" yaml:"sync"`
	FilterBadSpectra bool            `json:"filter_bad_spectra" yaml:"filter_bad_spectra"`
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
	ConnectionError
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case ConnectionError:
		return "error"
	default:
		return "disconnected"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "connected":
		*s = Connected
	case "error":
		*s = ConnectionError
	case "disconnected":
		*s = Disconnected
	default:
		return fmt.Errorf("unknown connection state %q", b)
	}
	return nil
}

// QualityLimits bound acceptable scan values. min <= max is the caller's job.
type QualityLimits struct {
	MinSCD       float64 `json:"min_scd" yaml:"min_scd"`
	MaxSCD       float64 `json:"max_scd" yaml:"max_scd"`
	MinIntensity float64 `json:"min_intensity" yaml:"min_intensity"`
	MaxIntensity float64 `json:"max_intensity" yaml:"max_intensity"`
}

// SyncResult is the outcome of one Station.Sync call.
type SyncResult struct {
	NewFiles []string
	Err      error
}

func (r SyncResult) OK() bool { return r.Err == nil }

// StationStatus is the parsed content of a station's status file.
type StationStatus struct {
	Station   string    `json:"station"`
	Timestamp string    `json:"timestamp"`
	Text      string    `json:"status"`
	PulledAt  time.Time `json:"pulled_at"`
}

func (s StationStatus) String() string {
	return fmt.Sprintf("%s - %s", s.Timestamp, s.Text)
}

// FluxRow is one line of a station's flux output file.
type FluxRow struct {
	Time           time.Time `json:"time"`
	Flux           float64   `json:"flux"`
	FluxErr        float64   `json:"flux_err"`
	PlumeAltitude  float64   `json:"plume_altitude"`
	PlumeDirection float64   `json:"plume_direction"`
}
