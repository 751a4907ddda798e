package models

import "time"

type EventKind string

const (
	EventPassStarted   EventKind = "pass_started"
	EventStationSynced EventKind = "station_synced"
	EventStationError  EventKind = "station_error"
	EventStatus        EventKind = "station_status"
	EventLogDelta      EventKind = "log_delta"
	EventWarning       EventKind = "warning"
	EventPassComplete  EventKind = "pass_complete"
)

// SyncKind names which remote directory a sync targeted.
type SyncKind string

const (
	SyncKindSO2     SyncKind = "so2"
	SyncKindSpectra SyncKind = "spectra"
)

// Event is a typed notification emitted by a sync pass. Consumers format it;
// the producer never does.
type Event struct {
	Kind     EventKind       `json:"kind"`
	PassID   string          `json:"pass_id"`
	Time     time.Time       `json:"time"`
	Mode     SyncMode        `json:"mode"`
	Date     string          `json:"date,omitempty"`
	Station  string          `json:"station,omitempty"`
	SyncKind SyncKind        `json:"sync_kind,omitempty"`
	State    ConnectionState `json:"state"`
	Files    []string        `json:"files,omitempty"`
	Status   *StationStatus  `json:"status,omitempty"`
	LogLines []string        `json:"log_lines,omitempty"`
	Err      error           `json:"-"`
	Message  string          `json:"message,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
}

// PassContext is the settings snapshot taken at the start of a pass.
type PassContext struct {
	ID                string
	Started           time.Time
	Date              string
	Mode              SyncMode
	Volcano           Coordinate
	PlumeSpeed        float64
	PlumeAltitude     float64
	PlumeDirection    float64
	ScanPairEnabled   bool
	ScanPairTimeLimit time.Duration
	Quality           QualityLimits
}
