package models

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time with minute resolution and no date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SyncWindow is a same-day [Start, Stop) range. Windows that wrap past
// midnight are not supported and never contain any time.
type SyncWindow struct {
	Start TimeOfDay `json:"start" yaml:"start"`
	Stop  TimeOfDay `json:"stop" yaml:"stop"`
}

func (w SyncWindow) SpansMidnight() bool {
	return w.Start.Minutes() > w.Stop.Minutes()
}

func (w SyncWindow) Contains(t TimeOfDay) bool {
	if w.SpansMidnight() {
		return false
	}
	m := t.Minutes()
	return m >= w.Start.Minutes() && m < w.Stop.Minutes()
}

type SyncMode int

const (
	SyncNone SyncMode = iota
	SyncSO2Only
	SyncSpectraOnly
	SyncBoth
)

func (m SyncMode) String() string {
	switch m {
	case SyncSO2Only:
		return "so2_only"
	case SyncSpectraOnly:
		return "spectra_only"
	case SyncBoth:
		return "both"
	default:
		return "none"
	}
}

func (m *SyncMode) UnmarshalText(b []byte) error {
	for _, mode := range []SyncMode{SyncNone, SyncSO2Only, SyncSpectraOnly, SyncBoth} {
		if mode.String() == string(b) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown sync mode %q", b)
}

func (m SyncMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m SyncMode) SO2() bool     { return m == SyncSO2Only || m == SyncBoth }
func (m SyncMode) Spectra() bool { return m == SyncSpectraOnly || m == SyncBoth }

// ModeFor derives the sync mode from the two windows.
func ModeFor(t TimeOfDay, so2, spectra SyncWindow) SyncMode {
	inSO2 := so2.Contains(t)
	inSpectra := spectra.Contains(t)
	switch {
	case inSO2 && inSpectra:
		return SyncBoth
	case inSO2:
		return SyncSO2Only
	case inSpectra:
		return SyncSpectraOnly
	default:
		return SyncNone
	}
}
