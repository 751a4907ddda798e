// Package flux reads the per-station flux output and summarises it.
package flux

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/openso2/so2home/internal/models"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
}

// Path is where a station's flux file for date lives under the results root.
func Path(resultsDir, date, station string) string {
	return filepath.Join(resultsDir, date, station, fmt.Sprintf("%s_%s_flux.csv", date, station))
}

// Series is a parsed flux file. Rows that could not be parsed are counted
// in Skipped.
type Series struct {
	Rows    []models.FluxRow
	Skipped int
}

func ReadFile(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a CSV with Time, Flux, Flux Err, Plume Altitude and Plume
// Direction columns. Header names are matched ignoring case and units.
func Read(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Series{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols, err := columns(header)
	if err != nil {
		return nil, err
	}

	s := &Series{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.Skipped++
				continue
			}
			return nil, err
		}
		row, ok := parseRow(rec, cols)
		if !ok {
			s.Skipped++
			continue
		}
		s.Rows = append(s.Rows, row)
	}
	return s, nil
}

type columnIndex struct {
	time, flux, fluxErr, alt, dir int
}

func columns(header []string) (columnIndex, error) {
	idx := columnIndex{-1, -1, -1, -1, -1}
	for i, h := range header {
		switch normalise(h) {
		case "time":
			idx.time = i
		case "flux":
			idx.flux = i
		case "flux err", "flux error":
			idx.fluxErr = i
		case "plume altitude":
			idx.alt = i
		case "plume direction":
			idx.dir = i
		}
	}
	if idx.time < 0 || idx.flux < 0 {
		return idx, fmt.Errorf("flux file needs Time and Flux columns, got %v", header)
	}
	return idx, nil
}

// normalise lower-cases h and drops a trailing unit such as "(kg/s)".
func normalise(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.Index(h, "("); i >= 0 {
		h = h[:i]
	}
	return strings.Join(strings.Fields(h), " ")
}

func parseRow(rec []string, idx columnIndex) (models.FluxRow, bool) {
	var row models.FluxRow
	field := func(i int) (string, bool) {
		if i < 0 || i >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(rec[i]), true
	}

	ts, ok := field(idx.time)
	if !ok {
		return row, false
	}
	t, ok := parseTime(ts)
	if !ok {
		return row, false
	}
	row.Time = t

	v, ok := field(idx.flux)
	if !ok {
		return row, false
	}
	flux, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(flux) || math.IsInf(flux, 0) {
		return row, false
	}
	row.Flux = flux

	// optional columns fall back to NaN
	row.FluxErr = optionalFloat(field(idx.fluxErr))
	row.PlumeAltitude = optionalFloat(field(idx.alt))
	row.PlumeDirection = optionalFloat(field(idx.dir))
	return row, true
}

func optionalFloat(s string, ok bool) float64 {
	if !ok || s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Summary describes a day of flux measurements.
type Summary struct {
	Count        int       `json:"count"`
	Mean         float64   `json:"mean"`
	StdDev       float64   `json:"std_dev"`
	WeightedMean float64   `json:"weighted_mean"`
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`
	Last         float64   `json:"last"`
	LastTime     time.Time `json:"last_time"`
	// TrendPerHour is the least-squares slope of flux against time in kg/s per hour.
	TrendPerHour float64 `json:"trend_per_hour"`
}

// Summarize computes statistics over rows. The weighted mean uses inverse
// variance weights and falls back to the plain mean when no row has a
// usable error.
func Summarize(rows []models.FluxRow) Summary {
	var s Summary
	if len(rows) == 0 {
		return s
	}

	values := make([]float64, len(rows))
	hours := make([]float64, len(rows))
	weights := make([]float64, len(rows))
	haveWeights := false
	t0 := rows[0].Time

	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	for i, r := range rows {
		values[i] = r.Flux
		hours[i] = r.Time.Sub(t0).Hours()
		if r.FluxErr > 0 && !math.IsNaN(r.FluxErr) {
			weights[i] = 1 / (r.FluxErr * r.FluxErr)
			haveWeights = true
		}
		s.Min = math.Min(s.Min, r.Flux)
		s.Max = math.Max(s.Max, r.Flux)
		if !r.Time.Before(s.LastTime) {
			s.LastTime = r.Time
			s.Last = r.Flux
		}
	}

	s.Count = len(rows)
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	if len(rows) == 1 {
		s.StdDev = 0
	}
	s.WeightedMean = s.Mean
	if haveWeights {
		s.WeightedMean = stat.Mean(values, weights)
	}
	if len(rows) > 1 && stat.Variance(hours, nil) > 0 {
		_, s.TrendPerHour = stat.LinearRegression(hours, values, nil, false)
	}
	return s
}
