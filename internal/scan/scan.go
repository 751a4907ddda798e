// Package scan reads a single scan's angle, SO2 and intensity series.
package scan

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/openso2/so2home/internal/models"
	"github.com/openso2/so2home/internal/quality"
)

// Scan holds parallel series, one entry per spectrum.
type Scan struct {
	Angle     []float64 `json:"angle"`
	SO2       []float64 `json:"so2"`
	Intensity []float64 `json:"intensity"`
}

func (s *Scan) Len() int { return len(s.Angle) }

func ReadFile(path string) (*Scan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Read parses a CSV with Angle, SO2 and Intensity columns in any order.
// Extra columns are ignored.
func Read(r io.Reader) (*Scan, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty scan file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	angle, so2, intensity := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "angle":
			angle = i
		case "so2", "so2_scd", "scd":
			so2 = i
		case "intensity", "int_av":
			intensity = i
		}
	}
	if angle < 0 || so2 < 0 || intensity < 0 {
		return nil, fmt.Errorf("scan file needs Angle, SO2 and Intensity columns, got %v", header)
	}

	s := &Scan{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		var vals [3]float64
		for j, col := range [3]int{angle, so2, intensity} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %q: %w", line, header[col], err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("line %d: column %q: non-finite value %q", line, header[col], rec[col])
			}
			vals[j] = v
		}
		s.Angle = append(s.Angle, vals[0])
		s.SO2 = append(s.SO2, vals[1])
		s.Intensity = append(s.Intensity, vals[2])
	}
	return s, nil
}

// Apply returns a copy of the scan with out-of-range SO2 values zeroed when
// filterBad is set; otherwise the copy is unchanged.
func (s *Scan) Apply(limits models.QualityLimits, filterBad bool) *Scan {
	out := &Scan{
		Angle:     append([]float64(nil), s.Angle...),
		Intensity: append([]float64(nil), s.Intensity...),
	}
	if filterBad {
		out.SO2 = quality.Filter(s.SO2, s.Intensity, limits)
	} else {
		out.SO2 = append([]float64(nil), s.SO2...)
	}
	return out
}
