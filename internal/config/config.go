// Package config loads the daemon's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openso2/so2home/internal/models"
)

// SecretEnvPrefix is prepended to an upper-cased station name to form the
// environment variable that overrides that station's secret.
const SecretEnvPrefix = "SO2HOME_SECRET_"

type Config struct {
	ResultsDir   string        `yaml:"results_dir"`
	StationDir   string        `yaml:"station_dir"`
	Database     string        `yaml:"database"`
	Listen       string        `yaml:"listen"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	Timezone     string        `yaml:"timezone"`

	Volcano  models.Coordinate    `yaml:"volcano"`
	Plume    Plume                `yaml:"plume"`
	ScanPair ScanPair             `yaml:"scan_pair"`
	Quality  models.QualityLimits `yaml:"quality"`
	Windows  Windows              `yaml:"windows"`
	Remote   Remote               `yaml:"remote"`

	Stations []models.StationInfo `yaml:"stations"`
}

type Plume struct {
	Speed     float64 `yaml:"speed"`     // m/s
	Altitude  float64 `yaml:"altitude"`  // m
	Direction float64 `yaml:"direction"` // degrees clockwise from north
}

type ScanPair struct {
	Enabled   bool          `yaml:"enabled"`
	TimeLimit time.Duration `yaml:"time_limit"`
}

type Windows struct {
	SO2     models.SyncWindow `yaml:"so2"`
	Spectra models.SyncWindow `yaml:"spectra"`
}

type Remote struct {
	ResultsRoot    string        `yaml:"results_root"`
	StatusFile     string        `yaml:"status_file"`
	SO2Dir         string        `yaml:"so2_dir"`
	SpectraDir     string        `yaml:"spectra_dir"`
	Timeout        time.Duration `yaml:"timeout"`
	KnownHostsFile string        `yaml:"known_hosts"`
	FetchRetries   uint64        `yaml:"fetch_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		ResultsDir:   "Results",
		StationDir:   "Station",
		Database:     "so2home.db",
		Listen:       ":8080",
		SyncInterval: 30 * time.Second,
		Timezone:     "UTC",
		Plume: Plume{
			Speed:     1,
			Altitude:  3000,
			Direction: 0,
		},
		ScanPair: ScanPair{TimeLimit: 10 * time.Minute},
		Quality: models.QualityLimits{
			MinSCD:       -1e17,
			MaxSCD:       1e20,
			MinIntensity: 1000,
			MaxIntensity: 60000,
		},
		Windows: Windows{
			SO2:     models.SyncWindow{Start: models.TimeOfDay{Hour: 7}, Stop: models.TimeOfDay{Hour: 18}},
			Spectra: models.SyncWindow{Start: models.TimeOfDay{}, Stop: models.TimeOfDay{Hour: 23, Minute: 59}},
		},
		Remote: Remote{
			ResultsRoot:  "/home/scan/OpenSO2/Results",
			StatusFile:   "/home/scan/OpenSO2/Station/status.txt",
			SO2Dir:       "so2",
			SpectraDir:   "spectra",
			Timeout:      30 * time.Second,
			FetchRetries: 2,
			RetryDelay:   time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies secret
// overrides from the environment and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applySecretEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecretEnv(lookup func(string) (string, bool)) {
	for i := range c.Stations {
		key := SecretEnvPrefix + envName(c.Stations[i].Name)
		if v, ok := lookup(key); ok {
			c.Stations[i].Credentials.Secret = v
		}
	}
}

func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync_interval must be positive"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if c.Windows.SO2.SpansMidnight() {
		errs = append(errs, fmt.Errorf("windows.so2: start %s is after stop %s", c.Windows.SO2.Start, c.Windows.SO2.Stop))
	}
	if c.Windows.Spectra.SpansMidnight() {
		errs = append(errs, fmt.Errorf("windows.spectra: start %s is after stop %s", c.Windows.Spectra.Start, c.Windows.Spectra.Stop))
	}

	seen := make(map[string]bool, len(c.Stations))
	for i, st := range c.Stations {
		switch {
		case st.Name == "":
			errs = append(errs, fmt.Errorf("stations[%d]: name is required", i))
		case seen[st.Name]:
			errs = append(errs, fmt.Errorf("stations[%d]: duplicate name %q", i, st.Name))
		}
		seen[st.Name] = true

		if st.Location.Azimuth < 0 || st.Location.Azimuth >= 360 {
			errs = append(errs, fmt.Errorf("station %s: azimuth %v outside [0, 360)", st.Name, st.Location.Azimuth))
		}
		if st.Credentials.Host == "" {
			errs = append(errs, fmt.Errorf("station %s: credentials.host is required", st.Name))
		}
	}

	return errors.Join(errs...)
}

// Warnings lists settings that are accepted but probably unintended.
func (c *Config) Warnings() []string {
	var w []string
	if c.Quality.MinSCD > c.Quality.MaxSCD {
		w = append(w, "quality: min_scd is greater than max_scd, every value will be masked")
	}
	if c.Quality.MinIntensity > c.Quality.MaxIntensity {
		w = append(w, "quality: min_intensity is greater than max_intensity, every value will be masked")
	}
	return w
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Settings is the part of the configuration a sync pass snapshots.
type Settings struct {
	Location          *time.Location
	SO2Window         models.SyncWindow
	SpectraWindow     models.SyncWindow
	Volcano           models.Coordinate
	PlumeSpeed        float64
	PlumeAltitude     float64
	PlumeDirection    float64
	ScanPairEnabled   bool
	ScanPairTimeLimit time.Duration
	Quality           models.QualityLimits
}

func (c *Config) Settings() Settings {
	return Settings{
		Location:          c.Location(),
		SO2Window:         c.Windows.SO2,
		SpectraWindow:     c.Windows.Spectra,
		Volcano:           c.Volcano,
		PlumeSpeed:        c.Plume.Speed,
		PlumeAltitude:     c.Plume.Altitude,
		PlumeDirection:    c.Plume.Direction,
		ScanPairEnabled:   c.ScanPair.Enabled,
		ScanPairTimeLimit: c.ScanPair.TimeLimit,
		Quality:           c.Quality,
	}
}

// Live holds the current Settings; readers get a consistent copy.
type Live struct {
	p atomic.Pointer[Settings]
}

func NewLive(s Settings) *Live {
	l := &Live{}
	l.Store(s)
	return l
}

func (l *Live) Load() Settings { return *l.p.Load() }

func (l *Live) Store(s Settings) { l.p.Store(&s) }
