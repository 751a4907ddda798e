package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openso2/so2home/internal/models"
)

const sample = `
results_dir: /data/Results
sync_interval: 45s
timezone: America/El_Salvador
volcano: {latitude: 13.85, longitude: -89.63}
plume: {speed: 2.5, altitude: 2500, direction: 270}
scan_pair: {enabled: true, time_limit: 5m}
windows:
  so2: {start: "07:00", stop: "18:00"}
  spectra: {start: "06:00", stop: "20:30"}
stations:
  - name: ELSA
    location: {latitude: 13.86, longitude: -89.62, altitude: 1800, azimuth: 120}
    credentials: {host: 10.0.0.5, username: scan, secret: from-file}
    sync: true
    filter_bad_spectra: true
  - name: anna-2
    location: {latitude: 13.80, longitude: -89.60, altitude: 1500, azimuth: 45}
    credentials: {host: 10.0.0.6, username: scan, protocol: ftp}
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "/data/Results", cfg.ResultsDir)
	assert.Equal(t, "Station", cfg.StationDir, "default kept")
	assert.Equal(t, 45*time.Second, cfg.SyncInterval)
	assert.Equal(t, 2.5, cfg.Plume.Speed)
	assert.Equal(t, 5*time.Minute, cfg.ScanPair.TimeLimit)
	assert.Equal(t, models.TimeOfDay{Hour: 20, Minute: 30}, cfg.Windows.Spectra.Stop)
	assert.Equal(t, 1000.0, cfg.Quality.MinIntensity, "default kept")

	require.Len(t, cfg.Stations, 2)
	assert.Equal(t, "ELSA", cfg.Stations[0].Name)
	assert.True(t, cfg.Stations[0].SyncEnabled)
	assert.Equal(t, "from-file", cfg.Stations[0].Credentials.Secret)
	assert.False(t, cfg.Stations[1].SyncEnabled)
	assert.Equal(t, "ftp", cfg.Stations[1].Credentials.Protocol)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse(strings.NewReader("sync_intervall: 10s\n"))
	assert.Error(t, err)
}

func TestLoad_SecretFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "so2home.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv("SO2HOME_SECRET_ANNA_2", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Stations[0].Credentials.Secret)
	assert.Equal(t, "from-env", cfg.Stations[1].Credentials.Secret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name: "midnight spanning window",
			mutate: func(c *Config) {
				c.Windows.SO2 = models.SyncWindow{Start: models.TimeOfDay{Hour: 22}, Stop: models.TimeOfDay{Hour: 2}}
			},
			want: "windows.so2",
		},
		{
			name: "duplicate station",
			mutate: func(c *Config) {
				st := models.StationInfo{Name: "ELSA", Credentials: models.Credentials{Host: "h"}}
				c.Stations = []models.StationInfo{st, st}
			},
			want: "duplicate name",
		},
		{
			name: "azimuth out of range",
			mutate: func(c *Config) {
				c.Stations = []models.StationInfo{{Name: "ELSA", Location: models.StationLocation{Azimuth: 360}, Credentials: models.Credentials{Host: "h"}}}
			},
			want: "azimuth",
		},
		{
			name:   "missing host",
			mutate: func(c *Config) { c.Stations = []models.StationInfo{{Name: "ELSA"}} },
			want:   "credentials.host",
		},
		{
			name:   "bad timezone",
			mutate: func(c *Config) { c.Timezone = "Mars/Olympus" },
			want:   "timezone",
		},
		{
			name:   "zero interval",
			mutate: func(c *Config) { c.SyncInterval = 0 },
			want:   "sync_interval",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestWarnings(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Warnings())

	cfg.Quality.MinSCD, cfg.Quality.MaxSCD = 1, 0
	assert.Len(t, cfg.Warnings(), 1)
}

func TestSettingsAndLive(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, "America/El_Salvador", s.Location.String())
	assert.Equal(t, 270.0, s.PlumeDirection)
	assert.True(t, s.ScanPairEnabled)

	live := NewLive(s)
	snap := live.Load()
	s.PlumeSpeed = 99
	live.Store(s)
	assert.Equal(t, 2.5, snap.PlumeSpeed, "earlier snapshot is unaffected")
	assert.Equal(t, 99.0, live.Load().PlumeSpeed)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "ANNA_2", envName("anna-2"))
	assert.Equal(t, "ELSA", envName("ELSA"))
}
