package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/openso2/so2home/internal/config"
	"github.com/openso2/so2home/internal/ingest"
	"github.com/openso2/so2home/internal/log"
	"github.com/openso2/so2home/internal/station"
	"github.com/openso2/so2home/internal/store"
)

// app holds the components shared by the run and once commands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	stations *station.Registry
	settings *config.Live
	orch     *ingest.Orchestrator
	recorder *ingest.EventRecorder
	logger   *zap.SugaredLogger
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		log.Warnw("config warning", "warning", w)
	}
	return cfg, nil
}

func newApp(g *Globals) (*app, error) {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	dialer := station.NewProtocolDialer(cfg.Remote.Timeout, cfg.Remote.KnownHostsFile)
	reg := station.NewRegistry(dialer, station.Options{
		RemoteRoot:   cfg.Remote.ResultsRoot,
		StatusFile:   cfg.Remote.StatusFile,
		LocalRoot:    cfg.ResultsDir,
		StatusDir:    cfg.StationDir,
		FetchRetries: cfg.Remote.FetchRetries,
		RetryDelay:   cfg.Remote.RetryDelay,
		Logger:       log.Named("station"),
	})

	if err := syncStations(st, reg, cfg); err != nil {
		st.Close()
		return nil, err
	}

	settings := config.NewLive(cfg.Settings())
	orch := ingest.NewOrchestrator(reg, settings, ingest.Layout{
		ResultsDir: cfg.ResultsDir,
		RemoteRoot: cfg.Remote.ResultsRoot,
		SO2Dir:     cfg.Remote.SO2Dir,
		SpectraDir: cfg.Remote.SpectraDir,
	}, log.Named("sync"))

	return &app{
		cfg:      cfg,
		store:    st,
		stations: reg,
		settings: settings,
		orch:     orch,
		recorder: ingest.NewEventRecorder(st, log.Named("events")),
		logger:   log.GetSugaredLogger(),
	}, nil
}

// syncStations registers the configured stations and makes the store's
// station table match the config.
func syncStations(st *store.Store, reg *station.Registry, cfg *config.Config) error {
	configured := make(map[string]bool, len(cfg.Stations))
	for _, info := range cfg.Stations {
		if _, err := reg.Add(info); err != nil {
			return err
		}
		if err := st.UpsertStation(info); err != nil {
			return fmt.Errorf("upsert station %s: %w", info.Name, err)
		}
		configured[info.Name] = true
	}

	stored, err := st.ListStations()
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}
	for _, info := range stored {
		if configured[info.Name] {
			continue
		}
		log.Infow("removing station no longer configured", "station", info.Name)
		if err := st.DeleteStation(info.Name); err != nil {
			return fmt.Errorf("delete station %s: %w", info.Name, err)
		}
	}
	log.Infow("stations loaded", "count", reg.Len())
	return nil
}

func (a *app) Close() {
	a.stations.CloseAll()
	if err := a.store.Close(); err != nil {
		a.logger.Warnw("close store", "error", err)
	}
}
