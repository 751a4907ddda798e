package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"golang.org/x/sync/errgroup"

	"github.com/openso2/so2home/internal/api"
	"github.com/openso2/so2home/internal/geodesy"
	"github.com/openso2/so2home/internal/ingest"
	"github.com/openso2/so2home/internal/log"
	"github.com/openso2/so2home/internal/store"
)

type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	Config  string                   `short:"c" default:"so2home.yaml" env:"SO2HOME_CONFIG" help:"Path to the YAML config file."`
	Debug   bool                     `env:"SO2HOME_DEBUG" help:"Development logging."`
}

type CLI struct {
	Globals

	Run    RunCmd    `cmd:"" default:"1" help:"Sync stations on a timer and serve the HTTP API."`
	Once   OnceCmd   `cmd:"" help:"Run a single sync pass and exit."`
	Status StatusCmd `cmd:"" help:"Print the last known station statuses and recent sync health."`
	Plume  PlumeCmd  `cmd:"" help:"Print plume and scan geometry for the configured stations."`
}

type RunCmd struct {
	NoServe bool `help:"Disable the HTTP API."`
}

func (c *RunCmd) Run(g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := ingest.NewRunner(a.orch, a.recorder, a.cfg.SyncInterval, log.Named("runner"))
	runner.OnStop(a.Close)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return runner.Run(ctx) })
	if !c.NoServe {
		server := api.NewServer(api.Options{
			Addr:         a.cfg.Listen,
			Stations:     a.stations,
			Store:        a.store,
			Events:       a.recorder,
			Orchestrator: a.orch,
			Settings:     a.settings,
			ResultsDir:   a.cfg.ResultsDir,
			Logger:       log.Named("api"),
		})
		group.Go(func() error { return server.Run(ctx) })
	} else {
		log.Infow("http api disabled (--no-serve)")
	}
	return group.Wait()
}

type OnceCmd struct{}

func (c *OnceCmd) Run(g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := ingest.NewRunner(a.orch, a.recorder, a.cfg.SyncInterval, log.Named("runner"))
	runner.OnStop(a.Close)
	if !runner.RunOnce(ctx) {
		log.Infow("no pass ran: outside both sync windows")
	}
	return nil
}

type StatusCmd struct {
	Days int `default:"7" help:"Days of sync history to summarise."`
}

func (c *StatusCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database, log.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	statuses, err := st.LatestStatuses()
	if err != nil {
		return err
	}
	health, err := st.GetSyncHealth(c.Days)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATION\tSTATUS TIME\tSTATUS\tPULLED")
	for _, info := range cfg.Stations {
		s, ok := statuses[info.Name]
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\t-\n", info.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, s.Timestamp, s.Text, s.PulledAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DATE\tSTATION\tRUNS\tFAILED\tFILES")
	for _, h := range health {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", h.Date, h.Station, h.TotalRuns, h.FailedRuns, h.TotalFiles)
	}
	return w.Flush()
}

type PlumeCmd struct {
	FanAngle float64       `default:"60" help:"Half-width of the scan fan in degrees from zenith."`
	Elapsed  time.Duration `default:"10m" help:"Travel time for the plume position estimate."`
}

func (c *PlumeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	s := cfg.Settings()

	arrow := geodesy.PlumeArrow(s.Volcano, s.PlumeDirection, geodesy.DefaultArrowLength)
	travel := geodesy.PlumeTravel(s.Volcano, s.PlumeSpeed, s.PlumeDirection, c.Elapsed.Seconds())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "volcano\t%.5f, %.5f\n", s.Volcano.Latitude, s.Volcano.Longitude)
	fmt.Fprintf(w, "plume arrow tip\t%.5f, %.5f\n", arrow[1].Latitude, arrow[1].Longitude)
	fmt.Fprintf(w, "plume after %s\t%.5f, %.5f\n", c.Elapsed, travel.Latitude, travel.Longitude)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STATION\tDISTANCE (m)\tBEARING (deg)\tFAN")
	for _, info := range cfg.Stations {
		dist, bearing := geodesy.DistanceAndBearing(info.Location.Coordinate(), s.Volcano)
		fan := geodesy.ScanFan(info.Location, s.PlumeAltitude, c.FanAngle)
		fanText := "plume below station"
		if len(fan) == 2 {
			fanText = fmt.Sprintf("%.5f,%.5f .. %.5f,%.5f", fan[0].Latitude, fan[0].Longitude, fan[1].Latitude, fan[1].Longitude)
		}
		fmt.Fprintf(w, "%s\t%.0f\t%.1f\t%s\n", info.Name, dist, geodesy.Degrees(bearing), fanText)
	}
	return w.Flush()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("so2home"),
		kong.Description("Syncs OpenSO2 scanning stations to a home base."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)

	if err := log.Init(cli.Debug); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := ctx.Run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("command failed", "command", ctx.Command(), "error", err)
		log.Sync()
		os.Exit(1)
	}
}
