package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/jmhart/forecastcheck/internal/accuracy"
	"github.com/jmhart/forecastcheck/internal/api"
	"github.com/jmhart/forecastcheck/internal/ingest"
	"github.com/jmhart/forecastcheck/internal/jobs"
	"github.com/jmhart/forecastcheck/internal/models"
	"github.com/jmhart/forecastcheck/internal/store"
)

var defaultSites = []models.Site{
	{SiteID: "leucate", Name: "Leucate Plage", Latitude: 42.910, Longitude: 3.054, Elevation: 2, Active: true},
	{SiteID: "gruissan", Name: "Gruissan", Latitude: 43.108, Longitude: 3.088, Elevation: 1, Active: true},
	{SiteID: "port-la-nouvelle", Name: "Port-la-Nouvelle", Latitude: 43.021, Longitude: 3.041, Elevation: 2, Active: true},
	{SiteID: "narbonne-plage", Name: "Narbonne Plage", Latitude: 43.165, Longitude: 3.173, Elevation: 1, Active: true},
}

var defaultModels = []models.ForecastModel{
	{ModelID: "arome", Name: "AROME", Provider: "Météo-France", Active: true},
	{ModelID: "arpege", Name: "ARPEGE", Provider: "Météo-France", Active: true},
	{ModelID: "gfs", Name: "GFS", Provider: "NOAA", Active: true},
	{ModelID: "icon-eu", Name: "ICON-EU", Provider: "DWD", Active: true},
}

var defaultParameters = []models.Parameter{
	{ParameterID: "temperature", Name: "Temperature", Unit: "°C", OutlierThreshold: sql.NullFloat64{Float64: 15, Valid: true}},
	{ParameterID: "wind_speed", Name: "Wind speed", Unit: "km/h", OutlierThreshold: sql.NullFloat64{Float64: 50, Valid: true}},
	{ParameterID: "wind_direction", Name: "Wind direction", Unit: "°", Circular: true},
	{ParameterID: "precipitation", Name: "Precipitation", Unit: "mm"},
	{ParameterID: "humidity", Name: "Relative humidity", Unit: "%"},
	{ParameterID: "pressure", Name: "Sea-level pressure", Unit: "hPa"},
}

type appContext struct {
	store     *store.Store
	runner    *jobs.Runner
	retention *accuracy.Retention
}

type cli struct {
	DB string `help:"Path to SQLite database." default:"data/forecastcheck.db" env:"FORECASTCHECK_DB"`

	Serve    serveCmd    `cmd:"" help:"Run the API server and the scheduled pipeline."`
	Import   importCmd   `cmd:"" help:"Import NDJSON forecast and observation exports."`
	Run      runCmd      `cmd:"" help:"Run one pipeline pass and exit."`
	Backfill backfillCmd `cmd:"" help:"Recompute all summaries from the earliest deviation."`
	Purge    purgeCmd    `cmd:"" help:"Apply retention and exit."`
}

type serveCmd struct {
	Port       int    `help:"HTTP server port." default:"8080" env:"FORECASTCHECK_PORT"`
	Schedule   string `help:"Cron schedule for the pipeline." default:"*/15 * * * *"`
	NoSchedule bool   `help:"Serve the API only, without the scheduled pipeline."`
}

func (c *serveCmd) Run(app *appContext) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoSchedule {
		scheduler, err := jobs.NewScheduler(app.runner, c.Schedule)
		if err != nil {
			return err
		}
		go scheduler.Start(ctx)
	} else {
		log.Println("pipeline schedule disabled (--no-schedule)")
	}

	return api.NewServer(app.store, c.Port).Run(ctx)
}

type importCmd struct {
	Forecasts    string `help:"NDJSON file of forecast records." type:"existingfile"`
	Observations string `help:"NDJSON file of observation records." type:"existingfile"`
}

func (c *importCmd) Run(app *appContext) error {
	imp, err := ingest.NewImporter(app.store)
	if err != nil {
		return err
	}

	if c.Forecasts != "" {
		f, err := os.Open(c.Forecasts)
		if err != nil {
			return err
		}
		res, err := imp.ImportForecasts(f)
		f.Close()
		if err != nil {
			return err
		}
		log.Printf("import: forecasts read=%d imported=%d skipped=%d", res.Read, res.Imported, res.Skipped)
	}

	if c.Observations != "" {
		f, err := os.Open(c.Observations)
		if err != nil {
			return err
		}
		res, err := imp.ImportObservations(f)
		f.Close()
		if err != nil {
			return err
		}
		log.Printf("import: observations read=%d imported=%d skipped=%d", res.Read, res.Imported, res.Skipped)
	}
	return nil
}

type runCmd struct{}

func (c *runCmd) Run(app *appContext) error {
	return app.runner.RunAll(context.Background(), time.Now().UTC())
}

type backfillCmd struct{}

func (c *backfillCmd) Run(app *appContext) error {
	return app.runner.Backfill(context.Background(), time.Now().UTC())
}

type purgeCmd struct{}

func (c *purgeCmd) Run(app *appContext) error {
	purged, err := app.retention.Apply(time.Now().UTC())
	if err != nil {
		return err
	}
	log.Printf("purge: removed %d rows", purged)
	return nil
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("forecastcheck"),
		kong.Description("Forecast accuracy verification for coastal wind sites."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	db, err := sql.Open("sqlite", flags.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	if err := seed(st); err != nil {
		log.Fatalf("seed: %v", err)
	}

	agg := accuracy.New(st, accuracy.DefaultFinalization)
	ret := accuracy.NewRetention(st)
	app := &appContext{
		store:     st,
		runner:    jobs.NewRunner(st, agg, ret),
		retention: ret,
	}

	kctx.FatalIfErrorf(kctx.Run(app))
}

func seed(st *store.Store) error {
	for _, site := range defaultSites {
		if err := st.UpsertSite(site); err != nil {
			return err
		}
	}
	for _, m := range defaultModels {
		if err := st.UpsertModel(m); err != nil {
			return err
		}
	}
	for _, p := range defaultParameters {
		if err := st.UpsertParameter(p); err != nil {
			return err
		}
	}
	return nil
}
