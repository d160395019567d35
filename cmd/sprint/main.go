// Command sprint analyzes multi-camera sprint captures. It runs either as a
// one-shot analyzer over a run description file or as an HTTP API server
// backed by SQLite.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SusumuTakano/running-analysis-app-sub002/internal/api"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/config"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/db"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/report"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/sprint/pipeline"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/units"
	"github.com/SusumuTakano/running-analysis-app-sub002/internal/version"
)

var (
	dbFile        = flag.String("db", "sprint_data.db", "SQLite database file")
	listen        = flag.String("listen", ":8080", "Listen address for serve")
	speedUnits    = flag.String("units", units.MPS, "Display units for speeds: "+units.ValidUnitsString())
	configPath    = flag.String("config", "", "Optional tuning config JSON file")
	migrationsDir = flag.String("migrations", "db/migrations", "Migrations directory")
	plotsDir      = flag.String("plots", "", "Write SVG plots into this directory (analyze)")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: sprint [flags] <command>

Commands:
  analyze <run.json>   analyze a run description file and print the report
  serve                start the HTTP API server
  migrate <up|down|status>
                       manage the database schema

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println("sprint", version.String())
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid units %q, valid values: %s", *speedUnits, units.ValidUnitsString())
	}

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	switch args[0] {
	case "analyze":
		if len(args) < 2 {
			log.Fatal("Usage: sprint analyze <run.json>")
		}
		runAnalyze(tuning, args[1])

	case "serve":
		runServe(tuning)

	case "migrate":
		if len(args) < 2 {
			log.Fatal("Usage: sprint migrate <up|down|status>")
		}
		runMigrate(args[1])

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		usage()
		os.Exit(1)
	}
}

// runAnalyze executes the pipeline over a run description file and writes the
// report to stdout.
func runAnalyze(tuning *config.TuningConfig, path string) {
	run, err := loadRunFile(path)
	if err != nil {
		log.Fatalf("failed to load run: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pl := pipeline.New(tuning.PipelineConfig())
	outcome, err := pl.Execute(ctx, run)
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	if err := report.WriteText(os.Stdout, outcome.Run, outcome.Merged, outcome.Profile, *speedUnits); err != nil {
		log.Fatalf("failed to write report: %v", err)
	}
	if outcome.Profile == nil && outcome.ProfileAbsentReason != "" {
		log.Printf("profile not fitted: %s", outcome.ProfileAbsentReason)
	}

	if *plotsDir != "" {
		written, err := report.SavePlots(*plotsDir, outcome.Merged, outcome.Profile)
		if err != nil {
			log.Fatalf("failed to save plots: %v", err)
		}
		for _, f := range written {
			log.Printf("wrote %s", f)
		}
	}
}

// runServe starts the HTTP API with graceful shutdown on SIGINT/SIGTERM.
func runServe(tuning *config.TuningConfig) {
	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := api.NewServer(database, pipeline.New(tuning.PipelineConfig()), *speedUnits).ServeMux()
	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	go func() {
		log.Printf("sprint %s listening on %s", version.String(), *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}

// runMigrate manages the schema outside of serve.
func runMigrate(action string) {
	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("migration up failed: %v", err)
		}
		log.Println("migrations applied")

	case "down":
		if err := database.MigrateDown(*migrationsDir); err != nil {
			log.Fatalf("migration down failed: %v", err)
		}
		log.Println("rolled back one migration")

	case "status":
		version, dirty, err := database.MigrateVersion(*migrationsDir)
		if err != nil {
			log.Fatalf("failed to read migration status: %v", err)
		}
		log.Printf("schema version %d (dirty=%v)", version, dirty)

	default:
		log.Fatalf("unknown migrate action %q, valid actions: up, down, status", action)
	}
}
