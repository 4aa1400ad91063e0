// fleetd is the operational entrypoint: schema migration, AIS streaming,
// watchlist fetching, pipeline runs, and evidence export.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radiance-data/radiancefleet/internal/config"
	"github.com/radiance-data/radiancefleet/internal/db"
	"github.com/radiance-data/radiancefleet/internal/evidence"
	"github.com/radiance-data/radiancefleet/internal/ingest"
	"github.com/radiance-data/radiancefleet/internal/pipeline"
	"github.com/radiance-data/radiancefleet/internal/report"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "stream":
		err = runStream(ctx, os.Args[2:])
	case "fetch-watchlists":
		err = runFetchWatchlists(ctx, os.Args[2:])
	case "pipeline":
		err = runPipeline(ctx, os.Args[2:])
	case "evidence":
		err = runEvidence(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("fleetd %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fleetd <command> [flags]

commands:
  migrate           apply pending schema migrations
  stream            run one AIS websocket streaming session
  fetch-watchlists  download and load the sanctions watchlists
  pipeline          run the detection pipeline over a date window
  evidence          export an evidence card for a reviewed gap event`)
}

func openStore(path string) (*db.Store, error) {
	store, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return store, nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "fleet.db", "path to sqlite db")
	fs.Parse(args)

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.MigrateUp(); err != nil {
		return err
	}
	log.Printf("migrations applied")
	return nil
}

func runStream(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	dbPath := fs.String("db", "fleet.db", "path to sqlite db")
	url := fs.String("url", "wss://stream.aisstream.io/v0/stream", "AIS stream endpoint")
	apiKey := fs.String("key", os.Getenv("AIS_STREAM_API_KEY"), "stream API key")
	duration := fs.Duration("duration", 0, "session cap (0 = unlimited)")
	batchInterval := fs.Duration("batch-interval", 30*time.Second, "batch flush period")
	metricsAddr := fs.String("metrics", "", "address to serve /metrics on (empty = off)")
	fs.Parse(args)

	if *apiKey == "" {
		return fmt.Errorf("an API key is required (-key or AIS_STREAM_API_KEY)")
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	streamer := ingest.NewStreamer(ingest.NewIngestor(store))
	stats, err := streamer.StreamFeed(ctx, ingest.StreamConfig{
		URL:           *url,
		APIKey:        *apiKey,
		Duration:      *duration,
		BatchInterval: *batchInterval,
	})
	if err != nil {
		return err
	}
	log.Printf("session finished: received=%d stored=%d duplicates=%d errors=%d",
		stats.MessagesReceived, stats.Stored, stats.DuplicatesSkipped, stats.Errors)
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server: %v", err)
	}
}

func runFetchWatchlists(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch-watchlists", flag.ExitOnError)
	dbPath := fs.String("db", "fleet.db", "path to sqlite db")
	dir := fs.String("dir", "watchlists", "download directory")
	ofac := fs.String("ofac", "", "OFAC SDN CSV url")
	openSanctions := fs.String("opensanctions", "", "OpenSanctions JSON url")
	fleetLeaks := fs.String("fleetleaks", "", "FleetLeaks JSON url")
	gur := fs.String("gur", "", "GUR CSV url")
	fs.Parse(args)

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := os.MkdirAll(*dir, 0755); err != nil {
		return err
	}

	var feeds []ingest.Feed
	for _, f := range ingest.DefaultFeeds(*ofac, *openSanctions, *fleetLeaks, *gur) {
		if f.URL != "" {
			feeds = append(feeds, f)
		}
	}
	if len(feeds) == 0 {
		return fmt.Errorf("no feed urls given")
	}

	return ingest.NewDownloader(store, *dir).FetchAll(ctx, feeds)
}

func runPipeline(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pipeline", flag.ExitOnError)
	dbPath := fs.String("db", "fleet.db", "path to sqlite db")
	configDir := fs.String("config", "config", "configuration directory")
	fromStr := fs.String("from", "", "window start (RFC3339 or YYYY-MM-DD)")
	toStr := fs.String("to", "", "window end (RFC3339 or YYYY-MM-DD)")
	reportPath := fs.String("report", "", "write an HTML run summary to this path")
	fs.Parse(args)

	from, err := parseDay(*fromStr)
	if err != nil {
		return fmt.Errorf("invalid -from: %w", err)
	}
	to, err := parseDay(*toStr)
	if err != nil {
		return fmt.Errorf("invalid -to: %w", err)
	}
	if !from.Before(to) {
		return fmt.Errorf("-from must precede -to")
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		return err
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runner := pipeline.New(store, cfg)
	sum, runErr := runner.Run(ctx, db.DateRange{From: from, To: to})
	if sum != nil {
		out, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		if *reportPath != "" {
			run, err := store.PipelineRunByID(ctx, sum.RunID)
			if err != nil {
				return err
			}
			if err := report.WriteRunSummary(run, sum, *reportPath); err != nil {
				return err
			}
			log.Printf("report written to %s", *reportPath)
		}
	}
	return runErr
}

func runEvidence(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evidence", flag.ExitOnError)
	dbPath := fs.String("db", "fleet.db", "path to sqlite db")
	gapID := fs.Int64("gap", 0, "gap event id")
	notes := fs.String("notes", "", "analyst notes for the card")
	out := fs.String("out", "", "output file (default stdout)")
	fs.Parse(args)

	if *gapID == 0 {
		return fmt.Errorf("-gap is required")
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	card, err := evidence.Export(ctx, store, *gapID, *notes, time.Now())
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return err
	}

	if *out == "" {
		fmt.Println(string(raw))
		return nil
	}
	return os.WriteFile(*out, raw, 0644)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing value")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
