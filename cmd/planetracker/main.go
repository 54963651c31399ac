package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/adsb"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/api"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/config"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/geocode"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/httputil"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/monitoring"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/notify"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/store"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/timeutil"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/tracker"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	configPath = flag.String("config", "tracker.json", "Path to the tracker config file")
	dbPath     = flag.String("db", "tracker.db", "Path to the sqlite database")
	listen     = flag.String("listen", ":8080", "Status API listen address")
	once       = flag.Bool("once", false, "Run a single poll and exit (cron mode)")
	interval   = flag.Duration("interval", 0, "Override the configured poll interval")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *interval > 0 {
		cfg.PollIntervalSeconds = int(interval.Seconds())
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	metrics, err := monitoring.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	clock := timeutil.RealClock{}
	httpClient := httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})

	feed := adsb.NewClient(httpClient, clock, cfg.RetryPolicy())
	if cfg.PrimaryFeedURL != "" {
		feed.Primary = cfg.PrimaryFeedURL
	}
	if cfg.FailoverFeedURL != "" {
		feed.Failover = cfg.FailoverFeedURL
	}

	geocoder := geocode.NewNominatim(httpClient)
	if cfg.GeocoderBaseURL != "" {
		geocoder.BaseURL = cfg.GeocoderBaseURL
	}

	bluesky := notify.NewBluesky(httpClient, clock, cfg.Bluesky.Handle, cfg.Bluesky.AppPassword)
	bluesky.TestMode = cfg.Bluesky.TestMode
	email := notify.NewEmail(cfg.Email.SMTPAddr, cfg.Email.From, cfg.Email.Recipient,
		cfg.Email.Username, cfg.Email.Password)
	dispatcher := notify.NewDispatcher(db, metrics, bluesky, email)

	t := tracker.New(cfg, db, feed, geocoder, dispatcher, clock, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := t.RunOnce(ctx); err != nil {
			log.Fatalf("Poll failed: %v", err)
		}
		return
	}

	var wg sync.WaitGroup

	// First poll runs immediately; the ticker starts once it completes.
	t.Run(ctx)
	defer t.Stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv := api.NewServer(db, metrics)
		log.Printf("status API listening on %s", *listen)
		if err := srv.Serve(ctx, *listen); err != nil && err != http.ErrServerClosed {
			log.Printf("status API terminated: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")
	wg.Wait()
}
