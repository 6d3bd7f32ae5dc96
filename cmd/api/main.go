package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HassanGilani11/namegenai/internal/billing"
	"github.com/HassanGilani11/namegenai/internal/config"
	"github.com/HassanGilani11/namegenai/internal/generation"
	"github.com/HassanGilani11/namegenai/internal/httpapi"
	"github.com/HassanGilani11/namegenai/internal/ledger"
	"github.com/HassanGilani11/namegenai/internal/mail"
	"github.com/HassanGilani11/namegenai/internal/obs"
	"github.com/HassanGilani11/namegenai/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()
	if cfg.AuthSecret == "" {
		log.Fatal("NAMEGEN_AUTH_SECRET is required")
	}

	// Postgres when a DSN is set, in-memory otherwise for local development.
	var (
		store   ledger.Store
		probe   httpapi.ReadyProbe
		pgStore *pg.Store
	)
	if cfg.DatabaseDSN != "" {
		var err error
		pgStore, err = pg.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Print("NAMEGEN_PG_DSN not set, using in-memory store")
		store = ledger.NewInMemory()
	}

	stripe := billing.NewClient(cfg.StripeAPIKey, cfg.StripeWebhookSecret)
	provider := generation.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)

	api := httpapi.New(httpapi.Options{
		Store:      store,
		Generator:  generation.NewService(store, provider, cfg.DefaultModel),
		Checkout:   billing.NewCheckoutFactory(store, stripe, cfg.AppURL),
		Webhooks:   billing.NewProcessor(store),
		Stripe:     stripe,
		Mailer:     mail.NewSender(cfg.ResendAPIKey),
		ReadyProbe: probe,
		Version:    version,
		AppURL:     cfg.AppURL,
		RateBurst:  cfg.RateBurst,
		RatePerSec: cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      75 * time.Second, // generation calls can be slow
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting namegen-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
