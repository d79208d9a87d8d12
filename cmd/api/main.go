package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tablehouse/station-billing/internal/api"
	"github.com/tablehouse/station-billing/internal/clock"
	"github.com/tablehouse/station-billing/internal/config"
	"github.com/tablehouse/station-billing/internal/engine"
	"github.com/tablehouse/station-billing/internal/jobs"
	"github.com/tablehouse/station-billing/internal/ledger"
	"github.com/tablehouse/station-billing/internal/pricing"
	"github.com/tablehouse/station-billing/internal/recorder"
	"github.com/tablehouse/station-billing/internal/snapshot"
	"github.com/tablehouse/station-billing/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeBackend()

	eng, rec, err := buildEngine(ctx, cfg, backend, clock.System{})
	if err != nil {
		log.Fatalf("load state: %v", err)
	}
	jobs.NewRunner(eng, cfg.TickInterval, cfg.PruneInterval).Start(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewRouter(eng),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := eng.Flush(shutdownCtx); err != nil {
			log.Printf("event=shutdown_flush_failed err=%v", err)
		}
		rec.Wait()
	}()

	log.Printf("station-billing listening on %s store=%s stations=%d", cfg.ListenAddr, cfg.StoreDriver, cfg.StationCount)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
	<-drained
	log.Printf("station-billing stopped")
}

func openBackend(ctx context.Context, cfg config.Config) (snapshot.Backend, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping db: %w", err)
		}
		st := store.New(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	default:
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
}

func newLedgerClient(cfg config.Config) ledger.Client {
	if cfg.LedgerURL == "" {
		log.Printf("event=ledger_disabled reason=STATION_LEDGER_URL_unset")
		return ledger.Disabled{}
	}
	return ledger.NewHTTPClient(cfg.LedgerURL, cfg.LedgerTimeout)
}

// buildEngine restores persisted state and wires the registry.
func buildEngine(ctx context.Context, cfg config.Config, backend snapshot.Backend, clk clock.Clock) (*engine.Engine, *recorder.Recorder, error) {
	loc := pricing.FixedZone(cfg.UTCOffsetMinutes)
	repo := snapshot.NewRepository(backend, cfg.StationCount)

	stations, err := repo.LoadStations(ctx)
	if err != nil {
		return nil, nil, err
	}
	history, err := repo.LoadHistory(ctx, clk.Now(), loc)
	if err != nil {
		return nil, nil, err
	}
	settings, err := repo.LoadSettings(ctx)
	if err != nil {
		return nil, nil, err
	}

	rec := recorder.New(newLedgerClient(cfg), clk, cfg.LedgerTimeout, history)
	eng := engine.New(stations, settings, rec, repo, engine.Options{
		Clock:          clk,
		Location:       loc,
		BaseHourlyRate: cfg.BaseRate(),
		FitPass:        pricing.FlatRate{Amount: cfg.FitPassRate(), Window: cfg.FitPassWindow},
		FlatRates:      cfg.FlatRates,
	})
	log.Printf("event=state_restored stations=%d history=%d zone=%s", len(stations), len(history), loc)
	return eng, rec, nil
}
