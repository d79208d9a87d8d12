package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tablehouse/station-billing/internal/clock"
	"github.com/tablehouse/station-billing/internal/config"
	"github.com/tablehouse/station-billing/internal/ledger"
	"github.com/tablehouse/station-billing/internal/model"
	"github.com/tablehouse/station-billing/internal/station"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		StoreDriver:      "sqlite",
		SQLitePath:       filepath.Join(t.TempDir(), "main.db"),
		LedgerTimeout:    time.Second,
		StationCount:     5,
		UTCOffsetMinutes: 240,
		BaseHourlyRate:   16,
		FitPassAmount:    6,
		FitPassWindow:    30 * time.Minute,
		FlatRates:        map[string]decimal.Decimal{},
	}
}

func TestNewLedgerClient(t *testing.T) {
	cfg := testConfig(t)
	if _, ok := newLedgerClient(cfg).(ledger.Disabled); !ok {
		t.Fatal("expected disabled ledger without url")
	}
	cfg.LedgerURL = "https://ledger.example/exec"
	if _, ok := newLedgerClient(cfg).(*ledger.HTTPClient); !ok {
		t.Fatal("expected http ledger client")
	}
}

func TestBuildEngineRestoresAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC))

	backend, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	eng, rec, err := buildEngine(ctx, cfg, backend, clk)
	if err != nil {
		t.Fatalf("buildEngine: %v", err)
	}
	if got := len(eng.Stations()); got != 5 {
		t.Fatalf("expected 5 default stations, got %d", got)
	}
	if _, err := eng.Start("5", station.StartOptions{Mode: model.TimerStandard}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clk.Advance(10 * time.Minute)
	if _, err := eng.PayAndClear("5"); err != nil {
		t.Fatalf("PayAndClear: %v", err)
	}
	if _, err := eng.Start("2", station.StartOptions{Mode: model.TimerStandard}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.Wait()
	closeFn()

	backend, closeFn, err = openBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer closeFn()
	restored, _, err := buildEngine(ctx, cfg, backend, clk)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	st, err := restored.Station("2")
	if err != nil || !st.IsRunning {
		t.Fatalf("expected running station 2 after restart, got %+v err=%v", st, err)
	}
	if h := restored.History(); len(h) != 1 || h[0].StationID != "5" {
		t.Fatalf("expected restored history, got %+v", h)
	}
}
