// Package engine is the station registry. It owns the ordered station
// collection and applies every intent and tick under one lock, so callers
// always observe the effects of earlier intents in order.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tablehouse/station-billing/internal/clock"
	"github.com/tablehouse/station-billing/internal/ledger"
	"github.com/tablehouse/station-billing/internal/metrics"
	"github.com/tablehouse/station-billing/internal/model"
	"github.com/tablehouse/station-billing/internal/pricing"
	"github.com/tablehouse/station-billing/internal/recorder"
	"github.com/tablehouse/station-billing/internal/station"
)

var (
	ErrStationNotFound    = errors.New("station not found")
	ErrTransitionRejected = errors.New("transition rejected")
	ErrInvalidSettings    = errors.New("invalid pricing settings")
)

// Repository persists engine state. snapshot.Repository implements it.
type Repository interface {
	SaveStations(ctx context.Context, stations []model.Station) error
	SaveHistory(ctx context.Context, records []model.SessionRecord) error
	SavePaid(ctx context.Context, stations []model.Station, records []model.SessionRecord) error
	SaveSettings(ctx context.Context, s pricing.Settings) error
}

type Options struct {
	Clock          clock.Clock
	Location       *time.Location
	BaseHourlyRate decimal.Decimal
	FitPass        pricing.FlatRate
	FlatRates      map[string]decimal.Decimal
	PersistTimeout time.Duration
}

type Engine struct {
	mu sync.Mutex

	clock          clock.Clock
	loc            *time.Location
	base           decimal.Decimal
	fitPass        pricing.FlatRate
	flatRates      map[string]decimal.Decimal
	persistTimeout time.Duration

	settings pricing.Settings
	stations []model.Station
	index    map[string]int

	recorder *recorder.Recorder
	repo     Repository
}

func New(stations []model.Station, settings pricing.Settings, rec *recorder.Recorder, repo Repository, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.FitPass.Window <= 0 {
		opts.FitPass = pricing.DefaultFitPass()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if !settings.Valid() {
		settings = pricing.DefaultSettings()
	}

	e := &Engine{
		clock:          opts.Clock,
		loc:            opts.Location,
		base:           opts.BaseHourlyRate,
		fitPass:        opts.FitPass,
		flatRates:      opts.FlatRates,
		persistTimeout: opts.PersistTimeout,
		settings:       settings,
		recorder:       rec,
		repo:           repo,
		index:          make(map[string]int, len(stations)),
	}
	for _, st := range stations {
		if _, dup := e.index[st.ID]; dup {
			continue
		}
		e.index[st.ID] = len(e.stations)
		e.stations = append(e.stations, st.Clone())
	}
	return e
}

func (e *Engine) Stations() []model.Station {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) Station(id string) (model.Station, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return model.Station{}, ErrStationNotFound
	}
	return e.stations[i].Clone(), nil
}

func (e *Engine) Views() []model.StationView {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	out := make([]model.StationView, 0, len(e.stations))
	for _, st := range e.stations {
		out = append(out, e.viewLocked(st, now))
	}
	return out
}

func (e *Engine) View(id string) (model.StationView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return model.StationView{}, ErrStationNotFound
	}
	return e.viewLocked(e.stations[i], e.clock.Now()), nil
}

func (e *Engine) Start(id string, opts station.StartOptions) (model.StationView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	i, ok := e.index[id]
	if !ok {
		return e.notFound("start", id)
	}
	next, applied := station.Start(e.stations[i], now, opts)
	if !applied {
		return e.rejected("start", e.stations[i], now)
	}
	e.stations[i] = next
	e.countIntent("start", "ok")
	log.Printf("event=station_started station_id=%s mode=%s fit_pass=%t elapsed_s=%.0f", id, next.TimerMode, next.FitPass, next.ElapsedSeconds)
	e.persistStationsLocked()
	return e.viewLocked(next, now), nil
}

func (e *Engine) Stop(id string) (model.StationView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	i, ok := e.index[id]
	if !ok {
		return e.notFound("stop", id)
	}
	next, applied := station.Stop(e.stations[i], now)
	if !applied {
		return e.rejected("stop", e.stations[i], now)
	}
	e.stations[i] = next
	e.countIntent("stop", "ok")
	log.Printf("event=station_stopped station_id=%s elapsed_s=%.0f", id, next.ElapsedSeconds)
	e.persistStationsLocked()
	return e.viewLocked(next, now), nil
}

// PayAndClear bills the station's session, appends it to history and resets
// the station to its idle baseline.
func (e *Engine) PayAndClear(id string) (model.SessionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	i, ok := e.index[id]
	if !ok {
		e.countIntent("pay", "not_found")
		log.Printf("event=station_intent_ignored op=pay station_id=%s reason=not_found", id)
		return model.SessionRecord{}, ErrStationNotFound
	}
	st := e.stations[i]
	if !station.CanPay(st) {
		e.countIntent("pay", "rejected")
		log.Printf("event=station_intent_ignored op=pay station_id=%s reason=no_session", id)
		return model.SessionRecord{}, ErrTransitionRejected
	}

	billed := station.BillingDuration(st, now)
	amount := e.calculatorLocked().Quote(st, station.Seconds(billed), now)
	rec := model.SessionRecord{
		ID:             "ses_" + uuid.NewString(),
		StationID:      st.ID,
		StationName:    st.Name,
		EndTime:        now,
		DurationPlayed: billed,
		AmountPaid:     model.NewMoney(amount),
		SessionType:    st.TimerMode,
		FitPass:        st.FitPass,
	}
	e.stations[i] = station.Reset(st)
	e.countIntent("pay", "ok")
	log.Printf("event=station_paid station_id=%s session_id=%s billed_s=%.0f amount=%s fit_pass=%t", id, rec.ID, billed, rec.AmountPaid, rec.FitPass)

	e.recorder.Record(rec)
	e.persist("paid", func(ctx context.Context) error {
		return e.repo.SavePaid(ctx, e.stations, e.recorder.History())
	})
	return rec, nil
}

func (e *Engine) ToggleAvailability(id string) (model.StationView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	i, ok := e.index[id]
	if !ok {
		return e.notFound("toggle_availability", id)
	}
	next := station.ToggleAvailability(e.stations[i])
	e.stations[i] = next
	e.countIntent("toggle_availability", "ok")
	log.Printf("event=station_availability station_id=%s available=%t", id, next.IsAvailable)
	e.persistStationsLocked()
	return e.viewLocked(next, now), nil
}

// UpdateDetails changes a station's name or game type.
func (e *Engine) UpdateDetails(id string, d station.Details) (model.StationView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	i, ok := e.index[id]
	if !ok {
		return e.notFound("update_details", id)
	}
	next, applied := station.Describe(e.stations[i], d)
	if !applied {
		return e.rejected("update_details", e.stations[i], now)
	}
	e.stations[i] = next
	e.countIntent("update_details", "ok")
	log.Printf("event=station_updated station_id=%s name=%q game_type=%q", id, next.Name, next.GameType)
	e.persistStationsLocked()
	return e.viewLocked(next, now), nil
}

// Transfer moves the session on from to the station to.
func (e *Engine) Transfer(from, to string) (model.StationView, model.StationView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	fi, okFrom := e.index[from]
	ti, okTo := e.index[to]
	if !okFrom || !okTo {
		e.countIntent("transfer", "not_found")
		log.Printf("event=station_intent_ignored op=transfer from_id=%s to_id=%s reason=not_found", from, to)
		return model.StationView{}, model.StationView{}, ErrStationNotFound
	}
	if from == to {
		e.countIntent("transfer", "rejected")
		log.Printf("event=station_intent_ignored op=transfer from_id=%s to_id=%s reason=same_station", from, to)
		return model.StationView{}, model.StationView{}, ErrTransitionRejected
	}
	src, dst, applied := station.Transfer(e.stations[fi], e.stations[ti], now)
	if !applied {
		e.countIntent("transfer", "rejected")
		log.Printf("event=station_intent_ignored op=transfer from_id=%s to_id=%s reason=invalid_state", from, to)
		return e.viewLocked(e.stations[fi], now), e.viewLocked(e.stations[ti], now), ErrTransitionRejected
	}
	e.stations[fi] = src
	e.stations[ti] = dst
	e.countIntent("transfer", "ok")
	log.Printf("event=station_transferred from_id=%s to_id=%s elapsed_s=%.0f running=%t", from, to, dst.ElapsedSeconds, dst.IsRunning)
	e.persistStationsLocked()
	return e.viewLocked(src, now), e.viewLocked(dst, now), nil
}

// Tick expires finished countdowns on available stations and returns the
// current views.
func (e *Engine) Tick() []model.StationView {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()

	changed := false
	running := 0
	for i, st := range e.stations {
		if !st.IsAvailable || !st.IsRunning {
			continue
		}
		if station.Expired(st, now) {
			e.stations[i] = station.Expire(st)
			changed = true
			e.recorder.CountdownFinished(e.stations[i])
			continue
		}
		running++
	}
	metrics.Default().SetGauge("stations_running", float64(running), nil)
	if changed {
		e.persistStationsLocked()
	}

	out := make([]model.StationView, 0, len(e.stations))
	for _, st := range e.stations {
		out = append(out, e.viewLocked(st, now))
	}
	return out
}

func (e *Engine) History() []model.SessionRecord {
	return e.recorder.History()
}

// PruneHistory drops history entries older than yesterday and persists the
// result when anything was removed.
func (e *Engine) PruneHistory() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := e.recorder.Prune(e.clock.Now(), e.loc)
	if removed > 0 {
		log.Printf("event=history_pruned removed=%d", removed)
		e.persist("history", func(ctx context.Context) error {
			return e.repo.SaveHistory(ctx, e.recorder.History())
		})
	}
	return removed
}

func (e *Engine) Pricing() pricing.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *Engine) UpdatePricing(s pricing.Settings) (pricing.Settings, error) {
	if !s.Valid() {
		return pricing.Settings{}, ErrInvalidSettings
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
	log.Printf("event=pricing_updated sale_from=%d sale_to=%d sale_rate=%g", s.SaleFromHour, s.SaleToHour, s.SaleHourlyRate)
	e.persist("settings", func(ctx context.Context) error {
		return e.repo.SaveSettings(ctx, s)
	})
	return s, nil
}

// RecordBarSale forwards an add-on sale to the ledger. It does not touch
// station state or history.
func (e *Engine) RecordBarSale(items []ledger.BarSaleItem) (ledger.BarSalePayload, error) {
	sale, err := ledger.NewBarSale(items, e.clock.Now())
	if err != nil {
		return ledger.BarSalePayload{}, err
	}
	log.Printf("event=bar_sale sale_id=%s total=%s", sale.ID, sale.TotalAmount)
	e.recorder.Forward(sale)
	return sale, nil
}

func (e *Engine) LedgerStatus() recorder.SyncStatus {
	return e.recorder.Status()
}

// Flush persists the current station snapshot.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repo.SaveStations(ctx, e.stations)
}

func (e *Engine) calculatorLocked() pricing.Calculator {
	return pricing.Calculator{
		Policy:    e.settings.Policy(e.base, e.loc),
		FitPass:   e.fitPass,
		FlatRates: e.flatRates,
	}
}

func (e *Engine) viewLocked(st model.Station, now time.Time) model.StationView {
	v := station.View(st, now)
	if st.HasSession() {
		billed := station.BillingDuration(st, now)
		v.Cost = model.NewMoney(e.calculatorLocked().Quote(st, station.Seconds(billed), now))
	}
	return v
}

func (e *Engine) snapshotLocked() []model.Station {
	out := make([]model.Station, 0, len(e.stations))
	for _, st := range e.stations {
		out = append(out, st.Clone())
	}
	return out
}

func (e *Engine) notFound(op, id string) (model.StationView, error) {
	e.countIntent(op, "not_found")
	log.Printf("event=station_intent_ignored op=%s station_id=%s reason=not_found", op, id)
	return model.StationView{}, ErrStationNotFound
}

func (e *Engine) rejected(op string, st model.Station, now time.Time) (model.StationView, error) {
	e.countIntent(op, "rejected")
	log.Printf("event=station_intent_ignored op=%s station_id=%s reason=invalid_state state=%s", op, st.ID, station.StateOf(st))
	return e.viewLocked(st, now), ErrTransitionRejected
}

func (e *Engine) countIntent(op, outcome string) {
	metrics.Default().IncCounter("station_intents_total", map[string]string{"op": op, "outcome": outcome})
}

func (e *Engine) persistStationsLocked() {
	e.persist("stations", func(ctx context.Context) error {
		return e.repo.SaveStations(ctx, e.stations)
	})
}

// persist runs fn with a bounded context. Failures are logged and counted;
// in-memory state stays authoritative.
func (e *Engine) persist(key string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
	defer cancel()
	status := "ok"
	if err := fn(ctx); err != nil {
		status = "error"
		log.Printf("event=snapshot_write_failed key=%s err=%q", key, err.Error())
	}
	metrics.Default().IncCounter("snapshot_write_total", map[string]string{"key": key, "status": status})
}
