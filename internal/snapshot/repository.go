// Package snapshot maps typed station state, session history and pricing
// settings onto keyed JSON documents in a store.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/tablehouse/station-billing/internal/model"
	"github.com/tablehouse/station-billing/internal/pricing"
	"github.com/tablehouse/station-billing/internal/recorder"
	"github.com/tablehouse/station-billing/internal/station"
	"github.com/tablehouse/station-billing/internal/store"
)

const (
	StationsKey = "stations_v2"
	HistoryKey  = "session_history_v1"
	SettingsKey = "sales_settings_v1"

	stationsVersion = 2
)

// Backend is satisfied by store.Store and store.SQLite.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, payload []byte) error
	SaveAll(ctx context.Context, entries []store.Entry) error
}

type Repository struct {
	backend      Backend
	stationCount int
}

type stationsEnvelope struct {
	Version  int               `json:"version"`
	Stations []json.RawMessage `json:"stations"`
}

type stationsDoc struct {
	Version  int             `json:"version"`
	Stations []model.Station `json:"stations"`
}

func NewRepository(backend Backend, stationCount int) *Repository {
	if stationCount <= 0 {
		stationCount = 9
	}
	return &Repository{backend: backend, stationCount: stationCount}
}

// DefaultStations returns Table 1..n, all available and idle.
func DefaultStations(n int) []model.Station {
	out := make([]model.Station, 0, n)
	for i := 1; i <= n; i++ {
		id := strconv.Itoa(i)
		out = append(out, station.Baseline(id, "Table "+id))
	}
	return out
}

// LoadStations reads the station snapshot. Missing or unreadable snapshots
// yield the default set; only backend failures are returned as errors.
func (r *Repository) LoadStations(ctx context.Context) ([]model.Station, error) {
	raw, ok, err := r.backend.Load(ctx, StationsKey)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}
	if !ok {
		log.Printf("event=stations_defaulted reason=missing count=%d", r.stationCount)
		return DefaultStations(r.stationCount), nil
	}
	stations, version, err := decodeStations(raw)
	if err != nil || len(stations) == 0 {
		log.Printf("event=stations_defaulted reason=malformed count=%d err=%v", r.stationCount, err)
		return DefaultStations(r.stationCount), nil
	}
	if version < stationsVersion {
		log.Printf("event=stations_migrated from_version=%d to_version=%d count=%d", version, stationsVersion, len(stations))
	}
	return stations, nil
}

func decodeStations(raw []byte) ([]model.Station, int, error) {
	var items []json.RawMessage
	version := 1
	if err := json.Unmarshal(raw, &items); err != nil {
		var env stationsEnvelope
		if envErr := json.Unmarshal(raw, &env); envErr != nil {
			return nil, 0, envErr
		}
		items = env.Stations
		version = env.Version
	}

	seen := make(map[string]bool, len(items))
	out := make([]model.Station, 0, len(items))
	for i, item := range items {
		var rs rawStation
		if err := json.Unmarshal(item, &rs); err != nil {
			log.Printf("event=station_dropped index=%d reason=malformed err=%v", i, err)
			continue
		}
		st := normalizeStation(rs)
		if seen[st.ID] {
			log.Printf("event=station_dropped index=%d station_id=%s reason=duplicate_id", i, st.ID)
			continue
		}
		seen[st.ID] = true
		out = append(out, st)
	}
	return out, version, nil
}

func encodeStations(stations []model.Station) ([]byte, error) {
	return json.Marshal(stationsDoc{Version: stationsVersion, Stations: stations})
}

func (r *Repository) SaveStations(ctx context.Context, stations []model.Station) error {
	payload, err := encodeStations(stations)
	if err != nil {
		return err
	}
	return r.backend.Save(ctx, StationsKey, payload)
}

// LoadHistory reads history, keeps only today's and yesterday's entries in
// loc and writes the pruned log back when anything was dropped.
func (r *Repository) LoadHistory(ctx context.Context, now time.Time, loc *time.Location) ([]model.SessionRecord, error) {
	raw, ok, err := r.backend.Load(ctx, HistoryKey)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if !ok {
		return []model.SessionRecord{}, nil
	}

	var items []rawRecord
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Printf("event=history_reset reason=malformed err=%v", err)
		return []model.SessionRecord{}, nil
	}
	records := make([]model.SessionRecord, 0, len(items))
	for _, it := range items {
		if rec, ok := normalizeRecord(it); ok {
			records = append(records, rec)
		}
	}
	kept := recorder.KeepRecent(records, now, loc)
	if len(kept) != len(items) {
		if err := r.SaveHistory(ctx, kept); err != nil {
			log.Printf("event=history_writeback_failed err=%v", err)
		} else {
			log.Printf("event=history_pruned removed=%d kept=%d", len(items)-len(kept), len(kept))
		}
	}
	return kept, nil
}

func (r *Repository) SaveHistory(ctx context.Context, records []model.SessionRecord) error {
	if records == nil {
		records = []model.SessionRecord{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return r.backend.Save(ctx, HistoryKey, payload)
}

// SavePaid writes stations and history together after a payment.
func (r *Repository) SavePaid(ctx context.Context, stations []model.Station, records []model.SessionRecord) error {
	sp, err := encodeStations(stations)
	if err != nil {
		return err
	}
	if records == nil {
		records = []model.SessionRecord{}
	}
	hp, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return r.backend.SaveAll(ctx, []store.Entry{
		{Key: StationsKey, Payload: sp},
		{Key: HistoryKey, Payload: hp},
	})
}

// LoadSettings falls back to the defaults when the stored settings are
// missing, unreadable or out of range. Fields absent from the record keep
// their own default.
func (r *Repository) LoadSettings(ctx context.Context) (pricing.Settings, error) {
	raw, ok, err := r.backend.Load(ctx, SettingsKey)
	if err != nil {
		return pricing.DefaultSettings(), fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return pricing.DefaultSettings(), nil
	}
	s := pricing.DefaultSettings()
	if err := json.Unmarshal(raw, &s); err != nil || !s.Valid() {
		log.Printf("event=settings_defaulted reason=malformed err=%v", err)
		return pricing.DefaultSettings(), nil
	}
	return s, nil
}

func (r *Repository) SaveSettings(ctx context.Context, s pricing.Settings) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.backend.Save(ctx, SettingsKey, payload)
}
