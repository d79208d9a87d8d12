package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tablehouse/station-billing/internal/ledger"
	"github.com/tablehouse/station-billing/internal/metrics"
	"github.com/tablehouse/station-billing/internal/model"
	"github.com/tablehouse/station-billing/internal/pricing"
	"github.com/tablehouse/station-billing/internal/recorder"
	"github.com/tablehouse/station-billing/internal/station"
)

// Engine is the registry surface the handlers drive. engine.Engine
// implements it.
type Engine interface {
	Views() []model.StationView
	View(id string) (model.StationView, error)
	Start(id string, opts station.StartOptions) (model.StationView, error)
	Stop(id string) (model.StationView, error)
	PayAndClear(id string) (model.SessionRecord, error)
	ToggleAvailability(id string) (model.StationView, error)
	UpdateDetails(id string, d station.Details) (model.StationView, error)
	Transfer(from, to string) (model.StationView, model.StationView, error)
	History() []model.SessionRecord
	Pricing() pricing.Settings
	UpdatePricing(s pricing.Settings) (pricing.Settings, error)
	RecordBarSale(items []ledger.BarSaleItem) (ledger.BarSalePayload, error)
	LedgerStatus() recorder.SyncStatus
}

type Server struct {
	engine Engine
}

func NewRouter(eng Engine) http.Handler {
	s := &Server{engine: eng}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", metrics.Default().Handler().ServeHTTP)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Get("/stations", s.handleListStations)
		v1.Route("/stations/{id}", func(st chi.Router) {
			st.Get("/", s.handleGetStation)
			st.Patch("/", s.handleUpdateStation)
			st.Post("/start", s.handleStart)
			st.Post("/stop", s.handleStop)
			st.Post("/pay", s.handlePay)
			st.Post("/availability", s.handleToggleAvailability)
		})
		v1.Post("/transfers", s.handleTransfer)
		v1.Get("/history", s.handleHistory)
		v1.Get("/pricing", s.handleGetPricing)
		v1.Put("/pricing", s.handlePutPricing)
		v1.Post("/bar-sales", s.handleBarSale)
		v1.Get("/ledger/status", s.handleLedgerStatus)
	})

	return r
}

type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var payload apiError
	payload.Error.Code = code
	payload.Error.Message = message
	payload.Error.RequestID = middleware.GetReqID(r.Context())
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
