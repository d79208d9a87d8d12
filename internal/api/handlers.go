package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tablehouse/station-billing/internal/engine"
	"github.com/tablehouse/station-billing/internal/ledger"
	"github.com/tablehouse/station-billing/internal/model"
	"github.com/tablehouse/station-billing/internal/pricing"
	"github.com/tablehouse/station-billing/internal/station"
)

type startRequest struct {
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes"`
	FitPass         bool   `json:"fit_pass"`
}

type updateStationRequest struct {
	Name     *string `json:"name"`
	GameType *string `json:"game_type"`
}

type transferRequest struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
}

type pricingRequest struct {
	SaleFromHour   *int     `json:"sale_from_hour"`
	SaleToHour     *int     `json:"sale_to_hour"`
	SaleHourlyRate *float64 `json:"sale_hourly_rate"`
}

type barSaleRequest struct {
	Items []struct {
		Name     string      `json:"name"`
		Price    model.Money `json:"price"`
		Quantity int         `json:"quantity"`
	} `json:"items"`
}

func (s *Server) handleListStations(w http.ResponseWriter, _ *http.Request) {
	views := s.engine.Views()
	out := make([]map[string]any, 0, len(views))
	for _, v := range views {
		out = append(out, toStationResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": out})
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.View(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err, "failed to read station")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"station": toStationResponse(v)})
}

func (s *Server) handleUpdateStation(w http.ResponseWriter, r *http.Request) {
	var req updateStationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "name must not be empty")
		return
	}
	v, err := s.engine.UpdateDetails(chi.URLParam(r, "id"), station.Details{Name: req.Name, GameType: req.GameType})
	if err != nil {
		s.writeEngineError(w, r, err, "failed to update station")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"station": toStationResponse(v)})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
			return
		}
	}
	mode := model.TimerMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	switch mode {
	case "":
		mode = model.TimerStandard
	case model.TimerStandard, model.TimerCountdown:
	default:
		writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "mode must be one of standard|countdown")
		return
	}

	v, err := s.engine.Start(chi.URLParam(r, "id"), station.StartOptions{
		Mode:            mode,
		DurationMinutes: req.DurationMinutes,
		FitPass:         req.FitPass,
	})
	if err != nil {
		s.writeEngineError(w, r, err, "failed to start station")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"station": toStationResponse(v)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Stop(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err, "failed to stop station")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"station": toStationResponse(v)})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.engine.PayAndClear(id)
	if err != nil {
		s.writeEngineError(w, r, err, "failed to pay station")
		return
	}
	resp := map[string]any{"session": toRecordResponse(rec)}
	if v, err := s.engine.View(id); err == nil {
		resp["station"] = toStationResponse(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleToggleAvailability(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.ToggleAvailability(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err, "failed to toggle availability")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"station": toStationResponse(v)})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if req.FromID == "" || req.ToID == "" {
		writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "from_id and to_id are required")
		return
	}
	from, to, err := s.engine.Transfer(req.FromID, req.ToID)
	if err != nil {
		s.writeEngineError(w, r, err, "failed to transfer session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from": toStationResponse(from),
		"to":   toStationResponse(to),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	records := s.engine.History()
	out := make([]map[string]any, 0, len(records))
	total := model.Money{}
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
		total = total.Add(rec.AmountPaid)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out, "total_paid": total})
}

func (s *Server) handleGetPricing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pricing": toPricingResponse(s.engine.Pricing())})
}

func (s *Server) handlePutPricing(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	next := s.engine.Pricing()
	if req.SaleFromHour != nil {
		next.SaleFromHour = *req.SaleFromHour
	}
	if req.SaleToHour != nil {
		next.SaleToHour = *req.SaleToHour
	}
	if req.SaleHourlyRate != nil {
		next.SaleHourlyRate = *req.SaleHourlyRate
	}
	updated, err := s.engine.UpdatePricing(next)
	if err != nil {
		s.writeEngineError(w, r, err, "failed to update pricing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pricing": toPricingResponse(updated)})
}

func (s *Server) handleBarSale(w http.ResponseWriter, r *http.Request) {
	var req barSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	items := make([]ledger.BarSaleItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, ledger.BarSaleItem{Name: it.Name, Price: it.Price, Quantity: it.Quantity})
	}
	sale, err := s.engine.RecordBarSale(items)
	if err != nil {
		s.writeEngineError(w, r, err, "failed to record bar sale")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"sale_id":      sale.ID,
		"items":        sale.Items,
		"total_amount": sale.TotalAmount,
		"timestamp":    sale.Timestamp,
	})
}

func (s *Server) handleLedgerStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.LedgerStatus()
	resp := map[string]any{
		"configured": st.Configured,
		"healthy":    st.Healthy,
	}
	if st.LastError != "" {
		resp["last_error"] = st.LastError
	}
	if !st.LastAttempt.IsZero() {
		resp["last_attempt"] = st.LastAttempt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, engine.ErrStationNotFound):
		writeAPIError(w, r, http.StatusNotFound, "not_found", "station not found")
	case errors.Is(err, engine.ErrTransitionRejected):
		writeAPIError(w, r, http.StatusConflict, "invalid_transition", "operation not allowed in the station's current state")
	case errors.Is(err, engine.ErrInvalidSettings):
		writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "sale hours must be 0-23 and 0-24 with a non-negative rate")
	case errors.Is(err, ledger.ErrEmptySale):
		writeAPIError(w, r, http.StatusBadRequest, "invalid_request", "bar sale has no items")
	default:
		writeAPIError(w, r, http.StatusInternalServerError, "internal_error", fallback)
	}
}

func toStationResponse(v model.StationView) map[string]any {
	st := v.Station
	resp := map[string]any{
		"id":              st.ID,
		"name":            st.Name,
		"state":           string(v.State),
		"timer_mode":      string(st.TimerMode),
		"is_available":    st.IsAvailable,
		"is_running":      st.IsRunning,
		"elapsed_seconds": st.ElapsedSeconds,
		"fit_pass":        st.FitPass,
		"display":         v.Display,
		"display_seconds": v.DisplaySeconds,
		"cost":            v.Cost,
		"time_up":         v.TimeUp,
		"can_start":       v.CanStart,
		"can_pay":         v.CanPay,
	}
	if st.GameType != "" {
		resp["game_type"] = st.GameType
	}
	if st.InitialCountdownSeconds != nil {
		resp["initial_countdown_seconds"] = *st.InitialCountdownSeconds
	}
	if st.SessionStartTime != nil {
		resp["session_start_time"] = st.SessionStartTime.UTC().Format(time.RFC3339)
	}
	if st.TimerStartTime != nil {
		resp["timer_start_time"] = st.TimerStartTime.UTC().Format(time.RFC3339)
	}
	return resp
}

func toRecordResponse(rec model.SessionRecord) map[string]any {
	return map[string]any{
		"id":              rec.ID,
		"station_id":      rec.StationID,
		"station_name":    rec.StationName,
		"end_time":        rec.EndTime.UTC().Format(time.RFC3339),
		"duration_played": rec.DurationPlayed,
		"duration":        station.FormatClock(rec.DurationPlayed),
		"amount_paid":     rec.AmountPaid,
		"session_type":    string(rec.SessionType),
		"fit_pass":        rec.FitPass,
	}
}

func toPricingResponse(p pricing.Settings) map[string]any {
	return map[string]any{
		"sale_from_hour":   p.SaleFromHour,
		"sale_to_hour":     p.SaleToHour,
		"sale_hourly_rate": p.SaleHourlyRate,
	}
}
