// Package recorder keeps the completed-session history and forwards entries
// to the remote ledger.
//
// The local history is authoritative. Forwarding is best effort: it runs in
// the background, is never retried, and its failure never touches history.
package recorder

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/tablehouse/station-billing/internal/clock"
	"github.com/tablehouse/station-billing/internal/ledger"
	"github.com/tablehouse/station-billing/internal/metrics"
	"github.com/tablehouse/station-billing/internal/model"
)

// SyncStatus is what the console shows as a non-blocking ledger warning.
type SyncStatus struct {
	Configured  bool      `json:"configured"`
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

type Recorder struct {
	client  ledger.Client
	clock   clock.Clock
	timeout time.Duration

	mu         sync.Mutex
	history    []model.SessionRecord
	status     SyncStatus
	onFinished func(model.Station)

	wg sync.WaitGroup
}

func New(client ledger.Client, clk clock.Clock, timeout time.Duration, history []model.SessionRecord) *Recorder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	status := SyncStatus{Configured: true, Healthy: true}
	if _, off := client.(ledger.Disabled); off {
		status = SyncStatus{LastError: ledger.ErrNotConfigured.Error()}
	}
	return &Recorder{
		client:  client,
		clock:   clk,
		timeout: timeout,
		history: append([]model.SessionRecord(nil), history...),
		status:  status,
	}
}

// Record appends rec to history and forwards it to the ledger in the
// background.
func (r *Recorder) Record(rec model.SessionRecord) {
	r.mu.Lock()
	r.history = append(r.history, rec)
	r.mu.Unlock()
	metrics.Default().IncCounter("sessions_recorded_total", map[string]string{"type": string(rec.SessionType)})
	log.Printf("event=session_recorded session_id=%s station_id=%s duration_s=%.0f amount=%s type=%s",
		rec.ID, rec.StationID, rec.DurationPlayed, rec.AmountPaid, rec.SessionType)
	r.Forward(ledger.NewSessionPayload(rec))
}

// Forward sends p to the ledger without blocking the caller.
func (r *Recorder) Forward(p ledger.Payload) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.forward(p)
	}()
}

func (r *Recorder) forward(p ledger.Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	err := r.client.Send(ctx, p)
	durMS := float64(time.Since(start).Milliseconds())
	typ := p.PayloadType()

	r.mu.Lock()
	r.status.LastAttempt = r.clock.Now()
	switch {
	case errors.Is(err, ledger.ErrNotConfigured):
		r.status.Configured = false
		r.status.Healthy = false
		r.status.LastError = err.Error()
	case err != nil:
		r.status.Configured = true
		r.status.Healthy = false
		r.status.LastError = err.Error()
	default:
		r.status = SyncStatus{Configured: true, Healthy: true, LastAttempt: r.status.LastAttempt}
	}
	r.mu.Unlock()

	status := "ok"
	switch {
	case errors.Is(err, ledger.ErrNotConfigured):
		status = "skipped"
		log.Printf("event=ledger_skipped type=%s reason=not_configured", typ)
	case err != nil:
		status = "error"
		log.Printf("metric=ledger_forward type=%s status=error duration_ms=%d err=%q", typ, int64(durMS), err.Error())
	default:
		log.Printf("metric=ledger_forward type=%s status=ok duration_ms=%d", typ, int64(durMS))
	}
	metrics.Default().IncCounter("ledger_forward_total", map[string]string{"type": typ, "status": status})
	metrics.Default().ObserveHistogram("ledger_forward_latency_ms", durMS, map[string]string{"type": typ})
}

// CountdownFinished receives the expiry signal from the registry. It does not
// bill anything; the station still waits for an explicit pay.
func (r *Recorder) CountdownFinished(st model.Station) {
	metrics.Default().IncCounter("station_countdown_finished_total", nil)
	log.Printf("event=countdown_finished station_id=%s station_name=%q", st.ID, st.Name)
	r.mu.Lock()
	hook := r.onFinished
	r.mu.Unlock()
	if hook != nil {
		hook(st)
	}
}

func (r *Recorder) OnCountdownFinished(fn func(model.Station)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinished = fn
}

// History returns a copy of the log, oldest first.
func (r *Recorder) History() []model.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SessionRecord(nil), r.history...)
}

// Prune drops entries outside the today-or-yesterday window and reports how
// many were removed.
func (r *Recorder) Prune(now time.Time, loc *time.Location) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := KeepRecent(r.history, now, loc)
	removed := len(r.history) - len(kept)
	r.history = kept
	return removed
}

func (r *Recorder) Status() SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Wait blocks until in-flight forwards finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// KeepRecent keeps records whose end time falls on today's or yesterday's
// calendar date in loc, preserving order.
func KeepRecent(records []model.SessionRecord, now time.Time, loc *time.Location) []model.SessionRecord {
	if loc == nil {
		loc = time.UTC
	}
	today := dateOf(now.In(loc))
	yesterday := dateOf(now.In(loc).AddDate(0, 0, -1))
	out := make([]model.SessionRecord, 0, len(records))
	for _, rec := range records {
		if rec.EndTime.IsZero() {
			continue
		}
		d := dateOf(rec.EndTime.In(loc))
		if d == today || d == yesterday {
			out = append(out, rec)
		}
	}
	return out
}

type date struct {
	y int
	m time.Month
	d int
}

func dateOf(t time.Time) date {
	y, m, d := t.Date()
	return date{y, m, d}
}
