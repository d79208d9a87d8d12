package jobs

import (
	"context"
	"log"
	"time"

	"github.com/tablehouse/station-billing/internal/metrics"
	"github.com/tablehouse/station-billing/internal/model"
)

type Engine interface {
	Tick() []model.StationView
	PruneHistory() int
}

type Runner struct {
	engine        Engine
	tickInterval  time.Duration
	pruneInterval time.Duration
}

func NewRunner(engine Engine, tickInterval, pruneInterval time.Duration) *Runner {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	if pruneInterval <= 0 {
		pruneInterval = time.Hour
	}
	return &Runner{engine: engine, tickInterval: tickInterval, pruneInterval: pruneInterval}
}

// Start launches the periodic jobs. They stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.runEvery(ctx, "station_tick", r.tickInterval, func(context.Context) error {
		r.engine.Tick()
		return nil
	})
	go r.runEvery(ctx, "history_prune", r.pruneInterval, func(context.Context) error {
		r.engine.PruneHistory()
		return nil
	})
}

func (r *Runner) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	r.runOnce(ctx, name, fn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, name, fn)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	durMs := float64(time.Since(start).Milliseconds())
	labels := map[string]string{
		"job": name,
	}
	if err != nil {
		log.Printf("metric=job_run name=%s status=error duration_ms=%d err=%q", name, int64(durMs), err.Error())
		labels["status"] = "error"
	} else {
		labels["status"] = "ok"
		// the tick runs every second; only slow runs are worth a line
		if name != "station_tick" || durMs >= 250 {
			log.Printf("metric=job_run name=%s status=ok duration_ms=%d", name, int64(durMs))
		}
	}
	metrics.Default().IncCounter("job_runs_total", labels)
	metrics.Default().ObserveHistogram("job_duration_ms", durMs, map[string]string{"job": name})
}
