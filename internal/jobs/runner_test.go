package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tablehouse/station-billing/internal/metrics"
	"github.com/tablehouse/station-billing/internal/model"
)

type fakeEngine struct {
	mu     sync.Mutex
	ticks  int
	prunes int
}

func (f *fakeEngine) Tick() []model.StationView {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return nil
}

func (f *fakeEngine) PruneHistory() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes++
	return 0
}

func (f *fakeEngine) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks, f.prunes
}

func TestRunnerRunsJobsImmediatelyAndOnInterval(t *testing.T) {
	metrics.ResetDefaultForTest()
	eng := &fakeEngine{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	NewRunner(eng, 10*time.Millisecond, time.Hour).Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		ticks, prunes := eng.counts()
		if ticks >= 3 && prunes >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not run: ticks=%d prunes=%d", ticks, prunes)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	out := metrics.Default().Render()
	if !strings.Contains(out, `job_runs_total{job="history_prune",status="ok"} 1`) {
		t.Fatalf("missing prune run metric: %s", out)
	}
}

func TestRunOnceRecordsErrors(t *testing.T) {
	metrics.ResetDefaultForTest()
	r := NewRunner(&fakeEngine{}, 0, 0)
	r.runOnce(context.Background(), "history_prune", func(context.Context) error { return errors.New("boom") })

	out := metrics.Default().Render()
	if !strings.Contains(out, `job_runs_total{job="history_prune",status="error"} 1`) {
		t.Fatalf("missing error metric: %s", out)
	}
	if !strings.Contains(out, `job_duration_ms_count{job="history_prune"} 1`) {
		t.Fatalf("missing duration metric: %s", out)
	}
}
