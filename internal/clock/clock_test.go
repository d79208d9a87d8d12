package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)
	m := NewManual(start)
	m.Advance(90 * time.Second)
	if got := m.Now().Sub(start); got != 90*time.Second {
		t.Fatalf("expected 90s after advance, got %s", got)
	}
	m.Set(start)
	if !m.Now().Equal(start) {
		t.Fatalf("expected clock reset to start, got %s", m.Now())
	}
}
