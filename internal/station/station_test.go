package station

import (
	"testing"
	"time"

	"github.com/tablehouse/station-billing/internal/model"
)

var t0 = time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)

func TestStartStandardThenStopAccumulates(t *testing.T) {
	st := Baseline("1", "Table 1")
	now := t0
	var total float64
	for i, seg := range []time.Duration{90 * time.Second, 45 * time.Second, 10 * time.Minute} {
		var ok bool
		st, ok = Start(st, now, StartOptions{Mode: model.TimerStandard})
		if !ok {
			t.Fatalf("segment %d: start rejected", i)
		}
		now = now.Add(seg)
		before := st.ElapsedSeconds
		st, ok = Stop(st, now)
		if !ok {
			t.Fatalf("segment %d: stop rejected", i)
		}
		total += seg.Seconds()
		if st.ElapsedSeconds < before {
			t.Fatalf("segment %d: elapsed decreased from %v to %v", i, before, st.ElapsedSeconds)
		}
		if st.ElapsedSeconds != total {
			t.Fatalf("segment %d: expected elapsed %v, got %v", i, total, st.ElapsedSeconds)
		}
		if st.IsRunning || st.TimerStartTime != nil {
			t.Fatalf("segment %d: expected stopped timer, got %+v", i, st)
		}
		now = now.Add(5 * time.Minute)
	}
	if st.SessionStartTime == nil || !st.SessionStartTime.Equal(t0) {
		t.Fatalf("expected session start pinned to first start, got %v", st.SessionStartTime)
	}
}

func TestStartRejectedWhileRunningOrDisabled(t *testing.T) {
	st, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerStandard})
	if _, ok := Start(st, t0.Add(time.Second), StartOptions{Mode: model.TimerStandard}); ok {
		t.Fatal("expected start from running to be rejected")
	}
	off := ToggleAvailability(Baseline("2", "Table 2"))
	if _, ok := Start(off, t0, StartOptions{Mode: model.TimerStandard}); ok {
		t.Fatal("expected start on disabled station to be rejected")
	}
}

func TestStopRejectedWhenIdle(t *testing.T) {
	st := Baseline("1", "Table 1")
	out, ok := Stop(st, t0)
	if ok {
		t.Fatal("expected stop from idle to be rejected")
	}
	if out.ElapsedSeconds != 0 || out.IsRunning {
		t.Fatalf("idle station mutated: %+v", out)
	}
}

func TestStartCountdown(t *testing.T) {
	st, ok := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 30, FitPass: true})
	if !ok {
		t.Fatal("start rejected")
	}
	if st.TimerMode != model.TimerCountdown || st.InitialCountdownSeconds == nil || *st.InitialCountdownSeconds != 1800 {
		t.Fatalf("unexpected countdown fields: %+v", st)
	}
	if !st.IsRunning || st.TimerStartTime == nil || st.SessionStartTime == nil || !st.FitPass {
		t.Fatalf("unexpected running fields: %+v", st)
	}
	if got := Remaining(st, t0.Add(10*time.Minute)); got != 1200 {
		t.Fatalf("expected 1200s remaining, got %v", got)
	}
}

func TestCountdownWithoutDurationFallsBackToStandard(t *testing.T) {
	st, ok := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 0})
	if !ok {
		t.Fatal("start rejected")
	}
	if st.TimerMode != model.TimerStandard || st.InitialCountdownSeconds != nil {
		t.Fatalf("expected standard fallback, got %+v", st)
	}
}

func TestCountdownClampAndExpiry(t *testing.T) {
	st, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 1})
	if Expired(st, t0.Add(59*time.Second)) {
		t.Fatal("expired too early")
	}
	late := t0.Add(75 * time.Second)
	if got := Remaining(st, late); got != 0 {
		t.Fatalf("expected remaining clamped to 0, got %v", got)
	}
	if v := View(st, late); v.DisplaySeconds != 0 || !v.TimeUp || v.Display != "00:00:00" {
		t.Fatalf("unexpected view after overrun: %+v", v)
	}
	if !Expired(st, late) {
		t.Fatal("expected countdown to be expired")
	}
	done := Expire(st)
	if done.IsRunning || done.TimerStartTime != nil || done.ElapsedSeconds != 60 {
		t.Fatalf("unexpected expired state: %+v", done)
	}
	if *done.InitialCountdownSeconds != 60 {
		t.Fatalf("allotment changed on expiry: %d", *done.InitialCountdownSeconds)
	}
}

func TestFinishedCountdownStartsFreshAllotment(t *testing.T) {
	st, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 30})
	done := Expire(st)
	now := t0.Add(40 * time.Minute)

	out, ok := Start(done, now, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 60})
	if !ok {
		t.Fatal("start on finished countdown rejected")
	}
	if *out.InitialCountdownSeconds != 3600 || out.ElapsedSeconds != 0 || !out.IsRunning {
		t.Fatalf("expected fresh 3600s countdown, got %+v", out)
	}
	if out.SessionStartTime == nil || !out.SessionStartTime.Equal(now) {
		t.Fatalf("expected session restarted at %v, got %v", now, out.SessionStartTime)
	}
}

func TestPausedCountdownTakesRequestedMode(t *testing.T) {
	st, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 30})
	paused, _ := Stop(st, t0.Add(10*time.Minute))
	now := t0.Add(20 * time.Minute)

	cd, ok := Start(paused, now, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 60})
	if !ok {
		t.Fatal("countdown start rejected")
	}
	if *cd.InitialCountdownSeconds != 3600 || cd.ElapsedSeconds != 0 {
		t.Fatalf("expected new allotment with zero elapsed, got %+v", cd)
	}

	std, ok := Start(paused, now, StartOptions{Mode: model.TimerStandard})
	if !ok {
		t.Fatal("standard start rejected")
	}
	if std.TimerMode != model.TimerStandard || std.InitialCountdownSeconds != nil {
		t.Fatalf("expected standard with no allotment, got %+v", std)
	}
	if std.ElapsedSeconds != 600 || !std.SessionStartTime.Equal(t0) {
		t.Fatalf("standard start should keep elapsed and session start, got %+v", std)
	}
}

func TestBillingDuration(t *testing.T) {
	cd, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 30})
	if got := BillingDuration(cd, t0.Add(5*time.Minute)); got != 1800 {
		t.Fatalf("countdown should bill the allotment, got %v", got)
	}
	std, _ := Start(Baseline("2", "Table 2"), t0, StartOptions{Mode: model.TimerStandard})
	if got := BillingDuration(std, t0.Add(5*time.Minute)); got != 300 {
		t.Fatalf("standard should bill live elapsed, got %v", got)
	}
}

func TestResetRestoresBaseline(t *testing.T) {
	st, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 30, FitPass: true})
	st.GameType = "pingpong"
	out := Reset(st)
	if out.TimerMode != model.TimerStandard || out.IsRunning || out.ElapsedSeconds != 0 ||
		out.InitialCountdownSeconds != nil || out.SessionStartTime != nil || out.TimerStartTime != nil || out.FitPass {
		t.Fatalf("reset left session state behind: %+v", out)
	}
	if out.ID != "1" || out.Name != "Table 1" || out.GameType != "pingpong" || !out.IsAvailable {
		t.Fatalf("reset lost identity: %+v", out)
	}
}

func TestToggleAvailabilityPreservesTimer(t *testing.T) {
	st, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerStandard})
	off := ToggleAvailability(st)
	if off.IsAvailable || !off.IsRunning || off.TimerStartTime == nil {
		t.Fatalf("unexpected toggled state: %+v", off)
	}
	if StateOf(off) != model.StateDisabled {
		t.Fatalf("expected disabled state, got %s", StateOf(off))
	}
	if on := ToggleAvailability(off); StateOf(on) != model.StateRunning {
		t.Fatalf("expected running after re-enable, got %s", StateOf(on))
	}
}

func TestDescribeKeepsTimer(t *testing.T) {
	st, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerStandard})
	name, game := " Pool 1 ", "ps5"
	out, ok := Describe(st, Details{Name: &name, GameType: &game})
	if !ok {
		t.Fatal("describe rejected")
	}
	if out.Name != "Pool 1" || out.GameType != "ps5" || out.ID != "1" {
		t.Fatalf("unexpected labels: %+v", out)
	}
	if !out.IsRunning || !out.TimerStartTime.Equal(t0) {
		t.Fatalf("timer changed by describe: %+v", out)
	}

	none := ""
	out, _ = Describe(out, Details{GameType: &none})
	if out.GameType != "" || out.Name != "Pool 1" {
		t.Fatalf("expected game type cleared and name kept, got %+v", out)
	}

	blank := "  "
	if _, ok := Describe(out, Details{Name: &blank}); ok {
		t.Fatal("expected blank name rejected")
	}
}

func TestFormatClock(t *testing.T) {
	tests := map[float64]string{
		0:       "00:00:00",
		-5:      "00:00:00",
		59.9:    "00:00:59",
		3661:    "01:01:01",
		36000.5: "10:00:00",
	}
	for in, want := range tests {
		if got := FormatClock(in); got != want {
			t.Fatalf("FormatClock(%v) = %s, want %s", in, got, want)
		}
	}
}

func TestTransferStandardCarriesElapsed(t *testing.T) {
	src, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerStandard, FitPass: true})
	dst := Baseline("2", "Table 2")
	dst.GameType = "ps5"
	now := t0.Add(20 * time.Minute)

	newSrc, newDst, ok := Transfer(src, dst, now)
	if !ok {
		t.Fatal("transfer rejected")
	}
	if newSrc.HasSession() || newSrc.ID != "1" || newSrc.SessionStartTime != nil {
		t.Fatalf("source not reset: %+v", newSrc)
	}
	if newDst.ID != "2" || newDst.GameType != "ps5" || !newDst.IsRunning || newDst.ElapsedSeconds != 1200 {
		t.Fatalf("unexpected destination: %+v", newDst)
	}
	if !newDst.FitPass || newDst.SessionStartTime == nil || !newDst.SessionStartTime.Equal(t0) {
		t.Fatalf("session fields not carried: %+v", newDst)
	}
	if BillingDuration(newDst, now.Add(10*time.Minute)) != BillingDuration(src, now.Add(10*time.Minute)) {
		t.Fatal("billing duration changed across transfer")
	}
}

func TestTransferFinishedCountdownLandsIdle(t *testing.T) {
	src, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 10})
	now := t0.Add(11 * time.Minute)

	_, dst, ok := Transfer(src, Baseline("2", "Table 2"), now)
	if !ok {
		t.Fatal("transfer rejected")
	}
	if dst.IsRunning || dst.TimerStartTime != nil || dst.ElapsedSeconds != 600 || dst.TimerMode != model.TimerCountdown {
		t.Fatalf("expected finished idle countdown, got %+v", dst)
	}
}

func TestTransferRunningCountdownKeepsRunning(t *testing.T) {
	src, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerCountdown, DurationMinutes: 30})
	now := t0.Add(10 * time.Minute)

	_, dst, ok := Transfer(src, Baseline("2", "Table 2"), now)
	if !ok {
		t.Fatal("transfer rejected")
	}
	if !dst.IsRunning || dst.ElapsedSeconds != 600 || *dst.InitialCountdownSeconds != 1800 {
		t.Fatalf("unexpected destination: %+v", dst)
	}
	if got := Remaining(dst, now.Add(5*time.Minute)); got != 900 {
		t.Fatalf("expected 900s remaining, got %v", got)
	}
}

func TestTransferRejections(t *testing.T) {
	busy, _ := Start(Baseline("2", "Table 2"), t0, StartOptions{Mode: model.TimerStandard})
	disabled := ToggleAvailability(Baseline("3", "Table 3"))
	active, _ := Start(Baseline("1", "Table 1"), t0, StartOptions{Mode: model.TimerStandard})

	cases := []struct {
		name     string
		src, dst model.Station
	}{
		{"no session on source", Baseline("1", "Table 1"), Baseline("2", "Table 2")},
		{"destination busy", active, busy},
		{"destination disabled", active, disabled},
	}
	for _, tc := range cases {
		if _, _, ok := Transfer(tc.src, tc.dst, t0.Add(time.Minute)); ok {
			t.Fatalf("%s: expected rejection", tc.name)
		}
	}
}
