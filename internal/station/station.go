// Package station holds the timer state machine for a single station.
//
// Transitions are pure: they take a station snapshot and the current time and
// return the next snapshot plus whether the transition applied. A transition
// that does not apply returns the input unchanged.
package station

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tablehouse/station-billing/internal/model"
)

type StartOptions struct {
	Mode            model.TimerMode
	DurationMinutes int
	FitPass         bool
}

// Baseline returns a fresh, available, idle station.
func Baseline(id, name string) model.Station {
	return model.Station{
		ID:          id,
		Name:        name,
		IsAvailable: true,
		TimerMode:   model.TimerStandard,
	}
}

// Start runs an idle station. Countdown buys a fresh allotment and restarts
// the session; standard keeps the accumulated elapsed time and drops any
// countdown allotment.
func Start(st model.Station, now time.Time, opts StartOptions) (model.Station, bool) {
	if !st.IsAvailable || st.IsRunning {
		return st, false
	}
	out := st.Clone()
	if opts.Mode == model.TimerCountdown && opts.DurationMinutes > 0 {
		allot := opts.DurationMinutes * 60
		out.TimerMode = model.TimerCountdown
		out.InitialCountdownSeconds = &allot
		out.ElapsedSeconds = 0
		out.SessionStartTime = &now
		out.TimerStartTime = &now
		out.IsRunning = true
		out.FitPass = opts.FitPass
		return out, true
	}

	out.TimerMode = model.TimerStandard
	out.InitialCountdownSeconds = nil
	if out.SessionStartTime == nil {
		out.SessionStartTime = &now
		out.FitPass = opts.FitPass
	}
	out.TimerStartTime = &now
	out.IsRunning = true
	return out, true
}

// Stop folds the running segment into the accumulated elapsed time.
func Stop(st model.Station, now time.Time) (model.Station, bool) {
	if !st.IsRunning {
		return st, false
	}
	out := st.Clone()
	out.ElapsedSeconds = LiveElapsed(st, now)
	out.IsRunning = false
	out.TimerStartTime = nil
	return out, true
}

// Expired reports whether a running countdown has used its whole allotment.
func Expired(st model.Station, now time.Time) bool {
	if !st.IsRunning || st.TimerMode != model.TimerCountdown || st.InitialCountdownSeconds == nil {
		return false
	}
	return LiveElapsed(st, now) >= float64(*st.InitialCountdownSeconds)
}

// Expire parks a finished countdown: idle, elapsed pinned to the allotment.
func Expire(st model.Station) model.Station {
	out := st.Clone()
	if out.InitialCountdownSeconds != nil {
		out.ElapsedSeconds = float64(*out.InitialCountdownSeconds)
	}
	out.IsRunning = false
	out.TimerStartTime = nil
	return out
}

// Reset returns st to its idle standard baseline. Identity and availability
// survive.
func Reset(st model.Station) model.Station {
	out := Baseline(st.ID, st.Name)
	out.GameType = st.GameType
	out.IsAvailable = st.IsAvailable
	return out
}

// Details are the operator-editable labels of a station. Nil fields are left
// unchanged.
type Details struct {
	Name     *string
	GameType *string
}

// Describe applies d to st. Timer and session fields are untouched, so a new
// game type takes effect on the next quote. An empty name is rejected.
func Describe(st model.Station, d Details) (model.Station, bool) {
	out := st.Clone()
	if d.Name != nil {
		name := strings.TrimSpace(*d.Name)
		if name == "" {
			return st, false
		}
		out.Name = name
	}
	if d.GameType != nil {
		out.GameType = strings.TrimSpace(*d.GameType)
	}
	return out, true
}

func ToggleAvailability(st model.Station) model.Station {
	out := st.Clone()
	out.IsAvailable = !out.IsAvailable
	return out
}

// Transfer moves the billing session from src onto dst. src returns to its
// baseline; dst keeps its identity and takes over the session fields with the
// accumulated elapsed time. A countdown that has already used its allotment
// lands on dst finished and idle.
func Transfer(src, dst model.Station, now time.Time) (model.Station, model.Station, bool) {
	if !src.HasSession() || !dst.IsAvailable || dst.HasSession() {
		return src, dst, false
	}
	total := LiveElapsed(src, now)

	out := Reset(dst)
	out.TimerMode = src.TimerMode
	out.FitPass = src.FitPass
	if src.SessionStartTime != nil {
		v := *src.SessionStartTime
		out.SessionStartTime = &v
	}
	out.ElapsedSeconds = total
	out.IsRunning = true
	out.TimerStartTime = &now

	if src.TimerMode == model.TimerCountdown && src.InitialCountdownSeconds != nil {
		allot := *src.InitialCountdownSeconds
		out.InitialCountdownSeconds = &allot
		if total >= float64(allot) {
			out = Expire(out)
		}
	} else {
		out.TimerMode = model.TimerStandard
	}
	return Reset(src), out, true
}

// LiveElapsed is the accumulated elapsed time plus the running segment.
func LiveElapsed(st model.Station, now time.Time) float64 {
	e := st.ElapsedSeconds
	if st.IsRunning && st.TimerStartTime != nil {
		if seg := now.Sub(*st.TimerStartTime).Seconds(); seg > 0 {
			e += seg
		}
	}
	return e
}

// Remaining is the countdown time left, never negative. Zero for standard
// sessions.
func Remaining(st model.Station, now time.Time) float64 {
	if st.TimerMode != model.TimerCountdown || st.InitialCountdownSeconds == nil {
		return 0
	}
	return math.Max(0, float64(*st.InitialCountdownSeconds)-LiveElapsed(st, now))
}

// BillingDuration is what a pay at now would bill: the full allotment for a
// countdown, the live elapsed time otherwise.
func BillingDuration(st model.Station, now time.Time) float64 {
	if st.TimerMode == model.TimerCountdown && st.InitialCountdownSeconds != nil {
		return float64(*st.InitialCountdownSeconds)
	}
	return LiveElapsed(st, now)
}

func StateOf(st model.Station) model.State {
	switch {
	case !st.IsAvailable:
		return model.StateDisabled
	case st.IsRunning:
		return model.StateRunning
	default:
		return model.StateIdle
	}
}

func CanStart(st model.Station, now time.Time) bool {
	_, ok := Start(st, now, StartOptions{Mode: model.TimerStandard})
	return ok
}

func CanPay(st model.Station) bool {
	return st.HasSession()
}

// View derives the display state. Cost is left for the caller to fill in.
func View(st model.Station, now time.Time) model.StationView {
	v := model.StationView{
		Station:  st.Clone(),
		State:    StateOf(st),
		CanStart: CanStart(st, now),
		CanPay:   CanPay(st),
	}
	if st.TimerMode == model.TimerCountdown && st.InitialCountdownSeconds != nil {
		v.DisplaySeconds = Remaining(st, now)
		v.TimeUp = v.DisplaySeconds <= 0
	} else {
		v.DisplaySeconds = LiveElapsed(st, now)
	}
	v.Display = FormatClock(v.DisplaySeconds)
	return v
}

// FormatClock renders seconds as HH:MM:SS, flooring and clamping at zero.
func FormatClock(seconds float64) string {
	total := int64(math.Max(0, math.Floor(seconds)))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// Seconds converts fractional seconds to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
