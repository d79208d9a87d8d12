package model

import (
	"time"
)

type TimerMode string

const (
	TimerStandard  TimerMode = "standard"
	TimerCountdown TimerMode = "countdown"
)

// Station is one rentable unit and its timer state. Field names on the wire
// match the persisted snapshot format.
type Station struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name"`
	GameType                string     `json:"gameType,omitempty"`
	IsAvailable             bool       `json:"isAvailable"`
	TimerMode               TimerMode  `json:"timerMode"`
	IsRunning               bool       `json:"isRunning"`
	TimerStartTime          *time.Time `json:"timerStartTime"`
	ElapsedSeconds          float64    `json:"elapsedTimeInSeconds"`
	InitialCountdownSeconds *int       `json:"initialCountdownSeconds"`
	SessionStartTime        *time.Time `json:"sessionStartTime"`
	FitPass                 bool       `json:"fitPass"`
}

// HasSession reports whether the station carries an unpaid billing session.
func (s Station) HasSession() bool {
	if s.IsRunning {
		return true
	}
	if s.TimerMode == TimerCountdown && s.InitialCountdownSeconds != nil && *s.InitialCountdownSeconds > 0 {
		return true
	}
	return s.ElapsedSeconds > 0
}

// Clone returns a copy that shares no pointers with s.
func (s Station) Clone() Station {
	out := s
	out.TimerStartTime = timePtr(s.TimerStartTime)
	out.SessionStartTime = timePtr(s.SessionStartTime)
	if s.InitialCountdownSeconds != nil {
		v := *s.InitialCountdownSeconds
		out.InitialCountdownSeconds = &v
	}
	return out
}

// SessionRecord is the immutable history entry written at pay time.
type SessionRecord struct {
	ID             string    `json:"id"`
	StationID      string    `json:"stationId"`
	StationName    string    `json:"stationName"`
	EndTime        time.Time `json:"endTime"`
	DurationPlayed float64   `json:"durationPlayed"`
	AmountPaid     Money     `json:"amountPaid"`
	SessionType    TimerMode `json:"sessionType"`
	FitPass        bool      `json:"fitPass,omitempty"`
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
)

// StationView is the derived, display-ready state of a station at an instant.
type StationView struct {
	Station        Station
	State          State
	DisplaySeconds float64
	Display        string
	Cost           Money
	TimeUp         bool
	CanStart       bool
	CanPay         bool
}

func timePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
