package snapshot

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tablehouse/station-billing/internal/model"
)

// rawStation accepts any JSON shape a previous release may have written.
type rawStation struct {
	ID                      any `json:"id"`
	Name                    any `json:"name"`
	GameType                any `json:"gameType"`
	IsAvailable             any `json:"isAvailable"`
	TimerMode               any `json:"timerMode"`
	IsRunning               any `json:"isRunning"`
	TimerStartTime          any `json:"timerStartTime"`
	ElapsedSeconds          any `json:"elapsedTimeInSeconds"`
	InitialCountdownSeconds any `json:"initialCountdownSeconds"`
	SessionStartTime        any `json:"sessionStartTime"`
	FitPass                 any `json:"fitPass"`
}

func normalizeStation(r rawStation) model.Station {
	id := idOf(r.ID)
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(stringOf(r.Name))
	if name == "" {
		name = "Table " + id
	}
	st := model.Station{
		ID:          id,
		Name:        name,
		GameType:    strings.TrimSpace(stringOf(r.GameType)),
		IsAvailable: boolOf(r.IsAvailable, true),
		TimerMode:   model.TimerStandard,
		IsRunning:   boolOf(r.IsRunning, false),
		FitPass:     boolOf(r.FitPass, false),
	}
	st.ElapsedSeconds = secondsOf(r.ElapsedSeconds)

	if allot, ok := positiveInt(r.InitialCountdownSeconds); ok && model.TimerMode(stringOf(r.TimerMode)) == model.TimerCountdown {
		st.TimerMode = model.TimerCountdown
		st.InitialCountdownSeconds = &allot
	}
	st.SessionStartTime = timeOf(r.SessionStartTime)
	if st.IsRunning {
		st.TimerStartTime = timeOf(r.TimerStartTime)
		if st.TimerStartTime == nil {
			st.IsRunning = false
		}
	}
	if st.SessionStartTime == nil && st.TimerStartTime != nil {
		v := *st.TimerStartTime
		st.SessionStartTime = &v
	}
	if !st.HasSession() {
		st.SessionStartTime = nil
		st.FitPass = false
	}
	return st
}

type rawRecord struct {
	ID             any `json:"id"`
	StationID      any `json:"stationId"`
	TableID        any `json:"tableId"`
	StationName    any `json:"stationName"`
	TableName      any `json:"tableName"`
	EndTime        any `json:"endTime"`
	DurationPlayed any `json:"durationPlayed"`
	AmountPaid     any `json:"amountPaid"`
	SessionType    any `json:"sessionType"`
	FitPass        any `json:"fitPass"`
}

// normalizeRecord returns false for entries without a usable end time.
func normalizeRecord(r rawRecord) (model.SessionRecord, bool) {
	end := timeOf(r.EndTime)
	if end == nil {
		return model.SessionRecord{}, false
	}
	id := idOf(r.ID)
	if id == "" {
		id = "ses_" + uuid.NewString()
	}
	stationID := idOf(r.StationID)
	if stationID == "" {
		stationID = idOf(r.TableID)
	}
	name := stringOf(r.StationName)
	if name == "" {
		name = stringOf(r.TableName)
	}
	typ := model.TimerMode(stringOf(r.SessionType))
	if typ != model.TimerCountdown {
		typ = model.TimerStandard
	}
	return model.SessionRecord{
		ID:             id,
		StationID:      stationID,
		StationName:    name,
		EndTime:        *end,
		DurationPlayed: secondsOf(r.DurationPlayed),
		AmountPaid:     model.NewMoney(amountOf(r.AmountPaid)),
		SessionType:    typ,
		FitPass:        boolOf(r.FitPass, false),
	}, true
}

func idOf(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func boolOf(v any, def bool) bool {
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// secondsOf yields a finite, non-negative number or zero.
func secondsOf(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = p
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

func positiveInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
		return 0, false
	}
	return int(f), true
}

// timeOf reads RFC 3339 strings or millisecond epochs.
func timeOf(v any) *time.Time {
	var t time.Time
	switch x := v.(type) {
	case string:
		p, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		t = p
	case float64:
		if math.IsNaN(x) || x <= 0 {
			return nil
		}
		t = time.UnixMilli(int64(x)).UTC()
	default:
		return nil
	}
	return &t
}

func amountOf(v any) decimal.Decimal {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(x)
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return decimal.Zero
}
