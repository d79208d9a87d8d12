package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/tablehouse/station-billing/internal/clock"
	"github.com/tablehouse/station-billing/internal/ledger"
	"github.com/tablehouse/station-billing/internal/ledger/ledgermock"
	"github.com/tablehouse/station-billing/internal/model"
)

var venue = time.FixedZone("UTC+04:00", 4*3600)

func testRecord(id string, end time.Time) model.SessionRecord {
	return model.SessionRecord{
		ID:             id,
		StationID:      "1",
		StationName:    "Table 1",
		EndTime:        end,
		DurationPlayed: 1800,
		AmountPaid:     model.MoneyFromFloat(8),
		SessionType:    model.TimerStandard,
	}
}

func TestRecordAppendsAndForwards(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := ledgermock.NewMockClient(ctrl)
	now := time.Date(2025, 6, 10, 20, 0, 0, 0, venue)

	client.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p ledger.Payload) error {
			sp, ok := p.(ledger.SessionPayload)
			if !ok {
				t.Errorf("expected SessionPayload, got %T", p)
				return nil
			}
			if sp.ID != "ses_1" || sp.Type != ledger.TypeSession {
				t.Errorf("unexpected payload: %+v", sp)
			}
			return nil
		})

	r := New(client, clock.NewManual(now), time.Second, nil)
	r.Record(testRecord("ses_1", now))
	r.Wait()

	h := r.History()
	if len(h) != 1 || h[0].ID != "ses_1" {
		t.Fatalf("unexpected history: %+v", h)
	}
	if st := r.Status(); !st.Healthy || !st.Configured {
		t.Fatalf("expected healthy status, got %+v", st)
	}
}

func TestForwardFailureKeepsLocalRecordAndDoesNotRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := ledgermock.NewMockClient(ctrl)
	now := time.Date(2025, 6, 10, 20, 0, 0, 0, venue)

	client.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("network down")).Times(1)

	r := New(client, clock.NewManual(now), time.Second, nil)
	r.Record(testRecord("ses_2", now))
	r.Wait()

	if len(r.History()) != 1 {
		t.Fatalf("expected local record kept after forward failure")
	}
	st := r.Status()
	if st.Healthy || st.LastError == "" || !st.Configured {
		t.Fatalf("expected unhealthy configured status, got %+v", st)
	}
}

func TestUnconfiguredLedgerReportsWarning(t *testing.T) {
	now := time.Date(2025, 6, 10, 20, 0, 0, 0, venue)
	r := New(ledger.Disabled{}, clock.NewManual(now), time.Second, nil)
	if st := r.Status(); st.Configured || st.Healthy || st.LastError == "" {
		t.Fatalf("expected warning before any forward, got %+v", st)
	}
	r.Record(testRecord("ses_3", now))
	r.Wait()
	if st := r.Status(); st.Configured || st.Healthy {
		t.Fatalf("expected not-configured status, got %+v", st)
	}
	if len(r.History()) != 1 {
		t.Fatal("expected record kept while ledger disabled")
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	now := time.Date(2025, 6, 10, 20, 0, 0, 0, venue)
	r := New(ledger.Disabled{}, clock.NewManual(now), time.Second, []model.SessionRecord{testRecord("a", now)})
	h := r.History()
	h[0].ID = "mutated"
	if r.History()[0].ID != "a" {
		t.Fatal("history mutated through returned slice")
	}
}

func TestCountdownFinishedCallsHook(t *testing.T) {
	r := New(ledger.Disabled{}, clock.NewManual(time.Now()), time.Second, nil)
	var got string
	r.OnCountdownFinished(func(st model.Station) { got = st.ID })
	r.CountdownFinished(model.Station{ID: "4", Name: "Table 4"})
	if got != "4" {
		t.Fatalf("expected hook with station 4, got %q", got)
	}
}

func TestKeepRecentDropsOlderThanYesterday(t *testing.T) {
	now := time.Date(2025, 6, 10, 1, 0, 0, 0, venue)
	records := []model.SessionRecord{
		testRecord("three-days", now.AddDate(0, 0, -3)),
		testRecord("two-days", time.Date(2025, 6, 8, 23, 59, 0, 0, venue)),
		testRecord("yesterday-early", time.Date(2025, 6, 9, 0, 1, 0, 0, venue)),
		testRecord("today", now),
		{ID: "no-end"},
	}
	kept := KeepRecent(records, now, venue)
	if len(kept) != 2 || kept[0].ID != "yesterday-early" || kept[1].ID != "today" {
		t.Fatalf("unexpected kept records: %+v", kept)
	}
}

func TestKeepRecentUsesVenueCalendar(t *testing.T) {
	// 21:30 UTC on June 8 is 01:30 on June 9 in the venue.
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, venue)
	rec := testRecord("edge", time.Date(2025, 6, 8, 21, 30, 0, 0, time.UTC))
	if kept := KeepRecent([]model.SessionRecord{rec}, now, venue); len(kept) != 1 {
		t.Fatalf("expected record dated yesterday in venue time to be kept")
	}
}

func TestPruneRemovesStaleEntries(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, venue)
	r := New(ledger.Disabled{}, clock.NewManual(now), time.Second, []model.SessionRecord{
		testRecord("old", now.AddDate(0, 0, -5)),
		testRecord("new", now),
	})
	if removed := r.Prune(now, venue); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if h := r.History(); len(h) != 1 || h[0].ID != "new" {
		t.Fatalf("unexpected history after prune: %+v", h)
	}
}
