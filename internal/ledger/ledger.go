package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tablehouse/station-billing/internal/model"
)

//go:generate mockgen -destination ledgermock/mock_client.go -package ledgermock . Client

var (
	ErrNotConfigured = errors.New("ledger url not configured")
	ErrRejected      = errors.New("ledger rejected payload")
	ErrEmptySale     = errors.New("bar sale has no items")
)

const (
	TypeSession = "Session"
	TypeBarSale = "barSale"
)

// Payload is anything the remote ledger accepts; Type is the discriminator
// the ledger routes on.
type Payload interface {
	PayloadType() string
}

type Client interface {
	Send(ctx context.Context, p Payload) error
}

// SessionPayload keeps the table* field names the ledger sheet was built
// against.
type SessionPayload struct {
	Type           string          `json:"type"`
	ID             string          `json:"id"`
	TableID        string          `json:"tableId"`
	TableName      string          `json:"tableName"`
	EndTime        string          `json:"endTime"`
	DurationPlayed float64         `json:"durationPlayed"`
	AmountPaid     model.Money     `json:"amountPaid"`
	SessionType    model.TimerMode `json:"sessionType"`
	FitPass        bool            `json:"fitPass"`
}

func (SessionPayload) PayloadType() string { return TypeSession }

func NewSessionPayload(rec model.SessionRecord) SessionPayload {
	return SessionPayload{
		Type:           TypeSession,
		ID:             rec.ID,
		TableID:        rec.StationID,
		TableName:      rec.StationName,
		EndTime:        rec.EndTime.UTC().Format(time.RFC3339Nano),
		DurationPlayed: rec.DurationPlayed,
		AmountPaid:     rec.AmountPaid,
		SessionType:    rec.SessionType,
		FitPass:        rec.FitPass,
	}
}

type BarSaleItem struct {
	Name     string      `json:"name"`
	Price    model.Money `json:"price"`
	Quantity int         `json:"quantity"`
}

type BarSalePayload struct {
	Type        string      `json:"type"`
	ID          string      `json:"id"`
	Timestamp   string      `json:"timestamp"`
	Items       string      `json:"items"`
	TotalAmount model.Money `json:"totalAmount"`
}

func (BarSalePayload) PayloadType() string { return TypeBarSale }

// NewBarSale totals a cart. Items with a non-positive quantity are skipped;
// an empty result is an error.
func NewBarSale(items []BarSaleItem, now time.Time) (BarSalePayload, error) {
	var (
		names []string
		total model.Money
	)
	for _, it := range items {
		if it.Quantity <= 0 || strings.TrimSpace(it.Name) == "" {
			continue
		}
		names = append(names, fmt.Sprintf("%s (x%d)", it.Name, it.Quantity))
		total = total.Add(model.NewMoney(it.Price.Decimal().Mul(decimal.NewFromInt(int64(it.Quantity)))))
	}
	if len(names) == 0 {
		return BarSalePayload{}, ErrEmptySale
	}
	return BarSalePayload{
		Type:        TypeBarSale,
		ID:          "bar_" + uuid.NewString(),
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		Items:       strings.Join(names, ", "),
		TotalAmount: total,
	}, nil
}

// Disabled is used when no ledger URL is configured.
type Disabled struct{}

func (Disabled) Send(context.Context, Payload) error { return ErrNotConfigured }
