package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus represents the status of a payout
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// IsTerminal reports whether no further transition is made by the engine.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusCompleted || s == PayoutStatusFailed || s == PayoutStatusCancelled
}

// DefaultCurrency is used when a record carries no currency code.
const DefaultCurrency = "INR"

// Payout is one disbursement obligation to one partner.
// Amounts are in the smallest currency unit and never change after creation.
type Payout struct {
	ID               string          `json:"id"`
	PartnerID        string          `json:"partnerId"`
	BookingsIncluded []string        `json:"bookingsIncluded,omitempty"`
	AmountMinor      int64           `json:"amountMinor"`
	FeeMinor         int64           `json:"feeMinor"`
	NetAmountMinor   int64           `json:"netAmountMinor"`
	Currency         string          `json:"currency"`
	Status           PayoutStatus    `json:"status"`
	ScheduledAt      *time.Time      `json:"scheduledAt,omitempty"`
	InitiatedAt      *time.Time      `json:"initiatedAt,omitempty"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty"`
	TransactionRef   string          `json:"transactionRef,omitempty"`
	GatewayResponse  json.RawMessage `json:"gatewayResponse,omitempty"`
	FailureReason    string          `json:"failureReason,omitempty"`
	IdempotencyKey   string          `json:"idempotencyKey,omitempty"`
	Attempts         int             `json:"attempts"`
	Note             string          `json:"note,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// CurrencyOrDefault returns the record currency, falling back to INR.
func (p *Payout) CurrencyOrDefault() string {
	if p.Currency == "" {
		return DefaultCurrency
	}
	return p.Currency
}

// IsDue reports whether the record is pending and its scheduled time has arrived.
func (p *Payout) IsDue(now time.Time) bool {
	return p.Status == PayoutStatusPending && p.ScheduledAt != nil && !p.ScheduledAt.After(now)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (p *Payout) Clone() *Payout {
	if p == nil {
		return nil
	}
	c := *p
	if p.BookingsIncluded != nil {
		c.BookingsIncluded = append([]string(nil), p.BookingsIncluded...)
	}
	if p.GatewayResponse != nil {
		c.GatewayResponse = append(json.RawMessage(nil), p.GatewayResponse...)
	}
	c.ScheduledAt = cloneTime(p.ScheduledAt)
	c.InitiatedAt = cloneTime(p.InitiatedAt)
	c.ProcessedAt = cloneTime(p.ProcessedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// FormatMinor renders a minor-unit amount as a major-unit string ("150000" -> "1500.00").
func FormatMinor(amountMinor int64) string {
	return decimal.New(amountMinor, -2).StringFixed(2)
}
