package model

import "time"

// StatusEvent is published for every processed payout.
type StatusEvent struct {
	PayoutID       string       `json:"payoutId"`
	PartnerID      string       `json:"partnerId,omitempty"`
	Outcome        Outcome      `json:"outcome"`
	Reason         string       `json:"reason,omitempty"`
	Status         PayoutStatus `json:"status,omitempty"`
	Amount         string       `json:"amount,omitempty"`
	Currency       string       `json:"currency,omitempty"`
	TransactionRef string       `json:"transactionRef,omitempty"`
	FailureReason  string       `json:"failureReason,omitempty"`
	OccurredAt     time.Time    `json:"occurredAt"`
}

// NewStatusEvent builds the event for a result. payout may be nil when the
// record could not be read.
func NewStatusEvent(result Result, payout *Payout, now time.Time) StatusEvent {
	event := StatusEvent{
		PayoutID:       result.PayoutID,
		Outcome:        result.Outcome,
		Reason:         result.Reason,
		Status:         result.Status,
		TransactionRef: result.TransactionRef,
		OccurredAt:     now,
	}
	if payout != nil {
		event.PartnerID = payout.PartnerID
		event.Amount = FormatMinor(payout.NetAmountMinor)
		event.Currency = payout.CurrencyOrDefault()
		event.FailureReason = payout.FailureReason
	}
	return event
}
